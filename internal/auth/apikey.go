package auth

import (
	"crypto/rand"
	"encoding/hex"
)

const apiKeyPrefix = "vault_sk_"

// randomAPIKey generates a vault_sk_-prefixed key carrying 24 random hex
// characters (12 random bytes) of entropy, per spec §4.8.
func randomAPIKey() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}
