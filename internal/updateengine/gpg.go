package updateengine

import (
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/vault-ai/control-plane/internal/apierr"
)

// Verifier checks a bundle's detached ASCII-armored signature against a
// pinned public keyring. Both the keyring and the signature file must exist
// on disk; there is no fallback verification path — an air-gapped appliance
// has nowhere else to fetch trust from.
type Verifier struct {
	publicKeyPath string
}

func NewVerifier(publicKeyPath string) *Verifier {
	return &Verifier{publicKeyPath: publicKeyPath}
}

// IsAvailable reports whether the pinned public key is present on disk.
func (v *Verifier) IsAvailable() bool {
	_, err := os.Stat(v.publicKeyPath)
	return err == nil
}

// Verify checks bundlePath's detached signature at sigPath against the
// pinned keyring. Every missing input — bundle, signature or key — is a
// hard failure rather than a silent skip.
func (v *Verifier) Verify(bundlePath, sigPath string) error {
	bundle, err := os.Open(bundlePath)
	if err != nil {
		return apierr.InvalidInput("bundle_path", fmt.Sprintf("bundle file not found: %s", bundlePath))
	}
	defer bundle.Close()

	sig, err := os.Open(sigPath)
	if err != nil {
		return apierr.InvalidInput("signature_path", fmt.Sprintf("signature file not found: %s", sigPath))
	}
	defer sig.Close()

	keyFile, err := os.Open(v.publicKeyPath)
	if err != nil {
		return apierr.InvalidInput("trusted_keyring", fmt.Sprintf("gpg public key not found: %s", v.publicKeyPath))
	}
	defer keyFile.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(keyFile)
	if err != nil {
		return apierr.InvalidInput("trusted_keyring", fmt.Sprintf("unreadable gpg public key: %v", err))
	}

	if _, err := openpgp.CheckArmoredDetachedSignature(keyring, bundle, sig, nil); err != nil {
		return apierr.InvalidInput("signature", fmt.Sprintf("signature verification failed: %v", err))
	}
	return nil
}
