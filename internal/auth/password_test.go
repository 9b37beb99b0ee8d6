package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifyPassword(hash, "correct horse battery staple") {
		t.Fatal("expected matching password to verify")
	}
	if VerifyPassword(hash, "wrong password") {
		t.Fatal("expected mismatched password to fail verification")
	}
}

func TestGenerateAPIKeyRawHasStablePrefixAndHash(t *testing.T) {
	raw, hash, prefix, err := GenerateAPIKeyRaw()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(raw) == 0 || len(prefix) != 12 {
		t.Fatalf("unexpected raw/prefix: %q / %q", raw, prefix)
	}
	if hash != HashAPIKey(raw) {
		t.Fatal("expected hash to match HashAPIKey(raw)")
	}
}
