package auth

import (
	"testing"
	"time"

	"github.com/vault-ai/control-plane/internal/domain"
)

func TestIssueThenValidateRoundTrips(t *testing.T) {
	mgr := NewTokenManager("test-secret", time.Minute)
	user := domain.User{ID: "u1", Name: "Ada", Role: domain.RoleAdmin, AuthSource: domain.AuthSourceLocal}

	token, exp, err := mgr.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if exp.Before(time.Now()) {
		t.Fatal("expected future expiry")
	}

	claims, err := mgr.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != domain.RoleAdmin || claims.Name != "Ada" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	mgr := NewTokenManager("secret-a", time.Minute)
	token, _, _ := mgr.Issue(domain.User{ID: "u1", Role: domain.RoleUser})

	other := NewTokenManager("secret-b", time.Minute)
	if _, err := other.Validate(token); err == nil {
		t.Fatal("expected validation failure with mismatched secret")
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	mgr := NewTokenManager("test-secret", -time.Minute)
	token, _, _ := mgr.Issue(domain.User{ID: "u1", Role: domain.RoleUser})

	if _, err := mgr.Validate(token); err == nil {
		t.Fatal("expected validation failure for expired token")
	}
}

func TestIssueFailsWithoutSecret(t *testing.T) {
	mgr := NewTokenManager("", time.Minute)
	if _, _, err := mgr.Issue(domain.User{ID: "u1"}); err == nil {
		t.Fatal("expected error issuing token without a secret")
	}
}
