package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vault-ai/control-plane/internal/domain"
)

// Claims is the JWT payload issued for a bearer-token session, grounded on
// jwt_service.py's {sub, role, name, auth_source, iat, exp} shape.
type Claims struct {
	Role       domain.UserRole   `json:"role"`
	Name       string            `json:"name"`
	AuthSource domain.AuthSource `json:"auth_source"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HMAC-signed bearer tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a short-lived session token for u, carrying its auth_source
// at the time of login — a directory user re-authenticating after their
// role mapping changes gets a token reflecting the new role on next login,
// not retroactively.
func (m *TokenManager) Issue(u domain.User) (token string, expiresAt time.Time, err error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.New("auth: jwt secret not configured")
	}
	now := time.Now().UTC()
	exp := now.Add(m.ttl)
	claims := Claims{
		Role:       u.Role,
		Name:       u.Name,
		AuthSource: u.AuthSource,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Validate parses and verifies token, returning its claims.
func (m *TokenManager) Validate(token string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, errors.New("auth: jwt secret not configured")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("auth: invalid token")
	}
	return claims, nil
}
