package domain

import "time"

type ApiKeyScope string

const (
	ApiKeyScopeUser  ApiKeyScope = "user"
	ApiKeyScopeAdmin ApiKeyScope = "admin"
)

// ApiKey is the persisted record for a vault_sk_-prefixed API key. The raw
// key is returned once at creation time and never stored; KeyHash is its
// sha256 and KeyPrefix is its first 12+ characters, kept for display and for
// narrowing lookups before the hash comparison.
type ApiKey struct {
	ID         int64
	KeyHash    string
	KeyPrefix  string
	Label      string
	Scope      ApiKeyScope
	IsActive   bool
	UserID     *string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	Notes      string
}

func (k ApiKey) IsAdminScope() bool { return k.Scope == ApiKeyScopeAdmin }
