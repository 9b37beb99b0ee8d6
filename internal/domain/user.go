package domain

import (
	"fmt"
	"time"
)

type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
)

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserDisabled UserStatus = "disabled"
)

type AuthSource string

const (
	AuthSourceLocal     AuthSource = "local"
	AuthSourceDirectory AuthSource = "directory"
)

// User is a control-plane account. CredentialHash is a bcrypt hash, set only
// for auth_source=local; DirectoryDN is the bound LDAP DN, set only for
// auth_source=directory.
type User struct {
	ID             string
	Name           string
	Email          string
	Role           UserRole
	Status         UserStatus
	AuthSource     AuthSource
	CredentialHash string
	DirectoryDN    string
	CreatedAt      time.Time
	LastActiveAt   *time.Time
}

// Validate enforces the auth_source/credential invariant from the data
// model: a local account must carry a credential hash, a directory account
// must carry the DN it was provisioned from.
func (u User) Validate() error {
	switch u.AuthSource {
	case AuthSourceLocal:
		if u.CredentialHash == "" {
			return fmt.Errorf("user %s: local auth_source requires credential_hash", u.ID)
		}
	case AuthSourceDirectory:
		if u.DirectoryDN == "" {
			return fmt.Errorf("user %s: directory auth_source requires directory_dn", u.ID)
		}
	default:
		return fmt.Errorf("user %s: unknown auth_source %q", u.ID, u.AuthSource)
	}
	return nil
}

func (u User) IsAdmin() bool   { return u.Role == RoleAdmin }
func (u User) IsActive() bool  { return u.Status == UserActive }
func (u User) IsDisabled() bool { return u.Status == UserDisabled }
