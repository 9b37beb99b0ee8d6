package domain

import (
	"strings"
	"time"
)

// SystemConfig is one key/value row in the namespaced settings table
// (quarantine.*, ldap.*, training.*, network.*, ...). Defaults for a key
// materialize lazily on first read rather than being seeded up front, so an
// appliance that never touches a setting never carries a row for it.
type SystemConfig struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Namespace returns the portion of Key before the first '.', e.g.
// "quarantine" for "quarantine.strictness_level".
func (c SystemConfig) Namespace() string {
	if i := strings.IndexByte(c.Key, '.'); i >= 0 {
		return c.Key[:i]
	}
	return c.Key
}
