package auth

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/vault-ai/control-plane/internal/config"
)

// DirectoryUser is what a successful directory bind yields, grounded on
// ldap_service.py's authenticate() return dict.
type DirectoryUser struct {
	DN     string
	Name   string
	Email  string
	Groups []string
}

// Directory binds to a configured LDAP/AD server with a service account,
// searches for a user by username, then rebinds as that user to verify the
// submitted password — the same two-step dance as ldap_service.py's
// authenticate(), since a directory server will happily let you search
// other people's attributes without proving you know their password.
type Directory struct {
	cfg config.LDAPConfig
}

func NewDirectory(cfg config.LDAPConfig) *Directory {
	return &Directory{cfg: cfg}
}

// Authenticate binds as the service account, searches for username under
// BaseDN using UserFilter, then rebinds as the found DN with password. On
// any failure (not found, bad password, connection error) it returns
// ok=false rather than an error — a directory outage or typo'd username is
// not exceptional, it's just "this login attempt didn't work."
func (d *Directory) Authenticate(username, password string) (DirectoryUser, bool) {
	conn, err := d.dial()
	if err != nil {
		return DirectoryUser{}, false
	}
	defer conn.Close()

	if err := conn.Bind(d.cfg.BindDN, d.cfg.BindPassword); err != nil {
		return DirectoryUser{}, false
	}

	filter := strings.ReplaceAll(d.cfg.UserFilter, "{username}", ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		d.cfg.BaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		filter, []string{"dn", "cn", "mail", "displayName", "sAMAccountName", "uid", "memberOf"}, nil,
	)
	result, err := conn.Search(req)
	if err != nil || len(result.Entries) == 0 {
		return DirectoryUser{}, false
	}
	entry := result.Entries[0]

	userConn, err := d.dial()
	if err != nil {
		return DirectoryUser{}, false
	}
	defer userConn.Close()
	if err := userConn.Bind(entry.DN, password); err != nil {
		return DirectoryUser{}, false
	}

	name := entry.GetAttributeValue("displayName")
	if name == "" {
		name = entry.GetAttributeValue("cn")
	}
	if name == "" {
		name = username
	}
	email := entry.GetAttributeValue("mail")
	if email == "" {
		email = fmt.Sprintf("%s@local", username)
	}

	return DirectoryUser{
		DN:     entry.DN,
		Name:   name,
		Email:  email,
		Groups: entry.GetAttributeValues("memberOf"),
	}, true
}

func (d *Directory) dial() (*ldap.Conn, error) {
	if d.cfg.UseSSL {
		return ldap.DialURL(d.cfg.URL, ldap.DialWithTLSConfig(nil))
	}
	return ldap.DialURL(d.cfg.URL)
}
