// Package auth implements session and API-key authentication: local
// bcrypt-verified login, directory (LDAP-style) bind-and-JIT-provision
// login, bearer-token issuance/validation, and the HTTP/WebSocket
// middleware that resolves a request's caller from either scheme.
//
// Grounded on app/api/v1/auth.py (login/me/ldap-enabled handlers),
// app/services/jwt_service.py (token claims/expiry) and
// app/services/ldap_service.py (directory bind + group lookup), with
// cmd/gateway/middleware.go's bearer-then-key trial order adapted to
// match spec §4.7's explicit ordering.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

// loginRate and loginBurst bound how often a single username may attempt
// login; an air-gapped appliance has no upstream WAF to absorb a
// credential-stuffing attempt against the local login form.
const (
	loginRate  = rate.Limit(1.0 / 2.0) // one attempt every 2s, sustained
	loginBurst = 5
)

// directoryAuthenticator narrows *Directory to what Service needs, so tests
// can substitute a fake directory bind without a real LDAP server.
type directoryAuthenticator interface {
	Authenticate(username, password string) (DirectoryUser, bool)
}

// Service ties together local/directory login and session issuance.
type Service struct {
	store        *store.Store
	tokens       *TokenManager
	cfg          *config.Config
	reader       config.SystemConfigReader
	log          *logger.Logger
	newDirectory func(config.LDAPConfig) directoryAuthenticator

	loginLimitersMu sync.Mutex
	loginLimiters   map[string]*rate.Limiter
}

func New(cfg *config.Config, st *store.Store, reader config.SystemConfigReader, log *logger.Logger) *Service {
	return &Service{
		store:  st,
		tokens: NewTokenManager(cfg.Auth.JWTSecret, cfg.JWTExpiry),
		cfg:    cfg,
		reader: reader,
		log:    log,
		newDirectory: func(c config.LDAPConfig) directoryAuthenticator {
			return NewDirectory(c)
		},
		loginLimiters: make(map[string]*rate.Limiter),
	}
}

// allowLogin reports whether username may attempt another login right now,
// lazily creating its limiter on first sight. The map grows with the
// number of distinct usernames ever attempted, which on an appliance with
// a bounded local user set is not a practical leak.
func (s *Service) allowLogin(username string) bool {
	s.loginLimitersMu.Lock()
	defer s.loginLimitersMu.Unlock()
	lim, ok := s.loginLimiters[username]
	if !ok {
		lim = rate.NewLimiter(loginRate, loginBurst)
		s.loginLimiters[username] = lim
	}
	return lim.Allow()
}

// LoginResult is what POST /vault/auth/login returns on success.
type LoginResult struct {
	Token     string
	ExpiresIn int
	User      domain.User
}

// DirectoryEnabled reports whether directory login is currently available,
// for the public GET /vault/auth/ldap-enabled probe.
func (s *Service) DirectoryEnabled(ctx context.Context) bool {
	return s.cfg.LoadDirectoryConfig(ctx, s.reader).Enabled
}

// Login tries directory auth first when enabled, falling back to local
// password auth — matching auth.py's login() order exactly.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	if !s.allowLogin(username) {
		return LoginResult{}, apierr.RateLimitExceeded(loginBurst, "2s")
	}

	ldapCfg := s.cfg.LoadDirectoryConfig(ctx, s.reader)

	var user domain.User
	var err error

	if ldapCfg.Enabled {
		if dirUser, ok := s.newDirectory(ldapCfg).Authenticate(username, password); ok {
			role, _ := s.resolveDirectoryRole(ctx, dirUser.Groups, ldapCfg.DefaultRole)
			user, err = s.jitProvision(ctx, dirUser, role)
			if err != nil {
				return LoginResult{}, apierr.Wrap(apierr.CodeInternal, "failed to provision directory user", 500, err)
			}
		}
	}

	if user.ID == "" {
		user, err = s.authenticateLocal(ctx, username, password)
		if err != nil {
			return LoginResult{}, apierr.Unauthorized("invalid username or password")
		}
	}

	token, exp, err := s.tokens.Issue(user)
	if err != nil {
		return LoginResult{}, apierr.Wrap(apierr.CodeInternal, "failed to issue session token", 500, err)
	}

	if s.log != nil {
		s.log.WithField("user_id", user.ID).WithField("auth_source", string(user.AuthSource)).Info("user login")
	}

	return LoginResult{
		Token:     token,
		ExpiresIn: int(time.Until(exp).Seconds()),
		User:      user,
	}, nil
}

func (s *Service) authenticateLocal(ctx context.Context, login, password string) (domain.User, error) {
	user, err := s.store.GetLocalUserByLogin(ctx, login)
	if err != nil {
		return domain.User{}, errors.New("no matching local user")
	}
	if !VerifyPassword(user.CredentialHash, password) {
		return domain.User{}, errors.New("password mismatch")
	}
	return user, nil
}

func (s *Service) resolveDirectoryRole(ctx context.Context, groups []string, defaultRole string) (domain.UserRole, bool) {
	mappings, err := s.store.ListLdapGroupMappings(ctx)
	if err != nil || len(mappings) == 0 {
		return domain.UserRole(orDefaultRole(defaultRole)), false
	}
	if role, ok := domain.ResolveRole(mappings, groups); ok {
		return role, true
	}
	return domain.UserRole(orDefaultRole(defaultRole)), false
}

func orDefaultRole(defaultRole string) string {
	if defaultRole == "" {
		return string(domain.RoleUser)
	}
	return defaultRole
}

// jitProvision mirrors _jit_provision_user: look up by directory DN first,
// then by email (linking an existing local account to the directory),
// otherwise create a fresh row.
func (s *Service) jitProvision(ctx context.Context, dirUser DirectoryUser, role domain.UserRole) (domain.User, error) {
	if existing, err := s.store.GetUserByDirectoryDN(ctx, dirUser.DN); err == nil {
		existing.Name = dirUser.Name
		existing.Email = dirUser.Email
		existing.Role = role
		existing.Status = domain.UserActive
		if err := s.store.UpdateUser(ctx, existing); err != nil {
			return domain.User{}, err
		}
		return existing, nil
	}

	if existing, err := s.store.GetUserByEmail(ctx, dirUser.Email); err == nil {
		existing.DirectoryDN = dirUser.DN
		existing.AuthSource = domain.AuthSourceDirectory
		existing.Name = dirUser.Name
		existing.Role = role
		existing.Status = domain.UserActive
		if err := s.store.UpdateUser(ctx, existing); err != nil {
			return domain.User{}, err
		}
		return existing, nil
	}

	return s.store.CreateUser(ctx, domain.User{
		Name:        dirUser.Name,
		Email:       dirUser.Email,
		Role:        role,
		Status:      domain.UserActive,
		AuthSource:  domain.AuthSourceDirectory,
		DirectoryDN: dirUser.DN,
	})
}

// ValidateAPIKey looks up an active key by the sha256 of raw, best-effort
// touching last_used_at — a failure to record usage must never fail the
// request carrying a perfectly valid key.
func (s *Service) ValidateAPIKey(ctx context.Context, raw string) (domain.ApiKey, error) {
	key, err := s.store.GetApiKeyByHash(ctx, HashAPIKey(raw))
	if err != nil {
		return domain.ApiKey{}, apierr.Unauthorized("invalid API key")
	}
	if !key.IsActive {
		return domain.ApiKey{}, apierr.Unauthorized("API key revoked")
	}
	if err := s.store.TouchApiKeyLastUsed(ctx, key.ID); err != nil && s.log != nil {
		s.log.WithField("key_id", key.ID).WithField("error", err.Error()).Warn("failed to update api key last_used_at")
	}
	return key, nil
}

// ValidateToken parses and verifies a bearer token, returning the session
// claims without touching the database — sessions are stateless.
func (s *Service) ValidateToken(token string) (*Claims, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, apierr.InvalidToken(err)
	}
	return claims, nil
}

// GenerateAPIKeyRaw returns a fresh vault_sk_-prefixed key plus its hash and
// display prefix — called once at key creation; the raw value is returned
// to the caller and never stored.
func GenerateAPIKeyRaw() (raw, hash, prefix string, err error) {
	raw, err = randomAPIKey()
	if err != nil {
		return "", "", "", err
	}
	hash = HashAPIKey(raw)
	prefix = raw
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return raw, hash, prefix, nil
}

// HashAPIKey returns the hex-encoded sha256 of raw, the only form of an API
// key ever persisted.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
