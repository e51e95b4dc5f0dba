// Package auth issues admin sessions from the configured username/password
// pair and serves the /api/auth endpoints.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"hiddengate/gateway-service/internal/config"
	"hiddengate/gateway-service/internal/metrics"
	"hiddengate/gateway-service/internal/session"
	"hiddengate/gateway-service/internal/token"
)

var (
	// ErrInvalidCredentials never says which field was wrong.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotConfigured      = errors.New("admin login not configured")
)

const signingAlg = "HS256"

// NewKeyring builds the session keyring from the configured signing secret.
// It returns ErrNotConfigured when the secret is unset.
func NewKeyring(cfg *config.Config) (*token.Keyring, error) {
	secret, ok := cfg.SigningSecret()
	if !ok {
		return nil, ErrNotConfigured
	}
	kr, err := token.NewKeyring(signingAlg, secret, cfg.Session.Issuer, cfg.Session.SkewSec, cfg.SessionTTL())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	return kr, nil
}

// Issued is a freshly minted admin session.
type Issued struct {
	Token   string
	Session *session.Session
}

type Authenticator struct {
	cfg     *config.Config
	keyring *token.Keyring
}

// NewAuthenticator returns an Authenticator. kr may be nil, in which case
// every attempt reports ErrNotConfigured.
func NewAuthenticator(cfg *config.Config, kr *token.Keyring) *Authenticator {
	return &Authenticator{cfg: cfg, keyring: kr}
}

// Authenticate checks username and password against the admin identity and
// on success signs a session with role admin valid for the configured TTL.
func (a *Authenticator) Authenticate(username, password string) (*Issued, error) {
	if err := a.cfg.AdminReady(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	if a.keyring == nil {
		return nil, ErrNotConfigured
	}
	id, _ := a.cfg.AdminIdentity()

	// Both fields are always compared, over fixed-length digests, so timing
	// does not reveal which one was wrong or how long the secret is.
	userOK := equalDigest(username, id.Username)
	passOK := equalDigest(password, id.Password)
	if userOK&passOK != 1 {
		return nil, ErrInvalidCredentials
	}

	tok, claims, err := a.keyring.Sign(id.Username, string(session.RoleAdmin), a.cfg.SessionTTL())
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	metrics.SessionsIssued.Inc()
	return &Issued{
		Token: tok,
		Session: &session.Session{
			ID:        claims.ID,
			Subject:   claims.Subject,
			Role:      session.RoleAdmin,
			IssuedAt:  claims.IssuedAt.Time,
			ExpiresAt: claims.ExpiresAt.Time,
		},
	}, nil
}

// TTL is the lifetime of issued sessions.
func (a *Authenticator) TTL() time.Duration {
	return a.cfg.SessionTTL()
}

func equalDigest(a, b string) int {
	da := sha256.Sum256([]byte(a))
	db := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:])
}
