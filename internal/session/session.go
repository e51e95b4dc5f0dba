// Package session turns request credential material into a verified admin
// session. Verification is stateless: validity is decided entirely by the
// token signature and its claims, nothing is looked up or stored.
package session

import (
	"net/http"
	"strings"
	"time"

	"hiddengate/gateway-service/internal/token"
)

// Role is the authorization level carried by a session. Only RoleAdmin grants
// access to the admin area.
type Role string

const RoleAdmin Role = "admin"

// Session is the verified claim set of an admin credential.
type Session struct {
	ID        string
	Subject   string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsAdmin compares the role explicitly so that a future second role cannot
// pass as admin just by carrying a valid signature.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// Status is the outcome class of a verification.
type Status int

const (
	Absent Status = iota
	Valid
	Invalid
)

func (s Status) String() string {
	switch s {
	case Absent:
		return "absent"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Result is what Verify returns. Session is non-nil only when Status is Valid.
type Result struct {
	Status  Status
	Session *Session
	// Reason is a short diagnostic for logs when Status is Invalid.
	Reason string
}

func (r Result) Valid() bool { return r.Status == Valid && r.Session.IsAdmin() }

// Verifier checks admin session credentials.
type Verifier struct {
	keyring    *token.Keyring
	cookieName string
}

func NewVerifier(kr *token.Keyring, cookieName string) *Verifier {
	return &Verifier{keyring: kr, cookieName: cookieName}
}

// Verify classifies a raw credential. An empty credential is Absent; any
// other failure, including malformed input, is Invalid.
func (v *Verifier) Verify(raw string) Result {
	if raw == "" {
		return Result{Status: Absent}
	}
	claims, err := v.keyring.Verify(raw)
	if err != nil {
		return Result{Status: Invalid, Reason: err.Error()}
	}
	s := &Session{
		ID:      claims.ID,
		Subject: claims.Subject,
		Role:    Role(claims.Role),
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	if !s.IsAdmin() {
		return Result{Status: Invalid, Reason: "role not permitted"}
	}
	return Result{Status: Valid, Session: s}
}

// VerifyRequest reads the session cookie, falling back to an
// "Authorization: Bearer" header, and verifies it.
func (v *Verifier) VerifyRequest(r *http.Request) Result {
	return v.Verify(Credential(r, v.cookieName))
}

// Credential extracts the raw credential from r.
func Credential(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return ""
}
