package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"

	"hiddengate/gateway-service/internal/config"
)

const (
	csrfCookieName = "hiddengate.csrf-token"
	csrfHeaderName = "X-CSRF-Token"
	csrfFormField  = "csrfToken"
)

// IssueCSRF returns the double-submit token for r, setting the cookie when
// the client does not already hold a well-formed one.
func IssueCSRF(w http.ResponseWriter, r *http.Request, cfg *config.Config) string {
	if c, err := r.Cookie(csrfCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	tok := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    tok,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Session.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return tok
}

// checkCSRF compares the submitted token (header or form field) with the
// cookie. submitted is passed in because JSON bodies are decoded by the
// caller.
func checkCSRF(r *http.Request, submitted string) bool {
	c, err := r.Cookie(csrfCookieName)
	if err != nil || c.Value == "" {
		return false
	}
	if h := r.Header.Get(csrfHeaderName); h != "" {
		submitted = h
	}
	if submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Value), []byte(submitted)) == 1
}
