package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hiddengate/gateway-service/internal/config"
	"hiddengate/gateway-service/internal/gate"
	"hiddengate/gateway-service/internal/httputil"
	"hiddengate/gateway-service/internal/metrics"
	"hiddengate/gateway-service/internal/rate"
	"hiddengate/gateway-service/internal/session"
	"hiddengate/gateway-service/internal/util"
)

// Login error code understood by the login page.
const ErrorCredentialsSignin = "CredentialsSignin"

const (
	maxLoginBody = 64 << 10

	tooManyBody    = "too many attempts"
	invalidCSRF    = "invalid csrf token"
	badRequestBody = "bad request"
)

// Handler serves the credential endpoints mounted under config.AuthPrefix.
type Handler struct {
	cfg      *config.Config
	authn    *Authenticator
	verifier *session.Verifier
	limiter  *rate.Limiter
	engine   gate.Engine
	ipTags   *util.IPTagger
}

// NewHandler wires the endpoints. verifier may be nil when no keyring could
// be built.
func NewHandler(cfg *config.Config, authn *Authenticator, verifier *session.Verifier, limiter *rate.Limiter, engine gate.Engine, ipTags *util.IPTagger) *Handler {
	return &Handler{
		cfg:      cfg,
		authn:    authn,
		verifier: verifier,
		limiter:  limiter,
		engine:   engine,
		ipTags:   ipTags,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(noStore)
	r.Get("/csrf", h.CSRF)
	r.Post("/callback/credentials", h.Credentials)
	r.Post("/signout", h.SignOut)
	r.Get("/session", h.Session)
	return r
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// CSRF returns the double-submit token for script clients.
func (h *Handler) CSRF(w http.ResponseWriter, r *http.Request) {
	tok := IssueCSRF(w, r, h.cfg)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"csrfToken": tok})
}

type credentialsInput struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	CallbackURL string `json:"callbackUrl"`
	CSRFToken   string `json:"csrfToken"`
}

func readCredentials(w http.ResponseWriter, r *http.Request, jsonMode bool) (credentialsInput, error) {
	var in credentialsInput
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)
	if jsonMode {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
			return in, err
		}
		return in, nil
	}
	if err := r.ParseMultipartForm(maxLoginBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return in, err
	}
	in.Username = r.PostForm.Get("username")
	in.Password = r.PostForm.Get("password")
	in.CallbackURL = r.PostForm.Get("callbackUrl")
	in.CSRFToken = r.PostForm.Get(csrfFormField)
	return in, nil
}

// Credentials handles a login submission.
func (h *Handler) Credentials(w http.ResponseWriter, r *http.Request) {
	logger := httputil.GetLogger(r.Context())
	jsonMode := isJSONBody(r)

	in, err := readCredentials(w, r, jsonMode)
	if err != nil {
		httputil.WriteText(w, http.StatusBadRequest, badRequestBody)
		return
	}
	if !checkCSRF(r, in.CSRFToken) {
		metrics.LoginAttempts.WithLabelValues("csrf").Inc()
		httputil.WriteText(w, http.StatusForbidden, invalidCSRF)
		return
	}

	ip := httputil.ClientIP(r)
	if !h.limiter.Allow(ip) {
		metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		logger.Warn().Str("ip_tag", h.ipTags.Tag(ip)).Msg("login rate limited")
		w.Header().Set("Retry-After", strconv.Itoa(h.cfg.Login.WindowSec))
		httputil.WriteText(w, http.StatusTooManyRequests, tooManyBody)
		return
	}

	issued, err := h.authn.Authenticate(in.Username, in.Password)
	switch {
	case errors.Is(err, ErrNotConfigured):
		metrics.LoginAttempts.WithLabelValues("not_configured").Inc()
		logger.Error().Err(err).Msg("login attempted without admin configuration")
		httputil.WriteText(w, http.StatusInternalServerError, gate.ConfigErrorBody)
		return
	case errors.Is(err, ErrInvalidCredentials):
		metrics.LoginAttempts.WithLabelValues("invalid").Inc()
		logger.Warn().Str("ip_tag", h.ipTags.Tag(ip)).Msg("login rejected")
		h.loginFailed(w, r, in, jsonMode)
		return
	case err != nil:
		logger.Error().Err(err).Msg("login failed")
		httputil.WriteText(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.limiter.Reset(ip)
	metrics.LoginAttempts.WithLabelValues("success").Inc()
	logger.Info().Str("ip_tag", h.ipTags.Tag(ip)).Str("session_id", issued.Session.ID).Msg("admin session issued")

	http.SetCookie(w, httputil.BuildCookie(h.cfg, issued.Token, int(h.authn.TTL()/time.Second)))
	origin := httputil.RequestOrigin(r, h.cfg.Server.PublicOrigin)
	target, ok := h.engine.SafeCallback(in.CallbackURL, origin)
	if !ok {
		target = h.engine.Root()
	}
	if jsonMode {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"url": target})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// loginFailed produces the same response whichever field was wrong.
func (h *Handler) loginFailed(w http.ResponseWriter, r *http.Request, in credentialsInput, jsonMode bool) {
	if jsonMode {
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": ErrInvalidCredentials.Error()})
		return
	}
	q := url.Values{}
	q.Set("error", ErrorCredentialsSignin)
	origin := httputil.RequestOrigin(r, h.cfg.Server.PublicOrigin)
	if target, ok := h.engine.SafeCallback(in.CallbackURL, origin); ok {
		q.Set(gate.CallbackParam, target)
	}
	http.Redirect(w, r, h.engine.LoginPath()+"?"+q.Encode(), http.StatusFound)
}

// SignOut clears the session cookie. Sessions are not tracked server side,
// so a copied token stays valid until it expires.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	jsonMode := isJSONBody(r)
	in, err := readCredentials(w, r, jsonMode)
	if err != nil || !checkCSRF(r, in.CSRFToken) {
		httputil.WriteText(w, http.StatusForbidden, invalidCSRF)
		return
	}

	http.SetCookie(w, httputil.BuildCookie(h.cfg, "", -1))
	httputil.GetLogger(r.Context()).Info().Msg("admin signed out")
	if jsonMode {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"url": "/"})
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

type sessionUser struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type sessionView struct {
	User    *sessionUser `json:"user,omitempty"`
	Expires string       `json:"expires,omitempty"`
}

// Session reports the caller's session, or an empty object.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		httputil.WriteJSON(w, http.StatusOK, sessionView{})
		return
	}
	res := h.verifier.VerifyRequest(r)
	if !res.Valid() {
		httputil.WriteJSON(w, http.StatusOK, sessionView{})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionView{
		User:    &sessionUser{Name: res.Session.Subject, Role: string(res.Session.Role)},
		Expires: res.Session.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// isJSONBody reports whether the client speaks JSON; a form post that
// merely accepts JSON is still a form post.
func isJSONBody(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		return false
	}
	return httputil.IsJSONRequest(r)
}
