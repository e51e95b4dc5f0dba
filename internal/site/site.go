// Package site is the rendering layer behind the gate: a public router and a
// separate physical admin router that is never mounted publicly.
package site

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hiddengate/gateway-service/internal/auth"
	"hiddengate/gateway-service/internal/config"
	"hiddengate/gateway-service/internal/gate"
	"hiddengate/gateway-service/internal/httputil"
	"hiddengate/gateway-service/internal/upstream"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Options are the optional collaborators of the public router.
type Options struct {
	// Auth serves config.AuthPrefix.
	Auth http.Handler
	// Upstream, when set, renders public pages and the admin tree instead of
	// the built-in templates.
	Upstream *upstream.Handler
	// Metrics is mounted at cfg.Metrics.Path unless metrics are disabled.
	Metrics http.Handler
}

type Site struct {
	cfg    *config.Config
	engine gate.Engine
	opts   Options
}

func New(cfg *config.Config, engine gate.Engine, opts Options) *Site {
	return &Site{cfg: cfg, engine: engine, opts: opts}
}

// Public handles every request the gate passes through.
func (s *Site) Public() http.Handler {
	r := chi.NewRouter()
	r.NotFound(gate.NotFound)
	r.Get("/healthz", s.health)
	if s.opts.Metrics != nil && !s.cfg.Metrics.Disabled {
		r.Handle(s.cfg.Metrics.Path, s.opts.Metrics)
	}
	if s.opts.Auth != nil {
		r.Mount(config.AuthPrefix, s.opts.Auth)
	}
	if s.opts.Upstream != nil {
		r.Handle("/*", s.opts.Upstream)
		return r
	}
	r.Get("/", s.home)
	return r
}

// Physical renders the admin tree. It is reachable only through a gate
// rewrite.
func (s *Site) Physical() http.Handler {
	if s.opts.Upstream != nil {
		return s.opts.Upstream
	}
	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.NotFound(gate.NotFound)
	r.Route(s.cfg.Admin.PhysicalPrefix, func(r chi.Router) {
		r.Get("/", s.dashboard)
		r.Get("/login", s.login)
		r.Get("/create", s.editor)
		r.Get("/edit/{slug}", s.editor)
	})
	return r
}

// NotFound answers requests the gate rejects as missing. In upstream mode
// the origin renders the 404 for a path it is known not to serve, so the
// answer matches any other missing page on the site.
func (s *Site) NotFound() http.Handler {
	if s.opts.Upstream == nil {
		return http.HandlerFunc(gate.NotFound)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = s.cfg.Upstream.NotFoundPath
		r2.URL.RawPath = ""
		r2.URL.RawQuery = ""
		s.opts.Upstream.ServeHTTP(w, r2)
	})
}

type healthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func (s *Site) health(w http.ResponseWriter, r *http.Request) {
	st := healthStatus{Status: "ok", Components: map[string]string{"gate": "ok"}}
	if s.cfg.AdminReady() != nil {
		st.Components["admin"] = "not_configured"
	} else {
		st.Components["admin"] = "ok"
	}
	if s.opts.Upstream != nil {
		cs := s.opts.Upstream.CircuitState()
		st.Components["upstream"] = "circuit_" + cs.String()
		if cs != upstream.StateClosed {
			st.Status = "degraded"
		}
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

type pageData struct {
	Title         string
	Root          string
	User          string
	CSRFToken     string
	SignOutAction string
	LoginAction   string
	CallbackURL   string
	Error         string
	Slug          string
}

func (s *Site) render(w http.ResponseWriter, r *http.Request, name string, code int, data pageData) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		httputil.GetLogger(r.Context()).Error().Err(err).Str("template", name).Msg("render failed")
		httputil.WriteText(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}

func (s *Site) home(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "home", http.StatusOK, pageData{Title: "Home"})
}

// adminData fills the fields every admin page shares. Links are built from
// the secret segment so the physical prefix never reaches the browser.
func (s *Site) adminData(w http.ResponseWriter, r *http.Request, title string) pageData {
	d := pageData{
		Title:         title,
		Root:          s.engine.Root(),
		SignOutAction: config.AuthPrefix + "/signout",
		LoginAction:   config.AuthPrefix + "/callback/credentials",
		CSRFToken:     auth.IssueCSRF(w, r, s.cfg),
	}
	if sess := gate.SessionFrom(r.Context()); sess != nil {
		d.User = sess.Subject
	}
	return d
}

func (s *Site) dashboard(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "dashboard", http.StatusOK, s.adminData(w, r, "Admin Dashboard"))
}

func (s *Site) editor(w http.ResponseWriter, r *http.Request) {
	d := s.adminData(w, r, "Create Article")
	if slug := chi.URLParam(r, "slug"); slug != "" {
		d.Title = "Edit Article"
		d.Slug = slug
	}
	s.render(w, r, "editor", http.StatusOK, d)
}

func (s *Site) login(w http.ResponseWriter, r *http.Request) {
	d := s.adminData(w, r, "Admin Login")
	q := r.URL.Query()
	if q.Get("error") == auth.ErrorCredentialsSignin {
		d.Error = "Invalid username or password."
	}
	origin := httputil.RequestOrigin(r, s.cfg.Server.PublicOrigin)
	if target, ok := s.engine.SafeCallback(q.Get(gate.CallbackParam), origin); ok {
		d.CallbackURL = target
	}
	s.render(w, r, "login", http.StatusOK, d)
}
