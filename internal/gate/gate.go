package gate

import (
	"context"
	"net/http"
	"time"

	"hiddengate/gateway-service/internal/config"
	"hiddengate/gateway-service/internal/httputil"
	"hiddengate/gateway-service/internal/metrics"
	"hiddengate/gateway-service/internal/route"
	"hiddengate/gateway-service/internal/session"
	"hiddengate/gateway-service/internal/util"
)

// Fixed response bodies. They never vary with the reason for the rejection.
const (
	NotFoundBody    = "Not Found"
	ConfigErrorBody = "Server configuration error."
)

type ctxKey int

const (
	originalPathKey ctxKey = iota
	sessionKey
)

// OriginalPath returns the client-visible path of a rewritten request.
func OriginalPath(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(originalPathKey).(string)
	return p, ok
}

// SessionFrom returns the verified session of a rewritten request.
func SessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}

// Gate applies decisions. Public is everything outside the admin area
// (including the auth endpoints); Physical renders the admin tree and is only
// ever reached through a Rewrite. NotFound answers direct requests for the
// physical tree and must respond exactly like a missing public page.
type Gate struct {
	cfg      *config.Config
	engine   Engine
	verifier *session.Verifier
	public   http.Handler
	physical http.Handler
	notFound http.Handler
	ipTags   *util.IPTagger
}

// New builds a Gate. verifier may be nil when no signing secret is
// configured; the admin area then answers with a configuration error. A nil
// notFound writes NotFoundBody as plain text.
func New(cfg *config.Config, verifier *session.Verifier, public, physical, notFound http.Handler, ipTags *util.IPTagger) *Gate {
	if notFound == nil {
		notFound = http.HandlerFunc(NotFound)
	}
	return &Gate{
		cfg:      cfg,
		engine:   EngineFor(cfg),
		verifier: verifier,
		public:   public,
		physical: physical,
		notFound: notFound,
		ipTags:   ipTags,
	}
}

// NotFound writes the plain 404 used when pages are rendered in-process.
func NotFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteText(w, http.StatusNotFound, NotFoundBody)
}

// EngineFor builds the decision engine for cfg's admin prefixes.
func EngineFor(cfg *config.Config) Engine {
	return NewEngine(route.Classifier{
		Segment:        cfg.Admin.SecretSegment,
		PhysicalPrefix: cfg.Admin.PhysicalPrefix,
		AuthPrefix:     config.AuthPrefix,
	})
}

func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := httputil.GetLogger(r.Context())

	class := g.engine.Classifier.Classify(r.URL.Path)
	req := Request{
		Class:    class,
		Session:  session.Absent,
		Path:     r.URL.EscapedPath(),
		RawQuery: r.URL.RawQuery,
	}

	var res session.Result
	if class.Kind == route.SecretAdmin {
		err := g.cfg.AdminReady()
		req.Configured = err == nil && g.verifier != nil
		if !req.Configured {
			ev := logger.Error()
			if err != nil {
				ev = ev.Err(err)
			}
			ev.Msg("admin request rejected: configuration incomplete")
		} else {
			res = g.verifier.VerifyRequest(r)
			req.Session = res.Status
			req.Origin = httputil.RequestOrigin(r, g.cfg.Server.PublicOrigin)
			if res.Status == session.Invalid {
				logger.Debug().Str("reason", res.Reason).Msg("admin session rejected")
			}
		}
	}

	d := g.engine.Decide(req)
	metrics.GateDecision.WithLabelValues(d.Action.String(), class.Kind.String()).Inc()
	metrics.GateDuration.Observe(time.Since(start).Seconds())

	if class.Kind == route.SecretAdmin {
		w.Header().Set("Cache-Control", "no-store")
	}

	switch d.Action {
	case PassThrough:
		g.public.ServeHTTP(w, r)

	case Reject:
		if d.Status == http.StatusNotFound {
			logger.Warn().
				Str("kind", class.Kind.String()).
				Str("ip_tag", g.ipTags.Tag(httputil.ClientIP(r))).
				Msg("physical admin tree probed")
			g.notFound.ServeHTTP(w, r)
			return
		}
		httputil.WriteText(w, d.Status, ConfigErrorBody)

	case Redirect:
		logger.Debug().Str("kind", class.Kind.String()).Bool("login", class.IsLogin).Msg("admin redirect")
		w.Header().Set("Location", d.Target)
		w.WriteHeader(d.Status)

	case Rewrite:
		ctx := context.WithValue(r.Context(), originalPathKey, r.URL.Path)
		if res.Session != nil {
			ctx = context.WithValue(ctx, sessionKey, res.Session)
		}
		r2 := r.Clone(ctx)
		r2.URL.Path = d.Target
		r2.URL.RawPath = ""
		g.physical.ServeHTTP(w, r2)
	}
}
