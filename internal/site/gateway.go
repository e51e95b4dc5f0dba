package site

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"hiddengate/gateway-service/internal/auth"
	"hiddengate/gateway-service/internal/config"
	"hiddengate/gateway-service/internal/gate"
	"hiddengate/gateway-service/internal/httputil"
	"hiddengate/gateway-service/internal/rate"
	"hiddengate/gateway-service/internal/session"
	"hiddengate/gateway-service/internal/upstream"
	"hiddengate/gateway-service/internal/util"
)

// Gateway is the fully wired HTTP surface.
type Gateway struct {
	Handler  http.Handler
	upstream *upstream.Handler
}

// Build wires every component from cfg. Missing admin settings are logged,
// not returned: the public site keeps working and the admin area reports a
// configuration error per request.
func Build(cfg *config.Config, logger zerolog.Logger) (*Gateway, error) {
	var verifier *session.Verifier
	if err := cfg.AdminReady(); err != nil {
		logger.Warn().Err(err).Msg("admin area disabled until configuration is complete")
	}
	kr, err := auth.NewKeyring(cfg)
	switch {
	case err == nil:
		verifier = session.NewVerifier(kr, cfg.Session.CookieName)
	case errors.Is(err, auth.ErrNotConfigured):
		logger.Warn().Err(err).Msg("session keyring unavailable")
	default:
		return nil, err
	}

	g := &Gateway{}
	opts := Options{Metrics: promhttp.Handler()}
	if cfg.Upstream.Origin != "" {
		up, err := upstream.NewHandler(cfg)
		if err != nil {
			return nil, err
		}
		g.upstream = up
		opts.Upstream = up
	}

	ipTags := util.NewIPTagger()
	engine := gate.EngineFor(cfg)

	authHandler := auth.NewHandler(cfg, auth.NewAuthenticator(cfg, kr), verifier,
		rate.NewLimiter(cfg.Login.MaxAttempts, cfg.Login.WindowSec), engine, ipTags)
	opts.Auth = authHandler.Routes()

	s := New(cfg, engine, opts)
	gt := gate.New(cfg, verifier, s.Public(), s.Physical(), s.NotFound(), ipTags)

	g.Handler = httputil.Chain(
		middleware.Recoverer,
		httputil.RequestIDMiddleware(logger, cfg.Server.TrustedProxyCIDRs),
		httputil.SecurityHeaders,
	)(gt)
	return g, nil
}

// Shutdown releases upstream connections.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.upstream != nil {
		return g.upstream.Shutdown(ctx)
	}
	return nil
}
