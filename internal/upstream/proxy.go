// Package upstream forwards public traffic and rewritten admin requests to an
// external rendering application.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"hiddengate/gateway-service/internal/config"
	internalhttp "hiddengate/gateway-service/internal/httputil"
	"hiddengate/gateway-service/internal/metrics"
)

const maxProxyBodySize = 32 * 1024 * 1024

// Handler is a single-origin reverse proxy.
type Handler struct {
	origin    *url.URL
	proxy     *httputil.ReverseProxy
	transport *http.Transport
	breaker   *Breaker
}

// NewHandler builds a proxy for cfg.Upstream.Origin.
func NewHandler(cfg *config.Config) (*Handler, error) {
	if cfg.Upstream.Origin == "" {
		return nil, errors.New("upstream.origin not configured")
	}
	target, err := url.Parse(cfg.Upstream.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse upstream origin: %w", err)
	}

	timeout := time.Duration(cfg.Upstream.TimeoutMs) * time.Millisecond
	transport := &http.Transport{
		MaxIdleConns:          cfg.Upstream.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.Upstream.MaxIdleConns,
		IdleConnTimeout:       time.Duration(cfg.Upstream.IdleTimeoutMs) * time.Millisecond,
		ResponseHeaderTimeout: timeout,
		TLSHandshakeTimeout:   timeout / 3,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2: true,
	}

	h := &Handler{
		origin:    target,
		transport: transport,
		breaker:   NewBreaker(cfg.Upstream.BreakerFailures, time.Duration(cfg.Upstream.BreakerOpenSec)*time.Second),
	}
	h.proxy = &httputil.ReverseProxy{
		Rewrite:        h.rewrite,
		Transport:      transport,
		ModifyResponse: h.modifyResponse,
		ErrorHandler:   h.errorHandler,
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.breaker.Allow() {
		metrics.UpstreamErrors.WithLabelValues("circuit_open").Inc()
		internalhttp.WriteText(w, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxProxyBodySize)

	// Transfer-Encoding takes precedence (RFC 7230); never forward both.
	if r.Header.Get("Content-Length") != "" && r.Header.Get("Transfer-Encoding") != "" {
		internalhttp.GetLogger(r.Context()).Warn().
			Msg("both Content-Length and Transfer-Encoding present")
		r.Header.Del("Content-Length")
	}
	h.proxy.ServeHTTP(w, r)
}

// rewrite targets the origin and sets trusted X-Forwarded-* headers. The
// inbound path is forwarded as is, which for a gate rewrite is already the
// physical path.
func (h *Handler) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(h.origin)
	pr.Out.Host = pr.In.Host

	pr.Out.Header.Del("X-Forwarded-For")
	pr.Out.Header.Del("X-Forwarded-Proto")
	pr.Out.Header.Del("X-Forwarded-Host")
	if ip := internalhttp.ClientIP(pr.In); ip != "" {
		pr.Out.Header.Set("X-Forwarded-For", ip)
	}
	origin := internalhttp.RequestOrigin(pr.In, "")
	pr.Out.Header.Set("X-Forwarded-Proto", strings.SplitN(origin, "://", 2)[0])
	pr.Out.Header.Set("X-Forwarded-Host", pr.In.Host)

	if id := internalhttp.GetRequestID(pr.In.Context()); id != "" {
		pr.Out.Header.Set("X-Request-ID", id)
	}
}

// modifyResponse feeds the breaker: 5xx from the origin counts as a failure.
func (h *Handler) modifyResponse(resp *http.Response) error {
	if resp.StatusCode >= 500 {
		h.breaker.RecordFailure()
	} else {
		h.breaker.RecordSuccess()
	}
	return nil
}

func (h *Handler) errorHandler(w http.ResponseWriter, r *http.Request, err error) {
	logger := internalhttp.GetLogger(r.Context())
	kind := classifyError(err)
	metrics.UpstreamErrors.WithLabelValues(kind).Inc()
	if kind == "context" {
		h.breaker.Abandon()
	} else {
		h.breaker.RecordFailure()
	}

	switch kind {
	case "context":
		logger.Debug().Str("error_type", kind).Msg("upstream request canceled")
		return
	case "timeout":
		logger.Warn().Str("error_type", kind).Err(err).Msg("upstream timeout")
		internalhttp.WriteText(w, http.StatusGatewayTimeout, "gateway timeout")
	case "dns", "connection":
		logger.Error().Str("error_type", kind).Err(err).Msg("upstream unavailable")
		internalhttp.WriteText(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		logger.Error().Str("error_type", kind).Err(err).Msg("upstream error")
		internalhttp.WriteText(w, http.StatusBadGateway, "bad gateway")
	}
}

func classifyError(err error) string {
	if errors.Is(err, context.Canceled) {
		return "context"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection"
	}
	return "other"
}

// CircuitState reports the breaker state for health checks.
func (h *Handler) CircuitState() State {
	return h.breaker.State()
}

// Shutdown closes idle upstream connections.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.transport.CloseIdleConnections()
	log.Info().Str("origin", h.origin.Host).Msg("closed idle upstream connections")
	return nil
}
