package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Version is reported through BuildInfo. Set at link time with
// -ldflags "-X hiddengate/gateway-service/internal/metrics.Version=...".
var Version = "0.1.0"

var (
	GateDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiddengate_gate_decision_total",
			Help: "Routing decisions by action (pass/rewrite/redirect/reject) and route kind",
		},
		[]string{"action", "kind"},
	)
	GateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hiddengate_gate_decision_duration_seconds",
			Help:    "Latency of classification, verification and decision",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		},
	)
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiddengate_login_attempts_total",
			Help: "Login submissions by result (success/invalid/not_configured/rate_limited/csrf)",
		},
		[]string{"result"},
	)
	SessionsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hiddengate_sessions_issued_total",
			Help: "Admin session tokens minted",
		},
	)
	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hiddengate_upstream_errors_total",
			Help: "Upstream proxy errors by type",
		},
		[]string{"type"},
	)
	UpstreamCircuitState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hiddengate_upstream_circuit_state",
			Help: "Upstream circuit state (0=closed, 1=open, 2=half-open)",
		},
	)
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hiddengate_build_info",
			Help: "Build info gauge, always 1",
		},
		[]string{"version"},
	)
)

func MustRegister() {
	prometheus.MustRegister(GateDecision, GateDuration, LoginAttempts, SessionsIssued, UpstreamErrors, UpstreamCircuitState, BuildInfo)
	BuildInfo.WithLabelValues(Version).Set(1)
}
