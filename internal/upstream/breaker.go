package upstream

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hiddengate/gateway-service/internal/metrics"
)

// State is the circuit state of the upstream origin.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker opens after FailureThreshold consecutive failures, fails fast for
// OpenFor, then lets a single probe through. A successful probe closes it.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	openedAt         time.Time
	probing          bool
	failureThreshold int
	openFor          time.Duration
	now              func() time.Time
}

func NewBreaker(failureThreshold int, openFor time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	metrics.UpstreamCircuitState.Set(float64(StateClosed))
	return &Breaker{failureThreshold: failureThreshold, openFor: openFor, now: time.Now}
}

// Allow reports whether a request may go upstream.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true
	default:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == StateHalfOpen {
		b.probing = false
		b.transition(StateClosed)
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.probing = false
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// Abandon releases a half-open probe whose outcome is unknown, e.g. when the
// client went away.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	metrics.UpstreamCircuitState.Set(float64(to))
	log.Info().
		Str("old_state", from.String()).
		Str("new_state", to.String()).
		Int("failures", b.failures).
		Msg("upstream circuit state transition")
}
