// Package resilience guards speech engines with circuit breakers and
// ordered failover.
//
// A [CircuitBreaker] trips after repeated engine failures and rejects calls
// outright until a cool-down passes, so a dead engine costs one quick error
// instead of a network timeout per turn. [FallbackGroup] puts one breaker in
// front of every configured engine of a kind and walks them in order. The
// STT, TTS and LLM wrappers satisfy the provider interfaces so the rest of
// the pipeline never knows failover happened.
//
// When every engine is down the error is a [fault.KindEngineUnavailable]
// fault, which the orchestrator answers with an apology.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. One failure
	// re-opens the breaker; enough successes close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds the tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines, usually the engine name.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again. Default: 1.
	HalfOpenMax int

	// Logger receives state changes. Default: slog.Default().
	Logger *slog.Logger

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// CircuitBreaker is a three-state breaker. The zero value is not usable;
// construct with [NewCircuitBreaker].
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	log          *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// NewCircuitBreaker creates a closed breaker. Zero config fields take their
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		log:          cfg.Logger,
		now:          cfg.Now,
	}
}

// Execute runs fn unless the breaker is open. A cancelled context is the
// caller stopping, not the engine failing, so an error wrapping
// [context.Canceled] is returned without being counted.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err == nil:
		cb.succeeded(probe)
	case errors.Is(err, context.Canceled):
		if probe {
			cb.probes--
		}
	default:
		cb.failed(probe)
	}
	return err
}

// admit decides whether one call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// failed must be called with cb.mu held.
func (cb *CircuitBreaker) failed(probe bool) {
	if probe || cb.state == StateHalfOpen {
		cb.open()
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.open()
	}
}

// succeeded must be called with cb.mu held.
func (cb *CircuitBreaker) succeeded(probe bool) {
	if !probe {
		cb.failures = 0
		return
	}
	cb.successes++
	if cb.successes >= cb.halfOpenMax {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.setState(StateOpen)
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	from := cb.state
	cb.state = s
	cb.probes, cb.successes = 0, 0
	if s == StateClosed {
		cb.failures = 0
	}
	level := slog.LevelInfo
	if s == StateOpen {
		level = slog.LevelWarn
	}
	cb.log.Log(context.Background(), level, "resilience: circuit breaker state change",
		"engine", cb.name, "from", from.String(), "to", s.String(), "failures", cb.failures)
}

// State returns the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
}
