// Package health serves the liveness and readiness endpoints of the ops
// server.
//
//   - /healthz always answers 200 while the process serves HTTP. The body
//     carries the current conversation state when a [StateFunc] is set.
//   - /readyz answers 200 only when every [Checker] passes: the capture
//     device is open and the speech engines respond.
//
// Responses are JSON objects with a "status" field ("ok" or "fail") and a
// "checks" map holding the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hearken/internal/resilience"
	"github.com/MrWong99/hearken/pkg/provider/tts"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe.
type Checker struct {
	// Name keys the result in the JSON response, e.g. "capture", "tts".
	Name string

	// Check returns nil when the dependency is usable. It must respect ctx.
	Check func(ctx context.Context) error
}

// StateFunc reports the current conversation state for /healthz.
type StateFunc func() string

type result struct {
	Status string            `json:"status"`
	State  string            `json:"state,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	state    StateFunc
}

// New creates a [Handler]. Checkers run concurrently on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// WithState makes /healthz report the conversation state.
func (h *Handler) WithState(fn StateFunc) *Handler {
	h.state = fn
	return h
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.state != nil {
		res.State = h.state()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz is the readiness probe. Each checker gets its own [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ErrCaptureStopped is reported by [CaptureChecker] while the device is closed.
var ErrCaptureStopped = errors.New("capture device not running")

// CaptureChecker passes while running reports true.
func CaptureChecker(running func() bool) Checker {
	return Checker{
		Name: "capture",
		Check: func(context.Context) error {
			if !running() {
				return ErrCaptureStopped
			}
			return nil
		},
	}
}

// VoicesChecker probes a TTS engine by listing its voices.
func VoicesChecker(name string, vl tts.VoiceLister) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			_, err := vl.ListVoices(ctx)
			return err
		},
	}
}

// BreakerChecker fails while the breaker is open. Half-open counts as ready
// since the next call is a probe.
func BreakerChecker(name string, cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if cb.State() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return nil
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
