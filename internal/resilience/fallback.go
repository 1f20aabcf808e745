package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/hearken/internal/fault"
	"github.com/MrWong99/hearken/internal/observe"
)

// ErrAllFailed is wrapped by the error returned when every engine in a
// [FallbackGroup] failed or had an open breaker.
var ErrAllFailed = errors.New("resilience: all engines failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// Kind names the pipeline stage ("stt", "tts", "llm"). It becomes the
	// engine of the resulting fault and the kind label on metrics.
	Kind string

	// CircuitBreaker is the template for every entry's breaker. Name is
	// overwritten with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Metrics, when set, counts requests and errors per engine.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary engine and its fallbacks, each behind its own
// breaker. Entries are tried in registration order. AddFallback must not be
// called concurrently with Execute.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CircuitBreaker.Logger == nil {
		cfg.CircuitBreaker.Logger = cfg.Logger
	}
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an engine tried after every earlier one.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, entry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names lists the engines in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Primary returns the first engine.
func (fg *FallbackGroup[T]) Primary() T { return fg.entries[0].value }

// Breaker returns the breaker guarding the named engine, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, e := range fg.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// Execute runs fn against each engine until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult runs fn against each engine until one succeeds and
// returns its result. Engines with an open breaker are skipped. A cancelled
// ctx stops the walk and returns a [fault.KindCancelled] fault. When nothing
// succeeds the error is a [fault.KindEngineUnavailable] fault wrapping
// [ErrAllFailed] and the last engine error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		e := &fg.entries[i]
		var result R
		err := e.breaker.Execute(func() error {
			var err error
			result, err = fn(e.value)
			return err
		})
		if err == nil {
			fg.record(ctx, e.name, "ok")
			return result, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return zero, fault.Cancelled(fg.cfg.Kind)
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.cfg.Logger.Debug("resilience: skipping engine with open circuit",
				"kind", fg.cfg.Kind, "engine", e.name)
			continue
		}
		fg.record(ctx, e.name, "error")
		if i < len(fg.entries)-1 {
			fg.cfg.Logger.Warn("resilience: engine failed, trying next",
				"kind", fg.cfg.Kind, "engine", e.name, "err", err)
		}
	}
	return zero, fault.EngineUnavailable(fg.cfg.Kind, fmt.Errorf("%w: %w", ErrAllFailed, lastErr))
}

func (fg *FallbackGroup[T]) record(ctx context.Context, name, status string) {
	if fg.cfg.Metrics == nil {
		return
	}
	fg.cfg.Metrics.RecordProviderRequest(ctx, name, fg.cfg.Kind, status)
	if status != "ok" {
		fg.cfg.Metrics.RecordProviderError(ctx, name, fg.cfg.Kind)
	}
}
