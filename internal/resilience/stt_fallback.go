package resilience

import (
	"context"

	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens its session on the first
// healthy engine. Only session setup fails over; a session that breaks
// mid-utterance ends the turn like any other engine failure.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another STT engine.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Engines lists the engine names in failover order.
func (f *STTFallback) Engines() []string { return f.group.Names() }

// Breaker returns the circuit breaker guarding the named engine, or nil.
func (f *STTFallback) Breaker(name string) *CircuitBreaker { return f.group.Breaker(name) }

// StartStream opens a session on the first engine that accepts it.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
