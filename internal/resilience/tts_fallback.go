package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/hearken/pkg/provider/tts"
)

// errNoVoiceList marks an engine that cannot enumerate voices.
var errNoVoiceList = errors.New("resilience: engine cannot list voices")

// TTSFallback is a [tts.Provider] that synthesizes each fragment on the first
// healthy engine. Fragments of one reply may come from different engines
// when the primary fails halfway.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] preferring primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another TTS engine.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Engines lists the engine names in failover order.
func (f *TTSFallback) Engines() []string { return f.group.Names() }

// Breaker returns the circuit breaker guarding the named engine, or nil.
func (f *TTSFallback) Breaker(name string) *CircuitBreaker { return f.group.Breaker(name) }

// Synthesize renders text on the first engine that succeeds.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, opts tts.Options) ([]byte, error) {
	if text == "" {
		return nil, tts.ErrEmptyText
	}
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, opts)
	})
}

// ListVoices asks the first engine that can enumerate voices.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		vl, ok := p.(tts.VoiceLister)
		if !ok {
			return nil, errNoVoiceList
		}
		return vl.ListVoices(ctx)
	})
}
