// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a local
// Coqui server) and turns one text fragment into one clip of PCM. Streaming is
// the caller's concern: the speech pipeline splits model output into sentences
// and synthesizes them one after another while earlier clips play.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned by Synthesize for blank input.
var ErrEmptyText = errors.New("tts: empty text")

// Style selects the delivery preset.
type Style int

const (
	// StyleStandard is the engine's normal voice.
	StyleStandard Style = iota

	// StyleClear is the accessibility preset: slower and more stable
	// delivery. Engines map it to whatever knobs they have.
	StyleClear
)

// String returns "standard" or "clear".
func (s Style) String() string {
	if s == StyleClear {
		return "clear"
	}
	return "standard"
}

// Options describes how one fragment is synthesized.
type Options struct {
	// VoiceID is the provider-specific voice. Empty selects the provider
	// default.
	VoiceID string

	// SampleRate is the rate of the returned PCM in Hz. Zero lets the
	// provider pick its native rate.
	SampleRate int

	// Style is the delivery preset.
	Style Style
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text as 16-bit little-endian mono PCM at
	// opts.SampleRate. It blocks until the whole clip is available or ctx
	// ends.
	Synthesize(ctx context.Context, text string, opts Options) ([]byte, error)
}

// VoiceProfile is one voice an engine offers. Metadata carries whatever the
// engine reports beyond the name, such as speaker type or model.
type VoiceProfile struct {
	ID       string
	Name     string
	Provider string
	Metadata map[string]string
}

// VoiceLister is implemented by providers that can enumerate their voices.
// Readiness checks use it as a cheap reachability probe.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
