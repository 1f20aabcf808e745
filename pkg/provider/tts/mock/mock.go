// Package mock provides a test double for the tts.Provider interface.
//
// Provider returns scripted PCM and records every call. Delay and Block let
// tests hold synthesis open to exercise cancellation.
//
// Example:
//
//	p := &mock.Provider{Audio: [][]byte{clipA, clipB}}
//	pcm, _ := p.Synthesize(ctx, "Hello.", tts.Options{})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/tts"
)

// Call records a single invocation of Synthesize.
type Call struct {
	Text string
	Opts tts.Options
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned in order, one element per call. Once exhausted the
	// last element repeats; with no elements, Default(text) is used.
	Audio [][]byte

	// Err, if non-nil, is returned by every call.
	Err error

	// FailOn, if set, returns an error for calls whose text it matches.
	FailOn func(text string) error

	// Delay is how long each call takes. The call returns ctx.Err() if ctx
	// ends first.
	Delay time.Duration

	// Block makes every call wait until ctx ends.
	Block bool

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ListErr is returned by ListVoices.
	ListErr error

	// Calls records every Synthesize call in order.
	Calls []Call
}

// Default returns 100 bytes of non-zero PCM per character of text.
func Default(text string) []byte {
	out := make([]byte, 100*len(text))
	for i := range out {
		out[i] = 0x11
	}
	return out
}

// Synthesize records the call and returns the scripted audio.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.Options) ([]byte, error) {
	p.mu.Lock()
	n := len(p.Calls)
	p.Calls = append(p.Calls, Call{Text: text, Opts: opts})
	err, failOn, delay, block := p.Err, p.FailOn, p.Delay, p.Block
	var pcm []byte
	switch {
	case len(p.Audio) == 0:
		pcm = Default(text)
	case n < len(p.Audio):
		pcm = p.Audio[n]
	default:
		pcm = p.Audio[len(p.Audio)-1]
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if failOn != nil {
		if err := failOn(text); err != nil {
			return nil, err
		}
	}
	if text == "" {
		return nil, tts.ErrEmptyText
	}
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return out, nil
}

// ListVoices returns Voices and ListErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Voices, p.ListErr
}

// Texts returns the text of every recorded call.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// CallList returns a copy of the recorded calls.
func (p *Provider) CallList() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.Calls))
	copy(out, p.Calls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
