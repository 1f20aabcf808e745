// Package phrase implements [wakeword.Engine] by running a streaming STT
// session and spotting wake phrases in its transcripts.
//
// It trades latency and cost for flexibility: any phrase the recogniser can
// transcribe works as a wake phrase, including several at once ("hey gem",
// "emergency", "help me").
//
// Process never blocks on the recogniser. Audio is handed to the session and
// whatever transcripts have arrived since the previous call are checked.
package phrase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/hearken/internal/phonetic"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/wakeword"
)

// Option is a functional option for [New].
type Option func(*Engine)

// WithSampleRate sets the audio sample rate. Default: 16000.
func WithSampleRate(hz int) Option {
	return func(e *Engine) { e.sampleRate = hz }
}

// WithFrameLength sets the frame length in samples. Default: 480.
func WithFrameLength(samples int) Option {
	return func(e *Engine) { e.frameLength = samples }
}

// WithLanguage sets the recognition language.
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithMatcher replaces the default phrase matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithStartTimeout bounds how long opening the STT session may take.
// Default: 5s.
func WithStartTimeout(d time.Duration) Option {
	return func(e *Engine) { e.startTimeout = d }
}

// Engine spots wake phrases in STT output.
type Engine struct {
	provider     stt.Provider
	phrases      []string
	sampleRate   int
	frameLength  int
	language     string
	matcher      *phonetic.Matcher
	startTimeout time.Duration

	mu     sync.Mutex
	sess   stt.SessionHandle
	closed bool
}

var _ wakeword.Engine = (*Engine)(nil)

// New creates a phrase engine. At least one phrase is required.
func New(provider stt.Provider, phrases []string, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("phrase: stt provider is required")
	}
	if len(phrases) == 0 {
		return nil, fmt.Errorf("phrase: at least one wake phrase is required")
	}
	e := &Engine{
		provider:     provider,
		phrases:      phrases,
		sampleRate:   16000,
		frameLength:  480,
		matcher:      phonetic.New(),
		startTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// SampleRate implements [wakeword.Engine].
func (e *Engine) SampleRate() int { return e.sampleRate }

// FrameLength implements [wakeword.Engine].
func (e *Engine) FrameLength() int { return e.frameLength }

// Process implements [wakeword.Engine]. The STT session is opened lazily on
// the first frame and re-opened after a detection or Reset.
func (e *Engine) Process(frame []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, wakeword.ErrClosed
	}
	if e.sess == nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.startTimeout)
		sess, err := e.provider.StartStream(ctx, stt.StreamConfig{
			SampleRate: e.sampleRate,
			Channels:   1,
			Language:   e.language,
			Keywords:   e.phrases,
		})
		cancel()
		if err != nil {
			return false, fmt.Errorf("phrase: start stt stream: %w", err)
		}
		e.sess = sess
	}

	if err := e.sess.SendAudio(frame); err != nil {
		e.dropLocked()
		return false, fmt.Errorf("phrase: send audio: %w", err)
	}

	hit, ended := e.pollLocked()
	if ended {
		err := e.sess.Err()
		e.dropLocked()
		if err != nil {
			return false, fmt.Errorf("phrase: stt session: %w", err)
		}
	}
	if hit {
		// Start from a clean transcript so the same words cannot trigger twice.
		e.dropLocked()
	}
	return hit, nil
}

// pollLocked drains the transcripts received so far and reports whether any
// contains a wake phrase and whether the session has ended.
func (e *Engine) pollLocked() (hit, ended bool) {
	partials, finals := e.sess.Partials(), e.sess.Finals()
	for {
		select {
		case tr, ok := <-partials:
			if !ok {
				partials = nil
				ended = true
				continue
			}
			if e.matcher.Contains(tr.Text, e.phrases...) {
				hit = true
			}
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				ended = true
				continue
			}
			if e.matcher.Contains(tr.Text, e.phrases...) {
				hit = true
			}
		default:
			return hit, ended
		}
	}
}

func (e *Engine) dropLocked() {
	if e.sess != nil {
		_ = e.sess.Close()
		e.sess = nil
	}
}

// Reset implements [wakeword.Engine]. It discards the current STT session.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropLocked()
	return nil
}

// Close implements [wakeword.Engine].
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.dropLocked()
	return nil
}
