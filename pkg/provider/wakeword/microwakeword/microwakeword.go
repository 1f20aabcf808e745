// Package microwakeword implements [wakeword.Engine] on microWakeWord TFLite
// models through github.com/pmdroid/microwakeword.
//
// microWakeWord runs at 16 kHz and consumes audio in 10 ms steps, so the
// configured frame length must be a multiple of 160 samples.
//
// The package links against libtensorflowlite_c through cgo.
package microwakeword

import (
	"errors"
	"fmt"
	"sync"

	mww "github.com/pmdroid/microwakeword"

	"github.com/MrWong99/hearken/pkg/provider/wakeword"
)

// Option is a functional option for [New].
type Option func(*Engine)

// WithFrameLength sets the frame length in samples. Must be a positive
// multiple of 160. Default: 480 (30 ms).
func WithFrameLength(samples int) Option {
	return func(e *Engine) { e.frameLength = samples }
}

// WithRefractory sets the number of seconds after a detection during which
// further detections are suppressed. Default: 2.
func WithRefractory(seconds float64) Option {
	return func(e *Engine) { e.refractory = seconds }
}

// WithModelConfig loads the model from a microWakeWord JSON manifest instead
// of a builtin model.
func WithModelConfig(path string) Option {
	return func(e *Engine) { e.configPath = path }
}

// Engine is a microWakeWord detector.
type Engine struct {
	model       string
	configPath  string
	frameLength int
	refractory  float64

	mu     sync.Mutex
	det    *mww.MicroWakeWord
	closed bool
}

var _ wakeword.Engine = (*Engine)(nil)

// New loads the builtin model named model (e.g. "okay_nabu")
// unless [WithModelConfig] is given.
func New(model string, opts ...Option) (*Engine, error) {
	e := &Engine{
		model:       model,
		frameLength: 3 * mww.SamplesPerChunk,
		refractory:  mww.DefaultRefractory,
	}
	for _, o := range opts {
		o(e)
	}
	if e.frameLength <= 0 || e.frameLength%mww.SamplesPerChunk != 0 {
		return nil, fmt.Errorf("microwakeword: frame length %d is not a positive multiple of %d", e.frameLength, mww.SamplesPerChunk)
	}
	if e.model == "" && e.configPath == "" {
		return nil, errors.New("microwakeword: model name or config path is required")
	}

	var err error
	if e.configPath != "" {
		e.det, err = mww.FromConfig(e.configPath, e.refractory)
	} else {
		e.det, err = mww.FromBuiltin(e.model, e.refractory)
	}
	if err != nil {
		return nil, fmt.Errorf("microwakeword: load model: %w", err)
	}
	return e, nil
}

// SampleRate implements [wakeword.Engine].
func (e *Engine) SampleRate() int { return mww.SamplesPerSecond }

// FrameLength implements [wakeword.Engine].
func (e *Engine) FrameLength() int { return e.frameLength }

// Process implements [wakeword.Engine].
func (e *Engine) Process(frame []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, wakeword.ErrClosed
	}
	hit, err := e.det.ProcessStreaming(frame)
	if err != nil {
		return false, fmt.Errorf("microwakeword: process: %w", err)
	}
	return hit, nil
}

// Reset implements [wakeword.Engine].
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return wakeword.ErrClosed
	}
	if err := e.det.Reset(); err != nil {
		return fmt.Errorf("microwakeword: reset: %w", err)
	}
	return nil
}

// Close implements [wakeword.Engine]. The underlying library has no explicit
// release; the interpreter is reclaimed with the detector.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.det = nil
	return nil
}
