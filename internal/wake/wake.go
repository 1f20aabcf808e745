// Package wake detects the wake phrase in the capture stream.
//
// A [Detector] wraps a [wakeword.Engine] whose audio format was validated
// once at construction. Without an engine the Detector degrades to a manual
// trigger: [Detector.Trigger] fires the same signal a detection would, in
// standby as well as during a spoken response.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/hearken/internal/fault"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/wakeword"
)

var (
	// ErrFormatMismatch is returned when the capture format, or a single
	// frame, does not match what the engine requires.
	ErrFormatMismatch = errors.New("wake: audio format does not match the wake-word engine")

	// ErrStreamEnded is wrapped in the device error returned by
	// [Detector.Watch] when the frame channel closes.
	ErrStreamEnded = errors.New("wake: frame stream ended")
)

// Trigger sources reported in metrics.
const (
	SourceEngine = "engine"
	SourceManual = "manual"
)

// Option configures a [Detector].
type Option func(*Detector)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithMetrics counts triggers on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// Detector reports wake-phrase detections. Feed and Watch must be called
// from one goroutine at a time; Trigger, Suspend and Resume are safe from
// any goroutine.
type Detector struct {
	engine  wakeword.Engine
	format  audio.Format
	manual  chan struct{}
	log     *slog.Logger
	metrics *observe.Metrics

	// suspended bypasses the engine, leaving only the manual trigger.
	suspended atomic.Bool
}

// New creates a Detector. A nil engine yields a manual-only Detector.
// Otherwise format must match the engine's sample rate and frame length
// exactly, or New returns an error wrapping [ErrFormatMismatch].
func New(engine wakeword.Engine, format audio.Format, opts ...Option) (*Detector, error) {
	if engine != nil && (engine.SampleRate() != format.SampleRate || engine.FrameLength() != format.FrameLength) {
		return nil, fmt.Errorf("%w: capture is %d Hz x %d samples, engine wants %d Hz x %d samples",
			ErrFormatMismatch, format.SampleRate, format.FrameLength, engine.SampleRate(), engine.FrameLength())
	}
	d := &Detector{
		engine: engine,
		format: format,
		manual: make(chan struct{}, 1),
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// HasEngine reports whether detections come from an engine rather than only
// from [Detector.Trigger].
func (d *Detector) HasEngine() bool { return d.engine != nil }

// Suspend bypasses the engine until [Detector.Resume], so only manual
// triggers wake the assistant. It reports whether the engine was active.
func (d *Detector) Suspend() bool {
	return d.engine != nil && d.suspended.CompareAndSwap(false, true)
}

// Resume re-enables the engine after [Detector.Suspend].
func (d *Detector) Resume() { d.suspended.Store(false) }

// Suspended reports whether the engine is bypassed.
func (d *Detector) Suspended() bool { return d.suspended.Load() }

// Feed passes one frame to the engine and reports whether it completed the
// wake phrase. Without an active engine Feed always returns false.
func (d *Detector) Feed(frame audio.Frame) (bool, error) {
	if d.engine == nil || d.suspended.Load() {
		return false, nil
	}
	if len(frame.Data) != d.format.FrameBytes() || frame.SampleRate != d.format.SampleRate {
		return false, fmt.Errorf("%w: frame %d has %d bytes at %d Hz", ErrFormatMismatch, frame.Seq, len(frame.Data), frame.SampleRate)
	}
	hit, err := d.engine.Process(frame.Data)
	if err != nil {
		return false, fault.EngineUnavailable("wakeword", err)
	}
	return hit, nil
}

// Trigger requests a manual wake. At most one request is held until it is
// consumed; further calls before then are no-ops.
func (d *Detector) Trigger() {
	select {
	case d.manual <- struct{}{}:
	default:
	}
}

// Manual returns the channel that receives manual wake requests.
func (d *Detector) Manual() <-chan struct{} { return d.manual }

// Watch consumes frames until the wake phrase is detected or a manual
// trigger arrives, and then returns nil. It returns ctx.Err() on
// cancellation, a [fault.KindEngineUnavailable] error when the engine fails
// and a [fault.KindDevice] error when frames closes. The engine state is
// reset before the pass starts. While suspended, frames are consumed
// without reaching the engine.
func (d *Detector) Watch(ctx context.Context, frames <-chan audio.Frame) error {
	if d.engine != nil && !d.suspended.Load() {
		if err := d.engine.Reset(); err != nil {
			d.log.Debug("wake: reset engine", "err", err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.manual:
			d.record(ctx, SourceManual)
			return nil
		case f, ok := <-frames:
			if !ok {
				return fault.Device("capture", ErrStreamEnded)
			}
			hit, err := d.Feed(f)
			if err != nil {
				return err
			}
			if hit {
				d.log.Debug("wake: phrase detected", "seq", f.Seq)
				d.record(ctx, SourceEngine)
				return nil
			}
		}
	}
}

// Close releases the engine.
func (d *Detector) Close() error {
	if d.engine == nil {
		return nil
	}
	return d.engine.Close()
}

func (d *Detector) record(ctx context.Context, source string) {
	if d.metrics != nil {
		d.metrics.RecordWake(ctx, source)
	}
}
