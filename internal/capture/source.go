// Package capture turns a blocking [audio.InputDevice] into a channel of
// sequenced, timestamped [audio.Frame] values.
//
// Reads run on a dedicated goroutine so the device never blocks the
// orchestrator. A device failure closes the frame channel, records a
// [fault.KindDevice] error and releases the device; the next [Source.Start]
// re-opens it.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hearken/internal/fault"
	"github.com/MrWong99/hearken/pkg/audio"
)

// Option is a functional option for [New].
type Option func(*Source)

// WithBuffer sets the frame channel capacity. When the consumer lags, the
// oldest queued frame is dropped. Default: 64 frames.
func WithBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// Source is the single producer of capture frames.
type Source struct {
	dev    audio.InputDevice
	format audio.Format
	buffer int
	now    func() time.Time

	seq     atomic.Uint64
	dropped atomic.Int64

	mu      sync.Mutex
	capt    audio.Capture
	frames  chan audio.Frame
	done    chan struct{}
	err     error
	stopped bool
}

// New creates a Source reading format-shaped frames from dev. The device is
// not opened until [Source.Start].
func New(dev audio.InputDevice, format audio.Format, opts ...Option) *Source {
	s := &Source{dev: dev, format: format, buffer: 64, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Format returns the capture format.
func (s *Source) Format() audio.Format { return s.format }

// Start opens the device and begins capture. It is a no-op while capture is
// running. After a device failure or [Source.Stop], Start re-opens the device.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capt != nil {
		return nil
	}
	capt, err := s.dev.Open(ctx, s.format)
	if err != nil {
		return fault.Device("capture", err)
	}
	s.capt = capt
	s.frames = make(chan audio.Frame, s.buffer)
	s.done = make(chan struct{})
	s.err = nil
	s.stopped = false
	go s.loop(capt, s.frames, s.done)
	slog.Debug("capture: started", "format", s.format.String())
	return nil
}

// Running reports whether the device is open.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capt != nil
}

// Frames returns the channel of the current capture stream. It is closed
// when capture stops or the device fails. Before the first Start it returns
// nil.
func (s *Source) Frames() <-chan audio.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Err returns the device error that ended the last stream, or nil.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns how many frames were discarded because the consumer lagged
// or the device returned a malformed frame.
func (s *Source) Dropped() int64 { return s.dropped.Load() }

// Flush discards every frame currently queued.
func (s *Source) Flush() {
	ch := s.Frames()
	if ch == nil {
		return
	}
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Stop releases the device and waits for the read goroutine to exit. It is
// safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	capt, done := s.capt, s.done
	if capt == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	err := capt.Close()
	<-done
	return err
}

func (s *Source) loop(capt audio.Capture, frames chan audio.Frame, done chan struct{}) {
	defer close(done)
	defer close(frames)

	want := s.format.FrameBytes()
	for {
		data, err := capt.Read()
		if err != nil {
			s.finish(capt, err)
			return
		}
		if len(data) != want {
			s.dropped.Add(1)
			slog.Debug("capture: dropping malformed frame", "bytes", len(data), "want", want)
			continue
		}
		frame := audio.Frame{
			Seq:        s.seq.Add(1),
			Captured:   s.now(),
			Data:       data,
			SampleRate: s.format.SampleRate,
		}
		select {
		case frames <- frame:
		default:
			select {
			case <-frames:
				s.dropped.Add(1)
			default:
			}
			frames <- frame
		}
	}
}

// finish releases the device after the read loop ends.
func (s *Source) finish(capt audio.Capture, readErr error) {
	s.mu.Lock()
	stopped := s.stopped
	s.capt = nil
	if !stopped {
		s.err = fault.Device("capture", readErr)
	}
	s.mu.Unlock()

	if stopped || errors.Is(readErr, audio.ErrClosed) {
		return
	}
	_ = capt.Close()
	slog.Warn("capture: device failed; will re-open on next use", "err", readErr)
}
