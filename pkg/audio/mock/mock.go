// Package mock provides in-memory implementations of [audio.InputDevice] and
// [audio.OutputDevice] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control behaviour.
//
// Typical usage:
//
//	feed := make(chan []byte, 16)
//	in := &mock.InputDevice{Feed: feed}
//	out := &mock.OutputDevice{PlayDelay: 20 * time.Millisecond}
//	src := capture.New(in, audio.DefaultFormat())
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
)

// ─── Input ────────────────────────────────────────────────────────────────────

// InputDevice is a mock implementation of [audio.InputDevice].
// Each [InputDevice.Open] returns a fresh capture that first replays Frames,
// then reads from Feed. When both are exhausted, Read returns ReadErr if set
// and otherwise blocks until the capture is closed.
type InputDevice struct {
	mu sync.Mutex

	// Frames are returned by successive Read calls of every capture.
	Frames [][]byte

	// Feed supplies frames after Frames are exhausted. A closed Feed behaves
	// like an exhausted one.
	Feed chan []byte

	// Interval paces Read calls to mimic a real-time device.
	Interval time.Duration

	// OpenErr is returned by Open.
	OpenErr error

	// ReadErr is returned by Read once no more frames are available.
	ReadErr error

	// OpenCalls records the format passed to each Open call.
	OpenCalls []audio.Format

	// CloseCount records how many captures were closed.
	CloseCount int
}

var _ audio.InputDevice = (*InputDevice)(nil)

// Open implements [audio.InputDevice].
func (d *InputDevice) Open(_ context.Context, format audio.Format) (audio.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, format)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	frames := make([][]byte, len(d.Frames))
	copy(frames, d.Frames)
	return &capture{dev: d, frames: frames, feed: d.Feed, interval: d.Interval, readErr: d.ReadErr, closed: make(chan struct{})}, nil
}

// Opens returns the number of Open calls.
func (d *InputDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// Closes returns the number of closed captures.
func (d *InputDevice) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CloseCount
}

type capture struct {
	dev      *InputDevice
	frames   [][]byte
	feed     chan []byte
	interval time.Duration
	readErr  error

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *capture) Read() ([]byte, error) {
	if c.interval > 0 {
		select {
		case <-time.After(c.interval):
		case <-c.closed:
			return nil, audio.ErrClosed
		}
	}
	select {
	case <-c.closed:
		return nil, audio.ErrClosed
	default:
	}
	if len(c.frames) > 0 {
		f := c.frames[0]
		c.frames = c.frames[1:]
		return f, nil
	}
	if c.feed != nil {
		select {
		case f, ok := <-c.feed:
			if ok {
				return f, nil
			}
			c.feed = nil
		case <-c.closed:
			return nil, audio.ErrClosed
		}
	}
	if c.readErr != nil {
		return nil, c.readErr
	}
	<-c.closed
	return nil, audio.ErrClosed
}

func (c *capture) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.dev.mu.Lock()
		c.dev.CloseCount++
		c.dev.mu.Unlock()
	})
	return nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Write records one [audio.Playback.Write] call.
type Write struct {
	PCM      []byte
	Started  time.Time
	Finished time.Time

	// Halted is true when the write was interrupted by Halt or ctx.
	Halted bool
}

// OutputDevice is a mock implementation of [audio.OutputDevice].
// Every Write "plays" for PlayDelay (or the real duration of the PCM when
// RealTime is set) unless it is halted first.
type OutputDevice struct {
	mu sync.Mutex

	// OpenErr is returned by Open.
	OpenErr error

	// OpenBlock makes Open wait until its context ends.
	OpenBlock bool

	// WriteErr is returned by every Write.
	WriteErr error

	// PlayDelay is how long each Write blocks.
	PlayDelay time.Duration

	// RealTime makes each Write block for the audio duration of its PCM.
	RealTime bool

	// OnWrite, if set, is called when a Write starts playing.
	OnWrite func(pcm []byte)

	// OpenRates records the sample rate of each Open call.
	OpenRates []int

	// Writes records every write in start order.
	Writes []Write

	// HaltCount records how many times Halt was called.
	HaltCount int

	// CloseCount records how many playbacks were closed.
	CloseCount int
}

var _ audio.OutputDevice = (*OutputDevice)(nil)

// Open implements [audio.OutputDevice].
func (d *OutputDevice) Open(ctx context.Context, sampleRate int) (audio.Playback, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenRates = append(d.OpenRates, sampleRate)
	if d.OpenBlock {
		d.mu.Unlock()
		<-ctx.Done()
		d.mu.Lock()
		return nil, ctx.Err()
	}
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	return &playback{dev: d, rate: sampleRate, halt: make(chan struct{})}, nil
}

// SetOpenBlock changes OpenBlock while the device is in use.
func (d *OutputDevice) SetOpenBlock(block bool) {
	d.mu.Lock()
	d.OpenBlock = block
	d.mu.Unlock()
}

// Recorded returns a copy of the recorded writes.
func (d *OutputDevice) Recorded() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Write, len(d.Writes))
	copy(out, d.Writes)
	return out
}

// Halts returns the number of Halt calls.
func (d *OutputDevice) Halts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.HaltCount
}

type playback struct {
	dev  *OutputDevice
	rate int

	mu   sync.Mutex
	halt chan struct{}
}

func (p *playback) Write(ctx context.Context, pcm []byte) error {
	p.dev.mu.Lock()
	if p.dev.WriteErr != nil {
		err := p.dev.WriteErr
		p.dev.mu.Unlock()
		return err
	}
	idx := len(p.dev.Writes)
	p.dev.Writes = append(p.dev.Writes, Write{PCM: pcm, Started: time.Now()})
	delay := p.dev.PlayDelay
	if p.dev.RealTime {
		delay = audio.PCMDuration(len(pcm), p.rate)
	}
	onWrite := p.dev.OnWrite
	p.dev.mu.Unlock()

	if onWrite != nil {
		onWrite(pcm)
	}

	p.mu.Lock()
	halt := p.halt
	p.mu.Unlock()

	var err error
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-halt:
		err = audio.ErrHalted
	case <-ctx.Done():
		err = ctx.Err()
	}

	p.dev.mu.Lock()
	p.dev.Writes[idx].Finished = time.Now()
	p.dev.Writes[idx].Halted = err != nil
	p.dev.mu.Unlock()
	return err
}

func (p *playback) Halt() {
	p.mu.Lock()
	close(p.halt)
	p.halt = make(chan struct{})
	p.mu.Unlock()

	p.dev.mu.Lock()
	p.dev.HaltCount++
	p.dev.mu.Unlock()
}

func (p *playback) Close() error {
	p.dev.mu.Lock()
	p.dev.CloseCount++
	p.dev.mu.Unlock()
	return nil
}
