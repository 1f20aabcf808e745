// Package portaudio implements [audio.InputDevice] and [audio.OutputDevice]
// on a local microphone and speaker through PortAudio. An empty device name
// selects the system default.
//
// PortAudio is initialised lazily on the first Open and terminated when the
// last stream is closed.
package portaudio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/hearken/pkg/audio"
)

// outputBlock is the playback write granularity. Halt takes effect at the
// next block boundary.
const outputBlock = 20 * time.Millisecond

var (
	refMu sync.Mutex
	refs  int
)

func acquire() error {
	refMu.Lock()
	defer refMu.Unlock()
	if refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio: initialize: %w", err)
		}
	}
	refs++
	return nil
}

func release() {
	refMu.Lock()
	defer refMu.Unlock()
	refs--
	if refs == 0 {
		_ = portaudio.Terminate()
	}
}

// findDevice returns the first device whose name contains name, ignoring
// case, and that has channels in the wanted direction.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, d := range devs {
		if input && d.MaxInputChannels < 1 || !input && d.MaxOutputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no device matching %q", name)
}

// openStream opens a mono stream on the named device or on the default one.
func openStream(device string, input bool, rate, frames int, buf []int16) (*portaudio.Stream, error) {
	if device == "" {
		if input {
			return portaudio.OpenDefaultStream(1, 0, float64(rate), frames, buf)
		}
		return portaudio.OpenDefaultStream(0, 1, float64(rate), frames, buf)
	}
	dev, err := findDevice(device, input)
	if err != nil {
		return nil, err
	}
	var params portaudio.StreamParameters
	if input {
		params = portaudio.LowLatencyParameters(dev, nil)
		params.Input.Channels = 1
	} else {
		params = portaudio.LowLatencyParameters(nil, dev)
		params.Output.Channels = 1
	}
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = frames
	return portaudio.OpenStream(params, buf)
}

// Input is a PortAudio input device.
type Input struct {
	// Device selects a device by name substring. Empty uses the default.
	Device string
}

var _ audio.InputDevice = Input{}

// Open implements [audio.InputDevice].
func (in Input) Open(_ context.Context, format audio.Format) (audio.Capture, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := acquire(); err != nil {
		return nil, err
	}
	buf := make([]int16, format.FrameLength)
	stream, err := openStream(in.Device, true, format.SampleRate, format.FrameLength, buf)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start input stream: %w", err)
	}
	return &capture{stream: stream, buf: buf}, nil
}

type capture struct {
	stream *portaudio.Stream
	buf    []int16

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (c *capture) Read() ([]byte, error) {
	if c.closed.Load() {
		return nil, audio.ErrClosed
	}
	if err := c.stream.Read(); err != nil {
		if c.closed.Load() {
			return nil, audio.ErrClosed
		}
		// Overflow only means frames were lost; the stream is still usable.
		if err == portaudio.InputOverflowed {
			return audio.Int16ToBytes(c.buf), nil
		}
		return nil, fmt.Errorf("portaudio: read: %w", err)
	}
	return audio.Int16ToBytes(c.buf), nil
}

func (c *capture) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.stream.Abort()
		c.closeErr = c.stream.Close()
		release()
	})
	return c.closeErr
}

// Output is a PortAudio output device.
type Output struct {
	// Device selects a device by name substring. Empty uses the default.
	Device string
}

var _ audio.OutputDevice = Output{}

// Open implements [audio.OutputDevice].
func (out Output) Open(_ context.Context, sampleRate int) (audio.Playback, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: output sample rate %d", audio.ErrInvalidFormat, sampleRate)
	}
	if err := acquire(); err != nil {
		return nil, err
	}
	buf := make([]int16, int(int64(sampleRate)*int64(outputBlock)/int64(time.Second)))
	stream, err := openStream(out.Device, false, sampleRate, len(buf), buf)
	if err != nil {
		release()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}
	return &playback{stream: stream, buf: buf}, nil
}

type playback struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []int16

	// gen is bumped by Halt; a write started under an older generation stops.
	gen atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

func (p *playback) Write(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.gen.Load()
	samples := audio.BytesToInt16(pcm)
	for off := 0; off < len(samples); off += len(p.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.gen.Load() != start {
			return audio.ErrHalted
		}
		n := copy(p.buf, samples[off:])
		clear(p.buf[n:])
		if err := p.stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

func (p *playback) Halt() { p.gen.Add(1) }

func (p *playback) Close() error {
	p.closeOnce.Do(func() {
		p.Halt()
		p.mu.Lock()
		defer p.mu.Unlock()
		_ = p.stream.Stop()
		p.closeErr = p.stream.Close()
		release()
	})
	return p.closeErr
}
