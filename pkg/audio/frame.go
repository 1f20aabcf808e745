package audio

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSampleRate is the capture rate used when none is configured.
const DefaultSampleRate = 16000

// DefaultFrameDuration is the capture frame period used when none is configured.
const DefaultFrameDuration = 30 * time.Millisecond

// ErrInvalidFormat is returned by [Format.Validate] for unusable formats.
var ErrInvalidFormat = errors.New("audio: invalid format")

// SupportedSampleRates lists the capture rates accepted by [Format.Validate].
var SupportedSampleRates = []int{8000, 16000, 32000, 48000}

// Frame is one fixed-length block of mono PCM16LE samples read from the input
// device. A Frame is immutable once produced: the capture loop allocates a
// fresh Data slice for every frame, so a consumer may retain it.
type Frame struct {
	// Seq is monotonically increasing per capture stream, starting at 1.
	Seq uint64

	// Captured is the wall-clock time the read returned.
	Captured time.Time

	// Data holds little-endian int16 samples.
	Data []byte

	// SampleRate in Hz.
	SampleRate int
}

// Samples returns the number of samples in the frame.
func (f Frame) Samples() int { return len(f.Data) / 2 }

// Duration returns the audio duration covered by the frame.
func (f Frame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate)
}

// Format describes a mono PCM16 capture stream.
type Format struct {
	SampleRate int

	// FrameLength is the number of samples per frame.
	FrameLength int
}

// NewFormat builds a Format from a sample rate and a frame period.
func NewFormat(sampleRate int, frame time.Duration) Format {
	return Format{
		SampleRate:  sampleRate,
		FrameLength: int(int64(sampleRate) * int64(frame) / int64(time.Second)),
	}
}

// DefaultFormat returns 16 kHz mono with 30 ms frames.
func DefaultFormat() Format { return NewFormat(DefaultSampleRate, DefaultFrameDuration) }

// FrameDuration returns the period of one frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(f.FrameLength) * int64(time.Second) / int64(f.SampleRate))
}

// FrameBytes returns the byte length of one frame.
func (f Format) FrameBytes() int { return f.FrameLength * 2 }

// Validate reports whether f is usable for capture.
func (f Format) Validate() error {
	supported := false
	for _, r := range SupportedSampleRates {
		if f.SampleRate == r {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("%w: sample rate %d not in %v", ErrInvalidFormat, f.SampleRate, SupportedSampleRates)
	}
	if f.FrameLength <= 0 {
		return fmt.Errorf("%w: frame length must be positive, got %d", ErrInvalidFormat, f.FrameLength)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz mono %s frames", f.SampleRate, f.FrameDuration())
}

// PCMDuration returns the duration of n bytes of mono PCM16 at rate.
func PCMDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n/2) * int64(time.Second) / int64(rate))
}
