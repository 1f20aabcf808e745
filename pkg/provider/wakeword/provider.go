// Package wakeword defines the Engine interface for wake-phrase detection
// backends.
//
// A wake-word engine is a streaming keyword spotter: it consumes fixed-length
// PCM frames and reports when the configured phrase has just been heard.
// Engines are opaque classifiers; Hearken never inspects model internals.
//
// An engine declares the exact audio format it needs through SampleRate and
// FrameLength. Callers validate the capture format against these values once,
// at construction time, so Process never has to report format errors for
// well-formed input.
//
// A single Engine is not required to be safe for concurrent use. The
// detection loop feeds it from one goroutine at a time.
package wakeword

import "errors"

// ErrClosed is returned by Process after Close.
var ErrClosed = errors.New("wakeword: engine closed")

// Engine is a streaming wake-phrase detector.
type Engine interface {
	// SampleRate returns the sample rate in Hz the engine requires.
	SampleRate() int

	// FrameLength returns the number of samples the engine expects per
	// Process call.
	FrameLength() int

	// Process analyses one frame of mono PCM16LE audio and reports whether
	// the wake phrase was detected at this frame. It must not block on
	// network or disk I/O.
	Process(frame []byte) (bool, error)

	// Reset clears accumulated detection state so that audio preceding the
	// call cannot contribute to a later detection.
	Reset() error

	// Close releases engine resources. Calling Close more than once is safe.
	Close() error
}
