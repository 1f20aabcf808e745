// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a streaming transcription service (e.g., Deepgram or a
// local Whisper server) and exposes a uniform interface. The central
// abstraction is SessionHandle: once opened, a session accepts raw PCM audio
// frames and emits two streams of Transcript values: low-latency partials for
// responsiveness and committed finals.
//
// A session has an explicit end of input. Finish tells the provider that no
// more audio will follow; the provider flushes what it has, emits its last
// finals and closes both channels. Providers that only transcribe complete
// clips (Whisper) do all their work at Finish.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed is returned by SendAudio and Finish after the session ended.
var ErrSessionClosed = errors.New("stt: session closed")

// Transcript is one recognition result. Partials and finals share the type;
// IsFinal tells them apart.
type Transcript struct {
	Text    string
	IsFinal bool

	// Confidence is in [0, 1]. Zero when the engine does not report one.
	Confidence float64

	// Offset is where the segment starts, measured from the first byte sent
	// to the session.
	Offset time.Duration

	Duration time.Duration
}

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider supports;
// see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Hearken captures at 16000 by
	// default.
	SampleRate int

	// Channels is the number of audio channels. Hearken always sends mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "de-DE").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords is a list of vocabulary hints (wake phrases, command words) that
	// increase recognition probability. Providers without keyword support
	// ignore it.
	Keywords []string
}

// SessionHandle represents an open STT streaming session. It is an interface so
// that test code can provide mock implementations without requiring a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do so
// may leak goroutines and network connections inside the provider implementation.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk should match the SampleRate and Channels agreed
	// in StreamConfig. SendAudio must not block on the network for longer than
	// a frame period. Calling SendAudio after Finish or Close returns
	// ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Finish signals the end of input. The provider flushes buffered audio,
	// emits its remaining finals and then closes Partials and Finals. Finish
	// does not wait for that to happen.
	Finish() error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values as the provider makes preliminary guesses.
	// The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values once the provider has committed to a recognition result.
	// The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Err returns the error that ended the session, or nil when the session
	// ended normally or is still running. It is meaningful once Finals is
	// closed.
	Err() error

	// Close terminates the session immediately and releases all associated
	// resources without waiting for pending results. It must not block on the
	// provider. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// StartStream opens a new streaming transcription session with the given audio
	// format and recognition configuration. The returned SessionHandle is ready to
	// accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already cancelled).
	// The caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
