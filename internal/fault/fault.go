// Package fault defines the error taxonomy shared by every stage of a
// conversation turn.
//
// Components wrap failures in an [*Error] tagged with a [Kind]; the
// orchestrator inspects the kind with [KindOf] and picks exactly one
// recovery action. Classification works through any amount of fmt.Errorf
// wrapping.
package fault

import (
	"context"
	"errors"
)

// Kind classifies a failure by the recovery it needs.
type Kind int

const (
	// KindUnknown is any error that carries no fault tag.
	KindUnknown Kind = iota

	// KindDevice means the audio input or output device failed.
	KindDevice

	// KindEngineUnavailable means a wake-word, VAD, STT, TTS or response
	// engine could not be reached or failed mid-stream.
	KindEngineUnavailable

	// KindNoUtterance means listening ended without any speech.
	KindNoUtterance

	// KindCancelled means the work was cancelled on purpose. It is not a
	// failure and is never logged as one.
	KindCancelled
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device_error"
	case KindEngineUnavailable:
		return "engine_unavailable"
	case KindNoUtterance:
		return "no_utterance"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	// ErrNoUtterance is wrapped by every [KindNoUtterance] error.
	ErrNoUtterance = errors.New("no utterance captured")

	// ErrCancelled is wrapped by every [KindCancelled] error.
	ErrCancelled = errors.New("cancellation requested")
)

// Error is a classified failure.
type Error struct {
	Kind Kind

	// Stage names the pipeline step that failed, e.g. "capture", "stt".
	Stage string

	// Engine names the engine involved, if any.
	Engine string

	// TurnID identifies the conversation turn, if known.
	TurnID string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Engine != "" {
		msg += " (" + e.Engine + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Device wraps err as a [KindDevice] failure.
func Device(stage string, err error) *Error {
	return &Error{Kind: KindDevice, Stage: stage, Err: err}
}

// EngineUnavailable wraps err as a [KindEngineUnavailable] failure of engine.
func EngineUnavailable(engine string, err error) *Error {
	return &Error{Kind: KindEngineUnavailable, Stage: engine, Engine: engine, Err: err}
}

// NoUtterance returns a [KindNoUtterance] error for stage.
func NoUtterance(stage string) *Error {
	return &Error{Kind: KindNoUtterance, Stage: stage, Err: ErrNoUtterance}
}

// Cancelled returns a [KindCancelled] error for stage.
func Cancelled(stage string) *Error {
	return &Error{Kind: KindCancelled, Stage: stage, Err: ErrCancelled}
}

// WithTurn tags the first [*Error] in err's chain with turnID unless it
// already carries one, and returns err.
func WithTurn(err error, turnID string) error {
	var fe *Error
	if errors.As(err, &fe) && fe.TurnID == "" {
		fe.TurnID = turnID
	}
	return err
}

// KindOf classifies err. context.Canceled counts as cancellation; a nil
// error is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, ErrNoUtterance) {
		return KindNoUtterance
	}
	return KindUnknown
}

// IsCancellation reports whether err is a cancellation.
func IsCancellation(err error) bool { return KindOf(err) == KindCancelled }

// IsKind reports whether err classifies as k.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }
