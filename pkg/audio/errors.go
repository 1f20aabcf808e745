package audio

import "errors"

var (
	// ErrHalted is returned by [Playback.Write] when playback was halted.
	ErrHalted = errors.New("audio: playback halted")

	// ErrClosed is returned by device streams used after Close.
	ErrClosed = errors.New("audio: stream closed")
)
