// Package mock provides a scripted [wakeword.Engine] for tests.
//
// By default the engine triggers on any frame for which Match returns true.
// Use [Marker] to build frames that the default matcher recognises:
//
//	eng := &mock.Engine{Rate: 16000, Length: 480}
//	feed <- mock.Marker(480)  // triggers
//	feed <- make([]byte, 960) // silence, never triggers
package mock

import (
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/wakeword"
)

// markerByte fills frames built by [Marker].
const markerByte = 0x7f

// Marker returns a frame of length samples that the default matcher treats as
// the wake phrase.
func Marker(length int) []byte {
	b := make([]byte, length*2)
	for i := range b {
		b[i] = markerByte
	}
	return b
}

// IsMarker reports whether frame was built by [Marker].
func IsMarker(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	for _, c := range frame {
		if c != markerByte {
			return false
		}
	}
	return true
}

// Engine is a mock implementation of [wakeword.Engine].
type Engine struct {
	mu sync.Mutex

	// Rate and Length are returned by SampleRate and FrameLength.
	Rate   int
	Length int

	// Match decides whether a frame triggers. Defaults to [IsMarker].
	Match func(frame []byte) bool

	// ProcessErr, if non-nil, is returned by every Process call.
	ProcessErr error

	// ProcessCount is the number of Process calls.
	ProcessCount int

	// Triggers is the number of Process calls that reported a detection.
	Triggers int

	// ResetCount and CloseCount record the respective calls.
	ResetCount int
	CloseCount int
}

var _ wakeword.Engine = (*Engine)(nil)

// SampleRate implements [wakeword.Engine].
func (e *Engine) SampleRate() int { return e.Rate }

// FrameLength implements [wakeword.Engine].
func (e *Engine) FrameLength() int { return e.Length }

// Process implements [wakeword.Engine].
func (e *Engine) Process(frame []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ProcessCount++
	if e.ProcessErr != nil {
		return false, e.ProcessErr
	}
	match := e.Match
	if match == nil {
		match = IsMarker
	}
	if match(frame) {
		e.Triggers++
		return true, nil
	}
	return false, nil
}

// Reset implements [wakeword.Engine].
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ResetCount++
	return nil
}

// Close implements [wakeword.Engine].
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCount++
	return nil
}

// Calls returns the number of Process calls and detections so far.
func (e *Engine) Calls() (processed, triggered int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ProcessCount, e.Triggers
}
