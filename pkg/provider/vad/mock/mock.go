// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script per-frame results and inspect the frames that were
// submitted for processing. By default a Session treats any frame containing
// a non-zero byte as speech, so tests can build utterances from [Speech] and
// [Silence] frames:
//
//	eng := &mock.Engine{}
//	handle, _ := eng.NewSession(cfg)
//	ev, _ := handle.ProcessFrame(mock.Speech(480)) // VADSpeechStart
package mock

import (
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// Speech returns a frame of length samples that the default classifier treats
// as speech.
func Speech(length int) []byte {
	b := make([]byte, length*2)
	for i := 0; i < len(b); i += 2 {
		b[i] = 0x10
	}
	return b
}

// Silence returns an all-zero frame of length samples.
func Silence(length int) []byte { return make([]byte, length*2) }

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Classify, if set, decides whether a frame is speech. Defaults to "any
	// non-zero byte".
	Classify func(frame []byte) bool

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ProcessFrameCount is the number of ProcessFrame calls.
	ProcessFrameCount int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	inSpeech bool
}

// ProcessFrame records the call and classifies frame. It reports
// VADSpeechStart and VADSpeechEnd on transitions.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessFrameCount++
	if s.ProcessFrameErr != nil {
		return vad.VADEvent{}, s.ProcessFrameErr
	}
	classify := s.Classify
	if classify == nil {
		classify = nonZero
	}
	speech := classify(frame)
	var ev vad.VADEvent
	switch {
	case speech && !s.inSpeech:
		ev = vad.VADEvent{Type: vad.VADSpeechStart, Probability: 1}
	case speech:
		ev = vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 1}
	case s.inSpeech:
		ev = vad.VADEvent{Type: vad.VADSpeechEnd}
	default:
		ev = vad.VADEvent{Type: vad.VADSilence}
	}
	s.inSpeech = speech
	return ev, nil
}

// Reset records the call and clears the speech state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.inSpeech = false
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Calls returns the number of ProcessFrame and Reset calls. Thread-safe.
func (s *Session) Calls() (processed, resets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ProcessFrameCount, s.ResetCallCount
}

func nonZero(frame []byte) bool {
	for _, b := range frame {
		if b != 0 {
			return true
		}
	}
	return false
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
