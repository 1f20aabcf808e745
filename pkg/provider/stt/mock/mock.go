// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Transcript values and inspect
// which audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	sess.FinishFinals = []stt.Transcript{{Text: "hello", IsFinal: true}}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil, StartStream
	// returns a new default Session from [NewSession].
	Session stt.SessionHandle

	// NewSessionFunc, if set, builds the session for each call instead of
	// Session.
	NewSessionFunc func(cfg stt.StreamConfig) stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// Block makes StartStream block until its context is done, like a dial
	// that never completes.
	Block bool

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})
	if p.Block {
		p.mu.Unlock()
		<-ctx.Done()
		p.mu.Lock()
		return nil, ctx.Err()
	}
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.NewSessionFunc != nil {
		return p.NewSessionFunc(cfg), nil
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Calls returns the number of StartStream calls. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
//
// Tests may send on PartialsCh and FinalsCh directly while the session is
// open. Finish sends FinishFinals, records FailWith as the session error and
// closes both channels. Close closes them without sending anything.
type Session struct {
	mu sync.Mutex

	// PartialsCh is the channel returned by Partials().
	PartialsCh chan stt.Transcript

	// FinalsCh is the channel returned by Finals().
	FinalsCh chan stt.Transcript

	// FinishFinals are emitted on FinalsCh when Finish is called.
	FinishFinals []stt.Transcript

	// FailWith, if non-nil, becomes the session error reported by Err once the
	// session ends through Finish.
	FailWith error

	// HoldFinish, if true, makes Finish record the call without ending the
	// session, mimicking an engine that never answers.
	HoldFinish bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// FinishCallCount is the number of times Finish was called.
	FinishCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	ended bool
	err   error
}

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return stt.ErrSessionClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

// Finish records the call, emits FinishFinals and ends the session.
func (s *Session) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishCallCount++
	if s.ended {
		return stt.ErrSessionClosed
	}
	if s.HoldFinish {
		return nil
	}
	for _, tr := range s.FinishFinals {
		s.FinalsCh <- tr
	}
	s.err = s.FailWith
	s.endLocked()
	return nil
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

// Err returns the session error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fail ends the session with err as if the engine had died mid-stream.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.err = err
	s.endLocked()
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Closed reports whether Close has been called. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.ended {
		s.endLocked()
	}
	return s.CloseErr
}

func (s *Session) endLocked() {
	s.ended = true
	if s.PartialsCh != nil {
		close(s.PartialsCh)
	}
	if s.FinalsCh != nil {
		close(s.FinalsCh)
	}
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
