// Package transcribe turns one utterance of captured audio into text through
// a streaming STT session.
//
// A [Stream] accepts frames in capture order without ever blocking the
// caller, reports interim results while the user is still speaking and ends
// with exactly one final result once the engine has flushed. Engine failures
// are classified as [fault.KindEngineUnavailable], never as silence.
package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hearken/internal/fault"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

const (
	// DefaultFinalTimeout bounds how long Await waits for the engine to
	// deliver its final result.
	DefaultFinalTimeout = 5 * time.Second

	// DefaultOpenTimeout bounds how long Open waits for the engine to accept
	// a session.
	DefaultOpenTimeout = 10 * time.Second

	defaultFrameBuffer  = 256
	defaultResultBuffer = 16

	stage = "stt"
)

// ErrFinished is returned by Send after Finish or Close.
var ErrFinished = errors.New("transcribe: stream finished")

// Result is one transcription hypothesis.
type Result struct {
	// Text is the full utterance text known so far.
	Text string

	// Final is set on the last result of a stream.
	Final bool

	// Confidence is the engine's confidence for the newest segment, when
	// reported.
	Confidence float64
}

// Option configures a [Stream].
type Option func(*Stream)

// WithFinalTimeout overrides [DefaultFinalTimeout].
func WithFinalTimeout(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.finalTimeout = d
		}
	}
}

// WithOpenTimeout overrides [DefaultOpenTimeout].
func WithOpenTimeout(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.openTimeout = d
		}
	}
}

// WithFrameBuffer sets how many frames may queue between Send and the
// engine before new frames are dropped.
func WithFrameBuffer(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.frames = make(chan []byte, n)
		}
	}
}

// WithLogger sets the logger used for dropped frames and timeouts.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stream) { s.log = l }
}

// Stream is one open transcription session.
type Stream struct {
	sess         stt.SessionHandle
	cancel       context.CancelFunc
	finalTimeout time.Duration
	openTimeout  time.Duration
	log          *slog.Logger

	frames  chan []byte
	results chan Result
	finish  chan struct{}
	done    chan struct{}

	finishOnce sync.Once
	closeOnce  sync.Once
	dropped    atomic.Int64

	mu        sync.Mutex
	finished  bool
	closed    bool
	err       error
	committed []string
	latest    string
}

// Open starts a session on provider. A provider that cannot be reached, or
// does not accept the session within the open timeout, yields a
// [fault.KindEngineUnavailable] error.
func Open(ctx context.Context, provider stt.Provider, cfg stt.StreamConfig, opts ...Option) (*Stream, error) {
	s := &Stream{
		finalTimeout: DefaultFinalTimeout,
		openTimeout:  DefaultOpenTimeout,
		log:          slog.Default(),
		frames:       make(chan []byte, defaultFrameBuffer),
		results:      make(chan Result, defaultResultBuffer),
		finish:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	sess, cancel, err := s.start(ctx, provider, cfg)
	if err != nil {
		return nil, err
	}
	s.sess = sess
	s.cancel = cancel

	go s.forward()
	go s.read()
	return s, nil
}

type started struct {
	sess stt.SessionHandle
	err  error
}

// start races StartStream against the open timeout. The session runs under
// its own context, which lives until Close, since engines tie the session
// lifetime to the context they were started with.
func (s *Stream) start(ctx context.Context, provider stt.Provider, cfg stt.StreamConfig) (stt.SessionHandle, context.CancelFunc, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	ch := make(chan started, 1)
	go func() {
		sess, err := provider.StartStream(sessCtx, cfg)
		ch <- started{sess, err}
	}()

	timer := time.NewTimer(s.openTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			cancel()
			if ctx.Err() != nil {
				return nil, nil, fault.Cancelled(stage)
			}
			return nil, nil, fault.EngineUnavailable(stage, r.err)
		}
		return r.sess, cancel, nil
	case <-timer.C:
		s.log.Warn("transcribe: engine did not accept the session in time", "timeout", s.openTimeout)
	case <-ctx.Done():
	}

	cancel()
	// A session that shows up late is released.
	go func() {
		if r := <-ch; r.sess != nil {
			_ = r.sess.Close()
		}
	}()
	if ctx.Err() != nil {
		return nil, nil, fault.Cancelled(stage)
	}
	return nil, nil, fault.EngineUnavailable(stage, context.DeadlineExceeded)
}

// Send queues one frame for the engine. It never blocks; when the queue is
// full the frame is dropped and counted.
func (s *Stream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.closed {
		return ErrFinished
	}
	select {
	case s.frames <- frame:
	default:
		if s.dropped.Add(1) == 1 {
			s.log.Warn("transcribe: frame queue full, dropping audio")
		}
	}
	return nil
}

// Finish marks the end of input. The engine is asked to flush once every
// queued frame was delivered.
func (s *Stream) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.finished = true
	s.finishOnce.Do(func() { close(s.finish) })
}

// Results returns the ordered result sequence. It is closed after the final
// result, after a failure or after Close.
func (s *Stream) Results() <-chan Result { return s.results }

// Err returns the engine failure that ended the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns the number of frames discarded because the queue was full.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Await finishes the input if needed and waits for the final result,
// discarding interims. When the engine stays silent past the final-result
// timeout the text accumulated so far is returned as final.
func (s *Stream) Await(ctx context.Context) (Result, error) {
	s.Finish()

	timer := time.NewTimer(s.finalTimeout)
	defer timer.Stop()

	var last Result
	for {
		select {
		case r, ok := <-s.results:
			if !ok {
				if err := s.Err(); err != nil {
					return Result{}, err
				}
				return Result{}, fault.Cancelled(stage)
			}
			if r.Final {
				return r, nil
			}
			last = r
		case <-timer.C:
			s.log.Warn("transcribe: final result timed out, using accumulated text",
				"timeout", s.finalTimeout)
			text := last.Text
			if text == "" {
				text = s.accumulated("")
			}
			s.Close()
			return Result{Text: text, Final: true, Confidence: last.Confidence}, nil
		case <-ctx.Done():
			s.Close()
			return Result{}, fault.Cancelled(stage)
		}
	}
}

// Close abandons the stream without waiting for the engine. Queued frames
// are dropped. It is safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		_ = s.sess.Close()
		s.cancel()
	})
}

// forward delivers queued frames to the engine in order.
func (s *Stream) forward() {
	for {
		select {
		case f := <-s.frames:
			if !s.sendAudio(f) {
				return
			}
		case <-s.finish:
		drain:
			for {
				select {
				case f := <-s.frames:
					if !s.sendAudio(f) {
						return
					}
				case <-s.done:
					return
				default:
					break drain
				}
			}
			if err := s.sess.Finish(); err != nil && !errors.Is(err, stt.ErrSessionClosed) {
				s.fail(err)
			}
			return
		case <-s.done:
			return
		}
	}
}

func (s *Stream) sendAudio(f []byte) bool {
	err := s.sess.SendAudio(f)
	if err == nil {
		return true
	}
	if errors.Is(err, stt.ErrSessionClosed) {
		// The reader reports why the session ended.
		return false
	}
	s.fail(err)
	return false
}

// fail records err and tears the engine session down so the reader ends.
func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil && !s.closed {
		s.err = fault.EngineUnavailable(stage, err)
	}
	s.mu.Unlock()
	_ = s.sess.Close()
}

// read turns engine transcripts into results.
func (s *Stream) read() {
	defer close(s.results)

	partials := s.sess.Partials()
	finals := s.sess.Finals()
	var conf float64
	for {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if strings.TrimSpace(t.Text) == "" {
				continue
			}
			s.interim(Result{Text: s.accumulated(t.Text), Confidence: t.Confidence})
		case t, ok := <-finals:
			if !ok {
				s.end(conf)
				return
			}
			conf = t.Confidence
			text := s.commit(t.Text)
			s.interim(Result{Text: text, Confidence: t.Confidence})
		case <-s.done:
			return
		}
	}
}

// end emits the final result unless the session failed or was closed.
func (s *Stream) end(conf float64) {
	s.mu.Lock()
	if s.err == nil {
		if err := s.sess.Err(); err != nil && !s.closed {
			s.err = fault.EngineUnavailable(stage, err)
		}
	}
	failed := s.err != nil || s.closed
	text := strings.Join(s.committed, " ")
	s.mu.Unlock()
	if failed {
		return
	}
	select {
	case s.results <- Result{Text: text, Final: true, Confidence: conf}:
	case <-s.done:
	}
}

// interim publishes r without blocking. When nobody reads, the oldest
// queued interim makes room.
func (s *Stream) interim(r Result) {
	s.mu.Lock()
	s.latest = r.Text
	s.mu.Unlock()
	for {
		select {
		case s.results <- r:
			return
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.results:
		default:
		}
	}
}

// commit appends a final segment and returns the joined text.
func (s *Stream) commit(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text = strings.TrimSpace(text); text != "" {
		s.committed = append(s.committed, text)
	}
	return strings.Join(s.committed, " ")
}

// accumulated returns the committed text followed by partial.
func (s *Stream) accumulated(partial string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := s.committed
	if partial = strings.TrimSpace(partial); partial != "" {
		parts = append(parts[:len(parts):len(parts)], partial)
	} else if len(parts) == 0 && s.latest != "" {
		return s.latest
	}
	return strings.Join(parts, " ")
}
