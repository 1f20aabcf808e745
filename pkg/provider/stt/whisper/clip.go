package whisper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// errQueueFull is returned by SendAudio when the session cannot keep up with
// incoming audio.
var errQueueFull = errors.New("whisper: audio queue full")

// inferFunc transcribes one complete clip of 16-bit PCM.
type inferFunc func(ctx context.Context, pcm []byte) (string, error)

// clipSession buffers audio until Finish and transcribes the whole clip in one
// request. A buffer that grows past maxBufferBytes is transcribed early and
// surfaced as its own final. It is shared by the HTTP and native providers.
type clipSession struct {
	infer          inferFunc
	sampleRate     int
	channels       int
	maxBufferBytes int

	ctx    context.Context
	cancel context.CancelFunc

	audioCh  chan []byte
	finish   chan struct{}
	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu         sync.Mutex
	finished   bool
	closed     bool
	err        error
	finishOnce sync.Once
	closeOnce  sync.Once
}

var _ stt.SessionHandle = (*clipSession)(nil)

func newClipSession(ctx context.Context, infer inferFunc, sampleRate, channels, maxBufferMs int) *clipSession {
	ctx, cancel := context.WithCancel(ctx)
	bytesPerMs := sampleRate * channels * 2 / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	s := &clipSession{
		infer:          infer,
		sampleRate:     sampleRate,
		channels:       channels,
		maxBufferBytes: maxBufferMs * bytesPerMs,
		ctx:            ctx,
		cancel:         cancel,
		audioCh:        make(chan []byte, 512),
		finish:         make(chan struct{}),
		partials:       make(chan stt.Transcript, 16),
		finals:         make(chan stt.Transcript, 16),
	}
	go s.processLoop()
	return s
}

// SendAudio queues a chunk of raw 16-bit little-endian signed PCM audio.
func (s *clipSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || s.closed {
		return stt.ErrSessionClosed
	}
	select {
	case s.audioCh <- chunk:
		return nil
	default:
		return errQueueFull
	}
}

// Finish stops accepting audio; the buffered clip is transcribed and the
// channels close afterwards.
func (s *clipSession) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	s.finished = true
	s.finishOnce.Do(func() { close(s.finish) })
	return nil
}

// Partials emits a copy of every final. whisper.cpp has no interim results.
func (s *clipSession) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the channel of committed transcripts.
func (s *clipSession) Finals() <-chan stt.Transcript { return s.finals }

// Err returns the inference error that ended the session, if any.
func (s *clipSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the session. A running HTTP inference is cancelled.
func (s *clipSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
	})
	return nil
}

func (s *clipSession) processLoop() {
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer []byte
		offset int // bytes already transcribed
	)

	flush := func() bool {
		if len(buffer) == 0 {
			return true
		}
		pcm := buffer
		buffer = nil
		start := offset
		offset += len(pcm)

		text, err := s.infer(s.ctx, pcm)
		if err != nil {
			s.fail(err)
			return false
		}
		if text == "" {
			return true
		}
		t := stt.Transcript{
			Text:     text,
			Offset:   audio.PCMDuration(start/(2*s.channels), s.sampleRate),
			Duration: audio.PCMDuration(len(pcm)/(2*s.channels), s.sampleRate),
		}
		partial := t
		final := t
		final.IsFinal = true
		select {
		case s.partials <- partial:
		default:
		}
		select {
		case s.finals <- final:
			return true
		case <-s.ctx.Done():
			return false
		}
	}

	for {
		select {
		case chunk := <-s.audioCh:
			buffer = append(buffer, chunk...)
			if s.maxBufferBytes > 0 && len(buffer) >= s.maxBufferBytes {
				if !flush() {
					return
				}
			}
		case <-s.finish:
		drain:
			for {
				select {
				case chunk := <-s.audioCh:
					buffer = append(buffer, chunk...)
				default:
					break drain
				}
			}
			flush()
			return
		case <-s.ctx.Done():
			s.fail(fmt.Errorf("whisper: session ended: %w", s.ctx.Err()))
			return
		}
	}
}

// fail records err unless the session was closed by its owner.
func (s *clipSession) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.err != nil {
		return
	}
	s.err = err
}
