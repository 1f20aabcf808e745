// Package remote exposes a network "satellite" (a small board with a
// microphone and speaker) as an [audio.InputDevice] and [audio.OutputDevice].
//
// The satellite connects to [Satellite.ServeHTTP] over WebSocket. Binary
// messages in either direction carry one 20 ms Opus packet of 16 kHz mono
// audio. The server sends the text control message {"type":"halt"} when
// playback is halted so the satellite can flush its jitter buffer.
//
// Only one satellite is served at a time; a new connection replaces the
// previous one.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hearken/pkg/audio"
)

// ErrDisconnected is returned by reads and writes once the satellite that
// backed the stream has gone away.
var ErrDisconnected = errors.New("remote: satellite disconnected")

// controlMessage is the JSON control frame exchanged as a text message.
type controlMessage struct {
	Type string `json:"type"`
}

// Option is a functional option for [New].
type Option func(*Satellite)

// WithInputBuffer sets how many decoded packets are buffered before the
// oldest are dropped. Default: 50 (one second).
func WithInputBuffer(n int) Option {
	return func(s *Satellite) {
		if n > 0 {
			s.inputBuffer = n
		}
	}
}

// WithInsecureSkipVerify disables the WebSocket origin check.
func WithInsecureSkipVerify() Option {
	return func(s *Satellite) { s.insecure = true }
}

// Satellite accepts one remote audio satellite connection.
type Satellite struct {
	inputBuffer int
	insecure    bool

	mu      sync.Mutex
	current *link
	// ready is closed whenever current is non-nil.
	ready chan struct{}
}

// New creates a Satellite endpoint.
func New(opts ...Option) *Satellite {
	s := &Satellite{inputBuffer: 50, ready: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

// link is one accepted satellite connection.
type link struct {
	conn *websocket.Conn
	pcm  chan []byte
	done chan struct{}

	writeMu sync.Mutex
}

func (l *link) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.Write(ctx, typ, data)
}

// Connected reports whether a satellite is currently connected.
func (s *Satellite) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// ServeHTTP upgrades the request and serves the satellite until it
// disconnects.
func (s *Satellite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: s.insecure})
	if err != nil {
		slog.Warn("remote: accept satellite", "err", err)
		return
	}
	defer conn.CloseNow()

	dec, err := newOpusDecoder()
	if err != nil {
		conn.Close(websocket.StatusInternalError, "codec unavailable")
		return
	}

	l := &link{conn: conn, pcm: make(chan []byte, s.inputBuffer), done: make(chan struct{})}
	s.attach(l)
	defer s.detach(l)
	slog.Info("remote: satellite connected", "addr", r.RemoteAddr)

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				slog.Warn("remote: satellite read", "err", err)
			}
			slog.Info("remote: satellite disconnected", "addr", r.RemoteAddr)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		pcm, err := dec.decode(data)
		if err != nil {
			slog.Debug("remote: dropping undecodable packet", "err", err)
			continue
		}
		select {
		case l.pcm <- pcm:
		default:
			// Consumer lagging: drop the oldest packet to keep latency bounded.
			select {
			case <-l.pcm:
			default:
			}
			l.pcm <- pcm
		}
	}
}

func (s *Satellite) attach(l *link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.current; prev != nil {
		close(prev.done)
		prev.conn.Close(websocket.StatusGoingAway, "replaced by new satellite")
	} else {
		close(s.ready)
	}
	s.current = l
}

func (s *Satellite) detach(l *link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != l {
		return
	}
	close(l.done)
	s.current = nil
	s.ready = make(chan struct{})
}

// wait blocks until a satellite is connected.
func (s *Satellite) wait(ctx context.Context) (*link, error) {
	for {
		s.mu.Lock()
		l, ready := s.current, s.ready
		s.mu.Unlock()
		if l != nil {
			return l, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, fmt.Errorf("remote: wait for satellite: %w", ctx.Err())
		}
	}
}

// Input returns the satellite microphone as an [audio.InputDevice].
func (s *Satellite) Input() audio.InputDevice { return input{s} }

// Output returns the satellite speaker as an [audio.OutputDevice].
func (s *Satellite) Output() audio.OutputDevice { return output{s} }

type input struct{ s *Satellite }

func (in input) Open(ctx context.Context, format audio.Format) (audio.Capture, error) {
	if format.SampleRate != opusSampleRate {
		return nil, fmt.Errorf("%w: satellite captures at %d Hz, got %d", audio.ErrInvalidFormat, opusSampleRate, format.SampleRate)
	}
	l, err := in.s.wait(ctx)
	if err != nil {
		return nil, err
	}
	return &capture{link: l, reframer: audio.NewReframer(format.FrameLength), closed: make(chan struct{})}, nil
}

type capture struct {
	link     *link
	reframer *audio.Reframer
	pending  [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *capture) Read() ([]byte, error) {
	for len(c.pending) == 0 {
		select {
		case pcm := <-c.link.pcm:
			c.pending = c.reframer.Push(pcm)
		case <-c.link.done:
			return nil, ErrDisconnected
		case <-c.closed:
			return nil, audio.ErrClosed
		}
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, nil
}

func (c *capture) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type output struct{ s *Satellite }

func (out output) Open(ctx context.Context, sampleRate int) (audio.Playback, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: output sample rate %d", audio.ErrInvalidFormat, sampleRate)
	}
	l, err := out.s.wait(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	return &playback{link: l, enc: enc, rate: sampleRate, halt: make(chan struct{})}, nil
}

type playback struct {
	link *link
	rate int

	// enc is used only by the goroutine holding writeMu.
	writeMu sync.Mutex
	enc     *opusEncoder

	mu   sync.Mutex
	halt chan struct{}
}

// Write encodes pcm into 20 ms packets and paces them in real time so the
// call returns roughly when the satellite has played the audio.
func (p *playback) Write(ctx context.Context, pcm []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	halt := p.halt
	p.mu.Unlock()

	pcm = audio.ResampleMono16(pcm, p.rate, opusSampleRate)
	frameBytes := opusFrameSize * 2
	start := time.Now()
	for i, off := 0, 0; off < len(pcm); i, off = i+1, off+frameBytes {
		end := min(off+frameBytes, len(pcm))
		packet, err := p.enc.encode(pcm[off:end])
		if err != nil {
			return err
		}
		if err := p.link.write(ctx, websocket.MessageBinary, packet); err != nil {
			return fmt.Errorf("remote: write packet: %w", err)
		}

		due := start.Add(time.Duration(i+1) * opusFrameSizeMs * time.Millisecond)
		timer := time.NewTimer(time.Until(due))
		select {
		case <-timer.C:
		case <-halt:
			timer.Stop()
			return audio.ErrHalted
		case <-p.link.done:
			timer.Stop()
			return ErrDisconnected
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return nil
}

func (p *playback) Halt() {
	p.mu.Lock()
	close(p.halt)
	p.halt = make(chan struct{})
	p.mu.Unlock()

	msg, _ := json.Marshal(controlMessage{Type: "halt"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.link.write(ctx, websocket.MessageText, msg); err != nil {
		slog.Debug("remote: send halt", "err", err)
	}
}

func (p *playback) Close() error { return nil }
