// Package endpoint decides where a spoken utterance begins and ends.
//
// An [Endpointer] classifies every frame as speech or silence through a VAD
// session and tracks boundaries:
//
//   - utterance start fires on the first speech frame after [Endpointer.Reset];
//   - utterance end fires once trailing silence reaches the silence hangover,
//     or the utterance reaches the maximum duration, whichever comes first;
//   - if no speech frame arrives within the no-speech timeout after Reset,
//     [EventNoUtterance] fires instead.
//
// Durations are derived from frame counts and the frame period, never from
// the wall clock, so identical input always yields identical boundaries.
//
// An Endpointer is owned by one goroutine and is not safe for concurrent use.
package endpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// Class is the per-frame classification.
type Class int

const (
	Silence Class = iota
	Speech
)

func (c Class) String() string {
	if c == Speech {
		return "speech"
	}
	return "silence"
}

// EventType is the boundary reported by [Endpointer.Process].
type EventType int

const (
	// EventNone means no boundary at this frame.
	EventNone EventType = iota

	// EventStart means an utterance opened at this frame.
	EventStart

	// EventEnd means the open utterance was closed at this frame.
	EventEnd

	// EventNoUtterance means the no-speech timeout elapsed without speech.
	EventNoUtterance
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "utterance_start"
	case EventEnd:
		return "utterance_end"
	case EventNoUtterance:
		return "no_utterance"
	default:
		return "none"
	}
}

// EndReason says why an utterance closed.
type EndReason int

const (
	// EndSilence means trailing silence reached the hangover.
	EndSilence EndReason = iota + 1

	// EndMaxDuration means the utterance hit the hard cap.
	EndMaxDuration
)

func (r EndReason) String() string {
	switch r {
	case EndSilence:
		return "silence"
	case EndMaxDuration:
		return "max_duration"
	default:
		return "open"
	}
}

// Event is the result of processing one frame.
type Event struct {
	Type EventType

	// Utterance is set for EventStart and EventEnd.
	Utterance *Utterance
}

// Config parameterises an [Endpointer].
type Config struct {
	// FrameDuration is the capture frame period.
	FrameDuration time.Duration

	// SilenceHangover is the trailing silence that ends an utterance.
	SilenceHangover time.Duration

	// MaxUtterance caps the utterance length, measured from the start frame.
	// It must cover at least two frames; a partial trailing frame is not
	// counted.
	MaxUtterance time.Duration

	// NoSpeechTimeout bounds how long to wait for speech after Reset.
	// Zero waits forever.
	NoSpeechTimeout time.Duration

	// PreRoll is how much audio preceding the start frame is kept and
	// prepended to the utterance. Zero disables pre-roll.
	PreRoll time.Duration
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("endpoint: frame duration must be positive, got %v", c.FrameDuration))
	}
	if c.SilenceHangover < c.FrameDuration {
		errs = append(errs, fmt.Errorf("endpoint: silence hangover %v is shorter than one frame", c.SilenceHangover))
	}
	if c.MaxUtterance < c.SilenceHangover {
		errs = append(errs, fmt.Errorf("endpoint: max utterance %v is shorter than the silence hangover %v", c.MaxUtterance, c.SilenceHangover))
	}
	if c.FrameDuration > 0 && c.MaxUtterance < 2*c.FrameDuration {
		errs = append(errs, fmt.Errorf("endpoint: max utterance %v is shorter than two frames", c.MaxUtterance))
	}
	if c.NoSpeechTimeout < 0 || c.PreRoll < 0 {
		errs = append(errs, errors.New("endpoint: timeouts must not be negative"))
	}
	return errors.Join(errs...)
}

// frames converts d into a whole number of frames, rounding up.
func (c Config) frames(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + c.FrameDuration - 1) / c.FrameDuration)
}

// Utterance is the audio between a start and an end boundary. It is frozen
// once the end boundary fires and is never modified afterwards.
type Utterance struct {
	// PreRoll is the PCM that preceded the start frame.
	PreRoll []byte

	// Frames are the frames from the start frame up to and including the end
	// frame.
	Frames []audio.Frame

	// Reason is zero while the utterance is open.
	Reason EndReason

	frameDur time.Duration
}

// Frozen reports whether the utterance has ended.
func (u *Utterance) Frozen() bool { return u.Reason != 0 }

// Duration returns the length of Frames, excluding pre-roll.
func (u *Utterance) Duration() time.Duration { return time.Duration(len(u.Frames)) * u.frameDur }

// PCM returns pre-roll and frame audio concatenated.
func (u *Utterance) PCM() []byte {
	n := len(u.PreRoll)
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	out = append(out, u.PreRoll...)
	for _, f := range u.Frames {
		out = append(out, f.Data...)
	}
	return out
}

// Endpointer tracks utterance boundaries over a frame stream.
type Endpointer struct {
	cfg      Config
	vad      vad.SessionHandle
	hangover int
	maxLen   int
	timeout  int

	preRoll *ringbuffer.RingBuffer

	// per-listen state
	seen     int
	trailing int
	utt      *Utterance
	idle     bool
}

// New creates an Endpointer over a VAD session. The Endpointer does not own
// the session.
func New(sess vad.SessionHandle, cfg Config) (*Endpointer, error) {
	if sess == nil {
		return nil, errors.New("endpoint: vad session is required")
	}
	e := &Endpointer{vad: sess}
	if err := e.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Reconfigure replaces the configuration and resets the Endpointer.
func (e *Endpointer) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	e.hangover = cfg.frames(cfg.SilenceHangover)
	// Rounded down so the ceiling is never overshot.
	e.maxLen = int(cfg.MaxUtterance / cfg.FrameDuration)
	e.timeout = cfg.frames(cfg.NoSpeechTimeout)
	e.preRoll = nil
	e.Reset()
	return nil
}

// Config returns the active configuration.
func (e *Endpointer) Config() Config { return e.cfg }

// Reset discards any open utterance and starts a new listening window. The
// no-speech timeout counts from here.
func (e *Endpointer) Reset() {
	e.seen = 0
	e.trailing = 0
	e.utt = nil
	e.idle = false
	e.vad.Reset()
	if e.preRoll != nil {
		e.preRoll.Reset()
	}
}

// Idle reports whether the Endpointer has emitted EventEnd or
// EventNoUtterance since the last Reset.
func (e *Endpointer) Idle() bool { return e.idle }

// Utterance returns the current or last utterance, or nil.
func (e *Endpointer) Utterance() *Utterance { return e.utt }

// Classify runs the VAD on one frame.
func (e *Endpointer) Classify(frame audio.Frame) (Class, error) {
	ev, err := e.vad.ProcessFrame(frame.Data)
	if err != nil {
		return Silence, fmt.Errorf("endpoint: classify frame %d: %w", frame.Seq, err)
	}
	if ev.IsSpeech() {
		return Speech, nil
	}
	return Silence, nil
}

// Process classifies frame and advances the boundary tracker. Once idle it
// returns EventNone without consuming the frame.
func (e *Endpointer) Process(frame audio.Frame) (Event, error) {
	if e.idle {
		return Event{}, nil
	}
	class, err := e.Classify(frame)
	if err != nil {
		return Event{}, err
	}
	e.seen++

	if e.utt == nil {
		if class == Speech {
			e.utt = &Utterance{PreRoll: e.drainPreRoll(), Frames: []audio.Frame{frame}, frameDur: e.cfg.FrameDuration}
			e.trailing = 0
			return Event{Type: EventStart, Utterance: e.utt}, nil
		}
		e.pushPreRoll(frame.Data)
		if e.timeout > 0 && e.seen >= e.timeout {
			e.idle = true
			return Event{Type: EventNoUtterance}, nil
		}
		return Event{}, nil
	}

	e.utt.Frames = append(e.utt.Frames, frame)
	if class == Speech {
		e.trailing = 0
	} else {
		e.trailing++
	}

	switch {
	case e.trailing >= e.hangover:
		return e.end(EndSilence), nil
	case len(e.utt.Frames) >= e.maxLen:
		return e.end(EndMaxDuration), nil
	}
	return Event{}, nil
}

func (e *Endpointer) end(reason EndReason) Event {
	e.utt.Reason = reason
	e.idle = true
	return Event{Type: EventEnd, Utterance: e.utt}
}

func (e *Endpointer) pushPreRoll(pcm []byte) {
	if e.cfg.PreRoll <= 0 {
		return
	}
	if e.preRoll == nil {
		size := e.cfg.frames(e.cfg.PreRoll) * len(pcm)
		if size == 0 {
			return
		}
		e.preRoll = ringbuffer.New(size).SetBlocking(false)
	}
	// Drop the oldest bytes to make room.
	if over := len(pcm) - e.preRoll.Free(); over > 0 {
		discard := make([]byte, over)
		_, _ = e.preRoll.Read(discard)
	}
	_, _ = e.preRoll.Write(pcm)
}

func (e *Endpointer) drainPreRoll() []byte {
	if e.preRoll == nil || e.preRoll.IsEmpty() {
		return nil
	}
	out := e.preRoll.Bytes(nil)
	e.preRoll.Reset()
	return out
}
