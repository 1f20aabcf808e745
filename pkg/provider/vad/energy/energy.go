// Package energy implements a pure-Go [vad.Engine] based on RMS energy with
// hysteresis.
//
// It needs no model files and works at any sample rate, which makes it the
// default engine and the fallback when a model-based engine cannot load.
// Aggressiveness selects the energy threshold and how many consecutive loud
// frames are needed before speech is reported:
//
//	level  speech RMS  frames to start
//	0      0.005       1
//	1      0.010       1
//	2      0.020       2
//	3      0.040       3
//
// Thresholds are normalised RMS (full scale = 1). An explicit
// SpeechThreshold in [vad.Config] overrides the table.
package energy

import (
	"fmt"
	"sync"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// silenceRatio is the silence threshold as a fraction of the speech threshold
// when none is configured.
const silenceRatio = 0.6

var levels = [4]struct {
	threshold float64
	frames    int
}{
	{0.005, 1},
	{0.010, 1},
	{0.020, 2},
	{0.040, 3},
}

// Engine creates energy VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns an energy Engine.
func New() Engine { return Engine{} }

// NewSession implements [vad.Engine].
func (Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lvl := levels[cfg.Aggressiveness]
	speech := cfg.SpeechThreshold
	if speech == 0 {
		speech = lvl.threshold
	}
	silence := cfg.SilenceThreshold
	if silence == 0 {
		silence = speech * silenceRatio
	}
	return &session{
		frameBytes:    cfg.FrameBytes(),
		speech:        speech,
		silence:       silence,
		framesToStart: lvl.frames,
	}, nil
}

type session struct {
	frameBytes    int
	speech        float64
	silence       float64
	framesToStart int

	mu       sync.Mutex
	inSpeech bool
	loud     int
	closed   bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("energy vad: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	level := audio.RMS(frame)
	prob := min(1, level/(2*s.speech))

	if s.inSpeech {
		if level < s.silence {
			s.inSpeech = false
			s.loud = 0
			return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: prob}, nil
		}
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: prob}, nil
	}

	if level >= s.speech {
		s.loud++
		if s.loud >= s.framesToStart {
			s.inSpeech = true
			s.loud = 0
			return vad.VADEvent{Type: vad.VADSpeechStart, Probability: prob}, nil
		}
	} else {
		s.loud = 0
	}
	return vad.VADEvent{Type: vad.VADSilence, Probability: prob}, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.loud = 0
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
