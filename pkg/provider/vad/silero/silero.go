// Package silero implements [vad.Engine] on the Silero VAD ONNX model through
// github.com/streamer45/silero-vad-go.
//
// Silero scores fixed windows of 512 samples (256 at 8 kHz). Capture frames
// rarely align with that, so each session buffers samples across frames and
// reports the speech state as of the most recent full window.
//
// The package links against onnxruntime through cgo.
package silero

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/vad"
)

// thresholds maps aggressiveness to a Silero speech probability.
var thresholds = [4]float64{0.35, 0.5, 0.6, 0.75}

// Engine creates Silero sessions. Each session loads its own detector.
type Engine struct {
	modelPath string
}

var _ vad.Engine = (*Engine)(nil)

// New returns an Engine loading the model at modelPath.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero vad: model path is required")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession implements [vad.Engine]. Only 8000 and 16000 Hz are supported.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = thresholds[cfg.Aggressiveness]
	}
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  e.modelPath,
		SampleRate: cfg.SampleRate,
		Threshold:  float32(threshold),
		// Hangover is applied by the endpointer; report the end immediately.
		MinSilenceDurationMs: 0,
		LogLevel:             speech.LogLevelWarn,
	})
	if err != nil {
		return nil, fmt.Errorf("silero vad: create detector: %w", err)
	}
	window := 512
	if cfg.SampleRate == 8000 {
		window = 256
	}
	return &session{det: det, window: window, frameBytes: cfg.FrameBytes()}, nil
}

type session struct {
	det        *speech.Detector
	window     int
	frameBytes int

	mu       sync.Mutex
	buf      []float32
	inSpeech bool
	closed   bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("silero vad: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("silero vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	was := s.inSpeech
	s.buf = append(s.buf, audio.BytesToFloat32(frame)...)

	// Detect only scores windows that start strictly before len-window, so
	// hand it n full windows plus one lookahead sample.
	if n := (len(s.buf) - 1) / s.window; n > 0 {
		segs, err := s.det.Detect(s.buf[:n*s.window+1])
		switch {
		case err != nil && strings.Contains(err.Error(), "unexpected speech end"):
			// Speech began in an earlier call and ended in this one.
			s.inSpeech = false
			if rerr := s.det.Reset(); rerr != nil {
				slog.Warn("silero vad: reset after speech end", "err", rerr)
			}
		case err != nil:
			return vad.VADEvent{}, fmt.Errorf("silero vad: detect: %w", err)
		case len(segs) > 0:
			s.inSpeech = segs[len(segs)-1].SpeechEndAt == 0
		}
		s.buf = append(s.buf[:0], s.buf[n*s.window:]...)
	}

	switch {
	case s.inSpeech && !was:
		return vad.VADEvent{Type: vad.VADSpeechStart, Probability: 1}, nil
	case s.inSpeech:
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 1}, nil
	case was:
		return vad.VADEvent{Type: vad.VADSpeechEnd}, nil
	default:
		return vad.VADEvent{Type: vad.VADSilence}, nil
	}
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
	s.inSpeech = false
	if err := s.det.Reset(); err != nil {
		slog.Warn("silero vad: reset", "err", err)
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.det.Destroy(); err != nil {
		return fmt.Errorf("silero vad: destroy: %w", err)
	}
	return nil
}
