package app

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/internal/resilience"
	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/tts"
	"github.com/MrWong99/hearken/pkg/provider/vad"
	"github.com/MrWong99/hearken/pkg/provider/vad/energy"
	"github.com/MrWong99/hearken/pkg/provider/wakeword"
)

// DefaultAudioBackend is used when providers.audio is not configured.
const DefaultAudioBackend = "portaudio"

// Providers holds one engine per pipeline stage. LLM and WakeWord may be nil:
// without a chat model transcripts are echoed, and without a wake engine only
// the manual trigger activates the assistant.
type Providers struct {
	STT      stt.Provider
	TTS      tts.Provider
	LLM      llm.Provider
	VAD      vad.Engine
	WakeWord wakeword.Engine
	Audio    config.AudioBackend
}

// engineGroup is implemented by the failover wrappers of package resilience.
type engineGroup interface {
	Engines() []string
	Breaker(name string) *resilience.CircuitBreaker
}

type namedEngine[P any] struct {
	name   string
	engine P
}

// BuildProviders instantiates every configured engine through reg. STT, TTS
// and LLM entries are wrapped in failover groups holding the entry and its
// fallbacks in order, so even a single engine is guarded by a circuit breaker.
func BuildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*Providers, error) {
	p := &Providers{}
	fallback := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{Kind: kind, Metrics: metrics}
	}

	if !cfg.Providers.STT.Configured() {
		return nil, fmt.Errorf("app: providers.stt is required")
	}
	sttEngines, err := createAll("stt", cfg.Providers.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	sttGroup := resilience.NewSTTFallback(sttEngines[0].engine, sttEngines[0].name, fallback("stt"))
	for _, e := range sttEngines[1:] {
		sttGroup.AddFallback(e.name, e.engine)
	}
	p.STT = sttGroup

	if !cfg.Providers.TTS.Configured() {
		return nil, fmt.Errorf("app: providers.tts is required")
	}
	ttsEngines, err := createAll("tts", cfg.Providers.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	ttsGroup := resilience.NewTTSFallback(ttsEngines[0].engine, ttsEngines[0].name, fallback("tts"))
	for _, e := range ttsEngines[1:] {
		ttsGroup.AddFallback(e.name, e.engine)
	}
	p.TTS = ttsGroup

	if cfg.Providers.LLM.Configured() {
		llmEngines, err := createAll("llm", cfg.Providers.LLM, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		llmGroup := resilience.NewLLMFallback(llmEngines[0].engine, llmEngines[0].name, fallback("llm"))
		for _, e := range llmEngines[1:] {
			llmGroup.AddFallback(e.name, e.engine)
		}
		p.LLM = llmGroup
	}

	if cfg.Providers.VAD.Configured() {
		if p.VAD, err = reg.CreateVAD(cfg.Providers.VAD); err != nil {
			return nil, fmt.Errorf("app: create vad provider %q: %w", cfg.Providers.VAD.Name, err)
		}
		slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)
	} else {
		p.VAD = energy.New()
		slog.Debug("no vad configured, using the energy detector")
	}

	format := audio.NewFormat(cfg.Audio.SampleRate, cfg.Audio.FrameDuration())
	if cfg.Providers.WakeWord.Configured() {
		env := config.WakeEnv{
			Phrases:     cfg.Wake.Phrases,
			Language:    cfg.Speech.Language,
			SampleRate:  format.SampleRate,
			FrameLength: format.FrameLength,
			STT:         p.STT,
		}
		if p.WakeWord, err = reg.CreateWakeWord(cfg.Providers.WakeWord, env); err != nil {
			return nil, fmt.Errorf("app: create wakeword provider %q: %w", cfg.Providers.WakeWord.Name, err)
		}
		slog.Info("provider created", "kind", "wakeword", "name", cfg.Providers.WakeWord.Name)
	}

	audioEntry := cfg.Providers.Audio
	if !audioEntry.Configured() {
		audioEntry.Name = DefaultAudioBackend
	}
	if p.Audio, err = reg.CreateAudio(audioEntry, cfg.Audio); err != nil {
		return nil, fmt.Errorf("app: create audio backend %q: %w", audioEntry.Name, err)
	}
	slog.Info("provider created", "kind", "audio", "name", audioEntry.Name)

	return p, nil
}

// createAll builds entry and its fallbacks. Repeated names get a numeric
// suffix so each engine keeps its own breaker and metric label.
func createAll[P any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (P, error)) ([]namedEngine[P], error) {
	entries := append([]config.ProviderEntry{entry}, entry.Fallbacks...)
	out := make([]namedEngine[P], 0, len(entries))
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		engine, err := create(e)
		if err != nil {
			return nil, fmt.Errorf("app: create %s provider %q: %w", kind, e.Name, err)
		}
		name := e.Name
		if n := seen[e.Name]; n > 0 {
			name = fmt.Sprintf("%s-%d", e.Name, n+1)
		}
		seen[e.Name]++
		out = append(out, namedEngine[P]{name: name, engine: engine})
		slog.Info("provider created", "kind", kind, "name", name)
	}
	return out, nil
}
