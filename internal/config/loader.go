package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":9090"
	DefaultSampleRate      = 16000
	DefaultFrameMs         = 30
	DefaultCaptureBuffer   = 64
	DefaultAggressiveness  = 2
	DefaultSilenceHangover = 800 * time.Millisecond
	DefaultMaxUtterance    = 15 * time.Second
	DefaultNoSpeechTimeout = 5 * time.Second
	DefaultPreRoll         = 300 * time.Millisecond
	DefaultLanguage        = "en-US"
	DefaultQueueSize       = 2
	DefaultMaxHistory      = 20
	DefaultFinalTimeout    = 5 * time.Second
	DefaultFragmentTimeout = 15 * time.Second
	DefaultResponseTimeout = 20 * time.Second
	DefaultErrorBackoff    = 2 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
)

// DefaultWakePhrases is used when wake.phrases is empty.
var DefaultWakePhrases = []string{"hey gem"}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":      {"deepgram", "whisper", "whisper-native"},
	"tts":      {"elevenlabs", "coqui"},
	"vad":      {"energy", "silero"},
	"wakeword": {"microwakeword", "phrase"},
	"llm":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"audio":    {"portaudio", "remote"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = DefaultFrameMs
	}
	if cfg.Audio.CaptureBuffer == 0 {
		cfg.Audio.CaptureBuffer = DefaultCaptureBuffer
	}

	if len(cfg.Wake.Phrases) == 0 {
		cfg.Wake.Phrases = slices.Clone(DefaultWakePhrases)
	}

	l := &cfg.Listening
	if l.Aggressiveness == nil {
		a := DefaultAggressiveness
		l.Aggressiveness = &a
	}
	if l.SilenceHangover == 0 {
		l.SilenceHangover = DefaultSilenceHangover
	}
	if l.MaxUtterance == 0 {
		l.MaxUtterance = DefaultMaxUtterance
	}
	if l.NoSpeechTimeout == 0 {
		l.NoSpeechTimeout = DefaultNoSpeechTimeout
	}
	if l.BargeInHangover == 0 {
		l.BargeInHangover = l.SilenceHangover
	}
	if l.PreRoll == 0 {
		l.PreRoll = DefaultPreRoll
	}

	if cfg.Speech.Language == "" {
		cfg.Speech.Language = DefaultLanguage
	}
	if cfg.Speech.QueueSize == 0 {
		cfg.Speech.QueueSize = DefaultQueueSize
	}
	if cfg.Speech.OutputSampleRate == 0 {
		cfg.Speech.OutputSampleRate = cfg.Audio.SampleRate
	}

	if cfg.Responder.MaxHistory == 0 {
		cfg.Responder.MaxHistory = DefaultMaxHistory
	}

	t := &cfg.Timeouts
	if t.Final == 0 {
		t.Final = DefaultFinalTimeout
	}
	if t.Fragment == 0 {
		t.Fragment = DefaultFragmentTimeout
	}
	if t.Response == 0 {
		t.Response = DefaultResponseTimeout
	}
	if t.ErrorBackoff == 0 {
		t.ErrorBackoff = DefaultErrorBackoff
	}
	if t.Connect == 0 {
		t.Connect = DefaultConnectTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if !slices.Contains(SupportedSampleRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; valid values: %v", cfg.Audio.SampleRate, SupportedSampleRates))
	}
	if cfg.Audio.FrameMs <= 0 || cfg.Audio.FrameMs > 100 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is out of range (0, 100]", cfg.Audio.FrameMs))
	}
	if cfg.Audio.CaptureBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_buffer %d must not be negative", cfg.Audio.CaptureBuffer))
	}

	// Listening
	l := cfg.Listening
	frame := cfg.Audio.FrameDuration()
	if a := l.Aggressiveness; a != nil && (*a < 0 || *a > 3) {
		errs = append(errs, fmt.Errorf("listening.aggressiveness %d is out of range [0, 3]", *a))
	}
	if l.SilenceHangover < frame {
		errs = append(errs, fmt.Errorf("listening.silence_hangover %v is shorter than one frame (%v)", l.SilenceHangover, frame))
	}
	if l.BargeInHangover != 0 && l.BargeInHangover < frame {
		errs = append(errs, fmt.Errorf("listening.barge_in_hangover %v is shorter than one frame (%v)", l.BargeInHangover, frame))
	}
	if l.MaxUtterance <= l.SilenceHangover {
		errs = append(errs, fmt.Errorf("listening.max_utterance %v must exceed silence_hangover %v", l.MaxUtterance, l.SilenceHangover))
	}
	if l.NoSpeechTimeout < 0 || l.PreRoll < 0 {
		errs = append(errs, errors.New("listening.no_speech_timeout and listening.pre_roll must not be negative"))
	}
	if l.NoSpeechRetries < 0 {
		errs = append(errs, fmt.Errorf("listening.no_speech_retries %d must not be negative", l.NoSpeechRetries))
	}

	// Speech
	if cfg.Speech.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("speech.queue_size %d must not be negative", cfg.Speech.QueueSize))
	}
	if cfg.Speech.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("speech.output_sample_rate %d must not be negative", cfg.Speech.OutputSampleRate))
	}

	// Responder
	r := cfg.Responder
	if r.MaxHistory < 0 || r.TokenBudget < 0 || r.MaxTokens < 0 {
		errs = append(errs, errors.New("responder.max_history, token_budget and max_tokens must not be negative"))
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		errs = append(errs, fmt.Errorf("responder.temperature %.2f is out of range [0, 2]", r.Temperature))
	}

	// Timeouts
	t := cfg.Timeouts
	if t.Final < 0 || t.Fragment < 0 || t.Response < 0 || t.ErrorBackoff < 0 || t.Connect < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}

	// Providers
	p := cfg.Providers
	errs = append(errs, validateEntry("stt", p.STT, true)...)
	errs = append(errs, validateEntry("tts", p.TTS, true)...)
	errs = append(errs, validateEntry("llm", p.LLM, true)...)
	errs = append(errs, validateEntry("vad", p.VAD, false)...)
	errs = append(errs, validateEntry("wakeword", p.WakeWord, false)...)
	errs = append(errs, validateEntry("audio", p.Audio, false)...)

	if !p.WakeWord.Configured() && !cfg.Wake.ManualTrigger {
		slog.Warn("no wake-word engine configured and manual trigger disabled; the assistant can never be activated")
	}
	if p.WakeWord.Name == "phrase" && !p.STT.Configured() {
		errs = append(errs, errors.New("providers.wakeword: the phrase engine requires providers.stt"))
	}
	if !p.LLM.Configured() {
		slog.Debug("no LLM configured; transcripts will be echoed back")
	}

	return errors.Join(errs...)
}

// validateEntry checks one provider entry and its fallbacks.
func validateEntry(kind string, e ProviderEntry, fallbacks bool) []error {
	var errs []error
	if !e.Configured() {
		if len(e.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s: fallbacks given without a primary name", kind))
		}
		return errs
	}
	validateProviderName(kind, e.Name)
	if len(e.Fallbacks) > 0 && !fallbacks {
		errs = append(errs, fmt.Errorf("providers.%s does not support fallbacks", kind))
	}
	for i, fb := range e.Fallbacks {
		if !fb.Configured() {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d] must not have fallbacks of its own", kind, i))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
