// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for Hearken.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SupportedSampleRates lists the capture rates the pipeline accepts.
var SupportedSampleRates = []int{8000, 16000, 32000, 48000}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Wake      WakeConfig      `yaml:"wake"`
	Listening ListeningConfig `yaml:"listening"`
	Speech    SpeechConfig    `yaml:"speech"`
	Responder ResponderConfig `yaml:"responder"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Commands  CommandsConfig  `yaml:"commands"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds the ops server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the ops server serving /healthz,
	// /readyz, /metrics and the remote audio endpoint. Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture format and device selection.
type AudioConfig struct {
	// SampleRate is the capture rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the capture frame period. Default: 30.
	FrameMs int `yaml:"frame_ms"`

	// InputDevice and OutputDevice select devices by name for backends that
	// have more than one. Empty selects the default device.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`

	// CaptureBuffer is the number of frames queued between the device and
	// the orchestrator. Default: 64.
	CaptureBuffer int `yaml:"capture_buffer"`
}

// FrameDuration returns the frame period as a duration.
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMs) * time.Millisecond
}

// WakeConfig configures activation.
type WakeConfig struct {
	// Phrases are the wake phrases for engines that match words, and
	// recognition hints for the STT engine. Default: ["hey gem"].
	Phrases []string `yaml:"phrases"`

	// ManualTrigger enables activation by pressing Enter on stdin.
	ManualTrigger bool `yaml:"manual_trigger"`
}

// ListeningConfig configures the endpointer for a turn.
type ListeningConfig struct {
	// Aggressiveness is the VAD mode from 0 (permissive) to 3 (strict).
	// Default: 2.
	Aggressiveness *int `yaml:"aggressiveness"`

	// SilenceHangover is the trailing silence that ends an utterance.
	// Default: 800ms.
	SilenceHangover time.Duration `yaml:"silence_hangover"`

	// MaxUtterance caps a single utterance. Default: 15s.
	MaxUtterance time.Duration `yaml:"max_utterance"`

	// NoSpeechTimeout is how long LISTENING waits for speech. Default: 5s.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// BargeInHangover replaces SilenceHangover for utterances that interrupt
	// a reply. Zero uses SilenceHangover.
	BargeInHangover time.Duration `yaml:"barge_in_hangover"`

	// PreRoll is the audio kept from before the detected speech start.
	// Default: 300ms.
	PreRoll time.Duration `yaml:"pre_roll"`

	// NoSpeechRetries is how many times an empty listening window is
	// re-prompted before returning to standby. Default: 0.
	NoSpeechRetries int `yaml:"no_speech_retries"`
}

// SpeechConfig configures recognition and synthesis.
type SpeechConfig struct {
	// Language is the BCP-47 tag for recognition and synthesis.
	// Default: "en-US".
	Language string `yaml:"language"`

	// Voice is the TTS voice identifier. Empty uses the engine default.
	Voice string `yaml:"voice"`

	// AccessibilityMode selects the clear, slower voice style.
	// Hot-reloadable.
	AccessibilityMode bool `yaml:"accessibility_mode"`

	// QueueSize bounds the synthesized fragments waiting to play. Default: 2.
	QueueSize int `yaml:"queue_size"`

	// OutputSampleRate is the playback rate. Zero uses the capture rate.
	OutputSampleRate int `yaml:"output_sample_rate"`
}

// ResponderConfig selects what answers a transcript. With providers.llm set,
// a chat model answers; otherwise the transcript is echoed back.
type ResponderConfig struct {
	// SystemPrompt prefixes every chat request.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxHistory caps the remembered messages. Default: 20.
	MaxHistory int `yaml:"max_history"`

	// TokenBudget trims the history to this many tokens. Zero disables it.
	TokenBudget int `yaml:"token_budget"`

	// Temperature and MaxTokens are passed to the chat model.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// EchoPrefix is spoken before the echoed transcript when no chat model
	// is configured.
	EchoPrefix string `yaml:"echo_prefix"`
}

// PromptsConfig holds the fixed phrases spoken by the assistant. Empty fields
// keep the built-in wording. Hot-reloadable.
type PromptsConfig struct {
	Listening        string `yaml:"listening"`
	Reprompt         string `yaml:"reprompt"`
	Apology          string `yaml:"apology"`
	ResetDone        string `yaml:"reset_done"`
	AccessibilityOn  string `yaml:"accessibility_on"`
	AccessibilityOff string `yaml:"accessibility_off"`

	// DisableCue skips the listening cue after activation.
	DisableCue bool `yaml:"disable_cue"`
}

// CommandsConfig holds the spoken control phrases. Empty lists keep the
// built-in phrases. Hot-reloadable.
type CommandsConfig struct {
	Reset         []string `yaml:"reset"`
	Accessibility []string `yaml:"accessibility"`
}

// TimeoutsConfig bounds the blocking engine calls.
type TimeoutsConfig struct {
	// Final bounds the wait for the last transcript after end of speech.
	// Default: 5s.
	Final time.Duration `yaml:"final"`

	// Fragment bounds the synthesis of one sentence. Default: 15s.
	Fragment time.Duration `yaml:"fragment"`

	// Response bounds the wait for the responder's first words, including
	// the request itself. Default: 20s.
	Response time.Duration `yaml:"response"`

	// Connect bounds opening a transcription session and the output device.
	// Default: 10s.
	Connect time.Duration `yaml:"connect"`

	// ErrorBackoff is the pause after a failed turn. Default: 2s.
	ErrorBackoff time.Duration `yaml:"error_backoff"`
}

// ProvidersConfig selects the engine implementation for each stage by a name
// registered in the [Registry].
type ProvidersConfig struct {
	STT      ProviderEntry `yaml:"stt"`
	TTS      ProviderEntry `yaml:"tts"`
	VAD      ProviderEntry `yaml:"vad"`
	WakeWord ProviderEntry `yaml:"wakeword"`
	LLM      ProviderEntry `yaml:"llm"`
	Audio    ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block shared by all engine kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "deepgram", "silero").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted engines.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the engine's default endpoint, or points at a local
	// server.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the engine, or a model file for local
	// engines.
	Model string `yaml:"model"`

	// Options holds engine-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this engine fails. Only STT, TTS and
	// LLM entries support fallbacks.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Configured reports whether the entry names an implementation.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// OptionString returns Options[key] when it is a string.
func (e ProviderEntry) OptionString(key string) (string, bool) {
	s, ok := e.Options[key].(string)
	return s, ok
}

// OptionFloat returns Options[key] as a float64 when it is numeric.
func (e ProviderEntry) OptionFloat(key string) (float64, bool) {
	switch v := e.Options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// OptionInt returns Options[key] as an int when it is numeric.
func (e ProviderEntry) OptionInt(key string) (int, bool) {
	f, ok := e.OptionFloat(key)
	return int(f), ok
}

// OptionBool returns Options[key] when it is a bool.
func (e ProviderEntry) OptionBool(key string) (bool, bool) {
	b, ok := e.Options[key].(bool)
	return b, ok
}
