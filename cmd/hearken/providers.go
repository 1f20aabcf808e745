package main

import (
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/hearken/internal/config"
	"github.com/MrWong99/hearken/pkg/audio/portaudio"
	"github.com/MrWong99/hearken/pkg/audio/remote"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/llm/anyllm"
	"github.com/MrWong99/hearken/pkg/provider/llm/openai"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/stt/deepgram"
	"github.com/MrWong99/hearken/pkg/provider/stt/whisper"
	"github.com/MrWong99/hearken/pkg/provider/tts"
	"github.com/MrWong99/hearken/pkg/provider/tts/coqui"
	"github.com/MrWong99/hearken/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/hearken/pkg/provider/vad"
	"github.com/MrWong99/hearken/pkg/provider/vad/energy"
	"github.com/MrWong99/hearken/pkg/provider/vad/silero"
	"github.com/MrWong99/hearken/pkg/provider/wakeword"
	"github.com/MrWong99/hearken/pkg/provider/wakeword/microwakeword"
	"github.com/MrWong99/hearken/pkg/provider/wakeword/phrase"
)

// defaultSatellitePath is where the remote audio backend is mounted.
const defaultSatellitePath = "/satellite"

// registerBuiltinProviders wires all built-in provider factories into reg.
// Language and sample rate come from cfg unless an entry overrides them in
// its options.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	language := func(e config.ProviderEntry) string {
		if lang, ok := e.OptionString("language"); ok {
			return lang
		}
		return cfg.Speech.Language
	}
	rate := cfg.Audio.SampleRate

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org, ok := entry.OptionString("organization"); ok {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d, ok := optDuration(entry, "timeout"); ok {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other vendor goes through any-llm. Local servers such as ollama
	// need only a base URL.
	for _, providerName := range anyllm.Backends {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithLanguage(language(entry)),
			deepgram.WithSampleRate(rate),
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{
			whisper.WithLanguage(language(entry)),
			whisper.WithSampleRate(rate),
		}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if ms, ok := entry.OptionInt("max_buffer_ms"); ok {
			opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath, _ = entry.OptionString("model_path")
		}
		opts := []whisper.NativeOption{
			whisper.WithNativeLanguage(language(entry)),
			whisper.WithNativeSampleRate(rate),
		}
		if n, ok := entry.OptionInt("threads"); ok && n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		if ms, ok := entry.OptionInt("max_buffer_ms"); ok {
			opts = append(opts, whisper.WithNativeMaxBufferDurationMs(ms))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice, ok := entry.OptionString("voice"); ok {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			ws, _ := entry.OptionString("ws_base_url")
			opts = append(opts, elevenlabs.WithBaseURLs(ws, entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithLanguage(language(entry))}
		if mode, ok := entry.OptionString("api_mode"); ok {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if voice, ok := entry.OptionString("voice"); ok {
			opts = append(opts, coqui.WithVoice(voice))
		}
		if d, ok := optDuration(entry, "timeout"); ok {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath, _ = entry.OptionString("model_path")
		}
		return silero.New(modelPath)
	})

	// ── Wake word ─────────────────────────────────────────────────────────────

	reg.RegisterWakeWord("microwakeword", func(entry config.ProviderEntry, env config.WakeEnv) (wakeword.Engine, error) {
		opts := []microwakeword.Option{microwakeword.WithFrameLength(env.FrameLength)}
		if path, ok := entry.OptionString("model_config"); ok {
			opts = append(opts, microwakeword.WithModelConfig(path))
		}
		if s, ok := entry.OptionFloat("refractory"); ok {
			opts = append(opts, microwakeword.WithRefractory(s))
		}
		return microwakeword.New(entry.Model, opts...)
	})

	reg.RegisterWakeWord("phrase", func(entry config.ProviderEntry, env config.WakeEnv) (wakeword.Engine, error) {
		lang := env.Language
		if l, ok := entry.OptionString("language"); ok {
			lang = l
		}
		opts := []phrase.Option{
			phrase.WithSampleRate(env.SampleRate),
			phrase.WithFrameLength(env.FrameLength),
			phrase.WithLanguage(lang),
		}
		if d, ok := optDuration(entry, "start_timeout"); ok {
			opts = append(opts, phrase.WithStartTimeout(d))
		}
		return phrase.New(env.STT, env.Phrases, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(_ config.ProviderEntry, a config.AudioConfig) (config.AudioBackend, error) {
		return config.AudioBackend{
			Input:  portaudio.Input{Device: a.InputDevice},
			Output: portaudio.Output{Device: a.OutputDevice},
		}, nil
	})

	reg.RegisterAudio("remote", func(entry config.ProviderEntry, _ config.AudioConfig) (config.AudioBackend, error) {
		var opts []remote.Option
		if n, ok := entry.OptionInt("input_buffer"); ok {
			opts = append(opts, remote.WithInputBuffer(n))
		}
		if insecure, ok := entry.OptionBool("insecure_skip_verify"); ok && insecure {
			opts = append(opts, remote.WithInsecureSkipVerify())
		}
		path, ok := entry.OptionString("path")
		if !ok || path == "" {
			path = defaultSatellitePath
		}
		sat := remote.New(opts...)
		return config.AudioBackend{
			Input:   sat.Input(),
			Output:  sat.Output(),
			Handler: sat,
			Path:    path,
			Ready:   sat.Connected,
		}, nil
	})

	slog.Debug("registered built-in providers", "known", config.ValidProviderNames)
}

// optDuration reads a duration option written as a string such as "10s".
func optDuration(e config.ProviderEntry, key string) (time.Duration, bool) {
	s, ok := e.OptionString(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring malformed duration option", "provider", e.Name, "key", key, "value", s, "err", err)
		return 0, false
	}
	return d, true
}
