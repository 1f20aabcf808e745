package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied to a running assistant are tracked; every
// other change needs a restart and is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PromptsChanged  bool
	CommandsChanged bool

	AccessibilityChanged bool
	Accessibility        bool

	// RestartRequired names the top-level sections that changed but are
	// only read at startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PromptsChanged && !d.CommandsChanged &&
		!d.AccessibilityChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.PromptsChanged = old.Prompts != new.Prompts
	d.CommandsChanged = !slices.Equal(old.Commands.Reset, new.Commands.Reset) ||
		!slices.Equal(old.Commands.Accessibility, new.Commands.Accessibility)
	if old.Speech.AccessibilityMode != new.Speech.AccessibilityMode {
		d.AccessibilityChanged = true
		d.Accessibility = new.Speech.AccessibilityMode
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !slices.Equal(old.Wake.Phrases, new.Wake.Phrases) || old.Wake.ManualTrigger != new.Wake.ManualTrigger {
		d.RestartRequired = append(d.RestartRequired, "wake")
	}
	if !listeningEqual(old.Listening, new.Listening) {
		d.RestartRequired = append(d.RestartRequired, "listening")
	}
	oldSpeech, newSpeech := old.Speech, new.Speech
	oldSpeech.AccessibilityMode, newSpeech.AccessibilityMode = false, false
	if oldSpeech != newSpeech {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	if old.Responder != new.Responder {
		d.RestartRequired = append(d.RestartRequired, "responder")
	}
	if old.Timeouts != new.Timeouts {
		d.RestartRequired = append(d.RestartRequired, "timeouts")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	return d
}

func listeningEqual(a, b ListeningConfig) bool {
	aggrA, aggrB := -1, -1
	if a.Aggressiveness != nil {
		aggrA = *a.Aggressiveness
	}
	if b.Aggressiveness != nil {
		aggrB = *b.Aggressiveness
	}
	a.Aggressiveness, b.Aggressiveness = nil, nil
	return aggrA == aggrB && a == b
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.TTS, b.TTS) &&
		entryEqual(a.VAD, b.VAD) && entryEqual(a.WakeWord, b.WakeWord) &&
		entryEqual(a.LLM, b.LLM) && entryEqual(a.Audio, b.Audio)
}

// entryEqual compares two entries including options and fallbacks.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) || len(a.Options) > 0 && !reflect.DeepEqual(a.Options, b.Options) {
		return false
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}
