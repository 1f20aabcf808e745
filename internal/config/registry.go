package config

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/tts"
	"github.com/MrWong99/hearken/pkg/provider/vad"
	"github.com/MrWong99/hearken/pkg/provider/wakeword"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// AudioBackend is what an audio factory produces: the two device halves and,
// for network backends, the HTTP handler devices connect to.
type AudioBackend struct {
	Input  audio.InputDevice
	Output audio.OutputDevice

	// Handler is mounted on the ops server at Path when non-nil.
	Handler http.Handler
	Path    string

	// Ready reports whether the device side is connected. Nil means always.
	Ready func() bool
}

// WakeEnv carries what wake-word factories need beyond their entry.
type WakeEnv struct {
	Phrases     []string
	Language    string
	SampleRate  int
	FrameLength int

	// STT is the primary transcription engine, for engines that spot the
	// wake phrase in a transcript.
	STT stt.Provider
}

// factories is a name-to-constructor table for one engine kind.
type factories[F any] map[string]F

// Registry maps provider names to their constructor functions for each
// engine kind. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	stt      factories[func(ProviderEntry) (stt.Provider, error)]
	tts      factories[func(ProviderEntry) (tts.Provider, error)]
	vad      factories[func(ProviderEntry) (vad.Engine, error)]
	llm      factories[func(ProviderEntry) (llm.Provider, error)]
	wakeword factories[func(ProviderEntry, WakeEnv) (wakeword.Engine, error)]
	audio    factories[func(ProviderEntry, AudioConfig) (AudioBackend, error)]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:      make(factories[func(ProviderEntry) (stt.Provider, error)]),
		tts:      make(factories[func(ProviderEntry) (tts.Provider, error)]),
		vad:      make(factories[func(ProviderEntry) (vad.Engine, error)]),
		llm:      make(factories[func(ProviderEntry) (llm.Provider, error)]),
		wakeword: make(factories[func(ProviderEntry, WakeEnv) (wakeword.Engine, error)]),
		audio:    make(factories[func(ProviderEntry, AudioConfig) (AudioBackend, error)]),
	}
}

func register[F any](r *Registry, m factories[F], name string, f F) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = f
}

func lookup[F any](r *Registry, m factories[F], kind, name string) (F, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := m[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, name)
	}
	return f, nil
}

// RegisterSTT registers an STT engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	register(r, r.stt, name, factory)
}

// RegisterTTS registers a TTS engine factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	register(r, r.tts, name, factory)
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	register(r, r.vad, name, factory)
}

// RegisterLLM registers a chat model factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	register(r, r.llm, name, factory)
}

// RegisterWakeWord registers a wake-word engine factory under name.
func (r *Registry) RegisterWakeWord(name string, factory func(ProviderEntry, WakeEnv) (wakeword.Engine, error)) {
	register(r, r.wakeword, name, factory)
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry, AudioConfig) (AudioBackend, error)) {
	register(r, r.audio, name, factory)
}

// CreateSTT instantiates the STT engine registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	f, err := lookup(r, r.stt, "stt", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateTTS instantiates the TTS engine registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	f, err := lookup(r, r.tts, "tts", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateVAD instantiates the VAD engine registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	f, err := lookup(r, r.vad, "vad", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateLLM instantiates the chat model registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	f, err := lookup(r, r.llm, "llm", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateWakeWord instantiates the wake-word engine registered under entry.Name.
func (r *Registry) CreateWakeWord(entry ProviderEntry, env WakeEnv) (wakeword.Engine, error) {
	f, err := lookup(r, r.wakeword, "wakeword", entry.Name)
	if err != nil {
		return nil, err
	}
	return f(entry, env)
}

// CreateAudio instantiates the audio backend registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry, cfg AudioConfig) (AudioBackend, error) {
	f, err := lookup(r, r.audio, "audio", entry.Name)
	if err != nil {
		return AudioBackend{}, err
	}
	return f(entry, cfg)
}
