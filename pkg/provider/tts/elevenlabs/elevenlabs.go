// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
//
// Each Synthesize call opens one stream-input socket, sends the fragment
// followed by an end-of-input message and collects the PCM chunks until the
// server reports the final one.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrWong99/hearken/pkg/provider/tts"
	"github.com/coder/websocket"
)

const (
	defaultWSBase     = "wss://api.elevenlabs.io"
	defaultHTTPBase   = "https://api.elevenlabs.io"
	defaultModel      = "eleven_flash_v2_5"
	defaultSampleRate = 16000
)

// supportedRates are the PCM output formats ElevenLabs offers.
var supportedRates = map[int]bool{8000: true, 16000: true, 22050: true, 24000: true, 44100: true, 48000: true}

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the voice used when tts.Options.VoiceID is empty.
func WithVoice(id string) Option {
	return func(p *Provider) {
		p.voice = id
	}
}

// WithBaseURLs overrides the WebSocket and REST hosts. Tests point them at a
// local server.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.httpBase = strings.TrimRight(httpBase, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey     string
	model      string
	voice      string
	wsBase     string
	httpBase   string
	httpClient *http.Client
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		wsBase:     defaultWSBase,
		httpBase:   defaultHTTPBase,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
	Error   string `json:"error,omitempty"`
}

// settingsFor maps a delivery style to voice settings. The clear preset is
// steadier and slower.
func settingsFor(style tts.Style) *voiceSettings {
	if style == tts.StyleClear {
		return &voiceSettings{Stability: 0.85, SimilarityBoost: 0.75, Speed: 0.85}
	}
	return &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
}

// Synthesize streams text through one stream-input session and returns the
// concatenated PCM.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.Options) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, tts.ErrEmptyText
	}
	voice := opts.VoiceID
	if voice == "" {
		voice = p.voice
	}
	if voice == "" {
		return nil, errors.New("elevenlabs: no voice configured")
	}
	rate := opts.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}
	if !supportedRates[rate] {
		return nil, fmt.Errorf("elevenlabs: unsupported sample rate %d", rate)
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice, rate), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	// The first message must carry a single space plus auth and settings.
	msgs := []textMessage{
		{Text: " ", VoiceSettings: settingsFor(opts.Style), XiAPIKey: p.apiKey},
		{Text: text + " ", Flush: true},
		{Text: ""},
	}
	for _, m := range msgs {
		if err := writeJSON(ctx, conn, m); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(pcm) > 0 {
				return pcm, nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		chunk, final, err := parseAudioResponse(msg)
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, chunk...)
		if final {
			conn.Close(websocket.StatusNormalClosure, "done")
			return pcm, nil
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// streamURL constructs the stream-input URL for a voice and output rate.
func (p *Provider) streamURL(voiceID string, rate int) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", fmt.Sprintf("pcm_%d", rate))
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.wsBase, url.PathEscape(voiceID), q.Encode())
}

// parseAudioResponse decodes one server message. Messages without audio
// yield a nil chunk.
func parseAudioResponse(msg []byte) ([]byte, bool, error) {
	var resp audioResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return nil, false, nil
	}
	if resp.Error != "" {
		return nil, false, fmt.Errorf("elevenlabs: server error: %s %s", resp.Error, resp.Message)
	}
	if resp.Audio == "" {
		return nil, resp.IsFinal, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, false, fmt.Errorf("elevenlabs: decode audio: %w", err)
	}
	return pcm, resp.IsFinal, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return toProfiles(vr), nil
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	return toProfiles(vr), nil
}

func toProfiles(vr voicesResponse) []tts.VoiceProfile {
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles
}
