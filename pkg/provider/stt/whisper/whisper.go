// Package whisper provides local whisper.cpp-backed STT providers.
//
// Provider talks to a running whisper-server binary (which exposes a REST API
// at POST /inference). NativeProvider runs the model in-process through the
// CGO bindings. Both buffer the PCM of one utterance until Finish and submit
// it as a single batch inference request.
//
// Because whisper.cpp is a batch (non-streaming) transcription engine the
// providers cannot emit true low-latency partials. Each committed final is
// mirrored on the Partials channel with identical text.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	handle, err := p.StartStream(ctx, cfg)
//	handle.SendAudio(pcmChunk)
//	handle.Finish()
//	transcript := <-handle.Finals()
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

const (
	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultMaxBufferDurationMs = 30_000
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSampleRate sets the audio sample rate in Hz. This must match the actual
// sample rate of PCM data delivered via SendAudio. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithMaxBufferDurationMs sets the maximum duration of audio (in milliseconds)
// that may accumulate before it is transcribed ahead of Finish. Defaults to
// 30 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) {
		p.maxBufferDurationMs = ms
	}
}

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a local whisper.cpp HTTP server.
// Multiple sessions may be open simultaneously; each session maintains its own
// audio buffer and goroutine.
type Provider struct {
	serverURL           string
	model               string
	language            string
	sampleRate          int
	maxBufferDurationMs int
	httpClient          *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:           strings.TrimRight(serverURL, "/"),
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new transcription session. It respects cfg.SampleRate,
// cfg.Channels and cfg.Language; zero values fall back to the provider
// defaults. Keywords are sent as the decoder prompt.
//
// Returns an error only if the context is already cancelled; no network
// connection is established until the clip is transcribed.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	req := inferenceRequest{
		serverURL: p.serverURL,
		model:     p.model,
		language:  cfg.Language,
		prompt:    strings.Join(cfg.Keywords, ", "),
		client:    p.httpClient,
		rate:      cfg.SampleRate,
		channels:  cfg.Channels,
	}
	if req.language == "" {
		req.language = p.language
	}
	if req.rate <= 0 {
		req.rate = p.sampleRate
	}
	if req.channels <= 0 {
		req.channels = 1
	}

	return newClipSession(ctx, req.do, req.rate, req.channels, p.maxBufferDurationMs), nil
}

// inferenceRequest holds what one session needs to call the server.
type inferenceRequest struct {
	serverURL string
	model     string
	language  string
	prompt    string
	client    *http.Client
	rate      int
	channels  int
}

// do encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data. It returns the transcribed text.
func (r inferenceRequest) do(ctx context.Context, pcm []byte) (string, error) {
	wav := audio.EncodeWAV(pcm, r.rate, r.channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := [][2]string{
		{"language", r.language},
		{"model", r.model},
		{"prompt", r.prompt},
		{"response_format", "json"},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return strings.TrimSpace(result.Text), nil
}
