package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/stt"
	"github.com/MrWong99/hearken/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceServer answers POST /inference with responseText and records the
// form fields and audio size of every request.
type inferenceServer struct {
	*httptest.Server
	calls     atomic.Int32
	mu        sync.Mutex
	fields    []map[string]string
	wavSizes  []int
	status    int
	text      string
	holdUntil chan struct{}
}

func newInferenceServer(t *testing.T, text string) *inferenceServer {
	t.Helper()
	s := &inferenceServer{text: text, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *inferenceServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/inference" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.calls.Add(1)

	fields := map[string]string{}
	size := 0
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil {
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(part)
			if part.FormName() == "file" {
				size = len(data)
			} else {
				fields[part.FormName()] = string(data)
			}
		}
	}
	s.mu.Lock()
	s.fields = append(s.fields, fields)
	s.wavSizes = append(s.wavSizes, size)
	hold := s.holdUntil
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if s.status != http.StatusOK {
		http.Error(w, "boom", s.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"text": " " + s.text + " "})
}

func mustStartStream(t *testing.T, p *whisper.Provider, cfg stt.StreamConfig) stt.SessionHandle {
	t.Helper()
	h, err := p.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func collectFinals(t *testing.T, h stt.SessionHandle) []stt.Transcript {
	t.Helper()
	var out []stt.Transcript
	timeout := time.After(5 * time.Second)
	for {
		select {
		case tr, ok := <-h.Finals():
			if !ok {
				return out
			}
			out = append(out, tr)
		case <-timeout:
			t.Fatal("timed out waiting for Finals to close")
		}
	}
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:8080/",
		whisper.WithModel("base.en"),
		whisper.WithLanguage("de"),
		whisper.WithSampleRate(16000),
		whisper.WithMaxBufferDurationMs(5000),
		whisper.WithHTTPClient(http.DefaultClient),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

func TestStartStream_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://localhost:8080")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ---- session behaviour ------------------------------------------------------

func TestFinish_TranscribesWholeClip(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "what time is it")
	p, _ := whisper.New(srv.URL, whisper.WithModel("small"))
	h := mustStartStream(t, p, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en",
		Keywords:   []string{"hearken", "stop"},
	})

	for range 10 {
		if err := h.SendAudio(make([]byte, 960)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	if srv.calls.Load() != 0 {
		t.Fatal("inference ran before Finish")
	}
	if err := h.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	finals := collectFinals(t, h)
	if len(finals) != 1 {
		t.Fatalf("got %d finals, want 1", len(finals))
	}
	if finals[0].Text != "what time is it" || !finals[0].IsFinal {
		t.Errorf("final = %+v", finals[0])
	}
	if finals[0].Duration != 300*time.Millisecond {
		t.Errorf("Duration = %v, want 300ms", finals[0].Duration)
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err: %v", err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.wavSizes[0] != 44+9600 {
		t.Errorf("wav size = %d, want %d", srv.wavSizes[0], 44+9600)
	}
	f := srv.fields[0]
	if f["language"] != "en" || f["model"] != "small" || f["prompt"] != "hearken, stop" {
		t.Errorf("form fields = %v", f)
	}
}

func TestPartialMirrorsFinal(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "hello")
	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, stt.StreamConfig{SampleRate: 16000})

	_ = h.SendAudio(make([]byte, 320))
	_ = h.Finish()
	collectFinals(t, h)

	tr, ok := <-h.Partials()
	if !ok {
		t.Fatal("Partials closed without a value")
	}
	if tr.Text != "hello" || tr.IsFinal {
		t.Errorf("partial = %+v", tr)
	}
}

func TestFinish_EmptyClipSkipsInference(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "unused")
	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, stt.StreamConfig{})

	_ = h.Finish()
	if got := collectFinals(t, h); len(got) != 0 {
		t.Errorf("finals = %v, want none", got)
	}
	if n := srv.calls.Load(); n != 0 {
		t.Errorf("inference calls = %d, want 0", n)
	}
}

func TestMaxBufferExceededTranscribesEarly(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "segment")
	// 100 ms at 16 kHz mono = 3200 bytes.
	p, _ := whisper.New(srv.URL, whisper.WithMaxBufferDurationMs(100))
	h := mustStartStream(t, p, stt.StreamConfig{SampleRate: 16000})

	_ = h.SendAudio(make([]byte, 3200))
	_ = h.SendAudio(make([]byte, 1600))
	_ = h.Finish()

	finals := collectFinals(t, h)
	if len(finals) != 2 {
		t.Fatalf("got %d finals, want 2", len(finals))
	}
	if finals[1].Offset != 100*time.Millisecond {
		t.Errorf("second Offset = %v, want 100ms", finals[1].Offset)
	}
}

func TestInference_ServerError_SetsErr(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "")
	srv.status = http.StatusInternalServerError
	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, stt.StreamConfig{})

	_ = h.SendAudio(make([]byte, 320))
	_ = h.Finish()
	if got := collectFinals(t, h); len(got) != 0 {
		t.Errorf("finals = %v, want none", got)
	}
	if h.Err() == nil {
		t.Error("expected Err after HTTP 500")
	}
}

func TestSendAudio_AfterFinish_ReturnsErrSessionClosed(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "x")
	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, stt.StreamConfig{})

	_ = h.Finish()
	if err := h.SendAudio(make([]byte, 320)); !errors.Is(err, stt.ErrSessionClosed) {
		t.Errorf("got %v, want ErrSessionClosed", err)
	}
}

func TestClose_AbandonsInference(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "late")
	srv.holdUntil = make(chan struct{})
	defer close(srv.holdUntil)
	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, stt.StreamConfig{})

	_ = h.SendAudio(make([]byte, 320))
	_ = h.Finish()

	deadline := time.Now().Add(2 * time.Second)
	for srv.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := collectFinals(t, h); len(got) != 0 {
		t.Errorf("finals after Close = %v", got)
	}
	if err := h.Err(); err != nil {
		t.Errorf("Err after Close = %v, want nil", err)
	}
}

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()
	srv := newInferenceServer(t, "ok")
	p, _ := whisper.New(srv.URL)
	h := mustStartStream(t, p, stt.StreamConfig{})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				_ = h.SendAudio(make([]byte, 320))
			}
		}()
	}
	wg.Wait()
	_ = h.Finish()
	if got := collectFinals(t, h); len(got) != 1 {
		t.Errorf("got %d finals, want 1", len(got))
	}
}
