package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/hearken/internal/fault"
	"github.com/MrWong99/hearken/pkg/provider/tts"
	ttsmock "github.com/MrWong99/hearken/pkg/provider/tts/mock"
)

// silentTTS synthesizes but cannot list voices.
type silentTTS struct{}

func (silentTTS) Synthesize(context.Context, string, tts.Options) ([]byte, error) {
	return []byte{1, 2}, nil
}

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	fb.AddFallback("coqui", &ttsmock.Provider{})

	opts := tts.Options{VoiceID: "v1", SampleRate: 16000, Style: tts.StyleClear}
	pcm, err := fb.Synthesize(context.Background(), "Hello.", opts)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(pcm) != len(ttsmock.Default("Hello.")) {
		t.Errorf("got %d bytes of PCM", len(pcm))
	}
	calls := primary.CallList()
	if len(calls) != 1 || calls[0].Opts != opts {
		t.Errorf("primary calls = %+v, want one call carrying the options", calls)
	}
}

func TestTTSFallback_Failover(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Err: errTest}
	secondary := &ttsmock.Provider{}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	fb.AddFallback("coqui", secondary)

	if _, err := fb.Synthesize(context.Background(), "Hello.", tts.Options{}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := secondary.Texts(); len(got) != 1 || got[0] != "Hello." {
		t.Errorf("secondary texts = %v", got)
	}
}

func TestTTSFallback_EmptyTextSkipsEngines(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
	if _, err := fb.Synthesize(context.Background(), "", tts.Options{}); !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
	if len(primary.CallList()) != 0 {
		t.Error("engine called for empty text")
	}
}

func TestTTSFallback_CancelledSynthesisDoesNotTrip(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{Block: true}
	fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fb.Synthesize(ctx, "Hello.", tts.Options{})
	if !fault.IsCancellation(err) {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if fb.group.Breaker("elevenlabs").State() != StateClosed {
		t.Error("barge-in cancellation opened the breaker")
	}
}

func TestTTSFallback_ListVoicesSkipsNonListers(t *testing.T) {
	t.Parallel()

	voices := []tts.VoiceProfile{{ID: "rachel", Name: "Rachel"}}
	fb := NewTTSFallback(silentTTS{}, "coqui", FallbackConfig{})
	fb.AddFallback("elevenlabs", &ttsmock.Provider{Voices: voices})

	got, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(got) != 1 || got[0].ID != "rachel" {
		t.Errorf("voices = %+v", got)
	}
}
