package respond_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/hearken/internal/respond"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	llmmock "github.com/MrWong99/hearken/pkg/provider/llm/mock"
)

func collect(t *testing.T, ch <-chan string) string {
	t.Helper()
	var b strings.Builder
	timeout := time.After(2 * time.Second)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return b.String()
			}
			b.WriteString(d)
		case <-timeout:
			t.Fatal("response stream did not close")
		}
	}
}

func TestEcho(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix, in, want string
	}{
		{"", "hello there", "hello there"},
		{"You said:", "hello there", "You said: hello there"},
	}
	for _, tt := range tests {
		ch, err := respond.Echo{Prefix: tt.prefix}.Respond(context.Background(), tt.in)
		if err != nil {
			t.Fatalf("Respond: %v", err)
		}
		if got := collect(t, ch); got != tt.want {
			t.Errorf("Echo{%q}(%q) = %q, want %q", tt.prefix, tt.in, got, tt.want)
		}
	}
}

func TestStatic_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := respond.Static("One. ", "Two. ", "Three.").Respond(ctx, "x")
	if d := <-ch; d != "One. " {
		t.Fatalf("first delta = %q", d)
	}
	cancel()
	// The stream must close without further reads blocking forever.
	collect(t, ch)
}

func TestConversation_StreamsAndRecords(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "It is "}, {Text: "ten o'clock."}, {FinishReason: "stop"},
	}}
	c := respond.NewConversation(p, respond.WithTemperature(0.3), respond.WithMaxTokens(120))

	ch, err := c.Respond(context.Background(), "what time is it")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got := collect(t, ch); got != "It is ten o'clock." {
		t.Errorf("reply = %q", got)
	}

	reqs := p.RequestList()
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	if reqs[0].SystemPrompt != respond.DefaultSystemPrompt {
		t.Errorf("system prompt = %q", reqs[0].SystemPrompt)
	}
	if reqs[0].Temperature != 0.3 || reqs[0].MaxTokens != 120 {
		t.Errorf("sampling = %v/%d, want 0.3/120", reqs[0].Temperature, reqs[0].MaxTokens)
	}

	h := c.History()
	if len(h) != 2 || h[0].Role != llm.RoleUser || h[1].Content != "It is ten o'clock." {
		t.Fatalf("history = %+v", h)
	}

	// The next turn carries the history.
	ch, _ = c.Respond(context.Background(), "thanks")
	collect(t, ch)
	reqs = p.RequestList()
	if got := len(reqs[1].Messages); got != 3 {
		t.Errorf("second request carries %d messages, want 3", got)
	}
}

func TestConversation_StartError(t *testing.T) {
	t.Parallel()

	boom := errors.New("unreachable")
	c := respond.NewConversation(&llmmock.Provider{StreamErr: boom})
	if _, err := c.Respond(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if len(c.History()) != 0 {
		t.Error("a failed start must not touch the history")
	}
}

func TestConversation_MidStreamErrorSpeaksApology(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Let me"}, {Text: "connection reset", FinishReason: llm.FinishReasonError},
	}}
	c := respond.NewConversation(p)
	ch, _ := c.Respond(context.Background(), "hi")
	got := collect(t, ch)
	if !strings.HasSuffix(got, respond.DefaultErrorReply) {
		t.Errorf("reply = %q, want it to end with the apology", got)
	}
	if strings.Contains(got, "connection reset") {
		t.Error("error text must not be spoken")
	}
}

func TestConversation_HistoryBound(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok"}}}
	c := respond.NewConversation(p, respond.WithMaxHistory(4))
	for _, q := range []string{"one", "two", "three"} {
		ch, _ := c.Respond(context.Background(), q)
		collect(t, ch)
	}
	h := c.History()
	if len(h) != 4 {
		t.Fatalf("history has %d messages, want 4", len(h))
	}
	if h[0].Content != "two" {
		t.Errorf("oldest kept = %q, want two", h[0].Content)
	}
}

func TestConversation_TokenBudget(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: strings.Repeat("word ", 40)}}}
	c := respond.NewConversation(p, respond.WithTokenBudget(80))
	for _, q := range []string{"one", "two", "three"} {
		ch, _ := c.Respond(context.Background(), q)
		collect(t, ch)
	}
	h := c.History()
	n, _ := p.CountTokens(h)
	if n > 80 && len(h) > 2 {
		t.Errorf("history is %d tokens over %d messages, want within budget", n, len(h))
	}
	if h[0].Role != llm.RoleUser {
		t.Errorf("history opens with %q, want user", h[0].Role)
	}
}

func TestConversation_Reset(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok"}}}
	c := respond.NewConversation(p)
	ch, _ := c.Respond(context.Background(), "remember this")
	collect(t, ch)
	c.ResetHistory()
	if len(c.History()) != 0 {
		t.Fatal("history not cleared")
	}

	ch, _ = c.Respond(context.Background(), "fresh")
	collect(t, ch)
	reqs := p.RequestList()
	if got := len(reqs[len(reqs)-1].Messages); got != 1 {
		t.Errorf("request after reset carries %d messages, want 1", got)
	}
}

func TestConversation_CancelKeepsPartialReply(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "First. "}, {Text: "Second."}},
		ChunkDelay:   20 * time.Millisecond,
	}
	c := respond.NewConversation(p)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := c.Respond(ctx, "tell me")
	if d := <-ch; d != "First. " {
		t.Fatalf("first delta = %q", d)
	}
	cancel()
	collect(t, ch)

	// Recording happens as the stream goroutine exits.
	deadline := time.Now().Add(time.Second)
	for len(c.History()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h := c.History()
	if len(h) != 2 || h[1].Content != "First." {
		t.Fatalf("history = %+v, want the user message and the partial reply", h)
	}
}

// deafProvider streams chunks without watching the request context.
type deafProvider struct {
	*llmmock.Provider
	n    int
	done chan struct{}
}

func (p *deafProvider) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	go func() {
		defer close(p.done)
		defer close(ch)
		for range p.n {
			ch <- llm.Chunk{Text: "word "}
		}
	}()
	return ch, nil
}

func TestConversation_CancelReleasesProducer(t *testing.T) {
	t.Parallel()

	p := &deafProvider{Provider: &llmmock.Provider{}, n: 50, done: make(chan struct{})}
	c := respond.NewConversation(p)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Respond(ctx, "talk")
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	<-ch
	cancel()
	collect(t, ch)

	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after the reply was cancelled")
	}
}
