package respond

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/hearken/pkg/audio"
	"github.com/MrWong99/hearken/pkg/provider/llm"
)

const (
	// DefaultSystemPrompt is sent ahead of the history.
	DefaultSystemPrompt = "You are a friendly and professional voice assistant. " +
		"Give clear, concise and helpful answers that are easy to follow when spoken aloud."

	// DefaultErrorReply is spoken when the model fails mid-answer.
	DefaultErrorReply = "I'm sorry, I encountered an error while trying to think."

	// DefaultMaxHistory is the number of messages kept.
	DefaultMaxHistory = 20
)

// ConversationOption configures a [Conversation].
type ConversationOption func(*Conversation)

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(p string) ConversationOption {
	return func(c *Conversation) { c.systemPrompt = p }
}

// WithMaxHistory bounds the history to n messages.
func WithMaxHistory(n int) ConversationOption {
	return func(c *Conversation) {
		if n > 0 {
			c.maxHistory = n
		}
	}
}

// WithTokenBudget bounds the history to roughly n context tokens, as
// estimated by the provider. Zero disables the bound.
func WithTokenBudget(n int) ConversationOption {
	return func(c *Conversation) { c.tokenBudget = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ConversationOption {
	return func(c *Conversation) { c.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) ConversationOption {
	return func(c *Conversation) { c.maxTokens = n }
}

// WithErrorReply replaces [DefaultErrorReply]. An empty reply is silent.
func WithErrorReply(text string) ConversationOption {
	return func(c *Conversation) { c.errorReply = text }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ConversationOption {
	return func(c *Conversation) { c.log = l }
}

// Conversation forwards each transcript to a chat model together with the
// recent history and streams the reply. It is safe for concurrent use,
// though turns are normally sequential.
type Conversation struct {
	provider     llm.Provider
	systemPrompt string
	maxHistory   int
	tokenBudget  int
	temperature  float64
	maxTokens    int
	errorReply   string
	log          *slog.Logger

	mu      sync.Mutex
	history []llm.Message
}

var (
	_ Responder = (*Conversation)(nil)
	_ Resetter  = (*Conversation)(nil)
)

// NewConversation creates a Conversation over provider.
func NewConversation(provider llm.Provider, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		provider:     provider,
		systemPrompt: DefaultSystemPrompt,
		maxHistory:   DefaultMaxHistory,
		errorReply:   DefaultErrorReply,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Respond implements [Responder]. The exchange is added to the history
// once the reply ends; a reply cut short by ctx is kept as far as it got.
func (c *Conversation) Respond(ctx context.Context, text string) (<-chan string, error) {
	user := llm.Message{Role: llm.RoleUser, Content: text}

	c.mu.Lock()
	msgs := make([]llm.Message, 0, len(c.history)+1)
	msgs = append(msgs, c.history...)
	msgs = append(msgs, user)
	c.mu.Unlock()

	chunks, err := c.provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: c.systemPrompt,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("respond: start completion: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		var reply strings.Builder
		defer func() { c.record(user, reply.String()) }()

		send := func(s string) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for chunk := range chunks {
			if chunk.FinishReason == llm.FinishReasonError {
				c.log.Warn("respond: completion failed mid-stream", "err", chunk.Text)
				if c.errorReply != "" && send(" "+c.errorReply) {
					reply.WriteString(" " + c.errorReply)
				}
				continue
			}
			if chunk.Text == "" {
				continue
			}
			if !send(chunk.Text) {
				go audio.Drain(chunks)
				return
			}
			reply.WriteString(chunk.Text)
		}
	}()
	return out, nil
}

// ResetHistory implements [Resetter].
func (c *Conversation) ResetHistory() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
	c.log.Info("respond: conversation history cleared")
}

// History returns a copy of the kept messages, oldest first.
func (c *Conversation) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Conversation) record(user llm.Message, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, user)
	if reply = strings.TrimSpace(reply); reply != "" {
		c.history = append(c.history, llm.Message{Role: llm.RoleAssistant, Content: reply})
	}
	for len(c.history) > c.maxHistory {
		c.history = c.history[1:]
	}
	for c.tokenBudget > 0 && len(c.history) > 2 {
		n, err := c.provider.CountTokens(c.history)
		if err != nil || n <= c.tokenBudget {
			break
		}
		c.history = c.history[1:]
	}
	// A history must not open with a dangling assistant reply.
	for len(c.history) > 0 && c.history[0].Role == llm.RoleAssistant {
		c.history = c.history[1:]
	}
}
