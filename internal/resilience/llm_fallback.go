package resilience

import (
	"context"

	"github.com/MrWong99/hearken/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] backed by an ordered list of chat models.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another chat model.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Engines lists the engine names in failover order.
func (f *LLMFallback) Engines() []string { return f.group.Names() }

// Breaker returns the circuit breaker guarding the named engine, or nil.
func (f *LLMFallback) Breaker(name string) *CircuitBreaker { return f.group.Breaker(name) }

// Complete returns the first successful full reply.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion starts a stream on the first engine that accepts the
// request. Mid-stream failures arrive as error chunks and do not fail over.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens uses the primary's tokenizer. Token counts bound the history
// and must not depend on which engine happens to be healthy.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.group.Primary().CountTokens(messages)
}
