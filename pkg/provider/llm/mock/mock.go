// Package mock provides a test double for the llm.Provider interface.
//
// Provider replays StreamChunks on every StreamCompletion call and records
// the requests it received, so tests can check the history that was sent.
//
//	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Hello."}, {FinishReason: "stop"}}}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted by every StreamCompletion call.
	StreamChunks []llm.Chunk

	// ChunkDelay is waited before each chunk is sent.
	ChunkDelay time.Duration

	// StreamErr, if non-nil, is returned by StreamCompletion.
	StreamErr error

	// CompleteResponse and CompleteErr are returned by Complete.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount, when positive, is returned by CountTokens instead of
	// [llm.EstimateTokens].
	TokenCount int

	// Requests records every StreamCompletion and Complete request in order.
	Requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the request and streams StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, cloneRequest(req))
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]llm.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	delay := p.ChunkDelay
	p.mu.Unlock()

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete records the request and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, cloneRequest(req))
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens returns TokenCount or the default estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCount > 0 {
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

// RequestList returns a copy of the recorded requests.
func (p *Provider) RequestList() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.Requests))
	copy(out, p.Requests)
	return out
}

func cloneRequest(req llm.CompletionRequest) llm.CompletionRequest {
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	return req
}
