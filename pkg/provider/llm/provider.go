// Package llm defines the Provider interface for chat-model backends.
//
// Hearken does not reason on its own. A chat model is one possible
// collaborator behind the response interface: the transcript goes in as a
// user message and the streamed reply is spoken as it arrives.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed when the stream ends or ctx is cancelled.
package llm

import "context"

// Provider is a chat-completion backend.
type Provider interface {
	// StreamCompletion starts a completion and returns its chunks. A failure
	// that prevents the stream from starting is returned directly; later
	// failures arrive as a chunk whose FinishReason is [FinishReasonError].
	// The channel is never nil when err is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context tokens messages occupy. The
	// estimate may be approximate but should not undercount.
	CountTokens(messages []Message) (int, error)
}

// EstimateTokens approximates token usage at four characters per token plus
// a fixed per-message overhead for role and formatting.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}
