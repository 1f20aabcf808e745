package llm

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReasonError marks a stream chunk that reports a mid-stream failure.
// Its Text holds the error message.
const FinishReasonError = "error"

// Message is one entry of a conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	Content string
}

// Usage holds token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to answer.
type CompletionRequest struct {
	// Messages is the ordered history; the last entry is normally the user's
	// utterance.
	Messages []Message

	// SystemPrompt is sent ahead of Messages when non-empty.
	SystemPrompt string

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// Chunk is one fragment of a streamed completion.
type Chunk struct {
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or
	// [FinishReasonError].
	FinishReason string
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content string
	Usage   Usage
}
