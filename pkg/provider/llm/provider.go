// Package llm defines the Provider interface for text chat model backends.
//
// The companion uses a provider for the chat conversation, mood insights and
// daily affirmations. Implementations wrap a vendor SDK (Gemini, OpenAI, or
// any backend supported by any-llm-go) behind one uniform request shape.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// FinishReasonError marks a streamed [Chunk] that carries a mid-stream error
// in its Text field.
const FinishReasonError = "error"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// usually from [RoleUser].
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// SystemPrompt is the persona, sent through the provider's dedicated
	// system channel when it has one.
	SystemPrompt string
}

// Chunk is a fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or
	// [FinishReasonError].
	FinishReason string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat model backend.
type Provider interface {
	// StreamCompletion sends req and returns a channel of chunks that is
	// closed when generation finishes or ctx is cancelled. Errors after the
	// stream started arrive as a chunk with FinishReason [FinishReasonError].
	// The returned channel is never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the prompt size of messages. It need not be exact
	// but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata about the model.
	Capabilities() ModelCapabilities
}

// Collect drains a stream into a single response. A chunk carrying
// [FinishReasonError] ends collection with that error.
func Collect(ctx context.Context, ch <-chan Chunk) (*CompletionResponse, error) {
	var resp CompletionResponse
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return &resp, nil
			}
			if c.FinishReason == FinishReasonError {
				return nil, &StreamError{Message: c.Text}
			}
			resp.Content += c.Text
		}
	}
}

// StreamError is returned by [Collect] for an error chunk.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "llm: stream: " + e.Message }
