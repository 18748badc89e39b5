// ABOUTME: Backend completion client contract shared by the orchestrator and adapters
// ABOUTME: Defines streaming request/chunk/result types, error classes, and token estimation

package backend

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/2389/chat-gateway/internal/store"
)

// ErrTransport marks failures worth retrying with another credential:
// network errors, authentication failures, throttling and 5xx responses.
var ErrTransport = errors.New("backend transport error")

// ErrRejected marks requests the backend refused on their content.
var ErrRejected = errors.New("backend rejected request")

// Role of a prior turn sent as context.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior message sent as context.
type Turn struct {
	Role    string
	Content string
}

// Request is one streamed completion call.
type Request struct {
	Prompt          string
	History         []Turn
	SystemPrompt    string
	Temperature     float32
	TopP            float32
	Model           string
	ConversationID  string
	ParentMessageID string
}

// Chunk is one streamed update. Text is the answer accumulated so far.
type Chunk struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	FinishReason   string `json:"-"`
}

// Result is the completed answer.
type Result struct {
	ID              string
	ConversationID  string
	ParentMessageID string
	Text            string
	FinishReason    string
	Usage           *store.Usage
}

// Client streams completions. onChunk is called synchronously for every
// chunk in generation order. When ctx is cancelled the call returns
// ctx.Err() wrapped; the caller keeps whatever it saw through onChunk.
type Client interface {
	Stream(ctx context.Context, cred *store.Credential, req Request, onChunk func(Chunk)) (*Result, error)
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// EstimateUsage builds an estimated usage for a request and its answer.
func EstimateUsage(req Request, answer string) *store.Usage {
	prompt := EstimateTokens(req.SystemPrompt) + EstimateTokens(req.Prompt)
	for _, turn := range req.History {
		prompt += EstimateTokens(turn.Content)
	}
	completion := EstimateTokens(answer)
	return &store.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Estimated:        true,
	}
}
