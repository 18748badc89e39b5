// ABOUTME: OpenAI-compatible streaming client built on sashabaranov/go-openai
// ABOUTME: Maps credentials to API clients and classifies errors into transport or rejection

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/2389/chat-gateway/internal/store"
)

// OpenAIOptions configures the OpenAI adapter.
type OpenAIOptions struct {
	// BaseURL is used when a credential carries none
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the client built from Timeout
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAI streams chat completions from an OpenAI-compatible API.
type OpenAI struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAI creates the adapter.
func NewOpenAI(opts OpenAIOptions) *OpenAI {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With("component", "backend"),
	}
}

func (o *OpenAI) clientFor(cred *store.Credential) *openai.Client {
	cfg := openai.DefaultConfig(cred.Secret)
	switch {
	case cred.BaseURL != "":
		cfg.BaseURL = strings.TrimRight(cred.BaseURL, "/")
	case o.baseURL != "":
		cfg.BaseURL = o.baseURL
	}
	cfg.HTTPClient = o.httpClient
	return openai.NewClientWithConfig(cfg)
}

// Stream implements Client.
func (o *OpenAI) Stream(ctx context.Context, cred *store.Credential, req Request, onChunk func(Chunk)) (*Result, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      buildMessages(req),
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	o.logger.Debug("starting completion stream",
		"credential_id", cred.ID,
		"model", req.Model,
		"history_turns", len(req.History),
	)

	stream, err := o.clientFor(cred).CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer stream.Close()

	result := &Result{
		ConversationID:  req.ConversationID,
		ParentMessageID: req.ParentMessageID,
	}
	var text strings.Builder

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classify(ctx, err)
		}

		if resp.ID != "" {
			result.ID = resp.ID
		}
		if resp.Usage != nil {
			result.Usage = &store.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		text.WriteString(choice.Delta.Content)
		if choice.FinishReason != "" {
			result.FinishReason = string(choice.FinishReason)
		}

		onChunk(Chunk{
			ID:             result.ID,
			ConversationID: result.ConversationID,
			Text:           text.String(),
			FinishReason:   string(choice.FinishReason),
		})
	}

	result.Text = text.String()
	if result.Usage == nil {
		result.Usage = EstimateUsage(req, result.Text)
	}

	o.logger.Debug("completion stream finished",
		"credential_id", cred.ID,
		"id", result.ID,
		"finish_reason", result.FinishReason,
		"total_tokens", result.Usage.TotalTokens,
	)
	return result, nil
}

func buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	return append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})
}

// classify wraps err with ErrTransport or ErrRejected. Cancellation is
// returned as the context error so callers can tell an abort apart.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("completion stream: %w", ctxErr)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status >= 400 && status < 500 &&
		status != http.StatusUnauthorized &&
		status != http.StatusForbidden &&
		status != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
