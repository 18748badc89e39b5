// ABOUTME: Chunked stream writer for chat-process replies
// ABOUTME: Writes newline-separated JSON objects to an octet-stream body, flushing after each

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/2389/chat-gateway/internal/backend"
	"github.com/2389/chat-gateway/internal/store"
)

type choice struct {
	FinishReason *string `json:"finish_reason"`
}

type chunkDetail struct {
	Choices []choice   `json:"choices"`
	Usage   *usageJSON `json:"usage,omitempty"`
}

type usageJSON struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated"`
}

// chunkJSON is one streamed update as the client expects it.
type chunkJSON struct {
	ID              string      `json:"id"`
	ConversationID  string      `json:"conversationId"`
	ParentMessageID string      `json:"parentMessageId,omitempty"`
	Text            string      `json:"text"`
	Detail          chunkDetail `json:"detail"`
}

// streamSink writes chunks to the response. The first object is written
// bare and every later one is prefixed with a newline.
type streamSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	first   bool
}

func newStreamSink(w http.ResponseWriter) *streamSink {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, _ := w.(http.Flusher)
	return &streamSink{w: w, flusher: flusher, first: true}
}

func (s *streamSink) write(v any, prefix bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if prefix || !s.first {
		_, _ = s.w.Write([]byte("\n"))
	}
	s.first = false
	_, _ = s.w.Write(data)
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// Chunk forwards one backend chunk.
func (s *streamSink) Chunk(c backend.Chunk) {
	var reason *string
	if c.FinishReason != "" {
		r := c.FinishReason
		reason = &r
	}
	s.write(chunkJSON{
		ID:             c.ID,
		ConversationID: c.ConversationID,
		Text:           c.Text,
		Detail:         chunkDetail{Choices: []choice{{FinishReason: reason}}},
	}, false)
}

// Result writes the completed answer with its usage, always newline-prefixed.
func (s *streamSink) Result(r *backend.Result) {
	reason := r.FinishReason
	s.write(chunkJSON{
		ID:              r.ID,
		ConversationID:  r.ConversationID,
		ParentMessageID: r.ParentMessageID,
		Text:            r.Text,
		Detail: chunkDetail{
			Choices: []choice{{FinishReason: &reason}},
			Usage:   toUsageJSON(r.Usage),
		},
	}, true)
}

// Error writes {message}.
func (s *streamSink) Error(message string) {
	s.write(map[string]string{"message": message}, false)
}

func toUsageJSON(u *store.Usage) *usageJSON {
	if u == nil {
		return nil
	}
	return &usageJSON{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Estimated:        u.Estimated,
	}
}
