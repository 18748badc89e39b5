// ABOUTME: Chat history view built from stored messages
// ABOUTME: Emits prompt and response entries per message, honoring the per-side soft delete

package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/chat-gateway/internal/store"
)

// ConversationOptions is the linkage a client sends back to continue from an answer.
type ConversationOptions struct {
	ParentMessageID string `json:"parentMessageId,omitempty"`
	ConversationID  string `json:"conversationId,omitempty"`
}

// RequestOptions echoes what the prompt was sent with.
type RequestOptions struct {
	Prompt          string               `json:"prompt"`
	ParentMessageID string               `json:"parentMessageId,omitempty"`
	Options         *ConversationOptions `json:"options"`
}

// UsageView is the token usage shown next to an answer.
type UsageView struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated"`
}

// Entry is one line of chat history: a prompt (Inversion) or an answer.
type Entry struct {
	UUID                int64                `json:"uuid"`
	DateTime            string               `json:"dateTime"`
	Text                string               `json:"text"`
	Inversion           bool                 `json:"inversion"`
	Error               bool                 `json:"error"`
	Loading             bool                 `json:"loading"`
	ResponseCount       int                  `json:"responseCount,omitempty"`
	ConversationOptions *ConversationOptions `json:"conversationOptions"`
	RequestOptions      RequestOptions       `json:"requestOptions"`
	Usage               *UsageView           `json:"usage,omitempty"`
}

// BuildHistory turns messages into history entries. A prompt entry is
// emitted unless the prompt side is deleted and an answer entry unless the
// response side is deleted.
func BuildHistory(msgs []*store.Message) []Entry {
	entries := make([]Entry, 0, len(msgs)*2)
	for _, msg := range msgs {
		if msg.State.PromptVisible() {
			entries = append(entries, promptEntry(msg))
		}
		if msg.State.ResponseVisible() {
			entries = append(entries, answerEntry(msg, msg.LiveAnswer()))
		}
	}
	return entries
}

func promptEntry(msg *store.Message) Entry {
	return Entry{
		UUID:           msg.ID,
		DateTime:       msg.CreatedAt.Format(time.DateTime),
		Text:           msg.Prompt,
		Inversion:      true,
		RequestOptions: RequestOptions{Prompt: msg.Prompt},
	}
}

func answerEntry(msg *store.Message, a store.Answer) Entry {
	linkage := &ConversationOptions{
		ParentMessageID: a.Linkage.BackendMessageID,
		ConversationID:  a.Linkage.BackendConversationID,
	}
	e := Entry{
		UUID:                msg.ID,
		DateTime:            msg.CreatedAt.Format(time.DateTime),
		Text:                a.Response,
		ResponseCount:       len(msg.Alternatives) + 1,
		ConversationOptions: linkage,
		RequestOptions: RequestOptions{
			Prompt:          msg.Prompt,
			ParentMessageID: a.Linkage.ParentMessageID,
			Options:         linkage,
		},
	}
	if a.Usage != nil && a.Usage.CompletionTokens > 0 {
		e.Usage = &UsageView{
			PromptTokens:     a.Usage.PromptTokens,
			CompletionTokens: a.Usage.CompletionTokens,
			TotalTokens:      a.Usage.TotalTokens,
			Estimated:        a.Usage.Estimated,
		}
	}
	return e
}

// History returns one page of the room's history for its owner.
// before is an exclusive message id cursor; nil starts from the newest.
func (o *Orchestrator) History(ctx context.Context, userID string, roomID int64, before *int64) ([]Entry, error) {
	if err := o.ownsRoom(ctx, userID, roomID); err != nil {
		return nil, err
	}
	msgs, err := o.store.ListMessages(ctx, userID, roomID, before, store.DefaultPageSize)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return BuildHistory(msgs), nil
}

// ResponseAt returns the answer at index for a message: an alternative
// when index is below the number of alternatives, the live answer when equal.
// A message that was never regenerated has no response history.
func (o *Orchestrator) ResponseAt(ctx context.Context, userID string, roomID, messageID int64, index int) (*Entry, error) {
	if err := o.ownsRoom(ctx, userID, roomID); err != nil {
		return nil, err
	}
	msg, err := o.store.GetMessage(ctx, userID, roomID, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading message: %w", err)
	}

	if len(msg.Alternatives) == 0 {
		return nil, ErrMessageNotFound
	}
	a, err := msg.AnswerAt(index)
	if err != nil {
		return nil, ErrMessageNotFound
	}
	e := answerEntry(msg, a)
	return &e, nil
}

func (o *Orchestrator) ownsRoom(ctx context.Context, userID string, roomID int64) error {
	_, err := o.store.GetRoom(ctx, userID, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("loading room: %w", err)
	}
	return nil
}
