// ABOUTME: Store interfaces and data types for chat-gateway persistence
// ABOUTME: Defines Room, Message, Credential, UsageRecord and the repository interfaces

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating a room whose id is taken for that owner
var ErrAlreadyExists = errors.New("already exists")

// ErrConflict is returned when a message id is already used within a room
var ErrConflict = errors.New("conflict")

// DefaultPageSize is the number of messages returned by ListMessages when no size is given
const DefaultPageSize = 20

// RoomState is the lifecycle state of a room
type RoomState string

const (
	RoomActive  RoomState = "active"
	RoomDeleted RoomState = "deleted"
)

// Room is a named conversation thread owned by one user
type Room struct {
	ID           int64
	OwnerID      string
	Title        string
	SystemPrompt string
	UsingContext bool
	State        RoomState
	CreatedAt    time.Time
}

// MessageState tracks the two independent soft-delete axes of a message
type MessageState string

const (
	MessageActive          MessageState = "active"
	MessagePromptDeleted   MessageState = "prompt_deleted"
	MessageResponseDeleted MessageState = "response_deleted"
	MessageBothDeleted     MessageState = "both_deleted"
)

// PromptVisible reports whether the prompt side of a message is still shown
func (s MessageState) PromptVisible() bool {
	return s == MessageActive || s == MessageResponseDeleted
}

// ResponseVisible reports whether the response side of a message is still shown
func (s MessageState) ResponseVisible() bool {
	return s == MessageActive || s == MessagePromptDeleted
}

// Side selects which half of a message a soft delete applies to
type Side string

const (
	SidePrompt   Side = "prompt"
	SideResponse Side = "response"
)

// NextState returns the state after deleting side. Deleting an already
// deleted side leaves the state unchanged.
func NextState(current MessageState, side Side) MessageState {
	switch {
	case current == MessageActive && side == SidePrompt:
		return MessagePromptDeleted
	case current == MessageActive && side == SideResponse:
		return MessageResponseDeleted
	case current == MessagePromptDeleted && side == SideResponse:
		return MessageBothDeleted
	case current == MessageResponseDeleted && side == SidePrompt:
		return MessageBothDeleted
	}
	return current
}

// Linkage carries the backend identifiers needed to resume context
type Linkage struct {
	ParentMessageID       string `json:"parentMessageId,omitempty"`
	BackendMessageID      string `json:"backendMessageId,omitempty"`
	BackendConversationID string `json:"backendConversationId,omitempty"`
}

// Usage is the token accounting reported (or estimated) for one answer
type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	Estimated        bool `json:"estimated"`
}

// Answer is one generated response. The live answer of a message and every
// superseded alternative share this shape.
type Answer struct {
	Response string  `json:"response"`
	Linkage  Linkage `json:"linkage"`
	Usage    *Usage  `json:"usage,omitempty"`
}

// RequestOptions records the parameters the exchange was sent with
type RequestOptions struct {
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	TopP         float32 `json:"topP,omitempty"`
	Model        string  `json:"model,omitempty"`
}

// Message is one prompt and its answers within a room
type Message struct {
	ID           int64
	OwnerID      string
	RoomID       int64
	Prompt       string
	Response     string
	CreatedAt    time.Time
	State        MessageState
	Linkage      Linkage
	Usage        *Usage
	Options      RequestOptions
	Alternatives []Answer
}

// Answered reports whether the backend has produced a live answer for the message
func (m *Message) Answered() bool {
	return m.Linkage.BackendMessageID != ""
}

// LiveAnswer returns the current answer as an Answer value
func (m *Message) LiveAnswer() Answer {
	return Answer{Response: m.Response, Linkage: m.Linkage, Usage: m.Usage}
}

// AnswerAt returns the alternative at index, or the live answer when index
// equals the number of alternatives.
func (m *Message) AnswerAt(index int) (Answer, error) {
	if index < 0 || index > len(m.Alternatives) {
		return Answer{}, ErrNotFound
	}
	if index == len(m.Alternatives) {
		return m.LiveAnswer(), nil
	}
	return m.Alternatives[index], nil
}

// CredentialState is the lifecycle state of a backend credential
type CredentialState string

const (
	CredentialEnabled  CredentialState = "enabled"
	CredentialDisabled CredentialState = "disabled"
)

// Credential is a backend access secret scoped to models and caller roles
type Credential struct {
	ID         string
	Secret     string
	BaseURL    string
	ModelScope []string
	RoleScope  []RoleName
	State      CredentialState
	Note       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ServesModel reports whether model is in the credential's model scope
func (c *Credential) ServesModel(model string) bool {
	for _, m := range c.ModelScope {
		if m == model {
			return true
		}
	}
	return false
}

// UsageRecord is one append-only token accounting entry
type UsageRecord struct {
	ID               string
	UserID           string
	RoomID           int64
	MessageID        int64
	BackendMessageID string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Estimated        bool
	Timestamp        time.Time
}

// ConversationStore persists rooms and messages
type ConversationStore interface {
	// Rooms
	CreateRoom(ctx context.Context, ownerID, title string, roomID int64) (*Room, error)
	GetRoom(ctx context.Context, ownerID string, roomID int64) (*Room, error)
	ListRooms(ctx context.Context, ownerID string) ([]*Room, error)
	RenameRoom(ctx context.Context, ownerID string, roomID int64, title string) (bool, error)
	SetRoomPrompt(ctx context.Context, ownerID string, roomID int64, prompt string) (bool, error)
	SetRoomUsingContext(ctx context.Context, ownerID string, roomID int64, using bool) (bool, error)
	DeleteRoom(ctx context.Context, ownerID string, roomID int64) (bool, error)

	// Messages are addressed by (owner, room, message); room ids are only unique per owner
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, ownerID string, roomID, messageID int64) (*Message, error)
	GetMessageByBackendID(ctx context.Context, ownerID string, roomID int64, backendMessageID string) (*Message, error)
	ListMessages(ctx context.Context, ownerID string, roomID int64, before *int64, pageSize int) ([]*Message, error)
	RecordRegeneratedAnswer(ctx context.Context, ownerID string, roomID, messageID int64, answer Answer) error
	RecordFreshAnswer(ctx context.Context, ownerID string, roomID, messageID int64, answer Answer) error
	SoftDeleteMessage(ctx context.Context, ownerID string, roomID, messageID int64, side Side) error
	ClearRoom(ctx context.Context, ownerID string, roomID int64) error
	ClearAllRooms(ctx context.Context, ownerID string) error
}

// CredentialStore persists backend credentials
type CredentialStore interface {
	ListCredentials(ctx context.Context) ([]*Credential, error)
	ListEnabledCredentials(ctx context.Context) ([]*Credential, error)
	GetCredential(ctx context.Context, id string) (*Credential, error)
	UpsertCredential(ctx context.Context, cred *Credential) error
	SetCredentialState(ctx context.Context, id string, state CredentialState) error
}

// UsageStore persists the usage ledger
type UsageStore interface {
	SaveUsage(ctx context.Context, rec *UsageRecord) error
	ListUsage(ctx context.Context, userID string, start, end time.Time) ([]*UsageRecord, error)
}

// Store is the full persistence surface implemented by SQLiteStore and MockStore
type Store interface {
	ConversationStore
	CredentialStore
	UsageStore
	Ping(ctx context.Context) error
	Close() error
}
