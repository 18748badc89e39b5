// ABOUTME: HTTP handlers for chat exchanges and history
// ABOUTME: Streams chat-process replies and serves history, abort, and soft deletes

package gateway

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/chat-gateway/internal/admission"
	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/conversation"
	"github.com/2389/chat-gateway/internal/store"
)

type chatOptions struct {
	ConversationID  string `json:"conversationId"`
	ParentMessageID string `json:"parentMessageId"`
}

type chatProcessRequest struct {
	RoomID        int64       `json:"roomId" validate:"required"`
	UUID          int64       `json:"uuid" validate:"required"`
	Regenerate    bool        `json:"regenerate"`
	Prompt        string      `json:"prompt"`
	Options       chatOptions `json:"options"`
	SystemMessage string      `json:"systemMessage"`
	Temperature   float32     `json:"temperature" validate:"gte=0,lte=2"`
	TopP          float32     `json:"top_p" validate:"gte=0,lte=1"`
	Model         string      `json:"model"`
}

type chatAbortRequest struct {
	Text           string `json:"text"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type chatDeleteRequest struct {
	RoomID    int64 `json:"roomId" validate:"required"`
	UUID      int64 `json:"uuid" validate:"required"`
	Inversion bool  `json:"inversion"`
}

// preflightMessage maps errors raised before anything is streamed.
func preflightMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, conversation.ErrRoomNotFound):
		return "Unknown room", true
	case errors.Is(err, conversation.ErrContentRejected):
		return "Contains sensitive words", true
	case errors.Is(err, conversation.ErrExchangeInProgress):
		return "Another reply is still in progress", true
	case errors.Is(err, conversation.ErrMessageConflict):
		return "Message already exists", true
	case errors.Is(err, conversation.ErrMessageNotFound):
		return "Unknown message", true
	}
	return "", false
}

func (g *Gateway) handleChatProcess(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req chatProcessRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}
	if !req.Regenerate && req.Prompt == "" {
		writeFail(w, r, "prompt failed required")
		return
	}

	sink := newStreamSink(w)
	out, err := g.orchestrator.Process(r.Context(), conversation.Request{
		UserID:          caller.UserID,
		Roles:           caller.Roles,
		RoomID:          req.RoomID,
		MessageID:       req.UUID,
		Prompt:          req.Prompt,
		Regenerate:      req.Regenerate,
		ConversationID:  req.Options.ConversationID,
		ParentMessageID: req.Options.ParentMessageID,
		SystemPrompt:    req.SystemMessage,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		Model:           req.Model,
	}, sink.Chunk)

	if out == nil {
		if msg, ok := preflightMessage(err); ok {
			writeFail(w, r, msg)
			return
		}
		g.logger.Error("chat process failed", "error", err, "user_id", caller.UserID, "room_id", req.RoomID)
		admission.MarkFailed(r.Context())
		sink.Error("Internal error")
		return
	}

	switch {
	case out.Result != nil:
		result := *out.Result
		result.Usage = out.Answer.Usage
		sink.Result(&result)
	case err != nil:
		admission.MarkFailed(r.Context())
		sink.Error(err.Error())
	}
}

func (g *Gateway) handleChatAbort(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req chatAbortRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}

	messageID, ok := g.orchestrator.Abort(caller.UserID, conversation.Partial{
		Text:             req.Text,
		BackendMessageID: req.MessageID,
		ConversationID:   req.ConversationID,
	})
	if ok {
		g.logger.Info("exchange aborted", "user_id", caller.UserID, "message_id", messageID)
	}
	writeSuccess(w, "OK", nil)
}

// queryInt64 parses a numeric query parameter.
func queryInt64(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (g *Gateway) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	roomID, ok := queryInt64(r, "roomId")
	if !ok || roomID == 0 {
		writeSuccess(w, "", []conversation.Entry{})
		return
	}

	var before *int64
	if lastID, ok := queryInt64(r, "lastId"); ok {
		before = &lastID
	}

	entries, err := g.orchestrator.History(r.Context(), caller.UserID, roomID, before)
	if errors.Is(err, conversation.ErrRoomNotFound) {
		writeSuccess(w, "", []conversation.Entry{})
		return
	}
	if err != nil {
		g.logger.Error("failed to load history", "error", err, "room_id", roomID)
		writeFail(w, r, "Load error")
		return
	}
	writeSuccess(w, "", entries)
}

func (g *Gateway) handleResponseHistory(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	roomID, ok := queryInt64(r, "roomId")
	if !ok || roomID == 0 {
		writeSuccess(w, "", []conversation.Entry{})
		return
	}
	messageID, ok := queryInt64(r, "uuid")
	if !ok {
		writeFail(w, r, "uuid failed required")
		return
	}
	index, ok := queryInt64(r, "index")
	if !ok {
		writeFail(w, r, "index failed required")
		return
	}

	entry, err := g.orchestrator.ResponseAt(r.Context(), caller.UserID, roomID, messageID, int(index))
	switch {
	case errors.Is(err, conversation.ErrRoomNotFound):
		writeSuccess(w, "", []conversation.Entry{})
	case errors.Is(err, conversation.ErrMessageNotFound):
		writeFail(w, r, "Error")
	case err != nil:
		g.logger.Error("failed to load response", "error", err, "room_id", roomID, "message_id", messageID)
		writeFail(w, r, "Load error")
	default:
		writeSuccess(w, "", entry)
	}
}

// ownedRoom reports whether the caller owns an active room, writing the
// failure envelope when it does not.
func (g *Gateway) ownedRoom(w http.ResponseWriter, r *http.Request, userID string, roomID int64) bool {
	_, err := g.store.GetRoom(r.Context(), userID, roomID)
	if errors.Is(err, store.ErrNotFound) {
		writeFail(w, r, "Unknown room")
		return false
	}
	if err != nil {
		g.logger.Error("failed to load room", "error", err, "room_id", roomID)
		writeFail(w, r, "Delete error")
		return false
	}
	return true
}

func (g *Gateway) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req chatDeleteRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}
	if !g.ownedRoom(w, r, caller.UserID, req.RoomID) {
		return
	}

	side := store.SideResponse
	if req.Inversion {
		side = store.SidePrompt
	}

	err := g.store.SoftDeleteMessage(r.Context(), caller.UserID, req.RoomID, req.UUID, side)
	if errors.Is(err, store.ErrNotFound) {
		writeFail(w, r, "Unknown message")
		return
	}
	if err != nil {
		g.logger.Error("failed to delete message", "error", err, "room_id", req.RoomID, "message_id", req.UUID)
		writeFail(w, r, "Delete error")
		return
	}
	writeSuccess(w, "", nil)
}

func (g *Gateway) handleChatClear(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req roomIDRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}
	if !g.ownedRoom(w, r, caller.UserID, req.RoomID) {
		return
	}

	if err := g.store.ClearRoom(r.Context(), caller.UserID, req.RoomID); err != nil {
		g.logger.Error("failed to clear room", "error", err, "room_id", req.RoomID)
		writeFail(w, r, "Delete error")
		return
	}
	writeSuccess(w, "", nil)
}

func (g *Gateway) handleChatClearAll(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	if err := g.store.ClearAllRooms(r.Context(), caller.UserID); err != nil {
		g.logger.Error("failed to clear rooms", "error", err, "user_id", caller.UserID)
		writeFail(w, r, "Delete error")
		return
	}
	writeSuccess(w, "", nil)
}
