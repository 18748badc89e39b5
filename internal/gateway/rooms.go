// ABOUTME: HTTP handlers for chat rooms
// ABOUTME: List, create, rename, prompt, context toggle, and delete, all scoped to the caller

package gateway

import (
	"errors"
	"net/http"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/store"
)

// roomResponse is one entry of GET /chatrooms.
type roomResponse struct {
	UUID         int64  `json:"uuid"`
	Title        string `json:"title"`
	IsEdit       bool   `json:"isEdit"`
	Prompt       string `json:"prompt"`
	UsingContext bool   `json:"usingContext"`
}

type roomCreateRequest struct {
	Title  string `json:"title" validate:"required,max=200"`
	RoomID int64  `json:"roomId" validate:"required"`
}

type roomRenameRequest struct {
	Title  string `json:"title" validate:"required,max=200"`
	RoomID int64  `json:"roomId" validate:"required"`
}

type roomPromptRequest struct {
	Prompt string `json:"prompt" validate:"max=10000"`
	RoomID int64  `json:"roomId" validate:"required"`
}

type roomContextRequest struct {
	Using  bool  `json:"using"`
	RoomID int64 `json:"roomId" validate:"required"`
}

type roomIDRequest struct {
	RoomID int64 `json:"roomId" validate:"required"`
}

func (g *Gateway) handleListRooms(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	rooms, err := g.store.ListRooms(r.Context(), caller.UserID)
	if err != nil {
		g.logger.Error("failed to list rooms", "error", err, "user_id", caller.UserID)
		writeFail(w, r, "Load error")
		return
	}

	result := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		result = append(result, roomResponse{
			UUID:         room.ID,
			Title:        room.Title,
			Prompt:       room.SystemPrompt,
			UsingContext: room.UsingContext,
		})
	}
	writeSuccess(w, "", result)
}

func (g *Gateway) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req roomCreateRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}

	room, err := g.store.CreateRoom(r.Context(), caller.UserID, req.Title, req.RoomID)
	if errors.Is(err, store.ErrAlreadyExists) {
		writeFail(w, r, "Room already exists")
		return
	}
	if err != nil {
		g.logger.Error("failed to create room", "error", err, "user_id", caller.UserID)
		writeFail(w, r, "Create error")
		return
	}
	writeSuccess(w, "", roomResponse{UUID: room.ID, Title: room.Title, UsingContext: room.UsingContext})
}

func (g *Gateway) handleRenameRoom(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req roomRenameRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}

	ok, err := g.store.RenameRoom(r.Context(), caller.UserID, req.RoomID, req.Title)
	g.writeRoomUpdate(w, r, ok, err, "Rename error")
}

func (g *Gateway) handleRoomPrompt(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req roomPromptRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}

	ok, err := g.store.SetRoomPrompt(r.Context(), caller.UserID, req.RoomID, req.Prompt)
	g.writeRoomUpdate(w, r, ok, err, "Save error")
}

func (g *Gateway) handleRoomContext(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req roomContextRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}

	ok, err := g.store.SetRoomUsingContext(r.Context(), caller.UserID, req.RoomID, req.Using)
	g.writeRoomUpdate(w, r, ok, err, "Save error")
}

func (g *Gateway) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req roomIDRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}

	ok, err := g.store.DeleteRoom(r.Context(), caller.UserID, req.RoomID)
	g.writeRoomUpdate(w, r, ok, err, "Delete error")
}

// writeRoomUpdate maps the result of a targeted room update to an envelope.
func (g *Gateway) writeRoomUpdate(w http.ResponseWriter, r *http.Request, ok bool, err error, failMessage string) {
	if err != nil {
		g.logger.Error("room update failed", "error", err, "path", r.URL.Path)
		writeFail(w, r, failMessage)
		return
	}
	if !ok {
		writeFail(w, r, "Unknown room")
		return
	}
	writeSuccess(w, "", nil)
}
