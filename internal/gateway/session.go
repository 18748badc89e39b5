// ABOUTME: HTTP handlers for the session snapshot, verification codes, and usage statistics
// ABOUTME: Session works anonymously; statistics are always scoped to the caller

package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/credential"
	"github.com/2389/chat-gateway/internal/usage"
)

// apiModel is the backend family reported to clients.
const apiModel = "ChatGPTAPI"

type modelEntry struct {
	Label string `json:"label"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type sessionResponse struct {
	Auth          bool         `json:"auth"`
	AllowRegister bool         `json:"allowRegister"`
	Model         string       `json:"model"`
	Title         string       `json:"title"`
	Notice        string       `json:"notice,omitempty"`
	ChatModels    []modelEntry `json:"chatModels"`
	AllChatModels []modelEntry `json:"allChatModels"`
}

type verificationRequest struct {
	Phone string `json:"phone" validate:"required,numeric,min=5,max=15"`
}

type statisticsRequest struct {
	Start int64 `json:"start" validate:"min=0"`
	End   int64 `json:"end" validate:"min=0"`
}

func modelEntries(options []credential.ModelOption) []modelEntry {
	entries := make([]modelEntry, 0, len(options))
	for _, opt := range options {
		entries = append(entries, modelEntry{Label: opt.Label, Key: opt.Model, Value: opt.Model})
	}
	return entries
}

func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	all := make([]modelEntry, 0, len(g.pool.Models()))
	for _, m := range g.pool.Models() {
		all = append(all, modelEntry{Label: m, Key: m, Value: m})
	}

	resp := sessionResponse{
		Auth:          true,
		Model:         apiModel,
		Title:         g.config.Site.Title,
		Notice:        g.config.Site.Notice,
		ChatModels:    []modelEntry{},
		AllChatModels: all,
	}

	if caller := auth.FromContext(r.Context()); caller != nil {
		options, err := g.pool.ModelsFor(r.Context(), caller.Roles)
		if err != nil {
			g.logger.Error("failed to list models", "error", err, "user_id", caller.UserID)
			writeFail(w, r, "Load error")
			return
		}
		resp.ChatModels = modelEntries(options)
	}

	writeSuccess(w, "", resp)
}

func (g *Gateway) handleSendVerificationCode(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, "Please enter a valid phone number")
		return
	}

	if ok, _ := g.cooldown.Acquire(req.Phone); !ok {
		writeFail(w, r, "A code was already sent within the last minute")
		return
	}

	code, err := generateCode()
	if err == nil {
		err = g.sender.SendCode(r.Context(), req.Phone, code)
	}
	if err != nil {
		g.cooldown.Release(req.Phone)
		g.logger.Error("failed to send verification code", "error", err)
		writeFail(w, r, "SMS service is temporarily unavailable, please try again later")
		return
	}

	writeSuccess(w, "Verification code sent, valid for 10 minutes", nil)
}

func (g *Gateway) handleStatisticsByDay(w http.ResponseWriter, r *http.Request) {
	caller := auth.MustFromContext(r.Context())

	var req statisticsRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}

	stats, err := g.ledger.AggregateByDay(r.Context(), caller.UserID, req.Start, req.End)
	if errors.Is(err, usage.ErrInvalidRange) {
		writeFail(w, r, "start must not be after end")
		return
	}
	if errors.Is(err, usage.ErrRangeTooLarge) {
		writeFail(w, r, fmt.Sprintf("range must not span more than %d days", g.ledger.MaxDays()))
		return
	}
	if err != nil {
		g.logger.Error("failed to aggregate usage", "error", err, "user_id", caller.UserID)
		writeFail(w, r, "Load error")
		return
	}
	writeSuccess(w, "", stats)
}
