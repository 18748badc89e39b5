// ABOUTME: Admin HTTP handlers for backend credentials
// ABOUTME: Lists credentials with masked secrets, upserts them, and toggles their status

package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/chat-gateway/internal/store"
)

type keyResponse struct {
	ID         string   `json:"_id"`
	Key        string   `json:"key"`
	BaseURL    string   `json:"baseUrl,omitempty"`
	ChatModels []string `json:"chatModels"`
	UserRoles  []string `json:"userRoles"`
	Status     string   `json:"status"`
	Remark     string   `json:"remark"`
	CreatedAt  string   `json:"createdAt"`
	UpdatedAt  string   `json:"updatedAt"`
}

type keyUpsertRequest struct {
	ID         string   `json:"_id" validate:"omitempty,uuid"`
	Key        string   `json:"key" validate:"required_without=ID"`
	BaseURL    string   `json:"baseUrl" validate:"omitempty,url"`
	ChatModels []string `json:"chatModels" validate:"required,min=1,dive,required"`
	UserRoles  []string `json:"userRoles" validate:"required,min=1,dive,oneof=Admin User Guest Support Tester Partner"`
	Status     string   `json:"status" validate:"omitempty,oneof=enabled disabled"`
	Remark     string   `json:"remark" validate:"max=500"`
}

type keyStatusRequest struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status" validate:"required,oneof=enabled disabled"`
}

// maskSecret keeps only the last four characters of a secret.
func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", 8) + secret[len(secret)-4:]
}

func toKeyResponse(c *store.Credential) keyResponse {
	roles := make([]string, 0, len(c.RoleScope))
	for _, role := range c.RoleScope {
		roles = append(roles, string(role))
	}
	models := c.ModelScope
	if models == nil {
		models = []string{}
	}
	return keyResponse{
		ID:         c.ID,
		Key:        maskSecret(c.Secret),
		BaseURL:    c.BaseURL,
		ChatModels: models,
		UserRoles:  roles,
		Status:     string(c.State),
		Remark:     c.Note,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  c.UpdatedAt.Format(time.RFC3339),
	}
}

func (g *Gateway) handleListKeys(w http.ResponseWriter, r *http.Request) {
	creds, err := g.pool.List(r.Context())
	if err != nil {
		g.logger.Error("failed to list credentials", "error", err)
		writeFail(w, r, "Load error")
		return
	}

	result := make([]keyResponse, 0, len(creds))
	for _, c := range creds {
		result = append(result, toKeyResponse(c))
	}
	writeSuccess(w, "", result)
}

func (g *Gateway) handleUpsertKey(w http.ResponseWriter, r *http.Request) {
	var req keyUpsertRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}

	roles := make([]store.RoleName, 0, len(req.UserRoles))
	for _, name := range req.UserRoles {
		role, err := store.ParseRole(name)
		if err != nil {
			writeFail(w, r, err.Error())
			return
		}
		roles = append(roles, role)
	}

	state := store.CredentialState(req.Status)
	if state == "" {
		state = store.CredentialEnabled
	}

	secret, ok := g.upsertSecret(w, r, req)
	if !ok {
		return
	}

	cred := &store.Credential{
		ID:         req.ID,
		Secret:     secret,
		BaseURL:    req.BaseURL,
		ModelScope: req.ChatModels,
		RoleScope:  roles,
		State:      state,
		Note:       req.Remark,
	}
	if err := g.pool.Upsert(r.Context(), cred); err != nil {
		g.logger.Error("failed to upsert credential", "error", err)
		writeFail(w, r, err.Error())
		return
	}
	writeSuccess(w, "Successfully", toKeyResponse(cred))
}

// upsertSecret returns the secret to store. Updating an existing credential
// with an empty key or with its listed mask keeps the stored secret.
func (g *Gateway) upsertSecret(w http.ResponseWriter, r *http.Request, req keyUpsertRequest) (string, bool) {
	if req.ID == "" {
		return req.Key, true
	}

	existing, err := g.store.GetCredential(r.Context(), req.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if req.Key == "" {
			writeFail(w, r, "Unknown key")
			return "", false
		}
		return req.Key, true
	case err != nil:
		g.logger.Error("failed to load credential", "error", err, "id", req.ID)
		writeFail(w, r, "Load error")
		return "", false
	}

	if req.Key == "" || req.Key == maskSecret(existing.Secret) {
		return existing.Secret, true
	}
	return req.Key, true
}

func (g *Gateway) handleKeyStatus(w http.ResponseWriter, r *http.Request) {
	var req keyStatusRequest
	if err := bind(r, &req); err != nil {
		writeFail(w, r, err.Error())
		return
	}

	err := g.pool.SetStatus(r.Context(), req.ID, store.CredentialState(req.Status))
	if errors.Is(err, store.ErrNotFound) {
		writeFail(w, r, "Unknown key")
		return
	}
	if err != nil {
		g.logger.Error("failed to update credential status", "error", err, "id", req.ID)
		writeFail(w, r, err.Error())
		return
	}
	writeSuccess(w, "Update successfully", nil)
}
