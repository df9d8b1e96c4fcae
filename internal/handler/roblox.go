package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/auth"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/roblox"
)

// RobloxAPI is the part of the Roblox client exposed through the proxy.
// *roblox.Client implements it.
type RobloxAPI interface {
	GetUser(ctx context.Context, userID int64) (*roblox.User, error)
	SearchUser(ctx context.Context, username string) (*roblox.User, error)
	AvatarURL(ctx context.Context, userID int64) (string, error)
	GameDetails(ctx context.Context, universeID int64) (*model.Game, error)
	ResolveUniverse(ctx context.Context, input string) (int64, error)
}

// RobloxHandler proxies read-only Roblox lookups for the Mini App.
//
// The Roblox web APIs don't send CORS headers, so the browser inside
// Telegram can't call them directly. Going through the server also puts
// the shared lookup cache in front of them.
//
// Only approved users may use the proxy.
type RobloxHandler struct {
	api    RobloxAPI
	logger *slog.Logger
}

// NewRobloxHandler creates a RobloxHandler.
func NewRobloxHandler(api RobloxAPI, logger *slog.Logger) *RobloxHandler {
	return &RobloxHandler{api: api, logger: logger}
}

// requireApprovedCaller checks the user RequireInitData loaded for this
// request.
func requireApprovedCaller(r *http.Request) error {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		return apperror.Unauthenticated()
	}
	if u.Status != model.StatusApproved {
		return apperror.Forbidden("account is not approved")
	}
	return nil
}

// HandleUser returns a Roblox profile by id.
//
// HTTP: GET /api/roblox/user/{id}
func (h *RobloxHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	if err := requireApprovedCaller(r); err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	u, err := h.api.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleSearchUser finds a Roblox user by name.
//
// HTTP: GET /api/roblox/user/search/{username}
func (h *RobloxHandler) HandleSearchUser(w http.ResponseWriter, r *http.Request) {
	if err := requireApprovedCaller(r); err != nil {
		writeError(w, err)
		return
	}

	u, err := h.api.SearchUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleAvatar returns a user's headshot URL.
//
// HTTP: GET /api/roblox/avatar/{id}
// RESPONSE: {"userId": 156, "imageUrl": "https://tr.rbxcdn.com/..."}
func (h *RobloxHandler) HandleAvatar(w http.ResponseWriter, r *http.Request) {
	if err := requireApprovedCaller(r); err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	url, err := h.api.AvatarURL(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": id, "imageUrl": url})
}

// HandleGame returns a game's details and current metrics.
//
// HTTP: GET /api/roblox/game/{universeId}
func (h *RobloxHandler) HandleGame(w http.ResponseWriter, r *http.Request) {
	if err := requireApprovedCaller(r); err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "universeId")
	if err != nil {
		writeError(w, err)
		return
	}

	g, err := h.api.GameDetails(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleResolve turns a game link, place id or universe id into a
// universe id.
//
// HTTP: GET /api/roblox/resolve?input=https://www.roblox.com/games/606849621
// RESPONSE: {"universeId": 245662005}
func (h *RobloxHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if err := requireApprovedCaller(r); err != nil {
		writeError(w, err)
		return
	}

	input := strings.TrimSpace(r.URL.Query().Get("input"))
	if input == "" {
		writeError(w, apperror.ValidationFailed("input", "input is required"))
		return
	}

	id, err := h.api.ResolveUniverse(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"universeId": id})
}
