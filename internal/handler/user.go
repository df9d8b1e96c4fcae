package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/service"
)

// AccountLookup fetches a Roblox profile for linking.
// *roblox.Client implements it.
type AccountLookup interface {
	ExternalAccount(ctx context.Context, userID int64) (*model.ExternalAccount, error)
}

// UserHandler serves the caller's own profile, settings and Roblox link.
//
// Every route runs behind auth.RequireInitData, so the caller is always a
// stored user by the time a method here runs.
type UserHandler struct {
	users    *service.UserService
	games    *service.WatchlistService
	accounts AccountLookup
	logger   *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users *service.UserService, games *service.WatchlistService, accounts AccountLookup, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		games:    games,
		accounts: accounts,
		logger:   logger,
	}
}

// profileResponse is what the Mini App loads on start.
type profileResponse struct {
	User    *model.User        `json:"user"`
	Games   []model.WatchEntry `json:"games"`
	IsAdmin bool               `json:"isAdmin"`
}

// HandleGet returns the caller with their watch-list.
//
// HTTP: GET /api/user
//
// Users that are not approved yet get an empty game list instead of a 403:
// the Mini App needs the profile to show the "waiting for approval" screen.
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	games := []model.WatchEntry{}
	if u.Status == model.StatusApproved {
		games, err = h.games.List(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, profileResponse{
		User:    u,
		Games:   games,
		IsAdmin: h.users.IsAdmin(id),
	})
}

// HandleUpdateSettings changes language and/or theme.
//
// HTTP: PUT /api/user/settings
// REQUEST BODY: {"language": "en", "theme": "light"} (either key optional)
//
// An omitted key is left alone; an explicit "" still reaches validation.
func (h *UserHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var upd model.SettingsUpdate
	if err := decodeJSON(r, &upd, false); err != nil {
		writeError(w, err)
		return
	}

	u, err := h.users.UpdateSettings(r.Context(), id, upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type linkRequest struct {
	RobloxID int64 `json:"robloxId"`
}

// HandleLink links a Roblox account by id.
//
// HTTP: POST /api/user/roblox
// REQUEST BODY: {"robloxId": 156}
//
// Approval is checked before Roblox is called, so unapproved users cannot
// use the endpoint as a free lookup proxy.
func (h *UserHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req linkRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if req.RobloxID <= 0 {
		writeError(w, apperror.ValidationFailed("robloxId", "a positive Roblox user id is required"))
		return
	}

	if _, err := h.users.RequireApproved(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	acc, err := h.accounts.ExternalAccount(r.Context(), req.RobloxID)
	if err != nil {
		writeError(w, err)
		return
	}

	u, err := h.users.LinkExternalAccount(r.Context(), id, *acc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleUnlink removes the linked Roblox account.
//
// HTTP: DELETE /api/user/roblox
func (h *UserHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	u, err := h.users.UnlinkExternalAccount(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
