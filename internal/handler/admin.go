package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository"
	"github.com/sakif/roblox-stats/internal/service"
)

// StatusNotifier tells a user their status changed. *bot.Bot implements it.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, u *model.User)
}

// AdminHandler serves the approval workflow to administrators.
//
// The routes sit behind auth.RequireAdmin, but UserService checks the
// allow-list again on every call; the middleware only saves a round trip.
type AdminHandler struct {
	users    *service.UserService
	notifier StatusNotifier
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. notifier may be nil.
func NewAdminHandler(users *service.UserService, notifier StatusNotifier, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{users: users, notifier: notifier, logger: logger}
}

// HandleStats returns user counts per status and the number of tracked games.
//
// HTTP: GET /api/admin/stats
func (h *AdminHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	actor, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := h.users.Stats(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandlePending lists users waiting for approval, oldest first.
//
// HTTP: GET /api/admin/pending?limit=20&offset=0
func (h *AdminHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.users.ListPending)
}

// HandleUsers lists every user.
//
// HTTP: GET /api/admin/users?limit=20&offset=0
func (h *AdminHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.users.ListUsers)
}

type listFunc func(ctx context.Context, actorID int64, opts repository.ListOptions) ([]model.User, error)

func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request, fn listFunc) {
	actor, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	users, err := fn(r.Context(), actor, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleHistory returns the status transitions of one user.
//
// HTTP: GET /api/admin/users/{userId}/history
func (h *AdminHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	actor, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	target, err := pathID(r, "userId")
	if err != nil {
		writeError(w, err)
		return
	}

	changes, err := h.users.History(r.Context(), actor, target)
	if err != nil {
		writeError(w, err)
		return
	}
	if changes == nil {
		changes = []model.StatusChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}

// statusActions maps the {action} URL segment to the target status.
var statusActions = map[string]model.Status{
	"approve": model.StatusApproved,
	"reject":  model.StatusRejected,
	"ban":     model.StatusBanned,
}

type statusResponse struct {
	User   *model.User         `json:"user"`
	Change *model.StatusChange `json:"change,omitempty"`
}

// HandleSetStatus approves, rejects, bans or unbans a user.
//
// HTTP: POST /api/admin/{action}/{userId}
//
//	action ∈ approve | reject | ban | unban
//
// Approving a banned user without unbanning is a 403; any other move
// outside the transition table is a 400. A same-status request succeeds
// with no change.
func (h *AdminHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	target, err := pathID(r, "userId")
	if err != nil {
		writeError(w, err)
		return
	}

	action := chi.URLParam(r, "action")
	var (
		u      *model.User
		change *model.StatusChange
	)
	if action == "unban" {
		u, change, err = h.users.Unban(r.Context(), actor, target)
	} else if to, ok := statusActions[action]; ok {
		u, change, err = h.users.SetStatus(r.Context(), actor, target, to)
	} else {
		writeError(w, apperror.NotFound("action", action))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if change != nil && h.notifier != nil {
		h.notifier.NotifyStatus(r.Context(), u)
	}

	h.logger.Info("user status changed through the API",
		slog.Int64("actor_id", actor),
		slog.Int64("user_id", target),
		slog.String("status", string(u.Status)),
	)
	writeJSON(w, http.StatusOK, statusResponse{User: u, Change: change})
}
