package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/service"
)

// GamesHandler serves the caller's watch-list.
type GamesHandler struct {
	games  *service.WatchlistService
	logger *slog.Logger
}

// NewGamesHandler creates a GamesHandler.
func NewGamesHandler(games *service.WatchlistService, logger *slog.Logger) *GamesHandler {
	return &GamesHandler{games: games, logger: logger}
}

// HandleList returns the watch-list in the order games were added.
//
// HTTP: GET /api/games
func (h *GamesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.games.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.WatchEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// addGameRequest accepts two shapes:
//
//	{"input": "https://www.roblox.com/games/606849621/Jailbreak"}
//	{"universeId": 245662005, "name": "Jailbreak", "thumbnailUrl": "..."}
//
// The first is resolved and looked up on Roblox; the second stores what
// the Mini App already fetched.
type addGameRequest struct {
	Input        string            `json:"input"`
	UniverseID   int64             `json:"universeId"`
	Name         string            `json:"name"`
	ThumbnailURL string            `json:"thumbnailUrl"`
	Metrics      model.GameMetrics `json:"metrics"`
}

// HandleAdd puts a game on the watch-list.
//
// HTTP: POST /api/games
// RESPONSE: 201 with the stored entry, 409 if the game is already tracked.
func (h *GamesHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req addGameRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	var entry *model.WatchEntry
	switch input := strings.TrimSpace(req.Input); {
	case input != "":
		entry, err = h.games.Track(r.Context(), id, input)
	case req.UniverseID != 0:
		entry, err = h.games.Add(r.Context(), id, req.UniverseID, model.GameMeta{
			Name:         req.Name,
			ThumbnailURL: req.ThumbnailURL,
			Metrics:      req.Metrics,
		})
	default:
		err = apperror.ValidationFailed("input", "a game link, place id or universe id is required")
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// HandleRemove takes a game off the watch-list.
//
// HTTP: DELETE /api/games/{universeId}
func (h *GamesHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	gameID, err := pathID(r, "universeId")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.games.Remove(r.Context(), id, gameID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type refreshResponse struct {
	Game      *model.WatchEntry `json:"game"`
	Refreshed bool              `json:"refreshed"`
}

// HandleRefresh fetches fresh metrics for one tracked game.
//
// HTTP: POST /api/games/{universeId}/refresh
//
// When Roblox is down the cached entry comes back with refreshed=false and
// a 200; the Mini App shows the stale numbers with their timestamp.
func (h *GamesHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	gameID, err := pathID(r, "universeId")
	if err != nil {
		writeError(w, err)
		return
	}

	entry, refreshed, err := h.games.Refresh(r.Context(), id, gameID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Game: entry, Refreshed: refreshed})
}
