package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/roblox-stats/internal/service"
	"github.com/sakif/roblox-stats/internal/websocket"
)

// LiveHandler upgrades approved users to a websocket that streams metric
// updates for the games on their watch-list.
type LiveHandler struct {
	hub    *websocket.Hub
	games  *service.WatchlistService
	logger *slog.Logger
}

// NewLiveHandler creates a LiveHandler.
func NewLiveHandler(hub *websocket.Hub, games *service.WatchlistService, logger *slog.Logger) *LiveHandler {
	return &LiveHandler{hub: hub, games: games, logger: logger}
}

// HandleWs subscribes the connection to every game on the watch-list.
// More games can be added over the socket with a "subscribe" message.
//
// HTTP: GET /ws?initData=...
//
// Browsers can't set headers on a websocket handshake, which is why
// RequireInitData also accepts the init data as a query parameter.
func (h *LiveHandler) HandleWs(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	// List fails with Forbidden for unapproved users, before the upgrade.
	entries, err := h.games.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	gameIDs := make([]int64, 0, len(entries))
	for _, e := range entries {
		gameIDs = append(gameIDs, e.GameID)
	}
	websocket.ServeWs(h.hub, h.logger, w, r, id, gameIDs)
}
