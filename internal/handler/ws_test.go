package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/roblox-stats/internal/handler"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/websocket"
)

func startLive(t *testing.T, f *fixture, userID int64) (*websocket.Hub, string) {
	t.Helper()
	hub := websocket.NewHub(testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)

	h := handler.NewLiveHandler(hub, f.games, testLogger())
	srv := httptest.NewServer(f.as(userID, router(func(r chi.Router) {
		r.Get("/ws", h.HandleWs)
	})))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestLiveHandler_StreamsWatchedGames(t *testing.T) {
	f := newFixture(t)
	f.approve(t, 42)
	_, err := f.games.Add(t.Context(), 42, 999, model.GameMeta{Name: "Obby"})
	require.NoError(t, err)
	hub, wsURL := startLive(t, f, 42)

	conn, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return hub.GetSubscriberCount(999) == 1 }, time.Second, 5*time.Millisecond)
	hub.BroadcastGameUpdate(999, model.GameMetrics{Playing: 12})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg websocket.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, websocket.MessageTypeGameUpdate, msg.Type)
	assert.Equal(t, int64(999), msg.GameID)
}

func TestLiveHandler_PendingUserRefused(t *testing.T) {
	f := newFixture(t)
	f.register(t, 42)
	hub, wsURL := startLive(t, f, 42)

	_, resp, err := gorilla.DefaultDialer.Dial(wsURL, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.GetTotalConnections())
}
