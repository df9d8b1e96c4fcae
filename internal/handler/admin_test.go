package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/roblox-stats/internal/handler"
	"github.com/sakif/roblox-stats/internal/model"
)

type recordingNotifier struct {
	notified []model.User
}

func (n *recordingNotifier) NotifyStatus(_ context.Context, u *model.User) {
	n.notified = append(n.notified, *u)
}

func adminRoutes(f *fixture, n handler.StatusNotifier) *chi.Mux {
	h := handler.NewAdminHandler(f.users, n, testLogger())
	return router(func(r chi.Router) {
		r.Get("/api/admin/stats", h.HandleStats)
		r.Get("/api/admin/pending", h.HandlePending)
		r.Get("/api/admin/users", h.HandleUsers)
		r.Get("/api/admin/users/{userId}/history", h.HandleHistory)
		r.Post("/api/admin/{action}/{userId}", h.HandleSetStatus)
	})
}

type statusBody struct {
	User   model.User          `json:"user"`
	Change *model.StatusChange `json:"change"`
}

func TestAdminHandler_ApproveFlow(t *testing.T) {
	f := newFixture(t)
	f.register(t, 42)
	n := &recordingNotifier{}
	routes := f.as(adminID, adminRoutes(f, n))

	rr := do(t, routes, http.MethodGet, "/api/admin/pending", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	pending := decode[[]model.User](t, rr)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(42), pending[0].ID)

	rr = do(t, routes, http.MethodPost, "/api/admin/approve/42", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[statusBody](t, rr)
	assert.Equal(t, model.StatusApproved, body.User.Status)
	require.NotNil(t, body.Change)
	assert.Equal(t, model.StatusPending, body.Change.From)
	assert.Equal(t, adminID, body.Change.ActorID)
	require.Len(t, n.notified, 1)
	assert.Equal(t, int64(42), n.notified[0].ID)

	// Approving again changes nothing and notifies nobody.
	rr = do(t, routes, http.MethodPost, "/api/admin/approve/42", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, decode[statusBody](t, rr).Change)
	assert.Len(t, n.notified, 1)

	rr = do(t, routes, http.MethodGet, "/api/admin/pending", nil)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = do(t, routes, http.MethodGet, "/api/admin/users/42/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]model.StatusChange](t, rr), 1)
}

func TestAdminHandler_BanAndUnban(t *testing.T) {
	f := newFixture(t)
	f.approve(t, 42)
	routes := f.as(adminID, adminRoutes(f, nil))

	rr := do(t, routes, http.MethodPost, "/api/admin/ban/42", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, routes, http.MethodPost, "/api/admin/approve/42", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code, "a ban is lifted only by unban")

	rr = do(t, routes, http.MethodPost, "/api/admin/unban/42", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, model.StatusApproved, decode[statusBody](t, rr).User.Status)

	rr = do(t, routes, http.MethodPost, "/api/admin/unban/42", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "unban of a user who is not banned")
}

func TestAdminHandler_Errors(t *testing.T) {
	f := newFixture(t)
	f.register(t, 42)
	routes := f.as(adminID, adminRoutes(f, nil))

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{"unknown action", http.MethodPost, "/api/admin/promote/42", http.StatusNotFound},
		{"unknown user", http.MethodPost, "/api/admin/approve/777", http.StatusNotFound},
		{"bad user id", http.MethodPost, "/api/admin/approve/abc", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/admin/users?limit=ten", http.StatusBadRequest},
		{"history of unknown user", http.MethodGet, "/api/admin/users/777/history", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, routes, tt.method, tt.target, nil)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestAdminHandler_NonAdminForbidden(t *testing.T) {
	f := newFixture(t)
	f.approve(t, 42)
	f.register(t, 43)
	routes := f.as(42, adminRoutes(f, nil))

	for _, target := range []string{"/api/admin/stats", "/api/admin/pending", "/api/admin/users"} {
		rr := do(t, routes, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code, target)
	}

	rr := do(t, routes, http.MethodPost, "/api/admin/approve/43", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	u, err := f.users.GetByID(t.Context(), 43)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, u.Status, "target must be untouched")
}

func TestAdminHandler_StatsAndUsers(t *testing.T) {
	f := newFixture(t)
	f.approve(t, 42)
	f.register(t, 43)
	f.register(t, 44)
	_, err := f.games.Add(t.Context(), 42, 999, model.GameMeta{Name: "Obby"})
	require.NoError(t, err)
	routes := f.as(adminID, adminRoutes(f, nil))

	rr := do(t, routes, http.MethodGet, "/api/admin/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode[model.Stats](t, rr)
	assert.Equal(t, model.Stats{
		TotalUsers:    4,
		ApprovedUsers: 2,
		PendingUsers:  2,
		TotalGames:    1,
	}, stats)

	rr = do(t, routes, http.MethodGet, "/api/admin/users?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	users := decode[[]model.User](t, rr)
	require.Len(t, users, 2)
	assert.Equal(t, int64(42), users[0].ID)
}
