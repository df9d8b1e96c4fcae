package handler_test

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/roblox-stats/internal/handler"
	"github.com/sakif/roblox-stats/internal/model"
)

func userRoutes(f *fixture) *chi.Mux {
	h := handler.NewUserHandler(f.users, f.games, f.roblox, testLogger())
	return router(func(r chi.Router) {
		r.Get("/api/user", h.HandleGet)
		r.Put("/api/user/settings", h.HandleUpdateSettings)
		r.Post("/api/user/roblox", h.HandleLink)
		r.Delete("/api/user/roblox", h.HandleUnlink)
	})
}

type profile struct {
	User    model.User         `json:"user"`
	Games   []model.WatchEntry `json:"games"`
	IsAdmin bool               `json:"isAdmin"`
}

func TestUserHandler_Get(t *testing.T) {
	t.Run("pending user gets an empty game list", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, 42)

		rr := do(t, f.as(42, userRoutes(f)), http.MethodGet, "/api/user", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		p := decode[profile](t, rr)
		assert.Equal(t, model.StatusPending, p.User.Status)
		assert.NotNil(t, p.Games)
		assert.Empty(t, p.Games)
		assert.False(t, p.IsAdmin)
	})

	t.Run("approved user gets the watch-list", func(t *testing.T) {
		f := newFixture(t)
		f.approve(t, 42)
		_, err := f.games.Add(t.Context(), 42, 999, model.GameMeta{Name: "Obby"})
		require.NoError(t, err)

		rr := do(t, f.as(42, userRoutes(f)), http.MethodGet, "/api/user", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		p := decode[profile](t, rr)
		require.Len(t, p.Games, 1)
		assert.Equal(t, int64(999), p.Games[0].GameID)
	})

	t.Run("admin flag", func(t *testing.T) {
		f := newFixture(t)

		rr := do(t, f.as(adminID, userRoutes(f)), http.MethodGet, "/api/user", nil)

		require.Equal(t, http.StatusOK, rr.Code)
		p := decode[profile](t, rr)
		assert.True(t, p.IsAdmin)
		assert.Equal(t, model.StatusApproved, p.User.Status)
	})

	t.Run("no user in context", func(t *testing.T) {
		f := newFixture(t)

		rr := do(t, userRoutes(f), http.MethodGet, "/api/user", nil)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "unauthorized", decode[errorBody](t, rr).Error)
	})
}

func TestUserHandler_UpdateSettings(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantLang   string
		wantTheme  string
	}{
		{"both", `{"language":"en","theme":"light"}`, http.StatusOK, "en", "light"},
		{"language only", `{"language":"en"}`, http.StatusOK, "en", model.DefaultTheme},
		{"empty object is a no-op", `{}`, http.StatusOK, model.DefaultLanguage, model.DefaultTheme},
		{"unknown language", `{"language":"de"}`, http.StatusBadRequest, "", ""},
		{"explicit empty theme", `{"theme":""}`, http.StatusBadRequest, "", ""},
		{"malformed", `{"language":`, http.StatusBadRequest, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.register(t, 42)

			rr := do(t, f.as(42, userRoutes(f)), http.MethodPut, "/api/user/settings", tt.body)

			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "validation_error", decode[errorBody](t, rr).Error)
				return
			}
			u := decode[model.User](t, rr)
			assert.Equal(t, tt.wantLang, u.Language)
			assert.Equal(t, tt.wantTheme, u.Theme)
		})
	}
}

func TestUserHandler_Link(t *testing.T) {
	t.Run("approved user links", func(t *testing.T) {
		f := newFixture(t)
		f.approve(t, 42)

		rr := do(t, f.as(42, userRoutes(f)), http.MethodPost, "/api/user/roblox", map[string]any{"robloxId": 7})

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		u := decode[model.User](t, rr)
		require.NotNil(t, u.External)
		assert.Equal(t, "builderman", u.External.Username)
	})

	t.Run("pending user is forbidden before Roblox is called", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, 42)

		rr := do(t, f.as(42, userRoutes(f)), http.MethodPost, "/api/user/roblox", map[string]any{"robloxId": 7})

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Zero(t, f.roblox.calls)
	})

	t.Run("unknown Roblox user", func(t *testing.T) {
		f := newFixture(t)
		f.approve(t, 42)

		rr := do(t, f.as(42, userRoutes(f)), http.MethodPost, "/api/user/roblox", map[string]any{"robloxId": 8})

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("missing id", func(t *testing.T) {
		f := newFixture(t)
		f.approve(t, 42)

		rr := do(t, f.as(42, userRoutes(f)), http.MethodPost, "/api/user/roblox", `{}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "robloxId", decode[errorBody](t, rr).Field)
	})
}

func TestUserHandler_Unlink(t *testing.T) {
	f := newFixture(t)
	f.approve(t, 42)
	routes := f.as(42, userRoutes(f))

	rr := do(t, routes, http.MethodPost, "/api/user/roblox", map[string]any{"robloxId": 7})
	require.Equal(t, http.StatusOK, rr.Code)

	// Unlinking has no status requirement.
	_, _, err := f.users.SetStatus(t.Context(), adminID, 42, model.StatusRejected)
	require.NoError(t, err)

	rr = do(t, routes, http.MethodDelete, "/api/user/roblox", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Nil(t, decode[model.User](t, rr).External)
}
