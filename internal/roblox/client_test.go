package roblox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/config"
)

// fakeRoblox serves every Roblox host from one mux. Universe 999 has root
// place 111; user 7 is "builderman".
func fakeRoblox(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	var mu sync.Mutex
	hits := 0

	mux := http.NewServeMux()
	count := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits++
			mu.Unlock()
			h(w, r)
		}
	}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v) //nolint:errcheck
	}

	mux.HandleFunc("/v1/users/7", count(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"id": 7, "name": "builderman", "displayName": "Builder"})
	}))
	mux.HandleFunc("/v1/users/404", count(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"errors": []map[string]any{{"code": 3, "message": "The user id is invalid."}}})
	}))
	mux.HandleFunc("/v1/users/search", count(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("keyword") == "nobody" {
			writeJSON(w, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, map[string]any{"data": []map[string]any{
			{"id": 8, "name": "buildermanfan", "displayName": "Fan"},
			{"id": 7, "name": "Builderman", "displayName": "Builder"},
		}})
	}))
	mux.HandleFunc("/v1/users/avatar-headshot", count(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("userIds") != "7" {
			writeJSON(w, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, map[string]any{"data": []map[string]any{
			{"targetId": 7, "state": "Completed", "imageUrl": "https://tr.rbxcdn.com/avatar.png"},
		}})
	}))
	mux.HandleFunc("/v1/games", count(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("universeIds") {
		case "999":
			writeJSON(w, map[string]any{"data": []map[string]any{{
				"id": 999, "rootPlaceId": 111, "name": "Obby", "description": "Jump",
				"creator":        map[string]any{"id": 1, "name": "Studio", "type": "Group"},
				"playing":        5,
				"visits":         100,
				"favoritedCount": 20,
			}}})
		case "500":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("upstream down")) //nolint:errcheck
		default:
			writeJSON(w, map[string]any{"data": []any{}})
		}
	}))
	mux.HandleFunc("/v1/games/votes", count(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("universeIds") != "999" {
			writeJSON(w, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, map[string]any{"data": []map[string]any{{"id": 999, "upVotes": 90, "downVotes": 10}}})
	}))
	mux.HandleFunc("/v1/games/icons", count(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	mux.HandleFunc("/universes/v1/places/111/universe", count(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"universeId": 999})
	}))
	mux.HandleFunc("/universes/v1/places/222/universe", count(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"universeId": nil})
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestClient(srvURL string, opts ...Option) *Client {
	return New(config.RobloxConfig{
		UsersURL:      srvURL,
		GamesURL:      srvURL,
		ThumbnailsURL: srvURL,
		APIsURL:       srvURL + "/",
		Timeout:       5 * time.Second,
	}, opts...)
}

func TestGetUser(t *testing.T) {
	srv, _ := fakeRoblox(t)
	c := newTestClient(srv.URL)

	u, err := c.GetUser(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetUser() error: %v", err)
	}
	if u.Name != "builderman" || u.DisplayName != "Builder" {
		t.Errorf("GetUser() = %+v", u)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	srv, _ := fakeRoblox(t)
	c := newTestClient(srv.URL)

	_, err := c.GetUser(context.Background(), 404)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUser() error = %v, want ErrNotFound", err)
	}
}

func TestSearchUser_PrefersExactName(t *testing.T) {
	srv, _ := fakeRoblox(t)
	c := newTestClient(srv.URL)

	u, err := c.SearchUser(context.Background(), "builderman")
	if err != nil {
		t.Fatalf("SearchUser() error: %v", err)
	}
	if u.ID != 7 {
		t.Errorf("SearchUser() id = %d, want 7", u.ID)
	}

	if _, err := c.SearchUser(context.Background(), "nobody"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SearchUser(nobody) error = %v, want ErrNotFound", err)
	}
	if _, err := c.SearchUser(context.Background(), "  "); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("SearchUser(blank) error = %v, want ErrValidation", err)
	}
}

func TestExternalAccount(t *testing.T) {
	srv, _ := fakeRoblox(t)
	c := newTestClient(srv.URL)

	acc, err := c.ExternalAccount(context.Background(), 7)
	if err != nil {
		t.Fatalf("ExternalAccount() error: %v", err)
	}
	if acc.ID != 7 || acc.Username != "builderman" || acc.AvatarURL != "https://tr.rbxcdn.com/avatar.png" {
		t.Errorf("ExternalAccount() = %+v", acc)
	}
}

func TestGameDetails(t *testing.T) {
	srv, _ := fakeRoblox(t)
	c := newTestClient(srv.URL)

	g, err := c.GameDetails(context.Background(), 999)
	if err != nil {
		t.Fatalf("GameDetails() error: %v", err)
	}
	if g.Name != "Obby" || g.Creator != "Studio" || g.RootPlaceID != 111 {
		t.Errorf("GameDetails() = %+v", g)
	}
	m := g.Metrics
	if m.Visits != 100 || m.Playing != 5 || m.Favorites != 20 || m.UpVotes != 90 || m.DownVotes != 10 {
		t.Errorf("Metrics = %+v", m)
	}
	// The icon endpoint fails in the fake; that must not fail the lookup.
	if g.ThumbnailURL != "" {
		t.Errorf("ThumbnailURL = %q, want empty", g.ThumbnailURL)
	}
}

func TestGameDetails_Errors(t *testing.T) {
	srv, _ := fakeRoblox(t)
	c := newTestClient(srv.URL)

	if _, err := c.GameDetails(context.Background(), 12345); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("unknown universe error = %v, want ErrNotFound", err)
	}

	_, err := c.GameDetails(context.Background(), 500)
	if !IsStatus(err, http.StatusServiceUnavailable) {
		t.Fatalf("error = %v, want HTTP 503", err)
	}
	if !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("error = %q, want the response body", err.Error())
	}
}

func TestResolveUniverse(t *testing.T) {
	srv, _ := fakeRoblox(t)
	c := newTestClient(srv.URL)

	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr error
	}{
		{"universe id", "999", 999, nil},
		{"place id falls back", "111", 999, nil},
		{"game link", "https://www.roblox.com/games/111/Obby", 999, nil},
		{"localized link", "roblox.com/de/games/111", 999, nil},
		{"place without universe", "222", 0, apperror.ErrNotFound},
		{"garbage", "obby please", 0, apperror.ErrValidation},
		{"negative", "-5", 0, apperror.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ResolveUniverse(context.Background(), tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveUniverse() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveUniverse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func (m *mapCache) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, errors.New("cache down")
	}
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (m *mapCache) Set(_ context.Context, key string, v any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("cache down")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = b
	return nil
}

func TestCache_ServesRepeatedLookups(t *testing.T) {
	srv, hits := fakeRoblox(t)
	cache := &mapCache{data: map[string][]byte{}}
	c := newTestClient(srv.URL, WithCache(cache, time.Minute))

	for i := 0; i < 3; i++ {
		u, err := c.GetUser(context.Background(), 7)
		if err != nil {
			t.Fatalf("GetUser() error: %v", err)
		}
		if u.Name != "builderman" {
			t.Fatalf("GetUser() = %+v", u)
		}
	}
	if *hits != 1 {
		t.Errorf("upstream hits = %d, want 1", *hits)
	}
}

func TestCache_FailureFallsThrough(t *testing.T) {
	srv, hits := fakeRoblox(t)
	c := newTestClient(srv.URL, WithCache(&mapCache{fail: true}, time.Minute))

	for i := 0; i < 2; i++ {
		if _, err := c.GetUser(context.Background(), 7); err != nil {
			t.Fatalf("GetUser() error: %v", err)
		}
	}
	if *hits != 2 {
		t.Errorf("upstream hits = %d, want 2", *hits)
	}
}

func TestIsStatus(t *testing.T) {
	err := &HTTPError{StatusCode: 429, Message: "slow down"}
	if !IsStatus(err, 429) {
		t.Error("IsStatus(429) = false")
	}
	if IsStatus(err, 500) {
		t.Error("IsStatus(500) = true")
	}
	if IsStatus(errors.New("plain"), 429) {
		t.Error("IsStatus(plain) = true")
	}
	if got := err.Error(); got != "roblox: HTTP 429: slow down" {
		t.Errorf("Error() = %q", got)
	}
}
