package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/auth"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository/jsonfile"
	"github.com/sakif/roblox-stats/internal/roblox"
	"github.com/sakif/roblox-stats/internal/service"
)

const adminID int64 = 1

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRoblox stands in for the Roblox client. Universe 999 and user 7 exist.
type fakeRoblox struct {
	err   error
	calls int
}

var obby = model.Game{
	UniverseID:   999,
	RootPlaceID:  111,
	Name:         "Obby",
	ThumbnailURL: "https://tr.rbxcdn.com/obby.png",
	Metrics:      model.GameMetrics{Visits: 100, Playing: 5, UpVotes: 3, DownVotes: 1},
}

func (f *fakeRoblox) GetUser(_ context.Context, id int64) (*roblox.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if id != 7 {
		return nil, apperror.NotFound("Roblox user", strconv.FormatInt(id, 10))
	}
	return &roblox.User{ID: 7, Name: "builderman", DisplayName: "Builder"}, nil
}

func (f *fakeRoblox) SearchUser(ctx context.Context, name string) (*roblox.User, error) {
	if name != "builderman" {
		f.calls++
		return nil, apperror.NotFound("Roblox user", name)
	}
	return f.GetUser(ctx, 7)
}

func (f *fakeRoblox) AvatarURL(_ context.Context, id int64) (string, error) {
	f.calls++
	return "https://tr.rbxcdn.com/avatar-" + strconv.FormatInt(id, 10) + ".png", f.err
}

func (f *fakeRoblox) ExternalAccount(ctx context.Context, id int64) (*model.ExternalAccount, error) {
	u, err := f.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.ExternalAccount{ID: u.ID, Username: u.Name, DisplayName: u.DisplayName}, nil
}

func (f *fakeRoblox) GameDetails(_ context.Context, id int64) (*model.Game, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if id != obby.UniverseID {
		return nil, apperror.NotFound("game", strconv.FormatInt(id, 10))
	}
	g := obby
	return &g, nil
}

func (f *fakeRoblox) ResolveUniverse(_ context.Context, input string) (int64, error) {
	f.calls++
	switch input {
	case "999", "111", "https://www.roblox.com/games/111/Obby":
		return 999, nil
	case "555":
		return 0, apperror.NotFound("game", input)
	}
	return 0, apperror.ValidationFailed("input", "not a game link or id")
}

type fixture struct {
	store  *jsonfile.Store
	users  *service.UserService
	games  *service.WatchlistService
	roblox *fakeRoblox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := jsonfile.NewMemory()
	rbx := &fakeRoblox{}
	f := &fixture{
		store:  store,
		users:  service.NewUserService(store, store, []int64{adminID}, nil, testLogger()),
		games:  service.NewWatchlistService(store, store, rbx, testLogger()),
		roblox: rbx,
	}
	f.register(t, adminID)
	return f
}

func (f *fixture) register(t *testing.T, id int64) *model.User {
	t.Helper()
	u, _, err := f.users.GetOrCreate(context.Background(), model.User{ID: id, FirstName: "User" + strconv.FormatInt(id, 10)})
	require.NoError(t, err)
	return u
}

func (f *fixture) approve(t *testing.T, id int64) {
	t.Helper()
	f.register(t, id)
	_, _, err := f.users.SetStatus(context.Background(), adminID, id, model.StatusApproved)
	require.NoError(t, err)
}

// as wraps h so every request runs as the stored user id, the way
// RequireInitData would leave it.
func (f *fixture) as(id int64, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := f.store.GetByID(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), u)))
	})
}

// do sends a request through h and returns the recorder.
func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		buf = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

// errorBody is the shape writeError produces.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

// router mounts routes the same way the server does, minus init data.
func router(mount func(r chi.Router)) *chi.Mux {
	r := chi.NewRouter()
	mount(r)
	return r
}
