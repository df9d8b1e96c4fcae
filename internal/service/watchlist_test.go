package service

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository/jsonfile"
)

// fakeSource serves games from a map. err, when set, fails every lookup.
type fakeSource struct {
	games map[int64]*model.Game
	err   error
	calls int
}

func (f *fakeSource) ResolveUniverse(_ context.Context, input string) (int64, error) {
	id, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return 0, apperror.ValidationFailed("input", "not a game id")
	}
	if _, ok := f.games[id]; !ok {
		return 0, apperror.NotFound("game", input)
	}
	return id, nil
}

func (f *fakeSource) GameDetails(_ context.Context, universeID int64) (*model.Game, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	g, ok := f.games[universeID]
	if !ok {
		return nil, apperror.NotFound("game", strconv.FormatInt(universeID, 10))
	}
	copied := *g
	return &copied, nil
}

type watchlistFixture struct {
	users  *UserService
	list   *WatchlistService
	store  *jsonfile.Store
	source *fakeSource
}

func newWatchlistFixture(t *testing.T) *watchlistFixture {
	t.Helper()
	store := jsonfile.NewMemory()
	source := &fakeSource{games: map[int64]*model.Game{
		999: {UniverseID: 999, Name: "Obby", ThumbnailURL: "https://tr.rbxcdn.com/obby.png",
			Metrics: model.GameMetrics{Visits: 100, Playing: 5}},
	}}
	return &watchlistFixture{
		users:  NewUserService(store, store, []int64{adminID}, nil, testLogger()),
		list:   NewWatchlistService(store, store, source, testLogger()),
		store:  store,
		source: source,
	}
}

// approve registers id and approves it through the admin.
func (f *watchlistFixture) approve(t *testing.T, id int64) {
	t.Helper()
	register(t, f.users, id, "user")
	if _, _, err := f.users.SetStatus(context.Background(), adminID, id, model.StatusApproved); err != nil {
		t.Fatalf("approve %d: %v", id, err)
	}
}

func TestWatchlist_EndToEnd(t *testing.T) {
	f := newWatchlistFixture(t)
	ctx := context.Background()

	u, created, err := f.users.GetOrCreate(ctx, model.User{ID: 42, FirstName: "Ann"})
	if err != nil || !created || u.Status != model.StatusPending {
		t.Fatalf("GetOrCreate() = %+v, %v, %v", u, created, err)
	}

	if _, err := f.list.Add(ctx, 42, 999, model.GameMeta{Name: "Obby"}); !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("pending Add() error = %v, want ErrForbidden", err)
	}

	if _, _, err := f.users.SetStatus(ctx, adminID, 42, model.StatusApproved); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	if _, err := f.list.Add(ctx, 42, 999, model.GameMeta{Name: "Obby"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	entries, err := f.list.List(ctx, 42)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].GameID != 999 || entries[0].Name != "Obby" {
		t.Errorf("List() = %+v, want one Obby entry", entries)
	}
}

func TestWatchlist_DuplicateAddConflicts(t *testing.T) {
	f := newWatchlistFixture(t)
	ctx := context.Background()
	f.approve(t, 42)

	if _, err := f.list.Add(ctx, 42, 999, model.GameMeta{Name: "Obby"}); err != nil {
		t.Fatalf("first Add() error = %v", err)
	}
	_, err := f.list.Add(ctx, 42, 999, model.GameMeta{Name: "Obby again"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("second Add() error = %v, want ErrConflict", err)
	}

	entries, _ := f.list.List(ctx, 42)
	if len(entries) != 1 || entries[0].Name != "Obby" {
		t.Errorf("List() = %+v, the duplicate must not overwrite", entries)
	}
}

func TestWatchlist_RemoveAbsentIsNoop(t *testing.T) {
	f := newWatchlistFixture(t)
	f.approve(t, 42)

	if err := f.list.Remove(context.Background(), 42, 12345); err != nil {
		t.Errorf("Remove() of an absent game error = %v, want nil", err)
	}
}

func TestWatchlist_RequiresApproval(t *testing.T) {
	statuses := []model.Status{model.StatusPending, model.StatusRejected, model.StatusBanned}

	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			f := newWatchlistFixture(t)
			ctx := context.Background()
			register(t, f.users, 42, "Ann")
			if status != model.StatusPending {
				if _, _, err := f.users.SetStatus(ctx, adminID, 42, status); err != nil {
					t.Fatal(err)
				}
			}

			checks := map[string]error{}
			_, checks["Add"] = f.list.Add(ctx, 42, 999, model.GameMeta{})
			_, checks["Track"] = f.list.Track(ctx, 42, "999")
			checks["Remove"] = f.list.Remove(ctx, 42, 999)
			_, checks["List"] = f.list.List(ctx, 42)
			_, _, checks["Refresh"] = f.list.Refresh(ctx, 42, 999)

			for op, err := range checks {
				if !errors.Is(err, apperror.ErrForbidden) {
					t.Errorf("%s() error = %v, want ErrForbidden", op, err)
				}
			}
			if f.source.calls != 0 {
				t.Errorf("Roblox was called %d times for an unapproved user", f.source.calls)
			}
		})
	}
}

func TestWatchlist_AddInvalidID(t *testing.T) {
	f := newWatchlistFixture(t)
	f.approve(t, 42)

	_, err := f.list.Add(context.Background(), 42, 0, model.GameMeta{})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestWatchlist_Track(t *testing.T) {
	f := newWatchlistFixture(t)
	ctx := context.Background()
	f.approve(t, 42)

	entry, err := f.list.Track(ctx, 42, "999")
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if entry.Name != "Obby" || entry.Metrics.Visits != 100 || entry.ThumbnailURL == "" {
		t.Errorf("Track() = %+v, want details copied from Roblox", entry)
	}

	if _, err := f.list.Track(ctx, 42, "555"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Track(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := f.list.Track(ctx, 42, "not-a-game"); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Track(garbage) error = %v, want ErrValidation", err)
	}
}

func TestWatchlist_Refresh(t *testing.T) {
	f := newWatchlistFixture(t)
	ctx := context.Background()
	f.approve(t, 42)
	if _, err := f.list.Add(ctx, 42, 999, model.GameMeta{Name: "Obby", Metrics: model.GameMetrics{Visits: 1}}); err != nil {
		t.Fatal(err)
	}

	entry, refreshed, err := f.list.Refresh(ctx, 42, 999)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !refreshed || entry.Metrics.Visits != 100 || entry.MetricsUpdatedAt == nil {
		t.Errorf("Refresh() = %+v refreshed=%v, want fresh metrics", entry, refreshed)
	}
}

func TestWatchlist_RefreshKeepsCacheOnUpstreamFailure(t *testing.T) {
	f := newWatchlistFixture(t)
	ctx := context.Background()
	f.approve(t, 42)
	cached := model.GameMetrics{Visits: 7, Playing: 1}
	if _, err := f.list.Add(ctx, 42, 999, model.GameMeta{Name: "Obby", Metrics: cached}); err != nil {
		t.Fatal(err)
	}

	f.source.err = errors.New("roblox: 503 Service Unavailable")
	entry, refreshed, err := f.list.Refresh(ctx, 42, 999)
	if err != nil {
		t.Fatalf("Refresh() error = %v, want the cached entry", err)
	}
	if refreshed {
		t.Error("refreshed = true although Roblox failed")
	}
	if entry.Metrics != cached {
		t.Errorf("Metrics = %+v, want cached %+v", entry.Metrics, cached)
	}

	stored, _ := f.store.GetEntry(ctx, 42, 999)
	if stored.Metrics != cached || stored.MetricsUpdatedAt != nil {
		t.Errorf("stored entry changed: %+v", stored)
	}
}

func TestWatchlist_RefreshUnknownEntry(t *testing.T) {
	f := newWatchlistFixture(t)
	f.approve(t, 42)

	_, _, err := f.list.Refresh(context.Background(), 42, 999)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
