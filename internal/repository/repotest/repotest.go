// Package repotest holds the behaviour every repository.Store backend must
// share. Each backend's tests call Run with a constructor for a fresh, empty
// store.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It should register its own cleanup.
type Factory func(t *testing.T) repository.Store

// Run executes the shared suite as subtests of t.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetOrCreate", func(t *testing.T) { testGetOrCreate(t, newStore(t)) })
	t.Run("GetOrCreateConcurrent", func(t *testing.T) { testGetOrCreateConcurrent(t, newStore(t)) })
	t.Run("GetByIDNotFound", func(t *testing.T) { testGetByIDNotFound(t, newStore(t)) })
	t.Run("UpdateSettings", func(t *testing.T) { testUpdateSettings(t, newStore(t)) })
	t.Run("ExternalAccount", func(t *testing.T) { testExternalAccount(t, newStore(t)) })
	t.Run("SetStatus", func(t *testing.T) { testSetStatus(t, newStore(t)) })
	t.Run("ListAndCount", func(t *testing.T) { testListAndCount(t, newStore(t)) })
	t.Run("Watchlist", func(t *testing.T) { testWatchlist(t, newStore(t)) })
	t.Run("RefreshMetrics", func(t *testing.T) { testRefreshMetrics(t, newStore(t)) })
}

// MustUser creates a pending user with the given id.
func MustUser(t *testing.T, s repository.UserRepository, id int64, name string) *model.User {
	t.Helper()
	u, _, err := s.GetOrCreate(context.Background(), &model.User{ID: id, FirstName: name})
	require.NoError(t, err)
	return u
}

func testGetOrCreate(t *testing.T, s repository.Store) {
	ctx := context.Background()

	u, created, err := s.GetOrCreate(ctx, &model.User{ID: 42, Username: "ann", FirstName: "Ann"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(42), u.ID)
	assert.Equal(t, "Ann", u.FirstName)
	assert.Equal(t, model.DefaultLanguage, u.Language)
	assert.Equal(t, model.DefaultTheme, u.Theme)
	assert.Equal(t, model.StatusPending, u.Status)
	assert.Nil(t, u.External)
	assert.Nil(t, u.StatusChangedAt)
	assert.WithinDuration(t, time.Now(), u.CreatedAt, time.Minute)

	// The stored row wins over a second, different profile.
	again, created, err := s.GetOrCreate(ctx, &model.User{ID: 42, FirstName: "Other", Status: model.StatusApproved})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Ann", again.FirstName)
	assert.Equal(t, model.StatusPending, again.Status)

	// A non-default initial status is honoured on creation.
	admin, created, err := s.GetOrCreate(ctx, &model.User{ID: 1, Status: model.StatusApproved})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.StatusApproved, admin.Status)
}

func testGetOrCreateConcurrent(t *testing.T, s repository.Store) {
	const workers = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := s.GetOrCreate(context.Background(), &model.User{ID: 7, FirstName: "Race"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if c {
				created++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, created, "exactly one caller creates the row")

	users, err := s.ListUsers(context.Background(), repository.ListOptions{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func testGetByIDNotFound(t *testing.T, s repository.Store) {
	_, err := s.GetByID(context.Background(), 404)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func testUpdateSettings(t *testing.T, s repository.Store) {
	ctx := context.Background()
	MustUser(t, s, 42, "Ann")

	u, err := s.UpdateSettings(ctx, 42, model.SettingsUpdate{Theme: model.Some(model.ThemeLight)})
	require.NoError(t, err)
	assert.Equal(t, model.ThemeLight, u.Theme)
	assert.Equal(t, model.DefaultLanguage, u.Language, "language untouched by a theme-only update")

	u, err = s.UpdateSettings(ctx, 42, model.SettingsUpdate{Language: model.Some(model.LanguageEN)})
	require.NoError(t, err)
	assert.Equal(t, model.LanguageEN, u.Language)
	assert.Equal(t, model.ThemeLight, u.Theme)

	u, err = s.UpdateSettings(ctx, 42, model.SettingsUpdate{})
	require.NoError(t, err)
	assert.Equal(t, model.LanguageEN, u.Language)

	_, err = s.UpdateSettings(ctx, 404, model.SettingsUpdate{Theme: model.Some(model.ThemeDark)})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func testExternalAccount(t *testing.T, s repository.Store) {
	ctx := context.Background()
	MustUser(t, s, 42, "Ann")

	acc := &model.ExternalAccount{ID: 261, Username: "shedletsky", DisplayName: "Shedletsky", AvatarURL: "https://tr.rbxcdn.com/a.png"}
	u, err := s.SetExternalAccount(ctx, 42, acc)
	require.NoError(t, err)
	require.NotNil(t, u.External)
	assert.Equal(t, *acc, *u.External)

	u, err = s.GetByID(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, u.External)
	assert.Equal(t, int64(261), u.External.ID)

	u, err = s.SetExternalAccount(ctx, 42, nil)
	require.NoError(t, err)
	assert.Nil(t, u.External)

	_, err = s.SetExternalAccount(ctx, 404, acc)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func testSetStatus(t *testing.T, s repository.Store) {
	ctx := context.Background()
	MustUser(t, s, 42, "Ann")

	change, err := s.SetStatus(ctx, 42, model.StatusApproved, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, change.ID)
	assert.Equal(t, model.StatusPending, change.From)
	assert.Equal(t, model.StatusApproved, change.To)
	assert.Equal(t, int64(1), change.ActorID)

	_, err = s.SetStatus(ctx, 42, model.StatusBanned, 2)
	require.NoError(t, err)

	u, err := s.GetByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBanned, u.Status)
	require.NotNil(t, u.StatusChangedAt)
	require.NotNil(t, u.StatusChangedBy)
	assert.Equal(t, int64(2), *u.StatusChangedBy)
	assert.WithinDuration(t, time.Now(), *u.StatusChangedAt, time.Minute)

	history, err := s.ListStatusChanges(ctx, 42)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.StatusApproved, history[0].To)
	assert.Equal(t, model.StatusApproved, history[1].From)
	assert.Equal(t, model.StatusBanned, history[1].To)

	empty, err := s.ListStatusChanges(ctx, 404)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.SetStatus(ctx, 404, model.StatusApproved, 1)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func testListAndCount(t *testing.T, s repository.Store) {
	ctx := context.Background()
	for id := int64(1); id <= 5; id++ {
		MustUser(t, s, id, "user")
	}
	_, err := s.SetStatus(ctx, 2, model.StatusApproved, 1)
	require.NoError(t, err)
	_, err = s.SetStatus(ctx, 3, model.StatusRejected, 1)
	require.NoError(t, err)

	page1, err := s.ListUsers(ctx, repository.ListOptions{Limit: 2})
	require.NoError(t, err)
	page2, err := s.ListUsers(ctx, repository.ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	page3, err := s.ListUsers(ctx, repository.ListOptions{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	assert.Len(t, page2, 2)
	assert.Len(t, page3, 1)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)

	pending, err := s.ListByStatus(ctx, model.StatusPending, repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, u := range pending {
		assert.Equal(t, model.StatusPending, u.Status)
	}

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[model.StatusPending])
	assert.Equal(t, 1, counts[model.StatusApproved])
	assert.Equal(t, 1, counts[model.StatusRejected])
	assert.Equal(t, 0, counts[model.StatusBanned])
}

func testWatchlist(t *testing.T, s repository.Store) {
	ctx := context.Background()
	MustUser(t, s, 42, "Ann")
	MustUser(t, s, 43, "Bob")

	empty, err := s.ListEntries(ctx, 42)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, id := range []int64{999, 111, 555} {
		require.NoError(t, s.AddEntry(ctx, &model.WatchEntry{
			UserID: 42, GameID: id, Name: "game", Metrics: model.GameMetrics{Visits: id},
		}))
	}
	require.NoError(t, s.AddEntry(ctx, &model.WatchEntry{UserID: 43, GameID: 999, Name: "Obby"}))

	err = s.AddEntry(ctx, &model.WatchEntry{UserID: 42, GameID: 111})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	entries, err := s.ListEntries(ctx, 42)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(999), entries[0].GameID, "insertion order")
	assert.Equal(t, int64(111), entries[1].GameID)
	assert.Equal(t, int64(555), entries[2].GameID)
	assert.Equal(t, int64(999), entries[0].Metrics.Visits)
	assert.Nil(t, entries[0].MetricsUpdatedAt)

	e, err := s.GetEntry(ctx, 43, 999)
	require.NoError(t, err)
	assert.Equal(t, "Obby", e.Name)

	_, err = s.GetEntry(ctx, 43, 111)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	ids, err := s.ListTrackedGameIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{111, 555, 999}, ids)

	n, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, s.RemoveEntry(ctx, 42, 111))
	require.NoError(t, s.RemoveEntry(ctx, 42, 111), "removing an absent entry is a no-op")
	require.NoError(t, s.RemoveEntry(ctx, 404, 1))

	entries, err = s.ListEntries(ctx, 42)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(999), entries[0].GameID)
	assert.Equal(t, int64(555), entries[1].GameID)

	// Re-adding after removal is allowed and goes to the end.
	require.NoError(t, s.AddEntry(ctx, &model.WatchEntry{UserID: 42, GameID: 111}))
	entries, err = s.ListEntries(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(111), entries[2].GameID)
}

func testRefreshMetrics(t *testing.T, s repository.Store) {
	ctx := context.Background()
	MustUser(t, s, 42, "Ann")
	MustUser(t, s, 43, "Bob")
	require.NoError(t, s.AddEntry(ctx, &model.WatchEntry{UserID: 42, GameID: 999}))
	require.NoError(t, s.AddEntry(ctx, &model.WatchEntry{UserID: 43, GameID: 999}))
	require.NoError(t, s.AddEntry(ctx, &model.WatchEntry{UserID: 43, GameID: 555}))

	fresh := model.GameMetrics{Visits: 10, Playing: 2, Favorites: 3, UpVotes: 9, DownVotes: 1}
	require.NoError(t, s.RefreshMetrics(ctx, 42, 999, fresh))

	mine, err := s.GetEntry(ctx, 42, 999)
	require.NoError(t, err)
	assert.Equal(t, fresh, mine.Metrics)
	require.NotNil(t, mine.MetricsUpdatedAt)

	theirs, err := s.GetEntry(ctx, 43, 999)
	require.NoError(t, err)
	assert.Equal(t, model.GameMetrics{}, theirs.Metrics, "other users' entries are untouched")

	err = s.RefreshMetrics(ctx, 42, 555, fresh)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	bulk := model.GameMetrics{Visits: 20}
	n, err := s.RefreshMetricsForGame(ctx, 999, bulk)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	theirs, err = s.GetEntry(ctx, 43, 999)
	require.NoError(t, err)
	assert.Equal(t, bulk, theirs.Metrics)

	other, err := s.GetEntry(ctx, 43, 555)
	require.NoError(t, err)
	assert.Equal(t, model.GameMetrics{}, other.Metrics)

	n, err = s.RefreshMetricsForGame(ctx, 1234, bulk)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
