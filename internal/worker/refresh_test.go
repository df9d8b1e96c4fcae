package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/roblox-stats/internal/config"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository/jsonfile"
	"github.com/sakif/roblox-stats/internal/repository/repotest"
)

type fakeSource struct {
	mu      sync.Mutex
	metrics map[int64]model.GameMetrics
	failing map[int64]bool
	calls   int
}

func (f *fakeSource) GameDetails(_ context.Context, id int64) (*model.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing[id] {
		return nil, errors.New("roblox: HTTP 503: unavailable")
	}
	return &model.Game{UniverseID: id, Metrics: f.metrics[id]}, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates map[int64]model.GameMetrics
}

func (n *recordingNotifier) BroadcastGameUpdate(id int64, m model.GameMetrics) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates[id] = m
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T) *jsonfile.Store {
	t.Helper()
	ctx := context.Background()
	s := jsonfile.NewMemory()
	repotest.MustUser(t, s, 1, "ann")
	repotest.MustUser(t, s, 2, "bob")
	for _, e := range []model.WatchEntry{
		{UserID: 1, GameID: 100, Name: "Obby", Metrics: model.GameMetrics{Visits: 1}},
		{UserID: 2, GameID: 100, Name: "Obby", Metrics: model.GameMetrics{Visits: 1}},
		{UserID: 2, GameID: 200, Name: "Tycoon", Metrics: model.GameMetrics{Visits: 7}},
	} {
		require.NoError(t, s.AddEntry(ctx, &e))
	}
	return s
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	store := seed(t)
	source := &fakeSource{metrics: map[int64]model.GameMetrics{
		100: {Visits: 500, Playing: 10},
		200: {Visits: 900, Playing: 3},
	}}
	notifier := &recordingNotifier{updates: map[int64]model.GameMetrics{}}
	w := NewRefreshWorker(store, source, notifier, &config.RefreshConfig{Interval: time.Hour}, testLogger())

	result := w.RunOnce(ctx)

	assert.Equal(t, CycleResult{Games: 2, Updated: 3, Errors: 0}, result)
	assert.Equal(t, 2, source.calls, "each game is fetched once per cycle")

	for _, uid := range []int64{1, 2} {
		e, err := store.GetEntry(ctx, uid, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(500), e.Metrics.Visits)
		assert.NotNil(t, e.MetricsUpdatedAt)
	}
	assert.Equal(t, int64(900), notifier.updates[200].Visits)
}

func TestRunOnce_FailureKeepsCachedMetrics(t *testing.T) {
	ctx := context.Background()
	store := seed(t)
	source := &fakeSource{
		metrics: map[int64]model.GameMetrics{100: {Visits: 500}},
		failing: map[int64]bool{200: true},
	}
	notifier := &recordingNotifier{updates: map[int64]model.GameMetrics{}}
	w := NewRefreshWorker(store, source, notifier, &config.RefreshConfig{Interval: time.Hour}, testLogger())

	result := w.RunOnce(ctx)
	assert.Equal(t, CycleResult{Games: 2, Updated: 2, Errors: 1}, result)

	e, err := store.GetEntry(ctx, 2, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(7), e.Metrics.Visits)
	assert.Nil(t, e.MetricsUpdatedAt)

	_, notified := notifier.updates[200]
	assert.False(t, notified)
}

func TestRunOnce_NilNotifier(t *testing.T) {
	store := seed(t)
	source := &fakeSource{metrics: map[int64]model.GameMetrics{}}
	w := NewRefreshWorker(store, source, nil, &config.RefreshConfig{Interval: time.Hour}, testLogger())

	assert.Equal(t, 2, w.RunOnce(context.Background()).Games)
}

func TestStartStop(t *testing.T) {
	store := seed(t)
	source := &fakeSource{metrics: map[int64]model.GameMetrics{}}
	w := NewRefreshWorker(store, source, nil, &config.RefreshConfig{Interval: 10 * time.Millisecond}, testLogger())

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()), "second Start is a no-op")
	assert.True(t, w.IsRunning())

	assert.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.calls >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop(), "second Stop is a no-op")
}
