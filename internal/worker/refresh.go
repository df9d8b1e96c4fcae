// Package worker runs the background metrics refresh for tracked games.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/roblox-stats/internal/config"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository"
)

// GameSource fetches current game details. *roblox.Client implements it.
type GameSource interface {
	GameDetails(ctx context.Context, universeID int64) (*model.Game, error)
}

// Notifier is told about every game whose metrics were refreshed.
// *websocket.Hub implements it.
type Notifier interface {
	BroadcastGameUpdate(gameID int64, metrics model.GameMetrics)
}

// CycleResult summarises one refresh cycle.
type CycleResult struct {
	Games   int // distinct games attempted
	Updated int // watch entries whose metrics changed
	Errors  int // games Roblox could not serve
}

// RefreshWorker periodically refreshes the cached metrics of every game on
// any watch-list. A game Roblox fails to serve keeps its cached metrics
// until a later cycle succeeds.
type RefreshWorker struct {
	games    repository.GameRepository
	source   GameSource
	notifier Notifier
	config   *config.RefreshConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewRefreshWorker creates a new refresh worker. notifier may be nil.
func NewRefreshWorker(
	games repository.GameRepository,
	source GameSource,
	notifier Notifier,
	cfg *config.RefreshConfig,
	logger *slog.Logger,
) *RefreshWorker {
	return &RefreshWorker{
		games:    games,
		source:   source,
		notifier: notifier,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background refresh loop
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("refresh worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the loop and waits for an in-flight cycle to finish.
func (w *RefreshWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("refresh worker stopped")
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *RefreshWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *RefreshWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single refresh cycle over every tracked game.
func (w *RefreshWorker) RunOnce(ctx context.Context) CycleResult {
	w.logger.Debug("starting refresh cycle")
	startTime := time.Now()

	var result CycleResult

	ids, err := w.games.ListTrackedGameIDs(ctx)
	if err != nil {
		w.logger.Error("failed to list tracked games", "error", err)
		return result
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		result.Games++

		n, err := w.RefreshGame(ctx, id)
		if err != nil {
			w.logger.Warn("failed to refresh game, keeping cached metrics",
				"game_id", id,
				"error", err,
			)
			result.Errors++
			continue
		}
		result.Updated += n
	}

	w.logger.Info("refresh cycle completed",
		"duration", time.Since(startTime),
		"games", result.Games,
		"updated", result.Updated,
		"errors", result.Errors,
	)
	return result
}

// RefreshGame fetches one game and writes its metrics into every watch
// entry that tracks it. It returns the number of entries updated.
func (w *RefreshWorker) RefreshGame(ctx context.Context, gameID int64) (int, error) {
	game, err := w.source.GameDetails(ctx, gameID)
	if err != nil {
		return 0, err
	}

	n, err := w.games.RefreshMetricsForGame(ctx, gameID, game.Metrics)
	if err != nil {
		return 0, err
	}

	if w.notifier != nil && n > 0 {
		w.notifier.BroadcastGameUpdate(gameID, game.Metrics)
	}
	return n, nil
}
