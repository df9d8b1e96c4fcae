package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository"
)

// GameSource looks games up on Roblox. *roblox.Client implements it.
type GameSource interface {
	// ResolveUniverse turns a universe id, place id or game URL into a
	// universe id.
	ResolveUniverse(ctx context.Context, input string) (int64, error)
	GameDetails(ctx context.Context, universeID int64) (*model.Game, error)
}

// WatchlistService manages per-user game watch-lists. Every operation
// requires the user to be approved.
type WatchlistService struct {
	users  repository.UserRepository
	games  repository.GameRepository
	source GameSource
	logger *slog.Logger
}

func NewWatchlistService(
	users repository.UserRepository,
	games repository.GameRepository,
	source GameSource,
	logger *slog.Logger,
) *WatchlistService {
	return &WatchlistService{
		users:  users,
		games:  games,
		source: source,
		logger: logger,
	}
}

// Add puts gameID on the user's watch-list with the supplied metadata.
// A second add of the same game is apperror.ErrConflict.
func (s *WatchlistService) Add(ctx context.Context, userID, gameID int64, meta model.GameMeta) (*model.WatchEntry, error) {
	if gameID <= 0 {
		return nil, apperror.ValidationFailed("universeId", "a positive universe id is required")
	}
	if _, err := requireApproved(ctx, s.users, userID); err != nil {
		return nil, err
	}

	entry := &model.WatchEntry{
		UserID:       userID,
		GameID:       gameID,
		Name:         meta.Name,
		ThumbnailURL: meta.ThumbnailURL,
		Metrics:      meta.Metrics,
	}
	if err := s.games.AddEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info("game added to watch-list",
		slog.Int64("user_id", userID),
		slog.Int64("game_id", gameID),
	)
	return entry, nil
}

// Track resolves input (universe id, place id or game URL), fetches the
// game's current details and adds it to the watch-list.
func (s *WatchlistService) Track(ctx context.Context, userID int64, input string) (*model.WatchEntry, error) {
	if _, err := requireApproved(ctx, s.users, userID); err != nil {
		return nil, err
	}

	universeID, err := s.source.ResolveUniverse(ctx, input)
	if err != nil {
		return nil, err
	}
	game, err := s.source.GameDetails(ctx, universeID)
	if err != nil {
		return nil, fmt.Errorf("looking up game %d: %w", universeID, err)
	}

	return s.Add(ctx, userID, universeID, model.GameMeta{
		Name:         game.Name,
		ThumbnailURL: game.ThumbnailURL,
		Metrics:      game.Metrics,
	})
}

// Remove takes gameID off the watch-list. Removing a game that is not on
// the list succeeds.
func (s *WatchlistService) Remove(ctx context.Context, userID, gameID int64) error {
	if _, err := requireApproved(ctx, s.users, userID); err != nil {
		return err
	}
	if err := s.games.RemoveEntry(ctx, userID, gameID); err != nil {
		return err
	}
	s.logger.Info("game removed from watch-list",
		slog.Int64("user_id", userID),
		slog.Int64("game_id", gameID),
	)
	return nil
}

// List returns the watch-list in the order games were added.
func (s *WatchlistService) List(ctx context.Context, userID int64) ([]model.WatchEntry, error) {
	if _, err := requireApproved(ctx, s.users, userID); err != nil {
		return nil, err
	}
	return s.games.ListEntries(ctx, userID)
}

// Refresh fetches fresh metrics for one entry.
//
// UPSTREAM FAILURES:
// If Roblox can't be reached the cached metrics stay as they are and the
// cached entry is returned with refreshed=false. The caller still gets
// something useful to show; only the timestamp tells it the data is stale.
func (s *WatchlistService) Refresh(ctx context.Context, userID, gameID int64) (entry *model.WatchEntry, refreshed bool, err error) {
	if _, err := requireApproved(ctx, s.users, userID); err != nil {
		return nil, false, err
	}

	cached, err := s.games.GetEntry(ctx, userID, gameID)
	if err != nil {
		return nil, false, err
	}

	game, err := s.source.GameDetails(ctx, gameID)
	if err != nil {
		s.logger.Warn("game refresh failed, keeping cached metrics",
			slog.Int64("user_id", userID),
			slog.Int64("game_id", gameID),
			slog.String("error", err.Error()),
		)
		return cached, false, nil
	}

	if err := s.games.RefreshMetrics(ctx, userID, gameID, game.Metrics); err != nil {
		return nil, false, err
	}
	updated, err := s.games.GetEntry(ctx, userID, gameID)
	if err != nil {
		return nil, false, err
	}
	return updated, true, nil
}
