package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
)

const watchColumns = `user_id, game_id, name, thumbnail_url,
	visits, playing, favorites, up_votes, down_votes, added_at, metrics_updated_at`

func scanWatchEntry(row pgx.Row) (*model.WatchEntry, error) {
	var e model.WatchEntry
	err := row.Scan(
		&e.UserID, &e.GameID, &e.Name, &e.ThumbnailURL,
		&e.Metrics.Visits, &e.Metrics.Playing, &e.Metrics.Favorites,
		&e.Metrics.UpVotes, &e.Metrics.DownVotes,
		&e.AddedAt, &e.MetricsUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func entryID(userID, gameID int64) string {
	return fmt.Sprintf("%d/%d", userID, gameID)
}

func (r *Repository) AddEntry(ctx context.Context, e *model.WatchEntry) error {
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO watchlist (user_id, game_id, name, thumbnail_url,
		                       visits, playing, favorites, up_votes, down_votes, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, game_id) DO NOTHING
	`, e.UserID, e.GameID, e.Name, e.ThumbnailURL,
		e.Metrics.Visits, e.Metrics.Playing, e.Metrics.Favorites,
		e.Metrics.UpVotes, e.Metrics.DownVotes, e.AddedAt)
	if err != nil {
		return fmt.Errorf("postgres: adding game %d for user %d: %w", e.GameID, e.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.Conflict("watch entry", entryID(e.UserID, e.GameID))
	}
	return nil
}

func (r *Repository) RemoveEntry(ctx context.Context, userID, gameID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM watchlist WHERE user_id = $1 AND game_id = $2`, userID, gameID)
	if err != nil {
		return fmt.Errorf("postgres: removing game %d for user %d: %w", gameID, userID, err)
	}
	return nil
}

func (r *Repository) GetEntry(ctx context.Context, userID, gameID int64) (*model.WatchEntry, error) {
	e, err := scanWatchEntry(r.pool.QueryRow(ctx,
		`SELECT `+watchColumns+` FROM watchlist WHERE user_id = $1 AND game_id = $2`, userID, gameID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("watch entry", entryID(userID, gameID))
		}
		return nil, fmt.Errorf("postgres: getting game %d for user %d: %w", gameID, userID, err)
	}
	return e, nil
}

func (r *Repository) ListEntries(ctx context.Context, userID int64) ([]model.WatchEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+watchColumns+` FROM watchlist WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing games for user %d: %w", userID, err)
	}
	defer rows.Close()

	entries := []model.WatchEntry{}
	for rows.Next() {
		e, err := scanWatchEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning watch entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *Repository) RefreshMetrics(ctx context.Context, userID, gameID int64, m model.GameMetrics) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE watchlist
		SET visits = $3, playing = $4, favorites = $5, up_votes = $6, down_votes = $7,
		    metrics_updated_at = $8
		WHERE user_id = $1 AND game_id = $2
	`, userID, gameID, m.Visits, m.Playing, m.Favorites, m.UpVotes, m.DownVotes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: refreshing game %d for user %d: %w", gameID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("watch entry", entryID(userID, gameID))
	}
	return nil
}

func (r *Repository) RefreshMetricsForGame(ctx context.Context, gameID int64, m model.GameMetrics) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE watchlist
		SET visits = $2, playing = $3, favorites = $4, up_votes = $5, down_votes = $6,
		    metrics_updated_at = $7
		WHERE game_id = $1
	`, gameID, m.Visits, m.Playing, m.Favorites, m.UpVotes, m.DownVotes, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: refreshing game %d: %w", gameID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) ListTrackedGameIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT game_id FROM watchlist ORDER BY game_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing tracked games: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning game ids: %w", err)
	}
	return ids, nil
}

func (r *Repository) CountEntries(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM watchlist`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: counting watch entries: %w", err)
	}
	return n, nil
}
