package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository"
)

var _ repository.GameRepository = (*DB)(nil)

const watchColumns = `user_id, game_id, name, thumbnail_url,
	visits, playing, favorites, up_votes, down_votes, added_at, metrics_updated_at`

func scanWatchEntry(s rowScanner) (*model.WatchEntry, error) {
	var (
		e         model.WatchEntry
		updatedAt sql.NullTime
	)
	err := s.Scan(
		&e.UserID, &e.GameID, &e.Name, &e.ThumbnailURL,
		&e.Metrics.Visits, &e.Metrics.Playing, &e.Metrics.Favorites,
		&e.Metrics.UpVotes, &e.Metrics.DownVotes,
		&e.AddedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		e.MetricsUpdatedAt = &t
	}
	return &e, nil
}

func entryID(userID, gameID int64) string {
	return fmt.Sprintf("%d/%d", userID, gameID)
}

// AddEntry puts a game on a user's watch-list.
//
// The UNIQUE (user_id, game_id) constraint makes the duplicate check atomic:
// ON CONFLICT DO NOTHING turns a second insert into zero affected rows, which
// we report as a conflict instead of parsing driver error strings.
func (db *DB) AddEntry(ctx context.Context, e *model.WatchEntry) error {
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO watchlist (user_id, game_id, name, thumbnail_url,
		                        visits, playing, favorites, up_votes, down_votes, added_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, game_id) DO NOTHING`,
		e.UserID, e.GameID, e.Name, e.ThumbnailURL,
		e.Metrics.Visits, e.Metrics.Playing, e.Metrics.Favorites,
		e.Metrics.UpVotes, e.Metrics.DownVotes, e.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding game %d for user %d: %w", e.GameID, e.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: adding game %d for user %d: %w", e.GameID, e.UserID, err)
	}
	if n == 0 {
		return apperror.Conflict("watch entry", entryID(e.UserID, e.GameID))
	}
	return nil
}

// RemoveEntry deletes the pair. Zero affected rows is fine: the entry is gone
// either way.
func (db *DB) RemoveEntry(ctx context.Context, userID, gameID int64) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM watchlist WHERE user_id = ? AND game_id = ?`, userID, gameID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: removing game %d for user %d: %w", gameID, userID, err)
	}
	return nil
}

func (db *DB) GetEntry(ctx context.Context, userID, gameID int64) (*model.WatchEntry, error) {
	e, err := scanWatchEntry(db.conn.QueryRowContext(ctx,
		`SELECT `+watchColumns+` FROM watchlist WHERE user_id = ? AND game_id = ?`,
		userID, gameID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("watch entry", entryID(userID, gameID))
		}
		return nil, fmt.Errorf("sqlite: getting game %d for user %d: %w", gameID, userID, err)
	}
	return e, nil
}

// ListEntries returns the watch-list in the order games were added.
// An empty list is returned as an empty slice, not nil, so it encodes as [].
func (db *DB) ListEntries(ctx context.Context, userID int64) ([]model.WatchEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+watchColumns+` FROM watchlist WHERE user_id = ? ORDER BY id ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing games for user %d: %w", userID, err)
	}
	defer rows.Close()

	entries := []model.WatchEntry{}
	for rows.Next() {
		e, err := scanWatchEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning watch entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating watch entries: %w", err)
	}
	return entries, nil
}

func (db *DB) RefreshMetrics(ctx context.Context, userID, gameID int64, m model.GameMetrics) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE watchlist SET visits = ?, playing = ?, favorites = ?, up_votes = ?, down_votes = ?,
		                      metrics_updated_at = ?
		 WHERE user_id = ? AND game_id = ?`,
		m.Visits, m.Playing, m.Favorites, m.UpVotes, m.DownVotes, time.Now().UTC(),
		userID, gameID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: refreshing game %d for user %d: %w", gameID, userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("watch entry", entryID(userID, gameID))
	}
	return nil
}

func (db *DB) RefreshMetricsForGame(ctx context.Context, gameID int64, m model.GameMetrics) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE watchlist SET visits = ?, playing = ?, favorites = ?, up_votes = ?, down_votes = ?,
		                      metrics_updated_at = ?
		 WHERE game_id = ?`,
		m.Visits, m.Playing, m.Favorites, m.UpVotes, m.DownVotes, time.Now().UTC(), gameID,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: refreshing game %d: %w", gameID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: refreshing game %d: %w", gameID, err)
	}
	return int(n), nil
}

func (db *DB) ListTrackedGameIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT game_id FROM watchlist ORDER BY game_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing tracked games: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning game id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountEntries returns the number of watch-list entries across all users.
func (db *DB) CountEntries(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM watchlist`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting watch entries: %w", err)
	}
	return n, nil
}
