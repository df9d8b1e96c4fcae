// Package postgres implements repository.Store on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"
	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/config"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository"
)

var _ repository.Store = (*Repository)(nil)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to cfg.DSN, verifies the connection and runs migrations.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing connection string: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MinConnections > 0 {
		poolConfig.MinConns = int32(cfg.MinConnections)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: connecting to database: %w", err)
	}

	r := &Repository{pool: pool, logger: logger}
	if err := r.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the connection pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// RunMigrations creates the schema if it does not exist yet.
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id                    BIGINT PRIMARY KEY,
			username              TEXT NOT NULL DEFAULT '',
			first_name            TEXT NOT NULL DEFAULT '',
			last_name             TEXT NOT NULL DEFAULT '',
			language              VARCHAR(8) NOT NULL DEFAULT 'ru',
			theme                 VARCHAR(8) NOT NULL DEFAULT 'dark',
			status                VARCHAR(16) NOT NULL DEFAULT 'pending',
			external_id           BIGINT,
			external_username     TEXT,
			external_display_name TEXT,
			external_avatar_url   TEXT,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
			status_changed_at     TIMESTAMPTZ,
			status_changed_by     BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS watchlist (
			id                 BIGSERIAL PRIMARY KEY,
			user_id            BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			game_id            BIGINT NOT NULL,
			name               TEXT NOT NULL DEFAULT '',
			thumbnail_url      TEXT NOT NULL DEFAULT '',
			visits             BIGINT NOT NULL DEFAULT 0,
			playing            BIGINT NOT NULL DEFAULT 0,
			favorites          BIGINT NOT NULL DEFAULT 0,
			up_votes           BIGINT NOT NULL DEFAULT 0,
			down_votes         BIGINT NOT NULL DEFAULT 0,
			added_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			metrics_updated_at TIMESTAMPTZ,
			UNIQUE (user_id, game_id)
		)`,
		`CREATE TABLE IF NOT EXISTS status_changes (
			seq         BIGSERIAL PRIMARY KEY,
			id          VARCHAR(20) NOT NULL UNIQUE,
			user_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			from_status VARCHAR(16) NOT NULL,
			to_status   VARCHAR(16) NOT NULL,
			actor_id    BIGINT NOT NULL,
			changed_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_status ON users(status)`,
		`CREATE INDEX IF NOT EXISTS idx_watchlist_game_id ON watchlist(game_id)`,
		`CREATE INDEX IF NOT EXISTS idx_status_changes_user ON status_changes(user_id, seq)`,
	}

	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("postgres: executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// =========================================================================
// USERS
// =========================================================================

const userColumns = `id, username, first_name, last_name, language, theme, status,
	external_id, external_username, external_display_name, external_avatar_url,
	created_at, status_changed_at, status_changed_by`

// scanUser reads a row selected with userColumns. pgx scans NULL into a nil
// pointer, so the optional columns land in pointers directly.
func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u              model.User
		status         string
		extID          *int64
		extUsername    *string
		extDisplayName *string
		extAvatarURL   *string
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Language, &u.Theme, &status,
		&extID, &extUsername, &extDisplayName, &extAvatarURL,
		&u.CreatedAt, &u.StatusChangedAt, &u.StatusChangedBy,
	)
	if err != nil {
		return nil, err
	}
	u.Status = model.Status(status)
	if extID != nil {
		u.External = &model.ExternalAccount{ID: *extID}
		if extUsername != nil {
			u.External.Username = *extUsername
		}
		if extDisplayName != nil {
			u.External.DisplayName = *extDisplayName
		}
		if extAvatarURL != nil {
			u.External.AvatarURL = *extAvatarURL
		}
	}
	return &u, nil
}

func userNotFound(id int64) error {
	return apperror.NotFound("user", strconv.FormatInt(id, 10))
}

func (r *Repository) GetOrCreate(ctx context.Context, u *model.User) (*model.User, bool, error) {
	language, theme, status := u.Language, u.Theme, u.Status
	if language == "" {
		language = model.DefaultLanguage
	}
	if theme == "" {
		theme = model.DefaultTheme
	}
	if status == "" {
		status = model.StatusPending
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, username, first_name, last_name, language, theme, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, u.ID, u.Username, u.FirstName, u.LastName, language, theme, string(status), time.Now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("postgres: inserting user %d: %w", u.ID, err)
	}

	stored, err := r.GetByID(ctx, u.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() > 0, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, userNotFound(id)
		}
		return nil, fmt.Errorf("postgres: getting user %d: %w", id, err)
	}
	return u, nil
}

// UpdateSettings uses COALESCE so a NULL parameter keeps the stored value.
func (r *Repository) UpdateSettings(ctx context.Context, id int64, upd model.SettingsUpdate) (*model.User, error) {
	var language, theme *string
	if v, ok := upd.Language.Get(); ok {
		language = &v
	}
	if v, ok := upd.Theme.Get(); ok {
		theme = &v
	}

	u, err := scanUser(r.pool.QueryRow(ctx, `
		UPDATE users SET language = COALESCE($2, language), theme = COALESCE($3, theme)
		WHERE id = $1
		RETURNING `+userColumns, id, language, theme))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, userNotFound(id)
		}
		return nil, fmt.Errorf("postgres: updating settings of user %d: %w", id, err)
	}
	return u, nil
}

func (r *Repository) SetExternalAccount(ctx context.Context, id int64, acc *model.ExternalAccount) (*model.User, error) {
	var (
		extID       *int64
		extUsername *string
		extDisplay  *string
		extAvatar   *string
	)
	if acc != nil {
		extID = &acc.ID
		extUsername, extDisplay, extAvatar = &acc.Username, &acc.DisplayName, &acc.AvatarURL
	}

	u, err := scanUser(r.pool.QueryRow(ctx, `
		UPDATE users SET external_id = $2, external_username = $3,
		                 external_display_name = $4, external_avatar_url = $5
		WHERE id = $1
		RETURNING `+userColumns, id, extID, extUsername, extDisplay, extAvatar))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, userNotFound(id)
		}
		return nil, fmt.Errorf("postgres: setting external account of user %d: %w", id, err)
	}
	return u, nil
}

// SetStatus locks the user row for the duration of the transaction so two
// administrators acting at once produce two well-ordered audit rows.
func (r *Repository) SetStatus(ctx context.Context, id int64, to model.Status, actorID int64) (*model.StatusChange, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("postgres: beginning status change: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after Commit

	var from string
	err = tx.QueryRow(ctx, `SELECT status FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&from)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, userNotFound(id)
		}
		return nil, fmt.Errorf("postgres: reading status of user %d: %w", id, err)
	}

	change := &model.StatusChange{
		ID:      xid.New().String(),
		UserID:  id,
		From:    model.Status(from),
		To:      to,
		ActorID: actorID,
		At:      time.Now().UTC(),
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users SET status = $2, status_changed_at = $3, status_changed_by = $4 WHERE id = $1`,
		id, string(to), change.At, actorID,
	); err != nil {
		return nil, fmt.Errorf("postgres: updating status of user %d: %w", id, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO status_changes (id, user_id, from_status, to_status, actor_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, change.ID, id, string(change.From), string(change.To), actorID, change.At); err != nil {
		return nil, fmt.Errorf("postgres: recording status change of user %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: committing status change: %w", err)
	}
	return change, nil
}

func (r *Repository) ListStatusChanges(ctx context.Context, userID int64) ([]model.StatusChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, from_status, to_status, actor_id, changed_at
		FROM status_changes WHERE user_id = $1 ORDER BY seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing status changes of user %d: %w", userID, err)
	}
	defer rows.Close()

	changes := []model.StatusChange{}
	for rows.Next() {
		var (
			c        model.StatusChange
			from, to string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &from, &to, &c.ActorID, &c.At); err != nil {
			return nil, fmt.Errorf("postgres: scanning status change: %w", err)
		}
		c.From, c.To = model.Status(from), model.Status(to)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (r *Repository) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	opts = opts.Clamp()
	return r.queryUsers(ctx, `
		SELECT `+userColumns+` FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2
	`, opts.Limit, opts.Offset)
}

func (r *Repository) ListByStatus(ctx context.Context, status model.Status, opts repository.ListOptions) ([]model.User, error) {
	opts = opts.Clamp()
	return r.queryUsers(ctx, `
		SELECT `+userColumns+` FROM users WHERE status = $1
		ORDER BY created_at, id LIMIT $2 OFFSET $3
	`, string(status), opts.Limit, opts.Offset)
}

func (r *Repository) queryUsers(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *Repository) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM users GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: counting users: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scanning user count: %w", err)
		}
		counts[model.Status(status)] = n
	}
	return counts, rows.Err()
}
