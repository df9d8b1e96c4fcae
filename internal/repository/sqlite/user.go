package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, first_name, last_name, language, theme, status,
	external_id, external_username, external_display_name, external_avatar_url,
	created_at, status_changed_at, status_changed_by`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads one row selected with userColumns.
//
// NULLABLE COLUMNS:
// The external account and the status audit stamp are NULL until set.
// sql.Null* types record whether the column held a value, which maps
// straight onto the nil pointers in model.User.
func scanUser(s rowScanner) (*model.User, error) {
	var (
		u               model.User
		status          string
		extID           sql.NullInt64
		extUsername     sql.NullString
		extDisplayName  sql.NullString
		extAvatarURL    sql.NullString
		statusChangedAt sql.NullTime
		statusChangedBy sql.NullInt64
	)
	err := s.Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Language, &u.Theme, &status,
		&extID, &extUsername, &extDisplayName, &extAvatarURL,
		&u.CreatedAt, &statusChangedAt, &statusChangedBy,
	)
	if err != nil {
		return nil, err
	}
	u.Status = model.Status(status)
	if extID.Valid {
		u.External = &model.ExternalAccount{
			ID:          extID.Int64,
			Username:    extUsername.String,
			DisplayName: extDisplayName.String,
			AvatarURL:   extAvatarURL.String,
		}
	}
	if statusChangedAt.Valid {
		t := statusChangedAt.Time
		u.StatusChangedAt = &t
	}
	if statusChangedBy.Valid {
		by := statusChangedBy.Int64
		u.StatusChangedBy = &by
	}
	return &u, nil
}

// GetOrCreate inserts the user unless a row with the same Telegram id exists.
//
// INSERT ... ON CONFLICT DO NOTHING:
// The primary key decides who wins. Two concurrent first requests for the
// same id both run this statement; exactly one reports a changed row and the
// other becomes a no-op. Both then read back the same stored row. A
// SELECT-then-INSERT in Go would let both callers see "absent" and race.
func (db *DB) GetOrCreate(ctx context.Context, u *model.User) (*model.User, bool, error) {
	language := u.Language
	if language == "" {
		language = model.DefaultLanguage
	}
	theme := u.Theme
	if theme == "" {
		theme = model.DefaultTheme
	}
	status := u.Status
	if status == "" {
		status = model.StatusPending
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, first_name, last_name, language, theme, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		u.ID, u.Username, u.FirstName, u.LastName, language, theme, string(status), time.Now().UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: inserting user %d: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: inserting user %d: %w", u.ID, err)
	}

	stored, err := db.GetByID(ctx, u.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, n > 0, nil
}

// GetByID retrieves a user by Telegram id.
// Returns apperror.ErrNotFound if no user exists with that id.
func (db *DB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return u, nil
}

// UpdateSettings writes only the preferences present in upd.
//
// DYNAMIC SET CLAUSE:
// Column names come from a fixed list below, never from input, so building
// the statement is safe. Values still go through placeholders.
func (db *DB) UpdateSettings(ctx context.Context, id int64, upd model.SettingsUpdate) (*model.User, error) {
	var (
		sets []string
		args []any
	)
	if lang, ok := upd.Language.Get(); ok {
		sets = append(sets, "language = ?")
		args = append(args, lang)
	}
	if theme, ok := upd.Theme.Get(); ok {
		sets = append(sets, "theme = ?")
		args = append(args, theme)
	}
	if len(sets) == 0 {
		return db.GetByID(ctx, id)
	}

	args = append(args, id)
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating settings of user %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return db.GetByID(ctx, id)
}

// SetExternalAccount links or, with a nil acc, unlinks the Roblox account.
func (db *DB) SetExternalAccount(ctx context.Context, id int64, acc *model.ExternalAccount) (*model.User, error) {
	var (
		extID       sql.NullInt64
		extUsername sql.NullString
		extDisplay  sql.NullString
		extAvatar   sql.NullString
	)
	if acc != nil {
		extID = sql.NullInt64{Int64: acc.ID, Valid: true}
		extUsername = sql.NullString{String: acc.Username, Valid: true}
		extDisplay = sql.NullString{String: acc.DisplayName, Valid: true}
		extAvatar = sql.NullString{String: acc.AvatarURL, Valid: true}
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET external_id = ?, external_username = ?,
		        external_display_name = ?, external_avatar_url = ?
		 WHERE id = ?`,
		extID, extUsername, extDisplay, extAvatar, id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: setting external account of user %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return db.GetByID(ctx, id)
}

// SetStatus changes a user's status and records the change.
//
// TRANSACTION:
// The read of the old status, the update and the audit insert commit
// together, so the audit row's "from" is always the status that was really
// replaced. Every statement inside must go through tx: with one pooled
// connection, a query on db.conn here would wait for tx forever.
func (db *DB) SetStatus(ctx context.Context, id int64, to model.Status, actorID int64) (*model.StatusChange, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning status change: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	var from string
	err = tx.QueryRowContext(ctx, `SELECT status FROM users WHERE id = ?`, id).Scan(&from)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: reading status of user %d: %w", id, err)
	}

	change := &model.StatusChange{
		ID:      xid.New().String(),
		UserID:  id,
		From:    model.Status(from),
		To:      to,
		ActorID: actorID,
		At:      time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET status = ?, status_changed_at = ?, status_changed_by = ? WHERE id = ?`,
		string(to), change.At, actorID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: updating status of user %d: %w", id, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO status_changes (id, user_id, from_status, to_status, actor_id, changed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		change.ID, change.UserID, string(change.From), string(change.To), change.ActorID, change.At,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recording status change of user %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing status change: %w", err)
	}
	return change, nil
}

// ListStatusChanges returns a user's audit trail, oldest first.
func (db *DB) ListStatusChanges(ctx context.Context, userID int64) ([]model.StatusChange, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, from_status, to_status, actor_id, changed_at
		 FROM status_changes WHERE user_id = ?
		 ORDER BY rowid ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing status changes of user %d: %w", userID, err)
	}
	defer rows.Close()

	changes := []model.StatusChange{}
	for rows.Next() {
		var (
			c        model.StatusChange
			from, to string
		)
		if err := rows.Scan(&c.ID, &c.UserID, &from, &to, &c.ActorID, &c.At); err != nil {
			return nil, fmt.Errorf("sqlite: scanning status change: %w", err)
		}
		c.From, c.To = model.Status(from), model.Status(to)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating status changes: %w", err)
	}
	return changes, nil
}

// ListUsers returns users in registration order.
func (db *DB) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	opts = opts.Clamp()
	return db.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users
		 ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
}

// ListByStatus returns users with the given status in registration order.
func (db *DB) ListByStatus(ctx context.Context, status model.Status, opts repository.ListOptions) ([]model.User, error) {
	opts = opts.Clamp()
	return db.queryUsers(ctx,
		`SELECT `+userColumns+` FROM users WHERE status = ?
		 ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		string(status), opts.Limit, opts.Offset,
	)
}

func (db *DB) queryUsers(ctx context.Context, query string, args ...any) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

// CountByStatus returns the number of users per status. Statuses with no
// users are absent from the map.
func (db *DB) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM users GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: counting users: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("sqlite: scanning user count: %w", err)
		}
		counts[model.Status(status)] = n
	}
	return counts, rows.Err()
}
