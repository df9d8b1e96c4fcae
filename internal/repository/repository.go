// Package repository declares the storage contracts the services depend on.
//
// Three backends implement them with the same logical schema:
//   - sqlite   (internal/repository/sqlite)   the default
//   - jsonfile (internal/repository/jsonfile) a single JSON document
//   - postgres (internal/repository/postgres)
//
// Backends translate their own errors into apperror values: a missing row
// becomes apperror.NotFound, a duplicate watch-list pair apperror.Conflict.
package repository

import (
	"context"

	"github.com/sakif/roblox-stats/internal/model"
)

// Page sizes applied by ListOptions.Clamp.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListOptions pages through user listings.
type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository stores Telegram users keyed by their Telegram id.
type UserRepository interface {
	// GetOrCreate inserts u if no row with u.ID exists and returns the stored
	// row. created is true only for the call that inserted it. Concurrent
	// calls for the same id are resolved by the primary key, never by a
	// read-then-write in the caller.
	GetOrCreate(ctx context.Context, u *model.User) (user *model.User, created bool, err error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	UpdateSettings(ctx context.Context, id int64, upd model.SettingsUpdate) (*model.User, error)
	// SetExternalAccount links acc to the user; nil unlinks.
	SetExternalAccount(ctx context.Context, id int64, acc *model.ExternalAccount) (*model.User, error)
	// SetStatus writes the new status, stamps status_changed_at/by and appends
	// an audit row, all in one write.
	SetStatus(ctx context.Context, id int64, to model.Status, actorID int64) (*model.StatusChange, error)
	ListStatusChanges(ctx context.Context, userID int64) ([]model.StatusChange, error)
	ListUsers(ctx context.Context, opts ListOptions) ([]model.User, error)
	ListByStatus(ctx context.Context, status model.Status, opts ListOptions) ([]model.User, error)
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
}

// GameRepository stores per-user watch-lists.
type GameRepository interface {
	// AddEntry inserts e, returning apperror.Conflict if the (user, game) pair exists.
	AddEntry(ctx context.Context, e *model.WatchEntry) error
	// RemoveEntry deletes the pair; removing an absent pair is not an error.
	RemoveEntry(ctx context.Context, userID, gameID int64) error
	GetEntry(ctx context.Context, userID, gameID int64) (*model.WatchEntry, error)
	// ListEntries returns a user's entries in insertion order.
	ListEntries(ctx context.Context, userID int64) ([]model.WatchEntry, error)
	// RefreshMetrics overwrites the cached metrics of one entry only.
	RefreshMetrics(ctx context.Context, userID, gameID int64, m model.GameMetrics) error
	// RefreshMetricsForGame overwrites the metrics of every entry tracking
	// gameID and returns how many entries changed.
	RefreshMetricsForGame(ctx context.Context, gameID int64, m model.GameMetrics) (int, error)
	// ListTrackedGameIDs returns each distinct game id on any watch-list.
	ListTrackedGameIDs(ctx context.Context) ([]int64, error)
	CountEntries(ctx context.Context) (int, error)
}

// Store is a backend holding both users and watch-lists.
type Store interface {
	UserRepository
	GameRepository
	Close() error
}

// Clamp applies the default and maximum page sizes.
func (o ListOptions) Clamp() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
