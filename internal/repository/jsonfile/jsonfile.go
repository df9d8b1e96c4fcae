// Package jsonfile implements repository.Store on a single JSON document.
//
// The whole document lives in memory behind one mutex. Every write is applied
// to the in-memory copy and then flushed to disk by writing a temp file in the
// same directory and renaming it over the old one, so a crash mid-write leaves
// either the old or the new document, never a torn one.
//
// An empty path gives a store that never touches disk.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// document is the in-memory copy; records.go maps it to the on-disk
// layout. Slices keep insertion order.
type document struct {
	Users         []model.User         `json:"users"`
	Watchlist     []model.WatchEntry   `json:"watchlist"`
	StatusChanges []model.StatusChange `json:"statusChanges"`
}

func (d *document) clone() document {
	return document{
		Users:         slices.Clone(d.Users),
		Watchlist:     slices.Clone(d.Watchlist),
		StatusChanges: slices.Clone(d.StatusChanges),
	}
}

func (d *document) userIndex(id int64) int {
	return slices.IndexFunc(d.Users, func(u model.User) bool { return u.ID == id })
}

func (d *document) entryIndex(userID, gameID int64) int {
	return slices.IndexFunc(d.Watchlist, func(e model.WatchEntry) bool {
		return e.UserID == userID && e.GameID == gameID
	})
}

type Store struct {
	mu   sync.Mutex
	path string
	doc  document
}

// New loads the document at path, or starts empty if the file does not exist.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("jsonfile: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var dd diskDocument
	if err := json.Unmarshal(data, &dd); err != nil {
		return nil, fmt.Errorf("jsonfile: decoding %s: %w", path, err)
	}
	s.doc = fromDisk(&dd)
	return s, nil
}

// NewMemory returns a store that is never written to disk.
func NewMemory() *Store {
	return &Store{}
}

// Close is a no-op; every write is already on disk.
func (s *Store) Close() error {
	return nil
}

// update runs fn against the document and persists the result. If fn or the
// flush fails the in-memory document is rolled back, so memory never runs
// ahead of disk.
func (s *Store) update(fn func(d *document) error) error {
	before := s.doc.clone()
	if err := fn(&s.doc); err != nil {
		s.doc = before
		return err
	}
	if err := s.flush(); err != nil {
		s.doc = before
		return err
	}
	return nil
}

func (s *Store) flush() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(toDisk(&s.doc), "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encoding document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("jsonfile: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("jsonfile: replacing %s: %w", s.path, err)
	}
	return nil
}

func userNotFound(id int64) error {
	return apperror.NotFound("user", strconv.FormatInt(id, 10))
}

func entryNotFound(userID, gameID int64) error {
	return apperror.NotFound("watch entry", fmt.Sprintf("%d/%d", userID, gameID))
}

// =========================================================================
// USERS
// =========================================================================

func (s *Store) GetOrCreate(_ context.Context, u *model.User) (*model.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.doc.userIndex(u.ID); i >= 0 {
		stored := s.doc.Users[i]
		return &stored, false, nil
	}

	stored := model.User{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Language:  u.Language,
		Theme:     u.Theme,
		Status:    u.Status,
		CreatedAt: time.Now().UTC(),
	}
	if stored.Language == "" {
		stored.Language = model.DefaultLanguage
	}
	if stored.Theme == "" {
		stored.Theme = model.DefaultTheme
	}
	if stored.Status == "" {
		stored.Status = model.StatusPending
	}

	err := s.update(func(d *document) error {
		d.Users = append(d.Users, stored)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, true, nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.doc.userIndex(id)
	if i < 0 {
		return nil, userNotFound(id)
	}
	u := s.doc.Users[i]
	return &u, nil
}

// modifyUser applies fn to the stored user and returns the result.
func (s *Store) modifyUser(id int64, fn func(u *model.User)) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out model.User
	err := s.update(func(d *document) error {
		i := d.userIndex(id)
		if i < 0 {
			return userNotFound(id)
		}
		fn(&d.Users[i])
		out = d.Users[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) UpdateSettings(_ context.Context, id int64, upd model.SettingsUpdate) (*model.User, error) {
	return s.modifyUser(id, func(u *model.User) {
		if lang, ok := upd.Language.Get(); ok {
			u.Language = lang
		}
		if theme, ok := upd.Theme.Get(); ok {
			u.Theme = theme
		}
	})
}

func (s *Store) SetExternalAccount(_ context.Context, id int64, acc *model.ExternalAccount) (*model.User, error) {
	return s.modifyUser(id, func(u *model.User) {
		if acc == nil {
			u.External = nil
			return
		}
		linked := *acc
		u.External = &linked
	})
}

func (s *Store) SetStatus(_ context.Context, id int64, to model.Status, actorID int64) (*model.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var change model.StatusChange
	err := s.update(func(d *document) error {
		i := d.userIndex(id)
		if i < 0 {
			return userNotFound(id)
		}
		u := &d.Users[i]
		change = model.StatusChange{
			ID:      xid.New().String(),
			UserID:  id,
			From:    u.Status,
			To:      to,
			ActorID: actorID,
			At:      time.Now().UTC(),
		}
		at, by := change.At, actorID
		u.Status = to
		u.StatusChangedAt = &at
		u.StatusChangedBy = &by
		d.StatusChanges = append(d.StatusChanges, change)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func (s *Store) ListStatusChanges(_ context.Context, userID int64) ([]model.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := []model.StatusChange{}
	for _, c := range s.doc.StatusChanges {
		if c.UserID == userID {
			changes = append(changes, c)
		}
	}
	return changes, nil
}

func (s *Store) ListUsers(_ context.Context, opts repository.ListOptions) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return page(s.doc.Users, opts), nil
}

func (s *Store) ListByStatus(_ context.Context, status model.Status, opts repository.ListOptions) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []model.User
	for _, u := range s.doc.Users {
		if u.Status == status {
			matched = append(matched, u)
		}
	}
	return page(matched, opts), nil
}

func page(users []model.User, opts repository.ListOptions) []model.User {
	opts = opts.Clamp()
	out := []model.User{}
	if opts.Offset >= len(users) {
		return out
	}
	end := min(opts.Offset+opts.Limit, len(users))
	return append(out, users[opts.Offset:end]...)
}

func (s *Store) CountByStatus(_ context.Context) (map[model.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[model.Status]int)
	for _, u := range s.doc.Users {
		counts[u.Status]++
	}
	return counts, nil
}

// =========================================================================
// WATCH-LIST
// =========================================================================

func (s *Store) AddEntry(_ context.Context, e *model.WatchEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}
	return s.update(func(d *document) error {
		if d.userIndex(e.UserID) < 0 {
			return userNotFound(e.UserID)
		}
		if d.entryIndex(e.UserID, e.GameID) >= 0 {
			return apperror.Conflict("watch entry", fmt.Sprintf("%d/%d", e.UserID, e.GameID))
		}
		d.Watchlist = append(d.Watchlist, *e)
		return nil
	})
}

func (s *Store) RemoveEntry(_ context.Context, userID, gameID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc.entryIndex(userID, gameID) < 0 {
		return nil
	}
	return s.update(func(d *document) error {
		d.Watchlist = slices.DeleteFunc(d.Watchlist, func(e model.WatchEntry) bool {
			return e.UserID == userID && e.GameID == gameID
		})
		return nil
	})
}

func (s *Store) GetEntry(_ context.Context, userID, gameID int64) (*model.WatchEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.doc.entryIndex(userID, gameID)
	if i < 0 {
		return nil, entryNotFound(userID, gameID)
	}
	e := s.doc.Watchlist[i]
	return &e, nil
}

func (s *Store) ListEntries(_ context.Context, userID int64) ([]model.WatchEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := []model.WatchEntry{}
	for _, e := range s.doc.Watchlist {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) RefreshMetrics(_ context.Context, userID, gameID int64, m model.GameMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.update(func(d *document) error {
		i := d.entryIndex(userID, gameID)
		if i < 0 {
			return entryNotFound(userID, gameID)
		}
		now := time.Now().UTC()
		d.Watchlist[i].Metrics = m
		d.Watchlist[i].MetricsUpdatedAt = &now
		return nil
	})
}

func (s *Store) RefreshMetricsForGame(_ context.Context, gameID int64, m model.GameMetrics) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.update(func(d *document) error {
		now := time.Now().UTC()
		for i := range d.Watchlist {
			if d.Watchlist[i].GameID != gameID {
				continue
			}
			d.Watchlist[i].Metrics = m
			d.Watchlist[i].MetricsUpdatedAt = &now
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) ListTrackedGameIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for _, e := range s.doc.Watchlist {
		if !slices.Contains(ids, e.GameID) {
			ids = append(ids, e.GameID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) CountEntries(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc.Watchlist), nil
}
