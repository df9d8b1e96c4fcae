// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler / Bot (transport) → parses requests, writes responses
//	Service (business)        → validates, enforces rules, orchestrates
//	Repository (data)         → reads/writes storage
//
// Both the HTTP API and the Telegram bot call the same services, so the
// approval rules live here exactly once. Services know nothing about HTTP
// status codes; they return apperror values and the transport maps them.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/events"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository"
)

// UserService owns registration, preferences, account linking and the
// approval workflow.
type UserService struct {
	users     repository.UserRepository
	games     repository.GameRepository
	admins    map[int64]struct{}
	publisher events.Publisher
	logger    *slog.Logger
}

// NewUserService creates a UserService. adminIDs is the administrator
// allow-list; publisher may be nil, in which case events are dropped.
func NewUserService(
	users repository.UserRepository,
	games repository.GameRepository,
	adminIDs []int64,
	publisher events.Publisher,
	logger *slog.Logger,
) *UserService {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &UserService{
		users:     users,
		games:     games,
		admins:    admins,
		publisher: publisher,
		logger:    logger,
	}
}

// IsAdmin reports whether id is on the administrator allow-list.
func (s *UserService) IsAdmin(id int64) bool {
	_, ok := s.admins[id]
	return ok
}

// AdminIDs returns the allow-list in no particular order.
func (s *UserService) AdminIDs() []int64 {
	ids := make([]int64, 0, len(s.admins))
	for id := range s.admins {
		ids = append(ids, id)
	}
	return ids
}

// GetOrCreate returns the stored user for a verified identity, registering
// it on first contact. created is true only for the call that registered it.
//
// Administrators skip the approval queue: they are created approved, and an
// administrator still pending from before they joined the allow-list is
// approved on their next visit.
func (s *UserService) GetOrCreate(ctx context.Context, profile model.User) (*model.User, bool, error) {
	if profile.ID == 0 {
		return nil, false, apperror.ValidationFailed("id", "user id is required")
	}

	profile.Status = model.StatusPending
	if s.IsAdmin(profile.ID) {
		profile.Status = model.StatusApproved
	}
	// Preferences always start at the defaults; only the user changes them.
	profile.Language, profile.Theme = "", ""
	profile.External = nil

	u, created, err := s.users.GetOrCreate(ctx, &profile)
	if err != nil {
		return nil, false, fmt.Errorf("registering user %d: %w", profile.ID, err)
	}

	if created {
		s.logger.Info("user registered",
			slog.Int64("user_id", u.ID),
			slog.String("status", string(u.Status)),
		)
		return u, true, nil
	}

	if s.IsAdmin(u.ID) && u.Status == model.StatusPending {
		change, err := s.users.SetStatus(ctx, u.ID, model.StatusApproved, u.ID)
		if err != nil {
			return nil, false, fmt.Errorf("approving administrator %d: %w", u.ID, err)
		}
		s.publish(ctx, change)
		u, err = s.users.GetByID(ctx, u.ID)
		if err != nil {
			return nil, false, err
		}
	}
	return u, false, nil
}

// GetByID retrieves a user. Returns apperror.ErrNotFound if absent.
func (s *UserService) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return s.users.GetByID(ctx, id)
}

// UpdateSettings applies a self-service preference patch. Only the fields
// present in upd change; an empty patch returns the user unchanged.
func (s *UserService) UpdateSettings(ctx context.Context, id int64, upd model.SettingsUpdate) (*model.User, error) {
	if lang, ok := upd.Language.Get(); ok && !model.IsValidLanguage(lang) {
		return nil, apperror.ValidationFailed("language",
			fmt.Sprintf("language must be %q or %q", model.LanguageRU, model.LanguageEN))
	}
	if theme, ok := upd.Theme.Get(); ok && !model.IsValidTheme(theme) {
		return nil, apperror.ValidationFailed("theme",
			fmt.Sprintf("theme must be %q or %q", model.ThemeDark, model.ThemeLight))
	}

	u, err := s.users.UpdateSettings(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// LinkExternalAccount attaches a Roblox account. Only approved users may link.
func (s *UserService) LinkExternalAccount(ctx context.Context, id int64, acc model.ExternalAccount) (*model.User, error) {
	if acc.ID <= 0 {
		return nil, apperror.ValidationFailed("robloxId", "a positive Roblox user id is required")
	}
	if _, err := s.RequireApproved(ctx, id); err != nil {
		return nil, err
	}

	u, err := s.users.SetExternalAccount(ctx, id, &acc)
	if err != nil {
		return nil, fmt.Errorf("linking account of user %d: %w", id, err)
	}
	s.logger.Info("roblox account linked",
		slog.Int64("user_id", id),
		slog.Int64("roblox_id", acc.ID),
	)
	return u, nil
}

// UnlinkExternalAccount removes the linked account. Any status may unlink.
func (s *UserService) UnlinkExternalAccount(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.users.SetExternalAccount(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SetStatus moves target to a new approval status on behalf of actor.
//
// Rules, checked in this order so a rejected request never touches storage:
//  1. actor must be an administrator (Forbidden)
//  2. to must be a known status (Validation)
//  3. target must exist (NotFound)
//  4. writing the current status again is a no-op: the user is returned with
//     a nil change and no event is published
//  5. leaving banned needs Unban (Forbidden); any other move outside the
//     transition table is a Validation error
//
// The returned change is nil exactly when nothing was written.
func (s *UserService) SetStatus(ctx context.Context, actorID, targetID int64, to model.Status) (*model.User, *model.StatusChange, error) {
	if !s.IsAdmin(actorID) {
		return nil, nil, apperror.Forbidden("administrator rights required")
	}
	if !to.Valid() {
		return nil, nil, apperror.ValidationFailed("status", fmt.Sprintf("unknown status %q", to))
	}
	return s.transition(ctx, actorID, targetID, to, false)
}

// Unban lifts a ban, leaving the user approved. It is the only way out of
// banned and, like SetStatus, is restricted to administrators.
func (s *UserService) Unban(ctx context.Context, actorID, targetID int64) (*model.User, *model.StatusChange, error) {
	if !s.IsAdmin(actorID) {
		return nil, nil, apperror.Forbidden("administrator rights required")
	}
	return s.transition(ctx, actorID, targetID, model.StatusApproved, true)
}

func (s *UserService) transition(ctx context.Context, actorID, targetID int64, to model.Status, unban bool) (*model.User, *model.StatusChange, error) {
	u, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}

	if unban && u.Status != model.StatusBanned {
		return nil, nil, apperror.ValidationFailed("status", "user is not banned")
	}
	if u.Status == to {
		return u, nil, nil
	}
	if !u.Status.CanTransition(to, unban) {
		if u.Status == model.StatusBanned && to == model.StatusApproved {
			return nil, nil, apperror.Forbidden("banned users can only be approved through unban")
		}
		return nil, nil, apperror.ValidationFailed("status",
			fmt.Sprintf("cannot change status from %s to %s", u.Status, to))
	}

	change, err := s.users.SetStatus(ctx, targetID, to, actorID)
	if err != nil {
		return nil, nil, fmt.Errorf("changing status of user %d: %w", targetID, err)
	}

	s.logger.Info("user status changed",
		slog.Int64("user_id", targetID),
		slog.String("from", string(change.From)),
		slog.String("to", string(change.To)),
		slog.Int64("actor_id", actorID),
	)

	s.publish(ctx, change)

	updated, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}
	return updated, change, nil
}

// publish announces a committed status change. A broker outage must not
// undo or fail it, so errors are only logged.
func (s *UserService) publish(ctx context.Context, change *model.StatusChange) {
	if err := s.publisher.PublishStatusChanged(ctx, events.NewStatusChanged(change)); err != nil {
		s.logger.Warn("failed to publish status change",
			slog.Int64("user_id", change.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// Stats summarises users and watch-lists for the admin panel.
func (s *UserService) Stats(ctx context.Context, actorID int64) (*model.Stats, error) {
	if !s.IsAdmin(actorID) {
		return nil, apperror.Forbidden("administrator rights required")
	}

	counts, err := s.users.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	games, err := s.games.CountEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting games: %w", err)
	}

	stats := &model.Stats{
		ApprovedUsers: counts[model.StatusApproved],
		PendingUsers:  counts[model.StatusPending],
		RejectedUsers: counts[model.StatusRejected],
		BannedUsers:   counts[model.StatusBanned],
		TotalGames:    games,
	}
	for _, n := range counts {
		stats.TotalUsers += n
	}
	return stats, nil
}

// ListPending returns users waiting for a decision, oldest first.
func (s *UserService) ListPending(ctx context.Context, actorID int64, opts repository.ListOptions) ([]model.User, error) {
	if !s.IsAdmin(actorID) {
		return nil, apperror.Forbidden("administrator rights required")
	}
	return s.users.ListByStatus(ctx, model.StatusPending, opts)
}

// ListUsers returns every user, oldest first, for the admin panel.
func (s *UserService) ListUsers(ctx context.Context, actorID int64, opts repository.ListOptions) ([]model.User, error) {
	if !s.IsAdmin(actorID) {
		return nil, apperror.Forbidden("administrator rights required")
	}
	return s.users.ListUsers(ctx, opts)
}

// History returns the recorded status changes of target, oldest first.
func (s *UserService) History(ctx context.Context, actorID, targetID int64) ([]model.StatusChange, error) {
	if !s.IsAdmin(actorID) {
		return nil, apperror.Forbidden("administrator rights required")
	}
	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		return nil, err
	}
	return s.users.ListStatusChanges(ctx, targetID)
}

// RequireApproved loads the user and fails with Forbidden unless approved.
func (s *UserService) RequireApproved(ctx context.Context, id int64) (*model.User, error) {
	return requireApproved(ctx, s.users, id)
}

func requireApproved(ctx context.Context, users repository.UserRepository, id int64) (*model.User, error) {
	u, err := users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Status != model.StatusApproved {
		return nil, apperror.Forbidden("account is not approved")
	}
	return u, nil
}
