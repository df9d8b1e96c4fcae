package jsonfile

import (
	"time"

	"github.com/sakif/roblox-stats/internal/model"
)

// The on-disk records use the column names of the SQL backends, so a
// document can be read next to a users/watchlist dump without a mapping.

type diskDocument struct {
	Users         []userRecord   `json:"users"`
	Watchlist     []entryRecord  `json:"watchlist"`
	StatusChanges []changeRecord `json:"status_changes"`
}

type userRecord struct {
	ID                  int64        `json:"id"`
	Username            string       `json:"username"`
	FirstName           string       `json:"first_name"`
	LastName            string       `json:"last_name"`
	Language            string       `json:"language"`
	Theme               string       `json:"theme"`
	Status              model.Status `json:"status"`
	ExternalID          *int64       `json:"external_id,omitempty"`
	ExternalUsername    *string      `json:"external_username,omitempty"`
	ExternalDisplayName *string      `json:"external_display_name,omitempty"`
	ExternalAvatarURL   *string      `json:"external_avatar_url,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	StatusChangedAt     *time.Time   `json:"status_changed_at,omitempty"`
	StatusChangedBy     *int64       `json:"status_changed_by,omitempty"`
}

type entryRecord struct {
	UserID           int64      `json:"user_id"`
	ExternalGameID   int64      `json:"external_game_id"`
	Name             string     `json:"name"`
	ThumbnailURL     string     `json:"thumbnail_url"`
	Visits           int64      `json:"visits"`
	Playing          int64      `json:"playing"`
	Favorites        int64      `json:"favorites"`
	UpVotes          int64      `json:"up_votes"`
	DownVotes        int64      `json:"down_votes"`
	AddedAt          time.Time  `json:"added_at"`
	MetricsUpdatedAt *time.Time `json:"metrics_updated_at,omitempty"`
}

type changeRecord struct {
	ID         string       `json:"id"`
	UserID     int64        `json:"user_id"`
	FromStatus model.Status `json:"from_status"`
	ToStatus   model.Status `json:"to_status"`
	ActorID    int64        `json:"actor_id"`
	ChangedAt  time.Time    `json:"changed_at"`
}

func toDisk(d *document) diskDocument {
	out := diskDocument{
		Users:         make([]userRecord, 0, len(d.Users)),
		Watchlist:     make([]entryRecord, 0, len(d.Watchlist)),
		StatusChanges: make([]changeRecord, 0, len(d.StatusChanges)),
	}
	for _, u := range d.Users {
		r := userRecord{
			ID:              u.ID,
			Username:        u.Username,
			FirstName:       u.FirstName,
			LastName:        u.LastName,
			Language:        u.Language,
			Theme:           u.Theme,
			Status:          u.Status,
			CreatedAt:       u.CreatedAt,
			StatusChangedAt: u.StatusChangedAt,
			StatusChangedBy: u.StatusChangedBy,
		}
		if acc := u.External; acc != nil {
			id, name, display, avatar := acc.ID, acc.Username, acc.DisplayName, acc.AvatarURL
			r.ExternalID = &id
			r.ExternalUsername = &name
			r.ExternalDisplayName = &display
			r.ExternalAvatarURL = &avatar
		}
		out.Users = append(out.Users, r)
	}
	for _, e := range d.Watchlist {
		out.Watchlist = append(out.Watchlist, entryRecord{
			UserID:           e.UserID,
			ExternalGameID:   e.GameID,
			Name:             e.Name,
			ThumbnailURL:     e.ThumbnailURL,
			Visits:           e.Metrics.Visits,
			Playing:          e.Metrics.Playing,
			Favorites:        e.Metrics.Favorites,
			UpVotes:          e.Metrics.UpVotes,
			DownVotes:        e.Metrics.DownVotes,
			AddedAt:          e.AddedAt,
			MetricsUpdatedAt: e.MetricsUpdatedAt,
		})
	}
	for _, c := range d.StatusChanges {
		out.StatusChanges = append(out.StatusChanges, changeRecord{
			ID:         c.ID,
			UserID:     c.UserID,
			FromStatus: c.From,
			ToStatus:   c.To,
			ActorID:    c.ActorID,
			ChangedAt:  c.At,
		})
	}
	return out
}

func fromDisk(dd *diskDocument) document {
	var d document
	for _, r := range dd.Users {
		u := model.User{
			ID:              r.ID,
			Username:        r.Username,
			FirstName:       r.FirstName,
			LastName:        r.LastName,
			Language:        r.Language,
			Theme:           r.Theme,
			Status:          r.Status,
			CreatedAt:       r.CreatedAt,
			StatusChangedAt: r.StatusChangedAt,
			StatusChangedBy: r.StatusChangedBy,
		}
		if r.ExternalID != nil {
			u.External = &model.ExternalAccount{
				ID:          *r.ExternalID,
				Username:    deref(r.ExternalUsername),
				DisplayName: deref(r.ExternalDisplayName),
				AvatarURL:   deref(r.ExternalAvatarURL),
			}
		}
		d.Users = append(d.Users, u)
	}
	for _, r := range dd.Watchlist {
		d.Watchlist = append(d.Watchlist, model.WatchEntry{
			UserID:       r.UserID,
			GameID:       r.ExternalGameID,
			Name:         r.Name,
			ThumbnailURL: r.ThumbnailURL,
			Metrics: model.GameMetrics{
				Visits:    r.Visits,
				Playing:   r.Playing,
				Favorites: r.Favorites,
				UpVotes:   r.UpVotes,
				DownVotes: r.DownVotes,
			},
			AddedAt:          r.AddedAt,
			MetricsUpdatedAt: r.MetricsUpdatedAt,
		})
	}
	for _, r := range dd.StatusChanges {
		d.StatusChanges = append(d.StatusChanges, model.StatusChange{
			ID:      r.ID,
			UserID:  r.UserID,
			From:    r.FromStatus,
			To:      r.ToStatus,
			ActorID: r.ActorID,
			At:      r.ChangedAt,
		})
	}
	return d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
