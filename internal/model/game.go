package model

import "time"

// GameMetrics are the live counters Roblox reports for a universe.
type GameMetrics struct {
	Visits    int64 `json:"visits"`
	Playing   int64 `json:"playing"`
	Favorites int64 `json:"favorites"`
	UpVotes   int64 `json:"upVotes"`
	DownVotes int64 `json:"downVotes"`
}

// Rating is the share of up votes as a whole percentage, 0 when nobody voted.
func (m GameMetrics) Rating() int {
	total := m.UpVotes + m.DownVotes
	if total == 0 {
		return 0
	}
	return int((m.UpVotes*100 + total/2) / total)
}

// Game is a Roblox universe as returned by the lookup client.
type Game struct {
	UniverseID   int64       `json:"universeId"`
	RootPlaceID  int64       `json:"rootPlaceId"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Creator      string      `json:"creator"`
	ThumbnailURL string      `json:"thumbnailUrl"`
	Metrics      GameMetrics `json:"metrics"`
}

// GameMeta is what a caller supplies when adding a game to a watch-list.
type GameMeta struct {
	Name         string
	ThumbnailURL string
	Metrics      GameMetrics
}

// WatchEntry is one game on one user's watch-list.
//
// The pair (UserID, GameID) is unique. GameID is the Roblox universe id.
// MetricsUpdatedAt is nil until the first successful refresh.
type WatchEntry struct {
	UserID           int64       `json:"userId"`
	GameID           int64       `json:"universeId"`
	Name             string      `json:"name"`
	ThumbnailURL     string      `json:"thumbnailUrl"`
	Metrics          GameMetrics `json:"metrics"`
	AddedAt          time.Time   `json:"addedAt"`
	MetricsUpdatedAt *time.Time  `json:"metricsUpdatedAt,omitempty"`
}
