package model

import (
	"encoding/json"
	"testing"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from  Status
		to    Status
		unban bool
		want  bool
	}{
		{StatusPending, StatusApproved, false, true},
		{StatusPending, StatusRejected, false, true},
		{StatusPending, StatusBanned, false, true},
		{StatusApproved, StatusRejected, false, true},
		{StatusApproved, StatusBanned, false, true},
		{StatusApproved, StatusPending, false, false},
		{StatusRejected, StatusApproved, false, true},
		{StatusRejected, StatusBanned, false, true},
		{StatusBanned, StatusApproved, false, false},
		{StatusBanned, StatusRejected, false, false},
		{StatusBanned, StatusApproved, true, true},
		{StatusRejected, StatusApproved, true, false},
		{StatusBanned, StatusPending, true, false},
		{StatusApproved, StatusApproved, false, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransition(tt.to, tt.unban)
		if got != tt.want {
			t.Errorf("%s -> %s (unban=%v) = %v, want %v", tt.from, tt.to, tt.unban, got, tt.want)
		}
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusApproved, StatusRejected, StatusBanned} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("deleted").Valid() {
		t.Error(`"deleted" should not be valid`)
	}
}

func TestSettingsUpdate_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantLang  Optional[string]
		wantTheme Optional[string]
	}{
		{
			name:      "theme only",
			body:      `{"theme":"light"}`,
			wantTheme: Some("light"),
		},
		{
			name:     "language only",
			body:     `{"language":"en"}`,
			wantLang: Some("en"),
		},
		{
			name:      "null counts as absent",
			body:      `{"language":null,"theme":"dark"}`,
			wantTheme: Some("dark"),
		},
		{
			name:      "empty string is present",
			body:      `{"theme":""}`,
			wantTheme: Some(""),
		},
		{
			name: "empty object",
			body: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var upd SettingsUpdate
			if err := json.Unmarshal([]byte(tt.body), &upd); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if upd.Language != tt.wantLang {
				t.Errorf("Language = %+v, want %+v", upd.Language, tt.wantLang)
			}
			if upd.Theme != tt.wantTheme {
				t.Errorf("Theme = %+v, want %+v", upd.Theme, tt.wantTheme)
			}
		})
	}
}

func TestGameMetricsRating(t *testing.T) {
	tests := []struct {
		m    GameMetrics
		want int
	}{
		{GameMetrics{}, 0},
		{GameMetrics{UpVotes: 3, DownVotes: 1}, 75},
		{GameMetrics{UpVotes: 2, DownVotes: 1}, 67},
		{GameMetrics{UpVotes: 10}, 100},
	}
	for _, tt := range tests {
		if got := tt.m.Rating(); got != tt.want {
			t.Errorf("Rating(%+v) = %d, want %d", tt.m, got, tt.want)
		}
	}
}

func TestUserDisplayName(t *testing.T) {
	tests := []struct {
		u    User
		want string
	}{
		{User{FirstName: "Ann", LastName: "Lee"}, "Ann Lee"},
		{User{FirstName: "Ann"}, "Ann"},
		{User{Username: "ann42"}, "ann42"},
	}
	for _, tt := range tests {
		if got := tt.u.DisplayName(); got != tt.want {
			t.Errorf("DisplayName() = %q, want %q", got, tt.want)
		}
	}
}
