// Package model defines the data structures used throughout the application.
package model

import "time"

// Supported preference values. New users start with the defaults.
const (
	LanguageRU = "ru"
	LanguageEN = "en"

	ThemeDark  = "dark"
	ThemeLight = "light"

	DefaultLanguage = LanguageRU
	DefaultTheme    = ThemeDark
)

// User is a Telegram user known to the service.
//
// WHY ID int64?
// The primary key is the Telegram user id itself. It is assigned by Telegram,
// never by us, and it is immutable once the row exists. Telegram ids exceed
// 32 bits for newer accounts, so int64 is required.
//
// StatusChangedAt / StatusChangedBy are nil until an administrator first
// changes the approval status.
type User struct {
	ID              int64            `json:"id"`
	Username        string           `json:"username"`
	FirstName       string           `json:"firstName"`
	LastName        string           `json:"lastName"`
	Language        string           `json:"language"`
	Theme           string           `json:"theme"`
	Status          Status           `json:"status"`
	External        *ExternalAccount `json:"roblox,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	StatusChangedAt *time.Time       `json:"statusChangedAt,omitempty"`
	StatusChangedBy *int64           `json:"statusChangedBy,omitempty"`
}

// DisplayName returns "First Last", falling back to the username.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}

// ExternalAccount is the Roblox account a user has linked.
type ExternalAccount struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Stats is the admin panel summary.
type Stats struct {
	TotalUsers    int `json:"totalUsers"`
	ApprovedUsers int `json:"approvedUsers"`
	PendingUsers  int `json:"pendingUsers"`
	RejectedUsers int `json:"rejectedUsers"`
	BannedUsers   int `json:"bannedUsers"`
	TotalGames    int `json:"totalGames"`
}

// IsValidLanguage reports whether lang is a supported interface language.
func IsValidLanguage(lang string) bool {
	return lang == LanguageRU || lang == LanguageEN
}

// IsValidTheme reports whether theme is a supported colour theme.
func IsValidTheme(theme string) bool {
	return theme == ThemeDark || theme == ThemeLight
}
