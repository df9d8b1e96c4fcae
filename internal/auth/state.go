// Package auth authenticates API callers and signs the OAuth state used to
// link Roblox accounts.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. Telegram opens the Mini App and hands it signed init data
//  2. The app sends it with every request in the X-Telegram-Init-Data header
//  3. RequireInitData verifies the signature, registers the user on first
//     contact and stores identity + user in the request context
//
// ACCOUNT LINKING (optional, when a Roblox OAuth app is configured):
//  1. GET /api/user/roblox/oauth issues a state token bound to the Telegram id
//  2. The user approves on Roblox, which calls back /auth/roblox/callback
//  3. The callback validates state, exchanges the code and links the account
//
// The state is a short-lived HS256 JWT, so the callback needs no server-side
// session to know which Telegram user started the flow.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	stateIssuer = "roblox-stats"

	// StateTTL is how long a user has to finish the Roblox consent screen.
	StateTTL = 10 * time.Minute
)

// StateService signs and validates OAuth state tokens.
type StateService struct {
	secret []byte
	ttl    time.Duration
}

// NewStateService creates a StateService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewStateService(secret string) (*StateService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &StateService{secret: []byte(secret), ttl: StateTTL}, nil
}

// Generate creates a state token for telegramID. Every call returns a
// different token (the jti is random).
func (s *StateService) Generate(telegramID int64) (string, error) {
	return s.GenerateWithDuration(telegramID, s.ttl)
}

// GenerateWithDuration creates a state token with a custom lifetime.
// Used in tests.
func (s *StateService) GenerateWithDuration(telegramID int64, d time.Duration) (string, error) {
	now := time.Now()

	c := jwt.RegisteredClaims{
		ID:        xid.New().String(),
		Subject:   strconv.FormatInt(telegramID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    stateIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing state: %w", err)
	}
	return signed, nil
}

// Validate verifies a state token and returns the Telegram id it was
// issued for.
//
// jwt.WithValidMethods pins HS256 so a token claiming "none" or an
// asymmetric algorithm is rejected before the signature check.
func (s *StateService) Validate(tokenStr string) (int64, error) {
	var c jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, errors.New("auth: state expired")
		}
		return 0, fmt.Errorf("auth: invalid state: %w", err)
	}
	if !token.Valid {
		return 0, errors.New("auth: invalid state")
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("auth: state has no subject")
	}
	return id, nil
}
