package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"

	"github.com/sakif/roblox-stats/internal/config"
	"github.com/sakif/roblox-stats/internal/model"
)

// RobloxUser is the OpenID Connect userinfo returned by Roblox.
// Roblox puts the numeric user id in "sub" as a string.
type RobloxUser struct {
	Sub               string `json:"sub"`
	Name              string `json:"name"`
	Nickname          string `json:"nickname"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
}

// Account converts the userinfo into the account stored on the user.
func (u *RobloxUser) Account() (*model.ExternalAccount, error) {
	id, err := strconv.ParseInt(u.Sub, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("auth: Roblox returned an invalid user id %q", u.Sub)
	}
	username := u.PreferredUsername
	if username == "" {
		username = u.Name
	}
	display := u.Nickname
	if display == "" {
		display = username
	}
	return &model.ExternalAccount{
		ID:          id,
		Username:    username,
		DisplayName: display,
		AvatarURL:   u.Picture,
	}, nil
}

// RobloxProvider wraps golang.org/x/oauth2 for the Roblox Authorization Code
// flow. Roblox docs: https://create.roblox.com/docs/cloud/auth/oauth2-reference
type RobloxProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewRobloxProvider creates a provider for the OAuth app in cfg. apisURL is
// the apis.roblox.com base (overridable for tests).
//
// Scopes:
//   - "openid"  → the numeric user id in "sub"
//   - "profile" → username, display name and avatar
func NewRobloxProvider(cfg config.RobloxOAuthConfig, apisURL string) *RobloxProvider {
	base := strings.TrimRight(apisURL, "/") + "/oauth/v1"
	return &RobloxProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/authorize",
				TokenURL:  base + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: base + "/userinfo",
	}
}

// AuthURL returns the consent screen URL carrying state.
func (p *RobloxProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for the user's Roblox profile.
func (p *RobloxProvider) Exchange(ctx context.Context, code string) (*RobloxUser, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// Client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, oauthToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: creating userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling Roblox userinfo: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: Roblox userinfo returned status %d", resp.StatusCode)
	}

	var u RobloxUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("auth: decoding Roblox userinfo: %w", err)
	}
	if u.Sub == "" {
		return nil, fmt.Errorf("auth: Roblox returned an invalid user (empty sub)")
	}
	return &u, nil
}
