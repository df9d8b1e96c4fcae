// Package roblox is a small client for the public Roblox web APIs: users,
// avatar and game thumbnails, game details and votes, and place → universe
// resolution. None of these endpoints need credentials.
package roblox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/config"
	"github.com/sakif/roblox-stats/internal/model"
)

// Cache is an optional read-through cache for GET responses.
// *cache.RedisCache implements it.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (found bool, err error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

// User is a Roblox account as returned by users.roblox.com.
type User struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	IsBanned    bool   `json:"isBanned,omitempty"`
}

// Client talks to the Roblox web APIs.
type Client struct {
	usersURL      string
	gamesURL      string
	thumbnailsURL string
	apisURL       string
	httpClient    *http.Client
	cache         Cache
	cacheTTL      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithCache puts c in front of every GET. Cache failures fall through to
// the network.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.cacheTTL = ttl
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(cl *Client) { cl.httpClient = hc }
}

// New creates a client for the endpoints in cfg.
func New(cfg config.RobloxConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		usersURL:      strings.TrimRight(cfg.UsersURL, "/"),
		gamesURL:      strings.TrimRight(cfg.GamesURL, "/"),
		thumbnailsURL: strings.TrimRight(cfg.ThumbnailsURL, "/"),
		apisURL:       strings.TrimRight(cfg.APIsURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =========================================================================
// USERS
// =========================================================================

// GetUser fetches a user by id.
func (c *Client) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u User
	endpoint := fmt.Sprintf("%s/v1/users/%d", c.usersURL, userID)
	if err := c.get(ctx, endpoint, &u); err != nil {
		return nil, notFoundAs(err, "roblox user", strconv.FormatInt(userID, 10))
	}
	return &u, nil
}

// SearchUser returns the best match for a username keyword.
func (c *Client) SearchUser(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}

	params := url.Values{}
	params.Set("keyword", username)
	params.Set("limit", "10")

	var resp struct {
		Data []User `json:"data"`
	}
	if err := c.get(ctx, c.usersURL+"/v1/users/search?"+params.Encode(), &resp); err != nil {
		return nil, notFoundAs(err, "roblox user", username)
	}
	if len(resp.Data) == 0 {
		return nil, apperror.NotFound("roblox user", username)
	}
	// Prefer an exact (case-insensitive) name match over the first hit.
	for i := range resp.Data {
		if strings.EqualFold(resp.Data[i].Name, username) {
			return &resp.Data[i], nil
		}
	}
	return &resp.Data[0], nil
}

type thumbnailResponse struct {
	Data []struct {
		TargetID int64  `json:"targetId"`
		State    string `json:"state"`
		ImageURL string `json:"imageUrl"`
	} `json:"data"`
}

func (t *thumbnailResponse) first() string {
	if len(t.Data) == 0 {
		return ""
	}
	return t.Data[0].ImageURL
}

// AvatarURL returns the 150x150 headshot of a user. An empty string means
// Roblox has no image for the user yet.
func (c *Client) AvatarURL(ctx context.Context, userID int64) (string, error) {
	params := url.Values{}
	params.Set("userIds", strconv.FormatInt(userID, 10))
	params.Set("size", "150x150")
	params.Set("format", "Png")

	var resp thumbnailResponse
	if err := c.get(ctx, c.thumbnailsURL+"/v1/users/avatar-headshot?"+params.Encode(), &resp); err != nil {
		return "", err
	}
	return resp.first(), nil
}

// ExternalAccount builds the linkable account for a user id. A missing
// avatar does not fail the lookup.
func (c *Client) ExternalAccount(ctx context.Context, userID int64) (*model.ExternalAccount, error) {
	u, err := c.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	avatar, _ := c.AvatarURL(ctx, userID)
	return &model.ExternalAccount{
		ID:          u.ID,
		Username:    u.Name,
		DisplayName: u.DisplayName,
		AvatarURL:   avatar,
	}, nil
}

// =========================================================================
// GAMES
// =========================================================================

type gameResponse struct {
	ID          int64  `json:"id"`
	RootPlaceID int64  `json:"rootPlaceId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Creator     struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"creator"`
	Playing        int64 `json:"playing"`
	Visits         int64 `json:"visits"`
	FavoritedCount int64 `json:"favoritedCount"`
}

// GetGame fetches a universe's details. Votes and thumbnail are not
// included; see GameDetails.
func (c *Client) GetGame(ctx context.Context, universeID int64) (*model.Game, error) {
	id := strconv.FormatInt(universeID, 10)
	var resp struct {
		Data []gameResponse `json:"data"`
	}
	if err := c.get(ctx, c.gamesURL+"/v1/games?universeIds="+id, &resp); err != nil {
		return nil, notFoundAs(err, "game", id)
	}
	if len(resp.Data) == 0 {
		return nil, apperror.NotFound("game", id)
	}

	g := resp.Data[0]
	return &model.Game{
		UniverseID:  g.ID,
		RootPlaceID: g.RootPlaceID,
		Name:        g.Name,
		Description: g.Description,
		Creator:     g.Creator.Name,
		Metrics: model.GameMetrics{
			Visits:    g.Visits,
			Playing:   g.Playing,
			Favorites: g.FavoritedCount,
		},
	}, nil
}

// GameVotes returns the up and down vote counts of a universe.
func (c *Client) GameVotes(ctx context.Context, universeID int64) (up, down int64, err error) {
	id := strconv.FormatInt(universeID, 10)
	var resp struct {
		Data []struct {
			ID        int64 `json:"id"`
			UpVotes   int64 `json:"upVotes"`
			DownVotes int64 `json:"downVotes"`
		} `json:"data"`
	}
	if err := c.get(ctx, c.gamesURL+"/v1/games/votes?universeIds="+id, &resp); err != nil {
		return 0, 0, notFoundAs(err, "game", id)
	}
	if len(resp.Data) == 0 {
		return 0, 0, apperror.NotFound("game", id)
	}
	return resp.Data[0].UpVotes, resp.Data[0].DownVotes, nil
}

// GameIcon returns the 150x150 icon of a universe, or "" if there is none.
func (c *Client) GameIcon(ctx context.Context, universeID int64) (string, error) {
	params := url.Values{}
	params.Set("universeIds", strconv.FormatInt(universeID, 10))
	params.Set("size", "150x150")
	params.Set("format", "Png")

	var resp thumbnailResponse
	if err := c.get(ctx, c.thumbnailsURL+"/v1/games/icons?"+params.Encode(), &resp); err != nil {
		return "", err
	}
	return resp.first(), nil
}

// GameDetails combines the game, its votes and its icon. The icon is
// cosmetic, so failing to fetch it leaves ThumbnailURL empty instead of
// failing the call.
func (c *Client) GameDetails(ctx context.Context, universeID int64) (*model.Game, error) {
	g, err := c.GetGame(ctx, universeID)
	if err != nil {
		return nil, err
	}
	up, down, err := c.GameVotes(ctx, universeID)
	if err != nil {
		return nil, err
	}
	g.Metrics.UpVotes, g.Metrics.DownVotes = up, down

	if icon, err := c.GameIcon(ctx, universeID); err == nil {
		g.ThumbnailURL = icon
	}
	return g, nil
}

// UniverseFromPlace maps a place id to the universe that owns it.
func (c *Client) UniverseFromPlace(ctx context.Context, placeID int64) (int64, error) {
	id := strconv.FormatInt(placeID, 10)
	var resp struct {
		UniverseID *int64 `json:"universeId"`
	}
	if err := c.get(ctx, c.apisURL+"/universes/v1/places/"+id+"/universe", &resp); err != nil {
		return 0, notFoundAs(err, "place", id)
	}
	if resp.UniverseID == nil || *resp.UniverseID == 0 {
		return 0, apperror.NotFound("place", id)
	}
	return *resp.UniverseID, nil
}

var gameURLPattern = regexp.MustCompile(`roblox\.com/(?:[a-z]{2}/)?games/(\d+)`)

// ResolveUniverse accepts what people paste into the "add game" box:
//   - a bare number, tried first as a universe id and then as a place id
//   - a roblox.com/games/<placeId>/... link
//
// Anything else is a validation error.
func (c *Client) ResolveUniverse(ctx context.Context, input string) (int64, error) {
	input = strings.TrimSpace(input)

	if m := gameURLPattern.FindStringSubmatch(input); m != nil {
		placeID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, apperror.ValidationFailed("input", "invalid place id in link")
		}
		return c.UniverseFromPlace(ctx, placeID)
	}

	id, err := strconv.ParseInt(input, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("input", "enter a universe id, place id or roblox.com game link")
	}

	if _, err := c.GetGame(ctx, id); err == nil {
		return id, nil
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return 0, err
	}
	return c.UniverseFromPlace(ctx, id)
}

// =========================================================================
// TRANSPORT
// =========================================================================

// get fetches endpoint and decodes the JSON body into out, going through
// the cache when one is configured. The full URL is the cache key.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	if c.cache != nil {
		if found, err := c.cache.Get(ctx, endpoint, out); err == nil && found {
			return nil
		}
	}

	body, err := c.doRequest(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("roblox: decode response: %w", err)
	}

	if c.cache != nil {
		// Best effort: the response is already decoded.
		_ = c.cache.Set(ctx, endpoint, json.RawMessage(body), c.cacheTTL)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("roblox: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roblox: do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("roblox: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && len(apiErr.Errors) > 0 && apiErr.Errors[0].Message != "" {
			msg = apiErr.Errors[0].Message
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	return body, nil
}

// notFoundAs turns a 404, or a 400 (Roblox's answer for ids that don't
// exist), into apperror.NotFound. Other errors pass through.
func notFoundAs(err error, resource, id string) error {
	if IsStatus(err, http.StatusNotFound) || IsStatus(err, http.StatusBadRequest) {
		return apperror.NotFound(resource, id)
	}
	return err
}
