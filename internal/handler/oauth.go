package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sakif/roblox-stats/internal/auth"
	"github.com/sakif/roblox-stats/internal/service"
)

// OAuthProvider runs the Roblox authorization code flow.
// *auth.RobloxProvider implements it.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.RobloxUser, error)
}

// StateSigner issues and checks the OAuth state. *auth.StateService
// implements it.
type StateSigner interface {
	Generate(telegramID int64) (string, error)
	Validate(token string) (int64, error)
}

// Link results appended to the Mini App URL after the callback.
const (
	linkResultParam = "roblox_link"
	linkOK          = "ok"
	linkDenied      = "denied"
	linkFailed      = "failed"
)

// OAuthHandler links a Roblox account through Roblox's consent screen.
//
// FLOW:
//  1. The Mini App calls GET /api/user/roblox/oauth and opens the returned
//     URL in the system browser.
//  2. Roblox redirects to /auth/roblox/callback?code=...&state=...
//  3. The callback checks the state, exchanges the code for the Roblox
//     profile and links it to the Telegram user named in the state.
//  4. The browser is sent back to the Mini App with ?roblox_link=ok.
//
// STATE INSTEAD OF A COOKIE:
// The callback arrives in an external browser, not in the Telegram
// webview that started the flow, so there is no shared cookie jar. The
// state is a short-lived signed token carrying the Telegram id instead.
type OAuthHandler struct {
	provider  OAuthProvider
	states    StateSigner
	users     *service.UserService
	webAppURL string
	logger    *slog.Logger
}

// NewOAuthHandler creates an OAuthHandler. webAppURL is where the browser
// lands after the callback.
func NewOAuthHandler(provider OAuthProvider, states StateSigner, users *service.UserService, webAppURL string, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		provider:  provider,
		states:    states,
		users:     users,
		webAppURL: webAppURL,
		logger:    logger,
	}
}

// HandleStart returns the Roblox consent URL for the caller.
//
// HTTP: GET /api/user/roblox/oauth
// RESPONSE: {"url": "https://apis.roblox.com/oauth/v1/authorize?..."}
func (h *OAuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	id, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.users.RequireApproved(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	state, err := h.states.Generate(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": h.provider.AuthURL(state)})
}

// HandleCallback completes the link.
//
// HTTP: GET /auth/roblox/callback?code=xxx&state=yyy
//
// A bad or expired state is a 400: nothing can be linked without knowing
// the Telegram user. Every later failure redirects back to the Mini App
// with the result in the query string.
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	telegramID, err := h.states.Validate(q.Get("state"))
	if err != nil {
		h.logger.Warn("oauth callback: invalid state", slog.String("error", err.Error()))
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("oauth callback: user denied authorization",
			slog.Int64("user_id", telegramID),
			slog.String("error", errParam),
		)
		h.redirect(w, r, linkDenied)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	robloxUser, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth callback: Roblox exchange failed",
			slog.Int64("user_id", telegramID),
			slog.String("error", err.Error()),
		)
		h.redirect(w, r, linkFailed)
		return
	}

	acc, err := robloxUser.Account()
	if err != nil {
		h.logger.Error("oauth callback: unusable Roblox profile", slog.String("error", err.Error()))
		h.redirect(w, r, linkFailed)
		return
	}

	// LinkExternalAccount re-checks approval; the user may have been banned
	// since the flow started.
	if _, err := h.users.LinkExternalAccount(r.Context(), telegramID, *acc); err != nil {
		h.logger.Warn("oauth callback: link failed",
			slog.Int64("user_id", telegramID),
			slog.String("error", err.Error()),
		)
		h.redirect(w, r, linkFailed)
		return
	}

	h.logger.Info("Roblox account linked through OAuth",
		slog.Int64("user_id", telegramID),
		slog.Int64("roblox_id", acc.ID),
	)
	h.redirect(w, r, linkOK)
}

func (h *OAuthHandler) redirect(w http.ResponseWriter, r *http.Request, result string) {
	target := h.webAppURL
	if target == "" {
		target = "/"
	}
	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set(linkResultParam, result)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}
