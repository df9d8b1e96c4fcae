package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/telegram"
)

// InitDataHeader carries the Mini App's signed init data on API calls.
const InitDataHeader = "X-Telegram-Init-Data"

// initDataQuery is the fallback for WebSocket upgrades, where the browser
// API cannot set request headers.
const initDataQuery = "initData"

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow these values.
type contextKey string

const (
	identityKey contextKey = "identity"
	userKey     contextKey = "user"
)

// Registrar turns a verified identity into a stored user.
// *service.UserService implements it.
type Registrar interface {
	GetOrCreate(ctx context.Context, profile model.User) (*model.User, bool, error)
	IsAdmin(id int64) bool
}

// unauthenticatedMessage is the only 401 text, whatever check failed.
const unauthenticatedMessage = "valid Telegram init data required"

// RequireInitData authenticates every request by its Telegram init data.
//
// On success the verified identity and the stored user (registered on first
// contact) are put in the request context. Missing or invalid init data is
// a 401; nothing about the failure reason is revealed.
func RequireInitData(verifier *telegram.Verifier, users Registrar, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(InitDataHeader)
			if raw == "" {
				raw = r.URL.Query().Get(initDataQuery)
			}
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", unauthenticatedMessage)
				return
			}

			identity, err := verifier.Verify(raw)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", unauthenticatedMessage)
				return
			}

			u, created, err := users.GetOrCreate(r.Context(), model.User{
				ID:        identity.ID,
				Username:  identity.Username,
				FirstName: identity.FirstName,
				LastName:  identity.LastName,
			})
			if err != nil {
				if errors.Is(err, apperror.ErrValidation) {
					writeAuthError(w, http.StatusBadRequest, "validation_error", "init data carries no user")
					return
				}
				logger.Error("failed to load user for request",
					slog.Int64("user_id", identity.ID),
					slog.String("error", err.Error()),
				)
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
				return
			}
			if created {
				logger.Info("user registered through the Mini App", slog.Int64("user_id", u.ID))
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			ctx = context.WithValue(ctx, userKey, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers that are not on the administrator allow-list.
// It must run after RequireInitData.
func RequireAdmin(users Registrar) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", unauthenticatedMessage)
				return
			}
			if !users.IsAdmin(u.ID) {
				writeAuthError(w, http.StatusForbidden, "forbidden", "administrator rights required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext returns the verified Telegram identity of the request.
func IdentityFromContext(ctx context.Context) (*telegram.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*telegram.Identity)
	return id, ok && id != nil
}

// UserFromContext returns the stored user as loaded when the request
// arrived. Handlers that change the user should use the service's result,
// not this snapshot.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// UserIDFromContext returns the caller's Telegram id, or (0, false) when the
// request was not authenticated.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return 0, false
	}
	return u.ID, true
}

// WithUser returns a context carrying u, as RequireInitData would.
// Used by handler tests that bypass the middleware.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func writeAuthError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
		"error":   errorType,
		"message": message,
	})
}
