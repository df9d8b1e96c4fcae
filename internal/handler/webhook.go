package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/telegram"
)

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxUpdateBytes caps one webhook update.
const maxUpdateBytes = 1 << 20

// UpdateHandler processes one bot update. *bot.Bot implements it.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd telegram.Update) error
}

// WebhookHandler receives bot updates pushed by Telegram.
type WebhookHandler struct {
	bot    UpdateHandler
	secret string
	logger *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. Updates carry the sender's
// Telegram id, which the bot trusts for admin commands, so an empty secret
// rejects every request.
func NewWebhookHandler(bot UpdateHandler, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{bot: bot, secret: secret, logger: logger}
}

// HandleUpdate decodes and dispatches one update.
//
// HTTP: POST /telegram/webhook
//
// Anything other than a 2xx makes Telegram redeliver the update, over and
// over. So once the secret checks out the answer is always 200, even when
// the update was garbage or the bot failed on it; those are only logged.
func (h *WebhookHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(SecretTokenHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		h.logger.Warn("webhook call with a bad secret token")
		writeError(w, apperror.Unauthenticated())
		return
	}

	var upd telegram.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&upd); err != nil {
		h.logger.Warn("undecodable webhook update", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.bot.HandleUpdate(r.Context(), upd); err != nil {
		h.logger.Error("bot update failed",
			slog.Int64("update_id", upd.UpdateID),
			slog.String("error", err.Error()),
		)
	}
	w.WriteHeader(http.StatusOK)
}
