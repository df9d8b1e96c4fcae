// Package bot answers Telegram bot updates: registration through /start,
// preferences, and the administrators' approval workflow.
//
// The bot is a second front end over the same services as the HTTP API, so
// approving a user here or through /api/admin has exactly the same effect.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/roblox-stats/internal/apperror"
	"github.com/sakif/roblox-stats/internal/model"
	"github.com/sakif/roblox-stats/internal/repository"
	"github.com/sakif/roblox-stats/internal/service"
	"github.com/sakif/roblox-stats/internal/telegram"
)

// Sender is the part of the Bot API the bot uses.
// *telegram.BotClient implements it.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

const (
	pendingListLimit = 10
	userListLimit    = 20
)

// Bot handles updates delivered by the webhook.
type Bot struct {
	users     *service.UserService
	sender    Sender
	webAppURL string
	logger    *slog.Logger
}

// New creates a Bot. webAppURL is opened by the "Open App" buttons.
func New(users *service.UserService, sender Sender, webAppURL string, logger *slog.Logger) *Bot {
	return &Bot{
		users:     users,
		sender:    sender,
		webAppURL: webAppURL,
		logger:    logger,
	}
}

// HandleUpdate processes one update. Updates the bot does not understand
// are ignored. The returned error is for logging only; Telegram must still
// get a 200 or it will redeliver.
func (b *Bot) HandleUpdate(ctx context.Context, upd telegram.Update) error {
	switch {
	case upd.CallbackQuery != nil:
		return b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil && upd.Message.From != nil && strings.HasPrefix(upd.Message.Text, "/"):
		return b.handleCommand(ctx, upd.Message)
	}
	return nil
}

// register makes sure every sender exists as a user, exactly like the Mini
// App's first request does.
func (b *Bot) register(ctx context.Context, from *telegram.User) (*model.User, bool, error) {
	return b.users.GetOrCreate(ctx, model.User{
		ID:        from.ID,
		Username:  from.Username,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	})
}

// =========================================================================
// COMMANDS
// =========================================================================

// parseCommand splits "/cmd@botname arg1 arg2" into "cmd" and the args.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message) error {
	u, _, err := b.register(ctx, msg.From)
	if err != nil {
		return fmt.Errorf("registering %d: %w", msg.From.ID, err)
	}
	m := textFor(u.Language)
	chatID := msg.Chat.ID
	cmd, args := parseCommand(msg.Text)

	switch cmd {
	case "start":
		return b.start(ctx, chatID, u)
	case "app":
		if u.Status != model.StatusApproved {
			return b.send(ctx, chatID, m.NotApproved, nil)
		}
		return b.send(ctx, chatID, m.OpenApp, keyboard(row(b.webAppButton("🚀 Roblox Game Stats"))))
	case "help":
		return b.send(ctx, chatID, m.HelpText, nil)
	case "settings":
		return b.showSettings(ctx, chatID, m)
	}

	// Everything below is for administrators; others get no reply.
	if !b.users.IsAdmin(u.ID) {
		return nil
	}
	switch cmd {
	case "admin":
		return b.send(ctx, chatID, m.AdminCommands, nil)
	case "admin_stats":
		return b.showStats(ctx, chatID, u.ID, m)
	case "admin_pending":
		return b.showPending(ctx, chatID, u.ID, m)
	case "admin_ban":
		return b.ban(ctx, chatID, u.ID, args, m)
	case "admin_unban":
		return b.unban(ctx, chatID, u.ID, args, m)
	}
	return nil
}

func (b *Bot) start(ctx context.Context, chatID int64, u *model.User) error {
	m := textFor(u.Language)

	switch u.Status {
	case model.StatusPending:
		if err := b.send(ctx, chatID, m.Welcome+"\n\n"+m.WaitApproval,
			keyboard(row(callbackButton(m.Help, "help")))); err != nil {
			return err
		}
		b.notifyAdmins(ctx, u)
		return nil
	case model.StatusRejected:
		return b.send(ctx, chatID, m.Rejected, nil)
	case model.StatusBanned:
		return b.send(ctx, chatID, m.Banned, nil)
	}

	rows := [][]telegram.InlineKeyboardButton{
		row(b.webAppButton(m.OpenApp)),
		row(callbackButton(m.Settings, "settings"), callbackButton(m.Help, "help")),
	}
	if b.users.IsAdmin(u.ID) {
		rows = append(rows, row(callbackButton(m.Admin, "admin_panel")))
	}
	return b.send(ctx, chatID, m.Welcome+"\n\n"+m.Approved, keyboard(rows...))
}

// notifyAdmins sends the approve/reject card for u to every administrator.
// Failures are logged; an unreachable admin must not block registration.
func (b *Bot) notifyAdmins(ctx context.Context, u *model.User) {
	for _, adminID := range b.users.AdminIDs() {
		lang := model.DefaultLanguage
		if admin, err := b.users.GetByID(ctx, adminID); err == nil {
			lang = admin.Language
		}
		m := textFor(lang)

		err := b.sender.SendMessage(ctx, adminID, m.NewRequest+"\n\n"+m.userCard(u), approvalKeyboard(m, u.ID))
		if err != nil {
			b.logger.Warn("failed to notify admin",
				slog.Int64("admin_id", adminID),
				slog.Int64("user_id", u.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (b *Bot) showSettings(ctx context.Context, chatID int64, m messages) error {
	return b.send(ctx, chatID, m.Settings, keyboard(
		row(callbackButton(m.Language, "change_language")),
		row(callbackButton(m.Theme, "change_theme")),
	))
}

func (b *Bot) showStats(ctx context.Context, chatID, actorID int64, m messages) error {
	stats, err := b.users.Stats(ctx, actorID)
	if err != nil {
		return err
	}
	return b.send(ctx, chatID, m.stats(stats), keyboard(
		row(callbackButton(m.PendingButton, "admin_pending")),
		row(callbackButton(m.UsersButton, "admin_users")),
		row(callbackButton(m.RefreshButton, "admin_panel")),
	))
}

func (b *Bot) showPending(ctx context.Context, chatID, actorID int64, m messages) error {
	pending, err := b.users.ListPending(ctx, actorID, repository.ListOptions{Limit: pendingListLimit})
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return b.send(ctx, chatID, m.NoPending, nil)
	}
	for i := range pending {
		if err := b.send(ctx, chatID, m.userCard(&pending[i]), approvalKeyboard(m, pending[i].ID)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) showUsers(ctx context.Context, chatID, actorID int64, m messages) error {
	// Fetch past the display limit so the "and N more" line has a count.
	users, err := b.users.ListUsers(ctx, actorID, repository.ListOptions{Limit: repository.MaxListLimit})
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString(m.UsersTitle + "\n\n")
	for i := range users {
		if i == userListLimit {
			break
		}
		u := &users[i]
		username := u.Username
		if username == "" {
			username = m.Unknown
		}
		fmt.Fprintf(&sb, "%s %s (@%s) - %s\n", statusEmoji[u.Status], u.DisplayName(), username, u.Status)
	}
	if len(users) > userListLimit {
		sb.WriteString("\n" + fmt.Sprintf(m.UsersMore, len(users)-userListLimit))
	}
	return b.send(ctx, chatID, sb.String(), nil)
}

func parseTargetID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	return id, err == nil && id > 0
}

func (b *Bot) ban(ctx context.Context, chatID, actorID int64, args []string, m messages) error {
	targetID, ok := parseTargetID(args)
	if !ok {
		return b.send(ctx, chatID, m.BanUsage, nil)
	}
	target, change, err := b.users.SetStatus(ctx, actorID, targetID, model.StatusBanned)
	if err != nil {
		return b.send(ctx, chatID, "❌ "+userMessage(err), nil)
	}
	if err := b.send(ctx, chatID, fmt.Sprintf(m.UserBanned, targetID), nil); err != nil {
		return err
	}
	if change != nil {
		b.NotifyStatus(ctx, target)
	}
	return nil
}

func (b *Bot) unban(ctx context.Context, chatID, actorID int64, args []string, m messages) error {
	targetID, ok := parseTargetID(args)
	if !ok {
		return b.send(ctx, chatID, m.UnbanUsage, nil)
	}
	target, _, err := b.users.Unban(ctx, actorID, targetID)
	if err != nil {
		return b.send(ctx, chatID, "❌ "+userMessage(err), nil)
	}
	if err := b.send(ctx, chatID, fmt.Sprintf(m.UserUnbanned, targetID), nil); err != nil {
		return err
	}
	b.NotifyStatus(ctx, target)
	return nil
}

// NotifyStatus tells a user about their new status, in their language.
// Failures are logged, never returned.
func (b *Bot) NotifyStatus(ctx context.Context, u *model.User) {
	m := textFor(u.Language)

	var (
		text   string
		markup *telegram.InlineKeyboardMarkup
	)
	switch u.Status {
	case model.StatusApproved:
		text, markup = m.Approved, keyboard(row(b.webAppButton(m.OpenApp)))
	case model.StatusRejected:
		text = m.Rejected
	case model.StatusBanned:
		text = m.Banned
	default:
		return
	}

	if err := b.sender.SendMessage(ctx, u.ID, text, markup); err != nil {
		b.logger.Warn("failed to notify user of status change",
			slog.Int64("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
}

// =========================================================================
// CALLBACKS
// =========================================================================

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) error {
	toast, err := b.dispatchCallback(ctx, cb)
	// The spinner on the pressed button keeps turning until answered.
	if answerErr := b.sender.AnswerCallbackQuery(ctx, cb.ID, toast); answerErr != nil && err == nil {
		err = answerErr
	}
	return err
}

// dispatchCallback runs the button action and returns the toast to show.
func (b *Bot) dispatchCallback(ctx context.Context, cb *telegram.CallbackQuery) (string, error) {
	u, _, err := b.register(ctx, &cb.From)
	if err != nil {
		return "", fmt.Errorf("registering %d: %w", cb.From.ID, err)
	}
	m := textFor(u.Language)

	chatID := u.ID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}

	switch data := cb.Data; {
	case data == "help":
		return "", b.send(ctx, chatID, m.HelpText, nil)

	case data == "settings":
		return "", b.showSettings(ctx, chatID, m)

	case data == "change_language":
		return "", b.send(ctx, chatID, m.ChooseLanguage, keyboard(
			row(callbackButton("🇷🇺 Русский", "set_lang_"+model.LanguageRU)),
			row(callbackButton("🇬🇧 English", "set_lang_"+model.LanguageEN)),
		))

	case data == "change_theme":
		return "", b.send(ctx, chatID, m.ChooseTheme, keyboard(
			row(callbackButton("🌙 Тёмная / Dark", "set_theme_"+model.ThemeDark)),
			row(callbackButton("☀️ Светлая / Light", "set_theme_"+model.ThemeLight)),
		))

	case strings.HasPrefix(data, "set_lang_"):
		lang := strings.TrimPrefix(data, "set_lang_")
		if _, err := b.users.UpdateSettings(ctx, u.ID, model.SettingsUpdate{Language: model.Some(lang)}); err != nil {
			return "❌ " + userMessage(err), nil
		}
		changed := textFor(lang).LanguageChanged
		return changed, b.send(ctx, chatID, changed, nil)

	case strings.HasPrefix(data, "set_theme_"):
		theme := strings.TrimPrefix(data, "set_theme_")
		if _, err := b.users.UpdateSettings(ctx, u.ID, model.SettingsUpdate{Theme: model.Some(theme)}); err != nil {
			return "❌ " + userMessage(err), nil
		}
		text := m.ThemeLight
		if theme == model.ThemeDark {
			text = m.ThemeDark
		}
		return "✅", b.send(ctx, chatID, text, nil)
	}

	// Admin-only buttons.
	if !b.users.IsAdmin(u.ID) {
		return m.NoAccess, nil
	}

	switch data := cb.Data; {
	case data == "admin_panel":
		return "", b.showStats(ctx, chatID, u.ID, m)
	case data == "admin_pending":
		return "", b.showPending(ctx, chatID, u.ID, m)
	case data == "admin_users":
		return "", b.showUsers(ctx, chatID, u.ID, m)
	case strings.HasPrefix(data, "approve_"):
		return b.decide(ctx, cb, u.ID, strings.TrimPrefix(data, "approve_"), model.StatusApproved, m)
	case strings.HasPrefix(data, "reject_"):
		return b.decide(ctx, cb, u.ID, strings.TrimPrefix(data, "reject_"), model.StatusRejected, m)
	}
	return "", nil
}

// decide applies an approve/reject button, marks the admin's card and
// tells the target.
func (b *Bot) decide(ctx context.Context, cb *telegram.CallbackQuery, actorID int64, rawID string, to model.Status, m messages) (string, error) {
	targetID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || targetID <= 0 {
		return "❌", nil
	}

	target, change, err := b.users.SetStatus(ctx, actorID, targetID, to)
	if err != nil {
		return "❌ " + userMessage(err), nil
	}

	mark := m.ApprovedMark
	if to == model.StatusRejected {
		mark = m.RejectedMark
	}

	if cb.Message != nil {
		if err := b.sender.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.MessageID, cb.Message.Text+"\n\n"+mark); err != nil {
			b.logger.Warn("failed to mark approval card", slog.String("error", err.Error()))
		}
	}
	if change != nil {
		b.NotifyStatus(ctx, target)
	}
	return mark, nil
}

// =========================================================================
// HELPERS
// =========================================================================

func (b *Bot) send(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error {
	return b.sender.SendMessage(ctx, chatID, text, markup)
}

func (b *Bot) webAppButton(text string) telegram.InlineKeyboardButton {
	return telegram.InlineKeyboardButton{Text: text, WebApp: &telegram.WebAppInfo{URL: b.webAppURL}}
}

func callbackButton(text, data string) telegram.InlineKeyboardButton {
	return telegram.InlineKeyboardButton{Text: text, CallbackData: data}
}

func row(buttons ...telegram.InlineKeyboardButton) []telegram.InlineKeyboardButton {
	return buttons
}

func keyboard(rows ...[]telegram.InlineKeyboardButton) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func approvalKeyboard(m messages, userID int64) *telegram.InlineKeyboardMarkup {
	id := strconv.FormatInt(userID, 10)
	return keyboard(row(
		callbackButton(m.Approve, "approve_"+id),
		callbackButton(m.Reject, "reject_"+id),
	))
}

// userMessage returns the message of an apperror, or a generic text for
// anything else so storage details never reach a chat.
func userMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
