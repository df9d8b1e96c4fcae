package bot

import (
	"fmt"

	"github.com/sakif/roblox-stats/internal/model"
)

// messages is the text catalog for one language.
type messages struct {
	Welcome         string
	WaitApproval    string
	Pending         string
	Approved        string
	Rejected        string
	Banned          string
	NotApproved     string
	OpenApp         string
	Help            string
	HelpText        string
	Settings        string
	Language        string
	Theme           string
	ChooseLanguage  string
	ChooseTheme     string
	LanguageChanged string
	ThemeDark       string
	ThemeLight      string
	Admin           string
	NoAccess        string
	NewRequest      string
	Approve         string
	Reject          string
	ApprovedMark    string
	RejectedMark    string
	StatsTitle      string
	StatsBody       string
	PendingButton   string
	UsersButton     string
	RefreshButton   string
	NoPending       string
	UsersTitle      string
	UsersMore       string
	UserCard        string
	AdminCommands   string
	BanUsage        string
	UnbanUsage      string
	UserBanned      string
	UserUnbanned    string
	Unknown         string
}

var catalog = map[string]messages{
	model.LanguageRU: {
		Welcome:         "👋 Добро пожаловать в Roblox Game Stats!",
		WaitApproval:    "⏳ Ваша заявка отправлена на рассмотрение.\nОжидайте одобрения администратора.",
		Pending:         "⏳ Ваша заявка ещё на рассмотрении.",
		Approved:        "✅ Ваш аккаунт одобрен! Теперь вы можете использовать бота.",
		Rejected:        "❌ К сожалению, ваша заявка отклонена.",
		Banned:          "🚫 Вы заблокированы.",
		NotApproved:     "⚠️ У вас нет доступа. Ожидайте одобрения.",
		OpenApp:         "🎮 Открыть приложение",
		Help:            "❓ Помощь",
		HelpText:        "📖 Roblox Game Stats\n\nЭто приложение позволяет:\n• 📊 Просматривать статистику игр Roblox\n• 🎮 Добавлять свои игры\n• 📈 Отслеживать посещаемость\n• ⭐ Следить за оценками\n\nКоманды:\n/start - Начать\n/app - Открыть приложение\n/help - Помощь\n/settings - Настройки",
		Settings:        "⚙️ Настройки",
		Language:        "🌍 Язык / Language",
		Theme:           "🌙 Тема / Theme",
		ChooseLanguage:  "🌍 Выберите язык / Choose language:",
		ChooseTheme:     "🎨 Выберите тему / Choose theme:",
		LanguageChanged: "✅ Язык изменён!",
		ThemeDark:       "🌙 Тёмная тема активирована",
		ThemeLight:      "☀️ Светлая тема активирована",
		Admin:           "👑 Админ панель",
		NoAccess:        "⛔ Нет доступа",
		NewRequest:      "🆕 Новая заявка на доступ!",
		Approve:         "✅ Одобрить",
		Reject:          "❌ Отклонить",
		ApprovedMark:    "✅ ОДОБРЕНО",
		RejectedMark:    "❌ ОТКЛОНЕНО",
		StatsTitle:      "👑 Админ панель",
		StatsBody:       "📊 Статистика:\n├ Всего пользователей: %d\n├ Одобрено: %d\n├ Ожидают: %d\n├ Отклонено: %d\n├ Заблокировано: %d\n└ Игр добавлено: %d",
		PendingButton:   "📋 Заявки",
		UsersButton:     "👥 Все пользователи",
		RefreshButton:   "🔄 Обновить",
		NoPending:       "✅ Нет заявок на рассмотрении",
		UsersTitle:      "👥 Пользователи:",
		UsersMore:       "... и ещё %d пользователей",
		UserCard:        "👤 %s\n📧 @%s\n🆔 %d",
		AdminCommands:   "👑 Админ команды:\n\n/admin_stats - Статистика\n/admin_pending - Заявки\n/admin_ban [ID] - Забанить\n/admin_unban [ID] - Разбанить",
		BanUsage:        "Использование: /admin_ban [ID]",
		UnbanUsage:      "Использование: /admin_unban [ID]",
		UserBanned:      "🚫 Пользователь %d забанен",
		UserUnbanned:    "✅ Пользователь %d разбанен",
		Unknown:         "нет",
	},
	model.LanguageEN: {
		Welcome:         "👋 Welcome to Roblox Game Stats!",
		WaitApproval:    "⏳ Your request has been sent for review.\nPlease wait for admin approval.",
		Pending:         "⏳ Your request is still pending.",
		Approved:        "✅ Your account is approved! You can now use the bot.",
		Rejected:        "❌ Unfortunately, your request was rejected.",
		Banned:          "🚫 You are banned.",
		NotApproved:     "⚠️ Access denied. Please wait for approval.",
		OpenApp:         "🎮 Open App",
		Help:            "❓ Help",
		HelpText:        "📖 Roblox Game Stats\n\nThis app allows you to:\n• 📊 View Roblox game statistics\n• 🎮 Add your games\n• 📈 Track player visits\n• ⭐ Monitor ratings\n\nCommands:\n/start - Start\n/app - Open app\n/help - Help\n/settings - Settings",
		Settings:        "⚙️ Settings",
		Language:        "🌍 Язык / Language",
		Theme:           "🌙 Тема / Theme",
		ChooseLanguage:  "🌍 Выберите язык / Choose language:",
		ChooseTheme:     "🎨 Выберите тему / Choose theme:",
		LanguageChanged: "✅ Language changed!",
		ThemeDark:       "🌙 Dark theme enabled",
		ThemeLight:      "☀️ Light theme enabled",
		Admin:           "👑 Admin Panel",
		NoAccess:        "⛔ Access denied",
		NewRequest:      "🆕 New access request!",
		Approve:         "✅ Approve",
		Reject:          "❌ Reject",
		ApprovedMark:    "✅ APPROVED",
		RejectedMark:    "❌ REJECTED",
		StatsTitle:      "👑 Admin Panel",
		StatsBody:       "📊 Statistics:\n├ Total users: %d\n├ Approved: %d\n├ Pending: %d\n├ Rejected: %d\n├ Banned: %d\n└ Games added: %d",
		PendingButton:   "📋 Requests",
		UsersButton:     "👥 All users",
		RefreshButton:   "🔄 Refresh",
		NoPending:       "✅ No pending requests",
		UsersTitle:      "👥 Users:",
		UsersMore:       "... and %d more users",
		UserCard:        "👤 %s\n📧 @%s\n🆔 %d",
		AdminCommands:   "👑 Admin commands:\n\n/admin_stats - Statistics\n/admin_pending - Requests\n/admin_ban [ID] - Ban\n/admin_unban [ID] - Unban",
		BanUsage:        "Usage: /admin_ban [ID]",
		UnbanUsage:      "Usage: /admin_unban [ID]",
		UserBanned:      "🚫 User %d banned",
		UserUnbanned:    "✅ User %d unbanned",
		Unknown:         "none",
	},
}

// textFor returns the catalog for lang, falling back to the default
// language for anything unknown.
func textFor(lang string) messages {
	if m, ok := catalog[lang]; ok {
		return m
	}
	return catalog[model.DefaultLanguage]
}

func (m messages) stats(s *model.Stats) string {
	return m.StatsTitle + "\n\n" + fmt.Sprintf(m.StatsBody,
		s.TotalUsers, s.ApprovedUsers, s.PendingUsers, s.RejectedUsers, s.BannedUsers, s.TotalGames)
}

func (m messages) userCard(u *model.User) string {
	username := u.Username
	if username == "" {
		username = m.Unknown
	}
	return fmt.Sprintf(m.UserCard, u.DisplayName(), username, u.ID)
}

var statusEmoji = map[model.Status]string{
	model.StatusApproved: "✅",
	model.StatusPending:  "⏳",
	model.StatusRejected: "❌",
	model.StatusBanned:   "🚫",
}
