package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "111:from-env")
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("ADMIN_IDS", "")
	t.Setenv("PORT", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("WEBHOOK_SECRET", "")

	path := writeConfig(t, `
server:
  port: 8081
storage:
  driver: json
telegram:
  bot_token: ${TEST_BOT_TOKEN}
  webhook_secret: file-hook
  admin_ids: [1, 2]
  init_data_max_age: 1h
refresh:
  enabled: true
  interval: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "111:from-env", cfg.Telegram.BotToken)
	assert.Equal(t, "file-hook", cfg.Telegram.WebhookSecret)
	assert.Equal(t, []int64{1, 2}, cfg.Telegram.AdminIDs)
	assert.Equal(t, time.Hour, cfg.Telegram.InitDataMaxAge)
	assert.Equal(t, DriverJSON, cfg.Storage.Driver)
	assert.Equal(t, "data/roblox_stats.json", cfg.Storage.Path)
	assert.True(t, cfg.Refresh.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Refresh.Interval)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	t.Setenv("BOT_TOKEN", "222:override")
	t.Setenv("ADMIN_IDS", "10, 20 ,30")
	t.Setenv("PORT", "9000")
	t.Setenv("DB_PATH", "/tmp/stats.db")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("WEBHOOK_SECRET", "env-hook")

	path := writeConfig(t, `
server:
  port: 8081
telegram:
  bot_token: file-token
  admin_ids: [1]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "222:override", cfg.Telegram.BotToken)
	assert.Equal(t, []int64{10, 20, 30}, cfg.Telegram.AdminIDs)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/tmp/stats.db", cfg.Storage.Path)
	assert.Equal(t, "0123456789abcdef0123", cfg.JWTSecret)
	assert.Equal(t, "env-hook", cfg.Telegram.WebhookSecret)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "333:token")
	t.Setenv("WEBHOOK_SECRET", "hook")
	t.Setenv("ADMIN_IDS", "")
	t.Setenv("PORT", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "data/roblox_stats.db", cfg.Storage.Path)
	assert.Equal(t, 24*time.Hour, cfg.Telegram.InitDataMaxAge)
	assert.Equal(t, "https://games.roblox.com", cfg.Roblox.GamesURL)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		body string
	}{
		{
			name: "missing bot token",
			body: "server:\n  port: 1\n",
		},
		{
			name: "missing webhook secret",
			env:  map[string]string{"BOT_TOKEN": "t"},
		},
		{
			name: "bad ADMIN_IDS",
			env:  map[string]string{"BOT_TOKEN": "t", "WEBHOOK_SECRET": "w", "ADMIN_IDS": "1,abc"},
		},
		{
			name: "unknown driver",
			env:  map[string]string{"BOT_TOKEN": "t", "WEBHOOK_SECRET": "w"},
			body: "storage:\n  driver: mongo\n",
		},
		{
			name: "postgres without dsn",
			env:  map[string]string{"BOT_TOKEN": "t", "WEBHOOK_SECRET": "w"},
			body: "storage:\n  driver: postgres\n",
		},
		{
			name: "oauth without jwt secret",
			env:  map[string]string{"BOT_TOKEN": "t", "WEBHOOK_SECRET": "w"},
			body: "roblox:\n  oauth:\n    client_id: a\n    client_secret: b\n",
		},
		{
			name: "invalid yaml",
			env:  map[string]string{"BOT_TOKEN": "t", "WEBHOOK_SECRET": "w"},
			body: "server: [",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"BOT_TOKEN", "WEBHOOK_SECRET", "ADMIN_IDS", "PORT", "DB_PATH", "JWT_SECRET"} {
				t.Setenv(k, tt.env[k])
			}
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList(" 5 ,, 6,")
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6}, ids)

	ids, err = ParseIDList("")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIsAdmin(t *testing.T) {
	tc := TelegramConfig{AdminIDs: []int64{7, 8}}
	assert.True(t, tc.IsAdmin(8))
	assert.False(t, tc.IsAdmin(9))
}

func TestOAuthRedirectDefaultsFromPublicURL(t *testing.T) {
	cfg := &Config{Server: ServerConfig{PublicURL: "https://stats.example.com/"}}
	cfg.applyDefaults()
	assert.Equal(t, "https://stats.example.com/auth/roblox/callback", cfg.Roblox.OAuth.RedirectURL)
}
