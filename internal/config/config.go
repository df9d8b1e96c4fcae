// Package config loads application settings from a YAML file and the
// environment.
//
// Load order (later wins):
//  1. built-in defaults (applyDefaults)
//  2. the YAML file, with ${VAR} references expanded from the environment
//  3. the direct overrides BOT_TOKEN, ADMIN_IDS, PORT, DB_PATH, JWT_SECRET,
//     WEBHOOK_SECRET
//
// main loads a .env file into the environment before calling Load, so the
// same variables can live there during local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverJSON     = "json"
	DriverPostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Storage   StorageConfig  `yaml:"storage"`
	Telegram  TelegramConfig `yaml:"telegram"`
	Roblox    RobloxConfig   `yaml:"roblox"`
	Redis     RedisConfig    `yaml:"redis"`
	Kafka     KafkaConfig    `yaml:"kafka"`
	Refresh   RefreshConfig  `yaml:"refresh"`
	Log       LogConfig      `yaml:"log"`
	JWTSecret string         `yaml:"jwt_secret"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	PublicURL    string        `yaml:"public_url"` // externally reachable base URL, used for webhooks and OAuth redirects
	StaticDir    string        `yaml:"static_dir"` // Mini App build served at /, empty disables
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// StorageConfig selects the backend for users and watch-lists.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | json | postgres
	Path   string `yaml:"path"`   // sqlite database or JSON document
	DSN    string `yaml:"dsn"`    // postgres connection string

	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

// TelegramConfig holds the bot credentials and the administrator allow-list.
type TelegramConfig struct {
	BotToken  string  `yaml:"bot_token"`
	APIURL    string  `yaml:"api_url"`
	AdminIDs  []int64 `yaml:"admin_ids"`
	WebAppURL string  `yaml:"webapp_url"`

	// WebhookSecret authenticates Telegram's webhook calls. Required.
	WebhookSecret string `yaml:"webhook_secret"`

	// InitDataMaxAge bounds how old signed init data may be.
	// A negative value disables the check.
	InitDataMaxAge time.Duration `yaml:"init_data_max_age"`
}

// RobloxConfig holds the public API endpoints and OAuth app credentials.
type RobloxConfig struct {
	UsersURL      string        `yaml:"users_url"`
	GamesURL      string        `yaml:"games_url"`
	ThumbnailsURL string        `yaml:"thumbnails_url"`
	APIsURL       string        `yaml:"apis_url"`
	Timeout       time.Duration `yaml:"timeout"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`

	OAuth RobloxOAuthConfig `yaml:"oauth"`
}

// RobloxOAuthConfig enables account linking through Roblox OAuth 2.0.
// Linking by typed id keeps working when ClientID is empty.
type RobloxOAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Enabled reports whether OAuth linking is configured.
func (c RobloxOAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	RetryAttempts int      `yaml:"retry_attempts"`
}

// RefreshConfig controls the background metrics refresh.
type RefreshConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LogConfig selects slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads configuration from a YAML file.
//
// A missing file is not an error; defaults plus environment overrides still
// produce a usable config. An empty path skips the file entirely.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults + env only
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			// Expand environment variables
			data = []byte(os.ExpandEnv(string(data)))
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv copies the direct environment overrides into c.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := getenv("ADMIN_IDS"); v != "" {
		ids, err := ParseIDList(v)
		if err != nil {
			return fmt.Errorf("parsing ADMIN_IDS: %w", err)
		}
		c.Telegram.AdminIDs = ids
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := getenv("DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := getenv("WEBHOOK_SECRET"); v != "" {
		c.Telegram.WebhookSecret = v
	}
	return nil
}

// ParseIDList parses a comma separated list of numeric ids such as
// "123, 456". Empty items are skipped.
func ParseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.Path == "" {
		switch c.Storage.Driver {
		case DriverJSON:
			c.Storage.Path = "data/roblox_stats.json"
		default:
			c.Storage.Path = "data/roblox_stats.db"
		}
	}
	if c.Storage.MaxConnections == 0 {
		c.Storage.MaxConnections = 10
	}
	if c.Storage.MinConnections == 0 {
		c.Storage.MinConnections = 1
	}
	if c.Storage.MaxConnLifetime == 0 {
		c.Storage.MaxConnLifetime = time.Hour
	}

	// Telegram defaults
	if c.Telegram.InitDataMaxAge == 0 {
		c.Telegram.InitDataMaxAge = 24 * time.Hour
	}

	// Roblox defaults
	if c.Roblox.UsersURL == "" {
		c.Roblox.UsersURL = "https://users.roblox.com"
	}
	if c.Roblox.GamesURL == "" {
		c.Roblox.GamesURL = "https://games.roblox.com"
	}
	if c.Roblox.ThumbnailsURL == "" {
		c.Roblox.ThumbnailsURL = "https://thumbnails.roblox.com"
	}
	if c.Roblox.APIsURL == "" {
		c.Roblox.APIsURL = "https://apis.roblox.com"
	}
	if c.Roblox.Timeout == 0 {
		c.Roblox.Timeout = 10 * time.Second
	}
	if c.Roblox.CacheTTL == 0 {
		c.Roblox.CacheTTL = time.Minute
	}
	if c.Roblox.OAuth.RedirectURL == "" && c.Server.PublicURL != "" {
		c.Roblox.OAuth.RedirectURL = strings.TrimRight(c.Server.PublicURL, "/") + "/auth/roblox/callback"
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "roblox-stats"
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "user-status-changes"
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}

	// Refresh defaults
	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = 5 * time.Minute
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return errors.New("config: telegram bot token is required (BOT_TOKEN)")
	}
	if c.Telegram.WebhookSecret == "" {
		return errors.New("config: telegram webhook secret is required (WEBHOOK_SECRET)")
	}
	switch c.Storage.Driver {
	case DriverSQLite, DriverJSON:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("config: storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Roblox.OAuth.Enabled() && len(c.JWTSecret) < 16 {
		return errors.New("config: jwt_secret of at least 16 characters is required for Roblox OAuth")
	}
	return nil
}

// IsAdmin reports whether id is on the administrator allow-list.
func (c *TelegramConfig) IsAdmin(id int64) bool {
	for _, admin := range c.AdminIDs {
		if admin == id {
			return true
		}
	}
	return false
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Refresh.Enabled = true
	return cfg
}
