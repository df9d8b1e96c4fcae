// Package main is the entry point for the Roblox Game Stats server: the
// Telegram Mini App API, the bot webhook and the live metrics websocket.
//
// main stays minimal. It reads configuration, builds the logger and hands
// both to internal/server, where everything else is wired.
//
// Usage:
//
//	server -config configs/config.yaml
//
// A .env file in the working directory is loaded first, so BOT_TOKEN,
// ADMIN_IDS and friends can live there during local development.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sakif/roblox-stats/internal/config"
	"github.com/sakif/roblox-stats/internal/server"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	// === 1. ENVIRONMENT ===
	// A missing .env is normal in production, where the variables come from
	// the process environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", slog.String("error", err.Error()))
	}

	// === 2. CONFIGURATION ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. LOGGING ===
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	// === 4. DATA DIRECTORY ===
	// The file backends create their file but not its directory.
	if cfg.Storage.Driver != config.DriverPostgres {
		dir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create data directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	if len(cfg.Telegram.AdminIDs) == 0 {
		logger.Warn("ADMIN_IDS is empty, nobody can approve new users")
	}

	// === 5. CREATE AND START THE SERVER ===
	ctx := context.Background()
	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newLogger builds the slog logger described by cfg: text for humans,
// JSON for log shippers.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
