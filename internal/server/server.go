// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the composition root: it opens the store, connects the
// optional Redis cache and Kafka producer, builds the services, and hands
// them to the handlers, the bot, the websocket hub and the refresh worker.
// Nothing below this package knows how its dependencies were built.
//
// DEPENDENCY FLOW:
//
//	config.Config
//	  → repository.Store (sqlite | json | postgres)
//	  → roblox.Client (+ cache.RedisCache)
//	  → service.UserService (+ events.Publisher), service.WatchlistService
//	  → handler.*, bot.Bot, worker.RefreshWorker → websocket.Hub
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/roblox-stats/internal/auth"
	"github.com/sakif/roblox-stats/internal/bot"
	"github.com/sakif/roblox-stats/internal/cache"
	"github.com/sakif/roblox-stats/internal/config"
	"github.com/sakif/roblox-stats/internal/events"
	"github.com/sakif/roblox-stats/internal/handler"
	"github.com/sakif/roblox-stats/internal/middleware"
	"github.com/sakif/roblox-stats/internal/repository"
	"github.com/sakif/roblox-stats/internal/repository/jsonfile"
	"github.com/sakif/roblox-stats/internal/repository/postgres"
	sqliteRepo "github.com/sakif/roblox-stats/internal/repository/sqlite"
	"github.com/sakif/roblox-stats/internal/roblox"
	"github.com/sakif/roblox-stats/internal/service"
	"github.com/sakif/roblox-stats/internal/telegram"
	"github.com/sakif/roblox-stats/internal/websocket"
	"github.com/sakif/roblox-stats/internal/worker"
)

// WebhookPath is where Telegram delivers bot updates.
const WebhookPath = "/telegram/webhook"

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store, the cache and the event producer. Start closes
// them, in reverse order of creation, once the HTTP server has drained.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	store     repository.Store
	cache     *cache.RedisCache // nil when Redis is disabled or unreachable
	publisher events.Publisher
	botClient *telegram.BotClient
	hub       *websocket.Hub
	worker    *worker.RefreshWorker

	users     *service.UserService
	watchlist *service.WatchlistService
	roblox    *roblox.Client
	bot       *bot.Bot
}

// New wires every dependency from cfg.
//
// Redis and Kafka are optional: if they are enabled but unreachable the
// server logs a warning and runs without them. The store is not optional.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		store:     store,
		publisher: events.NopPublisher{},
	}

	if cfg.Redis.Enabled {
		c, err := cache.NewRedisCache(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis unavailable, Roblox lookups will not be cached",
				slog.String("addr", cfg.Redis.Addr),
				slog.String("error", err.Error()),
			)
		} else {
			s.cache = c
		}
	}

	if cfg.Kafka.Enabled {
		p, err := events.NewKafkaPublisher(cfg.Kafka, logger)
		if err != nil {
			logger.Warn("Kafka unavailable, status events will not be published",
				slog.Any("brokers", cfg.Kafka.Brokers),
				slog.String("error", err.Error()),
			)
		} else {
			s.publisher = p
		}
	}

	var robloxOpts []roblox.Option
	if s.cache != nil {
		robloxOpts = append(robloxOpts, roblox.WithCache(s.cache, cfg.Roblox.CacheTTL))
	}
	s.roblox = roblox.New(cfg.Roblox, robloxOpts...)

	s.users = service.NewUserService(store, store, cfg.Telegram.AdminIDs, s.publisher, logger)
	s.watchlist = service.NewWatchlistService(store, store, s.roblox, logger)

	s.botClient = telegram.NewBotClient(cfg.Telegram.APIURL, cfg.Telegram.BotToken)
	s.bot = bot.New(s.users, s.botClient, cfg.Telegram.WebAppURL, logger)

	s.hub = websocket.NewHub(logger)
	s.worker = worker.NewRefreshWorker(store, s.roblox, s.hub, &cfg.Refresh, logger)

	if err := s.setupRoutes(); err != nil {
		s.closeResources()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// openStore opens the backend named by cfg.Driver.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (repository.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqliteRepo.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		return db, nil
	case config.DriverJSON:
		st, err := jsonfile.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening JSON store: %w", err)
		}
		return st, nil
	case config.DriverPostgres:
		repo, err := postgres.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Handler returns the router. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz
//	POST   /telegram/webhook                  (secret token header)
//	GET    /auth/roblox/callback              (OAuth enabled only)
//	GET    /ws                                (init data in the query)
//	       /api/...                           (init data header)
//	GET    /api/user
//	PUT    /api/user/settings
//	POST   /api/user/roblox
//	DELETE /api/user/roblox
//	GET    /api/user/roblox/oauth             (OAuth enabled only)
//	GET    /api/games
//	POST   /api/games
//	DELETE /api/games/{universeId}
//	POST   /api/games/{universeId}/refresh
//	GET    /api/roblox/...                    (read-only Roblox proxy)
//	       /api/admin/...                     (administrator allow-list)
//	GET    /*                                 (Mini App build, if configured)
//
// MIDDLEWARE ORDER MATTERS:
// RequestID runs first so the logger can print it; Recoverer sits inside the
// logger so a panic is logged as the 500 it becomes.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	verifier := telegram.NewVerifier(s.config.Telegram.BotToken, s.config.Telegram.InitDataMaxAge)
	requireInitData := auth.RequireInitData(verifier, s.users, s.logger)

	health := handler.NewHealthHandler()
	s.router.Get("/healthz", health.HandleHealth)

	webhook := handler.NewWebhookHandler(s.bot, s.config.Telegram.WebhookSecret, s.logger)
	s.router.Post(WebhookPath, webhook.HandleUpdate)

	var oauthHandler *handler.OAuthHandler
	if s.config.Roblox.OAuth.Enabled() {
		states, err := auth.NewStateService(s.config.JWTSecret)
		if err != nil {
			return fmt.Errorf("creating OAuth state service: %w", err)
		}
		provider := auth.NewRobloxProvider(s.config.Roblox.OAuth, s.config.Roblox.APIsURL)
		oauthHandler = handler.NewOAuthHandler(provider, states, s.users, s.config.Telegram.WebAppURL, s.logger)
		s.router.Get("/auth/roblox/callback", oauthHandler.HandleCallback)
	} else {
		s.logger.Info("Roblox OAuth not configured, accounts link by id only")
	}

	live := handler.NewLiveHandler(s.hub, s.watchlist, s.logger)
	s.router.With(requireInitData).Get("/ws", live.HandleWs)

	userHandler := handler.NewUserHandler(s.users, s.watchlist, s.roblox, s.logger)
	gamesHandler := handler.NewGamesHandler(s.watchlist, s.logger)
	robloxHandler := handler.NewRobloxHandler(s.roblox, s.logger)
	adminHandler := handler.NewAdminHandler(s.users, s.bot, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(requireInitData)

		r.Get("/user", userHandler.HandleGet)
		r.Put("/user/settings", userHandler.HandleUpdateSettings)
		r.Post("/user/roblox", userHandler.HandleLink)
		r.Delete("/user/roblox", userHandler.HandleUnlink)
		if oauthHandler != nil {
			r.Get("/user/roblox/oauth", oauthHandler.HandleStart)
		}

		r.Get("/games", gamesHandler.HandleList)
		r.Post("/games", gamesHandler.HandleAdd)
		r.Delete("/games/{universeId}", gamesHandler.HandleRemove)
		r.Post("/games/{universeId}/refresh", gamesHandler.HandleRefresh)

		r.Route("/roblox", func(r chi.Router) {
			r.Get("/user/{id}", robloxHandler.HandleUser)
			r.Get("/user/search/{username}", robloxHandler.HandleSearchUser)
			r.Get("/avatar/{id}", robloxHandler.HandleAvatar)
			r.Get("/game/{universeId}", robloxHandler.HandleGame)
			r.Get("/resolve", robloxHandler.HandleResolve)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin(s.users))

			r.Get("/stats", adminHandler.HandleStats)
			r.Get("/pending", adminHandler.HandlePending)
			r.Get("/users", adminHandler.HandleUsers)
			r.Get("/users/{userId}/history", adminHandler.HandleHistory)
			r.Post("/{action}/{userId}", adminHandler.HandleSetStatus)
		})
	})

	// === Static Files ===
	// The Mini App build is served from the root so its relative asset paths
	// keep working. API and websocket routes above take precedence.
	if dir := s.config.Server.StaticDir; dir != "" {
		s.router.Handle("/*", http.FileServer(http.Dir(dir)))
	}
	return nil
}

// Start runs the server until SIGINT/SIGTERM or ctx is cancelled.
//
// GRACEFUL SHUTDOWN:
//  1. stop accepting HTTP connections and let in-flight requests finish
//  2. stop the refresh worker
//  3. stop the hub, which closes every websocket
//  4. close the event producer, the cache and the store
func (s *Server) Start(ctx context.Context) error {
	defer s.closeResources()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	go s.hub.Run()
	defer s.hub.Stop()

	if s.config.Refresh.Enabled {
		if err := s.worker.Start(ctx); err != nil {
			return fmt.Errorf("starting refresh worker: %w", err)
		}
		defer func() {
			if err := s.worker.Stop(); err != nil {
				s.logger.Warn("refresh worker stop failed", slog.String("error", err.Error()))
			}
		}()
	}

	s.registerWebhook(ctx)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("storage", s.config.Storage.Driver),
			slog.Int("admins", len(s.config.Telegram.AdminIDs)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

// registerWebhook points Telegram at this server when a public URL is
// configured. Without one the webhook is assumed to be managed elsewhere.
// A failure is logged; the Mini App API works without the bot.
func (s *Server) registerWebhook(ctx context.Context) {
	base := s.config.Server.PublicURL
	if base == "" {
		s.logger.Warn("server.public_url not set, not registering the Telegram webhook")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := strings.TrimRight(base, "/") + WebhookPath
	if err := s.botClient.SetWebhook(ctx, url, s.config.Telegram.WebhookSecret); err != nil {
		s.logger.Error("failed to register Telegram webhook",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("Telegram webhook registered", slog.String("url", url))
}

func (s *Server) closeResources() {
	if err := s.publisher.Close(); err != nil {
		s.logger.Warn("closing event publisher", slog.String("error", err.Error()))
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("closing cache", slog.String("error", err.Error()))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", slog.String("error", err.Error()))
	}
}
