// Command server runs the consultation platform backend: the notification
// dispatch API, the store-backed rate limiter, and the realtime WebSocket hub
// for presence, chat and calls.
//
// Configuration is environment-only (optionally via a .env file in the
// working directory). See internal/config for the full variable list.
//
// @title        Consultation Platform API
// @version      1.0
// @description  Notification dispatch, rate limiting and realtime consultation backend.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/astroveda/go-consult-backend/docs" // generated swagger docs
	"github.com/astroveda/go-consult-backend/internal/config"
	"github.com/astroveda/go-consult-backend/internal/email"
	httpapi "github.com/astroveda/go-consult-backend/internal/http"
	"github.com/astroveda/go-consult-backend/internal/observability"
	"github.com/astroveda/go-consult-backend/internal/push"
	"github.com/astroveda/go-consult-backend/internal/repo"
	"github.com/astroveda/go-consult-backend/internal/services"
	"github.com/astroveda/go-consult-backend/internal/sysutil"
	"github.com/astroveda/go-consult-backend/internal/ws"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Optional .env for local development; real deployments set env directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting server")

	gin.SetMode(cfg.GinMode)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	log.Info().Str("path", cfg.DBPath).Msg("database ready")

	// Tracing (no-op unless enabled).
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup otel")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Delivery providers. Unconfigured providers stay wired but report
	// Configured() == false, so those channels are skipped at dispatch.
	pushClient := push.New(cfg.Push.Endpoint, cfg.Push.APIKey)
	emailClient := email.New(cfg.Email.APIKey, cfg.Email.From, cfg.Email.FromName)
	if !pushClient.Configured() {
		log.Warn().Msg("push provider not configured; push channel disabled")
	}
	if !emailClient.Configured() {
		log.Warn().Msg("email provider not configured; email channel disabled")
	}

	notifier := services.NewNotificationService(db, pushClient, emailClient)
	notifier.ProviderTimeout = cfg.ProviderTimeout
	trigger := services.NewTriggerService(notifier)

	// Presence registry: in-process by default, Redis when instances share
	// connected-user state.
	presence := presenceRegistry(cfg)
	hub := ws.NewHub(db, notifier, presence, ws.NewLocalCalls())
	hub.StartReaper(ctx, cfg.CallReaperInterval)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, hub, notifier, trigger, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", srv.Addr).Msg("listening")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("stopped")
}

// presenceRegistry selects the presence backend from config. The Redis
// backend lets several instances agree on who is online; the local backend
// is correct for a single process.
func presenceRegistry(cfg config.Config) ws.PresenceRegistry {
	if cfg.Presence.Backend != "redis" {
		return ws.NewLocalPresence()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Presence.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Presence.RedisAddr).Msg("redis unreachable, falling back to local presence")
		return ws.NewLocalPresence()
	}
	log.Info().Str("addr", cfg.Presence.RedisAddr).Msg("redis presence enabled")
	return ws.NewRedisPresence(rdb)
}
