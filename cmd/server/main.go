// Command server runs the real-time chat API: REST over Gin, live delivery
// over websockets, SQLite or Postgres storage and an optional Redis mirror
// of every published event.
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
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/internal/config"
	httpapi "github.com/tbourn/go-chat-realtime/internal/http"
	"github.com/tbourn/go-chat-realtime/internal/observability"
	"github.com/tbourn/go-chat-realtime/internal/realtime"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/services"
	"github.com/tbourn/go-chat-realtime/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	sysutil.SetupLogger(os.Stderr, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, observability.InstanceID)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.DBDriver, cfg.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing disabled")
		}
	}

	hubOpts := []realtime.HubOption{realtime.WithBuffer(cfg.HubBuffer)}
	if cfg.Redis.Enabled() {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		client, err := realtime.DialRedis(pingCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			// go-redis reconnects on its own; mirroring resumes once Redis is up.
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup")
		}
		defer client.Close()
		hubOpts = append(hubOpts, realtime.WithMirror(realtime.NewRedisMirror(client, cfg.Redis.Prefix)))
	}
	hub := realtime.NewHub(hubOpts...)
	rt := realtime.NewRouter(hub, realtime.NewRegistry(), cfg.TypingThrottle)

	r := gin.New()
	h := httpapi.RegisterRoutes(r, httpapi.Services(db, rt, cfg), cfg)

	go runJanitor(ctx, cfg.JanitorInterval, func(now time.Time) {
		sweep(ctx, db, h.Notifications, now)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Str("db", cfg.DBDriver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; mark
	// everyone offline so peers see the status change before we exit.
	for _, uid := range rt.Presence().Online() {
		h.Delivery.OnDisconnect(sctx, uid)
	}
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	hub.Close()
	if err := shutdownOTel(sctx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// runJanitor calls fn every interval until ctx ends.
func runJanitor(ctx context.Context, every time.Duration, fn func(now time.Time)) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			fn(now.UTC())
		}
	}
}

// sweep drops expired notifications and idempotency records.
func sweep(ctx context.Context, db *gorm.DB, notes *services.NotificationService, now time.Time) {
	n, err := notes.PurgeExpired(ctx, now)
	if err != nil {
		log.Warn().Err(err).Msg("purge notifications")
	}
	k, err := repo.PurgeExpiredIdempotency(ctx, db, now)
	if err != nil {
		log.Warn().Err(err).Msg("purge idempotency keys")
	}
	if n > 0 || k > 0 {
		log.Debug().Int64("notifications", n).Int64("idempotency_keys", k).Msg("janitor sweep")
	}
}
