package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinicore/scheduling/internal/api"
	"github.com/clinicore/scheduling/internal/booking"
	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/db"
	"github.com/clinicore/scheduling/internal/eventlog"
	"github.com/clinicore/scheduling/internal/logging"
	"github.com/clinicore/scheduling/internal/notify"
	redisclient "github.com/clinicore/scheduling/internal/redis"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("api-server", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("api-server", cfg.Env)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("event_backend", string(cfg.EventBackend)).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PgMaxConns)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Redis backs the production event log and the file backend's lease;
	// the memory backend runs without it.
	var rdb *redis.Client
	if cfg.EventBackend != config.EventBackendMemory {
		rdb, err = redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Msg("connected to Redis")
	}

	events, err := eventlog.Open(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("event log init error")
	}

	repo := booking.NewPgRepository(pgPool)
	lifecycle := booking.NewLifecycle(repo, events, cfg, logger)
	engine := booking.NewEngine(repo, events, lifecycle, cfg, logger)

	// Fan events out to live subscribers on /streams/{key}/subscribe.
	notifier := notify.NewDispatcher(events, time.Second, logger)
	go notifier.Run(rootCtx)

	router := api.NewRouter(api.RouterConfig{
		Engine:    engine,
		Lifecycle: lifecycle,
		Events:    events,
		Notifier:  notifier,
		PgPool:    pgPool,
		Redis:     rdb,
		Logger:    logger,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	logger.Info().Str("addr", srv.Addr).Msg("listening")

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			os.Exit(1)
		}
	}

	logger.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
