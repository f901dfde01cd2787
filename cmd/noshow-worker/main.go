package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/scheduling/internal/booking"
	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/db"
	"github.com/clinicore/scheduling/internal/eventlog"
	"github.com/clinicore/scheduling/internal/logging"
	redisclient "github.com/clinicore/scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("noshow-worker", "dev")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("noshow-worker", cfg.Env)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.SweepInterval).
		Int("penalty", cfg.NoShowPenalty).
		Msg("no-show worker starting up")

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

	// Run once at startup
	runOnce(rootCtx, lifecycle, logger)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping no-show worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, lifecycle, logger)
		}
	}
}

func runOnce(ctx context.Context, lc *booking.Lifecycle, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	report, err := lc.SweepNoShows(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("sweep run error")
		return
	}
	logger.Info().
		Int("examined", report.Examined).
		Int("marked", report.Marked).
		Int("failed", report.Failed).
		Dur("took", time.Since(start)).
		Msg("sweep run complete")
}
