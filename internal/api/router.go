package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicore/scheduling/internal/booking"
	"github.com/clinicore/scheduling/internal/eventlog"
	"github.com/clinicore/scheduling/internal/notify"
)

type RouterConfig struct {
	Engine    *booking.Engine
	Lifecycle *booking.Lifecycle
	Events    eventlog.Log
	Notifier  *notify.Dispatcher
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Logger    zerolog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Booking and lifecycle endpoints
	r.Post("/appointments", bookHandler(cfg.Engine))
	r.Get("/appointments", listAppointmentsHandler(cfg.Engine))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Engine))
	r.Post("/appointments/{id}/cancel", cancelHandler(cfg.Engine))
	r.Post("/appointments/{id}/checkin", checkInHandler(cfg.Lifecycle))
	r.Post("/appointments/{id}/complete", completeHandler(cfg.Lifecycle))

	// Stream endpoints: debug injection and range reads share the exact
	// publish/range contract production callers use.
	r.Post("/streams/{key}/events", publishStreamHandler(cfg.Events))
	r.Get("/streams/{key}/events", rangeStreamHandler(cfg.Events))
	if cfg.Notifier != nil {
		r.Get("/streams/{key}/subscribe", subscribeStreamHandler(cfg.Notifier))
	}

	return r
}
