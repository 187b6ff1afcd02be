package service

import (
	"log/slog"

	postgres "github.com/kirinyoku/tixbook/internal/repository/postgres"
	redis "github.com/kirinyoku/tixbook/internal/repository/redis"
	"github.com/kirinyoku/tixbook/internal/service/admin"
	"github.com/kirinyoku/tixbook/internal/service/booking"
	"github.com/kirinyoku/tixbook/internal/service/query"
)

type Services struct {
	Booking *booking.Service
	Query   *query.Service
	Admin   *admin.Service
}

type Config struct {
	Booking booking.Config
	Query   query.Config
}

// NewServices wires the services over Postgres and Redis. limiter may be nil
// to disable booking rate limiting.
func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	pubsub *redis.EventsPubSub,
	limiter *redis.SlidingWindowLimiter,
	dispatcher booking.Dispatcher,
	logger *slog.Logger,
	cfg Config,
) *Services {
	var rl booking.RateLimiter
	if limiter != nil {
		rl = limiter
	}

	return &Services{
		Booking: booking.New(
			booking.NewPostgresStore(store),
			cache,
			pubsub,
			rl,
			dispatcher,
			logger,
			cfg.Booking,
		),
		Query: query.New(store.Events(), cache, cfg.Query),
		Admin: admin.New(store, cache, pubsub, logger),
	}
}
