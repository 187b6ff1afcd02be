package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixbook/internal/config"
	"github.com/kirinyoku/tixbook/internal/fulfillment"
	"github.com/kirinyoku/tixbook/internal/postgres"
	"github.com/kirinyoku/tixbook/internal/redis"
	postgresrepo "github.com/kirinyoku/tixbook/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tixbook/internal/repository/redis"
	"github.com/kirinyoku/tixbook/internal/service"
	"github.com/kirinyoku/tixbook/internal/service/booking"
	"github.com/kirinyoku/tixbook/internal/service/query"
	httpgin "github.com/kirinyoku/tixbook/internal/transport/http/gin"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	pool       *pgxpool.Pool
	rdb        *goredis.Client
	dispatcher *fulfillment.Dispatcher
	amqp       *fulfillment.AMQPSink
	httpServer *http.Server
}

// Migrate applies pending schema migrations and exits.
func Migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pool, err := postgres.New(ctx, postgres.Config{DSN: cfg.Postgres.DSN()})
	if err != nil {
		return fmt.Errorf("failed to initialize postgres: %w", err)
	}
	defer pool.Close()

	return postgres.Migrate(ctx, pool, logger)
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	txMode, err := booking.ParseTxMode(cfg.Booking.TxMode)
	if err != nil {
		return nil, err
	}

	// Initialize dependencies
	pgxPool, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.Postgres.DSN(),
		MaxConns: int32(cfg.Postgres.MaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	if err := postgres.Migrate(ctx, pgxPool, logger); err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	rdb, err := redis.New(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.NewCache(rdb)
	pubsub := redisrepo.NewEventsPubSub(rdb)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, cfg.Booking.IdempotencyTTL)

	var limiter *redisrepo.SlidingWindowLimiter
	if cfg.Booking.RateLimit > 0 {
		limiter = redisrepo.NewSlidingWindowLimiter(rdb, "bookings", cfg.Booking.RateLimit, cfg.Booking.RateWindow)
	}

	// Initialize fulfillment
	var (
		sinks    []fulfillment.Sink
		amqpSink *fulfillment.AMQPSink
	)
	if cfg.SMTP.Host != "" {
		mailer := fulfillment.NewSMTPMailer(fulfillment.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		sinks = append(sinks, fulfillment.NewEmailSink(fulfillment.NewRenderer(), mailer))
	} else {
		logger.Warn("SMTP_HOST not set, ticket emails are disabled")
	}
	if cfg.RabbitMQ.URL != "" {
		amqpSink = fulfillment.NewAMQPSink(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		sinks = append(sinks, amqpSink)
	}

	dispatcher := fulfillment.NewDispatcher(logger, fulfillment.Config{
		Workers:         cfg.Fulfillment.Workers,
		QueueSize:       cfg.Fulfillment.QueueSize,
		DeliveryTimeout: cfg.Fulfillment.DeliveryTimeout,
	}, sinks...)

	// Initialize services
	services := service.NewServices(store, cache, pubsub, limiter, dispatcher, logger, service.Config{
		Booking: booking.Config{
			TxMode:    txMode,
			Timeout:   cfg.Booking.Timeout,
			TxRetries: cfg.Booking.TxRetries,
		},
		Query: query.Config{
			EventSummaryTTL: cfg.Cache.EventSummaryTTL,
			AvailabilityTTL: cfg.Cache.AvailabilityTTL,
		},
	})

	// Initialize Gin router
	auth := httpgin.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	router := httpgin.NewRouter(services, idempotencyStore, auth, logger, httpgin.CORS(cfg.Server.CORSOrigins...))

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pgxPool,
		rdb:        rdb,
		dispatcher: dispatcher,
		amqp:       amqpSink,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Ticket delivery workers
	g.Go(func() error {
		return a.dispatcher.Run(gCtx)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.logger.Warn("failed to close rabbitmq connection", "error", err)
		}
	}
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("failed to close redis client", "error", err)
	}
	a.pool.Close()
}
