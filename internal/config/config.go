package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Booking     BookingConfig
	Fulfillment FulfillmentConfig
	SMTP        SMTPConfig
	RabbitMQ    RabbitMQConfig
	Log         LogConfig
	Cache       CacheConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
	MaxConns int
}

// DSN returns the libpq URL for the pool.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

type AuthConfig struct {
	JWTSecret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

type BookingConfig struct {
	// TxMode is auto, atomic or fallback.
	TxMode         string
	Timeout        time.Duration
	TxRetries      int
	RateLimit      int
	RateWindow     time.Duration
	IdempotencyTTL time.Duration
}

type FulfillmentConfig struct {
	Workers         int
	QueueSize       int
	DeliveryTimeout time.Duration
}

// SMTPConfig is optional; email delivery is off when Host is empty.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// RabbitMQConfig is optional; broker delivery is off when URL is empty.
type RabbitMQConfig struct {
	URL   string
	Queue string
}

type LogConfig struct {
	Level  string
	Format string
}

type CacheConfig struct {
	EventSummaryTTL time.Duration
	AvailabilityTTL time.Duration
}

// New loads the configuration from the environment. envFile, when set, must
// exist; otherwise a .env in the working directory is loaded if present.
func New(envFile string) (*Config, error) {
	const op = "config.New"

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("%s: load %s: %w", op, envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	var (
		cfg Config
		err error
	)

	cfg.Server.Host = getEnv("SERVER_HOST", "localhost")
	if cfg.Server.Port, err = getInt("SERVER_PORT", 8080); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Server.ReadTimeout, err = getDuration("SERVER_READ_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Server.WriteTimeout, err = getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Server.ShutdownTimeout, err = getDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Server.CORSOrigins = getList("CORS_ALLOWED_ORIGINS", "*")

	cfg.Postgres.Host = getEnv("POSTGRES_HOST", "localhost")
	if cfg.Postgres.Port, err = getInt("POSTGRES_PORT", 5432); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Postgres.User, err = requireEnv("POSTGRES_USER"); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Postgres.Password, err = requireEnv("POSTGRES_PASSWORD"); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Postgres.Name, err = requireEnv("POSTGRES_DB"); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.Postgres.SSLMode = getEnv("POSTGRES_SSLMODE", "disable")
	if cfg.Postgres.MaxConns, err = getInt("POSTGRES_MAX_CONNS", 20); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.Auth.JWTSecret, err = requireEnv("JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.Auth.Issuer = os.Getenv("JWT_ISSUER")

	cfg.Booking.TxMode = getEnv("BOOKING_TX_MODE", "auto")
	if cfg.Booking.Timeout, err = getDuration("BOOKING_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Booking.TxRetries, err = getInt("BOOKING_TX_RETRIES", 2); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Booking.RateLimit, err = getInt("BOOKING_RATE_LIMIT", 10); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Booking.RateWindow, err = getDuration("BOOKING_RATE_WINDOW", time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Booking.IdempotencyTTL, err = getDuration("BOOKING_IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.Fulfillment.Workers, err = getInt("FULFILLMENT_WORKERS", 4); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Fulfillment.QueueSize, err = getInt("FULFILLMENT_QUEUE_SIZE", 256); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Fulfillment.DeliveryTimeout, err = getDuration("FULFILLMENT_DELIVERY_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.SMTP.Host = os.Getenv("SMTP_HOST")
	if cfg.SMTP.Port, err = getInt("SMTP_PORT", 587); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cfg.SMTP.Username = os.Getenv("SMTP_USER")
	cfg.SMTP.Password = os.Getenv("SMTP_PASS")
	cfg.SMTP.From = getEnv("SMTP_FROM", cfg.SMTP.Username)
	if cfg.SMTP.Host != "" && cfg.SMTP.From == "" {
		return nil, fmt.Errorf("%s: missing SMTP_FROM", op)
	}

	cfg.RabbitMQ.URL = os.Getenv("RABBITMQ_URL")
	cfg.RabbitMQ.Queue = getEnv("RABBITMQ_QUEUE", "booking.confirmed")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "text")

	if cfg.Cache.EventSummaryTTL, err = getDuration("CACHE_EVENT_TTL", 60*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Cache.AvailabilityTTL, err = getDuration("CACHE_AVAILABILITY_TTL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("missing %s", key)
	}
	return v, nil
}

func getInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

// getList splits a comma-separated variable, dropping empty items.
func getList(key, def string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, def), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
