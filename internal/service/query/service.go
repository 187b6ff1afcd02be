package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/tixbook/internal/domain"
	"github.com/kirinyoku/tixbook/internal/repository"
	redisrepo "github.com/kirinyoku/tixbook/internal/repository/redis"
)

type Config struct {
	EventSummaryTTL time.Duration
	AvailabilityTTL time.Duration
}

// EventReader is the read side of the inventory store.
type EventReader interface {
	Get(ctx context.Context, id int64) (*domain.Event, error)
	Availability(ctx context.Context, eventID int64) (*domain.EventAvailability, error)
}

type Service struct {
	events EventReader
	cache  *redisrepo.Cache
	cfg    Config
}

// New builds the read service. A nil cache reads straight through.
func New(events EventReader, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	return &Service{
		events: events,
		cache:  cache,
		cfg:    cfg,
	}
}

// GetEvent retrieves an event by its ID, utilizing a caching layer to improve performance.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: ID of the event to retrieve.
//
// Returns:
//   - *domain.Event: the retrieved event, or nil if not found.
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.query.GetEvent"

	load := func(ctx context.Context) (domain.Event, error) {
		e, err := s.events.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.Event{}, ErrEventNotFound
			}

			return domain.Event{}, err
		}

		return *e, nil
	}

	event, err := cached(ctx, s.cache, redisrepo.KeyEventSummary(id), s.cfg.EventSummaryTTL, load)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &event, nil
}

// Availability returns the remaining count of both pools. It is cached for
// a shorter time than the event itself and dropped on every booking.
//
// Returns:
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) Availability(ctx context.Context, eventID int64) (*domain.EventAvailability, error) {
	const op = "service.query.Availability"

	load := func(ctx context.Context) (domain.EventAvailability, error) {
		a, err := s.events.Availability(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.EventAvailability{}, ErrEventNotFound
			}

			return domain.EventAvailability{}, err
		}

		return *a, nil
	}

	a, err := cached(ctx, s.cache, redisrepo.KeyEventAvailability(eventID), s.cfg.AvailabilityTTL, load)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &a, nil
}

func cached[T any](
	ctx context.Context,
	cache *redisrepo.Cache,
	key string,
	ttl time.Duration,
	load func(ctx context.Context) (T, error),
) (T, error) {
	if cache == nil {
		return load(ctx)
	}

	return redisrepo.GetOrSetJSON(ctx, cache, key, ttl, load)
}
