package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirinyoku/tixbook/internal/domain"
	"github.com/kirinyoku/tixbook/internal/repository"
	postgresrepo "github.com/kirinyoku/tixbook/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tixbook/internal/repository/redis"
	"github.com/kirinyoku/tixbook/internal/uow"
)

type Service struct {
	store  *postgresrepo.Store
	cache  *redisrepo.Cache
	pubsub *redisrepo.EventsPubSub
	uow    *uow.UoW
	logger *slog.Logger
}

func New(
	store *postgresrepo.Store,
	cache *redisrepo.Cache,
	pubsub *redisrepo.EventsPubSub,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		pubsub: pubsub,
		uow:    uow.NewUoW(store, uow.WithRetries(2)),
		logger: logger,
	}
}

type CreateEventInput struct {
	Title           string
	Venue           string
	StartsAt        time.Time
	PremiumTickets  int
	StandardTickets int
	PremiumPrice    int64
	StandardPrice   int64
}

func (in CreateEventInput) validate() error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidEvent)
	case in.PremiumTickets < 0 || in.StandardTickets < 0:
		return fmt.Errorf("%w: ticket counts must not be negative", ErrInvalidEvent)
	case in.PremiumPrice < 0 || in.StandardPrice < 0:
		return fmt.Errorf("%w: prices must not be negative", ErrInvalidEvent)
	}
	return nil
}

// CreateEvent creates an event with both inventory pools and their prices.
// Once committed, any stale cached projection of the id is dropped and
// subscribers are told about the new pools.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: event fields; counts and prices must be non-negative.
//
// Returns:
//   - *domain.Event: the stored event with its ID.
//   - error: admin.ErrInvalidEvent if a field is missing or negative.
//   - error: admin.ErrEventConflict if the insert violates a uniqueness
//     constraint.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (*domain.Event, error) {
	const op = "service.admin.CreateEvent"

	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	e := &domain.Event{
		Title:             strings.TrimSpace(in.Title),
		Venue:             strings.TrimSpace(in.Venue),
		StartsAt:          in.StartsAt,
		PremiumRemaining:  in.PremiumTickets,
		StandardRemaining: in.StandardTickets,
		PremiumPrice:      in.PremiumPrice,
		StandardPrice:     in.StandardPrice,
	}

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		if err := s.store.Events().With(tx).Create(ctx, e); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrEventConflict
			}
			return err
		}

		after(func(ctx context.Context) {
			if s.cache != nil {
				if err := s.cache.InvalidateEvent(ctx, e.ID); err != nil {
					s.logger.Warn("event cache invalidation failed", "event_id", e.ID, "error", err)
				}
			}
			if s.pubsub != nil {
				if err := s.pubsub.PublishInventoryChanged(ctx, e.ID, e.PremiumRemaining, e.StandardRemaining); err != nil {
					s.logger.Warn("inventory change publish failed", "event_id", e.ID, "error", err)
				}
			}
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("event created", "event_id", e.ID, "title", e.Title)

	return e, nil
}
