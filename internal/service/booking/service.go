package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixbook/internal/domain"
	"github.com/kirinyoku/tixbook/internal/repository"
	postgresrepo "github.com/kirinyoku/tixbook/internal/repository/postgres"
)

type Config struct {
	TxMode TxMode
	// Timeout bounds every CreateBooking call, storage round trips included.
	Timeout time.Duration
	// TxRetries is how many times a transaction that hit a serialization
	// failure or deadlock is re-run before it counts as unavailable.
	TxRetries int
}

type Service struct {
	store      Store
	cache      EventCache
	notifier   InventoryNotifier
	limiter    RateLimiter
	dispatcher Dispatcher
	logger     *slog.Logger
	cfg        Config

	atomic   strategy
	fallback strategy
}

// New wires the booking coordinator. cache, notifier, limiter and
// dispatcher are optional.
func New(
	store Store,
	cache EventCache,
	notifier InventoryNotifier,
	limiter RateLimiter,
	dispatcher Dispatcher,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.TxMode == "" {
		cfg.TxMode = TxModeAuto
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	if cfg.TxRetries < 0 {
		cfg.TxRetries = 0
	}

	return &Service{
		store:      store,
		cache:      cache,
		notifier:   notifier,
		limiter:    limiter,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		atomic: &atomicStrategy{
			store:     store,
			retries:   cfg.TxRetries,
			retryable: postgresrepo.IsRetryable,
		},
		fallback: &fallbackStrategy{
			store:  store,
			logger: logger,
		},
	}
}

type CreateInput struct {
	EventID     int64
	PurchaserID string
	// TicketClass is the raw client token; see domain.ParseTicketClass.
	TicketClass string
	Quantity    int
	Contact     domain.Contact
}

type Result struct {
	Booking *domain.Booking
	// Event is the snapshot returned by the conditional decrement.
	Event *domain.Event
}

// CreateBooking books quantity tickets of one class for a purchaser.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: booking request; class and quantity are normalized, not rejected.
//
// Returns:
//   - *Result: the stored booking and the event after the debit.
//   - error: booking.ErrInvalidInput if the event or purchaser is missing.
//   - error: booking.ErrEventNotFound if the event does not exist.
//   - error: booking.ErrAlreadyBooked if the purchaser already booked the event.
//   - error: booking.ErrInsufficientInventory if the pool is short.
//   - error: booking.RateLimitedError if the purchaser is over the rate limit.
//   - error: booking.ErrInventoryInconsistent if a failed fallback booking
//     could not restore its decrement.
func (s *Service) CreateBooking(ctx context.Context, in CreateInput) (*Result, error) {
	const op = "service.booking.CreateBooking"

	purchaserID := strings.TrimSpace(in.PurchaserID)
	if in.EventID <= 0 || purchaserID == "" {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidInput)
	}

	class := domain.ParseTicketClass(in.TicketClass)
	quantity := domain.NormalizeQuantity(in.Quantity)

	if s.limiter != nil {
		ok, retry, err := s.limiter.Allow(ctx, purchaserID)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s:%w", op, RateLimitedError{RetryAfter: retry})
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	event, err := s.store.Inventory().Get(ctx, in.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	_, err = s.store.Ledger().FindByEventAndPurchaser(ctx, in.EventID, purchaserID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%s:%w", op, ErrAlreadyBooked)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	unitPrice := event.Price(class)

	b := &domain.Booking{
		ID:          uuid.New(),
		EventID:     in.EventID,
		PurchaserID: purchaserID,
		Contact: domain.Contact{
			Name:        strings.TrimSpace(in.Contact.Name),
			Email:       strings.TrimSpace(in.Contact.Email),
			PhoneNumber: strings.TrimSpace(in.Contact.PhoneNumber),
		},
		TicketClass: class,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Amount:      unitPrice * int64(quantity),
	}

	updated, path, err := s.book(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.logger.Info("booking created",
		"booking_id", b.ID,
		"event_id", b.EventID,
		"purchaser_id", b.PurchaserID,
		"class", b.TicketClass,
		"quantity", b.Quantity,
		"amount", b.Amount,
		"path", path,
	)

	s.afterBooking(ctx, b, updated)

	return &Result{Booking: b, Event: updated}, nil
}

// book runs the configured strategy and, in auto mode, falls back when the
// transactional attempt failed for reasons other than the booking itself.
func (s *Service) book(ctx context.Context, b *domain.Booking) (*domain.Event, string, error) {
	if s.cfg.TxMode == TxModeFallback {
		e, err := s.run(ctx, s.fallback, b)
		return e, s.fallback.name(), err
	}

	e, err := s.atomic.execute(ctx, b)
	if err == nil {
		return e, s.atomic.name(), nil
	}

	if berr := businessErr(err); berr != nil {
		return nil, "", berr
	}

	if s.cfg.TxMode == TxModeAtomic || ctx.Err() != nil {
		return nil, "", err
	}

	// A commit can succeed on the server and still report a transport error.
	if e, ok := s.committed(ctx, b); ok {
		s.logger.Warn("transactional booking reported an error but committed",
			"booking_id", b.ID,
			"event_id", b.EventID,
			"error", err,
		)
		return e, s.atomic.name(), nil
	}

	s.logger.Warn("transactional booking failed, using fallback path",
		"event_id", b.EventID,
		"purchaser_id", b.PurchaserID,
		"error", err,
	)

	e, err = s.run(ctx, s.fallback, b)
	return e, s.fallback.name(), err
}

// committed reports whether b is in the ledger and, if so, returns the
// event as it stands now.
func (s *Service) committed(ctx context.Context, b *domain.Booking) (*domain.Event, bool) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if _, err := s.store.Ledger().FindByID(cctx, b.ID); err != nil {
		return nil, false
	}

	e, err := s.store.Inventory().Get(cctx, b.EventID)
	if err != nil {
		return nil, false
	}

	return e, true
}

func (s *Service) run(ctx context.Context, st strategy, b *domain.Booking) (*domain.Event, error) {
	e, err := st.execute(ctx, b)
	if err != nil {
		if berr := businessErr(err); berr != nil {
			return nil, berr
		}
		return nil, err
	}
	return e, nil
}

// afterBooking runs the post-commit side effects. None of them can fail the
// booking.
func (s *Service) afterBooking(ctx context.Context, b *domain.Booking, e *domain.Event) {
	ctx = context.WithoutCancel(ctx)

	if s.cache != nil {
		if err := s.cache.InvalidateEvent(ctx, e.ID); err != nil {
			s.logger.Warn("event cache invalidation failed", "event_id", e.ID, "error", err)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.PublishInventoryChanged(ctx, e.ID, e.PremiumRemaining, e.StandardRemaining); err != nil {
			s.logger.Warn("inventory change publish failed", "event_id", e.ID, "error", err)
		}
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(*b, *e)
	}
}

// ListByPurchaser returns the purchaser's bookings with their events.
func (s *Service) ListByPurchaser(ctx context.Context, purchaserID string) ([]domain.BookingWithEvent, error) {
	const op = "service.booking.ListByPurchaser"

	if strings.TrimSpace(purchaserID) == "" {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidInput)
	}

	out, err := s.store.Ledger().ListByPurchaser(ctx, purchaserID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Get returns one booking with its event, provided the caller owns it.
//
// Returns:
//   - error: booking.ErrBookingNotFound if the booking or its event is missing.
//   - error: booking.ErrForbidden if another purchaser owns the booking.
func (s *Service) Get(ctx context.Context, purchaserID string, id uuid.UUID) (*domain.BookingWithEvent, error) {
	const op = "service.booking.Get"

	b, err := s.store.Ledger().FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if b.PurchaserID != purchaserID {
		return nil, fmt.Errorf("%s:%w", op, ErrForbidden)
	}

	e, err := s.store.Inventory().Get(ctx, b.EventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &domain.BookingWithEvent{Booking: *b, Event: e}, nil
}

// Resend renders and delivers the ticket again, synchronously.
//
// Returns:
//   - error: booking.ErrBookingNotFound, booking.ErrForbidden as for Get.
//   - error: booking.ErrDeliveryFailed if the fulfillment pipeline failed.
func (s *Service) Resend(ctx context.Context, purchaserID string, id uuid.UUID) error {
	const op = "service.booking.Resend"

	bw, err := s.Get(ctx, purchaserID, id)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if s.dispatcher == nil {
		return fmt.Errorf("%s:%w", op, ErrDeliveryFailed)
	}

	if err := s.dispatcher.Deliver(ctx, bw.Booking, *bw.Event, true); err != nil {
		s.logger.Error("ticket resend failed", "booking_id", id, "error", err)
		return fmt.Errorf("%s:%w", op, errors.Join(ErrDeliveryFailed, err))
	}

	return nil
}
