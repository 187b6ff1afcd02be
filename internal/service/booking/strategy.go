package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kirinyoku/tixbook/internal/domain"
	"github.com/kirinyoku/tixbook/internal/repository"
)

// TxMode selects how a booking pairs the pool decrement with the ledger
// insert.
type TxMode string

const (
	// TxModeAuto uses a transaction and falls back to the sequential path
	// when the database cannot run one.
	TxModeAuto TxMode = "auto"
	// TxModeAtomic never falls back.
	TxModeAtomic TxMode = "atomic"
	// TxModeFallback always uses the sequential path, e.g. behind a
	// statement-pooling proxy.
	TxModeFallback TxMode = "fallback"
)

func ParseTxMode(s string) (TxMode, error) {
	switch m := TxMode(s); m {
	case TxModeAuto, TxModeAtomic, TxModeFallback:
		return m, nil
	case "":
		return TxModeAuto, nil
	default:
		return "", fmt.Errorf("unknown booking tx mode %q", s)
	}
}

const compensationTimeout = 5 * time.Second

// strategy writes a fully priced booking: it debits the pool and stores the
// record, returning the event as it stands after the debit.
type strategy interface {
	name() string
	execute(ctx context.Context, b *domain.Booking) (*domain.Event, error)
}

type atomicStrategy struct {
	store     Store
	retries   int
	retryable func(error) bool
}

func (s *atomicStrategy) name() string { return "atomic" }

func (s *atomicStrategy) execute(ctx context.Context, b *domain.Booking) (*domain.Event, error) {
	const op = "service.booking.atomicStrategy.execute"

	for attempt := 0; ; attempt++ {
		var updated *domain.Event

		err := s.store.Atomic(ctx, func(ctx context.Context, inv Inventory, led Ledger) error {
			e, err := inv.ConditionalDecrement(ctx, b.EventID, b.TicketClass, b.Quantity)
			if err != nil {
				return err
			}

			if err := led.Insert(ctx, b); err != nil {
				return err
			}

			updated = e
			return nil
		})
		if err == nil {
			return updated, nil
		}

		if attempt < s.retries && s.retryable != nil && s.retryable(err) && ctx.Err() == nil {
			continue
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}
}

// fallbackStrategy runs the same steps without a transaction. Only the
// decrement is atomic, so a failed insert is compensated by putting the
// quantity back.
type fallbackStrategy struct {
	store  Store
	logger *slog.Logger
}

func (s *fallbackStrategy) name() string { return "fallback" }

func (s *fallbackStrategy) execute(ctx context.Context, b *domain.Booking) (*domain.Event, error) {
	const op = "service.booking.fallbackStrategy.execute"

	inv := s.store.Inventory()
	led := s.store.Ledger()

	// Narrows the race window; the unique index still decides.
	_, err := led.FindByEventAndPurchaser(ctx, b.EventID, b.PurchaserID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%s:%w", op, ErrAlreadyBooked)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	updated, err := inv.ConditionalDecrement(ctx, b.EventID, b.TicketClass, b.Quantity)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	insertErr := led.Insert(ctx, b)
	if insertErr == nil {
		return updated, nil
	}

	// The caller's deadline may be what broke the insert.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if !insertRejected(insertErr) {
		// The insert may have committed before the error reached us; only a
		// confirmed miss may give the quantity back.
		_, err := led.FindByID(cctx, b.ID)
		switch {
		case err == nil:
			s.logger.Warn("fallback booking insert reported an error but committed",
				"booking_id", b.ID,
				"event_id", b.EventID,
				"error", insertErr,
			)
			return updated, nil
		case !errors.Is(err, repository.ErrNotFound):
			s.logger.Error("booking insert outcome unknown, inventory left debited",
				"booking_id", b.ID,
				"event_id", b.EventID,
				"pool", b.TicketClass,
				"quantity", b.Quantity,
				"insert_error", insertErr,
				"lookup_error", err,
			)
			return nil, fmt.Errorf("%s:%w", op, errors.Join(ErrInventoryInconsistent, insertErr, err))
		}
	}

	if _, err := inv.ConditionalIncrement(cctx, b.EventID, b.TicketClass, b.Quantity); err != nil {
		s.logger.Error("inventory restore failed after booking insert error",
			"event_id", b.EventID,
			"pool", b.TicketClass,
			"quantity", b.Quantity,
			"purchaser_id", b.PurchaserID,
			"insert_error", insertErr,
			"restore_error", err,
		)
		return nil, fmt.Errorf("%s:%w", op, errors.Join(ErrInventoryInconsistent, insertErr, err))
	}

	s.logger.Warn("fallback booking insert failed, inventory restored",
		"event_id", b.EventID,
		"pool", b.TicketClass,
		"quantity", b.Quantity,
		"error", insertErr,
	)

	return nil, fmt.Errorf("%s:%w", op, insertErr)
}

// insertRejected reports errors the database answered with, after which the
// row is known not to exist.
func insertRejected(err error) bool {
	var pgErr *pgconn.PgError
	return errors.Is(err, repository.ErrConflict) || errors.As(err, &pgErr)
}

// businessErr maps storage outcomes that carry booking semantics onto the
// service's sentinels. It returns nil for infrastructure failures.
func businessErr(err error) error {
	switch {
	case errors.Is(err, ErrInventoryInconsistent):
		return nil
	case errors.Is(err, ErrAlreadyBooked), errors.Is(err, repository.ErrConflict):
		return ErrAlreadyBooked
	case errors.Is(err, ErrInsufficientInventory), errors.Is(err, repository.ErrNoMatch):
		return ErrInsufficientInventory
	}
	return nil
}
