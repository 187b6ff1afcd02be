package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixbook/internal/domain"
)

// Inventory is the event pool store. ConditionalDecrement must be a single
// atomic compare-and-decrement returning repository.ErrNoMatch when the pool
// is short.
type Inventory interface {
	Get(ctx context.Context, id int64) (*domain.Event, error)
	ConditionalDecrement(ctx context.Context, eventID int64, class domain.TicketClass, quantity int) (*domain.Event, error)
	ConditionalIncrement(ctx context.Context, eventID int64, class domain.TicketClass, quantity int) (*domain.Event, error)
}

// Ledger is the booking record store. Insert must fail with
// repository.ErrConflict when (event, purchaser) already has a booking.
type Ledger interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	FindByEventAndPurchaser(ctx context.Context, eventID int64, purchaserID string) (*domain.Booking, error)
	Insert(ctx context.Context, b *domain.Booking) error
	ListByPurchaser(ctx context.Context, purchaserID string) ([]domain.BookingWithEvent, error)
}

type Store interface {
	Inventory() Inventory
	Ledger() Ledger
	// Atomic runs fn against an inventory and a ledger bound to one
	// multi-statement transaction.
	Atomic(ctx context.Context, fn func(ctx context.Context, inv Inventory, led Ledger) error) error
}

// Dispatcher hands tickets to the fulfillment pipeline.
type Dispatcher interface {
	// Dispatch queues delivery and returns immediately.
	Dispatch(b domain.Booking, e domain.Event)
	// Deliver renders and sends the ticket before returning.
	Deliver(ctx context.Context, b domain.Booking, e domain.Event, resend bool) error
}

type EventCache interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

type InventoryNotifier interface {
	PublishInventoryChanged(ctx context.Context, eventID int64, premium, standard int) error
}

type RateLimiter interface {
	Allow(ctx context.Context, id string) (bool, time.Duration, error)
}
