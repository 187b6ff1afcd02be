package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixbook/internal/domain"
	"github.com/kirinyoku/tixbook/internal/repository"
)

// memStore is an in-memory Store. Pool updates and ledger inserts are atomic
// per call, the way a single Postgres statement is; Atomic serializes
// transactions and rolls back on error.
type memStore struct {
	mu       sync.Mutex
	events   map[int64]*domain.Event
	bookings map[uuid.UUID]*domain.Booking

	txMu sync.Mutex

	// atomicErrs are returned, in order, by Atomic before fn runs.
	atomicErrs   []error
	atomicCalls  int
	beforeInsert func()
	incrementErr error
	// insertErr is returned by Insert after the row is stored, like a
	// commit whose acknowledgement was lost.
	insertErr error
	// insertFailErr is returned by Insert before anything is stored.
	insertFailErr error
	// commitErr is returned by Atomic after fn's changes are kept.
	commitErr error
	findErr   error
}

func newMemStore(events ...domain.Event) *memStore {
	s := &memStore{
		events:   make(map[int64]*domain.Event),
		bookings: make(map[uuid.UUID]*domain.Booking),
	}
	for i := range events {
		e := events[i]
		s.events[e.ID] = &e
	}
	return s
}

func (s *memStore) Inventory() Inventory { return memInventory{s} }
func (s *memStore) Ledger() Ledger       { return memLedger{s} }

func (s *memStore) Atomic(ctx context.Context, fn func(ctx context.Context, inv Inventory, led Ledger) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	call := s.atomicCalls
	s.atomicCalls++
	s.mu.Unlock()

	if call < len(s.atomicErrs) && s.atomicErrs[call] != nil {
		return s.atomicErrs[call]
	}

	events, bookings := s.snapshot()

	if err := fn(ctx, memInventory{s}, memLedger{s}); err != nil {
		s.mu.Lock()
		s.events, s.bookings = events, bookings
		s.mu.Unlock()
		return err
	}

	return s.commitErr
}

func (s *memStore) snapshot() (map[int64]*domain.Event, map[uuid.UUID]*domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make(map[int64]*domain.Event, len(s.events))
	for id, e := range s.events {
		cp := *e
		events[id] = &cp
	}
	bookings := make(map[uuid.UUID]*domain.Booking, len(s.bookings))
	for id, b := range s.bookings {
		cp := *b
		bookings[id] = &cp
	}
	return events, bookings
}

func (s *memStore) event(id int64) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.events[id]
}

func (s *memStore) bookingsFor(eventID int64, purchaserID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, b := range s.bookings {
		if b.EventID == eventID && b.PurchaserID == purchaserID {
			n++
		}
	}
	return n
}

func (s *memStore) bookingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

func (s *memStore) put(b domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = &b
}

type memInventory struct{ s *memStore }

func (m memInventory) Get(_ context.Context, id int64) (*domain.Event, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	e, ok := m.s.events[id]
	if !ok {
		return nil, fmt.Errorf("mem.Get:%w", repository.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (m memInventory) ConditionalDecrement(_ context.Context, eventID int64, class domain.TicketClass, quantity int) (*domain.Event, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	e, ok := m.s.events[eventID]
	if !ok || e.Remaining(class) < quantity {
		return nil, fmt.Errorf("mem.ConditionalDecrement:%w", repository.ErrNoMatch)
	}
	if class == domain.TicketPremium {
		e.PremiumRemaining -= quantity
	} else {
		e.StandardRemaining -= quantity
	}
	cp := *e
	return &cp, nil
}

func (m memInventory) ConditionalIncrement(_ context.Context, eventID int64, class domain.TicketClass, quantity int) (*domain.Event, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if m.s.incrementErr != nil {
		return nil, m.s.incrementErr
	}

	e, ok := m.s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("mem.ConditionalIncrement:%w", repository.ErrNotFound)
	}
	if class == domain.TicketPremium {
		e.PremiumRemaining += quantity
	} else {
		e.StandardRemaining += quantity
	}
	cp := *e
	return &cp, nil
}

type memLedger struct{ s *memStore }

func (m memLedger) FindByID(_ context.Context, id uuid.UUID) (*domain.Booking, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if m.s.findErr != nil {
		return nil, m.s.findErr
	}

	b, ok := m.s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("mem.FindByID:%w", repository.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (m memLedger) FindByEventAndPurchaser(_ context.Context, eventID int64, purchaserID string) (*domain.Booking, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for _, b := range m.s.bookings {
		if b.EventID == eventID && b.PurchaserID == purchaserID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("mem.FindByEventAndPurchaser:%w", repository.ErrNotFound)
}

func (m memLedger) Insert(_ context.Context, b *domain.Booking) error {
	if m.s.beforeInsert != nil {
		m.s.beforeInsert()
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if m.s.insertFailErr != nil {
		return m.s.insertFailErr
	}

	for _, x := range m.s.bookings {
		if x.EventID == b.EventID && x.PurchaserID == b.PurchaserID {
			return fmt.Errorf("mem.Insert:%w", repository.ErrConflict)
		}
	}
	cp := *b
	m.s.bookings[b.ID] = &cp
	return m.s.insertErr
}

func (m memLedger) ListByPurchaser(_ context.Context, purchaserID string) ([]domain.BookingWithEvent, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var out []domain.BookingWithEvent
	for _, b := range m.s.bookings {
		if b.PurchaserID != purchaserID {
			continue
		}
		e := *m.s.events[b.EventID]
		out = append(out, domain.BookingWithEvent{Booking: *b, Event: &e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Booking.EventID < out[j].Booking.EventID })
	return out, nil
}

type dispatched struct {
	booking domain.Booking
	event   domain.Event
}

type fakeDispatcher struct {
	mu         sync.Mutex
	queued     []dispatched
	delivered  []dispatched
	deliverErr error
}

func (d *fakeDispatcher) Dispatch(b domain.Booking, e domain.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queued = append(d.queued, dispatched{b, e})
}

func (d *fakeDispatcher) Deliver(_ context.Context, b domain.Booking, e domain.Event, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deliverErr != nil {
		return d.deliverErr
	}
	d.delivered = append(d.delivered, dispatched{b, e})
	return nil
}

func (d *fakeDispatcher) queuedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queued)
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []int64
	err         error
}

func (c *fakeCache) InvalidateEvent(_ context.Context, eventID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, eventID)
	return c.err
}

type fakeLimiter struct {
	allow bool
	retry time.Duration
}

func (l fakeLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return l.allow, l.retry, nil
}

var errNoTransactions = errors.New("begin: transactions are not supported in statement pooling mode")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
