package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/tixbook/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Sink is one delivery channel for a ticket (email, broker, ...).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, t Ticket) error
}

type Config struct {
	Workers         int
	QueueSize       int
	DeliveryTimeout time.Duration
}

// Dispatcher runs ticket delivery off the request path on a bounded worker
// pool. Failed deliveries are logged and not retried.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
	cfg    Config
	queue  chan Ticket
}

func NewDispatcher(logger *slog.Logger, cfg Config, sinks ...Sink) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}

	return &Dispatcher{
		sinks:  sinks,
		logger: logger,
		cfg:    cfg,
		queue:  make(chan Ticket, cfg.QueueSize),
	}
}

// Dispatch queues a ticket and returns immediately. When the queue is full
// the ticket is dropped and logged; the booking stands either way.
func (d *Dispatcher) Dispatch(b domain.Booking, e domain.Event) {
	select {
	case d.queue <- Ticket{Booking: b, Event: e}:
	default:
		d.logger.Error("fulfillment queue full, ticket dropped",
			"booking_id", b.ID,
			"event_id", e.ID,
			"purchaser_id", b.PurchaserID,
		)
	}
}

// ErrNoSinks is returned by Deliver when no delivery channel is configured.
var ErrNoSinks = errors.New("no ticket delivery channel configured")

// Deliver runs every sink for the ticket and waits for them.
func (d *Dispatcher) Deliver(ctx context.Context, b domain.Booking, e domain.Event, resend bool) error {
	const op = "fulfillment.Dispatcher.Deliver"

	if len(d.sinks) == 0 {
		return fmt.Errorf("%s:%w", op, ErrNoSinks)
	}

	if err := d.deliver(ctx, Ticket{Booking: b, Event: e, Resend: resend}); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, t Ticket) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	var errs []error
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// Run starts the workers and blocks until ctx is done. Tickets still queued
// at that point are not delivered.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("fulfillment dispatcher started",
		"workers", d.cfg.Workers,
		"queue_size", d.cfg.QueueSize,
		"sinks", len(d.sinks),
	)

	g, ctx := errgroup.WithContext(ctx)
	for range d.cfg.Workers {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}

	err := g.Wait()

	if n := len(d.queue); n > 0 {
		d.logger.Warn("fulfillment dispatcher stopped with pending tickets", "pending", n)
	} else {
		d.logger.Info("fulfillment dispatcher stopped")
	}

	return err
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.queue:
			if err := d.deliver(ctx, t); err != nil {
				d.logger.Error("ticket delivery failed",
					"booking_id", t.Booking.ID,
					"event_id", t.Event.ID,
					"error", err,
				)
				continue
			}
			d.logger.Info("ticket delivered", "booking_id", t.Booking.ID)
		}
	}
}
