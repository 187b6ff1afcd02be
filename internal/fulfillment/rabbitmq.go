package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultConfirmedQueue = "booking.confirmed"

// bookingConfirmed is the broker payload. It carries enough for downstream
// consumers (analytics, SMS) to act without reading the database.
type bookingConfirmed struct {
	BookingID   string `json:"booking_id"`
	TicketID    string `json:"ticket_id"`
	EventID     int64  `json:"event_id"`
	EventTitle  string `json:"event_title"`
	Venue       string `json:"venue"`
	StartsAt    string `json:"starts_at,omitempty"`
	PurchaserID string `json:"purchaser_id"`
	Email       string `json:"email"`
	TicketClass string `json:"ticket_class"`
	Quantity    int    `json:"quantity"`
	Amount      int64  `json:"amount"`
	Resend      bool   `json:"resend"`
	ConfirmedAt string `json:"confirmed_at"`
}

func newBookingConfirmed(t Ticket) bookingConfirmed {
	b, e := t.Booking, t.Event

	msg := bookingConfirmed{
		BookingID:   b.ID.String(),
		TicketID:    b.TicketID(),
		EventID:     e.ID,
		EventTitle:  e.Title,
		Venue:       e.Venue,
		PurchaserID: b.PurchaserID,
		Email:       b.Contact.Email,
		TicketClass: string(b.TicketClass),
		Quantity:    b.Quantity,
		Amount:      b.Amount,
		Resend:      t.Resend,
		ConfirmedAt: b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !e.StartsAt.IsZero() {
		msg.StartsAt = e.StartsAt.UTC().Format(time.RFC3339)
	}

	return msg
}

// AMQPSink publishes a persistent booking.confirmed message per ticket. The
// connection is opened lazily and re-dialled after a failure.
type AMQPSink struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPSink(url, queue string) *AMQPSink {
	if queue == "" {
		queue = DefaultConfirmedQueue
	}
	return &AMQPSink{url: url, queue: queue}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Deliver(ctx context.Context, t Ticket) error {
	const op = "fulfillment.AMQPSink.Deliver"

	body, err := json.Marshal(newBookingConfirmed(t))
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		s.queue, // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			MessageId:    t.Booking.ID.String(),
			Body:         body,
		},
	)
	if err != nil {
		s.reset()
		return fmt.Errorf("%s: publish: %w", op, err)
	}

	return nil
}

// channel must be called with mu held.
func (s *AMQPSink) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	s.reset()

	conn, err := amqp.Dial(s.url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel: %w", err)
	}

	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}

	s.conn, s.ch = conn, ch
	return ch, nil
}

func (s *AMQPSink) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn, s.ch = nil, nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}
