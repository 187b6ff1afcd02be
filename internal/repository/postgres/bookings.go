package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixbook/internal/domain"
)

const bookingColumns = `b.id, b.event_id, b.purchaser_id,
	b.name, b.email, b.phone_number,
	b.ticket_class, b.quantity, b.unit_price, b.amount, b.created_at`

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Insert stores a new booking. The (event_id, purchaser_id) unique index is
// what guarantees one booking per purchaser per event.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - b: booking to insert; CreatedAt is filled in.
//
// Returns:
//   - error: repository.ErrConflict if the purchaser already booked the event.
func (r *BookingRepo) Insert(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Insert"

	err := r.handle().QueryRow(ctx,
		`INSERT INTO bookings(id, event_id, purchaser_id,
		                      name, email, phone_number,
		                      ticket_class, quantity, unit_price, amount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		b.ID, b.EventID, b.PurchaserID,
		b.Contact.Name, b.Contact.Email, b.Contact.PhoneNumber,
		string(b.TicketClass), b.Quantity, b.UnitPrice, b.Amount,
	).Scan(&b.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// FindByID retrieves a booking by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the booking does not exist.
func (r *BookingRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.FindByID"

	b, err := scanBooking(r.handle().QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings b WHERE b.id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return b, nil
}

// FindByEventAndPurchaser retrieves the booking a purchaser holds for an event.
//
// Returns:
//   - error: repository.ErrNotFound if the purchaser has not booked the event.
func (r *BookingRepo) FindByEventAndPurchaser(
	ctx context.Context,
	eventID int64,
	purchaserID string,
) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.FindByEventAndPurchaser"

	b, err := scanBooking(r.handle().QueryRow(ctx,
		`SELECT `+bookingColumns+`
		   FROM bookings b
		  WHERE b.event_id = $1 AND b.purchaser_id = $2`,
		eventID, purchaserID,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return b, nil
}

// ListByPurchaser returns every booking of a purchaser together with its
// event, newest first.
func (r *BookingRepo) ListByPurchaser(ctx context.Context, purchaserID string) ([]domain.BookingWithEvent, error) {
	const op = "postgres.BookingRepo.ListByPurchaser"

	rows, err := r.handle().Query(ctx,
		`SELECT `+bookingColumns+`,
		        e.id, e.title, e.venue, e.starts_at,
		        e.premium_remaining, e.standard_remaining,
		        e.premium_price, e.standard_price,
		        e.created_at, e.updated_at
		   FROM bookings b
		   JOIN events e ON e.id = b.event_id
		  WHERE b.purchaser_id = $1
		  ORDER BY b.created_at DESC`,
		purchaserID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.BookingWithEvent
	for rows.Next() {
		var (
			b     domain.Booking
			e     domain.Event
			class string
		)
		if err := rows.Scan(
			&b.ID, &b.EventID, &b.PurchaserID,
			&b.Contact.Name, &b.Contact.Email, &b.Contact.PhoneNumber,
			&class, &b.Quantity, &b.UnitPrice, &b.Amount, &b.CreatedAt,
			&e.ID, &e.Title, &e.Venue, &e.StartsAt,
			&e.PremiumRemaining, &e.StandardRemaining,
			&e.PremiumPrice, &e.StandardPrice,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		b.TicketClass = domain.TicketClass(class)

		out = append(out, domain.BookingWithEvent{Booking: b, Event: &e})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return out, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b     domain.Booking
		class string
	)
	if err := row.Scan(
		&b.ID, &b.EventID, &b.PurchaserID,
		&b.Contact.Name, &b.Contact.Email, &b.Contact.PhoneNumber,
		&class, &b.Quantity, &b.UnitPrice, &b.Amount, &b.CreatedAt,
	); err != nil {
		return nil, err
	}
	b.TicketClass = domain.TicketClass(class)
	return &b, nil
}
