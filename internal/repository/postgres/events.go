package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixbook/internal/domain"
	"github.com/kirinyoku/tixbook/internal/repository"
)

const eventColumns = `id, title, venue, starts_at,
	premium_remaining, standard_remaining,
	premium_price, standard_price,
	created_at, updated_at`

type EventRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create inserts an event with its initial pools and prices.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - e: event to insert; ID, CreatedAt and UpdatedAt are filled in.
//
// Returns:
//   - error: repository.ErrConflict if a uniqueness constraint is violated.
func (r *EventRepo) Create(ctx context.Context, e *domain.Event) error {
	const op = "postgres.EventRepo.Create"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO events(title, venue, starts_at,
		                    premium_remaining, standard_remaining,
		                    premium_price, standard_price)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Venue, e.StartsAt,
		e.PremiumRemaining, e.StandardRemaining,
		e.PremiumPrice, e.StandardPrice,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// Get retrieves an event by its ID.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - id: unique identifier of the event to retrieve.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: repository.ErrNotFound if the event is not found.
func (r *EventRepo) Get(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgres.EventRepo.Get"

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return e, nil
}

// ConditionalDecrement takes quantity tickets out of one pool in a single
// statement. The row is only updated while the pool still holds at least
// quantity tickets, so concurrent callers can never drive it negative.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - eventID: event whose pool is debited.
//   - class: pool to debit.
//   - quantity: number of tickets to take.
//
// Returns:
//   - *domain.Event: the event after the update.
//   - error: repository.ErrNoMatch if the event is missing or the pool is short.
func (r *EventRepo) ConditionalDecrement(
	ctx context.Context,
	eventID int64,
	class domain.TicketClass,
	quantity int,
) (*domain.Event, error) {
	const op = "postgres.EventRepo.ConditionalDecrement"

	col := poolColumn(class)

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`UPDATE events
		    SET `+col+` = `+col+` - $2, updated_at = now()
		  WHERE id = $1 AND `+col+` >= $2
		 RETURNING `+eventColumns,
		eventID, quantity,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s:%w", op, repository.ErrNoMatch)
		}
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return e, nil
}

// ConditionalIncrement puts quantity tickets back into one pool. It is the
// compensating action for a decrement whose booking could not be stored.
//
// Returns:
//   - *domain.Event: the event after the update.
//   - error: repository.ErrNotFound if the event no longer exists.
func (r *EventRepo) ConditionalIncrement(
	ctx context.Context,
	eventID int64,
	class domain.TicketClass,
	quantity int,
) (*domain.Event, error) {
	const op = "postgres.EventRepo.ConditionalIncrement"

	col := poolColumn(class)

	e, err := scanEvent(r.handle().QueryRow(ctx,
		`UPDATE events
		    SET `+col+` = `+col+` + $2, updated_at = now()
		  WHERE id = $1 AND $2 > 0
		 RETURNING `+eventColumns,
		eventID, quantity,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return e, nil
}

// Availability returns both pool counters of an event.
func (r *EventRepo) Availability(ctx context.Context, eventID int64) (*domain.EventAvailability, error) {
	const op = "postgres.EventRepo.Availability"

	a := domain.EventAvailability{EventID: eventID}
	err := r.handle().QueryRow(ctx,
		`SELECT premium_remaining, standard_remaining
		   FROM events WHERE id = $1`,
		eventID,
	).Scan(&a.PremiumRemaining, &a.StandardRemaining)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &a, nil
}

// poolColumn maps a ticket class onto a fixed column name; the result is
// spliced into SQL, so it must never come from client input.
func poolColumn(class domain.TicketClass) string {
	if class == domain.TicketPremium {
		return "premium_remaining"
	}
	return "standard_remaining"
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	if err := row.Scan(
		&e.ID, &e.Title, &e.Venue, &e.StartsAt,
		&e.PremiumRemaining, &e.StandardRemaining,
		&e.PremiumPrice, &e.StandardPrice,
		&e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
