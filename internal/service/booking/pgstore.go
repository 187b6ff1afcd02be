package booking

import (
	"context"

	postgresrepo "github.com/kirinyoku/tixbook/internal/repository/postgres"
	"github.com/kirinyoku/tixbook/internal/uow"
)

// PostgresStore adapts the Postgres repositories to Store.
type PostgresStore struct {
	store *postgresrepo.Store
	uow   *uow.UoW
}

func NewPostgresStore(store *postgresrepo.Store) *PostgresStore {
	return &PostgresStore{
		store: store,
		uow:   uow.NewUoW(store),
	}
}

func (s *PostgresStore) Inventory() Inventory { return s.store.Events() }
func (s *PostgresStore) Ledger() Ledger       { return s.store.Bookings() }

func (s *PostgresStore) Atomic(
	ctx context.Context,
	fn func(ctx context.Context, inv Inventory, led Ledger) error,
) error {
	return s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		_ func(uow.AfterCommit),
	) error {
		return fn(ctx, s.store.Events().With(tx), s.store.Bookings().With(tx))
	})
}
