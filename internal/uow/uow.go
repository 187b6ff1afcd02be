package uow

import (
	"context"

	"github.com/jackc/pgx/v5"

	postgres "github.com/kirinyoku/tixbook/internal/repository/postgres"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// UoW represents a unit of work.
type UoW struct {
	store   *postgres.Store
	retries int
}

type Option func(*UoW)

// WithRetries re-runs a transaction that hit a serialization failure or a
// deadlock up to n more times.
func WithRetries(n int) Option {
	return func(u *UoW) {
		if n > 0 {
			u.retries = n
		}
	}
}

func NewUoW(store *postgres.Store, opts ...Option) *UoW {
	u := &UoW{store: store}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx postgres.DB, after func(AfterCommit)) error,
) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts runs fn inside the transaction with the given options. Hooks
// registered by fn run only after the commit, with a context that outlives
// the caller's cancellation; a rolled back attempt drops its hooks.
func (u *UoW) DoWithOpts(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx postgres.DB, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	for attempt := 0; ; attempt++ {
		err := u.store.RunTx(ctx, opts, func(ctx context.Context, tx postgres.DB) error {
			hooks = hooks[:0]
			return fn(ctx, tx, func(h AfterCommit) {
				hooks = append(hooks, h)
			})
		})
		if err == nil {
			break
		}
		if attempt < u.retries && postgres.IsRetryable(err) && ctx.Err() == nil {
			continue
		}
		return err
	}

	hookCtx := context.WithoutCancel(ctx)
	for _, h := range hooks {
		h(hookCtx)
	}

	return nil
}
