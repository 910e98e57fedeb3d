package uow

import (
	"context"

	"github.com/jackc/pgx/v5"

	postgresrepo "github.com/karcis-id/karcis/internal/repository/postgres"
)

// maxAttempts bounds retries of serialization/deadlock failures under
// the default Serializable isolation.
const maxAttempts = 3

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// TxRunner abstracts the transactional store. *postgresrepo.Store
// satisfies it; tests substitute an in-memory runner.
type TxRunner interface {
	RunTx(ctx context.Context, opts *pgx.TxOptions, fn func(ctx context.Context, tx postgresrepo.DB) error) error
}

// UoW represents a unit of work.
type UoW struct {
	runner TxRunner
}

func NewUoW(runner TxRunner) *UoW {
	return &UoW{runner: runner}
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx postgresrepo.DB, after func(AfterCommit)) error,
) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts runs fn inside the transaction with the given options,
// retrying aborted-but-retryable transactions. After a successful
// commit, it executes all after-commit hooks.
func (u *UoW) DoWithOpts(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx postgresrepo.DB, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		hooks = hooks[:0]

		err = u.runner.RunTx(ctx, opts, func(ctx context.Context, tx postgresrepo.DB) error {
			return fn(ctx, tx, func(h AfterCommit) {
				hooks = append(hooks, h)
			})
		})
		if err == nil {
			break
		}

		if !postgresrepo.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}
