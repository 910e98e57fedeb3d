package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karcis-id/karcis/internal/domain"
	"github.com/karcis-id/karcis/internal/repository"
)

// TierRepo is the inventory ledger over ticket_tiers.remaining.
type TierRepo struct {
	pool *pgxpool.Pool
}

func (r *TierRepo) handle(db DB) DB {
	if db != nil {
		return db
	}
	return r.pool
}

// Reserve decrements the tier's remaining count by qty as a single
// conditional update. The read of remaining and its decrement are one
// statement, so two racing reservations can never both observe enough
// stock.
//
// Returns:
//   - error: repository.ErrNotFound if the tier does not exist.
//   - error: repository.ErrInsufficientInventory if remaining < qty.
func (r *TierRepo) Reserve(ctx context.Context, db DB, tierID int64, qty int) error {
	const op = "postgresrepo.TierRepo.Reserve"

	h := r.handle(db)

	tag, err := h.Exec(ctx,
		`UPDATE ticket_tiers
		    SET remaining = remaining - $2
		  WHERE id = $1
		    AND remaining >= $2`,
		tierID, qty,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: the tier is either missing or short on stock.
	var exists bool
	if err := h.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ticket_tiers WHERE id = $1)`,
		tierID,
	).Scan(&exists); err != nil {
		return wrapDBErr(op, err)
	}

	if !exists {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return fmt.Errorf("%s:%w", op, repository.ErrInsufficientInventory)
}

// Release re-increments the tier's remaining count, clamped by the
// remaining <= total table constraint.
func (r *TierRepo) Release(ctx context.Context, db DB, tierID int64, qty int) error {
	const op = "postgresrepo.TierRepo.Release"

	tag, err := r.handle(db).Exec(ctx,
		`UPDATE ticket_tiers
		    SET remaining = remaining + $2
		  WHERE id = $1`,
		tierID, qty,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// Get retrieves a tier by its ID.
func (r *TierRepo) Get(ctx context.Context, db DB, tierID int64) (*domain.TicketTier, error) {
	const op = "postgresrepo.TierRepo.Get"

	var t domain.TicketTier
	err := r.handle(db).QueryRow(ctx,
		`SELECT id, event_id, name, price_cents, remaining, total
		   FROM ticket_tiers WHERE id = $1`,
		tierID,
	).Scan(&t.ID, &t.EventID, &t.Name, &t.PriceCents, &t.Remaining, &t.Total)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &t, nil
}
