package postgresrepo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karcis-id/karcis/internal/domain"
	"github.com/karcis-id/karcis/internal/repository"
)

type TicketRepo struct {
	pool *pgxpool.Pool
}

func (r *TicketRepo) handle(db DB) DB {
	if db != nil {
		return db
	}
	return r.pool
}

// InsertBatch persists all ticket units of an order in one batch.
// A duplicate redemption code surfaces as repository.ErrConflict via the
// unique index on tickets.code.
func (r *TicketRepo) InsertBatch(ctx context.Context, db DB, tickets []domain.Ticket) error {
	const op = "postgresrepo.TicketRepo.InsertBatch"

	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(
			`INSERT INTO tickets(id, order_id, tier_id, code, status, used, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, t.OrderID, t.TierID, t.Code, t.Status, t.Used, t.CreatedAt,
		)
	}
	if err := r.handle(db).SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// BulkSetStatus flips every ticket of an order from one status to another
// and returns the number of tickets updated.
func (r *TicketRepo) BulkSetStatus(
	ctx context.Context,
	db DB,
	orderID uuid.UUID,
	from, to domain.TicketStatus,
) (int64, error) {
	const op = "postgresrepo.TicketRepo.BulkSetStatus"

	tag, err := r.handle(db).Exec(ctx,
		`UPDATE tickets SET status = $3 WHERE order_id = $1 AND status = $2`,
		orderID, from, to,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}

// Redeem consumes a ticket code. The used flag is checked and flipped in
// a single conditional update, so of any number of concurrent scans of
// the same code exactly one succeeds.
//
// Returns:
//   - *domain.RedeemedTicket: gate-display details on success.
//   - error: repository.ErrNotFound if the code does not exist.
//   - error: repository.ErrAlreadyUsed if the ticket was already consumed.
//   - error: repository.ErrNotRedeemable if the ticket was never sold
//     (unpaid or cancelled order).
func (r *TicketRepo) Redeem(ctx context.Context, db DB, code string) (*domain.RedeemedTicket, error) {
	const op = "postgresrepo.TicketRepo.Redeem"

	h := r.handle(db)

	var out domain.RedeemedTicket
	err := h.QueryRow(ctx,
		`UPDATE tickets t
		    SET used = TRUE, status = $2
		   FROM orders o
		   JOIN events e ON e.id = o.event_id
		   JOIN ticket_tiers tt ON tt.id = o.tier_id
		  WHERE t.code = $1
		    AND t.used = FALSE
		    AND t.status = $3
		    AND o.id = t.order_id
		 RETURNING t.code, e.title, e.venue, tt.name, o.buyer_name, o.buyer_email, o.created_at`,
		code, domain.TicketCheckedIn, domain.TicketSold,
	).Scan(
		&out.Code, &out.EventTitle, &out.Venue, &out.TierName,
		&out.BuyerName, &out.BuyerEmail, &out.PurchasedAt,
	)
	if err == nil {
		return &out, nil
	}

	if translateDBErr(err) != repository.ErrNotFound {
		return nil, wrapDBErr(op, err)
	}

	// Zero rows: distinguish unknown code, replayed code, and a unit
	// that never reached SOLD.
	var used bool
	var status domain.TicketStatus
	if err := h.QueryRow(ctx,
		`SELECT used, status FROM tickets WHERE code = $1`, code,
	).Scan(&used, &status); err != nil {
		return nil, wrapDBErr(op, err)
	}

	if used {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrAlreadyUsed)
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrNotRedeemable)
}

// GetByCode retrieves a ticket unit by its redemption code.
func (r *TicketRepo) GetByCode(ctx context.Context, db DB, code string) (*domain.Ticket, error) {
	const op = "postgresrepo.TicketRepo.GetByCode"

	var t domain.Ticket
	err := r.handle(db).QueryRow(ctx,
		`SELECT id, order_id, tier_id, code, status, used, created_at
		   FROM tickets WHERE code = $1`,
		code,
	).Scan(&t.ID, &t.OrderID, &t.TierID, &t.Code, &t.Status, &t.Used, &t.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &t, nil
}
