package postgresrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karcis-id/karcis/internal/domain"
	"github.com/karcis-id/karcis/internal/repository"
)

type OrderRepo struct {
	pool *pgxpool.Pool
}

func (r *OrderRepo) handle(db DB) DB {
	if db != nil {
		return db
	}
	return r.pool
}

// Insert persists an order row with status PENDING.
func (r *OrderRepo) Insert(ctx context.Context, db DB, o *domain.Order) error {
	const op = "postgresrepo.OrderRepo.Insert"

	_, err := r.handle(db).Exec(ctx,
		`INSERT INTO orders(id, user_id, event_id, tier_id, quantity, total_cents,
		                    status, buyer_name, buyer_email, buyer_phone, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID, o.UserID, o.EventID, o.TierID, o.Quantity, o.TotalCents,
		o.Status, o.Buyer.Name, o.Buyer.Email, o.Buyer.Phone, o.CreatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// InsertPayment persists the order's single payment row.
func (r *OrderRepo) InsertPayment(ctx context.Context, db DB, p *domain.Payment) error {
	const op = "postgresrepo.OrderRepo.InsertPayment"

	_, err := r.handle(db).Exec(ctx,
		`INSERT INTO payments(id, order_id, amount_cents, method, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.OrderID, p.AmountCents, p.Method, p.Status,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// InsertInvoice persists the payment's invoice row.
func (r *OrderRepo) InsertInvoice(ctx context.Context, db DB, inv *domain.Invoice) error {
	const op = "postgresrepo.OrderRepo.InsertInvoice"

	_, err := r.handle(db).Exec(ctx,
		`INSERT INTO invoices(id, payment_id, number, amount_cents, issued_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		inv.ID, inv.PaymentID, inv.Number, inv.AmountCents, inv.IssuedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// Get retrieves an order by its ID.
func (r *OrderRepo) Get(ctx context.Context, db DB, id uuid.UUID) (*domain.Order, error) {
	const op = "postgresrepo.OrderRepo.Get"

	var o domain.Order
	err := r.handle(db).QueryRow(ctx,
		`SELECT id, user_id, event_id, tier_id, quantity, total_cents,
		        status, buyer_name, buyer_email, buyer_phone, created_at
		   FROM orders WHERE id = $1`,
		id,
	).Scan(
		&o.ID, &o.UserID, &o.EventID, &o.TierID, &o.Quantity, &o.TotalCents,
		&o.Status, &o.Buyer.Name, &o.Buyer.Email, &o.Buyer.Phone, &o.CreatedAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &o, nil
}

// TransitionIfPending flips the order to the target status only if it is
// still PENDING. The guard lives in the statement itself, so duplicate or
// out-of-order reconciliation events collapse into a zero-row no-op.
//
// Returns:
//   - error: repository.ErrOrderNotPending if the order is already terminal.
//   - error: repository.ErrNotFound if the order does not exist.
func (r *OrderRepo) TransitionIfPending(
	ctx context.Context,
	db DB,
	id uuid.UUID,
	to domain.OrderStatus,
) error {
	const op = "postgresrepo.OrderRepo.TransitionIfPending"

	h := r.handle(db)

	tag, err := h.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1 AND status = $3`,
		id, to, domain.OrderPending,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := h.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`,
		id,
	).Scan(&exists); err != nil {
		return wrapDBErr(op, err)
	}

	if !exists {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return fmt.Errorf("%s:%w", op, repository.ErrOrderNotPending)
}

// SetPaymentStatus updates the payment row of an order and stamps the
// transaction time.
func (r *OrderRepo) SetPaymentStatus(
	ctx context.Context,
	db DB,
	orderID uuid.UUID,
	status domain.PaymentStatus,
	at time.Time,
) error {
	const op = "postgresrepo.OrderRepo.SetPaymentStatus"

	tag, err := r.handle(db).Exec(ctx,
		`UPDATE payments SET status = $2, transaction_at = $3 WHERE order_id = $1`,
		orderID, status, at,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}
