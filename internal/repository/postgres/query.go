package postgresrepo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/karcis-id/karcis/internal/domain"
)

type QueryRepo struct {
	pool *pgxpool.Pool
}

func (r *QueryRepo) handle(db DB) DB {
	if db != nil {
		return db
	}
	return r.pool
}

// GetEvent retrieves an event by its ID.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: repository.ErrNotFound if the event is not found.
func (r *QueryRepo) GetEvent(ctx context.Context, db DB, id int64) (*domain.Event, error) {
	const op = "postgresrepo.QueryRepo.GetEvent"

	var e domain.Event
	err := r.handle(db).QueryRow(ctx,
		`SELECT id, title, venue, starts_at
		   FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Title, &e.Venue, &e.Starts)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &e, nil
}

// TierAvailability returns the remaining/total counters for a tier.
//
// Returns:
//   - error: repository.ErrNotFound if the tier is not found.
func (r *QueryRepo) TierAvailability(ctx context.Context, db DB, tierID int64) (*domain.TierAvailability, error) {
	const op = "postgresrepo.QueryRepo.TierAvailability"

	var a domain.TierAvailability
	err := r.handle(db).QueryRow(ctx,
		`SELECT id, remaining, total FROM ticket_tiers WHERE id = $1`,
		tierID,
	).Scan(&a.TierID, &a.Remaining, &a.Total)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &a, nil
}

// GetOrderWithTickets retrieves an order together with its payment and
// all of its ticket units.
//
// Returns:
//   - error: repository.ErrNotFound if the order is not found.
func (r *QueryRepo) GetOrderWithTickets(ctx context.Context, db DB, orderID uuid.UUID) (*domain.OrderWithTickets, error) {
	const op = "postgresrepo.QueryRepo.GetOrderWithTickets"

	h := r.handle(db)

	var out domain.OrderWithTickets

	err := h.QueryRow(ctx,
		`SELECT o.id, o.user_id, o.event_id, o.tier_id, o.quantity, o.total_cents,
		        o.status, o.buyer_name, o.buyer_email, o.buyer_phone, o.created_at,
		        p.id, p.amount_cents, p.method, p.status, p.transaction_at
		   FROM orders o
		   JOIN payments p ON p.order_id = o.id
		  WHERE o.id = $1`,
		orderID,
	).Scan(
		&out.Order.ID, &out.Order.UserID, &out.Order.EventID, &out.Order.TierID,
		&out.Order.Quantity, &out.Order.TotalCents, &out.Order.Status,
		&out.Order.Buyer.Name, &out.Order.Buyer.Email, &out.Order.Buyer.Phone,
		&out.Order.CreatedAt,
		&out.Payment.ID, &out.Payment.AmountCents, &out.Payment.Method,
		&out.Payment.Status, &out.Payment.TransactionAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	out.Payment.OrderID = out.Order.ID

	rows, err := h.Query(ctx,
		`SELECT id, order_id, tier_id, code, status, used, created_at
		   FROM tickets
		  WHERE order_id = $1
		  ORDER BY created_at, id`,
		orderID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(
			&t.ID, &t.OrderID, &t.TierID, &t.Code, &t.Status, &t.Used, &t.CreatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out.Tickets = append(out.Tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &out, nil
}
