package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karcis-id/karcis/internal/domain"
	"github.com/karcis-id/karcis/internal/gateway/midtrans"
	"github.com/karcis-id/karcis/internal/metrics"
	redisx "github.com/karcis-id/karcis/internal/redis"
	"github.com/karcis-id/karcis/internal/repository"
	postgresrepo "github.com/karcis-id/karcis/internal/repository/postgres"
	redisrepo "github.com/karcis-id/karcis/internal/repository/redis"
	"github.com/karcis-id/karcis/internal/uow"
)

// codeAttempts bounds regeneration of redemption codes on a unique-index
// collision.
const codeAttempts = 3

type TierStore interface {
	Get(ctx context.Context, db postgresrepo.DB, tierID int64) (*domain.TicketTier, error)
	Reserve(ctx context.Context, db postgresrepo.DB, tierID int64, qty int) error
}

type OrderStore interface {
	Insert(ctx context.Context, db postgresrepo.DB, o *domain.Order) error
	InsertPayment(ctx context.Context, db postgresrepo.DB, p *domain.Payment) error
	InsertInvoice(ctx context.Context, db postgresrepo.DB, inv *domain.Invoice) error
	Get(ctx context.Context, db postgresrepo.DB, id uuid.UUID) (*domain.Order, error)
}

type TicketStore interface {
	InsertBatch(ctx context.Context, db postgresrepo.DB, tickets []domain.Ticket) error
}

type EventStore interface {
	GetEvent(ctx context.Context, db postgresrepo.DB, id int64) (*domain.Event, error)
}

// Gateway is the payment-provider session surface consumed here.
type Gateway interface {
	CreateSession(ctx context.Context, req midtrans.SessionRequest) (*domain.PaymentSession, error)
}

type Config struct {
	// CheckoutTimeout bounds the whole order-creation transaction,
	// gateway call included.
	CheckoutTimeout time.Duration
}

type Service struct {
	tiers   TierStore
	orders  OrderStore
	tickets TicketStore
	events  EventStore
	gateway Gateway
	uow     *uow.UoW
	cache   *redisrepo.Cache
	pubsub  *redisx.OrdersPubSub
	limiter *redisrepo.SlidingWindowLimiter
	cfg     Config
}

func New(
	tiers TierStore,
	orders OrderStore,
	tickets TicketStore,
	events EventStore,
	gateway Gateway,
	txRunner uow.TxRunner,
	cache *redisrepo.Cache,
	pubsub *redisx.OrdersPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	cfg Config,
) *Service {
	if cfg.CheckoutTimeout <= 0 {
		cfg.CheckoutTimeout = 30 * time.Second
	}

	return &Service{
		tiers:   tiers,
		orders:  orders,
		tickets: tickets,
		events:  events,
		gateway: gateway,
		uow:     uow.NewUoW(txRunner),
		cache:   cache,
		pubsub:  pubsub,
		limiter: limiter,
		cfg:     cfg,
	}
}

type CreateOrderParams struct {
	UserID     int64
	EventID    int64
	TierID     int64
	Quantity   int
	TotalCents int64
	Buyer      domain.BuyerInfo
	Method     string
}

// errCodeCollision marks a redemption-code unique-index collision inside
// the checkout transaction so the whole attempt can be replayed with
// fresh codes.
var errCodeCollision = errors.New("ticket code collision")

// CreateOrder runs the whole checkout as one transaction: reserve
// inventory, create order/tickets/payment/invoice, then request a
// gateway session last, right before commit. Any failure, the gateway
// included, rolls everything back, so no partial state is ever visible.
//
// Returns:
//   - *domain.Checkout: the created order with tickets, payment, invoice
//     and the gateway session.
//   - error: orders.ErrValidation, ErrEventNotFound, ErrTierNotFound,
//     ErrInsufficientInventory, ErrSessionExists, ErrGatewayRejected,
//     ErrGatewayUnavailable, ErrCheckoutTimeout, ErrRateLimited.
func (s *Service) CreateOrder(ctx context.Context, p CreateOrderParams, rlKey string) (*domain.Checkout, error) {
	const op = "service.orders.CreateOrder"

	if err := validate(p); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, _, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s:%w", op, ErrRateLimited)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckoutTimeout)
	defer cancel()

	var out *domain.Checkout
	var err error

	for attempt := 0; attempt < codeAttempts; attempt++ {
		out, err = s.createOrderTx(ctx, p)
		if !errors.Is(err, errCodeCollision) {
			break
		}
	}
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s:%w", op, ErrCheckoutTimeout)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	metrics.OrdersCreated.Inc()

	return out, nil
}

func (s *Service) createOrderTx(ctx context.Context, p CreateOrderParams) (*domain.Checkout, error) {
	var out *domain.Checkout

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		event, err := s.events.GetEvent(ctx, tx, p.EventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrEventNotFound
			}
			return err
		}

		tier, err := s.tiers.Get(ctx, tx, p.TierID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTierNotFound
			}
			return err
		}

		if tier.EventID != p.EventID {
			return ErrTierNotFound
		}

		if p.TotalCents != tier.PriceCents*int64(p.Quantity) {
			return fmt.Errorf("%w: total does not match tier price", ErrValidation)
		}

		if err := s.tiers.Reserve(ctx, tx, p.TierID, p.Quantity); err != nil {
			if errors.Is(err, repository.ErrInsufficientInventory) {
				return ErrInsufficientInventory
			}
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTierNotFound
			}
			return err
		}

		now := time.Now().UTC()

		order := domain.Order{
			ID:         uuid.New(),
			UserID:     p.UserID,
			EventID:    p.EventID,
			TierID:     p.TierID,
			Quantity:   p.Quantity,
			TotalCents: p.TotalCents,
			Status:     domain.OrderPending,
			Buyer:      p.Buyer,
			CreatedAt:  now,
		}
		if err := s.orders.Insert(ctx, tx, &order); err != nil {
			return err
		}

		tickets := make([]domain.Ticket, p.Quantity)
		for i := range tickets {
			tickets[i] = domain.Ticket{
				ID:        uuid.New(),
				OrderID:   order.ID,
				TierID:    p.TierID,
				Code:      newTicketCode(),
				Status:    domain.TicketAvailable,
				Used:      false,
				CreatedAt: now,
			}
		}
		if err := s.tickets.InsertBatch(ctx, tx, tickets); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return errCodeCollision
			}
			return err
		}

		payment := domain.Payment{
			ID:          uuid.New(),
			OrderID:     order.ID,
			AmountCents: p.TotalCents,
			Method:      p.Method,
			Status:      domain.PaymentPending,
		}
		if err := s.orders.InsertPayment(ctx, tx, &payment); err != nil {
			return err
		}

		invoice := domain.Invoice{
			ID:          uuid.New(),
			PaymentID:   payment.ID,
			Number:      invoiceNumber(now, order.ID),
			AmountCents: p.TotalCents,
			IssuedAt:    now,
		}
		if err := s.orders.InsertInvoice(ctx, tx, &invoice); err != nil {
			return err
		}

		// Gateway call goes last so a provider failure aborts the whole
		// transaction and the reservation above never survives alone.
		session, err := s.requestSession(ctx, event, tier, &order)
		if err != nil {
			return err
		}

		out = &domain.Checkout{
			Order:   order,
			Tickets: tickets,
			Payment: payment,
			Invoice: invoice,
			Session: *session,
		}

		after(func(ctx context.Context) {
			if s.cache != nil {
				_ = s.cache.InvalidateTier(ctx, p.TierID)
			}
			if s.pubsub != nil {
				_ = s.pubsub.PublishOrderChanged(ctx, order.ID.String(), string(order.Status))
			}
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ContinuePayment regenerates a gateway session for an order that is
// still PENDING, e.g. when the buyer abandoned the payment page. A
// provider duplicate-order rejection is retried with a suffixed
// reference.
//
// Returns:
//   - error: orders.ErrOrderNotFound, ErrOrderNotPending,
//     ErrSessionExists, ErrGatewayRejected, ErrGatewayUnavailable.
func (s *Service) ContinuePayment(ctx context.Context, orderID uuid.UUID) (*domain.PaymentSession, error) {
	const op = "service.orders.ContinuePayment"

	order, err := s.orders.Get(ctx, nil, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if order.Status != domain.OrderPending {
		return nil, fmt.Errorf("%s:%w", op, ErrOrderNotPending)
	}

	event, err := s.events.GetEvent(ctx, nil, order.EventID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	tier, err := s.tiers.Get(ctx, nil, order.TierID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	ref := order.ID.String()
	for attempt := 0; ; attempt++ {
		session, err := s.createSession(ctx, ref, event, tier, order)
		if err == nil {
			return session, nil
		}
		if errors.Is(err, ErrSessionExists) && attempt < 2 {
			ref = fmt.Sprintf("%s-R%d", order.ID, attempt+1)
			continue
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}
}

func (s *Service) requestSession(
	ctx context.Context,
	event *domain.Event,
	tier *domain.TicketTier,
	order *domain.Order,
) (*domain.PaymentSession, error) {
	return s.createSession(ctx, order.ID.String(), event, tier, order)
}

func (s *Service) createSession(
	ctx context.Context,
	orderRef string,
	event *domain.Event,
	tier *domain.TicketTier,
	order *domain.Order,
) (*domain.PaymentSession, error) {
	session, err := s.gateway.CreateSession(ctx, midtrans.SessionRequest{
		OrderRef:    orderRef,
		GrossAmount: order.TotalCents,
		Items: []midtrans.ItemDetail{{
			ID:       fmt.Sprintf("tier-%d", tier.ID),
			Name:     fmt.Sprintf("%s / %s", event.Title, tier.Name),
			Price:    tier.PriceCents,
			Quantity: order.Quantity,
		}},
		Customer: midtrans.CustomerDetails{
			FirstName: order.Buyer.Name,
			Email:     order.Buyer.Email,
			Phone:     order.Buyer.Phone,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, midtrans.ErrDuplicateOrder):
			return nil, ErrSessionExists
		case errors.Is(err, midtrans.ErrRejected):
			return nil, ErrGatewayRejected
		case errors.Is(err, midtrans.ErrUnavailable):
			return nil, ErrGatewayUnavailable
		default:
			return nil, err
		}
	}

	return session, nil
}

func validate(p CreateOrderParams) error {
	switch {
	case p.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	case p.TotalCents <= 0:
		return fmt.Errorf("%w: total must be positive", ErrValidation)
	case strings.TrimSpace(p.Buyer.Name) == "":
		return fmt.Errorf("%w: buyer name is required", ErrValidation)
	case !strings.Contains(p.Buyer.Email, "@"):
		return fmt.Errorf("%w: buyer email is malformed", ErrValidation)
	}
	return nil
}

// newTicketCode returns a crypto-random redemption code. Uniqueness is
// enforced by the unique index on tickets.code; a collision replays the
// checkout with fresh codes.
func newTicketCode() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "KRC-" + strings.ToUpper(hex.EncodeToString(b))
}

func invoiceNumber(at time.Time, orderID uuid.UUID) string {
	short := strings.ToUpper(strings.ReplaceAll(orderID.String(), "-", ""))[:12]
	return fmt.Sprintf("INV/%s/%s", at.Format("20060102"), short)
}
