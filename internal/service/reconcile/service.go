package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

type OrderStore interface {
	Get(ctx context.Context, db postgresrepo.DB, id uuid.UUID) (*domain.Order, error)
	TransitionIfPending(ctx context.Context, db postgresrepo.DB, id uuid.UUID, to domain.OrderStatus) error
	SetPaymentStatus(ctx context.Context, db postgresrepo.DB, orderID uuid.UUID, status domain.PaymentStatus, at time.Time) error
}

type TicketStore interface {
	BulkSetStatus(ctx context.Context, db postgresrepo.DB, orderID uuid.UUID, from, to domain.TicketStatus) (int64, error)
}

type TierStore interface {
	Release(ctx context.Context, db postgresrepo.DB, tierID int64, qty int) error
}

// Gateway is the payment-provider surface consumed here: the pull-side
// status query and webhook signature verification.
type Gateway interface {
	QueryStatus(ctx context.Context, orderRef string) (*midtrans.TransactionStatus, error)
	VerifySignature(n domain.GatewayNotification) bool
}

// Service drives Order/Payment/Ticket state from gateway outcomes. The
// webhook entry point and the poll entry point converge on one
// applyOutcome, so delivery order and duplication cannot matter.
type Service struct {
	orders  OrderStore
	tickets TicketStore
	tiers   TierStore
	gateway Gateway
	uow     *uow.UoW
	cache   *redisrepo.Cache
	pubsub  *redisx.OrdersPubSub
	logger  *slog.Logger
}

func New(
	orders OrderStore,
	tickets TicketStore,
	tiers TierStore,
	gateway Gateway,
	txRunner uow.TxRunner,
	cache *redisrepo.Cache,
	pubsub *redisx.OrdersPubSub,
	logger *slog.Logger,
) *Service {
	return &Service{
		orders:  orders,
		tickets: tickets,
		tiers:   tiers,
		gateway: gateway,
		uow:     uow.NewUoW(txRunner),
		cache:   cache,
		pubsub:  pubsub,
		logger:  logger,
	}
}

// OnNotification ingests a webhook delivery. Everything that is not a
// state-changing outcome for a known order is acknowledged as a no-op:
// bad signatures, unknown transaction statuses, and already-terminal
// orders. Only a genuinely unknown order is an error, so the provider
// keeps retrying until the racing checkout commit lands.
//
// Returns:
//   - error: reconcile.ErrOrderNotFound if no such order exists.
func (s *Service) OnNotification(ctx context.Context, n domain.GatewayNotification) error {
	const op = "service.reconcile.OnNotification"

	if !s.gateway.VerifySignature(n) {
		s.logger.Warn("dropping notification with bad signature", "order_ref", n.OrderID)
		metrics.NotificationsIgnored.Inc()
		return nil
	}

	orderID, ok := parseOrderRef(n.OrderID)
	if !ok {
		s.logger.Warn("dropping notification with malformed order ref", "order_ref", n.OrderID)
		metrics.NotificationsIgnored.Inc()
		return nil
	}

	outcome := domain.MapTransactionStatus(n.TransactionStatus)
	if outcome == domain.OutcomeIndeterminate {
		metrics.NotificationsIgnored.Inc()
		return nil
	}

	if _, err := s.applyOutcome(ctx, orderID, outcome); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// RefreshStatus reconciles an order on demand by querying the gateway
// and applying the same outcome mapping the webhook path uses.
//
// Returns:
//   - domain.OrderStatus: the order's status after reconciliation.
//   - error: reconcile.ErrOrderNotFound, ErrGatewayUnavailable.
func (s *Service) RefreshStatus(ctx context.Context, orderID uuid.UUID) (domain.OrderStatus, error) {
	const op = "service.reconcile.RefreshStatus"

	order, err := s.orders.Get(ctx, nil, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%s:%w", op, ErrOrderNotFound)
		}
		return "", fmt.Errorf("%s:%w", op, err)
	}

	if order.Status.Terminal() {
		return order.Status, nil
	}

	st, err := s.gateway.QueryStatus(ctx, orderID.String())
	if err != nil {
		if errors.Is(err, midtrans.ErrRejected) {
			// The provider has no transaction yet; the order stays pending.
			return order.Status, nil
		}
		return "", fmt.Errorf("%s:%w", op, ErrGatewayUnavailable)
	}

	outcome := domain.MapTransactionStatus(st.TransactionStatus)
	if outcome == domain.OutcomeIndeterminate {
		return order.Status, nil
	}

	status, err := s.applyOutcome(ctx, orderID, outcome)
	if err != nil {
		return "", fmt.Errorf("%s:%w", op, err)
	}

	return status, nil
}

// errAlreadyTerminal aborts the transition transaction before any side
// effect when the order has already left PENDING.
var errAlreadyTerminal = errors.New("order already terminal")

// applyOutcome is the single authoritative transition function. The
// PENDING guard lives in the conditional order update, and every side
// effect (payment status, ticket bulk flip, inventory release) shares
// its transaction, so each outcome is applied exactly once per order.
func (s *Service) applyOutcome(
	ctx context.Context,
	orderID uuid.UUID,
	outcome domain.GatewayOutcome,
) (domain.OrderStatus, error) {
	target := domain.OrderPaid
	if outcome == domain.OutcomeCancelled {
		target = domain.OrderCancelled
	}

	var tierID int64

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		if err := s.orders.TransitionIfPending(ctx, tx, orderID, target); err != nil {
			if errors.Is(err, repository.ErrOrderNotPending) {
				return errAlreadyTerminal
			}
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		order, err := s.orders.Get(ctx, tx, orderID)
		if err != nil {
			return err
		}
		tierID = order.TierID

		now := time.Now().UTC()

		switch target {
		case domain.OrderPaid:
			if err := s.orders.SetPaymentStatus(ctx, tx, orderID, domain.PaymentSettlement, now); err != nil {
				return err
			}
			if _, err := s.tickets.BulkSetStatus(ctx, tx, orderID, domain.TicketAvailable, domain.TicketSold); err != nil {
				return err
			}
		case domain.OrderCancelled:
			if err := s.orders.SetPaymentStatus(ctx, tx, orderID, domain.PaymentCancelled, now); err != nil {
				return err
			}
			if _, err := s.tickets.BulkSetStatus(ctx, tx, orderID, domain.TicketAvailable, domain.TicketCancelled); err != nil {
				return err
			}
			if err := s.tiers.Release(ctx, tx, order.TierID, order.Quantity); err != nil {
				return err
			}
		}

		after(func(ctx context.Context) {
			if s.cache != nil {
				_ = s.cache.InvalidateOrder(ctx, orderID.String())
				_ = s.cache.InvalidateTier(ctx, tierID)
			}
			if s.pubsub != nil {
				_ = s.pubsub.PublishOrderChanged(ctx, orderID.String(), string(target))
			}
		})

		return nil
	})
	if err != nil {
		if errors.Is(err, errAlreadyTerminal) {
			order, gerr := s.orders.Get(ctx, nil, orderID)
			if gerr != nil {
				return "", gerr
			}
			return order.Status, nil
		}
		return "", err
	}

	metrics.OutcomesApplied.WithLabelValues(string(outcome)).Inc()

	return target, nil
}

// parseOrderRef extracts the order UUID from a gateway order reference,
// tolerating the -R<n> suffix regenerated sessions carry.
func parseOrderRef(ref string) (uuid.UUID, bool) {
	if i := strings.Index(ref, "-R"); i == 36 {
		ref = ref[:36]
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
