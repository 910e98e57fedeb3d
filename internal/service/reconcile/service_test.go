package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karcis-id/karcis/internal/domain"
	"github.com/karcis-id/karcis/internal/gateway/midtrans"
	"github.com/karcis-id/karcis/internal/repository"
	postgresrepo "github.com/karcis-id/karcis/internal/repository/postgres"
)

type fakeTx struct{}

func (fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("unexpected SQL on fake tx")
}
func (fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("unexpected SQL on fake tx")
}
func (fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("unexpected SQL on fake tx")
}
func (fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("unexpected SQL on fake tx")
}

// fakeStore holds one order with its payment, tickets and tier counter.
// Side-effect counters expose whether a replayed outcome touched state
// again.
type fakeStore struct {
	mu sync.Mutex

	order   *domain.Order
	payment *domain.Payment
	tickets []domain.Ticket
	tier    domain.TicketTier

	setPaymentCalls int
	bulkCalls       int
	releaseCalls    int
}

func (s *fakeStore) lockDirect(db postgresrepo.DB) func() {
	if db != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *fakeStore) RunTx(
	ctx context.Context,
	_ *pgx.TxOptions,
	fn func(ctx context.Context, tx postgresrepo.DB) error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := *s.order
	payment := *s.payment
	tickets := append([]domain.Ticket(nil), s.tickets...)
	tier := s.tier

	if err := fn(ctx, fakeTx{}); err != nil {
		*s.order = order
		*s.payment = payment
		s.tickets = tickets
		s.tier = tier
		return err
	}
	return nil
}

func (s *fakeStore) Get(_ context.Context, db postgresrepo.DB, id uuid.UUID) (*domain.Order, error) {
	defer s.lockDirect(db)()
	if s.order == nil || s.order.ID != id {
		return nil, repository.ErrNotFound
	}
	o := *s.order
	return &o, nil
}

func (s *fakeStore) TransitionIfPending(_ context.Context, db postgresrepo.DB, id uuid.UUID, to domain.OrderStatus) error {
	defer s.lockDirect(db)()
	if s.order == nil || s.order.ID != id {
		return repository.ErrNotFound
	}
	if s.order.Status != domain.OrderPending {
		return repository.ErrOrderNotPending
	}
	s.order.Status = to
	return nil
}

func (s *fakeStore) SetPaymentStatus(_ context.Context, db postgresrepo.DB, orderID uuid.UUID, status domain.PaymentStatus, at time.Time) error {
	defer s.lockDirect(db)()
	if s.payment == nil || s.payment.OrderID != orderID {
		return repository.ErrNotFound
	}
	s.setPaymentCalls++
	s.payment.Status = status
	s.payment.TransactionAt = &at
	return nil
}

func (s *fakeStore) BulkSetStatus(_ context.Context, db postgresrepo.DB, orderID uuid.UUID, from, to domain.TicketStatus) (int64, error) {
	defer s.lockDirect(db)()
	s.bulkCalls++
	var n int64
	for i := range s.tickets {
		if s.tickets[i].OrderID == orderID && s.tickets[i].Status == from {
			s.tickets[i].Status = to
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Release(_ context.Context, db postgresrepo.DB, tierID int64, qty int) error {
	defer s.lockDirect(db)()
	s.releaseCalls++
	if s.tier.ID == tierID {
		s.tier.Remaining += qty
	}
	return nil
}

type fakeGateway struct {
	mu         sync.Mutex
	status     string
	err        error
	queryCalls int

	badSignature bool
}

func (g *fakeGateway) QueryStatus(_ context.Context, orderRef string) (*midtrans.TransactionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryCalls++
	if g.err != nil {
		return nil, g.err
	}
	return &midtrans.TransactionStatus{OrderID: orderRef, TransactionStatus: g.status}, nil
}

func (g *fakeGateway) VerifySignature(domain.GatewayNotification) bool {
	return !g.badSignature
}

func newFixture(gw *fakeGateway) (*fakeStore, *Service) {
	orderID := uuid.New()

	store := &fakeStore{
		order: &domain.Order{
			ID: orderID, EventID: 1, TierID: 1, Quantity: 2,
			TotalCents: 100_000_00, Status: domain.OrderPending,
		},
		payment: &domain.Payment{ID: uuid.New(), OrderID: orderID, AmountCents: 100_000_00, Status: domain.PaymentPending},
		tickets: []domain.Ticket{
			{ID: uuid.New(), OrderID: orderID, TierID: 1, Code: "KRC-A", Status: domain.TicketAvailable},
			{ID: uuid.New(), OrderID: orderID, TierID: 1, Code: "KRC-B", Status: domain.TicketAvailable},
		},
		tier: domain.TicketTier{ID: 1, EventID: 1, Remaining: 8, Total: 10},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(store, store, store, gw, store, nil, nil, logger)
	return store, svc
}

func notification(orderRef, status string) domain.GatewayNotification {
	return domain.GatewayNotification{
		OrderID:           orderRef,
		TransactionStatus: status,
		StatusCode:        "200",
		GrossAmount:       "10000000.00",
	}
}

func TestOnNotification_Settlement(t *testing.T) {
	store, svc := newFixture(&fakeGateway{})

	err := svc.OnNotification(context.Background(), notification(store.order.ID.String(), "settlement"))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPaid, store.order.Status)
	assert.Equal(t, domain.PaymentSettlement, store.payment.Status)
	require.NotNil(t, store.payment.TransactionAt)
	for _, tk := range store.tickets {
		assert.Equal(t, domain.TicketSold, tk.Status)
	}
	assert.Equal(t, 8, store.tier.Remaining)
}

func TestOnNotification_DuplicateDeliveryIsNoOp(t *testing.T) {
	store, svc := newFixture(&fakeGateway{})
	ref := store.order.ID.String()

	require.NoError(t, svc.OnNotification(context.Background(), notification(ref, "settlement")))
	require.NoError(t, svc.OnNotification(context.Background(), notification(ref, "settlement")))

	assert.Equal(t, domain.OrderPaid, store.order.Status)
	assert.Equal(t, 1, store.setPaymentCalls)
	assert.Equal(t, 1, store.bulkCalls)
}

func TestOnNotification_ExpireReleasesInventory(t *testing.T) {
	store, svc := newFixture(&fakeGateway{})

	err := svc.OnNotification(context.Background(), notification(store.order.ID.String(), "expire"))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderCancelled, store.order.Status)
	assert.Equal(t, domain.PaymentCancelled, store.payment.Status)
	for _, tk := range store.tickets {
		assert.Equal(t, domain.TicketCancelled, tk.Status)
	}
	assert.Equal(t, 10, store.tier.Remaining)
}

func TestOnNotification_TerminalStatusIsMonotonic(t *testing.T) {
	store, svc := newFixture(&fakeGateway{})
	ref := store.order.ID.String()

	require.NoError(t, svc.OnNotification(context.Background(), notification(ref, "expire")))

	// A late settlement for a cancelled order must change nothing.
	require.NoError(t, svc.OnNotification(context.Background(), notification(ref, "settlement")))

	assert.Equal(t, domain.OrderCancelled, store.order.Status)
	assert.Equal(t, domain.PaymentCancelled, store.payment.Status)
	assert.Equal(t, 10, store.tier.Remaining)
	assert.Equal(t, 1, store.releaseCalls)
}

func TestOnNotification_UnknownStatusIgnored(t *testing.T) {
	store, svc := newFixture(&fakeGateway{})

	err := svc.OnNotification(context.Background(), notification(store.order.ID.String(), "pending"))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPending, store.order.Status)
	assert.Equal(t, 0, store.setPaymentCalls)
}

func TestOnNotification_BadSignatureIgnored(t *testing.T) {
	store, svc := newFixture(&fakeGateway{badSignature: true})

	err := svc.OnNotification(context.Background(), notification(store.order.ID.String(), "settlement"))
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPending, store.order.Status)
}

func TestOnNotification_UnknownOrder(t *testing.T) {
	_, svc := newFixture(&fakeGateway{})

	err := svc.OnNotification(context.Background(), notification(uuid.NewString(), "settlement"))
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOnNotification_MalformedRefIgnored(t *testing.T) {
	store, svc := newFixture(&fakeGateway{})

	err := svc.OnNotification(context.Background(), notification("not-a-uuid", "settlement"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, store.order.Status)
}

func TestOnNotification_SuffixedRef(t *testing.T) {
	store, svc := newFixture(&fakeGateway{})

	err := svc.OnNotification(context.Background(), notification(store.order.ID.String()+"-R2", "settlement"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, store.order.Status)
}

func TestRefreshStatus_AppliesGatewayOutcome(t *testing.T) {
	store, svc := newFixture(&fakeGateway{status: "settlement"})

	status, err := svc.RefreshStatus(context.Background(), store.order.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPaid, status)
	assert.Equal(t, domain.OrderPaid, store.order.Status)
	for _, tk := range store.tickets {
		assert.Equal(t, domain.TicketSold, tk.Status)
	}
}

func TestRefreshStatus_NoTransactionYet(t *testing.T) {
	store, svc := newFixture(&fakeGateway{err: midtrans.ErrRejected})

	status, err := svc.RefreshStatus(context.Background(), store.order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, status)
}

func TestRefreshStatus_GatewayDown(t *testing.T) {
	store, svc := newFixture(&fakeGateway{err: midtrans.ErrUnavailable})

	_, err := svc.RefreshStatus(context.Background(), store.order.ID)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, domain.OrderPending, store.order.Status)
}

func TestRefreshStatus_TerminalSkipsGateway(t *testing.T) {
	gw := &fakeGateway{status: "settlement"}
	store, svc := newFixture(gw)
	store.order.Status = domain.OrderPaid

	status, err := svc.RefreshStatus(context.Background(), store.order.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPaid, status)
	assert.Equal(t, 0, gw.queryCalls)
}

func TestRefreshStatus_OrderNotFound(t *testing.T) {
	_, svc := newFixture(&fakeGateway{})

	_, err := svc.RefreshStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
