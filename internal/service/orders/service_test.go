package orders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
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

// fakeTx satisfies postgresrepo.DB as an opaque transaction marker. The
// fake store never executes SQL, so every method panics if reached.
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

type fakeState struct {
	events   map[int64]domain.Event
	tiers    map[int64]domain.TicketTier
	orders   map[uuid.UUID]domain.Order
	payments map[uuid.UUID]domain.Payment // keyed by order ID
	invoices map[uuid.UUID]domain.Invoice // keyed by payment ID
	tickets  map[string]domain.Ticket     // keyed by redemption code
}

func (s fakeState) clone() fakeState {
	out := fakeState{
		events:   make(map[int64]domain.Event, len(s.events)),
		tiers:    make(map[int64]domain.TicketTier, len(s.tiers)),
		orders:   make(map[uuid.UUID]domain.Order, len(s.orders)),
		payments: make(map[uuid.UUID]domain.Payment, len(s.payments)),
		invoices: make(map[uuid.UUID]domain.Invoice, len(s.invoices)),
		tickets:  make(map[string]domain.Ticket, len(s.tickets)),
	}
	for k, v := range s.events {
		out.events[k] = v
	}
	for k, v := range s.tiers {
		out.tiers[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.tickets {
		out.tickets[k] = v
	}
	return out
}

// fakeStore backs every store interface of this package with in-memory
// maps. RunTx serializes transactions under one mutex and restores a
// snapshot on error, which mirrors the rollback the real store does.
type fakeStore struct {
	mu    sync.Mutex
	state fakeState

	failNextBatch bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: fakeState{
		events:   make(map[int64]domain.Event),
		tiers:    make(map[int64]domain.TicketTier),
		orders:   make(map[uuid.UUID]domain.Order),
		payments: make(map[uuid.UUID]domain.Payment),
		invoices: make(map[uuid.UUID]domain.Invoice),
		tickets:  make(map[string]domain.Ticket),
	}}
}

func (s *fakeStore) RunTx(
	ctx context.Context,
	_ *pgx.TxOptions,
	fn func(ctx context.Context, tx postgresrepo.DB) error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, fakeTx{}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// lockDirect locks only for calls made outside a transaction, where no
// RunTx already holds the mutex.
func (s *fakeStore) lockDirect(db postgresrepo.DB) func() {
	if db != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *fakeStore) GetEvent(_ context.Context, db postgresrepo.DB, id int64) (*domain.Event, error) {
	defer s.lockDirect(db)()
	e, ok := s.state.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (s *fakeStore) Get(_ context.Context, db postgresrepo.DB, tierID int64) (*domain.TicketTier, error) {
	defer s.lockDirect(db)()
	t, ok := s.state.tiers[tierID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (s *fakeStore) Reserve(_ context.Context, db postgresrepo.DB, tierID int64, qty int) error {
	defer s.lockDirect(db)()
	t, ok := s.state.tiers[tierID]
	if !ok {
		return repository.ErrNotFound
	}
	if t.Remaining < qty {
		return repository.ErrInsufficientInventory
	}
	t.Remaining -= qty
	s.state.tiers[tierID] = t
	return nil
}

func (s *fakeStore) Insert(_ context.Context, db postgresrepo.DB, o *domain.Order) error {
	defer s.lockDirect(db)()
	s.state.orders[o.ID] = *o
	return nil
}

func (s *fakeStore) InsertPayment(_ context.Context, db postgresrepo.DB, p *domain.Payment) error {
	defer s.lockDirect(db)()
	s.state.payments[p.OrderID] = *p
	return nil
}

func (s *fakeStore) InsertInvoice(_ context.Context, db postgresrepo.DB, inv *domain.Invoice) error {
	defer s.lockDirect(db)()
	s.state.invoices[inv.PaymentID] = *inv
	return nil
}

func (s *fakeStore) GetOrder(_ context.Context, db postgresrepo.DB, id uuid.UUID) (*domain.Order, error) {
	defer s.lockDirect(db)()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

func (s *fakeStore) InsertBatch(_ context.Context, db postgresrepo.DB, tickets []domain.Ticket) error {
	defer s.lockDirect(db)()
	if s.failNextBatch {
		s.failNextBatch = false
		return repository.ErrConflict
	}
	for _, t := range tickets {
		if _, dup := s.state.tickets[t.Code]; dup {
			return repository.ErrConflict
		}
		s.state.tickets[t.Code] = t
	}
	return nil
}

// orderStore adapts fakeStore to the OrderStore interface, whose Get
// retrieves orders while the tier store's Get retrieves tiers.
type orderStore struct{ *fakeStore }

func (s orderStore) Get(ctx context.Context, db postgresrepo.DB, id uuid.UUID) (*domain.Order, error) {
	return s.GetOrder(ctx, db, id)
}

type fakeGateway struct {
	mu   sync.Mutex
	refs []string

	err       error
	rejectRef string // CreateSession fails with ErrDuplicateOrder for this ref
	stall     bool   // CreateSession hangs until the caller's context expires
}

func (g *fakeGateway) CreateSession(ctx context.Context, req midtrans.SessionRequest) (*domain.PaymentSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refs = append(g.refs, req.OrderRef)
	if g.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	if g.rejectRef != "" && req.OrderRef == g.rejectRef {
		return nil, midtrans.ErrDuplicateOrder
	}
	return &domain.PaymentSession{Token: "tok-" + req.OrderRef, RedirectURL: "https://pay.example/" + req.OrderRef}, nil
}

func newService(store *fakeStore, gw *fakeGateway) *Service {
	return New(store, orderStore{store}, store, store, gw, store, nil, nil, nil, Config{})
}

func seed(store *fakeStore, remaining int) {
	store.state.events[1] = domain.Event{ID: 1, Title: "Java Jazz", Venue: "JIExpo"}
	store.state.tiers[1] = domain.TicketTier{
		ID: 1, EventID: 1, Name: "Festival", PriceCents: 250_000_00,
		Remaining: remaining, Total: remaining,
	}
}

func params(qty int) CreateOrderParams {
	return CreateOrderParams{
		UserID:     7,
		EventID:    1,
		TierID:     1,
		Quantity:   qty,
		TotalCents: 250_000_00 * int64(qty),
		Buyer:      domain.BuyerInfo{Name: "Ayu", Email: "ayu@example.com", Phone: "+62812000"},
		Method:     "qris",
	}
}

func TestCreateOrder_Success(t *testing.T) {
	store := newFakeStore()
	seed(store, 10)
	svc := newService(store, &fakeGateway{})

	out, err := svc.CreateOrder(context.Background(), params(2), "")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPending, out.Order.Status)
	assert.Equal(t, int64(500_000_00), out.Order.TotalCents)
	require.Len(t, out.Tickets, 2)
	for _, tk := range out.Tickets {
		assert.True(t, strings.HasPrefix(tk.Code, "KRC-"))
		assert.Equal(t, domain.TicketAvailable, tk.Status)
		assert.False(t, tk.Used)
	}
	assert.Equal(t, domain.PaymentPending, out.Payment.Status)
	assert.Equal(t, out.Order.TotalCents, out.Payment.AmountCents)
	assert.True(t, strings.HasPrefix(out.Invoice.Number, "INV/"))
	assert.NotEmpty(t, out.Session.Token)

	assert.Equal(t, 8, store.state.tiers[1].Remaining)
	assert.Len(t, store.state.orders, 1)
	assert.Len(t, store.state.tickets, 2)
}

func TestCreateOrder_Validation(t *testing.T) {
	svc := newService(newFakeStore(), &fakeGateway{})

	p := params(1)
	p.Quantity = 0
	_, err := svc.CreateOrder(context.Background(), p, "")
	assert.ErrorIs(t, err, ErrValidation)

	p = params(1)
	p.Buyer.Email = "not-an-email"
	_, err = svc.CreateOrder(context.Background(), p, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateOrder_TotalMismatch(t *testing.T) {
	store := newFakeStore()
	seed(store, 10)
	svc := newService(store, &fakeGateway{})

	p := params(2)
	p.TotalCents = 1
	_, err := svc.CreateOrder(context.Background(), p, "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 10, store.state.tiers[1].Remaining)
}

func TestCreateOrder_EventNotFound(t *testing.T) {
	store := newFakeStore()
	seed(store, 10)
	svc := newService(store, &fakeGateway{})

	p := params(1)
	p.EventID = 99
	_, err := svc.CreateOrder(context.Background(), p, "")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestCreateOrder_TierBelongsToOtherEvent(t *testing.T) {
	store := newFakeStore()
	seed(store, 10)
	store.state.events[2] = domain.Event{ID: 2, Title: "Other"}
	svc := newService(store, &fakeGateway{})

	p := params(1)
	p.EventID = 2
	_, err := svc.CreateOrder(context.Background(), p, "")
	assert.ErrorIs(t, err, ErrTierNotFound)
}

func TestCreateOrder_InsufficientInventory(t *testing.T) {
	store := newFakeStore()
	seed(store, 1)
	svc := newService(store, &fakeGateway{})

	_, err := svc.CreateOrder(context.Background(), params(2), "")
	assert.ErrorIs(t, err, ErrInsufficientInventory)
	assert.Equal(t, 1, store.state.tiers[1].Remaining)
	assert.Empty(t, store.state.orders)
}

func TestCreateOrder_GatewayFailureRollsBack(t *testing.T) {
	store := newFakeStore()
	seed(store, 10)
	svc := newService(store, &fakeGateway{err: midtrans.ErrUnavailable})

	_, err := svc.CreateOrder(context.Background(), params(2), "")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)

	// Gateway failed after the reservation, yet nothing survives.
	assert.Equal(t, 10, store.state.tiers[1].Remaining)
	assert.Empty(t, store.state.orders)
	assert.Empty(t, store.state.tickets)
	assert.Empty(t, store.state.payments)
	assert.Empty(t, store.state.invoices)
}

func TestCreateOrder_CheckoutTimeout(t *testing.T) {
	store := newFakeStore()
	seed(store, 10)
	gw := &fakeGateway{stall: true}
	svc := New(store, orderStore{store}, store, store, gw, store, nil, nil, nil,
		Config{CheckoutTimeout: 50 * time.Millisecond})

	_, err := svc.CreateOrder(context.Background(), params(2), "")
	assert.ErrorIs(t, err, ErrCheckoutTimeout)

	// The deadline hit mid-transaction, so the reservation rolled back.
	assert.Equal(t, 10, store.state.tiers[1].Remaining)
	assert.Empty(t, store.state.orders)
	assert.Empty(t, store.state.tickets)
	assert.Empty(t, store.state.payments)
	assert.Empty(t, store.state.invoices)
}

func TestCreateOrder_CodeCollisionRetries(t *testing.T) {
	store := newFakeStore()
	seed(store, 10)
	store.failNextBatch = true
	svc := newService(store, &fakeGateway{})

	out, err := svc.CreateOrder(context.Background(), params(1), "")
	require.NoError(t, err)

	assert.Len(t, store.state.orders, 1)
	assert.Len(t, store.state.tickets, 1)
	assert.Equal(t, 9, store.state.tiers[1].Remaining)
	assert.NotEmpty(t, out.Session.Token)
}

func TestCreateOrder_ConcurrentConservation(t *testing.T) {
	const stock = 5
	const buyers = 20

	store := newFakeStore()
	seed(store, stock)
	svc := newService(store, &fakeGateway{})

	var success, sellout atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(context.Background(), params(1), "")
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, ErrInsufficientInventory):
				sellout.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(stock), success.Load())
	assert.Equal(t, int32(buyers-stock), sellout.Load())
	assert.Equal(t, 0, store.state.tiers[1].Remaining)
	assert.Len(t, store.state.tickets, stock)
}

func TestCreateOrder_LastTicketSingleWinner(t *testing.T) {
	store := newFakeStore()
	seed(store, 1)
	svc := newService(store, &fakeGateway{})

	var success atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CreateOrder(context.Background(), params(1), ""); err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, 0, store.state.tiers[1].Remaining)
}

func TestContinuePayment_RegeneratesWithSuffixedRef(t *testing.T) {
	store := newFakeStore()
	seed(store, 10)
	gw := &fakeGateway{}
	svc := newService(store, gw)

	out, err := svc.CreateOrder(context.Background(), params(1), "")
	require.NoError(t, err)

	// The provider still holds the original session for this order id.
	gw.rejectRef = out.Order.ID.String()

	session, err := svc.ContinuePayment(context.Background(), out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-"+out.Order.ID.String()+"-R1", session.Token)

	refs := gw.refs[len(gw.refs)-2:]
	assert.Equal(t, out.Order.ID.String(), refs[0])
	assert.Equal(t, out.Order.ID.String()+"-R1", refs[1])
}

func TestContinuePayment_OrderNotFound(t *testing.T) {
	svc := newService(newFakeStore(), &fakeGateway{})

	_, err := svc.ContinuePayment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestContinuePayment_OrderNotPending(t *testing.T) {
	store := newFakeStore()
	seed(store, 10)
	svc := newService(store, &fakeGateway{})

	out, err := svc.CreateOrder(context.Background(), params(1), "")
	require.NoError(t, err)

	o := store.state.orders[out.Order.ID]
	o.Status = domain.OrderPaid
	store.state.orders[out.Order.ID] = o

	_, err = svc.ContinuePayment(context.Background(), out.Order.ID)
	assert.ErrorIs(t, err, ErrOrderNotPending)
}
