package redemption

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karcis-id/karcis/internal/domain"
	"github.com/karcis-id/karcis/internal/repository"
	postgresrepo "github.com/karcis-id/karcis/internal/repository/postgres"
)

type fakeTicket struct {
	status domain.TicketStatus
	used   bool
}

// fakeTicketStore mirrors the single-statement check-and-flip of the
// real store: the used check and its mutation happen under one lock.
type fakeTicketStore struct {
	mu      sync.Mutex
	tickets map[string]*fakeTicket
}

func (s *fakeTicketStore) Redeem(_ context.Context, _ postgresrepo.DB, code string) (*domain.RedeemedTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tk, ok := s.tickets[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if tk.used {
		return nil, repository.ErrAlreadyUsed
	}
	if tk.status != domain.TicketSold {
		return nil, repository.ErrNotRedeemable
	}

	tk.used = true
	tk.status = domain.TicketCheckedIn

	return &domain.RedeemedTicket{
		Code:        code,
		EventTitle:  "Java Jazz",
		Venue:       "JIExpo",
		TierName:    "Festival",
		BuyerName:   "Ayu",
		BuyerEmail:  "ayu@example.com",
		PurchasedAt: time.Now(),
	}, nil
}

func (s *fakeTicketStore) GetByCode(_ context.Context, _ postgresrepo.DB, code string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tk, ok := s.tickets[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &domain.Ticket{Code: code, Status: tk.status, Used: tk.used}, nil
}

func newStore() *fakeTicketStore {
	return &fakeTicketStore{tickets: map[string]*fakeTicket{
		"KRC-SOLD":      {status: domain.TicketSold},
		"KRC-USED":      {status: domain.TicketCheckedIn, used: true},
		"KRC-UNPAID":    {status: domain.TicketAvailable},
		"KRC-CANCELLED": {status: domain.TicketCancelled},
	}}
}

func TestRedeem_Success(t *testing.T) {
	store := newStore()
	svc := New(store)

	out, err := svc.Redeem(context.Background(), "KRC-SOLD")
	require.NoError(t, err)

	assert.Equal(t, "KRC-SOLD", out.Code)
	assert.Equal(t, "Java Jazz", out.EventTitle)
	assert.True(t, store.tickets["KRC-SOLD"].used)
	assert.Equal(t, domain.TicketCheckedIn, store.tickets["KRC-SOLD"].status)
}

func TestRedeem_TrimsWhitespace(t *testing.T) {
	svc := New(newStore())

	_, err := svc.Redeem(context.Background(), "  KRC-SOLD\n")
	assert.NoError(t, err)
}

func TestRedeem_UnknownCode(t *testing.T) {
	svc := New(newStore())

	_, err := svc.Redeem(context.Background(), "KRC-NOPE")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestRedeem_EmptyCode(t *testing.T) {
	svc := New(newStore())

	_, err := svc.Redeem(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestRedeem_Replay(t *testing.T) {
	svc := New(newStore())

	_, err := svc.Redeem(context.Background(), "KRC-USED")
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestRedeem_UnpaidTicket(t *testing.T) {
	svc := New(newStore())

	_, err := svc.Redeem(context.Background(), "KRC-UNPAID")
	assert.ErrorIs(t, err, ErrNotRedeemable)
}

func TestRedeem_CancelledTicket(t *testing.T) {
	svc := New(newStore())

	_, err := svc.Redeem(context.Background(), "KRC-CANCELLED")
	assert.ErrorIs(t, err, ErrNotRedeemable)
}

func TestPreview_DoesNotConsume(t *testing.T) {
	store := newStore()
	svc := New(store)

	tk, err := svc.Preview(context.Background(), " KRC-SOLD ")
	require.NoError(t, err)

	assert.Equal(t, "KRC-SOLD", tk.Code)
	assert.Equal(t, domain.TicketSold, tk.Status)
	assert.False(t, tk.Used)

	// The scan is still available after any number of previews.
	assert.False(t, store.tickets["KRC-SOLD"].used)
	_, err = svc.Redeem(context.Background(), "KRC-SOLD")
	assert.NoError(t, err)
}

func TestPreview_UsedTicket(t *testing.T) {
	svc := New(newStore())

	tk, err := svc.Preview(context.Background(), "KRC-USED")
	require.NoError(t, err)
	assert.True(t, tk.Used)
	assert.Equal(t, domain.TicketCheckedIn, tk.Status)
}

func TestPreview_UnknownCode(t *testing.T) {
	svc := New(newStore())

	_, err := svc.Preview(context.Background(), "KRC-NOPE")
	assert.ErrorIs(t, err, ErrTicketNotFound)

	_, err = svc.Preview(context.Background(), "")
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestRedeem_ConcurrentSingleWinner(t *testing.T) {
	const scanners = 50

	svc := New(newStore())

	var success, replayed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(context.Background(), "KRC-SOLD")
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, ErrAlreadyUsed):
				replayed.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(scanners-1), replayed.Load())
}
