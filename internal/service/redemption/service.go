package redemption

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/karcis-id/karcis/internal/domain"
	"github.com/karcis-id/karcis/internal/metrics"
	"github.com/karcis-id/karcis/internal/repository"
	postgresrepo "github.com/karcis-id/karcis/internal/repository/postgres"
)

type TicketStore interface {
	Redeem(ctx context.Context, db postgresrepo.DB, code string) (*domain.RedeemedTicket, error)
	GetByCode(ctx context.Context, db postgresrepo.DB, code string) (*domain.Ticket, error)
}

// Service consumes ticket codes at the gate. The single-use check is a
// conditional update in the store, so two concurrent scans of the same
// code cannot both succeed.
type Service struct {
	tickets TicketStore
}

func New(tickets TicketStore) *Service {
	return &Service{tickets: tickets}
}

// Redeem marks the ticket consumed and returns the gate-display details.
//
// Returns:
//   - error: redemption.ErrTicketNotFound if the code does not exist.
//   - error: redemption.ErrAlreadyUsed on a replayed code.
//   - error: redemption.ErrNotRedeemable for units whose order never
//     reached PAID.
func (s *Service) Redeem(ctx context.Context, code string) (*domain.RedeemedTicket, error) {
	const op = "service.redemption.Redeem"

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%s:%w", op, ErrTicketNotFound)
	}

	out, err := s.tickets.Redeem(ctx, nil, code)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%s:%w", op, ErrTicketNotFound)
		case errors.Is(err, repository.ErrAlreadyUsed):
			return nil, fmt.Errorf("%s:%w", op, ErrAlreadyUsed)
		case errors.Is(err, repository.ErrNotRedeemable):
			return nil, fmt.Errorf("%s:%w", op, ErrNotRedeemable)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	metrics.TicketsRedeemed.Inc()

	return out, nil
}

// Preview looks a ticket up without consuming it, so gate staff can
// check a code before committing the scan.
//
// Returns:
//   - error: redemption.ErrTicketNotFound if the code does not exist.
func (s *Service) Preview(ctx context.Context, code string) (*domain.Ticket, error) {
	const op = "service.redemption.Preview"

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%s:%w", op, ErrTicketNotFound)
	}

	t, err := s.tickets.GetByCode(ctx, nil, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrTicketNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return t, nil
}
