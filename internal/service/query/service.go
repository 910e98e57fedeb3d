package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/karcis-id/karcis/internal/domain"
	"github.com/karcis-id/karcis/internal/repository"
	postgresrepo "github.com/karcis-id/karcis/internal/repository/postgres"
	redisrepo "github.com/karcis-id/karcis/internal/repository/redis"
)

type Store interface {
	GetEvent(ctx context.Context, db postgresrepo.DB, id int64) (*domain.Event, error)
	TierAvailability(ctx context.Context, db postgresrepo.DB, tierID int64) (*domain.TierAvailability, error)
	GetOrderWithTickets(ctx context.Context, db postgresrepo.DB, orderID uuid.UUID) (*domain.OrderWithTickets, error)
}

type Config struct {
	EventSummaryTTL time.Duration
	AvailabilityTTL time.Duration
}

type Service struct {
	store Store
	cache *redisrepo.Cache
	cfg   Config
}

func New(store Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 5 * time.Second
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// GetEvent retrieves an event summary through the cache.
//
// Returns:
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.query.GetEvent"

	load := func(ctx context.Context) (domain.Event, error) {
		e, err := s.store.GetEvent(ctx, nil, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.Event{}, ErrEventNotFound
			}
			return domain.Event{}, err
		}
		return *e, nil
	}

	var event domain.Event
	var err error
	if s.cache != nil {
		event, err = redisrepo.GetOrSetJSON(
			ctx, s.cache, redisrepo.KeyEventSummary(id), s.cfg.EventSummaryTTL, load,
		)
	} else {
		event, err = load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &event, nil
}

// TierAvailability retrieves the remaining/total counters of a tier.
// The TTL is short because these counters move under load.
//
// Returns:
//   - error: query.ErrTierNotFound if the tier is not found.
func (s *Service) TierAvailability(ctx context.Context, tierID int64) (*domain.TierAvailability, error) {
	const op = "service.query.TierAvailability"

	load := func(ctx context.Context) (domain.TierAvailability, error) {
		a, err := s.store.TierAvailability(ctx, nil, tierID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.TierAvailability{}, ErrTierNotFound
			}
			return domain.TierAvailability{}, err
		}
		return *a, nil
	}

	var avail domain.TierAvailability
	var err error
	if s.cache != nil {
		avail, err = redisrepo.GetOrSetJSON(
			ctx, s.cache, redisrepo.KeyTierAvailability(tierID), s.cfg.AvailabilityTTL, load,
		)
	} else {
		avail, err = load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &avail, nil
}

// GetOrderWithTickets retrieves an order with its payment and tickets.
// Not cached: buyers poll this page around payment time and must see
// fresh state.
//
// Returns:
//   - error: query.ErrOrderNotFound if the order is not found.
func (s *Service) GetOrderWithTickets(ctx context.Context, orderID uuid.UUID) (*domain.OrderWithTickets, error) {
	const op = "service.query.GetOrderWithTickets"

	o, err := s.store.GetOrderWithTickets(ctx, nil, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return o, nil
}
