package service

import (
	"log/slog"

	"github.com/karcis-id/karcis/internal/gateway/midtrans"
	redisx "github.com/karcis-id/karcis/internal/redis"
	postgresrepo "github.com/karcis-id/karcis/internal/repository/postgres"
	redisrepo "github.com/karcis-id/karcis/internal/repository/redis"
	"github.com/karcis-id/karcis/internal/service/orders"
	"github.com/karcis-id/karcis/internal/service/query"
	"github.com/karcis-id/karcis/internal/service/reconcile"
	"github.com/karcis-id/karcis/internal/service/redemption"
)

type Services struct {
	Orders     *orders.Service
	Reconcile  *reconcile.Service
	Redemption *redemption.Service
	Query      *query.Service
}

type Config struct {
	Orders orders.Config
	Query  query.Config
}

func NewServices(
	store *postgresrepo.Store,
	gateway *midtrans.Client,
	cache *redisrepo.Cache,
	pubsub *redisx.OrdersPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	logger *slog.Logger,
	cfg Config,
) *Services {
	return &Services{
		Orders: orders.New(
			store.Tiers(), store.Orders(), store.Tickets(), store.Query(),
			gateway, store, cache, pubsub, limiter, cfg.Orders,
		),
		Reconcile: reconcile.New(
			store.Orders(), store.Tickets(), store.Tiers(),
			gateway, store, cache, pubsub, logger,
		),
		Redemption: redemption.New(store.Tickets()),
		Query:      query.New(store.Query(), cache, cfg.Query),
	}
}
