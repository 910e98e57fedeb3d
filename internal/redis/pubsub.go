package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// OrdersPubSub fans out order state changes so read replicas and
// availability caches can refresh without polling.
type OrdersPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewOrdersPubSub(rdb *redis.Client) *OrdersPubSub {
	return &OrdersPubSub{
		rdb:     rdb,
		channel: ChannelOrdersChanged(),
	}
}

type orderChangedMsg struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	TsUnix  int64  `json:"ts_unix"`
}

func (p *OrdersPubSub) PublishOrderChanged(ctx context.Context, orderID, status string) error {
	msg := orderChangedMsg{
		Type:    "order_changed",
		OrderID: orderID,
		Status:  status,
		TsUnix:  time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *OrdersPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, orderID, status string)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev orderChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.OrderID != "" {
				handler(ctx, ev.OrderID, ev.Status)
			}
		}
	}
}
