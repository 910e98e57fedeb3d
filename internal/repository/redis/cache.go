package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheNS = "karcis:v1"

func KeyTierAvailability(tierID int64) string {
	return fmt.Sprintf("%s:tier:%d:availability", cacheNS, tierID)
}

func KeyEventSummary(eventID int64) string {
	return fmt.Sprintf("%s:event:%d:summary", cacheNS, eventID)
}

func KeyOrderSummary(orderID string) string {
	return fmt.Sprintf("%s:order:%s:summary", cacheNS, orderID)
}

// Cache is a read-through JSON cache for the hot read paths (event
// summaries and tier availability). Loads are deduplicated with
// singleflight so a cold key under load hits Postgres once.
type Cache struct {
	rdb *redis.Client
	sf  singleflight.Group
}

func New(client *redis.Client) *Cache {
	return &Cache{rdb: client}
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// InvalidateTier drops the availability counters after a reservation or
// release commits.
func (c *Cache) InvalidateTier(ctx context.Context, tierID int64) error {
	return c.Del(ctx, KeyTierAvailability(tierID))
}

// InvalidateOrder drops the cached order summary after a status change.
func (c *Cache) InvalidateOrder(ctx context.Context, orderID string) error {
	return c.Del(ctx, KeyOrderSummary(orderID))
}

// GetOrSetJSON returns the cached value at key, loading and storing it
// on a miss. Concurrent misses on the same key share one loader call.
func GetOrSetJSON[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	if b, ok, err := c.get(ctx, key); err != nil {
		return zero, err
	} else if ok {
		var out T
		if err := json.Unmarshal(b, &out); err == nil {
			return out, nil
		}
		// A corrupt entry falls through to the loader and gets rewritten.
	}

	vAny, err, _ := c.sf.Do(key, func() (any, error) {
		if b, ok, err := c.get(ctx, key); err == nil && ok {
			var out T
			if err := json.Unmarshal(b, &out); err == nil {
				return out, nil
			}
		}

		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}

		if b, err := json.Marshal(v); err == nil {
			_ = c.rdb.Set(ctx, key, b, ttl).Err()
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}

	v, ok := vAny.(T)
	if !ok {
		return zero, errors.New("cache: unexpected value type")
	}
	return v, nil
}
