package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const idemNS = "karcis:v1:idem"

// lockMarker occupies the key while the first request is in flight;
// the prefix distinguishes it from a stored response.
const (
	lockMarker   = "LOCK"
	resultPrefix = "RES:"
)

func KeyIdemOrder(userID int64, idemKey string) string {
	return fmt.Sprintf("%s:orders:%d:%s", idemNS, userID, idemKey)
}

// IdempotencyStore remembers the response of a completed checkout so a
// network-level retry of the same Idempotency-Key replays it instead of
// placing a second order.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

// AcquireLock claims the key for the duration of one checkout attempt.
// It fails when another request already holds the key, locked or done.
func (s *IdempotencyStore) AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, lockMarker, lockTTL).Result()
}

// SaveResult replaces the lock with the serialized response.
func (s *IdempotencyStore) SaveResult(ctx context.Context, key, jsonPayload string) error {
	return s.rdb.Set(ctx, key, resultPrefix+jsonPayload, s.ttl).Err()
}

// GetResult returns the stored response, if the original request has
// finished. A key still in the lock state reports no result.
func (s *IdempotencyStore) GetResult(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if payload, ok := strings.CutPrefix(v, resultPrefix); ok {
		return payload, true, nil
	}
	return "", false, nil
}

// Release frees the key after a failed attempt so the client's retry can
// run the checkout again.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
