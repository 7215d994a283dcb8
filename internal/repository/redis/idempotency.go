package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idemNS       = ns + ":idem"
	lockValue    = "LOCK"
	resultPrefix = "RES:"
)

// KeyIdemPurchase scopes a client's Idempotency-Key to the authenticated
// principal so one caller can never replay another's result.
func KeyIdemPurchase(ticketID uint32, principal, idemKey string) string {
	return fmt.Sprintf("%s:purchase:%d:%s:%s", idemNS, ticketID, principal, idemKey)
}

// IdempotencyStore remembers the response of a request keyed by the client's
// Idempotency-Key. A key is first locked while the request runs, then holds
// the saved result until ttl expires.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *IdempotencyStore) AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, lockValue, lockTTL).Result()
}

func (s *IdempotencyStore) SaveResult(ctx context.Context, key string, jsonPayload string) error {
	return s.rdb.Set(ctx, key, resultPrefix+jsonPayload, s.ttl).Err()
}

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

func (s *IdempotencyStore) IsLocked(ctx context.Context, key string) (bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == lockValue, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
