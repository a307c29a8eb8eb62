package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisNoncePrefix = "mycelix:nonce:"

// RedisNonceStore reserves nonces in Redis with SET NX PX so replay
// protection holds across API replicas. Errors surface to the caller;
// the verifier fails closed rather than skipping the check.
type RedisNonceStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisNonceStore wraps an existing client. A zero TTL selects the
// default window.
func NewRedisNonceStore(client *redis.Client, ttl time.Duration, prefix string) *RedisNonceStore {
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	if ttl > maxNonceTTL {
		ttl = maxNonceTTL
	}
	if prefix == "" {
		prefix = defaultRedisNoncePrefix
	}
	return &RedisNonceStore{client: client, ttl: ttl, prefix: prefix}
}

// Reserve performs the atomic check-and-set. SET NX only succeeds for the
// first caller; the PX expiry retires the key after the TTL window.
func (s *RedisNonceStore) Reserve(ctx context.Context, address, nonce string, _ time.Time) (bool, error) {
	key := s.prefix + nonceKey(address, nonce)
	ok, err := s.client.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve nonce: %w", err)
	}
	return ok, nil
}
