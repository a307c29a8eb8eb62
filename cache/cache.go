// Package cache provides the optional Redis layer: cache-aside storage for
// hot analytics payloads plus the shared client the signature verifier's
// nonce store runs on. A nil *Client disables caching without branching at
// call sites.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"lukechampine.com/blake3"
)

var (
	// ErrNotFound indicates the key does not exist or caching is disabled.
	ErrNotFound = errors.New("cache: key not found")
)

const (
	defaultTTL = time.Minute
	maxTTL     = time.Hour

	// Keys longer than this are replaced by a fixed-width digest so
	// user-supplied parts cannot produce unbounded Redis keys.
	maxKeyLen = 128
)

// Options configures a Client.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// Client wraps Redis with JSON cache-aside helpers.
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects a cache client. An empty address returns nil, which every
// method treats as "caching disabled".
func New(opts Options) *Client {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl > maxTTL {
		ttl = maxTTL
	}
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		prefix: strings.TrimSpace(opts.Prefix),
		ttl:    ttl,
	}
}

// Redis exposes the underlying connection so the auth nonce store can share
// it instead of dialing twice.
func (c *Client) Redis() *redis.Client {
	if c == nil {
		return nil
	}
	return c.rdb
}

// TTL reports the configured default entry lifetime.
func (c *Client) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

func (c *Client) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// GetJSON loads and decodes a cached payload. Missing keys and disabled
// caching both report ErrNotFound.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) error {
	if c == nil {
		return ErrNotFound
	}
	data, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON stores a payload under the key. ttl <= 0 selects the configured
// default.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.rdb.Set(ctx, c.key(key), data, ttl).Err()
}

// Delete drops the given keys. Used to invalidate analytics entries when a
// play lands.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.rdb.Del(ctx, full...).Err()
}

// Ping reports Redis reachability for health checks.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// Key joins parts into a cache key, replacing oversized results with a
// fixed-width BLAKE3 digest.
func Key(parts ...string) string {
	joined := strings.Join(parts, ":")
	if len(joined) <= maxKeyLen {
		return joined
	}
	sum := blake3.Sum256([]byte(joined))
	return "k:" + hex.EncodeToString(sum[:])
}
