// Package cache implements the optional key-value response cache described
// in spec.md §6: get/put/list/delete with per-key TTL, last-writer-wins.
// Grounded on the teacher's redis.Client wrapper
// (CRun0.9/src/infrastructure/cache/redis_cache.go), standardized on the v9
// client per SPEC_FULL.md's dropped-dependency note.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Get when the key does not exist or expired.
var ErrNotFound = errors.New("cache: key not found")

// Cache wraps a redis client with the get/put/list/delete contract §6
// requires of the key-value cache. It holds no in-process locks: redis
// itself is the single shared mutable resource, last-writer-wins with TTL.
type Cache struct {
	client *redis.Client
}

// New builds a cache client against addr/db.
func New(addr string, db int) *Cache {
	return &Cache{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// NewWithClient wraps an already-constructed redis client, letting callers
// outside this package (query service tests in particular) inject a
// redismock client instead of dialing a real server.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Ping verifies connectivity, used by the service's startup health check.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get deserializes the JSON-encoded value stored at key into dst.
func (c *Cache) Get(ctx context.Context, key string, dst interface{}) error {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("cache decode %s: %w", key, err)
	}
	return nil
}

// Put JSON-encodes value and stores it at key with the given TTL. A zero TTL
// means "no expiry"; per-endpoint TTLs are configuration, not contract (§6).
func (c *Cache) Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// List returns every key matching prefix+"*". Intended for small,
// operator-facing prefixes (e.g. listing cached query results for one
// symbol); it is not a substitute for a real index.
func (c *Cache) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache list %s*: %w", prefix, err)
	}
	return keys, nil
}

// Delete removes key. Deleting a nonexistent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
