// Package cache provides Redis-backed key/value storage for short-lived data
// such as paramedic positions, and exposes the client for pub/sub fan-out.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDisabled is returned by reads when no Redis URL was configured.
var ErrDisabled = errors.New("cache disabled")

// Cache wraps a Redis client with key prefixing and JSON values.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	enabled   bool
}

// Config holds cache configuration.
type Config struct {
	URL       string
	KeyPrefix string
}

// New connects to Redis. An empty URL yields a disabled cache rather than an error.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "rapidcare"
	}
	if cfg.URL == "" {
		return &Cache{keyPrefix: prefix}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Cache{client: client, keyPrefix: prefix, enabled: true}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsEnabled returns whether a Redis connection is configured.
func (c *Cache) IsEnabled() bool {
	return c.enabled
}

// Client returns the underlying client, or nil when disabled.
func (c *Cache) Client() *redis.Client {
	return c.client
}

// Key joins parts onto the configured prefix with ':'.
func (c *Cache) Key(parts ...string) string {
	key := c.keyPrefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

// Get decodes the JSON value stored at key into dest. A missing key returns
// an error for which IsMiss is true.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.enabled {
		return ErrDisabled
	}
	data, err := c.client.Get(ctx, c.Key(key)).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Set stores value as JSON with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.enabled {
		return ErrDisabled
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(key), data, ttl).Err()
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.enabled || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.Key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

// IsMiss reports whether err means the key does not exist.
func IsMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
