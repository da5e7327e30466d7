package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSON wraps Redis helpers for JSON payloads. A nil receiver or client turns
// every call into a miss so callers can run without Redis.
type JSON struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewJSON constructs a cache helper whose keys are namespaced by prefix.
func NewJSON(client *redis.Client, prefix string, ttl time.Duration) *JSON {
	return &JSON{client: client, ttl: ttl, prefix: prefix}
}

// Key joins parts into a namespaced cache key.
func (c *JSON) Key(parts ...any) string {
	formatted := make([]string, 0, len(parts)+1)
	if c != nil && c.prefix != "" {
		formatted = append(formatted, c.prefix)
	}
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// Get unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *JSON) Get(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || c.ttl <= 0 || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set serialises v as JSON and stores it with the configured TTL.
func (c *JSON) Set(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || c.ttl <= 0 || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate drops every key under the cache prefix.
func (c *JSON) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil || c.prefix == "" {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
