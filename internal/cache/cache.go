// Package cache provides the shared two-tier cache: a small in-process
// tier for hot entries and a Redis tier shared between processes.
//
// When the broker is unreachable the Redis tier degrades gracefully: the
// cache keeps serving from memory and records the miss, it never fails a
// lookup because Redis is down.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "psync:cache:"

// Stats are the cache hit/miss counters since process start.
type Stats struct {
	MemoryHits  int64 `json:"memory_hits"`
	RedisHits   int64 `json:"redis_hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	MemoryItems int   `json:"memory_items"`
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is the two-tier cache. A nil Redis client disables the shared
// tier entirely (memory-only operation).
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	memTTL time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	mem   map[string]memEntry
	stats Stats
}

// New creates a cache with the given shared and in-process TTLs.
func New(client *redis.Client, ttl, memTTL time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if memTTL <= 0 {
		memTTL = 5 * time.Minute
	}
	return &Cache{
		client: client,
		ttl:    ttl,
		memTTL: memTTL,
		logger: logger.With("component", "cache"),
		mem:    make(map[string]memEntry),
	}
}

// Get looks up key, memory tier first. On a hit the value is unmarshalled
// into dest and true is returned.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.mem[key]; ok && now.Before(e.expiresAt) {
		c.stats.MemoryHits++
		data := e.data
		c.mu.Unlock()
		return true, json.Unmarshal(data, dest)
	}
	c.mu.Unlock()

	if c.client != nil {
		raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
		switch {
		case err == nil:
			c.mu.Lock()
			c.stats.RedisHits++
			c.mem[key] = memEntry{data: raw, expiresAt: now.Add(c.memTTL)}
			c.mu.Unlock()
			return true, json.Unmarshal(raw, dest)
		case !errors.Is(err, redis.Nil):
			// Redis down or unhappy: degrade to memory-only, count a miss.
			c.logger.Warn("shared cache tier unavailable", "error", err)
		}
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	return false, nil
}

// Set stores value in both tiers.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	c.mu.Lock()
	c.stats.Sets++
	c.mem[key] = memEntry{data: raw, expiresAt: time.Now().Add(c.memTTL)}
	c.mu.Unlock()

	if c.client != nil {
		if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("failed to write shared cache tier", "key", key, "error", err)
		}
	}
	return nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()

	if c.client != nil {
		if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
			c.logger.Warn("failed to delete from shared cache tier", "key", key, "error", err)
		}
	}
}

// Clear empties the memory tier and removes every shared-tier entry under
// the cache prefix. Returns the number of shared entries removed.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	c.mu.Lock()
	c.mem = make(map[string]memEntry)
	c.mu.Unlock()

	if c.client == nil {
		return 0, nil
	}

	var removed int64
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("failed to clear cache key %s: %w", iter.Val(), err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("cache clear scan failed: %w", err)
	}
	return removed, nil
}

// CleanupExpired prunes expired memory entries. The shared tier expires
// entries itself via TTL. Returns the number pruned.
func (c *Cache) CleanupExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for key, e := range c.mem {
		if now.After(e.expiresAt) {
			delete(c.mem, key)
			pruned++
		}
	}
	return pruned
}

// Snapshot returns the current counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.MemoryItems = len(c.mem)
	return s
}
