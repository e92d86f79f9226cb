// Package ratelimit coordinates outbound API request rates globally
// across all worker processes through the broker.
//
// Worker slots run in parallel, and each talks to the product catalog
// independently; a per-process limiter would multiply the effective rate
// by the slot count. The sliding window here lives in a Redis sorted set,
// so the limit holds across every process of the deployment.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "psync:rate_limit:"

// ErrAcquireTimeout is returned when a permit did not free up within the
// caller's wait budget.
var ErrAcquireTimeout = errors.New("rate limit acquire timed out")

// Limiter is a sliding-window rate limiter over a Redis sorted set.
type Limiter struct {
	client      *redis.Client
	maxRequests int
	window      time.Duration
	retrySleep  time.Duration
	logger      *slog.Logger
}

// New creates a limiter allowing maxRequests per window, shared by every
// process using the same broker.
func New(client *redis.Client, maxRequests int, window time.Duration, logger *slog.Logger) *Limiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		client:      client,
		maxRequests: maxRequests,
		window:      window,
		retrySleep:  50 * time.Millisecond,
		logger:      logger.With("component", "rate_limiter"),
	}
}

// Acquire blocks until a permit for identifier is available or the wait
// budget runs out. Pass wait <= 0 for a single non-blocking attempt.
func (l *Limiter) Acquire(ctx context.Context, identifier string, wait time.Duration) error {
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.TryAcquire(ctx, identifier)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return fmt.Errorf("%w: %s (%d req / %s)", ErrAcquireTimeout, identifier, l.maxRequests, l.window)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retrySleep):
		}
	}
}

// TryAcquire attempts one permit without blocking. The window is pruned
// and counted in a transaction; the permit is recorded only if the count
// is below the limit.
func (l *Limiter) TryAcquire(ctx context.Context, identifier string) (bool, error) {
	key := keyPrefix + identifier
	now := time.Now()
	windowStart := now.Add(-l.window)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMicro()))
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit window check failed: %w", err)
	}

	if count.Val() >= int64(l.maxRequests) {
		return false, nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixMicro(), uuid.NewString()[:8])
	record := l.client.TxPipeline()
	record.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixMicro()), Member: member})
	record.Expire(ctx, key, l.window*2)
	if _, err := record.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit permit record failed: %w", err)
	}
	return true, nil
}

// InWindow reports how many permits are currently counted against
// identifier, for diagnostics.
func (l *Limiter) InWindow(ctx context.Context, identifier string) (int64, error) {
	key := keyPrefix + identifier
	windowStart := time.Now().Add(-l.window)
	if err := l.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMicro())).Err(); err != nil {
		return 0, err
	}
	return l.client.ZCard(ctx, key).Result()
}
