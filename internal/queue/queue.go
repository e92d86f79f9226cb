package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrNotDeadLettered indicates a requested entry is not on the dead-letter
// list (already replayed, expired out, or never existed).
var ErrNotDeadLettered = errors.New("entry not found on dead-letter list")

// Queue provides broker operations over a Redis client. All coordination
// between worker slots (claim, ack, nack, retry count) goes through it; no
// other state is shared between slots.
type Queue struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Queue on the given client.
func New(client *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{
		client: client,
		logger: logger.With("component", "queue"),
	}
}

// Ping probes the broker with a liveness round trip.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broker ping failed: %w", err)
	}
	return nil
}

// Claimed is one delivery attempt: the decoded entry plus the raw payload
// needed to remove it from the consumer's processing list.
type Claimed struct {
	Entry    *Entry
	raw      string
	consumer string
}

// Enqueue makes an entry available to workers. Entries with a future ETA
// go to the delayed set and reach the ready list only once promoted.
func (q *Queue) Enqueue(ctx context.Context, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if !e.Eligible(time.Now()) {
		err = q.client.ZAdd(ctx, keyDelayed, &redis.Z{
			Score:  float64(e.ETA.UnixMilli()),
			Member: string(raw),
		}).Err()
	} else {
		err = q.client.LPush(ctx, keyReady, string(raw)).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", e.Name, err)
	}

	q.logger.Debug("entry enqueued",
		"entry_id", e.ID,
		"task", e.Name,
		"retry_count", e.RetryCount,
		"deferred", !e.Eligible(time.Now()))
	return nil
}

// Claim blocks up to timeout for the next ready entry and moves it onto
// the consumer's processing list in one broker round trip. Returns
// (nil, nil) when the timeout elapses with nothing to claim.
func (q *Queue) Claim(ctx context.Context, consumer string, timeout time.Duration) (*Claimed, error) {
	raw, err := q.client.BRPopLPush(ctx, keyReady, processingKey(consumer), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		// Undecodable payloads cannot be executed or retried; drop them
		// from the processing list and surface the problem.
		_ = q.client.LRem(ctx, processingKey(consumer), 1, raw).Err()
		return nil, fmt.Errorf("failed to decode claimed entry: %w", err)
	}

	return &Claimed{Entry: &e, raw: raw, consumer: consumer}, nil
}

// Ack removes a completed delivery from the processing list.
func (q *Queue) Ack(ctx context.Context, c *Claimed) error {
	if err := q.client.LRem(ctx, processingKey(c.consumer), 1, c.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack entry %s: %w", c.Entry.ID, err)
	}
	return nil
}

// Requeue reschedules a failed delivery: the retry count is incremented
// and the entry re-enters through the delayed set with the given ETA.
func (q *Queue) Requeue(ctx context.Context, c *Claimed, eta time.Time) error {
	if err := q.client.LRem(ctx, processingKey(c.consumer), 1, c.raw).Err(); err != nil {
		return fmt.Errorf("failed to remove entry %s from processing: %w", c.Entry.ID, err)
	}

	retry := *c.Entry
	retry.RetryCount++
	retry.ETA = eta
	if err := q.Enqueue(ctx, &retry); err != nil {
		return err
	}

	q.logger.Info("entry requeued",
		"entry_id", retry.ID,
		"task", retry.Name,
		"retry_count", retry.RetryCount,
		"eta", eta)
	return nil
}

// DeadLetter routes a finally-failed delivery to the dead-letter list.
// Dead-lettered entries are never retried automatically; RequeueDead
// replays them on explicit operator request.
func (q *Queue) DeadLetter(ctx context.Context, c *Claimed, cause error) error {
	dead := DeadEntry{
		Entry:    *c.Entry,
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("failed to marshal dead entry: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey(c.consumer), 1, c.raw)
	pipe.LPush(ctx, keyDead, string(raw))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter entry %s: %w", c.Entry.ID, err)
	}

	q.logger.Error("entry dead-lettered",
		"entry_id", c.Entry.ID,
		"task", c.Entry.Name,
		"retry_count", c.Entry.RetryCount,
		"error", cause)
	return nil
}

// Drop removes a delivery without executing it (used for expired entries).
func (q *Queue) Drop(ctx context.Context, c *Claimed) error {
	if err := q.client.LRem(ctx, processingKey(c.consumer), 1, c.raw).Err(); err != nil {
		return fmt.Errorf("failed to drop entry %s: %w", c.Entry.ID, err)
	}
	q.logger.Warn("expired entry dropped",
		"entry_id", c.Entry.ID,
		"task", c.Entry.Name,
		"expired_at", c.Entry.ExpiresAt)
	return nil
}

// PromoteDue moves up to max delayed entries whose ETA has passed onto the
// ready list. Returns the number promoted.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time, max int64) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan delayed set: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	promoted := 0
	for _, raw := range due {
		// ZREM first: only the remover may push, so concurrent promoters
		// never double-deliver the same entry.
		removed, err := q.client.ZRem(ctx, keyDelayed, raw).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to remove due entry: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, keyReady, raw).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote due entry: %w", err)
		}
		promoted++
	}

	if promoted > 0 {
		q.logger.Debug("promoted delayed entries", "count", promoted)
	}
	return promoted, nil
}

// RunPromoter promotes due entries on the given interval until ctx ends.
// Any worker or beat process may run one; promotion is idempotent.
func (q *Queue) RunPromoter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.PromoteDue(ctx, time.Now(), 128); err != nil {
				q.logger.Error("delayed promotion failed", "error", err)
			}
		}
	}
}

// Heartbeat marks consumer as live for ttl. Entries on the processing
// list of a consumer with no live heartbeat are treated as abandoned and
// may be reclaimed.
func (q *Queue) Heartbeat(ctx context.Context, consumer string, ttl time.Duration) error {
	if err := q.client.Set(ctx, consumerKey(consumer), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to record heartbeat for %s: %w", consumer, err)
	}
	return nil
}

// ReclaimAbandoned moves every entry held on the processing list of a
// consumer without a live heartbeat back onto the ready list, so a
// delivery claimed by a crashed worker is attempted again instead of
// being stranded. Returns the number of entries reclaimed.
//
// A consumer must heartbeat before its first claim; the sweep treats a
// missing heartbeat as a dead process, not a slow one.
func (q *Queue) ReclaimAbandoned(ctx context.Context) (int, error) {
	reclaimed := 0
	iter := q.client.Scan(ctx, 0, keyProcessingPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		listKey := iter.Val()
		consumer := strings.TrimPrefix(listKey, keyProcessingPrefix)

		alive, err := q.client.Exists(ctx, consumerKey(consumer)).Result()
		if err != nil {
			return reclaimed, fmt.Errorf("failed to check liveness of %s: %w", consumer, err)
		}
		if alive > 0 {
			continue
		}

		moved := 0
		for {
			if _, err := q.client.RPopLPush(ctx, listKey, keyReady).Result(); err != nil {
				if errors.Is(err, redis.Nil) {
					break
				}
				return reclaimed, fmt.Errorf("failed to reclaim entry from %s: %w", consumer, err)
			}
			moved++
			reclaimed++
		}
		if moved > 0 {
			q.logger.Warn("reclaimed deliveries from dead consumer",
				"consumer", consumer,
				"count", moved)
		}
	}
	if err := iter.Err(); err != nil {
		return reclaimed, fmt.Errorf("processing list scan failed: %w", err)
	}
	return reclaimed, nil
}

// RunReaper reclaims abandoned deliveries on the given interval until ctx
// ends. Any worker process may run one; reclaiming is idempotent.
func (q *Queue) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.ReclaimAbandoned(ctx); err != nil {
				q.logger.Error("abandoned-delivery reclaim failed", "error", err)
			}
		}
	}
}

// DeadLetters returns up to max dead-lettered entries, newest first.
func (q *Queue) DeadLetters(ctx context.Context, max int64) ([]DeadEntry, error) {
	raws, err := q.client.LRange(ctx, keyDead, 0, max-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead-letter list: %w", err)
	}

	dead := make([]DeadEntry, 0, len(raws))
	for _, raw := range raws {
		var d DeadEntry
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			q.logger.Error("undecodable dead-letter payload skipped", "error", err)
			continue
		}
		dead = append(dead, d)
	}
	return dead, nil
}

// RequeueDead replays one dead-lettered entry as a fresh submission with
// its retry count reset.
func (q *Queue) RequeueDead(ctx context.Context, id uuid.UUID) error {
	raws, err := q.client.LRange(ctx, keyDead, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read dead-letter list: %w", err)
	}

	for _, raw := range raws {
		var d DeadEntry
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			continue
		}
		if d.Entry.ID != id {
			continue
		}

		if err := q.client.LRem(ctx, keyDead, 1, raw).Err(); err != nil {
			return fmt.Errorf("failed to remove dead entry %s: %w", id, err)
		}
		fresh := d.Entry
		fresh.RetryCount = 0
		fresh.ETA = time.Time{}
		return q.Enqueue(ctx, &fresh)
	}
	return fmt.Errorf("%w: %s", ErrNotDeadLettered, id)
}

// Depths reports the ready, delayed, and dead list sizes for diagnostics.
func (q *Queue) Depths(ctx context.Context) (ready, delayed, dead int64, err error) {
	if ready, err = q.client.LLen(ctx, keyReady).Result(); err != nil {
		return 0, 0, 0, err
	}
	if delayed, err = q.client.ZCard(ctx, keyDelayed).Result(); err != nil {
		return 0, 0, 0, err
	}
	if dead, err = q.client.LLen(ctx, keyDead).Result(); err != nil {
		return 0, 0, 0, err
	}
	return ready, delayed, dead, nil
}
