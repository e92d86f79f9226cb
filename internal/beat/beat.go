// Package beat emits recurring tasks into the broker on a fixed cadence,
// independent of the worker pool's own loop.
//
// Only one beat instance may run per deployment; a duplicate would
// double-enqueue every recurring task. A best-effort Redis leader lock
// makes an accidental second instance refuse to start. The lock is an
// operational guard, not a correctness mechanism.
package beat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/avdeev/poizon-sync/internal/config"
	"github.com/avdeev/poizon-sync/internal/dispatch"
)

const leaderKey = "psync:beat:leader"

// ErrNotLeader indicates another beat instance already holds the leader
// lock.
var ErrNotLeader = errors.New("another beat instance holds the leader lock")

// Beat schedules recurring task submissions.
type Beat struct {
	dispatcher dispatch.Dispatcher
	client     *redis.Client
	cfg        config.BeatConfig
	instanceID string
	logger     *slog.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
}

// New creates a beat scheduler.
func New(dispatcher dispatch.Dispatcher, client *redis.Client, cfg config.BeatConfig, logger *slog.Logger) *Beat {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Beat{
		dispatcher: dispatcher,
		client:     client,
		cfg:        cfg,
		instanceID: uuid.NewString(),
		logger:     logger.With("component", "beat"),
	}
}

// Start acquires leadership, registers the schedule entries, and begins
// emitting. Returns an error without scheduling anything if the lock is
// held elsewhere or an entry has an invalid cron spec.
func (b *Beat) Start(ctx context.Context) error {
	if err := b.acquireLeadership(ctx); err != nil {
		return err
	}

	c := cron.New()
	for _, entry := range b.cfg.Entries {
		taskName := entry.Task
		if _, err := c.AddFunc(entry.Spec, func() { b.emit(taskName) }); err != nil {
			b.releaseLeadership(context.Background())
			return fmt.Errorf("invalid schedule spec %q for task %s: %w", entry.Spec, entry.Task, err)
		}
		b.logger.Info("scheduled recurring task", "task", entry.Task, "spec", entry.Spec)
	}
	b.cron = c

	refreshCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.refreshLeadership(refreshCtx)

	c.Start()
	b.logger.Info("beat started", "entries", len(b.cfg.Entries), "instance_id", b.instanceID)
	return nil
}

// Stop halts the schedule, waits for in-flight emissions, and releases
// the leader lock.
func (b *Beat) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.cron != nil {
		<-b.cron.Stop().Done()
	}
	b.releaseLeadership(context.Background())
	b.logger.Info("beat stopped")
}

// emit submits one recurring task. Emission failures are logged and the
// cadence continues; the next tick will try again.
func (b *Beat) emit(taskName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id, err := b.dispatcher.Dispatch(ctx, taskName, struct{}{})
	if err != nil {
		b.logger.Error("failed to emit recurring task", "task", taskName, "error", err)
		return
	}
	b.logger.Info("recurring task emitted", "task", taskName, "entry_id", id)
}

func (b *Beat) acquireLeadership(ctx context.Context) error {
	ok, err := b.client.SetNX(ctx, leaderKey, b.instanceID, b.cfg.LockTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire beat leader lock: %w", err)
	}
	if !ok {
		return ErrNotLeader
	}
	return nil
}

// refreshLeadership extends the lock TTL while this instance runs, so a
// crashed beat frees the lock after at most LockTTL. If the lock is found
// expired or held by another instance, the schedule is halted: emitting
// past a lost lock would run every recurring task twice.
func (b *Beat) refreshLeadership(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.LockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			holder, err := b.client.Get(ctx, leaderKey).Result()
			switch {
			case err == nil && holder == b.instanceID:
				if err := b.client.Expire(ctx, leaderKey, b.cfg.LockTTL).Err(); err != nil {
					b.logger.Error("failed to refresh beat leader lock", "error", err)
				}
			case err == nil, errors.Is(err, redis.Nil):
				b.logger.Error("beat leader lock lost, halting schedule",
					"holder", holder,
					"instance_id", b.instanceID)
				b.cron.Stop()
				return
			default:
				// Transient broker error; the lock may still be ours.
				b.logger.Error("failed to check beat leader lock", "error", err)
			}
		}
	}
}

func (b *Beat) releaseLeadership(ctx context.Context) {
	holder, err := b.client.Get(ctx, leaderKey).Result()
	if err != nil || holder != b.instanceID {
		return
	}
	_ = b.client.Del(ctx, leaderKey).Err()
}
