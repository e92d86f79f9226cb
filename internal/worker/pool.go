package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/avdeev/poizon-sync/internal/config"
	"github.com/avdeev/poizon-sync/internal/queue"
	"github.com/avdeev/poizon-sync/internal/task"
)

// ErrHardTimeLimit is recorded when an execution is forcibly terminated at
// the hard time limit. Hard-terminated tasks are dead-lettered, never
// retried automatically.
var ErrHardTimeLimit = errors.New("hard time limit exceeded")

// PoolConfig holds the worker pool limits and loop tuning.
type PoolConfig struct {
	// Concurrency is the number of slots executing tasks in parallel.
	Concurrency int

	// MaxTasksPerChild retires a slot after this many executions.
	MaxTasksPerChild int

	// SoftLimit is the cooperative early-exit signal deadline; must be
	// below HardLimit.
	SoftLimit time.Duration

	// HardLimit forcibly terminates an execution still running at this
	// deadline.
	HardLimit time.Duration

	// ClaimTimeout bounds each blocking claim so slots notice shutdown.
	// Defaults to 5s.
	ClaimTimeout time.Duration

	// PromoteInterval is the delayed-set promotion cadence. Defaults to 1s.
	PromoteInterval time.Duration

	// HeartbeatInterval is the consumer liveness refresh cadence; the
	// broker-side heartbeat TTL is three intervals. Defaults to 5s.
	HeartbeatInterval time.Duration

	// ReclaimInterval is the cadence of the sweep returning deliveries
	// stranded by crashed workers to the ready list. Defaults to 30s.
	ReclaimInterval time.Duration
}

// FromWorkerConfig maps the loaded configuration onto pool limits.
func FromWorkerConfig(cfg config.WorkerConfig) PoolConfig {
	return PoolConfig{
		Concurrency:      cfg.Concurrency,
		MaxTasksPerChild: cfg.MaxTasksPerChild,
		SoftLimit:        cfg.SoftLimit(),
		HardLimit:        cfg.HardLimit(),
	}
}

// Pool runs up to Concurrency task executions in parallel, each in its own
// slot, and mediates all coordination through the broker queue.
type Pool struct {
	queue    *queue.Queue
	results  *queue.Results
	registry *task.Registry
	retry    config.RetryConfig
	cfg      PoolConfig
	name     string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Heartbeats outlive ctx so deliveries draining after Stop are not
	// reclaimed by another worker's sweep mid-execution.
	mu     sync.Mutex
	active map[string]struct{}
	hbStop chan struct{}
	hbDone chan struct{}
}

// NewPool creates a worker pool. Defaults are applied to zero tuning
// values; Concurrency and MaxTasksPerChild must be positive and SoftLimit
// must be below HardLimit.
func NewPool(
	q *queue.Queue,
	results *queue.Results,
	registry *task.Registry,
	retry config.RetryConfig,
	cfg PoolConfig,
	logger *slog.Logger,
) (*Pool, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.MaxTasksPerChild <= 0 {
		return nil, fmt.Errorf("max tasks per child must be positive, got %d", cfg.MaxTasksPerChild)
	}
	if cfg.SoftLimit <= 0 || cfg.HardLimit <= 0 || cfg.SoftLimit >= cfg.HardLimit {
		return nil, fmt.Errorf(
			"soft time limit (%s) must be positive and below the hard time limit (%s)",
			cfg.SoftLimit, cfg.HardLimit)
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 5 * time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = 30 * time.Second
	}

	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:    q,
		results:  results,
		registry: registry,
		retry:    retry,
		cfg:      cfg,
		name:     fmt.Sprintf("%s-%d", host, os.Getpid()),
		logger:   logger.With("component", "worker_pool"),
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]struct{}),
		hbStop:   make(chan struct{}),
		hbDone:   make(chan struct{}),
	}, nil
}

// Start verifies the broker is reachable and launches the slots and the
// delayed-entry promoter. It refuses to enter the serving loop when the
// broker does not answer the preflight probe.
func (p *Pool) Start() error {
	if err := p.queue.Ping(p.ctx); err != nil {
		return fmt.Errorf("refusing to start worker pool: %w", err)
	}

	p.logger.Info("starting worker pool",
		"concurrency", p.cfg.Concurrency,
		"max_tasks_per_child", p.cfg.MaxTasksPerChild,
		"soft_time_limit", p.cfg.SoftLimit,
		"hard_time_limit", p.cfg.HardLimit)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.superviseSlot(i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.queue.RunPromoter(p.ctx, p.cfg.PromoteInterval)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.queue.RunReaper(p.ctx, p.cfg.ReclaimInterval)
	}()

	go p.runHeartbeats()

	return nil
}

// Stop drains the pool: slots stop claiming, in-flight executions run to
// their outcome, then all goroutines exit. Heartbeats stop last, after
// every delivery has reached ack, requeue, or dead-letter.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	close(p.hbStop)
	<-p.hbDone
	p.logger.Info("worker pool stopped")
}

// registerSlot marks a slot's consumer name live on the broker before it
// makes its first claim; a claim without a heartbeat would be eligible
// for reclaiming immediately.
func (p *Pool) registerSlot(slot string) {
	p.mu.Lock()
	p.active[slot] = struct{}{}
	p.mu.Unlock()

	if err := p.queue.Heartbeat(context.Background(), slot, p.heartbeatTTL()); err != nil {
		p.logger.Error("failed to record slot heartbeat", "slot", slot, "error", err)
	}
}

func (p *Pool) deregisterSlot(slot string) {
	p.mu.Lock()
	delete(p.active, slot)
	p.mu.Unlock()
}

func (p *Pool) heartbeatTTL() time.Duration {
	return 3 * p.cfg.HeartbeatInterval
}

// runHeartbeats refreshes the liveness keys of every active slot until
// the pool has fully drained.
func (p *Pool) runHeartbeats() {
	defer close(p.hbDone)
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.hbStop:
			return
		case <-ticker.C:
			p.mu.Lock()
			slots := make([]string, 0, len(p.active))
			for slot := range p.active {
				slots = append(slots, slot)
			}
			p.mu.Unlock()

			for _, slot := range slots {
				if err := p.queue.Heartbeat(context.Background(), slot, p.heartbeatTTL()); err != nil {
					p.logger.Error("failed to refresh slot heartbeat", "slot", slot, "error", err)
				}
			}
		}
	}
}

// superviseSlot keeps one slot index occupied: when the running slot
// retires after MaxTasksPerChild executions, a fresh one takes its place.
func (p *Pool) superviseSlot(index int) {
	defer p.wg.Done()

	for generation := 0; p.ctx.Err() == nil; generation++ {
		p.runSlot(index, generation)
	}
}

// runSlot claims and executes entries until retirement or shutdown.
func (p *Pool) runSlot(index, generation int) {
	slot := fmt.Sprintf("%s-slot-%d.%d", p.name, index, generation)
	logger := p.logger.With("slot", slot)
	logger.Debug("slot started")

	p.registerSlot(slot)
	defer p.deregisterSlot(slot)

	executed := 0
	for executed < p.cfg.MaxTasksPerChild {
		if p.ctx.Err() != nil {
			return
		}

		claimed, err := p.queue.Claim(p.ctx, slot, p.cfg.ClaimTimeout)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			logger.Error("claim failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if claimed == nil {
			continue
		}

		executed++
		p.execute(claimed, slot, logger)
	}

	logger.Info("slot retired", "executed", executed)
}

// execute runs one delivery attempt to its outcome.
func (p *Pool) execute(c *queue.Claimed, slot string, logger *slog.Logger) {
	entry := c.Entry
	record := &executionRecord{
		taskName:  entry.Name,
		slot:      slot,
		startedAt: time.Now(),
		softLimit: p.cfg.SoftLimit,
		hardLimit: p.cfg.HardLimit,
	}
	defer record.log(logger)

	logger = logger.With("entry_id", entry.ID, "task", entry.Name)

	if entry.Expired(time.Now()) {
		record.outcome = OutcomeExpired
		if err := p.queue.Drop(context.Background(), c); err != nil {
			logger.Error("failed to drop expired entry", "error", err)
		}
		_ = p.results.SetFailure(context.Background(), entry.ID, entry.Name,
			fmt.Errorf("entry expired at %s before execution", entry.ExpiresAt))
		return
	}

	handler, err := p.registry.Resolve(entry.Name)
	if err != nil {
		// An unregistered name cannot succeed on retry; dead-letter it so
		// the operator sees the deployment mismatch.
		record.outcome = OutcomeDeadLetter
		logger.Error("no handler for task", "error", err)
		if dlErr := p.queue.DeadLetter(context.Background(), c, err); dlErr != nil {
			logger.Error("failed to dead-letter entry", "error", dlErr)
		}
		_ = p.results.SetFailure(context.Background(), entry.ID, entry.Name, err)
		return
	}

	_ = p.results.SetStarted(context.Background(), entry.ID, entry.Name)

	execCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	softSignal := make(chan struct{})
	execCtx = task.WithSoftLimit(execCtx, softSignal)
	execCtx = task.WithReporter(execCtx, func(current, total int, status string) {
		_ = p.results.SetProgress(context.Background(), entry.ID, entry.Name,
			queue.Progress{Current: current, Total: total, Status: status})
	})

	type handlerResult struct {
		value any
		err   error
	}
	// Buffered so an abandoned handler goroutine can still deliver its
	// result and exit after a hard timeout.
	done := make(chan handlerResult, 1)
	go func() {
		value, err := handler.Handle(execCtx, entry.Args)
		done <- handlerResult{value: value, err: err}
	}()

	softTimer := time.NewTimer(p.cfg.SoftLimit)
	defer softTimer.Stop()
	hardTimer := time.NewTimer(p.cfg.HardLimit)
	defer hardTimer.Stop()

	for {
		select {
		case result := <-done:
			if result.err != nil {
				record.outcome = p.fail(c, result.err, logger)
				return
			}
			record.outcome = OutcomeOK
			if err := p.queue.Ack(context.Background(), c); err != nil {
				logger.Error("failed to ack entry", "error", err)
			}
			_ = p.results.SetSuccess(context.Background(), entry.ID, entry.Name, result.value)
			return

		case <-softTimer.C:
			// Delivered exactly once per execution; the handler gets the
			// remaining hard-limit window to exit cleanly.
			logger.Warn("soft time limit exceeded, signaling task",
				"soft_limit", p.cfg.SoftLimit)
			close(softSignal)

		case <-hardTimer.C:
			record.outcome = OutcomeHardTimeout
			cancel()
			logger.Error("hard time limit exceeded, terminating execution",
				"hard_limit", p.cfg.HardLimit)
			if err := p.queue.DeadLetter(context.Background(), c, ErrHardTimeLimit); err != nil {
				logger.Error("failed to dead-letter entry", "error", err)
			}
			_ = p.results.SetFailure(context.Background(), entry.ID, entry.Name, ErrHardTimeLimit)
			return
		}
	}
}

// fail routes an unhandled task error: requeue with backoff while retries
// remain, dead-letter once exhausted.
func (p *Pool) fail(c *queue.Claimed, cause error, logger *slog.Logger) Outcome {
	entry := c.Entry

	if entry.RetryCount < p.retry.MaxRetries {
		eta := time.Now().Add(p.backoff(entry.RetryCount))
		if err := p.queue.Requeue(context.Background(), c, eta); err != nil {
			logger.Error("failed to requeue entry", "error", err)
			return OutcomeDeadLetter
		}
		_ = p.results.SetPending(context.Background(), entry.ID, entry.Name)
		logger.Warn("task failed, retrying",
			"error", cause,
			"retry_count", entry.RetryCount+1,
			"max_retries", p.retry.MaxRetries,
			"eta", eta)
		return OutcomeRetried
	}

	if err := p.queue.DeadLetter(context.Background(), c, cause); err != nil {
		logger.Error("failed to dead-letter entry", "error", err)
	}
	_ = p.results.SetFailure(context.Background(), entry.ID, entry.Name, cause)
	return OutcomeDeadLetter
}

// backoff computes the exponential retry delay: base * 2^retryCount,
// capped at MaxBackoff.
func (p *Pool) backoff(retryCount int) time.Duration {
	d := time.Duration(float64(p.retry.BaseBackoff) * math.Pow(2, float64(retryCount)))
	if d > p.retry.MaxBackoff || d <= 0 {
		d = p.retry.MaxBackoff
	}
	return d
}
