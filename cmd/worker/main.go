// Command worker runs the task worker pool. It claims tasks from the
// Redis broker and executes them under the configured concurrency,
// recycling and time-limit rules. The broker is mandatory here: if the
// preflight ping fails the process exits non-zero so the supervisor
// restarts it, instead of idling against a dead broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/avdeev/poizon-sync/internal/breaker"
	"github.com/avdeev/poizon-sync/internal/cache"
	"github.com/avdeev/poizon-sync/internal/config"
	"github.com/avdeev/poizon-sync/internal/generation"
	"github.com/avdeev/poizon-sync/internal/images"
	"github.com/avdeev/poizon-sync/internal/platform/gemini"
	"github.com/avdeev/poizon-sync/internal/platform/logger"
	"github.com/avdeev/poizon-sync/internal/platform/redisconn"
	"github.com/avdeev/poizon-sync/internal/poizon"
	"github.com/avdeev/poizon-sync/internal/queue"
	"github.com/avdeev/poizon-sync/internal/ratelimit"
	"github.com/avdeev/poizon-sync/internal/task"
	"github.com/avdeev/poizon-sync/internal/tasks"
	"github.com/avdeev/poizon-sync/internal/woo"
	"github.com/avdeev/poizon-sync/internal/worker"
)

func main() {
	concurrency := pflag.Int("concurrency", 0, "worker slots executing tasks in parallel (overrides config)")
	maxTasksPerChild := pflag.Int("max-tasks-per-child", 0, "executions before a slot is recycled (overrides config)")
	timeLimit := pflag.Int("time-limit", 0, "hard time limit in seconds (overrides config)")
	softTimeLimit := pflag.Int("soft-time-limit", 0, "soft time limit in seconds (overrides config)")
	pflag.Parse()

	if err := run(*concurrency, *maxTasksPerChild, *timeLimit, *softTimeLimit); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(concurrency, maxTasksPerChild, timeLimit, softTimeLimit int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if concurrency > 0 {
		cfg.Worker.Concurrency = concurrency
	}
	if maxTasksPerChild > 0 {
		cfg.Worker.MaxTasksPerChild = maxTasksPerChild
	}
	if timeLimit > 0 {
		cfg.Worker.TimeLimitSeconds = timeLimit
	}
	if softTimeLimit > 0 {
		cfg.Worker.SoftTimeLimitSeconds = softTimeLimit
	}

	log := logger.Setup(cfg.Server)

	client := redisconn.New(cfg.Broker)
	defer func() { _ = client.Close() }()
	if err := redisconn.Check(context.Background(), client, cfg.Broker); err != nil {
		return fmt.Errorf("broker preflight failed (addr %s, db %d): %w; "+
			"start Redis or fix broker.addr before launching workers",
			cfg.Broker.Addr, cfg.Broker.DB, err)
	}
	log.Info("broker connection verified", "addr", cfg.Broker.Addr, "db", cfg.Broker.DB)

	breakers := breaker.NewRegistry(log)
	sharedCache := cache.New(client, cfg.Cache.TTL, cfg.Cache.MemoryTTL, log)
	limiter := ratelimit.New(client, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, log)

	catalog := poizon.New(cfg.Catalog,
		breakers.Get("poizon_api", breaker.Options{}), limiter, sharedCache, log)
	store := woo.New(cfg.Store, breakers.Get("woocommerce_api", breaker.Options{}), log)

	var generator generation.Generator
	if cfg.Generation.GeminiAPIKey != "" {
		g, err := gemini.NewGenerator(context.Background(), cfg.Generation,
			breakers.Get("gemini_api", breaker.Options{}), log)
		if err != nil {
			return fmt.Errorf("failed to initialize text generator: %w", err)
		}
		generator = g
	} else {
		log.Warn("no generation API key configured, product texts use the basic fallback")
	}

	processor := images.New(cfg.Images, log)
	handlers := tasks.New(catalog, store, generator, processor, sharedCache, log)

	registry := task.NewRegistry()
	registry.Use(task.Logging(log))
	if err := handlers.RegisterAll(registry); err != nil {
		return fmt.Errorf("failed to register task handlers: %w", err)
	}

	pool, err := worker.NewPool(
		queue.New(client, log),
		queue.NewResults(client, queue.DefaultResultTTL),
		registry,
		cfg.Retry,
		worker.PoolConfig{
			Concurrency:      cfg.Worker.Concurrency,
			MaxTasksPerChild: cfg.Worker.MaxTasksPerChild,
			SoftLimit:        cfg.Worker.SoftLimit(),
			HardLimit:        cfg.Worker.HardLimit(),
		},
		log,
	)
	if err != nil {
		return err
	}
	if err := pool.Start(); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info("shutdown signal received, draining in-flight tasks", "signal", sig.String())
	pool.Stop()
	return nil
}
