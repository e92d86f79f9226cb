// Command beat runs the recurring-task scheduler. A single instance
// holds a leader lock in Redis and submits the scheduled maintenance
// tasks to the broker; extra instances exit immediately so a schedule
// never fires twice.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/avdeev/poizon-sync/internal/beat"
	"github.com/avdeev/poizon-sync/internal/config"
	"github.com/avdeev/poizon-sync/internal/dispatch"
	"github.com/avdeev/poizon-sync/internal/platform/logger"
	"github.com/avdeev/poizon-sync/internal/platform/redisconn"
	"github.com/avdeev/poizon-sync/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "beat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.Setup(cfg.Server)

	client := redisconn.New(cfg.Broker)
	defer func() { _ = client.Close() }()
	if err := redisconn.Check(context.Background(), client, cfg.Broker); err != nil {
		return fmt.Errorf("broker preflight failed (addr %s, db %d): %w; "+
			"the scheduler cannot run without a broker",
			cfg.Broker.Addr, cfg.Broker.DB, err)
	}

	dispatcher := dispatch.NewAsync(
		queue.New(client, log),
		queue.NewResults(client, queue.DefaultResultTTL),
	)
	b := beat.New(dispatcher, client, cfg.Beat, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		if errors.Is(err, beat.ErrNotLeader) {
			return fmt.Errorf("%w; exactly one beat instance may run per deployment", err)
		}
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info("shutdown signal received, stopping scheduler", "signal", sig.String())
	b.Stop()
	return nil
}
