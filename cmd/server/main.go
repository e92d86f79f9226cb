// Command server runs the HTTP gateway. Submissions normally enqueue
// tasks to the Redis broker for the worker pool; when the startup probe
// finds the broker unreachable the gateway stays up in a degraded
// inline mode, executing tasks synchronously in the request path.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/avdeev/poizon-sync/internal/api"
	"github.com/avdeev/poizon-sync/internal/breaker"
	"github.com/avdeev/poizon-sync/internal/cache"
	"github.com/avdeev/poizon-sync/internal/config"
	"github.com/avdeev/poizon-sync/internal/dispatch"
	"github.com/avdeev/poizon-sync/internal/generation"
	"github.com/avdeev/poizon-sync/internal/images"
	"github.com/avdeev/poizon-sync/internal/platform/gemini"
	"github.com/avdeev/poizon-sync/internal/platform/logger"
	"github.com/avdeev/poizon-sync/internal/platform/redisconn"
	"github.com/avdeev/poizon-sync/internal/poizon"
	"github.com/avdeev/poizon-sync/internal/queue"
	"github.com/avdeev/poizon-sync/internal/ratelimit"
	"github.com/avdeev/poizon-sync/internal/service/auth"
	"github.com/avdeev/poizon-sync/internal/task"
	"github.com/avdeev/poizon-sync/internal/tasks"
	"github.com/avdeev/poizon-sync/internal/woo"
)

const shutdownTimeout = 15 * time.Second

// inlineResults adapts the inline dispatcher's in-memory results to the
// gateway's polling interface.
type inlineResults struct {
	dispatcher *dispatch.InlineDispatcher
}

func (r inlineResults) Get(_ context.Context, id uuid.UUID) (*queue.Result, error) {
	return r.dispatcher.Result(id)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
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
	probeErr := redisconn.Check(context.Background(), client, cfg.Broker)
	if probeErr != nil {
		log.Warn("broker probe failed, gateway starts degraded",
			"addr", cfg.Broker.Addr, "error", probeErr)
	}

	breakers := breaker.NewRegistry(log)
	sharedCache := cache.New(client, cfg.Cache.TTL, cfg.Cache.MemoryTTL, log)

	var limiter *ratelimit.Limiter
	if probeErr == nil {
		limiter = ratelimit.New(client, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, log)
	}

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
	}

	// Inline mode runs the same registered handlers synchronously, so the
	// registry is built here regardless of the probe outcome.
	handlers := tasks.New(catalog, store, generator, images.New(cfg.Images, log), sharedCache, log)
	registry := task.NewRegistry()
	registry.Use(task.Logging(log))
	if err := handlers.RegisterAll(registry); err != nil {
		return fmt.Errorf("failed to register task handlers: %w", err)
	}

	q := queue.New(client, log)
	results := queue.NewResults(client, queue.DefaultResultTTL)
	dispatcher := dispatch.Select(probeErr, q, results, registry, log)

	var resultSource api.ResultSource = results
	var broker api.Broker = q
	if inline, ok := dispatcher.(*dispatch.InlineDispatcher); ok {
		resultSource = inlineResults{dispatcher: inline}
		broker = nil
	}

	authService, err := auth.NewService(cfg.Auth, log)
	if err != nil {
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}

	handler := api.NewHandler(authService, dispatcher, resultSource, catalog, sharedCache, broker, log)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening",
			"port", cfg.Server.Port,
			"mode", string(dispatcher.Mode()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("gateway stopped")
	return nil
}
