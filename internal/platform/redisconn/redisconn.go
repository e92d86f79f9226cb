// Package redisconn constructs the shared Redis client and provides the
// broker liveness preflight used by every process at startup.
package redisconn

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/avdeev/poizon-sync/internal/config"
)

// ErrBrokerUnavailable indicates the broker did not answer the liveness
// probe. Callers treat this as fatal at worker/beat launch and as the
// signal to select inline dispatch at the gateway.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// New creates a Redis client from the broker configuration. The client is
// lazy; use Check to verify the broker is actually reachable.
func New(cfg config.BrokerConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Check sends a PING with the configured short timeout. Returns
// ErrBrokerUnavailable (wrapping the transport error) on failure.
func Check(ctx context.Context, client *redis.Client, cfg config.BrokerConfig) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping %s: %v", ErrBrokerUnavailable, cfg.Addr, err)
	}
	return nil
}
