package redisconn

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeev/poizon-sync/internal/config"
)

func TestCheckReachableBroker(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.BrokerConfig{Addr: mr.Addr(), PingTimeout: time.Second}
	client := New(cfg)
	defer func() { _ = client.Close() }()

	require.NoError(t, Check(context.Background(), client, cfg))
}

func TestCheckUnreachableBroker(t *testing.T) {
	// Port 1 is essentially guaranteed to refuse connections.
	cfg := config.BrokerConfig{Addr: "localhost:1", PingTimeout: 200 * time.Millisecond}
	client := New(cfg)
	defer func() { _ = client.Close() }()

	err := Check(context.Background(), client, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
}
