package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gameupdater/gameupdater/pkg/config"
)

const pingTimeout = 5 * time.Second

var ErrNotConfigured = errors.New("redis: no addresses configured")

// Client is the connection status events are mirrored through for
// observers outside this process.
type Client struct {
	rdb redis.UniversalClient
}

// NewClient connects and pings. ClusterMode forces a cluster client even
// for a single seed address.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	opts := &redis.UniversalOptions{
		Addrs:    cfg.Addresses,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	var rdb redis.UniversalClient
	if cfg.ClusterMode {
		rdb = redis.NewClusterClient(opts.Cluster())
	} else {
		rdb = redis.NewClient(opts.Simple())
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %v: %w", cfg.Addresses, err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Client() redis.UniversalClient {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
