// Package redis backs the shared gateway and agent state with go-redis/v9:
// outstanding challenges, cached payment proofs, rate limits and the
// settlement stream.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig is the [redis] section of the config file.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client is the connection shared by the challenge store, proof cache, rate
// limiter and event bus.
type Client struct {
	addr string
	rdb  *redis.Client
}

// New connects to cfg.Addr. The gateway refuses to start against an
// unreachable Redis, so the connection is verified here.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{addr: cfg.Addr, rdb: redis.NewClient(opts)}
	if err := c.Health(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Health reports whether the server answers PING. It backs the redis entry
// of the /api/health report.
func (c *Client) Health(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
