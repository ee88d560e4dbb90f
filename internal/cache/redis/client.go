// Package redis implements the distributed lock, notification dedup, rate
// limiter and position bus on go-redis/v9. Every key and channel the package
// touches lives under the client's namespace so several deployments can
// share one server.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "solbot"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	TLSEnabled  bool
	Namespace   string
	DialTimeout time.Duration
}

// Client owns the go-redis connection pool and the key namespace.
type Client struct {
	rdb *redis.Client
	ns  string
}

// New dials Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := newClient(redis.NewClient(opts), cfg.Namespace)
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func newClient(rdb *redis.Client, namespace string) *Client {
	ns := strings.Trim(namespace, ":")
	if ns == "" {
		ns = defaultNamespace
	}
	return &Client{rdb: rdb, ns: ns}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// key joins kind and id under the client namespace, e.g. "solbot:lock:<id>".
func (c *Client) key(kind, id string) string {
	return c.ns + ":" + kind + ":" + id
}
