// Package redis provides the distributed dispatch lease. At most one
// engine instance may hold the lease for a request id at a time; lease
// expiry covers crashed holders.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for dispatch admission.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func leaseKey(requestID string) string {
	return fmt.Sprintf("dispatch_lease:%s", requestID)
}

// AcquireLease attempts to acquire the dispatch lease for a request.
func (c *Client) AcquireLease(
	ctx context.Context,
	requestID string,
	holder string,
	ttl time.Duration,
) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, leaseKey(requestID), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// ReleaseLease releases the dispatch lease for a request.
func (c *Client) ReleaseLease(ctx context.Context, requestID string) error {
	return c.rdb.Del(ctx, leaseKey(requestID)).Err()
}

// RefreshLease extends the TTL of a held lease. Long-running handlers call
// this so the lease outlives the task deadline but not a crashed holder.
func (c *Client) RefreshLease(
	ctx context.Context,
	requestID string,
	ttl time.Duration,
) error {
	return c.rdb.Expire(ctx, leaseKey(requestID), ttl).Err()
}
