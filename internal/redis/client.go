// Package redis provides the shared activity channel used to synchronize tabs.
//
// The Redis layout is one key and one pub/sub channel:
//   - {MarkerKey} holds the latest activity marker as JSON, with an optional TTL
//   - {Channel} carries every published marker to live subscribers
//
// MemoryStore offers the same behavior inside a single process.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/config"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/crosstab"
	"github.com/sixcolors/gofiber-react-session-csrf-example/internal/models"
)

// ErrNoMarker is returned by Latest when no marker has been published.
var ErrNoMarker = crosstab.ErrNoMarker

// ErrClosed is returned once the store has been closed.
var ErrClosed = errors.New("activity channel closed")

// Store is an activity channel with a lifecycle. The Redis client, the
// in-memory hub and the marker file store implement it.
//
// Thread Safety: implementations must be safe for concurrent use.
type Store interface {
	crosstab.Channel

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend. Open subscriptions are closed.
	Close() error
}

// Client publishes markers through Redis.
type Client struct {
	rdb     *redis.Client
	key     string
	channel string
	ttl     time.Duration
	logger  *logrus.Logger
}

// NewClient creates a Redis-backed channel and verifies connectivity.
func NewClient(cfg *config.RedisConfig, sync *config.SyncConfig, logger *logrus.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password // pragma: allowlist secret
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConn
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout
	opts.ConnMaxIdleTime = cfg.IdleTimeout

	client := NewClientFromRedis(redis.NewClient(opts), sync, logger)

	if pingErr := client.Ping(context.Background()); pingErr != nil {
		_ = client.rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", pingErr)
	}

	logger.Info("Connected to Redis successfully")

	return client, nil
}

// NewClientFromRedis wraps an existing go-redis client.
func NewClientFromRedis(rdb *redis.Client, sync *config.SyncConfig, logger *logrus.Logger) *Client {
	return &Client{
		rdb:     rdb,
		key:     sync.MarkerKey,
		channel: sync.Channel,
		ttl:     sync.MarkerTTL,
		logger:  logger,
	}
}

// Close gracefully closes the Redis connection pool.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.logger.WithError(err).Error("Failed to close Redis connection")
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}

	c.logger.Info("Redis connection closed")
	return nil
}

// Ping verifies connectivity to the Redis server.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// GetRedisClient returns the underlying go-redis client.
func (c *Client) GetRedisClient() *redis.Client {
	return c.rdb
}

// Publish stores the marker and broadcasts it in one transaction.
func (c *Client) Publish(ctx context.Context, marker models.ActivityMarker) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal activity marker: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key, data, c.ttl)
		pipe.Publish(ctx, c.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish activity marker: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"origin": marker.Origin,
		"ts":     marker.TimestampMillis,
	}).Debug("Activity marker published")
	return nil
}

// Latest returns the stored marker.
func (c *Client) Latest(ctx context.Context) (models.ActivityMarker, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ActivityMarker{}, fmt.Errorf("redis key %s: %w", c.key, ErrNoMarker)
	}
	if err != nil {
		return models.ActivityMarker{}, fmt.Errorf("failed to get activity marker: %w", err)
	}

	var marker models.ActivityMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return models.ActivityMarker{}, fmt.Errorf("failed to unmarshal activity marker: %w", err)
	}
	return marker, nil
}

// Subscribe listens on the marker channel until ctx is done. The subscription
// is confirmed before Subscribe returns, so no publish after it is missed.
func (c *Client) Subscribe(ctx context.Context) (<-chan models.ActivityMarker, error) {
	pubsub := c.rdb.Subscribe(ctx, c.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", c.channel, err)
	}

	out := make(chan models.ActivityMarker)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var marker models.ActivityMarker
				if err := json.Unmarshal([]byte(msg.Payload), &marker); err != nil {
					c.logger.WithError(err).Warn("Ignoring malformed activity marker")
					continue
				}
				select {
				case out <- marker:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
