package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Options selects the Redis server
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Client is the Redis connection shared by the event bridge and the rate limiter
type Client struct {
	redis  *redis.Client
	logger Logger
}

// Connect dials Redis and verifies it with a PING
func Connect(ctx context.Context, opts Options, logger Logger) (*Client, error) {
	raw := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := raw.Ping(ctx).Err(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	logger.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	return &Client{redis: raw, logger: logger}, nil
}

// Raw exposes the go-redis client for scripts
func (c *Client) Raw() *redis.Client {
	return c.redis
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Publish sends payload on channel
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.redis.Publish(ctx, channel, payload).Err(); err != nil {
		c.logger.Error("redis PUBLISH failed", "channel", channel, "error", err)
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	c.logger.Debug("redis PUBLISH", "channel", channel, "bytes", len(payload))
	return nil
}

// Message is a payload received on a subscribed channel
type Message struct {
	Channel string
	Payload []byte
}

// PatternSubscribe calls handle for every message on channels matching
// pattern until ctx is cancelled. It returns once Redis confirms the
// subscription; go-redis re-subscribes by itself after reconnects.
func (c *Client) PatternSubscribe(ctx context.Context, pattern string, handle func(Message)) error {
	pubsub := c.redis.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		c.logger.Error("redis PSUBSCRIBE failed", "pattern", pattern, "error", err)
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	c.logger.Info("redis subscription confirmed", "pattern", pattern)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("redis subscriber stopping", "pattern", pattern)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handle(Message{Channel: msg.Channel, Payload: []byte(msg.Payload)})
			}
		}
	}()
	return nil
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.redis.Close()
}
