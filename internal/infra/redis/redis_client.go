package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"annotation-ml-controller/internal/config"
)

// RedisClient is the narrow surface the broker adapters need; mocks in tests
// implement it without a server.
type RedisClient interface {
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LPush(ctx context.Context, key string, values ...interface{}) error
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error)
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) Subscription
	Close() error
}

// Subscription wraps one pub/sub channel.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

var _ RedisClient = (*Client)(nil)

type Client struct {
	cli *redis.Client
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Client{cli: c}, nil
}

func (c *Client) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.cli.Set(ctx, key, value, expiration).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, key).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.cli.Del(ctx, keys...).Err()
}

func (c *Client) LPush(ctx context.Context, key string, values ...interface{}) error {
	return c.cli.LPush(ctx, key, values...).Err()
}

// BRPop returns nil without error when the timeout elapses with no element.
func (c *Client) BRPop(ctx context.Context, timeout time.Duration, keys ...string) ([]string, error) {
	res, err := c.cli.BRPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return res, err
}

func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.cli.Publish(ctx, channel, message).Err()
}

func (c *Client) Subscribe(ctx context.Context, channel string) Subscription {
	ps := c.cli.Subscribe(ctx, channel)
	sub := &pubsub{ps: ps, out: make(chan string, 16)}
	go sub.pump()
	return sub
}

func (c *Client) Close() error { return c.cli.Close() }

type pubsub struct {
	ps  *redis.PubSub
	out chan string
}

func (p *pubsub) pump() {
	defer close(p.out)
	for msg := range p.ps.Channel() {
		p.out <- msg.Payload
	}
}

func (p *pubsub) Messages() <-chan string { return p.out }

func (p *pubsub) Close() error { return p.ps.Close() }
