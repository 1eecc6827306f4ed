package redis

import (
	"context"
	"fmt"

	"github.com/Badsnus/game-scheduler-bot/internal/adapters/database/redis/notifications"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	client        *redis.Client
	Notifications *notifications.Publisher
}

type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	Channel  string
}

func New(ctx context.Context, opts Options) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Client{
		client:        client,
		Notifications: notifications.NewPublisher(client, opts.Channel),
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
