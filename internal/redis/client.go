package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/astrosevaa/sessiond/internal/config"
)

type Client struct {
	*redis.Client
}

func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, config.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// StateKey is the hash holding a user's persisted session state.
func StateKey(userID string) string {
	return fmt.Sprintf("session-state:%s", userID)
}

// EventChannel is the pub/sub channel UI events for a user are fanned out on.
func EventChannel(userID string) string {
	return fmt.Sprintf("sessiond:events:%s", userID)
}
