package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/core-coin/x402/internal/models"
)

// publisher is the part of *redis.Client the sink uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events on a pub/sub channel and on a per-subscriber
// channel "<channel>:<subscriber>".
type RedisSink struct {
	client  publisher
	channel string
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisSink(client publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (r *RedisSink) Name() string { return "redis " + r.channel }

func (r *RedisSink) Send(ctx context.Context, event *models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Subscriber != "" {
		if err := r.client.Publish(ctx, r.channel+":"+event.Subscriber, payload).Err(); err != nil {
			return fmt.Errorf("publish to subscriber channel: %w", err)
		}
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
