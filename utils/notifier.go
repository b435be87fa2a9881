package utils

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/soriano-club/clubapi/services"
)

// RedisNotifier publishes loyalty events as JSON on a Redis channel, where
// the notification workers of the club app pick them up.
type RedisNotifier struct {
	Client  *redis.Client
	Channel string
}

// Notify implements services.Notifier.
func (n RedisNotifier) Notify(ctx context.Context, ev services.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Kind, err)
	}
	if err := n.Client.Publish(ctx, n.Channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}
