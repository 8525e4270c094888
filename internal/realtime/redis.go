package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher is the subset of *redis.Client used by RedisMirror.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror republishes hub events on Redis channels named Prefix+topic.
type RedisMirror struct {
	Client Publisher
	Prefix string
}

// NewRedisMirror wraps client. An empty prefix publishes under the bare topic.
func NewRedisMirror(client Publisher, prefix string) *RedisMirror {
	return &RedisMirror{Client: client, Prefix: prefix}
}

// Mirror implements Mirror.
func (m *RedisMirror) Mirror(ctx context.Context, ev Event) error {
	if m == nil || m.Client == nil {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := m.Client.Publish(ctx, m.Prefix+ev.Topic, b).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Topic, err)
	}
	return nil
}

// DialRedis opens a client for addr and pings it. The client is returned even
// when the ping fails so callers can decide whether to continue without it.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
