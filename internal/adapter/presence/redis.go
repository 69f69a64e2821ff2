package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "runcoach:presence:"
	// keyTTL bounds how long a crashed instance's connections linger.
	keyTTL = 24 * time.Hour
)

// RedisRegistry keeps one Redis set of connection ids per user so every
// instance sees the same presence.
type RedisRegistry struct {
	client *redis.Client
}

var _ port.PresenceRegistry = (*RedisRegistry)(nil)

// NewRedisRegistry wraps an existing client.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// DialRedis parses a redis:// URL and verifies the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func key(userID string) string { return keyPrefix + userID }

// Add records an open connection for the user.
func (r *RedisRegistry) Add(ctx context.Context, userID, connID string) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key(userID), connID)
	pipe.Expire(ctx, key(userID), keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence add: %w", err)
	}
	return nil
}

// Remove forgets a connection. Redis deletes the set with its last member.
func (r *RedisRegistry) Remove(ctx context.Context, userID, connID string) error {
	if err := r.client.SRem(ctx, key(userID), connID).Err(); err != nil {
		return fmt.Errorf("presence remove: %w", err)
	}
	return nil
}

// IsOnline reports whether the user has any open connection on any instance.
func (r *RedisRegistry) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.Connections(ctx, userID)
	return n > 0, err
}

// Connections returns the number of open connections across instances.
func (r *RedisRegistry) Connections(ctx context.Context, userID string) (int, error) {
	n, err := r.client.SCard(ctx, key(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count: %w", err)
	}
	return int(n), nil
}
