package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loungehq/curator/internal/config"
)

// RedisDedupGuard implements DedupGuard on Redis SETNX so multiple instances
// sharing one database do not execute the same externally triggered job twice.
type RedisDedupGuard struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisDedupGuard(cfg *config.RedisConfig) (*RedisDedupGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisDedupGuard{
		client:    client,
		keyPrefix: "curator:job:",
	}, nil
}

// MarkProcessed atomically claims the key for ttl. Returns true when this
// caller won the claim, false when another instance already holds it.
func (g *RedisDedupGuard) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := g.client.SetNX(ctx, g.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim job key: %w", err)
	}
	return fresh, nil
}

func (g *RedisDedupGuard) Close() error {
	return g.client.Close()
}
