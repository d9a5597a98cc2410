package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/room4-2/tarotobot/config"
)

// Redis keys
const (
	BrowsersKey    = "relay:browsers"
	BridgeKey      = "relay:bridge"
	AudioKeyPrefix = "relay:audio:"
)

// Connect returns a Redis client for cfg.RedisURL, or nil when Redis is not
// configured. A configured but unreachable server is an error; callers run
// without Redis in that case.
func Connect(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisURL, err)
	}

	return rdb, nil
}
