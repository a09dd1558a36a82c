package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// ConnectRedis opens the client shared by the hub relay and the last-message cache.
// The relay holds a pub/sub connection for the process lifetime, so the pool keeps one spare.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("redis url must not be empty")
	}

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if options.MinIdleConns < 1 {
		options.MinIdleConns = 1
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
