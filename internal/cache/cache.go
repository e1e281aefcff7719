// Package cache holds the Redis side of relayd: the shared client and the
// action journal fed by room hosts.
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Connect parses url (redis://...) and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return rdb, nil
}
