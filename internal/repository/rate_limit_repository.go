package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitRepository backs fixed-window counters with Redis. Keys carry
// their own TTL so windows expire without manual cleanup.
type RateLimitRepository struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRateLimitRepository constructs a counter store.
func NewRateLimitRepository(client *redis.Client, timeout time.Duration) *RateLimitRepository {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RateLimitRepository{client: client, timeout: timeout}
}

// IncrementWindow atomically increments the counter for key and returns the
// new count together with the remaining window. The expiry is attached only
// when the key is first created, so the window never slides.
func (r *RateLimitRepository) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("rate limit increment %s: %w", key, err)
	}

	remaining := ttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return incr.Val(), remaining, nil
}
