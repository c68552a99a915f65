package ratelimit

import "context"

// RateLimiter bounds outbound sends per key (one key per provider account).
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
