package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited is returned when a key exceeds its attempt budget.
var ErrRateLimited = errors.New("rate limited")

// LoginLimiter throttles login attempts per key (email or client IP) with a
// Redis counter: INCR per attempt, EXPIRE on the first one. This is a
// transport-level brake on brute force and is separate from the per-account
// lockout policy, which is durable state in the credential store.
type LoginLimiter struct {
	redis       *redis.Client
	maxAttempts int
	window      time.Duration
}

// NewLoginLimiter creates a limiter allowing maxAttempts per window per key.
func NewLoginLimiter(client *redis.Client, maxAttempts int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{redis: client, maxAttempts: maxAttempts, window: window}
}

// Allow records an attempt under key and reports whether it is within budget.
// A Redis outage fails open: throttling is a hardening layer, not a
// correctness dependency, and login must keep working without it.
func (l *LoginLimiter) Allow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, loginKey(key)).Result()
	if err != nil {
		return nil
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, loginKey(key), l.window).Err(); err != nil {
			return nil
		}
	}
	if count > int64(l.maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func loginKey(key string) string {
	return fmt.Sprintf("login_attempt:%s", key)
}
