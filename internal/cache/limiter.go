package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/twofold-auth/twofold/internal/models"
)

const attemptKeyPrefix = "mfa:fail:"

// AttemptLimiter counts consecutive failed verifications per user inside a
// rolling window. Setup-time and login-time verification share the same
// counter, so switching flows does not reset an attacker's budget.
type AttemptLimiter struct {
	redis       *redis.Client
	maxAttempts int
	window      time.Duration
}

// NewAttemptLimiter creates a new attempt limiter
func NewAttemptLimiter(redisClient *redis.Client, maxAttempts int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{
		redis:       redisClient,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

func attemptKey(userID string) string {
	return attemptKeyPrefix + userID
}

// Check returns models.ErrRateLimited once the budget is spent. Called
// before any code comparison, so a limited user learns nothing about
// correctness.
func (l *AttemptLimiter) Check(ctx context.Context, userID string) error {
	count, err := l.redis.Get(ctx, attemptKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to check attempt count: %w", err)
	}

	if count >= int64(l.maxAttempts) {
		return models.ErrRateLimited
	}

	return nil
}

// RecordFailure increments the counter. The key is created with its TTL
// before the increment, so the counter can never outlive the window: an
// interruption between the two commands leaves a zero that expires.
func (l *AttemptLimiter) RecordFailure(ctx context.Context, userID string) error {
	key := attemptKey(userID)

	if err := l.redis.SetNX(ctx, key, 0, l.window).Err(); err != nil {
		return fmt.Errorf("failed to arm attempt window: %w", err)
	}

	if err := l.redis.Incr(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}

	return nil
}

// Reset clears the counter after a successful verification.
func (l *AttemptLimiter) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, attemptKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to reset attempt count: %w", err)
	}
	return nil
}
