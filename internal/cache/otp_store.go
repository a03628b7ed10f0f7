package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/twofold-auth/twofold/internal/models"
)

const emailOTPKeyPrefix = "mfa:otp:"

// EmailOTPStore holds the most recently issued email OTP hash per user,
// bounded by the OTP validity window. Only the SHA-256 of the code is
// stored.
type EmailOTPStore struct {
	redis *redis.Client
}

// NewEmailOTPStore creates a new email OTP store
func NewEmailOTPStore(redisClient *redis.Client) *EmailOTPStore {
	return &EmailOTPStore{redis: redisClient}
}

func emailOTPKey(userID string) string {
	return emailOTPKeyPrefix + userID
}

// Save stores the OTP hash, replacing any earlier unexpired one.
func (s *EmailOTPStore) Save(ctx context.Context, userID string, codeHash [32]byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, emailOTPKey(userID), codeHash[:], ttl).Err(); err != nil {
		return fmt.Errorf("failed to save email OTP: %w", err)
	}
	return nil
}

// Take atomically fetches and deletes the stored hash. The OTP is single
// use: it is gone after any match attempt, successful or not.
func (s *EmailOTPStore) Take(ctx context.Context, userID string) ([32]byte, error) {
	var hash [32]byte

	data, err := s.redis.GetDel(ctx, emailOTPKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return hash, models.ErrNotFound
		}
		return hash, fmt.Errorf("failed to take email OTP: %w", err)
	}

	if len(data) != len(hash) {
		return hash, fmt.Errorf("malformed email OTP record")
	}
	copy(hash[:], data)

	return hash, nil
}
