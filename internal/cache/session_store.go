package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/twofold-auth/twofold/internal/models"
)

const (
	sessionKeyPrefix      = "mfa:setup:"
	sessionIndexKeyPrefix = "mfa:setup:user:"

	watchMaxRetries = 4
)

// SetupSessionStore keeps setup sessions in redis with the session TTL.
// The per-user index key enforces the one-live-session-per-user invariant:
// saving a new session deletes the previous one.
type SetupSessionStore struct {
	redis *redis.Client
}

// NewSetupSessionStore creates a new setup session store
func NewSetupSessionStore(redisClient *redis.Client) *SetupSessionStore {
	return &SetupSessionStore{redis: redisClient}
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

func sessionIndexKey(userID string) string {
	return sessionIndexKeyPrefix + userID
}

// Save stores the session and displaces any earlier session for the user.
// The index key is watched so two concurrent saves for the same user
// serialize: the loser retries and displaces the winner, never leaving two
// live sessions or a dangling index.
func (s *SetupSessionStore) Save(ctx context.Context, session *models.SetupSession) error {
	encoded, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode setup session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("setup session already expired")
	}

	indexKey := sessionIndexKey(session.UserID)

	for i := 0; i < watchMaxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			prior, err := tx.Get(ctx, indexKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if prior != "" {
					pipe.Del(ctx, sessionKey(prior))
				}
				pipe.Set(ctx, sessionKey(session.Token), encoded, ttl)
				pipe.Set(ctx, indexKey, session.Token, ttl)
				return nil
			})
			return err
		}, indexKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to save setup session: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to save setup session: too many conflicting writes")
}

// Get is a pure lookup; it never consumes.
func (s *SetupSessionStore) Get(ctx context.Context, token string) (*models.SetupSession, error) {
	data, err := s.redis.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get setup session: %w", err)
	}

	return decodeSession(data)
}

// Consume removes the session and returns it, exactly once. Two requests
// racing on the same token see one session and one models.ErrNotFound. The
// WATCH/retry shape guards against a concurrent delete between read and
// removal.
func (s *SetupSessionStore) Consume(ctx context.Context, token string) (*models.SetupSession, error) {
	key := sessionKey(token)

	for i := 0; i < watchMaxRetries; i++ {
		var consumed *models.SetupSession

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			session, err := decodeSession(data)
			if err != nil {
				return err
			}

			if session.Expired(time.Now()) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.Del(ctx, sessionIndexKey(session.UserID))
					return nil
				})
				if err != nil {
					return err
				}
				return models.ErrNotFound
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.Del(ctx, sessionIndexKey(session.UserID))
				return nil
			})
			if err != nil {
				return err
			}

			consumed = session
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, models.ErrNotFound) {
				return nil, models.ErrNotFound
			}
			return nil, fmt.Errorf("failed to consume setup session: %w", err)
		}

		return consumed, nil
	}

	return nil, models.ErrNotFound
}

// DeleteForUser drops the user's live session, if any.
func (s *SetupSessionStore) DeleteForUser(ctx context.Context, userID string) error {
	token, err := s.redis.Get(ctx, sessionIndexKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to look up setup session: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, sessionKey(token))
	pipe.Del(ctx, sessionIndexKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete setup session: %w", err)
	}

	return nil
}

func decodeSession(data []byte) (*models.SetupSession, error) {
	session := &models.SetupSession{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to decode setup session: %w", err)
	}
	return session, nil
}
