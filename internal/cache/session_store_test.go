package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twofold-auth/twofold/internal/models"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

func newTestSession(token, userID string, ttl time.Duration) *models.SetupSession {
	now := time.Now()
	return &models.SetupSession{
		Token:           token,
		UserID:          userID,
		Method:          models.MethodAuthenticator,
		CandidateSecret: "JBSWY3DPEHPK3PXP",
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
}

func TestSetupSessionStore_SaveAndGet(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewSetupSessionStore(client)
	ctx := context.Background()

	session := newTestSession("tok1", "user123", 30*time.Minute)
	require.NoError(t, store.Save(ctx, session))

	got, err := store.Get(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, "user123", got.UserID)
	assert.Equal(t, models.MethodAuthenticator, got.Method)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", got.CandidateSecret)

	// Get never consumes.
	_, err = store.Get(ctx, "tok1")
	assert.NoError(t, err)
}

func TestSetupSessionStore_GetUnknownToken(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewSetupSessionStore(client)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetupSessionStore_SaveDisplacesPriorSession(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewSetupSessionStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newTestSession("tok1", "user123", 30*time.Minute)))
	require.NoError(t, store.Save(ctx, newTestSession("tok2", "user123", 30*time.Minute)))

	_, err := store.Get(ctx, "tok1")
	assert.ErrorIs(t, err, models.ErrNotFound, "only one live session per user")

	_, err = store.Get(ctx, "tok2")
	assert.NoError(t, err)
}

func TestSetupSessionStore_ConsumeIsExactlyOnce(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewSetupSessionStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newTestSession("tok1", "user123", 30*time.Minute)))

	got, err := store.Consume(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, "user123", got.UserID)

	_, err = store.Consume(ctx, "tok1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// The index is cleared too, so a new session can be saved cleanly.
	require.NoError(t, store.Save(ctx, newTestSession("tok2", "user123", 30*time.Minute)))
}

func TestSetupSessionStore_ConsumeExpiredSession(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSetupSessionStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newTestSession("tok1", "user123", time.Second)))
	mr.FastForward(2 * time.Second)

	_, err := store.Consume(ctx, "tok1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetupSessionStore_RedisTTLMatchesSession(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewSetupSessionStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newTestSession("tok1", "user123", time.Minute)))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "tok1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetupSessionStore_DeleteForUser(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewSetupSessionStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, newTestSession("tok1", "user123", 30*time.Minute)))
	require.NoError(t, store.DeleteForUser(ctx, "user123"))

	_, err := store.Get(ctx, "tok1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Idempotent when nothing is live.
	assert.NoError(t, store.DeleteForUser(ctx, "user123"))
}
