package integration

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twofold-auth/twofold/internal/models"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	db, err := SetupTestDatabase(ctx)
	if err != nil {
		slog.Error("failed to set up test database", slog.Any("error", err))
		os.Exit(1)
	}
	testDB = db

	code := m.Run()

	if err := testDB.Teardown(ctx); err != nil {
		slog.Error("failed to tear down test database", slog.Any("error", err))
	}

	os.Exit(code)
}

// freshUser truncates state and seeds one user for the test
func freshUser(t *testing.T, ctx context.Context) *models.User {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	require.NoError(t, testDB.CleanupTables(ctx))

	user, err := SeedUser(ctx, testDB.Pool, "alice@example.com", "member")
	require.NoError(t, err)
	return user
}

func TestEnrollmentRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	user := freshUser(t, ctx)
	enrollments, _, _, _, _ := InitializeRepositories(testDB)

	_, err := enrollments.Get(ctx, user.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	secret := []byte("encrypted-secret")
	nonce := []byte("nonce-bytes")
	require.NoError(t, enrollments.SetPending(ctx, user.ID, models.MethodAuthenticator, secret, nonce))

	enrollment, err := enrollments.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingSetup, enrollment.Status)
	assert.Equal(t, models.MethodAuthenticator, enrollment.Method)
	assert.Equal(t, secret, enrollment.TOTPSecretEncrypted)
	assert.Equal(t, nonce, enrollment.TOTPSecretNonce)
	assert.Nil(t, enrollment.ActivatedAt)

	// Activation commits the secret that was actually verified, which may
	// differ from the pending candidate when sessions were displaced.
	verifiedSecret := []byte("verified-secret")
	verifiedNonce := []byte("verified-nonce")
	require.NoError(t, enrollments.Activate(ctx, user.ID, verifiedSecret, verifiedNonce))

	enrollment, err = enrollments.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, enrollment.Status)
	assert.Equal(t, verifiedSecret, enrollment.TOTPSecretEncrypted)
	assert.Equal(t, verifiedNonce, enrollment.TOTPSecretNonce)
	require.NotNil(t, enrollment.ActivatedAt)
	assert.WithinDuration(t, time.Now(), *enrollment.ActivatedAt, 5*time.Second)

	require.NoError(t, enrollments.Delete(ctx, user.ID))
	_, err = enrollments.Get(ctx, user.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEnrollmentRepository_SetPendingReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	user := freshUser(t, ctx)
	enrollments, _, _, _, _ := InitializeRepositories(testDB)

	require.NoError(t, enrollments.SetPending(ctx, user.ID, models.MethodAuthenticator, []byte("v1"), []byte("n1")))
	require.NoError(t, enrollments.SetPending(ctx, user.ID, models.MethodEmailOTP, nil, nil))

	enrollment, err := enrollments.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingSetup, enrollment.Status)
	assert.Equal(t, models.MethodEmailOTP, enrollment.Method)
	assert.Nil(t, enrollment.TOTPSecretEncrypted)
	assert.Nil(t, enrollment.LastUsedStep)
}

func TestEnrollmentRepository_ClaimTOTPStep(t *testing.T) {
	ctx := context.Background()
	user := freshUser(t, ctx)
	enrollments, _, _, _, _ := InitializeRepositories(testDB)

	require.NoError(t, enrollments.SetPending(ctx, user.ID, models.MethodAuthenticator, []byte("s"), []byte("n")))
	require.NoError(t, enrollments.Activate(ctx, user.ID, []byte("s"), []byte("n")))

	step := int64(58_000_000)

	claimed, err := enrollments.ClaimTOTPStep(ctx, user.ID, step)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Same step again is a replay
	claimed, err = enrollments.ClaimTOTPStep(ctx, user.ID, step)
	require.NoError(t, err)
	assert.False(t, claimed)

	// Earlier step is also a replay
	claimed, err = enrollments.ClaimTOTPStep(ctx, user.ID, step-1)
	require.NoError(t, err)
	assert.False(t, claimed)

	// Clock moves forward, the next step is claimable
	claimed, err = enrollments.ClaimTOTPStep(ctx, user.ID, step+1)
	require.NoError(t, err)
	assert.True(t, claimed)

	enrollment, err := enrollments.Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, enrollment.LastUsedStep)
	assert.Equal(t, step+1, *enrollment.LastUsedStep)
}

func TestBackupCodeRepository_ReplaceAndMarkUsed(t *testing.T) {
	ctx := context.Background()
	user := freshUser(t, ctx)
	_, backupCodes, _, _, _ := InitializeRepositories(testDB)

	hashes := []string{"hash-one", "hash-two", "hash-three"}
	require.NoError(t, backupCodes.ReplaceForUser(ctx, user.ID, hashes))

	unused, err := backupCodes.ListUnused(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, unused, 3)

	count, err := backupCodes.CountUnused(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	marked, err := backupCodes.MarkUsed(ctx, unused[0].ID)
	require.NoError(t, err)
	assert.True(t, marked)

	// Second attempt on the same code loses the race
	marked, err = backupCodes.MarkUsed(ctx, unused[0].ID)
	require.NoError(t, err)
	assert.False(t, marked)

	count, err = backupCodes.CountUnused(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Regeneration discards everything, used and unused alike
	require.NoError(t, backupCodes.ReplaceForUser(ctx, user.ID, []string{"fresh-one"}))
	count, err = backupCodes.CountUnused(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBackupCodeRepository_DeleteForUser(t *testing.T) {
	ctx := context.Background()
	user := freshUser(t, ctx)
	_, backupCodes, _, _, _ := InitializeRepositories(testDB)

	require.NoError(t, backupCodes.ReplaceForUser(ctx, user.ID, []string{"h1", "h2"}))
	require.NoError(t, backupCodes.DeleteForUser(ctx, user.ID))

	count, err := backupCodes.CountUnused(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeviceTrustRepository_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	user := freshUser(t, ctx)
	_, _, devices, _, _ := InitializeRepositories(testDB)

	until := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Millisecond)
	require.NoError(t, devices.Upsert(ctx, user.ID, "fp-laptop", until))

	trust, err := devices.Get(ctx, user.ID, "fp-laptop")
	require.NoError(t, err)
	assert.WithinDuration(t, until, trust.TrustedUntil, time.Second)

	// Re-trusting the same device extends the grant
	extended := until.Add(24 * time.Hour)
	require.NoError(t, devices.Upsert(ctx, user.ID, "fp-laptop", extended))

	trust, err = devices.Get(ctx, user.ID, "fp-laptop")
	require.NoError(t, err)
	assert.WithinDuration(t, extended, trust.TrustedUntil, time.Second)

	_, err = devices.Get(ctx, user.ID, "fp-unknown")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeviceTrustRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	user := freshUser(t, ctx)
	_, _, devices, _, _ := InitializeRepositories(testDB)

	now := time.Now()
	require.NoError(t, devices.Upsert(ctx, user.ID, "fp-old", now.Add(-time.Hour)))
	require.NoError(t, devices.Upsert(ctx, user.ID, "fp-current", now.Add(time.Hour)))

	deleted, err := devices.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = devices.Get(ctx, user.ID, "fp-old")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = devices.Get(ctx, user.ID, "fp-current")
	assert.NoError(t, err)
}

func TestDeviceTrustRepository_DeleteAll(t *testing.T) {
	ctx := context.Background()
	user := freshUser(t, ctx)
	_, _, devices, _, _ := InitializeRepositories(testDB)

	other, err := SeedUser(ctx, testDB.Pool, "bob@example.com", "member")
	require.NoError(t, err)

	until := time.Now().Add(time.Hour)
	require.NoError(t, devices.Upsert(ctx, user.ID, "fp-1", until))
	require.NoError(t, devices.Upsert(ctx, user.ID, "fp-2", until))
	require.NoError(t, devices.Upsert(ctx, other.ID, "fp-1", until))

	require.NoError(t, devices.DeleteAll(ctx, user.ID))

	_, err = devices.Get(ctx, user.ID, "fp-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Other users keep their grants
	_, err = devices.Get(ctx, other.ID, "fp-1")
	assert.NoError(t, err)
}

func TestPolicyRepository_SingletonRoundTrip(t *testing.T) {
	ctx := context.Background()
	freshUser(t, ctx)
	_, _, _, policies, _ := InitializeRepositories(testDB)

	policy, err := policies.Get(ctx)
	require.NoError(t, err)
	assert.False(t, policy.Enforced)
	assert.ElementsMatch(t, []models.Method{models.MethodAuthenticator, models.MethodEmailOTP}, policy.AllowedMethods)
	assert.Equal(t, 7, policy.GracePeriodDays)

	enforcedAt := time.Now().Truncate(time.Millisecond)
	updated := &models.Policy{
		Enforced:           true,
		AllowedMethods:     []models.Method{models.MethodAuthenticator},
		RequiredRoles:      []string{"admin"},
		GracePeriodDays:    14,
		RememberDeviceDays: 0,
		EnforcedAt:         &enforcedAt,
	}
	require.NoError(t, policies.Save(ctx, updated))

	policy, err = policies.Get(ctx)
	require.NoError(t, err)
	assert.True(t, policy.Enforced)
	assert.Equal(t, []models.Method{models.MethodAuthenticator}, policy.AllowedMethods)
	assert.Equal(t, []string{"admin"}, policy.RequiredRoles)
	assert.Equal(t, 14, policy.GracePeriodDays)
	assert.Equal(t, 0, policy.RememberDeviceDays)
	require.NotNil(t, policy.EnforcedAt)
	assert.WithinDuration(t, enforcedAt, *policy.EnforcedAt, time.Second)
}

func TestUserRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	user := freshUser(t, ctx)
	_, _, _, _, users := InitializeRepositories(testDB)

	found, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, found.Email)
	assert.Equal(t, "member", found.Role)

	_, err = users.GetByID(ctx, "0b91a9a2-65f7-4a6f-a62a-54064a47a1ae")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
