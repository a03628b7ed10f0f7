package services

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/twofold-auth/twofold/internal/cache"
	"github.com/twofold-auth/twofold/internal/models"
	"github.com/twofold-auth/twofold/internal/otp"
)

// MockEnrollmentRepository implements EnrollmentRepository for testing
type MockEnrollmentRepository struct {
	GetFunc           func(ctx context.Context, userID string) (*models.Enrollment, error)
	SetPendingFunc    func(ctx context.Context, userID string, method models.Method, secretEncrypted, secretNonce []byte) error
	ActivateFunc      func(ctx context.Context, userID string, secretEncrypted, secretNonce []byte) error
	ClaimTOTPStepFunc func(ctx context.Context, userID string, step int64) (bool, error)
	DeleteFunc        func(ctx context.Context, userID string) error
}

func (m *MockEnrollmentRepository) Get(ctx context.Context, userID string) (*models.Enrollment, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockEnrollmentRepository) SetPending(ctx context.Context, userID string, method models.Method, secretEncrypted, secretNonce []byte) error {
	if m.SetPendingFunc != nil {
		return m.SetPendingFunc(ctx, userID, method, secretEncrypted, secretNonce)
	}
	return nil
}

func (m *MockEnrollmentRepository) Activate(ctx context.Context, userID string, secretEncrypted, secretNonce []byte) error {
	if m.ActivateFunc != nil {
		return m.ActivateFunc(ctx, userID, secretEncrypted, secretNonce)
	}
	return nil
}

func (m *MockEnrollmentRepository) ClaimTOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	if m.ClaimTOTPStepFunc != nil {
		return m.ClaimTOTPStepFunc(ctx, userID, step)
	}
	return true, nil
}

func (m *MockEnrollmentRepository) Delete(ctx context.Context, userID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID)
	}
	return nil
}

// MockBackupCodeRepository implements BackupCodeRepository for testing
type MockBackupCodeRepository struct {
	ReplaceForUserFunc func(ctx context.Context, userID string, codeHashes []string) error
	ListUnusedFunc     func(ctx context.Context, userID string) ([]models.BackupCode, error)
	MarkUsedFunc       func(ctx context.Context, codeID string) (bool, error)
	CountUnusedFunc    func(ctx context.Context, userID string) (int, error)
	DeleteForUserFunc  func(ctx context.Context, userID string) error
}

func (m *MockBackupCodeRepository) ReplaceForUser(ctx context.Context, userID string, codeHashes []string) error {
	if m.ReplaceForUserFunc != nil {
		return m.ReplaceForUserFunc(ctx, userID, codeHashes)
	}
	return nil
}

func (m *MockBackupCodeRepository) ListUnused(ctx context.Context, userID string) ([]models.BackupCode, error) {
	if m.ListUnusedFunc != nil {
		return m.ListUnusedFunc(ctx, userID)
	}
	return []models.BackupCode{}, nil
}

func (m *MockBackupCodeRepository) MarkUsed(ctx context.Context, codeID string) (bool, error) {
	if m.MarkUsedFunc != nil {
		return m.MarkUsedFunc(ctx, codeID)
	}
	return true, nil
}

func (m *MockBackupCodeRepository) CountUnused(ctx context.Context, userID string) (int, error) {
	if m.CountUnusedFunc != nil {
		return m.CountUnusedFunc(ctx, userID)
	}
	return 0, nil
}

func (m *MockBackupCodeRepository) DeleteForUser(ctx context.Context, userID string) error {
	if m.DeleteForUserFunc != nil {
		return m.DeleteForUserFunc(ctx, userID)
	}
	return nil
}

// MockDeviceTrustRepository implements DeviceTrustRepository for testing
type MockDeviceTrustRepository struct {
	GetFunc           func(ctx context.Context, userID, fingerprint string) (*models.DeviceTrust, error)
	UpsertFunc        func(ctx context.Context, userID, fingerprint string, trustedUntil time.Time) error
	DeleteFunc        func(ctx context.Context, userID, fingerprint string) error
	DeleteAllFunc     func(ctx context.Context, userID string) error
	DeleteExpiredFunc func(ctx context.Context, before time.Time) (int64, error)
}

func (m *MockDeviceTrustRepository) Get(ctx context.Context, userID, fingerprint string) (*models.DeviceTrust, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID, fingerprint)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceTrustRepository) Upsert(ctx context.Context, userID, fingerprint string, trustedUntil time.Time) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, userID, fingerprint, trustedUntil)
	}
	return nil
}

func (m *MockDeviceTrustRepository) Delete(ctx context.Context, userID, fingerprint string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, userID, fingerprint)
	}
	return nil
}

func (m *MockDeviceTrustRepository) DeleteAll(ctx context.Context, userID string) error {
	if m.DeleteAllFunc != nil {
		return m.DeleteAllFunc(ctx, userID)
	}
	return nil
}

func (m *MockDeviceTrustRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, before)
	}
	return 0, nil
}

// MockPolicyRepository implements PolicyRepository for testing
type MockPolicyRepository struct {
	GetFunc  func(ctx context.Context) (*models.Policy, error)
	SaveFunc func(ctx context.Context, policy *models.Policy) error
}

func (m *MockPolicyRepository) Get(ctx context.Context) (*models.Policy, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx)
	}
	return models.DefaultPolicy(), nil
}

func (m *MockPolicyRepository) Save(ctx context.Context, policy *models.Policy) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, policy)
	}
	return nil
}

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SendOneTimeCodeFunc func(ctx context.Context, email, code string, expiresAt time.Time) error
	SentCodes           []string
}

func (m *MockEmailService) SendOneTimeCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	if m.SendOneTimeCodeFunc != nil {
		return m.SendOneTimeCodeFunc(ctx, email, code, expiresAt)
	}
	m.SentCodes = append(m.SentCodes, code)
	return nil
}

// testStores wires the redis-backed stores against an in-process miniredis.
type testStores struct {
	redis    *miniredis.Miniredis
	sessions *cache.SetupSessionStore
	otps     *cache.EmailOTPStore
	limiter  *cache.AttemptLimiter
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &testStores{
		redis:    mr,
		sessions: cache.NewSetupSessionStore(client),
		otps:     cache.NewEmailOTPStore(client),
		limiter:  cache.NewAttemptLimiter(client, 5, 15*time.Minute),
	}
}

func newTestGenerator(t *testing.T) *otp.Generator {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	gen, err := otp.NewGenerator(key, "Twofold")
	require.NoError(t, err)
	return gen
}

// Test data builders

func NewTestUser(id, email, role string) *models.User {
	return &models.User{
		ID:        id,
		Email:     email,
		Role:      role,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	}
}

func NewTestEnrollment(userID string, method models.Method, status models.EnrollmentStatus) *models.Enrollment {
	now := time.Now()
	e := &models.Enrollment{
		UserID:    userID,
		Status:    status,
		Method:    method,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == models.StatusActive {
		e.ActivatedAt = &now
	}
	return e
}

// NewTestTOTPEnrollment builds an active authenticator enrollment whose
// secret the given generator can decrypt.
func NewTestTOTPEnrollment(t *testing.T, gen *otp.Generator, userID, secretBase32 string) *models.Enrollment {
	t.Helper()

	encrypted, nonce, err := gen.EncryptSecret([]byte(secretBase32))
	require.NoError(t, err)

	e := NewTestEnrollment(userID, models.MethodAuthenticator, models.StatusActive)
	e.TOTPSecretEncrypted = encrypted
	e.TOTPSecretNonce = nonce
	return e
}
