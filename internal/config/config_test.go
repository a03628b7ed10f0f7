package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "a-reasonably-long-test-secret")
	t.Setenv("DB_PASSWORD", "testpass")
	t.Setenv("MFA_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "8080", cfg.Server.Port)

	assert.Equal(t, 30*time.Minute, cfg.MFA.SetupSessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.MFA.EmailOTPTTL)
	assert.Equal(t, 15*time.Minute, cfg.MFA.AttemptWindow)
	assert.Equal(t, 5, cfg.MFA.MaxAttempts)
	assert.Equal(t, 10, cfg.MFA.BackupCodeCount)
	assert.Equal(t, 5*time.Minute, cfg.MFA.AssertionLifetime)
	assert.Len(t, cfg.MFA.EncryptionKey, 32)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MFA_SETUP_SESSION_TTL", "45m")
	t.Setenv("MFA_MAX_ATTEMPTS", "3")
	t.Setenv("MFA_ISSUER", "ExampleCorp")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Minute, cfg.MFA.SetupSessionTTL)
	assert.Equal(t, 3, cfg.MFA.MaxAttempts)
	assert.Equal(t, "ExampleCorp", cfg.MFA.Issuer)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_MissingEncryptionKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MFA_ENCRYPTION_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_EncryptionKeyWrongLength(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MFA_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(make([]byte, 16)))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoad_EncryptionKeyNotBase64(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MFA_ENCRYPTION_KEY", "!!not-base64!!")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateJWTSecret(t *testing.T) {
	assert.NoError(t, validateJWTSecret("a-reasonably-long-secret", "development"))
	assert.Error(t, validateJWTSecret("short", "development"))
	assert.Error(t, validateJWTSecret("a-16-char-secret", "production"), "production requires 32 chars")
	assert.Error(t, validateJWTSecret("changeme", "development"))
}

func TestDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "app",
		Password: "pw",
		Name:     "twofold",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=db.internal port=5433 user=app password=pw dbname=twofold sslmode=require",
		cfg.DSN())
}
