package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	MFA      MFAConfig
	Email    EmailConfig
	Auth     AuthConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// MFAConfig carries the subsystem's timing constants. These are enforced
// server-side and never trusted from client input.
type MFAConfig struct {
	Issuer            string
	EncryptionKey     []byte // 32-byte AES-256 key for TOTP secrets at rest
	SetupSessionTTL   time.Duration
	EmailOTPTTL       time.Duration
	AttemptWindow     time.Duration
	MaxAttempts       int
	BackupCodeCount   int
	AssertionLifetime time.Duration
	CleanupInterval   time.Duration
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

type AuthConfig struct {
	JWTSecret string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	encryptionKey, err := loadEncryptionKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "twofold"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      env,
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		MFA: MFAConfig{
			Issuer:            getEnv("MFA_ISSUER", "Twofold"),
			EncryptionKey:     encryptionKey,
			SetupSessionTTL:   getEnvAsDuration("MFA_SETUP_SESSION_TTL", 30*time.Minute),
			EmailOTPTTL:       getEnvAsDuration("MFA_EMAIL_OTP_TTL", 10*time.Minute),
			AttemptWindow:     getEnvAsDuration("MFA_ATTEMPT_WINDOW", 15*time.Minute),
			MaxAttempts:       getEnvAsInt("MFA_MAX_ATTEMPTS", 5),
			BackupCodeCount:   getEnvAsInt("MFA_BACKUP_CODE_COUNT", 10),
			AssertionLifetime: getEnvAsDuration("MFA_ASSERTION_LIFETIME", 5*time.Minute),
			CleanupInterval:   getEnvAsDuration("MFA_CLEANUP_INTERVAL", 1*time.Hour),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@twofold.dev"),
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	return cfg, nil
}

// loadEncryptionKey decodes the base64 MFA_ENCRYPTION_KEY and requires a
// full 256-bit key.
func loadEncryptionKey() ([]byte, error) {
	encoded := getEnv("MFA_ENCRYPTION_KEY", "")
	if encoded == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}

	return key, nil
}

// validateJWTSecret enforces minimum strength for the assertion signing key
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
