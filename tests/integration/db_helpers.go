package integration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/twofold-auth/twofold/internal/database"
	"github.com/twofold-auth/twofold/internal/models"
	"github.com/twofold-auth/twofold/internal/repositories"
)

// TestDB manages the PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs the embedded
// migrations, and returns a TestDB.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("twofold"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := database.NewFromPool(pool, slog.Default())
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         db,
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation. The policy
// singleton is reseeded to its default afterwards.
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"mfa_backup_codes",
		"mfa_device_trust",
		"mfa_enrollments",
		"users",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	reset := `
		UPDATE mfa_policy
		SET enforced = FALSE,
		    allowed_methods = ARRAY['authenticator', 'email_otp'],
		    required_roles = ARRAY[]::TEXT[],
		    grace_period_days = 7,
		    remember_device_days = 30,
		    enforced_at = NULL,
		    updated_at = NOW()
		WHERE id = 1
	`
	if _, err := db.Pool.Exec(ctx, reset); err != nil {
		return fmt.Errorf("failed to reset policy: %w", err)
	}

	return nil
}

// InitializeRepositories creates all repository instances for a test
func InitializeRepositories(db *TestDB) (
	repositories.EnrollmentRepository,
	repositories.BackupCodeRepository,
	repositories.DeviceTrustRepository,
	repositories.PolicyRepository,
	repositories.UserRepository,
) {
	return repositories.NewEnrollmentRepository(db.Pool),
		repositories.NewBackupCodeRepository(db.Pool),
		repositories.NewDeviceTrustRepository(db.Pool),
		repositories.NewPolicyRepository(db.Pool),
		repositories.NewUserRepository(db.Pool)
}

// SeedUser inserts a test user and returns it
func SeedUser(ctx context.Context, pool *pgxpool.Pool, email, role string) (*models.User, error) {
	query := `
		INSERT INTO users (id, email, role, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, email, role, created_at
	`

	var user models.User
	err := pool.QueryRow(ctx, query, uuid.NewString(), email, role).Scan(
		&user.ID,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return &user, nil
}
