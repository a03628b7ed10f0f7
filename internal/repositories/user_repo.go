package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/twofold-auth/twofold/internal/models"
)

// UserRepository is the read-only identity lookup this subsystem consumes.
// Account lifecycle belongs to the platform's user service.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type userRepoImpl struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) UserRepository {
	return &userRepoImpl{db: db}
}

// GetByID retrieves a user by ID
func (r *userRepoImpl) GetByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}

	query := `SELECT id, email, role, created_at FROM users WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Role,
		&user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}
