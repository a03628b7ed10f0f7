package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/twofold-auth/twofold/internal/models"
)

// BackupCodeRepository defines backup code persistence operations
type BackupCodeRepository interface {
	ReplaceForUser(ctx context.Context, userID string, codeHashes []string) error
	ListUnused(ctx context.Context, userID string) ([]models.BackupCode, error)
	// MarkUsed consumes a code. Returns false when another request already
	// consumed it; two requests racing on the same code see exactly one true.
	MarkUsed(ctx context.Context, codeID string) (bool, error)
	CountUnused(ctx context.Context, userID string) (int, error)
	DeleteForUser(ctx context.Context, userID string) error
}

type backupCodeRepoImpl struct {
	db *pgxpool.Pool
}

// NewBackupCodeRepository creates a new backup code repository
func NewBackupCodeRepository(db *pgxpool.Pool) BackupCodeRepository {
	return &backupCodeRepoImpl{db: db}
}

// ReplaceForUser swaps the user's full backup code set in one transaction.
func (r *backupCodeRepoImpl) ReplaceForUser(ctx context.Context, userID string, codeHashes []string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete old backup codes: %w", err)
	}

	rows := make([][]any, len(codeHashes))
	for i, hash := range codeHashes {
		rows[i] = []any{userID, hash}
	}

	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"mfa_backup_codes"},
		[]string{"user_id", "code_hash"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("failed to insert backup codes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit backup codes: %w", err)
	}

	return nil
}

// ListUnused returns the user's unused codes for hash comparison.
func (r *backupCodeRepoImpl) ListUnused(ctx context.Context, userID string) ([]models.BackupCode, error) {
	query := `
		SELECT id, user_id, code_hash, used_at, created_at
		FROM mfa_backup_codes
		WHERE user_id = $1 AND used_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup codes: %w", err)
	}
	defer rows.Close()

	var codes []models.BackupCode
	for rows.Next() {
		var code models.BackupCode
		if err := rows.Scan(&code.ID, &code.UserID, &code.CodeHash, &code.UsedAt, &code.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup code: %w", err)
		}
		codes = append(codes, code)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backup codes: %w", err)
	}

	return codes, nil
}

// MarkUsed is the atomic check-and-mark: the used_at IS NULL predicate makes
// the row claimable by at most one request.
func (r *backupCodeRepoImpl) MarkUsed(ctx context.Context, codeID string) (bool, error) {
	query := `
		UPDATE mfa_backup_codes
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, codeID)
	if err != nil {
		return false, fmt.Errorf("failed to mark backup code used: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// CountUnused returns how many codes the user has left.
func (r *backupCodeRepoImpl) CountUnused(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NULL`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count backup codes: %w", err)
	}

	return count, nil
}

// DeleteForUser removes all of a user's backup codes.
func (r *backupCodeRepoImpl) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete backup codes: %w", err)
	}
	return nil
}
