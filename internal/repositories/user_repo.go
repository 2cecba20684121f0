package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/totpguard/internal/database"
	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, name, role, totp_secret, totp_enabled, totp_trusted_version, totp_backup_codes, created_at, updated_at`

// UserRepository reads accounts and persists their 2FA columns. Identity columns
// belong to the host application and are never written here.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning user rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var secret *string
	var backupCodes []string

	err := scanner.Scan(
		&user.ID, &user.Email, &user.Name, &user.Role,
		&secret, &user.Enabled, &user.TrustedVersion, &backupCodes,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.SetSecret(secret)
	user.BackupCodes = backupCodes
	if user.BackupCodes == nil {
		user.BackupCodes = []string{}
	}

	return &user, nil
}

// scanUserRows iterates through rows and scans each into User models
func scanUserRows(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := make([]*models.User, 0)

	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUserRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SaveTOTPState writes the four 2FA columns in one statement. Concurrent saves for
// the same account are last-writer-wins; the table's check constraint rejects an
// enabled row without a secret.
func (r *UserRepository) SaveTOTPState(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET totp_secret = $2, totp_enabled = $3, totp_trusted_version = $4,
		    totp_backup_codes = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	codes := user.BackupCodes
	if codes == nil {
		codes = []string{}
	}

	err := r.pool.QueryRow(ctx, query,
		user.ID, user.Secret, user.IsEnabled(), user.TrustedVersion, codes,
	).Scan(&user.UpdatedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

// BulkIncrementTrustedVersion invalidates trusted devices for every account with 2FA
// enabled in a single statement and returns the number of accounts touched
func (r *UserRepository) BulkIncrementTrustedVersion(ctx context.Context) (int64, error) {
	query := `
		UPDATE users
		SET totp_trusted_version = totp_trusted_version + 1, updated_at = NOW()
		WHERE totp_enabled AND totp_secret IS NOT NULL
	`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to clear trusted devices: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

// List returns users ordered by id for the admin overview
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return scanUserRows(rows)
}

// ListTOTPEnabled returns every account with 2FA enabled
func (r *UserRepository) ListTOTPEnabled(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE totp_enabled ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list 2FA users: %w", err)
	}
	return scanUserRows(rows)
}

// Count returns the total number of users
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
