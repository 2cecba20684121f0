package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/totpguard/internal/database"
	"github.com/BradenHooton/totpguard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles 2FA audit log data access
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

// scanAuditLogRow populates an AuditLog model from a database row
func scanAuditLogRow(row rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog
	var eventType int16

	err := row.Scan(
		&log.ID, &eventType, &log.Event, &log.UserID,
		&log.Message, &log.Metadata, &log.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	log.EventType = models.TOTPEvent(eventType)

	return &log, nil
}

// scanAuditLogRows iterates through rows and scans each into AuditLog models
func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)

	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

// Create creates a new audit log entry
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	query := `
		INSERT INTO totp_audit_logs (event_type, event, user_id, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, event_type, event, user_id, message, metadata, created_at
	`

	metadata := log.Metadata
	if metadata == nil {
		metadata = models.AuditMetadata{}
	}

	result, err := scanAuditLogRow(r.pool.QueryRow(
		ctx, query,
		int16(log.EventType), log.EventType.String(), log.UserID, log.Message, metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}

	return result, nil
}

// GetByUserID retrieves the audit trail of one user, newest first
func (r *AuditLogRepository) GetByUserID(ctx context.Context, userID int64, limit int, offset int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, event_type, event, user_id, message, metadata, created_at
		FROM totp_audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}
