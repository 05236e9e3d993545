package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository handles database operations for audit logs
type AuditLogRepository struct {
	db *pgxpool.Pool
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *pgxpool.Pool) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create stores an audit log. The id is the audit run id.
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, test_id, input_text, model_used, parameters, iterations,
			violations, degraded, incomplete, report_path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	return r.db.QueryRow(
		ctx, query,
		log.ID,
		log.TestID,
		log.InputText,
		log.ModelUsed,
		log.Parameters,
		log.Iterations,
		log.Violations,
		log.Degraded,
		log.Incomplete,
		log.ReportPath,
	).Scan(&log.CreatedAt)
}

// GetByID retrieves an audit log by ID
func (r *AuditLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	query := `
		SELECT id, test_id, input_text, model_used, parameters, iterations,
			violations, degraded, incomplete, report_path, created_at
		FROM audit_logs
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&log.ID,
		&log.TestID,
		&log.InputText,
		&log.ModelUsed,
		&log.Parameters,
		&log.Iterations,
		&log.Violations,
		&log.Degraded,
		&log.Incomplete,
		&log.ReportPath,
		&log.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	return log, nil
}
