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

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// TestCaseRepository handles database operations for test cases and their results
type TestCaseRepository struct {
	db *pgxpool.Pool
}

// NewTestCaseRepository creates a new test case repository
func NewTestCaseRepository(db *pgxpool.Pool) *TestCaseRepository {
	return &TestCaseRepository{db: db}
}

// Create creates a new test case
func (r *TestCaseRepository) Create(ctx context.Context, tc *models.TestCase) error {
	query := `
		INSERT INTO test_cases (
			label, text, expected_violations, generation_method, notes
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return r.db.QueryRow(
		ctx, query,
		tc.Label,
		tc.Text,
		tc.ExpectedViolations,
		tc.GenerationMethod,
		tc.Notes,
	).Scan(&tc.ID, &tc.CreatedAt, &tc.UpdatedAt)
}

// GetByID retrieves a test case by ID
func (r *TestCaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TestCase, error) {
	tc := &models.TestCase{}
	query := `
		SELECT id, label, text, expected_violations, generation_method, notes,
			created_at, updated_at
		FROM test_cases
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&tc.ID,
		&tc.Label,
		&tc.Text,
		&tc.ExpectedViolations,
		&tc.GenerationMethod,
		&tc.Notes,
		&tc.CreatedAt,
		&tc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test case: %w", err)
	}

	if tc.ExpectedViolations == nil {
		tc.ExpectedViolations = make(models.ExpectedViolations, 0)
	}
	return tc, nil
}

// List retrieves test cases, newest first, optionally filtered by generation method
func (r *TestCaseRepository) List(ctx context.Context, method *models.GenerationMethod, limit, offset int) ([]*models.TestCase, error) {
	query := `
		SELECT id, label, text, expected_violations, generation_method, notes,
			created_at, updated_at
		FROM test_cases`

	var args []interface{}
	argIndex := 1

	if method != nil {
		query += fmt.Sprintf(" WHERE generation_method = $%d", argIndex)
		args = append(args, *method)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET $%d", argIndex)
			args = append(args, offset)
		}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list test cases: %w", err)
	}
	defer rows.Close()

	var cases []*models.TestCase
	for rows.Next() {
		tc := &models.TestCase{}
		err := rows.Scan(
			&tc.ID,
			&tc.Label,
			&tc.Text,
			&tc.ExpectedViolations,
			&tc.GenerationMethod,
			&tc.Notes,
			&tc.CreatedAt,
			&tc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}
		cases = append(cases, tc)
	}

	return cases, rows.Err()
}

// Update stores the label, text, expected violations and notes of an
// existing test case and refreshes its updated_at
func (r *TestCaseRepository) Update(ctx context.Context, tc *models.TestCase) error {
	query := `
		UPDATE test_cases
		SET label = $2, text = $3, expected_violations = $4, notes = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(
		ctx, query,
		tc.ID,
		tc.Label,
		tc.Text,
		tc.ExpectedViolations,
		tc.Notes,
	).Scan(&tc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update test case: %w", err)
	}
	return nil
}

// Delete deletes a test case and, through the foreign key, its results
func (r *TestCaseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM test_cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete test case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateResult stores a scored run of a test case
func (r *TestCaseRepository) CreateResult(ctx context.Context, res *models.TestResult) error {
	query := `
		INSERT INTO test_results (
			test_id, true_positives, false_positives, false_negatives, true_negatives,
			precision, recall, f1_score, detected_violations, tuning_parameters
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, executed_at`

	return r.db.QueryRow(
		ctx, query,
		res.TestID,
		res.TruePositives,
		res.FalsePositives,
		res.FalseNegatives,
		res.TrueNegatives,
		res.Precision,
		res.Recall,
		res.F1Score,
		res.DetectedViolations,
		res.TuningParameters,
	).Scan(&res.ID, &res.ExecutedAt)
}

// ListResults retrieves the results of a test case, newest first
func (r *TestCaseRepository) ListResults(ctx context.Context, testID uuid.UUID, limit int) ([]*models.TestResult, error) {
	query := `
		SELECT id, test_id, true_positives, false_positives, false_negatives, true_negatives,
			precision, recall, f1_score, detected_violations, tuning_parameters, executed_at
		FROM test_results
		WHERE test_id = $1
		ORDER BY executed_at DESC`

	args := []interface{}{testID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list test results: %w", err)
	}
	defer rows.Close()

	var results []*models.TestResult
	for rows.Next() {
		res := &models.TestResult{}
		err := rows.Scan(
			&res.ID,
			&res.TestID,
			&res.TruePositives,
			&res.FalsePositives,
			&res.FalseNegatives,
			&res.TrueNegatives,
			&res.Precision,
			&res.Recall,
			&res.F1Score,
			&res.DetectedViolations,
			&res.TuningParameters,
			&res.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test result: %w", err)
		}
		if res.DetectedViolations == nil {
			res.DetectedViolations = make(models.Violations, 0)
		}
		results = append(results, res)
	}

	return results, rows.Err()
}
