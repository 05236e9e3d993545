package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RobertJohnDavidson/rag-style-check/audit"
	"github.com/RobertJohnDavidson/rag-style-check/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidParameters wraps tuning parameter decode and range failures
	ErrInvalidParameters = errors.New("invalid tuning parameters")
	// ErrNotConfigured is returned when a required dependency was not set
	ErrNotConfigured = errors.New("service not configured")
)

// Auditor runs audits and evaluations
type Auditor interface {
	Audit(ctx context.Context, text string, params models.TuningParameters) (*models.AuditResult, error)
	Evaluate(ctx context.Context, text string, expected []models.ExpectedViolation, params models.TuningParameters) (*audit.EvaluationResult, error)
}

// AuditLogStore persists audit logs
type AuditLogStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)
}

// ReportArchive stores full audit reports
type ReportArchive interface {
	Save(ctx context.Context, result *models.AuditResult) (string, error)
	Load(ctx context.Context, id uuid.UUID) (*models.AuditResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// AuditService runs audits with request-level tuning overrides and records them
type AuditService struct {
	auditor  Auditor
	logs     AuditLogStore
	reports  ReportArchive
	defaults models.TuningParameters
	logger   *zap.Logger
}

// AuditServiceOption is a functional option for AuditService
type AuditServiceOption func(*AuditService)

// WithAuditor sets the auditor
func WithAuditor(a Auditor) AuditServiceOption {
	return func(s *AuditService) {
		s.auditor = a
	}
}

// WithAuditLogStore sets the audit log store
func WithAuditLogStore(store AuditLogStore) AuditServiceOption {
	return func(s *AuditService) {
		s.logs = store
	}
}

// WithReportArchive sets the report archive
func WithReportArchive(archive ReportArchive) AuditServiceOption {
	return func(s *AuditService) {
		s.reports = archive
	}
}

// WithDefaultParameters sets the parameters overrides are applied to
func WithDefaultParameters(p models.TuningParameters) AuditServiceOption {
	return func(s *AuditService) {
		s.defaults = p
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) AuditServiceOption {
	return func(s *AuditService) {
		s.logger = l
	}
}

// NewAuditService creates a new audit service
func NewAuditService(opts ...AuditServiceOption) *AuditService {
	s := &AuditService{
		defaults: models.DefaultTuningParameters(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultParameters returns the parameters request overrides are applied to
func (s *AuditService) DefaultParameters() models.TuningParameters {
	return s.defaults
}

// ResolveParameters applies a partial JSON override to the service defaults
// and validates the result
func (s *AuditService) ResolveParameters(raw json.RawMessage) (models.TuningParameters, error) {
	params, err := s.defaults.ApplyOverrides(raw)
	if err != nil {
		return params, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return params, nil
}

// AuditRequest represents a request to audit a text
type AuditRequest struct {
	Text       string
	Parameters json.RawMessage
	TestID     *uuid.UUID
}

// RunAudit audits a text and records the run
func (s *AuditService) RunAudit(ctx context.Context, req AuditRequest) (*models.AuditResult, error) {
	if s.auditor == nil {
		return nil, fmt.Errorf("%w: auditor not set", ErrNotConfigured)
	}

	params, err := s.ResolveParameters(req.Parameters)
	if err != nil {
		return nil, err
	}

	result, err := s.auditor.Audit(ctx, req.Text, params)
	if err != nil {
		return nil, err
	}

	s.record(ctx, req.Text, params, result, req.TestID)
	return result, nil
}

// EvaluateRequest represents a request to audit a text and score it
// against labelled violations
type EvaluateRequest struct {
	Text       string
	Expected   []models.ExpectedViolation
	Parameters json.RawMessage
	TestID     *uuid.UUID
}

// RunEvaluation audits a text, scores the result and records the run
func (s *AuditService) RunEvaluation(ctx context.Context, req EvaluateRequest) (*audit.EvaluationResult, models.TuningParameters, error) {
	if s.auditor == nil {
		return nil, models.TuningParameters{}, fmt.Errorf("%w: auditor not set", ErrNotConfigured)
	}

	params, err := s.ResolveParameters(req.Parameters)
	if err != nil {
		return nil, params, err
	}

	res, err := s.auditor.Evaluate(ctx, req.Text, req.Expected, params)
	if err != nil {
		return nil, params, err
	}

	s.record(ctx, req.Text, params, res.Audit, req.TestID)
	return res, params, nil
}

// GetReport loads an archived audit report
func (s *AuditService) GetReport(ctx context.Context, id uuid.UUID) (*models.AuditResult, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("%w: report archive not set", ErrNotConfigured)
	}
	return s.reports.Load(ctx, id)
}

// DeleteReport removes the archived report of an audit. Deleting a report
// that is already gone succeeds.
func (s *AuditService) DeleteReport(ctx context.Context, id uuid.UUID) error {
	if s.reports == nil {
		return fmt.Errorf("%w: report archive not set", ErrNotConfigured)
	}
	return s.reports.Delete(ctx, id)
}

// GetAuditLog retrieves the stored log of an audit run
func (s *AuditService) GetAuditLog(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	if s.logs == nil {
		return nil, fmt.Errorf("%w: audit log store not set", ErrNotConfigured)
	}
	return s.logs.GetByID(ctx, id)
}

// record archives the report and writes the audit log. Failures are logged
// and never fail the audit itself.
func (s *AuditService) record(ctx context.Context, text string, params models.TuningParameters, result *models.AuditResult, testID *uuid.UUID) {
	var reportPath *string
	if s.reports != nil {
		path, err := s.reports.Save(ctx, result)
		if err != nil {
			s.logger.Warn("failed to archive audit report",
				zap.String("audit_id", result.ID.String()),
				zap.Error(err),
			)
		} else {
			reportPath = &path
		}
	}

	if s.logs == nil {
		return
	}
	log := &models.AuditLog{
		ID:         result.ID,
		TestID:     testID,
		InputText:  text,
		ModelUsed:  result.Model,
		Parameters: params,
		Iterations: result.Iterations,
		Violations: result.Violations,
		Degraded:   result.Degraded,
		Incomplete: result.Incomplete,
		ReportPath: reportPath,
	}
	if err := s.logs.Create(ctx, log); err != nil {
		s.logger.Warn("failed to store audit log",
			zap.String("audit_id", result.ID.String()),
			zap.Error(err),
		)
	}
}
