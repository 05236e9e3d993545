package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RobertJohnDavidson/rag-style-check/evaluation"
	"github.com/RobertJohnDavidson/rag-style-check/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxGenerateCount = 20
)

// ErrInvalidTestCase is returned for test cases that fail validation
var ErrInvalidTestCase = errors.New("invalid test case")

var validate = validator.New(validator.WithRequiredStructEnabled())

// TestCaseStore persists test cases and their results
type TestCaseStore interface {
	Create(ctx context.Context, tc *models.TestCase) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.TestCase, error)
	Update(ctx context.Context, tc *models.TestCase) error
	List(ctx context.Context, method *models.GenerationMethod, limit, offset int) ([]*models.TestCase, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CreateResult(ctx context.Context, res *models.TestResult) error
	ListResults(ctx context.Context, testID uuid.UUID, limit int) ([]*models.TestResult, error)
}

// CaseGenerator writes synthetic labelled test cases
type CaseGenerator interface {
	Synthetic(ctx context.Context, count int) ([]evaluation.Case, error)
}

// TestService manages labelled test cases and scored runs of them
type TestService struct {
	tests     TestCaseStore
	audits    *AuditService
	generator CaseGenerator
}

// TestServiceOption is a functional option for TestService
type TestServiceOption func(*TestService)

// WithTestCaseStore sets the test case store
func WithTestCaseStore(store TestCaseStore) TestServiceOption {
	return func(s *TestService) {
		s.tests = store
	}
}

// WithAuditService sets the service used to run test cases
func WithAuditService(a *AuditService) TestServiceOption {
	return func(s *TestService) {
		s.audits = a
	}
}

// WithCaseGenerator sets the synthetic test case generator
func WithCaseGenerator(g CaseGenerator) TestServiceOption {
	return func(s *TestService) {
		s.generator = g
	}
}

// NewTestService creates a new test service
func NewTestService(opts ...TestServiceOption) *TestService {
	s := &TestService{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTestRequest represents a request to create a test case
type CreateTestRequest struct {
	Label    string                     `validate:"required,max=200"`
	Text     string                     `validate:"required"`
	Expected []models.ExpectedViolation `validate:"dive"`
	Method   models.GenerationMethod    `validate:"omitempty,oneof=manual synthetic imported"`
	Notes    *string
}

// CreateTest validates and stores a new test case
func (s *TestService) CreateTest(ctx context.Context, req CreateTestRequest) (*models.TestCase, error) {
	if s.tests == nil {
		return nil, fmt.Errorf("%w: test case store not set", ErrNotConfigured)
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTestCase, err)
	}
	if err := checkExpected(req.Expected); err != nil {
		return nil, err
	}

	tc := &models.TestCase{
		Label:              req.Label,
		Text:               req.Text,
		ExpectedViolations: req.Expected,
		GenerationMethod:   req.Method,
		Notes:              req.Notes,
	}
	if tc.ExpectedViolations == nil {
		tc.ExpectedViolations = make(models.ExpectedViolations, 0)
	}
	if tc.GenerationMethod == "" {
		tc.GenerationMethod = models.GenerationManual
	}

	if err := s.tests.Create(ctx, tc); err != nil {
		return nil, err
	}
	return tc, nil
}

// GetTest retrieves a test case by ID
func (s *TestService) GetTest(ctx context.Context, id uuid.UUID) (*models.TestCase, error) {
	if s.tests == nil {
		return nil, fmt.Errorf("%w: test case store not set", ErrNotConfigured)
	}
	return s.tests.GetByID(ctx, id)
}

// ListTestsRequest represents a paged test case listing
type ListTestsRequest struct {
	Method *models.GenerationMethod
	Limit  int
	Offset int
}

// ListTests lists test cases, newest first
func (s *TestService) ListTests(ctx context.Context, req ListTestsRequest) ([]*models.TestCase, error) {
	if s.tests == nil {
		return nil, fmt.Errorf("%w: test case store not set", ErrNotConfigured)
	}
	cases, err := s.tests.List(ctx, req.Method, clampLimit(req.Limit), max(req.Offset, 0))
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []*models.TestCase{}
	}
	return cases, nil
}

// UpdateTestRequest changes the fields that are set and leaves the rest
type UpdateTestRequest struct {
	Label    *string                     `validate:"omitnil,min=1,max=200"`
	Text     *string                     `validate:"omitnil,min=1"`
	Expected *[]models.ExpectedViolation `validate:"omitnil"`
	Notes    *string
}

// UpdateTest applies a partial update to a stored test case
func (s *TestService) UpdateTest(ctx context.Context, id uuid.UUID, req UpdateTestRequest) (*models.TestCase, error) {
	if s.tests == nil {
		return nil, fmt.Errorf("%w: test case store not set", ErrNotConfigured)
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTestCase, err)
	}
	if req.Expected != nil {
		if err := checkExpected(*req.Expected); err != nil {
			return nil, err
		}
	}

	tc, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Label != nil {
		tc.Label = *req.Label
	}
	if req.Text != nil {
		tc.Text = *req.Text
	}
	if req.Expected != nil {
		tc.ExpectedViolations = append(make(models.ExpectedViolations, 0, len(*req.Expected)), *req.Expected...)
	}
	if req.Notes != nil {
		tc.Notes = req.Notes
	}

	if err := s.tests.Update(ctx, tc); err != nil {
		return nil, err
	}
	return tc, nil
}

// GenerateTests writes count synthetic test cases and stores them. Cases
// generated before a model failure are stored and returned with the error.
func (s *TestService) GenerateTests(ctx context.Context, count int) ([]*models.TestCase, error) {
	if s.tests == nil || s.generator == nil {
		return nil, fmt.Errorf("%w: test case store or generator not set", ErrNotConfigured)
	}
	if count < 1 || count > maxGenerateCount {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidTestCase, maxGenerateCount)
	}

	cases, genErr := s.generator.Synthetic(ctx, count)
	stored := make([]*models.TestCase, 0, len(cases))
	for _, c := range cases {
		tc := &models.TestCase{
			Label:              c.Label,
			Text:               c.Text,
			ExpectedViolations: append(make(models.ExpectedViolations, 0, len(c.Expected)), c.Expected...),
			GenerationMethod:   models.GenerationSynthetic,
		}
		if err := s.tests.Create(ctx, tc); err != nil {
			return stored, err
		}
		stored = append(stored, tc)
	}
	if genErr != nil {
		return stored, fmt.Errorf("failed to generate test cases: %w", genErr)
	}
	return stored, nil
}

// DeleteTest deletes a test case together with its results
func (s *TestService) DeleteTest(ctx context.Context, id uuid.UUID) error {
	if s.tests == nil {
		return fmt.Errorf("%w: test case store not set", ErrNotConfigured)
	}
	return s.tests.Delete(ctx, id)
}

// RunTestResult is the outcome of running one test case
type RunTestResult struct {
	Test   *models.TestCase    `json:"test"`
	Result *models.TestResult  `json:"result"`
	Audit  *models.AuditResult `json:"audit"`
}

// RunTest audits a stored test case with the given parameter overrides,
// scores it against the labelled violations and stores the result
func (s *TestService) RunTest(ctx context.Context, id uuid.UUID, params json.RawMessage) (*RunTestResult, error) {
	if s.tests == nil || s.audits == nil {
		return nil, fmt.Errorf("%w: test case store or audit service not set", ErrNotConfigured)
	}

	tc, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	eval, resolved, err := s.audits.RunEvaluation(ctx, EvaluateRequest{
		Text:       tc.Text,
		Expected:   tc.ExpectedViolations,
		Parameters: params,
		TestID:     &tc.ID,
	})
	if err != nil {
		return nil, err
	}

	m := eval.Metrics
	res := &models.TestResult{
		TestID:             tc.ID,
		TruePositives:      m.TruePositives,
		FalsePositives:     m.FalsePositives,
		FalseNegatives:     m.FalseNegatives,
		TrueNegatives:      m.TrueNegatives,
		Precision:          m.Precision,
		Recall:             m.Recall,
		F1Score:            m.F1,
		DetectedViolations: eval.Audit.Violations,
		TuningParameters:   &resolved,
	}
	if err := s.tests.CreateResult(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to store test result: %w", err)
	}

	return &RunTestResult{Test: tc, Result: res, Audit: eval.Audit}, nil
}

// ListResults lists the stored runs of a test case, newest first
func (s *TestService) ListResults(ctx context.Context, id uuid.UUID, limit int) ([]*models.TestResult, error) {
	if s.tests == nil {
		return nil, fmt.Errorf("%w: test case store not set", ErrNotConfigured)
	}
	if _, err := s.tests.GetByID(ctx, id); err != nil {
		return nil, err
	}
	results, err := s.tests.ListResults(ctx, id, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []*models.TestResult{}
	}
	return results, nil
}

func checkExpected(expected []models.ExpectedViolation) error {
	for i, e := range expected {
		if e.Rule == "" {
			return fmt.Errorf("%w: expected violation %d has no rule", ErrInvalidTestCase, i)
		}
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}
