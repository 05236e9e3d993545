package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RobertJohnDavidson/rag-style-check/audit"
	"github.com/RobertJohnDavidson/rag-style-check/evaluation"
	"github.com/RobertJohnDavidson/rag-style-check/models"
	"github.com/RobertJohnDavidson/rag-style-check/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuditor struct {
	mu     sync.Mutex
	params []models.TuningParameters
	err    error
}

func (f *fakeAuditor) Audit(ctx context.Context, text string, params models.TuningParameters) (*models.AuditResult, error) {
	f.mu.Lock()
	f.params = append(f.params, params)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &models.AuditResult{
		ID:         uuid.New(),
		Violations: models.Violations{{RuleID: "cabinet", Text: "Cabinet", Reason: "lowercase"}},
		Iterations: []models.IterationTrace{{Iteration: 1, Outcome: "converged"}},
		Model:      params.ModelName,
	}, nil
}

func (f *fakeAuditor) Evaluate(ctx context.Context, text string, expected []models.ExpectedViolation, params models.TuningParameters) (*audit.EvaluationResult, error) {
	res, err := f.Audit(ctx, text, params)
	if err != nil {
		return nil, err
	}
	return &audit.EvaluationResult{
		Audit:   res,
		Metrics: evaluation.Score(expected, res.Violations, params.MatchMode),
	}, nil
}

type fakeLogs struct {
	logs []*models.AuditLog
	err  error
}

func (f *fakeLogs) Create(ctx context.Context, log *models.AuditLog) error {
	if f.err != nil {
		return f.err
	}
	log.CreatedAt = time.Now()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeLogs) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	for _, l := range f.logs {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeReports struct {
	saved map[uuid.UUID]*models.AuditResult
	err   error
}

func (f *fakeReports) Save(ctx context.Context, result *models.AuditResult) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.saved == nil {
		f.saved = make(map[uuid.UUID]*models.AuditResult)
	}
	f.saved[result.ID] = result
	return "reports/" + result.ID.String() + ".json", nil
}

func (f *fakeReports) Load(ctx context.Context, id uuid.UUID) (*models.AuditResult, error) {
	if r, ok := f.saved[id]; ok {
		return r, nil
	}
	return nil, errors.New("object not found")
}

func (f *fakeReports) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.saved, id)
	return nil
}

type fakeTests struct {
	cases   map[uuid.UUID]*models.TestCase
	results []*models.TestResult
	limit   int
}

func newFakeTests() *fakeTests {
	return &fakeTests{cases: make(map[uuid.UUID]*models.TestCase)}
}

func (f *fakeTests) Create(ctx context.Context, tc *models.TestCase) error {
	tc.ID = uuid.New()
	f.cases[tc.ID] = tc
	return nil
}

func (f *fakeTests) GetByID(ctx context.Context, id uuid.UUID) (*models.TestCase, error) {
	tc, ok := f.cases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return tc, nil
}

func (f *fakeTests) Update(ctx context.Context, tc *models.TestCase) error {
	if _, ok := f.cases[tc.ID]; !ok {
		return repository.ErrNotFound
	}
	tc.UpdatedAt = time.Now()
	f.cases[tc.ID] = tc
	return nil
}

func (f *fakeTests) List(ctx context.Context, method *models.GenerationMethod, limit, offset int) ([]*models.TestCase, error) {
	f.limit = limit
	return nil, nil
}

func (f *fakeTests) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.cases[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.cases, id)
	return nil
}

func (f *fakeTests) CreateResult(ctx context.Context, res *models.TestResult) error {
	res.ID = uuid.New()
	f.results = append(f.results, res)
	return nil
}

func (f *fakeTests) ListResults(ctx context.Context, testID uuid.UUID, limit int) ([]*models.TestResult, error) {
	f.limit = limit
	var out []*models.TestResult
	for _, r := range f.results {
		if r.TestID == testID {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestResolveParametersAppliesOverrides(t *testing.T) {
	s := NewAuditService()

	params, err := s.ResolveParameters(json.RawMessage(`{"max_agent_iterations": 5, "use_llm_rerank": true}`))
	require.NoError(t, err)
	assert.Equal(t, 5, params.MaxAgentIterations)
	assert.True(t, params.UseLLMRerank)
	assert.Equal(t, models.DefaultTuningParameters().FinalTopK, params.FinalTopK)

	params, err = s.ResolveParameters(nil)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTuningParameters(), params)
}

func TestResolveParametersRejectsInvalid(t *testing.T) {
	s := NewAuditService()

	_, err := s.ResolveParameters(json.RawMessage(`{"max_agent_iterations": 0}`))
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = s.ResolveParameters(json.RawMessage(`{"no_such_field": 1}`))
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = s.ResolveParameters(json.RawMessage(`{"temperature": "hot"}`))
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestRunAuditRecordsLogAndReport(t *testing.T) {
	logs := &fakeLogs{}
	reports := &fakeReports{}
	s := NewAuditService(
		WithAuditor(&fakeAuditor{}),
		WithAuditLogStore(logs),
		WithReportArchive(reports),
	)

	result, err := s.RunAudit(context.Background(), AuditRequest{Text: "The Cabinet met."})
	require.NoError(t, err)

	require.Len(t, logs.logs, 1)
	log := logs.logs[0]
	assert.Equal(t, result.ID, log.ID)
	assert.Equal(t, "The Cabinet met.", log.InputText)
	assert.Equal(t, result.Violations, log.Violations)
	require.NotNil(t, log.ReportPath)
	assert.Contains(t, *log.ReportPath, result.ID.String())
	assert.Nil(t, log.TestID)

	stored, err := s.GetReport(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, result, stored)
}

func TestRunAuditSurvivesPersistenceFailures(t *testing.T) {
	s := NewAuditService(
		WithAuditor(&fakeAuditor{}),
		WithAuditLogStore(&fakeLogs{err: errors.New("db down")}),
		WithReportArchive(&fakeReports{err: errors.New("bucket gone")}),
	)

	result, err := s.RunAudit(context.Background(), AuditRequest{Text: "The Cabinet met."})
	require.NoError(t, err)
	assert.Len(t, result.Violations, 1)
}

func TestRunAuditErrors(t *testing.T) {
	_, err := NewAuditService().RunAudit(context.Background(), AuditRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	auditor := &fakeAuditor{}
	s := NewAuditService(WithAuditor(auditor))
	_, err = s.RunAudit(context.Background(), AuditRequest{Text: "x", Parameters: json.RawMessage(`{"final_top_k": 1}`)})
	assert.ErrorIs(t, err, ErrInvalidParameters)
	assert.Empty(t, auditor.params, "invalid parameters must not reach the auditor")

	auditor.err = errors.New("boom")
	_, err = s.RunAudit(context.Background(), AuditRequest{Text: "x"})
	assert.EqualError(t, err, "boom")
}

func TestCreateTestValidation(t *testing.T) {
	store := newFakeTests()
	s := NewTestService(WithTestCaseStore(store))
	ctx := context.Background()

	_, err := s.CreateTest(ctx, CreateTestRequest{Label: "missing text"})
	assert.ErrorIs(t, err, ErrInvalidTestCase)

	_, err = s.CreateTest(ctx, CreateTestRequest{Label: "bad method", Text: "x", Method: "scraped"})
	assert.ErrorIs(t, err, ErrInvalidTestCase)

	_, err = s.CreateTest(ctx, CreateTestRequest{
		Label: "no rule", Text: "x",
		Expected: []models.ExpectedViolation{{Text: "x"}},
	})
	assert.ErrorIs(t, err, ErrInvalidTestCase)

	tc, err := s.CreateTest(ctx, CreateTestRequest{Label: "ok", Text: "The Cabinet met."})
	require.NoError(t, err)
	assert.Equal(t, models.GenerationManual, tc.GenerationMethod)
	assert.NotNil(t, tc.ExpectedViolations)
	assert.NotEqual(t, uuid.Nil, tc.ID)
}

func TestRunTestStoresScoredResult(t *testing.T) {
	store := newFakeTests()
	logs := &fakeLogs{}
	audits := NewAuditService(WithAuditor(&fakeAuditor{}), WithAuditLogStore(logs))
	s := NewTestService(WithTestCaseStore(store), WithAuditService(audits))
	ctx := context.Background()

	tc, err := s.CreateTest(ctx, CreateTestRequest{
		Label: "cabinet", Text: "The Cabinet met.",
		Expected: []models.ExpectedViolation{{Rule: "cabinet", Text: "Cabinet"}, {Rule: "premier"}},
	})
	require.NoError(t, err)

	run, err := s.RunTest(ctx, tc.ID, json.RawMessage(`{"max_agent_iterations": 2}`))
	require.NoError(t, err)

	assert.Equal(t, 1, run.Result.TruePositives)
	assert.Equal(t, 0, run.Result.FalsePositives)
	assert.Equal(t, 1, run.Result.FalseNegatives)
	require.NotNil(t, run.Result.Precision)
	assert.InDelta(t, 1.0, *run.Result.Precision, 1e-9)
	require.NotNil(t, run.Result.Recall)
	assert.InDelta(t, 0.5, *run.Result.Recall, 1e-9)
	require.NotNil(t, run.Result.TuningParameters)
	assert.Equal(t, 2, run.Result.TuningParameters.MaxAgentIterations)
	assert.Equal(t, run.Audit.Violations, run.Result.DetectedViolations)

	require.Len(t, logs.logs, 1)
	require.NotNil(t, logs.logs[0].TestID)
	assert.Equal(t, tc.ID, *logs.logs[0].TestID)

	results, err := s.ListResults(ctx, tc.ID, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, defaultListLimit, store.limit)
}

func TestRunTestUnknownID(t *testing.T) {
	s := NewTestService(WithTestCaseStore(newFakeTests()), WithAuditService(NewAuditService(WithAuditor(&fakeAuditor{}))))

	_, err := s.RunTest(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.ListResults(context.Background(), uuid.New(), 10)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListTestsClampsLimit(t *testing.T) {
	store := newFakeTests()
	s := NewTestService(WithTestCaseStore(store))

	cases, err := s.ListTests(context.Background(), ListTestsRequest{Limit: 5000})
	require.NoError(t, err)
	assert.NotNil(t, cases)
	assert.Equal(t, maxListLimit, store.limit)
}

func TestDeleteTest(t *testing.T) {
	store := newFakeTests()
	s := NewTestService(WithTestCaseStore(store))
	ctx := context.Background()

	tc, err := s.CreateTest(ctx, CreateTestRequest{Label: "x", Text: "y"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTest(ctx, tc.ID))
	assert.ErrorIs(t, s.DeleteTest(ctx, tc.ID), repository.ErrNotFound)
}

func TestAuditLogAndReportLifecycle(t *testing.T) {
	logs := &fakeLogs{}
	reports := &fakeReports{}
	s := NewAuditService(WithAuditor(&fakeAuditor{}), WithAuditLogStore(logs), WithReportArchive(reports))
	ctx := context.Background()

	result, err := s.RunAudit(ctx, AuditRequest{Text: "The Cabinet met."})
	require.NoError(t, err)

	log, err := s.GetAuditLog(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Cabinet met.", log.InputText)

	_, err = s.GetAuditLog(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.DeleteReport(ctx, result.ID))
	_, err = s.GetReport(ctx, result.ID)
	assert.Error(t, err)
	require.NoError(t, s.DeleteReport(ctx, result.ID))

	bare := NewAuditService()
	_, err = bare.GetAuditLog(ctx, result.ID)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, bare.DeleteReport(ctx, result.ID), ErrNotConfigured)
}

func TestDefaultParameters(t *testing.T) {
	defaults := models.DefaultTuningParameters()
	defaults.ModelName = "gemini-test"
	s := NewAuditService(WithDefaultParameters(defaults))

	assert.Equal(t, defaults, s.DefaultParameters())
}

func TestUpdateTest(t *testing.T) {
	store := newFakeTests()
	s := NewTestService(WithTestCaseStore(store))
	ctx := context.Background()

	notes := "first draft"
	tc, err := s.CreateTest(ctx, CreateTestRequest{
		Label:    "cabinet",
		Text:     "The Cabinet met.",
		Expected: []models.ExpectedViolation{{Rule: "cabinet", Text: "Cabinet"}},
		Notes:    &notes,
	})
	require.NoError(t, err)

	label := "cabinet capitalisation"
	updated, err := s.UpdateTest(ctx, tc.ID, UpdateTestRequest{Label: &label})
	require.NoError(t, err)
	assert.Equal(t, label, updated.Label)
	assert.Equal(t, "The Cabinet met.", updated.Text)
	assert.Len(t, updated.ExpectedViolations, 1)
	assert.Equal(t, &notes, updated.Notes)
	assert.False(t, updated.UpdatedAt.IsZero())

	none := []models.ExpectedViolation{}
	updated, err = s.UpdateTest(ctx, tc.ID, UpdateTestRequest{Expected: &none})
	require.NoError(t, err)
	assert.NotNil(t, updated.ExpectedViolations)
	assert.Empty(t, updated.ExpectedViolations)
	assert.Equal(t, label, updated.Label)
}

func TestUpdateTestRejectsInvalid(t *testing.T) {
	store := newFakeTests()
	s := NewTestService(WithTestCaseStore(store))
	ctx := context.Background()

	tc, err := s.CreateTest(ctx, CreateTestRequest{Label: "x", Text: "y"})
	require.NoError(t, err)

	empty := ""
	noRule := []models.ExpectedViolation{{Text: "y"}}
	for name, req := range map[string]UpdateTestRequest{
		"empty label":   {Label: &empty},
		"empty text":    {Text: &empty},
		"rule required": {Expected: &noRule},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpdateTest(ctx, tc.ID, req)
			assert.ErrorIs(t, err, ErrInvalidTestCase)
		})
	}

	label := "z"
	_, err = s.UpdateTest(ctx, uuid.New(), UpdateTestRequest{Label: &label})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, "x", store.cases[tc.ID].Label)
}

type fakeGenerator struct {
	cases []evaluation.Case
	err   error
}

func (f *fakeGenerator) Synthetic(ctx context.Context, count int) ([]evaluation.Case, error) {
	if len(f.cases) > count {
		return f.cases[:count], f.err
	}
	return f.cases, f.err
}

func TestGenerateTestsStoresSyntheticCases(t *testing.T) {
	store := newFakeTests()
	gen := &fakeGenerator{cases: []evaluation.Case{
		{Label: "Synthetic test - sports", Text: "The Cabinet met.", Expected: []models.ExpectedViolation{{Rule: "cabinet", Text: "Cabinet"}}},
		{Label: "Synthetic test - arts", Text: "A clean paragraph."},
	}}
	s := NewTestService(WithTestCaseStore(store), WithCaseGenerator(gen))

	stored, err := s.GenerateTests(context.Background(), 2)
	require.NoError(t, err)

	require.Len(t, stored, 2)
	assert.Len(t, store.cases, 2)
	for _, tc := range stored {
		assert.Equal(t, models.GenerationSynthetic, tc.GenerationMethod)
		assert.NotNil(t, tc.ExpectedViolations)
	}
	assert.Equal(t, "cabinet", stored[0].ExpectedViolations[0].Rule)
}

func TestGenerateTestsKeepsPartialWork(t *testing.T) {
	store := newFakeTests()
	failure := errors.New("quota exhausted")
	gen := &fakeGenerator{
		cases: []evaluation.Case{{Label: "Synthetic test - health", Text: "One paragraph."}},
		err:   failure,
	}
	s := NewTestService(WithTestCaseStore(store), WithCaseGenerator(gen))

	stored, err := s.GenerateTests(context.Background(), 3)

	assert.ErrorIs(t, err, failure)
	assert.Len(t, stored, 1)
	assert.Len(t, store.cases, 1)
}

func TestGenerateTestsValidation(t *testing.T) {
	s := NewTestService(WithTestCaseStore(newFakeTests()), WithCaseGenerator(&fakeGenerator{}))

	for _, n := range []int{0, -1, maxGenerateCount + 1} {
		_, err := s.GenerateTests(context.Background(), n)
		assert.ErrorIs(t, err, ErrInvalidTestCase)
	}

	_, err := NewTestService(WithTestCaseStore(newFakeTests())).GenerateTests(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
