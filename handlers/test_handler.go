package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/RobertJohnDavidson/rag-style-check/models"
	"github.com/RobertJohnDavidson/rag-style-check/repository"
	"github.com/RobertJohnDavidson/rag-style-check/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TestRunner is the test case service as seen by the HTTP layer
type TestRunner interface {
	CreateTest(ctx context.Context, req service.CreateTestRequest) (*models.TestCase, error)
	GetTest(ctx context.Context, id uuid.UUID) (*models.TestCase, error)
	ListTests(ctx context.Context, req service.ListTestsRequest) ([]*models.TestCase, error)
	UpdateTest(ctx context.Context, id uuid.UUID, req service.UpdateTestRequest) (*models.TestCase, error)
	DeleteTest(ctx context.Context, id uuid.UUID) error
	GenerateTests(ctx context.Context, count int) ([]*models.TestCase, error)
	RunTest(ctx context.Context, id uuid.UUID, params json.RawMessage) (*service.RunTestResult, error)
	ListResults(ctx context.Context, id uuid.UUID, limit int) ([]*models.TestResult, error)
}

// TestHandler handles HTTP requests for test cases
type TestHandler struct {
	tests TestRunner
}

// NewTestHandler creates a new test case handler
func NewTestHandler(tests TestRunner) *TestHandler {
	return &TestHandler{tests: tests}
}

// CreateTestRequest represents the request body for creating a test case
type CreateTestRequest struct {
	Label              string                     `json:"label" binding:"required"`
	Text               string                     `json:"text" binding:"required"`
	ExpectedViolations []models.ExpectedViolation `json:"expected_violations"`
	GenerationMethod   string                     `json:"generation_method"`
	Notes              *string                    `json:"notes"`
}

// UpdateTestRequest represents the request body for a partial test case update
type UpdateTestRequest struct {
	Label              *string                     `json:"label"`
	Text               *string                     `json:"text"`
	ExpectedViolations *[]models.ExpectedViolation `json:"expected_violations"`
	Notes              *string                     `json:"notes"`
}

// GenerateTestsRequest represents the request body for synthetic test generation
type GenerateTestsRequest struct {
	Count int `json:"count" binding:"required,min=1"`
}

// RunTestRequest represents the request body for running a test case
type RunTestRequest struct {
	TuningParameters json.RawMessage `json:"tuning_parameters"`
}

// CreateTest handles POST /api/tests
func (h *TestHandler) CreateTest(c *gin.Context) {
	var req CreateTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	tc, err := h.tests.CreateTest(c.Request.Context(), service.CreateTestRequest{
		Label:    req.Label,
		Text:     req.Text,
		Expected: req.ExpectedViolations,
		Method:   models.GenerationMethod(req.GenerationMethod),
		Notes:    req.Notes,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidTestCase) {
			respondError(c, http.StatusBadRequest, "INVALID_TEST_CASE", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
		return
	}

	respondOK(c, http.StatusCreated, tc)
}

// ListTests handles GET /api/tests
func (h *TestHandler) ListTests(c *gin.Context) {
	req := service.ListTestsRequest{
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	if m := c.Query("generation_method"); m != "" {
		method := models.GenerationMethod(m)
		req.Method = &method
	}

	cases, err := h.tests.ListTests(c.Request.Context(), req)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "FETCH_FAILED", err.Error())
		return
	}

	respondOK(c, http.StatusOK, cases)
}

// GetTest handles GET /api/tests/:id
func (h *TestHandler) GetTest(c *gin.Context) {
	id, ok := parseTestID(c)
	if !ok {
		return
	}

	tc, err := h.tests.GetTest(c.Request.Context(), id)
	if err != nil {
		respondTestError(c, err, "FETCH_FAILED")
		return
	}

	respondOK(c, http.StatusOK, tc)
}

// UpdateTest handles PATCH /api/tests/:id
func (h *TestHandler) UpdateTest(c *gin.Context) {
	id, ok := parseTestID(c)
	if !ok {
		return
	}

	var req UpdateTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	tc, err := h.tests.UpdateTest(c.Request.Context(), id, service.UpdateTestRequest{
		Label:    req.Label,
		Text:     req.Text,
		Expected: req.ExpectedViolations,
		Notes:    req.Notes,
	})
	if err != nil {
		respondTestError(c, err, "UPDATE_FAILED")
		return
	}

	respondOK(c, http.StatusOK, tc)
}

// GenerateTests handles POST /api/tests/generate. Cases stored before a
// generation failure are still returned, with the failure as a warning.
func (h *TestHandler) GenerateTests(c *gin.Context) {
	var req GenerateTestsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	stored, err := h.tests.GenerateTests(c.Request.Context(), req.Count)
	if err != nil && len(stored) == 0 {
		if errors.Is(err, service.ErrInvalidTestCase) {
			respondError(c, http.StatusBadRequest, "INVALID_TEST_CASE", err.Error())
			return
		}
		respondError(c, http.StatusBadGateway, "GENERATION_FAILED", err.Error())
		return
	}

	data := gin.H{"tests": stored}
	if err != nil {
		data["warning"] = err.Error()
	}
	respondOK(c, http.StatusCreated, data)
}

// DeleteTest handles DELETE /api/tests/:id
func (h *TestHandler) DeleteTest(c *gin.Context) {
	id, ok := parseTestID(c)
	if !ok {
		return
	}

	if err := h.tests.DeleteTest(c.Request.Context(), id); err != nil {
		respondTestError(c, err, "DELETE_FAILED")
		return
	}

	respondOK(c, http.StatusOK, gin.H{"id": id})
}

// RunTest handles POST /api/tests/:id/run
func (h *TestHandler) RunTest(c *gin.Context) {
	id, ok := parseTestID(c)
	if !ok {
		return
	}

	var req RunTestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}

	run, err := h.tests.RunTest(c.Request.Context(), id, req.TuningParameters)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "Test case not found")
			return
		}
		respondAuditError(c, err)
		return
	}

	respondOK(c, http.StatusOK, run)
}

// ListResults handles GET /api/tests/:id/results
func (h *TestHandler) ListResults(c *gin.Context) {
	id, ok := parseTestID(c)
	if !ok {
		return
	}

	results, err := h.tests.ListResults(c.Request.Context(), id, queryInt(c, "limit"))
	if err != nil {
		respondTestError(c, err, "FETCH_FAILED")
		return
	}

	respondOK(c, http.StatusOK, results)
}

func parseTestID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid test ID format")
		return uuid.Nil, false
	}
	return id, true
}

func respondTestError(c *gin.Context, err error, code string) {
	if errors.Is(err, repository.ErrNotFound) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Test case not found")
		return
	}
	if errors.Is(err, service.ErrInvalidTestCase) {
		respondError(c, http.StatusBadRequest, "INVALID_TEST_CASE", err.Error())
		return
	}
	respondError(c, http.StatusInternalServerError, code, err.Error())
}

// queryInt returns a non-negative integer query parameter, 0 when absent or malformed
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
