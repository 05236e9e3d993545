package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/RobertJohnDavidson/rag-style-check/audit"
	"github.com/RobertJohnDavidson/rag-style-check/models"
	"github.com/RobertJohnDavidson/rag-style-check/repository"
	"github.com/RobertJohnDavidson/rag-style-check/service"
	"github.com/RobertJohnDavidson/rag-style-check/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditRunner is the audit service as seen by the HTTP layer
type AuditRunner interface {
	RunAudit(ctx context.Context, req service.AuditRequest) (*models.AuditResult, error)
	RunEvaluation(ctx context.Context, req service.EvaluateRequest) (*audit.EvaluationResult, models.TuningParameters, error)
	GetReport(ctx context.Context, id uuid.UUID) (*models.AuditResult, error)
	DeleteReport(ctx context.Context, id uuid.UUID) error
	GetAuditLog(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)
}

// AuditHandler handles HTTP requests for audits
type AuditHandler struct {
	audits AuditRunner
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audits AuditRunner) *AuditHandler {
	return &AuditHandler{audits: audits}
}

// AuditRequest represents the request body for auditing a text
type AuditRequest struct {
	Text             string          `json:"text"`
	TuningParameters json.RawMessage `json:"tuning_parameters"`
}

// EvaluateRequest represents the request body for an evaluation run
type EvaluateRequest struct {
	Text               string                     `json:"text"`
	ExpectedViolations []models.ExpectedViolation `json:"expected_violations"`
	TuningParameters   json.RawMessage            `json:"tuning_parameters"`
}

// Audit handles POST /api/audit
func (h *AuditHandler) Audit(c *gin.Context) {
	var req AuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.audits.RunAudit(c.Request.Context(), service.AuditRequest{
		Text:       req.Text,
		Parameters: req.TuningParameters,
	})
	if err != nil {
		respondAuditError(c, err)
		return
	}

	respondOK(c, http.StatusOK, result)
}

// Evaluate handles POST /api/evaluate
func (h *AuditHandler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	result, _, err := h.audits.RunEvaluation(c.Request.Context(), service.EvaluateRequest{
		Text:       req.Text,
		Expected:   req.ExpectedViolations,
		Parameters: req.TuningParameters,
	})
	if err != nil {
		respondAuditError(c, err)
		return
	}

	respondOK(c, http.StatusOK, result)
}

// GetReport handles GET /api/audits/:id
func (h *AuditHandler) GetReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid audit ID format")
		return
	}

	report, err := h.audits.GetReport(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "Audit report not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "FETCH_FAILED", err.Error())
		return
	}

	respondOK(c, http.StatusOK, report)
}

// DeleteReport handles DELETE /api/audits/:id
func (h *AuditHandler) DeleteReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid audit ID format")
		return
	}

	if err := h.audits.DeleteReport(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusInternalServerError, "DELETE_FAILED", err.Error())
		return
	}

	respondOK(c, http.StatusOK, gin.H{"id": id})
}

// GetAuditLog handles GET /api/audit-logs/:id
func (h *AuditHandler) GetAuditLog(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Invalid audit ID format")
		return
	}

	log, err := h.audits.GetAuditLog(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "Audit log not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "FETCH_FAILED", err.Error())
		return
	}

	respondOK(c, http.StatusOK, log)
}

func respondAuditError(c *gin.Context, err error) {
	var cfgErr *audit.ConfigurationError
	switch {
	case errors.Is(err, service.ErrInvalidParameters):
		respondError(c, http.StatusBadRequest, "INVALID_TUNING_PARAMETERS", err.Error())
	case errors.As(err, &cfgErr) && !errors.Is(err, audit.ErrNoCompletionClient):
		respondError(c, http.StatusBadRequest, "INVALID_TUNING_PARAMETERS", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusRequestTimeout, "CANCELLED", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "AUDIT_FAILED", err.Error())
	}
}
