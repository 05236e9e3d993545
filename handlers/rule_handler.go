package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/models"
	"github.com/RobertJohnDavidson/rag-style-check/repository"

	"github.com/gin-gonic/gin"
)

// RuleLookup fetches indexed style rules
type RuleLookup interface {
	GetByID(ctx context.Context, id string) (*models.Rule, error)
}

// RuleHandler handles HTTP requests for style rules
type RuleHandler struct {
	rules RuleLookup
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(rules RuleLookup) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// GetRule handles GET /api/rules/:id
func (h *RuleHandler) GetRule(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Rule ID is required")
		return
	}

	rule, err := h.rules.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "Style rule not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "FETCH_FAILED", err.Error())
		return
	}

	respondOK(c, http.StatusOK, rule)
}
