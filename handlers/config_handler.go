package handlers

import (
	"net/http"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"github.com/gin-gonic/gin"
)

// ModelInfo describes a completion model clients may select
type ModelInfo struct {
	Name             string `json:"name"`
	DisplayName      string `json:"display_name"`
	Description      string `json:"description"`
	SupportsThinking bool   `json:"supports_thinking"`
}

// ConfigHandler serves the server's tuning defaults and model choices
type ConfigHandler struct {
	defaults func() models.TuningParameters
	models   []ModelInfo
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(defaults func() models.TuningParameters, available []ModelInfo) *ConfigHandler {
	if available == nil {
		available = []ModelInfo{}
	}
	return &ConfigHandler{defaults: defaults, models: available}
}

// TuningDefaults handles GET /api/tuning-defaults
func (h *ConfigHandler) TuningDefaults(c *gin.Context) {
	respondOK(c, http.StatusOK, h.defaults())
}

// Models handles GET /api/models
func (h *ConfigHandler) Models(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{"models": h.models})
}
