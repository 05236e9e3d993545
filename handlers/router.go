package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig holds what the HTTP surface is assembled from
type RouterConfig struct {
	Audits  *AuditHandler
	Tests   *TestHandler
	Rules   *RuleHandler
	Config  *ConfigHandler
	DB      Pinger
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if cfg.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := cfg.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":   "unavailable",
					"database": err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api := r.Group("/api")
	if cfg.Audits != nil {
		api.POST("/audit", cfg.Audits.Audit)
		api.POST("/evaluate", cfg.Audits.Evaluate)
		api.GET("/audits/:id", cfg.Audits.GetReport)
		api.DELETE("/audits/:id", cfg.Audits.DeleteReport)
		api.GET("/audit-logs/:id", cfg.Audits.GetAuditLog)
	}
	if cfg.Tests != nil {
		api.POST("/tests", cfg.Tests.CreateTest)
		api.POST("/tests/generate", cfg.Tests.GenerateTests)
		api.GET("/tests", cfg.Tests.ListTests)
		api.GET("/tests/:id", cfg.Tests.GetTest)
		api.PATCH("/tests/:id", cfg.Tests.UpdateTest)
		api.DELETE("/tests/:id", cfg.Tests.DeleteTest)
		api.POST("/tests/:id/run", cfg.Tests.RunTest)
		api.GET("/tests/:id/results", cfg.Tests.ListResults)
	}
	if cfg.Rules != nil {
		api.GET("/rules/:id", cfg.Rules.GetRule)
	}
	if cfg.Config != nil {
		api.GET("/tuning-defaults", cfg.Config.TuningDefaults)
		api.GET("/models", cfg.Config.Models)
	}

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
