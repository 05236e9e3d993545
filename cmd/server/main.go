package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RobertJohnDavidson/rag-style-check/app"
	"github.com/RobertJohnDavidson/rag-style-check/config"
	"github.com/RobertJohnDavidson/rag-style-check/handlers"
	"github.com/RobertJohnDavidson/rag-style-check/repository"
	"github.com/RobertJohnDavidson/rag-style-check/service"
	"github.com/RobertJohnDavidson/rag-style-check/storage"
	"github.com/RobertJohnDavidson/rag-style-check/telemetry"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Load .env file from project root (relative to cmd/server/)
	foundEnv := config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if !foundEnv {
		logger.Warn("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetrics()

	components, err := app.New(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer components.Close()

	// Initialize storage
	reportStorage, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	logger.Info("storage initialized", zap.String("type", string(cfg.Storage.Type)))

	if n, err := components.Rules.Count(ctx); err != nil {
		logger.Warn("failed to count indexed rules", zap.Error(err))
	} else if n == 0 {
		logger.Warn("style rule index is empty, run build-embeddings")
	} else {
		logger.Info("style rule index ready", zap.Int("rules", n))
	}

	// Initialize services
	auditService := service.NewAuditService(
		service.WithAuditor(components.Auditor),
		service.WithAuditLogStore(repository.NewAuditLogRepository(components.Pool)),
		service.WithReportArchive(storage.NewReportStore(reportStorage)),
		service.WithDefaultParameters(cfg.DefaultParameters()),
		service.WithLogger(logger.Named("service")),
	)
	testService := service.NewTestService(
		service.WithTestCaseStore(repository.NewTestCaseRepository(components.Pool)),
		service.WithAuditService(auditService),
		service.WithCaseGenerator(components.Generator),
	)
	available := []handlers.ModelInfo{
		{Name: cfg.Model, DisplayName: cfg.Model, Description: "Audit analysis model", SupportsThinking: true},
	}
	if cfg.RerankModel != "" && cfg.RerankModel != cfg.Model {
		available = append(available, handlers.ModelInfo{Name: cfg.RerankModel, DisplayName: cfg.RerankModel, Description: "Rerank scoring model"})
	}

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.RouterConfig{
		Audits:  handlers.NewAuditHandler(auditService),
		Tests:   handlers.NewTestHandler(testService),
		Rules:   handlers.NewRuleHandler(components.Rules),
		Config:  handlers.NewConfigHandler(auditService.DefaultParameters, available),
		DB:      components.Pool,
		Metrics: metrics.Handler(),
		Logger:  logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
