// Package app assembles the audit pipeline from process configuration.
package app

import (
	"context"
	"fmt"

	"github.com/RobertJohnDavidson/rag-style-check/audit"
	"github.com/RobertJohnDavidson/rag-style-check/config"
	"github.com/RobertJohnDavidson/rag-style-check/evaluation"
	"github.com/RobertJohnDavidson/rag-style-check/llm/gemini"
	"github.com/RobertJohnDavidson/rag-style-check/repository"
	"github.com/RobertJohnDavidson/rag-style-check/rerank"
	"github.com/RobertJohnDavidson/rag-style-check/retrieval"

	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// App holds the long-lived clients behind an auditor
type App struct {
	Pool      *pgxpool.Pool
	Genai     *genai.Client
	Rules     *repository.RuleRepository
	Auditor   *audit.Auditor
	Generator *evaluation.Generator
}

// New connects to Postgres and Gemini and wires the auditor. recorder may be nil.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, recorder audit.Recorder) (*App, error) {
	pool, err := InitPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
	}

	gc, err := gemini.NewGenaiClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize Gemini: %w", err)
	}
	logger.Info("gemini client initialized", zap.String("model", cfg.Model))

	rules := repository.NewRuleRepository(pool, cfg.EmbedDim)
	completion := gemini.NewClient(gc,
		gemini.WithDefaultModel(cfg.Model),
		gemini.WithLogger(logger.Named("gemini")),
	)

	retriever := retrieval.NewRetriever(
		retrieval.WithBackend(rules),
		retrieval.WithEmbedder(gemini.NewEmbedder(gc, cfg.EmbeddingModel, cfg.EmbedDim)),
		retrieval.WithQueryGenerator(retrieval.NewLLMQueryGenerator(completion)),
		retrieval.WithLogger(logger.Named("retrieval")),
	)

	rerankOpts := []rerank.RerankerOption{
		rerank.WithLLMScorer(rerank.NewLLMScorer(completion, cfg.RerankModel)),
		rerank.WithLogger(logger.Named("rerank")),
	}
	if cfg.ProjectName != "" {
		scorer, err := rerank.NewDiscoveryEngineScorer(ctx, cfg.ProjectName, cfg.RankingLocation, cfg.RankingConfig)
		if err != nil {
			// Semantic reranking falls back to similarity order when no scorer is set
			logger.Warn("discovery engine ranking unavailable", zap.Error(err))
		} else {
			rerankOpts = append(rerankOpts, rerank.WithSemanticScorer(scorer))
			logger.Info("discovery engine ranking enabled", zap.String("project", cfg.ProjectName))
		}
	}

	auditOpts := []audit.AuditorOption{
		audit.WithCompletionClient(completion),
		audit.WithRetriever(retriever),
		audit.WithReranker(rerank.NewReranker(rerankOpts...)),
		audit.WithLogger(logger.Named("audit")),
	}
	if recorder != nil {
		auditOpts = append(auditOpts, audit.WithRecorder(recorder))
	}

	auditor := audit.NewAuditor(auditOpts...)
	generator := evaluation.NewGenerator(completion, auditor,
		evaluation.WithParameters(cfg.DefaultParameters()),
		evaluation.WithLogger(logger.Named("generator")),
	)

	return &App{
		Pool:      pool,
		Genai:     gc,
		Rules:     rules,
		Auditor:   auditor,
		Generator: generator,
	}, nil
}

// Close releases the database pool and the Gemini client
func (a *App) Close() {
	if a.Genai != nil {
		a.Genai.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// InitPostgres opens a pool, checks connectivity and enables pgvector
func InitPostgres(ctx context.Context, connString string, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Enable pgvector extension
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		logger.Warn("failed to create pgvector extension, it may already be installed or need superuser privileges",
			zap.Error(err),
		)
	}

	logger.Info("postgres connection established")
	return pool, nil
}
