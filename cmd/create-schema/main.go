package main

import (
	"context"
	"fmt"
	"os"

	"github.com/RobertJohnDavidson/rag-style-check/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dropExisting bool

var rootCmd = &cobra.Command{
	Use:   "create-schema",
	Short: "Create the style rule index and evaluation tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := cfg.NewLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		return createSchema(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.Flags().BoolVar(&dropExisting, "drop", false, "drop existing tables first (destroys data)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func tables(dim int) []struct {
	name string
	sql  string
} {
	return []struct {
		name string
		sql  string
	}{
		{
			name: "style_rules",
			sql: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS style_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    guideline TEXT NOT NULL,
    url TEXT,
    rule_type VARCHAR(50),
    tags TEXT[] NOT NULL DEFAULT '{}',

    embedding vector(%d),
    search_vector tsvector GENERATED ALWAYS AS (
        to_tsvector('english', coalesce(name, '') || ' ' || coalesce(guideline, ''))
    ) STORED,

    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`, dim),
		},
		{
			name: "rule_triggers",
			sql: `
CREATE TABLE IF NOT EXISTS rule_triggers (
    rule_id TEXT NOT NULL REFERENCES style_rules(id) ON DELETE CASCADE,
    trigger TEXT NOT NULL,
    pattern TEXT NOT NULL,
    PRIMARY KEY (rule_id, trigger)
);`,
		},
		{
			name: "test_cases",
			sql: `
CREATE TABLE IF NOT EXISTS test_cases (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    label TEXT NOT NULL,
    text TEXT NOT NULL,
    expected_violations JSONB NOT NULL DEFAULT '[]'::jsonb,
    generation_method VARCHAR(20) NOT NULL DEFAULT 'manual'
        CHECK (generation_method IN ('manual', 'synthetic', 'imported')),
    notes TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
		{
			name: "test_results",
			sql: `
CREATE TABLE IF NOT EXISTS test_results (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    test_id UUID NOT NULL REFERENCES test_cases(id) ON DELETE CASCADE,
    true_positives INTEGER NOT NULL,
    false_positives INTEGER NOT NULL,
    false_negatives INTEGER NOT NULL,
    true_negatives INTEGER NOT NULL,
    precision DOUBLE PRECISION,
    recall DOUBLE PRECISION,
    f1_score DOUBLE PRECISION,
    detected_violations JSONB NOT NULL DEFAULT '[]'::jsonb,
    tuning_parameters JSONB,
    executed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
		{
			name: "audit_logs",
			sql: `
CREATE TABLE IF NOT EXISTS audit_logs (
    id UUID PRIMARY KEY,
    test_id UUID REFERENCES test_cases(id) ON DELETE SET NULL,
    input_text TEXT NOT NULL,
    model_used TEXT NOT NULL,
    parameters JSONB NOT NULL,
    iterations JSONB NOT NULL DEFAULT '[]'::jsonb,
    violations JSONB NOT NULL DEFAULT '[]'::jsonb,
    degraded BOOLEAN NOT NULL DEFAULT false,
    incomplete BOOLEAN NOT NULL DEFAULT false,
    report_path TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
	}
}

var indexes = []struct {
	name string
	sql  string
}{
	{
		name: "Vector similarity search (HNSW)",
		sql: `CREATE INDEX IF NOT EXISTS idx_style_rules_embedding ON style_rules
USING hnsw (embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64);`,
	},
	{
		name: "Full-text search",
		sql:  "CREATE INDEX IF NOT EXISTS idx_style_rules_search ON style_rules USING gin (search_vector);",
	},
	{
		name: "Tag filtering",
		sql:  "CREATE INDEX IF NOT EXISTS idx_style_rules_tags ON style_rules USING gin (tags);",
	},
	{
		name: "Trigger lookup",
		sql:  "CREATE INDEX IF NOT EXISTS idx_rule_triggers_lower ON rule_triggers (lower(trigger));",
	},
	{
		name: "Test results by test",
		sql:  "CREATE INDEX IF NOT EXISTS idx_test_results_test ON test_results (test_id, executed_at DESC);",
	},
	{
		name: "Test cases by method",
		sql:  "CREATE INDEX IF NOT EXISTS idx_test_cases_method ON test_cases (generation_method, created_at DESC);",
	},
	{
		name: "Audit logs by test",
		sql:  "CREATE INDEX IF NOT EXISTS idx_audit_logs_test ON audit_logs (test_id) WHERE test_id IS NOT NULL;",
	},
}

func createSchema(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	// Enable pgvector extension
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		logger.Warn("failed to create pgvector extension", zap.Error(err))
	} else {
		logger.Info("pgvector extension enabled")
	}

	if dropExisting {
		_, err := pool.Exec(ctx, "DROP TABLE IF EXISTS audit_logs, test_results, test_cases, rule_triggers, style_rules CASCADE")
		if err != nil {
			return fmt.Errorf("failed to drop tables: %w", err)
		}
		logger.Info("dropped existing tables")
	}

	for _, t := range tables(cfg.EmbedDim) {
		if _, err := pool.Exec(ctx, t.sql); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
		logger.Info("created table", zap.String("table", t.name))
	}

	created := 0
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx.sql); err != nil {
			logger.Warn("failed to create index", zap.String("index", idx.name), zap.Error(err))
			continue
		}
		created++
		logger.Info("created index", zap.String("index", idx.name))
	}

	fmt.Println("\n✅ Database schema created successfully!")
	fmt.Printf("   Embedding dimension: %d\n", cfg.EmbedDim)
	fmt.Printf("   Indexes: %d of %d created\n", created, len(indexes))
	return nil
}
