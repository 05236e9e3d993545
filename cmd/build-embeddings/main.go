package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/RobertJohnDavidson/rag-style-check/config"
	"github.com/RobertJohnDavidson/rag-style-check/ingest"
	"github.com/RobertJohnDavidson/rag-style-check/llm/gemini"
	"github.com/RobertJohnDavidson/rag-style-check/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	rulesPath string
	batchSize int
	pause     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "build-embeddings",
	Short: "Embed style guide rules and index them in Postgres",
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

		return build(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.Flags().StringVar(&rulesPath, "rules", "./rules", "rule file or directory of .json/.yaml rule files")
	rootCmd.Flags().IntVar(&batchSize, "batch", 100, "rules embedded and stored per transaction")
	rootCmd.Flags().DurationVar(&pause, "pause", 2*time.Second, "pause between batches (rate limiting)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if batchSize <= 0 {
		return errors.New("--batch must be positive")
	}

	rules, err := ingest.LoadRules(rulesPath)
	if err != nil {
		return err
	}
	logger.Info("loaded rules", zap.String("path", rulesPath), zap.Int("count", len(rules)))
	if len(rules) == 0 {
		return nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	// Verify table exists
	var tableExists bool
	err = pool.QueryRow(ctx, "SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'style_rules')").Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check table existence: %w", err)
	}
	if !tableExists {
		return errors.New("style_rules table does not exist, run create-schema first")
	}

	gc, err := gemini.NewGenaiClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return fmt.Errorf("failed to initialize Gemini: %w", err)
	}
	defer gc.Close()

	embedder := gemini.NewEmbedder(gc, cfg.EmbeddingModel, cfg.EmbedDim)
	repo := repository.NewRuleRepository(pool, cfg.EmbedDim)

	for start := 0; start < len(rules); start += batchSize {
		end := min(start+batchSize, len(rules))
		batch := rules[start:end]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = ingest.EmbeddingText(r)
		}

		embeddings, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed rules %d-%d: %w", start, end-1, err)
		}
		if err := repo.UpsertBatch(ctx, batch, embeddings); err != nil {
			return err
		}
		logger.Info("indexed batch", zap.Int("from", start), zap.Int("to", end-1))

		if end < len(rules) && pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
	}

	count, err := repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count rules: %w", err)
	}
	fmt.Printf("\n✅ Embedding build complete! %d rules indexed (%d in this run)\n", count, len(rules))
	return nil
}
