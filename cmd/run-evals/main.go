package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/RobertJohnDavidson/rag-style-check/app"
	"github.com/RobertJohnDavidson/rag-style-check/config"
	"github.com/RobertJohnDavidson/rag-style-check/evaluation"
	"github.com/RobertJohnDavidson/rag-style-check/models"
	"github.com/RobertJohnDavidson/rag-style-check/repository"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	suitePath  string
	importOnly bool
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "run-evals",
	Short: "Audit a YAML suite of labelled texts and report precision, recall and F1",
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

		return run(cmd.Context(), cfg, logger)
	},
}

func init() {
	rootCmd.Flags().StringVar(&suitePath, "suite", "evals.yaml", "YAML suite of evaluation cases")
	rootCmd.Flags().BoolVar(&importOnly, "import", false, "store the cases as test cases instead of running them")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "print the aggregate metrics as JSON")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	suite, err := evaluation.LoadSuite(suitePath)
	if err != nil {
		return err
	}
	params, err := suite.Params(cfg.DefaultParameters())
	if err != nil {
		return err
	}

	if importOnly {
		pool, err := app.InitPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		defer pool.Close()
		return importCases(ctx, repository.NewTestCaseRepository(pool), suite.Cases)
	}

	components, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer components.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CASE\tTP\tFP\tFN\tTN\tPRECISION\tRECALL\tF1\tFLAGS")

	runs := make([]evaluation.Metrics, 0, len(suite.Cases))
	for _, c := range suite.Cases {
		res, err := components.Auditor.Evaluate(ctx, c.Text, c.Expected, params)
		if err != nil {
			return fmt.Errorf("case %q: %w", c.Label, err)
		}
		runs = append(runs, res.Metrics)

		flags := ""
		if res.Audit.Degraded {
			flags += "degraded "
		}
		if res.Audit.Incomplete {
			flags += "incomplete"
		}
		printRow(w, c.Label, res.Metrics, flags)
	}

	total := evaluation.Aggregate(runs...)
	printRow(w, "TOTAL", total, "")
	if err := w.Flush(); err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(total)
	}
	return nil
}

func importCases(ctx context.Context, repo *repository.TestCaseRepository, cases []evaluation.Case) error {
	for _, c := range cases {
		tc := &models.TestCase{
			Label:              c.Label,
			Text:               c.Text,
			ExpectedViolations: c.Expected,
			GenerationMethod:   models.GenerationImported,
		}
		if tc.ExpectedViolations == nil {
			tc.ExpectedViolations = models.ExpectedViolations{}
		}
		if err := repo.Create(ctx, tc); err != nil {
			return fmt.Errorf("failed to import case %q: %w", c.Label, err)
		}
		fmt.Printf("imported %s as %s\n", c.Label, tc.ID)
	}
	return nil
}

func printRow(w *tabwriter.Writer, label string, m evaluation.Metrics, flags string) {
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
		label, m.TruePositives, m.FalsePositives, m.FalseNegatives, m.TrueNegatives,
		ratio(m.Precision), ratio(m.Recall), ratio(m.F1), flags)
}

func ratio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v)
}
