// Package rerank rescores retrieval candidates and applies the threshold and
// top-K cut.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"go.uber.org/zap"
)

var ErrScoreCount = errors.New("scorer returned wrong number of scores")

// Scorer assigns a relevance score in [0,1] to each candidate, in input order
type Scorer interface {
	Name() string
	Score(ctx context.Context, query string, candidates []models.CandidateRule, params models.TuningParameters) ([]float64, error)
}

// Error is a recovered scorer failure
type Error struct {
	Scorer string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rerank with %s: %v", e.Scorer, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Trace describes one rerank pass
type Trace struct {
	Scorer   string
	Input    int
	Output   int
	Fallback bool
	Err      *Error
}

// Reranker orders candidates by score and applies final_top_k and
// rerank_score_threshold.
type Reranker struct {
	llmScorer      Scorer
	semanticScorer Scorer
	logger         *zap.Logger
}

// RerankerOption is a functional option for Reranker
type RerankerOption func(*Reranker)

// WithLLMScorer sets the scorer used when use_llm_rerank is on
func WithLLMScorer(s Scorer) RerankerOption {
	return func(r *Reranker) {
		r.llmScorer = s
	}
}

// WithSemanticScorer sets the scorer used when use_semantic_rerank is on
func WithSemanticScorer(s Scorer) RerankerOption {
	return func(r *Reranker) {
		r.semanticScorer = s
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) RerankerOption {
	return func(r *Reranker) {
		r.logger = l
	}
}

// NewReranker creates a reranker
func NewReranker(opts ...RerankerOption) *Reranker {
	r := &Reranker{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank scores candidates and returns the survivors sorted by descending
// score. A failing scorer falls back to the retrieval scores.
func (r *Reranker) Rerank(ctx context.Context, candidates []models.CandidateRule, query string, params models.TuningParameters) ([]models.RerankedRule, Trace) {
	trace := Trace{Scorer: "similarity", Input: len(candidates)}
	if len(candidates) == 0 {
		return nil, trace
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = clamp(c.Score)
	}

	if scorer := r.scorerFor(params); scorer != nil {
		got, err := scorer.Score(ctx, query, candidates, params)
		if err == nil && len(got) != len(candidates) {
			err = ErrScoreCount
		}
		if err != nil {
			trace.Fallback = true
			trace.Err = &Error{Scorer: scorer.Name(), Err: err}
			r.logger.Warn("rerank failed, keeping retrieval scores",
				zap.String("scorer", scorer.Name()),
				zap.Int("candidates", len(candidates)),
				zap.Error(err),
			)
		} else {
			trace.Scorer = scorer.Name()
			for i, s := range got {
				scores[i] = clamp(s)
			}
		}
	}

	out := make([]models.RerankedRule, len(candidates))
	for i, c := range candidates {
		out[i] = models.RerankedRule{
			Rule:            c.Rule,
			Method:          c.Method,
			Score:           scores[i],
			SimilarityScore: c.Score,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Rule.ID < out[j].Rule.ID
	})
	if len(out) > params.FinalTopK {
		out = out[:params.FinalTopK]
	}

	kept := out[:0]
	for _, rr := range out {
		if rr.Score >= params.RerankScoreThreshold {
			rr.Passed = true
			kept = append(kept, rr)
		}
	}
	trace.Output = len(kept)
	return kept, trace
}

func (r *Reranker) scorerFor(params models.TuningParameters) Scorer {
	switch {
	case params.UseLLMRerank && r.llmScorer != nil:
		return r.llmScorer
	case params.UseSemanticRerank && r.semanticScorer != nil:
		return r.semanticScorer
	default:
		return nil
	}
}

func clamp(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
