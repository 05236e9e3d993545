// Package audit runs the iterative style audit: per-paragraph rule retrieval,
// rule pooling, rounds of model analysis and violation deduplication.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RobertJohnDavidson/rag-style-check/evaluation"
	"github.com/RobertJohnDavidson/rag-style-check/llm"
	"github.com/RobertJohnDavidson/rag-style-check/models"
	"github.com/RobertJohnDavidson/rag-style-check/rerank"
	"github.com/RobertJohnDavidson/rag-style-check/retrieval"
	"github.com/RobertJohnDavidson/rag-style-check/segment"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcomes reported to the Recorder
const (
	OutcomeOK         = "ok"
	OutcomeDegraded   = "degraded"
	OutcomeIncomplete = "incomplete"
)

// Recorder receives audit measurements
type Recorder interface {
	AuditFinished(outcome string, rounds int, accepted int, elapsed time.Duration)
	ViolationDropped(reason string)
	RetrievalDegraded(source string)
	RerankFallback(scorer string)
}

type nopRecorder struct{}

func (nopRecorder) AuditFinished(string, int, int, time.Duration) {}
func (nopRecorder) ViolationDropped(string)                       {}
func (nopRecorder) RetrievalDegraded(string)                      {}
func (nopRecorder) RerankFallback(string)                         {}

// EvaluationResult is an audit scored against expected violations
type EvaluationResult struct {
	Audit   *models.AuditResult `json:"audit"`
	Metrics evaluation.Metrics  `json:"metrics"`
}

// Auditor audits documents against the rule index. It holds no per-request
// state and is safe for concurrent use.
type Auditor struct {
	client    llm.Client
	retriever *retrieval.Retriever
	reranker  *rerank.Reranker
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// AuditorOption is a functional option for Auditor
type AuditorOption func(*Auditor)

// WithCompletionClient sets the model used for analysis rounds
func WithCompletionClient(c llm.Client) AuditorOption {
	return func(a *Auditor) {
		a.client = c
	}
}

// WithRetriever sets the rule retriever
func WithRetriever(r *retrieval.Retriever) AuditorOption {
	return func(a *Auditor) {
		a.retriever = r
	}
}

// WithReranker sets the reranker
func WithReranker(r *rerank.Reranker) AuditorOption {
	return func(a *Auditor) {
		a.reranker = r
	}
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) AuditorOption {
	return func(a *Auditor) {
		a.recorder = r
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) AuditorOption {
	return func(a *Auditor) {
		a.logger = l
	}
}

// WithClock sets the clock used for the date in the system prompt
func WithClock(now func() time.Time) AuditorOption {
	return func(a *Auditor) {
		a.now = now
	}
}

// NewAuditor creates an auditor
func NewAuditor(opts ...AuditorOption) *Auditor {
	a := &Auditor{
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.retriever == nil {
		a.retriever = retrieval.NewRetriever(retrieval.WithLogger(a.logger))
	}
	if a.reranker == nil {
		a.reranker = rerank.NewReranker(rerank.WithLogger(a.logger))
	}
	return a
}

// Audit checks text against the style rules. Backend failures never fail the
// call: they are recorded on the result, which is flagged Degraded or
// Incomplete. The only error is *ConfigurationError.
func (a *Auditor) Audit(ctx context.Context, text string, params models.TuningParameters) (*models.AuditResult, error) {
	if err := params.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	if a.client == nil {
		return nil, &ConfigurationError{Err: ErrNoCompletionClient}
	}

	started := time.Now()
	result := &models.AuditResult{
		ID:         uuid.New(),
		Violations: models.Violations{},
		Iterations: []models.IterationTrace{},
		Paragraphs: []models.ParagraphTrace{},
		RulePool:   []string{},
		Model:      params.ModelName,
	}
	log := a.logger.With(zap.String("audit_id", result.ID.String()))

	paragraphs := segment.Segment(text, params.MinSentenceLength)
	if len(paragraphs) > 0 {
		perParagraph := a.gather(ctx, paragraphs, params, result)
		pool := Aggregate(perParagraph, params.AggregatedRuleLimit)

		if err := ctx.Err(); err != nil {
			result.Incomplete = true
			result.Errors = append(result.Errors, "audit cancelled: "+err.Error())
		} else {
			e := &engine{
				a:          a,
				log:        log,
				text:       text,
				paragraphs: paragraphs,
				params:     params,
				pool:       pool,
				result:     result,
			}
			result.Violations = Dedupe(e.run(ctx))
		}
		result.RulePool = pool.IDs()
	}

	elapsed := time.Since(started)
	result.ElapsedMS = elapsed.Milliseconds()
	result.CompletedAt = time.Now().UTC()

	outcome := OutcomeOK
	switch {
	case result.Incomplete:
		outcome = OutcomeIncomplete
	case result.Degraded:
		outcome = OutcomeDegraded
	}
	a.recorder.AuditFinished(outcome, len(result.Iterations), len(result.Violations), elapsed)
	log.Info("audit finished",
		zap.String("outcome", outcome),
		zap.Int("paragraphs", len(paragraphs)),
		zap.Int("rules", len(result.RulePool)),
		zap.Int("rounds", len(result.Iterations)),
		zap.Int("violations", len(result.Violations)),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// Evaluate audits text and scores the result against expected violations
func (a *Auditor) Evaluate(ctx context.Context, text string, expected []models.ExpectedViolation, params models.TuningParameters) (*EvaluationResult, error) {
	result, err := a.Audit(ctx, text, params)
	if err != nil {
		return nil, err
	}
	return &EvaluationResult{
		Audit:   result,
		Metrics: evaluation.Score(expected, result.Violations, params.MatchMode),
	}, nil
}

// RelevantRules retrieves and reranks the rules that apply to text without
// running an analysis round
func (a *Auditor) RelevantRules(ctx context.Context, text string, params models.TuningParameters) ([]models.RerankedRule, error) {
	if err := params.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	ranked, degraded := a.retrieveAndRerank(ctx, text, params)
	if degraded {
		a.logger.Warn("rule lookup degraded", zap.Int("rules", len(ranked)))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ranked, nil
}

// gather retrieves and reranks rules for every paragraph concurrently.
// Slot i of the result belongs to paragraph i.
func (a *Auditor) gather(ctx context.Context, paragraphs []segment.Paragraph, params models.TuningParameters, result *models.AuditResult) [][]models.RerankedRule {
	perParagraph := make([][]models.RerankedRule, len(paragraphs))
	traces := make([]models.ParagraphTrace, len(paragraphs))

	var g errgroup.Group
	g.SetLimit(params.MaxConcurrentRequests)
	for i, p := range paragraphs {
		g.Go(func() error {
			perParagraph[i], traces[i] = a.paragraphRules(ctx, p, params)
			return nil
		})
	}
	_ = g.Wait()

	for _, t := range traces {
		if t.Degraded {
			result.Degraded = true
			for _, n := range t.Notes {
				result.Errors = append(result.Errors, fmt.Sprintf("paragraph %d: %s", t.Index, n))
			}
		}
	}
	result.Paragraphs = traces
	return perParagraph
}

func (a *Auditor) paragraphRules(ctx context.Context, p segment.Paragraph, params models.TuningParameters) ([]models.RerankedRule, models.ParagraphTrace) {
	trace := models.ParagraphTrace{Index: p.Index}
	if err := ctx.Err(); err != nil {
		trace.Notes = append(trace.Notes, "cancelled: "+err.Error())
		return nil, trace
	}

	// a paragraph made only of short sentences is queried whole
	query := p.Text
	if sentences := p.RetrievableSentences(); len(sentences) > 0 {
		texts := make([]string, len(sentences))
		for i, s := range sentences {
			texts[i] = s.Text
		}
		query = strings.Join(texts, " ")
	}

	res := a.retriever.Retrieve(ctx, query, params)
	trace.Queries = 1 + len(res.Trace.FusionQueries)
	trace.Candidates = len(res.Candidates)
	for _, rerr := range res.Trace.Errors {
		a.recorder.RetrievalDegraded(string(rerr.Source))
		trace.Notes = append(trace.Notes, rerr.Error())
	}
	trace.Degraded = res.Trace.Degraded

	ranked, rt := a.reranker.Rerank(ctx, res.Candidates, query, params)
	if rt.Fallback {
		a.recorder.RerankFallback(rt.Err.Scorer)
		trace.Notes = append(trace.Notes, rt.Err.Error())
	}
	trace.Retained = len(ranked)
	return ranked, trace
}

// retrieveAndRerank serves one refinement query and reports whether any
// source degraded
func (a *Auditor) retrieveAndRerank(ctx context.Context, query string, params models.TuningParameters) ([]models.RerankedRule, bool) {
	res := a.retriever.Retrieve(ctx, query, params)
	for _, rerr := range res.Trace.Errors {
		a.recorder.RetrievalDegraded(string(rerr.Source))
	}
	ranked, rt := a.reranker.Rerank(ctx, res.Candidates, query, params)
	if rt.Fallback {
		a.recorder.RerankFallback(rt.Err.Scorer)
	}
	return ranked, res.Trace.Degraded
}
