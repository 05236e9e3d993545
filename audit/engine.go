package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/llm"
	"github.com/RobertJohnDavidson/rag-style-check/models"
	"github.com/RobertJohnDavidson/rag-style-check/retrieval"
	"github.com/RobertJohnDavidson/rag-style-check/segment"

	"go.uber.org/zap"
)

// fallbackQueryLimit caps the phrases used when the model asks for context
// without saying what it needs
const fallbackQueryLimit = 3

type state int

const (
	stateRoundStart state = iota
	stateLLMAnalysis
	stateConverged
	stateNeedsRefinement
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateRoundStart:
		return "ROUND_START"
	case stateLLMAnalysis:
		return "LLM_ANALYSIS"
	case stateConverged:
		return "CONVERGED"
	case stateNeedsRefinement:
		return "NEEDS_REFINEMENT"
	case stateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Iteration outcomes recorded in the trace
const (
	outcomeConverged  = "converged"
	outcomeRefine     = "needs_refinement"
	outcomeSchema     = "schema_error"
	outcomeTransport  = "transport_error"
	outcomeCancelled  = "cancelled"
	outcomeIterations = "iteration_cap"
)

// iterationState is owned by one engine run
type iterationState struct {
	iteration         int
	violations        []models.Violation
	confident         bool
	needsMoreContext  bool
	additionalQueries []string
	newRules          int
	state             state
}

// engine runs the analysis loop for one document
type engine struct {
	a          *Auditor
	log        *zap.Logger
	text       string
	paragraphs []segment.Paragraph
	params     models.TuningParameters
	pool       *RulePool
	result     *models.AuditResult
}

func (e *engine) run(ctx context.Context) []models.Violation {
	st := &iterationState{iteration: 1, state: stateRoundStart}

	for st.state != stateTerminated {
		switch st.state {
		case stateRoundStart:
			if err := ctx.Err(); err != nil {
				e.cancelled(err)
				st.state = stateTerminated
				continue
			}
			st.state = stateLLMAnalysis

		case stateLLMAnalysis:
			st.state = e.analyse(ctx, st)

		case stateConverged:
			st.state = stateTerminated

		case stateNeedsRefinement:
			if err := e.refine(ctx, st); err != nil {
				e.cancelled(err)
				st.state = stateTerminated
				continue
			}
			st.iteration++
			st.state = stateRoundStart
		}
	}
	return st.violations
}

// analyse issues one completion and returns the next state
func (e *engine) analyse(ctx context.Context, st *iterationState) state {
	log := e.log.With(zap.Int("iteration", st.iteration))
	trace := models.IterationTrace{Iteration: st.iteration, RulePoolSize: e.pool.Len(), NewRules: st.newRules}
	st.newRules = 0

	resp, err := e.a.client.Complete(ctx, llm.Request{
		Model:       e.params.ModelName,
		Temperature: e.params.Temperature,
		System:      systemPrompt(e.a.now()),
		Prompt:      userPrompt(e.text, e.pool, st.violations, st.iteration, e.params.IncludeThinking),
		JSON:        true,
		Schema:      responseSchema(e.params.IncludeThinking),
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			trace.Outcome = outcomeCancelled
			trace.Error = err.Error()
			e.result.Iterations = append(e.result.Iterations, trace)
			e.cancelled(err)
			return stateTerminated
		}
		terr := &CompletionTransportError{Iteration: st.iteration, Err: err}
		log.Warn("completion failed, keeping accumulated violations", zap.Error(err))
		trace.Outcome = outcomeTransport
		trace.Error = terr.Error()
		e.result.Iterations = append(e.result.Iterations, trace)
		e.result.Degraded = true
		e.result.Errors = append(e.result.Errors, terr.Error())
		return stateTerminated
	}

	parsed, perr := parseAnalysis(resp.Content)
	trace.Dropped = parsed.Rejected
	for range parsed.Rejected {
		e.a.recorder.ViolationDropped(DropSchema)
	}
	trace.Thinking = parsed.Thinking

	for _, rec := range parsed.Violations {
		v, reason := e.accept(rec, st.iteration)
		if reason != "" {
			trace.Dropped++
			e.a.recorder.ViolationDropped(reason)
			log.Info("dropped violation",
				zap.String("reason", reason),
				zap.Error(&InvariantViolation{Reason: reason, RuleID: rec.RuleID, Text: rec.Text}),
			)
			continue
		}
		trace.Accepted++
		st.violations = append(st.violations, v)
	}

	if perr != nil {
		serr := &CompletionSchemaError{Iteration: st.iteration, Err: perr}
		log.Warn("malformed completion, converging", zap.Error(perr))
		e.result.Degraded = true
		e.result.Errors = append(e.result.Errors, serr.Error())
		st.confident, st.needsMoreContext, st.additionalQueries = false, false, nil
		trace.Outcome = outcomeSchema
		trace.Error = serr.Error()
		e.result.Iterations = append(e.result.Iterations, trace)
		return stateConverged
	}

	st.confident = parsed.Confident
	st.needsMoreContext = parsed.NeedsMoreContext
	st.additionalQueries = parsed.AdditionalQueries
	trace.Confident = parsed.Confident
	trace.NeedsMoreContext = parsed.NeedsMoreContext
	trace.AdditionalQueries = parsed.AdditionalQueries

	next := stateNeedsRefinement
	trace.Outcome = outcomeRefine
	switch {
	case st.confident || !st.needsMoreContext:
		next = stateConverged
		trace.Outcome = outcomeConverged
	case st.iteration >= e.params.MaxAgentIterations:
		next = stateConverged
		trace.Outcome = outcomeIterations
	}
	log.Debug("round complete",
		zap.Int("accepted", trace.Accepted),
		zap.Int("dropped", trace.Dropped),
		zap.String("next", next.String()),
	)
	e.result.Iterations = append(e.result.Iterations, trace)
	return next
}

// accept checks a model violation against the text and enriches it from the
// pool. It returns a drop reason when the violation is rejected.
func (e *engine) accept(rec violationRecord, iteration int) (models.Violation, string) {
	start := strings.Index(e.text, rec.Text)
	if start < 0 {
		return models.Violation{}, DropNotVerbatim
	}
	if rec.Confidence != nil && *rec.Confidence < e.params.ConfidenceThreshold {
		return models.Violation{}, DropLowConfidence
	}

	// a citation outside the pool is kept as cited, without enrichment
	ruleID, ruleName, sourceURL := strings.TrimSpace(rec.RuleID), "", ""
	if rule, ok := e.pool.Resolve(rec.RuleID); ok {
		ruleID, ruleName, sourceURL = rule.Rule.ID, rule.Rule.Name, rule.Rule.URL
	}

	return models.Violation{
		RuleID:     ruleID,
		RuleName:   ruleName,
		Text:       rec.Text,
		Reason:     strings.TrimSpace(rec.Reason),
		Correction: strings.TrimSpace(rec.Correction),
		Confidence: rec.Confidence,
		SourceURL:  sourceURL,
		Paragraph:  e.paragraphAt(start),
		Start:      start,
		End:        start + len(rec.Text),
		Iteration:  iteration,
	}, ""
}

func (e *engine) paragraphAt(offset int) int {
	idx := 0
	for _, p := range e.paragraphs {
		if p.Start > offset {
			break
		}
		idx = p.Index
	}
	return idx
}

// refine retrieves rules for the model's follow-up queries and merges them
// into the pool. It only fails on cancellation.
func (e *engine) refine(ctx context.Context, st *iterationState) error {
	queries := st.additionalQueries
	if len(queries) == 0 {
		queries = retrieval.CapitalisedPhrases(e.text, fallbackQueryLimit)
	}

	seen := make(map[string]bool)
	var expanded []string
	for _, q := range queries {
		for _, x := range retrieval.ExpandQuery(q) {
			key := strings.ToLower(x)
			if !seen[key] {
				seen[key] = true
				expanded = append(expanded, x)
			}
		}
	}

	var found []models.RerankedRule
	for _, q := range expanded {
		if err := ctx.Err(); err != nil {
			return err
		}
		ranked, degraded := e.a.retrieveAndRerank(ctx, q, e.params)
		if degraded {
			e.result.Degraded = true
		}
		found = append(found, ranked...)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	added := e.pool.Merge(found)
	e.log.Debug("refinement merged rules",
		zap.Int("iteration", st.iteration),
		zap.Int("queries", len(expanded)),
		zap.Strings("added", added),
	)
	st.newRules = len(added)
	return nil
}

func (e *engine) cancelled(err error) {
	if e.result.Incomplete {
		return
	}
	e.result.Incomplete = true
	e.result.Errors = append(e.result.Errors, "audit cancelled: "+err.Error())
	e.log.Warn("audit cancelled, returning accumulated violations", zap.Error(err))
}
