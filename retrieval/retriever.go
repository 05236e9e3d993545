// Package retrieval finds candidate style rules for a piece of text.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"go.uber.org/zap"
)

// patternDamping scales scores of rules reached through capitalised phrases
const patternDamping = 0.8

// patternPhraseLimit caps the phrases searched per query
const patternPhraseLimit = 5

var (
	ErrNoBackend  = errors.New("retrieval backend not set")
	ErrNoEmbedder = errors.New("embedder not set")
)

// Backend is the read-only rule index
type Backend interface {
	VectorSearch(ctx context.Context, embedding []float32, k int) ([]models.ScoredRule, error)
	KeywordSearch(ctx context.Context, text string, terms []string) ([]models.Rule, error)
}

// Embedder turns a query into a vector comparable with the indexed rules
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Error is a recovered retrieval failure for one source
type Error struct {
	Source models.RetrievalMethod
	Query  string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s retrieval for %q: %v", e.Source, e.Query, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Trace describes how a candidate list was assembled
type Trace struct {
	Query         string
	FusionQueries []string
	Counts        map[models.RetrievalMethod]int
	KeywordUsed   bool
	Degraded      bool
	Errors        []*Error
}

// Result is the outcome of one Retrieve call. Candidates are unique by rule id
// and sorted by descending score.
type Result struct {
	Candidates []models.CandidateRule
	Trace      Trace
}

// Retriever combines vector, fusion, pattern and keyword sources
type Retriever struct {
	backend  Backend
	embedder Embedder
	queryGen QueryGenerator
	logger   *zap.Logger
}

// RetrieverOption is a functional option for Retriever
type RetrieverOption func(*Retriever)

// WithBackend sets the rule index
func WithBackend(b Backend) RetrieverOption {
	return func(r *Retriever) {
		r.backend = b
	}
}

// WithEmbedder sets the query embedder
func WithEmbedder(e Embedder) RetrieverOption {
	return func(r *Retriever) {
		r.embedder = e
	}
}

// WithQueryGenerator sets the fusion query generator. Without one, or when it
// fails, HeuristicQueries is used.
func WithQueryGenerator(g QueryGenerator) RetrieverOption {
	return func(r *Retriever) {
		r.queryGen = g
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) RetrieverOption {
	return func(r *Retriever) {
		r.logger = l
	}
}

// NewRetriever creates a retriever
func NewRetriever(opts ...RetrieverOption) *Retriever {
	r := &Retriever{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve gathers candidate rules for query. It never fails: a broken
// source is recorded in the trace and the remaining sources still run.
func (r *Retriever) Retrieve(ctx context.Context, query string, params models.TuningParameters) Result {
	set := newCandidateSet()
	trace := Trace{Query: query, Counts: make(map[models.RetrievalMethod]int)}

	semanticOK := false
	if params.UseVectorSearch {
		semanticOK = r.semantic(ctx, query, params, set, &trace)
	}

	if params.UsePatternSearch && semanticOK {
		r.patterns(ctx, query, params, set, &trace)
	}

	needKeywords := !params.UseVectorSearch || !semanticOK || set.len() < params.KeywordFloor
	if params.UseKeywordSearch && needKeywords {
		r.keywords(ctx, query, params, set, &trace)
	}

	candidates := set.sorted()
	for _, c := range candidates {
		trace.Counts[c.Method]++
	}
	return Result{Candidates: candidates, Trace: trace}
}

// semantic runs the primary vector search and optional query fusion. It
// reports whether the primary search succeeded.
func (r *Retriever) semantic(ctx context.Context, query string, params models.TuningParameters, set *candidateSet, trace *Trace) bool {
	primary, err := r.vectorSearch(ctx, query, params.InitialRetrievalCount)
	if err != nil {
		r.fail(trace, models.MethodVector, query, err)
		return false
	}

	if !params.UseQueryFusion || params.NumFusionQueries == 0 {
		for _, hit := range primary {
			set.add(hit.Rule, hit.Score, models.MethodVector)
		}
		return true
	}

	variants := r.fusionQueries(ctx, query, params)
	trace.FusionQueries = variants

	lists := [][]models.ScoredRule{primary}
	for _, q := range variants {
		if ctx.Err() != nil {
			break
		}
		hits, err := r.vectorSearch(ctx, q, params.InitialRetrievalCount)
		if err != nil {
			r.fail(trace, models.MethodFusion, q, err)
			continue
		}
		lists = append(lists, hits)
	}

	fused := Fuse(lists, params.FusionMode)
	if len(fused) > params.InitialRetrievalCount {
		fused = fused[:params.InitialRetrievalCount]
	}
	for _, f := range fused {
		method := models.MethodFusion
		if f.Lists[0] == 0 {
			method = models.MethodVector
		}
		set.add(f.Rule, f.BestScore, method)
	}
	return true
}

func (r *Retriever) fusionQueries(ctx context.Context, query string, params models.TuningParameters) []string {
	if r.queryGen != nil {
		queries, err := r.queryGen.Generate(ctx, query, params)
		if err == nil && len(queries) > 0 {
			return queries
		}
		r.logger.Warn("query generation failed, using heuristic queries",
			zap.String("query", truncate(query)),
			zap.Error(err),
		)
	}
	return HeuristicQueries(query, params.NumFusionQueries)
}

func (r *Retriever) patterns(ctx context.Context, query string, params models.TuningParameters, set *candidateSet, trace *Trace) {
	for _, phrase := range CapitalisedPhrases(query, patternPhraseLimit) {
		if ctx.Err() != nil {
			return
		}
		hits, err := r.vectorSearch(ctx, phrase, params.FinalTopK)
		if err != nil {
			r.fail(trace, models.MethodKeyword, phrase, err)
			continue
		}
		for _, hit := range hits {
			set.add(hit.Rule, hit.Score*patternDamping, models.MethodKeyword)
		}
	}
}

func (r *Retriever) keywords(ctx context.Context, query string, params models.TuningParameters, set *candidateSet, trace *Trace) {
	if r.backend == nil {
		r.fail(trace, models.MethodKeyword, query, ErrNoBackend)
		return
	}
	trace.KeywordUsed = true
	rules, err := r.backend.KeywordSearch(ctx, query, CapitalisedPhrases(query, 0))
	if err != nil {
		r.fail(trace, models.MethodKeyword, query, err)
		return
	}
	for _, rule := range rules {
		set.add(rule, params.KeywordScore, models.MethodKeyword)
	}
}

func (r *Retriever) vectorSearch(ctx context.Context, text string, k int) ([]models.ScoredRule, error) {
	if r.backend == nil {
		return nil, ErrNoBackend
	}
	if r.embedder == nil {
		return nil, ErrNoEmbedder
	}
	embedding, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return r.backend.VectorSearch(ctx, embedding, k)
}

func (r *Retriever) fail(trace *Trace, source models.RetrievalMethod, query string, err error) {
	trace.Degraded = true
	trace.Errors = append(trace.Errors, &Error{Source: source, Query: query, Err: err})
	r.logger.Warn("retrieval source failed",
		zap.String("source", string(source)),
		zap.String("query", truncate(query)),
		zap.Error(err),
	)
}

// truncate shortens s to at most 80 runes for log fields
func truncate(s string) string {
	const limit = 80
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

// candidateSet dedupes candidates by rule id keeping the highest score
type candidateSet struct {
	index map[string]int
	items []models.CandidateRule
}

func newCandidateSet() *candidateSet {
	return &candidateSet{index: make(map[string]int)}
}

func (s *candidateSet) add(rule models.Rule, score float64, method models.RetrievalMethod) {
	if i, ok := s.index[rule.ID]; ok {
		if score > s.items[i].Score {
			s.items[i].Score = score
			s.items[i].Method = method
		}
		return
	}
	s.index[rule.ID] = len(s.items)
	s.items = append(s.items, models.CandidateRule{Rule: rule, Score: score, Method: method})
}

func (s *candidateSet) len() int {
	return len(s.items)
}

func (s *candidateSet) sorted() []models.CandidateRule {
	out := make([]models.CandidateRule, len(s.items))
	copy(out, s.items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Rule.ID < out[j].Rule.ID
	})
	return out
}
