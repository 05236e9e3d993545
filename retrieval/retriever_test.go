package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/RobertJohnDavidson/rag-style-check/models"
	"github.com/RobertJohnDavidson/rag-style-check/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRules = []models.Rule{
	{ID: "cabinet", Name: "cabinet", Guideline: "Lowercase cabinet, even when referring to the federal cabinet.", Triggers: []string{"cabinet"}},
	{ID: "oilsands", Name: "oilsands", Guideline: "Use oilsands, one word. Do not use tarsands.", Triggers: []string{"tarsands", "oil sands"}},
	{ID: "em-dash", Name: "dashes", Guideline: "Use an em dash with spaces on either side.", Triggers: []string{"--"}},
	{ID: "premier", Name: "premier", Guideline: "Capitalize premier only before a name.", Triggers: []string{"premier"}},
}

func baseParams() models.TuningParameters {
	p := models.DefaultTuningParameters()
	p.UseQueryFusion = false
	p.KeywordFloor = 0
	return p
}

func newTestRetriever(backend *testutil.MemoryBackend, opts ...RetrieverOption) *Retriever {
	opts = append([]RetrieverOption{WithBackend(backend), WithEmbedder(backend.Embedder)}, opts...)
	return NewRetriever(opts...)
}

func TestRetrieve_VectorOnly(t *testing.T) {
	backend := testutil.NewMemoryBackend(&testutil.HashEmbedder{}, testRules...)
	r := newTestRetriever(backend)

	res := r.Retrieve(context.Background(), "The Cabinet met to discuss the federal cabinet agenda.", baseParams())

	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "cabinet", res.Candidates[0].Rule.ID)
	assert.Equal(t, models.MethodVector, res.Candidates[0].Method)
	assert.False(t, res.Trace.Degraded)
	assert.False(t, res.Trace.KeywordUsed)

	seen := map[string]bool{}
	for i, c := range res.Candidates {
		assert.False(t, seen[c.Rule.ID], "duplicate rule %s", c.Rule.ID)
		seen[c.Rule.ID] = true
		if i > 0 {
			assert.GreaterOrEqual(t, res.Candidates[i-1].Score, c.Score)
		}
	}
}

func TestRetrieve_VectorFailureDegradesToKeywords(t *testing.T) {
	backend := testutil.NewMemoryBackend(&testutil.HashEmbedder{}, testRules...)
	backend.VectorErr = errors.New("connection refused")
	r := newTestRetriever(backend)

	res := r.Retrieve(context.Background(), "Crews returned to the tarsands on Monday.", baseParams())

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "oilsands", res.Candidates[0].Rule.ID)
	assert.Equal(t, models.MethodKeyword, res.Candidates[0].Method)
	assert.InDelta(t, 0.5, res.Candidates[0].Score, 1e-9)
	assert.True(t, res.Trace.Degraded)
	assert.True(t, res.Trace.KeywordUsed)
	require.Len(t, res.Trace.Errors, 1)
	assert.Equal(t, models.MethodVector, res.Trace.Errors[0].Source)
}

func TestRetrieve_KeywordFloorTriggersBackstop(t *testing.T) {
	backend := testutil.NewMemoryBackend(&testutil.HashEmbedder{}, testRules...)
	r := newTestRetriever(backend)

	params := baseParams()
	params.KeywordFloor = 50
	res := r.Retrieve(context.Background(), "Crews returned to the tarsands on Monday.", params)

	assert.True(t, res.Trace.KeywordUsed)
	var found bool
	for _, c := range res.Candidates {
		if c.Rule.ID == "oilsands" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRetrieve_KeywordsSkippedAboveFloor(t *testing.T) {
	backend := testutil.NewMemoryBackend(&testutil.HashEmbedder{}, testRules...)
	r := newTestRetriever(backend)

	r.Retrieve(context.Background(), "The cabinet met.", baseParams())

	_, kw := backend.Calls()
	assert.Equal(t, 0, kw)
}

func TestRetrieve_AllSourcesDisabled(t *testing.T) {
	backend := testutil.NewMemoryBackend(&testutil.HashEmbedder{}, testRules...)
	r := newTestRetriever(backend)

	params := baseParams()
	params.UseVectorSearch = false
	params.UseKeywordSearch = false
	res := r.Retrieve(context.Background(), "The cabinet met.", params)

	assert.Empty(t, res.Candidates)
	vec, kw := backend.Calls()
	assert.Zero(t, vec)
	assert.Zero(t, kw)
}

type staticQueries struct {
	queries []string
	err     error
}

func (s staticQueries) Generate(context.Context, string, models.TuningParameters) ([]string, error) {
	return s.queries, s.err
}

func TestRetrieve_FusionTagsRulesFoundOnlyByVariants(t *testing.T) {
	backend := testutil.NewMemoryBackend(&testutil.HashEmbedder{}, testRules...)
	r := newTestRetriever(backend, WithQueryGenerator(staticQueries{queries: []string{"premier capitalize name"}}))

	params := baseParams()
	params.UseQueryFusion = true
	params.NumFusionQueries = 1
	res := r.Retrieve(context.Background(), "lowercase cabinet federal", params)

	assert.Equal(t, []string{"premier capitalize name"}, res.Trace.FusionQueries)
	methods := map[string]models.RetrievalMethod{}
	for _, c := range res.Candidates {
		methods[c.Rule.ID] = c.Method
	}
	assert.Equal(t, models.MethodVector, methods["cabinet"])
	assert.Equal(t, models.MethodFusion, methods["premier"])
}

func TestRetrieve_FusionFallsBackToHeuristicQueries(t *testing.T) {
	backend := testutil.NewMemoryBackend(&testutil.HashEmbedder{}, testRules...)
	r := newTestRetriever(backend, WithQueryGenerator(staticQueries{err: errors.New("model unavailable")}))

	params := baseParams()
	params.UseQueryFusion = true
	res := r.Retrieve(context.Background(), "dash usage in the Alberta Legislature", params)

	assert.Equal(t, []string{"em dash", "en dash", "hyphen"}, res.Trace.FusionQueries)
	assert.False(t, res.Trace.Degraded)
}

func TestRetrieve_PatternSearchQueriesCapitalisedPhrases(t *testing.T) {
	backend := testutil.NewMemoryBackend(&testutil.HashEmbedder{}, testRules...)
	r := newTestRetriever(backend)

	params := baseParams()
	params.UsePatternSearch = true
	res := r.Retrieve(context.Background(), "zzz Premier", params)

	vec, _ := backend.Calls()
	assert.Equal(t, 2, vec, "primary search plus one phrase search")
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "premier", res.Candidates[0].Rule.ID)
	// "Premier" alone matches better than the full query even after damping
	assert.Equal(t, models.MethodKeyword, res.Candidates[0].Method)
	assert.InDelta(t, 0.8*2.0/3.0, res.Candidates[0].Score, 1e-4)
}

func TestRetrieve_PatternSearchSkippedWhenVectorFails(t *testing.T) {
	backend := testutil.NewMemoryBackend(&testutil.HashEmbedder{}, testRules...)
	backend.VectorErr = errors.New("timeout")
	r := newTestRetriever(backend)

	params := baseParams()
	params.UsePatternSearch = true
	r.Retrieve(context.Background(), "zzz Premier", params)

	vec, kw := backend.Calls()
	assert.Equal(t, 1, vec)
	assert.Equal(t, 1, kw)
}

func TestFuse_ReciprocalRank(t *testing.T) {
	a := models.Rule{ID: "a"}
	b := models.Rule{ID: "b"}
	c := models.Rule{ID: "c"}
	lists := [][]models.ScoredRule{
		{{Rule: a, Score: 0.9}, {Rule: b, Score: 0.5}},
		{{Rule: b, Score: 0.7}, {Rule: c, Score: 0.6}},
	}

	fused := Fuse(lists, models.FusionReciprocalRank)
	require.Len(t, fused, 3)
	assert.Equal(t, "b", fused[0].Rule.ID, "rule in both lists ranks first")
	assert.InDelta(t, 0.7, fused[0].BestScore, 1e-9)
	assert.Equal(t, []int{0, 1}, fused[0].Lists)
	assert.Equal(t, "a", fused[1].Rule.ID)
	assert.Equal(t, "c", fused[2].Rule.ID)
}

func TestFuse_ScoreSum(t *testing.T) {
	a := models.Rule{ID: "a"}
	b := models.Rule{ID: "b"}
	lists := [][]models.ScoredRule{
		{{Rule: a, Score: 0.9}, {Rule: b, Score: 0.3}},
		{{Rule: b, Score: 0.4}},
	}

	fused := Fuse(lists, models.FusionScoreSum)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].Rule.ID)
	assert.InDelta(t, 0.7, fused[1].FusionScore, 1e-9)
}

func TestCapitalisedPhrases(t *testing.T) {
	got := CapitalisedPhrases("The Cabinet met. Prime Minister Mark Carney spoke in Ottawa. The Cabinet agreed.", 0)
	assert.Equal(t, []string{"Cabinet", "Prime Minister Mark Carney", "Ottawa"}, got)

	assert.Len(t, CapitalisedPhrases("Alberta Ontario. Quebec. Manitoba.", 2), 2)
}

func TestExpandQuery(t *testing.T) {
	assert.Equal(t, []string{"cabinet"}, ExpandQuery("cabinet"))
	assert.Equal(t,
		[]string{"Capitalization of titles", "uppercase", "lowercase", "title case"},
		ExpandQuery("Capitalization of titles"))
	assert.Len(t, ExpandQuery("quotation dash"), 7)
}

func TestHeuristicQueries(t *testing.T) {
	got := HeuristicQueries("quotation style for the Toronto Star", 4)
	assert.Equal(t, []string{"quotes", "quotation marks", "quote marks", "Toronto Star"}, got)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short"))

	long := strings.Repeat("é", 100)
	got := truncate(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 80)+"...", got)

	exact := strings.Repeat("ü", 80)
	assert.Equal(t, exact, truncate(exact))
}
