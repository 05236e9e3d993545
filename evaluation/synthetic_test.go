package evaluation

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/RobertJohnDavidson/rag-style-check/llm"
	"github.com/RobertJohnDavidson/rag-style-check/models"
	"github.com/RobertJohnDavidson/rag-style-check/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRules struct {
	rules []models.RerankedRule
	err   error
	calls int
}

func (f *fixedRules) RelevantRules(context.Context, string, models.TuningParameters) ([]models.RerankedRule, error) {
	f.calls++
	return f.rules, f.err
}

var generatorRules = []models.RerankedRule{
	{Rule: models.Rule{ID: "cabinet", Name: "Cabinet", Guideline: "Lowercase cabinet."}, Score: 0.9, Passed: true},
	{Rule: models.Rule{ID: "premier", Name: "premier", Guideline: "Capitalize premier only before a name."}, Score: 0.8, Passed: true},
}

const cleanParagraph = "The cabinet met on Monday. The premier said the budget would pass."

func newTestGenerator(client llm.Client, rules RuleFinder) *Generator {
	return NewGenerator(client, rules, WithRand(rand.New(rand.NewPCG(1, 2))))
}

func TestInjectErrors(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{testutil.JSON(`{
		"text": "The Cabinet met on Monday. The Premier said the budget would pass.",
		"expected_violations": [
			{"rule": "cabinet", "text": "Cabinet", "reason": "cabinet is lowercase"},
			{"rule": "Premier", "text": "The Premier said", "reason": "no name follows"},
			{"rule": "oxford-comma", "text": "budget", "reason": "not a selected rule"},
			{"rule": "cabinet", "text": "Cabinet Office", "reason": "not in the rewritten text"}
		]
	}`)}}
	g := newTestGenerator(mock, &fixedRules{rules: generatorRules})

	c, err := g.InjectErrors(context.Background(), cleanParagraph, 2)
	require.NoError(t, err)

	assert.Equal(t, "The Cabinet met on Monday. The Premier said the budget would pass.", c.Text)
	require.Len(t, c.Expected, 2)
	assert.Equal(t, models.ExpectedViolation{Rule: "cabinet", Text: "Cabinet", Reason: "cabinet is lowercase"}, c.Expected[0])
	assert.Equal(t, "premier", c.Expected[1].Rule)
	for _, e := range c.Expected {
		assert.True(t, strings.Contains(c.Text, e.Text))
	}

	req := mock.Requests()[0]
	assert.True(t, req.JSON)
	assert.Equal(t, injectSchema, req.Schema)
	assert.Contains(t, req.Prompt, "- cabinet | Cabinet: Lowercase cabinet.")
	assert.Contains(t, req.Prompt, cleanParagraph)
}

func TestInjectErrors_CapsAtAvailableRules(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{testutil.JSON(`{"text": "x", "expected_violations": []}`)}}
	g := newTestGenerator(mock, &fixedRules{rules: generatorRules[:1]})

	_, err := g.InjectErrors(context.Background(), cleanParagraph, 4)
	require.NoError(t, err)

	prompt := mock.Requests()[0].Prompt
	assert.Contains(t, prompt, "1 violations in total")
	assert.NotContains(t, prompt, "premier |")
}

func TestInjectErrors_NoRulesGivesCleanCase(t *testing.T) {
	mock := &testutil.MockLLMClient{}
	g := newTestGenerator(mock, &fixedRules{})

	c, err := g.InjectErrors(context.Background(), cleanParagraph, 3)
	require.NoError(t, err)

	assert.Equal(t, cleanParagraph, c.Text)
	assert.NotNil(t, c.Expected)
	assert.Empty(t, c.Expected)
	assert.Zero(t, mock.CallCount())
}

func TestInjectErrors_UnusableAnswerKeepsOriginal(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{testutil.JSON("Sorry, I can't do that.")}}
	g := newTestGenerator(mock, &fixedRules{rules: generatorRules})

	c, err := g.InjectErrors(context.Background(), cleanParagraph, 2)
	require.NoError(t, err)

	assert.Equal(t, cleanParagraph, c.Text)
	assert.Empty(t, c.Expected)
}

func TestInjectErrors_Failures(t *testing.T) {
	lookup := errors.New("index unavailable")
	g := newTestGenerator(&testutil.MockLLMClient{}, &fixedRules{err: lookup})
	_, err := g.InjectErrors(context.Background(), cleanParagraph, 2)
	assert.ErrorIs(t, err, lookup)

	transport := errors.New("deadline exceeded")
	g = newTestGenerator(&testutil.MockLLMClient{Err: transport}, &fixedRules{rules: generatorRules})
	_, err = g.InjectErrors(context.Background(), cleanParagraph, 2)
	assert.ErrorIs(t, err, transport)
}

func TestSynthetic(t *testing.T) {
	mock := &testutil.MockLLMClient{Handler: func(req llm.Request) (*llm.Response, error) {
		if !req.JSON {
			return testutil.JSON("  " + cleanParagraph + "\n"), nil
		}
		return testutil.JSON(`{
			"text": "The Cabinet met on Monday. The premier said the budget would pass.",
			"expected_violations": [{"rule": "cabinet", "text": "Cabinet", "reason": "lowercase"}]
		}`), nil
	}}
	rules := &fixedRules{rules: generatorRules}
	g := newTestGenerator(mock, rules)

	cases, err := g.Synthetic(context.Background(), 3)
	require.NoError(t, err)

	require.Len(t, cases, 3)
	for _, c := range cases {
		assert.True(t, strings.HasPrefix(c.Label, "Synthetic test - "))
		assert.Contains(t, SyntheticTopics, strings.TrimPrefix(c.Label, "Synthetic test - "))
		require.Len(t, c.Expected, 1)
		assert.Equal(t, "cabinet", c.Expected[0].Rule)
	}
	assert.Equal(t, 3, rules.calls)
	assert.Equal(t, 6, mock.CallCount())

	write := mock.Requests()[0]
	assert.False(t, write.JSON)
	assert.InDelta(t, paragraphTemperature, write.Temperature, 1e-9)
	assert.InDelta(t, injectTemperature, mock.Requests()[1].Temperature, 1e-9)
}

func TestSynthetic_EmptyParagraph(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []*llm.Response{testutil.JSON("   ")}}
	g := newTestGenerator(mock, &fixedRules{rules: generatorRules})

	cases, err := g.Synthetic(context.Background(), 2)

	assert.ErrorIs(t, err, ErrEmptyGeneration)
	assert.Empty(t, cases)
}
