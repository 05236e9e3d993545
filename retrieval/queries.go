package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/llm"
	"github.com/RobertJohnDavidson/rag-style-check/models"
)

// QueryGenerator produces reformulations of a retrieval query
type QueryGenerator interface {
	Generate(ctx context.Context, query string, params models.TuningParameters) ([]string, error)
}

// StyleCategories lists the style areas queries should probe
const StyleCategories = `- Capitalization: case rules for titles, government, academic and business terms.
- Punctuation: ellipses, brackets, quotation marks, commas, hyphens.
- Spelling: preferred spellings, compound words, Canadian vs U.S. variants.
- Grammar: possessives, verb agreement, clause distinction.
- Numbers: digits vs text, measurements, currency, percentages.
- Dates & Time: months, years, days, time formatting.
- Geography: place names, regions, demonyms, location abbreviations.
- Titles & Ranks: military ranks, royal titles, job titles, honorifics.
- Abbreviations: acronyms and initialisms (e.g. UN, U.S.).
- Formatting: italics, bolding, lists.
- Usage & Diction: word choice distinctions, jargon, redundancy.
- Proper Names: specific people, organizations or entities.
- Bias & Sensitivity: inclusive language, preferred terminology for groups.
`

const queryGenPrompt = `You are an expert Copy Editor. Generate %d specific search queries to find style rules relevant to the following text.
Your goal is to identify potential violations in these specific categories:
%s
Generate queries focusing on the specific terms, capitalization, spelling, or punctuation issues.
Do NOT include generic phrases like 'style guide' in your queries.
Return ONLY a JSON array of strings.

Text: %s`

// LLMQueryGenerator asks the completion backend for reformulated queries
type LLMQueryGenerator struct {
	client llm.Client
}

// NewLLMQueryGenerator creates a generator backed by client
func NewLLMQueryGenerator(client llm.Client) *LLMQueryGenerator {
	return &LLMQueryGenerator{client: client}
}

// Generate implements QueryGenerator
func (g *LLMQueryGenerator) Generate(ctx context.Context, query string, params models.TuningParameters) ([]string, error) {
	resp, err := g.client.Complete(ctx, llm.Request{
		Model:       params.ModelName,
		Temperature: params.Temperature,
		Prompt:      fmt.Sprintf(queryGenPrompt, params.NumFusionQueries, StyleCategories, query),
		JSON:        true,
		Schema:      llm.StringArraySchema("search queries"),
	})
	if err != nil {
		return nil, err
	}

	var queries []string
	if err := llm.DecodeArray(resp.Content, &queries); err != nil {
		return nil, err
	}
	return cleanQueries(queries, query, params.NumFusionQueries), nil
}

// HeuristicQueries derives reformulations without a model: expansion table
// entries first, then capitalised phrases from the text.
func HeuristicQueries(query string, n int) []string {
	candidates := ExpandQuery(query)[1:]
	candidates = append(candidates, CapitalisedPhrases(query, 0)...)
	return cleanQueries(candidates, query, n)
}

// cleanQueries trims, drops blanks and repeats of the original, and caps at n
func cleanQueries(queries []string, original string, n int) []string {
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(original)): true}
	var out []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == n {
			break
		}
	}
	return out
}
