package rerank

import (
	"context"
	"fmt"
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/llm"
	"github.com/RobertJohnDavidson/rag-style-check/models"
)

// choiceBatchSize is the number of rules scored per completion call
const choiceBatchSize = 10

const relevancePrompt = `A list of style guide rules is shown below, each with a number. A text to be copy edited is also provided.
Rate how relevant each rule is for checking the text, from 0 (irrelevant) to 10 (directly applies to a word or phrase in the text).
Return ONLY a JSON array of objects {"index": <rule number>, "score": <0-10>}, one per rule.

Text: %q

Rules:
%s`

var relevanceSchema = &llm.Schema{
	Type: llm.TypeArray,
	Items: &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"index": {Type: llm.TypeInteger},
			"score": {Type: llm.TypeNumber},
		},
		Required: []string{"index", "score"},
	},
}

// LLMScorer rates rule relevance with the completion backend
type LLMScorer struct {
	client llm.Client
	model  string
}

// NewLLMScorer creates an LLM scorer. An empty model uses the audit model.
func NewLLMScorer(client llm.Client, model string) *LLMScorer {
	return &LLMScorer{client: client, model: model}
}

// Name implements Scorer
func (s *LLMScorer) Name() string {
	return "llm"
}

// Score implements Scorer. Rules the model leaves unrated score 0.
func (s *LLMScorer) Score(ctx context.Context, query string, candidates []models.CandidateRule, params models.TuningParameters) ([]float64, error) {
	model := s.model
	if model == "" {
		model = params.ModelName
	}

	scores := make([]float64, len(candidates))
	for start := 0; start < len(candidates); start += choiceBatchSize {
		end := min(start+choiceBatchSize, len(candidates))

		var list strings.Builder
		for i, c := range candidates[start:end] {
			fmt.Fprintf(&list, "Rule %d: %s. %s\n", i+1, c.Rule.Name, c.Rule.Guideline)
		}

		resp, err := s.client.Complete(ctx, llm.Request{
			Model:       model,
			Temperature: 0,
			Prompt:      fmt.Sprintf(relevancePrompt, query, list.String()),
			JSON:        true,
			Schema:      relevanceSchema,
		})
		if err != nil {
			return nil, err
		}

		var rated []struct {
			Index int     `json:"index"`
			Score float64 `json:"score"`
		}
		if err := llm.DecodeArray(resp.Content, &rated); err != nil {
			return nil, err
		}
		for _, r := range rated {
			if r.Index < 1 || r.Index > end-start {
				continue
			}
			scores[start+r.Index-1] = clamp(r.Score / 10)
		}
	}
	return scores, nil
}
