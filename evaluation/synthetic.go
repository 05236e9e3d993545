package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/llm"
	"github.com/RobertJohnDavidson/rag-style-check/models"

	"go.uber.org/zap"
)

const (
	// maxInjectableRules caps the rules offered for error injection
	maxInjectableRules = 20
	maxInjectedErrors  = 4

	paragraphTemperature = 0.7
	injectTemperature    = 0.9
)

// ErrEmptyGeneration is returned when the model writes no paragraph
var ErrEmptyGeneration = errors.New("model returned an empty paragraph")

// SyntheticTopics are the news beats synthetic paragraphs are written about
var SyntheticTopics = []string{
	"politics and government policy",
	"technology and innovation",
	"sports and athletics",
	"health and medical research",
	"environment and climate",
	"business and economy",
	"education and schools",
	"crime and justice",
	"arts and entertainment",
	"science and discovery",
}

const paragraphPrompt = `Write one neutral news paragraph about %s.
Use three or four sentences and follow standard newsroom style. Return only the paragraph.`

const injectPrompt = `You build test cases for a newsroom style checker.
Rewrite the paragraph below so that it breaks each of the listed style rules exactly once, %d violations in total.
Keep the paragraph natural and the violations subtle but unambiguous.

Paragraph:
%s

Rules to break:
%s
For every violation report the rule id, the exact offending text as it appears in your rewritten paragraph, and why it breaks the rule.`

var injectSchema = &llm.Schema{
	Type: llm.TypeObject,
	Properties: map[string]*llm.Schema{
		"text": {Type: llm.TypeString, Description: "rewritten paragraph"},
		"expected_violations": {
			Type: llm.TypeArray,
			Items: &llm.Schema{
				Type: llm.TypeObject,
				Properties: map[string]*llm.Schema{
					"rule":   {Type: llm.TypeString},
					"text":   {Type: llm.TypeString},
					"reason": {Type: llm.TypeString},
				},
				Required: []string{"rule", "text"},
			},
		},
	},
	Required: []string{"text", "expected_violations"},
}

// RuleFinder returns the reranked rules that apply to a text
type RuleFinder interface {
	RelevantRules(ctx context.Context, text string, params models.TuningParameters) ([]models.RerankedRule, error)
}

// Generator writes labelled test cases by asking the model to break known rules
type Generator struct {
	client llm.Client
	rules  RuleFinder
	params models.TuningParameters
	rng    *rand.Rand
	logger *zap.Logger
}

// GeneratorOption is a functional option for Generator
type GeneratorOption func(*Generator)

// WithParameters sets the parameters used for rule lookup and model calls
func WithParameters(p models.TuningParameters) GeneratorOption {
	return func(g *Generator) {
		g.params = p
	}
}

// WithRand sets the random source for topic, error count and rule choice
func WithRand(r *rand.Rand) GeneratorOption {
	return func(g *Generator) {
		g.rng = r
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = l
	}
}

// NewGenerator creates a generator
func NewGenerator(client llm.Client, rules RuleFinder, opts ...GeneratorOption) *Generator {
	g := &Generator{
		client: client,
		rules:  rules,
		params: models.DefaultTuningParameters(),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Synthetic writes count test cases, each a fresh paragraph on a random topic
// with one to four injected violations. Cases written before a failure are
// returned with the error.
func (g *Generator) Synthetic(ctx context.Context, count int) ([]Case, error) {
	cases := make([]Case, 0, count)
	for range count {
		topic := SyntheticTopics[g.rng.IntN(len(SyntheticTopics))]
		paragraph, err := g.Paragraph(ctx, topic)
		if err != nil {
			return cases, err
		}
		c, err := g.InjectErrors(ctx, paragraph, 1+g.rng.IntN(maxInjectedErrors))
		if err != nil {
			return cases, err
		}
		c.Label = "Synthetic test - " + topic
		cases = append(cases, c)
	}
	return cases, nil
}

// Paragraph asks the model for a clean news paragraph about topic
func (g *Generator) Paragraph(ctx context.Context, topic string) (string, error) {
	resp, err := g.client.Complete(ctx, llm.Request{
		Model:       g.params.ModelName,
		Temperature: paragraphTemperature,
		Prompt:      fmt.Sprintf(paragraphPrompt, topic),
	})
	if err != nil {
		return "", fmt.Errorf("failed to write paragraph: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptyGeneration
	}
	return text, nil
}

type injection struct {
	Text     string `json:"text"`
	Expected []struct {
		Rule   string `json:"rule"`
		Text   string `json:"text"`
		Reason string `json:"reason"`
	} `json:"expected_violations"`
}

// InjectErrors rewrites text to break up to n of the rules relevant to it.
// Expected violations always name a pooled rule id and quote text found
// verbatim in the rewritten paragraph. When the model's answer is unusable
// the original text comes back as a clean case.
func (g *Generator) InjectErrors(ctx context.Context, text string, n int) (Case, error) {
	clean := Case{Text: text, Expected: []models.ExpectedViolation{}}

	rules, err := g.rules.RelevantRules(ctx, text, g.params)
	if err != nil {
		return Case{}, fmt.Errorf("failed to look up rules: %w", err)
	}
	if len(rules) > maxInjectableRules {
		rules = rules[:maxInjectableRules]
	}
	n = min(n, len(rules))
	if n <= 0 {
		return clean, nil
	}

	selected := make([]models.Rule, 0, n)
	for _, i := range g.rng.Perm(len(rules))[:n] {
		selected = append(selected, rules[i].Rule)
	}

	var list strings.Builder
	for _, r := range selected {
		fmt.Fprintf(&list, "- %s | %s: %s\n", r.ID, r.Name, r.Guideline)
	}

	resp, err := g.client.Complete(ctx, llm.Request{
		Model:       g.params.ModelName,
		Temperature: injectTemperature,
		Prompt:      fmt.Sprintf(injectPrompt, n, text, list.String()),
		JSON:        true,
		Schema:      injectSchema,
	})
	if err != nil {
		return Case{}, fmt.Errorf("failed to inject errors: %w", err)
	}

	var out injection
	if err := llm.DecodeObject(resp.Content, &out); err != nil || strings.TrimSpace(out.Text) == "" {
		g.logger.Warn("unusable injection, keeping clean paragraph", zap.Error(err))
		return clean, nil
	}

	c := Case{Text: strings.TrimSpace(out.Text), Expected: []models.ExpectedViolation{}}
	for _, e := range out.Expected {
		rule, ok := matchRule(selected, e.Rule)
		if !ok || e.Text == "" || !strings.Contains(c.Text, e.Text) {
			g.logger.Debug("discarding injected violation",
				zap.String("rule", e.Rule),
				zap.String("text", e.Text),
			)
			continue
		}
		c.Expected = append(c.Expected, models.ExpectedViolation{
			Rule:   rule.ID,
			Text:   e.Text,
			Reason: strings.TrimSpace(e.Reason),
		})
	}
	return c, nil
}

// matchRule maps the model's rule reference onto a selected rule by id, then
// name, then a name contained in the reference
func matchRule(rules []models.Rule, ref string) (models.Rule, bool) {
	ref = strings.TrimSpace(ref)
	for _, r := range rules {
		if strings.EqualFold(r.ID, ref) || strings.EqualFold(r.Name, ref) {
			return r, true
		}
	}
	lower := strings.ToLower(ref)
	for _, r := range rules {
		if r.Name != "" && strings.Contains(lower, strings.ToLower(r.Name)) {
			return r, true
		}
	}
	return models.Rule{}, false
}
