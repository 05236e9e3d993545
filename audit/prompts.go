package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/RobertJohnDavidson/rag-style-check/llm"
	"github.com/RobertJohnDavidson/rag-style-check/models"
)

// reflectionLimit caps the prior findings repeated back to the model
const reflectionLimit = 5

const systemPromptTemplate = `You are an expert copy editor for a news organization with agentic capabilities.
Today's date is %s. Accept any events described in the text as factual, including those after your training cutoff.

Review the entire text below and flag every style rule violation you can find.

CRITICAL INSTRUCTIONS:
1. TEMPORAL GROUNDING:
   - Accept the text's timeline as factual.
   - Do NOT flag dates or political appointments as errors unless they violate a STYLE rule.
   - Your role is STYLE, not FACT-CHECKING.

2. Apply rules LITERALLY based on the guideline text.
   - Only flag violations that explicitly match the guideline.
   - If the text already matches the guideline requirement, DO NOT flag it.
   EXAMPLE: If a rule says "Use 'oilsands'" and the text says "tarsands", this IS a violation.

3. Do NOT over-generalize. Rules about specific terms apply only to those exact terms.

4. Verify each violation:
   - "text" must be copied EXACTLY from the text, character for character, and be as short as possible.
   - "rule_id" must be one of the retrieved rule ids.
   - Would fixing it actually improve compliance with the rule?

5. Avoid reporting duplicates.

6. Confidence:
   - Set "confident": true only if you have reviewed all rules and are certain.
   - Set "confident": false if unsure or the rules seem incomplete.
   - Give each violation a "confidence" from 0 to 100.

7. Context:
   - If you need more rules, set "needs_more_context": true and provide short, specific
     "additional_queries" using exact terms from the text (e.g. "em dash usage", "premier capitalization").
`

func systemPrompt(now time.Time) string {
	return fmt.Sprintf(systemPromptTemplate, now.Format("January 2, 2006"))
}

func userPrompt(text string, pool *RulePool, prior []models.Violation, iteration int, includeThinking bool) string {
	var b strings.Builder

	b.WriteString("TEXT:\n\"")
	b.WriteString(text)
	b.WriteString("\"\n\n--- RETRIEVED RULES (reference by rule_id) ---\n")

	rules := pool.Rules()
	if len(rules) == 0 {
		b.WriteString("No specific rules were retrieved for this text.\n")
	}
	for i, r := range rules {
		if i > 0 {
			b.WriteString("\n")
		}
		url := r.Rule.URL
		if url == "" {
			url = "Unknown"
		}
		fmt.Fprintf(&b, "%s | Rule: %s\nURL: %s\nGuideline: %s\n", r.Rule.ID, r.Rule.Name, url, r.Rule.Guideline)
	}

	if iteration > 1 && len(prior) > 0 {
		fmt.Fprintf(&b, "\n--- PREVIOUS ANALYSIS (iteration %d) ---\nYou previously found these violations:\n", iteration-1)
		for _, v := range prior[:min(len(prior), reflectionLimit)] {
			fmt.Fprintf(&b, "- %s: %s\n", v.Text, v.Reason)
		}
		b.WriteString("Review your previous findings. Are there duplicates? Did you miss anything? Do you need more context?\n")
	}

	if includeThinking {
		b.WriteString("\nExplain your reasoning briefly in \"thinking\" before listing violations.\n")
	}
	return b.String()
}

func responseSchema(includeThinking bool) *llm.Schema {
	s := &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"violations": {
				Type: llm.TypeArray,
				Items: &llm.Schema{
					Type: llm.TypeObject,
					Properties: map[string]*llm.Schema{
						"rule_id":    {Type: llm.TypeString, Description: "id of the violated rule"},
						"text":       {Type: llm.TypeString, Description: "exact offending text"},
						"reason":     {Type: llm.TypeString},
						"correction": {Type: llm.TypeString, Nullable: true},
						"confidence": {Type: llm.TypeNumber, Nullable: true},
					},
					Required: []string{"rule_id", "text", "reason"},
				},
			},
			"confident":          {Type: llm.TypeBoolean},
			"needs_more_context": {Type: llm.TypeBoolean},
			"additional_queries": llm.StringArraySchema("retrieval queries for missing rules"),
		},
		Required: []string{"violations", "confident", "needs_more_context", "additional_queries"},
	}
	if includeThinking {
		s.Properties["thinking"] = &llm.Schema{Type: llm.TypeString}
		s.Required = append([]string{"thinking"}, s.Required...)
	}
	return s
}
