package audit

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/llm"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// violationRecord is one violation as reported by the model
type violationRecord struct {
	RuleID     string   `json:"rule_id" validate:"required"`
	Text       string   `json:"text" validate:"required"`
	Reason     string   `json:"reason" validate:"required"`
	Correction string   `json:"correction"`
	Confidence *float64 `json:"confidence" validate:"omitempty,gte=0,lte=100"`
}

// responseEnvelope is the top-level completion record. Violations are kept
// raw so that one malformed entry does not discard the rest.
type responseEnvelope struct {
	Violations        []json.RawMessage `json:"violations"`
	Confident         *bool             `json:"confident" validate:"required"`
	NeedsMoreContext  *bool             `json:"needs_more_context" validate:"required"`
	AdditionalQueries []string          `json:"additional_queries"`
	Thinking          string            `json:"thinking"`
}

// analysis is a parsed completion
type analysis struct {
	Violations        []violationRecord
	Rejected          int
	Confident         bool
	NeedsMoreContext  bool
	AdditionalQueries []string
	Thinking          string
}

// parseAnalysis decodes a completion. On a schema error the returned analysis
// still carries every violation that parsed, with both signals false.
func parseAnalysis(content string) (analysis, error) {
	var out analysis
	if strings.TrimSpace(content) == "" {
		return out, ErrEmptyCompletion
	}

	var env responseEnvelope
	if err := llm.DecodeObject(content, &env); err != nil {
		return out, err
	}

	for _, raw := range env.Violations {
		var rec violationRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			out.Rejected++
			continue
		}
		rec.RuleID = strings.TrimSpace(rec.RuleID)
		rec.Text = strings.TrimSpace(rec.Text)
		if err := validate.Struct(rec); err != nil {
			out.Rejected++
			continue
		}
		out.Violations = append(out.Violations, rec)
	}
	out.Thinking = env.Thinking

	if err := validate.Struct(env); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return out, errors.New("missing field " + verrs[0].Field())
		}
		return out, err
	}

	out.Confident = *env.Confident
	out.NeedsMoreContext = *env.NeedsMoreContext
	for _, q := range env.AdditionalQueries {
		if q = strings.TrimSpace(q); q != "" {
			out.AdditionalQueries = append(out.AdditionalQueries, q)
		}
	}
	return out, nil
}
