package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Violation is a single style rule breach found in audited text.
// Text is always a verbatim substring of the audited text.
type Violation struct {
	RuleID     string   `json:"rule_id"`
	RuleName   string   `json:"rule_name,omitempty"`
	Text       string   `json:"text"`
	Reason     string   `json:"reason"`
	Correction string   `json:"correction,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	SourceURL  string   `json:"url,omitempty"`
	Paragraph  int      `json:"paragraph"`
	Start      int      `json:"start_index"`
	End        int      `json:"end_index"`
	Iteration  int      `json:"iteration"`
}

// Violations is a JSONB-backed list of violations
type Violations []Violation

// Value implements driver.Valuer for JSONB
func (v Violations) Value() (driver.Value, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner for JSONB
func (v *Violations) Scan(value interface{}) error {
	return scanJSONB(value, v)
}

// ExpectedViolation is a hand-labelled violation attached to a test case.
// Rule may hold either the rule id or the rule name.
type ExpectedViolation struct {
	Rule   string `json:"rule" yaml:"rule"`
	Text   string `json:"text,omitempty" yaml:"text,omitempty"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// ExpectedViolations is a JSONB-backed list of expected violations
type ExpectedViolations []ExpectedViolation

// Value implements driver.Valuer for JSONB
func (e ExpectedViolations) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

// Scan implements sql.Scanner for JSONB
func (e *ExpectedViolations) Scan(value interface{}) error {
	return scanJSONB(value, e)
}

// IterationTrace records what happened during one audit round
type IterationTrace struct {
	Iteration         int      `json:"iteration"`
	RulePoolSize      int      `json:"rule_pool_size"`
	NewRules          int      `json:"new_rules"`
	Accepted          int      `json:"accepted"`
	Dropped           int      `json:"dropped"`
	Confident         bool     `json:"confident"`
	NeedsMoreContext  bool     `json:"needs_more_context"`
	AdditionalQueries []string `json:"additional_queries,omitempty"`
	Thinking          string   `json:"thinking,omitempty"`
	Outcome           string   `json:"outcome"`
	Error             string   `json:"error,omitempty"`
}

// ParagraphTrace records retrieval for one paragraph
type ParagraphTrace struct {
	Index      int      `json:"index"`
	Queries    int      `json:"queries"`
	Candidates int      `json:"candidates"`
	Retained   int      `json:"retained"`
	Degraded   bool     `json:"degraded"`
	Notes      []string `json:"notes,omitempty"`
}

// AuditResult is the outcome of auditing one document
type AuditResult struct {
	ID          uuid.UUID        `json:"id"`
	Violations  Violations       `json:"violations"`
	Iterations  []IterationTrace `json:"iterations"`
	Paragraphs  []ParagraphTrace `json:"paragraphs"`
	RulePool    []string         `json:"rule_pool"`
	Degraded    bool             `json:"degraded"`
	Incomplete  bool             `json:"incomplete"`
	Errors      []string         `json:"errors,omitempty"`
	Model       string           `json:"model"`
	ElapsedMS   int64            `json:"elapsed_ms"`
	CompletedAt time.Time        `json:"completed_at"`
}

// AuditLog is a persisted record of one audit run
type AuditLog struct {
	ID         uuid.UUID        `json:"id"`
	TestID     *uuid.UUID       `json:"test_id,omitempty"`
	InputText  string           `json:"input_text"`
	ModelUsed  string           `json:"model_used"`
	Parameters TuningParameters `json:"parameters"`
	Iterations IterationTraces  `json:"iterations"`
	Violations Violations       `json:"violations"`
	Degraded   bool             `json:"degraded"`
	Incomplete bool             `json:"incomplete"`
	ReportPath *string          `json:"report_path,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// IterationTraces is a JSONB-backed list of iteration traces
type IterationTraces []IterationTrace

// Value implements driver.Valuer for JSONB
func (t IterationTraces) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner for JSONB
func (t *IterationTraces) Scan(value interface{}) error {
	return scanJSONB(value, t)
}

func scanJSONB(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	if len(bytes) == 0 {
		return nil
	}

	return json.Unmarshal(bytes, dest)
}
