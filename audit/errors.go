package audit

import (
	"errors"
	"fmt"

	"github.com/RobertJohnDavidson/rag-style-check/rerank"
	"github.com/RobertJohnDavidson/rag-style-check/retrieval"
)

var (
	ErrNoCompletionClient = errors.New("completion client not configured")
	ErrEmptyCompletion    = errors.New("completion returned no content")
)

// Drop reasons recorded for rejected violations
const (
	DropSchema        = "schema"
	DropNotVerbatim   = "not_verbatim"
	DropLowConfidence = "low_confidence"
)

// RetrievalError is a recovered retrieval backend failure
type RetrievalError = retrieval.Error

// RerankError is a recovered reranking service failure
type RerankError = rerank.Error

// ConfigurationError rejects an audit before any backend call is made.
// It is the only error Audit returns.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid audit configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// CompletionSchemaError is a completion that did not match the response schema
type CompletionSchemaError struct {
	Iteration int
	Err       error
}

func (e *CompletionSchemaError) Error() string {
	return fmt.Sprintf("iteration %d: malformed completion: %v", e.Iteration, e.Err)
}

func (e *CompletionSchemaError) Unwrap() error {
	return e.Err
}

// CompletionTransportError is a failed or timed out completion call
type CompletionTransportError struct {
	Iteration int
	Err       error
}

func (e *CompletionTransportError) Error() string {
	return fmt.Sprintf("iteration %d: completion failed: %v", e.Iteration, e.Err)
}

func (e *CompletionTransportError) Unwrap() error {
	return e.Err
}

// InvariantViolation is a model-reported violation that failed validation
type InvariantViolation struct {
	Reason string
	RuleID string
	Text   string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("dropped violation (%s): rule %q text %q", e.Reason, e.RuleID, e.Text)
}
