package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationMethod describes how a test case was produced
type GenerationMethod string

const (
	GenerationManual    GenerationMethod = "manual"
	GenerationSynthetic GenerationMethod = "synthetic"
	GenerationImported  GenerationMethod = "imported"
)

// TestCase is a labelled text used to evaluate audit quality
type TestCase struct {
	ID                 uuid.UUID          `json:"id"`
	Label              string             `json:"label"`
	Text               string             `json:"text"`
	ExpectedViolations ExpectedViolations `json:"expected_violations"`
	GenerationMethod   GenerationMethod   `json:"generation_method"`
	Notes              *string            `json:"notes,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// TestResult is one scored run of a test case
type TestResult struct {
	ID                 uuid.UUID         `json:"id"`
	TestID             uuid.UUID         `json:"test_id"`
	TruePositives      int               `json:"true_positives"`
	FalsePositives     int               `json:"false_positives"`
	FalseNegatives     int               `json:"false_negatives"`
	TrueNegatives      int               `json:"true_negatives"`
	Precision          *float64          `json:"precision"`
	Recall             *float64          `json:"recall"`
	F1Score            *float64          `json:"f1_score"`
	DetectedViolations Violations        `json:"detected_violations"`
	TuningParameters   *TuningParameters `json:"tuning_parameters,omitempty"`
	ExecutedAt         time.Time         `json:"executed_at"`
}
