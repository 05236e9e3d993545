package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Fusion modes for merging results of reformulated queries
const (
	FusionReciprocalRank = "reciprocal_rank"
	FusionScoreSum       = "score_sum"
)

// Match modes used when scoring detected against expected violations
const (
	MatchByRule = "rule"
	MatchStrict = "strict"
)

// TuningParameters is the flat configuration record for one audit call.
// Every field has a default (see DefaultTuningParameters) and a validated range.
type TuningParameters struct {
	ModelName             string  `json:"model_name" yaml:"model_name" validate:"required"`
	Temperature           float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	InitialRetrievalCount int     `json:"initial_retrieval_count" yaml:"initial_retrieval_count" validate:"gte=10,lte=200"`
	FinalTopK             int     `json:"final_top_k" yaml:"final_top_k" validate:"gte=5,lte=100"`
	RerankScoreThreshold  float64 `json:"rerank_score_threshold" yaml:"rerank_score_threshold" validate:"gte=0,lte=1"`
	AggregatedRuleLimit   int     `json:"aggregated_rule_limit" yaml:"aggregated_rule_limit" validate:"gte=10,lte=100"`
	MinSentenceLength     int     `json:"min_sentence_length" yaml:"min_sentence_length" validate:"gte=1,lte=50"`
	MaxAgentIterations    int     `json:"max_agent_iterations" yaml:"max_agent_iterations" validate:"gte=1,lte=10"`
	ConfidenceThreshold   float64 `json:"confidence_threshold" yaml:"confidence_threshold" validate:"gte=0,lte=100"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests" yaml:"max_concurrent_requests" validate:"gte=1,lte=50"`

	// Retrieval sources
	UseVectorSearch  bool    `json:"use_vector_search" yaml:"use_vector_search"`
	UseKeywordSearch bool    `json:"use_keyword_search" yaml:"use_keyword_search"`
	UsePatternSearch bool    `json:"use_pattern_search" yaml:"use_pattern_search"`
	KeywordFloor     int     `json:"keyword_floor" yaml:"keyword_floor" validate:"gte=0,lte=200"`
	KeywordScore     float64 `json:"keyword_score" yaml:"keyword_score" validate:"gte=0,lte=1"`

	// Query fusion
	UseQueryFusion   bool   `json:"use_query_fusion" yaml:"use_query_fusion"`
	NumFusionQueries int    `json:"num_fusion_queries" yaml:"num_fusion_queries" validate:"gte=1,lte=10"`
	FusionMode       string `json:"fusion_mode" yaml:"fusion_mode" validate:"oneof=reciprocal_rank score_sum"`

	// Reranking
	UseLLMRerank      bool `json:"use_llm_rerank" yaml:"use_llm_rerank"`
	UseSemanticRerank bool `json:"use_semantic_rerank" yaml:"use_semantic_rerank"`

	IncludeThinking bool   `json:"include_thinking" yaml:"include_thinking"`
	MatchMode       string `json:"match_mode" yaml:"match_mode" validate:"oneof=rule strict"`
}

// DefaultTuningParameters returns the documented defaults
func DefaultTuningParameters() TuningParameters {
	return TuningParameters{
		ModelName:             "gemini-2.5-flash",
		Temperature:           0.1,
		InitialRetrievalCount: 75,
		FinalTopK:             25,
		RerankScoreThreshold:  0.10,
		AggregatedRuleLimit:   40,
		MinSentenceLength:     5,
		MaxAgentIterations:    3,
		ConfidenceThreshold:   10.0,
		MaxConcurrentRequests: 15,
		UseVectorSearch:       true,
		UseKeywordSearch:      true,
		UsePatternSearch:      false,
		KeywordFloor:          10,
		KeywordScore:          0.5,
		UseQueryFusion:        true,
		NumFusionQueries:      3,
		FusionMode:            FusionReciprocalRank,
		UseLLMRerank:          false,
		UseSemanticRerank:     false,
		IncludeThinking:       false,
		MatchMode:             MatchByRule,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its documented range
func (p TuningParameters) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q constraint (value %v)", fe.Field(), fe.Tag()+paramSuffix(fe.Param()), fe.Value())
		}
		return err
	}
	return nil
}

// ApplyOverrides decodes a partial JSON object on top of p.
// Fields absent from raw keep their current values.
func (p TuningParameters) ApplyOverrides(raw []byte) (TuningParameters, error) {
	out := p
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return p, fmt.Errorf("invalid tuning parameters: %w", err)
	}
	return out, nil
}

// Value implements driver.Valuer for JSONB
func (p TuningParameters) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB
func (p *TuningParameters) Scan(value interface{}) error {
	return scanJSONB(value, p)
}

func paramSuffix(param string) string {
	if param == "" {
		return ""
	}
	return "=" + param
}
