package models

// RetrievalMethod tags which retrieval source produced a candidate rule.
type RetrievalMethod string

const (
	MethodVector  RetrievalMethod = "vector"
	MethodFusion  RetrievalMethod = "fusion"
	MethodKeyword RetrievalMethod = "keyword"
)

// Rule represents a single entry of the style guide
type Rule struct {
	ID        string   `json:"id" yaml:"id" validate:"required"`
	Name      string   `json:"name" yaml:"name" validate:"required"`
	Guideline string   `json:"guideline" yaml:"guideline" validate:"required"`
	URL       string   `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	RuleType  string   `json:"rule_type,omitempty" yaml:"rule_type,omitempty"` // "atomic_check", "complex_policy"
	Tags      []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Triggers  []string `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

// Validate checks that the rule can be indexed
func (r Rule) Validate() error {
	return validate.Struct(r)
}

// ScoredRule is a rule returned by a similarity search together with its score
type ScoredRule struct {
	Rule  Rule    `json:"rule"`
	Score float64 `json:"score"`
}

// CandidateRule is a rule proposed by one retrieval pass
type CandidateRule struct {
	Rule   Rule            `json:"rule"`
	Score  float64         `json:"score"`
	Method RetrievalMethod `json:"method"`
}

// RerankedRule is a candidate after reranking. Score is always within [0,1].
type RerankedRule struct {
	Rule            Rule            `json:"rule"`
	Method          RetrievalMethod `json:"method"`
	Score           float64         `json:"score"`
	SimilarityScore float64         `json:"similarity_score"`
	Passed          bool            `json:"passed"`
}
