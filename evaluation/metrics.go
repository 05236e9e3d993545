// Package evaluation scores detected violations against hand-labelled ones.
package evaluation

import (
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/models"
)

// Metrics is a confusion matrix with derived ratios. A ratio is nil when its
// denominator is zero.
type Metrics struct {
	TruePositives  int      `json:"true_positives"`
	FalsePositives int      `json:"false_positives"`
	FalseNegatives int      `json:"false_negatives"`
	TrueNegatives  int      `json:"true_negatives"`
	Precision      *float64 `json:"precision"`
	Recall         *float64 `json:"recall"`
	F1             *float64 `json:"f1_score"`
}

// Score matches detected violations to expected ones, one to one and
// greedily in detection order.
//
// In rule mode an expected violation matches when its rule equals the
// detected rule id or name, ignoring case. Strict mode also requires the
// texts to overlap. TrueNegatives is 1 only when both lists are empty,
// which treats a clean text as a single negative.
func Score(expected []models.ExpectedViolation, detected []models.Violation, mode string) Metrics {
	used := make([]bool, len(expected))
	tp := 0
	for _, d := range detected {
		for i, e := range expected {
			if used[i] || !matches(e, d, mode) {
				continue
			}
			used[i] = true
			tp++
			break
		}
	}

	m := Metrics{
		TruePositives:  tp,
		FalsePositives: len(detected) - tp,
		FalseNegatives: len(expected) - tp,
	}
	if len(expected) == 0 && len(detected) == 0 {
		m.TrueNegatives = 1
	}
	m.computeRatios()
	return m
}

// Aggregate sums counts across runs and recomputes the ratios
func Aggregate(runs ...Metrics) Metrics {
	var total Metrics
	for _, r := range runs {
		total.TruePositives += r.TruePositives
		total.FalsePositives += r.FalsePositives
		total.FalseNegatives += r.FalseNegatives
		total.TrueNegatives += r.TrueNegatives
	}
	total.computeRatios()
	return total
}

func (m *Metrics) computeRatios() {
	m.Precision = ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	m.Recall = ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	m.F1 = nil
	if m.Precision != nil && m.Recall != nil {
		f1 := 0.0
		if sum := *m.Precision + *m.Recall; sum > 0 {
			f1 = 2 * *m.Precision * *m.Recall / sum
		}
		m.F1 = &f1
	}
}

func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	r := float64(num) / float64(den)
	return &r
}

func matches(e models.ExpectedViolation, d models.Violation, mode string) bool {
	rule := strings.TrimSpace(e.Rule)
	if !strings.EqualFold(rule, d.RuleID) && !strings.EqualFold(rule, d.RuleName) {
		return false
	}
	if mode != models.MatchStrict {
		return true
	}
	et := strings.ToLower(strings.TrimSpace(e.Text))
	dt := strings.ToLower(strings.TrimSpace(d.Text))
	if et == "" {
		return true
	}
	return dt != "" && (strings.Contains(et, dt) || strings.Contains(dt, et))
}
