package evaluation

import (
	"encoding/json"
	"testing"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_BothEmpty(t *testing.T) {
	m := Score(nil, nil, models.MatchByRule)

	assert.Equal(t, 1, m.TrueNegatives)
	assert.Zero(t, m.TruePositives)
	assert.Nil(t, m.Precision)
	assert.Nil(t, m.Recall)
	assert.Nil(t, m.F1)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"precision":null`)
}

func TestScore_PerfectMatch(t *testing.T) {
	m := Score(
		[]models.ExpectedViolation{{Rule: "cabinet"}},
		[]models.Violation{{RuleID: "cabinet", Text: "Cabinet"}},
		models.MatchByRule,
	)

	assert.Equal(t, 1, m.TruePositives)
	assert.Zero(t, m.TrueNegatives)
	require.NotNil(t, m.Precision)
	require.NotNil(t, m.Recall)
	require.NotNil(t, m.F1)
	assert.Equal(t, 1.0, *m.Precision)
	assert.Equal(t, 1.0, *m.Recall)
	assert.Equal(t, 1.0, *m.F1)
}

func TestScore_MatchesRuleNameIgnoringCase(t *testing.T) {
	m := Score(
		[]models.ExpectedViolation{{Rule: "Cabinet"}},
		[]models.Violation{{RuleID: "r-123", RuleName: "cabinet"}},
		models.MatchByRule,
	)
	assert.Equal(t, 1, m.TruePositives)
}

func TestScore_OneToOne(t *testing.T) {
	m := Score(
		[]models.ExpectedViolation{{Rule: "cabinet"}},
		[]models.Violation{{RuleID: "cabinet"}, {RuleID: "cabinet"}},
		models.MatchByRule,
	)

	assert.Equal(t, 1, m.TruePositives)
	assert.Equal(t, 1, m.FalsePositives)
	assert.Zero(t, m.FalseNegatives)
	assert.InDelta(t, 0.5, *m.Precision, 1e-9)
	assert.InDelta(t, 1.0, *m.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, *m.F1, 1e-9)
}

func TestScore_NothingDetected(t *testing.T) {
	m := Score([]models.ExpectedViolation{{Rule: "cabinet"}}, nil, models.MatchByRule)

	assert.Equal(t, 1, m.FalseNegatives)
	assert.Nil(t, m.Precision)
	require.NotNil(t, m.Recall)
	assert.Zero(t, *m.Recall)
	assert.Nil(t, m.F1)
}

func TestScore_NoOverlapGivesZeroF1(t *testing.T) {
	m := Score(
		[]models.ExpectedViolation{{Rule: "cabinet"}},
		[]models.Violation{{RuleID: "premier"}},
		models.MatchByRule,
	)

	require.NotNil(t, m.F1)
	assert.Zero(t, *m.F1)
	assert.Zero(t, m.TrueNegatives)
}

func TestScore_StrictRequiresTextOverlap(t *testing.T) {
	expected := []models.ExpectedViolation{{Rule: "cabinet", Text: "the Cabinet"}}

	hit := Score(expected, []models.Violation{{RuleID: "cabinet", Text: "Cabinet"}}, models.MatchStrict)
	assert.Equal(t, 1, hit.TruePositives)

	miss := Score(expected, []models.Violation{{RuleID: "cabinet", Text: "federal"}}, models.MatchStrict)
	assert.Zero(t, miss.TruePositives)

	loose := Score(expected, []models.Violation{{RuleID: "cabinet", Text: "federal"}}, models.MatchByRule)
	assert.Equal(t, 1, loose.TruePositives)
}

func TestAggregate(t *testing.T) {
	total := Aggregate(
		Score(nil, nil, models.MatchByRule),
		Score([]models.ExpectedViolation{{Rule: "a"}}, []models.Violation{{RuleID: "a"}}, models.MatchByRule),
		Score([]models.ExpectedViolation{{Rule: "b"}}, []models.Violation{{RuleID: "c"}}, models.MatchByRule),
	)

	assert.Equal(t, 1, total.TruePositives)
	assert.Equal(t, 1, total.FalsePositives)
	assert.Equal(t, 1, total.FalseNegatives)
	assert.Equal(t, 1, total.TrueNegatives)
	assert.InDelta(t, 0.5, *total.Precision, 1e-9)
	assert.InDelta(t, 0.5, *total.Recall, 1e-9)
	assert.InDelta(t, 0.5, *total.F1, 1e-9)

	empty := Aggregate()
	assert.Nil(t, empty.Precision)
}
