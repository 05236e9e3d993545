package evaluation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadSuite(t *testing.T) {
	p := writeSuite(t, `
parameters:
  max_agent_iterations: 2
  match_mode: strict
cases:
  - label: cabinet
    text: The Cabinet met on Tuesday.
    expected_violations:
      - rule: cabinet
        text: Cabinet
  - label: clean
    text: The cabinet met on Tuesday.
`)

	s, err := LoadSuite(p)
	require.NoError(t, err)
	require.Len(t, s.Cases, 2)
	assert.Equal(t, []models.ExpectedViolation{{Rule: "cabinet", Text: "Cabinet"}}, s.Cases[0].Expected)
	assert.Empty(t, s.Cases[1].Expected)

	params, err := s.Params(models.DefaultTuningParameters())
	require.NoError(t, err)
	assert.Equal(t, 2, params.MaxAgentIterations)
	assert.Equal(t, models.MatchStrict, params.MatchMode)
	assert.Equal(t, models.DefaultTuningParameters().FinalTopK, params.FinalTopK)
}

func TestLoadSuiteWithoutParameters(t *testing.T) {
	s, err := LoadSuite(writeSuite(t, "cases:\n  - label: a\n    text: b\n"))
	require.NoError(t, err)

	params, err := s.Params(models.DefaultTuningParameters())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTuningParameters(), params)
}

func TestLoadSuiteErrors(t *testing.T) {
	_, err := LoadSuite(writeSuite(t, "cases: []\n"))
	assert.Error(t, err)

	_, err = LoadSuite(writeSuite(t, "cases:\n  - text: no label\n"))
	assert.ErrorContains(t, err, "label is required")

	_, err = LoadSuite(writeSuite(t, "cases:\n  - label: a\n    text: b\n    expected_violations:\n      - text: x\n"))
	assert.ErrorContains(t, err, "has no rule")

	s, err := LoadSuite(writeSuite(t, "parameters:\n  final_top_k: 1\ncases:\n  - label: a\n    text: b\n"))
	require.NoError(t, err)
	_, err = s.Params(models.DefaultTuningParameters())
	assert.Error(t, err)
}
