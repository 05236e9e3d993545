package evaluation

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"gopkg.in/yaml.v3"
)

// Case is one labelled text of an evaluation suite
type Case struct {
	Label    string                     `yaml:"label"`
	Text     string                     `yaml:"text"`
	Expected []models.ExpectedViolation `yaml:"expected_violations"`
}

// Suite is a YAML file of evaluation cases with optional tuning overrides
//
//	parameters:
//	  max_agent_iterations: 2
//	cases:
//	  - label: cabinet
//	    text: The Cabinet met.
//	    expected_violations:
//	      - rule: cabinet
//	        text: Cabinet
type Suite struct {
	Parameters yaml.Node `yaml:"parameters"`
	Cases      []Case    `yaml:"cases"`
}

// LoadSuite reads and checks a suite file
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}

	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse suite %s: %w", path, err)
	}
	if len(s.Cases) == 0 {
		return nil, errors.New("suite has no cases")
	}
	for i, c := range s.Cases {
		if strings.TrimSpace(c.Label) == "" {
			return nil, fmt.Errorf("case %d: label is required", i)
		}
		for j, e := range c.Expected {
			if strings.TrimSpace(e.Rule) == "" {
				return nil, fmt.Errorf("case %q: expected violation %d has no rule", c.Label, j)
			}
		}
	}
	return &s, nil
}

// Params applies the suite overrides on top of defaults and validates the result
func (s *Suite) Params(defaults models.TuningParameters) (models.TuningParameters, error) {
	params := defaults
	if !s.Parameters.IsZero() {
		if err := s.Parameters.Decode(&params); err != nil {
			return defaults, fmt.Errorf("invalid suite parameters: %w", err)
		}
	}
	if err := params.Validate(); err != nil {
		return defaults, fmt.Errorf("invalid suite parameters: %w", err)
	}
	return params, nil
}
