// Package ingest loads style guide rule files for indexing.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"gopkg.in/yaml.v3"
)

// LoadRules reads rules from a .json/.yaml/.yml file, or from every such file
// below a directory. A file holds either one rule or a list of rules.
// Rule ids must be unique across all files.
func LoadRules(path string) ([]models.Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files = nil
		err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isRuleFile(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", path, err)
		}
		sort.Strings(files)
	}

	var rules []models.Rule
	seen := make(map[string]string)
	for _, f := range files {
		fileRules, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		for i, r := range fileRules {
			r = normalise(r)
			if err := r.Validate(); err != nil {
				return nil, fmt.Errorf("%s: rule %d: %w", f, i, err)
			}
			if prev, ok := seen[r.ID]; ok {
				return nil, fmt.Errorf("%s: duplicate rule id %q (first defined in %s)", f, r.ID, prev)
			}
			seen[r.ID] = f
			rules = append(rules, r)
		}
	}
	return rules, nil
}

func isRuleFile(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func loadFile(path string) ([]models.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if data[0] == '[' {
			var rules []models.Rule
			if err := json.Unmarshal(data, &rules); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			return rules, nil
		}
		var rule models.Rule
		if err := json.Unmarshal(data, &rule); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return []models.Rule{rule}, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var rules []models.Rule
		if err := node.Decode(&rules); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return rules, nil
	}
	var rule models.Rule
	if err := node.Decode(&rule); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return []models.Rule{rule}, nil
}

func normalise(r models.Rule) models.Rule {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	r.Guideline = strings.TrimSpace(r.Guideline)
	r.URL = strings.TrimSpace(r.URL)

	var triggers []string
	seen := make(map[string]bool)
	for _, t := range r.Triggers {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		triggers = append(triggers, t)
	}
	r.Triggers = triggers
	return r
}

// EmbeddingText is the document text embedded for a rule
func EmbeddingText(r models.Rule) string {
	var b strings.Builder
	guideline := strings.TrimRight(r.Guideline, ". ")
	if r.RuleType == "complex_policy" {
		fmt.Fprintf(&b, "Policy Context: %s. Guideline: %s.", r.Name, guideline)
	} else {
		fmt.Fprintf(&b, "Rule: %s. Definition: %s.", r.Name, guideline)
	}
	if len(r.Tags) > 0 {
		fmt.Fprintf(&b, " Tags: %s.", strings.Join(r.Tags, ", "))
	}
	if len(r.Triggers) > 0 {
		fmt.Fprintf(&b, " Triggers: %s.", strings.Join(r.Triggers, ", "))
	}
	return b.String()
}
