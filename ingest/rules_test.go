package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadRulesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `[
		{"id": "cabinet", "name": "Cabinet", "guideline": "Lowercase cabinet.", "triggers": ["cabinet", " Cabinet ", ""]},
		{"id": "premier", "name": "Premier", "guideline": "Capitalise before a name.", "url": "https://style.example/premier"}
	]`)
	writeFile(t, dir, "nested/b.yaml", `
- id: oilsands
  name: oilsands
  guideline: One word.
  tags: [Spelling]
  triggers: [tarsands, tar sands]
`)
	writeFile(t, dir, "c.yml", `
id: quotes
name: quotation marks
guideline: Use double quotation marks.
rule_type: atomic_check
`)
	writeFile(t, dir, "notes.txt", "ignored")

	rules, err := LoadRules(dir)
	require.NoError(t, err)
	require.Len(t, rules, 4)

	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"cabinet", "premier", "quotes", "oilsands"}, ids)
	assert.Equal(t, []string{"cabinet"}, rules[0].Triggers, "triggers are trimmed and deduplicated")
	assert.Equal(t, []string{"tarsands", "tar sands"}, rules[3].Triggers)
	assert.Equal(t, "atomic_check", rules[2].RuleType)
}

func TestLoadRulesSingleObjectFile(t *testing.T) {
	p := writeFile(t, t.TempDir(), "rule.json", `{"id": "x", "name": "X", "guideline": "Do x."}`)

	rules, err := LoadRules(p)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "x", rules[0].ID)
}

func TestLoadRulesErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `[{"id": "x", "name": "X", "guideline": "g"}]`)
	writeFile(t, dir, "b.json", `[{"id": "x", "name": "Again", "guideline": "g"}]`)
	_, err := LoadRules(dir)
	assert.ErrorContains(t, err, "duplicate rule id")

	missing := writeFile(t, t.TempDir(), "m.yaml", "id: y\nname: Y\n")
	_, err = LoadRules(missing)
	assert.Error(t, err, "guideline is required")

	badURL := writeFile(t, t.TempDir(), "u.json", `{"id": "z", "name": "Z", "guideline": "g", "url": "not a url"}`)
	_, err = LoadRules(badURL)
	assert.Error(t, err)

	_, err = LoadRules(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestEmbeddingText(t *testing.T) {
	text := EmbeddingText(models.Rule{
		Name: "Cabinet", Guideline: "Lowercase cabinet.", Tags: []string{"Capitalization"}, Triggers: []string{"cabinet"},
	})
	assert.Equal(t, "Rule: Cabinet. Definition: Lowercase cabinet. Tags: Capitalization. Triggers: cabinet.", text)

	policy := EmbeddingText(models.Rule{Name: "Bias", Guideline: "Avoid labels", RuleType: "complex_policy"})
	assert.Equal(t, "Policy Context: Bias. Guideline: Avoid labels.", policy)
}
