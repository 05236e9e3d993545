package audit

import (
	"sort"
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/models"
)

// RulePool is the deduplicated set of rules given to the model. It holds at
// most limit rules, keeping the highest scores.
type RulePool struct {
	limit int
	rules map[string]models.RerankedRule
}

// Aggregate merges per-paragraph rerank results into one pool
func Aggregate(perParagraph [][]models.RerankedRule, limit int) *RulePool {
	p := &RulePool{limit: limit, rules: make(map[string]models.RerankedRule)}
	for _, rules := range perParagraph {
		p.add(rules)
	}
	p.trim()
	return p
}

// Merge adds rules found by a refinement round and returns the ids that are
// in the pool now but were not before, in pool order.
func (p *RulePool) Merge(rules []models.RerankedRule) []string {
	before := make(map[string]bool, len(p.rules))
	for id := range p.rules {
		before[id] = true
	}
	p.add(rules)
	p.trim()

	var added []string
	for _, r := range p.Rules() {
		if !before[r.Rule.ID] {
			added = append(added, r.Rule.ID)
		}
	}
	return added
}

func (p *RulePool) add(rules []models.RerankedRule) {
	for _, r := range rules {
		if cur, ok := p.rules[r.Rule.ID]; ok && cur.Score >= r.Score {
			continue
		}
		p.rules[r.Rule.ID] = r
	}
}

func (p *RulePool) trim() {
	if p.limit <= 0 || len(p.rules) <= p.limit {
		return
	}
	for _, r := range p.Rules()[p.limit:] {
		delete(p.rules, r.Rule.ID)
	}
}

// Contains reports whether id is in the pool
func (p *RulePool) Contains(id string) bool {
	_, ok := p.rules[id]
	return ok
}

// Get returns the pooled rule with id
func (p *RulePool) Get(id string) (models.RerankedRule, bool) {
	r, ok := p.rules[id]
	return r, ok
}

// Resolve finds the pooled rule a model citation refers to. An exact id
// wins, then a case-insensitive match on id, then on rule name.
func (p *RulePool) Resolve(ref string) (models.RerankedRule, bool) {
	if r, ok := p.Get(ref); ok {
		return r, true
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.RerankedRule{}, false
	}
	rules := p.Rules()
	for _, r := range rules {
		if strings.EqualFold(r.Rule.ID, ref) {
			return r, true
		}
	}
	for _, r := range rules {
		if strings.EqualFold(strings.TrimSpace(r.Rule.Name), ref) {
			return r, true
		}
	}
	return models.RerankedRule{}, false
}

// Len returns the number of pooled rules
func (p *RulePool) Len() int {
	return len(p.rules)
}

// Rules returns the pool sorted by descending score, ties by rule id
func (p *RulePool) Rules() []models.RerankedRule {
	out := make([]models.RerankedRule, 0, len(p.rules))
	for _, r := range p.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Rule.ID < out[j].Rule.ID
	})
	return out
}

// IDs returns the pooled rule ids in pool order
func (p *RulePool) IDs() []string {
	rules := p.Rules()
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.Rule.ID
	}
	return ids
}
