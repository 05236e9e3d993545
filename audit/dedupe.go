package audit

import (
	"sort"
	"strings"

	"github.com/RobertJohnDavidson/rag-style-check/models"
)

// Dedupe collapses violations that share a rule id and whose texts are equal
// or contain one another (case-insensitive). Each group keeps the member with
// the longest trimmed reason, the earliest one on ties. Groups are closed
// transitively, so the result contains no duplicate pair and Dedupe is
// idempotent. The result is ordered by position.
func Dedupe(violations []models.Violation) []models.Violation {
	if len(violations) == 0 {
		return []models.Violation{}
	}

	parent := make([]int, len(violations))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := range violations {
		for j := i + 1; j < len(violations); j++ {
			if duplicates(violations[i], violations[j]) {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[rj] = ri
				}
			}
		}
	}

	best := make(map[int]int)
	var roots []int
	for i, v := range violations {
		root := find(i)
		cur, ok := best[root]
		if !ok {
			best[root] = i
			roots = append(roots, root)
			continue
		}
		if len(strings.TrimSpace(v.Reason)) > len(strings.TrimSpace(violations[cur].Reason)) {
			best[root] = i
		}
	}

	out := make([]models.Violation, 0, len(roots))
	for _, root := range roots {
		out = append(out, violations[best[root]])
	}
	sortByPosition(out)
	return out
}

func duplicates(a, b models.Violation) bool {
	if a.RuleID != b.RuleID {
		return false
	}
	ta := strings.ToLower(strings.TrimSpace(a.Text))
	tb := strings.ToLower(strings.TrimSpace(b.Text))
	if ta == "" || tb == "" {
		return ta == tb
	}
	return strings.Contains(ta, tb) || strings.Contains(tb, ta)
}

func sortByPosition(vs []models.Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.Text < b.Text
	})
}
