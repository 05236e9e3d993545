package retrieval

import (
	"sort"

	"github.com/RobertJohnDavidson/rag-style-check/models"
)

// rrfK dampens the contribution of top ranks in reciprocal-rank fusion
const rrfK = 60

// FusedRule is a rule merged from several ranked lists
type FusedRule struct {
	Rule models.Rule
	// FusionScore orders the fused list
	FusionScore float64
	// BestScore is the highest similarity seen for the rule in any list
	BestScore float64
	// Lists holds the indexes of the input lists that returned the rule
	Lists []int
}

// Fuse merges ranked result lists by rule id. mode is reciprocal_rank or
// score_sum; anything else falls back to reciprocal_rank. The output is
// ordered by fusion score, ties broken by best score then rule id.
func Fuse(lists [][]models.ScoredRule, mode string) []FusedRule {
	index := make(map[string]int)
	var fused []FusedRule

	for li, list := range lists {
		seenInList := make(map[string]bool, len(list))
		for rank, hit := range list {
			id := hit.Rule.ID
			if seenInList[id] {
				continue
			}
			seenInList[id] = true

			contribution := 1.0 / float64(rrfK+rank+1)
			if mode == models.FusionScoreSum {
				contribution = hit.Score
			}

			i, ok := index[id]
			if !ok {
				index[id] = len(fused)
				fused = append(fused, FusedRule{
					Rule:        hit.Rule,
					FusionScore: contribution,
					BestScore:   hit.Score,
					Lists:       []int{li},
				})
				continue
			}
			f := &fused[i]
			f.FusionScore += contribution
			f.Lists = append(f.Lists, li)
			if hit.Score > f.BestScore {
				f.BestScore = hit.Score
			}
		}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].FusionScore != fused[j].FusionScore {
			return fused[i].FusionScore > fused[j].FusionScore
		}
		if fused[i].BestScore != fused[j].BestScore {
			return fused[i].BestScore > fused[j].BestScore
		}
		return fused[i].Rule.ID < fused[j].Rule.ID
	})
	return fused
}
