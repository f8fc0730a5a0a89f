package search

import (
	"sort"

	"github.com/blackwell-systems/prepwatch/internal/model"
)

// PruneCandidates orders candidates by quick evaluation, best first, and
// keeps at most max of them. The input slice is not modified.
func PruneCandidates(candidates []model.PendingNovelty, max int) []model.PendingNovelty {
	pruned := make([]model.PendingNovelty, len(candidates))
	copy(pruned, candidates)
	sort.SliceStable(pruned, func(i, j int) bool {
		return pruned[i].QuickEvalCP > pruned[j].QuickEvalCP
	})
	if max > 0 && len(pruned) > max {
		pruned = pruned[:max]
	}
	return pruned
}
