package moirai

import (
	"github.com/fogmesh/fogmesh/pkg/domain"
)

// BinPacking is the affinity_based strategy: tightest fit between declared
// capacity and the task's ask, scored as |cores - cpu_required| +
// |memory_mb - memory_required|. Ties go to the earlier candidate.
type BinPacking struct{}

func (BinPacking) Name() domain.RoutingStrategy { return domain.StrategyAffinityBased }

func (BinPacking) Select(task *domain.Task, candidates []*domain.FogNode) *domain.FogNode {
	best := candidates[0]
	bestScore := fitScore(task, best)
	for _, n := range candidates[1:] {
		if score := fitScore(task, n); score < bestScore {
			best, bestScore = n, score
		}
	}
	return best
}

func fitScore(task *domain.Task, n *domain.FogNode) int {
	return abs(n.CPUCores-task.CPURequired) + abs(n.MemoryMB-task.MemoryRequired)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
