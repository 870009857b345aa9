package moirai

import (
	"sync/atomic"

	"github.com/fogmesh/fogmesh/pkg/domain"
)

// RoundRobin cycles over the candidate list. The position survives changes
// in list membership; it simply wraps modulo the current length.
type RoundRobin struct {
	next atomic.Uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (s *RoundRobin) Name() domain.RoutingStrategy { return domain.StrategyRoundRobin }

func (s *RoundRobin) Select(_ *domain.Task, candidates []*domain.FogNode) *domain.FogNode {
	idx := (s.next.Add(1) - 1) % uint64(len(candidates))
	return candidates[idx]
}

// LeastLoaded picks the lowest CPU usage. Ties go to the earlier candidate.
type LeastLoaded struct{}

func (LeastLoaded) Name() domain.RoutingStrategy { return domain.StrategyLeastLoaded }

func (LeastLoaded) Select(_ *domain.Task, candidates []*domain.FogNode) *domain.FogNode {
	best := candidates[0]
	for _, n := range candidates[1:] {
		if n.CPUUsagePercent < best.CPUUsagePercent {
			best = n
		}
	}
	return best
}

// PrivacyAware picks the node with the most circuit participation.
type PrivacyAware struct{}

func (PrivacyAware) Name() domain.RoutingStrategy { return domain.StrategyPrivacyAware }

func (PrivacyAware) Select(_ *domain.Task, candidates []*domain.FogNode) *domain.FogNode {
	best := candidates[0]
	for _, n := range candidates[1:] {
		if n.CircuitParticipationCount > best.CircuitParticipationCount {
			best = n
		}
	}
	return best
}

// Proximity prefers the task's preferred region and otherwise falls back to
// the first candidate.
type Proximity struct{}

func (Proximity) Name() domain.RoutingStrategy { return domain.StrategyProximityBased }

func (Proximity) Select(task *domain.Task, candidates []*domain.FogNode) *domain.FogNode {
	if region := task.PreferredRegion(); region != "" {
		for _, n := range candidates {
			if n.Region == region {
				return n
			}
		}
	}
	return candidates[0]
}
