package charon

import (
	"crypto/md5"
	"math/big"

	"github.com/fogmesh/fogmesh/pkg/domain"
)

// selector implements one algorithm. pick is called with lb.mu held and a
// non-empty candidate list.
type selector interface {
	pick(lb *LoadBalancer, candidates []*domain.FogNode, opts SelectOptions) *domain.FogNode
}

var selectors = map[Algorithm]selector{
	AlgorithmRoundRobin:         roundRobin{},
	AlgorithmWeightedRoundRobin: weightedRoundRobin{},
	AlgorithmLeastConnections:   leastConnections{},
	AlgorithmResponseTime:       responseTime{},
	AlgorithmConsistentHash:     consistentHash{},
}

type roundRobin struct{}

func (roundRobin) pick(lb *LoadBalancer, candidates []*domain.FogNode, _ SelectOptions) *domain.FogNode {
	idx := lb.rrCounter % uint64(len(candidates))
	lb.rrCounter++
	return candidates[idx]
}

// weightedRoundRobin is the smooth variant: every candidate gains its
// effective weight, the heaviest wins and pays back the total.
type weightedRoundRobin struct{}

func (weightedRoundRobin) pick(lb *LoadBalancer, candidates []*domain.FogNode, _ SelectOptions) *domain.FogNode {
	var (
		best     *domain.FogNode
		bestCurr float64
		total    float64
	)
	for _, n := range candidates {
		w := lb.effectiveWeight(n)
		s := lb.statsFor(n.ID)
		s.current += w
		total += w
		if best == nil || s.current > bestCurr {
			best = n
			bestCurr = s.current
		}
	}
	lb.statsFor(best.ID).current -= total
	return best
}

// leastConnections prefers the fewest in-flight dispatches, then the fewest
// active tasks, then the lowest CPU usage.
type leastConnections struct{}

func (leastConnections) pick(lb *LoadBalancer, candidates []*domain.FogNode, _ SelectOptions) *domain.FogNode {
	best := candidates[0]
	bestConns := lb.statsFor(best.ID).inFlight
	for _, n := range candidates[1:] {
		conns := lb.statsFor(n.ID).inFlight
		switch {
		case conns < bestConns:
		case conns > bestConns:
			continue
		case n.ActiveTasks < best.ActiveTasks:
		case n.ActiveTasks > best.ActiveTasks:
			continue
		case n.CPUUsagePercent < best.CPUUsagePercent:
		default:
			continue
		}
		best, bestConns = n, conns
	}
	return best
}

// responseTime prefers the lowest mean latency. Nodes without samples rank
// last.
type responseTime struct{}

func (responseTime) pick(lb *LoadBalancer, candidates []*domain.FogNode, _ SelectOptions) *domain.FogNode {
	var (
		best    *domain.FogNode
		bestLat float64
	)
	for _, n := range candidates {
		lat, ok := lb.statsFor(n.ID).meanLatency()
		if !ok {
			continue
		}
		if best == nil || lat < bestLat {
			best, bestLat = n, lat
		}
	}
	if best == nil {
		return candidates[0]
	}
	return best
}

// consistentHash maps the MD5 of the affinity key onto the candidate list.
// Without a key it behaves like round robin.
type consistentHash struct{}

func (consistentHash) pick(lb *LoadBalancer, candidates []*domain.FogNode, opts SelectOptions) *domain.FogNode {
	key := opts.hashKey()
	if key == "" {
		return roundRobin{}.pick(lb, candidates, opts)
	}
	return candidates[hashIndex(key, len(candidates))]
}

func hashIndex(key string, n int) int {
	sum := md5.Sum([]byte(key))
	h := new(big.Int).SetBytes(sum[:])
	return int(h.Mod(h, big.NewInt(int64(n))).Int64())
}
