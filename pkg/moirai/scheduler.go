// Package moirai decides the fate of each task: which fog node runs it.
//
// Routing is split in two stages. Candidates narrows the fleet to the nodes
// that can take the task at all (status, declared capacity, onion routing and
// an optional CEL selector). A Strategy then picks one of them. Strategies
// are pure selection; mutating the chosen node is the registry's job.
package moirai

import (
	"fmt"

	"github.com/fogmesh/fogmesh/pkg/domain"
)

// Strategy selects one node from a non-empty candidate list.
type Strategy interface {
	Name() domain.RoutingStrategy
	Select(task *domain.Task, candidates []*domain.FogNode) *domain.FogNode
}

// Router owns one instance of every strategy so stateful strategies (round
// robin) keep their position across calls.
type Router struct {
	strategies map[domain.RoutingStrategy]Strategy
	selector   *Selector
}

// NewRouter builds a router with every strategy registered.
func NewRouter() (*Router, error) {
	selector, err := NewSelector()
	if err != nil {
		return nil, err
	}

	r := &Router{
		strategies: make(map[domain.RoutingStrategy]Strategy),
		selector:   selector,
	}
	for _, s := range []Strategy{
		NewRoundRobin(),
		LeastLoaded{},
		BinPacking{},
		Proximity{},
		PrivacyAware{},
	} {
		r.strategies[s.Name()] = s
	}
	return r, nil
}

// Strategy returns the registered strategy for name.
func (r *Router) Strategy(name domain.RoutingStrategy) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Candidates returns the nodes eligible for task, in input order.
func (r *Router) Candidates(task *domain.Task, nodes []*domain.FogNode) ([]*domain.FogNode, error) {
	eligible := Eligible(task, nodes)
	if len(eligible) == 0 {
		return nil, ErrNoEligibleNode
	}

	if task.NodeSelector != "" {
		var err error
		eligible, err = r.selector.Filter(task.NodeSelector, eligible)
		if err != nil {
			return nil, err
		}
		if len(eligible) == 0 {
			return nil, ErrNoEligibleNode
		}
	}
	return eligible, nil
}

// Choose filters nodes and lets the named strategy pick one.
func (r *Router) Choose(task *domain.Task, nodes []*domain.FogNode, strategy domain.RoutingStrategy) (*domain.FogNode, error) {
	s, err := r.Strategy(strategy)
	if err != nil {
		return nil, err
	}
	candidates, err := r.Candidates(task, nodes)
	if err != nil {
		return nil, err
	}
	return s.Select(task, candidates), nil
}
