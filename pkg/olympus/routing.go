package olympus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fogmesh/fogmesh/pkg/charon"
	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hermes"
)

// BalancedOptions tunes RouteTaskBalanced.
type BalancedOptions struct {
	Algorithm   charon.Algorithm // empty: the balancer's configured algorithm
	SessionID   string
	AffinityKey string
}

// RouteTask places task on a node chosen by strategy (the default strategy
// when empty). Selection and the capacity update happen under the registry
// lock, so concurrent calls never claim the same slot twice. A task without
// an id is given one.
//
// ErrNoEligibleNode means no node can currently take the task; it is an
// expected outcome under load and the caller decides whether to retry.
func (c *Coordinator) RouteTask(ctx context.Context, task *domain.Task, strategy domain.RoutingStrategy) (*domain.FogNode, error) {
	if task == nil {
		return nil, ErrInvalidTask
	}
	if strategy == "" {
		strategy = c.opts.DefaultStrategy
	}
	if task.ID == "" {
		task.ID = domain.TaskID(uuid.NewString())
	}

	start := time.Now()
	n, err := c.registry.Place(ctx, task, func(nodes []*domain.FogNode) (*domain.FogNode, error) {
		return c.router.Choose(task, nodes, strategy)
	})
	c.observeRoute(ctx, task, string(strategy), start, n, err)
	if err != nil {
		return nil, err
	}

	c.cacheNode(ctx, n.ID)
	return n, nil
}

// RouteTaskBalanced filters the fleet like RouteTask and lets the load
// balancer make the final pick, honouring circuit breakers, sticky sessions
// and the chosen balancing algorithm.
func (c *Coordinator) RouteTaskBalanced(ctx context.Context, task *domain.Task, opts BalancedOptions) (*domain.FogNode, error) {
	if task == nil {
		return nil, ErrInvalidTask
	}
	if task.ID == "" {
		task.ID = domain.TaskID(uuid.NewString())
	}

	label := "balanced"
	if opts.Algorithm != "" {
		label = "balanced_" + string(opts.Algorithm)
	}

	start := time.Now()
	n, err := c.registry.Place(ctx, task, func(nodes []*domain.FogNode) (*domain.FogNode, error) {
		candidates, err := c.router.Candidates(task, nodes)
		if err != nil {
			return nil, err
		}
		return c.balancer.Select(ctx, candidates, charon.SelectOptions{
			Algorithm:   opts.Algorithm,
			SessionID:   opts.SessionID,
			AffinityKey: opts.AffinityKey,
		})
	})
	c.observeRoute(ctx, task, label, start, n, err)
	if err != nil {
		return nil, err
	}

	c.cacheNode(ctx, n.ID)
	return n, nil
}

func (c *Coordinator) observeRoute(ctx context.Context, task *domain.Task, strategy string, start time.Time, n *domain.FogNode, err error) {
	result := "assigned"
	switch {
	case err == nil:
	case errors.Is(err, ErrNoEligibleNode), errors.Is(err, ErrNoHealthyNodes):
		result = "no_node"
	default:
		result = "error"
	}

	c.Metrics.IncCounter("fog_route_total", 1,
		hermes.Label{Key: "strategy", Value: strategy},
		hermes.Label{Key: "result", Value: result},
	)
	c.Metrics.ObserveHistogram("fog_route_duration_seconds", time.Since(start).Seconds(),
		hermes.Label{Key: "strategy", Value: strategy},
	)

	fields := map[string]any{
		"task_id":  task.ID,
		"strategy": strategy,
		"result":   result,
	}
	switch result {
	case "assigned":
		fields["node_id"] = n.ID
		c.Logger.Info(ctx, "Task routed", fields)
	case "no_node":
		c.Logger.Info(ctx, "No node available for task", fields)
	default:
		fields["error"] = err.Error()
		c.Logger.Error(ctx, "Task routing failed", fields)
	}
}

// CompleteTask releases the slot a routed task held on its node.
func (c *Coordinator) CompleteTask(ctx context.Context, id domain.TaskID, success bool) (*domain.FogNode, error) {
	n, err := c.registry.CompleteTask(id, success)
	if err != nil {
		return nil, err
	}
	c.cacheNode(ctx, n.ID)
	return n, nil
}

// TaskNode returns the node a routed task is assigned to.
func (c *Coordinator) TaskNode(id domain.TaskID) (domain.NodeID, bool) {
	return c.registry.TaskNode(id)
}

// RecordDispatchStart must bracket every dispatch to a node chosen by
// RouteTaskBalanced, together with RecordDispatchEnd.
func (c *Coordinator) RecordDispatchStart(id domain.NodeID) {
	c.balancer.RecordRequestStart(id)
}

// RecordDispatchEnd feeds the outcome to the node's circuit breaker and
// latency window.
func (c *Coordinator) RecordDispatchEnd(id domain.NodeID, success bool, latency time.Duration) {
	c.balancer.RecordRequestEnd(id, success, latency)
}
