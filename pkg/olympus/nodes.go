package olympus

import (
	"context"

	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hades"
)

// RegisterNode adds node as a fresh, active fleet member.
func (c *Coordinator) RegisterNode(ctx context.Context, node *domain.FogNode) (*domain.FogNode, error) {
	n, err := c.registry.Register(node)
	if err != nil {
		return nil, err
	}
	c.cacheNode(ctx, n.ID)

	c.Logger.Info(ctx, "Node registered", map[string]any{
		"node_id":   n.ID,
		"node_type": string(n.Type),
		"cpu_cores": n.CPUCores,
		"memory_mb": n.MemoryMB,
	})
	return n, nil
}

// RegisterNodes registers a batch under one registry lock and one cache
// round trip. Rejected nodes are reported in the joined error while the rest
// are registered.
func (c *Coordinator) RegisterNodes(ctx context.Context, nodes []*domain.FogNode) ([]*domain.FogNode, error) {
	registered, err := c.registry.RegisterBatch(nodes)

	if c.cache != nil && len(registered) > 0 {
		keys := make([]string, len(registered))
		for i, n := range registered {
			keys[i] = string(n.ID)
		}
		if _, cerr := c.cache.RefreshBatch(ctx, nodesNamespace, keys, c.loadNode); cerr != nil {
			c.Logger.Error(ctx, "Failed to cache node batch", map[string]any{"error": cerr.Error()})
		}
	}

	fields := map[string]any{
		"registered": len(registered),
		"requested":  len(nodes),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.Logger.Info(ctx, "Node batch registered", fields)
	return registered, err
}

// UnregisterNode removes id from the fleet, evicts it from the cache and
// forgets its balancer state. The tasks still assigned to it are returned;
// they are not redistributed.
func (c *Coordinator) UnregisterNode(ctx context.Context, id domain.NodeID) ([]domain.TaskID, error) {
	removed, affected, err := c.registry.Unregister(id)
	if err != nil {
		return nil, err
	}

	c.cacheNode(ctx, id)
	c.balancer.ForgetNode(id)

	c.Logger.Info(ctx, "Node unregistered", map[string]any{
		"node_id":       id,
		"active_tasks":  removed.ActiveTasks,
		"dropped_tasks": len(affected),
	})
	return affected, nil
}

// UpdateNodeStatus sets any status, clearing offline, and refreshes the
// heartbeat.
func (c *Coordinator) UpdateNodeStatus(ctx context.Context, id domain.NodeID, status domain.NodeStatus) (*domain.FogNode, error) {
	n, err := c.registry.UpdateStatus(id, status)
	if err != nil {
		return nil, err
	}
	c.cacheNode(ctx, id)
	return n, nil
}

// UpdateNodeMetrics applies a partial live-metrics report and refreshes the
// heartbeat.
func (c *Coordinator) UpdateNodeMetrics(ctx context.Context, id domain.NodeID, metrics domain.NodeMetrics) (*domain.FogNode, error) {
	n, err := c.registry.UpdateMetrics(id, metrics)
	if err != nil {
		return nil, err
	}
	c.cacheNode(ctx, id)
	return n, nil
}

// Heartbeat refreshes last_heartbeat. An offline node stays offline until its
// status is updated.
func (c *Coordinator) Heartbeat(ctx context.Context, id domain.NodeID) (*domain.FogNode, error) {
	n, err := c.registry.Heartbeat(id)
	if err != nil {
		return nil, err
	}
	c.cacheNode(ctx, id)
	return n, nil
}

// GetNode is cache-first. A miss reads the registry and populates the cache;
// concurrent misses on one node share a single registry read.
func (c *Coordinator) GetNode(ctx context.Context, id domain.NodeID) (*domain.FogNode, error) {
	if c.cache == nil {
		return c.registry.Get(id)
	}

	var n domain.FogNode
	found, err := c.cache.GetOrLoad(ctx, nodesNamespace, string(id), &n, func(ctx context.Context) (any, bool, error) {
		return c.loadNode(ctx, string(id))
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, hades.ErrNodeNotFound
	}
	return &n, nil
}

// ListNodes scans the registry with optional equality filters.
func (c *Coordinator) ListNodes(_ context.Context, filter hades.Filter) []*domain.FogNode {
	return c.registry.List(filter)
}

// HandleNodeFailure takes id offline, moves its active tasks onto
// failed_tasks and records a failure on its circuit breaker. In-flight tasks
// are not redistributed; their ids are returned so the caller can re-route
// them explicitly.
func (c *Coordinator) HandleNodeFailure(ctx context.Context, id domain.NodeID) ([]domain.TaskID, error) {
	n, affected, err := c.registry.MarkFailed(id)
	if err != nil {
		return nil, err
	}
	c.recordFailure(ctx, n, affected)
	return affected, nil
}

func (c *Coordinator) recordFailure(ctx context.Context, n *domain.FogNode, affected []domain.TaskID) {
	c.balancer.RecordFailure(n.ID)
	c.cacheNode(ctx, n.ID)
	c.Metrics.IncCounter("fog_node_failures_total", 1)

	c.Logger.Error(ctx, "Node failed", map[string]any{
		"node_id":      n.ID,
		"failed_tasks": n.FailedTasks,
		"orphaned":     len(affected),
	})
}
