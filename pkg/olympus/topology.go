package olympus

import (
	"context"

	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hades"
)

const latestTopologyKey = "latest"

// GetTopology aggregates one registry snapshot into a NetworkTopology and
// appends it to the bounded history.
func (c *Coordinator) GetTopology(ctx context.Context) domain.NetworkTopology {
	nodes := c.registry.List(hades.Filter{})

	t := Aggregate(nodes)
	t.SnapshotTime = c.clock()

	c.mu.Lock()
	c.topology = append(c.topology, t)
	if over := len(c.topology) - c.opts.TopologyHistory; over > 0 {
		c.topology = append(c.topology[:0], c.topology[over:]...)
	}
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.Set(ctx, topologyNamespace, latestTopologyKey, t, 0); err != nil {
			c.Logger.Error(ctx, "Failed to cache topology", map[string]any{"error": err.Error()})
		}
	}
	return t
}

// Aggregate tallies nodes by status and type and sums their capacity. The
// snapshot time is left for the caller to stamp.
func Aggregate(nodes []*domain.FogNode) domain.NetworkTopology {
	t := domain.NetworkTopology{
		TotalNodes:  len(nodes),
		NodesByType: make(map[domain.NodeType]int),
	}
	for _, n := range nodes {
		switch n.Status {
		case domain.NodeStatusActive:
			t.ActiveNodes++
		case domain.NodeStatusIdle:
			t.IdleNodes++
		case domain.NodeStatusBusy:
			t.BusyNodes++
		case domain.NodeStatusOffline:
			t.OfflineNodes++
		case domain.NodeStatusMaintenance:
			t.MaintenanceNodes++
		}
		t.NodesByType[n.Type]++

		t.TotalCPUCores += n.CPUCores
		t.AvailableCPUCores += n.AvailableCPUCores()
		t.TotalMemoryMB += n.MemoryMB
		t.AvailableMemoryMB += n.AvailableMemoryMB()
		t.RunningTasks += n.ActiveTasks
	}
	return t
}

// TopologyHistory returns the retained snapshots, oldest first.
func (c *Coordinator) TopologyHistory() []domain.NetworkTopology {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.NetworkTopology, len(c.topology))
	copy(out, c.topology)
	return out
}
