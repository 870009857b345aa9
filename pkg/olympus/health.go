package olympus

import (
	"context"
	"time"

	"github.com/fogmesh/fogmesh/pkg/charon"
	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hades"
	"github.com/fogmesh/fogmesh/pkg/lethe"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the coordinator's self report for supervisors.
type Health struct {
	Status     HealthStatus `json:"status"`
	InstanceID string       `json:"instance_id"`
	Running    bool         `json:"running"`
	Uptime     string       `json:"uptime"`

	TotalNodes    int                       `json:"total_nodes"`
	RoutableNodes int                       `json:"routable_nodes"`
	NodesByStatus map[domain.NodeStatus]int `json:"nodes_by_status"`
	AssignedTasks int                       `json:"assigned_tasks"`
	OpenCircuits  int                       `json:"open_circuits"`

	Cache      *lethe.Stats `json:"cache,omitempty"`
	CacheError string       `json:"cache_error,omitempty"`

	LastScaling *charon.ScalingEvent `json:"last_scaling_event,omitempty"`

	Process *ProcessStats `json:"process,omitempty"`
}

// ProcessStats describes the coordinator process itself.
type ProcessStats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// HealthCheck reports whether the coordinator can route. A stopped
// coordinator is unhealthy; a running one without routable nodes, with open
// circuits or with an unreachable cache store is degraded.
func (c *Coordinator) HealthCheck(ctx context.Context) Health {
	nodes := c.registry.List(hades.Filter{})

	c.mu.Lock()
	running, startedAt, now := c.running, c.startedAt, c.now()
	c.mu.Unlock()

	h := Health{
		InstanceID:    c.instanceID,
		Running:       running,
		TotalNodes:    len(nodes),
		NodesByStatus: make(map[domain.NodeStatus]int, len(domain.NodeStatuses)),
		AssignedTasks: c.registry.TaskCount(),
		OpenCircuits:  c.balancer.OpenCircuits(),
	}
	if running {
		h.Uptime = now.Sub(startedAt).Truncate(time.Second).String()
	}
	for _, n := range nodes {
		h.NodesByStatus[n.Status]++
		if n.Status.Routable() {
			h.RoutableNodes++
		}
	}

	if c.cache != nil {
		stats := c.cache.Stats()
		h.Cache = &stats
		if err := c.cache.Ping(ctx); err != nil {
			h.CacheError = err.Error()
		}
	}
	if ev, ok := c.balancer.LastScalingEvent(); ok {
		h.LastScaling = &ev
	}
	h.Process = c.processStats(ctx)

	switch {
	case !running:
		h.Status = HealthUnhealthy
	case h.RoutableNodes == 0, h.OpenCircuits > 0, h.CacheError != "":
		h.Status = HealthDegraded
	default:
		h.Status = HealthHealthy
	}
	return h
}

func (c *Coordinator) processStats(ctx context.Context) *ProcessStats {
	if c.proc == nil {
		return nil
	}
	stats := &ProcessStats{}
	if mem, err := c.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := c.proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	return stats
}
