// Package olympus is the fog coordinator: the front door that registers
// nodes, routes tasks, tracks topology and reacts to failures. It composes
// the registry (hades), the router (moirai), the load balancer (charon), the
// hybrid cache (lethe) and the heartbeat monitor (erinyes).
package olympus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/fogmesh/fogmesh/pkg/charon"
	"github.com/fogmesh/fogmesh/pkg/config"
	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/erinyes"
	"github.com/fogmesh/fogmesh/pkg/hades"
	"github.com/fogmesh/fogmesh/pkg/hermes"
	"github.com/fogmesh/fogmesh/pkg/lethe"
	"github.com/fogmesh/fogmesh/pkg/moirai"
)

// Cache namespaces.
const (
	nodesNamespace    = "nodes"
	topologyNamespace = "topology"
)

// Options configures a Coordinator.
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	TopologyHistory   int
	DefaultStrategy   domain.RoutingStrategy
	Balancer          charon.Config
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		TopologyHistory:   100,
		DefaultStrategy:   domain.StrategyRoundRobin,
		Balancer:          charon.DefaultConfig(),
	}
}

// OptionsFromConfig translates the service configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	algorithm, err := charon.ParseAlgorithm(cfg.Balancer.Algorithm)
	if err != nil {
		return Options{}, err
	}

	strategy := domain.RoutingStrategy(cfg.Coordinator.DefaultStrategy)
	known := false
	for _, s := range domain.RoutingStrategies {
		known = known || s == strategy
	}
	if !known {
		return Options{}, fmt.Errorf("%w: %q", moirai.ErrUnknownStrategy, strategy)
	}

	return Options{
		HeartbeatInterval: cfg.Coordinator.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Coordinator.HeartbeatTimeout,
		TopologyHistory:   cfg.Coordinator.TopologyHistory,
		DefaultStrategy:   strategy,
		Balancer: charon.Config{
			Algorithm:             algorithm,
			FailureThreshold:      cfg.Balancer.FailureThreshold,
			SuccessThreshold:      cfg.Balancer.SuccessThreshold,
			OpenTimeout:           cfg.Balancer.OpenTimeout,
			CPUScaleUpThreshold:   cfg.Balancer.CPUScaleUpThreshold,
			CPUScaleDownThreshold: cfg.Balancer.CPUScaleDownThreshold,
			MinNodes:              cfg.Balancer.MinNodes,
			ScalingHistory:        cfg.Balancer.ScalingHistory,
			LatencyWindow:         cfg.Balancer.LatencyWindow,
		},
	}, nil
}

// Coordinator owns the authoritative node map and every decision taken on
// it. All methods are safe for concurrent use.
type Coordinator struct {
	opts Options

	registry hades.Registry
	router   *moirai.Router
	balancer *charon.LoadBalancer
	cache    *lethe.HybridCache // nil: caching disabled
	monitor  *erinyes.HeartbeatMonitor

	Logger  hermes.Logger
	Metrics hermes.Metrics

	instanceID string
	proc       *process.Process // nil when process stats are unavailable

	mu        sync.Mutex
	now       func() time.Time
	running   bool
	startedAt time.Time
	topology  []domain.NetworkTopology
}

// New creates a stopped coordinator. cache may be nil.
func New(opts Options, cache *lethe.HybridCache, logger hermes.Logger, metrics hermes.Metrics) (*Coordinator, error) {
	def := DefaultOptions()
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if opts.TopologyHistory <= 0 {
		opts.TopologyHistory = def.TopologyHistory
	}
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = def.DefaultStrategy
	}
	if logger == nil {
		logger = hermes.NewNoopLogger()
	}
	if metrics == nil {
		metrics = hermes.NewNoopMetrics()
	}

	router, err := moirai.NewRouter()
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		opts:       opts,
		registry:   hades.NewMemoryRegistry(),
		router:     router,
		balancer:   charon.NewLoadBalancer(opts.Balancer, logger, metrics),
		cache:      cache,
		Logger:     logger,
		Metrics:    metrics,
		instanceID: uuid.NewString(),
		now:        time.Now,
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}

	stale := erinyes.StaleNodeSweep(c.registry, opts.HeartbeatTimeout, c.expireNode)
	c.monitor = erinyes.NewHeartbeatMonitor(opts.HeartbeatInterval, func(ctx context.Context, now time.Time) error {
		err := stale(ctx, now)
		c.observeFleet(ctx)
		return err
	}, logger, metrics)

	return c, nil
}

// SetClock replaces the time source of every component. Intended for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()

	if r, ok := c.registry.(interface{ SetClock(func() time.Time) }); ok {
		r.SetClock(now)
	}
	c.balancer.SetClock(now)
	c.monitor.SetClock(now)
}

func (c *Coordinator) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// Balancer exposes the load balancer for callers that need its statistics.
func (c *Coordinator) Balancer() *charon.LoadBalancer {
	return c.balancer
}

// InstanceID identifies this coordinator process.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

// Start launches the heartbeat monitor.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if err := c.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start heartbeat monitor: %w", err)
	}
	c.running = true
	c.startedAt = c.now()

	c.Logger.Info(ctx, "Coordinator started", map[string]any{
		"instance_id":        c.instanceID,
		"heartbeat_interval": c.opts.HeartbeatInterval.String(),
		"heartbeat_timeout":  c.opts.HeartbeatTimeout.String(),
		"cache_enabled":      c.cache != nil,
	})
	return nil
}

// Stop halts the heartbeat monitor and waits for its current sweep.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.monitor.Stop()
	c.Logger.Info(ctx, "Coordinator stopped", map[string]any{"instance_id": c.instanceID})
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SweepNow runs one heartbeat iteration immediately.
func (c *Coordinator) SweepNow(ctx context.Context) bool {
	return c.monitor.Tick(ctx)
}

// expireNode fails id if it is still silent at now. A node that reported
// after the sweep's scan is left alone.
func (c *Coordinator) expireNode(ctx context.Context, id domain.NodeID, now time.Time) error {
	n, affected, err := c.registry.MarkStale(id, now, c.opts.HeartbeatTimeout)
	switch {
	case errors.Is(err, hades.ErrNotStale):
		c.Logger.Info(ctx, "Node recovered before expiry", map[string]any{"node_id": id})
		return nil
	case errors.Is(err, hades.ErrNodeNotFound):
		return nil
	case err != nil:
		return err
	}

	c.Logger.Error(ctx, "Node heartbeat expired", map[string]any{
		"node_id": id,
		"timeout": c.opts.HeartbeatTimeout.String(),
	})
	c.recordFailure(ctx, n, affected)
	return nil
}

// observeFleet publishes node gauges and checks the scaling thresholds.
func (c *Coordinator) observeFleet(ctx context.Context) {
	nodes := c.registry.List(hades.Filter{})

	counts := make(map[domain.NodeStatus]int, len(domain.NodeStatuses))
	var working []*domain.FogNode
	for _, n := range nodes {
		counts[n.Status]++
		if n.Status == domain.NodeStatusActive || n.Status == domain.NodeStatusIdle || n.Status == domain.NodeStatusBusy {
			working = append(working, n)
		}
	}
	for _, s := range domain.NodeStatuses {
		c.Metrics.SetGauge("fog_nodes", float64(counts[s]), hermes.Label{Key: "status", Value: string(s)})
	}

	c.balancer.CheckAutoScaling(ctx, working)
}

// loadNode reads the registry's current copy of a node for the cache.
func (c *Coordinator) loadNode(_ context.Context, key string) (any, bool, error) {
	n, err := c.registry.Get(domain.NodeID(key))
	if errors.Is(err, hades.ErrNodeNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

// cacheNode mirrors the registry's copy of id into the cache, deleting the
// entry when the node is gone. The copy is read under the cache's key lock so
// a slow writer never overwrites a newer state. Failures never reach the
// caller.
func (c *Coordinator) cacheNode(ctx context.Context, id domain.NodeID) {
	if c.cache == nil {
		return
	}
	_, err := c.cache.Refresh(ctx, nodesNamespace, string(id), func(ctx context.Context) (any, bool, error) {
		return c.loadNode(ctx, string(id))
	})
	if err != nil {
		c.Logger.Error(ctx, "Failed to cache node", map[string]any{
			"node_id": id,
			"error":   err.Error(),
		})
	}
}
