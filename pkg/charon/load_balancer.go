package charon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hermes"
)

// Algorithm names a node selection algorithm.
type Algorithm string

const (
	AlgorithmRoundRobin         Algorithm = "round_robin"
	AlgorithmWeightedRoundRobin Algorithm = "weighted_round_robin"
	AlgorithmLeastConnections   Algorithm = "least_connections"
	AlgorithmResponseTime       Algorithm = "response_time"
	AlgorithmConsistentHash     Algorithm = "consistent_hash"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{
	AlgorithmRoundRobin,
	AlgorithmWeightedRoundRobin,
	AlgorithmLeastConnections,
	AlgorithmResponseTime,
	AlgorithmConsistentHash,
}

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(s)
	if _, ok := selectors[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
	return a, nil
}

// HealthStatus is the balancer's view of a node derived from recent outcomes.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Config holds load balancer settings.
type Config struct {
	Algorithm        Algorithm
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration

	CPUScaleUpThreshold   float64
	CPUScaleDownThreshold float64
	MinNodes              int // never recommend scaling below this
	ScalingHistory        int

	LatencyWindow int // samples kept per node
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Algorithm:             AlgorithmLeastConnections,
		FailureThreshold:      DefaultFailureThreshold,
		SuccessThreshold:      DefaultSuccessThreshold,
		OpenTimeout:           DefaultOpenTimeout,
		CPUScaleUpThreshold:   80,
		CPUScaleDownThreshold: 30,
		MinNodes:              2,
		ScalingHistory:        100,
		LatencyWindow:         100,
	}
}

// SelectOptions tunes a single selection.
type SelectOptions struct {
	// Algorithm overrides the configured default when set.
	Algorithm Algorithm
	// SessionID pins the caller to the node chosen on its first call.
	SessionID string
	// AffinityKey feeds consistent hashing. SessionID is used when empty.
	AffinityKey string
}

func (o SelectOptions) hashKey() string {
	if o.AffinityKey != "" {
		return o.AffinityKey
	}
	return o.SessionID
}

// nodeStats is the per-node request accounting.
type nodeStats struct {
	inFlight  int
	requests  int64
	failures  int64
	outcomes  []bool    // recent successes, trimmed to the latency window
	latencies []float64 // milliseconds, trimmed to the latency window

	weight  float64 // base weight
	current float64 // smooth weighted round robin state
}

func (s *nodeStats) meanLatency() (float64, bool) {
	if len(s.latencies) == 0 {
		return 0, false
	}
	var sum float64
	for _, l := range s.latencies {
		sum += l
	}
	return sum / float64(len(s.latencies)), true
}

func (s *nodeStats) errorRate() float64 {
	if len(s.outcomes) == 0 {
		return 0
	}
	failed := 0
	for _, ok := range s.outcomes {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(s.outcomes))
}

// NodeStats is a read-only view of one node's accounting.
type NodeStats struct {
	NodeID        domain.NodeID   `json:"node_id"`
	InFlight      int             `json:"in_flight"`
	Requests      int64           `json:"requests"`
	Failures      int64           `json:"failures"`
	MeanLatencyMs float64         `json:"mean_latency_ms"`
	Samples       int             `json:"samples"`
	Weight        float64         `json:"weight"`
	Health        HealthStatus    `json:"health"`
	Breaker       BreakerSnapshot `json:"breaker"`
}

// LoadBalancer picks a node among caller supplied candidates. It owns the
// circuit breakers, the sticky session map and the scaling history. It never
// mutates the nodes it is handed.
type LoadBalancer struct {
	cfg       Config
	breakers  *BreakerSet
	telemetry *Telemetry
	logger    hermes.Logger
	now       func() time.Time

	mu        sync.Mutex
	rrCounter uint64
	stats     map[domain.NodeID]*nodeStats
	sessions  map[string]domain.NodeID
	scaling   []ScalingEvent
}

// NewLoadBalancer creates a load balancer. Zero config fields take defaults.
func NewLoadBalancer(cfg Config, logger hermes.Logger, metrics hermes.Metrics) *LoadBalancer {
	def := DefaultConfig()
	if cfg.Algorithm == "" {
		cfg.Algorithm = def.Algorithm
	}
	if cfg.CPUScaleUpThreshold <= 0 {
		cfg.CPUScaleUpThreshold = def.CPUScaleUpThreshold
	}
	if cfg.CPUScaleDownThreshold <= 0 {
		cfg.CPUScaleDownThreshold = def.CPUScaleDownThreshold
	}
	if cfg.MinNodes <= 0 {
		cfg.MinNodes = def.MinNodes
	}
	if cfg.ScalingHistory <= 0 {
		cfg.ScalingHistory = def.ScalingHistory
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = def.LatencyWindow
	}
	if logger == nil {
		logger = hermes.NewNoopLogger()
	}

	lb := &LoadBalancer{
		cfg:       cfg,
		breakers:  NewBreakerSet(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout),
		telemetry: NewTelemetry(metrics),
		logger:    logger,
		now:       time.Now,
		stats:     make(map[domain.NodeID]*nodeStats),
		sessions:  make(map[string]domain.NodeID),
	}
	lb.breakers.OnStateChange(lb.onBreakerChange)
	return lb
}

// SetClock replaces the time source of the balancer and its breakers.
func (lb *LoadBalancer) SetClock(now func() time.Time) {
	lb.mu.Lock()
	lb.now = now
	lb.mu.Unlock()
	lb.breakers.SetClock(now)
}

// Breakers exposes the per-node circuit breakers.
func (lb *LoadBalancer) Breakers() *BreakerSet {
	return lb.breakers
}

func (lb *LoadBalancer) onBreakerChange(id domain.NodeID, state CircuitBreakerState) {
	lb.telemetry.RecordCircuitBreakerState(id, state)
	switch state {
	case StateOpen:
		lb.logger.Error(context.Background(), "Circuit opened", map[string]any{
			"node_id": id,
			"timeout": lb.cfg.OpenTimeout.String(),
		})
	case StateClosed:
		lb.logger.Info(context.Background(), "Circuit closed", map[string]any{"node_id": id})
	}
}

func (lb *LoadBalancer) statsFor(id domain.NodeID) *nodeStats {
	s, ok := lb.stats[id]
	if !ok {
		s = &nodeStats{weight: 1}
		lb.stats[id] = s
	}
	return s
}

// Select returns one of nodes. Nodes behind an open circuit are never
// returned. A known SessionID returns its pinned node while that node is
// still a candidate.
func (lb *LoadBalancer) Select(ctx context.Context, nodes []*domain.FogNode, opts SelectOptions) (*domain.FogNode, error) {
	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = lb.cfg.Algorithm
	}
	sel, ok := selectors[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lb.mu.Lock()
	defer lb.mu.Unlock()

	candidates := make([]*domain.FogNode, 0, len(nodes))
	for _, n := range nodes {
		if n != nil && lb.breakers.IsAvailable(n.ID) {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoHealthyNodes
	}

	if opts.SessionID != "" {
		if pinned, ok := lb.sessions[opts.SessionID]; ok {
			for _, n := range candidates {
				if n.ID == pinned {
					return n, nil
				}
			}
		}
	}

	chosen := sel.pick(lb, candidates, opts)
	if opts.SessionID != "" {
		lb.sessions[opts.SessionID] = chosen.ID
	}
	return chosen, nil
}

// RecordRequestStart marks a dispatch to id as in flight.
func (lb *LoadBalancer) RecordRequestStart(id domain.NodeID) {
	lb.mu.Lock()
	s := lb.statsFor(id)
	s.inFlight++
	inFlight := s.inFlight
	lb.mu.Unlock()

	lb.telemetry.RecordInFlight(id, inFlight)
}

// RecordRequestEnd closes a dispatch. The outcome feeds the node's circuit
// breaker; a positive latency is added to the sample window.
func (lb *LoadBalancer) RecordRequestEnd(id domain.NodeID, success bool, latency time.Duration) {
	lb.mu.Lock()
	s := lb.statsFor(id)
	if s.inFlight > 0 {
		s.inFlight--
	}
	s.requests++
	if !success {
		s.failures++
	}
	s.outcomes = appendWindow(s.outcomes, success, lb.cfg.LatencyWindow)
	if latency > 0 {
		s.latencies = appendWindow(s.latencies, float64(latency)/float64(time.Millisecond), lb.cfg.LatencyWindow)
	}
	inFlight := s.inFlight
	lb.mu.Unlock()

	if success {
		lb.breakers.RecordSuccess(id)
	} else {
		lb.breakers.RecordFailure(id)
	}
	lb.telemetry.RecordRequest(id, success, latency)
	lb.telemetry.RecordInFlight(id, inFlight)
}

// RecordFailure feeds a failure observed outside request accounting, such as
// a missed heartbeat, into id's breaker.
func (lb *LoadBalancer) RecordFailure(id domain.NodeID) {
	lb.breakers.RecordFailure(id)
}

func appendWindow[T any](window []T, v T, size int) []T {
	window = append(window, v)
	if over := len(window) - size; over > 0 {
		window = append(window[:0], window[over:]...)
	}
	return window
}

// SetWeight sets id's base weight for weighted round robin. Non-positive
// weights reset it to 1.
func (lb *LoadBalancer) SetWeight(id domain.NodeID, weight float64) {
	if weight <= 0 {
		weight = 1
	}
	lb.mu.Lock()
	lb.statsFor(id).weight = weight
	lb.mu.Unlock()
}

// healthLocked derives id's health from its recent error rate and breaker.
func (lb *LoadBalancer) healthLocked(id domain.NodeID) HealthStatus {
	s, ok := lb.stats[id]
	rate := 0.0
	if ok {
		rate = s.errorRate()
	}
	switch {
	case rate >= 0.5:
		return HealthStatusUnhealthy
	case rate >= 0.1 || lb.breakers.Failures(id) > 0:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}

// effectiveWeight is base × idle CPU share × health penalty, floored at 0.1.
func (lb *LoadBalancer) effectiveWeight(n *domain.FogNode) float64 {
	w := lb.statsFor(n.ID).weight * n.AvailableCPUFraction()
	switch lb.healthLocked(n.ID) {
	case HealthStatusDegraded:
		w *= 0.5
	case HealthStatusUnhealthy:
		w *= 0.1
	}
	if w < 0.1 {
		w = 0.1
	}
	return w
}

// NodeStats returns id's accounting.
func (lb *LoadBalancer) NodeStats(id domain.NodeID) NodeStats {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	out := NodeStats{NodeID: id, Weight: 1, Health: lb.healthLocked(id)}
	if s, ok := lb.stats[id]; ok {
		out.InFlight = s.inFlight
		out.Requests = s.requests
		out.Failures = s.failures
		out.MeanLatencyMs, _ = s.meanLatency()
		out.Samples = len(s.latencies)
		out.Weight = s.weight
	}
	out.Breaker = lb.breakers.Snapshot(id)
	return out
}

// OpenCircuits returns how many nodes are currently behind an open circuit.
func (lb *LoadBalancer) OpenCircuits() int {
	return lb.breakers.OpenCount()
}

// SessionNode returns the node pinned to sessionID.
func (lb *LoadBalancer) SessionNode(sessionID string) (domain.NodeID, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	id, ok := lb.sessions[sessionID]
	return id, ok
}

// EndSession drops a sticky mapping.
func (lb *LoadBalancer) EndSession(sessionID string) {
	lb.mu.Lock()
	delete(lb.sessions, sessionID)
	lb.mu.Unlock()
}

// ForgetNode drops every trace of id: accounting, breaker and sessions.
func (lb *LoadBalancer) ForgetNode(id domain.NodeID) {
	lb.mu.Lock()
	delete(lb.stats, id)
	for sid, pinned := range lb.sessions {
		if pinned == id {
			delete(lb.sessions, sid)
		}
	}
	lb.mu.Unlock()

	lb.breakers.Reset(id)
}
