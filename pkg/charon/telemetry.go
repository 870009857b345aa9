package charon

import (
	"time"

	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hermes"
)

// Telemetry exports load balancer metrics.
type Telemetry struct {
	metrics hermes.Metrics
}

// NewTelemetry creates a new telemetry exporter. A nil metrics sink disables it.
func NewTelemetry(metrics hermes.Metrics) *Telemetry {
	return &Telemetry{
		metrics: metrics,
	}
}

// RecordRequest records the outcome of one dispatch to a node.
func (t *Telemetry) RecordRequest(nodeID domain.NodeID, success bool, latency time.Duration) {
	if t.metrics == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}

	t.metrics.IncCounter("fog_lb_requests_total", 1,
		hermes.Label{Key: "node_id", Value: string(nodeID)},
		hermes.Label{Key: "status", Value: status},
	)

	if latency > 0 {
		t.metrics.ObserveHistogram("fog_lb_request_latency_ms", float64(latency)/float64(time.Millisecond),
			hermes.Label{Key: "node_id", Value: string(nodeID)},
		)
	}
}

// RecordCircuitBreakerState records the state of a circuit breaker.
func (t *Telemetry) RecordCircuitBreakerState(nodeID domain.NodeID, state CircuitBreakerState) {
	if t.metrics == nil {
		return
	}

	// Gauge: 1 for current state, 0 for others
	for _, s := range []CircuitBreakerState{StateClosed, StateOpen, StateHalfOpen} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		t.metrics.SetGauge("fog_circuit_breaker_state", value,
			hermes.Label{Key: "node_id", Value: string(nodeID)},
			hermes.Label{Key: "state", Value: s.String()},
		)
	}
}

// RecordInFlight records the number of dispatches currently open on a node.
func (t *Telemetry) RecordInFlight(nodeID domain.NodeID, count int) {
	if t.metrics == nil {
		return
	}

	t.metrics.SetGauge("fog_lb_in_flight", float64(count),
		hermes.Label{Key: "node_id", Value: string(nodeID)},
	)
}

// RecordScalingEvent counts an auto-scaling recommendation.
func (t *Telemetry) RecordScalingEvent(action ScalingAction) {
	if t.metrics == nil {
		return
	}

	t.metrics.IncCounter("fog_scaling_events_total", 1,
		hermes.Label{Key: "action", Value: string(action)},
	)
}
