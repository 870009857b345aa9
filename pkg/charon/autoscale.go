package charon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fogmesh/fogmesh/pkg/domain"
)

// ScalingAction is the direction of an auto-scaling recommendation.
type ScalingAction string

const (
	ScaleUp   ScalingAction = "scale_up"
	ScaleDown ScalingAction = "scale_down"
)

// ScalingEvent is an advisory recommendation. Nothing is provisioned here.
type ScalingEvent struct {
	ID          string        `json:"id"`
	Action      ScalingAction `json:"action"`
	Reason      string        `json:"reason"`
	MeanCPU     float64       `json:"mean_cpu_percent"`
	NodeCount   int           `json:"node_count"`
	Recommended int           `json:"recommended_nodes"`
	Timestamp   time.Time     `json:"timestamp"`
}

// CheckAutoScaling compares the mean CPU usage of nodes with the scaling
// thresholds. It returns the recorded event, or nil when no action is needed.
// Scale down is never recommended at or below the minimum node count.
func (lb *LoadBalancer) CheckAutoScaling(ctx context.Context, nodes []*domain.FogNode) *ScalingEvent {
	if len(nodes) == 0 {
		return nil
	}

	var sum float64
	for _, n := range nodes {
		sum += n.CPUUsagePercent
	}
	mean := sum / float64(len(nodes))
	count := len(nodes)

	var event *ScalingEvent
	switch {
	case mean > lb.cfg.CPUScaleUpThreshold:
		event = &ScalingEvent{
			Action:      ScaleUp,
			Reason:      fmt.Sprintf("mean cpu %.1f%% above %.1f%%", mean, lb.cfg.CPUScaleUpThreshold),
			Recommended: count + 1,
		}
	case mean < lb.cfg.CPUScaleDownThreshold && count > lb.cfg.MinNodes:
		event = &ScalingEvent{
			Action:      ScaleDown,
			Reason:      fmt.Sprintf("mean cpu %.1f%% below %.1f%%", mean, lb.cfg.CPUScaleDownThreshold),
			Recommended: count - 1,
		}
	default:
		return nil
	}

	event.ID = uuid.NewString()
	event.MeanCPU = mean
	event.NodeCount = count

	lb.mu.Lock()
	event.Timestamp = lb.now()
	lb.scaling = appendWindow(lb.scaling, *event, lb.cfg.ScalingHistory)
	lb.mu.Unlock()

	lb.telemetry.RecordScalingEvent(event.Action)
	lb.logger.Info(ctx, "Scaling recommended", map[string]any{
		"event_id":    event.ID,
		"action":      string(event.Action),
		"mean_cpu":    mean,
		"node_count":  count,
		"recommended": event.Recommended,
	})
	return event
}

// ScalingHistory returns the recorded events, oldest first.
func (lb *LoadBalancer) ScalingHistory() []ScalingEvent {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	out := make([]ScalingEvent, len(lb.scaling))
	copy(out, lb.scaling)
	return out
}

// LastScalingEvent returns the most recent event, if any.
func (lb *LoadBalancer) LastScalingEvent() (ScalingEvent, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if len(lb.scaling) == 0 {
		return ScalingEvent{}, false
	}
	return lb.scaling[len(lb.scaling)-1], true
}
