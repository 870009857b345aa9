package hermes

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.IncCounter("fog_route_total", 1, Label{Key: "strategy", Value: "round_robin"})
	m.IncCounter("fog_route_total", 2, Label{Key: "strategy", Value: "round_robin"})
	m.ObserveHistogram("fog_route_duration_seconds", 0.5, Label{Key: "strategy", Value: "least_loaded"})
	m.SetGauge("fog_nodes", 10, Label{Key: "status", Value: "active"})
	m.SetGauge("fog_nodes", 20, Label{Key: "status", Value: "active"})

	assert.Contains(t, m.counters, "fog_route_total")
	assert.Contains(t, m.histograms, "fog_route_duration_seconds")
	assert.Contains(t, m.gauges, "fog_nodes")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 3)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[mf.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[mf.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, values["fog_route_total"])
	assert.Equal(t, 20.0, values["fog_nodes"])
}

func TestPrometheusMetrics_LatencyBuckets(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.ObserveHistogram("fog_lb_request_latency_ms", 250, Label{Key: "node_id", Value: "n1"})
	m.ObserveHistogram("fog_route_duration_seconds", 0.002)

	families, err := reg.Gather()
	require.NoError(t, err)

	buckets := make(map[string]int)
	for _, mf := range families {
		buckets[mf.GetName()] = len(mf.GetMetric()[0].GetHistogram().GetBucket())
	}
	assert.Equal(t, len(latencyMsBuckets), buckets["fog_lb_request_latency_ms"])
	assert.Equal(t, len(prometheus.DefBuckets), buckets["fog_route_duration_seconds"])
}

func TestSlogAdapter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAdapterWithLevel(&buf, "error")

	l.Info(context.Background(), "hidden", map[string]any{"k": "v"})
	assert.Zero(t, buf.Len())

	l.Error(context.Background(), "shown", map[string]any{"node_id": "n1"})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "n1", rec["node_id"])
}
