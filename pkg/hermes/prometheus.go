package hermes

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// latencyMsBuckets spans 1ms to ~16s, wide enough for edge devices on slow links.
var latencyMsBuckets = prometheus.ExponentialBuckets(1, 2, 15)

// PrometheusMetrics implements Metrics on a Prometheus registry. Vectors are
// created on first use; the label keys of the first call for a name fix that
// metric's label set.
type PrometheusMetrics struct {
	registerer prometheus.Registerer

	mu         sync.RWMutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics registers vectors on reg, or on
// prometheus.DefaultRegisterer when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func splitLabels(labels []Label) (keys, values []string) {
	keys = make([]string, len(labels))
	values = make([]string, len(labels))
	for i, l := range labels {
		keys[i], values[i] = l.Key, l.Value
	}
	return keys, values
}

// vecFor returns vecs[name], creating and registering it with build on first use.
func vecFor[V prometheus.Collector](m *PrometheusMetrics, vecs map[string]V, name string, keys []string, build func(keys []string) V) V {
	m.mu.RLock()
	vec, ok := vecs[name]
	m.mu.RUnlock()
	if ok {
		return vec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if vec, ok = vecs[name]; ok {
		return vec
	}
	vec = build(keys)
	m.registerer.MustRegister(vec)
	vecs[name] = vec
	return vec
}

// bucketsFor picks histogram buckets from the unit suffix of name.
func bucketsFor(name string) []float64 {
	if strings.HasSuffix(name, "_ms") {
		return latencyMsBuckets
	}
	return prometheus.DefBuckets
}

func (m *PrometheusMetrics) IncCounter(name string, value float64, labels ...Label) {
	keys, values := splitLabels(labels)
	vec := vecFor(m, m.counters, name, keys, func(keys []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, keys)
	})
	vec.WithLabelValues(values...).Add(value)
}

func (m *PrometheusMetrics) ObserveHistogram(name string, value float64, labels ...Label) {
	keys, values := splitLabels(labels)
	vec := vecFor(m, m.histograms, name, keys, func(keys []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: bucketsFor(name),
		}, keys)
	})
	vec.WithLabelValues(values...).Observe(value)
}

func (m *PrometheusMetrics) SetGauge(name string, value float64, labels ...Label) {
	keys, values := splitLabels(labels)
	vec := vecFor(m, m.gauges, name, keys, func(keys []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, keys)
	})
	vec.WithLabelValues(values...).Set(value)
}
