// Package hermes carries the coordinator's structured logs and metrics.
// Components depend on the Logger and Metrics interfaces; slog and
// Prometheus back them in the binary and no-op values stand in for tests.
package hermes

import "context"

// Label is one metric dimension, such as strategy or node status.
type Label struct {
	Key   string
	Value string
}

type Metrics interface {
	IncCounter(name string, value float64, labels ...Label)
	ObserveHistogram(name string, value float64, labels ...Label)
	SetGauge(name string, value float64, labels ...Label)
}

type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, fields map[string]any)
}
