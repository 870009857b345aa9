// Package erinyes hunts down nodes that stopped reporting. A HeartbeatMonitor
// runs one sweep per tick; the stale-node sweep hands every node whose
// heartbeat expired to a failure handler.
package erinyes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hades"
	"github.com/fogmesh/fogmesh/pkg/hermes"
)

var ErrAlreadyRunning = errors.New("monitor already running")

// Sweep is one monitor iteration.
type Sweep func(ctx context.Context, now time.Time) error

// HeartbeatMonitor runs a Sweep on a fixed interval until stopped. A failing
// or panicking sweep is logged and the loop waits for the next tick.
type HeartbeatMonitor struct {
	Interval time.Duration
	Logger   hermes.Logger
	Metrics  hermes.Metrics

	sweep Sweep
	now   func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatMonitor creates a stopped monitor.
func NewHeartbeatMonitor(interval time.Duration, sweep Sweep, logger hermes.Logger, metrics hermes.Metrics) *HeartbeatMonitor {
	if logger == nil {
		logger = hermes.NewNoopLogger()
	}
	if metrics == nil {
		metrics = hermes.NewNoopMetrics()
	}
	return &HeartbeatMonitor{
		Interval: interval,
		Logger:   logger,
		Metrics:  metrics,
		sweep:    sweep,
		now:      time.Now,
	}
}

// SetClock replaces the time handed to sweeps. Intended for tests.
func (m *HeartbeatMonitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Start launches the loop. It stops when ctx is cancelled or Stop is called.
func (m *HeartbeatMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return ErrAlreadyRunning
	}
	if m.Interval <= 0 {
		return fmt.Errorf("invalid heartbeat interval %s", m.Interval)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.watch(loopCtx, m.done)
	return nil
}

// Stop cancels the loop and waits for the current iteration to finish.
// Safe to call multiple times.
func (m *HeartbeatMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the loop is active.
func (m *HeartbeatMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *HeartbeatMonitor) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one sweep and reports whether it succeeded.
func (m *HeartbeatMonitor) Tick(ctx context.Context) (ok bool) {
	m.mu.Lock()
	now := m.now()
	m.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			m.Logger.Error(ctx, "Heartbeat sweep panicked", map[string]any{
				"panic": fmt.Sprint(r),
			})
			m.Metrics.IncCounter("fog_heartbeat_ticks_total", 1, hermes.Label{Key: "result", Value: "panic"})
			ok = false
		}
	}()

	if err := m.sweep(ctx, now); err != nil {
		m.Logger.Error(ctx, "Heartbeat sweep failed", map[string]any{
			"error": err.Error(),
		})
		m.Metrics.IncCounter("fog_heartbeat_ticks_total", 1, hermes.Label{Key: "result", Value: "error"})
		return false
	}

	m.Metrics.IncCounter("fog_heartbeat_ticks_total", 1, hermes.Label{Key: "result", Value: "ok"})
	return true
}

// FailureHandler reacts to a node whose heartbeat had expired at now. The
// node may have reported since the scan, so handlers re-check staleness
// atomically, for example with hades.Registry.MarkStale.
type FailureHandler func(ctx context.Context, id domain.NodeID, now time.Time) error

// StaleNodeSweep returns a Sweep that passes every non-offline node silent
// for longer than timeout to onStale. One failing node does not stop the
// others; their errors are joined.
func StaleNodeSweep(registry hades.Registry, timeout time.Duration, onStale FailureHandler) Sweep {
	return func(ctx context.Context, now time.Time) error {
		var errs []error
		for _, id := range registry.Stale(now, timeout) {
			if err := onStale(ctx, id, now); err != nil {
				errs = append(errs, fmt.Errorf("node %s: %w", id, err))
			}
		}
		return errors.Join(errs...)
	}
}
