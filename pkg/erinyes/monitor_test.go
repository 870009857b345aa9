package erinyes

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hades"
	"github.com/fogmesh/fogmesh/pkg/hermes"
)

func TestHeartbeatMonitor_SurvivesFailingSweeps(t *testing.T) {
	var calls atomic.Int32
	sweep := func(ctx context.Context, now time.Time) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		}
		return nil
	}

	m := NewHeartbeatMonitor(10*time.Millisecond, sweep, hermes.NewNoopLogger(), hermes.NewNoopMetrics())
	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Running())

	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, 5*time.Millisecond)

	m.Stop()
	assert.False(t, m.Running())

	stopped := calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())

	// Idempotent
	m.Stop()
}

func TestHeartbeatMonitor_StartTwice(t *testing.T) {
	m := NewHeartbeatMonitor(time.Hour, func(context.Context, time.Time) error { return nil }, nil, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyRunning)
}

func TestHeartbeatMonitor_InvalidInterval(t *testing.T) {
	m := NewHeartbeatMonitor(0, func(context.Context, time.Time) error { return nil }, nil, nil)
	assert.Error(t, m.Start(context.Background()))
	assert.False(t, m.Running())
}

func TestHeartbeatMonitor_StopsWithContext(t *testing.T) {
	var calls atomic.Int32
	m := NewHeartbeatMonitor(5*time.Millisecond, func(context.Context, time.Time) error {
		calls.Add(1)
		return nil
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)

	cancel()
	m.Stop()
}

func TestHeartbeatMonitor_Tick(t *testing.T) {
	m := NewHeartbeatMonitor(time.Second, func(context.Context, time.Time) error { panic("x") }, nil, nil)
	assert.False(t, m.Tick(context.Background()))

	m = NewHeartbeatMonitor(time.Second, func(context.Context, time.Time) error { return nil }, nil, nil)
	assert.True(t, m.Tick(context.Background()))
}

func TestStaleNodeSweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	registry := hades.NewMemoryRegistry()
	registry.SetClock(func() time.Time { return now })

	for _, id := range []domain.NodeID{"a", "b", "c"} {
		_, err := registry.Register(&domain.FogNode{ID: id, Type: domain.NodeTypeRelayNode, CPUCores: 1, MemoryMB: 1})
		require.NoError(t, err)
	}

	now = now.Add(100 * time.Second)
	_, err := registry.Heartbeat("b")
	require.NoError(t, err)

	var failed []domain.NodeID
	sweep := StaleNodeSweep(registry, 90*time.Second, func(ctx context.Context, id domain.NodeID, at time.Time) error {
		failed = append(failed, id)
		if id == "a" {
			return errors.New("cache down")
		}
		_, _, err := registry.MarkStale(id, at, 90*time.Second)
		return err
	})

	err = sweep(context.Background(), now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node a")
	assert.Equal(t, []domain.NodeID{"a", "c"}, failed)

	c, err := registry.Get("c")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusOffline, c.Status)

	// c is offline now and never swept again.
	failed = nil
	_ = sweep(context.Background(), now)
	assert.Equal(t, []domain.NodeID{"a"}, failed)
}

func TestStaleNodeSweep_NodeReportsMidSweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	registry := hades.NewMemoryRegistry()
	registry.SetClock(func() time.Time { return now })

	for _, id := range []domain.NodeID{"a", "b"} {
		_, err := registry.Register(&domain.FogNode{ID: id, Type: domain.NodeTypeRelayNode, CPUCores: 1, MemoryMB: 1})
		require.NoError(t, err)
	}
	now = now.Add(100 * time.Second)

	var expired []domain.NodeID
	sweep := StaleNodeSweep(registry, 90*time.Second, func(ctx context.Context, id domain.NodeID, at time.Time) error {
		if id == "a" {
			// b reports while a is being expired.
			_, err := registry.Heartbeat("b")
			require.NoError(t, err)
		}
		_, _, err := registry.MarkStale(id, at, 90*time.Second)
		if errors.Is(err, hades.ErrNotStale) {
			return nil
		}
		expired = append(expired, id)
		return err
	})

	require.NoError(t, sweep(context.Background(), now))
	assert.Equal(t, []domain.NodeID{"a"}, expired)

	b, err := registry.Get("b")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusActive, b.Status)
}
