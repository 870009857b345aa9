package hades_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hades"
)

func testNode(id string) *domain.FogNode {
	return &domain.FogNode{
		ID:       domain.NodeID(id),
		Type:     domain.NodeTypeEdgeDevice,
		CPUCores: 4,
		MemoryMB: 4096,
		Status:   domain.NodeStatusMaintenance, // overwritten on registration
	}
}

func newRegistry(t *testing.T) (*hades.MemoryRegistry, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := hades.NewMemoryRegistry()
	r.SetClock(func() time.Time { return now })
	return r, &now
}

func first(candidates []*domain.FogNode) (*domain.FogNode, error) {
	for _, n := range candidates {
		if n.Status.Routable() {
			return n, nil
		}
	}
	return nil, errors.New("none")
}

func TestMemoryRegistry_Register(t *testing.T) {
	r, now := newRegistry(t)

	n, err := r.Register(testNode("n1"))
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusActive, n.Status)
	assert.Equal(t, *now, n.RegisteredAt)
	assert.Equal(t, *now, n.LastHeartbeat)

	_, err = r.Register(testNode("n1"))
	assert.ErrorIs(t, err, hades.ErrNodeExists)

	_, err = r.Register(&domain.FogNode{ID: "bad", Type: "toaster"})
	assert.ErrorIs(t, err, hades.ErrInvalidNode)

	_, err = r.Register(&domain.FogNode{Type: domain.NodeTypeGateway})
	assert.ErrorIs(t, err, hades.ErrInvalidNode)

	assert.Equal(t, 1, r.Len())
}

func TestMemoryRegistry_ReturnsCopies(t *testing.T) {
	r, _ := newRegistry(t)
	n, err := r.Register(testNode("n1"))
	require.NoError(t, err)

	n.CPUCores = 999
	got, err := r.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.CPUCores)
}

func TestMemoryRegistry_RegisterBatch(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Register(testNode("existing"))
	require.NoError(t, err)

	batch := []*domain.FogNode{testNode("a"), testNode("existing"), testNode("b"), {ID: "c"}}
	registered, err := r.RegisterBatch(batch)

	require.Len(t, registered, 2)
	assert.ErrorIs(t, err, hades.ErrNodeExists)
	assert.ErrorIs(t, err, hades.ErrInvalidNode)
	assert.Equal(t, 3, r.Len())

	var ids []domain.NodeID
	for _, n := range r.List(hades.Filter{}) {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []domain.NodeID{"existing", "a", "b"}, ids)
}

func TestMemoryRegistry_UnregisterIsIdempotent(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Register(testNode("n1"))
	require.NoError(t, err)
	_, err = r.Register(testNode("n2"))
	require.NoError(t, err)

	removed, _, err := r.Unregister("n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeID("n1"), removed.ID)

	_, _, err = r.Unregister("n1")
	assert.ErrorIs(t, err, hades.ErrNodeNotFound)
	assert.Equal(t, 1, r.Len())

	_, err = r.Get("n1")
	assert.ErrorIs(t, err, hades.ErrNodeNotFound)
}

func TestMemoryRegistry_UpdateStatusClearsOffline(t *testing.T) {
	r, now := newRegistry(t)
	_, err := r.Register(testNode("n1"))
	require.NoError(t, err)

	_, _, err = r.MarkFailed("n1")
	require.NoError(t, err)

	// Heartbeat alone keeps it offline.
	*now = now.Add(time.Minute)
	n, err := r.Heartbeat("n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusOffline, n.Status)
	assert.Equal(t, *now, n.LastHeartbeat)

	*now = now.Add(time.Minute)
	n, err = r.UpdateStatus("n1", domain.NodeStatusIdle)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusIdle, n.Status)
	assert.Equal(t, *now, n.LastHeartbeat)

	_, err = r.UpdateStatus("n1", "sleeping")
	assert.ErrorIs(t, err, hades.ErrInvalidNode)
	_, err = r.UpdateStatus("ghost", domain.NodeStatusIdle)
	assert.ErrorIs(t, err, hades.ErrNodeNotFound)
}

func TestMemoryRegistry_UpdateMetrics(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Register(testNode("n1"))
	require.NoError(t, err)

	cpu, rep := 140.0, 0.75
	n, err := r.UpdateMetrics("n1", domain.NodeMetrics{CPUUsagePercent: &cpu, ReputationScore: &rep})
	require.NoError(t, err)
	assert.Equal(t, 100.0, n.CPUUsagePercent)
	assert.Equal(t, 0.75, n.ReputationScore)
}

func TestMemoryRegistry_List(t *testing.T) {
	r, _ := newRegistry(t)
	gw := testNode("gw")
	gw.Type = domain.NodeTypeGateway
	for _, n := range []*domain.FogNode{testNode("a"), gw, testNode("b")} {
		_, err := r.Register(n)
		require.NoError(t, err)
	}
	_, err := r.UpdateStatus("b", domain.NodeStatusIdle)
	require.NoError(t, err)

	assert.Len(t, r.List(hades.Filter{}), 3)
	assert.Len(t, r.List(hades.Filter{Type: domain.NodeTypeGateway}), 1)
	assert.Len(t, r.List(hades.Filter{Status: domain.NodeStatusIdle}), 1)
	assert.Empty(t, r.List(hades.Filter{Status: domain.NodeStatusIdle, Type: domain.NodeTypeGateway}))
}

func TestMemoryRegistry_PlaceAndComplete(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Register(testNode("n1"))
	require.NoError(t, err)

	task := &domain.Task{ID: "t1", Status: domain.TaskStatusPending}
	n, err := r.Place(context.Background(), task, first)
	require.NoError(t, err)

	assert.Equal(t, domain.NodeID("n1"), task.AssignedNode)
	assert.Equal(t, domain.TaskStatusAssigned, task.Status)
	assert.Equal(t, 1, n.ActiveTasks)
	assert.Equal(t, domain.NodeStatusBusy, n.Status)

	nodeID, ok := r.TaskNode("t1")
	require.True(t, ok)
	assert.Equal(t, domain.NodeID("n1"), nodeID)

	_, err = r.Place(context.Background(), task, first)
	assert.ErrorIs(t, err, hades.ErrInvalidTask)

	n, err = r.CompleteTask("t1", true)
	require.NoError(t, err)
	assert.Equal(t, 0, n.ActiveTasks)
	assert.Equal(t, 1, n.CompletedTasks)
	assert.Equal(t, domain.NodeStatusActive, n.Status)

	_, err = r.CompleteTask("t1", true)
	assert.ErrorIs(t, err, hades.ErrTaskNotFound)
}

func TestMemoryRegistry_PlaceLeavesNoPartialState(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Register(testNode("n1"))
	require.NoError(t, err)

	_, err = r.Place(context.Background(), &domain.Task{ID: "t1"}, func([]*domain.FogNode) (*domain.FogNode, error) {
		return nil, errors.New("no pick")
	})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Place(ctx, &domain.Task{ID: "t2"}, first)
	assert.ErrorIs(t, err, context.Canceled)

	n, err := r.Get("n1")
	require.NoError(t, err)
	assert.Zero(t, n.ActiveTasks)
	assert.Equal(t, domain.NodeStatusActive, n.Status)
	assert.Zero(t, r.TaskCount())

	_, err = r.Place(context.Background(), &domain.Task{}, first)
	assert.ErrorIs(t, err, hades.ErrInvalidTask)
}

func TestMemoryRegistry_MarkFailed(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Register(testNode("n1"))
	require.NoError(t, err)
	_, err = r.Register(testNode("n2"))
	require.NoError(t, err)

	pickID := func(id domain.NodeID) hades.PickFunc {
		return func(c []*domain.FogNode) (*domain.FogNode, error) {
			for _, n := range c {
				if n.ID == id {
					return n, nil
				}
			}
			return nil, errors.New("missing")
		}
	}
	for i := 0; i < 3; i++ {
		_, err := r.Place(context.Background(), &domain.Task{ID: domain.TaskID(fmt.Sprintf("t%d", i))}, pickID("n1"))
		require.NoError(t, err)
	}
	_, err = r.Place(context.Background(), &domain.Task{ID: "other"}, pickID("n2"))
	require.NoError(t, err)

	n, affected, err := r.MarkFailed("n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusOffline, n.Status)
	assert.Equal(t, 0, n.ActiveTasks)
	assert.Equal(t, 3, n.FailedTasks)
	assert.Equal(t, []domain.TaskID{"t0", "t1", "t2"}, affected)
	assert.Equal(t, 1, r.TaskCount())

	_, err = r.CompleteTask("t0", true)
	assert.ErrorIs(t, err, hades.ErrTaskNotFound)
}

func TestMemoryRegistry_Stale(t *testing.T) {
	r, now := newRegistry(t)
	for _, id := range []string{"fresh", "old", "gone"} {
		_, err := r.Register(testNode(id))
		require.NoError(t, err)
	}
	_, _, err := r.MarkFailed("gone")
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	_, err = r.Heartbeat("fresh")
	require.NoError(t, err)

	assert.Equal(t, []domain.NodeID{"old"}, r.Stale(*now, 90*time.Second))
	assert.Empty(t, r.Stale(*now, 5*time.Minute))
}

func TestMemoryRegistry_MarkStaleRechecksHeartbeat(t *testing.T) {
	r, now := newRegistry(t)
	_, err := r.Register(testNode("n1"))
	require.NoError(t, err)
	_, err = r.Place(context.Background(), &domain.Task{ID: "t1"}, first)
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	staleAt := *now
	require.Equal(t, []domain.NodeID{"n1"}, r.Stale(staleAt, 90*time.Second))

	// The node reports in between the scan and the expiry.
	_, err = r.Heartbeat("n1")
	require.NoError(t, err)

	_, _, err = r.MarkStale("n1", staleAt, 90*time.Second)
	assert.ErrorIs(t, err, hades.ErrNotStale)

	n, err := r.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusBusy, n.Status)
	assert.Equal(t, 1, n.ActiveTasks)
	assert.Equal(t, 1, r.TaskCount())

	// Still silent: expired like MarkFailed.
	*now = now.Add(2 * time.Minute)
	n, affected, err := r.MarkStale("n1", *now, 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeStatusOffline, n.Status)
	assert.Equal(t, 1, n.FailedTasks)
	assert.Equal(t, []domain.TaskID{"t1"}, affected)

	_, _, err = r.MarkStale("n1", *now, 90*time.Second)
	assert.ErrorIs(t, err, hades.ErrNotStale, "offline nodes are never expired twice")

	_, _, err = r.MarkStale("ghost", *now, 90*time.Second)
	assert.ErrorIs(t, err, hades.ErrNodeNotFound)
}

func TestMemoryRegistry_ConcurrentPlacementNeverOvercounts(t *testing.T) {
	r, _ := newRegistry(t)
	for i := 0; i < 4; i++ {
		_, err := r.Register(testNode(fmt.Sprintf("n%d", i)))
		require.NoError(t, err)
	}

	// Each node accepts exactly one task: busy nodes are not routable.
	var wg sync.WaitGroup
	var mu sync.Mutex
	placed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Place(context.Background(), &domain.Task{ID: domain.TaskID(fmt.Sprintf("t%d", i))}, first)
			if err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, placed)
	for _, n := range r.List(hades.Filter{}) {
		assert.Equal(t, 1, n.ActiveTasks, n.ID)
	}
}
