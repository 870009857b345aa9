package moirai_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/moirai"
)

func newNode(id string, cores, mem int) *domain.FogNode {
	return &domain.FogNode{
		ID:       domain.NodeID(id),
		Type:     domain.NodeTypeComputeNode,
		CPUCores: cores,
		MemoryMB: mem,
		Status:   domain.NodeStatusActive,
	}
}

func newRouter(t *testing.T) *moirai.Router {
	t.Helper()
	r, err := moirai.NewRouter()
	require.NoError(t, err)
	return r
}

func TestEligible(t *testing.T) {
	gpu := newNode("gpu", 8, 8192)
	gpu.GPUAvailable = true
	small := newNode("small", 1, 512)
	offline := newNode("offline", 16, 16384)
	offline.Status = domain.NodeStatusOffline
	busy := newNode("busy", 16, 16384)
	busy.Status = domain.NodeStatusBusy
	idle := newNode("idle", 4, 4096)
	idle.Status = domain.NodeStatusIdle
	onion := newNode("onion", 4, 4096)
	onion.SupportsOnionRouting = true

	nodes := []*domain.FogNode{gpu, small, offline, busy, idle, onion}

	tests := []struct {
		name string
		task domain.Task
		want []domain.NodeID
	}{
		{"no requirements", domain.Task{}, []domain.NodeID{"gpu", "small", "idle", "onion"}},
		{"cpu floor", domain.Task{CPURequired: 4}, []domain.NodeID{"gpu", "idle", "onion"}},
		{"memory floor", domain.Task{MemoryRequired: 5000}, []domain.NodeID{"gpu"}},
		{"gpu", domain.Task{GPURequired: true}, []domain.NodeID{"gpu"}},
		{"onion circuit", domain.Task{RequireOnionCircuit: true}, []domain.NodeID{"onion"}},
		{"nothing fits", domain.Task{CPURequired: 64}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []domain.NodeID
			for _, n := range moirai.Eligible(&tt.task, nodes) {
				got = append(got, n.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouter_NoEligibleNode(t *testing.T) {
	r := newRouter(t)

	_, err := r.Choose(&domain.Task{GPURequired: true}, []*domain.FogNode{newNode("a", 4, 4096)}, domain.StrategyRoundRobin)
	assert.ErrorIs(t, err, moirai.ErrNoEligibleNode)

	_, err = r.Choose(&domain.Task{}, nil, domain.StrategyLeastLoaded)
	assert.ErrorIs(t, err, moirai.ErrNoEligibleNode)
}

func TestRouter_UnknownStrategy(t *testing.T) {
	r := newRouter(t)

	_, err := r.Choose(&domain.Task{}, []*domain.FogNode{newNode("a", 4, 4096)}, "random")
	assert.ErrorIs(t, err, moirai.ErrUnknownStrategy)

	for _, name := range domain.RoutingStrategies {
		s, err := r.Strategy(name)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}
}

func TestRoundRobin_Fairness(t *testing.T) {
	r := newRouter(t)
	nodes := make([]*domain.FogNode, 4)
	for i := range nodes {
		nodes[i] = newNode(fmt.Sprintf("n%d", i), 4, 4096)
	}

	var got []domain.NodeID
	for i := 0; i < len(nodes); i++ {
		n, err := r.Choose(&domain.Task{}, nodes, domain.StrategyRoundRobin)
		require.NoError(t, err)
		got = append(got, n.ID)
	}

	assert.Equal(t, []domain.NodeID{"n0", "n1", "n2", "n3"}, got)
}

func TestRoundRobin_WrapsOnShrinkingList(t *testing.T) {
	s := moirai.NewRoundRobin()
	three := []*domain.FogNode{newNode("a", 1, 1), newNode("b", 1, 1), newNode("c", 1, 1)}

	assert.Equal(t, domain.NodeID("a"), s.Select(nil, three).ID)
	assert.Equal(t, domain.NodeID("b"), s.Select(nil, three).ID)
	// position 2 modulo 2
	assert.Equal(t, domain.NodeID("a"), s.Select(nil, three[:2]).ID)
}

func TestLeastLoaded(t *testing.T) {
	a, b, c := newNode("a", 4, 4096), newNode("b", 4, 4096), newNode("c", 4, 4096)
	a.CPUUsagePercent, b.CPUUsagePercent, c.CPUUsagePercent = 70, 15, 40

	got := moirai.LeastLoaded{}.Select(&domain.Task{}, []*domain.FogNode{a, b, c})
	assert.Equal(t, domain.NodeID("b"), got.ID)
}

func TestBinPacking_TightestFit(t *testing.T) {
	big := newNode("big", 32, 65536)
	snug := newNode("snug", 4, 4096)
	medium := newNode("medium", 8, 8192)

	task := &domain.Task{CPURequired: 3, MemoryRequired: 4000}
	got := moirai.BinPacking{}.Select(task, []*domain.FogNode{big, snug, medium})
	assert.Equal(t, domain.NodeID("snug"), got.ID)
}

func TestProximity(t *testing.T) {
	us := newNode("us", 4, 4096)
	us.Region = "us-east"
	eu := newNode("eu", 4, 4096)
	eu.Region = "eu-west"
	nodes := []*domain.FogNode{us, eu}

	withRegion := func(region string) *domain.Task {
		data, _ := json.Marshal(map[string]any{"preferred_region": region, "payload": []int{1, 2}})
		return &domain.Task{Data: data}
	}

	assert.Equal(t, domain.NodeID("eu"), moirai.Proximity{}.Select(withRegion("eu-west"), nodes).ID)
	assert.Equal(t, domain.NodeID("us"), moirai.Proximity{}.Select(withRegion("ap-south"), nodes).ID)
	assert.Equal(t, domain.NodeID("us"), moirai.Proximity{}.Select(withRegion(""), nodes).ID)
	assert.Equal(t, domain.NodeID("us"), moirai.Proximity{}.Select(&domain.Task{}, nodes).ID)
}

func TestPrivacyAware(t *testing.T) {
	a, b := newNode("a", 4, 4096), newNode("b", 4, 4096)
	a.CircuitParticipationCount, b.CircuitParticipationCount = 3, 12

	got := moirai.PrivacyAware{}.Select(&domain.Task{}, []*domain.FogNode{a, b})
	assert.Equal(t, domain.NodeID("b"), got.ID)
}

func TestRouter_NeverPicksUndersizedNode(t *testing.T) {
	r := newRouter(t)

	var nodes []*domain.FogNode
	for i := 1; i <= 8; i++ {
		n := newNode(fmt.Sprintf("n%d", i), i, i*1024)
		n.GPUAvailable = i%2 == 0
		n.CPUUsagePercent = float64(100 - i*10)
		nodes = append(nodes, n)
	}

	for _, strategy := range domain.RoutingStrategies {
		for cpu := 0; cpu <= 9; cpu++ {
			task := &domain.Task{CPURequired: cpu, MemoryRequired: cpu * 512, GPURequired: cpu%3 == 0}
			n, err := r.Choose(task, nodes, strategy)
			if err != nil {
				assert.ErrorIs(t, err, moirai.ErrNoEligibleNode)
				continue
			}
			assert.GreaterOrEqual(t, n.CPUCores, task.CPURequired, strategy)
			assert.GreaterOrEqual(t, n.MemoryMB, task.MemoryRequired, strategy)
			if task.GPURequired {
				assert.True(t, n.GPUAvailable, strategy)
			}
		}
	}
}
