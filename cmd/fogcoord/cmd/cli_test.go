package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogmesh/fogmesh/pkg/config"
	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hermes"
	"github.com/fogmesh/fogmesh/pkg/olympus"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { cfgFile = "" })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFleetValidate(t *testing.T) {
	path := writeFile(t, "fleet.yaml", `
nodes:
  - node_id: edge-1
    node_type: edge_device
    cpu_cores: 2
    memory_mb: 1024
  - node_id: edge-2
    node_type: edge_device
    cpu_cores: 2
    memory_mb: 1024
  - node_id: gw-1
    node_type: gateway
    cpu_cores: 8
    memory_mb: 4096
`)

	out, err := execute(t, "fleet", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "nodes: 3")
	assert.Contains(t, out, "edge_device: 2")
	assert.Contains(t, out, "gateway: 1")
	assert.Contains(t, out, "cpu_cores: 12")
	assert.Contains(t, out, "memory_mb: 6144")

	bad := writeFile(t, "bad.yaml", "nodes:\n  - node_id: x\n    node_type: toaster\n")
	_, err = execute(t, "fleet", "validate", bad)
	assert.ErrorIs(t, err, olympus.ErrInvalidNode)
}

func TestConfigView(t *testing.T) {
	path := writeFile(t, "fogcoord.yaml", "listen_addr: \":7070\"\nbalancer:\n  algorithm: response_time\n")

	out, err := execute(t, "--config", path, "config", "view")
	require.NoError(t, err)
	assert.Contains(t, out, "7070")
	assert.Contains(t, out, "algorithm: response_time")
	assert.Contains(t, out, "heartbeat_timeout")

	out, err = execute(t, "--config", path, "config", "get", "balancer.algorithm")
	require.NoError(t, err)
	assert.Equal(t, "response_time\n", out)

	invalid := writeFile(t, "invalid.yaml", "cache:\n  lru_capacity: 0\n")
	_, err = execute(t, "--config", invalid, "config", "view")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestNewCache(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	s := miniredis.RunT(t)
	cfg.Cache.URL = "redis://" + s.Addr() + "/0"
	cache, err := newCache(ctx, cfg, hermes.NewNoopLogger(), hermes.NewNoopMetrics())
	require.NoError(t, err)
	assert.True(t, cache.Stats().External)
	cache.Close()

	// An unreachable store falls back to the local tier.
	cfg.Cache.URL = "redis://127.0.0.1:1/0"
	cache, err = newCache(ctx, cfg, hermes.NewNoopLogger(), hermes.NewNoopMetrics())
	require.NoError(t, err)
	assert.False(t, cache.Stats().External)

	cfg.Cache.Enabled = false
	cache, err = newCache(ctx, cfg, hermes.NewNoopLogger(), hermes.NewNoopMetrics())
	require.NoError(t, err)
	assert.Nil(t, cache)
}

func TestServeMux(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := hermes.NewPrometheusMetrics(reg)

	coord, err := newCoordinator(config.Default(), nil, hermes.NewNoopLogger(), metrics)
	require.NoError(t, err)

	path := writeFile(t, "fleet.yaml", "nodes:\n  - node_id: n1\n    node_type: compute_node\n    cpu_cores: 4\n    memory_mb: 2048\n")
	require.NoError(t, seedFleet(ctx, coord, path))

	srv := httptest.NewServer(newMux(coord, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "not started")
	resp.Body.Close()

	require.NoError(t, coord.Start(ctx))
	defer coord.Stop(ctx)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var h olympus.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, olympus.HealthHealthy, h.Status)
	assert.Equal(t, 1, h.TotalNodes)

	_, err = coord.RouteTask(ctx, &domain.Task{ID: "t1"}, "")
	require.NoError(t, err)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `fog_route_total{result="assigned",strategy="round_robin"} 1`)
}
