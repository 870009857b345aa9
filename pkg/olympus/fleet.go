package olympus

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fogmesh/fogmesh/pkg/domain"
	"github.com/fogmesh/fogmesh/pkg/hades"
)

// Fleet is a seed file: the nodes to register when the coordinator starts.
//
//	nodes:
//	  - node_id: edge-1
//	    node_type: edge_device
//	    cpu_cores: 4
//	    memory_mb: 2048
type Fleet struct {
	Nodes []*domain.FogNode `yaml:"nodes"`
}

// LoadFleet reads and validates a fleet seed file.
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}
	return ParseFleet(data)
}

// ParseFleet decodes a YAML fleet and rejects duplicate or malformed nodes.
func ParseFleet(data []byte) (*Fleet, error) {
	var f Fleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file: %w", err)
	}

	seen := make(map[domain.NodeID]bool, len(f.Nodes))
	for i, n := range f.Nodes {
		switch {
		case n == nil || n.ID == "":
			return nil, fmt.Errorf("%w: fleet entry %d has no node_id", ErrInvalidNode, i)
		case !n.Type.Valid():
			return nil, fmt.Errorf("%w: node %s has unknown type %q", ErrInvalidNode, n.ID, n.Type)
		case seen[n.ID]:
			return nil, fmt.Errorf("%w: node %s listed twice", ErrNodeExists, n.ID)
		}
		seen[n.ID] = true
	}
	return &f, nil
}

// WarmCache preloads every registered node into the cache so that early
// lookups do not all miss.
func (c *Coordinator) WarmCache(ctx context.Context) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	nodes := c.registry.List(hades.Filter{})
	keys := make([]string, len(nodes))
	for i, n := range nodes {
		keys[i] = string(n.ID)
	}
	return c.cache.Warm(ctx, nodesNamespace, keys, c.loadNode)
}
