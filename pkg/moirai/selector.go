package moirai

import (
	"fmt"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fogmesh/fogmesh/pkg/domain"
)

const selectorCacheSize = 256

// Selector evaluates CEL node selectors such as
//
//	node.region == "eu-west" && node.gpu_available
//
// against candidate nodes. Compiled programs are cached per expression.
type Selector struct {
	env      *cel.Env
	programs *lru.Cache[string, cel.Program]
}

// NewSelector creates a selector with the `node` variable declared.
func NewSelector() (*Selector, error) {
	env, err := cel.NewEnv(
		cel.Variable("node", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	programs, err := lru.New[string, cel.Program](selectorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create selector cache: %w", err)
	}

	return &Selector{env: env, programs: programs}, nil
}

// Compile parses and checks expr, reusing a cached program when possible.
func (s *Selector) Compile(expr string) (cel.Program, error) {
	if prg, ok := s.programs.Get(expr); ok {
		return prg, nil
	}

	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelector, issues.Err())
	}

	prg, err := s.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}

	s.programs.Add(expr, prg)
	return prg, nil
}

// Match evaluates expr against node.
func (s *Selector) Match(expr string, node *domain.FogNode) (bool, error) {
	prg, err := s.Compile(expr)
	if err != nil {
		return false, err
	}

	result, _, err := prg.Eval(map[string]any{"node": nodeVars(node)})
	if err != nil {
		// missing keys and type mismatches count as a non-match
		return false, nil
	}

	match, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q does not evaluate to a bool", ErrInvalidSelector, expr)
	}
	return match, nil
}

// Filter keeps the nodes matching expr.
func (s *Selector) Filter(expr string, nodes []*domain.FogNode) ([]*domain.FogNode, error) {
	var out []*domain.FogNode
	for _, n := range nodes {
		ok, err := s.Match(expr, n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func nodeVars(n *domain.FogNode) map[string]any {
	return map[string]any{
		"id":                          string(n.ID),
		"type":                        string(n.Type),
		"status":                      string(n.Status),
		"region":                      n.Region,
		"cpu_cores":                   int64(n.CPUCores),
		"memory_mb":                   int64(n.MemoryMB),
		"storage_mb":                  int64(n.StorageMB),
		"gpu_available":               n.GPUAvailable,
		"cpu_usage_percent":           n.CPUUsagePercent,
		"memory_usage_percent":        n.MemoryUsagePercent,
		"active_tasks":                int64(n.ActiveTasks),
		"reputation_score":            n.ReputationScore,
		"uptime_percent":              n.UptimePercent,
		"supports_onion_routing":      n.SupportsOnionRouting,
		"circuit_participation_count": int64(n.CircuitParticipationCount),
	}
}
