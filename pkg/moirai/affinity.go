package moirai

import (
	"github.com/fogmesh/fogmesh/pkg/domain"
)

// CheckEligible returns true if node may take task: it is active or idle, its
// declared capacity covers the ask, and it supports onion routing when the
// task requires a circuit.
func CheckEligible(task *domain.Task, node *domain.FogNode) bool {
	if !node.Status.Routable() {
		return false
	}
	if !node.Fits(task) {
		return false
	}
	if task.RequireOnionCircuit && !node.SupportsOnionRouting {
		return false
	}
	return true
}

// Eligible filters nodes with CheckEligible, preserving order.
func Eligible(task *domain.Task, nodes []*domain.FogNode) []*domain.FogNode {
	var eligible []*domain.FogNode
	for _, node := range nodes {
		if node != nil && CheckEligible(task, node) {
			eligible = append(eligible, node)
		}
	}
	return eligible
}
