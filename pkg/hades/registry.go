// Package hades holds the authoritative map of fog nodes. Every node the
// coordinator knows about lives here and nowhere else; caches only mirror it.
package hades

import (
	"context"
	"errors"
	"time"

	"github.com/fogmesh/fogmesh/pkg/domain"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrNodeExists   = errors.New("node already registered")
	ErrInvalidNode  = errors.New("invalid node")
	ErrInvalidTask  = errors.New("invalid task")
	ErrTaskNotFound = errors.New("task not found")
	ErrNotStale     = errors.New("node heartbeat is current")
)

// PickFunc chooses one of the candidates. It runs while the registry is
// locked and must not call back into it.
type PickFunc func(candidates []*domain.FogNode) (*domain.FogNode, error)

// Filter selects nodes by equality. Zero fields match everything.
type Filter struct {
	Status domain.NodeStatus
	Type   domain.NodeType
}

func (f Filter) matches(n *domain.FogNode) bool {
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	return true
}

// Registry tracks the fleet. All returned nodes are copies.
type Registry interface {
	Register(node *domain.FogNode) (*domain.FogNode, error)
	RegisterBatch(nodes []*domain.FogNode) ([]*domain.FogNode, error)
	Unregister(id domain.NodeID) (*domain.FogNode, []domain.TaskID, error)

	UpdateStatus(id domain.NodeID, status domain.NodeStatus) (*domain.FogNode, error)
	UpdateMetrics(id domain.NodeID, metrics domain.NodeMetrics) (*domain.FogNode, error)
	Heartbeat(id domain.NodeID) (*domain.FogNode, error)
	MarkFailed(id domain.NodeID) (*domain.FogNode, []domain.TaskID, error)
	// MarkStale is MarkFailed guarded by a staleness check taken under the
	// same lock. It returns ErrNotStale when the node is offline or has been
	// heard from within timeout of now.
	MarkStale(id domain.NodeID, now time.Time, timeout time.Duration) (*domain.FogNode, []domain.TaskID, error)

	Get(id domain.NodeID) (*domain.FogNode, error)
	List(filter Filter) []*domain.FogNode
	Len() int
	Stale(now time.Time, timeout time.Duration) []domain.NodeID

	// Place runs pick over every node in registration order and assigns
	// task to the result, all under one lock.
	Place(ctx context.Context, task *domain.Task, pick PickFunc) (*domain.FogNode, error)
	CompleteTask(id domain.TaskID, success bool) (*domain.FogNode, error)
	TaskNode(id domain.TaskID) (domain.NodeID, bool)
	TaskCount() int
}
