package hades

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fogmesh/fogmesh/pkg/domain"
)

// MemoryRegistry keeps nodes, their registration order and the task
// assignments behind a single mutex, so read-then-mutate sequences such as
// placement are atomic relative to every other operation.
type MemoryRegistry struct {
	mu    sync.Mutex
	nodes map[domain.NodeID]*domain.FogNode
	order []domain.NodeID
	tasks map[domain.TaskID]domain.NodeID
	now   func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		nodes: make(map[domain.NodeID]*domain.FogNode),
		tasks: make(map[domain.TaskID]domain.NodeID),
		now:   time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *MemoryRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func validate(node *domain.FogNode) error {
	switch {
	case node == nil:
		return fmt.Errorf("%w: nil node", ErrInvalidNode)
	case node.ID == "":
		return fmt.Errorf("%w: empty node_id", ErrInvalidNode)
	case !node.Type.Valid():
		return fmt.Errorf("%w: %s: unknown node_type %q", ErrInvalidNode, node.ID, node.Type)
	case node.CPUCores < 0 || node.MemoryMB < 0 || node.StorageMB < 0:
		return fmt.Errorf("%w: %s: negative capacity", ErrInvalidNode, node.ID)
	}
	return nil
}

// insertLocked stores a copy of node as a fresh, active registration.
func (r *MemoryRegistry) insertLocked(node *domain.FogNode, now time.Time) *domain.FogNode {
	n := node.Clone()
	n.Status = domain.NodeStatusActive
	n.RegisteredAt = now
	n.LastHeartbeat = now
	r.nodes[n.ID] = n
	r.order = append(r.order, n.ID)
	return n.Clone()
}

func (r *MemoryRegistry) Register(node *domain.FogNode) (*domain.FogNode, error) {
	if err := validate(node); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[node.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrNodeExists, node.ID)
	}
	return r.insertLocked(node, r.now()), nil
}

// RegisterBatch inserts every valid, unknown node under one lock. Rejected
// nodes are reported in the joined error; the others are still registered.
func (r *MemoryRegistry) RegisterBatch(nodes []*domain.FogNode) ([]*domain.FogNode, error) {
	var errs []error

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	registered := make([]*domain.FogNode, 0, len(nodes))
	for _, node := range nodes {
		if err := validate(node); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, exists := r.nodes[node.ID]; exists {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNodeExists, node.ID))
			continue
		}
		registered = append(registered, r.insertLocked(node, now))
	}
	return registered, errors.Join(errs...)
}

// Unregister removes id and returns the removed node together with the tasks
// that were still assigned to it.
func (r *MemoryRegistry) Unregister(id domain.NodeID) (*domain.FogNode, []domain.TaskID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	affected := r.releaseTasksLocked(id)
	delete(r.nodes, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return n.Clone(), affected, nil
}

// releaseTasksLocked drops every task mapping pointing at id.
func (r *MemoryRegistry) releaseTasksLocked(id domain.NodeID) []domain.TaskID {
	var affected []domain.TaskID
	for taskID, nodeID := range r.tasks {
		if nodeID == id {
			affected = append(affected, taskID)
			delete(r.tasks, taskID)
		}
	}
	slices.Sort(affected)
	return affected
}

// mutate applies fn to the live node and returns a copy of the result.
func (r *MemoryRegistry) mutate(id domain.NodeID, fn func(n *domain.FogNode, now time.Time)) (*domain.FogNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	fn(n, r.now())
	return n.Clone(), nil
}

// UpdateStatus sets any status, including clearing offline, and refreshes the
// heartbeat.
func (r *MemoryRegistry) UpdateStatus(id domain.NodeID, status domain.NodeStatus) (*domain.FogNode, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidNode, status)
	}
	return r.mutate(id, func(n *domain.FogNode, now time.Time) {
		n.Status = status
		n.LastHeartbeat = now
	})
}

func (r *MemoryRegistry) UpdateMetrics(id domain.NodeID, metrics domain.NodeMetrics) (*domain.FogNode, error) {
	return r.mutate(id, func(n *domain.FogNode, now time.Time) {
		metrics.Apply(n)
		n.LastHeartbeat = now
	})
}

// Heartbeat refreshes last_heartbeat only. An offline node stays offline.
func (r *MemoryRegistry) Heartbeat(id domain.NodeID) (*domain.FogNode, error) {
	return r.mutate(id, func(n *domain.FogNode, now time.Time) {
		n.LastHeartbeat = now
	})
}

// MarkFailed takes id offline, moves its active tasks onto failed_tasks and
// drops their assignments, which are returned.
func (r *MemoryRegistry) MarkFailed(id domain.NodeID) (*domain.FogNode, []domain.TaskID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	return r.failLocked(n)
}

func (r *MemoryRegistry) MarkStale(id domain.NodeID, now time.Time, timeout time.Duration) (*domain.FogNode, []domain.TaskID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if !isStale(n, now, timeout) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotStale, id)
	}
	return r.failLocked(n)
}

func (r *MemoryRegistry) failLocked(n *domain.FogNode) (*domain.FogNode, []domain.TaskID, error) {
	n.Status = domain.NodeStatusOffline
	n.FailedTasks += n.ActiveTasks
	n.ActiveTasks = 0
	return n.Clone(), r.releaseTasksLocked(n.ID), nil
}

func isStale(n *domain.FogNode, now time.Time, timeout time.Duration) bool {
	return n.Status != domain.NodeStatusOffline && now.Sub(n.LastHeartbeat) > timeout
}

func (r *MemoryRegistry) Get(id domain.NodeID) (*domain.FogNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n.Clone(), nil
}

// List returns copies of the matching nodes in registration order.
func (r *MemoryRegistry) List(filter Filter) []*domain.FogNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(filter)
}

func (r *MemoryRegistry) listLocked(filter Filter) []*domain.FogNode {
	out := make([]*domain.FogNode, 0, len(r.order))
	for _, id := range r.order {
		if n := r.nodes[id]; filter.matches(n) {
			out = append(out, n.Clone())
		}
	}
	return out
}

func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// Stale returns the non-offline nodes whose last heartbeat is older than
// timeout.
func (r *MemoryRegistry) Stale(now time.Time, timeout time.Duration) []domain.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []domain.NodeID
	for _, id := range r.order {
		if isStale(r.nodes[id], now, timeout) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Place hands pick a copy of the fleet and, if it succeeds, assigns task to
// the chosen node: the task is marked assigned, the node's active_tasks is
// incremented and its status becomes busy. Nothing is mutated on error or
// when ctx is already done.
func (r *MemoryRegistry) Place(ctx context.Context, task *domain.Task, pick PickFunc) (*domain.FogNode, error) {
	if task == nil || task.ID == "" {
		return nil, fmt.Errorf("%w: missing task_id", ErrInvalidTask)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, assigned := r.tasks[task.ID]; assigned {
		return nil, fmt.Errorf("%w: %s already assigned", ErrInvalidTask, task.ID)
	}

	chosen, err := pick(r.listLocked(Filter{}))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, ok := r.nodes[chosen.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, chosen.ID)
	}

	n.ActiveTasks++
	n.Status = domain.NodeStatusBusy
	task.AssignedNode = n.ID
	task.Status = domain.TaskStatusAssigned
	r.tasks[task.ID] = n.ID
	return n.Clone(), nil
}

// CompleteTask releases the slot taken by a placement. A busy node whose last
// task finishes returns to active.
func (r *MemoryRegistry) CompleteTask(id domain.TaskID, success bool) (*domain.FogNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodeID, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	delete(r.tasks, id)

	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	if n.ActiveTasks > 0 {
		n.ActiveTasks--
	}
	if success {
		n.CompletedTasks++
	} else {
		n.FailedTasks++
	}
	if n.ActiveTasks == 0 && n.Status == domain.NodeStatusBusy {
		n.Status = domain.NodeStatusActive
	}
	return n.Clone(), nil
}

func (r *MemoryRegistry) TaskNode(id domain.TaskID) (domain.NodeID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nodeID, ok := r.tasks[id]
	return nodeID, ok
}

func (r *MemoryRegistry) TaskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
