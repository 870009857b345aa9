package charon

import (
	"sync"
	"time"

	"github.com/fogmesh/fogmesh/pkg/domain"
)

// CircuitBreakerState represents the state of a node's circuit.
type CircuitBreakerState int

const (
	StateClosed   CircuitBreakerState = iota // Normal operation, node selectable
	StateOpen                                // Too many failures, node filtered out
	StateHalfOpen                            // Timer elapsed, node selectable while it proves itself
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultOpenTimeout      = 60 * time.Second
)

// breakerState is the per-node bookkeeping. It is reset to zero when the
// node's circuit closes.
type breakerState struct {
	failures  int
	successes int
	openUntil time.Time // zero when not open
	halfOpen  bool
}

// BreakerSnapshot is a read-only copy of one node's breaker.
type BreakerSnapshot struct {
	NodeID    domain.NodeID       `json:"node_id"`
	State     CircuitBreakerState `json:"-"`
	StateName string              `json:"state"`
	Failures  int                 `json:"failures"`
	Successes int                 `json:"successes"`
	OpenUntil *time.Time          `json:"open_until,omitempty"`
}

// BreakerSet holds one circuit breaker per node.
//
// A node opens after failureThreshold failures and is filtered out until the
// timeout elapses. The first availability check after that moves it to
// half-open (timer and failure count cleared). successThreshold successes while
// half-open close it fully. Outside half-open any success clears the failure
// count immediately.
type BreakerSet struct {
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	now              func() time.Time

	// onChange is invoked outside the lock on every state transition
	onChange func(id domain.NodeID, state CircuitBreakerState)

	states map[domain.NodeID]*breakerState
	mu     sync.Mutex
}

// NewBreakerSet creates a breaker set. Non-positive values take the defaults.
func NewBreakerSet(failureThreshold, successThreshold int, timeout time.Duration) *BreakerSet {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if successThreshold <= 0 {
		successThreshold = DefaultSuccessThreshold
	}
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}
	return &BreakerSet{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
		states:           make(map[domain.NodeID]*breakerState),
	}
}

// SetClock replaces the time source. Intended for tests.
func (b *BreakerSet) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// OnStateChange registers a transition callback.
func (b *BreakerSet) OnStateChange(fn func(id domain.NodeID, state CircuitBreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

func (b *BreakerSet) get(id domain.NodeID) *breakerState {
	st, ok := b.states[id]
	if !ok {
		st = &breakerState{}
		b.states[id] = st
	}
	return st
}

// IsAvailable reports whether id may be selected. An expired open window
// transitions the node to half-open as a side effect.
func (b *BreakerSet) IsAvailable(id domain.NodeID) bool {
	b.mu.Lock()
	st, ok := b.states[id]
	if !ok || st.openUntil.IsZero() {
		b.mu.Unlock()
		return true
	}

	if b.now().Before(st.openUntil) {
		b.mu.Unlock()
		return false
	}

	// Timer elapsed: half-open
	st.openUntil = time.Time{}
	st.failures = 0
	st.successes = 0
	st.halfOpen = true
	notify := b.onChange
	b.mu.Unlock()

	if notify != nil {
		notify(id, StateHalfOpen)
	}
	return true
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (b *BreakerSet) RecordFailure(id domain.NodeID) {
	b.mu.Lock()
	st := b.get(id)
	st.failures++
	st.successes = 0

	opened := false
	if st.failures >= b.failureThreshold {
		st.openUntil = b.now().Add(b.timeout)
		st.halfOpen = false
		opened = true
	}
	notify := b.onChange
	b.mu.Unlock()

	if opened && notify != nil {
		notify(id, StateOpen)
	}
}

// RecordSuccess counts a success. It returns true when this success closed
// a half-open circuit.
func (b *BreakerSet) RecordSuccess(id domain.NodeID) bool {
	b.mu.Lock()
	st := b.get(id)
	st.failures = 0

	closed := false
	if st.halfOpen {
		st.successes++
		if st.successes >= b.successThreshold {
			*st = breakerState{}
			closed = true
		}
	}
	notify := b.onChange
	b.mu.Unlock()

	if closed && notify != nil {
		notify(id, StateClosed)
	}
	return closed
}

// State returns the current state without triggering transitions.
func (b *BreakerSet) State(id domain.NodeID) CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(id)
}

func (b *BreakerSet) stateLocked(id domain.NodeID) CircuitBreakerState {
	st, ok := b.states[id]
	switch {
	case !ok:
		return StateClosed
	case !st.openUntil.IsZero():
		// an elapsed window stays "open" until the next availability check
		return StateOpen
	case st.halfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Failures returns the current failure count.
func (b *BreakerSet) Failures(id domain.NodeID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.states[id]; ok {
		return st.failures
	}
	return 0
}

// Snapshot returns a copy of id's breaker.
func (b *BreakerSet) Snapshot(id domain.NodeID) BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked(id)
	snap := BreakerSnapshot{NodeID: id, State: state, StateName: state.String()}
	if st, ok := b.states[id]; ok {
		snap.Failures = st.failures
		snap.Successes = st.successes
		if !st.openUntil.IsZero() {
			until := st.openUntil
			snap.OpenUntil = &until
		}
	}
	return snap
}

// OpenCount returns how many circuits are currently open.
func (b *BreakerSet) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	n := 0
	for _, st := range b.states {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			n++
		}
	}
	return n
}

// Reset closes id's circuit and clears its counters.
func (b *BreakerSet) Reset(id domain.NodeID) {
	b.mu.Lock()
	delete(b.states, id)
	b.mu.Unlock()
}
