package domain

import (
	"encoding/json"
	"time"
)

// IDs

type NodeID string
type TaskID string

// Node classification

type NodeType string

const (
	NodeTypeEdgeDevice  NodeType = "edge_device"
	NodeTypeRelayNode   NodeType = "relay_node"
	NodeTypeMixnode     NodeType = "mixnode"
	NodeTypeComputeNode NodeType = "compute_node"
	NodeTypeGateway     NodeType = "gateway"
)

// NodeTypes lists every node type in declaration order.
var NodeTypes = []NodeType{
	NodeTypeEdgeDevice,
	NodeTypeRelayNode,
	NodeTypeMixnode,
	NodeTypeComputeNode,
	NodeTypeGateway,
}

func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

type NodeStatus string

const (
	NodeStatusActive      NodeStatus = "active"
	NodeStatusIdle        NodeStatus = "idle"
	NodeStatusBusy        NodeStatus = "busy"
	NodeStatusOffline     NodeStatus = "offline"
	NodeStatusMaintenance NodeStatus = "maintenance"
)

// NodeStatuses lists every node status in declaration order.
var NodeStatuses = []NodeStatus{
	NodeStatusActive,
	NodeStatusIdle,
	NodeStatusBusy,
	NodeStatusOffline,
	NodeStatusMaintenance,
}

func (s NodeStatus) Valid() bool {
	for _, known := range NodeStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Routable reports whether a node in this status may receive new tasks.
func (s NodeStatus) Routable() bool {
	return s == NodeStatusActive || s == NodeStatusIdle
}

// FogNode is one member of the fleet.
type FogNode struct {
	ID   NodeID   `json:"node_id" yaml:"node_id"`
	Type NodeType `json:"node_type" yaml:"node_type"`

	// Declared capacity. Never adjusted by the coordinator.
	CPUCores     int  `json:"cpu_cores" yaml:"cpu_cores"`
	MemoryMB     int  `json:"memory_mb" yaml:"memory_mb"`
	StorageMB    int  `json:"storage_mb" yaml:"storage_mb"`
	GPUAvailable bool `json:"gpu_available" yaml:"gpu_available"`

	// Live metrics
	CPUUsagePercent    float64 `json:"cpu_usage_percent" yaml:"cpu_usage_percent"`
	MemoryUsagePercent float64 `json:"memory_usage_percent" yaml:"memory_usage_percent"`
	ActiveTasks        int     `json:"active_tasks" yaml:"active_tasks"`
	CompletedTasks     int     `json:"completed_tasks" yaml:"completed_tasks"`
	FailedTasks        int     `json:"failed_tasks" yaml:"failed_tasks"`

	Status NodeStatus `json:"status" yaml:"status"`

	ReputationScore float64 `json:"reputation_score" yaml:"reputation_score"`
	UptimePercent   float64 `json:"uptime_percent" yaml:"uptime_percent"`

	// Location, only consulted by proximity routing
	Region    string   `json:"region,omitempty" yaml:"region,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`

	SupportsOnionRouting      bool `json:"supports_onion_routing" yaml:"supports_onion_routing"`
	CircuitParticipationCount int  `json:"circuit_participation_count" yaml:"circuit_participation_count"`

	RegisteredAt  time.Time `json:"registered_at" yaml:"registered_at,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat" yaml:"last_heartbeat,omitempty"`
}

// Clone returns a deep copy so callers never share state with the registry.
func (n *FogNode) Clone() *FogNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.Latitude != nil {
		lat := *n.Latitude
		c.Latitude = &lat
	}
	if n.Longitude != nil {
		lon := *n.Longitude
		c.Longitude = &lon
	}
	return &c
}

// UsedCPUCores is cores × usage / 100, floored.
func (n *FogNode) UsedCPUCores() int {
	return int(float64(n.CPUCores) * n.CPUUsagePercent / 100)
}

// AvailableCPUCores returns declared cores minus the cores in use.
func (n *FogNode) AvailableCPUCores() int {
	return n.CPUCores - n.UsedCPUCores()
}

// UsedMemoryMB is memory × usage / 100, floored.
func (n *FogNode) UsedMemoryMB() int {
	return int(float64(n.MemoryMB) * n.MemoryUsagePercent / 100)
}

// AvailableMemoryMB returns declared memory minus the memory in use.
func (n *FogNode) AvailableMemoryMB() int {
	return n.MemoryMB - n.UsedMemoryMB()
}

// AvailableCPUFraction is the idle share of the CPU in [0, 1].
func (n *FogNode) AvailableCPUFraction() float64 {
	f := (100 - n.CPUUsagePercent) / 100
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Fits reports whether the declared capacity covers the task's resource ask.
func (n *FogNode) Fits(t *Task) bool {
	if n.CPUCores < t.CPURequired || n.MemoryMB < t.MemoryRequired {
		return false
	}
	if t.GPURequired && !n.GPUAvailable {
		return false
	}
	return true
}

// NodeMetrics is a partial live-metrics update. Nil fields are left untouched.
type NodeMetrics struct {
	CPUUsagePercent           *float64 `json:"cpu_usage_percent,omitempty"`
	MemoryUsagePercent        *float64 `json:"memory_usage_percent,omitempty"`
	UptimePercent             *float64 `json:"uptime_percent,omitempty"`
	ReputationScore           *float64 `json:"reputation_score,omitempty"`
	CircuitParticipationCount *int     `json:"circuit_participation_count,omitempty"`
}

// Apply copies the set fields onto n, clamping percentages and reputation.
func (m NodeMetrics) Apply(n *FogNode) {
	if m.CPUUsagePercent != nil {
		n.CPUUsagePercent = clamp(*m.CPUUsagePercent, 0, 100)
	}
	if m.MemoryUsagePercent != nil {
		n.MemoryUsagePercent = clamp(*m.MemoryUsagePercent, 0, 100)
	}
	if m.UptimePercent != nil {
		n.UptimePercent = clamp(*m.UptimePercent, 0, 100)
	}
	if m.ReputationScore != nil {
		n.ReputationScore = clamp(*m.ReputationScore, 0, 1)
	}
	if m.CircuitParticipationCount != nil && *m.CircuitParticipationCount >= 0 {
		n.CircuitParticipationCount = *m.CircuitParticipationCount
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Tasks

type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusAssigned TaskStatus = "assigned"
)

// Task is an ephemeral placement request.
type Task struct {
	ID       TaskID `json:"task_id"`
	Type     string `json:"task_type"`
	Priority int    `json:"priority"` // 1 highest, 10 lowest; advisory only

	CPURequired     int  `json:"cpu_required"`
	MemoryRequired  int  `json:"memory_required"`
	StorageRequired int  `json:"storage_required"`
	GPURequired     bool `json:"gpu_required"`

	PrivacyLevel        string `json:"privacy_level,omitempty"`
	RequireOnionCircuit bool   `json:"require_onion_circuit"`

	// NodeSelector is an optional CEL expression evaluated against each candidate node.
	NodeSelector string `json:"node_selector,omitempty"`

	// Data is forwarded to the execution layer untouched.
	Data json.RawMessage `json:"task_data,omitempty"`

	AssignedNode NodeID     `json:"assigned_node,omitempty"`
	Status       TaskStatus `json:"status"`
}

// PreferredRegion extracts task_data["preferred_region"] without interpreting
// anything else in the payload. Malformed payloads yield "".
func (t *Task) PreferredRegion() string {
	if len(t.Data) == 0 {
		return ""
	}
	var hint struct {
		PreferredRegion string `json:"preferred_region"`
	}
	if err := json.Unmarshal(t.Data, &hint); err != nil {
		return ""
	}
	return hint.PreferredRegion
}

// Topology

// NetworkTopology is an immutable point-in-time aggregate of the fleet.
type NetworkTopology struct {
	TotalNodes       int `json:"total_nodes"`
	ActiveNodes      int `json:"active_nodes"`
	IdleNodes        int `json:"idle_nodes"`
	BusyNodes        int `json:"busy_nodes"`
	OfflineNodes     int `json:"offline_nodes"`
	MaintenanceNodes int `json:"maintenance_nodes"`

	NodesByType map[NodeType]int `json:"nodes_by_type"`

	TotalCPUCores     int `json:"total_cpu_cores"`
	AvailableCPUCores int `json:"available_cpu_cores"`
	TotalMemoryMB     int `json:"total_memory_mb"`
	AvailableMemoryMB int `json:"available_memory_mb"`

	RunningTasks int       `json:"running_tasks"`
	SnapshotTime time.Time `json:"snapshot_time"`
}

// Routing strategies used by the basic router.

type RoutingStrategy string

const (
	StrategyRoundRobin     RoutingStrategy = "round_robin"
	StrategyLeastLoaded    RoutingStrategy = "least_loaded"
	StrategyAffinityBased  RoutingStrategy = "affinity_based"
	StrategyProximityBased RoutingStrategy = "proximity_based"
	StrategyPrivacyAware   RoutingStrategy = "privacy_aware"
)

// RoutingStrategies lists every routing strategy.
var RoutingStrategies = []RoutingStrategy{
	StrategyRoundRobin,
	StrategyLeastLoaded,
	StrategyAffinityBased,
	StrategyProximityBased,
	StrategyPrivacyAware,
}
