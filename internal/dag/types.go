// Package dag implements the constellation DAG model: tasks, dependency
// edges, invariants, and the topological computations of spec.md §3/§4.1.
// Grounded on the teacher's dagNode/dag types in dag_engine.go, generalized
// from a build-once workflow graph to the mutable constellation of
// original_source/galaxy/constellation/task_constellation.py.
package dag

import "strings"

// TaskStatus is the execution status of a Task.
type TaskStatus string

const (
	StatusPending            TaskStatus = "PENDING"
	StatusRunning            TaskStatus = "RUNNING"
	StatusCompleted          TaskStatus = "COMPLETED"
	StatusFailed             TaskStatus = "FAILED"
	StatusCancelled          TaskStatus = "CANCELLED"
	StatusWaitingDependency  TaskStatus = "WAITING_DEPENDENCY"
)

// Terminal reports whether the status is one of the terminal statuses.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch strings.ToUpper(s) {
	case string(StatusPending):
		return StatusPending, true
	case string(StatusRunning):
		return StatusRunning, true
	case string(StatusCompleted):
		return StatusCompleted, true
	case string(StatusFailed):
		return StatusFailed, true
	case string(StatusCancelled):
		return StatusCancelled, true
	case string(StatusWaitingDependency):
		return StatusWaitingDependency, true
	default:
		return "", false
	}
}

// Priority is the scheduling priority of a task.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// ParsePriority accepts either the canonical name (case-insensitive) or the
// integer form, per spec.md §6.1's "also accepts 1..4".
func ParsePriority(v interface{}) (Priority, bool) {
	switch t := v.(type) {
	case Priority:
		return t, true
	case int:
		return priorityFromInt(t)
	case int64:
		return priorityFromInt(int(t))
	case float64:
		return priorityFromInt(int(t))
	case string:
		switch strings.ToUpper(t) {
		case "LOW":
			return PriorityLow, true
		case "MEDIUM":
			return PriorityMedium, true
		case "HIGH":
			return PriorityHigh, true
		case "CRITICAL":
			return PriorityCritical, true
		default:
			return 0, false
		}
	default:
		return 0, false
	}
}

func priorityFromInt(n int) (Priority, bool) {
	switch n {
	case 1, 2, 3, 4:
		return Priority(n), true
	default:
		return 0, false
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// DeviceType is the closed set of routing tags a task may carry.
type DeviceType string

const (
	DeviceWindows DeviceType = "WINDOWS"
	DeviceMacOS   DeviceType = "MACOS"
	DeviceLinux   DeviceType = "LINUX"
	DeviceAndroid DeviceType = "ANDROID"
	DeviceIOS     DeviceType = "IOS"
	DeviceWeb     DeviceType = "WEB"
	DeviceAPI     DeviceType = "API"
)

func ParseDeviceType(s string) (DeviceType, bool) {
	switch strings.ToUpper(s) {
	case string(DeviceWindows):
		return DeviceWindows, true
	case string(DeviceMacOS):
		return DeviceMacOS, true
	case string(DeviceLinux):
		return DeviceLinux, true
	case string(DeviceAndroid):
		return DeviceAndroid, true
	case string(DeviceIOS):
		return DeviceIOS, true
	case string(DeviceWeb):
		return DeviceWeb, true
	case string(DeviceAPI):
		return DeviceAPI, true
	default:
		return "", false
	}
}

// EdgeKind is the satisfaction rule carried by a dependency edge.
type EdgeKind string

const (
	EdgeUnconditional EdgeKind = "UNCONDITIONAL"
	EdgeSuccessOnly   EdgeKind = "SUCCESS_ONLY"
	EdgeCompletionOnly EdgeKind = "COMPLETION_ONLY"
	EdgeConditional   EdgeKind = "CONDITIONAL"
)

func ParseEdgeKind(s string) (EdgeKind, bool) {
	switch strings.ToUpper(s) {
	case string(EdgeUnconditional):
		return EdgeUnconditional, true
	case string(EdgeSuccessOnly):
		return EdgeSuccessOnly, true
	case string(EdgeCompletionOnly):
		return EdgeCompletionOnly, true
	case string(EdgeConditional):
		return EdgeConditional, true
	default:
		return "", false
	}
}

// ConstellationState is the derived lifecycle state of a Constellation.
type ConstellationState string

const (
	StateCreated         ConstellationState = "CREATED"
	StateReady           ConstellationState = "READY"
	StateExecuting       ConstellationState = "EXECUTING"
	StateCompleted       ConstellationState = "COMPLETED"
	StateFailed          ConstellationState = "FAILED"
	StatePartiallyFailed ConstellationState = "PARTIALLY_FAILED"
	StateCancelled       ConstellationState = "CANCELLED"
)
