// Package devices defines the narrow Device Collaborator contract the
// orchestrator dispatches task executions through, per spec.md §4.6, and a
// transport-agnostic in-memory implementation for tests and local runs.
// Grounded on the teacher's task_executor.go, which plays the same role
// (transport to an external worker) behind an HTTP client; generalized
// here into an interface so the orchestrator never depends on a concrete
// transport.
package devices

import (
	"context"
	"time"

	"github.com/swarmguard/constellation/internal/dag"
)

// Info describes a connected device as reported by ListConnected/GetInfo.
type Info struct {
	ID           string
	Type         dag.DeviceType
	Capabilities []string
	Metadata     map[string]interface{}
}

// ExecutionResult is the outcome of a single AssignTask call.
type ExecutionResult struct {
	Success bool
	Result  interface{}
	Error   string
	TimedOut bool
}

// Collaborator is the transport contract the orchestrator depends on. It
// never appears with a concrete transport in this module: callers own
// wiring a real RPC/HTTP-backed implementation; FakeCollaborator below
// exists for tests and local development.
type Collaborator interface {
	ListConnected(ctx context.Context) ([]Info, error)
	GetInfo(ctx context.Context, deviceID string) (Info, error)
	AssignTask(ctx context.Context, taskID, deviceID, description string, payload map[string]interface{}, timeout time.Duration) (ExecutionResult, error)
	CancelTask(ctx context.Context, taskID string) error
}
