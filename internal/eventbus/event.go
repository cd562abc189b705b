// Package eventbus is a process-local publish/subscribe bus used to notify
// interested parties of constellation and task lifecycle transitions, per
// spec.md §5. Grounded on the teacher's cancellation notification fan-out in
// cancellation.go, generalized into a standalone pub/sub primitive.
package eventbus

import "time"

// Type is the closed set of event kinds the bus carries.
type Type string

const (
	ConstellationStarted  Type = "CONSTELLATION_STARTED"
	ConstellationCompleted Type = "CONSTELLATION_COMPLETED"
	ConstellationFailed   Type = "CONSTELLATION_FAILED"
	ConstellationCancelled Type = "CONSTELLATION_CANCELLED"
	ConstellationModified Type = "CONSTELLATION_MODIFIED"

	TaskReady     Type = "TASK_READY"
	TaskStarted   Type = "TASK_STARTED"
	TaskCompleted Type = "TASK_COMPLETED"
	TaskFailed    Type = "TASK_FAILED"
	TaskCancelled Type = "TASK_CANCELLED"
)

// Event is the common envelope for every message on the bus.
type Event struct {
	Type      Type
	SourceID  string // constellation ID or task ID, depending on Type
	Timestamp time.Time
	Data      map[string]interface{}
}
