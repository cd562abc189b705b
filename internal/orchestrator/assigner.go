// Package orchestrator implements the scheduling loop, device assignment,
// and cancellation management described in spec.md §4.5/§4.6. Grounded on
// the teacher's orchestrator service (dag_engine.go, cancellation.go,
// main.go) and on the device-assignment strategies of
// original_source/galaxy/constellation/orchestrator/constellation_manager.py.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/swarmguard/constellation/internal/cerrors"
	"github.com/swarmguard/constellation/internal/dag"
	"github.com/swarmguard/constellation/internal/devices"
	"github.com/swarmguard/constellation/internal/resilience"
)

// Strategy is the caller-selectable device assignment policy.
type Strategy string

const (
	RoundRobin      Strategy = "round_robin"
	CapabilityMatch Strategy = "capability_match"
	LoadBalance     Strategy = "load_balance"
)

// DeviceAssigner assigns devices to tasks per spec.md §4.6, and tracks
// per-constellation load for the supplemented Utilization/Reassign helpers
// from original_source's ConstellationManager.
type DeviceAssigner struct {
	collaborator devices.Collaborator

	// load[constellationID][deviceID] = number of tasks currently assigned
	load map[string]map[string]int
}

// NewDeviceAssigner wraps a Collaborator for device listing and load
// tracking.
func NewDeviceAssigner(collaborator devices.Collaborator) *DeviceAssigner {
	return &DeviceAssigner{
		collaborator: collaborator,
		load:         make(map[string]map[string]int),
	}
}

// AssignAll computes a task_id -> device_id assignment for every task in c
// that does not already carry a target device, honoring preferences,
// strategy, and preferring the task's DeviceType for capability_match.
func (a *DeviceAssigner) AssignAll(ctx context.Context, constellationID string, c *dag.Constellation, strategy Strategy, preferences map[string]string) (map[string]string, error) {
	// A device-list call is transient-failure-prone (the transport may be a
	// flaky RPC/HTTP client), so it goes through the resilience.Retry
	// backoff primitive.
	available, err := resilience.Retry(ctx, 3, 100*time.Millisecond, func() ([]devices.Info, error) {
		return a.collaborator.ListConnected(ctx)
	})
	if err != nil {
		return nil, cerrors.Transport(err)
	}
	if len(available) == 0 {
		return nil, cerrors.Assignment("no connected devices available")
	}
	sort.Slice(available, func(i, j int) bool { return available[i].ID < available[j].ID })

	var tasks []*dag.Task
	for _, t := range c.Tasks() {
		if t.AssignedTo == "" {
			tasks = append(tasks, t)
		}
	}
	var assignments map[string]string
	switch strategy {
	case RoundRobin, "":
		assignments = a.assignRoundRobin(tasks, available, preferences)
	case CapabilityMatch:
		assignments = a.assignCapabilityMatch(tasks, available, preferences)
	case LoadBalance:
		assignments = a.assignLoadBalance(constellationID, tasks, available, preferences)
	default:
		return nil, cerrors.Assignment("unknown assignment strategy " + string(strategy))
	}

	for taskID, deviceID := range assignments {
		a.recordLoad(constellationID, deviceID, 1)
		_ = taskID
	}
	return assignments, nil
}

func isConnected(available []devices.Info, deviceID string) bool {
	for _, d := range available {
		if d.ID == deviceID {
			return true
		}
	}
	return false
}

func (a *DeviceAssigner) assignRoundRobin(tasks []*dag.Task, available []devices.Info, preferences map[string]string) map[string]string {
	assignments := make(map[string]string, len(tasks))
	idx := 0
	for _, t := range tasks {
		if pref, ok := preferences[t.ID]; ok && isConnected(available, pref) {
			assignments[t.ID] = pref
			continue
		}
		assignments[t.ID] = available[idx%len(available)].ID
		idx++
	}
	return assignments
}

func (a *DeviceAssigner) assignCapabilityMatch(tasks []*dag.Task, available []devices.Info, preferences map[string]string) map[string]string {
	assignments := make(map[string]string, len(tasks))
	for _, t := range tasks {
		if pref, ok := preferences[t.ID]; ok && isConnected(available, pref) {
			assignments[t.ID] = pref
			continue
		}
		var matching []devices.Info
		if t.DeviceType != "" {
			for _, d := range available {
				if d.Type == t.DeviceType {
					matching = append(matching, d)
				}
			}
		}
		if len(matching) == 0 {
			matching = available
		}
		assignments[t.ID] = matching[0].ID
	}
	return assignments
}

func (a *DeviceAssigner) assignLoadBalance(constellationID string, tasks []*dag.Task, available []devices.Info, preferences map[string]string) map[string]string {
	assignments := make(map[string]string, len(tasks))
	load := make(map[string]int, len(available))
	for _, d := range available {
		load[d.ID] = a.currentLoad(constellationID, d.ID)
	}

	for _, t := range tasks {
		if pref, ok := preferences[t.ID]; ok && isConnected(available, pref) {
			assignments[t.ID] = pref
			load[pref]++
			continue
		}
		best := available[0].ID
		for _, d := range available {
			if load[d.ID] < load[best] {
				best = d.ID
			}
		}
		assignments[t.ID] = best
		load[best]++
	}
	return assignments
}

func (a *DeviceAssigner) currentLoad(constellationID, deviceID string) int {
	if m, ok := a.load[constellationID]; ok {
		return m[deviceID]
	}
	return 0
}

func (a *DeviceAssigner) recordLoad(constellationID, deviceID string, delta int) {
	m, ok := a.load[constellationID]
	if !ok {
		m = make(map[string]int)
		a.load[constellationID] = m
	}
	m[deviceID] += delta
}

// Utilization reports the number of tasks currently assigned to each
// device within a constellation, supplemented from original_source's
// device-load bookkeeping used by the load_balance strategy.
func (a *DeviceAssigner) Utilization(constellationID string) map[string]int {
	out := make(map[string]int)
	for deviceID, n := range a.load[constellationID] {
		out[deviceID] = n
	}
	return out
}

// Reassign moves a single task's load accounting from one device to
// another, for manual reassignment via the editor.
func (a *DeviceAssigner) Reassign(constellationID, fromDevice, toDevice string) {
	a.recordLoad(constellationID, fromDevice, -1)
	a.recordLoad(constellationID, toDevice, 1)
}

// ClearAssignments drops all load accounting for a constellation, e.g.
// after it terminates.
func (a *DeviceAssigner) ClearAssignments(constellationID string) {
	delete(a.load, constellationID)
}
