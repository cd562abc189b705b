package dag

import (
	"time"

	"github.com/swarmguard/constellation/internal/cerrors"
)

// StartTask transitions a PENDING/WAITING_DEPENDENCY task to RUNNING and
// stamps its start time. Per spec.md §3's invariants, only a pending task
// may start.
func (c *Constellation) StartTask(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return cerrors.NotFound("task", id)
	}
	if t.Status != StatusPending && t.Status != StatusWaitingDependency {
		return cerrors.State("cannot start task " + id + " in status " + string(t.Status))
	}
	t.Status = StatusRunning
	now := time.Now()
	t.StartedAt = &now
	t.CompletedAt = nil
	return nil
}

// CompleteTask transitions a RUNNING task to COMPLETED or FAILED, stamping
// its end time and recording the result or error.
func (c *Constellation) CompleteTask(id string, success bool, result interface{}, errMessage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return cerrors.NotFound("task", id)
	}
	if t.Status != StatusRunning {
		return cerrors.State("cannot complete task " + id + " in status " + string(t.Status))
	}
	now := time.Now()
	t.CompletedAt = &now
	if success {
		t.Status = StatusCompleted
		t.Result = result
		t.ErrorMessage = ""
	} else {
		t.Status = StatusFailed
		t.ErrorMessage = errMessage
	}
	// Clear the denormalized dependency entry on every dependent whose
	// incoming edge from id just became satisfied, so Dependencies never
	// holds an ID whose edge is already resolved.
	for _, eid := range c.outgoing[id] {
		e := c.edges[eid]
		if !e.Satisfied(t, c.Predicates) {
			continue
		}
		if down, ok := c.tasks[e.To]; ok {
			down.Dependencies = removeString(down.Dependencies, id)
		}
	}
	return nil
}

// RetryTask resets a FAILED task back to PENDING, incrementing its retry
// counter and clearing the attempt's timestamps — each retry attempt
// stamps its own start/end, so Duration() always reflects only the final
// attempt, per the resolved Open Question in spec.md §9.
func (c *Constellation) RetryTask(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return cerrors.NotFound("task", id)
	}
	if t.Status != StatusFailed {
		return cerrors.State("cannot retry task " + id + " in status " + string(t.Status))
	}
	if t.RetryCount >= t.MaxRetries {
		return cerrors.State("task " + id + " has exhausted its retry budget")
	}
	t.RetryCount++
	t.Status = StatusPending
	t.StartedAt = nil
	t.CompletedAt = nil
	t.ErrorMessage = ""
	return nil
}

// CancelTask transitions any non-terminal task to CANCELLED.
func (c *Constellation) CancelTask(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return cerrors.NotFound("task", id)
	}
	if t.Status.Terminal() {
		return nil
	}
	t.Status = StatusCancelled
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// AssignDevice sets a task's target device without otherwise disturbing
// its state. Editor operations refuse this on a RUNNING task, per
// spec.md §3's field-mutation invariant.
func (c *Constellation) AssignDevice(id, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[id]
	if !ok {
		return cerrors.NotFound("task", id)
	}
	if t.Status == StatusRunning {
		return cerrors.Invariant("cannot change device assignment while task " + id + " is running")
	}
	t.AssignedTo = deviceID
	return nil
}

// RunningTaskIDs returns the IDs of every task currently RUNNING.
func (c *Constellation) RunningTaskIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, id := range c.insertOrder {
		if c.tasks[id].Status == StatusRunning {
			out = append(out, id)
		}
	}
	return out
}

// AllTerminal reports whether every task has reached a terminal status.
func (c *Constellation) AllTerminal() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}
