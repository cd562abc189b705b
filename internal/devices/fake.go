package devices

import (
	"context"
	"sync"
	"time"

	"github.com/swarmguard/constellation/internal/cerrors"
)

// TaskHandler computes the result of running a task on a device. Tests
// supply one to script success/failure/latency per task name.
type TaskHandler func(taskID string, payload map[string]interface{}) (interface{}, error)

// FakeCollaborator is an in-memory Collaborator for tests and local runs,
// grounded on the teacher's in-process executor goroutines in
// task_executor.go, minus the HTTP round trip.
type FakeCollaborator struct {
	mu        sync.Mutex
	devices   map[string]Info
	handler   TaskHandler
	cancelled map[string]bool
	inflight  map[string]chan struct{}
}

// NewFakeCollaborator builds a fake with the given connected devices and a
// default handler that always succeeds with a nil result.
func NewFakeCollaborator(devs []Info) *FakeCollaborator {
	f := &FakeCollaborator{
		devices:   make(map[string]Info, len(devs)),
		cancelled: make(map[string]bool),
		inflight:  make(map[string]chan struct{}),
		handler: func(string, map[string]interface{}) (interface{}, error) {
			return nil, nil
		},
	}
	for _, d := range devs {
		f.devices[d.ID] = d
	}
	return f
}

// SetHandler installs a custom per-task result/error producer.
func (f *FakeCollaborator) SetHandler(h TaskHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *FakeCollaborator) ListConnected(ctx context.Context) ([]Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Info, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	return out, nil
}

func (f *FakeCollaborator) GetInfo(ctx context.Context, deviceID string) (Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok {
		return Info{}, cerrors.NotFound("device", deviceID)
	}
	return d, nil
}

func (f *FakeCollaborator) AssignTask(ctx context.Context, taskID, deviceID, description string, payload map[string]interface{}, timeout time.Duration) (ExecutionResult, error) {
	f.mu.Lock()
	if _, ok := f.devices[deviceID]; !ok {
		f.mu.Unlock()
		return ExecutionResult{}, cerrors.NotFound("device", deviceID)
	}
	done := make(chan struct{})
	f.inflight[taskID] = done
	handler := f.handler
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.inflight, taskID)
		f.mu.Unlock()
	}()

	resultCh := make(chan ExecutionResult, 1)
	go func() {
		result, err := handler(taskID, payload)
		if err != nil {
			resultCh <- ExecutionResult{Success: false, Error: err.Error()}
			return
		}
		resultCh <- ExecutionResult{Success: true, Result: result}
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-resultCh:
		return r, nil
	case <-done:
		return ExecutionResult{Success: false, Error: "cancelled"}, cerrors.Cancelled("task " + taskID + " cancelled")
	case <-timeoutCh:
		return ExecutionResult{Success: false, TimedOut: true, Error: "timeout"}, cerrors.Timeout("task " + taskID + " exceeded its timeout")
	case <-ctx.Done():
		return ExecutionResult{Success: false, Error: ctx.Err().Error()}, cerrors.Cancelled("context cancelled")
	}
}

func (f *FakeCollaborator) CancelTask(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[taskID] = true
	if done, ok := f.inflight[taskID]; ok {
		close(done)
		delete(f.inflight, taskID)
	}
	return nil
}

// AddDevice registers an additional connected device, for tests that grow
// the pool mid-run.
func (f *FakeCollaborator) AddDevice(info Info) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[info.ID] = info
}
