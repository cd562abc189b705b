package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swarmguard/constellation/internal/dag"
)

func TestAssignTaskSuccess(t *testing.T) {
	f := NewFakeCollaborator([]Info{{ID: "d1", Type: dag.DeviceLinux}})
	f.SetHandler(func(taskID string, payload map[string]interface{}) (interface{}, error) {
		return "ok", nil
	})
	res, err := f.AssignTask(context.Background(), "task_001", "d1", "desc", nil, time.Second)
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if !res.Success || res.Result != "ok" {
		t.Fatalf("expected success result 'ok', got %+v", res)
	}
}

func TestAssignTaskFailure(t *testing.T) {
	f := NewFakeCollaborator([]Info{{ID: "d1", Type: dag.DeviceLinux}})
	f.SetHandler(func(taskID string, payload map[string]interface{}) (interface{}, error) {
		return nil, errors.New("boom")
	})
	res, err := f.AssignTask(context.Background(), "task_001", "d1", "desc", nil, time.Second)
	if err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if res.Success || res.Error != "boom" {
		t.Fatalf("expected failure with 'boom', got %+v", res)
	}
}

func TestAssignTaskTimeout(t *testing.T) {
	f := NewFakeCollaborator([]Info{{ID: "d1", Type: dag.DeviceLinux}})
	f.SetHandler(func(taskID string, payload map[string]interface{}) (interface{}, error) {
		time.Sleep(50 * time.Millisecond)
		return "late", nil
	})
	_, err := f.AssignTask(context.Background(), "task_001", "d1", "desc", nil, 5*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestCancelTaskUnblocksAssign(t *testing.T) {
	f := NewFakeCollaborator([]Info{{ID: "d1", Type: dag.DeviceLinux}})
	started := make(chan struct{})
	f.SetHandler(func(taskID string, payload map[string]interface{}) (interface{}, error) {
		close(started)
		time.Sleep(time.Second)
		return "late", nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := f.AssignTask(context.Background(), "task_001", "d1", "desc", nil, time.Minute)
		errCh <- err
	}()

	<-started
	if err := f.CancelTask(context.Background(), "task_001"); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatalf("AssignTask did not unblock after cancellation")
	}
}

func TestAssignTaskUnknownDevice(t *testing.T) {
	f := NewFakeCollaborator(nil)
	_, err := f.AssignTask(context.Background(), "task_001", "missing", "desc", nil, time.Second)
	if err == nil {
		t.Fatalf("expected not-found error for unknown device")
	}
}
