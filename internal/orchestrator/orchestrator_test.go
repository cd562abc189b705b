package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/swarmguard/constellation/internal/dag"
	"github.com/swarmguard/constellation/internal/devices"
	"github.com/swarmguard/constellation/internal/eventbus"
	csync "github.com/swarmguard/constellation/internal/sync"
)

func testOrchestrator(collab devices.Collaborator) (*Orchestrator, *eventbus.Bus) {
	bus := eventbus.New()
	sync := csync.New(50 * time.Millisecond)
	meter := noopmetric.MeterProvider{}.Meter("test")
	return New(bus, sync, collab, meter), bus
}

func collectEvents(bus *eventbus.Bus) (func() []eventbus.Event, func()) {
	var mu chanMutex
	var events []eventbus.Event
	id := bus.Subscribe(func(e eventbus.Event) {
		mu.lock()
		events = append(events, e)
		mu.unlock()
	})
	get := func() []eventbus.Event {
		mu.lock()
		defer mu.unlock()
		out := make([]eventbus.Event, len(events))
		copy(out, events)
		return out
	}
	return get, func() { bus.Unsubscribe(id) }
}

// chanMutex is a trivial mutex built on a channel, avoiding an extra import.
type chanMutex chan struct{}

func (m *chanMutex) lock() {
	if *m == nil {
		*m = make(chan struct{}, 1)
	}
	*m <- struct{}{}
}

func (m *chanMutex) unlock() { <-*m }

func buildLinearChain(t *testing.T) *dag.Constellation {
	t.Helper()
	ids := dag.NewIDManager()
	c := dag.New("linear", ids)
	a := &dag.Task{ID: "a", Name: "a", MaxRetries: 0}
	b := &dag.Task{ID: "b", Name: "b", MaxRetries: 0}
	if _, err := c.AddTask(a); err != nil {
		t.Fatalf("AddTask a: %v", err)
	}
	if _, err := c.AddTask(b); err != nil {
		t.Fatalf("AddTask b: %v", err)
	}
	if _, err := c.AddDependency("a", "b", dag.EdgeUnconditional, ""); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	return c
}

func buildDiamond(t *testing.T) *dag.Constellation {
	t.Helper()
	ids := dag.NewIDManager()
	c := dag.New("diamond", ids)
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := c.AddTask(&dag.Task{ID: id, Name: id}); err != nil {
			t.Fatalf("AddTask %s: %v", id, err)
		}
	}
	for _, e := range [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}} {
		if _, err := c.AddDependency(e[0], e[1], dag.EdgeUnconditional, ""); err != nil {
			t.Fatalf("AddDependency %v: %v", e, err)
		}
	}
	return c
}

// S1: linear chain success.
func TestExecuteLinearChainSucceeds(t *testing.T) {
	c := buildLinearChain(t)
	collab := devices.NewFakeCollaborator([]devices.Info{{ID: "dev1", Type: dag.DeviceLinux}})
	orch, _ := testOrchestrator(collab)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := orch.Execute(ctx, c, Options{MaxParallel: 2})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalState != dag.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.FinalState)
	}
}

// S2: diamond fan-out/fan-in (b and c both depend on a, d on both) runs
// every task to completion; whether b and c overlap in time is not checked.
func TestExecuteDiamondParallelism(t *testing.T) {
	c := buildDiamond(t)
	collab := devices.NewFakeCollaborator([]devices.Info{{ID: "dev1"}, {ID: "dev2"}})
	orch, _ := testOrchestrator(collab)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := orch.Execute(ctx, c, Options{MaxParallel: 4})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalState != dag.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.FinalState)
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		task, err := c.Task(id)
		if err != nil {
			t.Fatalf("Task(%s): %v", id, err)
		}
		if task.Status != dag.StatusCompleted {
			t.Fatalf("task %s expected COMPLETED, got %s", id, task.Status)
		}
	}
}

// S3: a failing task with retry budget eventually succeeds.
func TestExecuteRetriesThenSucceeds(t *testing.T) {
	ids := dag.NewIDManager()
	c := dag.New("retry", ids)
	if _, err := c.AddTask(&dag.Task{ID: "flaky", Name: "flaky", MaxRetries: 2}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	collab := devices.NewFakeCollaborator([]devices.Info{{ID: "dev1"}})
	attempts := 0
	collab.SetHandler(func(taskID string, payload map[string]interface{}) (interface{}, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})
	orch, _ := testOrchestrator(collab)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := orch.Execute(ctx, c, Options{MaxParallel: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalState != dag.StateCompleted {
		t.Fatalf("expected COMPLETED after retry, got %s", result.FinalState)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

// S3b: a failing task that exhausts its retry budget fails the constellation.
func TestExecuteFailsAfterExhaustingRetries(t *testing.T) {
	ids := dag.NewIDManager()
	c := dag.New("always-fails", ids)
	if _, err := c.AddTask(&dag.Task{ID: "bad", Name: "bad", MaxRetries: 1}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	collab := devices.NewFakeCollaborator([]devices.Info{{ID: "dev1"}})
	collab.SetHandler(func(string, map[string]interface{}) (interface{}, error) {
		return nil, errors.New("permanent")
	})
	orch, events := testOrchestrator(collab)
	getEvents, unsub := collectEvents(events)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := orch.Execute(ctx, c, Options{MaxParallel: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalState != dag.StateFailed {
		t.Fatalf("expected FAILED, got %s", result.FinalState)
	}
	var sawFailed bool
	for _, e := range getEvents() {
		if e.Type == eventbus.TaskFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Fatalf("expected a TASK_FAILED event")
	}
}

// S4: a CONDITIONAL edge gates its downstream task on a named predicate.
func TestExecuteConditionalEdgeGating(t *testing.T) {
	ids := dag.NewIDManager()
	c := dag.New("conditional", ids)
	c.Predicates.Register("upstream_even", func(t *dag.Task) bool {
		n, _ := t.Result.(int)
		return n%2 == 0
	})
	if _, err := c.AddTask(&dag.Task{ID: "source", Name: "source"}); err != nil {
		t.Fatalf("AddTask source: %v", err)
	}
	if _, err := c.AddTask(&dag.Task{ID: "gated", Name: "gated"}); err != nil {
		t.Fatalf("AddTask gated: %v", err)
	}
	if _, err := c.AddDependency("source", "gated", dag.EdgeConditional, "upstream_even"); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	collab := devices.NewFakeCollaborator([]devices.Info{{ID: "dev1"}})
	collab.SetHandler(func(taskID string, _ map[string]interface{}) (interface{}, error) {
		if taskID == "source" {
			return 4, nil
		}
		return "ran", nil
	})
	orch, _ := testOrchestrator(collab)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := orch.Execute(ctx, c, Options{MaxParallel: 2})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalState != dag.StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.FinalState)
	}
	gated, _ := c.Task("gated")
	if gated.Status != dag.StatusCompleted {
		t.Fatalf("expected gated task to run, got %s", gated.Status)
	}
}

// S5: cancelling mid-flight stops the constellation and aborts in-flight work.
func TestExecuteCancelMidFlight(t *testing.T) {
	ids := dag.NewIDManager()
	c := dag.New("cancel-me", ids)
	if _, err := c.AddTask(&dag.Task{ID: "slow", Name: "slow"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	collab := devices.NewFakeCollaborator([]devices.Info{{ID: "dev1"}})
	started := make(chan struct{})
	collab.SetHandler(func(string, map[string]interface{}) (interface{}, error) {
		close(started)
		time.Sleep(time.Second)
		return "too late", nil
	})
	orch, _ := testOrchestrator(collab)

	ctx := context.Background()
	resultCh := make(chan ConstellationResult, 1)
	go func() {
		result, err := orch.Execute(ctx, c, Options{MaxParallel: 1})
		if err != nil {
			t.Errorf("Execute: %v", err)
		}
		resultCh <- result
	}()

	<-started
	orch.Cancel(c.ID)

	select {
	case result := <-resultCh:
		if result.FinalState != dag.StateCancelled {
			t.Fatalf("expected CANCELLED, got %s", result.FinalState)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Execute did not return after cancellation")
	}
}

// A device that fails repeatedly trips its circuit breaker; once open,
// dispatch short-circuits without calling the collaborator at all.
func TestExecuteTripsCircuitBreakerOnRepeatedDeviceFailures(t *testing.T) {
	ids := dag.NewIDManager()
	c := dag.New("flaky-device", ids)
	if _, err := c.AddTask(&dag.Task{ID: "t", Name: "t", MaxRetries: 20}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	collab := devices.NewFakeCollaborator([]devices.Info{{ID: "dev1"}})
	attempts := 0
	collab.SetHandler(func(string, map[string]interface{}) (interface{}, error) {
		attempts++
		return nil, errors.New("boom")
	})
	orch, events := testOrchestrator(collab)
	getEvents, unsub := collectEvents(events)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := orch.Execute(ctx, c, Options{MaxParallel: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalState != dag.StateFailed {
		t.Fatalf("expected FAILED, got %s", result.FinalState)
	}
	if attempts >= 20 {
		t.Fatalf("expected the circuit breaker to stop dispatching well before 20 attempts, got %d", attempts)
	}

	var lastErr string
	for _, e := range getEvents() {
		if e.Type == eventbus.TaskFailed {
			lastErr, _ = e.Data["error"].(string)
		}
	}
	if lastErr == "" || !containsCircuitOpen(lastErr) {
		t.Fatalf("expected the final TASK_FAILED error to mention the open circuit, got %q", lastErr)
	}
}

func containsCircuitOpen(s string) bool {
	for i := 0; i+len("circuit open") <= len(s); i++ {
		if s[i:i+len("circuit open")] == "circuit open" {
			return true
		}
	}
	return false
}

// S6: an unknown assignment strategy is rejected before the loop starts.
func TestExecuteRejectsUnknownStrategy(t *testing.T) {
	c := buildLinearChain(t)
	collab := devices.NewFakeCollaborator([]devices.Info{{ID: "dev1"}})
	orch, _ := testOrchestrator(collab)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := orch.Execute(ctx, c, Options{Strategy: "bogus"})
	if err == nil {
		t.Fatalf("expected an error for an unknown assignment strategy")
	}
}
