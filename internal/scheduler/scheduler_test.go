package scheduler

import (
	"context"
	"testing"
	"time"

	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/swarmguard/constellation/internal/dag"
	"github.com/swarmguard/constellation/internal/devices"
	"github.com/swarmguard/constellation/internal/eventbus"
	"github.com/swarmguard/constellation/internal/orchestrator"
	csync "github.com/swarmguard/constellation/internal/sync"
	"github.com/swarmguard/constellation/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, *dag.IDManager) {
	t.Helper()
	ids := dag.NewIDManager()
	st, err := store.Open(t.TempDir(), nil, ids)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	collab := devices.NewFakeCollaborator([]devices.Info{{ID: "dev1"}})
	meter := noopmetric.MeterProvider{}.Meter("test")
	orch := orchestrator.New(eventbus.New(), csync.New(50*time.Millisecond), collab, meter)

	return New(st, orch, ids, meter), st, ids
}

func buildSimpleConstellation(t *testing.T, ids *dag.IDManager, name string) *dag.Constellation {
	t.Helper()
	c := dag.New(name, ids)
	if _, err := c.AddTask(&dag.Task{ID: "only", Name: "only"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	return c
}

func TestTriggerEventRunsMatchingSchedule(t *testing.T) {
	s, st, ids := newTestScheduler(t)
	c := buildSimpleConstellation(t, ids, "webhook-driven")
	if err := st.PutConstellation(context.Background(), c); err != nil {
		t.Fatalf("PutConstellation: %v", err)
	}

	cfg := &ScheduleConfig{
		ConstellationID: c.ID,
		EventType:       "webhook.received",
		EventFilter:     map[string]interface{}{"source": "ci"},
		Enabled:         true,
	}
	if err := s.AddSchedule(context.Background(), cfg); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	if err := s.TriggerEvent(context.Background(), "webhook.received", map[string]interface{}{"source": "ci"}); err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, found, _ := st.GetExecution(context.Background(), c.ID); found {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected an execution record to appear after a matching event")
}

func TestTriggerEventSkipsOnFilterMismatch(t *testing.T) {
	s, st, ids := newTestScheduler(t)
	c := buildSimpleConstellation(t, ids, "webhook-driven-2")
	if err := st.PutConstellation(context.Background(), c); err != nil {
		t.Fatalf("PutConstellation: %v", err)
	}

	cfg := &ScheduleConfig{
		ConstellationID: c.ID,
		EventType:       "webhook.received",
		EventFilter:     map[string]interface{}{"source": "ci"},
		Enabled:         true,
	}
	if err := s.AddSchedule(context.Background(), cfg); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	if err := s.TriggerEvent(context.Background(), "webhook.received", map[string]interface{}{"source": "manual"}); err != nil {
		t.Fatalf("TriggerEvent: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, found, _ := st.GetExecution(context.Background(), c.ID); found {
		t.Fatalf("expected no execution for a non-matching filter")
	}
}

func TestAddScheduleRejectsMissingTrigger(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	err := s.AddSchedule(context.Background(), &ScheduleConfig{ConstellationID: "x", Enabled: true})
	if err == nil {
		t.Fatalf("expected an error when neither cron_expr nor event_type is set")
	}
}

func TestRemoveScheduleClearsEventHandler(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	cfg := &ScheduleConfig{
		ConstellationID: "c1",
		EventType:       "webhook.received",
		Enabled:         true,
	}
	if err := s.AddSchedule(context.Background(), cfg); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	if err := s.RemoveSchedule(context.Background(), "c1"); err != nil {
		t.Fatalf("RemoveSchedule: %v", err)
	}
	stats := s.Stats()
	if stats["event_handlers"].(int) != 0 {
		t.Fatalf("expected event handler to be cleaned up, got %v", stats["event_handlers"])
	}
}

func TestListSchedulesRoundTrip(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	cfg := &ScheduleConfig{
		ConstellationID: "nightly",
		CronExpr:        "0 0 2 * * *",
		Enabled:         true,
	}
	if err := s.AddSchedule(context.Background(), cfg); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	all, err := s.ListSchedules(context.Background())
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	if len(all) != 1 || all[0].ConstellationID != "nightly" {
		t.Fatalf("expected 1 schedule for nightly, got %+v", all)
	}
}
