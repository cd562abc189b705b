// Package scheduler triggers constellation launches on a cron schedule or
// in reaction to external events, distinct from the orchestrator's internal
// scheduling loop — this is an outer-layer trigger analogous to a cron job
// kicking off `orchestrator.Execute`. Grounded on the teacher's
// Scheduler/ScheduleConfig in scheduler.go.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/constellation/internal/dag"
	"github.com/swarmguard/constellation/internal/orchestrator"
	"github.com/swarmguard/constellation/internal/store"
)

// ScheduleConfig defines when and how to launch a constellation.
type ScheduleConfig struct {
	ConstellationID string                 `json:"constellation_id"`
	CronExpr        string                 `json:"cron_expr,omitempty"`  // "0 */5 * * * *" = every 5 minutes
	EventType       string                 `json:"event_type,omitempty"` // "webhook.received", "device.connected"
	EventFilter     map[string]interface{} `json:"event_filter,omitempty"`
	Enabled         bool                   `json:"enabled"`
	MaxConcurrent   int                    `json:"max_concurrent,omitempty"` // 0 = unlimited
	Timeout         time.Duration         `json:"timeout,omitempty"`
	Metadata        map[string]string      `json:"metadata,omitempty"`
}

type eventHandler struct {
	schedules   []*ScheduleConfig
	running     int
	mu          sync.Mutex
	lastTrigger time.Time
}

// Scheduler manages cron schedules and event-driven triggers over a set of
// persisted constellations, launching each through an Orchestrator.
type Scheduler struct {
	cron          *cron.Cron
	store         *store.Store
	orch          *orchestrator.Orchestrator
	ids           *dag.IDManager
	eventHandlers map[string]*eventHandler
	entryIDs      map[string]cron.EntryID // constellationID -> cron entry, so RemoveSchedule can unregister it
	mu            sync.RWMutex

	scheduleRuns  metric.Int64Counter
	scheduleFails metric.Int64Counter
	eventTriggers metric.Int64Counter
	tracer        trace.Tracer
}

// New builds a Scheduler. meter may be nil (metrics become no-ops).
func New(st *store.Store, orch *orchestrator.Orchestrator, ids *dag.IDManager, meter metric.Meter) *Scheduler {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter("constellation")
	}
	scheduleRuns, _ := meter.Int64Counter("constellation_schedule_runs_total")
	scheduleFails, _ := meter.Int64Counter("constellation_schedule_failures_total")
	eventTriggers, _ := meter.Int64Counter("constellation_schedule_event_triggers_total")

	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		store:         st,
		orch:          orch,
		ids:           ids,
		eventHandlers: make(map[string]*eventHandler),
		entryIDs:      make(map[string]cron.EntryID),
		scheduleRuns:  scheduleRuns,
		scheduleFails: scheduleFails,
		eventTriggers: eventTriggers,
		tracer:        otel.Tracer("constellation-scheduler"),
	}
}

// Start begins running registered cron schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started")
}

// Stop gracefully stops the cron scheduler, waiting for in-flight jobs to
// finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		slog.Info("scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.Warn("scheduler stop timed out")
		return ctx.Err()
	}
}

// AddSchedule registers a schedule, persisting it so RestoreSchedules can
// bring it back across a restart.
func (s *Scheduler) AddSchedule(ctx context.Context, config *ScheduleConfig) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.add_schedule", trace.WithAttributes(
		attribute.String("constellation_id", config.ConstellationID),
		attribute.String("cron", config.CronExpr),
	))
	defer span.End()

	switch {
	case config.CronExpr != "":
		entryID, err := s.cron.AddFunc(config.CronExpr, func() {
			s.executeScheduled(context.Background(), config)
		})
		if err != nil {
			return fmt.Errorf("add cron schedule: %w", err)
		}
		s.mu.Lock()
		s.entryIDs[config.ConstellationID] = entryID
		s.mu.Unlock()
		slog.Info("cron schedule added", "constellation_id", config.ConstellationID, "cron", config.CronExpr)

	case config.EventType != "":
		s.registerEventHandler(config)
		slog.Info("event trigger added", "constellation_id", config.ConstellationID, "event_type", config.EventType)

	default:
		return fmt.Errorf("either cron_expr or event_type must be specified")
	}

	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	if err := s.store.PutSchedule(ctx, config.ConstellationID, data); err != nil {
		return fmt.Errorf("persist schedule: %w", err)
	}
	return nil
}

// RemoveSchedule unregisters a schedule, both its cron entry (if any) and
// any event handlers referencing it.
func (s *Scheduler) RemoveSchedule(ctx context.Context, constellationID string) error {
	s.mu.Lock()
	if entryID, ok := s.entryIDs[constellationID]; ok {
		s.cron.Remove(entryID)
		delete(s.entryIDs, constellationID)
	}
	for eventType, handler := range s.eventHandlers {
		handler.mu.Lock()
		kept := handler.schedules[:0]
		for _, sched := range handler.schedules {
			if sched.ConstellationID != constellationID {
				kept = append(kept, sched)
			}
		}
		handler.schedules = kept
		empty := len(handler.schedules) == 0
		handler.mu.Unlock()
		if empty {
			delete(s.eventHandlers, eventType)
		}
	}
	s.mu.Unlock()

	if err := s.store.PutSchedule(ctx, constellationID, nil); err != nil {
		return fmt.Errorf("clear schedule: %w", err)
	}
	slog.Info("schedule removed", "constellation_id", constellationID)
	return nil
}

// ListSchedules returns every persisted schedule.
func (s *Scheduler) ListSchedules(ctx context.Context) ([]*ScheduleConfig, error) {
	raw, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	out := make([]*ScheduleConfig, 0, len(raw))
	for _, data := range raw {
		if len(data) == 0 {
			continue
		}
		var cfg ScheduleConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			continue // skip invalid entries
		}
		out = append(out, &cfg)
	}
	return out, nil
}

// TriggerEvent runs every enabled schedule registered for eventType whose
// filter matches eventData, subject to each schedule's concurrency cap.
func (s *Scheduler) TriggerEvent(ctx context.Context, eventType string, eventData map[string]interface{}) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.trigger_event", trace.WithAttributes(attribute.String("event_type", eventType)))
	defer span.End()

	s.mu.RLock()
	handler, exists := s.eventHandlers[eventType]
	s.mu.RUnlock()
	if !exists {
		return nil
	}

	s.eventTriggers.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))

	for _, schedule := range handler.schedules {
		if !schedule.Enabled || !matchesFilter(eventData, schedule.EventFilter) {
			continue
		}
		handler.mu.Lock()
		if schedule.MaxConcurrent > 0 && handler.running >= schedule.MaxConcurrent {
			handler.mu.Unlock()
			slog.Warn("max concurrent schedule executions reached", "constellation_id", schedule.ConstellationID)
			continue
		}
		handler.running++
		handler.lastTrigger = time.Now()
		handler.mu.Unlock()

		go func(cfg *ScheduleConfig) {
			defer func() {
				handler.mu.Lock()
				handler.running--
				handler.mu.Unlock()
			}()
			execCtx := context.Background()
			if cfg.Timeout > 0 {
				var cancel context.CancelFunc
				execCtx, cancel = context.WithTimeout(execCtx, cfg.Timeout)
				defer cancel()
			}
			s.executeScheduled(execCtx, cfg)
		}(schedule)
	}
	return nil
}

func (s *Scheduler) executeScheduled(ctx context.Context, config *ScheduleConfig) {
	ctx, span := s.tracer.Start(ctx, "scheduler.execute", trace.WithAttributes(attribute.String("constellation_id", config.ConstellationID)))
	defer span.End()

	start := time.Now()
	c, found, err := s.store.GetConstellation(ctx, config.ConstellationID, s.ids)
	if err != nil || !found {
		slog.Error("failed to load scheduled constellation", "constellation_id", config.ConstellationID, "error", err, "found", found)
		s.scheduleFails.Add(ctx, 1, metric.WithAttributes(attribute.String("constellation_id", config.ConstellationID)))
		return
	}

	result, err := s.orch.Execute(ctx, c, orchestrator.Options{})
	if err != nil {
		slog.Error("scheduled constellation execution failed", "constellation_id", config.ConstellationID, "error", err, "duration_ms", time.Since(start).Milliseconds())
		s.scheduleFails.Add(ctx, 1, metric.WithAttributes(attribute.String("constellation_id", config.ConstellationID)))
		return
	}

	if err := s.store.PutExecution(ctx, store.ExecutionRecord{
		ConstellationID:   c.ID,
		ConstellationName: c.Name,
		FinalState:        string(result.FinalState),
		StartedAt:         result.StartedAt,
		EndedAt:           result.EndedAt,
		Statistics:        result.Statistics,
	}); err != nil {
		slog.Error("failed to store scheduled execution result", "error", err)
	}

	s.scheduleRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("constellation_id", config.ConstellationID),
		attribute.String("final_state", string(result.FinalState)),
	))
	slog.Info("scheduled constellation completed", "constellation_id", config.ConstellationID, "final_state", result.FinalState, "duration_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) registerEventHandler(config *ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handler, exists := s.eventHandlers[config.EventType]
	if !exists {
		handler = &eventHandler{}
		s.eventHandlers[config.EventType] = handler
	}
	handler.schedules = append(handler.schedules, config)
}

func matchesFilter(eventData, filter map[string]interface{}) bool {
	if len(filter) == 0 {
		return true
	}
	for key, expected := range filter {
		actual, ok := eventData[key]
		if !ok || fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected) {
			return false
		}
	}
	return true
}

// Stats reports scheduler occupancy for diagnostics.
func (s *Scheduler) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.cron.Entries())
	eventStats := make(map[string]interface{}, len(s.eventHandlers))
	for eventType, handler := range s.eventHandlers {
		handler.mu.Lock()
		eventStats[eventType] = map[string]interface{}{
			"schedules":    len(handler.schedules),
			"running":      handler.running,
			"last_trigger": handler.lastTrigger.Format(time.RFC3339),
		}
		total += len(handler.schedules)
		handler.mu.Unlock()
	}
	return map[string]interface{}{
		"cron_entries":        len(s.cron.Entries()),
		"event_handlers":       len(s.eventHandlers),
		"total_schedules":      total,
		"event_handler_stats":  eventStats,
	}
}

// RestoreSchedules reloads persisted, enabled schedules on startup.
func (s *Scheduler) RestoreSchedules(ctx context.Context) error {
	schedules, err := s.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	restored, failed := 0, 0
	for _, schedule := range schedules {
		if !schedule.Enabled {
			continue
		}
		if err := s.AddSchedule(ctx, schedule); err != nil {
			slog.Error("failed to restore schedule", "constellation_id", schedule.ConstellationID, "error", err)
			failed++
			continue
		}
		restored++
	}
	slog.Info("schedules restored", "restored", restored, "failed", failed)
	return nil
}
