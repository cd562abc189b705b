package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/constellation/internal/cerrors"
	"github.com/swarmguard/constellation/internal/dag"
	"github.com/swarmguard/constellation/internal/devices"
	"github.com/swarmguard/constellation/internal/eventbus"
	"github.com/swarmguard/constellation/internal/resilience"
	csync "github.com/swarmguard/constellation/internal/sync"
)

// Options configures a single Execute call.
type Options struct {
	Strategy            Strategy
	DevicePreferences    map[string]string // task_id -> device_id
	MaxParallel         int
	DefaultTaskTimeout  time.Duration
}

// ConstellationResult is returned by Execute once the constellation reaches
// a terminal state, per spec.md §6.2/§7.
type ConstellationResult struct {
	ConstellationID string
	FinalState      dag.ConstellationState
	Statistics      dag.Statistics
	StartedAt       time.Time
	EndedAt         time.Time
}

// Orchestrator runs the scheduling loop of spec.md §4.5 over a
// Constellation, dispatching ready tasks to devices and reacting to the
// modification synchronizer. Grounded structurally on the teacher's
// dag_engine.go coordinator loop (worker pool draining a results channel)
// and main.go's service wiring.
type Orchestrator struct {
	bus           *eventbus.Bus
	synchronizer  *csync.Synchronizer
	assigner      *DeviceAssigner
	cancellation  *CancellationManager
	collaborator  devices.Collaborator

	breakerMu sync.Mutex
	breakers  map[string]*resilience.CircuitBreaker

	tracer trace.Tracer
	mtr    *instruments
}

type instruments struct {
	tasksDispatched metric.Int64Counter
	tasksCompleted  metric.Int64Counter
	tasksFailed     metric.Int64Counter
	inflightGauge   metric.Int64UpDownCounter
}

// New builds an Orchestrator. meter may be nil (metrics become no-ops).
func New(bus *eventbus.Bus, synchronizer *csync.Synchronizer, collaborator devices.Collaborator, meter metric.Meter) *Orchestrator {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter("constellation")
	}
	inst := newInstruments(meter)

	return &Orchestrator{
		bus:          bus,
		synchronizer: synchronizer,
		assigner:     NewDeviceAssigner(collaborator),
		cancellation: NewCancellationManager(meter),
		collaborator: collaborator,
		breakers:     make(map[string]*resilience.CircuitBreaker),
		tracer:       otel.Tracer("constellation-orchestrator"),
		mtr:          inst,
	}
}

// breakerFor returns the per-device circuit breaker, creating one on first
// use. One breaker per device isolates a single misbehaving device from the
// rest of the fleet.
func (o *Orchestrator) breakerFor(deviceID string) *resilience.CircuitBreaker {
	o.breakerMu.Lock()
	defer o.breakerMu.Unlock()
	b, ok := o.breakers[deviceID]
	if !ok {
		b = resilience.NewCircuitBreaker(30*time.Second, 6, 5, 0.5, 10*time.Second, 2)
		o.breakers[deviceID] = b
	}
	return b
}

// Cancel requests cancellation of a running constellation. Idempotent and
// safe on an unknown ID.
func (o *Orchestrator) Cancel(constellationID string) bool {
	return o.cancellation.Cancel(context.Background(), constellationID)
}

type completionMsg struct {
	taskID string
	result devices.ExecutionResult
	err    error
}

// Execute runs the full lifecycle: validate, assign devices, publish
// CONSTELLATION_STARTED, loop until terminal or cancelled, publish the
// terminal event.
func (o *Orchestrator) Execute(ctx context.Context, c *dag.Constellation, opts Options) (ConstellationResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.execute", trace.WithAttributes(attribute.String("constellation_id", c.ID)))
	defer span.End()

	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 10
	}
	if opts.DefaultTaskTimeout <= 0 {
		opts.DefaultTaskTimeout = 1000 * time.Second
	}

	if ok, problems := c.ValidateDAG(); !ok {
		return ConstellationResult{}, cerrors.Invariant("constellation failed validation: " + joinStrings(problems))
	}

	if err := o.ensureDeviceAssignments(ctx, c, opts); err != nil {
		return ConstellationResult{}, err
	}

	start := time.Now()
	o.publish(eventbus.ConstellationStarted, c.ID, nil)

	result := o.runLoop(ctx, c, opts)
	end := time.Now()

	switch result.FinalState {
	case dag.StateCompleted:
		o.publish(eventbus.ConstellationCompleted, c.ID, nil)
	case dag.StateCancelled:
		o.publish(eventbus.ConstellationCancelled, c.ID, nil)
	default:
		o.publish(eventbus.ConstellationFailed, c.ID, map[string]interface{}{"state": string(result.FinalState)})
	}

	o.assigner.ClearAssignments(c.ID)
	o.cancellation.Forget(c.ID)

	result.StartedAt = start
	result.EndedAt = end
	return result, nil
}

func (o *Orchestrator) ensureDeviceAssignments(ctx context.Context, c *dag.Constellation, opts Options) error {
	needsAssignment := false
	for _, t := range c.Tasks() {
		if t.AssignedTo == "" {
			needsAssignment = true
			break
		}
	}
	if !needsAssignment {
		return nil
	}
	strategy := opts.Strategy
	if strategy == "" {
		strategy = RoundRobin
	}
	assignments, err := o.assigner.AssignAll(ctx, c.ID, c, strategy, opts.DevicePreferences)
	if err != nil {
		return err
	}
	for taskID, deviceID := range assignments {
		if err := c.AssignDevice(taskID, deviceID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runLoop(ctx context.Context, c *dag.Constellation, opts Options) ConstellationResult {
	completions := make(chan completionMsg, opts.MaxParallel)
	inflight := make(map[string]context.CancelFunc)
	var wg sync.WaitGroup

	defer func() {
		wg.Wait()
		close(completions)
	}()

	for {
		if o.cancellation.IsCancelled(c.ID) || ctx.Err() != nil {
			o.cancelRunning(c, inflight)
			wg.Wait()
			return ConstellationResult{ConstellationID: c.ID, FinalState: dag.StateCancelled, Statistics: c.Statistics()}
		}

		waitCtx, cancel := context.WithCancel(ctx)
		o.synchronizer.WaitForPending(waitCtx)
		cancel()

		if o.cancellation.IsCancelled(c.ID) {
			o.cancelRunning(c, inflight)
			wg.Wait()
			return ConstellationResult{ConstellationID: c.ID, FinalState: dag.StateCancelled, Statistics: c.Statistics()}
		}

		if c.AllTerminal() {
			wg.Wait()
			return ConstellationResult{ConstellationID: c.ID, FinalState: c.DeriveState(), Statistics: c.Statistics()}
		}

		ready := c.ReadyTasks()
		capacity := opts.MaxParallel - len(inflight)
		for i := 0; i < len(ready) && i < capacity; i++ {
			t := ready[i]
			if err := c.StartTask(t.ID); err != nil {
				continue
			}
			o.publish(eventbus.TaskStarted, t.ID, map[string]interface{}{"constellation_id": c.ID})

			taskCtx, taskCancel := context.WithCancel(ctx)
			inflight[t.ID] = taskCancel
			o.cancellation.RegisterInflight(c.ID, t.ID, taskCancel)
			o.mtr.inflightGauge.Add(ctx, 1)
			o.mtr.tasksDispatched.Add(ctx, 1)

			timeout := t.Timeout
			if timeout <= 0 {
				timeout = opts.DefaultTaskTimeout
			}
			wg.Add(1)
			go o.runOne(taskCtx, c, t, timeout, completions, &wg)
		}

		if len(inflight) == 0 {
			// nothing ready and nothing in flight but not all terminal:
			// every remaining task is permanently blocked.
			wg.Wait()
			return ConstellationResult{ConstellationID: c.ID, FinalState: c.DeriveState(), Statistics: c.Statistics()}
		}

		msg, ok := <-completions
		if !ok {
			continue
		}
		o.handleCompletion(ctx, c, msg, inflight)
	}
}

func (o *Orchestrator) runOne(ctx context.Context, c *dag.Constellation, t *dag.Task, timeout time.Duration, out chan<- completionMsg, wg *sync.WaitGroup) {
	defer wg.Done()

	breaker := o.breakerFor(t.AssignedTo)
	if !breaker.Allow() {
		// out is buffered to MaxParallel and each dispatched task sends
		// exactly once, so this send never blocks.
		out <- completionMsg{taskID: t.ID, err: cerrors.Transport(fmt.Errorf("device %s circuit open, refusing dispatch", t.AssignedTo))}
		return
	}

	result, err := o.collaborator.AssignTask(ctx, t.ID, t.AssignedTo, t.Description, t.Args, timeout)
	breaker.RecordResult(err == nil && result.Success)

	out <- completionMsg{taskID: t.ID, result: result, err: err}
}

func (o *Orchestrator) handleCompletion(ctx context.Context, c *dag.Constellation, msg completionMsg, inflight map[string]context.CancelFunc) {
	if cancel, ok := inflight[msg.taskID]; ok {
		cancel()
		delete(inflight, msg.taskID)
	}
	o.cancellation.UnregisterInflight(c.ID, msg.taskID)
	o.mtr.inflightGauge.Add(ctx, -1)

	failed := msg.err != nil || !msg.result.Success
	if !failed {
		if err := c.CompleteTask(msg.taskID, true, msg.result.Result, ""); err != nil {
			slog.Error("complete task failed", "task_id", msg.taskID, "error", err)
			return
		}
		o.mtr.tasksCompleted.Add(ctx, 1)
		o.publish(eventbus.TaskCompleted, msg.taskID, map[string]interface{}{
			"constellation_id": c.ID,
			"newly_ready":      idsOf(c.ReadyTasks()),
		})
		return
	}

	errMsg := msg.result.Error
	if msg.err != nil && errMsg == "" {
		errMsg = msg.err.Error()
	}
	if err := c.CompleteTask(msg.taskID, false, nil, errMsg); err != nil {
		slog.Error("complete failed task failed", "task_id", msg.taskID, "error", err)
		return
	}
	// Re-fetch after CompleteTask: the clone held before the call still
	// carries the pre-failure RUNNING status, and CanRetry only answers
	// true once Status is StatusFailed.
	if t, err := c.Task(msg.taskID); err == nil && t.CanRetry() {
		if err := c.RetryTask(msg.taskID); err == nil {
			return // requeued silently, no event per spec.md §4.5 step 7
		}
	}
	o.mtr.tasksFailed.Add(ctx, 1)
	o.publish(eventbus.TaskFailed, msg.taskID, map[string]interface{}{
		"constellation_id": c.ID,
		"error":            errMsg,
	})
}

func (o *Orchestrator) cancelRunning(c *dag.Constellation, inflight map[string]context.CancelFunc) {
	for taskID, cancel := range inflight {
		cancel()
		_ = o.collaborator.CancelTask(context.Background(), taskID)
		c.CancelTask(taskID)
		o.publish(eventbus.TaskCancelled, taskID, map[string]interface{}{"constellation_id": c.ID})
		delete(inflight, taskID)
	}
}

func (o *Orchestrator) publish(t eventbus.Type, sourceID string, data map[string]interface{}) {
	o.bus.Publish(eventbus.Event{Type: t, SourceID: sourceID, Timestamp: time.Now(), Data: data})
}

func idsOf(tasks []*dag.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func joinStrings(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "; "
		}
		out += p
	}
	return out
}
