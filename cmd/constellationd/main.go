package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/swarmguard/constellation/internal/config"
	"github.com/swarmguard/constellation/internal/dag"
	"github.com/swarmguard/constellation/internal/devices"
	"github.com/swarmguard/constellation/internal/editor"
	"github.com/swarmguard/constellation/internal/eventbus"
	"github.com/swarmguard/constellation/internal/logging"
	"github.com/swarmguard/constellation/internal/orchestrator"
	"github.com/swarmguard/constellation/internal/otelinit"
	"github.com/swarmguard/constellation/internal/scheduler"
	"github.com/swarmguard/constellation/internal/store"
	csync "github.com/swarmguard/constellation/internal/sync"
)

type server struct {
	cfg   config.Config
	ids   *dag.IDManager
	st    *store.Store
	bus   *eventbus.Bus
	orch  *orchestrator.Orchestrator
	sched *scheduler.Scheduler
}

func main() {
	service := "constellationd"
	logging.Init(service)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics := otelinit.InitMetrics(ctx, service)
	meter := otel.GetMeterProvider().Meter(service)

	cfg := config.Load()
	ids := dag.NewIDManager()

	st, err := store.Open(cfg.BoltPath, meter, ids)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		return
	}

	// The device transport layer is explicitly out of scope; the fake
	// collaborator stands in for a real RPC/HTTP-backed one until a
	// caller wires a concrete transport.
	collaborator := devices.NewFakeCollaborator([]devices.Info{
		{ID: "device-local-1", Type: dag.DeviceLinux},
	})

	bus := eventbus.New()
	synchronizer := csync.New(cfg.SynchronizerTimeout)
	orch := orchestrator.New(bus, synchronizer, collaborator, meter)
	sched := scheduler.New(st, orch, ids, meter)

	if err := sched.RestoreSchedules(ctx); err != nil {
		slog.Error("failed to restore schedules", "error", err)
	}
	sched.Start()

	srv := &server{cfg: cfg, ids: ids, st: st, bus: bus, orch: orch, sched: sched}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/constellations", srv.handleConstellations)
	mux.HandleFunc("/v1/constellations/", srv.handleConstellationByID)
	mux.HandleFunc("/v1/schedules", srv.handleSchedules)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()
	slog.Info("service started", "addr", cfg.HTTPAddr)

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	_ = sched.Stop(shutdownCtx)
	_ = st.Close()
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	slog.Info("shutdown complete")
}

// handleConstellations handles POST (create/replace from wire JSON) and GET
// (list IDs) on the collection endpoint.
func (s *server) handleConstellations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		c, err := dag.FromJSON(body, s.ids)
		if err != nil {
			http.Error(w, "invalid constellation: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.st.PutConstellation(r.Context(), c); err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(c.ID))

	case http.MethodGet:
		ids, err := s.st.ListConstellationIDs(r.Context())
		if err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(ids)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleConstellationByID handles GET /v1/constellations/{id},
// POST /v1/constellations/{id}/run, POST /v1/constellations/{id}/cancel,
// and POST /v1/constellations/{id}/edit.
func (s *server) handleConstellationByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/constellations/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	var action string
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		c, found, err := s.st.GetConstellation(r.Context(), id, s.ids)
		if err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		data, err := c.ToJSON()
		if err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)

	case action == "run" && r.Method == http.MethodPost:
		c, found, err := s.st.GetConstellation(r.Context(), id, s.ids)
		if err != nil || !found {
			http.NotFound(w, r)
			return
		}
		go s.runAndPersist(c)
		w.WriteHeader(http.StatusAccepted)

	case action == "cancel" && r.Method == http.MethodPost:
		s.orch.Cancel(id)
		w.WriteHeader(http.StatusAccepted)

	case action == "edit" && r.Method == http.MethodPost:
		s.handleEdit(w, r, id)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type editRequest struct {
	Command string                 `json:"command"`
	Args    map[string]interface{} `json:"args"`
}

// handleEdit applies a single named editor command to a stored
// constellation and persists the result, rejecting any mutation that would
// leave the DAG invalid.
func (s *server) handleEdit(w http.ResponseWriter, r *http.Request, id string) {
	c, found, err := s.st.GetConstellation(r.Context(), id, s.ids)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ed := editorFor(c, s.cfg)
	registry := editor.NewRegistry()
	cmd, err := registry.Build(req.Command, req.Args)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := ed.Execute(cmd); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err := s.st.PutConstellation(r.Context(), c); err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) runAndPersist(c *dag.Constellation) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DefaultTaskTimeout*2)
	defer cancel()

	result, err := s.orch.Execute(ctx, c, orchestrator.Options{MaxParallel: s.cfg.MaxParallelPerConst, DefaultTaskTimeout: s.cfg.DefaultTaskTimeout})
	if err != nil {
		slog.Error("constellation execution failed to start", "constellation_id", c.ID, "error", err)
		return
	}
	if err := s.st.PutConstellation(ctx, c); err != nil {
		slog.Error("failed to persist constellation after run", "constellation_id", c.ID, "error", err)
	}
	if err := s.st.PutExecution(ctx, store.ExecutionRecord{
		ConstellationID:   c.ID,
		ConstellationName: c.Name,
		FinalState:        string(result.FinalState),
		StartedAt:         result.StartedAt,
		EndedAt:           result.EndedAt,
		Statistics:        result.Statistics,
	}); err != nil {
		slog.Error("failed to persist execution record", "constellation_id", c.ID, "error", err)
	}
}

// handleSchedules handles POST (register a new schedule) and GET (list all
// schedules) on the collection.
func (s *server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var cfg scheduler.ScheduleConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.sched.AddSchedule(r.Context(), &cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodGet:
		all, err := s.sched.ListSchedules(r.Context())
		if err != nil {
			http.Error(w, "store error", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(all)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// editorFor builds a per-constellation Editor with the configured undo
// depth, used by callers that need interactive DAG mutation rather than a
// one-shot create/replace via handleConstellations.
func editorFor(c *dag.Constellation, cfg config.Config) *editor.Editor {
	return editor.New(c, cfg.UndoStackDepth)
}
