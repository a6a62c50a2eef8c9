package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/cascade"
	"github.com/nenadatanasovski/taskcore/pkg/events"
	"github.com/nenadatanasovski/taskcore/pkg/gatekeeper"
	"github.com/nenadatanasovski/taskcore/pkg/log"
	"github.com/nenadatanasovski/taskcore/pkg/metrics"
	"github.com/nenadatanasovski/taskcore/pkg/orcherr"
	"github.com/nenadatanasovski/taskcore/pkg/planner"
	"github.com/nenadatanasovski/taskcore/pkg/prd"
	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/supervisor"
	"github.com/nenadatanasovski/taskcore/pkg/types"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server is the HTTP surface over the orchestration core: worker
// heartbeat ingestion, read-only inspection of tasks/lists/workers, and
// the handful of write endpoints (start/pause/resume, task edits) that
// drive the supervisor and cascade propagator from outside the process.
type Server struct {
	router     chi.Router
	store      storage.Store
	supervisor *supervisor.Supervisor
	gatekeeper *gatekeeper.Gatekeeper
	planner    *planner.Planner
	broker     *events.Broker
	cascade    *cascade.Propagator
	logger     zerolog.Logger
	http       *http.Server
}

// NewServer wires the chi router over an already-constructed supervisor,
// gatekeeper, planner, and store, mirroring the handler-per-concern
// registration the rest of the pack's HTTP surfaces use.
func NewServer(store storage.Store, sup *supervisor.Supervisor, gate *gatekeeper.Gatekeeper, plan *planner.Planner, broker *events.Broker) *Server {
	s := &Server{
		store:      store,
		supervisor: sup,
		gatekeeper: gate,
		planner:    plan,
		broker:     broker,
		cascade:    cascade.New(store),
		logger:     log.WithComponent("api"),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/heartbeats", s.handleHeartbeat)

		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Patch("/", s.handleEditTask)
			r.Get("/readiness", s.handleTaskReadiness)
			r.Get("/cascade", s.handleCascadePreview)
		})

		r.Route("/lists/{listID}", func(r chi.Router) {
			r.Get("/", s.handleGetTaskList)
			r.Get("/plan", s.handlePlan)
			r.Get("/workers", s.handleListWorkers)
			r.Get("/review-flags", s.handleReviewFlags)
			r.Post("/start", s.handleStartExecution)
			r.Post("/pause", s.handlePauseExecution)
			r.Post("/resume", s.handleResumeExecution)
		})

		r.Get("/workers/{workerID}", s.handleGetWorker)
		r.Get("/prds/{prdID}/coverage", s.handlePRDCoverage)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Start binds addr and serves until the process exits or Stop is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHeartbeat ingests a worker's liveness report over a plain HTTP
// POST, the only network boundary this process exposes.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkerID   string   `json:"worker_id"`
		TaskID     string   `json:"task_id"`
		Status     string   `json:"status"`
		Progress   *int     `json:"progress,omitempty"`
		Step       string   `json:"step,omitempty"`
		MemoryMB   *float64 `json:"memory_mb,omitempty"`
		CPUPercent *float64 `json:"cpu_percent,omitempty"`
		SentAt     time.Time `json:"sent_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, orcherr.New(orcherr.PreconditionFailed, "malformed heartbeat body"))
		return
	}
	if body.WorkerID == "" || body.TaskID == "" {
		writeError(w, http.StatusBadRequest, orcherr.New(orcherr.PreconditionFailed, "worker_id and task_id are required"))
		return
	}

	hb := &types.Heartbeat{
		ID:         uuid.NewString(),
		WorkerID:   body.WorkerID,
		TaskID:     body.TaskID,
		Status:     types.WorkerStatus(body.Status),
		Progress:   body.Progress,
		Step:       body.Step,
		MemoryMB:   body.MemoryMB,
		CPUPercent: body.CPUPercent,
		SentAt:     body.SentAt,
		ReceivedAt: time.Now(),
	}
	if err := s.supervisor.RecordHeartbeat(r.Context(), hb); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, orcherr.New(orcherr.NotFound, "task not found"))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleEditTask applies one field of a partial update: the first present
// of status, priority, and description (any others in the body are
// ignored). Status and priority edits publish a task.edited event carrying
// the trigger kind the cascade propagator keys its discovery algorithm on;
// a description edit publishes no event.
func (s *Server) handleEditTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, orcherr.New(orcherr.NotFound, "task not found"))
		return
	}

	var body struct {
		Status      *string `json:"status,omitempty"`
		Priority    *string `json:"priority,omitempty"`
		Description *string `json:"description,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, orcherr.New(orcherr.PreconditionFailed, "malformed edit body"))
		return
	}

	var trigger types.CascadeTriggerKind
	switch {
	case body.Status != nil:
		status := types.TaskStatus(*body.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, orcherr.New(orcherr.PreconditionFailed, "invalid status"))
			return
		}
		task.Status = status
		trigger = types.TriggerStatusChanged
	case body.Priority != nil:
		priority := types.TaskPriority(*body.Priority)
		if !priority.Valid() {
			writeError(w, http.StatusBadRequest, orcherr.New(orcherr.PreconditionFailed, "invalid priority"))
			return
		}
		task.Priority = priority
		trigger = types.TriggerPriorityChanged
	case body.Description != nil:
		task.Description = *body.Description
	default:
		writeError(w, http.StatusBadRequest, orcherr.New(orcherr.PreconditionFailed, "no recognized field to edit"))
		return
	}

	task.UpdatedAt = time.Now()
	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if s.gatekeeper != nil {
		s.gatekeeper.Invalidate(task.ID)
	}

	if trigger != "" {
		s.broker.Publish(&events.Event{
			Type:    events.EventTaskEdited,
			Message: fmt.Sprintf("task %s edited", task.ID),
			Metadata: map[string]string{
				"task_id": task.ID,
				"trigger": string(trigger),
			},
		})
	}

	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskReadiness(w http.ResponseWriter, r *http.Request) {
	score, err := s.gatekeeper.CalculateReadiness(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

// handleCascadePreview reports what Analyze would do for a hypothetical
// trigger on this task, without applying anything. Useful for a CLI or
// human to see the blast radius of an edit before making it.
func (s *Server) handleCascadePreview(w http.ResponseWriter, r *http.Request) {
	trigger := types.CascadeTriggerKind(r.URL.Query().Get("trigger"))
	if trigger == "" {
		trigger = types.TriggerStatusChanged
	}

	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, orcherr.New(orcherr.NotFound, "task not found"))
		return
	}

	report, err := s.cascade.Analyze(r.Context(), task, trigger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetTaskList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.GetTaskList(r.Context(), chi.URLParam(r, "listID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		writeError(w, http.StatusNotFound, orcherr.New(orcherr.NotFound, "task list not found"))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handlePlan is a read-only view of what the planner would schedule next;
// it never spawns anything, it only reports the wave structure.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	ctx := r.Context()

	list, err := s.store.GetTaskList(ctx, listID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		writeError(w, http.StatusNotFound, orcherr.New(orcherr.NotFound, "task list not found"))
		return
	}

	tasks, err := s.store.ListTasksByTaskList(ctx, listID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	rels, err := s.store.ListRelationshipsByTaskList(ctx, listID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	plan, err := s.planner.Plan(ctx, list, tasks, rels)
	if err != nil {
		var cycleErr *planner.CycleError
		if errors.As(err, &cycleErr) {
			writeError(w, http.StatusConflict, orcherr.Wrap(orcherr.CycleDetected, "dependency cycle", err))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	active, err := s.store.ListActiveWorkers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]*types.WorkerInstance, 0, len(active))
	for _, worker := range active {
		if worker.TaskListID == listID {
			out = append(out, worker)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReviewFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.store.ListOpenReviewFlags(r.Context(), chi.URLParam(r, "listID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *Server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	list, err := s.store.GetTaskList(r.Context(), listID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		writeError(w, http.StatusNotFound, orcherr.New(orcherr.NotFound, "task list not found"))
		return
	}
	if err := s.supervisor.StartExecution(r.Context(), list, list.MaxWorkers); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handlePauseExecution(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.PauseExecution(r.Context(), chi.URLParam(r, "listID")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeExecution(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.ResumeExecution(r.Context(), chi.URLParam(r, "listID")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.store.GetWorker(r.Context(), chi.URLParam(r, "workerID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if worker == nil {
		writeError(w, http.StatusNotFound, orcherr.New(orcherr.NotFound, "worker not found"))
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handlePRDCoverage(w http.ResponseWriter, r *http.Request) {
	cov, err := prd.Calculate(r.Context(), s.store, chi.URLParam(r, "prdID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cov)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
