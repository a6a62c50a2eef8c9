package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nenadatanasovski/taskcore/pkg/events"
	"github.com/nenadatanasovski/taskcore/pkg/log"
	"github.com/nenadatanasovski/taskcore/pkg/metrics"
	"github.com/nenadatanasovski/taskcore/pkg/planner"
	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"github.com/rs/zerolog"
)

const terminateGrace = 5 * time.Second

// Config configures a Supervisor. Timing values come from pkg/config's
// Default (spec.md §4.2): a 30s heartbeat check interval, 90s timeout,
// and a 3-miss termination threshold.
type Config struct {
	// WorkerBinary is the path to the executable spawned for each task.
	WorkerBinary string
	// WorkDir is the working directory new worker processes start in.
	// Empty means inherit the supervisor's own.
	WorkDir string

	CheckInterval    time.Duration
	HeartbeatTimeout time.Duration
	MissedThreshold  int
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 90 * time.Second
	}
	if c.MissedThreshold <= 0 {
		c.MissedThreshold = 3
	}
	return c
}

// Supervisor spawns and monitors worker processes, one per in-flight task,
// and drives each task list's execution plan forward wave by wave.
//
// Worker outcomes are published to the event broker rather than reported
// through a direct callback: the failure engine subscribes to the broker
// and handles events.EventTaskFailed and events.EventTaskCompleted, so
// Supervisor never imports it.
type Supervisor struct {
	cfg     Config
	store   storage.Store
	planner *planner.Planner
	broker  *events.Broker
	logger  zerolog.Logger

	mu      sync.Mutex
	procs   map[string]*runningWorker // keyed by worker ID
	stopped chan struct{}
	wg      sync.WaitGroup
}

type runningWorker struct {
	worker *types.WorkerInstance
	cmd    *exec.Cmd
	// explicitReason is set by Terminate before signaling, so awaitExit
	// can tell an intentional kill (task already marked failed, reason
	// already recorded) apart from the process dying on its own.
	explicitReason string
}

// New creates a Supervisor. broker may be nil in tests that don't care
// about published events.
func New(cfg Config, store storage.Store, p *planner.Planner, broker *events.Broker) *Supervisor {
	return &Supervisor{
		cfg:     cfg.withDefaults(),
		store:   store,
		planner: p,
		broker:  broker,
		logger:  log.WithComponent("supervisor"),
		procs:   make(map[string]*runningWorker),
		stopped: make(chan struct{}),
	}
}

// Start launches the heartbeat monitor loop. Call Stop to shut it down and
// terminate every worker the supervisor still owns.
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go s.monitorLoop()
}

// Stop terminates every tracked worker and stops the monitor loop.
func (s *Supervisor) Stop() {
	close(s.stopped)

	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), terminateGrace)
	defer cancel()
	for _, id := range ids {
		if err := s.Terminate(ctx, id, "supervisor shutting down"); err != nil {
			s.logger.Warn().Err(err).Str("worker_id", id).Msg("terminate on shutdown failed")
		}
	}
	s.wg.Wait()
}

// StartExecution transitions list to in_progress and spawns workers for
// its first wave, up to cap (0 means use list.MaxWorkers). Refuses if the
// list is already in_progress.
func (s *Supervisor) StartExecution(ctx context.Context, list *types.TaskList, cap int) error {
	if list.Status == types.ListStatusInProgress {
		return fmt.Errorf("task list %s is already in progress", list.ID)
	}

	list.Status = types.ListStatusInProgress
	if err := s.store.UpdateTaskList(ctx, list); err != nil {
		return fmt.Errorf("start execution for list %s: %w", list.ID, err)
	}

	if cap <= 0 {
		cap = list.MaxWorkers
	}
	return s.reconcileListCapped(ctx, list, cap)
}

// PauseExecution moves list to paused. Running workers are not killed;
// the reconcile loop simply stops spawning new ones for it (reconcileAll
// only considers in_progress lists).
func (s *Supervisor) PauseExecution(ctx context.Context, listID string) error {
	list, err := s.store.GetTaskList(ctx, listID)
	if err != nil {
		return err
	}
	if list == nil {
		return fmt.Errorf("task list %s not found", listID)
	}
	list.Status = types.ListStatusPaused
	return s.store.UpdateTaskList(ctx, list)
}

// ResumeExecution moves list back to in_progress and immediately runs one
// reconcile pass rather than waiting for the next poll.
func (s *Supervisor) ResumeExecution(ctx context.Context, listID string) error {
	list, err := s.store.GetTaskList(ctx, listID)
	if err != nil {
		return err
	}
	if list == nil {
		return fmt.Errorf("task list %s not found", listID)
	}
	list.Status = types.ListStatusInProgress
	if err := s.store.UpdateTaskList(ctx, list); err != nil {
		return err
	}
	return s.reconcileListCapped(ctx, list, list.MaxWorkers)
}

// RetryWithContext spawns a fresh worker for task carrying its prior
// execution ID forward so the worker binary can resume from checkpoint.
// Used by the failure engine's retry_now / retry_with_backoff decisions.
func (s *Supervisor) RetryWithContext(ctx context.Context, task *types.Task, taskListID string) (*types.WorkerInstance, error) {
	priorExecution := task.ExecutionID
	worker, err := s.spawnWorker(ctx, task, taskListID, priorExecution)
	if err != nil {
		return nil, err
	}

	// The task is written straight to in_progress under the new worker; it
	// does not pass through pending, so the reconcile loop never sees it as
	// spawnable in between.
	task.Status = types.StatusInProgress
	task.ExecutionID = worker.ID
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return worker, fmt.Errorf("mark task %s retried: %w", task.ID, err)
	}
	return worker, nil
}

func (s *Supervisor) spawnWorker(ctx context.Context, task *types.Task, taskListID string, resumeExecutionID string) (*types.WorkerInstance, error) {
	if s.cfg.WorkerBinary == "" {
		return nil, fmt.Errorf("supervisor: no worker binary configured")
	}

	agentID := uuid.NewString()
	args := []string{
		"--agent-id", agentID,
		"--task-id", task.ID,
		"--task-list-id", taskListID,
	}
	if resumeExecutionID != "" {
		args = append(args, "--resume-execution-id", resumeExecutionID)
	}

	cmd := exec.Command(s.cfg.WorkerBinary, args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(),
		"AGENT_ID="+agentID,
		"TASK_ID="+task.ID,
		"TASK_LIST_ID="+taskListID,
	)

	hostname, _ := os.Hostname()
	worker := &types.WorkerInstance{
		ID:              agentID,
		TaskID:          task.ID,
		TaskListID:      taskListID,
		Hostname:        hostname,
		Status:          types.WorkerSpawning,
		LastHeartbeatAt: time.Now(),
		SpawnedAt:       time.Now(),
	}

	if err := cmd.Start(); err != nil {
		metrics.WorkersSpawnFailedTotal.Inc()
		// Spawn failure is fatal for the task.
		task.Status = types.StatusFailed
		task.LastError = err.Error()
		_ = s.store.UpdateTask(ctx, task)
		s.publish(events.EventTaskFailed, task.ID, map[string]string{"reason": "spawn_failed"})
		return nil, fmt.Errorf("spawn worker for task %s: %w", task.ID, err)
	}
	worker.PID = cmd.Process.Pid
	worker.Status = types.WorkerRunning

	if err := s.store.CreateWorker(ctx, worker); err != nil {
		_ = cmd.Process.Kill()
		metrics.WorkersSpawnFailedTotal.Inc()
		return nil, fmt.Errorf("record worker for task %s: %w", task.ID, err)
	}

	s.mu.Lock()
	s.procs[worker.ID] = &runningWorker{worker: worker, cmd: cmd}
	s.mu.Unlock()

	metrics.WorkersSpawnedTotal.Inc()
	s.logger.Info().
		Str("worker_id", worker.ID).
		Str("task_id", task.ID).
		Int("pid", worker.PID).
		Msg("spawned worker")
	s.publish(events.EventWorkerSpawned, task.ID, map[string]string{"worker_id": worker.ID})

	s.wg.Add(1)
	go s.awaitExit(worker.ID, cmd)

	return worker, nil
}

// awaitExit blocks on the child process and reconciles state once it
// exits, however that happens (clean exit, crash, or our own Terminate).
func (s *Supervisor) awaitExit(workerID string, cmd *exec.Cmd) {
	defer s.wg.Done()
	exitErr := cmd.Wait()

	s.mu.Lock()
	rw, ok := s.procs[workerID]
	delete(s.procs, workerID)
	s.mu.Unlock()
	if !ok {
		return
	}

	if rw.explicitReason != "" {
		// Terminate already updated the store and published the event.
		return
	}
	s.onWorkerExit(rw.worker, exitErr)
}

// onWorkerExit handles a worker process that exited on its own: exit code
// 0 completes the task and triggers the next wave; anything else fails
// the task and hands off to the failure engine via EventTaskFailed.
func (s *Supervisor) onWorkerExit(worker *types.WorkerInstance, exitErr error) {
	now := time.Now()
	worker.Status = types.WorkerTerminated
	worker.TerminatedAt = &now

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	task, err := s.store.GetTask(ctx, worker.TaskID)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", worker.TaskID).Msg("load task after worker exit")
		return
	}
	if task == nil {
		return
	}

	if exitErr == nil {
		worker.TerminationReason = "success"
		worker.TasksCompleted = 1
		if err := s.store.UpdateWorker(ctx, worker); err != nil {
			s.logger.Error().Err(err).Str("worker_id", worker.ID).Msg("persist worker success")
		}

		task.Status = types.StatusCompleted
		if err := s.store.UpdateTask(ctx, task); err != nil {
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("mark task completed")
		}
		s.publish(events.EventTaskCompleted, task.ID, map[string]string{"worker_id": worker.ID})

		if list, err := s.store.GetTaskList(ctx, worker.TaskListID); err == nil && list != nil {
			if err := s.reconcileListCapped(ctx, list, list.MaxWorkers); err != nil {
				s.logger.Error().Err(err).Str("task_list_id", list.ID).Msg("rescan after worker success")
			}
		}
		return
	}

	worker.TerminationReason = describeExit(exitErr)
	worker.TasksFailed = 1
	worker.ErrorMessage = exitErr.Error()
	if err := s.store.UpdateWorker(ctx, worker); err != nil {
		s.logger.Error().Err(err).Str("worker_id", worker.ID).Msg("persist worker failure")
	}

	task.Status = types.StatusFailed
	task.LastError = exitErr.Error()
	if err := s.store.UpdateTask(ctx, task); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("mark task failed")
	}

	s.logger.Warn().Str("worker_id", worker.ID).Str("task_id", task.ID).Err(exitErr).Msg("worker exited with failure")
	s.publish(events.EventTaskFailed, task.ID, map[string]string{
		"worker_id": worker.ID,
		"reason":    worker.TerminationReason,
		"error":     exitErr.Error(),
	})
}

func describeExit(err error) string {
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if status, ok := exitErr.Sys().(interface{ ExitStatus() int }); ok {
			return fmt.Sprintf("exit_code_%d", status.ExitStatus())
		}
	}
	return "exit_code_unknown"
}

func asExitError(err error, target **exec.ExitError) bool {
	e, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = e
	return true
}

// PauseWorker requests the single worker for workerID to pause via
// SIGUSR1, a cooperative signal a worker binary may handle by
// checkpointing and exiting 0 rather than being force-killed.
func (s *Supervisor) PauseWorker(workerID string) error {
	s.mu.Lock()
	rw, ok := s.procs[workerID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no running worker %s", workerID)
	}
	return rw.cmd.Process.Signal(syscall.SIGUSR1)
}

// Terminate stops a worker: SIGTERM, then SIGKILL if it hasn't exited
// within terminateGrace. Marks the worker terminated with reason and, if
// it had a task, fails the task immediately rather than waiting for
// awaitExit to race the classification.
func (s *Supervisor) Terminate(ctx context.Context, workerID string, reason string) error {
	s.mu.Lock()
	rw, ok := s.procs[workerID]
	if ok {
		rw.explicitReason = reason
	}
	s.mu.Unlock()
	if !ok {
		return nil // already gone
	}

	now := time.Now()
	rw.worker.Status = types.WorkerTerminated
	rw.worker.TerminatedAt = &now
	rw.worker.TerminationReason = reason
	if err := s.store.UpdateWorker(ctx, rw.worker); err != nil {
		s.logger.Error().Err(err).Str("worker_id", workerID).Msg("persist worker termination")
	}

	if task, err := s.store.GetTask(ctx, rw.worker.TaskID); err == nil && task != nil && !task.Status.Terminal() {
		task.Status = types.StatusFailed
		task.LastError = "worker terminated: " + reason
		if err := s.store.UpdateTask(ctx, task); err != nil {
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("fail task on terminate")
		}
		s.publish(events.EventTaskFailed, task.ID, map[string]string{"worker_id": workerID, "reason": reason})
	}

	if err := rw.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal worker %s: %w", workerID, err)
	}

	go func() {
		select {
		case <-time.After(terminateGrace):
			_ = rw.cmd.Process.Kill()
		case <-ctx.Done():
			_ = rw.cmd.Process.Kill()
		}
	}()

	metrics.WorkersTerminatedTotal.WithLabelValues(reason).Inc()
	return nil
}

// GetActiveWorkers returns every worker the store still considers live.
func (s *Supervisor) GetActiveWorkers(ctx context.Context) ([]*types.WorkerInstance, error) {
	return s.store.ListActiveWorkers(ctx)
}

// GetWorker returns a single worker by ID.
func (s *Supervisor) GetWorker(ctx context.Context, id string) (*types.WorkerInstance, error) {
	return s.store.GetWorker(ctx, id)
}

// RecordHeartbeat persists a heartbeat and refreshes the worker's liveness
// bookkeeping, resetting its missed-heartbeat counter.
func (s *Supervisor) RecordHeartbeat(ctx context.Context, hb *types.Heartbeat) error {
	hb.ReceivedAt = time.Now()
	if err := s.store.CreateHeartbeat(ctx, hb); err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}

	worker, err := s.store.GetWorker(ctx, hb.WorkerID)
	if err != nil {
		return fmt.Errorf("load worker %s: %w", hb.WorkerID, err)
	}
	if worker == nil {
		return fmt.Errorf("heartbeat for unknown worker %s", hb.WorkerID)
	}

	worker.LastHeartbeatAt = hb.ReceivedAt
	worker.HeartbeatCount++
	worker.MissedHeartbeats = 0
	if hb.Status != "" {
		worker.Status = hb.Status
	}

	if err := s.store.UpdateWorker(ctx, worker); err != nil {
		return fmt.Errorf("update worker %s: %w", hb.WorkerID, err)
	}

	metrics.HeartbeatsReceivedTotal.Inc()
	return nil
}

func (s *Supervisor) publish(t events.EventType, taskID string, metadata map[string]string) {
	if s.broker == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["task_id"] = taskID
	s.broker.Publish(&events.Event{
		Type:      t,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
}
