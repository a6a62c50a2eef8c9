package failure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/events"
	"github.com/nenadatanasovski/taskcore/pkg/log"
	"github.com/nenadatanasovski/taskcore/pkg/metrics"
	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// WorkerController is the subset of the supervisor the engine needs to
// act on its decisions. Declaring it here rather than importing
// pkg/supervisor keeps the two packages decoupled; *supervisor.Supervisor
// satisfies this structurally.
type WorkerController interface {
	RetryWithContext(ctx context.Context, task *types.Task, taskListID string) (*types.WorkerInstance, error)
	RescanList(ctx context.Context, listID string) error
}

// Engine absorbs worker outcomes published on the event broker, decides
// what to do about failures, and protects the rest of a task list's graph
// from a single task's failure.
type Engine struct {
	store     storage.Store
	ctl       WorkerController
	broker    *events.Broker
	inspector InspectionAgent
	breaker   *gobreaker.CircuitBreaker
	logger    zerolog.Logger

	mu          sync.Mutex
	seenFailure map[string]bool // worker_id|error message, for idempotence
	stopped     chan struct{}
	wg          sync.WaitGroup
}

// New builds an Engine. inspector may be nil, in which case escalation
// still marks the task escalated but never calls out; useful for tests
// and for deployments where no inspection agent is configured yet.
func New(store storage.Store, ctl WorkerController, broker *events.Broker, inspector InspectionAgent) *Engine {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inspection-agent",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Engine{
		store:       store,
		ctl:         ctl,
		broker:      broker,
		inspector:   inspector,
		breaker:     breaker,
		logger:      log.WithComponent("failure"),
		seenFailure: make(map[string]bool),
		stopped:     make(chan struct{}),
	}
}

// Start subscribes to the broker and begins processing task.failed and
// task.completed events in its own goroutine.
func (e *Engine) Start() {
	sub := e.broker.Subscribe()
	e.wg.Add(1)
	go e.run(sub)
}

// Stop unsubscribes and waits for the processing goroutine to exit.
func (e *Engine) Stop() {
	close(e.stopped)
	e.wg.Wait()
}

func (e *Engine) run(sub events.Subscriber) {
	defer e.wg.Done()
	defer e.broker.Unsubscribe(sub)

	ctx := context.Background()
	for {
		select {
		case ev := <-sub:
			e.handleEvent(ctx, ev)
		case <-e.stopped:
			return
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev *events.Event) {
	taskID := ev.Metadata["task_id"]
	if taskID == "" {
		return
	}

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		return
	}

	switch ev.Type {
	case events.EventTaskFailed:
		workerID := ev.Metadata["worker_id"]
		reason := ev.Metadata["reason"]
		errMsg := ev.Metadata["error"]
		if errMsg == "" {
			errMsg = reason
		}
		if err := e.RecordFailure(ctx, task, workerID, reason, errMsg); err != nil {
			e.logger.Error().Err(err).Str("task_id", taskID).Msg("record failure")
		}
	case events.EventTaskCompleted:
		if err := e.RecordSuccess(ctx, task); err != nil {
			e.logger.Error().Err(err).Str("task_id", taskID).Msg("record success")
		}
	}
}

// RecordSuccess resets a task's consecutive-failure counter, per P7.
func (e *Engine) RecordSuccess(ctx context.Context, task *types.Task) error {
	if task.ConsecutiveFailures == 0 {
		return nil
	}
	task.ConsecutiveFailures = 0
	task.LastError = ""
	return e.store.UpdateTask(ctx, task)
}

// RecordFailure classifies one worker failure, advances the task's
// consecutive-failure counter, decides what to do next, and carries that
// decision out. reason is the supervisor's termination reason
// (exit_code_N, heartbeat_timeout, spawn_failed); errMessage is the
// human-readable error, which may be the same string.
func (e *Engine) RecordFailure(ctx context.Context, task *types.Task, workerID, reason, errMessage string) error {
	if e.isDuplicate(workerID, errMessage) {
		return nil
	}

	kind := Classify(reason+" "+errMessage, parseExitCode(reason))

	task.ConsecutiveFailures++
	task.LastError = errMessage
	task.Status = types.StatusFailed
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("record failure for task %s: %w", task.ID, err)
	}

	if task.TaskListID != nil {
		if err := e.blockDependents(ctx, task); err != nil {
			e.logger.Error().Err(err).Str("task_id", task.ID).Msg("block transitive dependents")
		}
		if err := e.ctl.RescanList(ctx, *task.TaskListID); err != nil {
			e.logger.Error().Err(err).Str("task_list_id", *task.TaskListID).Msg("rescan list after failure")
		}
	}

	decision := Decide(kind, task.ConsecutiveFailures, task.Escalated)
	e.logger.Info().Str("task_id", task.ID).Str("kind", string(kind)).Str("action", string(decision.Action)).
		Int("consecutive_failures", task.ConsecutiveFailures).Msg("failure decision")

	switch decision.Action {
	case ActionRetryNow:
		return e.retry(ctx, task)
	case ActionRetryWithBackoff:
		e.retryAfter(task, decision.Delay)
		return nil
	case ActionEscalate:
		return e.escalate(ctx, task)
	case ActionAbandon:
		e.logger.Warn().Str("task_id", task.ID).Msg("task abandoned after unresolved escalation")
		return nil
	}
	return nil
}

func (e *Engine) retry(ctx context.Context, task *types.Task) error {
	if task.TaskListID == nil {
		return nil
	}
	_, err := e.ctl.RetryWithContext(ctx, task, *task.TaskListID)
	return err
}

// retryAfter schedules a retry after delay in its own goroutine so the
// caller (the event-processing loop) isn't blocked waiting for a backoff
// window to elapse. The retry is dropped if the task is escalated by the
// time the delay has passed.
func (e *Engine) retryAfter(task *types.Task, delay time.Duration) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-time.After(delay):
		case <-e.stopped:
			return
		}
		ctx := context.Background()
		if fresh, err := e.store.GetTask(ctx, task.ID); err == nil && fresh != nil && fresh.Escalated {
			return
		}
		if err := e.retry(ctx, task); err != nil {
			e.logger.Error().Err(err).Str("task_id", task.ID).Msg("backed-off retry")
		}
	}()
}

// escalate assembles the diagnosis bundle, marks the task escalated, and
// invokes the inspection agent through the circuit breaker. The task
// isn't retried until this returns; a failed or refused call leaves
// task.Escalated set, so the next failure is abandoned rather than
// escalated again.
func (e *Engine) escalate(ctx context.Context, task *types.Task) error {
	now := time.Now()
	task.Escalated = true
	task.EscalatedAt = &now
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("mark task %s escalated: %w", task.ID, err)
	}
	metrics.TasksEscalatedTotal.Inc()

	if e.inspector == nil {
		return nil
	}

	bundle, err := e.buildDiagnosisBundle(ctx, task)
	if err != nil {
		return fmt.Errorf("build diagnosis bundle for %s: %w", task.ID, err)
	}

	timer := metrics.NewTimer()
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.inspector.Inspect(ctx, bundle)
	})
	timer.ObserveDuration(metrics.InspectionAgentDuration)

	if err != nil {
		metrics.InspectionAgentCallsTotal.WithLabelValues("error").Inc()
		e.logger.Warn().Err(err).Str("task_id", task.ID).Msg("inspection agent call failed, escalation unresolved")
		return nil
	}

	metrics.InspectionAgentCallsTotal.WithLabelValues("success").Inc()
	e.logger.Info().Str("task_id", task.ID).Interface("result", result).Msg("inspection agent returned")

	// Resolved: clear the escalation flag so a future failure is judged
	// on its own merits instead of being abandoned outright.
	task.Escalated = false
	return e.store.UpdateTask(ctx, task)
}

func (e *Engine) isDuplicate(workerID, errMessage string) bool {
	key := workerID + "|" + errMessage
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seenFailure[key] {
		return true
	}
	e.seenFailure[key] = true
	return false
}
