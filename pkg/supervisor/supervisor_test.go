package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/events"
	"github.com/nenadatanasovski/taskcore/pkg/planner"
	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// TestMain verifies that supervisors (with their worker exit watchers) and
// brokers don't leak goroutines once every test in the package has torn its
// own fixtures down; newTestSupervisor stops both on cleanup.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// alwaysOK never blocks parallel execution; the planner tests cover
// conflict partitioning in depth, so supervisor tests only need a fake
// that's always permissive.
type alwaysOK struct{}

func (alwaysOK) CanRunParallel(ctx context.Context, a, b string) (bool, error) { return true, nil }

// writeScript drops an executable shell script in the test's temp dir and
// returns its path. Used as a stand-in worker binary: args are ignored,
// exactly like a real worker would ignore flags it doesn't recognize.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fakeworker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestSupervisor(t *testing.T, binary string) (*Supervisor, storage.Store, *events.Broker) {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	p := planner.New(alwaysOK{})
	sup := New(Config{WorkerBinary: binary}, store, p, broker)
	t.Cleanup(sup.Stop)
	return sup, store, broker
}

func seedList(t *testing.T, ctx context.Context, store storage.Store, listID string, maxWorkers int) *types.TaskList {
	t.Helper()
	list := &types.TaskList{
		ID: listID, Name: listID, Status: types.ListStatusDraft, MaxWorkers: maxWorkers,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreateTaskList(ctx, list))
	return list
}

func seedTask(t *testing.T, ctx context.Context, store storage.Store, listID, taskID string) *types.Task {
	t.Helper()
	task := &types.Task{
		ID: taskID, DisplayID: taskID, Title: taskID, Category: types.CategoryTask,
		Status: types.StatusPending, Priority: types.PriorityP2, Effort: types.EffortSmall,
		TaskListID: &listID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreateTask(ctx, task))
	return task
}

func drain(sub events.Subscriber, want events.EventType, timeout time.Duration) *events.Event {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sub:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			return nil
		}
	}
}

func TestStartExecutionSpawnsWaveAndTransitionsListInProgress(t *testing.T) {
	ctx := context.Background()
	sup, store, broker := newTestSupervisor(t, writeScript(t, "exit 0"))
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	list := seedList(t, ctx, store, "list-1", 2)
	seedTask(t, ctx, store, "list-1", "task-1")

	require.NoError(t, sup.StartExecution(ctx, list, 0))

	updated, err := store.GetTaskList(ctx, "list-1")
	require.NoError(t, err)
	assert.Equal(t, types.ListStatusInProgress, updated.Status)

	ev := drain(sub, events.EventTaskCompleted, 2*time.Second)
	require.NotNil(t, ev, "expected task.completed after worker exits 0")
	assert.Equal(t, "task-1", ev.Metadata["task_id"])

	task, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, task.Status)
}

func TestStartExecutionRefusesAlreadyInProgressList(t *testing.T) {
	ctx := context.Background()
	sup, store, _ := newTestSupervisor(t, writeScript(t, "exit 0"))
	list := seedList(t, ctx, store, "list-1", 2)
	list.Status = types.ListStatusInProgress
	require.NoError(t, store.UpdateTaskList(ctx, list))

	err := sup.StartExecution(ctx, list, 0)
	assert.Error(t, err)
}

func TestWorkerNonZeroExitFailsTaskAndPublishesEvent(t *testing.T) {
	ctx := context.Background()
	sup, store, broker := newTestSupervisor(t, writeScript(t, "exit 1"))
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	list := seedList(t, ctx, store, "list-1", 2)
	seedTask(t, ctx, store, "list-1", "task-1")

	require.NoError(t, sup.StartExecution(ctx, list, 0))

	ev := drain(sub, events.EventTaskFailed, 2*time.Second)
	require.NotNil(t, ev, "expected task.failed after worker exits non-zero")
	assert.Equal(t, "task-1", ev.Metadata["task_id"])

	task, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, task.Status)
	assert.NotEmpty(t, task.LastError)
}

func TestTerminateKillsLongRunningWorkerAndFailsTask(t *testing.T) {
	ctx := context.Background()
	sup, store, _ := newTestSupervisor(t, writeScript(t, "sleep 30"))
	list := seedList(t, ctx, store, "list-1", 2)
	seedTask(t, ctx, store, "list-1", "task-1")
	require.NoError(t, sup.StartExecution(ctx, list, 0))

	active, err := store.ListActiveWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	workerID := active[0].ID

	termCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	require.NoError(t, sup.Terminate(termCtx, workerID, "test teardown"))

	w, err := store.GetWorker(ctx, workerID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerTerminated, w.Status)
	assert.Equal(t, "test teardown", w.TerminationReason)

	task, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, task.Status)
}

func TestRecordHeartbeatResetsMissedCounter(t *testing.T) {
	ctx := context.Background()
	sup, store, _ := newTestSupervisor(t, "")

	worker := &types.WorkerInstance{
		ID: "worker-1", TaskID: "task-1", TaskListID: "list-1", PID: 1,
		Status: types.WorkerRunning, SpawnedAt: time.Now(),
		LastHeartbeatAt: time.Now().Add(-time.Hour), MissedHeartbeats: 2,
	}
	require.NoError(t, store.CreateWorker(ctx, worker))

	progress := 55
	require.NoError(t, sup.RecordHeartbeat(ctx, &types.Heartbeat{
		ID: "hb-1", WorkerID: "worker-1", TaskID: "task-1",
		Status: types.WorkerRunning, Progress: &progress, SentAt: time.Now(),
	}))

	got, err := store.GetWorker(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.MissedHeartbeats)
	assert.Equal(t, 1, got.HeartbeatCount)
	assert.WithinDuration(t, time.Now(), got.LastHeartbeatAt, 2*time.Second)
}

func TestCheckHeartbeatsTerminatesUnresponsiveWorker(t *testing.T) {
	ctx := context.Background()
	sup, store, _ := newTestSupervisor(t, writeScript(t, "sleep 30"))
	list := seedList(t, ctx, store, "list-1", 2)
	seedTask(t, ctx, store, "list-1", "task-1")
	require.NoError(t, sup.StartExecution(ctx, list, 0))

	active, err := store.ListActiveWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	worker := active[0]
	worker.LastHeartbeatAt = time.Now().Add(-2 * sup.cfg.HeartbeatTimeout)
	worker.MissedHeartbeats = sup.cfg.MissedThreshold - 1
	require.NoError(t, store.UpdateWorker(ctx, worker))

	sup.checkHeartbeats()

	require.Eventually(t, func() bool {
		w, err := store.GetWorker(ctx, worker.ID)
		return err == nil && w != nil && w.Status == types.WorkerTerminated && w.TerminationReason == "heartbeat_timeout"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPauseAndResumeExecution(t *testing.T) {
	ctx := context.Background()
	sup, store, _ := newTestSupervisor(t, writeScript(t, "sleep 30"))
	list := seedList(t, ctx, store, "list-1", 2)
	seedTask(t, ctx, store, "list-1", "task-1")
	require.NoError(t, sup.StartExecution(ctx, list, 0))

	require.NoError(t, sup.PauseExecution(ctx, "list-1"))
	paused, err := store.GetTaskList(ctx, "list-1")
	require.NoError(t, err)
	assert.Equal(t, types.ListStatusPaused, paused.Status)

	// Running worker is untouched by pause.
	active, err := store.ListActiveWorkers(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, sup.ResumeExecution(ctx, "list-1"))
	resumed, err := store.GetTaskList(ctx, "list-1")
	require.NoError(t, err)
	assert.Equal(t, types.ListStatusInProgress, resumed.Status)
}
