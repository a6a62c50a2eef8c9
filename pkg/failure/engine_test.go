package failure

import (
	"context"
	"testing"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/events"
	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController records every call made through WorkerController instead
// of actually spawning anything, so tests can assert on intent.
type fakeController struct {
	retried  []string
	rescans  []string
	retryErr error
}

func (f *fakeController) RetryWithContext(ctx context.Context, task *types.Task, taskListID string) (*types.WorkerInstance, error) {
	f.retried = append(f.retried, task.ID)
	return &types.WorkerInstance{ID: "worker-retry"}, f.retryErr
}

func (f *fakeController) RescanList(ctx context.Context, listID string) error {
	f.rescans = append(f.rescans, listID)
	return nil
}

// fakeInspector returns a canned result, or an error when told to, so
// tests can exercise both the resolved and unresolved escalation paths.
type fakeInspector struct {
	calls int
	err   error
}

func (f *fakeInspector) Inspect(ctx context.Context, bundle DiagnosisBundle) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "looks like a flaky dependency", nil
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTaskList(t *testing.T, ctx context.Context, store storage.Store, id string) {
	t.Helper()
	require.NoError(t, store.CreateTaskList(ctx, &types.TaskList{
		ID: id, Name: id, Status: types.ListStatusInProgress, MaxWorkers: 3,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
}

func seedFailureTask(t *testing.T, ctx context.Context, store storage.Store, listID, taskID string, status types.TaskStatus) *types.Task {
	t.Helper()
	task := &types.Task{
		ID: taskID, DisplayID: taskID, Title: taskID, Category: types.CategoryTask,
		Status: status, Priority: types.PriorityP2, Effort: types.EffortSmall,
		TaskListID: &listID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreateTask(ctx, task))
	return task
}

func TestClassifyKnownPatterns(t *testing.T) {
	assert.Equal(t, KindTimeout, Classify("operation timed out", -1))
	assert.Equal(t, KindTimeout, Classify("heartbeat_timeout", -1))
	assert.Equal(t, KindRateLimit, Classify("429 too many requests", -1))
	assert.Equal(t, KindSyntax, Classify("syntax error near line 4", -1))
	assert.Equal(t, KindResourceExhausted, Classify("killed", 137))
	assert.Equal(t, KindTimeout, Classify("killed", 124))
	assert.Equal(t, KindUnknown, Classify("something went sideways", -1))
}

func TestDecideEscalatesAtThreeConsecutiveFailures(t *testing.T) {
	d := Decide(KindUnknown, 3, false)
	assert.Equal(t, ActionEscalate, d.Action)
}

func TestDecideRetriesSyntaxImmediatelyUpToTwoAttempts(t *testing.T) {
	assert.Equal(t, ActionRetryNow, Decide(KindSyntax, 1, false).Action)
	assert.Equal(t, ActionRetryNow, Decide(KindSyntax, 2, false).Action)
	assert.Equal(t, ActionEscalate, Decide(KindSyntax, 3, false).Action)
}

func TestDecideBacksOffTransientFailures(t *testing.T) {
	d1 := Decide(KindTransientNetwork, 1, false)
	d2 := Decide(KindTransientNetwork, 2, false)
	require.Equal(t, ActionRetryWithBackoff, d1.Action)
	require.Equal(t, ActionRetryWithBackoff, d2.Action)
	assert.Greater(t, d2.Delay, d1.Delay)
}

func TestDecideAbandonsWhenStillEscalated(t *testing.T) {
	d := Decide(KindTimeout, 1, true)
	assert.Equal(t, ActionAbandon, d.Action)
}

// S3: chain T1 -> T2 -> T3 (T2 depends_on T1, T3 depends_on T2); T1 fails.
// T2 and T3 should end up blocked, referencing T1; sibling T4 (no
// dependency on T1) should remain pending and eligible for the next
// rescan.
func TestTransitiveBlockingChain(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedTaskList(t, ctx, store, "list-1")

	seedFailureTask(t, ctx, store, "list-1", "t1", types.StatusInProgress)
	seedFailureTask(t, ctx, store, "list-1", "t2", types.StatusPending)
	seedFailureTask(t, ctx, store, "list-1", "t3", types.StatusPending)
	seedFailureTask(t, ctx, store, "list-1", "t4", types.StatusPending)

	require.NoError(t, store.CreateRelationship(ctx, &types.Relationship{
		ID: "r1", FromTask: "t2", ToTask: "t1", Kind: types.RelationDependsOn, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateRelationship(ctx, &types.Relationship{
		ID: "r2", FromTask: "t3", ToTask: "t2", Kind: types.RelationDependsOn, CreatedAt: time.Now(),
	}))

	ctl := &fakeController{}
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	engine := New(store, ctl, broker, nil)
	t.Cleanup(engine.Stop)

	t1, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, engine.RecordFailure(ctx, t1, "worker-1", "exit_code_1", "boom"))

	t1After, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, t1After.Status)

	t2, err := store.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBlocked, t2.Status)
	require.NotNil(t, t2.BlockedByTaskID)
	assert.Equal(t, "t1", *t2.BlockedByTaskID)

	t3, err := store.GetTask(ctx, "t3")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBlocked, t3.Status)

	t4, err := store.GetTask(ctx, "t4")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, t4.Status)

	assert.Contains(t, ctl.rescans, "list-1")
}

// S5: task fails three times with the same error message "timeout".
// The third failure escalates: the inspector is called exactly once, the
// escalation flag is cleared after it returns successfully, and no retry
// has been attempted.
func TestEscalatesAfterThreeTimeoutFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedTaskList(t, ctx, store, "list-1")
	task := seedFailureTask(t, ctx, store, "list-1", "t1", types.StatusInProgress)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateWorker(ctx, &types.WorkerInstance{
			ID: workerIDFor(i), TaskID: "t1", TaskListID: "list-1",
			Status: types.WorkerTerminated, SpawnedAt: time.Now(),
			ErrorMessage: "timeout",
		}))
	}

	ctl := &fakeController{}
	inspector := &fakeInspector{}
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	engine := New(store, ctl, broker, inspector)
	t.Cleanup(engine.Stop)

	for i := 0; i < 3; i++ {
		fresh, err := store.GetTask(ctx, "t1")
		require.NoError(t, err)
		*task = *fresh
		require.NoError(t, engine.RecordFailure(ctx, task, workerIDFor(i), "heartbeat_timeout", "timeout"))
	}

	final, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, final.Escalated == false, "escalation should resolve once the inspector returns successfully")
	assert.Equal(t, 1, inspector.calls)
	assert.Empty(t, ctl.retried, "task should not be retried while escalation is pending or after it resolves")
}

func TestDuplicateFailureDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedTaskList(t, ctx, store, "list-1")
	task := seedFailureTask(t, ctx, store, "list-1", "t1", types.StatusInProgress)

	ctl := &fakeController{}
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	engine := New(store, ctl, broker, nil)
	t.Cleanup(engine.Stop)

	require.NoError(t, engine.RecordFailure(ctx, task, "worker-1", "exit_code_1", "boom"))
	require.NoError(t, engine.RecordFailure(ctx, task, "worker-1", "exit_code_1", "boom"))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ConsecutiveFailures)
}

func TestRecordSuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedTaskList(t, ctx, store, "list-1")
	task := seedFailureTask(t, ctx, store, "list-1", "t1", types.StatusInProgress)
	task.ConsecutiveFailures = 2
	task.LastError = "boom"
	require.NoError(t, store.UpdateTask(ctx, task))

	ctl := &fakeController{}
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	engine := New(store, ctl, broker, nil)
	t.Cleanup(engine.Stop)

	require.NoError(t, engine.RecordSuccess(ctx, task))

	got, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	assert.Empty(t, got.LastError)
}

func workerIDFor(i int) string {
	return [3]string{"worker-a", "worker-b", "worker-c"}[i]
}
