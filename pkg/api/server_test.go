package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/cascade"
	"github.com/nenadatanasovski/taskcore/pkg/events"
	"github.com/nenadatanasovski/taskcore/pkg/gatekeeper"
	"github.com/nenadatanasovski/taskcore/pkg/planner"
	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/supervisor"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, storage.Store, *events.Broker) {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	gate := gatekeeper.New(store)
	plan := planner.New(gate)
	sup := supervisor.New(supervisor.Config{WorkerBinary: "/bin/true"}, store, plan, broker)
	t.Cleanup(sup.Stop)

	srv := NewServer(store, sup, gate, plan, broker)
	return srv, store, broker
}

func TestHandleHeartbeatIngestsAndForwards(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := t.Context()

	require.NoError(t, store.CreateTaskList(ctx, &types.TaskList{
		ID: "list-1", Name: "list-1", Status: types.ListStatusInProgress, MaxWorkers: 1,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateTask(ctx, &types.Task{
		ID: "t1", DisplayID: "t1", Title: "t1", Category: types.CategoryTask,
		Status: types.StatusInProgress, Priority: types.PriorityP2, Effort: types.EffortSmall,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateWorker(ctx, &types.WorkerInstance{
		ID: "w1", TaskID: "t1", TaskListID: "list-1", Status: types.WorkerRunning, SpawnedAt: time.Now(),
	}))

	body, _ := json.Marshal(map[string]interface{}{
		"worker_id": "w1", "task_id": "t1", "status": "running", "step": "compiling",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/heartbeats", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	hb, err := store.LastHeartbeat(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, hb)
	assert.Equal(t, "compiling", hb.Step)
}

func TestHandleEditTaskPublishesCascadeTrigger(t *testing.T) {
	srv, store, broker := newTestServer(t)
	ctx := t.Context()

	require.NoError(t, store.CreateTaskList(ctx, &types.TaskList{
		ID: "list-1", Name: "list-1", Status: types.ListStatusInProgress, MaxWorkers: 1,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	listID := "list-1"
	require.NoError(t, store.CreateTask(ctx, &types.Task{
		ID: "t1", DisplayID: "t1", Title: "t1", Category: types.CategoryTask,
		Status: types.StatusPending, Priority: types.PriorityP2, Effort: types.EffortSmall,
		TaskListID: &listID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	body, _ := json.Marshal(map[string]string{"status": "blocked"})
	req := httptest.NewRequest(http.MethodPatch, "/v1/tasks/t1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventTaskEdited, ev.Type)
		assert.Equal(t, "t1", ev.Metadata["task_id"])
		assert.Equal(t, "status_changed", ev.Metadata["trigger"])
	case <-time.After(time.Second):
		t.Fatal("expected a task.edited event to be published")
	}

	task, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusBlocked, task.Status)
}

func TestHandleCascadePreviewReturnsEffectsWithoutApplying(t *testing.T) {
	srv, store, _ := newTestServer(t)
	ctx := t.Context()

	require.NoError(t, store.CreateTaskList(ctx, &types.TaskList{
		ID: "list-1", Name: "list-1", Status: types.ListStatusInProgress, MaxWorkers: 1,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	listID := "list-1"
	require.NoError(t, store.CreateTask(ctx, &types.Task{
		ID: "t1", DisplayID: "t1", Title: "t1", Category: types.CategoryTask,
		Status: types.StatusBlocked, Priority: types.PriorityP2, Effort: types.EffortSmall,
		TaskListID: &listID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateTask(ctx, &types.Task{
		ID: "t2", DisplayID: "t2", Title: "t2", Category: types.CategoryTask,
		Status: types.StatusPending, Priority: types.PriorityP2, Effort: types.EffortSmall,
		TaskListID: &listID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateRelationship(ctx, &types.Relationship{
		ID: "rel-1", FromTask: "t2", ToTask: "t1", Kind: types.RelationDependsOn, CreatedAt: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/t1/cascade?trigger=status_changed", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var report cascade.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEmpty(t, report.DirectEffects)

	// Analyze must not have mutated anything: t2 is still pending.
	task, err := store.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, task.Status)
}

func TestHandleGetTaskNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/missing", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
