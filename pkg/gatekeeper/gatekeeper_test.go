package gatekeeper

import (
	"context"
	"testing"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustCreateTaskList(t *testing.T, ctx context.Context, s storage.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateTaskList(ctx, &types.TaskList{
		ID: id, Name: id, Status: types.ListStatusInProgress, MaxWorkers: 2,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
}

func TestCalculateReadinessReadyTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreateTaskList(t, ctx, store, "list-1")
	listID := "list-1"

	require.NoError(t, store.CreateTask(ctx, &types.Task{
		ID: "task-1", DisplayID: "TASK-1", Title: "add health endpoint",
		Description: "Add a /healthz endpoint returning 200 when the process is ready to serve traffic, matching the existing readiness check shape.",
		Category:    types.CategoryAPI, Status: types.StatusPending, Priority: types.PriorityP2,
		Effort: types.EffortSmall, TaskListID: &listID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateImpact(ctx, &types.Impact{
		ID: "impact-1", TaskID: "task-1", Kind: types.ImpactFile, Operation: types.OpCreate,
		TargetPath: "pkg/api/health.go", Provenance: types.ProvenanceAI, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateAppendix(ctx, &types.Appendix{
		ID: "app-1", TaskID: "task-1", Kind: types.AppendixAcceptanceCriteria,
		Content: "GET /healthz returns 200 with body {\"status\":\"ok\"}", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateAppendix(ctx, &types.Appendix{
		ID: "app-2", TaskID: "task-1", Kind: types.AppendixTestContext,
		Content: "go test ./pkg/api/... -run TestHealth", CreatedAt: time.Now(),
	}))

	gk := New(store)
	score, err := gk.CalculateReadiness(ctx, "task-1")
	require.NoError(t, err)

	assert.True(t, score.Ready, "expected score >= 70, got %d", score.Overall)
	assert.Equal(t, 100, score.Testable)
	assert.Equal(t, 100, score.ClearCompletion)
	assert.Equal(t, 100, score.Independent)
	assert.Empty(t, score.Missing)
}

func TestCalculateReadinessVagueTaskNotReady(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreateTaskList(t, ctx, store, "list-1")
	listID := "list-1"

	require.NoError(t, store.CreateTask(ctx, &types.Task{
		ID: "task-1", DisplayID: "TASK-1", Title: "improve things",
		Description: "make it better", Category: types.CategoryEnhancement,
		Status: types.StatusPending, Priority: types.PriorityP3, Effort: types.EffortEpic,
		TaskListID: &listID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	gk := New(store)
	score, err := gk.CalculateReadiness(ctx, "task-1")
	require.NoError(t, err)

	assert.False(t, score.Ready)
	assert.Contains(t, score.Missing, "testable")
	assert.Contains(t, score.Missing, "clear_completion")
}

func TestReadinessIsCached(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreateTaskList(t, ctx, store, "list-1")
	listID := "list-1"
	require.NoError(t, store.CreateTask(ctx, &types.Task{
		ID: "task-1", DisplayID: "TASK-1", Title: "t", Category: types.CategoryTask,
		Status: types.StatusPending, Priority: types.PriorityP2, Effort: types.EffortSmall,
		TaskListID: &listID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	gk := New(store)
	first, err := gk.CalculateReadiness(ctx, "task-1")
	require.NoError(t, err)

	// Mutate storage directly; a cached read should not see the change.
	require.NoError(t, store.CreateAppendix(ctx, &types.Appendix{
		ID: "app-1", TaskID: "task-1", Kind: types.AppendixAcceptanceCriteria,
		Content: "done when x", CreatedAt: time.Now(),
	}))

	second, err := gk.CalculateReadiness(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, first.Overall, second.Overall)

	gk.Invalidate("task-1")
	third, err := gk.CalculateReadiness(ctx, "task-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.Overall, third.Overall)
}

func TestScoreSingleConcernPenalizesConjunctiveHintsAndKeywordSpread(t *testing.T) {
	assert.Equal(t, 100, scoreSingleConcern("add health endpoint", "returns 200 when ready"))
	assert.Equal(t, 70, scoreSingleConcern("fix the database and also the api", "single conjunctive hint"))
	assert.Equal(t, 40, scoreSingleConcern("rework database api ui frontend", "touches four components, no conjunctions"))
	assert.Equal(t, 10, scoreSingleConcern("database api ui", "frontend backend test, and also everything else"))
}

func TestScoreIndependentIgnoresResolvedDependencies(t *testing.T) {
	deps := []*types.Relationship{
		{ID: "r1", FromTask: "t1", ToTask: "done", Kind: types.RelationDependsOn},
		{ID: "r2", FromTask: "t1", ToTask: "pending", Kind: types.RelationDependsOn},
	}
	statuses := map[string]types.TaskStatus{
		"done":    types.StatusCompleted,
		"pending": types.StatusPending,
	}
	assert.Equal(t, 70, scoreIndependent(deps, "t1", statuses))

	allDone := map[string]types.TaskStatus{"done": types.StatusCompleted, "pending": types.StatusSkipped}
	assert.Equal(t, 100, scoreIndependent(deps, "t1", allDone))
}

func TestScoreBoundedFilesZeroImpactsIsAWarningNotFullCredit(t *testing.T) {
	assert.Equal(t, 70, scoreBoundedFiles(nil))
	assert.Equal(t, 100, scoreBoundedFiles([]*types.Impact{
		{Kind: types.ImpactFile, Operation: types.OpUpdate, TargetPath: "a.go"},
	}))
}

func TestScoreTestableIsAllOrNothingOnTestContextOnly(t *testing.T) {
	assert.Equal(t, 0, scoreTestable(nil))
	assert.Equal(t, 0, scoreTestable([]*types.Appendix{{Kind: types.AppendixAcceptanceCriteria, Content: "x"}}))
	assert.Equal(t, 100, scoreTestable([]*types.Appendix{{Kind: types.AppendixTestContext, Content: "go test ./..."}}))
}

func TestScoreClearCompletionRequiresNonEmptyAcceptanceCriteria(t *testing.T) {
	assert.Equal(t, 0, scoreClearCompletion(nil))
	assert.Equal(t, 0, scoreClearCompletion([]*types.Appendix{{Kind: types.AppendixAcceptanceCriteria, Content: "   "}}), "blank content doesn't count as non-empty")
	assert.Equal(t, 100, scoreClearCompletion([]*types.Appendix{{Kind: types.AppendixAcceptanceCriteria, Content: "done when x passes"}}))
	assert.Equal(t, 100, scoreClearCompletion([]*types.Appendix{{Kind: types.AppendixAcceptanceCriteria, RefTable: "prd_criteria", RefID: "c1"}}), "by-reference appendix still counts")
}

func TestScoreTimeBoundedPassesMedium(t *testing.T) {
	assert.Equal(t, 100, scoreTimeBounded(types.EffortMedium))
	assert.Equal(t, 40, scoreTimeBounded(types.EffortLarge))
	assert.Equal(t, 10, scoreTimeBounded(types.EffortEpic))
}

func TestCanRunParallel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	mustCreateTaskList(t, ctx, store, "list-1")
	listID := "list-1"
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateTask(ctx, &types.Task{
			ID: id, DisplayID: id, Title: id, Category: types.CategoryTask,
			Status: types.StatusPending, Priority: types.PriorityP2, Effort: types.EffortSmall,
			TaskListID: &listID, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}))
	}

	// a and b both update the same file: blocking.
	require.NoError(t, store.CreateImpact(ctx, &types.Impact{
		ID: "i1", TaskID: "a", Kind: types.ImpactFile, Operation: types.OpUpdate,
		TargetPath: "pkg/foo.go", Provenance: types.ProvenanceAI, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateImpact(ctx, &types.Impact{
		ID: "i2", TaskID: "b", Kind: types.ImpactFile, Operation: types.OpUpdate,
		TargetPath: "pkg/foo.go", Provenance: types.ProvenanceAI, CreatedAt: time.Now(),
	}))
	// c only reads the same file: not blocking.
	require.NoError(t, store.CreateImpact(ctx, &types.Impact{
		ID: "i3", TaskID: "c", Kind: types.ImpactFile, Operation: types.OpRead,
		TargetPath: "pkg/foo.go", Provenance: types.ProvenanceAI, CreatedAt: time.Now(),
	}))

	gk := New(store)

	ok, err := gk.CanRunParallel(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = gk.CanRunParallel(ctx, "a", "c")
	require.NoError(t, err)
	assert.True(t, ok)

	blocked, err := gk.ConflictingTasks(ctx, "a", []string{"b", "c"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b"}, blocked)
}
