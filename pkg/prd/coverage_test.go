package prd

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

// S6: PRD with 2 success criteria, 1 constraint; one task linked to
// success_criteria[0], another linked with link_type=tests,
// requirement_ref=constraints[0]. Expect totalRequirements=3,
// coveredRequirements=2, coveragePercent=67.
func TestCalculateCoverageScenarioS6(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreatePRD(ctx, &types.PRD{
		ID: "prd-1", Name: "checkout-revamp",
		SuccessCriteria: []string{"users can pay with a saved card", "checkout completes under 2s"},
		Constraints:     []string{"no schema migration during business hours"},
		CreatedAt:       time.Now(),
	}))
	require.NoError(t, store.CreateTaskList(ctx, &types.TaskList{ID: "list-1", Name: "list-1", Status: types.ListStatusInProgress, MaxWorkers: 1, CreatedAt: time.Now(), UpdatedAt: time.Now()}))
	require.NoError(t, store.CreateTask(ctx, &types.Task{
		ID: "t1", DisplayID: "t1", Title: "t1", Category: types.CategoryTask,
		Status: types.StatusPending, Priority: types.PriorityP2, Effort: types.EffortSmall,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateTask(ctx, &types.Task{
		ID: "t2", DisplayID: "t2", Title: "t2", Category: types.CategoryTask,
		Status: types.StatusPending, Priority: types.PriorityP2, Effort: types.EffortSmall,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	require.NoError(t, store.CreatePRDLink(ctx, &types.PRDLink{
		ID: "link-1", PRDID: "prd-1", TaskID: "t1",
		LinkType: types.PRDLinkCovers, RequirementRef: "success_criteria[0]", CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreatePRDLink(ctx, &types.PRDLink{
		ID: "link-2", PRDID: "prd-1", TaskID: "t2",
		LinkType: types.PRDLinkTests, RequirementRef: "constraints[0]", CreatedAt: time.Now(),
	}))

	cov, err := Calculate(ctx, store, "prd-1")
	require.NoError(t, err)
	assert.Equal(t, 3, cov.TotalRequirements)
	assert.Equal(t, 2, cov.CoveredRequirements)
	assert.Equal(t, 67, cov.CoveragePercent)
	assert.Equal(t, []string{"checkout completes under 2s"}, cov.UncoveredSuccess)
	assert.Empty(t, cov.UncoveredConstraints)
}

// B1: a PRD with zero success criteria and zero constraints is 100%
// covered by definition.
func TestCalculateCoverageEmptyPRDIsFullyCovered(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreatePRD(ctx, &types.PRD{ID: "prd-empty", Name: "empty", CreatedAt: time.Now()}))

	cov, err := Calculate(ctx, store, "prd-empty")
	require.NoError(t, err)
	assert.Equal(t, 0, cov.TotalRequirements)
	assert.Equal(t, 100, cov.CoveragePercent)
}

// A covers-type link against a constraint reference does not count as
// constraint coverage -- only a tests-type link does.
func TestCoversLinkDoesNotSatisfyConstraint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreatePRD(ctx, &types.PRD{
		ID: "prd-2", Name: "p2", Constraints: []string{"must not exceed budget"}, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateTask(ctx, &types.Task{
		ID: "t1", DisplayID: "t1", Title: "t1", Category: types.CategoryTask,
		Status: types.StatusPending, Priority: types.PriorityP2, Effort: types.EffortSmall,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, store.CreatePRDLink(ctx, &types.PRDLink{
		ID: "link-1", PRDID: "prd-2", TaskID: "t1",
		LinkType: types.PRDLinkCovers, RequirementRef: "constraints[0]", CreatedAt: time.Now(),
	}))

	cov, err := Calculate(ctx, store, "prd-2")
	require.NoError(t, err)
	assert.Equal(t, 0, cov.CoveredRequirements)
	assert.Equal(t, []string{"must not exceed budget"}, cov.UncoveredConstraints)
}
