package planner

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alwaysOK reports every pair as conflict-free.
type alwaysOK struct{}

func (alwaysOK) CanRunParallel(ctx context.Context, a, b string) (bool, error) { return true, nil }

// blockedPairs blocks only the explicitly listed unordered pairs.
type blockedPairs map[[2]string]bool

func (b blockedPairs) CanRunParallel(ctx context.Context, a, c string) (bool, error) {
	if b[[2]string{a, c}] || b[[2]string{c, a}] {
		return false, nil
	}
	return true, nil
}

func task(id string, position int) *types.Task {
	return &types.Task{
		ID: id, DisplayID: id, Position: position,
		Status: types.StatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
}

func dependsOn(from, to string) *types.Relationship {
	return &types.Relationship{ID: from + "->" + to, FromTask: from, ToTask: to, Kind: types.RelationDependsOn, CreatedAt: time.Now()}
}

func TestPlanLinearChainProducesOneTaskPerWave(t *testing.T) {
	ctx := context.Background()
	list := &types.TaskList{ID: "list-1", MaxWorkers: 4}
	tasks := []*types.Task{task("a", 0), task("b", 1), task("c", 2)}
	rels := []*types.Relationship{dependsOn("b", "a"), dependsOn("c", "b")}

	p := New(alwaysOK{})
	plan, err := p.Plan(ctx, list, tasks, rels)
	require.NoError(t, err)

	require.Len(t, plan.Waves, 3)
	assert.Equal(t, []string{"a"}, plan.Waves[0].Groups[0])
	assert.Equal(t, []string{"b"}, plan.Waves[1].Groups[0])
	assert.Equal(t, []string{"c"}, plan.Waves[2].Groups[0])
}

func TestPlanIndependentTasksShareOneWave(t *testing.T) {
	ctx := context.Background()
	list := &types.TaskList{ID: "list-1", MaxWorkers: 4}
	tasks := []*types.Task{task("a", 0), task("b", 1), task("c", 2)}

	p := New(alwaysOK{})
	plan, err := p.Plan(ctx, list, tasks, nil)
	require.NoError(t, err)

	require.Len(t, plan.Waves, 1)
	require.Len(t, plan.Waves[0].Groups, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, plan.Waves[0].Groups[0])
}

func TestPlanDetectsCycle(t *testing.T) {
	ctx := context.Background()
	list := &types.TaskList{ID: "list-1", MaxWorkers: 4}
	tasks := []*types.Task{task("a", 0), task("b", 1), task("c", 2)}
	rels := []*types.Relationship{dependsOn("a", "b"), dependsOn("b", "c"), dependsOn("c", "a")}

	p := New(alwaysOK{})
	_, err := p.Plan(ctx, list, tasks, rels)
	require.Error(t, err)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Len(t, cycleErr.Cycle, 4) // a -> b -> c -> a
}

func TestPlanTerminalDependencyIsSatisfied(t *testing.T) {
	ctx := context.Background()
	list := &types.TaskList{ID: "list-1", MaxWorkers: 4}
	done := task("a", 0)
	done.Status = types.StatusCompleted
	tasks := []*types.Task{done, task("b", 1)}
	rels := []*types.Relationship{dependsOn("b", "a")}

	p := New(alwaysOK{})
	plan, err := p.Plan(ctx, list, tasks, rels)
	require.NoError(t, err)

	// "a" is completed, so both tasks are ready immediately.
	require.Len(t, plan.Waves, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, plan.Waves[0].Groups[0])
}

func TestPlanDependencyOutsideListIsSatisfied(t *testing.T) {
	ctx := context.Background()
	list := &types.TaskList{ID: "list-1", MaxWorkers: 4}
	tasks := []*types.Task{task("b", 0)}
	rels := []*types.Relationship{dependsOn("b", "outside-task")}

	p := New(alwaysOK{})
	plan, err := p.Plan(ctx, list, tasks, rels)
	require.NoError(t, err)

	require.Len(t, plan.Waves, 1)
	assert.Equal(t, []string{"b"}, plan.Waves[0].Groups[0])
}

func TestPlanPartitionsConflictingTasksIntoSeparateGroups(t *testing.T) {
	ctx := context.Background()
	list := &types.TaskList{ID: "list-1", MaxWorkers: 4}
	tasks := []*types.Task{task("a", 0), task("b", 1), task("c", 2)}

	conflicts := blockedPairs{{"a", "b"}: true}
	p := New(conflicts)
	plan, err := p.Plan(ctx, list, tasks, nil)
	require.NoError(t, err)

	require.Len(t, plan.Waves, 1)
	require.Len(t, plan.Waves[0].Groups, 2)

	var withA, withB []string
	for _, g := range plan.Waves[0].Groups {
		for _, id := range g {
			if id == "a" {
				withA = g
			}
			if id == "b" {
				withB = g
			}
		}
	}
	assert.NotEqual(t, withA, withB, "a and b must land in different groups")
}

func TestPlanCapsGroupsAtMaxWorkers(t *testing.T) {
	ctx := context.Background()
	list := &types.TaskList{ID: "list-1", MaxWorkers: 2}
	tasks := []*types.Task{task("a", 0), task("b", 1), task("c", 2), task("d", 3), task("e", 4)}

	p := New(alwaysOK{})
	plan, err := p.Plan(ctx, list, tasks, nil)
	require.NoError(t, err)

	require.Len(t, plan.Waves, 1)
	for _, g := range plan.Waves[0].Groups {
		assert.LessOrEqual(t, len(g), 2)
	}
	total := 0
	for _, g := range plan.Waves[0].Groups {
		total += len(g)
	}
	assert.Equal(t, 5, total)
}

func TestPlanEmptyTaskListProducesNoWaves(t *testing.T) {
	ctx := context.Background()
	list := &types.TaskList{ID: "list-1", MaxWorkers: 4}

	p := New(alwaysOK{})
	plan, err := p.Plan(ctx, list, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, plan.Waves)
}

// TestPlanDiamondDependencyProducesExactWaveShape pins the whole wave/group
// structure for a diamond (d depends on b and c, both depending on a) in
// one diff rather than a handful of narrower assertions.
func TestPlanDiamondDependencyProducesExactWaveShape(t *testing.T) {
	ctx := context.Background()
	list := &types.TaskList{ID: "list-1", MaxWorkers: 4}
	tasks := []*types.Task{task("a", 0), task("b", 1), task("c", 2), task("d", 3)}
	rels := []*types.Relationship{
		dependsOn("b", "a"),
		dependsOn("c", "a"),
		dependsOn("d", "b"),
		dependsOn("d", "c"),
	}

	p := New(alwaysOK{})
	plan, err := p.Plan(ctx, list, tasks, rels)
	require.NoError(t, err)

	want := []Wave{
		{Index: 0, Groups: [][]string{{"a"}}},
		{Index: 1, Groups: [][]string{{"b", "c"}}},
		{Index: 2, Groups: [][]string{{"d"}}},
	}
	if diff := cmp.Diff(want, plan.Waves); diff != "" {
		t.Fatalf("wave shape mismatch (-want +got):\n%s", diff)
	}
}
