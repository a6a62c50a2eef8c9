package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nenadatanasovski/taskcore/pkg/log"
	"github.com/nenadatanasovski/taskcore/pkg/metrics"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Conflicter decides whether two ready tasks may run in the same wave
// without stepping on each other's files. gatekeeper.Gatekeeper satisfies
// this; tests can supply a fake.
type Conflicter interface {
	CanRunParallel(ctx context.Context, taskA, taskB string) (bool, error)
}

// CycleError reports a dependency cycle found during planning. The task
// list can't be scheduled until the cycle is broken.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// Wave is one layer of the plan: every task in it has all of its
// depends_on edges already satisfied by an earlier wave (or a task
// outside the list, or a terminal task). Groups partitions the wave
// further into sub-groups that can run concurrently without file
// conflicts, each capped at the list's MaxWorkers.
type Wave struct {
	Index  int
	Groups [][]string
}

// Plan is the ordered execution plan for one task list.
type Plan struct {
	TaskListID string
	Waves      []Wave
}

// TaskCount returns the total number of tasks across every wave.
func (p *Plan) TaskCount() int {
	n := 0
	for _, w := range p.Waves {
		for _, g := range w.Groups {
			n += len(g)
		}
	}
	return n
}

// Planner computes execution plans by leveling a task list's dependency
// graph into waves and partitioning each wave for safe parallel execution.
type Planner struct {
	conflicts Conflicter
	logger    zerolog.Logger
}

// New creates a Planner that consults conflicts to partition each wave.
func New(conflicts Conflicter) *Planner {
	return &Planner{
		conflicts: conflicts,
		logger:    log.WithComponent("planner"),
	}
}

// Plan builds the execution plan for list over tasks and relationships.
// tasks must belong to list (TaskListID == list.ID); relationships may
// include edges to tasks outside the list, which are treated as already
// satisfied. Returns a *CycleError if the depends_on graph restricted to
// tasks contains a cycle.
func (p *Planner) Plan(ctx context.Context, list *types.TaskList, tasks []*types.Task, relationships []*types.Relationship) (*Plan, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	byID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	adj, indegree := buildGraph(byID, relationships)

	if cyc := detectCycle(byID, adj); cyc != nil {
		metrics.CyclesDetectedTotal.Inc()
		return nil, &CycleError{Cycle: cyc}
	}

	levels := levelWaves(byID, adj, indegree)

	plan := &Plan{TaskListID: list.ID}
	for i, level := range levels {
		groups, err := p.partition(ctx, level, list.MaxWorkers)
		if err != nil {
			return nil, fmt.Errorf("partition wave %d: %w", i, err)
		}
		plan.Waves = append(plan.Waves, Wave{Index: i, Groups: groups})
	}

	if len(plan.Waves) > 0 {
		last := plan.Waves[len(plan.Waves)-1]
		width := 0
		for _, g := range last.Groups {
			width += len(g)
		}
		metrics.WaveWidth.Set(float64(width))
	}

	p.logger.Debug().
		Str("task_list_id", list.ID).
		Int("waves", len(plan.Waves)).
		Int("tasks", plan.TaskCount()).
		Msg("computed plan")

	return plan, nil
}

// buildGraph returns, for each task ID in byID, the set of dependent task
// IDs unblocked when it completes (adj), and the number of unresolved
// depends_on edges each task still carries (indegree). A depends_on edge
// to a task outside byID or already terminal is satisfied on entry and
// never contributes to indegree.
func buildGraph(byID map[string]*types.Task, relationships []*types.Relationship) (adj map[string][]string, indegree map[string]int) {
	adj = make(map[string][]string, len(byID))
	indegree = make(map[string]int, len(byID))
	for id := range byID {
		indegree[id] = 0
	}

	for _, rel := range relationships {
		if rel.Kind != types.RelationDependsOn {
			continue
		}
		dependent, ok := byID[rel.FromTask]
		if !ok {
			continue // edge belongs to a task outside this list
		}
		on, ok := byID[rel.ToTask]
		if !ok || on.Status.Terminal() {
			continue // dependency satisfied already
		}
		indegree[dependent.ID]++
		adj[on.ID] = append(adj[on.ID], dependent.ID)
	}
	return adj, indegree
}

// detectCycle runs a DFS three-color check over the graph and returns the
// first cycle found (as a readable path), or nil if the graph is a DAG.
func detectCycle(byID map[string]*types.Task, adj map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))
	parent := make(map[string]string, len(byID))

	ids := sortedIDs(byID)

	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case white:
				parent[next] = id
				if visit(next) {
					return true
				}
			case gray:
				// found the back edge; walk parent pointers from id back to next
				cycle = []string{next}
				for cur := id; cur != next; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, next)
				reverse(cycle)
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// levelWaves runs Kahn's algorithm, consuming adj/indegree, and returns
// each wave's task IDs ordered by Position then DisplayID.
func levelWaves(byID map[string]*types.Task, adj map[string][]string, indegree map[string]int) [][]string {
	remaining := make(map[string]int, len(indegree))
	for id, d := range indegree {
		remaining[id] = d
	}

	var waves [][]string
	placed := make(map[string]bool, len(byID))

	for len(placed) < len(byID) {
		var ready []string
		for id, d := range remaining {
			if !placed[id] && d == 0 {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			// Every unplaced task has indegree > 0 with no cycle (checked
			// earlier) only if byID is empty; otherwise this can't happen.
			break
		}
		sortByPositionThenDisplayID(byID, ready)

		for _, id := range ready {
			placed[id] = true
			for _, next := range adj[id] {
				remaining[next]--
			}
		}
		waves = append(waves, ready)
	}
	return waves
}

func sortByPositionThenDisplayID(byID map[string]*types.Task, ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := byID[ids[i]], byID[ids[j]]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.DisplayID < b.DisplayID
	})
}

func sortedIDs(byID map[string]*types.Task) []string {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := byID[ids[i]], byID[ids[j]]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.DisplayID < b.DisplayID
	})
	return ids
}

// partition splits a wave into conflict-free sub-groups, greedily placing
// each task into the first group none of whose members conflict with it,
// then caps every group at maxWorkers by splitting oversized groups into
// maxWorkers-sized chunks. maxWorkers <= 0 disables the cap.
func (p *Planner) partition(ctx context.Context, waveTasks []string, maxWorkers int) ([][]string, error) {
	if len(waveTasks) == 0 {
		return nil, nil
	}

	var groups [][]string
	for _, id := range waveTasks {
		placed := false
		for gi, group := range groups {
			conflict, err := p.conflictsWithGroup(ctx, id, group)
			if err != nil {
				return nil, err
			}
			if !conflict {
				groups[gi] = append(groups[gi], id)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []string{id})
		}
	}

	if maxWorkers <= 0 {
		return groups, nil
	}

	var capped [][]string
	for _, group := range groups {
		for len(group) > maxWorkers {
			capped = append(capped, group[:maxWorkers])
			group = group[maxWorkers:]
		}
		capped = append(capped, group)
	}
	return capped, nil
}

// conflictsWithGroup reports whether id conflicts with any member of
// group, probing every member concurrently rather than stopping at the
// first hit.
func (p *Planner) conflictsWithGroup(ctx context.Context, id string, group []string) (bool, error) {
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	conflict := false

	for _, member := range group {
		member := member
		g.Go(func() error {
			ok, err := p.conflicts.CanRunParallel(ctx, id, member)
			if err != nil {
				return fmt.Errorf("check conflict between %s and %s: %w", id, member, err)
			}
			if !ok {
				mu.Lock()
				conflict = true
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}
	return conflict, nil
}
