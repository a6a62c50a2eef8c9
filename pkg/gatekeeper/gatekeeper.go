// Package gatekeeper scores tasks for atomicity and readiness, and decides
// whether two ready tasks can run in the same wave without stepping on
// each other's files. It sits between the planner and the storage layer:
// the planner asks canRunParallel to partition a wave, the API surface
// asks calculateReadiness/bulkReadiness to answer "is this task ready".
package gatekeeper

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/log"
	"github.com/nenadatanasovski/taskcore/pkg/metrics"
	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"github.com/rs/zerolog"
)

// Dimension weights. They sum to 1.0; Testable and ClearCompletion carry
// the most weight because an untestable task with no completion signal
// can't be trusted to report its own success.
const (
	weightSingleConcern   = 0.15
	weightBoundedFiles    = 0.15
	weightTimeBounded     = 0.10
	weightTestable        = 0.25
	weightIndependent     = 0.10
	weightClearCompletion = 0.25

	readyThreshold = 70
	dimensionFloor = 50 // a dimension below this is reported in Missing
	cacheTTL       = 60 * time.Second
)

// Gatekeeper computes readiness scores and file-conflict verdicts over a
// Store, caching scores for cacheTTL to keep the planner's hot path cheap.
type Gatekeeper struct {
	store  storage.Store
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	score    types.ReadinessScore
	computed time.Time
}

// New creates a Gatekeeper over store.
func New(store storage.Store) *Gatekeeper {
	return &Gatekeeper{
		store:  store,
		logger: log.WithComponent("gatekeeper"),
		cache:  make(map[string]cacheEntry),
	}
}

// CalculateReadiness returns task's readiness score, using a cached value
// less than cacheTTL old when available.
func (g *Gatekeeper) CalculateReadiness(ctx context.Context, taskID string) (types.ReadinessScore, error) {
	if cached, ok := g.cached(taskID); ok {
		return cached, nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReadinessScoreDuration)

	task, err := g.store.GetTask(ctx, taskID)
	if err != nil {
		return types.ReadinessScore{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	if task == nil {
		return types.ReadinessScore{}, fmt.Errorf("task %s not found", taskID)
	}

	impacts, err := g.store.ListImpactsByTask(ctx, taskID)
	if err != nil {
		return types.ReadinessScore{}, fmt.Errorf("list impacts for %s: %w", taskID, err)
	}

	appendices, err := g.store.ListAppendicesByTask(ctx, taskID)
	if err != nil {
		return types.ReadinessScore{}, fmt.Errorf("list appendices for %s: %w", taskID, err)
	}

	deps, err := g.store.ListRelationshipsForTask(ctx, taskID)
	if err != nil {
		return types.ReadinessScore{}, fmt.Errorf("list relationships for %s: %w", taskID, err)
	}

	depStatuses, err := g.dependencyStatuses(ctx, taskID, deps)
	if err != nil {
		return types.ReadinessScore{}, err
	}

	score := g.score(task, impacts, appendices, deps, depStatuses)
	g.store2Cache(taskID, score)
	return score, nil
}

// dependencyStatuses loads the current status of every depends_on target
// taskID points at, so scoreIndependent can tell an unresolved dependency
// from one that's already completed or skipped.
func (g *Gatekeeper) dependencyStatuses(ctx context.Context, taskID string, deps []*types.Relationship) (map[string]types.TaskStatus, error) {
	statuses := make(map[string]types.TaskStatus)
	for _, r := range deps {
		if r.Kind != types.RelationDependsOn || r.FromTask != taskID {
			continue
		}
		if _, ok := statuses[r.ToTask]; ok {
			continue
		}
		target, err := g.store.GetTask(ctx, r.ToTask)
		if err != nil {
			return nil, fmt.Errorf("get dependency target %s: %w", r.ToTask, err)
		}
		if target != nil {
			statuses[r.ToTask] = target.Status
		}
	}
	return statuses, nil
}

// BulkReadiness scores every task in taskIDs, skipping ones that fail to
// load rather than aborting the whole batch.
func (g *Gatekeeper) BulkReadiness(ctx context.Context, taskIDs []string) (map[string]types.ReadinessScore, error) {
	out := make(map[string]types.ReadinessScore, len(taskIDs))
	for _, id := range taskIDs {
		score, err := g.CalculateReadiness(ctx, id)
		if err != nil {
			g.logger.Warn().Err(err).Str("task_id", id).Msg("skipping task in bulk readiness")
			continue
		}
		out[id] = score
	}
	return out, nil
}

func (g *Gatekeeper) score(task *types.Task, impacts []*types.Impact, appendices []*types.Appendix, deps []*types.Relationship, depStatuses map[string]types.TaskStatus) types.ReadinessScore {
	singleConcern := scoreSingleConcern(task.Title, task.Description)
	boundedFiles := scoreBoundedFiles(impacts)
	timeBounded := scoreTimeBounded(task.Effort)
	testable := scoreTestable(appendices)
	independent := scoreIndependent(deps, task.ID, depStatuses)
	clearCompletion := scoreClearCompletion(appendices)

	overall := int(float64(singleConcern)*weightSingleConcern +
		float64(boundedFiles)*weightBoundedFiles +
		float64(timeBounded)*weightTimeBounded +
		float64(testable)*weightTestable +
		float64(independent)*weightIndependent +
		float64(clearCompletion)*weightClearCompletion +
		0.5) // round to nearest

	var missing []string
	for name, v := range map[string]int{
		"single_concern":   singleConcern,
		"bounded_files":    boundedFiles,
		"time_bounded":     timeBounded,
		"testable":         testable,
		"independent":      independent,
		"clear_completion": clearCompletion,
	} {
		if v < dimensionFloor {
			missing = append(missing, name)
		}
	}

	return types.ReadinessScore{
		TaskID:          task.ID,
		Overall:         overall,
		SingleConcern:   singleConcern,
		BoundedFiles:    boundedFiles,
		TimeBounded:     timeBounded,
		Testable:        testable,
		Independent:     independent,
		ClearCompletion: clearCompletion,
		Missing:         missing,
		Ready:           overall >= readyThreshold,
		ComputedAt:      time.Now(),
	}
}

// componentKeywords is the closed set of component nouns that, in excess,
// signal a task spans more than one concern.
var componentKeywords = []string{"database", "api", "ui", "frontend", "backend", "test"}

// conjunctionPattern matches the conjunctive words whose repetition signals
// a task description is doing more than one thing.
var conjunctionPattern = regexp.MustCompile(`\b(and|also)\b`)

// numberedListPattern matches a line starting with "1." or "2)" etc, the
// other conjunctive hint the title/description can carry.
var numberedListPattern = regexp.MustCompile(`(?m)^\s*\d+[.)]\s`)

// scoreSingleConcern checks the task's title/description text for
// conjunctive hints (multiple "and"/"also", or a numbered list) and counts
// how many component keywords it references. A task that reads as more
// than one concern, or that touches more than two components, is docked.
func scoreSingleConcern(title, description string) int {
	text := strings.ToLower(title + " " + description)

	violations := 0
	conjunctions := len(conjunctionPattern.FindAllString(text, -1))
	if conjunctions > 1 || numberedListPattern.MatchString(title+"\n"+description) {
		violations++
	}

	keywordCount := 0
	for _, kw := range componentKeywords {
		if strings.Contains(text, kw) {
			keywordCount++
		}
	}
	if over := keywordCount - 2; over > 0 {
		violations += over
	}

	switch violations {
	case 0:
		return 100
	case 1:
		return 70
	case 2:
		return 40
	default:
		return 10
	}
}

func scoreBoundedFiles(impacts []*types.Impact) int {
	files := make(map[string]bool)
	for _, im := range impacts {
		if im.Kind == types.ImpactFile && im.Operation != types.OpRead {
			files[im.TargetPath] = true
		}
	}
	switch {
	case len(files) == 0:
		return 70 // warning: no declared file impacts, not full credit
	case len(files) <= 3:
		return 100
	case len(files) <= 6:
		return 70
	case len(files) <= 10:
		return 40
	default:
		return 10
	}
}

func scoreTimeBounded(effort types.TaskEffort) int {
	switch effort {
	case types.EffortTrivial, types.EffortSmall, types.EffortMedium:
		return 100
	case types.EffortLarge:
		return 40
	case types.EffortEpic:
		return 10
	default:
		return 50
	}
}

// scoreTestable is all-or-nothing on a test_context appendix existing.
func scoreTestable(appendices []*types.Appendix) int {
	for _, a := range appendices {
		if a.Kind == types.AppendixTestContext {
			return 100
		}
	}
	return 0
}

// scoreIndependent counts depends_on targets not yet completed or skipped.
// A dependency whose status isn't known (target missing or unfetched)
// counts as unresolved.
func scoreIndependent(deps []*types.Relationship, taskID string, depStatuses map[string]types.TaskStatus) int {
	count := 0
	for _, r := range deps {
		if r.Kind != types.RelationDependsOn || r.FromTask != taskID {
			continue
		}
		if status, ok := depStatuses[r.ToTask]; ok && (status == types.StatusCompleted || status == types.StatusSkipped) {
			continue
		}
		count++
	}
	switch {
	case count == 0:
		return 100
	case count <= 2:
		return 70
	case count <= 5:
		return 40
	default:
		return 10
	}
}

// scoreClearCompletion is all-or-nothing on a non-empty acceptance_criteria
// appendix existing. A by-reference appendix with no inline content still
// counts, since its content lives in RefTable/RefID rather than Content.
func scoreClearCompletion(appendices []*types.Appendix) int {
	for _, a := range appendices {
		if a.Kind != types.AppendixAcceptanceCriteria {
			continue
		}
		if strings.TrimSpace(a.Content) != "" || a.RefTable != "" {
			return 100
		}
	}
	return 0
}

func (g *Gatekeeper) cached(taskID string) (types.ReadinessScore, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[taskID]
	if !ok || time.Since(entry.computed) > cacheTTL {
		return types.ReadinessScore{}, false
	}
	return entry.score, true
}

func (g *Gatekeeper) store2Cache(taskID string, score types.ReadinessScore) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[taskID] = cacheEntry{score: score, computed: time.Now()}
}

// Invalidate drops the cached score for taskID, forcing a recompute on the
// next CalculateReadiness call.
func (g *Gatekeeper) Invalidate(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cache, taskID)
}

// InvalidateList drops every cached score for tasks in taskListID.
func (g *Gatekeeper) InvalidateList(ctx context.Context, taskListID string) error {
	tasks, err := g.store.ListTasksByTaskList(ctx, taskListID)
	if err != nil {
		return fmt.Errorf("list tasks for list %s: %w", taskListID, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range tasks {
		delete(g.cache, t.ID)
	}
	return nil
}
