package cascade

import (
	"context"
	"fmt"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/metrics"
	"github.com/nenadatanasovski/taskcore/pkg/storage"
	"github.com/nenadatanasovski/taskcore/pkg/types"
)

// maxTransitiveDepth bounds the breadth-first walk used to find
// transitive effects. This is a different, smaller bound than the
// failure engine's 20-deep reverse-dependency closure: cascade effects
// are advisory, so the propagator deliberately stops following them
// early rather than flooding the review queue.
const maxTransitiveDepth = 3

// Effect is one consequence of a trigger on a task other than the
// source: either something the propagator did automatically, or
// something queued for a human to approve.
type Effect struct {
	TaskID        string
	Trigger       types.CascadeTriggerKind
	Suggested     types.CascadeEffectKind
	Depth         int // 0 for direct effects, 1..3 for transitive
	AutoApprovable bool
	Reason        string
}

// Report is the result of one analysis run, matching the reporting shape
// described for the propagator: enough for a caller to show a human what
// would happen and how much of it happens automatically.
type Report struct {
	SourceTaskID    string
	Trigger         types.CascadeTriggerKind
	DirectEffects   []Effect
	TransitiveEffects []Effect
	TotalAffected   int
	RequiresReview  int
	AutoApprovable  int
	ListAutoApprove bool
}

// Propagator discovers and applies cascade effects.
type Propagator struct {
	store storage.Store
}

// New builds a Propagator over store.
func New(store storage.Store) *Propagator {
	return &Propagator{store: store}
}

// Analyze runs the discovery algorithm for one trigger on one source
// task, without applying anything. ApproveAll, when true, is passed
// through to Apply by the caller; Analyze itself never writes.
func (p *Propagator) Analyze(ctx context.Context, source *types.Task, trigger types.CascadeTriggerKind) (*Report, error) {
	if source.TaskListID == nil {
		return &Report{SourceTaskID: source.ID, Trigger: trigger}, nil
	}

	list, err := p.store.GetTaskList(ctx, *source.TaskListID)
	if err != nil {
		return nil, fmt.Errorf("load task list for cascade: %w", err)
	}

	direct, err := p.directEffects(ctx, source, trigger)
	if err != nil {
		return nil, err
	}

	var overlap []Effect
	if trigger == types.TriggerImpactChanged {
		overlap, err = p.impactOverlapEffects(ctx, source)
		if err != nil {
			return nil, err
		}
	}
	direct = append(direct, overlap...)

	transitive, err := p.transitiveEffects(ctx, source, direct)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SourceTaskID:      source.ID,
		Trigger:           trigger,
		DirectEffects:     direct,
		TransitiveEffects: transitive,
		ListAutoApprove:   list != nil && list.AutoApprove,
	}
	report.TotalAffected = len(direct) + len(transitive)
	for _, e := range append(append([]Effect{}, direct...), transitive...) {
		if e.AutoApprovable || report.ListAutoApprove {
			report.AutoApprovable++
		} else {
			report.RequiresReview++
		}
	}
	return report, nil
}

// directEffects produces one effect per task that depends_on source,
// with the suggested action keyed by trigger.
func (p *Propagator) directEffects(ctx context.Context, source *types.Task, trigger types.CascadeTriggerKind) ([]Effect, error) {
	dependents, err := p.dependentsOf(ctx, source)
	if err != nil {
		return nil, err
	}

	suggested, autoApprovable := suggestedAction(trigger)
	effects := make([]Effect, 0, len(dependents))
	for _, id := range dependents {
		effects = append(effects, Effect{
			TaskID:         id,
			Trigger:        trigger,
			Suggested:      suggested,
			AutoApprovable: autoApprovable,
			Reason:         fmt.Sprintf("depends on %s, which had a %s", source.ID, trigger),
		})
	}
	return effects, nil
}

// suggestedAction maps a trigger to its default suggested effect and
// whether that effect is intrinsically auto-approvable, independent of
// the task list's auto-approve flag.
func suggestedAction(trigger types.CascadeTriggerKind) (types.CascadeEffectKind, bool) {
	switch trigger {
	case types.TriggerStatusChanged:
		return types.EffectNotify, true
	case types.TriggerPriorityChanged:
		return types.EffectAutoUpdate, true
	case types.TriggerDependencyChanged:
		return types.EffectReview, false
	case types.TriggerImpactChanged:
		return types.EffectReview, false
	default:
		return types.EffectNotify, true
	}
}

// impactOverlapEffects finds every task other than source that declares
// an impact on the same target path as one of source's current impacts.
func (p *Propagator) impactOverlapEffects(ctx context.Context, source *types.Task) ([]Effect, error) {
	if source.TaskListID == nil {
		return nil, nil
	}
	sourceImpacts, err := p.store.ListImpactsByTask(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	if len(sourceImpacts) == 0 {
		return nil, nil
	}
	paths := make(map[string]bool, len(sourceImpacts))
	for _, imp := range sourceImpacts {
		paths[imp.TargetPath] = true
	}

	allImpacts, err := p.store.ListImpactsByTaskList(ctx, *source.TaskListID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{source.ID: true}
	var effects []Effect
	for _, imp := range allImpacts {
		if seen[imp.TaskID] || !paths[imp.TargetPath] {
			continue
		}
		seen[imp.TaskID] = true
		effects = append(effects, Effect{
			TaskID:    imp.TaskID,
			Trigger:   types.TriggerImpactChanged,
			Suggested: types.EffectReview,
			Reason:    fmt.Sprintf("shares target path %s with %s", imp.TargetPath, source.ID),
		})
	}
	return effects, nil
}

// transitiveEffects walks depends_on inverse arrows breadth-first from
// the direct-effect set, up to maxTransitiveDepth, suggesting notify for
// every newly-visited task. A task visited at one depth is never
// revisited at a later one.
func (p *Propagator) transitiveEffects(ctx context.Context, source *types.Task, direct []Effect) ([]Effect, error) {
	visited := map[string]bool{source.ID: true}
	frontier := make([]string, 0, len(direct))
	for _, e := range direct {
		visited[e.TaskID] = true
		frontier = append(frontier, e.TaskID)
	}

	var transitive []Effect
	for depth := 1; depth <= maxTransitiveDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, taskID := range frontier {
			task, err := p.store.GetTask(ctx, taskID)
			if err != nil || task == nil {
				continue
			}
			dependents, err := p.dependentsOf(ctx, task)
			if err != nil {
				return nil, err
			}
			for _, id := range dependents {
				if visited[id] {
					continue
				}
				visited[id] = true
				transitive = append(transitive, Effect{
					TaskID:         id,
					Trigger:        types.TriggerDependencyChanged,
					Suggested:      types.EffectNotify,
					Depth:          depth,
					AutoApprovable: true,
					Reason:         fmt.Sprintf("transitively depends on %s at depth %d", source.ID, depth),
				})
				next = append(next, id)
			}
		}
		frontier = next
	}
	return transitive, nil
}

// dependentsOf returns the tasks that depends_on task within task's own
// list, i.e. the direct reverse edges.
func (p *Propagator) dependentsOf(ctx context.Context, task *types.Task) ([]string, error) {
	if task.TaskListID == nil {
		return nil, nil
	}
	rels, err := p.store.ListRelationshipsByTaskList(ctx, *task.TaskListID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range rels {
		if r.Kind == types.RelationDependsOn && r.ToTask == task.ID {
			out = append(out, r.FromTask)
		}
	}
	return out, nil
}

// Apply executes every auto-applicable effect in report and records the
// rest as review flags. approveAll forces every effect to apply,
// matching the caller-passed "approve all" override in the discovery
// spec.
func (p *Propagator) Apply(ctx context.Context, report *Report, approveAll bool) error {
	all := append(append([]Effect{}, report.DirectEffects...), report.TransitiveEffects...)
	for _, effect := range all {
		auto := approveAll || effect.AutoApprovable || report.ListAutoApprove
		if auto {
			if err := p.applyEffect(ctx, report.SourceTaskID, effect); err != nil {
				return err
			}
			continue
		}
		if err := p.queueForReview(ctx, report.SourceTaskID, effect); err != nil {
			return err
		}
	}
	return nil
}

func (p *Propagator) applyEffect(ctx context.Context, sourceTaskID string, effect Effect) error {
	task, err := p.store.GetTask(ctx, effect.TaskID)
	if err != nil || task == nil {
		return err
	}

	switch effect.Suggested {
	case types.EffectAutoUpdate:
		// The task is written back as loaded: updated_at is not changed
		// here and no cached readiness score is invalidated.
	case types.EffectNotify:
		if err := p.store.CreateNotification(ctx, &types.Notification{
			ID:        notificationID(sourceTaskID, effect.TaskID),
			TaskID:    effect.TaskID,
			Message:   fmt.Sprintf("task %s changed (%s), affecting this task", sourceTaskID, effect.Trigger),
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
	case types.EffectBlock:
		task.Status = types.StatusBlocked
		task.BlockedByTaskID = &sourceTaskID
	case types.EffectReview:
		// Reaching this branch means the effect was auto-approved despite
		// being suggested as "review" (list-level auto-approve, or an
		// explicit approve-all); it still executes the review action's
		// own consequence, it just skips the review queue.
		if task.Status == types.StatusPending {
			task.Status = types.StatusBlocked
			task.BlockedByTaskID = &sourceTaskID
		}
		if err := p.store.CreateNotification(ctx, &types.Notification{
			ID:        notificationID(sourceTaskID, effect.TaskID),
			TaskID:    effect.TaskID,
			Message:   fmt.Sprintf("task %s changed (%s), auto-approved review effect applied", sourceTaskID, effect.Trigger),
			CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
	}

	metrics.CascadesAppliedTotal.WithLabelValues(string(effect.Trigger)).Inc()
	return p.store.UpdateTask(ctx, task)
}

func (p *Propagator) queueForReview(ctx context.Context, sourceTaskID string, effect Effect) error {
	metrics.CascadesQueuedForReviewTotal.Inc()
	return p.store.CreateReviewFlag(ctx, &types.ReviewFlag{
		ID:           reviewFlagID(sourceTaskID, effect.TaskID),
		TaskID:       effect.TaskID,
		SourceTaskID: sourceTaskID,
		Trigger:      effect.Trigger,
		Suggested:    effect.Suggested,
		Reason:       effect.Reason,
		CreatedAt:    time.Now(),
	})
}

func notificationID(sourceTaskID, taskID string) string {
	return fmt.Sprintf("notif-%s-%s", sourceTaskID, taskID)
}

func reviewFlagID(sourceTaskID, taskID string) string {
	return fmt.Sprintf("review-%s-%s", sourceTaskID, taskID)
}
