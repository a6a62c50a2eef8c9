package failure

import (
	"context"
	"sort"

	"github.com/nenadatanasovski/taskcore/pkg/types"
)

const (
	maxRecentExecutions = 5
	maxDistinctErrors   = 10
	maxGotchas          = 5
)

// DiagnosisBundle is everything handed to the inspection agent when a
// task is escalated: a snapshot of the task plus enough history for a
// human or an external agent to diagnose what's going wrong.
type DiagnosisBundle struct {
	Task             *types.Task
	RecentExecutions []*types.WorkerInstance
	DistinctErrors   []string
	GotchaKnowledge  []*types.Appendix
}

// InspectionAgent is the opaque external diagnosis step. Its return
// value is recorded but never interpreted by the engine.
type InspectionAgent interface {
	Inspect(ctx context.Context, bundle DiagnosisBundle) (string, error)
}

// buildDiagnosisBundle assembles the bundle described in the escalation
// interface: the task itself, its five most recent execution records, up
// to ten distinct error messages across those records (and the task's
// own last error), and gotcha knowledge keyed by the task's
// highest-confidence file impact.
func (e *Engine) buildDiagnosisBundle(ctx context.Context, task *types.Task) (DiagnosisBundle, error) {
	executions, err := e.store.ListWorkersByTask(ctx, task.ID, maxRecentExecutions)
	if err != nil {
		return DiagnosisBundle{}, err
	}

	errs := distinctErrors(task, executions)

	var gotchas []*types.Appendix
	if path := highestConfidenceTargetPath(ctx, e, task.ID); path != "" {
		gotchas, err = e.store.GotchasForTargetPath(ctx, path, maxGotchas)
		if err != nil {
			return DiagnosisBundle{}, err
		}
	}

	return DiagnosisBundle{
		Task:             task,
		RecentExecutions: executions,
		DistinctErrors:   errs,
		GotchaKnowledge:  gotchas,
	}, nil
}

func distinctErrors(task *types.Task, executions []*types.WorkerInstance) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(msg string) {
		if msg == "" || seen[msg] {
			return
		}
		seen[msg] = true
		out = append(out, msg)
	}

	add(task.LastError)
	for _, w := range executions {
		add(w.ErrorMessage)
		if len(out) >= maxDistinctErrors {
			break
		}
	}
	if len(out) > maxDistinctErrors {
		out = out[:maxDistinctErrors]
	}
	return out
}

func highestConfidenceTargetPath(ctx context.Context, e *Engine, taskID string) string {
	impacts, err := e.store.ListImpactsByTask(ctx, taskID)
	if err != nil || len(impacts) == 0 {
		return ""
	}
	sort.Slice(impacts, func(i, j int) bool { return impacts[i].Confidence > impacts[j].Confidence })
	for _, imp := range impacts {
		if imp.Kind == types.ImpactFile {
			return imp.TargetPath
		}
	}
	return ""
}
