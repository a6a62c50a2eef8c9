package failure

import (
	"context"

	"github.com/nenadatanasovski/taskcore/pkg/types"
)

// maxBlockingDepth bounds the reverse-dependency closure used to find
// everything transitively depending on a failed task. This is distinct
// from the cascade propagator's own transitive depth, which is fixed at
// 3; this closure exists to protect a dependency graph from pathological
// depth, not to bound blast radius.
const maxBlockingDepth = 20

// blockDependents marks every pending task in failed's task list that
// transitively depends on it as blocked, referencing failed as the
// blocking ancestor. Tasks already in progress are left alone, and tasks
// outside failed's list are never touched.
func (e *Engine) blockDependents(ctx context.Context, failed *types.Task) error {
	if failed.TaskListID == nil {
		return nil
	}

	dependents, err := e.store.ReverseDependencyClosure(ctx, failed.ID, maxBlockingDepth)
	if err != nil {
		return err
	}

	for _, taskID := range dependents {
		task, err := e.store.GetTask(ctx, taskID)
		if err != nil || task == nil {
			continue
		}
		if task.TaskListID == nil || *task.TaskListID != *failed.TaskListID {
			continue
		}
		if task.Status.Terminal() || task.Status == types.StatusInProgress {
			continue
		}
		if task.Status == types.StatusBlocked && task.BlockedByTaskID != nil && *task.BlockedByTaskID == failed.ID {
			continue // already recorded
		}

		task.Status = types.StatusBlocked
		task.BlockedByTaskID = &failed.ID
		if err := e.store.UpdateTask(ctx, task); err != nil {
			e.logger.Error().Err(err).Str("task_id", task.ID).Msg("mark task blocked by failed ancestor")
		}
	}
	return nil
}
