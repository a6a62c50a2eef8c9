package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/planner"
	"github.com/nenadatanasovski/taskcore/pkg/types"
	"golang.org/x/sync/semaphore"
)

const reconcileInterval = 5 * time.Second

// Run polls every in-progress task list and spawns workers for tasks that
// have become ready, until Stop is called or ctx is done. It's meant to
// run in its own goroutine alongside the heartbeat monitor started by
// Start. This is the periodic half of the ready-task rescan; the other
// half runs synchronously from ResumeExecution and a successful worker
// exit, so a list doesn't sit idle for a whole poll interval after
// either of those.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reconcileAll(ctx)
		case <-s.stopped:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) reconcileAll(ctx context.Context) {
	lists, err := s.store.ListTaskLists(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list task lists for reconcile")
		return
	}

	for _, list := range lists {
		if list.Status != types.ListStatusInProgress {
			continue
		}
		if err := s.reconcileListCapped(ctx, list, list.MaxWorkers); err != nil {
			s.logger.Error().Err(err).Str("task_list_id", list.ID).Msg("reconcile task list")
		}
	}

	s.maybeCompleteLists(ctx, lists)
}

// maybeCompleteLists transitions a list to completed once it has no
// pending, in_progress, or blocked tasks left.
func (s *Supervisor) maybeCompleteLists(ctx context.Context, lists []*types.TaskList) {
	for _, list := range lists {
		if list.Status != types.ListStatusInProgress {
			continue
		}
		tasks, err := s.store.ListTasksByTaskList(ctx, list.ID)
		if err != nil {
			continue
		}
		if len(tasks) == 0 {
			continue
		}
		done := true
		for _, t := range tasks {
			switch t.Status {
			case types.StatusPending, types.StatusInProgress, types.StatusBlocked, types.StatusEvaluating, types.StatusValidating:
				done = false
			}
			if !done {
				break
			}
		}
		if done {
			list.Status = types.ListStatusCompleted
			if err := s.store.UpdateTaskList(ctx, list); err != nil {
				s.logger.Error().Err(err).Str("task_list_id", list.ID).Msg("mark list completed")
			}
		}
	}
}

// reconcileListCapped runs the planner over list's remaining tasks and
// spawns workers for ready ones in the earliest wave, up to maxInFlight
// minus whatever is already running.
func (s *Supervisor) reconcileListCapped(ctx context.Context, list *types.TaskList, maxInFlight int) error {
	if s.planner == nil {
		return nil
	}

	tasks, err := s.store.ListTasksByTaskList(ctx, list.ID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	rels, err := s.store.ListRelationshipsByTaskList(ctx, list.ID)
	if err != nil {
		return err
	}

	plan, err := s.planner.Plan(ctx, list, tasks, rels)
	if err != nil {
		var cycleErr *planner.CycleError
		if errors.As(err, &cycleErr) {
			s.logger.Warn().Str("task_list_id", list.ID).Strs("cycle", cycleErr.Cycle).Msg("task list has a dependency cycle, skipping reconcile")
			return nil
		}
		return err
	}
	if len(plan.Waves) == 0 {
		return nil
	}

	byID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	capacity := maxInFlight - s.activeCountForList(ctx, list.ID)
	if capacity <= 0 {
		return nil
	}

	// Candidates are collected up front and capped at capacity, then
	// spawned through a weighted semaphore so the wave cap bounds
	// concurrent os/exec forks rather than serializing them. A
	// conflict-free group has no reason to wait on its own siblings.
	var candidates []*types.Task
	for _, group := range plan.Waves[0].Groups {
		for _, taskID := range group {
			if len(candidates) >= capacity {
				break
			}
			task := byID[taskID]
			if task == nil || task.Status != types.StatusPending {
				continue // already running, terminal, or blocked elsewhere in the wave
			}
			candidates = append(candidates, task)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(capacity))
	var wg sync.WaitGroup
	for _, task := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(task *types.Task) {
			defer wg.Done()
			defer sem.Release(1)
			s.spawnReadyTask(ctx, task, list.ID)
		}(task)
	}
	wg.Wait()
	return nil
}

func (s *Supervisor) spawnReadyTask(ctx context.Context, task *types.Task, listID string) {
	worker, err := s.spawnWorker(ctx, task, listID, "")
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("spawn worker during reconcile")
		return
	}
	task.Status = types.StatusInProgress
	task.ExecutionID = worker.ID
	if err := s.store.UpdateTask(ctx, task); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("mark task in_progress during reconcile")
	}
}

// RescanList re-runs the planner over listID and spawns any tasks that
// have become ready. The failure engine calls this after marking a
// failed task's dependents blocked, so siblings unaffected by the
// failure aren't left waiting for the next periodic poll.
func (s *Supervisor) RescanList(ctx context.Context, listID string) error {
	list, err := s.store.GetTaskList(ctx, listID)
	if err != nil {
		return err
	}
	if list == nil || list.Status != types.ListStatusInProgress {
		return nil
	}
	return s.reconcileListCapped(ctx, list, list.MaxWorkers)
}

func (s *Supervisor) activeCountForList(ctx context.Context, taskListID string) int {
	active, err := s.store.ListActiveWorkers(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list active workers for capacity check")
		return 0
	}
	count := 0
	for _, w := range active {
		if w.TaskListID == taskListID {
			count++
		}
	}
	return count
}
