package metrics

import (
	"context"
	"time"

	"github.com/nenadatanasovski/taskcore/pkg/types"
)

// Source is the read-only view the collector needs. pkg/storage's Store
// satisfies it; tests can supply a fake.
type Source interface {
	ListTasks(ctx context.Context) ([]*types.Task, error)
	ListTaskLists(ctx context.Context) ([]*types.TaskList, error)
	ListActiveWorkers(ctx context.Context) ([]*types.WorkerInstance, error)
}

// Collector polls storage on an interval and updates the gauge metrics
// that can't be updated incrementally from the call site (TasksTotal,
// TaskListsTotal, WorkersActive).
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectTaskMetrics()
	c.collectTaskListMetrics()
	c.collectWorkerMetrics()
}

func (c *Collector) collectTaskMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tasks, err := c.source.ListTasks(ctx)
	if err != nil {
		return
	}

	counts := make(map[types.TaskStatus]int)
	for _, task := range tasks {
		counts[task.Status]++
	}

	for _, status := range []types.TaskStatus{
		types.StatusPending, types.StatusInProgress, types.StatusValidating,
		types.StatusCompleted, types.StatusFailed, types.StatusBlocked,
		types.StatusSkipped, types.StatusEvaluating, types.StatusCancelled,
		types.StatusArchived,
	} {
		TasksTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	TasksBlockedTotal.Set(float64(counts[types.StatusBlocked]))
}

func (c *Collector) collectTaskListMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lists, err := c.source.ListTaskLists(ctx)
	if err != nil {
		return
	}

	counts := make(map[types.TaskListStatus]int)
	for _, list := range lists {
		counts[list.Status]++
	}

	for status, count := range counts {
		TaskListsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectWorkerMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	workers, err := c.source.ListActiveWorkers(ctx)
	if err != nil {
		return
	}

	WorkersActive.Set(float64(len(workers)))
}
