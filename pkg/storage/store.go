package storage

import (
	"context"
	"database/sql"

	"github.com/nenadatanasovski/taskcore/pkg/types"
)

// Store is the persistence abstraction the planner, supervisor, failure
// engine, gatekeeper, and cascade propagator are built against. It exposes
// typed CRUD for every domain entity plus low-level Exec/Query/QueryRow
// primitives for ad hoc queries the typed methods don't cover.
//
// One implementation satisfies Store: SQLStore, returned by OpenSQLite for
// a single daemon instance and by OpenPostgres for deployments where more
// than one taskcored process shares state. Placeholders are rebound per
// driver, so the query text is shared; only the schema text differs.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTasks(ctx context.Context) ([]*types.Task, error)
	ListTasksByTaskList(ctx context.Context, taskListID string) ([]*types.Task, error)
	ListTasksByStatus(ctx context.Context, taskListID string, status types.TaskStatus) ([]*types.Task, error)
	UpdateTask(ctx context.Context, task *types.Task) error
	DeleteTask(ctx context.Context, id string) error

	// Task lists
	CreateTaskList(ctx context.Context, list *types.TaskList) error
	GetTaskList(ctx context.Context, id string) (*types.TaskList, error)
	ListTaskLists(ctx context.Context) ([]*types.TaskList, error)
	UpdateTaskList(ctx context.Context, list *types.TaskList) error
	DeleteTaskList(ctx context.Context, id string) error

	// Relationships (the dependency graph)
	CreateRelationship(ctx context.Context, rel *types.Relationship) error
	ListRelationshipsByTaskList(ctx context.Context, taskListID string) ([]*types.Relationship, error)
	ListRelationshipsForTask(ctx context.Context, taskID string) ([]*types.Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error

	// Impacts
	CreateImpact(ctx context.Context, impact *types.Impact) error
	ListImpactsByTask(ctx context.Context, taskID string) ([]*types.Impact, error)
	ListImpactsByTaskList(ctx context.Context, taskListID string) ([]*types.Impact, error)

	// Appendices
	CreateAppendix(ctx context.Context, appendix *types.Appendix) error
	ListAppendicesByTask(ctx context.Context, taskID string) ([]*types.Appendix, error)
	GotchasForTargetPath(ctx context.Context, targetPath string, limit int) ([]*types.Appendix, error)

	// Worker instances
	CreateWorker(ctx context.Context, worker *types.WorkerInstance) error
	GetWorker(ctx context.Context, id string) (*types.WorkerInstance, error)
	ListActiveWorkers(ctx context.Context) ([]*types.WorkerInstance, error)
	ListWorkersByTask(ctx context.Context, taskID string, limit int) ([]*types.WorkerInstance, error)
	UpdateWorker(ctx context.Context, worker *types.WorkerInstance) error

	// Heartbeats
	CreateHeartbeat(ctx context.Context, hb *types.Heartbeat) error
	LastHeartbeat(ctx context.Context, workerID string) (*types.Heartbeat, error)

	// Task versions (snapshots/checkpoints)
	CreateTaskVersion(ctx context.Context, version *types.TaskVersion) error
	ListTaskVersions(ctx context.Context, taskID string) ([]*types.TaskVersion, error)

	// State history
	CreateStateHistoryEntry(ctx context.Context, entry *types.StateHistoryEntry) error
	ListStateHistory(ctx context.Context, taskID string) ([]*types.StateHistoryEntry, error)

	// PRDs
	CreatePRD(ctx context.Context, prd *types.PRD) error
	GetPRD(ctx context.Context, id string) (*types.PRD, error)
	CreatePRDLink(ctx context.Context, link *types.PRDLink) error
	ListPRDLinks(ctx context.Context, prdID string) ([]*types.PRDLink, error)

	// Notifications
	CreateNotification(ctx context.Context, n *types.Notification) error
	ListUnreadNotifications(ctx context.Context, taskID string) ([]*types.Notification, error)

	// Review flags
	CreateReviewFlag(ctx context.Context, flag *types.ReviewFlag) error
	ListOpenReviewFlags(ctx context.Context, taskListID string) ([]*types.ReviewFlag, error)
	ResolveReviewFlag(ctx context.Context, id string) error

	// DependencyClosure returns the IDs reachable from taskID by following
	// "depends_on" relationships forward, up to maxDepth hops, using a
	// recursive CTE. The planner detects cycles in memory over the
	// relationships it is given and does not call this.
	DependencyClosure(ctx context.Context, taskID string, maxDepth int) ([]string, error)

	// ReverseDependencyClosure returns the IDs of tasks that transitively
	// depend on taskID, up to maxDepth hops. Used by the failure engine to
	// find everything that must be blocked when taskID escalates.
	ReverseDependencyClosure(ctx context.Context, taskID string, maxDepth int) ([]string, error)

	// Low-level primitives for call sites not covered by the typed methods
	// above (ad hoc reporting queries).
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row

	// WithTx runs fn inside a transaction, committing on a nil return and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error

	Close() error
}
