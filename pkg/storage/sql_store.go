package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/nenadatanasovski/taskcore/pkg/types"
)

// SQLStore is a Store backed by database/sql through sqlx. The same code
// serves both the sqlite and postgres drivers; sqlx.Rebind translates the
// '?' placeholders used throughout this file into the driver's native
// bindvar style ('?' for sqlite, '$1'.. for postgres).
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

func newSQLStore(db *sqlx.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) rebind(query string) string {
	return s.db.Rebind(query)
}

func (s *SQLStore) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx.Tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// --- row-level persistence models ---
//
// Domain structs use *string/*time.Time for optional fields and []string
// / map[string]string for structured ones. The row structs below give
// sqlx flat, nullable columns to scan into; the To*/from* helpers carry
// values across that boundary, JSON-encoding the structured fields.

type taskRow struct {
	ID                  string         `db:"id"`
	DisplayID           string         `db:"display_id"`
	Title               string         `db:"title"`
	Description         string         `db:"description"`
	Category            string         `db:"category"`
	Status              string         `db:"status"`
	Priority            string         `db:"priority"`
	Effort              string         `db:"effort"`
	Phase               int            `db:"phase"`
	TaskListID          sql.NullString `db:"task_list_id"`
	ProjectID           sql.NullString `db:"project_id"`
	Position            int            `db:"position"`
	ConsecutiveFailures int            `db:"consecutive_failures"`
	LastError           string         `db:"last_error"`
	Escalated           bool           `db:"escalated"`
	EscalatedAt         sql.NullTime   `db:"escalated_at"`
	BlockedByTaskID     sql.NullString `db:"blocked_by_task_id"`
	ExecutionID         string         `db:"execution_id"`
	CreatedAt           sql.NullTime   `db:"created_at"`
	UpdatedAt           sql.NullTime   `db:"updated_at"`
}

func (r *taskRow) toTask() *types.Task {
	t := &types.Task{
		ID:                  r.ID,
		DisplayID:           r.DisplayID,
		Title:               r.Title,
		Description:         r.Description,
		Category:            types.TaskCategory(r.Category),
		Status:              types.TaskStatus(r.Status),
		Priority:            types.TaskPriority(r.Priority),
		Effort:              types.TaskEffort(r.Effort),
		Phase:               r.Phase,
		Position:            r.Position,
		ConsecutiveFailures: r.ConsecutiveFailures,
		LastError:           r.LastError,
		Escalated:           r.Escalated,
		ExecutionID:         r.ExecutionID,
	}
	if r.TaskListID.Valid {
		t.TaskListID = &r.TaskListID.String
	}
	if r.ProjectID.Valid {
		t.ProjectID = &r.ProjectID.String
	}
	if r.BlockedByTaskID.Valid {
		t.BlockedByTaskID = &r.BlockedByTaskID.String
	}
	if r.EscalatedAt.Valid {
		t.EscalatedAt = &r.EscalatedAt.Time
	}
	if r.CreatedAt.Valid {
		t.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		t.UpdatedAt = r.UpdatedAt.Time
	}
	return t
}

func rowFromTask(t *types.Task) taskRow {
	r := taskRow{
		ID:                  t.ID,
		DisplayID:           t.DisplayID,
		Title:               t.Title,
		Description:         t.Description,
		Category:            string(t.Category),
		Status:              string(t.Status),
		Priority:            string(t.Priority),
		Effort:              string(t.Effort),
		Phase:               t.Phase,
		Position:            t.Position,
		ConsecutiveFailures: t.ConsecutiveFailures,
		LastError:           t.LastError,
		Escalated:           t.Escalated,
		ExecutionID:         t.ExecutionID,
		CreatedAt:           sql.NullTime{Time: t.CreatedAt, Valid: !t.CreatedAt.IsZero()},
		UpdatedAt:           sql.NullTime{Time: t.UpdatedAt, Valid: !t.UpdatedAt.IsZero()},
	}
	if t.TaskListID != nil {
		r.TaskListID = sql.NullString{String: *t.TaskListID, Valid: true}
	}
	if t.ProjectID != nil {
		r.ProjectID = sql.NullString{String: *t.ProjectID, Valid: true}
	}
	if t.BlockedByTaskID != nil {
		r.BlockedByTaskID = sql.NullString{String: *t.BlockedByTaskID, Valid: true}
	}
	if t.EscalatedAt != nil {
		r.EscalatedAt = sql.NullTime{Time: *t.EscalatedAt, Valid: true}
	}
	return r
}

const taskColumns = `id, display_id, title, description, category, status, priority, effort,
	phase, task_list_id, project_id, position, consecutive_failures, last_error,
	escalated, escalated_at, blocked_by_task_id, execution_id, created_at, updated_at`

func (s *SQLStore) CreateTask(ctx context.Context, t *types.Task) error {
	r := rowFromTask(t)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (:id, :display_id, :title, :description, :category, :status, :priority, :effort,
			:phase, :task_list_id, :project_id, :position, :consecutive_failures, :last_error,
			:escalated, :escalated_at, :blocked_by_task_id, :execution_id, :created_at, :updated_at)`, r)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var r taskRow
	err := s.db.GetContext(ctx, &r, s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return r.toTask(), nil
}

func (s *SQLStore) ListTasks(ctx context.Context) ([]*types.Task, error) {
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+taskColumns+` FROM tasks`); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]*types.Task, len(rows))
	for i := range rows {
		out[i] = rows[i].toTask()
	}
	return out, nil
}

func (s *SQLStore) ListTasksByTaskList(ctx context.Context, taskListID string) ([]*types.Task, error) {
	var rows []taskRow
	q := s.rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE task_list_id = ? ORDER BY position`)
	if err := s.db.SelectContext(ctx, &rows, q, taskListID); err != nil {
		return nil, fmt.Errorf("list tasks by list %s: %w", taskListID, err)
	}
	out := make([]*types.Task, len(rows))
	for i := range rows {
		out[i] = rows[i].toTask()
	}
	return out, nil
}

func (s *SQLStore) ListTasksByStatus(ctx context.Context, taskListID string, status types.TaskStatus) ([]*types.Task, error) {
	var rows []taskRow
	q := s.rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE task_list_id = ? AND status = ? ORDER BY position`)
	if err := s.db.SelectContext(ctx, &rows, q, taskListID, string(status)); err != nil {
		return nil, fmt.Errorf("list tasks by status %s/%s: %w", taskListID, status, err)
	}
	out := make([]*types.Task, len(rows))
	for i := range rows {
		out[i] = rows[i].toTask()
	}
	return out, nil
}

func (s *SQLStore) UpdateTask(ctx context.Context, t *types.Task) error {
	r := rowFromTask(t)
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE tasks SET display_id=:display_id, title=:title, description=:description,
			category=:category, status=:status, priority=:priority, effort=:effort, phase=:phase,
			task_list_id=:task_list_id, project_id=:project_id, position=:position,
			consecutive_failures=:consecutive_failures, last_error=:last_error,
			escalated=:escalated, escalated_at=:escalated_at, blocked_by_task_id=:blocked_by_task_id,
			execution_id=:execution_id, updated_at=:updated_at
		WHERE id=:id`, r)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.Exec(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// --- task lists ---

type taskListRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	ProjectID      sql.NullString `db:"project_id"`
	Status         string         `db:"status"`
	MaxWorkers     int            `db:"max_workers"`
	AutoApprove    bool           `db:"auto_approve"`
	TotalTasks     int            `db:"total_tasks"`
	CompletedTasks int            `db:"completed_tasks"`
	FailedTasks    int            `db:"failed_tasks"`
	CreatedAt      sql.NullTime   `db:"created_at"`
	UpdatedAt      sql.NullTime   `db:"updated_at"`
}

func (r *taskListRow) toTaskList() *types.TaskList {
	l := &types.TaskList{
		ID:             r.ID,
		Name:           r.Name,
		Status:         types.TaskListStatus(r.Status),
		MaxWorkers:     r.MaxWorkers,
		AutoApprove:    r.AutoApprove,
		TotalTasks:     r.TotalTasks,
		CompletedTasks: r.CompletedTasks,
		FailedTasks:    r.FailedTasks,
	}
	if r.ProjectID.Valid {
		l.ProjectID = &r.ProjectID.String
	}
	if r.CreatedAt.Valid {
		l.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		l.UpdatedAt = r.UpdatedAt.Time
	}
	return l
}

func rowFromTaskList(l *types.TaskList) taskListRow {
	r := taskListRow{
		ID:             l.ID,
		Name:           l.Name,
		Status:         string(l.Status),
		MaxWorkers:     l.MaxWorkers,
		AutoApprove:    l.AutoApprove,
		TotalTasks:     l.TotalTasks,
		CompletedTasks: l.CompletedTasks,
		FailedTasks:    l.FailedTasks,
		CreatedAt:      sql.NullTime{Time: l.CreatedAt, Valid: !l.CreatedAt.IsZero()},
		UpdatedAt:      sql.NullTime{Time: l.UpdatedAt, Valid: !l.UpdatedAt.IsZero()},
	}
	if l.ProjectID != nil {
		r.ProjectID = sql.NullString{String: *l.ProjectID, Valid: true}
	}
	return r
}

const taskListColumns = `id, name, project_id, status, max_workers, auto_approve,
	total_tasks, completed_tasks, failed_tasks, created_at, updated_at`

func (s *SQLStore) CreateTaskList(ctx context.Context, l *types.TaskList) error {
	r := rowFromTaskList(l)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO task_lists (`+taskListColumns+`)
		VALUES (:id, :name, :project_id, :status, :max_workers, :auto_approve,
			:total_tasks, :completed_tasks, :failed_tasks, :created_at, :updated_at)`, r)
	if err != nil {
		return fmt.Errorf("create task list: %w", err)
	}
	return nil
}

func (s *SQLStore) GetTaskList(ctx context.Context, id string) (*types.TaskList, error) {
	var r taskListRow
	err := s.db.GetContext(ctx, &r, s.rebind(`SELECT `+taskListColumns+` FROM task_lists WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task list %s: %w", id, err)
	}
	return r.toTaskList(), nil
}

func (s *SQLStore) ListTaskLists(ctx context.Context) ([]*types.TaskList, error) {
	var rows []taskListRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+taskListColumns+` FROM task_lists`); err != nil {
		return nil, fmt.Errorf("list task lists: %w", err)
	}
	out := make([]*types.TaskList, len(rows))
	for i := range rows {
		out[i] = rows[i].toTaskList()
	}
	return out, nil
}

func (s *SQLStore) UpdateTaskList(ctx context.Context, l *types.TaskList) error {
	r := rowFromTaskList(l)
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE task_lists SET name=:name, project_id=:project_id, status=:status,
			max_workers=:max_workers, auto_approve=:auto_approve, total_tasks=:total_tasks,
			completed_tasks=:completed_tasks, failed_tasks=:failed_tasks, updated_at=:updated_at
		WHERE id=:id`, r)
	if err != nil {
		return fmt.Errorf("update task list %s: %w", l.ID, err)
	}
	return nil
}

func (s *SQLStore) DeleteTaskList(ctx context.Context, id string) error {
	_, err := s.Exec(ctx, `DELETE FROM task_lists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task list %s: %w", id, err)
	}
	return nil
}

// --- relationships ---

type relationshipRow struct {
	ID        string       `db:"id"`
	FromTask  string       `db:"from_task"`
	ToTask    string       `db:"to_task"`
	Kind      string       `db:"kind"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func (r *relationshipRow) toRelationship() *types.Relationship {
	rel := &types.Relationship{
		ID:       r.ID,
		FromTask: r.FromTask,
		ToTask:   r.ToTask,
		Kind:     types.RelationshipKind(r.Kind),
	}
	if r.CreatedAt.Valid {
		rel.CreatedAt = r.CreatedAt.Time
	}
	return rel
}

func (s *SQLStore) CreateRelationship(ctx context.Context, rel *types.Relationship) error {
	from, to, kind := rel.FromTask, rel.ToTask, rel.Kind
	if kind == types.RelationBlocks {
		// "A blocks B" is stored as "B depends_on A".
		from, to, kind = rel.ToTask, rel.FromTask, types.RelationDependsOn
	}
	_, err := s.Exec(ctx, `INSERT INTO relationships (id, from_task, to_task, kind, created_at)
		VALUES (?, ?, ?, ?, ?)`, rel.ID, from, to, string(kind), rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("create relationship: %w", err)
	}
	return nil
}

func (s *SQLStore) ListRelationshipsByTaskList(ctx context.Context, taskListID string) ([]*types.Relationship, error) {
	var rows []relationshipRow
	q := s.rebind(`SELECT r.id, r.from_task, r.to_task, r.kind, r.created_at
		FROM relationships r
		JOIN tasks t ON t.id = r.from_task
		WHERE t.task_list_id = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, taskListID); err != nil {
		return nil, fmt.Errorf("list relationships for list %s: %w", taskListID, err)
	}
	out := make([]*types.Relationship, len(rows))
	for i := range rows {
		out[i] = rows[i].toRelationship()
	}
	return out, nil
}

func (s *SQLStore) ListRelationshipsForTask(ctx context.Context, taskID string) ([]*types.Relationship, error) {
	var rows []relationshipRow
	q := s.rebind(`SELECT id, from_task, to_task, kind, created_at FROM relationships
		WHERE from_task = ? OR to_task = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, taskID, taskID); err != nil {
		return nil, fmt.Errorf("list relationships for task %s: %w", taskID, err)
	}
	out := make([]*types.Relationship, len(rows))
	for i := range rows {
		out[i] = rows[i].toRelationship()
	}
	return out, nil
}

func (s *SQLStore) DeleteRelationship(ctx context.Context, id string) error {
	_, err := s.Exec(ctx, `DELETE FROM relationships WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete relationship %s: %w", id, err)
	}
	return nil
}

// --- impacts ---

type impactRow struct {
	ID         string       `db:"id"`
	TaskID     string       `db:"task_id"`
	Kind       string       `db:"kind"`
	Operation  string       `db:"operation"`
	TargetPath string       `db:"target_path"`
	Symbol     string       `db:"symbol"`
	Signature  string       `db:"signature"`
	Confidence float64      `db:"confidence"`
	Provenance string       `db:"provenance"`
	CreatedAt  sql.NullTime `db:"created_at"`
}

func (r *impactRow) toImpact() *types.Impact {
	im := &types.Impact{
		ID:         r.ID,
		TaskID:     r.TaskID,
		Kind:       types.ImpactKind(r.Kind),
		Operation:  types.ImpactOperation(r.Operation),
		TargetPath: r.TargetPath,
		Symbol:     r.Symbol,
		Signature:  r.Signature,
		Confidence: r.Confidence,
		Provenance: types.ImpactProvenance(r.Provenance),
	}
	if r.CreatedAt.Valid {
		im.CreatedAt = r.CreatedAt.Time
	}
	return im
}

const impactColumns = `id, task_id, kind, operation, target_path, symbol, signature, confidence, provenance, created_at`

func (s *SQLStore) CreateImpact(ctx context.Context, im *types.Impact) error {
	_, err := s.Exec(ctx, `INSERT INTO impacts (`+impactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		im.ID, im.TaskID, string(im.Kind), string(im.Operation), im.TargetPath, im.Symbol,
		im.Signature, im.Confidence, string(im.Provenance), im.CreatedAt)
	if err != nil {
		return fmt.Errorf("create impact: %w", err)
	}
	return nil
}

func (s *SQLStore) ListImpactsByTask(ctx context.Context, taskID string) ([]*types.Impact, error) {
	var rows []impactRow
	q := s.rebind(`SELECT ` + impactColumns + ` FROM impacts WHERE task_id = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, taskID); err != nil {
		return nil, fmt.Errorf("list impacts for task %s: %w", taskID, err)
	}
	out := make([]*types.Impact, len(rows))
	for i := range rows {
		out[i] = rows[i].toImpact()
	}
	return out, nil
}

func (s *SQLStore) ListImpactsByTaskList(ctx context.Context, taskListID string) ([]*types.Impact, error) {
	var rows []impactRow
	q := s.rebind(`SELECT i.id, i.task_id, i.kind, i.operation, i.target_path, i.symbol, i.signature, i.confidence, i.provenance, i.created_at
		FROM impacts i JOIN tasks t ON t.id = i.task_id WHERE t.task_list_id = ?`)
	if err := s.db.SelectContext(ctx, &rows, q, taskListID); err != nil {
		return nil, fmt.Errorf("list impacts for list %s: %w", taskListID, err)
	}
	out := make([]*types.Impact, len(rows))
	for i := range rows {
		out[i] = rows[i].toImpact()
	}
	return out, nil
}

// --- appendices ---

type appendixRow struct {
	ID        string       `db:"id"`
	TaskID    string       `db:"task_id"`
	Kind      string       `db:"kind"`
	Position  int          `db:"position"`
	Content   string       `db:"content"`
	RefTable  string       `db:"ref_table"`
	RefID     string       `db:"ref_id"`
	CreatedAt sql.NullTime `db:"created_at"`
}

func (r *appendixRow) toAppendix() *types.Appendix {
	a := &types.Appendix{
		ID:       r.ID,
		TaskID:   r.TaskID,
		Kind:     types.AppendixKind(r.Kind),
		Position: r.Position,
		Content:  r.Content,
		RefTable: r.RefTable,
		RefID:    r.RefID,
	}
	if r.CreatedAt.Valid {
		a.CreatedAt = r.CreatedAt.Time
	}
	return a
}

func (s *SQLStore) CreateAppendix(ctx context.Context, a *types.Appendix) error {
	_, err := s.Exec(ctx, `INSERT INTO appendices (id, task_id, kind, position, content, ref_table, ref_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, a.ID, a.TaskID, string(a.Kind), a.Position, a.Content, a.RefTable, a.RefID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create appendix: %w", err)
	}
	return nil
}

func (s *SQLStore) ListAppendicesByTask(ctx context.Context, taskID string) ([]*types.Appendix, error) {
	var rows []appendixRow
	q := s.rebind(`SELECT id, task_id, kind, position, content, ref_table, ref_id, created_at
		FROM appendices WHERE task_id = ? ORDER BY position`)
	if err := s.db.SelectContext(ctx, &rows, q, taskID); err != nil {
		return nil, fmt.Errorf("list appendices for task %s: %w", taskID, err)
	}
	out := make([]*types.Appendix, len(rows))
	for i := range rows {
		out[i] = rows[i].toAppendix()
	}
	return out, nil
}

// GotchasForTargetPath returns up to limit gotcha-kind appendices attached
// to any task that declared an impact on targetPath, most recent first.
// The escalation path uses this to surface knowledge other tasks have
// already recorded about the file a stuck task is touching.
func (s *SQLStore) GotchasForTargetPath(ctx context.Context, targetPath string, limit int) ([]*types.Appendix, error) {
	var rows []appendixRow
	q := s.rebind(`SELECT DISTINCT a.id, a.task_id, a.kind, a.position, a.content, a.ref_table, a.ref_id, a.created_at
		FROM appendices a
		JOIN impacts i ON i.task_id = a.task_id
		WHERE i.target_path = ? AND a.kind = ?
		ORDER BY a.created_at DESC
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, targetPath, string(types.AppendixGotchaList), limit); err != nil {
		return nil, fmt.Errorf("gotchas for target path %s: %w", targetPath, err)
	}
	out := make([]*types.Appendix, len(rows))
	for i := range rows {
		out[i] = rows[i].toAppendix()
	}
	return out, nil
}

// --- worker instances ---

type workerRow struct {
	ID                string       `db:"id"`
	TaskID            string       `db:"task_id"`
	TaskListID        string       `db:"task_list_id"`
	PID               int          `db:"pid"`
	Hostname          string       `db:"hostname"`
	Status            string       `db:"status"`
	LastHeartbeatAt   sql.NullTime `db:"last_heartbeat_at"`
	HeartbeatCount    int          `db:"heartbeat_count"`
	MissedHeartbeats  int          `db:"missed_heartbeats"`
	TasksCompleted    int          `db:"tasks_completed"`
	TasksFailed       int          `db:"tasks_failed"`
	SpawnedAt         sql.NullTime `db:"spawned_at"`
	TerminatedAt      sql.NullTime `db:"terminated_at"`
	TerminationReason string       `db:"termination_reason"`
	ErrorMessage      string       `db:"error_message"`
}

func (r *workerRow) toWorker() *types.WorkerInstance {
	w := &types.WorkerInstance{
		ID:                r.ID,
		TaskID:            r.TaskID,
		TaskListID:        r.TaskListID,
		PID:               r.PID,
		Hostname:          r.Hostname,
		Status:            types.WorkerStatus(r.Status),
		HeartbeatCount:    r.HeartbeatCount,
		MissedHeartbeats:  r.MissedHeartbeats,
		TasksCompleted:    r.TasksCompleted,
		TasksFailed:       r.TasksFailed,
		TerminationReason: r.TerminationReason,
		ErrorMessage:      r.ErrorMessage,
	}
	if r.LastHeartbeatAt.Valid {
		w.LastHeartbeatAt = r.LastHeartbeatAt.Time
	}
	if r.SpawnedAt.Valid {
		w.SpawnedAt = r.SpawnedAt.Time
	}
	if r.TerminatedAt.Valid {
		w.TerminatedAt = &r.TerminatedAt.Time
	}
	return w
}

func rowFromWorker(w *types.WorkerInstance) workerRow {
	r := workerRow{
		ID:                w.ID,
		TaskID:            w.TaskID,
		TaskListID:        w.TaskListID,
		PID:               w.PID,
		Hostname:          w.Hostname,
		Status:            string(w.Status),
		LastHeartbeatAt:   sql.NullTime{Time: w.LastHeartbeatAt, Valid: !w.LastHeartbeatAt.IsZero()},
		HeartbeatCount:    w.HeartbeatCount,
		MissedHeartbeats:  w.MissedHeartbeats,
		TasksCompleted:    w.TasksCompleted,
		TasksFailed:       w.TasksFailed,
		SpawnedAt:         sql.NullTime{Time: w.SpawnedAt, Valid: !w.SpawnedAt.IsZero()},
		TerminationReason: w.TerminationReason,
		ErrorMessage:      w.ErrorMessage,
	}
	if w.TerminatedAt != nil {
		r.TerminatedAt = sql.NullTime{Time: *w.TerminatedAt, Valid: true}
	}
	return r
}

const workerColumns = `id, task_id, task_list_id, pid, hostname, status, last_heartbeat_at,
	heartbeat_count, missed_heartbeats, tasks_completed, tasks_failed, spawned_at,
	terminated_at, termination_reason, error_message`

func (s *SQLStore) CreateWorker(ctx context.Context, w *types.WorkerInstance) error {
	r := rowFromWorker(w)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO workers (`+workerColumns+`)
		VALUES (:id, :task_id, :task_list_id, :pid, :hostname, :status, :last_heartbeat_at,
			:heartbeat_count, :missed_heartbeats, :tasks_completed, :tasks_failed, :spawned_at,
			:terminated_at, :termination_reason, :error_message)`, r)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	return nil
}

func (s *SQLStore) GetWorker(ctx context.Context, id string) (*types.WorkerInstance, error) {
	var r workerRow
	err := s.db.GetContext(ctx, &r, s.rebind(`SELECT `+workerColumns+` FROM workers WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get worker %s: %w", id, err)
	}
	return r.toWorker(), nil
}

func (s *SQLStore) ListActiveWorkers(ctx context.Context) ([]*types.WorkerInstance, error) {
	var rows []workerRow
	q := `SELECT ` + workerColumns + ` FROM workers WHERE status != 'terminated'`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list active workers: %w", err)
	}
	out := make([]*types.WorkerInstance, len(rows))
	for i := range rows {
		out[i] = rows[i].toWorker()
	}
	return out, nil
}

// ListWorkersByTask returns every worker instance that has ever run a
// task, most recent first, capped at limit (0 means no cap). Used by the
// escalation path to assemble the last few execution records for a task
// that's about to be handed to an inspection agent.
func (s *SQLStore) ListWorkersByTask(ctx context.Context, taskID string, limit int) ([]*types.WorkerInstance, error) {
	q := `SELECT ` + workerColumns + ` FROM workers WHERE task_id = ? ORDER BY spawned_at DESC`
	args := []interface{}{taskID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	var rows []workerRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list workers for task %s: %w", taskID, err)
	}
	out := make([]*types.WorkerInstance, len(rows))
	for i := range rows {
		out[i] = rows[i].toWorker()
	}
	return out, nil
}

func (s *SQLStore) UpdateWorker(ctx context.Context, w *types.WorkerInstance) error {
	r := rowFromWorker(w)
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE workers SET status=:status, last_heartbeat_at=:last_heartbeat_at,
			heartbeat_count=:heartbeat_count, missed_heartbeats=:missed_heartbeats,
			tasks_completed=:tasks_completed, tasks_failed=:tasks_failed,
			terminated_at=:terminated_at, termination_reason=:termination_reason,
			error_message=:error_message
		WHERE id=:id`, r)
	if err != nil {
		return fmt.Errorf("update worker %s: %w", w.ID, err)
	}
	return nil
}

// --- heartbeats ---

type heartbeatRow struct {
	ID         string          `db:"id"`
	WorkerID   string          `db:"worker_id"`
	TaskID     string          `db:"task_id"`
	Status     string          `db:"status"`
	Progress   sql.NullInt64   `db:"progress"`
	Step       string          `db:"step"`
	MemoryMB   sql.NullFloat64 `db:"memory_mb"`
	CPUPercent sql.NullFloat64 `db:"cpu_percent"`
	SentAt     sql.NullTime    `db:"sent_at"`
	ReceivedAt sql.NullTime    `db:"received_at"`
}

func (r *heartbeatRow) toHeartbeat() *types.Heartbeat {
	h := &types.Heartbeat{
		ID:       r.ID,
		WorkerID: r.WorkerID,
		TaskID:   r.TaskID,
		Status:   types.WorkerStatus(r.Status),
		Step:     r.Step,
	}
	if r.Progress.Valid {
		p := int(r.Progress.Int64)
		h.Progress = &p
	}
	if r.MemoryMB.Valid {
		h.MemoryMB = &r.MemoryMB.Float64
	}
	if r.CPUPercent.Valid {
		h.CPUPercent = &r.CPUPercent.Float64
	}
	if r.SentAt.Valid {
		h.SentAt = r.SentAt.Time
	}
	if r.ReceivedAt.Valid {
		h.ReceivedAt = r.ReceivedAt.Time
	}
	return h
}

func (s *SQLStore) CreateHeartbeat(ctx context.Context, hb *types.Heartbeat) error {
	var progress sql.NullInt64
	if hb.Progress != nil {
		progress = sql.NullInt64{Int64: int64(*hb.Progress), Valid: true}
	}
	var mem, cpu sql.NullFloat64
	if hb.MemoryMB != nil {
		mem = sql.NullFloat64{Float64: *hb.MemoryMB, Valid: true}
	}
	if hb.CPUPercent != nil {
		cpu = sql.NullFloat64{Float64: *hb.CPUPercent, Valid: true}
	}
	_, err := s.Exec(ctx, `INSERT INTO heartbeats (id, worker_id, task_id, status, progress, step, memory_mb, cpu_percent, sent_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		hb.ID, hb.WorkerID, hb.TaskID, string(hb.Status), progress, hb.Step, mem, cpu, hb.SentAt, hb.ReceivedAt)
	if err != nil {
		return fmt.Errorf("create heartbeat: %w", err)
	}
	return nil
}

func (s *SQLStore) LastHeartbeat(ctx context.Context, workerID string) (*types.Heartbeat, error) {
	var r heartbeatRow
	q := s.rebind(`SELECT id, worker_id, task_id, status, progress, step, memory_mb, cpu_percent, sent_at, received_at
		FROM heartbeats WHERE worker_id = ? ORDER BY received_at DESC LIMIT 1`)
	err := s.db.GetContext(ctx, &r, q, workerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last heartbeat for worker %s: %w", workerID, err)
	}
	return r.toHeartbeat(), nil
}

// --- task versions ---

func (s *SQLStore) CreateTaskVersion(ctx context.Context, v *types.TaskVersion) error {
	snapshot, err := json.Marshal(v.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal task version snapshot: %w", err)
	}
	_, err = s.Exec(ctx, `INSERT INTO task_versions (id, task_id, version, snapshot, reason, actor, checkpoint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, v.ID, v.TaskID, v.Version, string(snapshot), v.Reason, v.Actor, v.Checkpoint, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task version: %w", err)
	}
	return nil
}

func (s *SQLStore) ListTaskVersions(ctx context.Context, taskID string) ([]*types.TaskVersion, error) {
	rows, err := s.Query(ctx, `SELECT id, task_id, version, snapshot, reason, actor, checkpoint, created_at
		FROM task_versions WHERE task_id = ? ORDER BY version`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task versions for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []*types.TaskVersion
	for rows.Next() {
		var v types.TaskVersion
		var snapshot string
		if err := rows.Scan(&v.ID, &v.TaskID, &v.Version, &snapshot, &v.Reason, &v.Actor, &v.Checkpoint, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task version: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshot), &v.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal task version snapshot: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// --- state history ---

func (s *SQLStore) CreateStateHistoryEntry(ctx context.Context, e *types.StateHistoryEntry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal state history metadata: %w", err)
	}
	_, err = s.Exec(ctx, `INSERT INTO state_history (id, task_id, from_status, to_status, actor, actor_kind, reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, string(e.FromStatus), string(e.ToStatus), e.Actor, string(e.ActorKind), e.Reason, string(metadata), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create state history entry: %w", err)
	}
	return nil
}

func (s *SQLStore) ListStateHistory(ctx context.Context, taskID string) ([]*types.StateHistoryEntry, error) {
	rows, err := s.Query(ctx, `SELECT id, task_id, from_status, to_status, actor, actor_kind, reason, metadata, created_at
		FROM state_history WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list state history for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []*types.StateHistoryEntry
	for rows.Next() {
		var e types.StateHistoryEntry
		var fromStatus, toStatus, actorKind, metadata string
		if err := rows.Scan(&e.ID, &e.TaskID, &fromStatus, &toStatus, &e.Actor, &actorKind, &e.Reason, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan state history entry: %w", err)
		}
		e.FromStatus = types.TaskStatus(fromStatus)
		e.ToStatus = types.TaskStatus(toStatus)
		e.ActorKind = types.ActorKind(actorKind)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal state history metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- PRDs ---

func (s *SQLStore) CreatePRD(ctx context.Context, p *types.PRD) error {
	criteria, err := json.Marshal(p.SuccessCriteria)
	if err != nil {
		return fmt.Errorf("marshal PRD success criteria: %w", err)
	}
	constraints, err := json.Marshal(p.Constraints)
	if err != nil {
		return fmt.Errorf("marshal PRD constraints: %w", err)
	}
	_, err = s.Exec(ctx, `INSERT INTO prds (id, name, success_criteria, constraints, created_at)
		VALUES (?, ?, ?, ?, ?)`, p.ID, p.Name, string(criteria), string(constraints), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create PRD: %w", err)
	}
	return nil
}

func (s *SQLStore) GetPRD(ctx context.Context, id string) (*types.PRD, error) {
	row := s.QueryRow(ctx, `SELECT id, name, success_criteria, constraints, created_at FROM prds WHERE id = ?`, id)
	var p types.PRD
	var criteria, constraints string
	if err := row.Scan(&p.ID, &p.Name, &criteria, &constraints, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get PRD %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(criteria), &p.SuccessCriteria); err != nil {
		return nil, fmt.Errorf("unmarshal PRD success criteria: %w", err)
	}
	if err := json.Unmarshal([]byte(constraints), &p.Constraints); err != nil {
		return nil, fmt.Errorf("unmarshal PRD constraints: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) CreatePRDLink(ctx context.Context, link *types.PRDLink) error {
	_, err := s.Exec(ctx, `INSERT INTO prd_links (id, prd_id, task_id, link_type, requirement_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, link.ID, link.PRDID, link.TaskID, string(link.LinkType), link.RequirementRef, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("create PRD link: %w", err)
	}
	return nil
}

func (s *SQLStore) ListPRDLinks(ctx context.Context, prdID string) ([]*types.PRDLink, error) {
	rows, err := s.Query(ctx, `SELECT id, prd_id, task_id, link_type, requirement_ref, created_at
		FROM prd_links WHERE prd_id = ?`, prdID)
	if err != nil {
		return nil, fmt.Errorf("list PRD links for %s: %w", prdID, err)
	}
	defer rows.Close()

	var out []*types.PRDLink
	for rows.Next() {
		var l types.PRDLink
		var linkType string
		if err := rows.Scan(&l.ID, &l.PRDID, &l.TaskID, &linkType, &l.RequirementRef, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan PRD link: %w", err)
		}
		l.LinkType = types.PRDLinkType(linkType)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// --- notifications ---

func (s *SQLStore) CreateNotification(ctx context.Context, n *types.Notification) error {
	_, err := s.Exec(ctx, `INSERT INTO notifications (id, task_id, message, created_at, read_at)
		VALUES (?, ?, ?, ?, ?)`, n.ID, n.TaskID, n.Message, n.CreatedAt, n.ReadAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *SQLStore) ListUnreadNotifications(ctx context.Context, taskID string) ([]*types.Notification, error) {
	rows, err := s.Query(ctx, `SELECT id, task_id, message, created_at, read_at
		FROM notifications WHERE task_id = ? AND read_at IS NULL ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list unread notifications for %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []*types.Notification
	for rows.Next() {
		var n types.Notification
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.TaskID, &n.Message, &n.CreatedAt, &readAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if readAt.Valid {
			n.ReadAt = &readAt.Time
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// --- review flags ---

func (s *SQLStore) CreateReviewFlag(ctx context.Context, f *types.ReviewFlag) error {
	_, err := s.Exec(ctx, `INSERT INTO review_flags (id, task_id, source_task_id, trigger, suggested, reason, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.TaskID, f.SourceTaskID, string(f.Trigger), string(f.Suggested), f.Reason, f.CreatedAt, f.ResolvedAt)
	if err != nil {
		return fmt.Errorf("create review flag: %w", err)
	}
	return nil
}

func (s *SQLStore) ListOpenReviewFlags(ctx context.Context, taskListID string) ([]*types.ReviewFlag, error) {
	q := s.rebind(`SELECT rf.id, rf.task_id, rf.source_task_id, rf.trigger, rf.suggested, rf.reason, rf.created_at, rf.resolved_at
		FROM review_flags rf
		JOIN tasks t ON t.id = rf.task_id
		WHERE t.task_list_id = ? AND rf.resolved_at IS NULL`)
	rows, err := s.db.QueryContext(ctx, q, taskListID)
	if err != nil {
		return nil, fmt.Errorf("list open review flags for %s: %w", taskListID, err)
	}
	defer rows.Close()

	var out []*types.ReviewFlag
	for rows.Next() {
		var f types.ReviewFlag
		var trigger, suggested string
		var resolvedAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.TaskID, &f.SourceTaskID, &trigger, &suggested, &f.Reason, &f.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan review flag: %w", err)
		}
		f.Trigger = types.CascadeTriggerKind(trigger)
		f.Suggested = types.CascadeEffectKind(suggested)
		if resolvedAt.Valid {
			f.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *SQLStore) ResolveReviewFlag(ctx context.Context, id string) error {
	_, err := s.Exec(ctx, `UPDATE review_flags SET resolved_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resolve review flag %s: %w", id, err)
	}
	return nil
}

// --- dependency closures ---
//
// Both queries walk the relationships table (canonicalized to depends_on
// edges) with a recursive CTE, the same shape used by the ready-work
// query in issue-tracking stores this design borrows from: a base case of
// direct edges, a recursive case that joins one more hop, and a depth
// guard so a data error can never spin the CTE forever.

func (s *SQLStore) DependencyClosure(ctx context.Context, taskID string, maxDepth int) ([]string, error) {
	return s.closure(ctx, `
		WITH RECURSIVE closure(id, depth) AS (
			SELECT to_task, 1 FROM relationships WHERE from_task = ? AND kind = 'depends_on'
			UNION
			SELECT r.to_task, c.depth + 1
			FROM relationships r
			JOIN closure c ON r.from_task = c.id
			WHERE r.kind = 'depends_on' AND c.depth < ?
		)
		SELECT DISTINCT id FROM closure`, taskID, maxDepth)
}

func (s *SQLStore) ReverseDependencyClosure(ctx context.Context, taskID string, maxDepth int) ([]string, error) {
	return s.closure(ctx, `
		WITH RECURSIVE closure(id, depth) AS (
			SELECT from_task, 1 FROM relationships WHERE to_task = ? AND kind = 'depends_on'
			UNION
			SELECT r.from_task, c.depth + 1
			FROM relationships r
			JOIN closure c ON r.to_task = c.id
			WHERE r.kind = 'depends_on' AND c.depth < ?
		)
		SELECT DISTINCT id FROM closure`, taskID, maxDepth)
}

func (s *SQLStore) closure(ctx context.Context, query string, taskID string, maxDepth int) ([]string, error) {
	rows, err := s.Query(ctx, query, taskID, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("closure query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan closure row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
