package storage

// sqliteSchema and postgresSchema are applied with CREATE TABLE IF NOT
// EXISTS on every Open call, so a fresh database self-initializes and a
// restart against an existing one is a no-op. They differ only in a
// handful of dialect-specific column types (INTEGER vs BOOLEAN flags,
// TIMESTAMP vs TIMESTAMPTZ, REAL vs DOUBLE PRECISION); neither uses
// autoincrement ids, since every ID is assigned by the caller.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS task_lists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	project_id TEXT,
	status TEXT NOT NULL,
	max_workers INTEGER NOT NULL DEFAULT 1,
	auto_approve INTEGER NOT NULL DEFAULT 0,
	total_tasks INTEGER NOT NULL DEFAULT 0,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	failed_tasks INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	display_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	effort TEXT NOT NULL,
	phase INTEGER NOT NULL DEFAULT 0,
	task_list_id TEXT REFERENCES task_lists(id) ON DELETE CASCADE,
	project_id TEXT,
	position INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	escalated INTEGER NOT NULL DEFAULT 0,
	escalated_at TIMESTAMP,
	blocked_by_task_id TEXT,
	execution_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(task_list_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(task_list_id, status);

CREATE TABLE IF NOT EXISTS relationships (
	id TEXT PRIMARY KEY,
	from_task TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	to_task TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_task);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_task);

CREATE TABLE IF NOT EXISTS impacts (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	operation TEXT NOT NULL,
	target_path TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL DEFAULT '',
	signature TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	provenance TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_impacts_task ON impacts(task_id);
CREATE INDEX IF NOT EXISTS idx_impacts_target ON impacts(target_path);

CREATE TABLE IF NOT EXISTS appendices (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL DEFAULT '',
	ref_table TEXT NOT NULL DEFAULT '',
	ref_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_appendices_task ON appendices(task_id);

CREATE TABLE IF NOT EXISTS workers (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	task_list_id TEXT NOT NULL,
	pid INTEGER NOT NULL,
	hostname TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	last_heartbeat_at TIMESTAMP,
	heartbeat_count INTEGER NOT NULL DEFAULT 0,
	missed_heartbeats INTEGER NOT NULL DEFAULT 0,
	tasks_completed INTEGER NOT NULL DEFAULT 0,
	tasks_failed INTEGER NOT NULL DEFAULT 0,
	spawned_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	terminated_at TIMESTAMP,
	termination_reason TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_workers_task ON workers(task_id);
CREATE INDEX IF NOT EXISTS idx_workers_status ON workers(status);

CREATE TABLE IF NOT EXISTS heartbeats (
	id TEXT PRIMARY KEY,
	worker_id TEXT NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
	task_id TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER,
	step TEXT NOT NULL DEFAULT '',
	memory_mb REAL,
	cpu_percent REAL,
	sent_at TIMESTAMP NOT NULL,
	received_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker ON heartbeats(worker_id, received_at DESC);

CREATE TABLE IF NOT EXISTS task_versions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	snapshot TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	checkpoint TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_task_versions_task ON task_versions(task_id, version);

CREATE TABLE IF NOT EXISTS state_history (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	actor_kind TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_state_history_task ON state_history(task_id, created_at);

CREATE TABLE IF NOT EXISTS prds (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	success_criteria TEXT NOT NULL DEFAULT '[]',
	constraints TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS prd_links (
	id TEXT PRIMARY KEY,
	prd_id TEXT NOT NULL REFERENCES prds(id) ON DELETE CASCADE,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	link_type TEXT NOT NULL,
	requirement_ref TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_prd_links_prd ON prd_links(prd_id);
CREATE INDEX IF NOT EXISTS idx_prd_links_task ON prd_links(task_id);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	message TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	read_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notifications_task ON notifications(task_id);

CREATE TABLE IF NOT EXISTS review_flags (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	source_task_id TEXT NOT NULL,
	trigger TEXT NOT NULL,
	suggested TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	resolved_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_review_flags_task ON review_flags(task_id, resolved_at);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS task_lists (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	project_id TEXT,
	status TEXT NOT NULL,
	max_workers INTEGER NOT NULL DEFAULT 1,
	auto_approve BOOLEAN NOT NULL DEFAULT FALSE,
	total_tasks INTEGER NOT NULL DEFAULT 0,
	completed_tasks INTEGER NOT NULL DEFAULT 0,
	failed_tasks INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	display_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	effort TEXT NOT NULL,
	phase INTEGER NOT NULL DEFAULT 0,
	task_list_id TEXT REFERENCES task_lists(id) ON DELETE CASCADE,
	project_id TEXT,
	position INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	escalated BOOLEAN NOT NULL DEFAULT FALSE,
	escalated_at TIMESTAMPTZ,
	blocked_by_task_id TEXT,
	execution_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tasks_list ON tasks(task_list_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(task_list_id, status);

CREATE TABLE IF NOT EXISTS relationships (
	id TEXT PRIMARY KEY,
	from_task TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	to_task TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_task);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_task);

CREATE TABLE IF NOT EXISTS impacts (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	operation TEXT NOT NULL,
	target_path TEXT NOT NULL DEFAULT '',
	symbol TEXT NOT NULL DEFAULT '',
	signature TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	provenance TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_impacts_task ON impacts(task_id);
CREATE INDEX IF NOT EXISTS idx_impacts_target ON impacts(target_path);

CREATE TABLE IF NOT EXISTS appendices (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL DEFAULT '',
	ref_table TEXT NOT NULL DEFAULT '',
	ref_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_appendices_task ON appendices(task_id);

CREATE TABLE IF NOT EXISTS workers (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	task_list_id TEXT NOT NULL,
	pid INTEGER NOT NULL,
	hostname TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	last_heartbeat_at TIMESTAMPTZ,
	heartbeat_count INTEGER NOT NULL DEFAULT 0,
	missed_heartbeats INTEGER NOT NULL DEFAULT 0,
	tasks_completed INTEGER NOT NULL DEFAULT 0,
	tasks_failed INTEGER NOT NULL DEFAULT 0,
	spawned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	terminated_at TIMESTAMPTZ,
	termination_reason TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_workers_task ON workers(task_id);
CREATE INDEX IF NOT EXISTS idx_workers_status ON workers(status);

CREATE TABLE IF NOT EXISTS heartbeats (
	id TEXT PRIMARY KEY,
	worker_id TEXT NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
	task_id TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER,
	step TEXT NOT NULL DEFAULT '',
	memory_mb DOUBLE PRECISION,
	cpu_percent DOUBLE PRECISION,
	sent_at TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker ON heartbeats(worker_id, received_at DESC);

CREATE TABLE IF NOT EXISTS task_versions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	version INTEGER NOT NULL,
	snapshot TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	checkpoint TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_task_versions_task ON task_versions(task_id, version);

CREATE TABLE IF NOT EXISTS state_history (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	actor_kind TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_state_history_task ON state_history(task_id, created_at);

CREATE TABLE IF NOT EXISTS prds (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	success_criteria TEXT NOT NULL DEFAULT '[]',
	constraints TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prd_links (
	id TEXT PRIMARY KEY,
	prd_id TEXT NOT NULL REFERENCES prds(id) ON DELETE CASCADE,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	link_type TEXT NOT NULL,
	requirement_ref TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_prd_links_prd ON prd_links(prd_id);
CREATE INDEX IF NOT EXISTS idx_prd_links_task ON prd_links(task_id);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	message TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	read_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_notifications_task ON notifications(task_id);

CREATE TABLE IF NOT EXISTS review_flags (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	source_task_id TEXT NOT NULL,
	trigger TEXT NOT NULL,
	suggested TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_review_flags_task ON review_flags(task_id, resolved_at);
`
