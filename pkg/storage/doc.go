/*
Package storage provides the relational persistence layer for the
orchestration core: tasks, task lists, the dependency/impact graph, worker
instances and their heartbeats, version snapshots, state history, PRD
coverage links, notifications, and cascade review flags.

# Two drivers, one implementation

SQLStore implements Store against database/sql through sqlx. OpenSQLite
and OpenPostgres both return a *SQLStore; the only difference is the
driver registered with database/sql and the bindvar style sqlx.Rebind
translates queries into ('?' for sqlite, '$1'.. for postgres). Schema
text is kept separately per driver (schema.go) because the two engines
disagree on a handful of column types (INTEGER booleans vs. BOOLEAN,
TIMESTAMP vs. TIMESTAMPTZ), the statements are otherwise identical.

Sqlite is the default for a single taskcored process; postgres is for
deployments where a supervisor and a read-only inspection API run as
separate processes against shared state.

# Dependency closures

The failure engine's transitive-blocking sweep needs "everything that
reaches this task by following depends_on edges, up to N hops";
DependencyClosure offers the same walk in the forward direction. Rather
than walk relationships in Go with repeated queries,
DependencyClosure and ReverseDependencyClosure push the walk into a recursive CTE with a depth guard, so a single
round trip returns the full closure (or nothing, past maxDepth, if the
data somehow contains a longer chain than the guard allows).

# Row mapping

Domain types carry pointer fields for optional values (*string, *time.Time)
and structured fields (map[string]string, []string) that don't map to
flat SQL columns. The row structs in sql_store.go give sqlx a flat,
nullable-aware shape to scan into, with small to/from helpers carrying
values across that boundary, JSON-encoding structured fields like
TaskVersion.Snapshot and StateHistoryEntry.Metadata.
*/
package storage
