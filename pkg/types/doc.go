/*
Package types defines the core data structures used throughout the task
orchestration core.

This package contains the fundamental types that represent the domain model:
tasks, task lists, dependency relationships, impacts, appendices, worker
instances, heartbeats, versions, and history entries. These types are used
by the planner, supervisor, failure engine, gatekeeper, and cascade
propagator for state management and analysis.

# Core Types

Task graph:
  - Task: unit of work, either list-scheduled or sitting in the evaluation queue
  - TaskList: ordered collection of tasks sharing one concurrency cap
  - Relationship: directed edge between two tasks (depends_on, blocks, ...)
  - Impact: a declared touch on a file/API/DB object/type/function

Execution:
  - WorkerInstance: a supervised child process that owns one task
  - Heartbeat: a liveness record emitted by a worker

History:
  - TaskVersion: immutable snapshot of a task's mutable fields
  - StateHistoryEntry: append-only log of status transitions

Derived:
  - ReadinessScore: the cached six-dimension atomicity score
  - PRD / PRDLink: external requirements coverage bookkeeping

All enum-like fields are plain strings with a closed set of constants and a
Valid method, rather than open interfaces, none of these sets is expected
to grow without a spec change.
*/
package types
