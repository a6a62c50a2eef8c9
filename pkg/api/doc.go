/*
Package api implements the orchestration core's HTTP surface: worker
heartbeat ingestion, read-only inspection of tasks, lists, and workers,
and the small set of write endpoints that drive execution and task edits
from outside the process.

# Architecture

The API is the one network boundary the core has: a worker process
posting its own liveness, and a human or CLI inspecting/mutating state:

	┌──────────────── WORKER PROCESS ────────────────┐
	│  POST /v1/heartbeats                            │
	└─────────────────────┬───────────────────────────┘
	                      │ HTTP (chi router)
	┌─────────────────────▼──── ORCHESTRATOR ─────────┐
	│  pkg/api (this package)                          │
	│   - heartbeat ingestion -> pkg/supervisor         │
	│   - task/list/worker inspection -> pkg/storage    │
	│   - readiness -> pkg/gatekeeper                   │
	│   - plan preview -> pkg/planner                   │
	│   - PRD coverage -> pkg/prd                       │
	│   - task edits -> publishes task.edited on the    │
	│     broker, which pkg/cascade consumes            │
	└───────────────────────────────────────────────────┘

# Routes

Heartbeat ingestion:
  - POST /v1/heartbeats

Task operations:
  - GET   /v1/tasks/{taskID}
  - PATCH /v1/tasks/{taskID}
  - GET   /v1/tasks/{taskID}/readiness
  - GET   /v1/tasks/{taskID}/cascade

Task list operations:
  - GET  /v1/lists/{listID}
  - GET  /v1/lists/{listID}/plan
  - GET  /v1/lists/{listID}/workers
  - GET  /v1/lists/{listID}/review-flags
  - POST /v1/lists/{listID}/start
  - POST /v1/lists/{listID}/pause
  - POST /v1/lists/{listID}/resume

Worker and PRD inspection:
  - GET /v1/workers/{workerID}
  - GET /v1/prds/{prdID}/coverage

Operational endpoints:
  - GET /healthz
  - GET /metrics

# Error mapping

Handlers translate orcherr.Kind values to HTTP status: not_found -> 404,
precondition_failed -> 400, cycle_detected -> 409, everything else -> 500.
Responses are always `{"error": "..."}` on failure or the requested
resource as JSON on success, no envelope, no pagination cursor, matching
the rest of the core's preference for plain structs over wire-protocol
ceremony.
*/
package api
