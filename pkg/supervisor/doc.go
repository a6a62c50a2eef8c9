/*
Package supervisor spawns, monitors, and terminates the worker processes
that execute tasks.

# Process model

Each task that leaves the pending state gets exactly one live worker
process at a time (P1 in the storage layer). The supervisor spawns it as
an ordinary child process, not a container:

	<worker-binary> --agent-id <id> --task-id <task> --task-list-id <list> [--resume-execution-id <exec>]

with AGENT_ID, TASK_ID, and TASK_LIST_ID also set in the environment, so
a worker implementation can pick up whichever it finds more convenient.
The supervisor itself never speaks the worker's task-specific protocol;
it only cares about the worker's heartbeats and exit code.

# Heartbeat monitoring

Workers are expected to emit a heartbeat at least every checkInterval
(30s); monitorLoop polls the store every checkInterval and flags a worker
that has gone longer than heartbeatTimeout (90s) since its last
heartbeat as missed. After missedThreshold (3) consecutive misses, the
supervisor terminates the worker as unresponsive, which publishes the
same task.failed event a non-zero exit code would.

# Ready-task rescan

Run polls every active task list, asks a Planner to level its remaining
tasks into waves, and spawns a worker for every task in the lowest
unstarted wave that doesn't already have one running, up to the list's
MaxWorkers. A worker's successful exit, ResumeExecution, and RescanList
each run one reconcile pass of that list at once; any other change that
makes a task ready is picked up on the next poll.
*/
package supervisor
