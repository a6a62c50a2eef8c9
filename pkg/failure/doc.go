/*
Package failure absorbs worker failures published on the event broker,
decides what the supervisor should do about each one, and protects the
rest of a task list's dependency graph from a single task going bad.

# Classification

Every failure is tagged with a Kind from a small closed set
(transient_network, rate_limit, syntax, test_failure, timeout,
resource_exhausted, dependency_missing, unknown), computed by Classify as
a pure function of the termination reason and error message the
supervisor reports. The same inputs always classify the same way.

# Decision

Decide turns a task's current Kind and consecutive-failure count into one
of four actions: retry_now, retry_with_backoff (with a kind-specific
cap), escalate, or abandon. Transient and rate-limited failures back off
exponentially; syntax and test failures get two immediate retries before
falling into the same escalation path everything else takes once the
failure count reaches three. A task that fails again while its last
escalation is still unresolved is abandoned rather than escalated twice.

# Transitive blocking

When a task is marked failed, blockDependents walks the reverse
depends_on closure (max depth 20, via storage's recursive CTE) within the
same task list and marks every non-terminal, non-running dependent
blocked, recording the failing task as the blocking ancestor. The engine
then asks the supervisor (through the WorkerController interface, to
avoid an import cycle) to rescan the list, so siblings untouched by the
failure aren't left waiting for the next periodic poll.

# Escalation

Once a task's consecutive-failure count reaches three, the engine
assembles a diagnosis bundle (task snapshot, up to five recent worker
executions, up to ten distinct error messages, up to five gotcha
appendices keyed by the task's highest-confidence file impact) and hands
it to an InspectionAgent through a gobreaker circuit breaker. The task is
marked escalated before the call and stays that way until the call
returns successfully; it is never retried in between.
*/
package failure
