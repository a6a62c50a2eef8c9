/*
Package cascade discovers and applies the downstream consequences of a
task mutation.

# Triggers and effects

A mutation is tagged with one of four trigger kinds (status_changed,
priority_changed, dependency_changed, impact_changed). Analyze runs a
three-step discovery: direct effects (one per task that depends_on the
source, suggested action keyed by trigger), impact-overlap effects (only
for impact_changed, one per task sharing a target path with the source's
new impacts), and transitive effects (a breadth-first walk of depends_on
inverse arrows up to depth 3, each newly-visited task producing a notify
effect). A task visited once is never revisited at a deeper level.

# Auto-approval

An effect applies immediately when the task list's auto-approve flag is
set, the effect is intrinsically auto-approvable (notify/auto_update for
status_changed and priority_changed, and every transitive effect),
or the caller passed approveAll to Apply. Everything else is recorded as
a ReviewFlag instead of acted on.

# Wiring

Listener subscribes to the event broker's task.edited events (published
by the API's task edit handler when a task's status or priority is
edited; dependency, impact and description changes publish none) and
runs Analyze followed by Apply with approveAll=false, so only the
auto-approvable slice of each report executes without a human in the
loop.
*/
package cascade
