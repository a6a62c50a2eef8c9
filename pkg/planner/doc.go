/*
Package planner turns a task list's dependency graph into an ordered
sequence of waves that can be handed to the supervisor one wave at a time.

# Wave leveling

Plan runs Kahn's algorithm over the depends_on edges restricted to the
task list: tasks with no unresolved dependency form wave 0, removing them
unblocks the next layer, and so on until every task is placed or the
remaining graph is a cycle. Ties within a wave (multiple tasks becoming
ready at once) are broken by Position, then DisplayID, so the plan is
deterministic for a fixed graph.

A dependency on a task outside the list, or on a task already terminal
(completed/cancelled/archived), is treated as satisfied, it can't block
a wave that's still running.

# Cycle detection

Before leveling, Plan runs a DFS three-color check over the same edge
set. A cycle makes the whole list unplannable: Plan returns a *CycleError
naming the first cycle found rather than silently dropping the
offending tasks.

# Sub-wave partitioning

A wave can still contain tasks that would conflict if run at the same
time (two tasks writing the same file). Plan asks a gatekeeper.Gatekeeper
to partition each wave into sub-groups where every pair is conflict-free,
greedily packing tasks into the first sub-group that accepts them, then
caps each sub-group at the task list's MaxWorkers.
*/
package planner
