/*
Package metrics provides Prometheus metrics collection and exposition for
the orchestration core.

Metrics are registered at package init against the default Prometheus
registry and exposed via Handler for scraping. Gauges track point-in-time
counts (tasks by status, active workers); counters track monotonic totals
(spawns, escalations, cascade applications); histograms track latency
distributions (planning, readiness scoring, inspection agent calls).

# Update paths

Two different update paths feed these metrics:

  - Call-site increments: components that already know the event
    (the supervisor on spawn, the failure engine on escalation) update
    counters directly at the point of occurrence.
  - Polled gauges: Collector polls a Source (pkg/storage's Store) every
    15 seconds and recomputes point-in-time counts that have no single
    call site, how many tasks are in each status, how many workers are
    currently alive. This mirrors a reconciliation loop: the gauge value
    is always a snapshot, never an accumulator.

# Health vs. metrics

HealthChecker (health.go) is deliberately separate from the Prometheus
registry: it answers "is this process ready to serve traffic" for
/health, /ready, and /live probes, while the Prometheus metrics answer
"what is this process doing" for dashboards and alerting. A component
can be Prometheus-visible (e.g. WorkersActive) without being part of the
readiness gate, and vice versa.
*/
package metrics
