/*
Package events provides an in-memory event broker for the orchestration
core's pub/sub messaging.

The broker broadcasts task, worker, and cascade lifecycle events to any
number of subscribers over buffered channels. It is topic-agnostic: every
subscriber receives every event and filters by EventType itself. This
keeps the cascade propagator, the notification writer, and any read-only
observers (CLI watch mode, dashboards) decoupled from the components that
raise events, the supervisor and the API publish without knowing who, if
anyone, is listening.

# Delivery semantics

Publish queues the event onto an internal channel (100 events) and returns
once it is queued; while that queue is full it waits until there is room
or the broker is stopped. Queued events are fanned out by a single
broadcast goroutine started by Start. Each subscriber has its own buffered channel (50 events);
a slow subscriber that falls behind has events dropped rather than
blocking the rest of the system. This trades guaranteed delivery for the
core property that a wedged observer can never stall task execution.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:    events.EventTaskEscalated,
		Message: "task exceeded consecutive failure limit",
		Metadata: map[string]string{"task_id": taskID},
	})

Consumers range over the Subscriber channel and switch on Event.Type.
*/
package events
