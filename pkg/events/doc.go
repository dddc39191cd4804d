/*
Package events provides an in-memory event broker for polisd's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting
container, image, build, and network lifecycle events to interested
subscribers. It supports a buffered publish queue and per-subscriber
buffered delivery. pkg/runtime publishes container lifecycle events;
no other package in this repository publishes or subscribes.

# Core Components

Event Broker:
  - Central message bus, one instance per daemon
  - Publish queues onto a 100-event buffered channel and blocks while it is full
  - Fan-out broadcast to all subscribers, full subscriber buffers skip

Event:
  - ID, Type, Timestamp, Message, Metadata (free-form key/value)

Event Types:
  - Container: created, started, paused, stopped, died, removed
  - Image: pull.start, pull.done, removed
  - Build: started, step.done, finished
  - Cache: evicted
  - Network: attached, detached

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			log.Info(string(event.Type))
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventContainerStarted,
		Message: "container started",
		Metadata: map[string]string{"container_id": id.String()},
	})

# Delivery guarantees

Publish returns once the event is queued or the broker is stopped; it
waits only while the 100-event queue is full. A full subscriber buffer causes that
subscriber to miss the event rather than blocking the broadcaster.
Callers that need guaranteed delivery (audit trails) should persist the
event themselves before publishing, not rely on this broker.
*/
package events
