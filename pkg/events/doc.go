/*
Package events implements a small in-process publish/subscribe bus for
cluster lifecycle events: membership changes, elections, degradation-level
transitions, document replication, and rebalancing.

# Architecture

Broker decouples publishers from subscribers through a buffered channel
and a fan-out goroutine:

	Publish(event) -> eventCh (buffered 100) -> run() -> broadcast to each Subscriber (buffered 50)

A slow or inattentive subscriber drops events rather than blocking the
broker -- Subscribe/Unsubscribe are safe to call concurrently with
Publish.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:   events.EventNodeFailed,
		NodeID: "node-3",
	})

	for ev := range sub {
		// handle ev
	}

# See also

  - pkg/coordinator, which publishes membership, routing, replication and
    rebalance events as it reacts to cluster changes (it publishes no
    degradation.changed event)
  - pkg/metrics for the counters driven by the same underlying changes
*/
package events
