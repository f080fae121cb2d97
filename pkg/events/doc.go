/*
Package events provides the in-memory event broker of the Nimbus engine and
a forwarder that relays engine events to NATS.

# Architecture

Every change of user intent and every reconciliation outcome is published
as an Event. The broker fans events out to subscribers over buffered
channels:

	desired store ──┐
	                ├──► Broker (queue: 256) ──► subscriber (buffer: 64)
	reconciler ─────┘                      ├──► SSE stream (/events)
	                                       └──► Forwarder ──► NATS

Publishing never blocks. When the broker queue or a subscriber buffer is
full the event is dropped and nimbus_events_dropped_total is incremented;
events are notifications, the desired store stays the source of truth.

# Event Types

	resource.declared       a new record was stored
	resource.updated        a spec change advanced the generation
	resource.deleting       deletion was requested
	resource.removed        teardown confirmed, record dropped
	resource.retried        a Failed record was re-armed
	resource.phase_changed  the phase of a record moved
	action.started          an action was handed to the executor
	action.succeeded        an action converged
	action.failed           an action failed terminally
	action.superseded       a result was discarded for a newer generation
	observation.failed      the live state of a kind could not be read

# NATS

When events.natsURL is configured, the Forwarder publishes every event as
JSON on "<subject>.<type>", e.g. "nimbus.events.action.failed":

	nc, err := events.ConnectNATS(cfg.Events.NATSURL, "nimbus")
	if err != nil {
		return err
	}
	fwd := events.NewForwarder(nc, cfg.Events.Subject)
	go fwd.Run(broker.Subscribe())

The connection reconnects forever with a 2s wait; publish failures are
logged and the event is skipped.
*/
package events
