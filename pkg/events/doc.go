/*
Package events is an in-memory pub/sub broker for operation and conflict
lifecycle notifications.

The engine, scheduler, and sync coordinator publish events
(operation.enqueued, operation.completed, operation.deadlettered,
conflict.detected, conflict.resolved, ...) rather than requiring callers to
poll GetOperation. Publish is non-blocking: a full subscriber buffer drops
the event rather than stalling the publisher.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			log.Info(ev.Message)
		}
	}()

This is additive observability; the engine's documented external API does
not depend on the broker being consumed.
*/
package events
