// Package broker provides the public contract of the message router.
//
// A Broker owns a routing table and a dead letter queue. Messages are
// dispatched by topic (Route) or by content (RouteByContent) to every matching
// active route, highest priority first. A failing handler never blocks
// delivery to the remaining routes; its message is moved to the dead letter
// queue instead.
//
// Lifecycle:
//   - A new broker is stopped. Routing calls fail with ErrBrokerNotRunning.
//   - Start and Stop are idempotent. Route management works in either state.
//   - Close stops the broker and releases the routing table and queue.
//
// Example usage:
//
//	b.AddRoute(ctx, "orders", "order.#", routingtable.HandlerFunc(handleOrder), broker.DefaultPriority)
//	if err := b.Start(ctx); err != nil {
//		return err
//	}
//
//	err := b.Route(ctx, message.New("order.placed", message.WithField("sku", "A-1")))
//	switch {
//	case errors.Is(err, broker.ErrNoMatchingRoutes):
//		// unrouted, possibly captured in the dead letter queue
//	case errors.Is(err, broker.ErrHandlerFailed):
//		// every matching route failed
//	}
package broker
