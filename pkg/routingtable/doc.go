// Package routingtable provides interfaces for topic and content routing.
//
// This package defines the core abstractions for the routing table component:
//   - Matches / ValidatePattern: the wildcard topic matcher
//   - Handler: the callback a route delivers to
//   - RouteInfo / Route: read-only snapshots of registered routes
//   - RoutingTable: interface for managing topic and content routes
//
// The interfaces use Go idioms:
//   - context.Context on every operation
//   - Explicit error returns following Go conventions
//   - io.Closer for resource cleanup
//   - Value snapshots so callers can never mutate table state
//
// Example usage:
//
//	// Register a route for every order event
//	err := table.AddRoute(ctx, "orders", "order.#", handler, 5)
//	if err != nil {
//		return err
//	}
//
//	// Find the routes for a topic, highest priority first
//	for _, route := range table.FindMatching(ctx, "order.placed") {
//		if err := route.Handler.Handle(ctx, msg); err == nil {
//			route.RecordDelivery()
//		}
//	}
//
// Wildcard Patterns:
//   - Topics and patterns are split on "."
//   - "*" matches exactly one non-empty segment: "user.*" matches "user.created"
//     but not "user.admin.created"
//   - "#" matches zero or more trailing segments and must be the final segment:
//     "order.#" matches "order", "order.placed" and "order.placed.confirmed"
//   - "*.user.#" matches "app.user.settings.theme"
package routingtable
