// Package message defines the immutable value routed by the broker.
//
// A Message carries a dot-segmented topic (for example "order.placed"), header
// fields used by content filters (type and priority), string metadata, and a
// structured payload addressed by field name.
//
// Example usage:
//
//	msg := message.New("order.placed",
//		message.WithType(message.TypeEvent),
//		message.WithPriority(message.PriorityHigh),
//		message.WithMetadata("region", "eu"),
//		message.WithField("amount", 42.5),
//	)
//
// Messages are shared between every handler a broker fans out to, so handlers
// must treat them as read-only. Use Copy when a modified version is required.
package message
