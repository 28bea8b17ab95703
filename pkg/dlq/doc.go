// Package dlq provides interfaces for the dead letter queue.
//
// A dead letter queue captures messages whose delivery failed, or that matched
// no route, so they can be inspected, replayed or purged later. The queue is
// bounded: when it is full the configured OverflowPolicy decides whether the
// oldest entry is evicted, the incoming entry is rejected, or the caller waits
// for space.
//
// Replay is driven by a ReplayFunc supplied by the owner of the queue (usually
// the broker). The queue never holds its lock while a ReplayFunc runs.
//
// Example usage:
//
//	cfg := dlq.DefaultConfig()
//	cfg.MaxSize = 100
//	cfg.OnFull = dlq.DropOldest
//
//	entry, err := queue.Add(ctx, dlq.Entry{Message: msg, FailureReason: "handler failed"})
//	if errors.Is(err, dlq.ErrCapacityExceeded) {
//		// rejected under drop_newest
//	}
//
//	err = queue.Replay(ctx, msg.ID, func(ctx context.Context, e dlq.Entry) error {
//		return broker.Route(ctx, e.Message)
//	})
package dlq
