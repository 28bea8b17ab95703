package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/broker"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/filter"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

var alwaysMatch = filter.Func(func(*message.Message) bool { return true })

func TestMessageBroker_PriorityOrder(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, b.AddRoute(ctx, "low", "order.*", rec.handler("low"), 1))
	require.NoError(t, b.AddRoute(ctx, "high", "order.#", rec.handler("high"), 10))

	require.NoError(t, b.Route(ctx, message.New("order.placed")))
	assert.Equal(t, []string{"high", "low"}, rec.Calls())
}

func TestMessageBroker_EqualPriorityIsFIFO(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, b.AddRoute(ctx, id, "user.*", rec.handler(id), 5))
	}

	require.NoError(t, b.Route(ctx, message.New("user.created")))
	assert.Equal(t, []string{"first", "second", "third"}, rec.Calls())
}

func TestMessageBroker_RemoveRoute(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, b.AddRoute(ctx, "orders", "order.#", rec.handler("orders"), 5))
	require.NoError(t, b.Route(ctx, message.New("order.placed")))
	require.NoError(t, b.RemoveRoute(ctx, "orders"))

	err := b.Route(ctx, message.New("order.placed"))
	assert.True(t, errors.Is(err, broker.ErrNoMatchingRoutes))
	assert.Equal(t, []string{"orders"}, rec.Calls())

	assert.True(t, errors.Is(b.RemoveRoute(ctx, "orders"), broker.ErrRouteNotFound))
}

func TestMessageBroker_DuplicateRoute(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, b.AddRoute(ctx, "orders", "order.#", rec.handler("original"), 5))
	err := b.AddRoute(ctx, "orders", "user.#", rec.handler("replacement"), 9)
	assert.True(t, errors.Is(err, broker.ErrRouteAlreadyExists))

	info, err := b.GetRoute(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "order.#", info.Pattern)
	assert.Equal(t, 5, info.Priority)

	require.NoError(t, b.Route(ctx, message.New("order.placed")))
	assert.Equal(t, []string{"original"}, rec.Calls())
}

func TestMessageBroker_InvalidPattern(t *testing.T) {
	b := newBroker(t, nil)
	err := b.AddRoute(context.Background(), "bad", "order.#.placed", (&recorder{}).handler("bad"), 5)
	assert.True(t, errors.Is(err, broker.ErrInvalidPattern))
}

func TestMessageBroker_RouteLimit(t *testing.T) {
	b := newBroker(t, NewConfig().WithMaxRoutes(1))
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, b.AddRoute(ctx, "a", "a", rec.handler("a"), 5))
	err := b.AddRoute(ctx, "b", "b", rec.handler("b"), 5)
	assert.True(t, errors.Is(err, broker.ErrRouteLimitExceeded))
}

func TestMessageBroker_NoMatchingRoutes(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()

	err := b.Route(ctx, message.New("nobody.listens"))
	assert.True(t, errors.Is(err, broker.ErrNoMatchingRoutes))

	stats := b.Statistics(ctx)
	assert.Equal(t, uint64(1), stats.MessagesUnrouted)
	assert.Equal(t, uint64(0), stats.MessagesRouted)
	assert.Equal(t, 0, b.DLQSize(), "unrouted messages are not captured by default")
}

func TestMessageBroker_CaptureUnrouted(t *testing.T) {
	b := newStartedBroker(t, NewConfig().WithCaptureUnrouted(true))
	ctx := context.Background()

	msg := message.New("nobody.listens")
	assert.True(t, errors.Is(b.Route(ctx, msg), broker.ErrNoMatchingRoutes))
	assert.True(t, errors.Is(b.RouteByContent(ctx, msg), broker.ErrNoMatchingRoutes))

	entries := b.DLQMessages(0)
	require.Len(t, entries, 2)
	assert.Equal(t, ReasonNoMatchingRoutes, entries[0].FailureReason)
	assert.Equal(t, routingtable.KindTopic, entries[0].Kind)
	assert.Equal(t, routingtable.KindContent, entries[1].Kind)
	assert.Empty(t, entries[0].RouteID)
	assert.Equal(t, uint64(2), b.Statistics(ctx).MessagesUnrouted)
}

func TestMessageBroker_PartialFailure(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}
	boom := errors.New("boom")

	require.NoError(t, b.AddRoute(ctx, "broken", "order.#", rec.failing("broken", boom), 9))
	require.NoError(t, b.AddRoute(ctx, "working", "order.#", rec.handler("working"), 1))

	msg := message.New("order.placed")
	report, err := b.Deliver(ctx, msg)
	require.NoError(t, err, "one successful route is enough")

	// A failing handler does not stop delivery to later routes
	assert.Equal(t, []string{"broken", "working"}, rec.Calls())
	assert.Equal(t, 2, report.Matched)
	assert.Equal(t, 1, report.Delivered)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "broken", report.Failures[0].RouteID)
	assert.True(t, errors.Is(report.Failures[0], boom))

	stats := b.Statistics(ctx)
	assert.Equal(t, uint64(2), stats.MessagesRouted)
	assert.Equal(t, uint64(1), stats.MessagesDelivered)
	assert.Equal(t, uint64(1), stats.MessagesFailed)

	entries := b.DLQMessages(0)
	require.Len(t, entries, 1)
	assert.Equal(t, msg.ID, entries[0].Message.ID)
	assert.Equal(t, "broken", entries[0].RouteID)
	assert.Equal(t, "boom", entries[0].FailureReason)

	info, err := b.GetRoute(ctx, "working")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.MessagesProcessed)
	info, err = b.GetRoute(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.MessagesProcessed)
}

func TestMessageBroker_AllRoutesFail(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, b.AddRoute(ctx, "a", "x", rec.failing("a", errors.New("a failed")), 5))
	require.NoError(t, b.AddRoute(ctx, "b", "x", rec.failing("b", errors.New("b failed")), 5))

	err := b.Route(ctx, message.New("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrHandlerFailed))

	var dispatchErr *broker.DispatchError
	require.True(t, errors.As(err, &dispatchErr))
	assert.Len(t, dispatchErr.Failures, 2)
	assert.Equal(t, 2, b.DLQSize())
}

func TestMessageBroker_HandlerPanic(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	panicky := routingtable.HandlerFunc(func(context.Context, *message.Message) error {
		panic("handler exploded")
	})
	require.NoError(t, b.AddRoute(ctx, "panicky", "x", panicky, 9))
	require.NoError(t, b.AddRoute(ctx, "steady", "x", rec.handler("steady"), 1))

	report, err := b.Deliver(ctx, message.New("x"))
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Error(), "handler exploded")
	assert.Equal(t, []string{"steady"}, rec.Calls())
}

func TestMessageBroker_HandlerTimeout(t *testing.T) {
	b := newStartedBroker(t, NewConfig().WithHandlerTimeout(20*time.Millisecond))
	ctx := context.Background()

	slow := routingtable.HandlerFunc(func(ctx context.Context, _ *message.Message) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	require.NoError(t, b.AddRoute(ctx, "slow", "x", slow, 5))

	err := b.Route(ctx, message.New("x"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, uint64(1), b.Statistics(ctx).MessagesFailed)
}

func TestMessageBroker_HandlerReceivesCallerContext(t *testing.T) {
	b := newStartedBroker(t, nil)
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "tenant-7")

	var got any
	require.NoError(t, b.AddRoute(ctx, "r", "x", routingtable.HandlerFunc(func(ctx context.Context, _ *message.Message) error {
		got = ctx.Value(key{})
		return nil
	}), 5))

	require.NoError(t, b.Route(ctx, message.New("x")))
	assert.Equal(t, "tenant-7", got)
}

func TestMessageBroker_HandlerMayMutateRoutes(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	// A handler that registers another route must not deadlock
	selfExtending := routingtable.HandlerFunc(func(ctx context.Context, msg *message.Message) error {
		if !b.HasRoute(ctx, "late") {
			return b.AddRoute(ctx, "late", "x", rec.handler("late"), 1)
		}
		return nil
	})
	require.NoError(t, b.AddRoute(ctx, "extender", "x", selfExtending, 9))

	require.NoError(t, b.Route(ctx, message.New("x")))
	assert.Empty(t, rec.Calls(), "routes added mid-dispatch do not see the in-flight message")

	require.NoError(t, b.Route(ctx, message.New("x")))
	assert.Equal(t, []string{"late"}, rec.Calls())
}

func TestMessageBroker_ConcurrentRouting(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()

	var counter atomic.Int64
	require.NoError(t, b.AddRoute(ctx, "counter", "metrics.tick", routingtable.HandlerFunc(
		func(context.Context, *message.Message) error {
			counter.Add(1)
			return nil
		}), 5))

	const workers = 4
	const perWorker = 250

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := b.Route(ctx, message.New("metrics.tick")); err != nil {
					t.Errorf("Route failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*perWorker), counter.Load())
	stats := b.Statistics(ctx)
	assert.Equal(t, uint64(workers*perWorker), stats.MessagesDelivered)
	assert.Equal(t, uint64(workers*perWorker), stats.MessagesRouted)

	info, err := b.GetRoute(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(workers*perWorker), info.MessagesProcessed)
}

func TestMessageBroker_ConcurrentRoutingWithMutation(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()

	var delivered atomic.Int64
	counting := routingtable.HandlerFunc(func(context.Context, *message.Message) error {
		delivered.Add(1)
		return nil
	})
	require.NoError(t, b.AddRoute(ctx, "stable", "load.#", counting, 5))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Churn a second route while routing is in flight
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			b.AddRoute(ctx, "churn", "load.*", counting, 1)
			b.RemoveRoute(ctx, "churn")
		}
	}()

	for i := 0; i < 500; i++ {
		require.NoError(t, b.Route(ctx, message.New("load.test")))
	}
	close(stop)
	wg.Wait()

	info, err := b.GetRoute(ctx, "stable")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), info.MessagesProcessed)
	assert.GreaterOrEqual(t, delivered.Load(), int64(500))
}

func TestMessageBroker_ResetStatistics(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, b.AddRoute(ctx, "r", "x", rec.handler("r"), 5))
	require.NoError(t, b.Route(ctx, message.New("x")))
	b.Route(ctx, message.New("y"))

	before := b.Statistics(ctx)
	assert.Equal(t, uint64(1), before.MessagesDelivered)
	assert.Equal(t, uint64(1), before.MessagesUnrouted)
	assert.Equal(t, 1, before.ActiveRoutes)

	time.Sleep(time.Millisecond)
	b.ResetStatistics()

	after := b.Statistics(ctx)
	assert.Zero(t, after.MessagesRouted)
	assert.Zero(t, after.MessagesDelivered)
	assert.Zero(t, after.MessagesUnrouted)
	assert.Equal(t, 1, after.ActiveRoutes, "active routes are derived, not reset")
	assert.True(t, after.LastReset.After(before.LastReset))
}

func TestMessageBroker_DisabledRouteNotInvoked(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, b.AddRoute(ctx, "r", "x", rec.handler("r"), 5))
	require.NoError(t, b.DisableRoute(ctx, "r"))

	assert.True(t, errors.Is(b.Route(ctx, message.New("x")), broker.ErrNoMatchingRoutes))
	assert.Equal(t, 0, b.Statistics(ctx).ActiveRoutes)

	require.NoError(t, b.EnableRoute(ctx, "r"))
	require.NoError(t, b.Route(ctx, message.New("x")))
	assert.Equal(t, []string{"r"}, rec.Calls())
}

func TestMessageBroker_RouteByContent(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, b.AddContentRoute(ctx, "urgent",
		filter.PriorityAtLeast(message.PriorityUrgent), rec.handler("urgent"), 9))
	require.NoError(t, b.AddContentRoute(ctx, "eu",
		filter.MetadataEquals("region", "eu"), rec.handler("eu"), 5))
	require.NoError(t, b.AddRoute(ctx, "topic", "#", rec.handler("topic"), 10))

	msg := message.New("alerts.disk",
		message.WithPriority(message.PriorityUrgent),
		message.WithMetadata("region", "eu"))

	report, err := b.DeliverByContent(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, []string{"urgent", "eu"}, rec.Calls(), "topic routes are not consulted")

	err = b.RouteByContent(ctx, message.New("alerts.disk"))
	assert.True(t, errors.Is(err, broker.ErrNoMatchingRoutes))
	assert.Equal(t, uint64(1), b.Statistics(ctx).MessagesUnrouted)
}

func TestMessageBroker_ContentRouteManagement(t *testing.T) {
	b := newBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	require.NoError(t, b.AddContentRoute(ctx, "c", alwaysMatch, rec.handler("c"), 5))
	assert.True(t, b.HasContentRoute(ctx, "c"))
	assert.Equal(t, 1, b.ContentRouteCount(ctx))

	require.NoError(t, b.DisableContentRoute(ctx, "c"))
	info, err := b.GetContentRoute(ctx, "c")
	require.NoError(t, err)
	assert.False(t, info.Active)
	require.NoError(t, b.EnableContentRoute(ctx, "c"))

	assert.Len(t, b.GetContentRoutes(ctx), 1)
	require.NoError(t, b.RemoveContentRoute(ctx, "c"))
	assert.True(t, errors.Is(b.RemoveContentRoute(ctx, "c"), broker.ErrRouteNotFound))

	b.AddContentRoute(ctx, "d", alwaysMatch, rec.handler("d"), 5)
	b.ClearContentRoutes(ctx)
	assert.Zero(t, b.ContentRouteCount(ctx))
}

func TestMessageBroker_ClearRoutes(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	b.AddRoute(ctx, "a", "a.#", rec.handler("a"), 5)
	b.AddRoute(ctx, "b", "b.#", rec.handler("b"), 5)
	assert.Equal(t, 2, b.RouteCount(ctx))
	assert.Len(t, b.GetRoutes(ctx), 2)

	b.ClearRoutes(ctx)
	assert.Zero(t, b.RouteCount(ctx))
	assert.True(t, errors.Is(b.Route(ctx, message.New("a.x")), broker.ErrNoMatchingRoutes))
}

func TestMessageBroker_NilMessage(t *testing.T) {
	b := newStartedBroker(t, nil)
	assert.True(t, errors.Is(b.Route(context.Background(), nil), broker.ErrNilMessage))
	assert.True(t, errors.Is(b.MoveToDLQ(context.Background(), nil, "x"), broker.ErrNilMessage))
}
