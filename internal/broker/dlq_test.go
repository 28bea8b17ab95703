package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/broker"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// flaky fails until healed
type flaky struct {
	healed atomic.Bool
	calls  atomic.Int64
}

func (f *flaky) Handle(ctx context.Context, msg *message.Message) error {
	f.calls.Add(1)
	if f.healed.Load() {
		return nil
	}
	return errors.New("downstream unavailable")
}

// tickScheduler runs the scheduled task only when Tick is called
type tickScheduler struct {
	mu   sync.Mutex
	task func()
}

func (s *tickScheduler) Every(interval time.Duration, task func()) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task = task
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.task = nil
	}, nil
}

func (s *tickScheduler) Tick() bool {
	s.mu.Lock()
	task := s.task
	s.mu.Unlock()
	if task == nil {
		return false
	}
	task()
	return true
}

func TestMessageBroker_DLQRoundTrip(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	h := &flaky{}

	if err := b.AddRoute(ctx, "payments", "payment.#", h, 5); err != nil {
		t.Fatalf("AddRoute failed: %v", err)
	}

	msg := message.New("payment.captured", message.WithField("amount", 42))
	if err := b.Route(ctx, msg); !errors.Is(err, broker.ErrHandlerFailed) {
		t.Fatalf("Expected ErrHandlerFailed, got %v", err)
	}
	if b.DLQSize() != 1 {
		t.Fatalf("Expected 1 DLQ entry, got %d", b.DLQSize())
	}

	// Replay while the handler still fails keeps the entry
	if err := b.ReplayDLQMessage(ctx, msg.ID); err == nil {
		t.Fatal("Expected replay to fail while handler is broken")
	}
	entries := b.DLQMessages(0)
	if len(entries) != 1 || entries[0].RetryCount != 1 {
		t.Fatalf("Expected one entry with RetryCount 1, got %+v", entries)
	}
	if entries[0].LastError == "" {
		t.Error("Expected LastError to be recorded")
	}

	h.healed.Store(true)
	if err := b.ReplayDLQMessage(ctx, msg.ID); err != nil {
		t.Fatalf("Expected replay to succeed, got %v", err)
	}
	if b.DLQSize() != 0 {
		t.Errorf("Expected DLQ to be empty after replay, got %d", b.DLQSize())
	}
	if got := b.DLQStatistics().TotalReplayed; got != 1 {
		t.Errorf("Expected TotalReplayed 1, got %d", got)
	}

	// Replayed failures are not captured again
	if got := b.DLQStatistics().TotalReceived; got != 1 {
		t.Errorf("Expected TotalReceived 1, got %d", got)
	}
}

func TestMessageBroker_ReplayUnknownMessage(t *testing.T) {
	b := newStartedBroker(t, nil)
	err := b.ReplayDLQMessage(context.Background(), "missing")
	if !errors.Is(err, broker.ErrMessageNotFoundInDLQ) {
		t.Errorf("Expected ErrMessageNotFoundInDLQ, got %v", err)
	}
}

func TestMessageBroker_ReplayTargetsFailedRoute(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}
	h := &flaky{}

	b.AddRoute(ctx, "audit", "order.#", rec.handler("audit"), 9)
	b.AddRoute(ctx, "billing", "order.#", h, 1)

	msg := message.New("order.placed")
	if err := b.Route(ctx, msg); err != nil {
		t.Fatalf("Expected partial success, got %v", err)
	}

	h.healed.Store(true)
	if err := b.ReplayDLQMessage(ctx, msg.ID); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	// The route that already succeeded is not invoked again
	if calls := rec.Calls(); len(calls) != 1 {
		t.Errorf("Expected audit to run once, got %v", calls)
	}
	if got := h.calls.Load(); got != 2 {
		t.Errorf("Expected billing to run twice, got %d", got)
	}
}

func TestMessageBroker_ReplayFallsBackToFullDispatch(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	b.AddRoute(ctx, "gone", "order.#", rec.failing("gone", errors.New("broken")), 5)
	msg := message.New("order.placed")
	b.Route(ctx, msg)

	// The failed route has been replaced by another one
	b.RemoveRoute(ctx, "gone")
	b.AddRoute(ctx, "replacement", "order.*", rec.handler("replacement"), 5)

	if err := b.ReplayDLQMessage(ctx, msg.ID); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	calls := rec.Calls()
	if len(calls) != 2 || calls[1] != "replacement" {
		t.Errorf("Expected replay to reach the replacement route, got %v", calls)
	}
}

func TestMessageBroker_ReplayWhileStopped(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	rec := &recorder{}

	b.AddRoute(ctx, "r", "x", rec.failing("r", errors.New("nope")), 5)
	msg := message.New("x")
	b.Route(ctx, msg)
	b.Stop(ctx)

	err := b.ReplayDLQMessage(ctx, msg.ID)
	if !errors.Is(err, broker.ErrBrokerNotRunning) {
		t.Errorf("Expected ErrBrokerNotRunning, got %v", err)
	}
	if n := b.ReplayAllDLQMessages(ctx); n != 0 {
		t.Errorf("Expected no replays while stopped, got %d", n)
	}
	entries := b.DLQMessages(0)
	if len(entries) != 1 || entries[0].RetryCount != 0 {
		t.Errorf("Expected entry untouched, got %+v", entries)
	}
}

func TestMessageBroker_ReplayAll(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()
	h := &flaky{}

	b.AddRoute(ctx, "r", "jobs.*", h, 5)
	for i := 0; i < 5; i++ {
		b.Route(ctx, message.New("jobs.run"))
	}
	if b.DLQSize() != 5 {
		t.Fatalf("Expected 5 DLQ entries, got %d", b.DLQSize())
	}

	if n := b.ReplayAllDLQMessages(ctx); n != 0 {
		t.Errorf("Expected 0 replays while broken, got %d", n)
	}

	h.healed.Store(true)
	if n := b.ReplayAllDLQMessages(ctx); n != 5 {
		t.Errorf("Expected 5 replays, got %d", n)
	}
	if b.DLQSize() != 0 {
		t.Errorf("Expected empty DLQ, got %d", b.DLQSize())
	}
}

func TestMessageBroker_DLQDropOldest(t *testing.T) {
	b := newStartedBroker(t, NewConfig().WithMaxDLQSize(3))
	ctx := context.Background()
	rec := &recorder{}

	var fullCalls atomic.Int64
	b.OnDLQFull(func(size int) { fullCalls.Add(1) })

	b.AddRoute(ctx, "r", "#", rec.failing("r", errors.New("down")), 5)

	var ids []string
	for i := 0; i < 4; i++ {
		msg := message.New("any.topic")
		ids = append(ids, msg.ID)
		b.Route(ctx, msg)
	}

	entries := b.DLQMessages(0)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 DLQ entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Message.ID != ids[i+1] {
			t.Errorf("Entry %d: expected message %s, got %s", i, ids[i+1], entry.Message.ID)
		}
	}
	if fullCalls.Load() != 1 {
		t.Errorf("Expected OnDLQFull once, got %d", fullCalls.Load())
	}
	if stats := b.DLQStatistics(); stats.TotalDropped != 1 {
		t.Errorf("Expected TotalDropped 1, got %d", stats.TotalDropped)
	}
	if health := b.Health(ctx); health.Message != "dead letter queue is full" {
		t.Errorf("Expected full DLQ health message, got %q", health.Message)
	}
}

func TestMessageBroker_DLQDropNewestDoesNotFailRouting(t *testing.T) {
	b := newStartedBroker(t, NewConfig().WithMaxDLQSize(1).WithOverflowPolicy(dlq.DropNewest))
	ctx := context.Background()
	rec := &recorder{}

	b.AddRoute(ctx, "ok", "x", rec.handler("ok"), 9)
	b.AddRoute(ctx, "bad", "x", rec.failing("bad", errors.New("down")), 1)

	first := message.New("x")
	for _, msg := range []*message.Message{first, message.New("x")} {
		if err := b.Route(ctx, msg); err != nil {
			t.Errorf("Expected routing to succeed despite DLQ overflow, got %v", err)
		}
	}

	entries := b.DLQMessages(0)
	if len(entries) != 1 || entries[0].Message.ID != first.ID {
		t.Errorf("Expected only the first failure retained, got %+v", entries)
	}
}

func TestMessageBroker_MoveToDLQ(t *testing.T) {
	b := newBroker(t, nil)
	ctx := context.Background()

	var seen []dlq.Entry
	var mu sync.Mutex
	b.OnDLQMessage(func(e dlq.Entry) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e)
	})

	msg := message.New("manual.park")
	if err := b.MoveToDLQ(ctx, msg, "operator parked"); err != nil {
		t.Fatalf("MoveToDLQ failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("Expected 1 callback, got %d", len(seen))
	}
	if seen[0].FailureReason != "operator parked" || seen[0].Message.ID != msg.ID {
		t.Errorf("Unexpected entry %+v", seen[0])
	}
	if seen[0].ID == "" {
		t.Error("Expected entry to be assigned an ID")
	}
}

func TestMessageBroker_ConfigureDLQ(t *testing.T) {
	b := newBroker(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.MoveToDLQ(ctx, message.New("x"), "parked")
	}

	cfg := b.DLQConfig()
	cfg.MaxSize = 2
	if err := b.ConfigureDLQ(cfg); err != nil {
		t.Fatalf("ConfigureDLQ failed: %v", err)
	}
	if b.DLQSize() != 2 {
		t.Errorf("Expected shrink to 2 entries, got %d", b.DLQSize())
	}
	if b.DLQConfig().MaxSize != 2 {
		t.Errorf("Expected MaxSize 2, got %d", b.DLQConfig().MaxSize)
	}

	cfg.OnFull = "explode"
	if err := b.ConfigureDLQ(cfg); !errors.Is(err, dlq.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestMessageBroker_PurgeDLQ(t *testing.T) {
	b := newBroker(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.MoveToDLQ(ctx, message.New("x"), "parked")
	}
	if n := b.PurgeDLQOlderThan(time.Hour); n != 0 {
		t.Errorf("Expected nothing older than an hour, purged %d", n)
	}
	if n := b.PurgeDLQ(); n != 3 {
		t.Errorf("Expected 3 purged, got %d", n)
	}
	if got := b.DLQStatistics().TotalPurged; got != 3 {
		t.Errorf("Expected TotalPurged 3, got %d", got)
	}
}

func TestMessageBroker_AutomaticRetry(t *testing.T) {
	sched := &tickScheduler{}
	b := newBroker(t, NewConfig().
		WithAutomaticRetry(time.Second, 2).
		WithScheduler(sched))
	ctx := context.Background()
	h := &flaky{}

	if sched.Tick() {
		t.Fatal("Expected retry to be disarmed before Start")
	}
	b.Start(ctx)

	b.AddRoute(ctx, "r", "x", h, 5)
	b.Route(ctx, message.New("x"))

	// Two failed retries exhaust the budget
	sched.Tick()
	sched.Tick()
	entries := b.DLQMessages(0)
	if len(entries) != 1 || entries[0].RetryCount != 2 || entries[0].Retryable {
		t.Fatalf("Expected exhausted entry, got %+v", entries)
	}

	// Exhausted entries are skipped by the retry cycle
	h.healed.Store(true)
	sched.Tick()
	if b.DLQSize() != 1 {
		t.Errorf("Expected exhausted entry to remain, got %d", b.DLQSize())
	}

	// A fresh failure is retried and delivered
	h.healed.Store(false)
	b.Route(ctx, message.New("x"))
	h.healed.Store(true)
	sched.Tick()
	if b.DLQSize() != 1 {
		t.Errorf("Expected only the exhausted entry to remain, got %d", b.DLQSize())
	}

	b.Stop(ctx)
	if sched.Tick() {
		t.Error("Expected retry to be disarmed after Stop")
	}
}

func TestMessageBroker_ReplayedMessageNotDuplicatedOnFailure(t *testing.T) {
	b := newStartedBroker(t, nil)
	ctx := context.Background()

	b.AddRoute(ctx, "r", "x", routingtable.HandlerFunc(func(context.Context, *message.Message) error {
		return errors.New("always")
	}), 5)
	msg := message.New("x")
	b.Route(ctx, msg)

	for i := 0; i < 3; i++ {
		b.ReplayDLQMessage(ctx, msg.ID)
	}
	if b.DLQSize() != 1 {
		t.Errorf("Expected a single DLQ entry, got %d", b.DLQSize())
	}
}
