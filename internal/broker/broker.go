package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	dlqimpl "github.com/rmacdonaldsmith/msgrouter-go/internal/dlq"
	"github.com/rmacdonaldsmith/msgrouter-go/internal/routingtable"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/broker"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/filter"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	routingtablepkg "github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// Verify that MessageBroker implements the broker.Broker interface
var _ broker.Broker = (*MessageBroker)(nil)

// ReasonNoMatchingRoutes is the DLQ failure reason for unrouted messages
const ReasonNoMatchingRoutes = "no matching routes"

// counters are the broker statistics. They are updated atomically and
// independently of the routing table and DLQ locks.
type counters struct {
	routed    atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	unrouted  atomic.Uint64
	lastReset atomic.Int64 // unix nanoseconds
}

// MessageBroker implements the broker.Broker interface.
// It orchestrates the routing table and dead letter queue: matching routes are
// snapshotted under the table's read lock and handlers run with no lock held.
type MessageBroker struct {
	mu     sync.Mutex // guards lifecycle transitions
	config *Config
	log    *zap.Logger
	clock  dlq.Clock

	// Core components
	routes *routingtable.InMemoryRoutingTable
	dlq    *dlqimpl.InMemoryDLQ

	// State management
	running atomic.Bool
	closed  bool

	stats counters
}

// NewMessageBroker creates a stopped broker with the given configuration.
// Call Start() to begin routing.
func NewMessageBroker(config *Config) (*MessageBroker, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.SetDefaults()

	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clock := config.Clock
	if clock == nil {
		clock = dlq.SystemClock{}
	}

	queue, err := dlqimpl.NewInMemoryDLQ(config.DLQ,
		dlqimpl.WithLogger(log),
		dlqimpl.WithClock(clock),
		dlqimpl.WithScheduler(config.Scheduler),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ: %w", err)
	}

	b := &MessageBroker{
		config: config,
		log:    log.Named("broker"),
		clock:  clock,
		routes: routingtable.NewInMemoryRoutingTable(config.MaxRoutes),
		dlq:    queue,
	}
	b.stats.lastReset.Store(clock.Now().UnixNano())
	return b, nil
}

// Start transitions the broker to running and arms automatic DLQ retry.
func (b *MessageBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return broker.ErrBrokerClosed
	}
	if b.running.Load() {
		return nil // Already running, idempotent
	}

	if err := b.dlq.StartAutoRetry(b.replayEntry); err != nil {
		return fmt.Errorf("failed to start DLQ retry: %w", err)
	}
	b.running.Store(true)
	b.log.Info("Broker started",
		zap.Int("topic_routes", b.routes.RouteCount(ctx)),
		zap.Int("content_routes", b.routes.ContentRouteCount(ctx)))
	return nil
}

// Stop transitions the broker to stopped. In-flight dispatches complete.
func (b *MessageBroker) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running.Load() {
		return nil // Not running, idempotent
	}

	b.running.Store(false)
	b.dlq.StopAutoRetry()
	b.log.Info("Broker stopped")
	return nil
}

// IsRunning reports whether the broker accepts routing calls.
func (b *MessageBroker) IsRunning() bool {
	return b.running.Load()
}

// Close stops the broker and releases the routing table and DLQ.
// Close is idempotent.
func (b *MessageBroker) Close() error {
	if err := b.Stop(context.Background()); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if dlqErr := b.dlq.Close(); dlqErr != nil {
		err = multierr.Append(err, fmt.Errorf("closing DLQ: %w", dlqErr))
	}
	if rtErr := b.routes.Close(); rtErr != nil {
		err = multierr.Append(err, fmt.Errorf("closing routing table: %w", rtErr))
	}
	b.log.Info("Broker closed")
	return err
}

// RoutingTable returns the broker's routing table.
func (b *MessageBroker) RoutingTable() routingtablepkg.RoutingTable {
	return b.routes
}

// DeadLetterQueue returns the broker's dead letter queue.
func (b *MessageBroker) DeadLetterQueue() dlq.DeadLetterQueue {
	return b.dlq
}

// Health returns the overall health status of this broker.
func (b *MessageBroker) Health(ctx context.Context) broker.HealthStatus {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	running := b.running.Load()
	status := broker.HealthStatus{
		Healthy:       running && !closed,
		Running:       running,
		TopicRoutes:   b.routes.RouteCount(ctx),
		ContentRoutes: b.routes.ContentRouteCount(ctx),
		ActiveRoutes:  b.routes.ActiveCount(ctx),
		DLQSize:       b.dlq.Size(),
		DLQCapacity:   b.dlq.Config().MaxSize,
	}
	switch {
	case closed:
		status.Message = "broker is closed"
	case !running:
		status.Message = "broker is stopped"
	case status.DLQSize >= status.DLQCapacity:
		status.Message = "dead letter queue is full"
	default:
		status.Message = "ok"
	}
	return status
}

// Route management

// AddRoute registers a topic route.
func (b *MessageBroker) AddRoute(ctx context.Context, id, pattern string, handler routingtablepkg.Handler, priority int) error {
	if err := b.routes.AddRoute(ctx, id, pattern, handler, priority); err != nil {
		return err
	}
	b.log.Debug("Route added",
		zap.String("route_id", id),
		zap.String("pattern", pattern),
		zap.Int("priority", priority))
	return nil
}

// RemoveRoute deletes a topic route.
func (b *MessageBroker) RemoveRoute(ctx context.Context, id string) error {
	if err := b.routes.RemoveRoute(ctx, id); err != nil {
		return err
	}
	b.log.Debug("Route removed", zap.String("route_id", id))
	return nil
}

// EnableRoute marks a topic route active.
func (b *MessageBroker) EnableRoute(ctx context.Context, id string) error {
	if err := b.routes.EnableRoute(ctx, id); err != nil {
		return err
	}
	b.log.Debug("Route enabled", zap.String("route_id", id))
	return nil
}

// DisableRoute marks a topic route inactive.
func (b *MessageBroker) DisableRoute(ctx context.Context, id string) error {
	if err := b.routes.DisableRoute(ctx, id); err != nil {
		return err
	}
	b.log.Debug("Route disabled", zap.String("route_id", id))
	return nil
}

// HasRoute reports whether a topic route is registered.
func (b *MessageBroker) HasRoute(ctx context.Context, id string) bool {
	return b.routes.HasRoute(ctx, id)
}

// GetRoute returns a snapshot of a topic route.
func (b *MessageBroker) GetRoute(ctx context.Context, id string) (routingtablepkg.RouteInfo, error) {
	return b.routes.GetRoute(ctx, id)
}

// GetRoutes returns snapshots of every topic route.
func (b *MessageBroker) GetRoutes(ctx context.Context) []routingtablepkg.RouteInfo {
	return b.routes.GetRoutes(ctx)
}

// RouteCount returns the number of topic routes.
func (b *MessageBroker) RouteCount(ctx context.Context) int {
	return b.routes.RouteCount(ctx)
}

// ClearRoutes removes every topic route.
func (b *MessageBroker) ClearRoutes(ctx context.Context) {
	b.routes.ClearRoutes(ctx)
	b.log.Debug("Routes cleared")
}

// AddContentRoute registers a content route.
func (b *MessageBroker) AddContentRoute(ctx context.Context, id string, f filter.Filter, handler routingtablepkg.Handler, priority int) error {
	if err := b.routes.AddContentRoute(ctx, id, f, handler, priority); err != nil {
		return err
	}
	b.log.Debug("Content route added", zap.String("route_id", id), zap.Int("priority", priority))
	return nil
}

// RemoveContentRoute deletes a content route.
func (b *MessageBroker) RemoveContentRoute(ctx context.Context, id string) error {
	if err := b.routes.RemoveContentRoute(ctx, id); err != nil {
		return err
	}
	b.log.Debug("Content route removed", zap.String("route_id", id))
	return nil
}

// EnableContentRoute marks a content route active.
func (b *MessageBroker) EnableContentRoute(ctx context.Context, id string) error {
	return b.routes.EnableContentRoute(ctx, id)
}

// DisableContentRoute marks a content route inactive.
func (b *MessageBroker) DisableContentRoute(ctx context.Context, id string) error {
	return b.routes.DisableContentRoute(ctx, id)
}

// HasContentRoute reports whether a content route is registered.
func (b *MessageBroker) HasContentRoute(ctx context.Context, id string) bool {
	return b.routes.HasContentRoute(ctx, id)
}

// GetContentRoute returns a snapshot of a content route.
func (b *MessageBroker) GetContentRoute(ctx context.Context, id string) (routingtablepkg.RouteInfo, error) {
	return b.routes.GetContentRoute(ctx, id)
}

// GetContentRoutes returns snapshots of every content route.
func (b *MessageBroker) GetContentRoutes(ctx context.Context) []routingtablepkg.RouteInfo {
	return b.routes.GetContentRoutes(ctx)
}

// ContentRouteCount returns the number of content routes.
func (b *MessageBroker) ContentRouteCount(ctx context.Context) int {
	return b.routes.ContentRouteCount(ctx)
}

// ClearContentRoutes removes every content route.
func (b *MessageBroker) ClearContentRoutes(ctx context.Context) {
	b.routes.ClearContentRoutes(ctx)
}

// Dispatch

// Route delivers msg to every active topic route matching its topic.
func (b *MessageBroker) Route(ctx context.Context, msg *message.Message) error {
	_, err := b.Deliver(ctx, msg)
	return err
}

// RouteByContent delivers msg to every active content route whose filter matches.
func (b *MessageBroker) RouteByContent(ctx context.Context, msg *message.Message) error {
	_, err := b.DeliverByContent(ctx, msg)
	return err
}

// Deliver is Route with a per-route outcome report.
func (b *MessageBroker) Deliver(ctx context.Context, msg *message.Message) (broker.DeliveryReport, error) {
	return b.dispatch(ctx, msg, routingtablepkg.KindTopic, false)
}

// DeliverByContent is RouteByContent with a per-route outcome report.
func (b *MessageBroker) DeliverByContent(ctx context.Context, msg *message.Message) (broker.DeliveryReport, error) {
	return b.dispatch(ctx, msg, routingtablepkg.KindContent, false)
}

// dispatch matches msg against the routes of the given kind and delivers it.
// During replay, failures are not captured in the DLQ again.
func (b *MessageBroker) dispatch(ctx context.Context, msg *message.Message, kind routingtablepkg.Kind, replay bool) (broker.DeliveryReport, error) {
	if msg == nil {
		return broker.DeliveryReport{}, broker.ErrNilMessage
	}
	if !b.running.Load() {
		return broker.DeliveryReport{MessageID: msg.ID}, broker.ErrBrokerNotRunning
	}

	var routes []routingtablepkg.Route
	if kind == routingtablepkg.KindContent {
		routes = b.routes.FindMatchingContent(ctx, msg)
	} else {
		routes = b.routes.FindMatching(ctx, msg.Topic)
	}
	return b.deliver(ctx, msg, kind, routes, replay)
}

func (b *MessageBroker) deliver(ctx context.Context, msg *message.Message, kind routingtablepkg.Kind, routes []routingtablepkg.Route, replay bool) (broker.DeliveryReport, error) {
	report := broker.DeliveryReport{MessageID: msg.ID, Matched: len(routes)}

	if len(routes) == 0 {
		b.stats.unrouted.Add(1)
		b.log.Debug("No matching routes",
			zap.String("message_id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.Stringer("kind", kind))

		if !replay && b.dlq.Config().CaptureUnrouted {
			b.capture(ctx, dlq.Entry{Message: msg, FailureReason: ReasonNoMatchingRoutes, Kind: kind})
		}
		return report, fmt.Errorf("%w for %s message %s (topic %q)", broker.ErrNoMatchingRoutes, kind, msg.ID, msg.Topic)
	}

	for _, route := range routes {
		b.stats.routed.Add(1)

		err := b.invoke(ctx, route, msg)
		if err == nil {
			b.stats.delivered.Add(1)
			route.RecordDelivery()
			report.Delivered++
			continue
		}

		b.stats.failed.Add(1)
		herr := &broker.HandlerError{RouteID: route.ID, MessageID: msg.ID, Err: err}
		report.Failures = append(report.Failures, herr)
		b.log.Warn("Handler failed",
			zap.String("route_id", route.ID),
			zap.String("message_id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.Bool("replay", replay),
			zap.Error(err))

		if !replay {
			b.capture(ctx, dlq.Entry{
				Message:       msg,
				FailureReason: err.Error(),
				RouteID:       route.ID,
				Kind:          kind,
				LastError:     err.Error(),
			})
		}
	}

	if report.Delivered > 0 {
		return report, nil
	}
	return report, &broker.DispatchError{MessageID: msg.ID, Failures: report.Failures}
}

// invoke runs a route's handler, converting a panic into an error.
func (b *MessageBroker) invoke(ctx context.Context, route routingtablepkg.Route, msg *message.Message) (err error) {
	if b.config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.HandlerTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return route.Handler.Handle(ctx, msg)
}

// capture moves a message to the DLQ. Capacity problems are reported through
// DLQ statistics and callbacks, never to the routing caller.
func (b *MessageBroker) capture(ctx context.Context, entry dlq.Entry) {
	if _, err := b.dlq.Add(ctx, entry); err != nil {
		b.log.Warn("Failed to move message to DLQ",
			zap.String("message_id", entry.Message.ID),
			zap.String("route_id", entry.RouteID),
			zap.Error(err))
	}
}

// replayEntry re-dispatches a DLQ entry. An entry that failed on a specific
// route is replayed to that route alone when it is still registered and
// active, so routes that already received the message are not invoked twice.
func (b *MessageBroker) replayEntry(ctx context.Context, entry dlq.Entry) error {
	if !b.running.Load() {
		return fmt.Errorf("%w: %w", dlq.ErrReplayUnavailable, broker.ErrBrokerNotRunning)
	}

	if entry.RouteID != "" {
		if route, ok := b.routes.Lookup(ctx, entry.Kind, entry.RouteID); ok && route.Active {
			_, err := b.deliver(ctx, entry.Message, entry.Kind, []routingtablepkg.Route{route}, true)
			return err
		}
	}

	_, err := b.dispatch(ctx, entry.Message, entry.Kind, true)
	return err
}

// Statistics returns a snapshot of the delivery counters.
func (b *MessageBroker) Statistics(ctx context.Context) broker.Statistics {
	return broker.Statistics{
		MessagesRouted:    b.stats.routed.Load(),
		MessagesDelivered: b.stats.delivered.Load(),
		MessagesFailed:    b.stats.failed.Load(),
		MessagesUnrouted:  b.stats.unrouted.Load(),
		ActiveRoutes:      b.routes.ActiveCount(ctx),
		LastReset:         time.Unix(0, b.stats.lastReset.Load()),
	}
}

// ResetStatistics zeroes the counters and records the reset time.
func (b *MessageBroker) ResetStatistics() {
	b.stats.routed.Store(0)
	b.stats.delivered.Store(0)
	b.stats.failed.Store(0)
	b.stats.unrouted.Store(0)
	b.stats.lastReset.Store(b.clock.Now().UnixNano())
	b.log.Debug("Statistics reset")
}

// Dead letter queue

// ConfigureDLQ replaces the DLQ configuration.
func (b *MessageBroker) ConfigureDLQ(cfg dlq.Config) error {
	if err := b.dlq.Configure(cfg); err != nil {
		return err
	}
	b.log.Info("DLQ reconfigured",
		zap.Int("max_size", b.dlq.Config().MaxSize),
		zap.String("on_full", string(b.dlq.Config().OnFull)))
	return nil
}

// DLQConfig returns the active DLQ configuration.
func (b *MessageBroker) DLQConfig() dlq.Config {
	return b.dlq.Config()
}

// MoveToDLQ places msg in the DLQ with the given reason.
func (b *MessageBroker) MoveToDLQ(ctx context.Context, msg *message.Message, reason string) error {
	if msg == nil {
		return broker.ErrNilMessage
	}
	_, err := b.dlq.Add(ctx, dlq.Entry{Message: msg, FailureReason: reason})
	return err
}

// DLQSize returns the number of DLQ entries.
func (b *MessageBroker) DLQSize() int {
	return b.dlq.Size()
}

// DLQMessages returns up to limit DLQ entries in insertion order; limit <= 0 means all.
func (b *MessageBroker) DLQMessages(limit int) []dlq.Entry {
	return b.dlq.List(limit)
}

// ReplayDLQMessage re-dispatches the DLQ entry holding messageID.
func (b *MessageBroker) ReplayDLQMessage(ctx context.Context, messageID string) error {
	return b.dlq.Replay(ctx, messageID, b.replayEntry)
}

// ReplayAllDLQMessages replays every DLQ entry once and returns the number
// replayed successfully.
func (b *MessageBroker) ReplayAllDLQMessages(ctx context.Context) int {
	if !b.running.Load() {
		return 0
	}
	n := b.dlq.ReplayAll(ctx, b.replayEntry)
	b.log.Info("Replayed DLQ messages", zap.Int("replayed", n))
	return n
}

// PurgeDLQ removes every DLQ entry.
func (b *MessageBroker) PurgeDLQ() int {
	return b.dlq.Purge()
}

// PurgeDLQOlderThan removes DLQ entries older than age.
func (b *MessageBroker) PurgeDLQOlderThan(age time.Duration) int {
	return b.dlq.PurgeOlderThan(age)
}

// DLQStatistics returns a snapshot of the DLQ counters.
func (b *MessageBroker) DLQStatistics() dlq.Statistics {
	return b.dlq.Statistics()
}

// OnDLQMessage registers a callback fired whenever an entry is added.
func (b *MessageBroker) OnDLQMessage(fn func(dlq.Entry)) {
	b.dlq.OnMessage(fn)
}

// OnDLQFull registers a callback fired on DLQ eviction or rejection.
func (b *MessageBroker) OnDLQFull(fn func(size int)) {
	b.dlq.OnFull(fn)
}
