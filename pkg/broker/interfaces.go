package broker

import (
	"context"
	"io"
	"time"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/filter"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// DefaultPriority is the route priority used when the caller has no preference
const DefaultPriority = routingtable.DefaultPriority

// Statistics is a snapshot of the broker's delivery counters
type Statistics struct {
	MessagesRouted    uint64    `json:"messagesRouted"`
	MessagesDelivered uint64    `json:"messagesDelivered"`
	MessagesFailed    uint64    `json:"messagesFailed"`
	MessagesUnrouted  uint64    `json:"messagesUnrouted"`
	ActiveRoutes      int       `json:"activeRoutes"`
	LastReset         time.Time `json:"lastReset"`
}

// DeliveryReport describes the outcome of a single dispatch
type DeliveryReport struct {
	MessageID string          `json:"messageId"`
	Matched   int             `json:"matched"`
	Delivered int             `json:"delivered"`
	Failures  []*HandlerError `json:"failures,omitempty"`
}

// HealthStatus represents the overall health of a broker
type HealthStatus struct {
	// Healthy indicates the broker is running and not closed
	Healthy bool `json:"healthy"`

	// Running reports the lifecycle state
	Running bool `json:"running"`

	TopicRoutes   int `json:"topicRoutes"`
	ContentRoutes int `json:"contentRoutes"`
	ActiveRoutes  int `json:"activeRoutes"`

	DLQSize     int `json:"dlqSize"`
	DLQCapacity int `json:"dlqCapacity"`

	// Message provides additional health information
	Message string `json:"message"`
}

// RouteManager registers and inspects routes. Route management is allowed
// whether or not the broker is running.
type RouteManager interface {
	AddRoute(ctx context.Context, id, pattern string, handler routingtable.Handler, priority int) error
	RemoveRoute(ctx context.Context, id string) error
	EnableRoute(ctx context.Context, id string) error
	DisableRoute(ctx context.Context, id string) error
	HasRoute(ctx context.Context, id string) bool
	GetRoute(ctx context.Context, id string) (routingtable.RouteInfo, error)
	GetRoutes(ctx context.Context) []routingtable.RouteInfo
	RouteCount(ctx context.Context) int
	ClearRoutes(ctx context.Context)

	AddContentRoute(ctx context.Context, id string, f filter.Filter, handler routingtable.Handler, priority int) error
	RemoveContentRoute(ctx context.Context, id string) error
	EnableContentRoute(ctx context.Context, id string) error
	DisableContentRoute(ctx context.Context, id string) error
	HasContentRoute(ctx context.Context, id string) bool
	GetContentRoute(ctx context.Context, id string) (routingtable.RouteInfo, error)
	GetContentRoutes(ctx context.Context) []routingtable.RouteInfo
	ContentRouteCount(ctx context.Context) int
	ClearContentRoutes(ctx context.Context)
}

// Dispatcher delivers messages to matching routes.
type Dispatcher interface {
	// Route delivers msg to every active topic route matching msg.Topic.
	// It returns nil if at least one handler succeeded, ErrNoMatchingRoutes
	// if nothing matched, or a *DispatchError if every handler failed.
	Route(ctx context.Context, msg *message.Message) error

	// RouteByContent is Route against content routes.
	RouteByContent(ctx context.Context, msg *message.Message) error

	// Deliver is Route with a per-route outcome report.
	Deliver(ctx context.Context, msg *message.Message) (DeliveryReport, error)

	// DeliverByContent is RouteByContent with a per-route outcome report.
	DeliverByContent(ctx context.Context, msg *message.Message) (DeliveryReport, error)

	// Statistics returns a snapshot of the delivery counters.
	Statistics(ctx context.Context) Statistics

	// ResetStatistics zeroes the counters and records the reset time.
	ResetStatistics()
}

// DeadLetters manages the broker's dead letter queue.
type DeadLetters interface {
	ConfigureDLQ(cfg dlq.Config) error
	DLQConfig() dlq.Config
	MoveToDLQ(ctx context.Context, msg *message.Message, reason string) error
	DLQSize() int
	DLQMessages(limit int) []dlq.Entry
	ReplayDLQMessage(ctx context.Context, messageID string) error
	ReplayAllDLQMessages(ctx context.Context) int
	PurgeDLQ() int
	PurgeDLQOlderThan(age time.Duration) int
	DLQStatistics() dlq.Statistics
	OnDLQMessage(fn func(dlq.Entry))
	OnDLQFull(fn func(size int))
}

// Broker is the message router façade.
type Broker interface {
	io.Closer
	RouteManager
	Dispatcher
	DeadLetters

	// Start transitions the broker to running. Idempotent.
	Start(ctx context.Context) error

	// Stop transitions the broker to stopped. Idempotent.
	Stop(ctx context.Context) error

	// IsRunning reports the lifecycle state.
	IsRunning() bool

	// Health returns the overall health status of this broker.
	Health(ctx context.Context) HealthStatus
}
