package routingtable

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/filter"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
)

const (
	// MinPriority is the lowest route priority
	MinPriority = 0
	// MaxPriority is the highest route priority
	MaxPriority = 10
	// DefaultPriority is used when a caller has no preference
	DefaultPriority = 5
)

// Handler receives messages delivered by a route.
type Handler interface {
	Handle(ctx context.Context, msg *message.Message) error
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(ctx context.Context, msg *message.Message) error

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg *message.Message) error {
	return f(ctx, msg)
}

// Kind distinguishes the two route collections
type Kind int

const (
	// KindTopic routes match on topic patterns
	KindTopic Kind = iota

	// KindContent routes match on message content filters
	KindContent
)

func (k Kind) String() string {
	switch k {
	case KindTopic:
		return "topic"
	case KindContent:
		return "content"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "topic":
		*k = KindTopic
	case "content":
		*k = KindContent
	default:
		return fmt.Errorf("unknown route kind %q", text)
	}
	return nil
}

// RouteInfo is a read-only snapshot of a registered route
type RouteInfo struct {
	ID                string    `json:"id"`
	Kind              Kind      `json:"kind"`
	Pattern           string    `json:"pattern,omitempty"` // empty for content routes
	Priority          int       `json:"priority"`
	Active            bool      `json:"active"`
	MessagesProcessed uint64    `json:"messagesProcessed"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Route is a matched route ready for dispatch. It carries the handler so the
// caller can invoke it after the table lock has been released.
type Route struct {
	RouteInfo

	Handler Handler

	processed *atomic.Uint64
}

// NewRoute creates a dispatchable route snapshot. processed is the live
// delivery counter owned by the table; it may be nil.
func NewRoute(info RouteInfo, handler Handler, processed *atomic.Uint64) Route {
	return Route{RouteInfo: info, Handler: handler, processed: processed}
}

// RecordDelivery increments the route's messages processed counter.
func (r Route) RecordDelivery() {
	if r.processed != nil {
		r.processed.Add(1)
	}
}

// RoutingTable manages topic and content routes for message dispatch.
//
// Routes are returned highest priority first; routes of equal priority keep
// registration order. Inactive routes never match but remain visible to the
// query operations.
type RoutingTable interface {
	io.Closer

	// AddRoute registers a topic route. Fails with ErrRouteAlreadyExists,
	// ErrRouteLimitExceeded, ErrInvalidPattern or ErrInvalidPriority.
	AddRoute(ctx context.Context, id, pattern string, handler Handler, priority int) error

	// RemoveRoute deletes a topic route.
	RemoveRoute(ctx context.Context, id string) error

	// EnableRoute marks a topic route active.
	EnableRoute(ctx context.Context, id string) error

	// DisableRoute marks a topic route inactive.
	DisableRoute(ctx context.Context, id string) error

	// HasRoute reports whether a topic route is registered.
	HasRoute(ctx context.Context, id string) bool

	// GetRoute returns a snapshot of a topic route.
	GetRoute(ctx context.Context, id string) (RouteInfo, error)

	// GetRoutes returns snapshots of every topic route in registration order.
	GetRoutes(ctx context.Context) []RouteInfo

	// RouteCount returns the number of topic routes.
	RouteCount(ctx context.Context) int

	// ClearRoutes removes every topic route atomically.
	ClearRoutes(ctx context.Context)

	// FindMatching returns the active topic routes matching topic.
	FindMatching(ctx context.Context, topic string) []Route

	// AddContentRoute registers a content route keyed by a filter.
	AddContentRoute(ctx context.Context, id string, f filter.Filter, handler Handler, priority int) error

	// RemoveContentRoute deletes a content route.
	RemoveContentRoute(ctx context.Context, id string) error

	// EnableContentRoute marks a content route active.
	EnableContentRoute(ctx context.Context, id string) error

	// DisableContentRoute marks a content route inactive.
	DisableContentRoute(ctx context.Context, id string) error

	// HasContentRoute reports whether a content route is registered.
	HasContentRoute(ctx context.Context, id string) bool

	// GetContentRoute returns a snapshot of a content route.
	GetContentRoute(ctx context.Context, id string) (RouteInfo, error)

	// GetContentRoutes returns snapshots of every content route in registration order.
	GetContentRoutes(ctx context.Context) []RouteInfo

	// ContentRouteCount returns the number of content routes.
	ContentRouteCount(ctx context.Context) int

	// ClearContentRoutes removes every content route atomically.
	ClearContentRoutes(ctx context.Context)

	// FindMatchingContent returns the active content routes whose filter matches msg.
	FindMatchingContent(ctx context.Context, msg *message.Message) []Route

	// Lookup returns a dispatchable snapshot of a single route of the given kind.
	Lookup(ctx context.Context, kind Kind, id string) (Route, bool)

	// ActiveCount returns the number of active routes across both collections.
	ActiveCount(ctx context.Context) int
}
