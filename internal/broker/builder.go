package broker

import (
	"context"
	"errors"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/broker"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/filter"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// ErrIncompleteRoute is returned when a RouteBuilder has neither or both of
// a pattern and a filter
var ErrIncompleteRoute = errors.New("route needs exactly one of pattern or filter")

// RouteBuilder assembles a route registration fluently:
//
//	err := NewRoute(b, "orders").
//		Pattern("order.#").
//		Priority(8).
//		HandleFunc(handleOrder).
//		Register(ctx)
type RouteBuilder struct {
	routes   broker.RouteManager
	id       string
	pattern  string
	filter   filter.Filter
	handler  routingtable.Handler
	priority int
	disabled bool
}

// NewRoute starts building a route with the default priority.
func NewRoute(routes broker.RouteManager, id string) *RouteBuilder {
	return &RouteBuilder{routes: routes, id: id, priority: broker.DefaultPriority}
}

// Pattern makes this a topic route.
func (rb *RouteBuilder) Pattern(pattern string) *RouteBuilder {
	rb.pattern = pattern
	return rb
}

// Filter makes this a content route.
func (rb *RouteBuilder) Filter(f filter.Filter) *RouteBuilder {
	rb.filter = f
	return rb
}

// Where makes this a content route matching every given filter.
func (rb *RouteBuilder) Where(filters ...filter.Filter) *RouteBuilder {
	rb.filter = filter.AllOf(filters...)
	return rb
}

// Priority sets the route priority.
func (rb *RouteBuilder) Priority(p int) *RouteBuilder {
	rb.priority = p
	return rb
}

// Handler sets the route handler.
func (rb *RouteBuilder) Handler(h routingtable.Handler) *RouteBuilder {
	rb.handler = h
	return rb
}

// HandleFunc sets the route handler from a function.
func (rb *RouteBuilder) HandleFunc(fn func(ctx context.Context, msg *message.Message) error) *RouteBuilder {
	rb.handler = routingtable.HandlerFunc(fn)
	return rb
}

// Disabled registers the route inactive.
func (rb *RouteBuilder) Disabled() *RouteBuilder {
	rb.disabled = true
	return rb
}

// Register adds the route to the broker.
func (rb *RouteBuilder) Register(ctx context.Context) error {
	switch {
	case rb.pattern != "" && rb.filter == nil:
		if err := rb.routes.AddRoute(ctx, rb.id, rb.pattern, rb.handler, rb.priority); err != nil {
			return err
		}
		if rb.disabled {
			return rb.routes.DisableRoute(ctx, rb.id)
		}
		return nil

	case rb.pattern == "" && rb.filter != nil:
		if err := rb.routes.AddContentRoute(ctx, rb.id, rb.filter, rb.handler, rb.priority); err != nil {
			return err
		}
		if rb.disabled {
			return rb.routes.DisableContentRoute(ctx, rb.id)
		}
		return nil

	default:
		return ErrIncompleteRoute
	}
}
