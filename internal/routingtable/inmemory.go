package routingtable

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/filter"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// Verify that InMemoryRoutingTable implements the RoutingTable interface
var _ routingtable.RoutingTable = (*InMemoryRoutingTable)(nil)

// entry is the table's mutable record for a single route.
type entry struct {
	info      routingtable.RouteInfo
	handler   routingtable.Handler
	filter    filter.Filter // content routes only
	processed atomic.Uint64
	seq       uint64
}

func (e *entry) snapshot() routingtable.RouteInfo {
	info := e.info
	info.MessagesProcessed = e.processed.Load()
	return info
}

func (e *entry) route() routingtable.Route {
	return routingtable.NewRoute(e.snapshot(), e.handler, &e.processed)
}

// byDispatchOrder sorts highest priority first, then registration order.
func byDispatchOrder(a, b *entry) int {
	if c := cmp.Compare(b.info.Priority, a.info.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// InMemoryRoutingTable implements the routingtable.RoutingTable interface.
// Literal topic patterns are indexed by topic for direct lookup; wildcard
// patterns are scanned. It is safe for concurrent use.
type InMemoryRoutingTable struct {
	mu        sync.RWMutex
	maxRoutes int // 0 means unlimited

	topicRoutes map[string]*entry   // route id -> entry
	topicOrder  []*entry            // registration order
	exact       map[string][]*entry // literal pattern -> entries
	wildcard    []*entry

	contentRoutes map[string]*entry
	contentOrder  []*entry

	nextSeq uint64
	closed  bool
}

// NewInMemoryRoutingTable creates an empty routing table that holds at most
// maxRoutes topic and content routes combined. A maxRoutes of 0 disables the limit.
func NewInMemoryRoutingTable(maxRoutes int) *InMemoryRoutingTable {
	if maxRoutes < 0 {
		maxRoutes = 0
	}
	return &InMemoryRoutingTable{
		maxRoutes:     maxRoutes,
		topicRoutes:   make(map[string]*entry),
		exact:         make(map[string][]*entry),
		contentRoutes: make(map[string]*entry),
	}
}

// SetMaxRoutes changes the route limit. Existing routes are kept even when
// they exceed the new limit; only further additions are refused.
func (rt *InMemoryRoutingTable) SetMaxRoutes(maxRoutes int) {
	if maxRoutes < 0 {
		maxRoutes = 0
	}
	rt.mu.Lock()
	rt.maxRoutes = maxRoutes
	rt.mu.Unlock()
}

func validateRoute(id string, handler routingtable.Handler, priority int) error {
	if id == "" {
		return routingtable.ErrEmptyRouteID
	}
	if handler == nil {
		return routingtable.ErrNilHandler
	}
	if priority < routingtable.MinPriority || priority > routingtable.MaxPriority {
		return fmt.Errorf("%w: %d not in [%d, %d]", routingtable.ErrInvalidPriority,
			priority, routingtable.MinPriority, routingtable.MaxPriority)
	}
	return nil
}

// checkCapacityLocked must be called with the write lock held.
func (rt *InMemoryRoutingTable) checkCapacityLocked() error {
	if rt.maxRoutes > 0 && len(rt.topicRoutes)+len(rt.contentRoutes) >= rt.maxRoutes {
		return fmt.Errorf("%w: limit is %d", routingtable.ErrRouteLimitExceeded, rt.maxRoutes)
	}
	return nil
}

func (rt *InMemoryRoutingTable) newEntry(info routingtable.RouteInfo, handler routingtable.Handler) *entry {
	rt.nextSeq++
	info.Active = true
	info.CreatedAt = time.Now()
	return &entry{info: info, handler: handler, seq: rt.nextSeq}
}

func ctxDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// AddRoute registers a topic route.
func (rt *InMemoryRoutingTable) AddRoute(ctx context.Context, id, pattern string, handler routingtable.Handler, priority int) error {
	if err := validateRoute(id, handler, priority); err != nil {
		return err
	}
	if err := routingtable.ValidatePattern(pattern); err != nil {
		return err
	}
	if err := ctxDone(ctx); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return routingtable.ErrClosed
	}
	if _, exists := rt.topicRoutes[id]; exists {
		return fmt.Errorf("%w: %s", routingtable.ErrRouteAlreadyExists, id)
	}
	if err := rt.checkCapacityLocked(); err != nil {
		return err
	}

	e := rt.newEntry(routingtable.RouteInfo{
		ID:       id,
		Kind:     routingtable.KindTopic,
		Pattern:  pattern,
		Priority: priority,
	}, handler)

	rt.topicRoutes[id] = e
	rt.topicOrder = append(rt.topicOrder, e)
	if routingtable.IsWildcard(pattern) {
		rt.wildcard = append(rt.wildcard, e)
	} else {
		rt.exact[pattern] = append(rt.exact[pattern], e)
	}
	return nil
}

// RemoveRoute deletes a topic route.
func (rt *InMemoryRoutingTable) RemoveRoute(ctx context.Context, id string) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	e, ok := rt.topicRoutes[id]
	if !ok {
		return fmt.Errorf("%w: %s", routingtable.ErrRouteNotFound, id)
	}

	delete(rt.topicRoutes, id)
	rt.topicOrder = without(rt.topicOrder, e)
	if routingtable.IsWildcard(e.info.Pattern) {
		rt.wildcard = without(rt.wildcard, e)
	} else {
		remaining := without(rt.exact[e.info.Pattern], e)
		if len(remaining) == 0 {
			delete(rt.exact, e.info.Pattern)
		} else {
			rt.exact[e.info.Pattern] = remaining
		}
	}
	return nil
}

func without(entries []*entry, target *entry) []*entry {
	return slices.DeleteFunc(entries, func(e *entry) bool { return e == target })
}

// EnableRoute marks a topic route active.
func (rt *InMemoryRoutingTable) EnableRoute(ctx context.Context, id string) error {
	return rt.setActive(ctx, routingtable.KindTopic, id, true)
}

// DisableRoute marks a topic route inactive.
func (rt *InMemoryRoutingTable) DisableRoute(ctx context.Context, id string) error {
	return rt.setActive(ctx, routingtable.KindTopic, id, false)
}

func (rt *InMemoryRoutingTable) setActive(ctx context.Context, kind routingtable.Kind, id string, active bool) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	e, ok := rt.collection(kind)[id]
	if !ok {
		return fmt.Errorf("%w: %s", routingtable.ErrRouteNotFound, id)
	}
	e.info.Active = active
	return nil
}

// HasRoute reports whether a topic route is registered.
func (rt *InMemoryRoutingTable) HasRoute(ctx context.Context, id string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	_, ok := rt.topicRoutes[id]
	return ok
}

// GetRoute returns a snapshot of a topic route.
func (rt *InMemoryRoutingTable) GetRoute(ctx context.Context, id string) (routingtable.RouteInfo, error) {
	return rt.get(ctx, routingtable.KindTopic, id)
}

func (rt *InMemoryRoutingTable) get(ctx context.Context, kind routingtable.Kind, id string) (routingtable.RouteInfo, error) {
	if err := ctxDone(ctx); err != nil {
		return routingtable.RouteInfo{}, err
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	e, ok := rt.collection(kind)[id]
	if !ok {
		return routingtable.RouteInfo{}, fmt.Errorf("%w: %s", routingtable.ErrRouteNotFound, id)
	}
	return e.snapshot(), nil
}

// GetRoutes returns snapshots of every topic route in registration order.
func (rt *InMemoryRoutingTable) GetRoutes(ctx context.Context) []routingtable.RouteInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return snapshots(rt.topicOrder)
}

func snapshots(entries []*entry) []routingtable.RouteInfo {
	infos := make([]routingtable.RouteInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, e.snapshot())
	}
	return infos
}

// RouteCount returns the number of topic routes.
func (rt *InMemoryRoutingTable) RouteCount(ctx context.Context) int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.topicRoutes)
}

// ClearRoutes removes every topic route atomically.
func (rt *InMemoryRoutingTable) ClearRoutes(ctx context.Context) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.topicRoutes = make(map[string]*entry)
	rt.topicOrder = nil
	rt.exact = make(map[string][]*entry)
	rt.wildcard = nil
}

// FindMatching returns the active topic routes matching topic, highest
// priority first with registration order breaking ties.
func (rt *InMemoryRoutingTable) FindMatching(ctx context.Context, topic string) []routingtable.Route {
	if ctxDone(ctx) != nil || topic == "" {
		return nil
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var matched []*entry
	for _, e := range rt.exact[topic] {
		if e.info.Active {
			matched = append(matched, e)
		}
	}
	for _, e := range rt.wildcard {
		if e.info.Active && routingtable.Matches(topic, e.info.Pattern) {
			matched = append(matched, e)
		}
	}
	return dispatchOrder(matched)
}

func dispatchOrder(matched []*entry) []routingtable.Route {
	if len(matched) == 0 {
		return nil
	}
	slices.SortFunc(matched, byDispatchOrder)

	routes := make([]routingtable.Route, 0, len(matched))
	for _, e := range matched {
		routes = append(routes, e.route())
	}
	return routes
}

// AddContentRoute registers a content route keyed by a filter.
func (rt *InMemoryRoutingTable) AddContentRoute(ctx context.Context, id string, f filter.Filter, handler routingtable.Handler, priority int) error {
	if err := validateRoute(id, handler, priority); err != nil {
		return err
	}
	if f == nil {
		return routingtable.ErrNilFilter
	}
	if err := ctxDone(ctx); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return routingtable.ErrClosed
	}
	if _, exists := rt.contentRoutes[id]; exists {
		return fmt.Errorf("%w: %s", routingtable.ErrRouteAlreadyExists, id)
	}
	if err := rt.checkCapacityLocked(); err != nil {
		return err
	}

	e := rt.newEntry(routingtable.RouteInfo{
		ID:       id,
		Kind:     routingtable.KindContent,
		Priority: priority,
	}, handler)
	e.filter = f

	rt.contentRoutes[id] = e
	rt.contentOrder = append(rt.contentOrder, e)
	return nil
}

// RemoveContentRoute deletes a content route.
func (rt *InMemoryRoutingTable) RemoveContentRoute(ctx context.Context, id string) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	e, ok := rt.contentRoutes[id]
	if !ok {
		return fmt.Errorf("%w: %s", routingtable.ErrRouteNotFound, id)
	}
	delete(rt.contentRoutes, id)
	rt.contentOrder = without(rt.contentOrder, e)
	return nil
}

// EnableContentRoute marks a content route active.
func (rt *InMemoryRoutingTable) EnableContentRoute(ctx context.Context, id string) error {
	return rt.setActive(ctx, routingtable.KindContent, id, true)
}

// DisableContentRoute marks a content route inactive.
func (rt *InMemoryRoutingTable) DisableContentRoute(ctx context.Context, id string) error {
	return rt.setActive(ctx, routingtable.KindContent, id, false)
}

// HasContentRoute reports whether a content route is registered.
func (rt *InMemoryRoutingTable) HasContentRoute(ctx context.Context, id string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	_, ok := rt.contentRoutes[id]
	return ok
}

// GetContentRoute returns a snapshot of a content route.
func (rt *InMemoryRoutingTable) GetContentRoute(ctx context.Context, id string) (routingtable.RouteInfo, error) {
	return rt.get(ctx, routingtable.KindContent, id)
}

// GetContentRoutes returns snapshots of every content route in registration order.
func (rt *InMemoryRoutingTable) GetContentRoutes(ctx context.Context) []routingtable.RouteInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return snapshots(rt.contentOrder)
}

// ContentRouteCount returns the number of content routes.
func (rt *InMemoryRoutingTable) ContentRouteCount(ctx context.Context) int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.contentRoutes)
}

// ClearContentRoutes removes every content route atomically.
func (rt *InMemoryRoutingTable) ClearContentRoutes(ctx context.Context) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.contentRoutes = make(map[string]*entry)
	rt.contentOrder = nil
}

// FindMatchingContent returns the active content routes whose filter matches
// msg. Filters run outside the table lock, so a slow filter never blocks
// route mutation.
func (rt *InMemoryRoutingTable) FindMatchingContent(ctx context.Context, msg *message.Message) []routingtable.Route {
	if ctxDone(ctx) != nil || msg == nil {
		return nil
	}

	type candidate struct {
		e      *entry
		filter filter.Filter
		info   routingtable.RouteInfo
	}

	rt.mu.RLock()
	candidates := make([]candidate, 0, len(rt.contentOrder))
	for _, e := range rt.contentOrder {
		if e.info.Active {
			candidates = append(candidates, candidate{e: e, filter: e.filter, info: e.info})
		}
	}
	rt.mu.RUnlock()

	var matched []candidate
	for _, c := range candidates {
		if filter.Evaluate(c.filter, msg) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	slices.SortFunc(matched, func(a, b candidate) int {
		if c := cmp.Compare(b.info.Priority, a.info.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.e.seq, b.e.seq)
	})

	routes := make([]routingtable.Route, 0, len(matched))
	for _, c := range matched {
		info := c.info
		info.MessagesProcessed = c.e.processed.Load()
		routes = append(routes, routingtable.NewRoute(info, c.e.handler, &c.e.processed))
	}
	return routes
}

// Lookup returns a dispatchable snapshot of a single route of the given kind.
func (rt *InMemoryRoutingTable) Lookup(ctx context.Context, kind routingtable.Kind, id string) (routingtable.Route, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	e, ok := rt.collection(kind)[id]
	if !ok {
		return routingtable.Route{}, false
	}
	return e.route(), true
}

// collection returns the route map for kind. Callers must hold rt.mu.
func (rt *InMemoryRoutingTable) collection(kind routingtable.Kind) map[string]*entry {
	if kind == routingtable.KindContent {
		return rt.contentRoutes
	}
	return rt.topicRoutes
}

// ActiveCount returns the number of active routes across both collections.
func (rt *InMemoryRoutingTable) ActiveCount(ctx context.Context) int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	count := 0
	for _, e := range rt.topicOrder {
		if e.info.Active {
			count++
		}
	}
	for _, e := range rt.contentOrder {
		if e.info.Active {
			count++
		}
	}
	return count
}

// Close releases every route. Further additions fail with ErrClosed.
// Close is idempotent.
func (rt *InMemoryRoutingTable) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return nil
	}
	rt.closed = true
	rt.topicRoutes = make(map[string]*entry)
	rt.topicOrder = nil
	rt.exact = make(map[string][]*entry)
	rt.wildcard = nil
	rt.contentRoutes = make(map[string]*entry)
	rt.contentOrder = nil
	return nil
}
