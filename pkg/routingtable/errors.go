package routingtable

import "errors"

var (
	// ErrRouteNotFound is returned when a route id is not registered
	ErrRouteNotFound = errors.New("route not found")
	// ErrRouteAlreadyExists is returned when a route id is registered twice
	ErrRouteAlreadyExists = errors.New("route already exists")
	// ErrRouteLimitExceeded is returned when the table is at its route limit
	ErrRouteLimitExceeded = errors.New("route limit exceeded")
	// ErrInvalidPattern is returned for malformed topic patterns
	ErrInvalidPattern = errors.New("invalid topic pattern")
	// ErrInvalidPriority is returned when a priority is outside MinPriority..MaxPriority
	ErrInvalidPriority = errors.New("invalid route priority")
	// ErrEmptyRouteID is returned when a route id is empty
	ErrEmptyRouteID = errors.New("route id cannot be empty")
	// ErrNilHandler is returned when a route has no handler
	ErrNilHandler = errors.New("handler cannot be nil")
	// ErrNilFilter is returned when a content route has no filter
	ErrNilFilter = errors.New("filter cannot be nil")
	// ErrClosed is returned when the table has been closed
	ErrClosed = errors.New("routing table is closed")
)
