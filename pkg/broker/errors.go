package broker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

var (
	// ErrBrokerNotRunning is returned by routing calls while the broker is stopped
	ErrBrokerNotRunning = errors.New("broker is not running")
	// ErrBrokerClosed is returned when starting a closed broker
	ErrBrokerClosed = errors.New("broker is closed")
	// ErrNoMatchingRoutes is returned when no active route matches a message
	ErrNoMatchingRoutes = errors.New("no matching routes")
	// ErrHandlerFailed is matched by every HandlerError
	ErrHandlerFailed = errors.New("handler failed")
	// ErrNilMessage is returned when a nil message is routed
	ErrNilMessage = errors.New("message cannot be nil")
)

// Route table and dead letter queue error kinds surfaced by the broker.
var (
	ErrRouteNotFound        = routingtable.ErrRouteNotFound
	ErrRouteAlreadyExists   = routingtable.ErrRouteAlreadyExists
	ErrRouteLimitExceeded   = routingtable.ErrRouteLimitExceeded
	ErrInvalidPattern       = routingtable.ErrInvalidPattern
	ErrDLQFull              = dlq.ErrDLQFull
	ErrMessageNotFoundInDLQ = dlq.ErrMessageNotFound
)

// HandlerError records a single route's handler failure
type HandlerError struct {
	RouteID   string `json:"routeId"`
	MessageID string `json:"messageId"`
	Err       error  `json:"-"`
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("route %s: handler failed for message %s: %v", e.RouteID, e.MessageID, e.Err)
}

// Unwrap exposes both ErrHandlerFailed and the handler's own error.
func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandlerFailed, e.Err}
}

// DispatchError is returned when every matched route failed
type DispatchError struct {
	MessageID string
	Failures  []*HandlerError
}

func (e *DispatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.RouteID, f.Err))
	}
	return fmt.Sprintf("all %d routes failed for message %s: %s",
		len(e.Failures), e.MessageID, strings.Join(parts, "; "))
}

// Unwrap returns the individual handler failures.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
