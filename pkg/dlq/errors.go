package dlq

import "errors"

var (
	// ErrDLQFull is returned when a blocking insertion times out
	ErrDLQFull = errors.New("dead letter queue is full")
	// ErrCapacityExceeded is returned when drop_newest rejects an insertion
	ErrCapacityExceeded = errors.New("dead letter queue capacity exceeded, message dropped")
	// ErrMessageNotFound is returned when no entry holds the given message
	ErrMessageNotFound = errors.New("message not found in dead letter queue")
	// ErrReplayInProgress is returned when the entry is already being replayed
	ErrReplayInProgress = errors.New("replay already in progress")
	// ErrReplayUnavailable signals that replay cannot run right now; the entry is left untouched
	ErrReplayUnavailable = errors.New("replay unavailable")
	// ErrInvalidConfig is returned for an invalid queue configuration
	ErrInvalidConfig = errors.New("invalid dead letter queue config")
	// ErrNilMessage is returned when an entry carries no message
	ErrNilMessage = errors.New("message cannot be nil")
	// ErrClosed is returned after the queue has been closed
	ErrClosed = errors.New("dead letter queue is closed")
)
