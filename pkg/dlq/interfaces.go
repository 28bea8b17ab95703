package dlq

import (
	"context"
	"io"
	"time"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// Entry is a message held in the dead letter queue
type Entry struct {
	ID            string            `json:"id"`
	Message       *message.Message  `json:"originalMessage"`
	FailureReason string            `json:"failureReason"`
	RouteID       string            `json:"routeId,omitempty"` // empty when the message was unrouted
	Kind          routingtable.Kind `json:"kind"`              // collection the message was dispatched against
	FailedAt      time.Time         `json:"failedAt"`
	RetryCount    int               `json:"retryCount"`
	LastError     string            `json:"lastError,omitempty"`
	LastAttemptAt time.Time         `json:"lastAttemptAt,omitempty"`
	Retryable     bool              `json:"retryable"` // false once automatic retries are exhausted
}

// Statistics is a snapshot of queue counters
type Statistics struct {
	CurrentSize    int               `json:"currentSize"`
	MaxSize        int               `json:"maxSize"`
	TotalReceived  uint64            `json:"totalReceived"`
	TotalReplayed  uint64            `json:"totalReplayed"`
	TotalPurged    uint64            `json:"totalPurged"`  // includes expired entries
	TotalDropped   uint64            `json:"totalDropped"` // overflow evictions and rejections
	TotalExpired   uint64            `json:"totalExpired"`
	FailureReasons map[string]uint64 `json:"failureReasons"`
	OldestEntry    time.Time         `json:"oldestEntry,omitempty"`
	NewestEntry    time.Time         `json:"newestEntry,omitempty"`
}

// ReplayFunc re-dispatches an entry's message. Returning an error that wraps
// ErrReplayUnavailable leaves the entry untouched.
type ReplayFunc func(ctx context.Context, entry Entry) error

// Clock supplies timestamps for entries and retention
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Scheduler runs a task every interval until the returned cancel func is called.
type Scheduler interface {
	Every(interval time.Duration, task func()) (cancel func(), err error)
}

// DeadLetterQueue stores failed messages for inspection and replay.
type DeadLetterQueue interface {
	io.Closer

	// Add enqueues an entry. The queue assigns ID, FailedAt and Retryable.
	// Under drop_newest a full queue returns ErrCapacityExceeded; under block
	// it waits up to BlockTimeout and then returns ErrDLQFull.
	Add(ctx context.Context, entry Entry) (Entry, error)

	// Size returns the current number of entries.
	Size() int

	// List returns up to limit entries in insertion order; limit <= 0 means all.
	List(limit int) []Entry

	// Get returns the oldest entry holding messageID.
	Get(messageID string) (Entry, error)

	// Replay re-dispatches the oldest entry holding messageID. On success the
	// entry is removed; on failure its retry count is incremented.
	Replay(ctx context.Context, messageID string, fn ReplayFunc) error

	// ReplayAll replays every current entry once in insertion order and
	// returns the number replayed successfully.
	ReplayAll(ctx context.Context, fn ReplayFunc) int

	// Purge removes every entry and returns the count removed.
	Purge() int

	// PurgeOlderThan removes entries that failed more than age ago.
	PurgeOlderThan(age time.Duration) int

	// Statistics returns a snapshot of the queue counters.
	Statistics() Statistics

	// Configure replaces the configuration. Shrinking MaxSize evicts the oldest entries.
	Configure(cfg Config) error

	// Config returns the active configuration.
	Config() Config

	// OnMessage registers a callback fired after each insertion.
	OnMessage(fn func(Entry))

	// OnFull registers a callback fired on eviction or rejection at capacity.
	OnFull(fn func(size int))

	// StartAutoRetry begins periodic replay of retryable entries through fn
	// when automatic retry is enabled.
	StartAutoRetry(fn ReplayFunc) error

	// StopAutoRetry halts periodic replay.
	StopAutoRetry()
}
