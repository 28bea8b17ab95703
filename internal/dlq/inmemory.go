package dlq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/msgrouter-go/internal/scheduler"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
)

// Verify that InMemoryDLQ implements the DeadLetterQueue interface
var _ dlq.DeadLetterQueue = (*InMemoryDLQ)(nil)

// record is the queue's mutable copy of an entry
type record struct {
	dlq.Entry
	inFlight bool
}

func (r *record) snapshot() dlq.Entry {
	e := r.Entry
	e.Message = r.Message.Copy()
	return e
}

// Option configures an InMemoryDLQ
type Option func(*InMemoryDLQ)

// WithLogger sets the queue logger.
func WithLogger(log *zap.Logger) Option {
	return func(q *InMemoryDLQ) {
		if log != nil {
			q.log = log
		}
	}
}

// WithClock sets the clock used for timestamps and retention.
func WithClock(clock dlq.Clock) Option {
	return func(q *InMemoryDLQ) {
		if clock != nil {
			q.clock = clock
		}
	}
}

// WithScheduler sets the executor for automatic retry.
func WithScheduler(s dlq.Scheduler) Option {
	return func(q *InMemoryDLQ) {
		if s != nil {
			q.scheduler = s
		}
	}
}

// InMemoryDLQ implements dlq.DeadLetterQueue with a bounded, insertion-ordered
// slice. It is safe for concurrent use; replay callbacks always run without
// the queue lock held.
type InMemoryDLQ struct {
	mu      sync.Mutex
	cfg     dlq.Config
	entries []*record
	spaceCh chan struct{} // closed and replaced whenever space frees

	totalReceived  uint64
	totalReplayed  uint64
	totalPurged    uint64
	totalDropped   uint64
	totalExpired   uint64
	failureReasons map[string]uint64

	onMessage func(dlq.Entry)
	onFull    func(int)

	log          *zap.Logger
	clock        dlq.Clock
	scheduler    dlq.Scheduler
	ownScheduler *scheduler.Scheduler
	retryFn      dlq.ReplayFunc
	cancelRetry  func()

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewInMemoryDLQ creates a dead letter queue. Zero config values take their defaults.
func NewInMemoryDLQ(cfg dlq.Config, opts ...Option) (*InMemoryDLQ, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	q := &InMemoryDLQ{
		cfg:            cfg,
		spaceCh:        make(chan struct{}),
		failureReasons: make(map[string]uint64),
		log:            zap.NewNop(),
		clock:          dlq.SystemClock{},
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.Named("dlq")
	if q.scheduler == nil {
		q.ownScheduler = scheduler.New(q.log)
		q.scheduler = q.ownScheduler
	}
	return q, nil
}

// Add enqueues an entry according to the overflow policy.
func (q *InMemoryDLQ) Add(ctx context.Context, entry dlq.Entry) (dlq.Entry, error) {
	if entry.Message == nil {
		return dlq.Entry{}, dlq.ErrNilMessage
	}

	// Check if context is cancelled
	select {
	case <-ctx.Done():
		return dlq.Entry{}, ctx.Err()
	default:
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return dlq.Entry{}, dlq.ErrClosed
	}

	q.totalReceived++
	q.failureReasons[entry.FailureReason]++
	q.sweepLocked()

	fullSize := -1
	if len(q.entries) >= q.cfg.MaxSize {
		fullSize = len(q.entries)
		switch q.cfg.OnFull {
		case dlq.DropNewest:
			q.totalDropped++
			onFull := q.onFull
			q.mu.Unlock()
			q.log.Warn("Dead letter queue full, dropping incoming message",
				zap.String("message_id", entry.Message.ID),
				zap.Int("size", fullSize))
			if onFull != nil {
				onFull(fullSize)
			}
			return dlq.Entry{}, dlq.ErrCapacityExceeded

		case dlq.Block:
			if err := q.waitForSpaceLocked(ctx); err != nil {
				q.totalDropped++
				onFull := q.onFull
				q.mu.Unlock()
				q.log.Warn("Dead letter queue full, blocking insert failed",
					zap.String("message_id", entry.Message.ID),
					zap.Error(err))
				if onFull != nil && errors.Is(err, dlq.ErrDLQFull) {
					onFull(fullSize)
				}
				return dlq.Entry{}, err
			}
			// Space was freed while waiting; no eviction took place
			fullSize = -1

		default:
			q.evictOldestLocked(len(q.entries) - q.cfg.MaxSize + 1)
		}
	}

	now := q.clock.Now()
	rec := &record{Entry: entry}
	rec.ID = uuid.NewString()
	rec.Message = entry.Message.Copy()
	rec.FailedAt = now
	rec.RetryCount = 0
	rec.Retryable = true
	q.entries = append(q.entries, rec)

	stored := rec.snapshot()
	onMessage, onFull := q.onMessage, q.onFull
	size := len(q.entries)
	q.mu.Unlock()

	q.log.Debug("Message moved to dead letter queue",
		zap.String("entry_id", stored.ID),
		zap.String("message_id", stored.Message.ID),
		zap.String("route_id", stored.RouteID),
		zap.String("reason", stored.FailureReason),
		zap.Int("size", size))

	if fullSize >= 0 && onFull != nil {
		onFull(fullSize)
	}
	if onMessage != nil {
		onMessage(stored)
	}
	return stored, nil
}

// waitForSpaceLocked waits until the queue has room, the block timeout
// elapses or ctx is done. Called and returns with q.mu held.
func (q *InMemoryDLQ) waitForSpaceLocked(ctx context.Context) error {
	timeout := time.NewTimer(q.cfg.BlockTimeout)
	defer timeout.Stop()

	for len(q.entries) >= q.cfg.MaxSize {
		if q.closed {
			return dlq.ErrClosed
		}

		spaceCh := q.spaceCh

		// Wake when the oldest entry expires so retention can free a slot
		var expiry <-chan time.Time
		var expiryTimer *time.Timer
		if len(q.entries) > 0 {
			wait := q.entries[0].FailedAt.Add(q.cfg.RetentionPeriod).Sub(q.clock.Now())
			if wait < 0 {
				wait = 0
			}
			expiryTimer = time.NewTimer(wait)
			expiry = expiryTimer.C
		}

		q.mu.Unlock()
		var err error
		select {
		case <-spaceCh:
		case <-expiry:
		case <-timeout.C:
			err = fmt.Errorf("%w: no space after %v", dlq.ErrDLQFull, q.cfg.BlockTimeout)
		case <-ctx.Done():
			err = ctx.Err()
		}
		if expiryTimer != nil {
			expiryTimer.Stop()
		}
		q.mu.Lock()

		if err != nil {
			return err
		}
		q.sweepLocked()
	}
	return nil
}

// signalSpaceLocked wakes blocked writers.
func (q *InMemoryDLQ) signalSpaceLocked() {
	close(q.spaceCh)
	q.spaceCh = make(chan struct{})
}

func (q *InMemoryDLQ) evictOldestLocked(n int) {
	if n <= 0 {
		return
	}
	if n > len(q.entries) {
		n = len(q.entries)
	}
	for _, rec := range q.entries[:n] {
		q.log.Debug("Evicting oldest dead letter entry",
			zap.String("entry_id", rec.ID),
			zap.String("message_id", rec.Message.ID))
	}
	q.entries = append(q.entries[:0:0], q.entries[n:]...)
	q.totalDropped += uint64(n)
}

// sweepLocked removes entries older than the retention period.
func (q *InMemoryDLQ) sweepLocked() int {
	if q.cfg.RetentionPeriod <= 0 || len(q.entries) == 0 {
		return 0
	}
	cutoff := q.clock.Now().Add(-q.cfg.RetentionPeriod)
	n := q.removeLocked(func(r *record) bool { return !r.FailedAt.After(cutoff) })
	if n > 0 {
		q.totalExpired += uint64(n)
		q.totalPurged += uint64(n)
		q.log.Debug("Expired dead letter entries", zap.Int("count", n))
	}
	return n
}

// removeLocked deletes matching entries and wakes blocked writers.
func (q *InMemoryDLQ) removeLocked(match func(*record) bool) int {
	kept := q.entries[:0:0]
	for _, r := range q.entries {
		if !match(r) {
			kept = append(kept, r)
		}
	}
	removed := len(q.entries) - len(kept)
	if removed > 0 {
		q.entries = kept
		q.signalSpaceLocked()
	}
	return removed
}

// Size returns the current number of entries.
func (q *InMemoryDLQ) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// List returns up to limit entries in insertion order; limit <= 0 means all.
func (q *InMemoryDLQ) List(limit int) []dlq.Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]dlq.Entry, 0, n)
	for _, r := range q.entries[:n] {
		out = append(out, r.snapshot())
	}
	return out
}

// Get returns the oldest entry holding messageID.
func (q *InMemoryDLQ) Get(messageID string) (dlq.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if rec := q.findByMessageLocked(messageID); rec != nil {
		return rec.snapshot(), nil
	}
	return dlq.Entry{}, fmt.Errorf("%w: %s", dlq.ErrMessageNotFound, messageID)
}

func (q *InMemoryDLQ) findByMessageLocked(messageID string) *record {
	for _, r := range q.entries {
		if r.Message.ID == messageID {
			return r
		}
	}
	return nil
}

func (q *InMemoryDLQ) indexOfLocked(rec *record) int {
	for i, r := range q.entries {
		if r == rec {
			return i
		}
	}
	return -1
}

// Replay re-dispatches the oldest entry holding messageID.
func (q *InMemoryDLQ) Replay(ctx context.Context, messageID string, fn dlq.ReplayFunc) error {
	if fn == nil {
		return errors.New("replay func cannot be nil")
	}

	q.mu.Lock()
	rec := q.findByMessageLocked(messageID)
	q.mu.Unlock()

	if rec == nil {
		return fmt.Errorf("%w: %s", dlq.ErrMessageNotFound, messageID)
	}
	return q.replay(ctx, rec, fn)
}

// replay claims rec, runs fn without the lock and settles the outcome.
func (q *InMemoryDLQ) replay(ctx context.Context, rec *record, fn dlq.ReplayFunc) error {
	q.mu.Lock()
	if q.indexOfLocked(rec) < 0 {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", dlq.ErrMessageNotFound, rec.Message.ID)
	}
	if rec.inFlight {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", dlq.ErrReplayInProgress, rec.Message.ID)
	}
	rec.inFlight = true
	snapshot := rec.snapshot()
	q.mu.Unlock()

	err := fn(ctx, snapshot)

	q.mu.Lock()
	defer q.mu.Unlock()

	rec.inFlight = false
	present := q.indexOfLocked(rec) >= 0

	switch {
	case errors.Is(err, dlq.ErrReplayUnavailable):
		return err

	case err == nil:
		if present {
			q.removeLocked(func(r *record) bool { return r == rec })
			q.totalReplayed++
		}
		q.log.Debug("Replayed dead letter entry",
			zap.String("entry_id", rec.ID),
			zap.String("message_id", rec.Message.ID))
		return nil

	default:
		rec.RetryCount++
		rec.LastError = err.Error()
		rec.LastAttemptAt = q.clock.Now()
		rec.Retryable = rec.RetryCount < q.cfg.MaxAutoRetries
		q.log.Debug("Dead letter replay failed",
			zap.String("entry_id", rec.ID),
			zap.String("message_id", rec.Message.ID),
			zap.Int("retry_count", rec.RetryCount),
			zap.Error(err))
		return err
	}
}

// ReplayAll replays every current entry once in insertion order.
func (q *InMemoryDLQ) ReplayAll(ctx context.Context, fn dlq.ReplayFunc) int {
	if fn == nil {
		return 0
	}

	q.mu.Lock()
	pending := make([]*record, len(q.entries))
	copy(pending, q.entries)
	q.mu.Unlock()

	replayed := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		if q.replay(ctx, rec, fn) == nil {
			replayed++
		}
	}
	return replayed
}

// Purge removes every entry.
func (q *InMemoryDLQ) Purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.removeLocked(func(*record) bool { return true })
	q.totalPurged += uint64(n)
	return n
}

// PurgeOlderThan removes entries that failed more than age ago.
func (q *InMemoryDLQ) PurgeOlderThan(age time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.clock.Now().Add(-age)
	n := q.removeLocked(func(r *record) bool { return r.FailedAt.Before(cutoff) })
	q.totalPurged += uint64(n)
	return n
}

// Statistics returns a snapshot of the queue counters.
func (q *InMemoryDLQ) Statistics() dlq.Statistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	reasons := make(map[string]uint64, len(q.failureReasons))
	for k, v := range q.failureReasons {
		reasons[k] = v
	}

	stats := dlq.Statistics{
		CurrentSize:    len(q.entries),
		MaxSize:        q.cfg.MaxSize,
		TotalReceived:  q.totalReceived,
		TotalReplayed:  q.totalReplayed,
		TotalPurged:    q.totalPurged,
		TotalDropped:   q.totalDropped,
		TotalExpired:   q.totalExpired,
		FailureReasons: reasons,
	}
	if len(q.entries) > 0 {
		stats.OldestEntry = q.entries[0].FailedAt
		stats.NewestEntry = q.entries[len(q.entries)-1].FailedAt
	}
	return stats
}

// Configure replaces the configuration. Shrinking MaxSize evicts the oldest
// entries and Retryable is recomputed against the new MaxAutoRetries; a
// running automatic retry is rescheduled with the new settings.
func (q *InMemoryDLQ) Configure(cfg dlq.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.SetDefaults()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return dlq.ErrClosed
	}

	q.cfg = cfg
	if over := len(q.entries) - cfg.MaxSize; over > 0 {
		q.evictOldestLocked(over)
	}
	for _, r := range q.entries {
		r.Retryable = r.RetryCount < cfg.MaxAutoRetries
	}
	q.signalSpaceLocked()

	if q.retryFn != nil {
		return q.armRetryLocked()
	}
	return nil
}

// Config returns the active configuration.
func (q *InMemoryDLQ) Config() dlq.Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// OnMessage registers a callback fired after each insertion.
func (q *InMemoryDLQ) OnMessage(fn func(dlq.Entry)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onMessage = fn
}

// OnFull registers a callback fired on eviction or rejection at capacity.
func (q *InMemoryDLQ) OnFull(fn func(size int)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFull = fn
}

// StartAutoRetry begins periodic replay of retryable entries through fn.
// It is a no-op while automatic retry is disabled in the configuration,
// but fn is kept so a later Configure can enable it.
func (q *InMemoryDLQ) StartAutoRetry(fn dlq.ReplayFunc) error {
	if fn == nil {
		return errors.New("replay func cannot be nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return dlq.ErrClosed
	}
	q.retryFn = fn
	return q.armRetryLocked()
}

// StopAutoRetry halts periodic replay.
func (q *InMemoryDLQ) StopAutoRetry() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.retryFn = nil
	q.disarmRetryLocked()
}

func (q *InMemoryDLQ) armRetryLocked() error {
	q.disarmRetryLocked()
	if !q.cfg.EnableAutomaticRetry {
		return nil
	}

	cancel, err := q.scheduler.Every(q.cfg.RetryDelay, func() { q.retryCycle() })
	if err != nil {
		return fmt.Errorf("scheduling automatic retry: %w", err)
	}
	q.cancelRetry = cancel
	q.log.Info("Automatic retry enabled",
		zap.Duration("retry_delay", q.cfg.RetryDelay),
		zap.Int("max_auto_retries", q.cfg.MaxAutoRetries))
	return nil
}

func (q *InMemoryDLQ) disarmRetryLocked() {
	if q.cancelRetry != nil {
		q.cancelRetry()
		q.cancelRetry = nil
	}
}

// RetryNow runs one automatic retry cycle immediately and returns the number
// of entries replayed successfully.
func (q *InMemoryDLQ) RetryNow() int {
	return q.retryCycle()
}

func (q *InMemoryDLQ) retryCycle() int {
	q.mu.Lock()
	fn := q.retryFn
	if fn == nil || q.closed {
		q.mu.Unlock()
		return 0
	}
	q.sweepLocked()

	var eligible []*record
	for _, r := range q.entries {
		if r.Retryable && !r.inFlight && r.RetryCount < q.cfg.MaxAutoRetries {
			eligible = append(eligible, r)
		}
	}
	q.mu.Unlock()

	replayed, unavailable := 0, false
	for _, rec := range eligible {
		if q.ctx.Err() != nil {
			break
		}
		err := q.replay(q.ctx, rec, fn)
		if err == nil {
			replayed++
		} else if errors.Is(err, dlq.ErrReplayUnavailable) {
			unavailable = true
			break
		}
	}

	if len(eligible) > 0 {
		q.log.Debug("Automatic retry cycle finished",
			zap.Int("eligible", len(eligible)),
			zap.Int("replayed", replayed),
			zap.Bool("unavailable", unavailable))
	}
	return replayed
}

// Close stops automatic retry and wakes blocked writers. Close is idempotent.
func (q *InMemoryDLQ) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.retryFn = nil
	q.disarmRetryLocked()
	q.signalSpaceLocked()
	q.mu.Unlock()

	q.cancel()
	if q.ownScheduler != nil {
		q.ownScheduler.Stop()
	}
	return nil
}
