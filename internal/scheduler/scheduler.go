// Package scheduler runs periodic tasks on a robfig/cron scheduler.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
)

// ErrInvalidInterval is returned for a non-positive interval
var ErrInvalidInterval = errors.New("interval must be positive")

// Verify that Scheduler implements the dlq.Scheduler interface
var _ dlq.Scheduler = (*Scheduler)(nil)

// everySchedule fires at a fixed interval. cron.Every rounds to whole
// seconds, which is too coarse for retry delays.
type everySchedule struct {
	interval time.Duration
}

func (s everySchedule) Next(t time.Time) time.Time {
	return t.Add(s.interval)
}

// cronLogger routes cron's internal logging to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs tasks at fixed intervals. The underlying cron runner is
// started with the first task and stopped by Stop.
type Scheduler struct {
	mu      sync.Mutex
	log     *zap.Logger
	cron    *cron.Cron
	started bool
	stopped bool
}

// New creates a scheduler. A nil logger disables logging.
func New(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	cl := cronLogger{log: log.Named("scheduler").Sugar()}
	return &Scheduler{
		log: log.Named("scheduler"),
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Every runs task every interval until cancel is called. A run that is still
// in progress when the next one is due is skipped.
func (s *Scheduler) Every(interval time.Duration, task func()) (func(), error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}
	if task == nil {
		return nil, errors.New("task cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, errors.New("scheduler is stopped")
	}

	id := s.cron.Schedule(everySchedule{interval: interval}, cron.FuncJob(task))
	if !s.started {
		s.cron.Start()
		s.started = true
	}
	s.log.Debug("Scheduled periodic task",
		zap.Int("entry_id", int(id)),
		zap.Duration("interval", interval))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.cron.Remove(id)
			s.log.Debug("Cancelled periodic task", zap.Int("entry_id", int(id)))
		})
	}
	return cancel, nil
}

// Len returns the number of scheduled tasks.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop halts the scheduler and waits for running tasks to finish.
// Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.cron.Stop().Done()
	}
}
