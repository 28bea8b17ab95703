package dlq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// manualScheduler records scheduled tasks so tests can fire them on demand
type manualScheduler struct {
	mu       sync.Mutex
	task     func()
	interval time.Duration
}

func (s *manualScheduler) Every(interval time.Duration, task func()) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task = task
	s.interval = interval
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.task = nil
	}, nil
}

func (s *manualScheduler) Fire() bool {
	s.mu.Lock()
	task := s.task
	s.mu.Unlock()
	if task == nil {
		return false
	}
	task()
	return true
}

func (s *manualScheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task != nil
}

func newQueue(t *testing.T, cfg dlq.Config, opts ...Option) *InMemoryDLQ {
	t.Helper()
	q, err := NewInMemoryDLQ(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func messageIDs(entries []dlq.Entry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Message.ID)
	}
	return ids
}
