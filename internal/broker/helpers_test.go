package broker

import (
	"context"
	"sync"
	"testing"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

func newStartedBroker(t *testing.T, config *Config) *MessageBroker {
	t.Helper()
	b := newBroker(t, config)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return b
}

func newBroker(t *testing.T, config *Config) *MessageBroker {
	t.Helper()
	if config == nil {
		config = NewConfig()
	}
	b, err := NewMessageBroker(config)
	if err != nil {
		t.Fatalf("NewMessageBroker failed: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// recorder collects the order in which routes receive messages
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler(name string) routingtable.Handler {
	return routingtable.HandlerFunc(func(ctx context.Context, msg *message.Message) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		return nil
	})
}

func (r *recorder) failing(name string, err error) routingtable.Handler {
	return routingtable.HandlerFunc(func(ctx context.Context, msg *message.Message) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		return err
	})
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}
