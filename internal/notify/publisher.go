// Package notify publishes routed messages and dead letter events to Redis
// pub/sub channels as JSON.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// DefaultPrefix is prepended to every channel name.
const DefaultPrefix = "msgrouter:"

// hookTimeout bounds a DLQ event publish, which runs on the routing goroutine.
const hookTimeout = 2 * time.Second

// ErrEmptyChannel is returned when publishing to an unnamed channel
var ErrEmptyChannel = errors.New("channel name cannot be empty")

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// DeadLetterEvent is published for every DLQ insertion.
type DeadLetterEvent struct {
	Event string    `json:"event"`
	Entry dlq.Entry `json:"entry"`
	At    time.Time `json:"at"`
}

// Publisher writes JSON documents to prefixed Redis channels.
type Publisher struct {
	client *redis.Client
	prefix string
	log    *zap.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, cfg Config, log *zap.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	p := NewPublisher(client, cfg.Prefix, log)
	p.log.Info("Redis publisher initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("prefix", p.prefix))
	return p, nil
}

// NewPublisher wraps an existing client. An empty prefix means DefaultPrefix.
func NewPublisher(client *redis.Client, prefix string, log *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		log:    log.Named("notify"),
	}
}

// Channel returns the fully prefixed channel name.
func (p *Publisher) Channel(name string) string {
	return p.prefix + name
}

// Publish marshals v as JSON and publishes it to the named channel.
func (p *Publisher) Publish(ctx context.Context, channel string, v any) error {
	if channel == "" {
		return ErrEmptyChannel
	}

	data, err := json.Marshal(v)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("encoding payload for %s: %w", channel, err)
	}
	if err := p.client.Publish(ctx, p.Channel(channel), data).Err(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publishing to %s: %w", p.Channel(channel), err)
	}
	p.published.Add(1)
	return nil
}

// PublishMessage publishes msg to the named channel.
func (p *Publisher) PublishMessage(ctx context.Context, channel string, msg *message.Message) error {
	if msg == nil {
		return errors.New("message cannot be nil")
	}
	return p.Publish(ctx, channel, msg)
}

// Handler returns a route handler that forwards every message to channel.
func (p *Publisher) Handler(channel string) routingtable.Handler {
	return routingtable.HandlerFunc(func(ctx context.Context, msg *message.Message) error {
		return p.PublishMessage(ctx, channel, msg)
	})
}

// DeadLetterHook returns a DLQ callback that publishes a DeadLetterEvent to
// channel. Publish failures are logged, never propagated.
func (p *Publisher) DeadLetterHook(channel string) func(dlq.Entry) {
	return func(entry dlq.Entry) {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()

		event := DeadLetterEvent{Event: "dead_letter", Entry: entry, At: time.Now()}
		if err := p.Publish(ctx, channel, event); err != nil {
			p.log.Warn("Failed to publish dead letter event",
				zap.String("entry_id", entry.ID),
				zap.String("channel", channel),
				zap.Error(err))
		}
	}
}

// FullHook returns a DLQ overflow callback that publishes the queue size.
func (p *Publisher) FullHook(channel string) func(size int) {
	return func(size int) {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()

		event := map[string]any{"event": "dlq_full", "size": size, "at": time.Now()}
		if err := p.Publish(ctx, channel, event); err != nil {
			p.log.Warn("Failed to publish DLQ full event", zap.Error(err))
		}
	}
}

// Stats returns the number of successful and failed publishes.
func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Close closes the underlying client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
