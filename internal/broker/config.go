package broker

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
)

const (
	// DefaultMaxRoutes bounds topic and content routes combined
	DefaultMaxRoutes = 1000
)

var (
	// ErrInvalidMaxRoutes is returned when the route limit is negative
	ErrInvalidMaxRoutes = errors.New("max routes cannot be negative")
	// ErrInvalidHandlerTimeout is returned when the handler timeout is negative
	ErrInvalidHandlerTimeout = errors.New("handler timeout cannot be negative")
)

// Config represents configuration for a MessageBroker
type Config struct {
	// MaxRoutes limits topic and content routes combined
	MaxRoutes int

	// HandlerTimeout, when positive, bounds each handler invocation through
	// its context. Handlers that ignore the context are not preempted.
	HandlerTimeout time.Duration

	// DLQ configuration - passed to the dead letter queue
	DLQ dlq.Config

	// Logger receives broker, queue and scheduler logs; nil disables logging
	Logger *zap.Logger

	// Clock supplies timestamps; nil uses the wall clock
	Clock dlq.Clock

	// Scheduler runs automatic retry; nil uses a cron-backed scheduler
	Scheduler dlq.Scheduler
}

// NewConfig creates a new broker configuration with safe defaults
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills zero values with their defaults.
func (c *Config) SetDefaults() {
	if c.MaxRoutes == 0 {
		c.MaxRoutes = DefaultMaxRoutes
	}
	c.DLQ.SetDefaults()
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.MaxRoutes < 0 {
		return ErrInvalidMaxRoutes
	}
	if c.HandlerTimeout < 0 {
		return ErrInvalidHandlerTimeout
	}
	if err := c.DLQ.Validate(); err != nil {
		return fmt.Errorf("invalid DLQ config: %w", err)
	}
	return nil
}

// WithMaxRoutes sets the route limit
func (c *Config) WithMaxRoutes(n int) *Config {
	c.MaxRoutes = n
	return c
}

// WithHandlerTimeout sets the per-handler deadline
func (c *Config) WithHandlerTimeout(d time.Duration) *Config {
	c.HandlerTimeout = d
	return c
}

// WithDLQConfig replaces the DLQ configuration
func (c *Config) WithDLQConfig(cfg dlq.Config) *Config {
	c.DLQ = cfg
	return c
}

// WithMaxDLQSize sets the DLQ capacity
func (c *Config) WithMaxDLQSize(n int) *Config {
	c.DLQ.MaxSize = n
	return c
}

// WithOverflowPolicy sets the DLQ overflow policy
func (c *Config) WithOverflowPolicy(p dlq.OverflowPolicy) *Config {
	c.DLQ.OnFull = p
	return c
}

// WithCaptureUnrouted moves unrouted messages to the DLQ
func (c *Config) WithCaptureUnrouted(capture bool) *Config {
	c.DLQ.CaptureUnrouted = capture
	return c
}

// WithAutomaticRetry enables periodic DLQ replay
func (c *Config) WithAutomaticRetry(delay time.Duration, maxRetries int) *Config {
	c.DLQ.EnableAutomaticRetry = true
	c.DLQ.RetryDelay = delay
	c.DLQ.MaxAutoRetries = maxRetries
	return c
}

// WithLogger sets the logger
func (c *Config) WithLogger(log *zap.Logger) *Config {
	c.Logger = log
	return c
}

// WithClock sets the clock
func (c *Config) WithClock(clock dlq.Clock) *Config {
	c.Clock = clock
	return c
}

// WithScheduler sets the automatic retry executor
func (c *Config) WithScheduler(s dlq.Scheduler) *Config {
	c.Scheduler = s
	return c
}
