package dlq

import (
	"fmt"
	"time"
)

// OverflowPolicy decides what happens when the queue is at capacity
type OverflowPolicy string

const (
	// DropOldest evicts the earliest entry to make room
	DropOldest OverflowPolicy = "drop_oldest"
	// DropNewest rejects the incoming entry
	DropNewest OverflowPolicy = "drop_newest"
	// Block waits up to BlockTimeout for space to free
	Block OverflowPolicy = "block"
)

// ParseOverflowPolicy converts a policy name into an OverflowPolicy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case DropOldest, DropNewest, Block:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown overflow policy %q", ErrInvalidConfig, s)
	}
}

const (
	DefaultMaxSize         = 1000
	DefaultRetentionPeriod = 24 * time.Hour
	DefaultOnFull          = DropOldest
	DefaultBlockTimeout    = 5 * time.Second
	DefaultMaxAutoRetries  = 3
	DefaultRetryDelay      = 30 * time.Second
)

// Config holds the dead letter queue configuration
type Config struct {
	MaxSize              int            `json:"maxSize" mapstructure:"max_size"`
	RetentionPeriod      time.Duration  `json:"retentionPeriod" mapstructure:"retention_period"`
	OnFull               OverflowPolicy `json:"onFull" mapstructure:"on_full"`
	BlockTimeout         time.Duration  `json:"blockTimeout" mapstructure:"block_timeout"`
	EnableAutomaticRetry bool           `json:"enableAutomaticRetry" mapstructure:"enable_automatic_retry"`
	// MaxAutoRetries caps automatic retries per entry. Zero means
	// DefaultMaxAutoRetries, not "never retry"; set EnableAutomaticRetry to
	// false to turn retries off.
	MaxAutoRetries       int            `json:"maxAutoRetries" mapstructure:"max_auto_retries"`
	RetryDelay           time.Duration  `json:"retryDelay" mapstructure:"retry_delay"`
	CaptureUnrouted      bool           `json:"captureUnrouted" mapstructure:"capture_unrouted"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	var c Config
	c.SetDefaults()
	return c
}

// SetDefaults fills zero values with their defaults.
func (c *Config) SetDefaults() {
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.RetentionPeriod == 0 {
		c.RetentionPeriod = DefaultRetentionPeriod
	}
	if c.OnFull == "" {
		c.OnFull = DefaultOnFull
	}
	if c.BlockTimeout == 0 {
		c.BlockTimeout = DefaultBlockTimeout
	}
	if c.MaxAutoRetries == 0 {
		c.MaxAutoRetries = DefaultMaxAutoRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

// Validate checks the configuration. Zero values are accepted since
// SetDefaults replaces them.
func (c Config) Validate() error {
	if c.MaxSize < 0 {
		return fmt.Errorf("%w: max size cannot be negative", ErrInvalidConfig)
	}
	if c.RetentionPeriod < 0 {
		return fmt.Errorf("%w: retention period cannot be negative", ErrInvalidConfig)
	}
	if c.OnFull != "" {
		if _, err := ParseOverflowPolicy(string(c.OnFull)); err != nil {
			return err
		}
	}
	if c.BlockTimeout < 0 {
		return fmt.Errorf("%w: block timeout cannot be negative", ErrInvalidConfig)
	}
	if c.MaxAutoRetries < 0 {
		return fmt.Errorf("%w: max auto retries cannot be negative", ErrInvalidConfig)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: retry delay cannot be negative", ErrInvalidConfig)
	}
	return nil
}
