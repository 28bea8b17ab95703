// Package config loads the msgrouter daemon configuration from a file and
// MSGROUTER_* environment variables using viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/msgrouter-go/internal/logger"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/dlq"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/filter"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/message"
	"github.com/rmacdonaldsmith/msgrouter-go/pkg/routingtable"
)

// Route actions understood by the daemon
const (
	ActionLog   = "log"
	ActionRedis = "redis"
	ActionFail  = "fail"
)

var (
	// ErrInvalidRoute is returned for a malformed route declaration
	ErrInvalidRoute = errors.New("invalid route")

	// ErrInvalidAdmin is returned for an unusable admin API section
	ErrInvalidAdmin = errors.New("invalid admin config")

	// ErrInvalidRedis is returned for an unusable redis section
	ErrInvalidRedis = errors.New("invalid redis config")
)

// Config is the complete daemon configuration.
type Config struct {
	Logger logger.Config `mapstructure:"logger"`
	Broker BrokerConfig  `mapstructure:"broker"`
	DLQ    dlq.Config    `mapstructure:"dlq"`
	Admin  AdminConfig   `mapstructure:"admin"`
	Redis  RedisConfig   `mapstructure:"redis"`
	Routes []RouteConfig `mapstructure:"routes"`
}

// BrokerConfig holds the dispatcher settings.
type BrokerConfig struct {
	MaxRoutes      int           `mapstructure:"max_routes"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// AdminConfig holds the admin HTTP API settings.
type AdminConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	AdminSecret string        `mapstructure:"admin_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
}

// RedisConfig holds the Redis notification sink settings.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`

	// DLQChannel receives every DLQ insertion when set.
	DLQChannel string `mapstructure:"dlq_channel"`
}

// RouteConfig declares a route registered at startup. Exactly one of
// Pattern and Content must be set.
type RouteConfig struct {
	ID       string         `mapstructure:"id"`
	Pattern  string         `mapstructure:"pattern"`
	Content  *ContentConfig `mapstructure:"content"`
	Priority *int           `mapstructure:"priority"`
	Action   string         `mapstructure:"action"`
	Channel  string         `mapstructure:"channel"`
	Disabled bool           `mapstructure:"disabled"`
}

// ContentConfig declares a content filter. Every present clause must hold.
type ContentConfig struct {
	Metadata    map[string]string `mapstructure:"metadata"`
	Type        string            `mapstructure:"type"`
	MinPriority string            `mapstructure:"min_priority"`
	HasFields   []string          `mapstructure:"has_fields"`
	Fields      map[string]any    `mapstructure:"fields"`
	Matches     map[string]string `mapstructure:"matches"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logger: *logger.DefaultConfig(),
		Broker: BrokerConfig{
			MaxRoutes: 1000,
		},
		DLQ: dlq.DefaultConfig(),
		Admin: AdminConfig{
			Addr:     ":8081",
			TokenTTL: 24 * time.Hour,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "msgrouter:",
		},
	}
}

// RoutePriority returns the declared priority or the default.
func (rc RouteConfig) RoutePriority() int {
	if rc.Priority == nil {
		return routingtable.DefaultPriority
	}
	return *rc.Priority
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Logger.Level); err != nil {
		return err
	}
	if c.Broker.MaxRoutes < 0 {
		return fmt.Errorf("broker max_routes cannot be negative")
	}
	if c.Broker.HandlerTimeout < 0 {
		return fmt.Errorf("broker handler_timeout cannot be negative")
	}
	if err := c.DLQ.Validate(); err != nil {
		return err
	}

	if c.Admin.Enabled {
		if c.Admin.Addr == "" {
			return fmt.Errorf("%w: addr is required", ErrInvalidAdmin)
		}
		if c.Admin.JWTSecret == "" {
			return fmt.Errorf("%w: jwt_secret is required", ErrInvalidAdmin)
		}
		if c.Admin.AdminSecret == "" {
			return fmt.Errorf("%w: admin_secret is required", ErrInvalidAdmin)
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("%w: addr is required", ErrInvalidRedis)
	}

	seen := make(map[string]bool, len(c.Routes))
	for i, rc := range c.Routes {
		if err := c.validateRoute(rc); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		if seen[rc.ID] {
			return fmt.Errorf("routes[%d]: %w: duplicate id %q", i, ErrInvalidRoute, rc.ID)
		}
		seen[rc.ID] = true
	}
	return nil
}

func (c *Config) validateRoute(rc RouteConfig) error {
	if rc.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRoute)
	}
	if (rc.Pattern == "") == (rc.Content == nil) {
		return fmt.Errorf("%w %q: exactly one of pattern or content is required", ErrInvalidRoute, rc.ID)
	}
	if rc.Pattern != "" {
		if err := routingtable.ValidatePattern(rc.Pattern); err != nil {
			return fmt.Errorf("%w %q: %w", ErrInvalidRoute, rc.ID, err)
		}
	}
	if rc.Content != nil {
		if _, err := rc.Content.Compile(); err != nil {
			return fmt.Errorf("%w %q: %w", ErrInvalidRoute, rc.ID, err)
		}
	}

	p := rc.RoutePriority()
	if p < routingtable.MinPriority || p > routingtable.MaxPriority {
		return fmt.Errorf("%w %q: priority %d out of range", ErrInvalidRoute, rc.ID, p)
	}

	switch rc.Action {
	case ActionLog, ActionFail:
	case ActionRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("%w %q: redis action requires redis.enabled", ErrInvalidRoute, rc.ID)
		}
		if rc.Channel == "" {
			return fmt.Errorf("%w %q: redis action requires a channel", ErrInvalidRoute, rc.ID)
		}
	default:
		return fmt.Errorf("%w %q: unknown action %q", ErrInvalidRoute, rc.ID, rc.Action)
	}
	return nil
}

// Compile builds the content filter described by cc.
func (cc *ContentConfig) Compile() (filter.Filter, error) {
	var clauses []filter.Filter

	for k, v := range cc.Metadata {
		clauses = append(clauses, filter.MetadataEquals(k, v))
	}
	if cc.Type != "" {
		t, err := message.ParseType(cc.Type)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, filter.MessageTypeIs(t))
	}
	if cc.MinPriority != "" {
		p, err := message.ParsePriority(cc.MinPriority)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, filter.PriorityAtLeast(p))
	}
	for _, name := range cc.HasFields {
		clauses = append(clauses, filter.HasField(name))
	}
	for name, value := range cc.Fields {
		clauses = append(clauses, filter.FieldEquals(name, value))
	}
	for name, expr := range cc.Matches {
		f, err := filter.FieldMatches(name, expr)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, f)
	}

	if len(clauses) == 0 {
		return nil, errors.New("content filter has no clauses")
	}
	return filter.AllOf(clauses...), nil
}
