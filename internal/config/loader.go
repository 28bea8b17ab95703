package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MSGROUTER_DLQ_MAX_SIZE.
const EnvPrefix = "MSGROUTER"

// ConfigPathEnv names a config file when no path is given explicitly.
const ConfigPathEnv = "MSGROUTER_CONFIG_FILE"

// Loader reads configuration with viper.
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a loader that searches ./, ./config and ~/.msgrouter
// for msgrouter.{yaml,json,toml}.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigName("msgrouter")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".msgrouter"))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())
	return &Loader{viper: v}
}

// Load reads the configuration. An explicit path must exist; with no path the
// default search locations are tried and a missing file yields the defaults
// plus environment overrides.
func (l *Loader) Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(ConfigPathEnv))
	}

	if path != "" {
		l.viper.SetConfigFile(path)
	}

	if err := l.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := Default()
	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the file Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.viper.ConfigFileUsed()
}

// Load is a convenience wrapper around NewLoader().Load(path).
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// setDefaults registers every scalar key so that environment variables can
// override keys absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logger.level", string(d.Logger.Level))
	v.SetDefault("logger.output_path", d.Logger.OutputPath)
	v.SetDefault("logger.max_size", d.Logger.MaxSize)
	v.SetDefault("logger.max_backups", d.Logger.MaxBackups)
	v.SetDefault("logger.max_age", d.Logger.MaxAge)
	v.SetDefault("logger.compress", d.Logger.Compress)
	v.SetDefault("logger.development", d.Logger.Development)

	v.SetDefault("broker.max_routes", d.Broker.MaxRoutes)
	v.SetDefault("broker.handler_timeout", d.Broker.HandlerTimeout)

	v.SetDefault("dlq.max_size", d.DLQ.MaxSize)
	v.SetDefault("dlq.retention_period", d.DLQ.RetentionPeriod)
	v.SetDefault("dlq.on_full", string(d.DLQ.OnFull))
	v.SetDefault("dlq.block_timeout", d.DLQ.BlockTimeout)
	v.SetDefault("dlq.enable_automatic_retry", d.DLQ.EnableAutomaticRetry)
	v.SetDefault("dlq.max_auto_retries", d.DLQ.MaxAutoRetries)
	v.SetDefault("dlq.retry_delay", d.DLQ.RetryDelay)
	v.SetDefault("dlq.capture_unrouted", d.DLQ.CaptureUnrouted)

	v.SetDefault("admin.enabled", d.Admin.Enabled)
	v.SetDefault("admin.addr", d.Admin.Addr)
	v.SetDefault("admin.jwt_secret", d.Admin.JWTSecret)
	v.SetDefault("admin.admin_secret", d.Admin.AdminSecret)
	v.SetDefault("admin.token_ttl", d.Admin.TokenTTL)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("redis.dlq_channel", d.Redis.DLQChannel)
}
