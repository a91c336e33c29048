// Package config loads tapcount's configuration from an optional YAML file
// and TAPCOUNT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Counter   CounterConfig   `mapstructure:"counter"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig configures the HTTP listener and request handling.
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"oneof=text json"`
	Metrics         bool          `mapstructure:"metrics"`
}

// StoreConfig selects and configures the key-value store. With the redis
// backend and no URL the server still starts, but every request fails as
// store unavailable.
type StoreConfig struct {
	Backend      string        `mapstructure:"backend" validate:"oneof=redis memory"`
	URL          string        `mapstructure:"url"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	Prefix       string        `mapstructure:"prefix"`
	PoolSize     int           `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int           `mapstructure:"min_idle_conns" validate:"gte=0"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" validate:"gte=0"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
}

// CounterConfig holds the increment rules.
type CounterConfig struct {
	Cooldown         time.Duration `mapstructure:"cooldown" validate:"gte=1s"`
	BlockConsecutive bool          `mapstructure:"block_consecutive"`
	LeaderboardSize  int           `mapstructure:"leaderboard_size" validate:"gte=1,lte=100"`
	MaxRetries       int           `mapstructure:"max_retries" validate:"gte=0,lte=50"`
}

// RateLimitConfig configures the per-client request throttle.
type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps" validate:"gt=0"`
	Burst           int           `mapstructure:"burst" validate:"gte=1"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" validate:"gte=0"`
	IdleTTL         time.Duration `mapstructure:"idle_ttl" validate:"gt=0"`
}

// New returns a viper instance reading configFile, or tapcount.yaml from
// the standard locations when configFile is empty, with TAPCOUNT_*
// environment overrides and defaults applied.
func New(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName("tapcount")
		v.SetConfigType("yaml")
	}

	// TAPCOUNT_SERVER_HTTP_ADDR overrides server.http_addr.
	v.SetEnvPrefix("TAPCOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	_ = v.BindEnv("store.url", "TAPCOUNT_STORE_URL", "REDIS_URL")

	return v
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	for _, dir := range []string{".", filepath.Join(home, ".tapcount"), "/etc/tapcount"} {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "tapcount"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 5*time.Second)
	v.SetDefault("server.max_body_bytes", 16<<10)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.metrics", true)

	v.SetDefault("store.backend", BackendRedis)
	v.SetDefault("store.url", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.db", 0)
	v.SetDefault("store.prefix", "tapcount:")
	v.SetDefault("store.pool_size", 0)
	v.SetDefault("store.min_idle_conns", 0)
	v.SetDefault("store.dial_timeout", 5*time.Second)
	v.SetDefault("store.read_timeout", 3*time.Second)
	v.SetDefault("store.write_timeout", 3*time.Second)

	v.SetDefault("counter.cooldown", 10*time.Second)
	v.SetDefault("counter.block_consecutive", false)
	v.SetDefault("counter.leaderboard_size", 10)
	v.SetDefault("counter.max_retries", 5)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.trust_proxy", false)
	v.SetDefault("rate_limit.cleanup_interval", 2*time.Minute)
	v.SetDefault("rate_limit.idle_ttl", 15*time.Minute)
}

// Load reads the config file if there is one, applies environment
// overrides and validates the result. A missing config file is not an
// error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		field := strings.ToLower(strings.TrimPrefix(e.Namespace(), "Config."))
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, e.Tag(), e.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
