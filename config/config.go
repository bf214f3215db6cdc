package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	DefaultListenAddress = "0.0.0.0:8080"

	DefaultProvider      = "openexchangerates"
	DefaultSyncInterval  = "6h"
	DefaultCheckInterval = "1m"
	DefaultSyncTimeout   = "30s"
)

var (
	ErrInvalidListenAddress = errors.New("invalid listen address")
	ErrInvalidDuration      = errors.New("invalid duration")
)

var listenAddressRegex = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}:\d+$`)

// Config defines the base-level service configuration
type Config struct {
	// The associated CORS config, if any
	CORSConfig *CORS `toml:"cors_config"`

	// The rate sync configuration
	Sync *Sync `toml:"sync"`

	// The sync event notification config, if any
	Notify *Notify `toml:"notify"`

	// The address at which the server will be served.
	// Format should be: <IP>:<PORT>
	ListenAddress string `toml:"listen_address"`
}

// CORS defines the server CORS configuration
type CORS struct {
	AllowedOrigins []string `toml:"allowed_origins"`
	AllowedMethods []string `toml:"allowed_methods"`
	AllowedHeaders []string `toml:"allowed_headers"`
}

// Sync defines the rate sync configuration.
// Durations are Go duration strings ("6h", "90s")
type Sync struct {
	// The named provider options (feed_endpoint, base_currency)
	Options map[string]string `toml:"options"`

	// The rate provider name
	Provider string `toml:"provider"`

	// The staleness interval, after which a non-forced sync refetches
	Interval string `toml:"interval"`

	// How often the periodic (non-forced) sync runs
	CheckInterval string `toml:"check_interval"`

	// The upper bound for a single fetch and commit
	Timeout string `toml:"timeout"`
}

// Notify defines the sync event delivery configuration
type Notify struct {
	// The Redis URL for pub/sub delivery. Delivery is disabled if empty
	RedisURL string `toml:"redis_url"`

	// The pub/sub channel
	Channel string `toml:"channel"`
}

// DefaultConfig returns the default service configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddress: DefaultListenAddress,
		CORSConfig:    DefaultCORSConfig(),
		Sync:          DefaultSyncConfig(),
	}
}

// DefaultCORSConfig returns the default (permissive) CORS configuration
func DefaultCORSConfig() *CORS {
	return &CORS{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}
}

// DefaultSyncConfig returns the default sync configuration
func DefaultSyncConfig() *Sync {
	return &Sync{
		Provider:      DefaultProvider,
		Interval:      DefaultSyncInterval,
		CheckInterval: DefaultCheckInterval,
		Timeout:       DefaultSyncTimeout,
		Options:       map[string]string{},
	}
}

// ValidateConfig validates the service configuration
func ValidateConfig(config *Config) error {
	// Validate the listen address
	if !listenAddressRegex.MatchString(config.ListenAddress) {
		return ErrInvalidListenAddress
	}

	if config.Sync == nil {
		return nil
	}

	// Validate the sync durations
	for field, value := range map[string]string{
		"interval":       config.Sync.Interval,
		"check_interval": config.Sync.CheckInterval,
		"timeout":        config.Sync.Timeout,
	} {
		if value == "" {
			continue
		}

		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: sync %s %q", ErrInvalidDuration, field, value)
		}
	}

	return nil
}

// SyncInterval returns the parsed staleness interval
func (s *Sync) SyncInterval() time.Duration {
	return parseDuration(s.Interval, DefaultSyncInterval)
}

// CheckEvery returns the parsed periodic sync interval
func (s *Sync) CheckEvery() time.Duration {
	return parseDuration(s.CheckInterval, DefaultCheckInterval)
}

// FetchTimeout returns the parsed sync timeout
func (s *Sync) FetchTimeout() time.Duration {
	return parseDuration(s.Timeout, DefaultSyncTimeout)
}

// parseDuration parses the validated duration, falling back to the default
func parseDuration(value, def string) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}

	d, _ := time.ParseDuration(def)

	return d
}

// Read reads the configuration from the given path.
// Values missing from the file are set to their defaults
func Read(path string) (*Config, error) {
	// Read the config file
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Parse it
	var cfg Config

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults fills in the unset configuration values
func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}

	if cfg.CORSConfig == nil {
		cfg.CORSConfig = DefaultCORSConfig()
	}

	if cfg.Sync == nil {
		cfg.Sync = DefaultSyncConfig()

		return
	}

	def := DefaultSyncConfig()

	if cfg.Sync.Provider == "" {
		cfg.Sync.Provider = def.Provider
	}

	if cfg.Sync.Interval == "" {
		cfg.Sync.Interval = def.Interval
	}

	if cfg.Sync.CheckInterval == "" {
		cfg.Sync.CheckInterval = def.CheckInterval
	}

	if cfg.Sync.Timeout == "" {
		cfg.Sync.Timeout = def.Timeout
	}

	if cfg.Sync.Options == nil {
		cfg.Sync.Options = def.Options
	}
}
