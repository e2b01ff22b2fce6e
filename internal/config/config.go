package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPDS         = "https://bsky.social"
	defaultFirehoseURL = "wss://jetstream1.us-east.bsky.network/subscribe"
	defaultDBPath      = "bluesky-timeline.db"
)

// Config holds all configuration for the application.
type Config struct {
	// Handle is the account identifier used to log in.
	Handle string `yaml:"handle"`

	// AppPassword is a BlueSky App Password, not the account password.
	AppPassword string `yaml:"app_password"`

	// PDS is the base URL of the account's personal data server.
	PDS string `yaml:"pds"`

	// PollInterval is the time between timeline syncs.
	PollInterval time.Duration `yaml:"poll_interval"`

	// CallTimeout bounds every call to the remote service.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Backlog is the number of posts from the initial load shown at startup.
	Backlog int `yaml:"backlog"`

	// RateLimit is the maximum number of requests per second to the PDS.
	RateLimit float64 `yaml:"rate_limit"`

	// DatabasePath is the SQLite archive file.
	DatabasePath string `yaml:"database_path"`

	// Retention is how long archived posts are kept.
	Retention time.Duration `yaml:"retention"`

	// MaxArchived caps the number of archived posts.
	MaxArchived int `yaml:"max_archived"`

	// Port is the HTTP server port. Zero disables the server.
	Port int `yaml:"port"`

	// FirehoseURL is the Jetstream WebSocket endpoint.
	FirehoseURL string `yaml:"firehose_url"`

	// FirehoseEnabled turns the Jetstream sync trigger on or off.
	FirehoseEnabled bool `yaml:"firehose_enabled"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		PDS:             defaultPDS,
		PollInterval:    30 * time.Second,
		CallTimeout:     30 * time.Second,
		RateLimit:       5,
		DatabasePath:    defaultDBPath,
		Retention:       7 * 24 * time.Hour,
		MaxArchived:     5000,
		Port:            3000,
		FirehoseURL:     defaultFirehoseURL,
		FirehoseEnabled: true,
		LogLevel:        "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Handle, "BLUESKY_HANDLE")
	setString(&c.AppPassword, "BLUESKY_APP_PASSWORD")
	setString(&c.PDS, "BLUESKY_PDS")
	setString(&c.DatabasePath, "TIMELINE_DATABASE_PATH")
	setString(&c.FirehoseURL, "TIMELINE_FIREHOSE_URL")
	setString(&c.LogLevel, "LOG_LEVEL")

	var errs []error
	errs = append(errs,
		setDuration(&c.PollInterval, "TIMELINE_POLL_INTERVAL"),
		setDuration(&c.CallTimeout, "TIMELINE_CALL_TIMEOUT"),
		setDuration(&c.Retention, "TIMELINE_RETENTION"),
		setInt(&c.Backlog, "TIMELINE_BACKLOG"),
		setInt(&c.MaxArchived, "TIMELINE_MAX_ARCHIVED"),
		setInt(&c.Port, "PORT"),
		setBool(&c.FirehoseEnabled, "TIMELINE_FIREHOSE_ENABLED"),
	)
	if v := os.Getenv("TIMELINE_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid TIMELINE_RATE_LIMIT: %w", err))
		} else {
			c.RateLimit = f
		}
	}
	return errors.Join(errs...)
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var missing []string
	if c.Handle == "" {
		missing = append(missing, "BLUESKY_HANDLE")
	}
	if c.AppPassword == "" {
		missing = append(missing, "BLUESKY_APP_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s is required", strings.Join(missing, ", "))
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout)
	}
	if c.Backlog < 0 {
		return fmt.Errorf("backlog must not be negative, got %d", c.Backlog)
	}
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", c.Retention)
	}
	if c.MaxArchived <= 0 {
		return fmt.Errorf("max archived must be positive, got %d", c.MaxArchived)
	}
	if c.FirehoseEnabled {
		u, err := url.Parse(c.FirehoseURL)
		if err != nil {
			return fmt.Errorf("invalid firehose url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("firehose url must use ws or wss, got %q", c.FirehoseURL)
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}
