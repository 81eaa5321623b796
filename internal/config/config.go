// Package config loads the daemon configuration from a YAML file with
// environment-variable overrides for the paths and endpoints that differ
// between deployments.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liapostsk/aeghis-sync/internal/service"
)

// Duration wraps time.Duration so YAML values written as "5s" or "2m"
// parse; yaml.v3 only handles bare integers for int64-kinded fields.
type Duration time.Duration

// UnmarshalYAML parses the scalar with time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the daemon configuration.
type Config struct {
	// ListenAddr is the HTTP listen address for health, metrics and the
	// read-only snapshot API.
	ListenAddr string `yaml:"listen_addr"`

	// DBPath locates the embedded live-store database file.
	DBPath string `yaml:"db_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Groups lists the chat groups whose journeys the daemon reconciles.
	Groups []string `yaml:"groups"`

	Backend   Backend   `yaml:"backend"`
	Reconcile Reconcile `yaml:"reconcile"`
	Tracker   Tracker   `yaml:"tracker"`
}

// Backend configures the authoritative REST backend.
type Backend struct {
	// BaseURL is the API root.
	BaseURL string `yaml:"base_url"`

	// Token is the session bearer token (JWT). Usually supplied via the
	// AEGHIS_SESSION_TOKEN environment variable rather than the file.
	Token string `yaml:"token"`

	// Timeout bounds every backend round trip.
	Timeout Duration `yaml:"timeout"`
}

// Reconcile configures the divergence resolution.
type Reconcile struct {
	// Policy is the tie-break direction: live-wins or backend-wins.
	Policy service.Policy `yaml:"policy"`

	// FetchTimeout bounds the backend fetch inside a pass.
	FetchTimeout Duration `yaml:"fetch_timeout"`
}

// Tracker configures the position retention defaults.
type Tracker struct {
	// Interval between position samples.
	Interval Duration `yaml:"interval"`

	// Retention is the per-participant trail length kept by pruning.
	Retention int `yaml:"retention"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		DBPath:     "./data/live.db",
		LogLevel:   "info",
		Backend: Backend{
			Timeout: Duration(10 * time.Second),
		},
		Reconcile: Reconcile{
			Policy:       service.PolicyLiveWins,
			FetchTimeout: Duration(service.DefaultFetchTimeout),
		},
		Tracker: Tracker{
			Interval:  Duration(15 * time.Second),
			Retention: 100,
		},
	}
}

// Load reads the configuration file at path (optional — an empty path
// keeps the defaults), applies environment overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("AEGHIS_LISTEN_ADDR", c.ListenAddr)
	c.DBPath = getEnv("AEGHIS_DB_PATH", c.DBPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Backend.BaseURL = getEnv("AEGHIS_BACKEND_URL", c.Backend.BaseURL)
	c.Backend.Token = getEnv("AEGHIS_SESSION_TOKEN", c.Backend.Token)
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if !c.Reconcile.Policy.Valid() {
		return fmt.Errorf("invalid reconcile policy %q (want live-wins or backend-wins)", c.Reconcile.Policy)
	}
	if c.Reconcile.FetchTimeout <= 0 {
		return fmt.Errorf("reconcile fetch_timeout must be positive")
	}
	if c.Tracker.Interval <= 0 {
		return fmt.Errorf("tracker interval must be positive")
	}
	if c.Tracker.Retention < 0 {
		return fmt.Errorf("tracker retention must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
