package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "localcal/internal/log"
)

// DefaultPath is where the service looks for its configuration.
const DefaultPath = "/etc/localcal/config.yaml"

const (
	defaultListen        = "127.0.0.1:8080"
	defaultTimezone      = "UTC"
	defaultCalendarName  = "personal"
	defaultStorageDir    = "/var/lib/localcal"
	defaultStatusRefresh = "* * * * *"
)

// StorageConfig selects where the calendar document lives.
type StorageConfig struct {
	// Backend is "file" (default), "sqlite" or "memory".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the ICS file or the SQLite database. Empty derives it from
	// the calendar name.
	Path string `yaml:"path" json:"path"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API. The
// password is stored as an Argon2id hash (see `localcal hash-password`).
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone floating times and all-day dates are
	// interpreted in, and the default display zone (e.g. "America/Regina").
	Timezone string `yaml:"timezone" json:"timezone"`

	// CalendarName names the calendar; it keys the SQLite row and the
	// default file name.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	Storage StorageConfig `yaml:"storage" json:"storage"`

	// StatusRefresh is a cron-style schedule string (e.g. "*/5 * * * *")
	// for recomputing the active/upcoming status.
	StatusRefresh string `yaml:"status_refresh" json:"status_refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.CalendarName == "" {
		c.CalendarName = defaultCalendarName
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "file"
	}
	if c.Storage.Path == "" {
		switch c.Storage.Backend {
		case "sqlite":
			c.Storage.Path = filepath.Join(defaultStorageDir, "localcal.db")
		case "file":
			c.Storage.Path = filepath.Join(defaultStorageDir, c.CalendarName+".ics")
		}
	}
	if c.StatusRefresh == "" {
		c.StatusRefresh = defaultStatusRefresh
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.PasswordHash == "" {
		c.BasicAuth = nil
	}
}

// Validate reports values that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	switch c.Storage.Backend {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want file, sqlite or memory", c.Storage.Backend))
	}
	if _, err := cron.ParseStandard(c.StatusRefresh); err != nil {
		errs = append(errs, fmt.Errorf("status_refresh %q: %w", c.StatusRefresh, err))
	}
	if !appLog.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel))
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.PasswordHash == "") {
		errs = append(errs, errors.New("basic_auth needs both username and password_hash"))
	}
	return errors.Join(errs...)
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			appLog.Info("config: wrote default configuration", "path", path)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the configuration atomically with 0600 permissions, creating
// the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
