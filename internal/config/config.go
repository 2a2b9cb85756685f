package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ttcal/internal/refresh"
)

// EntryConfig describes one linked TimeTree calendar and the account used to
// reach it.
type EntryConfig struct {
	// Email and Password are the TimeTree account credentials.
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"-"`

	// CalendarID is the TimeTree calendar identifier.
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
	// CalendarName is a human-friendly label captured when the entry was added.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	// ScanInterval is the poll interval in minutes. Zero selects the default.
	ScanInterval int `yaml:"scan_interval" json:"scan_interval"`
}

// Interval resolves ScanInterval into a poll interval.
func (e EntryConfig) Interval() (time.Duration, error) {
	return refresh.ResolveInterval(e.ScanInterval)
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for date-based queries
	// (e.g. "Asia/Tokyo").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format" json:"log_format"`

	// BaseURL overrides the TimeTree API root. Empty means the public API.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Entries is the list of linked calendars.
	Entries []EntryConfig `yaml:"entries" json:"entries"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Timezone:  "UTC",
		LogLevel:  "info",
		LogFormat: "text",
		Entries:   []EntryConfig{},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		c.LogFormat = "text"
	}
	if c.Entries == nil {
		c.Entries = []EntryConfig{}
	}
}

// Validate reports the first problem that would prevent the service from
// starting: an unknown timezone, an incomplete entry, a duplicated calendar
// or an out-of-range scan interval.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}

	seen := make(map[string]bool, len(c.Entries))
	for i, e := range c.Entries {
		if e.Email == "" || e.Password == "" {
			return fmt.Errorf("config: entry %d: email and password are required", i)
		}
		if e.CalendarID == "" {
			return fmt.Errorf("config: entry %d: calendar_id is required", i)
		}
		if seen[e.CalendarID] {
			return fmt.Errorf("config: entry %d: calendar %s is configured twice", i, e.CalendarID)
		}
		seen[e.CalendarID] = true
		if _, err := e.Interval(); err != nil {
			return fmt.Errorf("config: entry %d: %w", i, err)
		}
	}
	return nil
}

// Location returns the configured display timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Entry returns the entry for calendarID.
func (c *Config) Entry(calendarID string) (EntryConfig, bool) {
	for _, e := range c.Entries {
		if e.CalendarID == calendarID {
			return e, true
		}
	}
	return EntryConfig{}, false
}

// UpsertEntry adds e, or replaces the entry with the same calendar id.
func (c *Config) UpsertEntry(e EntryConfig) {
	for i := range c.Entries {
		if c.Entries[i].CalendarID == e.CalendarID {
			c.Entries[i] = e
			return
		}
	}
	c.Entries = append(c.Entries, e)
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
//   - normalize defaults
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
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file and rename. The parent
// directory is created with 0700 and the file ends up 0600, since it holds
// account passwords.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ttcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
