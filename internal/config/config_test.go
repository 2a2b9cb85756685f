package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Timezone = "Asia/Tokyo"
	cfg.UpsertEntry(EntryConfig{Email: "a@example.com", Password: "pw", CalendarID: "c1", CalendarName: "Family", ScanInterval: 15})
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
	require.NoError(t, got.Validate())
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_format: xml\nentries:\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.NotNil(t, cfg.Entries)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entries: [\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := EntryConfig{Email: "a@example.com", Password: "pw", CalendarID: "c1"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(c *Config) { c.Entries = []EntryConfig{valid} }, false},
		{"default interval", func(c *Config) {
			e := valid
			e.ScanInterval = 0
			c.Entries = []EntryConfig{e}
		}, false},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, true},
		{"missing password", func(c *Config) {
			e := valid
			e.Password = ""
			c.Entries = []EntryConfig{e}
		}, true},
		{"missing calendar", func(c *Config) {
			e := valid
			e.CalendarID = ""
			c.Entries = []EntryConfig{e}
		}, true},
		{"duplicate calendar", func(c *Config) { c.Entries = []EntryConfig{valid, valid} }, true},
		{"interval too short", func(c *Config) {
			e := valid
			e.ScanInterval = 4
			c.Entries = []EntryConfig{e}
		}, true},
		{"interval too long", func(c *Config) {
			e := valid
			e.ScanInterval = 121
			c.Entries = []EntryConfig{e}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpsertAndLookupEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpsertEntry(EntryConfig{CalendarID: "c1", ScanInterval: 10})
	cfg.UpsertEntry(EntryConfig{CalendarID: "c2"})
	cfg.UpsertEntry(EntryConfig{CalendarID: "c1", ScanInterval: 30})

	require.Len(t, cfg.Entries, 2)
	e, ok := cfg.Entry("c1")
	require.True(t, ok)
	assert.Equal(t, 30, e.ScanInterval)

	_, ok = cfg.Entry("missing")
	assert.False(t, ok)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Nowhere/Land"
	assert.Equal(t, "UTC", cfg.Location().String())
}
