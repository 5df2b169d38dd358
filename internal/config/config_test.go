package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splitguard.yaml")

	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.Rules.BlacklistedMerchants = []string{"Shady Casino"}
	cfg.Ensemble.SuspicionThreshold = 0.55
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.LogLevel)
	assert.Equal(t, []string{"Shady Casino"}, loaded.Rules.BlacklistedMerchants)
	assert.InDelta(t, 0.55, loaded.Ensemble.SuspicionThreshold, 1e-9)
	assert.Equal(t, cfg.Dispatch.Rules, loaded.Dispatch.Rules)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splitguard.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level": "warn"}`), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", loaded.LogLevel)
	// Everything not in the file keeps its default.
	assert.InDelta(t, 0.7, loaded.Ensemble.MLWeight, 1e-9)
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	def := DefaultConfig()
	assert.Equal(t, def.Ingest.ChannelBuffer, cfg.Ingest.ChannelBuffer)
	assert.Equal(t, def.Rules.RapidExpenseWindow, cfg.Rules.RapidExpenseWindow)
	assert.Equal(t, def.Monitoring.Window, cfg.Monitoring.Window)
	assert.Equal(t, def.Monitoring.Thresholds, cfg.Monitoring.Thresholds)
	assert.Equal(t, def.Profiles.MaxUsers, cfg.Profiles.MaxUsers)
	assert.Equal(t, def.Dispatch.RetryAttempts, cfg.Dispatch.RetryAttempts)
	assert.Len(t, cfg.Dispatch.Rules, len(def.Dispatch.Rules))
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ml weight above one", func(c *Config) { c.Ensemble.MLWeight = 1.5 }},
		{"negative rule weight", func(c *Config) { c.Ensemble.RuleWeight = -0.1 }},
		{"threshold above one", func(c *Config) { c.Ensemble.SuspicionThreshold = 1.2 }},
		{"zero monitoring window", func(c *Config) { c.Monitoring.Window = 0 }},
		{"api without addr", func(c *Config) { c.API.Addr = "" }},
		{"kafka without brokers", func(c *Config) {
			c.Ingest.Kafka.Enabled = true
			c.Ingest.Kafka.Brokers = nil
		}},
		{"dispatch rule without name", func(c *Config) { c.Dispatch.Rules[0].Name = "" }},
		{"dispatch rule without channels", func(c *Config) { c.Dispatch.Rules[0].Channels = nil }},
		{"negative cooldown", func(c *Config) { c.Dispatch.Rules[0].Cooldown = -time.Minute }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestStaticManager(t *testing.T) {
	m := NewStaticManager(nil)
	require.NotNil(t, m.Get())

	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	require.NoError(t, m.Update(cfg))
	assert.Equal(t, "debug", m.Get().LogLevel)

	bad := DefaultConfig()
	bad.Ensemble.MLWeight = 2
	assert.Error(t, m.Update(bad))
	assert.Equal(t, "debug", m.Get().LogLevel)
}

func TestManagerDetectsFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "splitguard.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	m, err := NewManager(path)
	require.NoError(t, err)

	needs, err := m.NeedsReload()
	require.NoError(t, err)
	assert.False(t, needs)

	updated := DefaultConfig()
	updated.LogLevel = "debug"
	require.NoError(t, Save(path, updated))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	needs, err = m.NeedsReload()
	require.NoError(t, err)
	assert.True(t, needs)

	cfg, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}
