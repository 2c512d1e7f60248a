package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchWeewxService(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, RelayExec, cfg.Relay.Type)
	assert.Equal(t, "/usr/bin/zabbix_sender", cfg.Relay.Target)
	assert.Equal(t, "127.0.0.1", cfg.Relay.Server)
	assert.Equal(t, "/etc/zabbix/zabbix_agentd.conf", cfg.Relay.Config)
	assert.Equal(t, "weewx_", cfg.Encoding.Prefix)
	assert.Equal(t, "weewx-host", cfg.Encoding.SourceHost)
	assert.Equal(t, 50, cfg.Batch.MaxBatchSize)
	assert.Equal(t, 30*time.Second, cfg.MaxBatchAge())
	assert.Equal(t, 5, cfg.Retry.MaxRetryCount)
	assert.Equal(t, time.Second, cfg.BackoffBase())
	assert.Equal(t, time.Minute, cfg.BackoffMax())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromBytesMergesDefaults(t *testing.T) {
	data := []byte(`
relay:
  type: trapper
  relay_target: zabbix.example.com:10051
  timeout: 3s
  compress: true
encoding:
  prefix: wx.
  rules:
    barometer: raw-number
batch:
  max_batch_size: 10
retry:
  backoff_base_seconds: 0.5
`)
	cfg, err := LoadFromBytes(data)
	require.NoError(t, err)

	assert.Equal(t, RelayTrapper, cfg.Relay.Type)
	assert.Equal(t, "zabbix.example.com:10051", cfg.Relay.Target)
	assert.Equal(t, 3*time.Second, cfg.Relay.Timeout.Duration)
	assert.True(t, cfg.Relay.Compress)
	assert.Equal(t, "wx.", cfg.Encoding.Prefix)
	assert.Equal(t, "weewx-host", cfg.Encoding.SourceHost)
	assert.Equal(t, "raw-number", cfg.Encoding.Rules["barometer"])
	assert.Equal(t, "compass-ordinal", cfg.Encoding.Rules["windDir"], "default rules merge with configured ones")
	assert.Equal(t, 10, cfg.Batch.MaxBatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffBase())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromBytesRejectsBadDuration(t *testing.T) {
	_, err := LoadFromBytes([]byte("relay:\n  timeout: soon\n"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "weewx_", cfg.Encoding.Prefix)
}

func TestLoadLayered_CLIOverridesEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("encoding:\n  source_host: file-host\n"), 0640))
	t.Setenv("ZBX_SOURCE_HOST", "env-host")

	cfg, err := LoadLayered(CLIOverrides{SourceHost: "cli-host"}, path)
	require.NoError(t, err)
	assert.Equal(t, "cli-host", cfg.Encoding.SourceHost)
}

func TestLoadLayered_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("encoding:\n  source_host: file-host\nrelay:\n  server: 10.0.0.1\n"), 0640))
	t.Setenv("ZBX_SOURCE_HOST", "env-host")

	cfg, err := LoadLayered(CLIOverrides{}, path)
	require.NoError(t, err)
	assert.Equal(t, "env-host", cfg.Encoding.SourceHost)
	assert.Equal(t, "10.0.0.1", cfg.Relay.Server)
}

func TestWriteConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Relay.Target = "/opt/zabbix/bin/zabbix_sender"

	require.NoError(t, WriteConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Relay, loaded.Relay)
	assert.Equal(t, cfg.Batch, loaded.Batch)
}

func TestValidateAllowsEmptySourceHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encoding.SourceHost = ""
	cfg.Station.Enabled = true
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown relay", func(c *Config) { c.Relay.Type = "smtp" }, "relay.type"},
		{"missing target", func(c *Config) { c.Relay.Target = "" }, "relay.relay_target"},
		{"history without token", func(c *Config) {
			c.Relay.Type = RelayHistory
			c.Relay.Target = "https://zabbix.example.com"
		}, "relay.api_token"},
		{"history with path target", func(c *Config) {
			c.Relay.Type = RelayHistory
			c.Relay.APIToken = "t"
		}, "relay.relay_target"},
		{"zero timeout", func(c *Config) { c.Relay.Timeout = Duration{} }, "relay.timeout"},
		{"empty host and input source", func(c *Config) {
			c.Encoding.SourceHost = ""
			c.Input.Source = ""
		}, "input.source"},
		{"empty host and station source", func(c *Config) {
			c.Encoding.SourceHost = ""
			c.Station.Enabled = true
			c.Station.Source = ""
		}, "station.source"},
		{"bad rule", func(c *Config) { c.Encoding.Rules["outTemp"] = "celsius" }, "encoding.rules.outTemp"},
		{"zero batch", func(c *Config) { c.Batch.MaxBatchSize = 0 }, "batch.max_batch_size"},
		{"small cap", func(c *Config) { c.Batch.MaxBufferedSamples = 10 }, "batch.max_buffered_samples"},
		{"zero retries", func(c *Config) { c.Retry.MaxRetryCount = 0 }, "retry.max_retry_count"},
		{"max below base", func(c *Config) { c.Retry.BackoffMaxSeconds = 0.5 }, "retry.backoff_max_seconds"},
		{"nats without url", func(c *Config) { c.Input.Mode = InputNATS }, "input.nats_url"},
		{"bad binding", func(c *Config) { c.Input.Binding = "hourly" }, "input.binding"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
