// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file > defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

// Relay transports.
const (
	RelayExec    = "exec"
	RelayTrapper = "trapper"
	RelayHistory = "history"
)

// Observation inputs.
const (
	InputStdin = "stdin"
	InputNATS  = "nats"
	InputNone  = "none"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all bridge configuration.
type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Encoding EncodingConfig `yaml:"encoding"`
	Batch    BatchConfig    `yaml:"batch"`
	Retry    RetryConfig    `yaml:"retry"`
	Input    InputConfig    `yaml:"input"`
	Station  StationConfig  `yaml:"station"`
	Spool    SpoolConfig    `yaml:"spool"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RelayConfig selects and configures the delivery transport.
type RelayConfig struct {
	// Type is exec, trapper or history.
	Type string `yaml:"type"`
	// Target is the zabbix_sender path (exec), the trapper host[:port]
	// (trapper) or the frontend base URL (history).
	Target string `yaml:"relay_target"`
	// Server and Port are passed to zabbix_sender as -z and -p.
	Server string `yaml:"server"`
	Port   int    `yaml:"port"`
	// Config is the agent configuration file passed as -c.
	Config         string   `yaml:"config"`
	APIToken       string   `yaml:"api_token"`
	Timeout        Duration `yaml:"timeout"`
	Compress       bool     `yaml:"compress"`
	SendTimestamps bool     `yaml:"send_timestamps"`
}

// EncodingConfig controls how observations become samples.
type EncodingConfig struct {
	Prefix     string            `yaml:"prefix"`
	// SourceHost is the Zabbix host of every sample. When empty, the
	// observation's source (input.source or station.source) is used.
	SourceHost string            `yaml:"source_host"`
	Rules      map[string]string `yaml:"rules"`
	Exclude    []string          `yaml:"exclude"`
}

// BatchConfig bounds the batch buffer and the sealed-batch queue.
type BatchConfig struct {
	MaxBatchSize       int      `yaml:"max_batch_size"`
	MaxBatchAgeSeconds int      `yaml:"max_batch_age_seconds"`
	MaxBufferedSamples int      `yaml:"max_buffered_samples"`
	QueueSize          int      `yaml:"queue_size"`
	FlushInterval      Duration `yaml:"flush_interval"`
}

// RetryConfig controls redelivery and backoff.
type RetryConfig struct {
	MaxRetryCount          int     `yaml:"max_retry_count"`
	BackoffBaseSeconds     float64 `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds      float64 `yaml:"backoff_max_seconds"`
	MaxDeliveriesPerSecond float64 `yaml:"max_deliveries_per_second"`
}

// InputConfig selects where observations come from.
type InputConfig struct {
	Mode    string `yaml:"mode"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
	// Binding is loop or archive, the weewx event the packets come from.
	Binding string `yaml:"binding"`
	Source  string `yaml:"source"`
}

// StationConfig enables the station host self-health observation.
type StationConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	Source   string   `yaml:"source"`
}

// SpoolConfig holds the on-disk spool for samples undelivered at shutdown.
type SpoolConfig struct {
	Dir       string `yaml:"dir"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration. Relay defaults match the
// weewx zbxsender service.
func DefaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			Type:    RelayExec,
			Target:  "/usr/bin/zabbix_sender",
			Server:  "127.0.0.1",
			Config:  "/etc/zabbix/zabbix_agentd.conf",
			Timeout: Duration{10 * time.Second},
		},
		Encoding: EncodingConfig{
			Prefix:     "weewx_",
			SourceHost: "weewx-host",
			Rules: map[string]string{
				"windDir":     "compass-ordinal",
				"windGustDir": "compass-ordinal",
			},
		},
		Batch: BatchConfig{
			MaxBatchSize:       50,
			MaxBatchAgeSeconds: 30,
			MaxBufferedSamples: 5000,
			QueueSize:          4,
			FlushInterval:      Duration{5 * time.Second},
		},
		Retry: RetryConfig{
			MaxRetryCount:      5,
			BackoffBaseSeconds: 1,
			BackoffMaxSeconds:  60,
		},
		Input: InputConfig{
			Mode:    InputStdin,
			Subject: "weewx",
			Binding: "loop",
			Source:  "weewx",
		},
		Station: StationConfig{
			Enabled:  false,
			Interval: Duration{time.Minute},
			Source:   "station",
		},
		Spool: SpoolConfig{
			Dir:       "",
			MaxSizeMB: 50,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromBytes parses YAML configuration from a byte slice and merges with defaults.
// Environment variables take highest precedence and override values from the byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &models.ConfigError{Err: fmt.Errorf("parsing config data: %w", err)}
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Load reads configuration from a YAML file and merges with defaults.
// If path is empty or the file does not exist, only defaults and environment
// variables are used.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, &models.ConfigError{Err: fmt.Errorf("reading config file: %w", err)}
		}
		return LoadFromBytes(nil)
	}

	return LoadFromBytes(data)
}

// CLIOverrides holds values from command-line flags.
// Empty strings are treated as "not set" and skipped.
type CLIOverrides struct {
	RelayType   string
	RelayTarget string
	SourceHost  string
	LogLevel    string
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > YAML file > defaults.
//
// An empty configPath auto-discovers the file via Locate.
func LoadLayered(cli CLIOverrides, configPath string) (*Config, error) {
	if configPath == "" {
		configPath = Locate()
	}
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}

	if cli.RelayType != "" {
		cfg.Relay.Type = cli.RelayType
	}
	if cli.RelayTarget != "" {
		cfg.Relay.Target = cli.RelayTarget
	}
	if cli.SourceHost != "" {
		cfg.Encoding.SourceHost = cli.SourceHost
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}

	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZBX_RELAY_TARGET"); v != "" {
		cfg.Relay.Target = v
	}
	if v := os.Getenv("ZBX_SERVER"); v != "" {
		cfg.Relay.Server = v
	}
	if v := os.Getenv("ZBX_API_TOKEN"); v != "" {
		cfg.Relay.APIToken = v
	}
	if v := os.Getenv("ZBX_SOURCE_HOST"); v != "" {
		cfg.Encoding.SourceHost = v
	}
	if v := os.Getenv("ZBX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// MaxBatchAge returns the batch age limit as a duration.
func (c *Config) MaxBatchAge() time.Duration {
	return time.Duration(c.Batch.MaxBatchAgeSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Retry.BackoffBaseSeconds * float64(time.Second))
}

// BackoffMax returns the retry delay cap.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Retry.BackoffMaxSeconds * float64(time.Second))
}

// Validate checks the static configuration. Every failure is a
// *models.ConfigError naming the offending option. Reachability of the
// relay is checked separately by the delivery client.
func (c *Config) Validate() error {
	fail := func(field string, format string, args ...any) error {
		return &models.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
	}

	switch c.Relay.Type {
	case RelayExec, RelayTrapper, RelayHistory:
	default:
		return fail("relay.type", "must be %s, %s or %s (got %q)", RelayExec, RelayTrapper, RelayHistory, c.Relay.Type)
	}
	if c.Relay.Target == "" {
		return fail("relay.relay_target", "is required")
	}
	if c.Relay.Type == RelayHistory {
		if u, err := url.Parse(c.Relay.Target); err != nil || u.Host == "" {
			return fail("relay.relay_target", "must be the frontend URL for the history relay (got %q)", c.Relay.Target)
		}
		if c.Relay.APIToken == "" {
			return fail("relay.api_token", "is required for the history relay")
		}
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fail("relay.port", "out of range: %d", c.Relay.Port)
	}
	if c.Relay.Timeout.Duration <= 0 {
		return fail("relay.timeout", "must be positive")
	}

	// An empty source_host labels samples with the observation's source.
	if c.Encoding.SourceHost == "" {
		if c.Input.Mode != InputNone && c.Input.Source == "" {
			return fail("input.source", "is required when encoding.source_host is empty")
		}
		if c.Station.Enabled && c.Station.Source == "" {
			return fail("station.source", "is required when encoding.source_host is empty")
		}
	}
	for name, rule := range c.Encoding.Rules {
		switch rule {
		case "raw-number", "compass-ordinal", "string-passthrough", "exclude":
		default:
			return fail("encoding.rules."+name, "unknown rendering rule %q", rule)
		}
	}

	if c.Batch.MaxBatchSize <= 0 {
		return fail("batch.max_batch_size", "must be positive")
	}
	if c.Batch.MaxBatchAgeSeconds < 0 {
		return fail("batch.max_batch_age_seconds", "must not be negative")
	}
	if c.Batch.MaxBufferedSamples != 0 && c.Batch.MaxBufferedSamples < c.Batch.MaxBatchSize {
		return fail("batch.max_buffered_samples", "must be 0 or at least max_batch_size")
	}
	if c.Batch.QueueSize <= 0 {
		return fail("batch.queue_size", "must be positive")
	}
	if c.Batch.FlushInterval.Duration <= 0 {
		return fail("batch.flush_interval", "must be positive")
	}

	if c.Retry.MaxRetryCount <= 0 {
		return fail("retry.max_retry_count", "must be positive")
	}
	if c.Retry.BackoffBaseSeconds <= 0 {
		return fail("retry.backoff_base_seconds", "must be positive")
	}
	if c.Retry.BackoffMaxSeconds < c.Retry.BackoffBaseSeconds {
		return fail("retry.backoff_max_seconds", "must be at least backoff_base_seconds")
	}
	if c.Retry.MaxDeliveriesPerSecond < 0 {
		return fail("retry.max_deliveries_per_second", "must not be negative")
	}

	switch c.Input.Mode {
	case InputStdin, InputNone:
	case InputNATS:
		if c.Input.NATSURL == "" {
			return fail("input.nats_url", "is required for nats input")
		}
		if c.Input.Subject == "" {
			return fail("input.subject", "is required for nats input")
		}
	default:
		return fail("input.mode", "must be %s, %s or %s (got %q)", InputStdin, InputNATS, InputNone, c.Input.Mode)
	}
	switch c.Input.Binding {
	case "loop", "archive":
	default:
		return fail("input.binding", "must be loop or archive (got %q)", c.Input.Binding)
	}

	if c.Station.Enabled && c.Station.Interval.Duration <= 0 {
		return fail("station.interval", "must be positive")
	}

	if c.Logging.Level != "" {
		switch c.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			return fail("logging.level", "unknown level %q", c.Logging.Level)
		}
	}
	return nil
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var cfgErr *models.ConfigError
	return errors.As(err, &cfgErr)
}
