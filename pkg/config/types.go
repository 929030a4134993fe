package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct for the sync daemon.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Push      PushConfig      `yaml:"push"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// APIConfig holds the request/response transport settings.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	// Backend selects the HTTP client adapter: "nethttp" (default) or "fasthttp".
	Backend     string `yaml:"backend"`
	ReadRetries int    `yaml:"read_retries"`
}

// PushConfig holds the push-event transport settings.
type PushConfig struct {
	// Source selects the event source: "websocket" (default) or "redis".
	Source string      `yaml:"source"`
	URL    string      `yaml:"url"`
	Redis  RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr          string `yaml:"addr"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// CacheConfig holds the entity cache settings. An empty path keeps the
// cache in memory for the process lifetime.
type CacheConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RetentionConfig configures the tombstone sweeper.
type RetentionConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Cron      string   `yaml:"cron"`
	Period    Duration `yaml:"period"`
	BatchSize int      `yaml:"batch_size"`
	DryRun    bool     `yaml:"dry_run"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a wrapper around time.Duration that supports YAML parsing
// from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
