package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML config at path (optional), then applies HEARTH_*
// environment overrides, then fills defaults. The returned sources string
// describes where values came from, for the startup banner.
func Load(path string) (Config, string, error) {
	var cfg Config
	sources := "defaults"
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, "", fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, "", fmt.Errorf("parse config: %w", err)
		}
		sources = path
	}
	if applyEnv(&cfg) {
		sources += "+env"
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, "", err
	}
	return cfg, sources, nil
}

func applyEnv(cfg *Config) bool {
	applied := false
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
			applied = true
		}
	}
	set(&cfg.API.BaseURL, "HEARTH_API_URL")
	set(&cfg.API.Token, "HEARTH_API_TOKEN")
	set(&cfg.API.Backend, "HEARTH_API_BACKEND")
	set(&cfg.Push.Source, "HEARTH_PUSH_SOURCE")
	set(&cfg.Push.URL, "HEARTH_PUSH_URL")
	set(&cfg.Push.Redis.Addr, "HEARTH_REDIS_ADDR")
	set(&cfg.Cache.Path, "HEARTH_CACHE_PATH")
	set(&cfg.Logging.Level, "HEARTH_LOG_LEVEL")
	set(&cfg.Metrics.Addr, "HEARTH_METRICS_ADDR")
	if v := os.Getenv("HEARTH_READ_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.ReadRetries = n
			applied = true
		}
	}
	return applied
}

func applyDefaults(cfg *Config) {
	if cfg.API.Backend == "" {
		cfg.API.Backend = "nethttp"
	}
	if cfg.API.ReadRetries == 0 {
		cfg.API.ReadRetries = 2
	}
	if cfg.Push.Source == "" {
		cfg.Push.Source = "websocket"
	}
	if cfg.Push.Redis.ChannelPrefix == "" {
		cfg.Push.Redis.ChannelPrefix = "hearth:"
	}
	if cfg.Retention.Cron == "" {
		cfg.Retention.Cron = "0 2 * * *"
	}
	if cfg.Retention.Period == 0 {
		cfg.Retention.Period = Duration(30 * 24 * 3600 * 1e9)
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9464"
	}
}

func validate(cfg Config) error {
	switch cfg.API.Backend {
	case "nethttp", "fasthttp":
	default:
		return fmt.Errorf("unknown api backend: %q", cfg.API.Backend)
	}
	switch cfg.Push.Source {
	case "websocket", "redis":
	default:
		return fmt.Errorf("unknown push source: %q", cfg.Push.Source)
	}
	if cfg.Push.Source == "redis" && cfg.Push.Redis.Addr == "" {
		return fmt.Errorf("push source redis requires redis.addr")
	}
	return nil
}
