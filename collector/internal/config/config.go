// Package config handles collector configuration loading and validation.
//
// # Configuration Sources
//
// Configuration is loaded from (in order of precedence):
// 1. Command-line flags
// 2. Environment variables (ROUTERWATCH_*, plus OP_* for 1Password Connect)
// 3. Config file (YAML, or TOML when the file ends in .toml)
// 4. Defaults
//
// # Example Config File
//
//	database:
//	  url: postgres://routerwatch@db/routerwatch
//
//	redis:
//	  url: redis://cache:6379/0
//	  lock_ttl: 5m
//
//	vault:
//	  backend: file
//	  key_file: /etc/routerwatch/vault.key
//
//	connector:
//	  providers: [api, api-tls, ssh]
//	  max_attempts: 3
//
//	analysis:
//	  backend: auto
//	  deepseek:
//	    api_key: sk-xxx
//
//	alerting:
//	  slack:
//	    token: xoxb-xxx
//	    channel: "#noc"
//
//	scheduler:
//	  interval: 5m
//	  workers: 8
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pilot-net/routerwatch/collector/internal/alerting"
	"github.com/pilot-net/routerwatch/collector/internal/connector"
	"github.com/pilot-net/routerwatch/collector/internal/judge"
	"github.com/pilot-net/routerwatch/collector/internal/logs"
	"github.com/pilot-net/routerwatch/collector/internal/miner"
	"github.com/pilot-net/routerwatch/collector/internal/notify"
	"github.com/pilot-net/routerwatch/collector/internal/vault"
	"github.com/pilot-net/routerwatch/pkg/types"
)

// Config is the complete collector configuration.
type Config struct {
	Database  DatabaseConfig   `yaml:"database" toml:"database"`
	Redis     RedisConfig      `yaml:"redis" toml:"redis"`
	Vault     vault.KeyConfig  `yaml:"vault" toml:"vault"`
	Connector connector.Config `yaml:"connector" toml:"connector"`
	Mining    miner.Config     `yaml:"mining" toml:"mining"`
	Logs      logs.Config      `yaml:"logs" toml:"logs"`
	Analysis  judge.Config     `yaml:"analysis" toml:"analysis"`
	Alerting  AlertingConfig   `yaml:"alerting" toml:"alerting"`
	Scheduler SchedulerConfig  `yaml:"scheduler" toml:"scheduler"`
	Log       LogConfig        `yaml:"log" toml:"log"`
}

// DatabaseConfig selects the persistence backend. SQLitePath wins over URL
// when both are set.
type DatabaseConfig struct {
	URL        string `yaml:"url" toml:"url"`                 // PostgreSQL
	SQLitePath string `yaml:"sqlite_path" toml:"sqlite_path"` // standalone mode
}

// RedisConfig enables the cross-process device lock. An empty URL keeps
// locking in-process.
type RedisConfig struct {
	URL     string        `yaml:"url" toml:"url"`
	LockTTL time.Duration `yaml:"lock_ttl" toml:"lock_ttl"`
}

// AlertingConfig holds dedup windows and the notifier.
type AlertingConfig struct {
	AIDedupWindow        time.Duration      `yaml:"ai_dedup_window" toml:"ai_dedup_window"`
	HeuristicDedupWindow time.Duration      `yaml:"heuristic_dedup_window" toml:"heuristic_dedup_window"`
	Slack                notify.SlackConfig `yaml:"slack" toml:"slack"`
}

// Engine returns the alert engine settings.
func (c AlertingConfig) Engine() alerting.Config {
	return alerting.Config{
		AIDedupWindow:        c.AIDedupWindow,
		HeuristicDedupWindow: c.HeuristicDedupWindow,
	}
}

// SchedulerConfig controls fleet sweeps.
type SchedulerConfig struct {
	Interval     time.Duration `yaml:"interval" toml:"interval"`
	Workers      int           `yaml:"workers" toml:"workers"`
	CycleTimeout time.Duration `yaml:"cycle_timeout" toml:"cycle_timeout"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text or json
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	engine := alerting.DefaultConfig()
	return &Config{
		Redis: RedisConfig{
			LockTTL: 5 * time.Minute,
		},
		Vault: vault.KeyConfig{
			Backend: "auto",
		},
		Connector: connector.DefaultConfig(),
		Mining:    miner.DefaultConfig(),
		Logs:      logs.DefaultConfig(),
		Analysis:  judge.DefaultConfig(),
		Alerting: AlertingConfig{
			AIDedupWindow:        engine.AIDedupWindow,
			HeuristicDedupWindow: engine.HeuristicDedupWindow,
			Slack:                notify.SlackConfig{MinSeverity: types.SeverityMinor},
		},
		Scheduler: SchedulerConfig{
			Interval:     5 * time.Minute,
			Workers:      8,
			CycleTimeout: 2 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a config file on top of the defaults. Files ending in .toml
// are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that required configuration is present and that every
// provider and backend name is registered.
func (c *Config) Validate() error {
	if c.Database.URL == "" && c.Database.SQLitePath == "" {
		return fmt.Errorf("database.url or database.sqlite_path is required")
	}

	if len(c.Connector.Providers) == 0 {
		return fmt.Errorf("connector.providers is required")
	}
	for _, name := range c.Connector.Providers {
		if !connector.KnownProvider(name) {
			return fmt.Errorf("connector.providers: unknown provider %q (known: %v)", name, connector.ProviderNames())
		}
	}
	for name := range c.Connector.Ports {
		if !connector.KnownProvider(name) {
			return fmt.Errorf("connector.ports: unknown provider %q", name)
		}
	}
	if c.Connector.MaxAttempts < 1 {
		return fmt.Errorf("connector.max_attempts must be at least 1")
	}

	if !judge.Known(c.Analysis.Backend) {
		return fmt.Errorf("analysis.backend: unknown backend %q", c.Analysis.Backend)
	}
	for _, name := range c.Analysis.AutoOrder {
		if !judge.Known(name) || name == judge.BackendAuto {
			return fmt.Errorf("analysis.auto_order: unknown backend %q", name)
		}
	}

	if _, err := time.LoadLocation(c.Logs.DeviceTimezone); err != nil {
		return fmt.Errorf("logs.device_timezone: %w", err)
	}
	if c.Mining.LogBufferSize < 1 {
		return fmt.Errorf("mining.log_buffer_size must be positive")
	}

	if c.Alerting.Slack.MinSeverity != "" && c.Alerting.Slack.MinSeverity.Level() == 0 {
		return fmt.Errorf("alerting.slack.min_severity: unknown severity %q", c.Alerting.Slack.MinSeverity)
	}

	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1")
	}
	if c.Scheduler.Interval <= 0 || c.Scheduler.CycleTimeout <= 0 {
		return fmt.Errorf("scheduler.interval and scheduler.cycle_timeout must be positive")
	}
	if c.Redis.URL != "" && c.Redis.LockTTL <= c.Scheduler.CycleTimeout {
		return fmt.Errorf("redis.lock_ttl must exceed scheduler.cycle_timeout")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides.
// Environment variables use ROUTERWATCH_ prefix:
// - ROUTERWATCH_DATABASE_URL
// - ROUTERWATCH_SQLITE_PATH
// - ROUTERWATCH_REDIS_URL
// - ROUTERWATCH_VAULT_* and OP_CONNECT_HOST, OP_CONNECT_TOKEN, OP_VAULT_ID
// - ROUTERWATCH_PROVIDERS (comma-separated fallback order)
// - ROUTERWATCH_ANALYSIS_BACKEND
// - ROUTERWATCH_DEEPSEEK_API_KEY, ROUTERWATCH_OPENAI_API_KEY, ROUTERWATCH_GEMINI_API_KEY
// - ROUTERWATCH_SLACK_TOKEN, ROUTERWATCH_SLACK_CHANNEL
// - ROUTERWATCH_DEVICE_TIMEZONE
// - ROUTERWATCH_WORKERS
// - ROUTERWATCH_LOG_LEVEL, ROUTERWATCH_LOG_FORMAT
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ROUTERWATCH_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("ROUTERWATCH_SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("ROUTERWATCH_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}

	c.Vault = vault.KeyConfigFromEnv(c.Vault)

	if v := os.Getenv("ROUTERWATCH_PROVIDERS"); v != "" {
		var providers []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				providers = append(providers, p)
			}
		}
		c.Connector.Providers = providers
	}

	if v := os.Getenv("ROUTERWATCH_ANALYSIS_BACKEND"); v != "" {
		c.Analysis.Backend = v
	}
	if v := os.Getenv("ROUTERWATCH_DEEPSEEK_API_KEY"); v != "" {
		c.Analysis.DeepSeek.APIKey = v
	}
	if v := os.Getenv("ROUTERWATCH_OPENAI_API_KEY"); v != "" {
		c.Analysis.OpenAI.APIKey = v
	}
	if v := os.Getenv("ROUTERWATCH_GEMINI_API_KEY"); v != "" {
		c.Analysis.Gemini.APIKey = v
	}

	if v := os.Getenv("ROUTERWATCH_SLACK_TOKEN"); v != "" {
		c.Alerting.Slack.Token = v
	}
	if v := os.Getenv("ROUTERWATCH_SLACK_CHANNEL"); v != "" {
		c.Alerting.Slack.Channel = v
	}

	if v := os.Getenv("ROUTERWATCH_DEVICE_TIMEZONE"); v != "" {
		c.Logs.DeviceTimezone = v
	}
	if v := os.Getenv("ROUTERWATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.Workers = n
		}
	}

	if v := os.Getenv("ROUTERWATCH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ROUTERWATCH_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}
