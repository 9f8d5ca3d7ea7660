package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Providers    map[string]ProviderConfig `yaml:"providers"`
	Store        StoreConfig               `yaml:"store"`
	Server       ServerConfig              `yaml:"server"`
	Stream       StreamConfig              `yaml:"stream"`
	Orchestrator OrchestratorConfig        `yaml:"orchestrator"`
	Retention    RetentionConfig           `yaml:"retention"`
}

type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	API     string `yaml:"api"`
	Model   string `yaml:"model"`
}

type StoreConfig struct {
	Driver  string `yaml:"driver"`   // "sqlite" (default) or "postgres"
	DataDir string `yaml:"data_dir"` // sqlite only
	DSN     string `yaml:"dsn"`      // postgres only
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StreamConfig controls cross-instance event fan-out. When redis_addr is
// unset, events are delivered to in-process subscribers only.
type StreamConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type OrchestratorConfig struct {
	Provider     string        `yaml:"provider"`      // key into providers; defaults to the sole entry
	HistoryLimit int           `yaml:"history_limit"` // conversation turns fed to prompts
	StepTimeout  time.Duration `yaml:"step_timeout"`
	MaxPlanSteps int           `yaml:"max_plan_steps"`
}

type RetentionConfig struct {
	Schedule string `yaml:"schedule"` // cron spec; empty disables retention
	MaxDays  int    `yaml:"max_days"`
}

const (
	DefaultHistoryLimit = 10
	DefaultStepTimeout  = 60 * time.Second
	DefaultMaxPlanSteps = 8
)

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvValues(cfg *Config) {
	for name, p := range cfg.Providers {
		p.BaseURL = expandEnv(p.BaseURL)
		p.APIKey = expandEnv(p.APIKey)
		cfg.Providers[name] = p
	}
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
	cfg.Stream.RedisAddr = expandEnv(cfg.Stream.RedisAddr)
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Orchestrator.HistoryLimit <= 0 {
		cfg.Orchestrator.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Orchestrator.StepTimeout <= 0 {
		cfg.Orchestrator.StepTimeout = DefaultStepTimeout
	}
	if cfg.Orchestrator.MaxPlanSteps <= 0 {
		cfg.Orchestrator.MaxPlanSteps = DefaultMaxPlanSteps
	}
	if cfg.Stream.ChannelPrefix == "" {
		cfg.Stream.ChannelPrefix = "profiler:events:"
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvValues(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown store driver %q (supported: sqlite, postgres)", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn is required for the postgres driver")
	}
	if cfg.Orchestrator.Provider != "" {
		if _, ok := cfg.Providers[cfg.Orchestrator.Provider]; !ok {
			return fmt.Errorf("config: orchestrator.provider %q not found in providers", cfg.Orchestrator.Provider)
		}
	}
	return nil
}

// OrchestratorProvider returns the provider entry the engine should use: the
// configured one, or the sole entry when exactly one provider is defined.
func (c *Config) OrchestratorProvider() (string, ProviderConfig, error) {
	if c.Orchestrator.Provider != "" {
		return c.Orchestrator.Provider, c.Providers[c.Orchestrator.Provider], nil
	}
	if len(c.Providers) == 1 {
		for name, p := range c.Providers {
			return name, p, nil
		}
	}
	return "", ProviderConfig{}, fmt.Errorf("config: orchestrator.provider must be set when %d providers are defined", len(c.Providers))
}
