// Package config loads hive configuration from XDG paths, a
// project-level .hive.yaml, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunables for a hive daemon.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Context   ContextConfig   `mapstructure:"context"`
	Health    HealthConfig    `mapstructure:"health"`
	Merge     MergeConfig     `mapstructure:"merge"`
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	// ProtectedAreas lists path or topic patterns agents must not touch
	// without escalation.
	ProtectedAreas []string `mapstructure:"protected_areas"`
}

// AnthropicConfig holds planner API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// SchedulerConfig holds task scheduling settings.
type SchedulerConfig struct {
	MaxTasksPerCycle int `mapstructure:"max_tasks_per_cycle"`
}

// BrokerConfig holds message broker settings.
type BrokerConfig struct {
	HistorySize    int           `mapstructure:"history_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MemoryConfig holds memory layer settings.
type MemoryConfig struct {
	ShortTermTTL    time.Duration `mapstructure:"short_term_ttl"`
	DecayRate       float64       `mapstructure:"decay_rate"`
	PruneThreshold  float64       `mapstructure:"prune_threshold"`
	FetchMultiplier int           `mapstructure:"fetch_multiplier"`
}

// BudgetConfig holds token budget caps.
type BudgetConfig struct {
	AgentCap      int64   `mapstructure:"agent_cap"`
	ProjectCap    int64   `mapstructure:"project_cap"`
	WarnThreshold float64 `mapstructure:"warn_threshold"`
	PromptShare   float64 `mapstructure:"prompt_share"`
}

// ContextConfig holds context window validation settings.
type ContextConfig struct {
	// Reserve is the completion headroom kept out of the prompt budget.
	Reserve int `mapstructure:"reserve"`
	// ModelLimits overrides or extends the built-in model limit table.
	ModelLimits map[string]int `mapstructure:"model_limits"`
}

// HealthConfig holds heartbeat monitoring settings.
type HealthConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	StuckThreshold time.Duration `mapstructure:"stuck_threshold"`
	MaxRestarts    int           `mapstructure:"max_restarts"`
}

// MergeConfig holds worktree merge settings.
type MergeConfig struct {
	// DefaultStrategy resolves conflicts when tasks do not specify one:
	// "ours", "theirs", or "combined" (the latter behind AllowCombined).
	DefaultStrategy string `mapstructure:"default_strategy"`
	// AllowCombined opts in to the combined resolution strategy.
	AllowCombined bool `mapstructure:"allow_combined"`
}

// StoreConfig selects and configures the KV backend.
type StoreConfig struct {
	// Backend is "mem", "redis", or "sqlite".
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	SQLitePath    string `mapstructure:"sqlite_path"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration with this precedence, highest first:
// environment variables, project .hive.yaml (searched upward from the
// working directory), user config (~/.config/hive/config.yaml),
// built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("store.redis_addr", "HIVE_REDIS_ADDR")
	v.BindEnv("server.addr", "HIVE_ADDR")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from one file, for tests and the
// --config flag.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Budget.WarnThreshold < 0 || c.Budget.WarnThreshold > 1 {
		return fmt.Errorf("budget.warn_threshold %v outside [0,1]", c.Budget.WarnThreshold)
	}
	if c.Budget.PromptShare <= 0 || c.Budget.PromptShare >= 1 {
		return fmt.Errorf("budget.prompt_share %v outside (0,1)", c.Budget.PromptShare)
	}
	if c.Memory.DecayRate <= 0 || c.Memory.DecayRate >= 1 {
		return fmt.Errorf("memory.decay_rate %v outside (0,1)", c.Memory.DecayRate)
	}
	switch c.Store.Backend {
	case "mem", "redis", "sqlite":
	default:
		return fmt.Errorf("store.backend %q is not mem, redis, or sqlite", c.Store.Backend)
	}
	switch c.Merge.DefaultStrategy {
	case "ours", "theirs":
	case "combined":
		if !c.Merge.AllowCombined {
			return fmt.Errorf("merge.default_strategy combined requires merge.allow_combined")
		}
	default:
		return fmt.Errorf("merge.default_strategy %q is not ours, theirs, or combined", c.Merge.DefaultStrategy)
	}
	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("scheduler.max_tasks_per_cycle", cfg.Scheduler.MaxTasksPerCycle)
	v.Set("broker.history_size", cfg.Broker.HistorySize)
	v.Set("broker.request_timeout", cfg.Broker.RequestTimeout.String())
	v.Set("memory.short_term_ttl", cfg.Memory.ShortTermTTL.String())
	v.Set("memory.decay_rate", cfg.Memory.DecayRate)
	v.Set("memory.prune_threshold", cfg.Memory.PruneThreshold)
	v.Set("memory.fetch_multiplier", cfg.Memory.FetchMultiplier)
	v.Set("budget.agent_cap", cfg.Budget.AgentCap)
	v.Set("budget.project_cap", cfg.Budget.ProjectCap)
	v.Set("budget.warn_threshold", cfg.Budget.WarnThreshold)
	v.Set("budget.prompt_share", cfg.Budget.PromptShare)
	v.Set("context.reserve", cfg.Context.Reserve)
	v.Set("health.poll_interval", cfg.Health.PollInterval.String())
	v.Set("health.stuck_threshold", cfg.Health.StuckThreshold.String())
	v.Set("health.max_restarts", cfg.Health.MaxRestarts)
	v.Set("merge.default_strategy", cfg.Merge.DefaultStrategy)
	v.Set("merge.allow_combined", cfg.Merge.AllowCombined)
	v.Set("store.backend", cfg.Store.Backend)
	v.Set("store.redis_addr", cfg.Store.RedisAddr)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("protected_areas", cfg.ProtectedAreas)

	return v.WriteConfig()
}

// GetUserConfigPath returns the user config file path.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the project config path, empty if none
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("scheduler.max_tasks_per_cycle", 5)

	v.SetDefault("broker.history_size", 1000)
	v.SetDefault("broker.request_timeout", "30s")

	v.SetDefault("memory.short_term_ttl", "24h")
	v.SetDefault("memory.decay_rate", 0.10)
	v.SetDefault("memory.prune_threshold", 0.2)
	v.SetDefault("memory.fetch_multiplier", 3)

	v.SetDefault("budget.agent_cap", 500_000)
	v.SetDefault("budget.project_cap", 2_000_000)
	v.SetDefault("budget.warn_threshold", 0.8)
	v.SetDefault("budget.prompt_share", 0.7)

	v.SetDefault("context.reserve", 4096)

	v.SetDefault("health.poll_interval", "30s")
	v.SetDefault("health.stuck_threshold", "15m")
	v.SetDefault("health.max_restarts", 3)

	v.SetDefault("merge.default_strategy", "theirs")
	v.SetDefault("merge.allow_combined", false)

	v.SetDefault("store.backend", "mem")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.sqlite_path", "")

	v.SetDefault("server.addr", ":8080")
}

// getUserConfigDir returns the XDG config directory for hive.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hive")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hive")
	}
	return filepath.Join(home, ".config", "hive")
}

// findProjectConfig searches for .hive.yaml upward from the working
// directory.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".hive.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{MaxTasksPerCycle: 5},
		Broker: BrokerConfig{
			HistorySize:    1000,
			RequestTimeout: 30 * time.Second,
		},
		Memory: MemoryConfig{
			ShortTermTTL:    24 * time.Hour,
			DecayRate:       0.10,
			PruneThreshold:  0.2,
			FetchMultiplier: 3,
		},
		Budget: BudgetConfig{
			AgentCap:      500_000,
			ProjectCap:    2_000_000,
			WarnThreshold: 0.8,
			PromptShare:   0.7,
		},
		Context: ContextConfig{Reserve: 4096},
		Health: HealthConfig{
			PollInterval:   30 * time.Second,
			StuckThreshold: 15 * time.Minute,
			MaxRestarts:    3,
		},
		Merge: MergeConfig{DefaultStrategy: "theirs"},
		Store: StoreConfig{
			Backend:   "mem",
			RedisAddr: "localhost:6379",
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}
