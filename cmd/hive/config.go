package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify hive configuration.

Without arguments, displays the resolved configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config.

Configuration is stored at ~/.config/hive/config.yaml
Project-specific overrides can be placed in .hive.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints the resolved configuration.
func displayAllConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", displayOrDefault(cfg.Anthropic.Model))
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("scheduler.max_tasks_per_cycle: %d\n", cfg.Scheduler.MaxTasksPerCycle)
	fmt.Printf("broker.history_size: %d\n", cfg.Broker.HistorySize)
	fmt.Printf("broker.request_timeout: %s\n", cfg.Broker.RequestTimeout)
	fmt.Printf("memory.short_term_ttl: %s\n", cfg.Memory.ShortTermTTL)
	fmt.Printf("memory.decay_rate: %g\n", cfg.Memory.DecayRate)
	fmt.Printf("memory.prune_threshold: %g\n", cfg.Memory.PruneThreshold)
	fmt.Printf("budget.agent_cap: %d\n", cfg.Budget.AgentCap)
	fmt.Printf("budget.project_cap: %d\n", cfg.Budget.ProjectCap)
	fmt.Printf("budget.warn_threshold: %g\n", cfg.Budget.WarnThreshold)
	fmt.Printf("context.reserve: %d\n", cfg.Context.Reserve)
	fmt.Printf("health.poll_interval: %s\n", cfg.Health.PollInterval)
	fmt.Printf("health.stuck_threshold: %s\n", cfg.Health.StuckThreshold)
	fmt.Printf("health.max_restarts: %d\n", cfg.Health.MaxRestarts)
	fmt.Printf("merge.default_strategy: %s\n", cfg.Merge.DefaultStrategy)
	fmt.Printf("merge.allow_combined: %t\n", cfg.Merge.AllowCombined)
	fmt.Printf("store.backend: %s\n", cfg.Store.Backend)
	fmt.Printf("store.redis_addr: %s\n", cfg.Store.RedisAddr)
	fmt.Printf("server.addr: %s\n", cfg.Server.Addr)

	fmt.Println()
	fmt.Printf("User config: %s\n", config.GetUserConfigPath())
	if project := config.GetProjectConfigPath(); project != "" {
		fmt.Printf("Project config: %s\n", project)
	}
}

func displayOrDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the user config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "anthropic.model":
		return displayOrDefault(cfg.Anthropic.Model), nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "scheduler.max_tasks_per_cycle":
		return strconv.Itoa(cfg.Scheduler.MaxTasksPerCycle), nil
	case "broker.history_size":
		return strconv.Itoa(cfg.Broker.HistorySize), nil
	case "broker.request_timeout":
		return cfg.Broker.RequestTimeout.String(), nil
	case "memory.short_term_ttl":
		return cfg.Memory.ShortTermTTL.String(), nil
	case "memory.decay_rate":
		return strconv.FormatFloat(cfg.Memory.DecayRate, 'g', -1, 64), nil
	case "budget.agent_cap":
		return strconv.FormatInt(cfg.Budget.AgentCap, 10), nil
	case "budget.project_cap":
		return strconv.FormatInt(cfg.Budget.ProjectCap, 10), nil
	case "budget.warn_threshold":
		return strconv.FormatFloat(cfg.Budget.WarnThreshold, 'g', -1, 64), nil
	case "context.reserve":
		return strconv.Itoa(cfg.Context.Reserve), nil
	case "health.poll_interval":
		return cfg.Health.PollInterval.String(), nil
	case "health.stuck_threshold":
		return cfg.Health.StuckThreshold.String(), nil
	case "health.max_restarts":
		return strconv.Itoa(cfg.Health.MaxRestarts), nil
	case "merge.default_strategy":
		return cfg.Merge.DefaultStrategy, nil
	case "merge.allow_combined":
		return strconv.FormatBool(cfg.Merge.AllowCombined), nil
	case "store.backend":
		return cfg.Store.Backend, nil
	case "store.redis_addr":
		return cfg.Store.RedisAddr, nil
	case "server.addr":
		return cfg.Server.Addr, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for use_bedrock: %w", err)
		}
		cfg.Anthropic.UseBedrock = b
	case "scheduler.max_tasks_per_cycle":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_tasks_per_cycle: %w", err)
		}
		cfg.Scheduler.MaxTasksPerCycle = n
	case "broker.history_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for history_size: %w", err)
		}
		cfg.Broker.HistorySize = n
	case "broker.request_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for request_timeout: %w", err)
		}
		cfg.Broker.RequestTimeout = d
	case "memory.short_term_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for short_term_ttl: %w", err)
		}
		cfg.Memory.ShortTermTTL = d
	case "memory.decay_rate":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for decay_rate: %w", err)
		}
		cfg.Memory.DecayRate = f
	case "budget.agent_cap":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for agent_cap: %w", err)
		}
		cfg.Budget.AgentCap = n
	case "budget.project_cap":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for project_cap: %w", err)
		}
		cfg.Budget.ProjectCap = n
	case "budget.warn_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for warn_threshold: %w", err)
		}
		cfg.Budget.WarnThreshold = f
	case "context.reserve":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for reserve: %w", err)
		}
		cfg.Context.Reserve = n
	case "health.poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for poll_interval: %w", err)
		}
		cfg.Health.PollInterval = d
	case "health.stuck_threshold":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for stuck_threshold: %w", err)
		}
		cfg.Health.StuckThreshold = d
	case "health.max_restarts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_restarts: %w", err)
		}
		cfg.Health.MaxRestarts = n
	case "merge.default_strategy":
		cfg.Merge.DefaultStrategy = value
	case "merge.allow_combined":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for allow_combined: %w", err)
		}
		cfg.Merge.AllowCombined = b
	case "store.backend":
		cfg.Store.Backend = value
	case "store.redis_addr":
		cfg.Store.RedisAddr = value
	case "server.addr":
		cfg.Server.Addr = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
