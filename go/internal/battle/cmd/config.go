package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrowan14/codeclash/go/internal/battle/service"
)

type Config struct {
	Battle struct {
		SkipPenaltySeconds    int `yaml:"skip_penalty_seconds"`
		PollIntervalMs        int `yaml:"poll_interval_ms"`
		CoalesceWindowMs      int `yaml:"coalesce_window_ms"`
		ForfeitConfirmDelayMs int `yaml:"forfeit_confirm_delay_ms"`
		QueueSize             int `yaml:"queue_size"`
	} `yaml:"battle"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// tunablesFromConfig maps file settings onto the service defaults;
// zero values keep the default.
func tunablesFromConfig(config *Config) service.Tunables {
	tun := service.DefaultTunables()
	if config == nil {
		return tun
	}
	if config.Battle.SkipPenaltySeconds > 0 {
		tun.SkipPenaltySeconds = config.Battle.SkipPenaltySeconds
	}
	if config.Battle.PollIntervalMs > 0 {
		tun.PollInterval = time.Duration(config.Battle.PollIntervalMs) * time.Millisecond
	}
	if config.Battle.CoalesceWindowMs > 0 {
		tun.CoalesceWindow = time.Duration(config.Battle.CoalesceWindowMs) * time.Millisecond
	}
	if config.Battle.ForfeitConfirmDelayMs > 0 {
		tun.ForfeitConfirmDelay = time.Duration(config.Battle.ForfeitConfirmDelayMs) * time.Millisecond
	}
	if config.Battle.QueueSize > 0 {
		tun.QueueSize = config.Battle.QueueSize
	}
	return tun
}
