package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultConfigPath  = "/etc/portproxy/portproxy.yaml"
	DefaultFilterRules = "/etc/portproxy/iptables.filter.rules"
	DefaultNatRules    = "/etc/portproxy/iptables.nat.rules"
	DefaultLockFile    = "/var/lock/portproxy.lock"

	envPrefix = "PORTPROXY"
)

// Config represents the top-level configuration structure.
type Config struct {
	Global      GlobalConfig `yaml:"global"       mapstructure:"global"`
	Interface   string       `yaml:"interface"    mapstructure:"interface"`
	HostAddress string       `yaml:"host_address" mapstructure:"host_address"`
	Rules       RulesConfig  `yaml:"rules"        mapstructure:"rules"`
	LockFile    string       `yaml:"lock_file"    mapstructure:"lock_file"`
}

// GlobalConfig holds global settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// RulesConfig locates the persisted rule files replayed at boot.
type RulesConfig struct {
	Filter string `yaml:"filter" mapstructure:"filter"`
	Nat    string `yaml:"nat"    mapstructure:"nat"`
}

// validLogLevels is the set of supported log levels.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from configPath, the environment and defaults.
// When required is false a missing file is not an error.
func Load(configPath string, required bool) (*Config, error) {
	viperInstance := viper.New()
	viperInstance.SetConfigFile(configPath)
	viperInstance.SetConfigType("yaml")

	// Set defaults
	viperInstance.SetDefault("global.log_level", "info")
	viperInstance.SetDefault("interface", "")
	viperInstance.SetDefault("host_address", "")
	viperInstance.SetDefault("rules.filter", DefaultFilterRules)
	viperInstance.SetDefault("rules.nat", DefaultNatRules)
	viperInstance.SetDefault("lock_file", DefaultLockFile)

	viperInstance.SetEnvPrefix(envPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperInstance.AutomaticEnv()

	if _, err := os.Stat(configPath); err == nil || required {
		if err := viperInstance.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	var cfg Config
	if err := viperInstance.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for correctness.
func Validate(cfg *Config) error {
	level := cfg.Global.LogLevel
	if level == "" {
		cfg.Global.LogLevel = "info"
		level = "info"
	}
	if !validLogLevels[level] {
		return fmt.Errorf("unsupported global.log_level %q (supported: debug, info, warn, error)", level)
	}

	if cfg.HostAddress != "" {
		if ip := net.ParseIP(cfg.HostAddress); ip == nil || ip.To4() == nil {
			return fmt.Errorf("host_address %q is not an IPv4 address", cfg.HostAddress)
		}
	}

	if cfg.Rules.Filter == "" {
		return fmt.Errorf("rules.filter is required")
	}
	if cfg.Rules.Nat == "" {
		return fmt.Errorf("rules.nat is required")
	}
	if cfg.Rules.Filter == cfg.Rules.Nat {
		return fmt.Errorf("rules.filter and rules.nat must be different files, both are %q", cfg.Rules.Filter)
	}

	if cfg.LockFile == "" {
		return fmt.Errorf("lock_file is required")
	}

	return nil
}
