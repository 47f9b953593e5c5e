// Package config loads bridge configuration from files and environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds bridge configuration.
type Config struct {
	// Level is the zap log level (debug, info, warn, error).
	Level string `mapstructure:"level"`

	// TrafficLog is a path for the NDJSON wire mirror; empty disables it.
	TrafficLog string `mapstructure:"traffic_log"`

	// CallbackTimeout bounds every pending permission/hook request.
	CallbackTimeout time.Duration `mapstructure:"callback_timeout"`

	Backend BackendConfig `mapstructure:"backend"`
}

// BackendConfig describes the agent CLI to drive.
type BackendConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	PTY     bool     `mapstructure:"pty"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Level:           "info",
		CallbackTimeout: 5 * time.Minute,
		Backend: BackendConfig{
			Command: "claude",
		},
	}
}

// Load reads configuration from files and environment. Missing config files
// are not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("agentbridge")
	v.SetConfigType("yaml")

	// Lowest precedence first.
	v.AddConfigPath("/etc/agentbridge/")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "agentbridge"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("AGENTBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("level", defaults.Level)
	v.SetDefault("traffic_log", defaults.TrafficLog)
	v.SetDefault("callback_timeout", defaults.CallbackTimeout)
	v.SetDefault("backend.command", defaults.Backend.Command)
	v.SetDefault("backend.args", defaults.Backend.Args)
	v.SetDefault("backend.pty", defaults.Backend.PTY)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
