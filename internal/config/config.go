// Package config loads EngineConfig from flags, environment variables
// (KBTAP_ prefixed), a YAML file, and built-in defaults, in that
// precedence order, via viper — the same layering the rest of the
// corpus's cobra/viper CLIs use.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/loopvm/kbtap/pkg/correlator"
	"github.com/loopvm/kbtap/pkg/guest"
)

// EngineConfig is every tunable the engine's components accept, gathered
// in one place so a single load produces every collaborator's config.
type EngineConfig struct {
	HoldTTL           time.Duration `mapstructure:"hold_ttl"`
	InitialWindow     time.Duration `mapstructure:"initial_window"`
	JanitorInterval   time.Duration `mapstructure:"janitor_interval"`
	JanitorMaxAge     time.Duration `mapstructure:"janitor_max_age"`
	JanitorMaxEntries int           `mapstructure:"janitor_max_entries"`
	MaxInFlight       int           `mapstructure:"max_in_flight"`
	ControllerPath    string        `mapstructure:"controller_path"`
	LogLevel          string        `mapstructure:"log_level"`
	LogPretty         bool          `mapstructure:"log_pretty"`
}

// CorrelatorConfig projects the Correlator-relevant fields into its own
// Config type.
func (c EngineConfig) CorrelatorConfig() correlator.Config {
	return correlator.Config{
		HoldTTL:           c.HoldTTL,
		InitialWindow:     c.InitialWindow,
		JanitorPeriod:     c.JanitorInterval,
		JanitorMaxAge:     c.JanitorMaxAge,
		JanitorMaxEntries: c.JanitorMaxEntries,
	}
}

func defaults() EngineConfig {
	return EngineConfig{
		HoldTTL:           correlator.DefaultHoldTTL,
		InitialWindow:     correlator.DefaultInitialWindow,
		JanitorInterval:   correlator.DefaultJanitorPeriod,
		JanitorMaxAge:     correlator.DefaultJanitorMaxAge,
		JanitorMaxEntries: correlator.DefaultJanitorMaxEntries,
		MaxInFlight:       guest.DefaultMaxInFlight,
		ControllerPath:    "vmctl",
		LogLevel:          "info",
		LogPretty:         false,
	}
}

// DefaultConfigDir is $XDG_CONFIG_HOME/kbtap, falling back to ~/.config.
func DefaultConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: resolve home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "kbtap"), nil
}

// DefaultSocketPath is where the session-start daemon's control socket
// lives: $XDG_RUNTIME_DIR/kbtap.sock, falling back to the config
// directory when no runtime directory is set (non-systemd hosts, Darwin).
func DefaultSocketPath() (string, error) {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "kbtap.sock"), nil
	}
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "kbtap.sock"), nil
}

// Load builds an EngineConfig from defaults, an optional config file
// (explicit path if set, otherwise $XDG_CONFIG_HOME/kbtap/config.yaml if
// present), KBTAP_-prefixed environment variables, and finally v — the
// caller's viper instance, already populated with any cobra flags it
// bound — in increasing order of precedence.
func Load(v *viper.Viper, explicitPath string) (EngineConfig, error) {
	if v == nil {
		v = viper.New()
	}

	d := defaults()
	v.SetDefault("hold_ttl", d.HoldTTL)
	v.SetDefault("initial_window", d.InitialWindow)
	v.SetDefault("janitor_interval", d.JanitorInterval)
	v.SetDefault("janitor_max_age", d.JanitorMaxAge)
	v.SetDefault("janitor_max_entries", d.JanitorMaxEntries)
	v.SetDefault("max_in_flight", d.MaxInFlight)
	v.SetDefault("controller_path", d.ControllerPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		dir, err := DefaultConfigDir()
		if err != nil {
			return EngineConfig{}, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		notFound = notFound || errors.Is(err, fs.ErrNotExist)
		if !notFound {
			return EngineConfig{}, fmt.Errorf("config: read config file: %w", err)
		}
		// no config file yet: defaults + env + flags only
	}

	v.SetEnvPrefix("KBTAP")
	v.AutomaticEnv()

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
