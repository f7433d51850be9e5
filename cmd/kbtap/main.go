// Command kbtap is the operator control surface for the keyboard
// interposer engine: a thin external shell over pkg/hidkb, pkg/identity,
// pkg/session and pkg/guest that exposes enumerate, detect, session
// start/stop/status, log and guests as subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loopvm/kbtap/internal/config"
	"github.com/loopvm/kbtap/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	logPretty bool
)

func main() {
	root := &cobra.Command{
		Use:           "kbtap",
		Short:         "Capture and optionally relay one physical keyboard's keystrokes to a VM guest",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $XDG_CONFIG_HOME/kbtap/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "human-readable console logging instead of JSON")

	root.AddCommand(
		newEnumerateCommand(),
		newDetectCommand(),
		newSessionCommand(),
		newLogCommand(),
		newGuestsCommand(),
		newAutostartCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kbtap:", err)
		os.Exit(1)
	}
}

// loadEngineConfig binds the persistent flags onto a fresh viper instance
// and layers in env/file/defaults, so every subcommand sees one
// consistent EngineConfig.
func loadEngineConfig() (config.EngineConfig, error) {
	v := viper.New()
	if logLevel != "" {
		v.Set("log_level", logLevel)
	}
	if logPretty {
		v.Set("log_pretty", true)
	}
	return config.Load(v, cfgFile)
}

func newLogger(cfg config.EngineConfig) zerolog.Logger {
	return logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
}
