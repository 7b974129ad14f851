// Package cmd implements the clawsync command-line interface.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	cfgFlag     string
	verboseFlag bool
)

// Execute runs the root command.
func Execute() {
	root := &cobra.Command{
		Use:   "clawsync",
		Short: "Keep an agent memory workspace in sync with a git remote",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	root.PersistentFlags().StringVar(&cfgFlag, "config", "", "config file path")
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	root.AddCommand(initCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(pullCmd())
	root.AddCommand(commitCmd())
	root.AddCommand(pushCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config file location: --config flag,
// then CLAWSYNC_CONFIG, then ~/.clawsync/clawsync.json.
func resolveConfigPath() string {
	if cfgFlag != "" {
		return cfgFlag
	}
	if env := os.Getenv("CLAWSYNC_CONFIG"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "clawsync.json"
	}
	return filepath.Join(home, ".clawsync", "clawsync.json")
}

func setupLogging() {
	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
