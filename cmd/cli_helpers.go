package cmd

import (
	"fmt"
	"os"

	"github.com/nextlevelbuilder/clawsync/internal/config"
	"github.com/nextlevelbuilder/clawsync/internal/gitx"
	"github.com/nextlevelbuilder/clawsync/internal/syncer"
)

// loadConfigOrExit loads the config file or exits with a message.
func loadConfigOrExit() *config.SyncConfig {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newManager builds a sync manager with the real git runner.
func newManager(cfg *config.SyncConfig) *syncer.Manager {
	runner := gitx.NewExecRunner(cfg.GitTimeout())
	return syncer.NewManager(cfg.Workspace, cfg, runner)
}
