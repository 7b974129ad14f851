package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawsync/internal/history"
	"github.com/nextlevelbuilder/clawsync/internal/service"
	"github.com/nextlevelbuilder/clawsync/internal/syncer"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the workspace repository, remote and identity",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			mgr := newManager(cfg)
			if err := mgr.Init(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Workspace %s ready (origin %s, branch %s)\n",
				cfg.Workspace, cfg.Repository, cfg.Branch)
		},
	}
}

func syncCmd() *cobra.Command {
	var message string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the full sync pipeline: pull, commit, push",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			mgr := newManager(cfg)
			ctx := context.Background()

			if err := mgr.Init(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			entry := history.NewEntry(service.TriggerManual)
			res := mgr.Sync(ctx, message)
			entry.FinishedAt = time.Now().UnixMilli()
			entry.Success = res.Success
			entry.Pulled = res.Pulled
			entry.Committed = res.Committed
			entry.Pushed = res.Pushed
			entry.Changes = res.Changes
			entry.Error = res.Error
			recordRun(cfg.HistoryDBPath(), cfg.HistoryKeepCount(), entry)

			printResult(res, jsonOutput)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message (overrides the template)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func pullCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull remote memory state",
		Run: func(cmd *cobra.Command, args []string) {
			runPhase(jsonOutput, func(ctx context.Context, mgr *syncer.Manager) syncer.Result {
				return mgr.Pull(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func commitCmd() *cobra.Command {
	var message string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit dirty memory files",
		Run: func(cmd *cobra.Command, args []string) {
			runPhase(jsonOutput, func(ctx context.Context, mgr *syncer.Manager) syncer.Result {
				return mgr.Commit(ctx, message)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message (overrides the template)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func pushCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push local memory commits to the remote",
		Run: func(cmd *cobra.Command, args []string) {
			runPhase(jsonOutput, func(ctx context.Context, mgr *syncer.Manager) syncer.Result {
				return mgr.Push(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// runPhase runs a single pipeline phase after ensuring the workspace
// is initialized.
func runPhase(jsonOutput bool, phase func(context.Context, *syncer.Manager) syncer.Result) {
	cfg := loadConfigOrExit()
	mgr := newManager(cfg)
	ctx := context.Background()

	if err := mgr.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	printResult(phase(ctx, mgr), jsonOutput)
}

func printResult(res syncer.Result, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
	} else if res.Success {
		fmt.Printf("OK  pulled=%v committed=%v pushed=%v", res.Pulled, res.Committed, res.Pushed)
		if len(res.Changes) > 0 {
			fmt.Printf(" changes=%d", len(res.Changes))
		}
		fmt.Println()
		for _, path := range res.Changes {
			fmt.Printf("  %s\n", path)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Sync failed: %s\n", res.Error)
	}

	if !res.Success {
		os.Exit(1)
	}
}

// recordRun best-effort appends a run to the history database.
func recordRun(dbPath string, keep int, entry history.Entry) {
	hist, err := history.NewStore(dbPath)
	if err != nil {
		slog.Warn("history store unavailable", "error", err)
		return
	}
	defer hist.Close()

	if err := hist.Record(entry); err != nil {
		slog.Warn("history record failed", "error", err)
	}
	if err := hist.Prune(keep); err != nil {
		slog.Warn("history prune failed", "error", err)
	}
}
