package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawsync/internal/history"
)

func historyCmd() *cobra.Command {
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfigOrExit()
			hist, err := history.NewStore(cfg.HistoryDBPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer hist.Close()

			entries, err := hist.Recent(limit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printHistory(entries, jsonOutput)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func printHistory(entries []history.Entry, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(entries) == 0 {
		fmt.Println("No sync runs recorded yet.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tTRIGGER\tSTATUS\tPULLED\tCOMMITTED\tPUSHED\tCHANGES")
	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "FAILED"
		}
		when := time.UnixMilli(e.StartedAt).Format("2006-01-02 15:04:05")
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\t%v\t%d\n",
			when, e.Trigger, status, e.Pulled, e.Committed, e.Pushed, len(e.Changes))
	}
	w.Flush()

	for _, e := range entries {
		if !e.Success && e.Error != "" {
			fmt.Printf("\n%s: %s\n", time.UnixMilli(e.StartedAt).Format("15:04:05"), e.Error)
		}
	}
}
