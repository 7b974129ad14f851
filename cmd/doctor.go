package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawsync/internal/config"
	"github.com/nextlevelbuilder/clawsync/internal/gitx"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("clawsync doctor")
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Git binary
	gitPath, err := exec.LookPath("git")
	if err != nil {
		fmt.Println("  Git:      NOT FOUND — install git and ensure it is on PATH")
		return
	}
	fmt.Printf("  Git:      %s", gitPath)
	if out, err := exec.Command(gitPath, "--version").Output(); err == nil {
		fmt.Printf(" (%s)", strings.TrimSpace(string(out)))
	}
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND)")
		return
	}
	fmt.Println(" (OK)")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Workspace
	fmt.Printf("  Workspace: %s", cfg.Workspace)
	if info, err := os.Stat(cfg.Workspace); err != nil || !info.IsDir() {
		fmt.Println(" (MISSING)")
	} else if _, err := os.Stat(cfg.Workspace + "/.git"); err != nil {
		fmt.Println(" (not initialized — run `clawsync init`)")
	} else {
		fmt.Println(" (OK)")
	}

	// Remote reachability
	fmt.Printf("  Remote:   %s", cfg.Repository)
	runner := gitx.NewExecRunner(cfg.GitTimeout())
	if _, err := runner.Run(context.Background(), cfg.Workspace, "ls-remote", "--heads", cfg.Repository); err != nil {
		fmt.Printf(" (UNREACHABLE: %v)\n", err)
	} else {
		fmt.Println(" (OK)")
	}

	// Hooks
	checkHook("preSync", cfg.Hooks.PreSync)
	checkHook("postSync", cfg.Hooks.PostSync)
}

func checkHook(name, path string) {
	if path == "" {
		return
	}
	fmt.Printf("  Hook %s: %s", name, path)
	info, err := os.Stat(path)
	switch {
	case err != nil:
		fmt.Println(" (NOT FOUND)")
	case info.Mode()&0111 == 0:
		fmt.Println(" (not executable)")
	default:
		fmt.Println(" (OK)")
	}
}
