// Package gitx wraps the git executable behind a narrow Runner
// interface. There is exactly one real implementation; tests
// substitute a fake that scripts stdout and exit status.
package gitx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes a git command in dir and returns captured stdout.
// A nonzero exit status is returned as an error carrying the captured
// error output.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner invokes the git binary as a subprocess with the working
// directory as the repository root. Every call is bounded by Timeout;
// on expiry the subprocess is killed and a timeout error returned.
type ExecRunner struct {
	// GitPath is the binary to invoke. Defaults to "git".
	GitPath string

	// Timeout bounds each call. Zero means no limit.
	Timeout time.Duration
}

// NewExecRunner returns an ExecRunner with the given per-call timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{GitPath: "git", Timeout: timeout}
}

// Run executes `git <args...>` in dir.
func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := r.GitPath
	if bin == "" {
		bin = "git"
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s timed out after %s", firstArg(args), r.Timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", firstArg(args), msg)
	}

	return stdout.String(), nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
