package syncer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// hookOutputMax bounds how much captured hook output ends up in logs
// and error messages.
const hookOutputMax = 2000

// runHook invokes an external executable with the workspace as its
// working directory. The environment carries WORKSPACE and SYNC_TYPE
// ("pre" or "post") so one script can serve both hook points. Output
// is captured for diagnostics only; a nonzero exit is a failure.
func (m *Manager) runHook(ctx context.Context, hookPath, kind string) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.HookTimeout())
	defer cancel()

	slog.Info("running sync hook", "type", kind, "path", hookPath)

	cmd := exec.CommandContext(ctx, hookPath)
	cmd.Dir = m.workspace
	cmd.Env = append(os.Environ(),
		"WORKSPACE="+m.workspace,
		"SYNC_TYPE="+kind,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("hook %s timed out after %s", hookPath, m.cfg.HookTimeout())
		}
		msg := strings.TrimSpace(output.String())
		if msg == "" {
			return fmt.Errorf("hook %s: %w", hookPath, err)
		}
		return fmt.Errorf("hook %s: %v: %s", hookPath, err, truncateHookOutput(msg))
	}

	slog.Info("sync hook finished", "type", kind,
		"output", truncateHookOutput(strings.TrimSpace(output.String())))
	return nil
}

func truncateHookOutput(s string) string {
	if len(s) <= hookOutputMax {
		return s
	}
	return s[:hookOutputMax] + "...[truncated]"
}
