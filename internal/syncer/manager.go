// Package syncer keeps an agent's working memory directory consistent
// with a remote git repository. A sync cycle runs the pre-hook, pulls
// remote state, commits local changes under the configured path
// policy, pushes, then runs the post-hook, short-circuiting on the
// first failure and always reporting a structured Result.
package syncer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/clawsync/internal/config"
	"github.com/nextlevelbuilder/clawsync/internal/gitx"
)

// syncFlights coalesces overlapping Sync calls per workspace path.
// Git's index lock does not tolerate concurrent mutation of one
// working tree, so racing triggers (cron tick + file watcher) share a
// single run instead.
var syncFlights singleflight.Group

// Manager owns one workspace directory and one sync configuration.
// It holds no state between calls — every phase re-derives status from
// the on-disk repository — so it is safe to reconstruct per invocation.
type Manager struct {
	workspace string
	cfg       *config.SyncConfig
	git       gitx.Runner
}

// NewManager creates a sync manager for the given workspace. The
// configuration is externally owned and never mutated.
func NewManager(workspace string, cfg *config.SyncConfig, git gitx.Runner) *Manager {
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}
	return &Manager{workspace: workspace, cfg: cfg, git: git}
}

// Workspace returns the absolute workspace path.
func (m *Manager) Workspace() string { return m.workspace }

// Init ensures the workspace is a git repository with the configured
// remote and author identity. Safe to call repeatedly. Unlike the
// sync phases it returns a plain error: there is no partial outcome
// to report, any failure here is a setup problem the caller must fix.
func (m *Manager) Init(ctx context.Context) error {
	if !m.isRepo() {
		slog.Info("initializing memory repository", "workspace", m.workspace)
		if _, err := m.git.Run(ctx, m.workspace, "init"); err != nil {
			return err
		}
		// git init names the initial branch per host config
		// (init.defaultBranch, often master); move the unborn HEAD to
		// the tracked branch so the first commit lands on it.
		if _, err := m.git.Run(ctx, m.workspace, "checkout", "-B", m.cfg.Branch); err != nil {
			return err
		}
		if _, err := m.git.Run(ctx, m.workspace, "remote", "add", "origin", m.cfg.Repository); err != nil {
			return err
		}
		return m.applyIdentity(ctx)
	}

	out, err := m.git.Run(ctx, m.workspace, "remote", "get-url", "origin")
	switch {
	case err != nil:
		// No origin registered yet.
		if _, err := m.git.Run(ctx, m.workspace, "remote", "add", "origin", m.cfg.Repository); err != nil {
			return err
		}
	case strings.TrimSpace(out) != m.cfg.Repository:
		slog.Info("updating origin remote", "url", m.cfg.Repository)
		if _, err := m.git.Run(ctx, m.workspace, "remote", "set-url", "origin", m.cfg.Repository); err != nil {
			return err
		}
	}

	// Identity is reapplied even on a pre-existing repo so config
	// changes always take effect.
	return m.applyIdentity(ctx)
}

// Pull brings local history up to date with the remote branch
// according to the configured conflict strategy.
func (m *Manager) Pull(ctx context.Context) Result {
	if !m.cfg.PullEnabled() {
		return success()
	}

	strategy := ParseStrategy(m.cfg.ConflictStrategy)
	directive := strategy.MergeDirective()
	slog.Info("pull starting", "branch", m.cfg.Branch, "strategy", string(strategy))

	if _, err := m.git.Run(ctx, m.workspace, "fetch", "origin", m.cfg.Branch); err != nil {
		if isUnknownRemoteBranch(err) {
			// First sync: the remote branch does not exist yet.
			// Nothing to pull, but the local branch must exist under
			// the configured name or the eventual push has no ref to
			// publish (git init may have created a differently named
			// default branch).
			if _, err := m.git.Run(ctx, m.workspace, "checkout", "-B", m.cfg.Branch); err != nil {
				return failure("%v", err)
			}
			slog.Info("pull skipped: remote branch not found", "branch", m.cfg.Branch)
			return success()
		}
		slog.Warn("fetch failed", "branch", m.cfg.Branch, "error", err)
		return failure("%v", err)
	}

	if !m.hasCommits(ctx) {
		// First-ever local sync: no commit to merge into. Check out
		// the tracked branch instead of pulling.
		if _, err := m.git.Run(ctx, m.workspace, "checkout", "-B", m.cfg.Branch); err != nil {
			return failure("%v", err)
		}
		slog.Info("pull skipped: no local commits yet", "branch", m.cfg.Branch)
		return success()
	}

	args := []string{"pull"}
	if directive != "" {
		args = append(args, "-X", directive)
	}
	args = append(args, "origin", m.cfg.Branch)

	if _, err := m.git.Run(ctx, m.workspace, args...); err != nil {
		slog.Warn("pull failed", "branch", m.cfg.Branch, "error", err)
		return failure("%v", err)
	}

	slog.Info("pull complete", "branch", m.cfg.Branch)
	res := success()
	res.Pulled = true
	return res
}

// Commit captures all currently dirty files as one commit, honoring
// the paths/excludePaths filters. A clean tree is a no-op success.
// messageOverride, when non-empty, takes precedence over the
// configured message template.
func (m *Manager) Commit(ctx context.Context, messageOverride string) Result {
	if !m.cfg.CommitEnabled() {
		return success()
	}

	out, err := m.git.Run(ctx, m.workspace, "status", "--porcelain")
	if err != nil {
		return failure("%v", err)
	}
	if strings.TrimSpace(out) == "" {
		slog.Debug("commit skipped: workspace clean")
		return success()
	}

	// The change list reflects everything dirty before staging
	// filters, so callers see the full set of observed mutations.
	changes := gitx.ParseStatus(out)
	slog.Info("commit starting", "changes", len(changes))

	if len(m.cfg.Paths) > 0 {
		for _, pattern := range m.cfg.Paths {
			if _, err := m.git.Run(ctx, m.workspace, "add", "--", pattern); err != nil {
				if isPathspecNoMatch(err) {
					// Nothing dirty under this include this cycle.
					continue
				}
				return failure("%v", err)
			}
		}
	} else {
		if _, err := m.git.Run(ctx, m.workspace, "add", "-A"); err != nil {
			return failure("%v", err)
		}
	}

	// Excludes run strictly after staging so they win over any
	// overlapping include pattern.
	for _, pattern := range m.cfg.ExcludePaths {
		if _, err := m.git.Run(ctx, m.workspace, "reset", "-q", "--", pattern); err != nil {
			return failure("%v", err)
		}
	}

	message := messageOverride
	if message == "" {
		message = buildCommitMessage(m.cfg.CommitMessage, time.Now())
	}

	if _, err := m.git.Run(ctx, m.workspace, "commit", "-m", message); err != nil {
		if isNothingToCommit(err) {
			// Path filters excluded every dirty file.
			slog.Info("commit skipped: nothing staged after path filters")
			return success()
		}
		slog.Warn("commit failed", "error", err)
		return failure("%v", err)
	}

	slog.Info("commit complete", "files", len(changes))
	res := success()
	res.Committed = true
	res.Changes = changes
	return res
}

// Push publishes local commits to the remote tracked branch, creating
// the upstream tracking relationship if absent.
func (m *Manager) Push(ctx context.Context) Result {
	if !m.cfg.PushEnabled() {
		return success()
	}

	slog.Info("push starting", "branch", m.cfg.Branch)
	if _, err := m.git.Run(ctx, m.workspace, "push", "-u", "origin", m.cfg.Branch); err != nil {
		slog.Warn("push failed", "branch", m.cfg.Branch, "error", err)
		return failure("%v", err)
	}

	slog.Info("push complete", "branch", m.cfg.Branch)
	res := success()
	res.Pushed = true
	return res
}

// Sync runs the composed pipeline: pre-hook, pull, commit, push,
// post-hook, short-circuiting on the first failure. Overlapping calls
// on the same workspace coalesce into a single run.
func (m *Manager) Sync(ctx context.Context, messageOverride string) Result {
	v, _, shared := syncFlights.Do(m.workspace, func() (any, error) {
		return m.runPipeline(ctx, messageOverride), nil
	})
	if shared {
		slog.Debug("sync coalesced with in-flight run", "workspace", m.workspace)
	}
	return v.(Result)
}

func (m *Manager) runPipeline(ctx context.Context, messageOverride string) Result {
	if m.cfg.Hooks.PreSync != "" {
		if err := m.runHook(ctx, m.cfg.Hooks.PreSync, "pre"); err != nil {
			return failure("pre-sync hook failed: %v", err)
		}
	}

	pull := m.Pull(ctx)
	if !pull.Success {
		return pull
	}

	commit := m.Commit(ctx, messageOverride)
	if !commit.Success {
		return commit
	}

	push := m.Push(ctx)
	if !push.Success {
		return push
	}

	if m.cfg.Hooks.PostSync != "" {
		if err := m.runHook(ctx, m.cfg.Hooks.PostSync, "post"); err != nil {
			// Pull/commit/push already completed; only the hook
			// failed. The error says so, because callers must not
			// read this as unsynced memory.
			return failure("post-sync hook failed (sync completed): %v", err)
		}
	}

	return Result{
		Success:   true,
		Pulled:    pull.Pulled,
		Committed: commit.Committed,
		Pushed:    push.Pushed,
		Changes:   commit.Changes,
	}
}

func (m *Manager) applyIdentity(ctx context.Context) error {
	if _, err := m.git.Run(ctx, m.workspace, "config", "user.name", m.cfg.Author.Name); err != nil {
		return err
	}
	_, err := m.git.Run(ctx, m.workspace, "config", "user.email", m.cfg.Author.Email)
	return err
}

func (m *Manager) isRepo() bool {
	_, err := os.Stat(filepath.Join(m.workspace, ".git"))
	return err == nil
}

func (m *Manager) hasCommits(ctx context.Context) bool {
	_, err := m.git.Run(ctx, m.workspace, "rev-parse", "--verify", "HEAD")
	return err == nil
}

// buildCommitMessage substitutes the first {timestamp} occurrence with
// the sync time in RFC 3339 UTC (sortable, unambiguous).
func buildCommitMessage(template string, now time.Time) string {
	return strings.Replace(template, "{timestamp}", now.UTC().Format(time.RFC3339), 1)
}

// isUnknownRemoteBranch reports whether a fetch error means the remote
// branch does not exist yet (legitimate first-sync state).
func isUnknownRemoteBranch(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "couldn't find remote ref") ||
		strings.Contains(msg, "remote ref does not exist") ||
		(strings.Contains(msg, "remote branch") && strings.Contains(msg, "not found"))
}

// isPathspecNoMatch reports whether an add error means the include
// pattern matched no files (git exits 128 with "did not match any
// files"), which is an empty staging step, not a failure.
func isPathspecNoMatch(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "did not match any files")
}

// isNothingToCommit reports whether a commit error means the staged
// set was empty.
func isNothingToCommit(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nothing to commit") ||
		strings.Contains(msg, "nothing added to commit")
}
