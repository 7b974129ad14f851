// Package config loads and validates the clawsync configuration file.
// The file is JSON5 (comments and trailing commas allowed), one config
// per agent workspace.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/titanous/json5"
)

// Default commit identity used when the config does not set one.
const (
	DefaultAuthorName  = "OpenClaw Agent"
	DefaultAuthorEmail = "agent@openclaw.ai"
)

// DefaultCommitMessage is the commit message template. The first
// {timestamp} occurrence is replaced with the sync time (RFC 3339).
const DefaultCommitMessage = "chore: agent memory sync {timestamp}"

const (
	defaultBranch        = "main"
	defaultGitTimeout    = 120 * time.Second
	defaultHookTimeout   = 60 * time.Second
	defaultWatchInterval = 30 * time.Minute
	defaultWatchDebounce = 5 * time.Second
	defaultHistoryKeep   = 500
)

// AuthorConfig is the commit identity applied to the workspace repo.
type AuthorConfig struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// HooksConfig points at optional executables run around each sync.
type HooksConfig struct {
	PreSync  string `json:"preSync,omitempty"`
	PostSync string `json:"postSync,omitempty"`
}

// WatchConfig configures the background trigger service (`clawsync watch`).
type WatchConfig struct {
	// Interval between scheduled syncs ("30m", "1h"). Zero disables
	// the interval trigger.
	Interval string `json:"interval,omitempty"`

	// Expr is an optional cron expression evaluated in local time.
	Expr string `json:"expr,omitempty"`

	// OnChange syncs shortly after memory files change on disk.
	OnChange bool `json:"onChange,omitempty"`

	// DebounceMs is how long file events must settle before an
	// on-change sync fires.
	DebounceMs int `json:"debounceMs,omitempty"`
}

// SyncConfig is the full clawsync configuration. It is immutable for
// the lifetime of a sync manager; hot reload constructs a fresh value.
type SyncConfig struct {
	// Workspace is the agent memory directory being synced.
	Workspace string `json:"workspace"`

	// Repository is the remote URL registered as origin. Required.
	Repository string `json:"repository"`

	// Branch is the tracked branch. Defaults to "main".
	Branch string `json:"branch,omitempty"`

	// Per-phase switches. Unset means enabled; a disabled phase is a
	// no-op success.
	AutoPull   *bool `json:"autoPull,omitempty"`
	AutoCommit *bool `json:"autoCommit,omitempty"`
	AutoPush   *bool `json:"autoPush,omitempty"`

	// ConflictStrategy governs how pull resolves divergent history:
	// "local-wins", "remote-wins", "manual", "timestamp-wins",
	// "merge-markers". Unknown values fall back to local-wins.
	ConflictStrategy string `json:"conflictStrategy,omitempty"`

	// Paths, when non-empty, restricts staging to these pathspecs
	// (applied in order). ExcludePaths are unstaged afterwards, so an
	// exclude always wins over an overlapping include.
	Paths        []string `json:"paths,omitempty"`
	ExcludePaths []string `json:"excludePaths,omitempty"`

	Author        AuthorConfig `json:"author,omitempty"`
	CommitMessage string       `json:"commitMessage,omitempty"`
	Hooks         HooksConfig  `json:"hooks,omitempty"`

	// GitTimeoutSec / HookTimeoutSec bound each subprocess call.
	GitTimeoutSec  int `json:"gitTimeoutSec,omitempty"`
	HookTimeoutSec int `json:"hookTimeoutSec,omitempty"`

	Watch WatchConfig `json:"watch,omitempty"`

	// HistoryDB is the SQLite file recording sync runs. Defaults to
	// <workspace>/.clawsync/history.db. HistoryKeep bounds retained
	// rows (default 500).
	HistoryDB   string `json:"historyDb,omitempty"`
	HistoryKeep int    `json:"historyKeep,omitempty"`
}

// PullEnabled reports whether the pull phase should run (unset = true).
func (c *SyncConfig) PullEnabled() bool { return c.AutoPull == nil || *c.AutoPull }

// CommitEnabled reports whether the commit phase should run (unset = true).
func (c *SyncConfig) CommitEnabled() bool { return c.AutoCommit == nil || *c.AutoCommit }

// PushEnabled reports whether the push phase should run (unset = true).
func (c *SyncConfig) PushEnabled() bool { return c.AutoPush == nil || *c.AutoPush }

// GitTimeout returns the per-git-call timeout.
func (c *SyncConfig) GitTimeout() time.Duration {
	if c.GitTimeoutSec > 0 {
		return time.Duration(c.GitTimeoutSec) * time.Second
	}
	return defaultGitTimeout
}

// HookTimeout returns the per-hook timeout.
func (c *SyncConfig) HookTimeout() time.Duration {
	if c.HookTimeoutSec > 0 {
		return time.Duration(c.HookTimeoutSec) * time.Second
	}
	return defaultHookTimeout
}

// WatchInterval returns the interval between scheduled syncs, or zero
// if the interval trigger is disabled ("off" / "none" / "0").
func (c *SyncConfig) WatchInterval() time.Duration {
	raw := strings.TrimSpace(c.Watch.Interval)
	switch raw {
	case "":
		return defaultWatchInterval
	case "off", "none", "0":
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultWatchInterval
	}
	return d
}

// WatchDebounce returns how long file events must settle before an
// on-change sync fires.
func (c *SyncConfig) WatchDebounce() time.Duration {
	if c.Watch.DebounceMs > 0 {
		return time.Duration(c.Watch.DebounceMs) * time.Millisecond
	}
	return defaultWatchDebounce
}

// HistoryDBPath returns the resolved history database path.
func (c *SyncConfig) HistoryDBPath() string {
	if c.HistoryDB != "" {
		return c.HistoryDB
	}
	return filepath.Join(c.Workspace, ".clawsync", "history.db")
}

// HistoryKeepCount returns how many history rows to retain.
func (c *SyncConfig) HistoryKeepCount() int {
	if c.HistoryKeep > 0 {
		return c.HistoryKeep
	}
	return defaultHistoryKeep
}

// Load reads, parses and validates the config file at path.
func Load(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &SyncConfig{}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *SyncConfig) ApplyDefaults() {
	if c.Branch == "" {
		c.Branch = defaultBranch
	}
	if c.Author.Name == "" {
		c.Author.Name = DefaultAuthorName
	}
	if c.Author.Email == "" {
		c.Author.Email = DefaultAuthorEmail
	}
	if c.CommitMessage == "" {
		c.CommitMessage = DefaultCommitMessage
	}
	if c.Workspace != "" {
		if abs, err := filepath.Abs(expandHome(c.Workspace)); err == nil {
			c.Workspace = abs
		}
	}
	c.Hooks.PreSync = expandHome(c.Hooks.PreSync)
	c.Hooks.PostSync = expandHome(c.Hooks.PostSync)
	c.HistoryDB = expandHome(c.HistoryDB)
}

// Validate checks the config for errors that would make every sync fail.
func (c *SyncConfig) Validate() error {
	if c.Repository == "" {
		return fmt.Errorf("config: repository is required")
	}
	if c.Workspace == "" {
		return fmt.Errorf("config: workspace is required")
	}
	if c.Watch.Expr != "" {
		gx := gronx.New()
		if !gx.IsValid(c.Watch.Expr) {
			return fmt.Errorf("config: invalid cron expression %q", c.Watch.Expr)
		}
	}
	return nil
}

// expandHome replaces a leading "~/" with the user home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
