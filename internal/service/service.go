// Package service runs the sync pipeline on schedule: a fixed
// interval, an optional cron expression, and an optional filesystem
// watcher that syncs shortly after memory files settle. Every trigger
// funnels into the same single-flight-guarded pipeline and records
// its outcome in the history store.
package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/clawsync/internal/history"
	"github.com/nextlevelbuilder/clawsync/internal/syncer"
)

// Trigger names recorded with each run.
const (
	TriggerManual   = "manual"
	TriggerInterval = "interval"
	TriggerCron     = "cron"
	TriggerWatch    = "watch"
)

// RunFunc executes one sync cycle and returns its result.
type RunFunc func(ctx context.Context) syncer.Result

// Config holds resolved runtime config for the trigger service.
type Config struct {
	Workspace string

	// Interval between scheduled syncs. Zero disables the timer.
	Interval time.Duration

	// CronExpr is an optional cron schedule (evaluated in local time).
	CronExpr string

	// OnChange enables the filesystem watcher; Debounce is how long
	// events must settle before the sync fires.
	OnChange bool
	Debounce time.Duration

	// HistoryKeep bounds retained history rows after each run.
	HistoryKeep int
}

// Service owns the trigger loop for one workspace.
type Service struct {
	cfg  Config
	run  RunFunc
	hist *history.Store // nil = runs are not recorded

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	fsw       *fsnotify.Watcher
	triggerCh chan string

	// debounce state
	timer   *time.Timer
	pending bool
}

// New creates a trigger service. hist may be nil.
func New(cfg Config, run RunFunc, hist *history.Store) *Service {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 5 * time.Second
	}
	return &Service{
		cfg:       cfg,
		run:       run,
		hist:      hist,
		triggerCh: make(chan string, 4),
	}
}

// Start begins the trigger loop in a background goroutine.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if s.cfg.OnChange {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		s.fsw = fsw
		s.addWatches()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)

	slog.Info("sync service started",
		"workspace", s.cfg.Workspace,
		"interval", s.cfg.Interval,
		"cron", s.cfg.CronExpr,
		"onChange", s.cfg.OnChange,
	)
	return nil
}

// Stop halts the trigger loop and waits for it to exit. An in-flight
// sync finishes first; no partial run is abandoned mid-phase.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	fsw := s.fsw
	s.fsw = nil
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if fsw != nil {
		fsw.Close()
	}
	slog.Info("sync service stopped", "workspace", s.cfg.Workspace)
}

// IsRunning returns whether the trigger loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerNow queues a sync outside the schedule (e.g. from a signal
// handler). Non-blocking; dropped if a trigger is already queued.
func (s *Service) TriggerNow() {
	select {
	case s.triggerCh <- TriggerManual:
	default:
	}
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	var intervalC <-chan time.Time
	if s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		intervalC = ticker.C
	}

	var cronTimer *time.Timer
	var cronC <-chan time.Time
	if s.cfg.CronExpr != "" {
		if next, ok := s.nextCronTick(); ok {
			cronTimer = time.NewTimer(time.Until(next))
			defer cronTimer.Stop()
			cronC = cronTimer.C
		}
	}

	var events <-chan fsnotify.Event
	var errors <-chan error
	if s.fsw != nil {
		events = s.fsw.Events
		errors = s.fsw.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-intervalC:
			s.runSync(ctx, TriggerInterval)

		case <-cronC:
			s.runSync(ctx, TriggerCron)
			if next, ok := s.nextCronTick(); ok {
				cronTimer.Reset(time.Until(next))
			}

		case trig := <-s.triggerCh:
			s.runSync(ctx, trig)

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(event)

		case err, ok := <-errors:
			if !ok {
				errors = nil
				continue
			}
			slog.Warn("workspace watcher error", "error", err)
		}
	}
}

func (s *Service) runSync(ctx context.Context, trigger string) {
	entry := history.NewEntry(trigger)
	res := s.run(ctx)
	entry.FinishedAt = time.Now().UnixMilli()
	entry.Success = res.Success
	entry.Pulled = res.Pulled
	entry.Committed = res.Committed
	entry.Pushed = res.Pushed
	entry.Changes = res.Changes
	entry.Error = res.Error

	if res.Success {
		slog.Info("sync run complete",
			"trigger", trigger,
			"pulled", res.Pulled,
			"committed", res.Committed,
			"pushed", res.Pushed,
			"changes", len(res.Changes),
		)
	} else {
		slog.Error("sync run failed", "trigger", trigger, "error", res.Error)
	}

	if s.hist != nil {
		if err := s.hist.Record(entry); err != nil {
			slog.Warn("history record failed", "error", err)
		}
		if s.cfg.HistoryKeep > 0 {
			if err := s.hist.Prune(s.cfg.HistoryKeep); err != nil {
				slog.Warn("history prune failed", "error", err)
			}
		}
	}
}

func (s *Service) nextCronTick() (time.Time, bool) {
	next, err := gronx.NextTickAfter(s.cfg.CronExpr, time.Now(), false)
	if err != nil {
		slog.Error("cron: failed to compute next run", "expr", s.cfg.CronExpr, "error", err)
		return time.Time{}, false
	}
	return next, true
}

// --- Filesystem watcher ---

// addWatches registers the workspace root and its subdirectories.
// fsnotify is not recursive; new directories are added as they appear.
func (s *Service) addWatches() {
	root := s.cfg.Workspace
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if ignoredDir(d.Name()) && path != root {
			return filepath.SkipDir
		}
		if err := s.fsw.Add(path); err != nil {
			slog.Warn("workspace watcher: cannot watch dir", "path", path, "error", err)
		}
		return nil
	})
}

func (s *Service) handleEvent(event fsnotify.Event) {
	path := event.Name

	// Repository internals and our own bookkeeping mutate during
	// every sync; reacting to them would loop forever.
	if ignoredPath(s.cfg.Workspace, path) {
		return
	}

	// New directory inside the workspace: start watching it.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			_ = s.fsw.Add(path)
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	s.scheduleSync()
}

// scheduleSync debounces watcher-triggered syncs: the timer resets on
// every event and fires only once the workspace has settled.
func (s *Service) scheduleSync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = true

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.Debounce, func() {
		s.flush()
	})
}

func (s *Service) flush() {
	s.mu.Lock()
	if !s.pending || !s.running {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.mu.Unlock()

	select {
	case s.triggerCh <- TriggerWatch:
	default:
	}
}

func ignoredDir(name string) bool {
	return name == ".git" || name == ".clawsync"
}

func ignoredPath(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if ignoredDir(part) {
			return true
		}
	}
	return false
}
