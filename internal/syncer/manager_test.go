package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawsync/internal/config"
)

// fakeRunner scripts git responses by full command ("fetch origin main")
// or by subcommand ("fetch"). Unscripted commands succeed with empty
// output, which reads as a clean status and an existing HEAD.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	stubs  map[string]fakeResp
	onCall func(args []string)
}

type fakeResp struct {
	out string
	err error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{stubs: map[string]fakeResp{}}
}

func (f *fakeRunner) stub(key, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs[key] = fakeResp{out: out, err: err}
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	resp, ok := f.stubs[strings.Join(args, " ")]
	if !ok {
		resp, ok = f.stubs[args[0]]
	}
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(args)
	}
	if !ok {
		return "", nil
	}
	return resp.out, resp.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// callsOf returns every recorded invocation of the given subcommand.
func (f *fakeRunner) callsOf(sub string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, c := range f.calls {
		if len(c) > 0 && c[0] == sub {
			out = append(out, c)
		}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

func testConfig(t *testing.T) *config.SyncConfig {
	t.Helper()
	cfg := &config.SyncConfig{
		Workspace:  t.TempDir(),
		Repository: "git@example.com:agent/memory.git",
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestManager(t *testing.T, cfg *config.SyncConfig) (*Manager, *fakeRunner) {
	t.Helper()
	git := newFakeRunner()
	return NewManager(cfg.Workspace, cfg, git), git
}

// --- Pull ---

func TestPull_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoPull = boolPtr(false)
	mgr, git := newTestManager(t, cfg)

	res := mgr.Pull(context.Background())
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if res.Pulled {
		t.Error("disabled pull must report pulled=false")
	}
	if git.callCount() != 0 {
		t.Errorf("disabled pull invoked git %d times", git.callCount())
	}
}

func TestPull_StrategyDirectives(t *testing.T) {
	cases := []struct {
		strategy  string
		directive string // "" = no -X option
	}{
		{"local-wins", "ours"},
		{"remote-wins", "theirs"},
		{"manual", ""},
		{"timestamp-wins", ""},
		{"merge-markers", ""},
		{"", "ours"},
		{"bogus-strategy", "ours"},
	}

	for _, tc := range cases {
		cfg := testConfig(t)
		cfg.ConflictStrategy = tc.strategy
		mgr, git := newTestManager(t, cfg)

		res := mgr.Pull(context.Background())
		if !res.Success || !res.Pulled {
			t.Fatalf("strategy %q: expected successful pull, got %+v", tc.strategy, res)
		}

		pulls := git.callsOf("pull")
		if len(pulls) != 1 {
			t.Fatalf("strategy %q: expected 1 pull call, got %d", tc.strategy, len(pulls))
		}
		args := strings.Join(pulls[0], " ")
		if tc.directive == "" {
			if strings.Contains(args, "-X") {
				t.Errorf("strategy %q: unexpected merge directive in %q", tc.strategy, args)
			}
		} else {
			want := "-X " + tc.directive
			if !strings.Contains(args, want) {
				t.Errorf("strategy %q: expected %q in %q", tc.strategy, want, args)
			}
		}
		if !strings.HasSuffix(args, "origin main") {
			t.Errorf("strategy %q: pull should target origin main, got %q", tc.strategy, args)
		}
	}
}

func TestPull_RemoteBranchMissing(t *testing.T) {
	cfg := testConfig(t)
	mgr, git := newTestManager(t, cfg)
	git.stub("fetch", "", fmt.Errorf("git fetch: fatal: couldn't find remote ref main"))

	res := mgr.Pull(context.Background())
	if !res.Success {
		t.Fatalf("missing remote branch must not fail: %s", res.Error)
	}
	if res.Pulled {
		t.Error("nothing was pulled, pulled must be false")
	}
	if len(git.callsOf("pull")) != 0 {
		t.Error("no merge should be attempted when the remote branch is absent")
	}
	// The tracked branch must exist locally afterwards, or push has
	// no ref to publish.
	checkouts := git.callsOf("checkout")
	if len(checkouts) != 1 || strings.Join(checkouts[0], " ") != "checkout -B main" {
		t.Errorf("expected checkout -B main, got %v", checkouts)
	}
}

func TestPull_NoLocalCommits(t *testing.T) {
	cfg := testConfig(t)
	mgr, git := newTestManager(t, cfg)
	git.stub("rev-parse", "", fmt.Errorf("git rev-parse: fatal: Needed a single revision"))

	res := mgr.Pull(context.Background())
	if !res.Success || res.Pulled {
		t.Fatalf("first local sync should succeed with pulled=false, got %+v", res)
	}
	if len(git.callsOf("checkout")) != 1 {
		t.Error("expected the tracked branch to be checked out")
	}
	if len(git.callsOf("pull")) != 0 {
		t.Error("no pull should run without local commits")
	}
}

func TestPull_FetchFailure(t *testing.T) {
	cfg := testConfig(t)
	mgr, git := newTestManager(t, cfg)
	git.stub("fetch", "", fmt.Errorf("git fetch: fatal: unable to access remote"))

	res := mgr.Pull(context.Background())
	if res.Success {
		t.Fatal("network failure must fail the pull")
	}
	if res.Error == "" {
		t.Error("failure result must carry an error")
	}
	if res.Pulled || res.Committed || res.Pushed {
		t.Error("failure result must leave all phase booleans false")
	}
}

// --- Commit ---

func TestCommit_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoCommit = boolPtr(false)
	mgr, git := newTestManager(t, cfg)

	res := mgr.Commit(context.Background(), "")
	if !res.Success || res.Committed {
		t.Fatalf("disabled commit should be a no-op success, got %+v", res)
	}
	if git.callCount() != 0 {
		t.Error("disabled commit must not invoke git")
	}
}

func TestCommit_CleanTreeIdempotent(t *testing.T) {
	cfg := testConfig(t)
	mgr, git := newTestManager(t, cfg)
	git.stub("status", " M memory/notes.md\n", nil)

	first := mgr.Commit(context.Background(), "")
	if !first.Success || !first.Committed {
		t.Fatalf("first commit should capture changes, got %+v", first)
	}

	// Nothing changed since: status is now clean.
	git.stub("status", "", nil)
	second := mgr.Commit(context.Background(), "")
	if !second.Success {
		t.Fatalf("clean commit must not fail: %s", second.Error)
	}
	if second.Committed {
		t.Error("second commit with no changes must report committed=false")
	}
}

func TestCommit_PathFilters(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths = []string{"docs/**"}
	cfg.ExcludePaths = []string{"docs/draft/**"}
	mgr, git := newTestManager(t, cfg)
	git.stub("status", " M docs/draft/x.md\n M docs/public/x.md\n", nil)

	res := mgr.Commit(context.Background(), "")
	if !res.Success || !res.Committed {
		t.Fatalf("expected commit, got %+v", res)
	}

	adds := git.callsOf("add")
	if len(adds) != 1 {
		t.Fatalf("expected 1 add call, got %d", len(adds))
	}
	if got := strings.Join(adds[0], " "); got != "add -- docs/**" {
		t.Errorf("add call = %q, want add -- docs/**", got)
	}

	resets := git.callsOf("reset")
	if len(resets) != 1 {
		t.Fatalf("expected 1 reset call, got %d", len(resets))
	}
	if got := strings.Join(resets[0], " "); !strings.HasSuffix(got, "-- docs/draft/**") {
		t.Errorf("reset call = %q, want suffix -- docs/draft/**", got)
	}

	// The change list reflects all dirty paths before filtering.
	want := []string{"docs/draft/x.md", "docs/public/x.md"}
	if len(res.Changes) != len(want) {
		t.Fatalf("changes = %v, want %v", res.Changes, want)
	}
	for i, p := range want {
		if res.Changes[i] != p {
			t.Errorf("changes[%d] = %q, want %q", i, res.Changes[i], p)
		}
	}
}

func TestCommit_ExcludeAppliedAfterStaging(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExcludePaths = []string{"secrets/**"}
	mgr, git := newTestManager(t, cfg)
	git.stub("status", " M secrets/token.txt\n M memory/notes.md\n", nil)

	res := mgr.Commit(context.Background(), "")
	if !res.Success || !res.Committed {
		t.Fatalf("expected commit, got %+v", res)
	}

	var addIdx, resetIdx = -1, -1
	git.mu.Lock()
	for i, c := range git.calls {
		switch c[0] {
		case "add":
			addIdx = i
		case "reset":
			resetIdx = i
		}
	}
	git.mu.Unlock()

	if addIdx == -1 || resetIdx == -1 {
		t.Fatal("expected both staging and unstaging calls")
	}
	if resetIdx < addIdx {
		t.Error("exclude patterns must be applied after staging")
	}
}

func TestCommit_MessageTemplate(t *testing.T) {
	msg := buildCommitMessage("backup {timestamp}", time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC))
	if msg != "backup 2026-08-31T10:30:00Z" {
		t.Errorf("message = %q", msg)
	}

	// Only the first occurrence is substituted.
	msg = buildCommitMessage("{timestamp} {timestamp}", time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC))
	if !strings.Contains(msg, "{timestamp}") {
		t.Errorf("second placeholder should remain, got %q", msg)
	}

	cfgMsg := buildCommitMessage(config.DefaultCommitMessage, time.Now())
	if !strings.HasPrefix(cfgMsg, "chore: agent memory sync ") {
		t.Errorf("default message = %q", cfgMsg)
	}
}

func TestCommit_MessageOverrideWins(t *testing.T) {
	cfg := testConfig(t)
	cfg.CommitMessage = "backup {timestamp}"
	mgr, git := newTestManager(t, cfg)
	git.stub("status", " M memory/notes.md\n", nil)

	res := mgr.Commit(context.Background(), "manual checkpoint")
	if !res.Committed {
		t.Fatalf("expected commit, got %+v", res)
	}

	commits := git.callsOf("commit")
	if len(commits) != 1 {
		t.Fatalf("expected 1 commit call, got %d", len(commits))
	}
	if got := commits[0][len(commits[0])-1]; got != "manual checkpoint" {
		t.Errorf("commit message = %q, want the caller override", got)
	}
}

func TestCommit_TemplatedMessageFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.CommitMessage = "backup {timestamp}"
	mgr, git := newTestManager(t, cfg)
	git.stub("status", " M memory/notes.md\n", nil)

	res := mgr.Commit(context.Background(), "")
	if !res.Committed {
		t.Fatalf("expected commit, got %+v", res)
	}

	commits := git.callsOf("commit")
	msg := commits[0][len(commits[0])-1]
	if !strings.HasPrefix(msg, "backup ") {
		t.Fatalf("message = %q", msg)
	}
	ts := strings.TrimPrefix(msg, "backup ")
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("timestamp %q is not RFC 3339: %v", ts, err)
	}
}

func TestCommit_NothingStagedAfterFilters(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExcludePaths = []string{"**"}
	mgr, git := newTestManager(t, cfg)
	git.stub("status", " M memory/notes.md\n", nil)
	git.stub("commit", "", fmt.Errorf("git commit: nothing to commit, working tree clean"))

	res := mgr.Commit(context.Background(), "")
	if !res.Success {
		t.Fatalf("fully filtered commit should be a no-op success: %s", res.Error)
	}
	if res.Committed {
		t.Error("nothing was committed")
	}
}

func TestCommit_IncludeMatchesNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths = []string{"docs/**", "memory/**"}
	mgr, git := newTestManager(t, cfg)
	git.stub("status", " M scratch/tmp.txt\n", nil)
	git.stub("add -- docs/**", "", fmt.Errorf("git add: fatal: pathspec 'docs/**' did not match any files"))
	git.stub("add -- memory/**", "", fmt.Errorf("git add: fatal: pathspec 'memory/**' did not match any files"))
	git.stub("commit", "", fmt.Errorf("git commit: nothing to commit, working tree clean"))

	res := mgr.Commit(context.Background(), "")
	if !res.Success {
		t.Fatalf("includes matching nothing should be a no-op success: %s", res.Error)
	}
	if res.Committed {
		t.Error("nothing was committed")
	}
}

func TestCommit_IncludePartialMatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths = []string{"docs/**", "memory/**"}
	mgr, git := newTestManager(t, cfg)
	git.stub("status", " M memory/notes.md\n", nil)
	git.stub("add -- docs/**", "", fmt.Errorf("git add: fatal: pathspec 'docs/**' did not match any files"))

	res := mgr.Commit(context.Background(), "")
	if !res.Success || !res.Committed {
		t.Fatalf("matching include must still commit, got %+v", res)
	}
	if len(git.callsOf("add")) != 2 {
		t.Error("every include pattern must be attempted")
	}
}

// --- Push ---

func TestPush_Disabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoPush = boolPtr(false)
	mgr, git := newTestManager(t, cfg)

	res := mgr.Push(context.Background())
	if !res.Success || res.Pushed {
		t.Fatalf("disabled push should be a no-op success, got %+v", res)
	}
	if git.callCount() != 0 {
		t.Error("disabled push must not invoke git")
	}
}

func TestPush_SetsUpstream(t *testing.T) {
	cfg := testConfig(t)
	mgr, git := newTestManager(t, cfg)

	res := mgr.Push(context.Background())
	if !res.Success || !res.Pushed {
		t.Fatalf("expected push, got %+v", res)
	}

	pushes := git.callsOf("push")
	if len(pushes) != 1 {
		t.Fatalf("expected 1 push call, got %d", len(pushes))
	}
	if got := strings.Join(pushes[0], " "); got != "push -u origin main" {
		t.Errorf("push call = %q, want push -u origin main", got)
	}
}

func TestPush_Failure(t *testing.T) {
	cfg := testConfig(t)
	mgr, git := newTestManager(t, cfg)
	git.stub("push", "", fmt.Errorf("git push: ! [rejected] main -> main (non-fast-forward)"))

	res := mgr.Push(context.Background())
	if res.Success {
		t.Fatal("rejected push must fail")
	}
	if res.Error == "" || res.Pushed {
		t.Errorf("failure invariants violated: %+v", res)
	}
}

// --- Init ---

func TestInit_FreshWorkspace(t *testing.T) {
	cfg := testConfig(t)
	mgr, git := newTestManager(t, cfg)

	if err := mgr.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	if len(git.callsOf("init")) != 1 {
		t.Error("expected git init")
	}
	checkouts := git.callsOf("checkout")
	if len(checkouts) != 1 || strings.Join(checkouts[0], " ") != "checkout -B main" {
		t.Errorf("fresh init must create the tracked branch, got %v", checkouts)
	}
	remotes := git.callsOf("remote")
	if len(remotes) != 1 || strings.Join(remotes[0], " ") != "remote add origin "+cfg.Repository {
		t.Errorf("remote calls = %v", remotes)
	}
	configs := git.callsOf("config")
	if len(configs) != 2 {
		t.Fatalf("expected identity to be applied, got %v", configs)
	}
	if configs[0][1] != "user.name" || configs[0][2] != config.DefaultAuthorName {
		t.Errorf("user.name call = %v", configs[0])
	}
	if configs[1][1] != "user.email" || configs[1][2] != config.DefaultAuthorEmail {
		t.Errorf("user.email call = %v", configs[1])
	}
}

func TestInit_ExistingRepoUpdatesRemote(t *testing.T) {
	cfg := testConfig(t)
	mkGitDir(t, cfg.Workspace)
	mgr, git := newTestManager(t, cfg)
	git.stub("remote get-url origin", "git@example.com:old/location.git\n", nil)

	if err := mgr.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	if len(git.callsOf("init")) != 0 {
		t.Error("existing repo must not be re-initialized")
	}
	var sawSetURL bool
	for _, c := range git.callsOf("remote") {
		if len(c) > 1 && c[1] == "set-url" {
			sawSetURL = true
			if c[len(c)-1] != cfg.Repository {
				t.Errorf("set-url target = %q", c[len(c)-1])
			}
		}
	}
	if !sawSetURL {
		t.Error("expected origin URL to be updated")
	}
	if len(git.callsOf("config")) != 2 {
		t.Error("identity must be reapplied on existing repos")
	}
}

func TestInit_ExistingRepoMatchingRemote(t *testing.T) {
	cfg := testConfig(t)
	mkGitDir(t, cfg.Workspace)
	mgr, git := newTestManager(t, cfg)
	git.stub("remote get-url origin", cfg.Repository+"\n", nil)

	if err := mgr.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	for _, c := range git.callsOf("remote") {
		if len(c) > 1 && (c[1] == "set-url" || c[1] == "add") {
			t.Errorf("matching remote must not be touched: %v", c)
		}
	}
}

func TestInit_ExistingRepoMissingOrigin(t *testing.T) {
	cfg := testConfig(t)
	mkGitDir(t, cfg.Workspace)
	mgr, git := newTestManager(t, cfg)
	git.stub("remote get-url origin", "", fmt.Errorf("git remote: error: No such remote 'origin'"))

	if err := mgr.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	var sawAdd bool
	for _, c := range git.callsOf("remote") {
		if len(c) > 1 && c[1] == "add" {
			sawAdd = true
		}
	}
	if !sawAdd {
		t.Error("expected origin to be registered")
	}
}

func TestInit_PropagatesFailure(t *testing.T) {
	cfg := testConfig(t)
	mgr, git := newTestManager(t, cfg)
	git.stub("init", "", fmt.Errorf("git init: permission denied"))

	if err := mgr.Init(context.Background()); err == nil {
		t.Fatal("init failure must propagate as an error")
	}
}

// --- Sync pipeline ---

func TestSync_AllPhasesDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoPull = boolPtr(false)
	cfg.AutoCommit = boolPtr(false)
	cfg.AutoPush = boolPtr(false)
	mgr, git := newTestManager(t, cfg)

	res := mgr.Sync(context.Background(), "")
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if res.Pulled || res.Committed || res.Pushed {
		t.Errorf("all phases disabled, got %+v", res)
	}
	if git.callCount() != 0 {
		t.Errorf("no git subprocess should run, got %d calls", git.callCount())
	}
}

func TestSync_ShortCircuitOnPullFailure(t *testing.T) {
	cfg := testConfig(t)
	mgr, git := newTestManager(t, cfg)
	git.stub("fetch", "", fmt.Errorf("git fetch: fatal: unable to access remote"))

	res := mgr.Sync(context.Background(), "")
	if res.Success {
		t.Fatal("pull failure must fail the pipeline")
	}
	if !strings.Contains(res.Error, "unable to access remote") {
		t.Errorf("pipeline must return the pull failure unchanged, got %q", res.Error)
	}
	if len(git.callsOf("status")) != 0 {
		t.Error("commit must not run after a pull failure")
	}
	if len(git.callsOf("push")) != 0 {
		t.Error("push must not run after a pull failure")
	}
}

func TestSync_ShortCircuitOnCommitFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoPull = boolPtr(false)
	mgr, git := newTestManager(t, cfg)
	git.stub("status", " M memory/notes.md\n", nil)
	git.stub("commit", "", fmt.Errorf("git commit: fatal: unable to write new index file"))

	res := mgr.Sync(context.Background(), "")
	if res.Success {
		t.Fatal("commit failure must fail the pipeline")
	}
	if len(git.callsOf("push")) != 0 {
		t.Error("push must not run after a commit failure")
	}
}

func TestSync_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoPull = boolPtr(false)
	mgr, git := newTestManager(t, cfg)
	git.stub("status", " M memory/notes.md\n", nil)

	res := mgr.Sync(context.Background(), "")
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if res.Pulled {
		t.Error("pull was disabled")
	}
	if !res.Committed || !res.Pushed {
		t.Errorf("expected commit and push, got %+v", res)
	}
	if len(res.Changes) != 1 || res.Changes[0] != "memory/notes.md" {
		t.Errorf("changes = %v, want [memory/notes.md]", res.Changes)
	}
}

func TestSync_CoalescesOverlappingRuns(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoPull = boolPtr(false)
	cfg.AutoPush = boolPtr(false)
	mgr, git := newTestManager(t, cfg)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	git.onCall = func(args []string) {
		if args[0] == "status" {
			once.Do(func() { close(started) })
			<-release
		}
	}

	results := make(chan Result, 2)
	go func() { results <- mgr.Sync(context.Background(), "") }()
	<-started
	go func() { results <- mgr.Sync(context.Background(), "") }()
	time.Sleep(50 * time.Millisecond)
	close(release)

	first := <-results
	second := <-results
	if !first.Success || !second.Success {
		t.Fatalf("results: %+v / %+v", first, second)
	}
	if got := len(git.callsOf("status")); got != 1 {
		t.Errorf("overlapping syncs must share one run, saw %d status queries", got)
	}
}

func mkGitDir(t *testing.T, workspace string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(workspace, ".git"), 0755); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}
}
