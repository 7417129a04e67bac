// Package worktree gives each session an isolated git working copy on its
// own branch, keeps it loosely in sync with the base branch, and tears it
// down when the session ends.
package worktree

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"loom/internal/gitcli"
	"loom/internal/logging"
	"loom/internal/metrics"
)

// MergeStatus is the last known relationship between a worktree branch and
// its base.
type MergeStatus int

const (
	StatusClean MergeStatus = iota
	StatusDiverged
	StatusConflictPending
)

func (s MergeStatus) String() string {
	switch s {
	case StatusDiverged:
		return "diverged"
	case StatusConflictPending:
		return "conflict-pending"
	default:
		return "clean"
	}
}

// Worktree is the manager's record for one session's working copy.
type Worktree struct {
	SessionID  string
	Path       string
	Branch     string
	BaseBranch string
	LastSync   time.Time
	Status     MergeStatus
	Degraded   bool

	// Generation invalidates in-flight background work: results stamped
	// with an older generation are discarded by the caller.
	Generation uint64

	failures  int
	nextRetry time.Time
}

// SyncResult is the outcome of one sync pass.
type SyncResult struct {
	SessionID  string
	Status     MergeStatus
	Skipped    bool
	Conflicted []string
	Generation uint64
}

const (
	defaultSyncInterval = 5 * time.Minute
	defaultBranchPrefix = "loom/"
	maxBackoff          = 10 * time.Minute
)

type Options struct {
	Runner       gitcli.Runner
	RepoRoot     string
	Dir          string // where worktrees are created; default <repo>/.loom/worktrees
	BranchPrefix string
	SyncInterval time.Duration
	Logger       *logging.Logger
	Registry     *metrics.Registry
	Clock        func() time.Time
}

// Manager owns every worktree record. Methods are safe to call from the
// background tasks the core loop spawns.
type Manager struct {
	mu       sync.Mutex
	entries  map[string]*Worktree
	runner   gitcli.Runner
	repoRoot string
	dir      string
	prefix   string
	interval time.Duration
	logger   *logging.Logger
	registry *metrics.Registry
	now      func() time.Time
}

func NewManager(opts Options) *Manager {
	if opts.Runner == nil {
		opts.Runner = gitcli.NewExecRunner()
	}
	if opts.Dir == "" {
		opts.Dir = filepath.Join(opts.RepoRoot, ".loom", "worktrees")
	}
	if opts.BranchPrefix == "" {
		opts.BranchPrefix = defaultBranchPrefix
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = defaultSyncInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(nil, logging.LevelInfo)
	}
	if opts.Registry == nil {
		opts.Registry = metrics.Default
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Manager{
		entries:  make(map[string]*Worktree),
		runner:   opts.Runner,
		repoRoot: opts.RepoRoot,
		dir:      opts.Dir,
		prefix:   opts.BranchPrefix,
		interval: opts.SyncInterval,
		logger:   opts.Logger.With(map[string]string{"component": "worktree"}),
		registry: opts.Registry,
		now:      opts.Clock,
	}
}

// Create builds a worktree on a fresh branch derived from the session id.
// Failure is non-fatal to the session; the caller records degraded status.
func (m *Manager) Create(ctx context.Context, sessionID, baseBranch string) (*Worktree, error) {
	if baseBranch == "" {
		baseBranch = gitcli.DefaultBranch(ctx, m.runner, m.repoRoot)
	}

	branch := m.branchName(sessionID)
	path := filepath.Join(m.dir, branch[strings.LastIndex(branch, "/")+1:])

	out, err := m.runner.Combined(ctx, m.repoRoot, "worktree", "add", "-b", branch, path, baseBranch)
	if err != nil {
		gerr := classify("worktree add", out, err)
		m.logger.Error("worktree create failed", map[string]string{
			"session": sessionID,
			"branch":  branch,
			"kind":    gerr.Kind.String(),
		})
		return nil, gerr
	}

	wt := &Worktree{
		SessionID:  sessionID,
		Path:       path,
		Branch:     branch,
		BaseBranch: baseBranch,
		Status:     StatusClean,
	}

	m.mu.Lock()
	m.entries[sessionID] = wt
	m.mu.Unlock()

	m.logger.Info("worktree created", map[string]string{
		"session": sessionID,
		"branch":  branch,
		"path":    path,
	})
	return m.snapshotLocked(sessionID), nil
}

func (m *Manager) branchName(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return m.prefix + short + "-" + uuid.NewString()[:8]
}

// Get returns a copy of the session's worktree record.
func (m *Manager) Get(sessionID string) (*Worktree, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt := m.entries[sessionID]
	if wt == nil {
		return nil, false
	}
	copied := *wt
	return &copied, true
}

// List returns copies of every record.
func (m *Manager) List() []*Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Worktree, 0, len(m.entries))
	for _, wt := range m.entries {
		copied := *wt
		out = append(out, &copied)
	}
	return out
}

// Generation returns the session's current generation for stamping
// background tasks.
func (m *Manager) Generation(sessionID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wt := m.entries[sessionID]; wt != nil {
		return wt.Generation
	}
	return 0
}

// Invalidate bumps the generation so in-flight task results for the session
// are discarded on arrival.
func (m *Manager) Invalidate(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wt := m.entries[sessionID]; wt != nil {
		wt.Generation++
	}
}

// Sync fetches and merges the base branch into the worktree branch. A sync
// inside the configured interval, or inside a failure backoff window, is
// skipped with the last known status.
func (m *Manager) Sync(ctx context.Context, sessionID string) (SyncResult, error) {
	m.mu.Lock()
	wt := m.entries[sessionID]
	if wt == nil {
		m.mu.Unlock()
		return SyncResult{SessionID: sessionID}, ErrNoWorktree
	}
	now := m.now()
	result := SyncResult{SessionID: sessionID, Status: wt.Status, Generation: wt.Generation}
	if !wt.LastSync.IsZero() && now.Sub(wt.LastSync) < m.interval {
		result.Skipped = true
		m.mu.Unlock()
		return result, nil
	}
	if now.Before(wt.nextRetry) {
		result.Skipped = true
		m.mu.Unlock()
		return result, nil
	}
	path := wt.Path
	base := wt.BaseBranch
	m.mu.Unlock()

	mergeRef := base
	headBefore, headErr := m.runner.Output(ctx, path, "rev-parse", "HEAD")
	if gitcli.HasRemote(ctx, m.runner, path) {
		if out, err := m.runner.Combined(ctx, path, "fetch", "origin", base); err != nil {
			gerr := classify("fetch", out, err)
			m.recordSyncFailure(sessionID, gerr)
			m.registry.IncSyncFailed()
			return result, gerr
		}
		mergeRef = "origin/" + base
	}

	out, err := m.runner.Combined(ctx, path, "merge", "--no-edit", mergeRef)
	if err != nil {
		gerr := classify("merge", out, err)
		if gerr.Kind == GitErrorMergeConflict {
			conflicted, _ := gitcli.ConflictedFiles(ctx, m.runner, path)
			m.recordSyncOutcome(sessionID, StatusConflictPending)
			m.registry.IncSyncConflicted()
			result.Status = StatusConflictPending
			result.Conflicted = conflicted
			m.logger.Warn("sync hit merge conflict", map[string]string{
				"session": sessionID,
				"files":   strings.Join(conflicted, ","),
			})
			return result, nil
		}
		m.recordSyncFailure(sessionID, gerr)
		m.registry.IncSyncFailed()
		return result, gerr
	}

	// The merge brought nothing in when HEAD is unchanged. The merge's own
	// output is localized and never inspected.
	status := StatusDiverged
	if headErr == nil {
		before := strings.TrimSpace(string(headBefore))
		if after, err := m.runner.Output(ctx, path, "rev-parse", "HEAD"); err == nil &&
			before != "" && before == strings.TrimSpace(string(after)) {
			status = StatusClean
		}
	}
	m.recordSyncOutcome(sessionID, status)
	if status == StatusClean {
		m.registry.IncSyncClean()
	} else {
		m.registry.IncSyncDiverged()
	}
	result.Status = status
	return result, nil
}

func (m *Manager) recordSyncOutcome(sessionID string, status MergeStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt := m.entries[sessionID]
	if wt == nil {
		return
	}
	wt.Status = status
	wt.LastSync = m.now()
	wt.Degraded = false
	wt.failures = 0
	wt.nextRetry = time.Time{}
}

// recordSyncFailure marks the worktree degraded; network failures get an
// exponential backoff before the next attempt.
func (m *Manager) recordSyncFailure(sessionID string, gerr *GitError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt := m.entries[sessionID]
	if wt == nil {
		return
	}
	wt.Degraded = true
	if !gerr.Retryable() {
		return
	}
	wt.failures++
	backoff := m.interval
	for i := 1; i < wt.failures; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			backoff = maxBackoff
			break
		}
	}
	wt.nextRetry = m.now().Add(backoff)
}

// RepoStatus aggregates the working-copy state of one session's worktree.
type RepoStatus struct {
	SessionID       string
	Changed         []string
	Conflicted      []string
	Ahead           int
	Behind          int
	MergeInProgress bool
}

// Status queries the worktree's uncommitted changes, unmerged paths, and
// divergence from the base branch.
func (m *Manager) Status(ctx context.Context, sessionID string) (RepoStatus, error) {
	m.mu.Lock()
	wt := m.entries[sessionID]
	m.mu.Unlock()

	st := RepoStatus{SessionID: sessionID}
	if wt == nil {
		return st, ErrNoWorktree
	}

	var err error
	if st.Changed, err = gitcli.ChangedFiles(ctx, m.runner, wt.Path); err != nil {
		return st, err
	}
	st.Conflicted, _ = gitcli.ConflictedFiles(ctx, m.runner, wt.Path)
	st.MergeInProgress = gitcli.MergeInProgress(ctx, m.runner, wt.Path)
	if behind, ahead, derr := gitcli.Divergence(ctx, m.runner, wt.Path, wt.BaseBranch, wt.Branch); derr == nil {
		st.Behind = behind
		st.Ahead = ahead
	}
	return st, nil
}

// Commit stages the given paths (everything when empty) and commits them in
// the session's worktree.
func (m *Manager) Commit(ctx context.Context, sessionID, message string, paths []string) error {
	m.mu.Lock()
	wt := m.entries[sessionID]
	m.mu.Unlock()
	if wt == nil {
		return ErrNoWorktree
	}

	addArgs := []string{"add"}
	if len(paths) == 0 {
		addArgs = append(addArgs, "-A")
	} else {
		addArgs = append(addArgs, "--")
		addArgs = append(addArgs, paths...)
	}
	if out, err := m.runner.Combined(ctx, wt.Path, addArgs...); err != nil {
		return classify("add", out, err)
	}

	if message == "" {
		message = fmt.Sprintf("loom: checkpoint %s", m.now().Format(time.RFC3339))
	}
	if out, err := m.runner.Combined(ctx, wt.Path, "commit", "-m", message); err != nil {
		return classify("commit", out, err)
	}

	m.logger.Info("committed worktree changes", map[string]string{
		"session": sessionID,
		"branch":  wt.Branch,
	})
	return nil
}

// Destroy removes the worktree and its branch. A dirty tree defers the
// removal and keeps the record so work is never silently discarded.
func (m *Manager) Destroy(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	wt := m.entries[sessionID]
	if wt != nil {
		wt.Generation++
	}
	m.mu.Unlock()
	if wt == nil {
		return ErrNoWorktree
	}

	dirty, err := gitcli.IsDirty(ctx, m.runner, wt.Path)
	if err == nil && dirty {
		m.logger.Warn("worktree dirty, deferring destroy", map[string]string{
			"session": sessionID,
			"path":    wt.Path,
		})
		return ErrDestroyDeferred
	}

	if out, err := m.runner.Combined(ctx, m.repoRoot, "worktree", "remove", "--force", wt.Path); err != nil {
		return classify("worktree remove", out, err)
	}
	// Branch deletion is best-effort; the worktree itself is gone.
	if out, err := m.runner.Combined(ctx, m.repoRoot, "branch", "-D", wt.Branch); err != nil {
		m.logger.Warn("branch delete failed", map[string]string{
			"session": sessionID,
			"branch":  wt.Branch,
			"output":  strings.TrimSpace(string(out)),
		})
	}

	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()

	m.logger.Info("worktree destroyed", map[string]string{
		"session": sessionID,
		"branch":  wt.Branch,
	})
	return nil
}

// Forget drops the record without touching the filesystem, used after a
// deferred destroy once the user has dealt with the changes.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()
}

// Prune cleans up stale administrative entries left by removed worktrees.
func (m *Manager) Prune(ctx context.Context) error {
	if out, err := m.runner.Combined(ctx, m.repoRoot, "worktree", "prune"); err != nil {
		return classify("worktree prune", out, err)
	}
	return nil
}

func (m *Manager) snapshotLocked(sessionID string) *Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()
	wt := m.entries[sessionID]
	if wt == nil {
		return nil
	}
	copied := *wt
	return &copied
}
