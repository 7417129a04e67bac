// Package watch delivers debounced filesystem events for the project tree
// and every session worktree. A lost fsnotify subscription degrades to
// periodic polling instead of going silent.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"loom/internal/logging"
	"loom/internal/metrics"
)

type Kind int

const (
	Created Kind = iota
	Modified
	Removed
	Renamed
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	default:
		return "modified"
	}
}

// Event is one settled filesystem change.
type Event struct {
	Path      string
	Kind      Kind
	Timestamp time.Time
}

const (
	DefaultDebounce     = 250 * time.Millisecond
	defaultPollInterval = 2 * time.Second
	eventChannelSize    = 256
	maxRestartBackoff   = 30 * time.Second
)

type Options struct {
	Debounce     time.Duration
	PollInterval time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.Registry
}

type debounceEntry struct {
	timer *time.Timer
	event Event
}

// Watcher watches one or more directory trees recursively. Events are
// debounced per path and delivered on a bounded channel; when the channel
// is full the event is dropped and counted.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	roots    map[string]bool
	pending  map[string]debounceEntry
	closed   bool
	debounce time.Duration
	pollEach time.Duration

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	degraded  atomic.Bool

	logger  *logging.Logger
	metrics *metrics.Registry
}

func New(opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(nil, logging.LevelInfo)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default
	}

	w := &Watcher{
		roots:    make(map[string]bool),
		pending:  make(map[string]debounceEntry),
		debounce: opts.Debounce,
		pollEach: opts.PollInterval,
		events:   make(chan Event, eventChannelSize),
		done:     make(chan struct{}),
		logger:   opts.Logger.With(map[string]string{"component": "watch"}),
		metrics:  opts.Metrics,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Start degraded rather than failing the workspace.
		w.logger.Warn("fsnotify unavailable, using polling", map[string]string{"error": err.Error()})
		w.degraded.Store(true)
		go w.pollLoop()
		return w, nil
	}
	w.fsw = fsw
	go w.run(fsw)
	return w, nil
}

// Events is the delivery channel, closed on Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Degraded reports whether the watcher has fallen back to polling.
func (w *Watcher) Degraded() bool {
	return w.degraded.Load()
}

// AddRoot starts watching a directory tree. Called for the project root at
// startup and for each worktree as it is created.
func (w *Watcher) AddRoot(root string) error {
	root = filepath.Clean(root)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.roots[root] = true
	fsw := w.fsw
	w.mu.Unlock()

	if fsw == nil {
		return nil
	}
	return addTree(fsw, root)
}

// RemoveRoot stops watching a tree, used when a worktree is destroyed.
func (w *Watcher) RemoveRoot(root string) {
	root = filepath.Clean(root)

	w.mu.Lock()
	delete(w.roots, root)
	fsw := w.fsw
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		_ = fsw.Remove(path)
		return nil
	})
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if name := entry.Name(); name == ".git" && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) run(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				w.restart()
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				w.restart()
				return
			}
			if err != nil {
				w.logger.Warn("watch error", map[string]string{"error": err.Error()})
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	kind, ok := mapOp(ev.Op)
	if !ok {
		return
	}

	// New directories join the watch before their contents change.
	if kind == Created {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			fsw := w.fsw
			w.mu.Unlock()
			if fsw != nil {
				_ = addTree(fsw, ev.Name)
			}
		}
	}

	w.schedule(Event{Path: ev.Name, Kind: kind, Timestamp: time.Now().UTC()})
}

func mapOp(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return Created, true
	case op.Has(fsnotify.Write):
		return Modified, true
	case op.Has(fsnotify.Remove):
		return Removed, true
	case op.Has(fsnotify.Rename):
		return Renamed, true
	default:
		return Modified, false
	}
}

// schedule coalesces events per path: the timer resets on every new event
// and only the latest event survives to delivery.
func (w *Watcher) schedule(event Event) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	entry := w.pending[event.Path]
	entry.event = event
	if entry.timer == nil {
		path := event.Path
		entry.timer = time.AfterFunc(w.debounce, func() {
			w.flush(path)
		})
	} else {
		entry.timer.Reset(w.debounce)
	}
	w.pending[event.Path] = entry
	w.mu.Unlock()
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	entry, ok := w.pending[path]
	if !ok || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	// Send under the lock so Close cannot close the channel mid-send; the
	// send is non-blocking so the lock is never held up.
	select {
	case w.events <- entry.event:
		w.metrics.IncFSEventDelivered()
	default:
		w.metrics.IncFSEventDropped()
	}
	w.mu.Unlock()
}

// restart rebuilds the fsnotify subscription with backoff; if it cannot be
// rebuilt the watcher degrades to polling permanently.
func (w *Watcher) restart() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
		w.fsw = nil
	}
	roots := make([]string, 0, len(w.roots))
	for root := range w.roots {
		roots = append(roots, root)
	}
	w.mu.Unlock()

	backoff := time.Second
	for attempt := 0; attempt < 5; attempt++ {
		select {
		case <-w.done:
			return
		case <-time.After(backoff):
		}

		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			ok := true
			for _, root := range roots {
				if addErr := addTree(fsw, root); addErr != nil {
					ok = false
					break
				}
			}
			if ok {
				w.mu.Lock()
				if w.closed {
					w.mu.Unlock()
					_ = fsw.Close()
					return
				}
				w.fsw = fsw
				w.mu.Unlock()
				w.logger.Info("watch subscription restored", nil)
				go w.run(fsw)
				return
			}
			_ = fsw.Close()
		}

		backoff *= 2
		if backoff > maxRestartBackoff {
			backoff = maxRestartBackoff
		}
	}

	w.logger.Warn("watch subscription lost, degrading to polling", nil)
	w.degraded.Store(true)
	go w.pollLoop()
}

// pollLoop scans the watched trees on a timer and synthesizes events from
// modification-time changes. Coarser than fsnotify but never silent.
func (w *Watcher) pollLoop() {
	seen := make(map[string]time.Time)
	ticker := time.NewTicker(w.pollEach)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
		}

		w.mu.Lock()
		roots := make([]string, 0, len(w.roots))
		for root := range w.roots {
			roots = append(roots, root)
		}
		w.mu.Unlock()

		current := make(map[string]time.Time)
		for _, root := range roots {
			_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if entry.IsDir() {
					if entry.Name() == ".git" && path != root {
						return filepath.SkipDir
					}
					return nil
				}
				info, err := entry.Info()
				if err != nil {
					return nil
				}
				current[path] = info.ModTime()
				return nil
			})
		}

		for path, mod := range current {
			prev, existed := seen[path]
			if !existed {
				if len(seen) > 0 {
					w.schedule(Event{Path: path, Kind: Created, Timestamp: time.Now().UTC()})
				}
			} else if mod.After(prev) {
				w.schedule(Event{Path: path, Kind: Modified, Timestamp: time.Now().UTC()})
			}
		}
		for path := range seen {
			if _, still := current[path]; !still {
				w.schedule(Event{Path: path, Kind: Removed, Timestamp: time.Now().UTC()})
			}
		}
		seen = current
	}
}

func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		for path, entry := range w.pending {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			delete(w.pending, path)
		}
		fsw := w.fsw
		w.fsw = nil
		w.mu.Unlock()

		close(w.done)
		if fsw != nil {
			_ = fsw.Close()
		}
		close(w.events)
	})
}
