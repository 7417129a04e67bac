package term

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"loom/internal/event"
	"loom/internal/logging"
	"loom/internal/metrics"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrCapacityExceeded  = errors.New("session capacity exceeded")
	ErrProcessSpawnError = errors.New("process spawn failed")
)

// SessionEventKind marks lifecycle transitions published by the registry.
type SessionEventKind int

const (
	SessionSpawned SessionEventKind = iota
	SessionCrashed
	SessionClosed
)

func (k SessionEventKind) String() string {
	switch k {
	case SessionSpawned:
		return "spawned"
	case SessionCrashed:
		return "crashed"
	default:
		return "closed"
	}
}

type SessionEvent struct {
	Kind      SessionEventKind
	SessionID string
	ExitCode  int
}

type SpawnSpec struct {
	ID      string // optional; a fresh id is generated when empty
	Title   string
	Command string
	Args    []string
	Dir     string
	Env     []string
}

const defaultTerminationGrace = 3 * time.Second

type RegistryOptions struct {
	Shell           string
	MaxSessions     int
	ScrollbackLines int
	Grace           time.Duration
	PtyFactory      PtyFactory
	Clock           Clock
	Logger          *logging.Logger
	Metrics         *metrics.Registry
}

// Registry owns the live session set and enforces the capacity bound.
// Lifecycle transitions are published on Events for the coordinating loop.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	shell      string
	max        int
	scrollback int
	grace      time.Duration
	factory    PtyFactory
	clock      Clock
	logger     *logging.Logger
	metrics    *metrics.Registry
	events     *event.Bus[SessionEvent]
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Shell == "" {
		opts.Shell = DefaultShell()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10
	}
	if opts.ScrollbackLines <= 0 {
		opts.ScrollbackLines = DefaultScrollbackLines
	}
	if opts.Grace <= 0 {
		opts.Grace = defaultTerminationGrace
	}
	if opts.PtyFactory == nil {
		opts.PtyFactory = DefaultPtyFactory()
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(nil, logging.LevelInfo)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default
	}
	return &Registry{
		sessions:   make(map[string]*Session),
		shell:      opts.Shell,
		max:        opts.MaxSessions,
		scrollback: opts.ScrollbackLines,
		grace:      opts.Grace,
		factory:    opts.PtyFactory,
		clock:      opts.Clock,
		logger:     opts.Logger.With(map[string]string{"component": "term"}),
		metrics:    opts.Metrics,
		events: event.NewBus[SessionEvent](context.Background(), event.BusOptions{
			Name: "session_events",
		}),
	}
}

// Events exposes lifecycle transitions for subscribers.
func (r *Registry) Events() *event.Bus[SessionEvent] {
	return r.events
}

// Spawn starts a new session. It fails with ErrCapacityExceeded when the
// live count is at the maximum, and with ErrProcessSpawnError when the
// child cannot be started; neither changes registry state.
func (r *Registry) Spawn(spec SpawnSpec) (*Session, error) {
	command := spec.Command
	if command == "" {
		command = r.shell
	}

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %q already exists", id)
	}
	if r.liveCountLocked() >= r.max {
		r.mu.Unlock()
		r.metrics.IncSpawnRejected()
		return nil, ErrCapacityExceeded
	}
	// Reserve the slot so concurrent spawns cannot overshoot the cap
	// while the PTY starts.
	r.sessions[id] = nil
	r.mu.Unlock()

	pty, cmd, err := r.factory.Start(command, spec.Args, spec.Dir, spec.Env)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		r.logger.Error("spawn failed", map[string]string{
			"session": id,
			"command": command,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrProcessSpawnError, err)
	}

	title := spec.Title
	if title == "" {
		title = command
	}
	session := newSession(id, title, spec.Dir, pty, cmd, r.clock.Now(), r.scrollback, r.handleExit)

	r.mu.Lock()
	r.sessions[id] = session
	r.mu.Unlock()

	r.metrics.IncSessionSpawned()
	r.logger.Info("session spawned", map[string]string{
		"session": id,
		"command": command,
		"dir":     spec.Dir,
	})
	r.events.Publish(SessionEvent{Kind: SessionSpawned, SessionID: id})
	return session, nil
}

// handleExit runs when a session's child dies without a close request.
func (r *Registry) handleExit(id string, exitCode int) {
	r.metrics.IncSessionCrashed()
	r.logger.Warn("session process exited unexpectedly", map[string]string{
		"session":   id,
		"exit_code": fmt.Sprintf("%d", exitCode),
	})
	r.events.Publish(SessionEvent{Kind: SessionCrashed, SessionID: id, ExitCode: exitCode})
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || session == nil {
		return nil, false
	}
	return session, ok
}

// List returns session views ordered by creation time.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, session := range r.sessions {
		if session != nil {
			infos = append(infos, session.Info())
		}
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// LiveCount is the number of sessions that still hold a PTY.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveCountLocked()
}

func (r *Registry) liveCountLocked() int {
	count := 0
	for _, session := range r.sessions {
		if session == nil || session.State() != StateClosed {
			count++
		}
	}
	return count
}

// Close terminates the session and removes it once the process is reaped.
// It blocks for up to the grace window; the session stays listed in the
// Closing state until removal, so callers can observe the transition.
func (r *Registry) Close(id string) error {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok || session == nil {
		return ErrSessionNotFound
	}

	closeErr := session.Close(r.grace)

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	r.metrics.IncSessionClosed()
	r.logger.Info("session closed", map[string]string{"session": id})
	r.events.Publish(SessionEvent{Kind: SessionClosed, SessionID: id, ExitCode: session.Info().ExitCode})
	return closeErr
}

// CloseAll tears down every session, used on shutdown.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, session := range r.sessions {
		delete(r.sessions, id)
		if session != nil {
			sessions = append(sessions, session)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Close(r.grace); err != nil {
			errs = append(errs, err)
		}
	}
	r.events.Close()
	return errors.Join(errs...)
}
