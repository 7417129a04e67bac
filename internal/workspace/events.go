package workspace

import (
	"loom/internal/term"
	"loom/internal/watch"
	"loom/internal/worktree"
)

// Message is the only way state reaches the core loop. Every source funnels
// through one channel, so each message is applied to completion before the
// next: user input, session lifecycle, filesystem, and background work all
// arrive the same way.
type Message interface {
	isMessage()
}

// InputMsg carries raw user input from the rendering layer.
type InputMsg struct {
	Data []byte
}

// ResizeMsg reports a new viewport size in cells.
type ResizeMsg struct {
	Cols int
	Rows int
}

// SpawnMsg requests a new session, optionally from a named preset. When
// Split is set the new leaf splits the active container in that orientation
// instead of joining the root level.
type SpawnMsg struct {
	Preset string
	Dir    string
	Split  string // "", "horizontal", or "vertical"
}

// CloseMsg requests closing a session; an empty id targets the active one.
type CloseMsg struct {
	SessionID string
}

// FocusMsg moves focus in a direction.
type FocusMsg struct {
	Direction string
}

// SaveMsg persists the workspace document immediately.
type SaveMsg struct{}

// QuitMsg begins an orderly shutdown.
type QuitMsg struct{}

// sessionMsg wraps a registry lifecycle event.
type sessionMsg struct {
	event term.SessionEvent
}

// fsMsg wraps a settled filesystem event.
type fsMsg struct {
	event watch.Event
}

// settleTickMsg drives conflict settle evaluation.
type settleTickMsg struct{}

// syncTickMsg drives the periodic worktree sync pass.
type syncTickMsg struct{}

// taskKind labels background work so results route correctly.
type taskKind int

const (
	taskSessionSpawn taskKind = iota
	taskSessionClose
	taskWorktreeCreate
	taskWorktreeSync
	taskWorktreeCommit
	taskWorktreeDestroy
	taskWorktreeStatus
)

// taskMsg is the completion of one background task. Generation guards
// against stale results: a task started before the session moved on is
// discarded when its generation no longer matches.
type taskMsg struct {
	kind       taskKind
	sessionID  string
	generation uint64
	err        error
	created    *worktree.Worktree
	sync       worktree.SyncResult
	repo       worktree.RepoStatus
}

func (InputMsg) isMessage()      {}
func (ResizeMsg) isMessage()     {}
func (SpawnMsg) isMessage()      {}
func (CloseMsg) isMessage()      {}
func (FocusMsg) isMessage()      {}
func (SaveMsg) isMessage()       {}
func (QuitMsg) isMessage()       {}
func (sessionMsg) isMessage()    {}
func (fsMsg) isMessage()         {}
func (settleTickMsg) isMessage() {}
func (syncTickMsg) isMessage()   {}
func (taskMsg) isMessage()       {}
