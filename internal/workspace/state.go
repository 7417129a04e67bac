package workspace

import (
	"time"

	"loom/internal/conflict"
	"loom/internal/layout"
	"loom/internal/term"
	"loom/internal/worktree"
)

// Mode gates how input is routed by the core loop.
type Mode int

const (
	ModeNormal Mode = iota
	ModeInsert
	ModeCommand
	ModeVisual
)

func (m Mode) String() string {
	switch m {
	case ModeInsert:
		return "insert"
	case ModeCommand:
		return "command"
	case ModeVisual:
		return "visual"
	default:
		return "normal"
	}
}

func ParseMode(name string) Mode {
	switch name {
	case "insert":
		return ModeInsert
	case "command":
		return ModeCommand
	case "visual":
		return ModeVisual
	default:
		return ModeNormal
	}
}

// SessionView is the read-only per-session slice of a snapshot.
type SessionView struct {
	ID        string
	Title     string
	Dir       string
	State     term.SessionState
	ExitCode  int
	Preset    string
	Container layout.ContainerID

	// Worktree status, zero-valued when the session runs without one.
	Branch         string
	MergeStatus    worktree.MergeStatus
	SyncedAt       time.Time
	Degraded       bool
	DestroyPending bool

	// Last repo status query, zero-valued until one runs.
	ChangedFiles    []string
	ConflictedFiles []string
	Ahead           int
	Behind          int
}

// Snapshot is the immutable view handed to the rendering layer after every
// processed message. Maps and slices are fresh copies; holding a snapshot
// across loop turns is safe.
type Snapshot struct {
	Seq           uint64
	Mode          Mode
	CommandBuffer string
	Status        string

	Active   layout.ContainerID
	Sessions []SessionView
	Rects    map[layout.ContainerID]layout.Rect
	Hidden   []layout.ContainerID

	Conflicts []conflict.Conflict

	WatchDegraded bool
}

// SessionByID finds a view in the snapshot.
func (s *Snapshot) SessionByID(id string) (SessionView, bool) {
	for _, view := range s.Sessions {
		if view.ID == id {
			return view, true
		}
	}
	return SessionView{}, false
}
