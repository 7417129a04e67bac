// Package conflict attributes filesystem changes to sessions and flags
// paths touched by more than one session. The tracker is not safe for
// concurrent use: the coordinating loop is its only caller.
package conflict

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"loom/internal/metrics"
)

const DefaultSettleWindow = 250 * time.Millisecond

// ConflictEvent surfaces once per (path, ownership set) combination.
type ConflictEvent struct {
	Path      string
	Sessions  []string
	Timestamp time.Time
}

// Conflict is a live entry in the snapshot's conflict list.
type Conflict struct {
	Path     string
	Sessions []string
}

type Options struct {
	SettleWindow time.Duration
	Metrics      *metrics.Registry
}

// Tracker maps paths to the sessions that touched them since the path last
// settled. A path is in conflict iff its settled ownership set has two or
// more distinct sessions.
type Tracker struct {
	window  time.Duration
	metrics *metrics.Registry

	// session id -> working directory, used for ancestry attribution.
	sessionDirs map[string]string

	// path -> session id -> last touch.
	owners map[string]map[string]time.Time

	// path -> time of the most recent unsettled event.
	lastEvent map[string]time.Time

	// path -> ownership-set key already reported, for dedup.
	reported map[string]string

	conflicts map[string][]string
}

func NewTracker(opts Options) *Tracker {
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = DefaultSettleWindow
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default
	}
	return &Tracker{
		window:      opts.SettleWindow,
		metrics:     opts.Metrics,
		sessionDirs: make(map[string]string),
		owners:      make(map[string]map[string]time.Time),
		lastEvent:   make(map[string]time.Time),
		reported:    make(map[string]string),
		conflicts:   make(map[string][]string),
	}
}

// Register makes the session eligible for attribution of events under dir.
func (t *Tracker) Register(sessionID, dir string) {
	t.sessionDirs[sessionID] = filepath.Clean(dir)
}

// Attribute records a direct observation that the session touched the path.
func (t *Tracker) Attribute(sessionID, path string, now time.Time) {
	path = filepath.Clean(path)
	set := t.owners[path]
	if set == nil {
		set = make(map[string]time.Time)
		t.owners[path] = set
	}
	set[sessionID] = now
	t.lastEvent[path] = now
}

// OnFSEvent routes an event to every session whose working directory is an
// ancestor of the path and returns the attributed session ids.
func (t *Tracker) OnFSEvent(path string, now time.Time) []string {
	path = filepath.Clean(path)

	var touched []string
	for sessionID, dir := range t.sessionDirs {
		if isAncestor(dir, path) {
			touched = append(touched, sessionID)
		}
	}
	if len(touched) == 0 {
		return nil
	}

	set := t.owners[path]
	if set == nil {
		set = make(map[string]time.Time)
		t.owners[path] = set
	}
	for _, sessionID := range touched {
		set[sessionID] = now
	}
	t.lastEvent[path] = now
	sort.Strings(touched)
	return touched
}

func isAncestor(dir, path string) bool {
	if dir == "" || dir == "." {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SettleDue evaluates every path whose last event is at least a settle
// window old. Ownership entries idle for a full window are evicted, the
// conflict rule is applied to what remains, and fresh conflicts are
// reported once per ownership-set combination.
func (t *Tracker) SettleDue(now time.Time) []ConflictEvent {
	var events []ConflictEvent
	for path, last := range t.lastEvent {
		if now.Sub(last) < t.window {
			continue
		}
		delete(t.lastEvent, path)
		if ev, ok := t.settle(path, now); ok {
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

func (t *Tracker) settle(path string, now time.Time) (ConflictEvent, bool) {
	set := t.owners[path]

	// Evaluate the conflict rule on the set as it stood at settle time,
	// then evict entries that have been idle for a full window.
	members := make([]string, 0, len(set))
	for sessionID := range set {
		members = append(members, sessionID)
	}
	sort.Strings(members)

	for sessionID, touched := range set {
		if now.Sub(touched) >= t.window {
			delete(set, sessionID)
		}
	}
	if len(set) == 0 {
		delete(t.owners, path)
	}

	if len(members) < 2 {
		delete(t.reported, path)
		delete(t.conflicts, path)
		return ConflictEvent{}, false
	}

	t.conflicts[path] = members
	key := strings.Join(members, "\x00")
	if t.reported[path] == key {
		return ConflictEvent{}, false
	}
	t.reported[path] = key
	t.metrics.IncConflictReported()
	return ConflictEvent{Path: path, Sessions: members, Timestamp: now}, true
}

// DropSession removes every trace of the session; affected paths re-settle
// on the next SettleDue pass.
func (t *Tracker) DropSession(sessionID string, now time.Time) {
	delete(t.sessionDirs, sessionID)
	resettle := make(map[string]bool)
	for path, set := range t.owners {
		if _, ok := set[sessionID]; !ok {
			continue
		}
		delete(set, sessionID)
		resettle[path] = true
	}
	for path, members := range t.conflicts {
		for _, member := range members {
			if member == sessionID {
				resettle[path] = true
				break
			}
		}
	}
	// Force re-evaluation so conflicts this session was part of resolve
	// at the next settle.
	for path := range resettle {
		if _, pending := t.lastEvent[path]; !pending {
			t.lastEvent[path] = now.Add(-t.window)
		}
	}
}

// Conflicts returns the current conflict list, sorted by path.
func (t *Tracker) Conflicts() []Conflict {
	out := make([]Conflict, 0, len(t.conflicts))
	for path, members := range t.conflicts {
		out = append(out, Conflict{Path: path, Sessions: append([]string(nil), members...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Owners reports the current (possibly unsettled) ownership set of a path.
func (t *Tracker) Owners(path string) []string {
	set := t.owners[filepath.Clean(path)]
	members := make([]string, 0, len(set))
	for sessionID := range set {
		members = append(members, sessionID)
	}
	sort.Strings(members)
	return members
}
