package metrics

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Registry collects workspace counters. All methods are safe on a nil
// receiver so call sites never need guards.
type Registry struct {
	sessionsSpawned   atomic.Int64
	sessionsCrashed   atomic.Int64
	sessionsClosed    atomic.Int64
	spawnsRejected    atomic.Int64
	fsEventsDelivered atomic.Int64
	fsEventsDropped   atomic.Int64
	conflictsReported atomic.Int64
	syncsClean        atomic.Int64
	syncsDiverged     atomic.Int64
	syncsConflicted   atomic.Int64
	syncsFailed       atomic.Int64
	snapshotsEmitted  atomic.Int64
	eventsDropped     atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncSessionSpawned() { r.add(&r.sessionsSpawned) }
func (r *Registry) IncSessionCrashed() { r.add(&r.sessionsCrashed) }
func (r *Registry) IncSessionClosed()  { r.add(&r.sessionsClosed) }
func (r *Registry) IncSpawnRejected()  { r.add(&r.spawnsRejected) }

func (r *Registry) IncFSEventDelivered() { r.add(&r.fsEventsDelivered) }
func (r *Registry) IncFSEventDropped()   { r.add(&r.fsEventsDropped) }

func (r *Registry) IncConflictReported() { r.add(&r.conflictsReported) }

func (r *Registry) IncSyncClean()      { r.add(&r.syncsClean) }
func (r *Registry) IncSyncDiverged()   { r.add(&r.syncsDiverged) }
func (r *Registry) IncSyncConflicted() { r.add(&r.syncsConflicted) }
func (r *Registry) IncSyncFailed()     { r.add(&r.syncsFailed) }

func (r *Registry) IncSnapshotEmitted() { r.add(&r.snapshotsEmitted) }

// AddBusDropped accounts events dropped by bounded bus subscribers.
func (r *Registry) AddBusDropped(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.eventsDropped.Add(n)
}

func (r *Registry) add(counter *atomic.Int64) {
	if r == nil {
		return
	}
	counter.Add(1)
}

// Dump writes a plain-text snapshot of all counters.
func (r *Registry) Dump(w io.Writer) {
	if r == nil || w == nil {
		return
	}
	rows := []struct {
		name  string
		value int64
	}{
		{"sessions_spawned", r.sessionsSpawned.Load()},
		{"sessions_crashed", r.sessionsCrashed.Load()},
		{"sessions_closed", r.sessionsClosed.Load()},
		{"spawns_rejected", r.spawnsRejected.Load()},
		{"fs_events_delivered", r.fsEventsDelivered.Load()},
		{"fs_events_dropped", r.fsEventsDropped.Load()},
		{"conflicts_reported", r.conflictsReported.Load()},
		{"syncs_clean", r.syncsClean.Load()},
		{"syncs_diverged", r.syncsDiverged.Load()},
		{"syncs_conflicted", r.syncsConflicted.Load()},
		{"syncs_failed", r.syncsFailed.Load()},
		{"snapshots_emitted", r.snapshotsEmitted.Load()},
		{"bus_events_dropped", r.eventsDropped.Load()},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s %d\n", row.name, row.value)
	}
}
