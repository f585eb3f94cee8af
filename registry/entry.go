package registry

import "sync"

// Status describes the lifecycle of a registry entry's value.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Source records which delivery timeline produced an entry's current value.
type Source string

const (
	SourceSSR       Source = "ssr"
	SourceCache     Source = "cache"
	SourceWebSocket Source = "websocket"
)

// Snapshot is a read-only projection of one entry. Call sites and the
// devtools bridge only ever see snapshots; the entry itself is mutated
// exclusively by the Registry's own methods.
type Snapshot struct {
	Key      string
	Value    any
	Status   Status
	Err      error
	Source   Source
	RefCount int
	Updates  uint64
	Live     bool
}

// patch is one pending optimistic update, ordered by application.
type patch struct {
	id     uint64
	update func(current any) any
}

type observer struct {
	id uint64
	fn func(Snapshot)
}

// entry is the shared, ref-counted holder of one query's state. All fields
// are guarded by mu; value is always baseline with pending patches folded in.
//
// notifyMu serializes observer delivery. Writers acquire it while still
// holding mu, so snapshots are always delivered in the order they were
// captured; without the handover two concurrent writers could notify
// inverted and leave observers on the older snapshot for good.
type entry struct {
	mu       sync.Mutex
	notifyMu sync.Mutex

	key         string
	baseline    any
	baselineSet bool
	value       any
	status      Status
	err         error
	source      Source
	refCount    int
	updates     uint64
	evicted     bool

	// live subscription bookkeeping
	unsubscribe func()
	attaching   bool

	patches      []patch
	observers    []observer
	nextObserver uint64
}

func newEntry(key string) *entry {
	return &entry{
		key:    key,
		status: StatusPending,
	}
}

// snapshotLocked builds a Snapshot. Callers must hold e.mu.
func (e *entry) snapshotLocked() Snapshot {
	return Snapshot{
		Key:      e.key,
		Value:    e.value,
		Status:   e.status,
		Err:      e.err,
		Source:   e.source,
		RefCount: e.refCount,
		Updates:  e.updates,
		Live:     e.unsubscribe != nil,
	}
}

// observersLocked copies the observer callbacks in registration order.
// Callers must hold e.mu; the returned callbacks are invoked after mu is
// released (under notifyMu only) so observers can read the registry freely.
func (e *entry) observersLocked() []func(Snapshot) {
	if len(e.observers) == 0 {
		return nil
	}
	fns := make([]func(Snapshot), len(e.observers))
	for i, o := range e.observers {
		fns[i] = o.fn
	}
	return fns
}

// recomputeLocked folds the pending patch stack onto the authoritative
// baseline. Removing one patch therefore restores exactly the state the
// remaining patches would have produced on their own.
func (e *entry) recomputeLocked() {
	value := e.baseline
	for _, p := range e.patches {
		value = p.update(value)
	}
	e.value = value
}

// removePatchLocked drops the patch with the given id. Returns false when the
// patch was already superseded by an authoritative update.
func (e *entry) removePatchLocked(id uint64) bool {
	for i, p := range e.patches {
		if p.id == id {
			e.patches = append(e.patches[:i], e.patches[i+1:]...)
			return true
		}
	}
	return false
}

func notify(fns []func(Snapshot), snap Snapshot) {
	for _, fn := range fns {
		fn(snap)
	}
}
