package registry

import (
	"errors"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrNoEntry is returned when an operation targets a key that has no retained
// entry. Attach and Observe require a prior Retain by the same call site.
var ErrNoEntry = errors.New("registry: no entry for key")

// StartFunc establishes a live push-subscription for one key. It is invoked at
// most once per active entry; onUpdate delivers authoritative values (or a
// subscription failure) and the returned stop function tears the stream down.
type StartFunc func(onUpdate func(value any, err error)) (stop func(), err error)

// Registry is the process-wide map from cache key to shared query state.
// It owns the one-live-subscription-per-key invariant: any number of call
// sites observing the same key share a single backend subscription, and the
// subscription is torn down when the last call site releases the key.
//
// Entries are mutated exclusively through Registry methods. Call sites only
// ever hold read-only snapshots, never references into entry internals.
type Registry struct {
	entries   *xsync.MapOf[string, *entry]
	nextPatch atomic.Uint64

	set            *metrics.Set
	entriesActive  *metrics.Counter
	entriesEvicted *metrics.Counter
	subsActive     *metrics.Counter
	updatesTotal   *metrics.Counter
	patchesTotal   *metrics.Counter
}

// New creates an empty registry with its own metrics set.
func New() *Registry {
	set := metrics.NewSet()
	return &Registry{
		entries:        xsync.NewMapOf[string, *entry](),
		set:            set,
		entriesActive:  set.GetOrCreateCounter("livequery_entries_active"),
		entriesEvicted: set.GetOrCreateCounter("livequery_entries_evicted_total"),
		subsActive:     set.GetOrCreateCounter("livequery_subscriptions_active"),
		updatesTotal:   set.GetOrCreateCounter("livequery_updates_total"),
		patchesTotal:   set.GetOrCreateCounter("livequery_optimistic_patches_total"),
	}
}

// Metrics exposes the registry's counters for scraping. Read-only.
func (r *Registry) Metrics() *metrics.Set {
	return r.set
}

// Stats reads the registry's counters into a plain map, keyed by metric name.
func (r *Registry) Stats() map[string]uint64 {
	return map[string]uint64{
		"livequery_entries_active":           r.entriesActive.Get(),
		"livequery_entries_evicted_total":    r.entriesEvicted.Get(),
		"livequery_subscriptions_active":     r.subsActive.Get(),
		"livequery_updates_total":            r.updatesTotal.Get(),
		"livequery_optimistic_patches_total": r.patchesTotal.Get(),
	}
}

// Retain increments the ref count for key, creating the entry on first use.
// Every Retain must be paired with exactly one Release.
func (r *Registry) Retain(key string) Snapshot {
	for {
		e, loaded := r.entries.LoadOrStore(key, newEntry(key))
		e.mu.Lock()
		if e.evicted {
			// lost a race with the final Release; the map slot is stale
			e.mu.Unlock()
			r.entries.Delete(key)
			continue
		}
		if !loaded {
			r.entriesActive.Inc()
		}
		e.refCount++
		snap := e.snapshotLocked()
		e.mu.Unlock()
		return snap
	}
}

// Release decrements the ref count for key. When it reaches zero the live
// subscription (if any) is stopped and the entry is evicted, so no orphaned
// backend subscription can outlive its observers.
func (r *Registry) Release(key string) {
	e, ok := r.entries.Load(key)
	if !ok {
		return
	}

	var stop func()
	e.mu.Lock()
	e.refCount--
	if e.refCount <= 0 {
		e.evicted = true
		stop = e.unsubscribe
		e.unsubscribe = nil
		e.observers = nil
		r.entries.Delete(key)
		r.entriesEvicted.Inc()
		r.entriesActive.Dec()
		if stop != nil {
			r.subsActive.Dec()
		}
	}
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Attach establishes the live push-subscription for key if none is active.
// Multiple call sites attaching the same key result in exactly one underlying
// subscription; later calls are no-ops. The entry must be retained.
//
// start is invoked outside the entry lock so a backend that delivers its
// current value synchronously cannot deadlock the registry.
func (r *Registry) Attach(key string, start StartFunc) error {
	e, ok := r.entries.Load(key)
	if !ok {
		return ErrNoEntry
	}

	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return ErrNoEntry
	}
	if e.unsubscribe != nil || e.attaching {
		e.mu.Unlock()
		return nil
	}
	e.attaching = true
	e.mu.Unlock()

	stop, err := start(func(value any, err error) {
		if err != nil {
			r.ApplyError(key, err)
			return
		}
		r.ApplyIncoming(key, value, SourceWebSocket)
	})

	e.mu.Lock()
	e.attaching = false
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if e.evicted {
		// released while the subscription was being established
		e.mu.Unlock()
		if stop != nil {
			stop()
		}
		return ErrNoEntry
	}
	e.unsubscribe = stop
	e.mu.Unlock()
	r.subsActive.Inc()
	return nil
}

// ApplyIncoming is the single writer for authoritative data. It overwrites the
// entry's baseline, discards every pending optimistic patch for the key, marks
// the entry successful, and notifies all observers before returning. Updates
// for released keys are dropped.
func (r *Registry) ApplyIncoming(key string, value any, src Source) {
	e, ok := r.entries.Load(key)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return
	}
	e.baseline = value
	e.baselineSet = true
	e.patches = nil
	e.value = value
	e.status = StatusSuccess
	e.err = nil
	e.source = src
	e.updates++
	snap := e.snapshotLocked()
	fns := e.observersLocked()
	e.notifyMu.Lock()
	e.mu.Unlock()

	r.updatesTotal.Inc()
	notify(fns, snap)
	e.notifyMu.Unlock()
}

// ApplyError transitions the entry to an error status. The last successful
// value is preserved: errors never clobber previously delivered data, and the
// ref-count bookkeeping is unaffected so a later refresh or argument change
// can re-establish the subscription fresh.
func (r *Registry) ApplyError(key string, err error) {
	e, ok := r.entries.Load(key)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return
	}
	e.status = StatusError
	e.err = err
	e.updates++
	snap := e.snapshotLocked()
	fns := e.observersLocked()
	e.notifyMu.Lock()
	e.mu.Unlock()

	r.updatesTotal.Inc()
	notify(fns, snap)
	e.notifyMu.Unlock()
}

// Observe registers fn to be called synchronously on every subsequent change
// to key's entry, in the order the changes were applied. The returned cancel
// function removes the observer. Use Lookup for the initial state; Observe
// only delivers changes.
//
// fn runs while the entry's delivery lock is held and must not synchronously
// invoke registry writers for the same key.
func (r *Registry) Observe(key string, fn func(Snapshot)) (func(), error) {
	e, ok := r.entries.Load(key)
	if !ok {
		return nil, ErrNoEntry
	}

	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return nil, ErrNoEntry
	}
	id := e.nextObserver
	e.nextObserver++
	e.observers = append(e.observers, observer{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		for i, o := range e.observers {
			if o.id == id {
				e.observers = append(e.observers[:i], e.observers[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
	}, nil
}
