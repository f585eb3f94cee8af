package registry

// ApplyOptimistic pushes a locally-predicted update onto the entry's patch
// stack and notifies observers immediately, before any network round-trip.
// The updater receives the entry's current value (nil before first
// resolution) and returns the predicted post-mutation value.
//
// The returned patch id is used to roll the patch back (or commit it) later.
// A zero id means the key had no retained entry and nothing was applied;
// Rollback and Commit treat it as a no-op.
func (r *Registry) ApplyOptimistic(key string, update func(current any) any) uint64 {
	e, ok := r.entries.Load(key)
	if !ok {
		return 0
	}

	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return 0
	}
	id := r.nextPatch.Add(1)
	e.patches = append(e.patches, patch{id: id, update: update})
	e.value = update(e.value)
	snap := e.snapshotLocked()
	fns := e.observersLocked()
	e.notifyMu.Lock()
	e.mu.Unlock()

	r.patchesTotal.Inc()
	notify(fns, snap)
	e.notifyMu.Unlock()
	return id
}

// Rollback removes exactly one patch and recomputes the entry from its last
// authoritative baseline with the remaining patches reapplied in order. A
// failed mutation therefore rolls back only its own contribution: a second
// patch still in flight keeps its optimistic effect rather than reverting to
// a globally-stale snapshot.
//
// Rolling back a patch already superseded by an authoritative update is a
// no-op.
func (r *Registry) Rollback(key string, id uint64) {
	if id == 0 {
		return
	}
	e, ok := r.entries.Load(key)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.evicted || !e.removePatchLocked(id) {
		e.mu.Unlock()
		return
	}
	e.recomputeLocked()
	snap := e.snapshotLocked()
	fns := e.observersLocked()
	e.notifyMu.Lock()
	e.mu.Unlock()

	notify(fns, snap)
	e.notifyMu.Unlock()
}

// Commit replaces the patch with an authoritative value: the patch is removed,
// the baseline becomes value, and any later patches are reapplied on top of
// it. This is the path for mutations whose response is itself authoritative
// for the target query; mutations that rely on a live subscription simply
// leave the patch to be superseded by the next ApplyIncoming.
func (r *Registry) Commit(key string, id uint64, value any) {
	if id == 0 {
		return
	}
	e, ok := r.entries.Load(key)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.evicted {
		e.mu.Unlock()
		return
	}
	if !e.removePatchLocked(id) {
		// already superseded; the authoritative signal won
		e.mu.Unlock()
		return
	}
	e.baseline = value
	e.baselineSet = true
	e.status = StatusSuccess
	e.err = nil
	e.recomputeLocked()
	e.updates++
	snap := e.snapshotLocked()
	fns := e.observersLocked()
	e.notifyMu.Lock()
	e.mu.Unlock()

	r.updatesTotal.Inc()
	notify(fns, snap)
	e.notifyMu.Unlock()
}
