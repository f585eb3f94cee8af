package registry

// Lookup returns the current snapshot for key, if a retained entry exists.
func (r *Registry) Lookup(key string) (Snapshot, bool) {
	e, ok := r.entries.Load(key)
	if !ok {
		return Snapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return Snapshot{}, false
	}
	return e.snapshotLocked(), true
}

// SnapshotAll returns a point-in-time view of every entry. This feeds the
// devtools bridge; it is a one-way observation channel with no effect on the
// entries themselves.
func (r *Registry) SnapshotAll() []Snapshot {
	out := make([]Snapshot, 0, r.entries.Size())
	r.entries.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		if !e.evicted {
			out = append(out, e.snapshotLocked())
		}
		e.mu.Unlock()
		return true
	})
	return out
}

// Len reports the number of active entries.
func (r *Registry) Len() int {
	return r.entries.Size()
}
