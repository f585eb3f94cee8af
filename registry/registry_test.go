package registry

import (
	"errors"
	"sync"
	"testing"
)

func TestRetainRelease_Lifecycle(t *testing.T) {
	r := New()

	snap := r.Retain("k")
	if snap.RefCount != 1 {
		t.Errorf("RefCount = %d, want 1", snap.RefCount)
	}
	if snap.Status != StatusPending {
		t.Errorf("Status = %q, want %q", snap.Status, StatusPending)
	}

	snap = r.Retain("k")
	if snap.RefCount != 2 {
		t.Errorf("RefCount after second retain = %d, want 2", snap.RefCount)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	r.Release("k")
	if _, ok := r.Lookup("k"); !ok {
		t.Fatal("entry evicted while still retained once")
	}

	r.Release("k")
	if _, ok := r.Lookup("k"); ok {
		t.Fatal("entry still present after final release")
	}
	if r.Len() != 0 {
		t.Errorf("Len() after eviction = %d, want 0", r.Len())
	}
}

func TestAttach_SharesOneSubscription(t *testing.T) {
	r := New()

	starts := 0
	stops := 0
	start := func(onUpdate func(any, error)) (func(), error) {
		starts++
		return func() { stops++ }, nil
	}

	// two call sites, same key
	r.Retain("k")
	r.Retain("k")
	if err := r.Attach("k", start); err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	if err := r.Attach("k", start); err != nil {
		t.Fatalf("second Attach: %v", err)
	}

	if starts != 1 {
		t.Errorf("start invoked %d times, want exactly 1", starts)
	}

	r.ApplyIncoming("k", "hello", SourceWebSocket)

	// releasing one call site leaves the other's data intact
	r.Release("k")
	snap, ok := r.Lookup("k")
	if !ok {
		t.Fatal("entry gone after first release")
	}
	if snap.Value != "hello" || !snap.Live {
		t.Errorf("snapshot after first release = %+v, want live with value", snap)
	}
	if stops != 0 {
		t.Errorf("subscription stopped while still retained (%d stops)", stops)
	}

	// releasing the last call site tears the subscription down
	r.Release("k")
	if stops != 1 {
		t.Errorf("stop invoked %d times after final release, want 1", stops)
	}
}

func TestAttach_RequiresRetainedEntry(t *testing.T) {
	r := New()

	err := r.Attach("missing", func(func(any, error)) (func(), error) {
		t.Fatal("start must not run for a missing entry")
		return nil, nil
	})
	if !errors.Is(err, ErrNoEntry) {
		t.Errorf("Attach on missing key = %v, want ErrNoEntry", err)
	}
}

func TestAttach_SynchronousDelivery(t *testing.T) {
	r := New()
	r.Retain("k")

	// backends may deliver the current value during subscribe; that must not
	// deadlock or get lost
	err := r.Attach("k", func(onUpdate func(any, error)) (func(), error) {
		onUpdate(42, nil)
		return func() {}, nil
	})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	snap, _ := r.Lookup("k")
	if snap.Value != 42 || snap.Status != StatusSuccess {
		t.Errorf("snapshot = %+v, want success/42", snap)
	}
}

func TestAttach_StartFailure(t *testing.T) {
	r := New()
	r.Retain("k")

	boom := errors.New("socket down")
	err := r.Attach("k", func(func(any, error)) (func(), error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Attach error = %v, want %v", err, boom)
	}

	// failed attach leaves the entry usable for a later retry
	starts := 0
	err = r.Attach("k", func(onUpdate func(any, error)) (func(), error) {
		starts++
		return func() {}, nil
	})
	if err != nil || starts != 1 {
		t.Errorf("retry Attach err=%v starts=%d, want nil/1", err, starts)
	}

	r.Release("k")
}

func TestApplyIncoming_NotifiesObserversInOrder(t *testing.T) {
	r := New()
	r.Retain("k")

	var order []string
	cancelA, err := r.Observe("k", func(s Snapshot) {
		order = append(order, "a")
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	_, err = r.Observe("k", func(s Snapshot) {
		order = append(order, "b")
		if s.Value != "v1" {
			t.Errorf("observer saw %v, want v1", s.Value)
		}
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}

	r.ApplyIncoming("k", "v1", SourceSSR)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("notification order = %v, want [a b]", order)
	}

	// cancelled observers stop receiving updates
	cancelA()
	order = nil
	r.ApplyIncoming("k", "v2", SourceWebSocket)
	if len(order) != 1 || order[0] != "b" {
		t.Errorf("order after cancel = %v, want [b]", order)
	}

	snap, _ := r.Lookup("k")
	if snap.Source != SourceWebSocket || snap.Updates != 2 {
		t.Errorf("snapshot = %+v, want websocket source and 2 updates", snap)
	}
}

func TestApplyIncoming_ConcurrentWritersDeliverInCaptureOrder(t *testing.T) {
	r := New()
	r.Retain("k")

	// delivery is serialized by the entry, so the observer needs no extra
	// synchronization of its own
	var seen []uint64
	var last Snapshot
	_, err := r.Observe("k", func(s Snapshot) {
		seen = append(seen, s.Updates)
		last = s
	})
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				r.ApplyIncoming("k", w*perWriter+i, SourceWebSocket)
			}
		}(w)
	}
	wg.Wait()

	if len(seen) != writers*perWriter {
		t.Fatalf("observer ran %d times, want %d", len(seen), writers*perWriter)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("update %d delivered after %d; snapshots arrived out of capture order", seen[i], seen[i-1])
		}
	}

	// the observer must end on the entry's current state, not a snapshot a
	// racing writer overtook
	snap, _ := r.Lookup("k")
	if last.Updates != snap.Updates || last.Value != snap.Value {
		t.Errorf("observer finished on updates=%d value=%v, entry holds updates=%d value=%v",
			last.Updates, last.Value, snap.Updates, snap.Value)
	}
}

func TestApplyError_PreservesPriorData(t *testing.T) {
	r := New()
	r.Retain("k")
	r.ApplyIncoming("k", "good", SourceWebSocket)

	boom := errors.New("subscription lost")
	r.ApplyError("k", boom)

	snap, _ := r.Lookup("k")
	if snap.Status != StatusError {
		t.Errorf("Status = %q, want %q", snap.Status, StatusError)
	}
	if !errors.Is(snap.Err, boom) {
		t.Errorf("Err = %v, want %v", snap.Err, boom)
	}
	if snap.Value != "good" {
		t.Errorf("Value = %v, want prior data preserved", snap.Value)
	}

	// a later authoritative update recovers
	r.ApplyIncoming("k", "fresh", SourceWebSocket)
	snap, _ = r.Lookup("k")
	if snap.Status != StatusSuccess || snap.Err != nil {
		t.Errorf("snapshot after recovery = %+v", snap)
	}
}

func TestApplyIncoming_DroppedForReleasedKey(t *testing.T) {
	r := New()
	r.Retain("k")
	r.Release("k")

	// a late-arriving update for an evicted entry must not resurrect it
	r.ApplyIncoming("k", "stale", SourceWebSocket)
	if _, ok := r.Lookup("k"); ok {
		t.Fatal("stale update resurrected a released entry")
	}
}

func TestSnapshotAll(t *testing.T) {
	r := New()
	r.Retain("a")
	r.Retain("b")
	r.ApplyIncoming("a", 1, SourceSSR)

	snaps := r.SnapshotAll()
	if len(snaps) != 2 {
		t.Fatalf("SnapshotAll() returned %d entries, want 2", len(snaps))
	}

	byKey := map[string]Snapshot{}
	for _, s := range snaps {
		byKey[s.Key] = s
	}
	if byKey["a"].Status != StatusSuccess || byKey["b"].Status != StatusPending {
		t.Errorf("snapshots = %+v", byKey)
	}
}
