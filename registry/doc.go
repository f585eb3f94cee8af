// Package registry implements the shared subscription registry: a
// process-wide map from cache key to the ref-counted state of one logical
// query.
//
// # Overview
//
// Multiple independent call sites frequently observe the same logical query.
// The registry deduplicates them: the first Retain for a key creates the
// entry, later Retains share it, and Attach establishes at most one live
// backend subscription per key no matter how many call sites are watching.
// When the last call site Releases the key, the subscription is stopped and
// the entry evicted: no orphaned subscriptions, no stale map growth.
//
// # Single-writer discipline
//
// Entries are mutated only by Registry methods. ApplyIncoming is the sole
// writer for authoritative data; call sites interact through Retain, Release,
// Observe and read-only Snapshots. This is what keeps the no-duplicate-
// subscription invariant safe without exposing locks to callers.
//
// # Optimistic patches
//
// ApplyOptimistic stacks locally-predicted values on top of the last
// authoritative baseline. Each patch carries an id so a failed mutation rolls
// back exactly its own contribution while concurrent patches keep applying,
// and any authoritative update discards the whole stack. The registry never
// locks in a guess.
//
// # Observation ordering
//
// Observers are notified synchronously, in registration order, after each
// change. Two observers of the same key can never see different values for
// the same logical update.
package registry
