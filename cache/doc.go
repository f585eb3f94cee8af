// Package cache provides deterministic cache key serialization for the
// live-query engine.
//
// # Overview
//
// This package exports the KeySerializer interface and its default
// reflection-based implementation, plus the skip sentinel used to suspend a
// query without tearing down its call site.
//
// A cache key identifies one logical (function, arguments) pair. Every layer
// above (the subscription registry, the hydration payload, the reactive
// engines) shares state by key, so key construction must be stable:
//
//	serializer := cache.NewDefaultKeySerializer()
//	key, err := serializer.SerializeKey("messages:list", map[string]any{"channel": "general"})
//
// # Key Serialization Strategy
//
// The default serializer uses reflection to handle various Go types:
//
//   - Basic types: direct string representation
//   - Slices/arrays: recursive serialization of elements
//   - Maps: sorted key-value pairs, so insertion order never changes the key
//   - Structs: exported fields as name:value pairs in declaration order
//   - Pointers/interfaces: dereferenced, nil collapses to "nil"
//   - Remaining kinds: JSON fallback
//
// Functions, channels and unsafe pointers cannot be deterministically ordered
// and produce a *SerializationError. That error is deliberately not recoverable
// inside the engine: passing such a value is a programmer error and surfaces
// synchronously at the call site.
//
// # The Skip Sentinel
//
// cache.Skip is a reserved argument value meaning "do not fetch". When any
// argument is the sentinel, SerializeKey returns the reserved SkipKey instead
// of a real key. Engines compare against SkipKey to decide whether a call site
// is idle; no registry entry, fetch, or subscription is ever created for it.
//
// # Custom Key Serializers
//
// Implement KeySerializer for specialized key generation, for example to add
// tenant namespacing or stable criteria names for distributed setups.
package cache
