// Package hydrate implements the hydration payload: a key-value store that
// survives the server-to-client transition. The SSR fetch path writes each
// resolved query result into it keyed by cache key; on client boot the
// reactive engine seeds the subscription registry from it so the first render
// shows server-known data without a loading flash or an extra round-trip.
package hydrate

import (
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Payload holds SSR-resolved query results keyed by cache key.
// Safe for concurrent use; values must be msgpack-encodable plain data.
type Payload struct {
	mu      sync.RWMutex
	entries map[string]any
}

// New returns an empty payload.
func New() *Payload {
	return &Payload{entries: make(map[string]any)}
}

// Set stores the resolved value for a cache key, overwriting any prior value.
func (p *Payload) Set(key string, value any) {
	p.mu.Lock()
	p.entries[key] = value
	p.mu.Unlock()
}

// Get returns the hydrated value for a cache key.
func (p *Payload) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.entries[key]
	return v, ok
}

// Keys lists every hydrated cache key.
func (p *Payload) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len reports the number of hydrated entries.
func (p *Payload) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Encode serializes the payload for embedding into the rendered page.
func (p *Payload) Encode() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return msgpack.Marshal(p.entries)
}

// Decode reconstructs a payload on the client from its encoded form.
// Numeric types round-trip through msgpack's canonical widths; consumers
// read values structurally rather than by concrete Go type.
func Decode(data []byte) (*Payload, error) {
	entries := make(map[string]any)
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return &Payload{entries: entries}, nil
}
