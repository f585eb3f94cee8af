// Package testsupport provides an in-memory backend and auth doubles for
// exercising the query engine in tests.
package testsupport

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/goliatone/go-live-query/auth"
	"github.com/goliatone/go-live-query/query"
)

// HandlerFunc serves one backend function.
type HandlerFunc func(ctx context.Context, args any) (any, error)

type subscription struct {
	id       uint64
	function string
	args     any
	onUpdate func(value any, err error)
}

// FakeBackend is an in-memory implementation of query.Client. Handlers are
// registered per function name; subscriptions deliver the current query
// result synchronously on Subscribe and then receive values pushed through
// Push and PushError, matched by function name and deep-equal arguments.
type FakeBackend struct {
	mu            sync.Mutex
	queries       map[string]HandlerFunc
	mutations     map[string]HandlerFunc
	queryCalls    map[string]int
	mutationCalls map[string]int
	tokens        []string
	subs          map[uint64]*subscription
	nextSub       uint64
}

// NewFakeBackend creates an empty backend with no handlers registered.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		queries:       make(map[string]HandlerFunc),
		mutations:     make(map[string]HandlerFunc),
		queryCalls:    make(map[string]int),
		mutationCalls: make(map[string]int),
		subs:          make(map[uint64]*subscription),
	}
}

// HandleQuery registers the handler serving query calls to function.
func (b *FakeBackend) HandleQuery(function string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries[function] = fn
}

// HandleMutation registers the handler serving mutation calls to function.
func (b *FakeBackend) HandleMutation(function string, fn HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mutations[function] = fn
}

// Query implements query.Client.
func (b *FakeBackend) Query(ctx context.Context, function string, args any) (any, error) {
	b.mu.Lock()
	fn, ok := b.queries[function]
	b.queryCalls[function]++
	token, _ := auth.TokenFromContext(ctx)
	b.tokens = append(b.tokens, token)
	b.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("testsupport: no query handler for %q", function)
	}
	return fn(ctx, args)
}

// Mutate implements query.Client.
func (b *FakeBackend) Mutate(ctx context.Context, function string, args any) (any, error) {
	b.mu.Lock()
	fn, ok := b.mutations[function]
	b.mutationCalls[function]++
	b.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("testsupport: no mutation handler for %q", function)
	}
	return fn(ctx, args)
}

// Subscribe implements query.Client. When a query handler exists for the
// function, the current result is delivered synchronously before Subscribe
// returns, the way a live backend pushes its current value on connect.
func (b *FakeBackend) Subscribe(function string, args any, onUpdate func(value any, err error)) (query.UnsubscribeFunc, error) {
	b.mu.Lock()
	fn, hasQuery := b.queries[function]
	b.nextSub++
	id := b.nextSub
	b.subs[id] = &subscription{id: id, function: function, args: args, onUpdate: onUpdate}
	b.mu.Unlock()

	if hasQuery {
		value, err := fn(context.Background(), args)
		onUpdate(value, err)
	}

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// Push delivers value to every active subscription on function whose
// arguments deep-equal args. It returns how many subscriptions received it.
func (b *FakeBackend) Push(function string, args any, value any) int {
	return b.push(function, args, value, nil)
}

// PushError delivers a subscription failure the same way Push delivers data.
func (b *FakeBackend) PushError(function string, args any, err error) int {
	return b.push(function, args, nil, err)
}

func (b *FakeBackend) push(function string, args any, value any, err error) int {
	b.mu.Lock()
	var targets []func(any, error)
	for _, s := range b.subs {
		if s.function == function && reflect.DeepEqual(s.args, args) {
			targets = append(targets, s.onUpdate)
		}
	}
	b.mu.Unlock()

	for _, fn := range targets {
		fn(value, err)
	}
	return len(targets)
}

// QueryCalls reports how many times function was queried.
func (b *FakeBackend) QueryCalls(function string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queryCalls[function]
}

// MutationCalls reports how many times function was mutated.
func (b *FakeBackend) MutationCalls(function string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mutationCalls[function]
}

// ActiveSubscriptions reports the number of currently open subscriptions.
func (b *FakeBackend) ActiveSubscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Tokens returns the auth token observed on each query call, in call order.
// Anonymous calls record an empty string.
func (b *FakeBackend) Tokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.tokens))
	copy(out, b.tokens)
	return out
}
