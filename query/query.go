package query

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-live-query/cache"
	"github.com/goliatone/go-live-query/registry"
)

// ArgsFunc supplies the current arguments for a call site. Reactive callers
// provide an accessor over their own state and call Invalidate when it may
// have changed; the engine re-points the call site only when the computed key
// actually differs.
type ArgsFunc func() any

// StaticArgs wraps a fixed argument value as an accessor.
func StaticArgs(args any) ArgsFunc {
	return func() any { return args }
}

// Result is the reactive output of one call site.
type Result struct {
	Data   any
	Status registry.Status
	Err    error
}

// Pending reports whether the call site is awaiting its first authoritative
// value.
func (r Result) Pending() bool {
	return r.Status == registry.StatusPending
}

type watcher struct {
	id uint64
	fn func(Result)
}

// Query is one reactive call site. It observes exactly one registry entry at
// any instant; argument changes atomically re-point it (retain new, release
// old) so observers never see two entries' merged data.
type Query struct {
	e        *Engine
	id       string
	function string
	argsFn   ArgsFunc
	opts     Options

	// bindMu serializes bind/dispose; mu guards the observable state
	bindMu sync.Mutex
	mu     sync.Mutex

	gen           uint64
	key           string
	args          any
	cancelObserve func()
	result        Result
	updatesSeen   uint64
	watchers      []watcher
	nextWatcher   uint64
	disposed      bool

	ready     chan struct{}
	readyOnce sync.Once
}

// Query creates a call site for function. A serialization failure of the
// initial arguments is a programmer error and is returned synchronously.
func (e *Engine) Query(function string, args ArgsFunc, opts Options) (*Query, error) {
	if args == nil {
		args = StaticArgs(nil)
	}
	q := &Query{
		e:        e,
		id:       uuid.NewString(),
		function: function,
		argsFn:   args,
		opts:     opts,
		ready:    make(chan struct{}),
	}
	if err := q.bind(); err != nil {
		return nil, err
	}
	return q, nil
}

func realKey(key string) bool {
	return key != "" && key != cache.SkipKey
}

// bind computes the current key and re-points the call site at the matching
// registry entry. It is the single transition path for initial resolution,
// argument changes, and the skip sentinel.
func (q *Query) bind() error {
	q.bindMu.Lock()
	defer q.bindMu.Unlock()

	args := q.argsFn()
	key, err := q.e.serializer.SerializeKey(q.function, args)
	if err != nil {
		return err
	}

	q.mu.Lock()
	if q.disposed || key == q.key {
		q.mu.Unlock()
		return nil
	}
	q.gen++
	gen := q.gen
	oldKey, oldCancel := q.key, q.cancelObserve
	q.key, q.args, q.cancelObserve = key, args, nil
	q.updatesSeen = 0
	q.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}

	if key == cache.SkipKey {
		if realKey(oldKey) {
			q.e.reg.Release(oldKey)
		}
		q.publish(gen, 0, Result{Status: registry.StatusIdle})
		q.resolveReady()
		q.verbose("call site idle")
		return nil
	}

	// retain the new entry before releasing the old one, so the swap is
	// atomic with respect to the registry's ref counting
	snap := q.e.reg.Retain(key)
	cancel, oerr := q.e.reg.Observe(key, func(s registry.Snapshot) {
		q.project(gen, s)
	})
	if oerr != nil {
		q.e.reg.Release(key)
		return oerr
	}
	q.mu.Lock()
	q.cancelObserve = cancel
	q.mu.Unlock()

	if realKey(oldKey) {
		q.e.reg.Release(oldKey)
	}

	// jump straight to cached data when a sibling already resolved this key
	q.project(gen, snap)
	q.verbose("call site bound", zap.String("key", key))

	if q.e.server {
		if q.opts.Server {
			go q.serverFetch(gen, key, args)
		} else {
			// nothing resolves server-side for this call site
			q.resolveReady()
		}
		return nil
	}

	// client boot: seed from the hydration payload before going live, so an
	// SSR-rendered value shows on the very first render with no pending flash
	if snap.Updates == 0 {
		if v, ok := q.e.payload.Get(key); ok {
			q.e.reg.ApplyIncoming(key, v, registry.SourceSSR)
			q.verbose("hydrated from payload", zap.String("key", key))
		}
	}

	if q.opts.Subscribe {
		err := q.e.reg.Attach(key, func(onUpdate func(any, error)) (func(), error) {
			return q.e.client.Subscribe(q.function, args, onUpdate)
		})
		if err != nil {
			q.e.reg.ApplyError(key, &SubscriptionError{Function: q.function, Err: err})
		}
		return nil
	}

	// subscription disabled: populate once if nothing has resolved the entry
	if cur, ok := q.e.reg.Lookup(key); ok && cur.Updates == 0 {
		go q.clientFetch(gen, key, args)
	}
	return nil
}

// project maps a registry snapshot into this call site's Result. Stale
// generations are dropped: a late notification from an abandoned entry can
// never corrupt current state.
func (q *Query) project(gen uint64, s registry.Snapshot) {
	res := Result{Data: s.Value, Status: s.Status, Err: s.Err}
	if res.Status == registry.StatusPending && res.Data == nil && q.opts.Default != nil {
		res.Data = q.opts.Default()
	}
	q.publish(gen, s.Updates, res)
	if s.Status == registry.StatusSuccess || s.Status == registry.StatusError {
		q.resolveReady()
	}
}

// publish applies a projected result. Delivery is monotonic per generation:
// a snapshot whose update counter is behind one already applied is dropped,
// so the initial bind-time projection can never clobber a newer value the
// observer delivered first.
func (q *Query) publish(gen uint64, updates uint64, res Result) {
	q.mu.Lock()
	if q.disposed || gen != q.gen || updates < q.updatesSeen {
		q.mu.Unlock()
		q.verbose("dropped stale update")
		return
	}
	q.updatesSeen = updates
	q.result = res
	fns := make([]func(Result), len(q.watchers))
	for i, w := range q.watchers {
		fns[i] = w.fn
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn(res)
	}
}

func (q *Query) serverFetch(gen uint64, key string, args any) {
	value, err := q.e.fetchOnce(context.Background(), key, q.function, args, q.opts.Public)

	q.mu.Lock()
	stale := q.disposed || gen != q.gen
	q.mu.Unlock()
	if stale {
		q.verbose("dropped stale server fetch", zap.String("key", key))
		return
	}

	if err != nil {
		q.e.reg.ApplyError(key, err)
		return
	}
	q.e.payload.Set(key, value)
	q.e.reg.ApplyIncoming(key, value, registry.SourceSSR)
}

func (q *Query) clientFetch(gen uint64, key string, args any) {
	value, err := q.e.fetchOnce(context.Background(), key, q.function, args, q.opts.Public)

	q.mu.Lock()
	stale := q.disposed || gen != q.gen
	q.mu.Unlock()
	if stale {
		return
	}

	if err != nil {
		q.e.reg.ApplyError(key, err)
		return
	}
	// a sibling's subscription may have resolved the entry meanwhile; its
	// authoritative push wins over our one-shot
	if cur, ok := q.e.reg.Lookup(key); !ok || cur.Updates > 0 {
		return
	}
	q.e.reg.ApplyIncoming(key, value, registry.SourceCache)
}

// Result returns the call site's current reactive output.
func (q *Query) Result() Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.result
}

// Watch registers fn for every Result change. It is invoked immediately with
// the current value, then synchronously on each update. The returned cancel
// removes the watcher.
func (q *Query) Watch(fn func(Result)) func() {
	q.mu.Lock()
	id := q.nextWatcher
	q.nextWatcher++
	q.watchers = append(q.watchers, watcher{id: id, fn: fn})
	current := q.result
	q.mu.Unlock()

	fn(current)

	return func() {
		q.mu.Lock()
		for i, w := range q.watchers {
			if w.id == id {
				q.watchers = append(q.watchers[:i], q.watchers[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
	}
}

// Ready blocks until the call site first resolves (success, error, or idle
// for skipped arguments). Non-lazy call sites gate navigation on it.
func (q *Query) Ready(ctx context.Context) error {
	select {
	case <-q.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Blocking reports whether the surrounding navigation should await Ready.
func (q *Query) Blocking() bool {
	return !q.opts.Lazy
}

// Invalidate re-evaluates the argument accessor. When the computed key
// changed, the call site atomically releases the old entry and retains the
// new one; when the new entry already holds cached data the call site jumps
// straight to success without a pending flash. A serialization failure of the
// new arguments is returned synchronously.
func (q *Query) Invalidate() error {
	return q.bind()
}

// Refresh re-fetches the current key once, bypassing the live subscription,
// and applies the result to the shared registry entry, so sibling call sites
// observing the same key see the refreshed value too. Stale responses from a
// superseded generation are dropped.
func (q *Query) Refresh(ctx context.Context) error {
	q.mu.Lock()
	key, args, gen, disposed := q.key, q.args, q.gen, q.disposed
	q.mu.Unlock()
	if disposed || !realKey(key) {
		return nil
	}

	q.e.fetch.Forget(key)
	value, err := q.e.fetchOnce(ctx, key, q.function, args, q.opts.Public)

	q.mu.Lock()
	stale := q.disposed || gen != q.gen
	q.mu.Unlock()
	if stale {
		q.verbose("dropped stale refresh", zap.String("key", key))
		return nil
	}

	if err != nil {
		q.e.reg.ApplyError(key, err)
		return err
	}
	q.e.reg.ApplyIncoming(key, value, registry.SourceCache)
	return nil
}

// Dispose releases the call site's entry and detaches all observation. The
// cancellation primitive: safe to call more than once.
func (q *Query) Dispose() {
	q.bindMu.Lock()
	defer q.bindMu.Unlock()

	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	q.gen++
	key, cancel := q.key, q.cancelObserve
	q.key, q.cancelObserve = "", nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if realKey(key) {
		q.e.reg.Release(key)
	}
	q.resolveReady()
	q.verbose("call site disposed")
}

func (q *Query) resolveReady() {
	q.readyOnce.Do(func() { close(q.ready) })
}

func (q *Query) verbose(msg string, fields ...zap.Field) {
	if !q.opts.Verbose {
		return
	}
	base := []zap.Field{
		zap.String("call_site", q.id),
		zap.String("function", q.function),
	}
	q.e.log.Debug(msg, append(base, fields...)...)
}
