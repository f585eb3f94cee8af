package query

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-live-query/cache"
	"github.com/goliatone/go-live-query/registry"
)

// PageRequest is the pagination envelope sent to the backend alongside the
// caller's own arguments.
type PageRequest struct {
	Cursor   string
	NumItems int
}

// PageArgs is the full argument value for one page of a paginated function.
type PageArgs struct {
	Args       any
	Pagination PageRequest
}

// PageResponse is the shape paginated backend functions return per page.
type PageResponse struct {
	Items          []any
	ContinueCursor string
	IsDone         bool
}

// PageStatus describes the paginated call site's loading state.
type PageStatus string

const (
	LoadingFirstPage PageStatus = "LoadingFirstPage"
	CanLoadMore      PageStatus = "CanLoadMore"
	LoadingMore      PageStatus = "LoadingMore"
	Exhausted        PageStatus = "Exhausted"
)

// page is one loaded page. Its registry entry stays retained (and live, when
// subscriptions are enabled) for the page's whole lifetime, so a backend edit
// to an item updates in place inside whichever page holds it.
type page struct {
	key       string
	cursorIn  string
	cursorOut string
	numItems  int
	items     []any
	done      bool
	updates   uint64
	cancel    func()
}

// Paginated is a paginated call site: an ordered, growable sequence of pages
// chained by cursor, flattened into one result list.
type Paginated struct {
	e        *Engine
	id       string
	function string
	args     any
	opts     Options
	numItems int

	mu          sync.Mutex
	gen         uint64
	status      PageStatus
	pages       []*page
	pending     map[string]registry.Snapshot
	err         error
	watchers    []watcher
	nextWatcher uint64
	disposed    bool

	ready     chan struct{}
	readyOnce sync.Once
}

// Paginate creates a paginated call site for function and starts loading the
// first page of numItems. Serialization failures of args are programmer
// errors and are returned synchronously.
func (e *Engine) Paginate(function string, args any, numItems int, opts Options) (*Paginated, error) {
	if numItems <= 0 {
		return nil, fmt.Errorf("query: paginate %s: numItems must be positive, got %d", function, numItems)
	}

	p := &Paginated{
		e:        e,
		id:       uuid.NewString(),
		function: function,
		args:     args,
		opts:     opts,
		numItems: numItems,
		status:   LoadingFirstPage,
		pending:  make(map[string]registry.Snapshot),
		ready:    make(chan struct{}),
	}

	// surface non-serializable args before any async work starts
	key, err := p.pageKey("")
	if err != nil {
		return nil, err
	}
	// a paginated call site has no argument accessor to un-skip it later, so
	// the sentinel is rejected instead of producing a permanently idle site
	if key == cache.SkipKey {
		return nil, fmt.Errorf("query: paginate %s: skip sentinel is not valid for paginated arguments", function)
	}

	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	go p.loadPage(gen, "", numItems)

	return p, nil
}

// pageKey builds the per-page cache key: (function, args, cursor). Pages of
// the same logical query share everything but the cursor segment.
func (p *Paginated) pageKey(cursor string) (string, error) {
	return p.e.serializer.SerializeKey(p.function, p.args, "page", cursor)
}

func toPageResponse(v any) (PageResponse, error) {
	switch r := v.(type) {
	case PageResponse:
		return r, nil
	case *PageResponse:
		return *r, nil
	}
	return PageResponse{}, fmt.Errorf("query: unexpected page payload of type %T", v)
}

// loadPage fetches one page, appends it, and wires its live subscription.
// Every step is guarded by the generation token: Reset and Dispose supersede
// in-flight loads, whose results are dropped on arrival.
func (p *Paginated) loadPage(gen uint64, cursor string, numItems int) {
	key, err := p.pageKey(cursor)
	if err != nil {
		p.failPage(gen, "", err)
		return
	}

	snap := p.e.reg.Retain(key)
	pargs := PageArgs{Args: p.args, Pagination: PageRequest{Cursor: cursor, NumItems: numItems}}

	// client boot: seed the page from the hydration payload
	if !p.e.server && snap.Updates == 0 {
		if v, ok := p.e.payload.Get(key); ok {
			p.e.reg.ApplyIncoming(key, v, registry.SourceSSR)
		}
	}

	var value any
	if cur, ok := p.e.reg.Lookup(key); ok && cur.Status == registry.StatusSuccess {
		value = cur.Value
	} else {
		value, err = p.e.fetchOnce(context.Background(), key, p.function, pargs, p.opts.Public)
		if err != nil {
			p.failPage(gen, key, err)
			return
		}
		if p.e.server {
			p.e.payload.Set(key, value)
			p.e.reg.ApplyIncoming(key, value, registry.SourceSSR)
		} else {
			p.e.reg.ApplyIncoming(key, value, registry.SourceCache)
		}
	}

	resp, err := toPageResponse(value)
	if err != nil {
		p.failPage(gen, key, err)
		return
	}

	cancel, oerr := p.e.reg.Observe(key, func(s registry.Snapshot) {
		p.pageUpdate(gen, key, s)
	})
	if oerr != nil {
		p.failPage(gen, key, oerr)
		return
	}

	p.mu.Lock()
	if p.disposed || gen != p.gen {
		p.mu.Unlock()
		cancel()
		p.e.reg.Release(key)
		p.verbose("dropped stale page load", zap.String("key", key))
		return
	}
	// pages never repeat a cursor; a backend echoing an earlier cursor makes
	// no progress, so the sequence ends here instead of growing forever
	for _, pg := range p.pages {
		if pg.cursorIn == cursor {
			p.status = Exhausted
			fns := p.watchersLocked()
			p.mu.Unlock()
			cancel()
			p.e.reg.Release(key)
			p.notify(fns)
			p.verbose("dropped duplicate page cursor", zap.String("cursor", cursor))
			return
		}
	}
	// a push delivered while the page was being wired up found no page to
	// land on and was parked in pending; adopt it so the freshest snapshot
	// is not lost
	var seen uint64
	if ps, ok := p.pending[key]; ok {
		delete(p.pending, key)
		if latest, lerr := toPageResponse(ps.Value); lerr == nil {
			resp = latest
			seen = ps.Updates
		}
	}
	p.pages = append(p.pages, &page{
		key:       key,
		cursorIn:  cursor,
		cursorOut: resp.ContinueCursor,
		numItems:  numItems,
		items:     resp.Items,
		done:      resp.IsDone,
		updates:   seen,
		cancel:    cancel,
	})
	if resp.IsDone {
		p.status = Exhausted
	} else {
		p.status = CanLoadMore
	}
	p.err = nil
	fns := p.watchersLocked()
	p.mu.Unlock()

	// each page keeps its own live subscription so backend edits land in
	// place without a loadMore or reset
	if !p.e.server && p.opts.Subscribe {
		aerr := p.e.reg.Attach(key, func(onUpdate func(any, error)) (func(), error) {
			return p.e.client.Subscribe(p.function, pargs, onUpdate)
		})
		if aerr != nil {
			p.e.reg.ApplyError(key, &SubscriptionError{Function: p.function, Err: aerr})
		}
	}

	p.resolveReady()
	p.notify(fns)
}

// failPage records a page-load failure. Existing pages stay intact and the
// status returns to a retryable state, never a false Exhausted.
func (p *Paginated) failPage(gen uint64, key string, err error) {
	if key != "" {
		p.e.reg.Release(key)
	}

	p.mu.Lock()
	if p.disposed || gen != p.gen {
		p.mu.Unlock()
		return
	}
	var perr *PaginationError
	if !errors.As(err, &perr) {
		err = &PaginationError{Function: p.function, Err: err}
	}
	p.err = err
	if len(p.pages) > 0 {
		p.status = CanLoadMore
	} else {
		p.status = LoadingFirstPage
	}
	fns := p.watchersLocked()
	p.mu.Unlock()

	p.resolveReady()
	p.notify(fns)
	p.verbose("page load failed", zap.Error(err))
}

// pageUpdate applies a live update to the page currently holding key.
func (p *Paginated) pageUpdate(gen uint64, key string, s registry.Snapshot) {
	if s.Status == registry.StatusError {
		p.mu.Lock()
		if p.disposed || gen != p.gen {
			p.mu.Unlock()
			return
		}
		p.err = s.Err
		fns := p.watchersLocked()
		p.mu.Unlock()
		p.notify(fns)
		return
	}
	if s.Status != registry.StatusSuccess {
		return
	}

	resp, err := toPageResponse(s.Value)
	if err != nil {
		return
	}

	p.mu.Lock()
	if p.disposed || gen != p.gen {
		p.mu.Unlock()
		return
	}
	matched := false
	for i, pg := range p.pages {
		if pg.key != key {
			continue
		}
		matched = true
		// monotonic per page: never let a late notification regress past an
		// already-applied snapshot
		if s.Updates < pg.updates {
			break
		}
		pg.updates = s.Updates
		pg.items = resp.Items
		pg.cursorOut = resp.ContinueCursor
		pg.done = resp.IsDone
		if i == len(p.pages)-1 && p.status == CanLoadMore && resp.IsDone {
			p.status = Exhausted
		}
		break
	}
	if !matched {
		// the page for this key is still being appended by loadPage; park the
		// snapshot so it is adopted instead of lost
		if prev, ok := p.pending[key]; !ok || s.Updates >= prev.Updates {
			p.pending[key] = s
		}
	}
	fns := p.watchersLocked()
	p.mu.Unlock()

	p.notify(fns)
}

// LoadMore requests the next numItems starting from the last page's exit
// cursor. It reports whether a load was initiated: while the first page or a
// previous LoadMore is in flight, or after exhaustion, it is a no-op.
func (p *Paginated) LoadMore(numItems int) bool {
	p.mu.Lock()
	if p.disposed || p.status != CanLoadMore || len(p.pages) == 0 {
		p.mu.Unlock()
		return false
	}
	cursor := p.pages[len(p.pages)-1].cursorOut
	p.status = LoadingMore
	gen := p.gen
	p.mu.Unlock()

	go p.loadPage(gen, cursor, numItems)
	return true
}

// Reset discards all pages and their subscriptions, returns to
// LoadingFirstPage, and fetches a fresh first page that bypasses any cached
// result.
func (p *Paginated) Reset() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.gen++
	gen := p.gen
	old := p.pages
	p.pages = nil
	p.pending = make(map[string]registry.Snapshot)
	p.status = LoadingFirstPage
	p.err = nil
	p.mu.Unlock()

	for _, pg := range old {
		if pg.cancel != nil {
			pg.cancel()
		}
		p.e.fetch.Forget(pg.key)
		p.e.reg.Release(pg.key)
	}

	p.verbose("reset")
	go p.loadPage(gen, "", p.numItems)
}

// Refresh re-validates every currently-loaded page without changing how many
// pages are loaded or disturbing the cursor sequence. Results land in the
// shared registry entries, so in-place observers pick them up.
func (p *Paginated) Refresh(ctx context.Context) error {
	p.mu.Lock()
	gen := p.gen
	type target struct {
		key      string
		cursorIn string
		numItems int
	}
	targets := make([]target, len(p.pages))
	for i, pg := range p.pages {
		targets[i] = target{key: pg.key, cursorIn: pg.cursorIn, numItems: pg.numItems}
	}
	p.mu.Unlock()

	for _, tg := range targets {
		p.e.fetch.Forget(tg.key)
		pargs := PageArgs{Args: p.args, Pagination: PageRequest{Cursor: tg.cursorIn, NumItems: tg.numItems}}
		value, err := p.e.fetchOnce(ctx, tg.key, p.function, pargs, p.opts.Public)

		p.mu.Lock()
		stale := p.disposed || gen != p.gen
		p.mu.Unlock()
		if stale {
			return nil
		}
		if err != nil {
			return &PaginationError{Function: p.function, Err: err}
		}
		p.e.reg.ApplyIncoming(tg.key, value, registry.SourceCache)
	}
	return nil
}

// Results returns the flattened concatenation of all pages' items, in page
// order, items within a page in server-returned order.
func (p *Paginated) Results() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, pg := range p.pages {
		out = append(out, pg.items...)
	}
	return out
}

// Status returns the current loading state.
func (p *Paginated) Status() PageStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Err returns the last pagination error, nil after a successful load.
func (p *Paginated) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// NumPages reports how many pages are currently loaded.
func (p *Paginated) NumPages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}

// Watch registers fn to run after every pagination change. The returned
// cancel removes the watcher.
func (p *Paginated) Watch(fn func()) func() {
	p.mu.Lock()
	id := p.nextWatcher
	p.nextWatcher++
	p.watchers = append(p.watchers, watcher{id: id, fn: func(Result) { fn() }})
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		for i, w := range p.watchers {
			if w.id == id {
				p.watchers = append(p.watchers[:i], p.watchers[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
	}
}

// Ready blocks until the first page resolves (or fails).
func (p *Paginated) Ready(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose releases every page's entry and subscription.
func (p *Paginated) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.gen++
	old := p.pages
	p.pages = nil
	p.pending = nil
	p.mu.Unlock()

	for _, pg := range old {
		if pg.cancel != nil {
			pg.cancel()
		}
		p.e.reg.Release(pg.key)
	}
	p.resolveReady()
	p.verbose("paginated call site disposed")
}

func (p *Paginated) watchersLocked() []func(Result) {
	if len(p.watchers) == 0 {
		return nil
	}
	fns := make([]func(Result), len(p.watchers))
	for i, w := range p.watchers {
		fns[i] = w.fn
	}
	return fns
}

func (p *Paginated) notify(fns []func(Result)) {
	for _, fn := range fns {
		fn(Result{})
	}
}

func (p *Paginated) resolveReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

func (p *Paginated) verbose(msg string, fields ...zap.Field) {
	if !p.opts.Verbose {
		return
	}
	base := []zap.Field{
		zap.String("call_site", p.id),
		zap.String("function", p.function),
	}
	p.e.log.Debug(msg, append(base, fields...)...)
}
