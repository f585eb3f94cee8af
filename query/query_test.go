package query_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-live-query/cache"
	"github.com/goliatone/go-live-query/hydrate"
	"github.com/goliatone/go-live-query/pkg/testsupport"
	"github.com/goliatone/go-live-query/query"
	"github.com/goliatone/go-live-query/registry"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newClientEngine(t *testing.T, cfg query.Config) *query.Engine {
	t.Helper()
	e, err := query.NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestQuery_SubscriptionResolvesOnCreate(t *testing.T) {
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, _ any) (any, error) {
		return []any{"hello", "world"}, nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	q, err := e.Query("messages:list", query.StaticArgs(map[string]any{"channel": "general"}), query.DefaultOptions())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()

	res := q.Result()
	if res.Status != registry.StatusSuccess {
		t.Fatalf("Status = %v, want %v", res.Status, registry.StatusSuccess)
	}
	items, ok := res.Data.([]any)
	if !ok || len(items) != 2 {
		t.Errorf("Data = %#v, want two items", res.Data)
	}
	if backend.ActiveSubscriptions() != 1 {
		t.Errorf("ActiveSubscriptions() = %d, want 1", backend.ActiveSubscriptions())
	}
}

func TestQuery_SerializationErrorIsSynchronous(t *testing.T) {
	backend := testsupport.NewFakeBackend()
	e := newClientEngine(t, query.Config{Client: backend})

	_, err := e.Query("messages:list", query.StaticArgs(map[string]any{"cb": func() {}}), query.DefaultOptions())
	if err == nil {
		t.Fatal("Query() with function argument should fail")
	}
	var serr *cache.SerializationError
	if !errors.As(err, &serr) {
		t.Errorf("error = %v, want *cache.SerializationError", err)
	}
}

func TestQuery_SharedSubscription(t *testing.T) {
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, _ any) (any, error) {
		return "v1", nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	args := func() query.ArgsFunc {
		return query.StaticArgs(map[string]any{"channel": "general"})
	}

	q1, err := e.Query("messages:list", args(), query.DefaultOptions())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	q2, err := e.Query("messages:list", args(), query.DefaultOptions())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	// identical (function, args) share one live subscription
	if got := backend.ActiveSubscriptions(); got != 1 {
		t.Fatalf("ActiveSubscriptions() = %d, want 1", got)
	}

	// a sibling arriving after resolution starts on cached data, not pending
	q3, err := e.Query("messages:list", args(), query.DefaultOptions())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res := q3.Result(); res.Status != registry.StatusSuccess || res.Data != "v1" {
		t.Errorf("late sibling Result() = %+v, want immediate success with v1", res)
	}

	// a push reaches every sibling
	n := backend.Push("messages:list", map[string]any{"channel": "general"}, "v2")
	if n != 1 {
		t.Fatalf("Push delivered to %d subscriptions, want 1", n)
	}
	for i, q := range []*query.Query{q1, q2, q3} {
		if res := q.Result(); res.Data != "v2" {
			t.Errorf("call site %d Data = %v, want v2", i, res.Data)
		}
	}

	// the subscription survives until the last call site lets go
	q1.Dispose()
	q2.Dispose()
	if got := backend.ActiveSubscriptions(); got != 1 {
		t.Errorf("ActiveSubscriptions() after partial dispose = %d, want 1", got)
	}
	q3.Dispose()
	if got := backend.ActiveSubscriptions(); got != 0 {
		t.Errorf("ActiveSubscriptions() after full dispose = %d, want 0", got)
	}
}

func TestQuery_ConcurrentPushesSettleOnRegistryValue(t *testing.T) {
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, _ any) (any, error) {
		return "v0", nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	args := map[string]any{"channel": "general"}
	q, err := e.Query("messages:list", query.StaticArgs(args), query.DefaultOptions())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()

	var mu sync.Mutex
	var lastSeen any
	cancel := q.Watch(func(r query.Result) {
		mu.Lock()
		lastSeen = r.Data
		mu.Unlock()
	})
	defer cancel()

	const writers = 4
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				backend.Push("messages:list", args, fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()

	// whichever push landed last, the call site and its watcher must hold
	// exactly the registry's current value, never an older one a racing
	// writer overtook
	snaps := e.Registry().SnapshotAll()
	if len(snaps) != 1 {
		t.Fatalf("SnapshotAll() returned %d entries, want 1", len(snaps))
	}
	final := snaps[0]
	if res := q.Result(); res.Data != final.Value {
		t.Errorf("Result().Data = %v, registry holds %v", res.Data, final.Value)
	}
	mu.Lock()
	got := lastSeen
	mu.Unlock()
	if got != final.Value {
		t.Errorf("watcher last saw %v, registry holds %v", got, final.Value)
	}
}

func TestQuery_SkipSentinel(t *testing.T) {
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, args any) (any, error) {
		return args, nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	current := cache.Skip
	q, err := e.Query("messages:list", func() any { return current }, query.DefaultOptions())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()

	if res := q.Result(); res.Status != registry.StatusIdle {
		t.Fatalf("Status = %v, want %v", res.Status, registry.StatusIdle)
	}
	if got := backend.QueryCalls("messages:list"); got != 0 {
		t.Errorf("QueryCalls = %d, want 0 while skipped", got)
	}
	if got := backend.ActiveSubscriptions(); got != 0 {
		t.Errorf("ActiveSubscriptions() = %d, want 0 while skipped", got)
	}

	// skipped call sites resolve Ready so navigation is not held hostage
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Ready(ctx); err != nil {
		t.Fatalf("Ready() while skipped error = %v", err)
	}

	current = map[string]any{"channel": "general"}
	if err := q.Invalidate(); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if res := q.Result(); res.Status != registry.StatusSuccess {
		t.Errorf("Status after unskip = %v, want %v", res.Status, registry.StatusSuccess)
	}
}

func TestQuery_ArgumentChangeRepoints(t *testing.T) {
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, args any) (any, error) {
		return args.(map[string]any)["channel"], nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	channel := "general"
	q, err := e.Query("messages:list", func() any {
		return map[string]any{"channel": channel}
	}, query.DefaultOptions())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()

	if res := q.Result(); res.Data != "general" {
		t.Fatalf("Data = %v, want general", res.Data)
	}

	channel = "random"
	if err := q.Invalidate(); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if res := q.Result(); res.Data != "random" {
		t.Errorf("Data after repoint = %v, want random", res.Data)
	}
	if got := backend.ActiveSubscriptions(); got != 1 {
		t.Errorf("ActiveSubscriptions() = %d, want 1 after old entry released", got)
	}

	// re-running with unchanged arguments must not churn the entry
	if err := q.Invalidate(); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if got := backend.ActiveSubscriptions(); got != 1 {
		t.Errorf("ActiveSubscriptions() after no-op invalidate = %d, want 1", got)
	}
}

func TestQuery_SubscriptionErrorPreservesData(t *testing.T) {
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, _ any) (any, error) {
		return "v1", nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	args := map[string]any{"channel": "general"}
	q, err := e.Query("messages:list", query.StaticArgs(args), query.DefaultOptions())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()

	pushed := errors.New("stream torn down")
	if n := backend.PushError("messages:list", args, pushed); n != 1 {
		t.Fatalf("PushError delivered to %d subscriptions, want 1", n)
	}

	res := q.Result()
	if res.Status != registry.StatusError {
		t.Errorf("Status = %v, want %v", res.Status, registry.StatusError)
	}
	if !errors.Is(res.Err, pushed) {
		t.Errorf("Err = %v, want %v", res.Err, pushed)
	}
	if res.Data != "v1" {
		t.Errorf("Data = %v, want last good value v1", res.Data)
	}

	// recovery clears the error
	backend.Push("messages:list", args, "v2")
	res = q.Result()
	if res.Status != registry.StatusSuccess || res.Err != nil || res.Data != "v2" {
		t.Errorf("Result after recovery = %+v, want success v2", res)
	}
}

func TestQuery_DefaultPlaceholder(t *testing.T) {
	release := make(chan struct{})
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, _ any) (any, error) {
		<-release
		return "real", nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	opts := query.DefaultOptions()
	opts.Subscribe = false
	opts.Default = func() any { return "placeholder" }

	q, err := e.Query("messages:list", query.StaticArgs(nil), opts)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()

	res := q.Result()
	if !res.Pending() {
		t.Fatalf("Status = %v, want pending before first resolution", res.Status)
	}
	if res.Data != "placeholder" {
		t.Errorf("Data = %v, want placeholder", res.Data)
	}

	close(release)
	waitFor(t, func() bool { return q.Result().Status == registry.StatusSuccess })
	if res := q.Result(); res.Data != "real" {
		t.Errorf("Data = %v, want real after resolution", res.Data)
	}
}

func TestQuery_PublicSkipsTokenProvider(t *testing.T) {
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("stats:public", func(_ context.Context, _ any) (any, error) {
		return 42, nil
	})
	provider := testsupport.NewCountingProvider("secret-token")
	e := newClientEngine(t, query.Config{Client: backend, Auth: provider})

	opts := query.DefaultOptions()
	opts.Subscribe = false
	opts.Public = true

	q, err := e.Query("stats:public", query.StaticArgs(nil), opts)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()

	waitFor(t, func() bool { return q.Result().Status == registry.StatusSuccess })
	if got := provider.Calls(); got != 0 {
		t.Fatalf("provider.Calls() = %d, want 0 for public call site", got)
	}
	tokens := backend.Tokens()
	if len(tokens) == 0 || tokens[len(tokens)-1] != "" {
		t.Errorf("Tokens() = %v, want anonymous last call", tokens)
	}

	// an authenticated sibling does go through the provider
	auth := query.DefaultOptions()
	auth.Subscribe = false
	q2, err := e.Query("stats:public", query.StaticArgs("authed"), auth)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q2.Dispose()
	waitFor(t, func() bool { return q2.Result().Status == registry.StatusSuccess })
	if got := provider.Calls(); got != 1 {
		t.Errorf("provider.Calls() = %d, want 1 after authenticated fetch", got)
	}
	tokens = backend.Tokens()
	if tokens[len(tokens)-1] != "secret-token" {
		t.Errorf("Tokens() = %v, want secret-token last", tokens)
	}
}

func TestQuery_RefreshUpdatesSharedEntry(t *testing.T) {
	value := "v1"
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, _ any) (any, error) {
		return value, nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	opts := query.DefaultOptions()
	opts.Subscribe = false

	q1, err := e.Query("messages:list", query.StaticArgs(nil), opts)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q1.Dispose()
	q2, err := e.Query("messages:list", query.StaticArgs(nil), opts)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q2.Dispose()

	waitFor(t, func() bool {
		return q1.Result().Status == registry.StatusSuccess &&
			q2.Result().Status == registry.StatusSuccess
	})

	value = "v2"
	if err := q1.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// the refresh lands on the shared entry, so the sibling sees it too
	if res := q2.Result(); res.Data != "v2" {
		t.Errorf("sibling Data = %v, want v2 after refresh", res.Data)
	}
}

func TestQuery_RefreshFailureKeepsData(t *testing.T) {
	fail := false
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, _ any) (any, error) {
		if fail {
			return nil, errors.New("backend down")
		}
		return "v1", nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	opts := query.DefaultOptions()
	opts.Subscribe = false
	q, err := e.Query("messages:list", query.StaticArgs(nil), opts)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()
	waitFor(t, func() bool { return q.Result().Status == registry.StatusSuccess })

	fail = true
	err = q.Refresh(context.Background())
	if err == nil {
		t.Fatal("Refresh() should propagate the fetch failure")
	}
	var ferr *query.FetchError
	if !errors.As(err, &ferr) {
		t.Errorf("Refresh() error = %v, want *query.FetchError", err)
	}

	res := q.Result()
	if res.Status != registry.StatusError {
		t.Errorf("Status = %v, want %v", res.Status, registry.StatusError)
	}
	if res.Data != "v1" {
		t.Errorf("Data = %v, want v1 preserved through failed refresh", res.Data)
	}
}

func TestQuery_StaleRefreshDropped(t *testing.T) {
	release := make(chan struct{})
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, args any) (any, error) {
		if args == "slow" {
			<-release
			return "slow-value", nil
		}
		return "fast-value", nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	opts := query.DefaultOptions()
	opts.Subscribe = false

	current := any("slow")
	q, err := e.Query("messages:list", func() any { return current }, opts)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()

	refreshed := make(chan error, 1)
	go func() { refreshed <- q.Refresh(context.Background()) }()

	// re-point the call site while the refresh is in flight
	current = "fast"
	if err := q.Invalidate(); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	waitFor(t, func() bool { return q.Result().Data == "fast-value" })

	close(release)
	if err := <-refreshed; err != nil {
		t.Fatalf("stale Refresh() error = %v, want nil", err)
	}
	if res := q.Result(); res.Data != "fast-value" {
		t.Errorf("Data = %v, want fast-value to survive stale refresh", res.Data)
	}
}

func TestQuery_Hydration(t *testing.T) {
	// server pass: fetch once, record into the payload
	serverBackend := testsupport.NewFakeBackend()
	serverBackend.HandleQuery("messages:list", func(_ context.Context, _ any) (any, error) {
		return "rendered-on-server", nil
	})
	server := newClientEngine(t, query.Config{Client: serverBackend, ServerMode: true})

	sq, err := server.Query("messages:list", query.StaticArgs(nil), query.DefaultOptions())
	if err != nil {
		t.Fatalf("server Query() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sq.Ready(ctx); err != nil {
		t.Fatalf("server Ready() error = %v", err)
	}
	if serverBackend.ActiveSubscriptions() != 0 {
		t.Fatal("server rendering must not open subscriptions")
	}

	// simulate the wire: encode the payload, decode it on the client
	blob, err := server.Hydration().Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	payload, err := hydrate.Decode(blob)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	// client pass: no query handler registered, the payload is the only
	// possible data source
	clientBackend := testsupport.NewFakeBackend()
	client := newClientEngine(t, query.Config{Client: clientBackend, Hydration: payload})

	opts := query.DefaultOptions()
	opts.Subscribe = false
	cq, err := client.Query("messages:list", query.StaticArgs(nil), opts)
	if err != nil {
		t.Fatalf("client Query() error = %v", err)
	}
	defer cq.Dispose()

	res := cq.Result()
	if res.Status != registry.StatusSuccess {
		t.Fatalf("Status = %v, want immediate success from hydration", res.Status)
	}
	if res.Data != "rendered-on-server" {
		t.Errorf("Data = %v, want rendered-on-server", res.Data)
	}
	if got := clientBackend.QueryCalls("messages:list"); got != 0 {
		t.Errorf("QueryCalls = %d, want 0 when hydration satisfies the call site", got)
	}
}

func TestQuery_LazyBlocking(t *testing.T) {
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, _ any) (any, error) {
		return "v", nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	lazy := query.DefaultOptions()
	lazy.Lazy = true
	q, err := e.Query("messages:list", query.StaticArgs(nil), lazy)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()

	if q.Blocking() {
		t.Error("Blocking() = true for lazy call site")
	}

	q2, err := e.Query("messages:list", query.StaticArgs(nil), query.DefaultOptions())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q2.Dispose()
	if !q2.Blocking() {
		t.Error("Blocking() = false for default call site")
	}
}

func TestQuery_WatchDeliversCurrentThenUpdates(t *testing.T) {
	backend := testsupport.NewFakeBackend()
	backend.HandleQuery("messages:list", func(_ context.Context, _ any) (any, error) {
		return "v1", nil
	})
	e := newClientEngine(t, query.Config{Client: backend})

	q, err := e.Query("messages:list", query.StaticArgs(nil), query.DefaultOptions())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer q.Dispose()

	var seen []any
	cancel := q.Watch(func(r query.Result) {
		seen = append(seen, r.Data)
	})

	backend.Push("messages:list", nil, "v2")
	cancel()
	backend.Push("messages:list", nil, "v3")

	if len(seen) != 2 || seen[0] != "v1" || seen[1] != "v2" {
		t.Errorf("watcher saw %v, want [v1 v2]", seen)
	}
}
