package query

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/goliatone/go-live-query/auth"
	"github.com/goliatone/go-live-query/cache"
	"github.com/goliatone/go-live-query/hydrate"
	"github.com/goliatone/go-live-query/internal/fetchinfra"
	"github.com/goliatone/go-live-query/registry"
)

// Config assembles an Engine's collaborators. Client is required; everything
// else has a usable default.
type Config struct {
	// Client is the backend the engine queries, mutates and subscribes
	// through.
	Client Client

	// ServerMode marks the engine as running inside server rendering: call
	// sites fetch once and write into the hydration payload instead of
	// subscribing.
	ServerMode bool

	// Auth supplies tokens for authenticated calls. Optional; when nil all
	// calls are anonymous.
	Auth auth.Provider

	// Hydration is the payload shared across the server-to-client
	// transition. Written on the server, read on client boot. When nil a
	// fresh payload is created.
	Hydration *hydrate.Payload

	// Registry overrides the subscription registry, mainly for tests.
	Registry *registry.Registry

	// Serializer overrides cache key construction.
	Serializer cache.KeySerializer

	// Logger receives diagnostic events from Verbose call sites.
	Logger *zap.Logger

	// FetchCacheTTL bounds reuse of one-shot fetch results. Zero uses the
	// default, sized for the render-to-hydration window.
	FetchCacheTTL time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Client, validation.Required),
	)
}

// Engine is the shared root of all call sites: it owns the registry, the
// one-shot fetch service, the hydration payload and the auth boundary.
// Create one per rendering context and derive Query, Paginate and Mutation
// call sites from it.
type Engine struct {
	client     Client
	serializer cache.KeySerializer
	reg        *registry.Registry
	fetch      *fetchinfra.Service
	authp      auth.Provider
	payload    *hydrate.Payload
	server     bool
	log        *zap.Logger
}

// NewEngine validates cfg and wires an engine from it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fetchCfg := fetchinfra.DefaultConfig()
	if cfg.FetchCacheTTL > 0 {
		fetchCfg.TTL = cfg.FetchCacheTTL
	}
	fetchSvc, err := fetchinfra.NewService(fetchCfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		client:     cfg.Client,
		serializer: cfg.Serializer,
		reg:        cfg.Registry,
		fetch:      fetchSvc,
		authp:      cfg.Auth,
		payload:    cfg.Hydration,
		server:     cfg.ServerMode,
		log:        cfg.Logger,
	}
	if e.serializer == nil {
		e.serializer = cache.NewDefaultKeySerializer()
	}
	if e.reg == nil {
		e.reg = registry.New()
	}
	if e.payload == nil {
		e.payload = hydrate.New()
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e, nil
}

// Registry exposes the engine's subscription registry for read-only
// introspection (devtools bridge).
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Hydration exposes the hydration payload, for embedding into the rendered
// page on the server or seeding from the page on the client.
func (e *Engine) Hydration() *hydrate.Payload {
	return e.payload
}

// ServerMode reports whether the engine runs inside server rendering.
func (e *Engine) ServerMode() bool {
	return e.server
}

// withToken acquires an auth token unless the call is public. Public calls
// must not touch the provider at all.
func (e *Engine) withToken(ctx context.Context, public bool) (context.Context, error) {
	if public || e.authp == nil {
		return ctx, nil
	}
	token, err := e.authp.GetToken(ctx, auth.TokenOptions{})
	if err != nil {
		return nil, err
	}
	if token != "" {
		ctx = auth.ContextWithToken(ctx, token)
	}
	return ctx, nil
}

// fetchOnce performs the one-shot fetch path: token acquisition, then a
// deduplicated request through the fetch service.
func (e *Engine) fetchOnce(ctx context.Context, key, function string, args any, public bool) (any, error) {
	ctx, err := e.withToken(ctx, public)
	if err != nil {
		return nil, &FetchError{Function: function, Err: err}
	}
	value, err := e.fetch.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return e.client.Query(ctx, function, args)
	})
	if err != nil {
		return nil, &FetchError{Function: function, Err: err}
	}
	return value, nil
}
