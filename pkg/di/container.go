package di

import (
	"github.com/goliatone/go-live-query/devtools"
	"github.com/goliatone/go-live-query/hydrate"
	"github.com/goliatone/go-live-query/query"
	"github.com/goliatone/go-live-query/registry"
)

// Container provides dependency injection for the query engine and its
// collaborators. It manages the singleton engine instance and provides
// factory methods for optional components like the devtools bridge.
type Container struct {
	engine *query.Engine
	config query.Config
}

// NewContainer creates a new DI container with the provided engine
// configuration. The engine, its registry, fetch service and hydration
// payload are initialized once and shared by everything resolved from the
// container.
func NewContainer(config query.Config) (*Container, error) {
	engine, err := query.NewEngine(config)
	if err != nil {
		return nil, err
	}
	return &Container{
		engine: engine,
		config: config,
	}, nil
}

// NewContainerWithDefaults creates a container around client using default
// configuration. This is a convenience constructor for typical client-side
// use where custom configuration is not required.
func NewContainerWithDefaults(client query.Client) (*Container, error) {
	return NewContainer(query.Config{Client: client})
}

// Engine returns the singleton query engine instance.
func (c *Container) Engine() *query.Engine {
	return c.engine
}

// Registry returns the engine's subscription registry.
// This allows direct access for advanced use cases and introspection.
func (c *Container) Registry() *registry.Registry {
	return c.engine.Registry()
}

// Hydration returns the engine's hydration payload: written during server
// rendering, read on client boot.
func (c *Container) Hydration() *hydrate.Payload {
	return c.engine.Hydration()
}

// Config returns a copy of the engine configuration used by this container.
// This is useful for debugging and monitoring purposes.
func (c *Container) Config() query.Config {
	return c.config
}

// NewDevtoolsBridge creates a devtools bridge over the container's registry,
// reusing the engine's logger configuration. The bridge is optional; not
// creating one has no effect on the engine.
func (c *Container) NewDevtoolsBridge() (*devtools.Bridge, error) {
	return devtools.New(devtools.Config{
		Registry: c.engine.Registry(),
		Logger:   c.config.Logger,
	})
}
