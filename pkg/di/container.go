package di

import (
	"context"
	"log/slog"
	"time"

	"github.com/goliatone/go-optimistic-cache/invalidation"
	"github.com/goliatone/go-optimistic-cache/notify"
	"github.com/goliatone/go-optimistic-cache/optimistic"
	"github.com/goliatone/go-optimistic-cache/querycache"
)

// Config assembles the engine's wiring in one place: store tuning, the
// static invalidation table, the refetch debounce window, and the shared
// sinks.
type Config struct {
	// Cache configures the in-memory store.
	Cache querycache.Config

	// Edges is the invalidation table: for each entity type, the types
	// that must refresh when it mutates.
	Edges map[querycache.EntityType][]querycache.EntityType

	// Window is the refetch debounce window. Zero uses the scheduler
	// default; invalidation.WindowSynchronous refetches inline.
	Window time.Duration

	// Notifier overrides the default slog-backed notification sink.
	Notifier notify.Notifier

	// Logger is shared by every component. Nil means slog.Default().
	Logger *slog.Logger
}

// Container wires the store, invalidation graph and scheduler, and the
// notification sink together, and seeds mutation factories with those
// shared collaborators.
type Container struct {
	store     *querycache.MemoryStore
	graph     *invalidation.Graph
	scheduler *invalidation.Scheduler
	notifier  notify.Notifier
	logger    *slog.Logger
	config    Config
}

// NewContainer creates a container from the provided configuration. It
// builds the memory store, the invalidation graph, and the debounced
// scheduler on top of it.
func NewContainer(cfg Config) (*Container, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := querycache.NewMemoryStore(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}

	graph := invalidation.NewGraph(cfg.Edges)
	scheduler, err := invalidation.NewScheduler(invalidation.SchedulerConfig{
		Store:  store,
		Graph:  graph,
		Window: cfg.Window,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NewSlogNotifier(logger)
	}

	return &Container{
		store:     store,
		graph:     graph,
		scheduler: scheduler,
		notifier:  notifier,
		logger:    logger,
		config:    cfg,
	}, nil
}

// NewContainerWithDefaults creates a container with the default store
// configuration and an empty invalidation table, so each entity type
// refreshes only itself. Convenient for tests and small setups.
func NewContainerWithDefaults() (*Container, error) {
	return NewContainer(Config{Cache: querycache.DefaultConfig()})
}

// Store returns the singleton store instance, for direct reads, writes,
// and fetcher registration.
func (c *Container) Store() *querycache.MemoryStore {
	return c.store
}

// Graph returns the invalidation graph built from Config.Edges.
func (c *Container) Graph() *invalidation.Graph {
	return c.graph
}

// Scheduler returns the invalidation scheduler. Callers can Flush it to
// drain pending refetches deterministically.
func (c *Container) Scheduler() *invalidation.Scheduler {
	return c.scheduler
}

// Notifier returns the shared notification sink.
func (c *Container) Notifier() notify.Notifier {
	return c.notifier
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// Stop shuts the scheduler down, dropping pending refetches. The store
// keeps serving reads and local writes.
func (c *Container) Stop() {
	c.scheduler.Stop()
}

// fill seeds a mutation config with the container's collaborators, keeping
// anything the caller already set.
func fill[T any](c *Container, cfg optimistic.Config[T]) optimistic.Config[T] {
	if cfg.Store == nil {
		cfg.Store = c.store
	}
	if cfg.Invalidator == nil {
		cfg.Invalidator = c.scheduler
	}
	if cfg.Notifier == nil {
		cfg.Notifier = c.notifier
	}
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}
	return cfg
}

// NewCreateMutation builds a create mutation backed by the container's
// store, scheduler, and notifier.
//
// Since Go methods cannot have type parameters, the mutation factories are
// package-level functions taking the container first.
func NewCreateMutation[TIn any, T any](c *Container, cfg optimistic.CreateConfig[TIn, T]) (*optimistic.CreateMutation[TIn, T], error) {
	cfg.Config = fill(c, cfg.Config)
	return optimistic.NewCreateMutation(cfg)
}

// NewUpdateMutation builds an update mutation backed by the container.
func NewUpdateMutation[TIn any, T any](c *Container, cfg optimistic.UpdateConfig[TIn, T]) (*optimistic.UpdateMutation[TIn, T], error) {
	cfg.Config = fill(c, cfg.Config)
	return optimistic.NewUpdateMutation(cfg)
}

// NewDeleteMutation builds a delete mutation backed by the container.
func NewDeleteMutation[TIn any, T any](c *Container, cfg optimistic.DeleteConfig[TIn, T]) (*optimistic.DeleteMutation[TIn, T], error) {
	cfg.Config = fill(c, cfg.Config)
	return optimistic.NewDeleteMutation(cfg)
}

// NewBatchDeleteMutation builds a batch delete mutation backed by the
// container.
func NewBatchDeleteMutation[T any](c *Container, cfg optimistic.BatchDeleteConfig[T]) (*optimistic.BatchDeleteMutation[T], error) {
	cfg.Config = fill(c, cfg.Config)
	return optimistic.NewBatchDeleteMutation(cfg)
}

// RegisterList binds a list endpoint as the source of truth for key. The
// payload goes through the response normalizer before it is cached, so the
// endpoint may return any of the supported envelope shapes.
func RegisterList[T any](c *Container, key querycache.Key, fetch func(ctx context.Context) (any, error)) {
	c.store.RegisterFetcher(key, querycache.ListFetcher[T](fetch))
}
