package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-optimistic-cache/querycache"
)

const (
	// DefaultWindow is the debounce window applied when SchedulerConfig
	// leaves Window zero: refetches for the same key scheduled within it
	// coalesce into one.
	DefaultWindow = 50 * time.Millisecond

	// WindowSynchronous disables debouncing. Refetches run inline with
	// SmartInvalidate, which then returns their errors.
	WindowSynchronous time.Duration = -1
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Store is the cache whose observed keys are invalidated and
	// refetched.
	Store querycache.Store

	// Graph is the static entity dependency table.
	Graph *Graph

	// Window is the debounce window. Zero means DefaultWindow; a negative
	// value (WindowSynchronous) refetches inline.
	Window time.Duration

	// Logger receives scheduling traces and deferred refetch failures.
	// Nil means slog.Default().
	Logger *slog.Logger
}

// Validate checks whether the configuration is usable.
func (c SchedulerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Store, validation.Required),
		validation.Field(&c.Graph, validation.Required),
	)
}

// Scheduler turns commit signals into cache refreshes: it computes the
// affected type closure, marks every observed key of those types stale,
// and refetches them, coalescing keys scheduled within the debounce
// window. It satisfies the mutation executor's Invalidator contract.
type Scheduler struct {
	store  querycache.Store
	graph  *Graph
	window time.Duration
	logger *slog.Logger

	// ctx outlives individual SmartInvalidate calls; deferred refetches
	// run under it rather than under a caller context that may already be
	// done by the time the window elapses.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]querycache.Key
	timer   *time.Timer
	stopped bool
}

// NewScheduler validates cfg and builds a Scheduler. Callers should Stop it
// when done to release any pending timer.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalidation: scheduler config: %w", err)
	}

	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:   cfg.Store,
		graph:   cfg.Graph,
		window:  window,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]querycache.Key),
	}, nil
}

// SmartInvalidate refreshes everything a committed mutation of entityType
// affects. It computes the closure (the type, its graph dependents, extra,
// and any types attached via WithRelated), marks every observed key of a
// closure type stale, and schedules their refetch. With a synchronous
// window the refetches run inline and their errors are returned; otherwise
// scheduling never fails and deferred errors are logged.
func (s *Scheduler) SmartInvalidate(ctx context.Context, op string, entityType querycache.EntityType, id querycache.ID, extra ...querycache.EntityType) error {
	related := append(append([]querycache.EntityType{}, extra...), RelatedFromContext(ctx)...)
	types := s.graph.Closure(entityType, related...)

	inClosure := make(map[querycache.EntityType]struct{}, len(types))
	for _, t := range types {
		inClosure[t] = struct{}{}
	}

	// A type can have several active partitions (filters, pages); every
	// observed one is affected, not just the key the mutation wrote.
	var keys []querycache.Key
	for _, key := range s.store.Keys() {
		if _, ok := inClosure[key.Type]; ok {
			keys = append(keys, key)
		}
	}

	s.logger.DebugContext(ctx, "smart invalidate",
		"op", op,
		"type", string(entityType),
		"id", id.String(),
		"closure", len(types),
		"keys", len(keys),
	)

	var errs []error
	for _, key := range keys {
		if err := s.store.Invalidate(ctx, key, querycache.InvalidateOptions{Exact: true, Refetch: querycache.RefetchNone}); err != nil {
			errs = append(errs, fmt.Errorf("invalidate %s: %w", key, err))
		}
	}

	if s.window < 0 {
		if err := s.refetchAll(ctx, keys); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	s.schedule(keys)
	return errors.Join(errs...)
}

// schedule adds keys to the pending batch and arms the debounce timer,
// restarting it so the batch flushes one quiet window after the last
// arrival.
func (s *Scheduler) schedule(keys []querycache.Key) {
	if len(keys) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	for _, key := range keys {
		s.pending[key.String()] = key
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.window, s.flushPending)
}

func (s *Scheduler) flushPending() {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]querycache.Key)
	s.timer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := s.refetchAll(s.ctx, sortedKeys(batch)); err != nil {
		s.logger.Warn("debounced refetch failed", "error", err)
	}
}

// Flush refetches everything currently pending, without waiting for the
// window to elapse. Tests and shutdown paths use it to drain the batch
// deterministically.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	batch := s.pending
	s.pending = make(map[string]querycache.Key)
	s.mu.Unlock()

	return s.refetchAll(ctx, sortedKeys(batch))
}

// Pending reports how many keys await a debounced refetch.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop drops pending refetches, disarms the timer, and cancels any
// deferred refetch already running. The scheduler accepts no further
// scheduling afterwards; synchronous invalidation still works.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = make(map[string]querycache.Key)
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
}

// refetchAll reloads each key through its registered fetcher. Keys without
// a fetcher stay stale-marked until something writes them; that is not an
// error.
func (s *Scheduler) refetchAll(ctx context.Context, keys []querycache.Key) error {
	var errs []error
	for _, key := range keys {
		err := s.store.Refetch(ctx, key, querycache.RefetchOptions{Exact: true})
		if err != nil && !errors.Is(err, querycache.ErrNoFetcher) {
			errs = append(errs, fmt.Errorf("refetch %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func sortedKeys(batch map[string]querycache.Key) []querycache.Key {
	names := make([]string, 0, len(batch))
	for name := range batch {
		names = append(names, name)
	}
	sort.Strings(names)

	keys := make([]querycache.Key, 0, len(batch))
	for _, name := range names {
		keys = append(keys, batch[name])
	}
	return keys
}
