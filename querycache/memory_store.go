package querycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-optimistic-cache/internal/cacheinfra"
)

// ErrNoFetcher is returned when a refetch targets a key that has no
// registered fetcher to load it from.
var ErrNoFetcher = errors.New("querycache: no fetcher registered for key")

// MemoryStore is the default in-process Store implementation. Values live
// in a sharded TTL cache; per-key mutexes serialize writes so Update and
// fetch commits never interleave on the same partition.
type MemoryStore struct {
	cache    *cacheinfra.PartitionCache
	observed *xsync.MapOf[string, Key]
	fetchers *xsync.MapOf[string, Fetcher]
	inflight *xsync.MapOf[string, *inflightFetch]
	locks    *xsync.MapOf[string, *sync.Mutex]
	logger   *slog.Logger
}

// inflightFetch tracks one running fetch for a key. Concurrent refetches of
// the same key join it instead of fetching twice; err is readable once done
// is closed.
type inflightFetch struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewMemoryStore builds a MemoryStore from cfg. A nil logger falls back to
// slog.Default().
func NewMemoryStore(cfg Config, logger *slog.Logger) (*MemoryStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cache, err := cacheinfra.NewPartitionCache(cfg.toInternal())
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryStore{
		cache:    cache,
		observed: xsync.NewMapOf[string, Key](),
		fetchers: xsync.NewMapOf[string, Fetcher](),
		inflight: xsync.NewMapOf[string, *inflightFetch](),
		locks:    xsync.NewMapOf[string, *sync.Mutex](),
		logger:   logger,
	}, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key Key) (any, bool) {
	return s.cache.Get(key.String())
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key Key, value any) {
	ks := key.String()
	mu := s.lockFor(ks)
	mu.Lock()
	s.cache.Set(ks, value)
	mu.Unlock()
	s.observed.Store(ks, key)
}

// Update implements Store. fn runs under the key's write lock, so the
// read-modify-write cycle is atomic with respect to Set, Remove, other
// Updates, and fetch commits on the same key.
func (s *MemoryStore) Update(_ context.Context, key Key, fn func(current any, ok bool) any) {
	ks := key.String()
	mu := s.lockFor(ks)
	mu.Lock()
	current, ok := s.cache.Get(ks)
	s.cache.Set(ks, fn(current, ok))
	mu.Unlock()
	s.observed.Store(ks, key)
}

// Remove implements Store. A key stays observed while it still has a
// fetcher, so a later type-wide refetch can repopulate the partition; use
// DeregisterFetcher when a query is truly gone.
func (s *MemoryStore) Remove(_ context.Context, key Key) {
	ks := key.String()
	mu := s.lockFor(ks)
	mu.Lock()
	s.cache.Delete(ks)
	mu.Unlock()
	if _, ok := s.fetchers.Load(ks); !ok {
		s.observed.Delete(ks)
	}
}

// CancelInFlight implements Store. After it returns, any fetch that was
// already running for key will have its response discarded rather than
// written, so it cannot clobber writes made from this point on.
func (s *MemoryStore) CancelInFlight(_ context.Context, key Key) {
	if flight, ok := s.inflight.Load(key.String()); ok {
		flight.cancel()
	}
}

// RegisterFetcher implements FetcherRegistry and marks the key observed, so
// type-wide invalidation reaches partitions that have not been filled yet.
func (s *MemoryStore) RegisterFetcher(key Key, fetch Fetcher) {
	ks := key.String()
	s.fetchers.Store(ks, fetch)
	s.observed.Store(ks, key)
}

// DeregisterFetcher implements FetcherRegistry. The key drops out of the
// observed set once it has neither a fetcher nor a cached value.
func (s *MemoryStore) DeregisterFetcher(key Key) {
	ks := key.String()
	s.fetchers.Delete(ks)
	if _, ok := s.cache.Get(ks); !ok {
		s.observed.Delete(ks)
	}
}

// Keys implements Store. Order is unspecified.
func (s *MemoryStore) Keys() []Key {
	keys := make([]Key, 0, s.observed.Size())
	s.observed.Range(func(_ string, key Key) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Invalidate implements Store. Every matching partition is marked stale
// first; refetches then run per opts.Refetch, and their failures are
// joined into the returned error. A failed refetch leaves its stale mark
// in place.
func (s *MemoryStore) Invalidate(ctx context.Context, key Key, opts InvalidateOptions) error {
	targets := s.matchKeys(key, opts.Exact)
	for _, ks := range targets {
		s.cache.MarkStale(ks)
	}
	if opts.Refetch == RefetchNone {
		return nil
	}

	var errs []error
	for _, ks := range targets {
		if _, ok := s.fetchers.Load(ks); !ok {
			continue
		}
		if opts.Refetch == RefetchActive {
			if _, ok := s.cache.Get(ks); !ok {
				continue
			}
		}
		if err := s.refetchKey(ctx, ks); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refetch implements Store. An exact refetch of a key without a fetcher
// returns ErrNoFetcher; type-wide refetches skip such keys.
func (s *MemoryStore) Refetch(ctx context.Context, key Key, opts RefetchOptions) error {
	if opts.Exact {
		return s.refetchKey(ctx, key.String())
	}

	var errs []error
	for _, ks := range s.matchKeys(key, false) {
		if _, ok := s.fetchers.Load(ks); !ok {
			continue
		}
		if err := s.refetchKey(ctx, ks); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsStale reports whether key is marked stale. Mostly useful in tests and
// diagnostics; reads do not consult it.
func (s *MemoryStore) IsStale(key Key) bool {
	return s.cache.IsStale(key.String())
}

// Len returns the number of cached partitions.
func (s *MemoryStore) Len() int {
	return s.cache.Size()
}

func (s *MemoryStore) lockFor(ks string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(ks, &sync.Mutex{})
	return mu
}

// matchKeys resolves the target set for an invalidation or refetch: the
// single serialized key when exact, otherwise every observed key sharing
// the entity type.
func (s *MemoryStore) matchKeys(key Key, exact bool) []string {
	if exact {
		return []string{key.String()}
	}

	var keys []string
	s.observed.Range(func(ks string, observed Key) bool {
		if observed.Type == key.Type {
			keys = append(keys, ks)
		}
		return true
	})
	return keys
}

// refetchKey loads one key from its fetcher. Concurrent calls for the same
// key coalesce: the first becomes the owner, the rest wait for its result.
// The fetched value is committed under the key's write lock only if the
// fetch context is still live, which is what lets CancelInFlight guarantee
// that superseded responses are discarded.
func (s *MemoryStore) refetchKey(ctx context.Context, ks string) error {
	fetch, ok := s.fetchers.Load(ks)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoFetcher, ks)
	}

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	flight := &inflightFetch{cancel: cancel, done: make(chan struct{})}

	if existing, loaded := s.inflight.LoadOrStore(ks, flight); loaded {
		select {
		case <-existing.done:
			return existing.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	value, err := fetch(fctx)
	if err == nil {
		err = fctx.Err()
	}
	if err == nil {
		mu := s.lockFor(ks)
		mu.Lock()
		if cerr := fctx.Err(); cerr != nil {
			err = cerr
		} else {
			s.cache.Set(ks, value)
		}
		mu.Unlock()
	}

	if err != nil {
		if fctx.Err() != nil {
			s.logger.DebugContext(ctx, "refetch superseded", "key", ks)
		} else {
			s.logger.WarnContext(ctx, "refetch failed", "key", ks, "error", err)
		}
	}

	flight.err = err
	s.inflight.Delete(ks)
	close(flight.done)
	return err
}
