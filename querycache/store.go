package querycache

import (
	"context"

	"github.com/goliatone/go-optimistic-cache/normalize"
)

// RefetchMode selects which matching partitions an invalidation refetches.
type RefetchMode int

const (
	// RefetchActive refetches matching keys that are observed and still
	// hold a cached value.
	RefetchActive RefetchMode = iota
	// RefetchAll refetches every matching key that has a fetcher, cached
	// value or not.
	RefetchAll
	// RefetchNone marks matching keys stale without refetching; callers
	// schedule their own refresh.
	RefetchNone
)

// InvalidateOptions controls Invalidate. Exact targets the single key;
// otherwise every observed key with the same entity type is affected.
type InvalidateOptions struct {
	Exact   bool
	Refetch RefetchMode
}

// RefetchOptions controls Refetch key matching, mirroring InvalidateOptions.
type RefetchOptions struct {
	Exact bool
}

// Fetcher loads the authoritative value for one key from the source of
// truth. The returned value replaces the partition wholesale.
type Fetcher func(ctx context.Context) (any, error)

// Store is the observable-query cache contract the mutation engine writes
// through. Get/Set/Update/Remove are synchronous and local; Invalidate and
// Refetch may reach the network through registered fetchers and can race
// with later mutations. Implementations must make Update's
// read-modify-write atomic per key so no partial state is observable.
type Store interface {
	// Get returns the cached partition value for key, if any.
	Get(ctx context.Context, key Key) (any, bool)

	// Set replaces the partition value for key and marks it observed.
	Set(ctx context.Context, key Key, value any)

	// Update applies fn to the current value (ok reports whether one was
	// cached) and stores the result, atomically with respect to other
	// writers of the same key.
	Update(ctx context.Context, key Key, fn func(current any, ok bool) any)

	// Remove drops the partition and its observed-key registration.
	Remove(ctx context.Context, key Key)

	// CancelInFlight aborts any fetch currently loading this key, so a
	// stale network response cannot clobber a newer local write.
	CancelInFlight(ctx context.Context, key Key)

	// Invalidate marks matching partitions stale and optionally refetches
	// them according to opts.Refetch.
	Invalidate(ctx context.Context, key Key, opts InvalidateOptions) error

	// Refetch reloads matching partitions from their fetchers. Concurrent
	// refetches of one key coalesce into a single fetch.
	Refetch(ctx context.Context, key Key, opts RefetchOptions) error

	// Keys lists the currently observed keys, the fan-out set for
	// type-wide invalidation.
	Keys() []Key
}

// FetcherRegistry is implemented by stores that own their refetch plumbing.
type FetcherRegistry interface {
	// RegisterFetcher binds the source-of-truth loader for key and marks
	// the key observed.
	RegisterFetcher(key Key, fetch Fetcher)

	// DeregisterFetcher removes the loader; the key stays cached until
	// removed or evicted.
	DeregisterFetcher(key Key)
}

// ListFetcher adapts a raw-payload fetch into a Fetcher that stores a
// normalized []T partition. Every payload entering the store through a
// refetch passes the normalizer, whatever shape the endpoint returns.
func ListFetcher[T any](fetch func(ctx context.Context) (any, error)) Fetcher {
	return func(ctx context.Context) (any, error) {
		raw, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return normalize.List[T](raw).Data, nil
	}
}

// Partition returns the partition for key as []T. The boolean is false when
// nothing is cached or the cached value has a different element type.
func Partition[T any](ctx context.Context, s Store, key Key) ([]T, bool) {
	v, ok := s.Get(ctx, key)
	if !ok {
		return nil, false
	}
	items, ok := v.([]T)
	return items, ok
}

// SetPartition stores items as the partition for key.
func SetPartition[T any](ctx context.Context, s Store, key Key, items []T) {
	s.Set(ctx, key, items)
}

// UpdatePartition applies a typed transform to the partition for key. A
// missing or differently typed partition presents as nil, so transforms can
// treat "no partition" and "empty partition" uniformly.
func UpdatePartition[T any](ctx context.Context, s Store, key Key, fn func(items []T) []T) {
	s.Update(ctx, key, func(current any, ok bool) any {
		var items []T
		if ok {
			if typed, isTyped := current.([]T); isTyped {
				items = typed
			}
		}
		return fn(items)
	})
}
