// Package querycache defines the vocabulary of the optimistic mutation
// engine: entity types, partition keys, entity ids, and the Store contract
// the engine reads and writes through.
//
// # Overview
//
// A cached view of server data is addressed by a Key: the entity type plus
// a canonical serialization of the filter parameters that produced it. The
// same type can have many live partitions at once (an unfiltered order
// list, a filtered one, page three of another), and each is snapshotted,
// optimistically rewritten, and invalidated independently.
//
//	unfiltered := querycache.NewKey("orders")
//	paid := querycache.NewKey("orders", map[string]any{"status": "paid"})
//
// # The Store contract
//
// Store is consumed, not owned: callers may plug in any observable-query
// cache that honors the contract. Get/Set/Update/Remove are synchronous and
// local, so a write is visible to the next read on any goroutine as soon as
// the call returns. Invalidate and Refetch may reach the network through
// registered fetchers and are therefore allowed to race with later
// mutations; CancelInFlight exists so a mutation can stop a stale read from
// clobbering its optimistic write. A default implementation wired to an
// in-memory backend is available through the pkg/di container.
//
// Partitions are stored as []T behind an any-typed interface. The typed
// helpers keep call sites honest:
//
//	orders, ok := querycache.Partition[Order](ctx, store, key)
//	querycache.UpdatePartition(ctx, store, key, func(items []Order) []Order {
//		return append(items, next)
//	})
//
// # Key serialization
//
// The default KeySerializer turns arbitrary filter args into deterministic
// strings: basic types print directly, slices and maps serialize
// recursively (maps in sorted order), structs by exported field, functions
// by pointer. Segments beyond a fixed length are truncated and suffixed
// with an xxhash64 digest so keys stay bounded. Function-valued filters are
// only stable within one process; supply a custom serializer through
// NewKeyWith when keys must survive restarts.
//
// # Ids and temp ids
//
// ID carries a numeric or string entity identifier. NewTempID allocates
// placeholder ids for optimistically created entities from a monotonic
// counter plus a UUID under the reserved "tmp_" namespace, so a temp id can
// never collide with or be mistaken for a server-issued id, and is
// recognized again after a round trip through an entity's own id field.
package querycache
