package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-optimistic-cache/querycache"
)

// ErrSnapshotConsumed is returned when a snapshot is restored more than
// once. A snapshot backs exactly one rollback.
var ErrSnapshotConsumed = errors.New("optimistic: snapshot already consumed")

// snapshotSeq stamps snapshots in capture order, process-wide.
var snapshotSeq atomic.Int64

// Snapshot is an immutable deep copy of one partition, taken before a
// mutation touches it. The value is held as encoded bytes, so later writes
// to the live partition cannot leak into it. A snapshot is consumed at most
// once: either restored on rollback or discarded on commit.
type Snapshot struct {
	// Key is the partition the snapshot was taken from.
	Key querycache.Key

	// Seq orders snapshots by capture time across all keys.
	Seq int64

	existed  bool
	data     []byte
	restore  func(ctx context.Context, store querycache.Store) error
	consumed atomic.Bool
}

// Capture deep-copies the partition at key via a msgpack round trip.
// Entities therefore need marshalable (exported) fields. A missing
// partition is captured as absence: restoring such a snapshot removes the
// key rather than writing an empty slice. Capturing a partition whose
// value is not []T is an error, surfaced before the mutation writes
// anything.
func Capture[T any](ctx context.Context, store querycache.Store, key querycache.Key) (*Snapshot, error) {
	snap := &Snapshot{Key: key, Seq: snapshotSeq.Add(1)}

	raw, ok := store.Get(ctx, key)
	if ok && raw != nil {
		items, isTyped := raw.([]T)
		if !isTyped {
			return nil, fmt.Errorf("optimistic: partition %s holds %T, not a typed entity slice", key, raw)
		}
		data, err := msgpack.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("optimistic: encode snapshot for %s: %w", key, err)
		}
		snap.existed = true
		snap.data = data
	}

	snap.restore = func(ctx context.Context, store querycache.Store) error {
		if !snap.existed {
			store.Remove(ctx, key)
			return nil
		}
		var items []T
		if err := msgpack.Unmarshal(snap.data, &items); err != nil {
			return fmt.Errorf("optimistic: decode snapshot for %s: %w", key, err)
		}
		store.Set(ctx, key, items)
		return nil
	}

	return snap, nil
}

// Restore writes the snapshot's value back, unconditionally overwriting
// whatever the partition holds now (last rollback wins, no diffing). A
// partition that did not exist at capture time is removed. Restore fails
// with ErrSnapshotConsumed on second use.
func (s *Snapshot) Restore(ctx context.Context, store querycache.Store) error {
	if !s.consumed.CompareAndSwap(false, true) {
		return ErrSnapshotConsumed
	}
	return s.restore(ctx, store)
}

// Discard consumes the snapshot without restoring, the commit path.
func (s *Snapshot) Discard() {
	s.consumed.Store(true)
}

// Consumed reports whether the snapshot has been restored or discarded.
func (s *Snapshot) Consumed() bool {
	return s.consumed.Load()
}

// Existed reports whether the partition held a value at capture time.
func (s *Snapshot) Existed() bool {
	return s.existed
}

// SnapshotValue decodes the captured partition for inspection, without
// consuming the snapshot. The boolean mirrors Existed.
func SnapshotValue[T any](s *Snapshot) ([]T, bool, error) {
	if !s.existed {
		return nil, false, nil
	}
	var items []T
	if err := msgpack.Unmarshal(s.data, &items); err != nil {
		return nil, true, fmt.Errorf("optimistic: decode snapshot for %s: %w", s.Key, err)
	}
	return items, true, nil
}
