package optimistic

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-optimistic-cache/querycache"
)

func TestSnapshot_RestoreRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := querycache.NewKey("orders")
	before := []order{{ID: 1, Status: "pending"}, {ID: 2, Status: "paid"}}
	store.Set(ctx, key, before)

	snap, err := Capture[order](ctx, store, key)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if !snap.Existed() {
		t.Fatal("expected the snapshot to hold a value")
	}

	store.Set(ctx, key, []order{{ID: 3, Status: "cancelled"}})

	if err := snap.Restore(ctx, store); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	items, ok := querycache.Partition[order](ctx, store, key)
	if !ok {
		t.Fatal("partition missing after restore")
	}
	if len(items) != 2 || items[0] != before[0] || items[1] != before[1] {
		t.Errorf("partition = %+v, want %+v", items, before)
	}
}

func TestSnapshot_IsolatedFromLiveWrites(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := querycache.NewKey("orders")
	store.Set(ctx, key, []order{{ID: 1, Status: "pending"}})

	snap, err := Capture[order](ctx, store, key)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	// Mutating the live slice in place must not reach into the snapshot.
	querycache.UpdatePartition(ctx, store, key, func(items []order) []order {
		items[0].Status = "mangled"
		return items
	})

	items, existed, err := SnapshotValue[order](snap)
	if err != nil {
		t.Fatalf("snapshot value failed: %v", err)
	}
	if !existed {
		t.Fatal("expected the snapshot to hold a value")
	}
	if items[0].Status != "pending" {
		t.Errorf("snapshot = %+v, live write leaked into it", items)
	}
}

func TestSnapshot_RestoresAbsence(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := querycache.NewKey("orders")

	snap, err := Capture[order](ctx, store, key)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if snap.Existed() {
		t.Fatal("snapshot of a missing partition must report absence")
	}

	store.Set(ctx, key, []order{{ID: 1}})

	if err := snap.Restore(ctx, store); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if _, ok := store.Get(ctx, key); ok {
		t.Error("partition still present; restore must remove it")
	}
}

func TestSnapshot_ConsumedAtMostOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := querycache.NewKey("orders")
	store.Set(ctx, key, []order{{ID: 1}})

	snap, err := Capture[order](ctx, store, key)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	if err := snap.Restore(ctx, store); err != nil {
		t.Fatalf("first restore failed: %v", err)
	}
	if err := snap.Restore(ctx, store); !errors.Is(err, ErrSnapshotConsumed) {
		t.Errorf("second restore error = %v, want ErrSnapshotConsumed", err)
	}

	discarded, err := Capture[order](ctx, store, key)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	discarded.Discard()
	if !discarded.Consumed() {
		t.Error("discard must consume the snapshot")
	}
	if err := discarded.Restore(ctx, store); !errors.Is(err, ErrSnapshotConsumed) {
		t.Errorf("restore after discard error = %v, want ErrSnapshotConsumed", err)
	}
}

func TestSnapshot_RejectsForeignPartitionType(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := querycache.NewKey("orders")
	store.Set(ctx, key, []string{"not", "orders"})

	if _, err := Capture[order](ctx, store, key); err == nil {
		t.Error("expected capture to reject a partition of the wrong element type")
	}
}

func TestSnapshot_SequenceIsMonotonic(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := querycache.NewKey("orders")
	store.Set(ctx, key, []order{{ID: 1}})

	first, err := Capture[order](ctx, store, key)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	second, err := Capture[order](ctx, store, key)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Errorf("sequence not monotonic: %d then %d", first.Seq, second.Seq)
	}
}
