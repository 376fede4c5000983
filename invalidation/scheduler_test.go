package invalidation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-optimistic-cache/querycache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *querycache.MemoryStore {
	t.Helper()
	store, err := querycache.NewMemoryStore(querycache.Config{
		Capacity:           1000,
		NumShards:          4,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	}, discardLogger())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

type countingFetcher struct {
	calls   atomic.Int32
	value   any
	err     error
	fetched chan struct{}
}

func (f *countingFetcher) fetch(ctx context.Context) (any, error) {
	f.calls.Add(1)
	if f.fetched != nil {
		select {
		case f.fetched <- struct{}{}:
		default:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.value, nil
}

// seed registers a counting fetcher for key and caches an initial value so
// the key is observed with content.
func seed(t *testing.T, store *querycache.MemoryStore, key querycache.Key) *countingFetcher {
	t.Helper()
	f := &countingFetcher{value: []string{"fresh"}}
	store.RegisterFetcher(key, f.fetch)
	store.Set(context.Background(), key, []string{"stale"})
	return f
}

func ordersGraph() *Graph {
	return NewGraph(map[querycache.EntityType][]querycache.EntityType{
		"orders": {"customers", "inventory"},
	})
}

func TestScheduler_ClosureRefetch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	orders := seed(t, store, querycache.NewKey("orders"))
	ordersOpen := seed(t, store, querycache.NewKey("orders", "open"))
	customers := seed(t, store, querycache.NewKey("customers"))
	inventory := seed(t, store, querycache.NewKey("inventory"))
	products := seed(t, store, querycache.NewKey("products"))

	sched, err := NewScheduler(SchedulerConfig{
		Store:  store,
		Graph:  ordersGraph(),
		Window: WindowSynchronous,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	defer sched.Stop()

	if err := sched.SmartInvalidate(ctx, "delete", "orders", querycache.NumericID(7)); err != nil {
		t.Fatalf("smart invalidate failed: %v", err)
	}

	// Every observed partition of a closure type refetches, including the
	// filtered orders partition; unrelated types stay untouched.
	for name, f := range map[string]*countingFetcher{
		"orders":      orders,
		"orders/open": ordersOpen,
		"customers":   customers,
		"inventory":   inventory,
	} {
		if n := f.calls.Load(); n != 1 {
			t.Errorf("%s fetched %d times, want 1", name, n)
		}
	}
	if n := products.calls.Load(); n != 0 {
		t.Errorf("products fetched %d times, want 0", n)
	}
}

func TestScheduler_FetcherlessKeysStayStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	auditKey := querycache.NewKey("audit_log")
	store.Set(ctx, auditKey, []string{"entry"})

	graph := NewGraph(map[querycache.EntityType][]querycache.EntityType{
		"orders": {"audit_log"},
	})
	sched, err := NewScheduler(SchedulerConfig{
		Store:  store,
		Graph:  graph,
		Window: WindowSynchronous,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	defer sched.Stop()

	if err := sched.SmartInvalidate(ctx, "create", "orders", querycache.NumericID(1)); err != nil {
		t.Fatalf("a key without a fetcher must not fail invalidation: %v", err)
	}
	if !store.IsStale(auditKey) {
		t.Error("fetcherless key not marked stale")
	}
}

func TestScheduler_DebounceCoalesces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	orders := seed(t, store, querycache.NewKey("orders"))
	customers := seed(t, store, querycache.NewKey("customers"))
	inventory := seed(t, store, querycache.NewKey("inventory"))

	sched, err := NewScheduler(SchedulerConfig{
		Store:  store,
		Graph:  ordersGraph(),
		Window: time.Hour, // too far out to fire during the test
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	defer sched.Stop()

	for i := 0; i < 3; i++ {
		if err := sched.SmartInvalidate(ctx, "update", "orders", querycache.NumericID(int64(i))); err != nil {
			t.Fatalf("smart invalidate %d failed: %v", i, err)
		}
	}

	if got := sched.Pending(); got != 3 {
		t.Errorf("pending = %d, want 3 deduplicated keys", got)
	}
	if n := orders.calls.Load(); n != 0 {
		t.Errorf("orders fetched %d times before flush, want 0", n)
	}

	if err := sched.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	for name, f := range map[string]*countingFetcher{
		"orders":    orders,
		"customers": customers,
		"inventory": inventory,
	} {
		if n := f.calls.Load(); n != 1 {
			t.Errorf("%s fetched %d times, want exactly 1", name, n)
		}
	}
	if got := sched.Pending(); got != 0 {
		t.Errorf("pending = %d after flush, want 0", got)
	}
}

func TestScheduler_WindowElapses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := querycache.NewKey("customers")
	f := seed(t, store, key)
	f.fetched = make(chan struct{}, 1)

	sched, err := NewScheduler(SchedulerConfig{
		Store:  store,
		Graph:  NewGraph(nil),
		Window: 10 * time.Millisecond,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	defer sched.Stop()

	if err := sched.SmartInvalidate(ctx, "update", "customers", querycache.NumericID(1)); err != nil {
		t.Fatalf("smart invalidate failed: %v", err)
	}

	select {
	case <-f.fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced refetch never fired")
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("fetched %d times, want 1", n)
	}
}

func TestScheduler_StopDropsPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := querycache.NewKey("orders")
	f := seed(t, store, key)

	sched, err := NewScheduler(SchedulerConfig{
		Store:  store,
		Graph:  NewGraph(nil),
		Window: 20 * time.Millisecond,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}

	if err := sched.SmartInvalidate(ctx, "delete", "orders", querycache.NumericID(1)); err != nil {
		t.Fatalf("smart invalidate failed: %v", err)
	}
	if sched.Pending() == 0 {
		t.Fatal("expected a pending refetch before Stop")
	}

	sched.Stop()

	if got := sched.Pending(); got != 0 {
		t.Errorf("pending = %d after Stop, want 0", got)
	}
	time.Sleep(60 * time.Millisecond)
	if n := f.calls.Load(); n != 0 {
		t.Errorf("refetch ran after Stop: %d calls", n)
	}

	// Scheduling after Stop is ignored rather than re-arming the timer.
	if err := sched.SmartInvalidate(ctx, "delete", "orders", querycache.NumericID(2)); err != nil {
		t.Fatalf("smart invalidate after stop failed: %v", err)
	}
	if got := sched.Pending(); got != 0 {
		t.Errorf("pending = %d after post-Stop scheduling, want 0", got)
	}
}

func TestScheduler_ContextRelatedTypes(t *testing.T) {
	store := newTestStore(t)

	products := seed(t, store, querycache.NewKey("products"))
	customers := seed(t, store, querycache.NewKey("customers"))
	seed(t, store, querycache.NewKey("orders"))

	sched, err := NewScheduler(SchedulerConfig{
		Store:  store,
		Graph:  NewGraph(nil),
		Window: WindowSynchronous,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	defer sched.Stop()

	ctx := WithRelated(context.Background(), "products")
	if err := sched.SmartInvalidate(ctx, "update", "orders", querycache.NumericID(1)); err != nil {
		t.Fatalf("smart invalidate failed: %v", err)
	}

	if n := products.calls.Load(); n != 1 {
		t.Errorf("context-related type fetched %d times, want 1", n)
	}
	if n := customers.calls.Load(); n != 0 {
		t.Errorf("unrelated type fetched %d times, want 0", n)
	}
}

func TestScheduler_SynchronousErrorsSurface(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := querycache.NewKey("orders")
	f := seed(t, store, key)
	f.err = errors.New("backend down")

	sched, err := NewScheduler(SchedulerConfig{
		Store:  store,
		Graph:  NewGraph(nil),
		Window: WindowSynchronous,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	defer sched.Stop()

	if err := sched.SmartInvalidate(ctx, "update", "orders", querycache.NumericID(1)); err == nil {
		t.Error("expected the inline refetch failure to surface")
	}
	// Failed refetch leaves the stale mark in place for the next attempt.
	if !store.IsStale(key) {
		t.Error("key no longer stale after failed refetch")
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	store := newTestStore(t)

	if _, err := NewScheduler(SchedulerConfig{}); err == nil {
		t.Error("expected error for empty config")
	}
	if _, err := NewScheduler(SchedulerConfig{Store: store}); err == nil {
		t.Error("expected error for missing graph")
	}
	if _, err := NewScheduler(SchedulerConfig{Graph: NewGraph(nil)}); err == nil {
		t.Error("expected error for missing store")
	}

	sched, err := NewScheduler(SchedulerConfig{Store: store, Graph: NewGraph(nil), Logger: discardLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sched.Stop()
}
