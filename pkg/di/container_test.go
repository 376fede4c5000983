package di

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/goliatone/go-optimistic-cache/invalidation"
	"github.com/goliatone/go-optimistic-cache/notify"
	"github.com/goliatone/go-optimistic-cache/optimistic"
	"github.com/goliatone/go-optimistic-cache/querycache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewContainer(t *testing.T) {
	config := Config{
		Cache: querycache.Config{
			Capacity:           1000,
			NumShards:          16,
			TTL:                5 * time.Minute,
			EvictionPercentage: 10,
		},
		Edges: map[querycache.EntityType][]querycache.EntityType{
			"orders": {"customers", "inventory"},
		},
		Window: invalidation.WindowSynchronous,
		Logger: testLogger(),
	}

	container, err := NewContainer(config)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Stop()

	if container.Store() == nil {
		t.Error("container should have a non-nil store")
	}
	if container.Scheduler() == nil {
		t.Error("container should have a non-nil scheduler")
	}
	if container.Notifier() == nil {
		t.Error("container should have a non-nil notifier")
	}

	deps := container.Graph().DependentsOf("orders")
	if len(deps) != 2 {
		t.Errorf("graph dependents = %v, want the configured edges", deps)
	}

	stored := container.Config()
	if stored.Cache.Capacity != config.Cache.Capacity {
		t.Errorf("expected capacity %d, got %d", config.Cache.Capacity, stored.Cache.Capacity)
	}
	if stored.Cache.TTL != config.Cache.TTL {
		t.Errorf("expected TTL %v, got %v", config.Cache.TTL, stored.Cache.TTL)
	}
}

func TestNewContainerWithDefaults(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Stop()

	config := container.Config()
	defaults := querycache.DefaultConfig()

	if config.Cache.Capacity != defaults.Capacity {
		t.Errorf("expected default capacity %d, got %d", defaults.Capacity, config.Cache.Capacity)
	}
	if config.Cache.TTL != defaults.TTL {
		t.Errorf("expected default TTL %v, got %v", defaults.TTL, config.Cache.TTL)
	}

	// No edges: a type's closure is just itself.
	if deps := container.Graph().DependentsOf("orders"); deps != nil {
		t.Errorf("default graph should be empty, got %v", deps)
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	_, err := NewContainer(Config{
		Cache: querycache.Config{
			Capacity:           0, // invalid
			NumShards:          16,
			TTL:                5 * time.Minute,
			EvictionPercentage: 10,
		},
	})
	if err == nil {
		t.Error("NewContainer() should fail with an invalid cache config")
	}
}

func TestContainerSingletonBehavior(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Stop()

	if container.Store() != container.Store() {
		t.Error("Store() should return the same instance")
	}
	if container.Scheduler() != container.Scheduler() {
		t.Error("Scheduler() should return the same instance")
	}
	if container.Notifier() != container.Notifier() {
		t.Error("Notifier() should return the same instance")
	}
}

func TestMutationFactoriesUseContainerWiring(t *testing.T) {
	rec := notify.NewRecorder()
	container, err := NewContainer(Config{
		Cache:    querycache.DefaultConfig(),
		Window:   invalidation.WindowSynchronous,
		Notifier: rec,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Stop()

	type note struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
	}

	key := querycache.NewKey("notes")
	create, err := NewCreateMutation(container, optimistic.CreateConfig[string, note]{
		Config: optimistic.Config[note]{
			Key: key,
			Handlers: optimistic.Handlers[note]{
				ID:    func(n note) querycache.ID { return querycache.NumericID(n.ID) },
				SetID: func(n note, id querycache.ID) note { n.ID = id.Num(); return n },
			},
		},
		Remote: func(ctx context.Context, body string) (any, error) {
			return note{ID: 1, Body: body}, nil
		},
		Build: func(body string) note { return note{Body: body} },
	})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	created, err := create.Do(context.Background(), "hello")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != 1 {
		t.Errorf("created = %+v", created)
	}

	// The mutation went through the container's store and notifier even
	// though the config named neither.
	items, ok := querycache.Partition[note](context.Background(), container.Store(), key)
	if !ok || len(items) != 1 {
		t.Errorf("container store partition = %v, %v", items, ok)
	}
	if n := len(rec.Successes()); n != 1 {
		t.Errorf("container notifier saw %d successes, want 1", n)
	}
}

func TestRegisterList(t *testing.T) {
	container, err := NewContainer(Config{
		Cache:  querycache.DefaultConfig(),
		Window: invalidation.WindowSynchronous,
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Stop()

	type note struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
	}

	key := querycache.NewKey("notes")
	RegisterList[note](container, key, func(ctx context.Context) (any, error) {
		// A wrapped envelope, as a REST backend would return.
		return map[string]any{"data": []any{
			map[string]any{"id": 1, "body": "first"},
		}}, nil
	})

	ctx := context.Background()
	if err := container.Store().Refetch(ctx, key, querycache.RefetchOptions{Exact: true}); err != nil {
		t.Fatalf("refetch failed: %v", err)
	}

	items, ok := querycache.Partition[note](ctx, container.Store(), key)
	if !ok {
		t.Fatal("partition missing after refetch")
	}
	if len(items) != 1 || items[0].Body != "first" {
		t.Errorf("partition = %+v, want the normalized list", items)
	}
}
