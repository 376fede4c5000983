package invalidation

import (
	"context"
	"testing"
)

func TestWithRelated(t *testing.T) {
	ctx := WithRelated(context.Background(), "products", "products", "")
	got := RelatedFromContext(ctx)
	if len(got) != 1 || got[0] != "products" {
		t.Errorf("related = %v, want [products]", got)
	}

	// Nesting accumulates and deduplicates.
	ctx = WithRelated(ctx, "categories", "products")
	got = RelatedFromContext(ctx)
	if len(got) != 2 || got[0] != "products" || got[1] != "categories" {
		t.Errorf("related = %v, want [products categories]", got)
	}

	// The caller's slice is a copy.
	got[0] = "mangled"
	if again := RelatedFromContext(ctx); again[0] != "products" {
		t.Errorf("context mutated through returned slice: %v", again)
	}
}

func TestWithRelated_Empty(t *testing.T) {
	if got := RelatedFromContext(context.Background()); got != nil {
		t.Errorf("expected nil for a bare context, got %v", got)
	}

	base := context.Background()
	if ctx := WithRelated(base); ctx != base {
		t.Error("no types should return the context unchanged")
	}
}
