package invalidation

import (
	"context"

	"github.com/goliatone/go-optimistic-cache/querycache"
)

type relatedTypesContextKey struct{}

// WithRelated attaches extra entity types to the context. SmartInvalidate
// unions them into the closure it computes, so a call site can widen one
// mutation's blast radius without changing the static graph.
func WithRelated(ctx context.Context, types ...querycache.EntityType) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(types) == 0 {
		return ctx
	}

	combined := append(RelatedFromContext(ctx), types...)
	combined = dedupeTypes(combined)
	if len(combined) == 0 {
		return ctx
	}

	return context.WithValue(ctx, relatedTypesContextKey{}, combined)
}

// RelatedFromContext returns the extra entity types attached to ctx, as a
// copy.
func RelatedFromContext(ctx context.Context) []querycache.EntityType {
	if ctx == nil {
		return nil
	}
	if types, ok := ctx.Value(relatedTypesContextKey{}).([]querycache.EntityType); ok {
		return append([]querycache.EntityType(nil), types...)
	}
	return nil
}

func dedupeTypes(types []querycache.EntityType) []querycache.EntityType {
	seen := make(map[querycache.EntityType]struct{}, len(types))
	out := make([]querycache.EntityType, 0, len(types))
	for _, t := range types {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
