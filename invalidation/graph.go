// Package invalidation decides which cached partitions a committed
// mutation makes stale, and refreshes them. The dependency table is a
// static, hand-maintained adjacency of entity types; refetches for the
// same key arriving in a short window coalesce into one.
package invalidation

import (
	"github.com/goliatone/go-optimistic-cache/querycache"
)

// Graph is the static invalidation table: for each entity type, the other
// types that must be refreshed when it mutates. Edges are declared by hand
// rather than derived at runtime; the table stays predictable and directly
// testable.
type Graph struct {
	edges map[querycache.EntityType][]querycache.EntityType
}

// NewGraph copies edges into an immutable Graph. Empty and duplicate
// dependents are dropped, as are self-edges; a type is always part of its
// own closure.
func NewGraph(edges map[querycache.EntityType][]querycache.EntityType) *Graph {
	g := &Graph{edges: make(map[querycache.EntityType][]querycache.EntityType, len(edges))}
	for t, deps := range edges {
		if t == "" {
			continue
		}
		cleaned := make([]querycache.EntityType, 0, len(deps))
		seen := make(map[querycache.EntityType]struct{}, len(deps))
		for _, d := range deps {
			if d == "" || d == t {
				continue
			}
			if _, dup := seen[d]; dup {
				continue
			}
			seen[d] = struct{}{}
			cleaned = append(cleaned, d)
		}
		if len(cleaned) > 0 {
			g.edges[t] = cleaned
		}
	}
	return g
}

// DependentsOf returns the declared dependents of t. The slice is a copy.
func (g *Graph) DependentsOf(t querycache.EntityType) []querycache.EntityType {
	deps, ok := g.edges[t]
	if !ok {
		return nil
	}
	return append([]querycache.EntityType(nil), deps...)
}

// Closure returns every type affected by a mutation of t: t itself, its
// declared dependents, then extra, in that order, deduplicated. Dependents
// are one hop only; the table is not walked transitively.
func (g *Graph) Closure(t querycache.EntityType, extra ...querycache.EntityType) []querycache.EntityType {
	out := make([]querycache.EntityType, 0, 1+len(g.edges[t])+len(extra))
	out = append(out, t)
	out = append(out, g.edges[t]...)
	out = append(out, extra...)
	return dedupeTypes(out)
}
