package querycache

import (
	"fmt"
	"reflect"
	"strings"
)

// EntityType names one kind of cached entity ("orders", "customers").
// It is the first component of every Key and the unit the invalidation
// graph reasons about.
type EntityType string

// Key identifies one cache partition: an entity type plus the canonical
// serialization of the filter parameters that produced the partition.
// Two keys with the same Type but different Filter values are distinct
// partitions (filtered vs. unfiltered order lists, different pages, ...).
type Key struct {
	Type   EntityType
	Filter string
}

// NewKey builds a Key for the given entity type, serializing filterArgs
// through the default key serializer. Identical args always produce the
// same Key; no args produce the unfiltered partition for the type.
func NewKey(entityType EntityType, filterArgs ...any) Key {
	return NewKeyWith(defaultSerializer, entityType, filterArgs...)
}

// NewKeyWith is NewKey with an explicit serializer, for callers that need
// stable keys across processes or custom filter encodings.
func NewKeyWith(s KeySerializer, entityType EntityType, filterArgs ...any) Key {
	if len(filterArgs) == 0 {
		return Key{Type: entityType}
	}
	// An empty scope yields the bare arg serialization with a leading
	// separator; strip it so Filter holds only the canonical arg form.
	filter := strings.TrimPrefix(s.SerializeKey("", filterArgs...), KeySeparator)
	return Key{Type: entityType, Filter: filter}
}

// String returns the canonical form used as the storage key:
// "type" for unfiltered partitions, "type::filter" otherwise.
func (k Key) String() string {
	if k.Filter == "" {
		return string(k.Type)
	}
	return string(k.Type) + KeySeparator + k.Filter
}

// IsZero reports whether the key is the zero value.
func (k Key) IsZero() bool {
	return k.Type == "" && k.Filter == ""
}

// TypeOf derives an EntityType from a Go type name, snake_cased. It is a
// convenience for callers whose cache namespace mirrors their model names;
// no pluralization is attempted, so "OrderItem" becomes "order_item".
func TypeOf[T any]() EntityType {
	var zero T
	t := reflect.TypeOf(zero)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return EntityType(toSnake(fmt.Sprintf("%T", zero)))
	}
	name := t.Name()
	if name == "" {
		name = t.String()
	}
	return EntityType(toSnake(name))
}
