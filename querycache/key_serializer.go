package querycache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// maxSegmentLength bounds a single serialized filter segment. Longer
// segments are truncated and suffixed with an xxhash64 digest of the full
// form, keeping keys bounded without giving up determinism.
const maxSegmentLength = 128

// KeySerializer builds a stable string from a scope (entity type, method
// name) plus arbitrary filter args. Implementations must be deterministic
// across calls so that equal filters always land in the same partition.
type KeySerializer interface {
	SerializeKey(scope string, args ...any) string
}

// defaultKeySerializer implements KeySerializer using reflection-based
// serialization. It handles function pointers using %p formatting, recursive
// slices, and falls back to JSON for complex types while ensuring
// deterministic output across runs.
type defaultKeySerializer struct{}

var defaultSerializer KeySerializer = &defaultKeySerializer{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey builds a key from the scope and args using reflection. An
// empty scope yields the bare arg serialization (with leading separator),
// which NewKeyWith relies on to extract the filter component.
func (s *defaultKeySerializer) SerializeKey(scope string, args ...any) string {
	if len(args) == 0 {
		return scope
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, scope)

	for _, arg := range args {
		parts = append(parts, digestSegment(s.serializeValue(arg)))
	}

	return strings.Join(parts, KeySeparator)
}

// digestSegment caps a segment at maxSegmentLength, replacing the tail with
// a digest of the full segment so distinct long filters stay distinct.
func digestSegment(segment string) string {
	if len(segment) <= maxSegmentLength {
		return segment
	}
	sum := xxhash.Sum64String(segment)
	return fmt.Sprintf("%s#%016x", segment[:maxSegmentLength-17], sum)
}

// serializeValue handles individual argument serialization based on type.
func (s *defaultKeySerializer) serializeValue(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	rt := reflect.TypeOf(v)

	// Function pointers are only stable within a process; %p keeps them
	// deterministic for the lifetime that matters to an in-memory cache.
	if rt.Kind() == reflect.Func {
		return fmt.Sprintf("func:%p", v)
	}

	// Handle pointers by dereferencing
	if rt.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return "nil"
		}
		return s.serializeValue(rv.Elem().Interface())
	}

	// Handle slices recursively
	if rt.Kind() == reflect.Slice {
		if rv.IsNil() {
			return "slice:nil"
		}
		return s.serializeSequence("slice", rv)
	}

	// Handle arrays
	if rt.Kind() == reflect.Array {
		return s.serializeSequence("array", rv)
	}

	// Handle maps with sorted pairs for determinism
	if rt.Kind() == reflect.Map {
		if rv.IsNil() {
			return "map:nil"
		}
		return s.serializeMap(rv)
	}

	// Handle structs
	if rt.Kind() == reflect.Struct {
		return s.serializeStruct(rv, rt)
	}

	switch rt.Kind() {
	case reflect.Chan:
		return fmt.Sprintf("chan:%p", v)
	case reflect.Interface:
		if rv.IsNil() {
			return "interface:nil"
		}
		return s.serializeValue(rv.Elem().Interface())
	}

	// For basic types, use string representation
	if isBasicKind(rt.Kind()) {
		return fmt.Sprintf("%v", v)
	}

	// Fallback to JSON for complex types
	return s.jsonFallback(v)
}

// serializeSequence handles slice and array serialization recursively.
func (s *defaultKeySerializer) serializeSequence(label string, rv reflect.Value) string {
	length := rv.Len()
	parts := make([]string, length)

	for i := 0; i < length; i++ {
		parts[i] = s.serializeValue(rv.Index(i).Interface())
	}

	return fmt.Sprintf("%s[%d]:{%s}", label, length, strings.Join(parts, ","))
}

// serializeMap serializes key=value pairs sorted by serialized key so the
// output does not depend on map iteration order.
func (s *defaultKeySerializer) serializeMap(rv reflect.Value) string {
	keys := rv.MapKeys()

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		keyStr := s.serializeValue(k.Interface())
		valueStr := s.serializeValue(rv.MapIndex(k).Interface())
		pairs = append(pairs, fmt.Sprintf("%s=%s", keyStr, valueStr))
	}
	sort.Strings(pairs)

	return fmt.Sprintf("map[%d]:{%s}", len(pairs), strings.Join(pairs, ","))
}

// serializeStruct handles struct serialization with field names.
func (s *defaultKeySerializer) serializeStruct(rv reflect.Value, rt reflect.Type) string {
	numFields := rv.NumField()
	parts := make([]string, 0, numFields)

	for i := 0; i < numFields; i++ {
		field := rt.Field(i)

		// Skip unexported fields
		if !field.IsExported() {
			continue
		}

		fieldValue := rv.Field(i)
		if !fieldValue.CanInterface() {
			continue
		}

		parts = append(parts, fmt.Sprintf("%s:%s", field.Name, s.serializeValue(fieldValue.Interface())))
	}

	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

// isBasicKind checks if a kind represents a basic Go type.
func isBasicKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}

// jsonFallback provides JSON serialization as a last resort.
func (s *defaultKeySerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// If JSON marshaling fails, fall back to type information; keys
		// must never fail to build.
		return fmt.Sprintf("fallback:%s", reflect.TypeOf(v).String())
	}
	return fmt.Sprintf("json:%s", string(data))
}
