// Package normalize converts the heterogeneous response shapes a REST
// backend produces into one canonical form downstream code can rely on.
//
// Endpoints differ: some return a bare JSON array, some wrap it in
// {"data": [...]}, paginated ones nest again as {"data": {"data": [...],
// "meta": {...}}}. List and Item accept any of those shapes, as decoded
// values, raw JSON bytes, or already-typed Go values, and never fail:
// unrecognized input yields an empty list or a missing item, and Meta is
// only ever what the payload itself carried.
package normalize

import "encoding/json"

// Shape tags which payload layout was detected.
type Shape int

const (
	// ShapeUnrecognized marks payloads that match no known layout.
	ShapeUnrecognized Shape = iota
	// ShapeBareList is a top-level JSON array.
	ShapeBareList
	// ShapeWrapped is {"data": [...]}.
	ShapeWrapped
	// ShapePaginated is {"data": {"data": [...], "meta": {...}}}.
	ShapePaginated
	// ShapeItem is a single object, bare or under "data".
	ShapeItem
)

// String returns the shape name for logs and test output.
func (s Shape) String() string {
	switch s {
	case ShapeBareList:
		return "bare_list"
	case ShapeWrapped:
		return "wrapped"
	case ShapePaginated:
		return "paginated"
	case ShapeItem:
		return "item"
	default:
		return "unrecognized"
	}
}

// ListResult is the canonical list form. Meta is nil unless the payload
// carried one; it is never synthesized.
type ListResult[T any] struct {
	Data  []T
	Meta  map[string]any
	Shape Shape
}

// List normalizes raw into a ListResult. It is total: any input, including
// nil and garbage, yields a usable (possibly empty) result.
func List[T any](raw any) ListResult[T] {
	return listValue[T](raw, true)
}

func listValue[T any](raw any, retry bool) ListResult[T] {
	empty := ListResult[T]{Data: []T{}, Shape: ShapeUnrecognized}

	raw, ok := decodeRawJSON(raw)
	if !ok {
		return empty
	}

	switch v := raw.(type) {
	case nil:
		return empty

	case []T:
		return ListResult[T]{Data: v, Shape: ShapeBareList}

	case []any:
		if data, ok := decodeVia[[]T](v); ok {
			return ListResult[T]{Data: data, Shape: ShapeBareList}
		}
		return empty

	case map[string]any:
		inner, ok := v["data"]
		if !ok {
			return empty
		}

		// Paginated wrapper: data is itself an envelope with its own data.
		if nested, ok := inner.(map[string]any); ok {
			if nestedData, ok := nested["data"]; ok {
				res := listValue[T](nestedData, false)
				if res.Shape == ShapeUnrecognized && nestedData != nil {
					return empty
				}
				res.Shape = ShapePaginated
				res.Meta = metaMap(nested["meta"])
				return res
			}
			return empty
		}

		res := listValue[T](inner, false)
		if res.Shape == ShapeUnrecognized && inner != nil {
			return empty
		}
		res.Shape = ShapeWrapped
		res.Meta = metaMap(v["meta"])
		return res

	default:
		// Typed Go payloads (a caller's response struct) get one chance to
		// round-trip through JSON into a recognizable dynamic shape.
		if !retry {
			return empty
		}
		decoded, ok := reshape(v)
		if !ok {
			return empty
		}
		return listValue[T](decoded, false)
	}
}

// Item normalizes raw into a single entity. The boolean is false when the
// payload carried no recognizable item; Item never fails otherwise.
func Item[T any](raw any) (T, bool) {
	return itemValue[T](raw, true)
}

func itemValue[T any](raw any, retry bool) (T, bool) {
	var zero T

	raw, ok := decodeRawJSON(raw)
	if !ok {
		return zero, false
	}

	switch v := raw.(type) {
	case nil:
		return zero, false

	case map[string]any:
		// Wrapped item: {"data": {...}} or {"data": null}.
		if inner, ok := v["data"]; ok {
			return itemValue[T](inner, false)
		}
		return decodeVia[T](v)

	case []any:
		return zero, false

	case T:
		return v, true

	case *T:
		if v == nil {
			return zero, false
		}
		return *v, true

	default:
		if !retry {
			return zero, false
		}
		decoded, ok := reshape(v)
		if !ok {
			return zero, false
		}
		return itemValue[T](decoded, false)
	}
}

// decodeRawJSON unwraps byte/string payloads into decoded JSON values.
// Non-JSON bytes report failure; everything else passes through.
func decodeRawJSON(raw any) (any, bool) {
	var data []byte
	switch v := raw.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		return raw, true
	}

	if len(data) == 0 {
		return nil, true
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

// decodeVia converts loosely typed JSON values into T through a marshal
// round trip, with a fast path for values that already have the right type.
func decodeVia[T any](v any) (T, bool) {
	if direct, ok := v.(T); ok {
		return direct, true
	}

	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}

// reshape round-trips a typed Go value into dynamic JSON form so the shape
// predicates can inspect it.
func reshape(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

// metaMap returns the payload's meta object, nil when absent or not an
// object. Meta is never synthesized.
func metaMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}
