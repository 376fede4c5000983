package querycache

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// TempIDPrefix namespaces locally assigned placeholder ids. Servers must
// never issue ids in this namespace; StringID treats the prefix as proof of
// tempness so temp ids survive a round trip through an entity's own field.
const TempIDPrefix = "tmp_"

type idKind uint8

const (
	idZero idKind = iota
	idNumeric
	idString
	idTemp
)

// ID is an entity identifier: numeric or string, plus a distinct temp
// flavor for optimistically created entities that have not been assigned a
// server id yet. The zero value means "no id".
type ID struct {
	kind idKind
	num  int64
	str  string
}

// NumericID builds an ID from a server-issued number.
func NumericID(n int64) ID {
	return ID{kind: idNumeric, num: n}
}

// StringID builds an ID from a server-issued string. Strings in the temp
// namespace keep their temp flavor, so ids read back out of an entity field
// compare equal to the temp ID that was written into it.
func StringID(s string) ID {
	if strings.HasPrefix(s, TempIDPrefix) {
		return ID{kind: idTemp, str: s}
	}
	return ID{kind: idString, str: s}
}

// ParseID coerces loosely typed id values (JSON numbers arrive as float64)
// into an ID. Unsupported values yield the zero ID.
func ParseID(v any) ID {
	switch t := v.(type) {
	case nil:
		return ID{}
	case ID:
		return t
	case string:
		return StringID(t)
	case int:
		return NumericID(int64(t))
	case int32:
		return NumericID(int64(t))
	case int64:
		return NumericID(t)
	case uint:
		return NumericID(int64(t))
	case uint32:
		return NumericID(int64(t))
	case uint64:
		return NumericID(int64(t))
	case float32:
		return NumericID(int64(t))
	case float64:
		return NumericID(int64(t))
	case fmt.Stringer:
		return StringID(t.String())
	default:
		return ID{}
	}
}

// tempSeq is the process-wide monotonic counter behind NewTempID.
var tempSeq atomic.Int64

// NewTempID allocates a placeholder id for an optimistically created entity.
// The string form combines a monotonic counter with a UUID so temp ids are
// unique within the process and unguessable across it; the numeric shadow is
// negative so it can never collide with a server-issued positive id.
func NewTempID() ID {
	seq := tempSeq.Add(1)
	return ID{
		kind: idTemp,
		num:  -seq,
		str:  fmt.Sprintf("%s%d_%s", TempIDPrefix, seq, uuid.NewString()),
	}
}

// IsTemp reports whether the id is a local placeholder.
func (id ID) IsTemp() bool {
	return id.kind == idTemp
}

// IsZero reports whether the id carries no value.
func (id ID) IsZero() bool {
	return id.kind == idZero
}

// Num returns the numeric form. Temp ids return their negative shadow;
// string ids return 0.
func (id ID) Num() int64 {
	return id.num
}

// String returns the canonical textual form: decimal for numeric ids, the
// raw string otherwise, "" for the zero id.
func (id ID) String() string {
	switch id.kind {
	case idNumeric:
		return strconv.FormatInt(id.num, 10)
	case idString, idTemp:
		return id.str
	default:
		return ""
	}
}

// Equal compares ids by canonical form, so NumericID(7) matches an id that
// was parsed back out of a JSON payload as float64(7).
func (id ID) Equal(other ID) bool {
	if id.IsZero() || other.IsZero() {
		return id.kind == other.kind
	}
	return id.String() == other.String()
}
