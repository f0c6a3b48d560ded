package datalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Value represents any value that can appear in a tuple
// We use interface{} with direct Go types, like the storage layer
type Value interface{}

// Valid value types:
// - Eid       (entity reference)
// - Attribute (keyword, also used as a value by pull)
// - string
// - int64     (number)
// - float64   (real)
// - bool
// - Instant   (milliseconds since the Unix epoch)
// - uuid.UUID

// Instant is a point in time with millisecond resolution
type Instant int64

// InstantFromTime converts a time.Time to an Instant
func InstantFromTime(t time.Time) Instant {
	return Instant(t.UnixMilli())
}

// Time returns the instant as a UTC time.Time
func (i Instant) Time() time.Time {
	return time.UnixMilli(int64(i)).UTC()
}

// String returns the instant in RFC3339 with milliseconds
func (i Instant) String() string {
	return i.Time().Format("2006-01-02T15:04:05.000Z07:00")
}

// Tuple is an ordered list of values
type Tuple []Value

// String returns a string representation of the tuple
func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, v := range t {
		parts[i] = FormatValue(v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Clone returns a copy of the tuple that shares no backing array
func (t Tuple) Clone() Tuple {
	out := make(Tuple, len(t))
	copy(out, t)
	return out
}

// ConcatTuples returns a new tuple holding the parts in order
func ConcatTuples(parts ...Tuple) Tuple {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make(Tuple, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Helper functions for creating typed values
func String(s string) Value         { return s }
func Number(i int64) Value          { return i }
func Real(f float64) Value          { return f }
func Bool(b bool) Value             { return b }
func Ref(e Eid) Value               { return e }
func AttributeValue(a string) Value { return Attribute(a) }
func InstantValue(ms int64) Value   { return Instant(ms) }
func UUIDValue(u uuid.UUID) Value   { return u }
func TimeValue(t time.Time) Value   { return InstantFromTime(t) }

// FormatValue renders a value the way it would be written in EDN
func FormatValue(v Value) string {
	switch val := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(val)
	case Eid:
		return val.String()
	case Attribute:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case Instant:
		return fmt.Sprintf("#inst %q", val.String())
	case uuid.UUID:
		return fmt.Sprintf("#uuid %q", val.String())
	default:
		return fmt.Sprintf("%v", v)
	}
}
