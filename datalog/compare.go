package datalog

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// kindRank orders values of different kinds. Numbers share a rank so that
// int64 and float64 compare numerically.
func kindRank(v Value) int {
	switch v.(type) {
	case nil:
		return 0
	case Eid:
		return 1
	case Attribute:
		return 2
	case bool:
		return 3
	case int64, float64:
		return 4
	case Instant:
		return 5
	case string:
		return 6
	case uuid.UUID:
		return 7
	default:
		return 8
	}
}

// CompareValues compares two values and returns:
//
//	-1 if left < right
//	 0 if left == right
//	 1 if left > right
//
// The order is total. Values of different kinds order by kind
// (nil < Eid < Attribute < bool < number < Instant < string < UUID);
// int64 and float64 compare numerically and an int64 sorts before an
// equal float64.
func CompareValues(left, right Value) int {
	lr, rr := kindRank(left), kindRank(right)
	if lr != rr {
		return compareInts(lr, rr)
	}

	switch l := left.(type) {
	case nil:
		return 0
	case Eid:
		return compareUint64s(uint64(l), uint64(right.(Eid)))
	case Attribute:
		return strings.Compare(string(l), string(right.(Attribute)))
	case bool:
		r := right.(bool)
		if !l && r {
			return -1
		} else if l && !r {
			return 1
		}
		return 0
	case int64:
		switch r := right.(type) {
		case int64:
			return compareInt64s(l, r)
		case float64:
			if c := compareFloats(float64(l), r); c != 0 {
				return c
			}
			return -1
		}
	case float64:
		switch r := right.(type) {
		case int64:
			if c := compareFloats(l, float64(r)); c != 0 {
				return c
			}
			return 1
		case float64:
			return compareFloats(l, r)
		}
	case Instant:
		return compareInt64s(int64(l), int64(right.(Instant)))
	case string:
		return strings.Compare(l, right.(string))
	case uuid.UUID:
		r := right.(uuid.UUID)
		return bytes.Compare(l[:], r[:])
	}

	// Unknown kinds fall back to their printed form
	return strings.Compare(fmt.Sprintf("%T:%v", left, left), fmt.Sprintf("%T:%v", right, right))
}

// ValuesEqual checks if two values are equal.
// It uses CompareValues for consistent equality checking.
func ValuesEqual(a, b Value) bool {
	return CompareValues(a, b) == 0
}

// CompareTuples orders tuples lexicographically by CompareValues.
// A shorter tuple that is a prefix of a longer one sorts first.
func CompareTuples(a, b Tuple) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := CompareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	return compareInts(len(a), len(b))
}

// TuplesEqual reports whether two tuples hold equal values position by position
func TuplesEqual(a, b Tuple) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ValuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func compareInts(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// compareInt64s compares two int64 values
func compareInt64s(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareUint64s(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// compareFloats compares two float64 values
func compareFloats(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
