package datalog

import (
	"github.com/cespare/xxhash/v2"
)

// EidFromString derives a stable entity id from a name: the 64-bit
// xxhash of the name.
func EidFromString(s string) Eid {
	return Eid(xxhash.Sum64String(s))
}

// HashTuple returns a 64-bit hash of a tuple's encoding.
// Equal tuples (by ValuesEqual) of the same kinds hash equally.
func HashTuple(t Tuple) uint64 {
	return xxhash.Sum64(EncodeTuple(t))
}
