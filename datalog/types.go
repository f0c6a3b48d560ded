package datalog

import (
	"fmt"
	"strings"
)

// Eid is an entity identifier
// Entities are plain 64-bit ids; EidFromString derives one from a name
type Eid uint64

// String returns the entity id in decimal
func (e Eid) String() string {
	return fmt.Sprintf("%d", uint64(e))
}

// Attribute is a keyword naming an attribute (e.g., ":person/name")
// It is also the key of the global arrangement map
type Attribute string

// String returns the attribute keyword
func (a Attribute) String() string {
	return string(a)
}

// Var is a logic variable as written in plans (e.g., "?e")
// Vars are compared by name only
type Var string

// String returns the variable name
func (v Var) String() string {
	return string(v)
}

// IsVar reports whether s is spelled like a logic variable
func IsVar(s string) bool {
	return strings.HasPrefix(s, "?") && len(s) > 1
}

// Datom is a single fact: Entity-Attribute-Value
type Datom struct {
	E Eid       // Entity identifier
	A Attribute // Attribute keyword
	V Value     // Any value (see value.go for valid types)
}

// String returns a string representation of the Datom
func (d Datom) String() string {
	return fmt.Sprintf("[%s %s %s]", d.E, d.A, FormatValue(d.V))
}

// TxData is one transaction operation. Op is +1 for an assertion and
// -1 for a retraction; other multiplicities are passed through as-is.
type TxData struct {
	Op int64
	E  Eid
	A  Attribute
	V  Value
}

// Assert builds an assertion of [e a v]
func Assert(e Eid, a Attribute, v Value) TxData {
	return TxData{Op: 1, E: e, A: a, V: v}
}

// Retract builds a retraction of [e a v]
func Retract(e Eid, a Attribute, v Value) TxData {
	return TxData{Op: -1, E: e, A: a, V: v}
}

// Datom returns the fact this operation asserts or retracts
func (tx TxData) Datom() Datom {
	return Datom{E: tx.E, A: tx.A, V: tx.V}
}

// String returns a string representation of the operation
func (tx TxData) String() string {
	return fmt.Sprintf("[%+d %s %s %s]", tx.Op, tx.E, tx.A, FormatValue(tx.V))
}
