package plan

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
)

// Relation is a (partial) query result: a list of symbols and a
// collection whose tuples are positionally aligned with them
type Relation interface {
	// Symbols names the tuple positions
	Symbols() []datalog.Var
	// Tuples is the underlying incremental collection
	Tuples() *dataflow.Collection
	// TuplesBySymbols re-keys every tuple by syms; see KeyedCollection
	TuplesBySymbols(syms []datalog.Var) (*KeyedCollection, error)
}

// KeyedCollection holds tuples laid out as key ++ rest, where the key is
// the requested symbols in request order and rest the remaining symbols
// of the relation in their original order
type KeyedCollection struct {
	Collection *dataflow.Collection
	KeyLen     int
	Rest       []datalog.Var
}

// Keys returns the collection restricted to the key columns
func (k *KeyedCollection) Keys() *dataflow.Collection {
	n := k.KeyLen
	return k.Collection.Map(func(t datalog.Tuple) datalog.Tuple {
		return t[:n:n]
	})
}

// Arrange indexes the keyed collection by its key columns
func (k *KeyedCollection) Arrange() *dataflow.Arranged {
	return k.Collection.Arrange(k.KeyLen)
}

// SimpleRelation is the relation every plan node produces
type SimpleRelation struct {
	symbols []datalog.Var
	tuples  *dataflow.Collection
	ragged  bool
}

// NewRelation wraps a collection whose tuples are aligned with symbols
func NewRelation(symbols []datalog.Var, tuples *dataflow.Collection) *SimpleRelation {
	return &SimpleRelation{symbols: symbols, tuples: tuples}
}

// Symbols returns the symbol list
func (r *SimpleRelation) Symbols() []datalog.Var {
	return r.symbols
}

// Tuples returns the collection
func (r *SimpleRelation) Tuples() *dataflow.Collection {
	return r.tuples
}

// Ragged reports whether rows may be narrower than the symbol list.
// Only pulls over differently shaped paths are ragged.
func (r *SimpleRelation) Ragged() bool {
	return r.ragged
}

// TuplesBySymbols re-keys the relation by syms
func (r *SimpleRelation) TuplesBySymbols(syms []datalog.Var) (*KeyedCollection, error) {
	if r.ragged {
		return nil, &PlanError{Kind: RaggedRelation, Node: "relation", Detail: "cannot resolve " + vars(syms)}
	}
	keyPos, restPos, rest, err := splitSymbols(r.symbols, syms)
	if err != nil {
		return nil, err
	}
	tuples := r.tuples.Map(func(t datalog.Tuple) datalog.Tuple {
		out := make(datalog.Tuple, 0, len(keyPos)+len(restPos))
		for _, p := range keyPos {
			out = append(out, t[p])
		}
		for _, p := range restPos {
			out = append(out, t[p])
		}
		return out
	})
	return &KeyedCollection{Collection: tuples, KeyLen: len(keyPos), Rest: rest}, nil
}

// String returns a colored summary like the executor relations print
func (r *SimpleRelation) String() string {
	parts := make([]string, len(r.symbols))
	for i, s := range r.symbols {
		parts[i] = string(s)
	}
	shape := ""
	if r.ragged {
		shape = color.YellowString(" ragged")
	}
	return fmt.Sprintf("%s%s%s%s",
		color.BlueString("Relation(["),
		color.CyanString(strings.Join(parts, " ")),
		color.BlueString("]"),
		shape+color.BlueString(")"))
}

// splitSymbols resolves syms to offsets in symbols and returns the
// remaining offsets and symbols in their original order
func splitSymbols(symbols, syms []datalog.Var) (keyPos, restPos []int, rest []datalog.Var, err error) {
	used := make([]bool, len(symbols))
	for _, s := range syms {
		p := position(symbols, s)
		if p < 0 {
			return nil, nil, nil, unbound("relation", s, symbols)
		}
		keyPos = append(keyPos, p)
		used[p] = true
	}
	for i, s := range symbols {
		if !used[i] {
			restPos = append(restPos, i)
			rest = append(rest, s)
		}
	}
	return keyPos, restPos, rest, nil
}

func position(symbols []datalog.Var, s datalog.Var) int {
	for i, v := range symbols {
		if v == s {
			return i
		}
	}
	return -1
}

// LocalArrangements maps rule names to relations already compiled for
// one registration
type LocalArrangements map[string]Relation

// GlobalArrangements maps attributes to the shared [e v] traces fed by
// the ingestion path. The compiler only imports from it.
type GlobalArrangements map[datalog.Attribute]*dataflow.Trace

// Has reports whether an attribute has a trace
func (g GlobalArrangements) Has(a datalog.Attribute) bool {
	_, ok := g[a]
	return ok
}
