package plan

import (
	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
)

// Interleave splices constant attribute labels into a path. Values and
// labels alternate, starting with a value, for as long as both remain;
// the rest of the longer input follows. With no values or no labels the
// values are returned unchanged.
//
//	Interleave([?p ?c], [:parent/child]) = [?p :parent/child ?c]
func Interleave(values datalog.Tuple, constants []datalog.Attribute) datalog.Tuple {
	if len(values) == 0 || len(constants) == 0 {
		return values
	}
	labels := make([]datalog.Value, len(constants))
	for i, a := range constants {
		labels[i] = a
	}
	return interleave(values, labels)
}

func interleaveSymbols(symbols, labels []datalog.Var) []datalog.Var {
	if len(symbols) == 0 || len(labels) == 0 {
		return symbols
	}
	return interleave(symbols, labels)
}

func interleave[T any](values, labels []T) []T {
	out := make([]T, 0, len(values)+len(labels))
	i, j := 0, 0
	for i < len(values) || j < len(labels) {
		if i < len(values) {
			out = append(out, values[i])
			i++
		}
		if j < len(labels) {
			out = append(out, labels[j])
			j++
		}
	}
	return out
}

// pullLevel expands the entity at the end of every path into the values
// of the pulled attributes. Each path row is joined with the entity's
// values for every attribute, producing
//
//	interleave(path, path attributes) ++ [attribute value]
//
// The per-attribute streams are concatenated, not deduplicated.
func (c *compiler) pullLevel(n *PullLevel) (Relation, error) {
	rel, err := c.implement(n.Plan)
	if err != nil {
		return nil, err
	}
	symbols := pullLevelSymbols(n, rel.Symbols())
	input := rel.Tuples()
	labels := n.PathAttributes

	if len(n.PullAttributes) == 0 {
		if len(labels) == 0 {
			return NewRelation(symbols, input), nil
		}
		paths := input.Map(func(t datalog.Tuple) datalog.Tuple {
			return Interleave(t, labels)
		})
		return NewRelation(symbols, paths), nil
	}

	// [e path...], keyed by the entity that ends the path
	paths := input.Map(func(t datalog.Tuple) datalog.Tuple {
		return datalog.ConcatTuples(t[len(t)-1:], t)
	}).Arrange(1)

	streams := make([]*dataflow.Collection, 0, len(n.PullAttributes))
	for _, a := range n.PullAttributes {
		attr := datalog.Value(a)
		values := c.attribute(a).Arrange(1)
		streams = append(streams, paths.JoinCore(values, func(_, path, v datalog.Tuple) datalog.Tuple {
			return datalog.ConcatTuples(Interleave(path, labels), datalog.Tuple{attr, v[0]})
		}))
	}
	return NewRelation(symbols, dataflow.Concatenate(c.scope, streams)), nil
}

// pull builds every path in the current scope and concatenates their
// rows. Paths of different shapes make a ragged relation.
func (c *compiler) pull(n *Pull) (Relation, error) {
	shapes := make([][]datalog.Var, 0, len(n.Paths))
	streams := make([]*dataflow.Collection, 0, len(n.Paths))
	for _, path := range n.Paths {
		rel, err := c.implement(path)
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, rel.Symbols())
		streams = append(streams, rel.Tuples())
	}
	shape := pullShape(shapes)
	return &SimpleRelation{
		symbols: shape.Symbols,
		tuples:  dataflow.Concatenate(c.scope, streams),
		ragged:  shape.Ragged,
	}, nil
}
