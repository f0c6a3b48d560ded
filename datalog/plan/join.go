package plan

import (
	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
)

func (c *compiler) join(n *Join) (Relation, error) {
	left, err := c.implement(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.implement(n.Right)
	if err != nil {
		return nil, err
	}
	lk, err := left.TuplesBySymbols(n.Variables)
	if err != nil {
		return nil, err
	}
	rk, err := right.TuplesBySymbols(n.Variables)
	if err != nil {
		return nil, err
	}

	tuples := lk.Arrange().JoinCore(rk.Arrange(), func(key, l, r datalog.Tuple) datalog.Tuple {
		return datalog.ConcatTuples(key, l, r)
	})

	symbols := make([]datalog.Var, 0, len(n.Variables)+len(lk.Rest)+len(rk.Rest))
	symbols = append(symbols, n.Variables...)
	symbols = append(symbols, lk.Rest...)
	symbols = append(symbols, rk.Rest...)
	return NewRelation(symbols, tuples), nil
}

// antijoin subtracts the rows of the plan that match a key of neg. Neg
// is reduced to its distinct keys so every matching row is removed
// exactly once.
func (c *compiler) antijoin(n *Antijoin) (Relation, error) {
	pos, err := c.implement(n.Plan)
	if err != nil {
		return nil, err
	}
	neg, err := c.implement(n.Neg)
	if err != nil {
		return nil, err
	}
	keyPos, _, _, err := splitSymbols(pos.Symbols(), n.Variables)
	if err != nil {
		return nil, err
	}
	nk, err := neg.TuplesBySymbols(n.Variables)
	if err != nil {
		return nil, err
	}

	keyLen := len(keyPos)
	rows := pos.Tuples().Map(func(t datalog.Tuple) datalog.Tuple {
		out := make(datalog.Tuple, 0, keyLen+len(t))
		for _, p := range keyPos {
			out = append(out, t[p])
		}
		return append(out, t...)
	}).Arrange(keyLen)
	keys := nk.Keys().Distinct().Arrange(keyLen)

	matched := rows.JoinCore(keys, func(_, row, _ datalog.Tuple) datalog.Tuple {
		return datalog.ConcatTuples(row)
	})
	return NewRelation(pos.Symbols(), pos.Tuples().Concat(matched.Negate())), nil
}

func (c *compiler) union(n *Union) (Relation, error) {
	colls := make([]*dataflow.Collection, 0, len(n.Plans))
	for _, sub := range n.Plans {
		rel, err := c.implement(sub)
		if err != nil {
			return nil, err
		}
		keyed, err := rel.TuplesBySymbols(n.Variables)
		if err != nil {
			return nil, err
		}
		colls = append(colls, keyed.Keys())
	}
	return NewRelation(n.Variables, dataflow.Concatenate(c.scope, colls).Distinct()), nil
}
