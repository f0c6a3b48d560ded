package plan

import (
	"github.com/wbrown/janus-dataflow/datalog"
)

// filter keeps rows whose two operands satisfy the predicate. Operands
// at the same offset are compared with themselves.
func (c *compiler) filter(n *Filter) (Relation, error) {
	rel, err := c.implement(n.Plan)
	if err != nil {
		return nil, err
	}
	keyPos, _, _, err := splitSymbols(rel.Symbols(), n.Variables[:])
	if err != nil {
		return nil, err
	}
	l, r, pred := keyPos[0], keyPos[1], n.Predicate
	tuples := rel.Tuples().Filter(func(t datalog.Tuple) bool {
		return pred.Holds(t[l], t[r])
	})
	return NewRelation(rel.Symbols(), tuples), nil
}

// project re-keys rows to exactly the requested symbols. Rows that
// become equal are merged by summing their multiplicities.
func (c *compiler) project(n *Project) (Relation, error) {
	rel, err := c.implement(n.Plan)
	if err != nil {
		return nil, err
	}
	keyed, err := rel.TuplesBySymbols(n.Variables)
	if err != nil {
		return nil, err
	}
	return NewRelation(n.Variables, keyed.Keys().Consolidate()), nil
}
