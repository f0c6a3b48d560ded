package dataflow

import (
	"github.com/wbrown/janus-dataflow/datalog"
)

// Distinct reduces every tuple with positive multiplicity to
// multiplicity one and drops the rest
func (c *Collection) Distinct() *Collection {
	op := &distinctOp{
		node:   node{name: "distinct", scope: c.scope, inbox: make([]Batch, 1)},
		counts: NewZSet(),
	}
	op.out = newCollection(c.scope, op)
	c.scope.df.register(op, c.scope)
	c.subscribe(op, 0)
	return op.out
}

type distinctOp struct {
	node
	counts *ZSet
}

func (op *distinctOp) run(epoch uint64) error {
	var out Batch
	for _, u := range op.take(0) {
		before, after := op.counts.Add(u.Tuple, u.Diff)
		switch {
		case before <= 0 && after > 0:
			out = append(out, Update{Tuple: u.Tuple, Time: u.Time, Diff: 1})
		case before > 0 && after <= 0:
			out = append(out, Update{Tuple: u.Tuple, Time: u.Time, Diff: -1})
		}
	}
	op.out.emit(Consolidate(out))
	return nil
}

func (op *distinctOp) reset() {
	op.counts = NewZSet()
}

// ReduceFunc computes the output rows of one group from its values.
// Values are sorted and have positive multiplicity; the returned rows
// are appended to the key.
type ReduceFunc func(key datalog.Tuple, vals []Weighted) []Weighted

// Reduce groups tuples by their first keyLen positions and maintains
// fn's output for every group. When a group changes, its previous output
// is retracted and the new output asserted.
func (c *Collection) Reduce(keyLen int, fn ReduceFunc) *Collection {
	op := &reduceOp{
		node:   node{name: "reduce", scope: c.scope, inbox: make([]Batch, 1)},
		keyLen: keyLen,
		fn:     fn,
		input:  NewIndex(),
		output: NewIndex(),
	}
	op.out = newCollection(c.scope, op)
	c.scope.df.register(op, c.scope)
	c.subscribe(op, 0)
	return op.out
}

type reduceOp struct {
	node
	keyLen int
	fn     ReduceFunc
	input  *Index
	output *Index
}

func (op *reduceOp) run(epoch uint64) error {
	b := op.take(0)
	if len(b) == 0 {
		return nil
	}
	changed := NewIndex()
	for _, u := range b {
		key, val := u.Tuple[:op.keyLen], u.Tuple[op.keyLen:]
		op.input.Add(key, val, u.Diff)
		changed.Add(key, datalog.Tuple{}, 1)
	}

	var out Batch
	changed.Ascend(func(key datalog.Tuple, _ *ZSet) bool {
		for _, w := range op.output.Lookup(key) {
			out = append(out, Update{Tuple: datalog.ConcatTuples(key, w.Tuple), Time: epoch, Diff: -w.Diff})
			op.output.Add(key, w.Tuple, -w.Diff)
		}
		var vals []Weighted
		for _, w := range op.input.Lookup(key) {
			if w.Diff > 0 {
				vals = append(vals, w)
			}
		}
		if len(vals) == 0 {
			return true
		}
		for _, w := range op.fn(key, vals) {
			out = append(out, Update{Tuple: datalog.ConcatTuples(key, w.Tuple), Time: epoch, Diff: w.Diff})
			op.output.Add(key, w.Tuple, w.Diff)
		}
		return true
	})
	op.out.emit(Consolidate(out))
	return nil
}

func (op *reduceOp) reset() {
	op.input.Clear()
	op.output.Clear()
}
