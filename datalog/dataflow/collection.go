package dataflow

import (
	"fmt"

	"github.com/wbrown/janus-dataflow/datalog"
)

// Collection is a stream of updates produced by one operator and
// consumed by any number of others
type Collection struct {
	scope    *Scope
	producer operator
	subs     []subscription
}

type subscription struct {
	op   operator
	port int
}

func newCollection(scope *Scope, producer operator) *Collection {
	return &Collection{scope: scope, producer: producer}
}

// Scope returns the scope the collection lives in
func (c *Collection) Scope() *Scope {
	return c.scope
}

func (c *Collection) subscribe(op operator, port int) {
	if op.base().scope != c.scope && !isBoundary(op) {
		panic(fmt.Sprintf("dataflow: %s operator in %s reads a collection of %s",
			op.base().name, op.base().scope.Path(), c.scope.Path()))
	}
	c.subs = append(c.subs, subscription{op: op, port: port})
}

func isBoundary(op operator) bool {
	switch op.(type) {
	case *enterOp, *leaveOp:
		return true
	}
	return false
}

func (c *Collection) emit(b Batch) {
	if len(b) == 0 {
		return
	}
	for _, s := range c.subs {
		n := s.op.base()
		n.inbox[s.port] = append(n.inbox[s.port], b...)
		c.scope.df.schedule(s.op)
	}
}

// unary builds a stateless single-input operator
func (c *Collection) unary(name string, fn func(in Batch) (Batch, error)) *Collection {
	op := &unaryOp{
		node: node{name: name, scope: c.scope, inbox: make([]Batch, 1)},
		fn:   fn,
	}
	op.out = newCollection(c.scope, op)
	c.scope.df.register(op, c.scope)
	c.subscribe(op, 0)
	return op.out
}

type unaryOp struct {
	node
	fn func(in Batch) (Batch, error)
}

func (op *unaryOp) run(epoch uint64) error {
	out, err := op.fn(op.take(0))
	if err != nil {
		return fmt.Errorf("%s in %s: %w", op.name, op.scope.Path(), err)
	}
	op.out.emit(out)
	return nil
}

func (op *unaryOp) reset() {}

// Map transforms every tuple
func (c *Collection) Map(fn func(datalog.Tuple) datalog.Tuple) *Collection {
	return c.unary("map", func(in Batch) (Batch, error) {
		out := make(Batch, len(in))
		for i, u := range in {
			out[i] = Update{Tuple: fn(u.Tuple), Time: u.Time, Diff: u.Diff}
		}
		return out, nil
	})
}

// TryMap transforms every tuple; an error stops the dataflow
func (c *Collection) TryMap(fn func(datalog.Tuple) (datalog.Tuple, error)) *Collection {
	return c.unary("try-map", func(in Batch) (Batch, error) {
		out := make(Batch, len(in))
		for i, u := range in {
			t, err := fn(u.Tuple)
			if err != nil {
				return nil, err
			}
			out[i] = Update{Tuple: t, Time: u.Time, Diff: u.Diff}
		}
		return out, nil
	})
}

// Filter keeps the tuples for which pred returns true
func (c *Collection) Filter(pred func(datalog.Tuple) bool) *Collection {
	return c.unary("filter", func(in Batch) (Batch, error) {
		var out Batch
		for _, u := range in {
			if pred(u.Tuple) {
				out = append(out, u)
			}
		}
		return out, nil
	})
}

// FlatMap replaces every tuple by zero or more tuples with the same diff
func (c *Collection) FlatMap(fn func(datalog.Tuple) []datalog.Tuple) *Collection {
	return c.unary("flat-map", func(in Batch) (Batch, error) {
		var out Batch
		for _, u := range in {
			for _, t := range fn(u.Tuple) {
				out = append(out, Update{Tuple: t, Time: u.Time, Diff: u.Diff})
			}
		}
		return out, nil
	})
}

// Negate flips the sign of every diff
func (c *Collection) Negate() *Collection {
	return c.unary("negate", func(in Batch) (Batch, error) {
		out := make(Batch, len(in))
		for i, u := range in {
			out[i] = Update{Tuple: u.Tuple, Time: u.Time, Diff: -u.Diff}
		}
		return out, nil
	})
}

// Inspect calls fn for every update and passes the updates through
func (c *Collection) Inspect(fn func(Update)) *Collection {
	return c.unary("inspect", func(in Batch) (Batch, error) {
		for _, u := range in {
			fn(u)
		}
		return in, nil
	})
}

// Consolidate merges updates to the same tuple within each batch
func (c *Collection) Consolidate() *Collection {
	return c.unary("consolidate", func(in Batch) (Batch, error) {
		return Consolidate(in), nil
	})
}

// Concat merges collections of the same scope into one stream
func (c *Collection) Concat(others ...*Collection) *Collection {
	return Concatenate(c.scope, append([]*Collection{c}, others...))
}

// Concatenate merges any number of collections of a scope. With no
// inputs the result is an empty collection.
func Concatenate(scope *Scope, colls []*Collection) *Collection {
	op := &concatOp{
		node: node{name: "concat", scope: scope, inbox: make([]Batch, len(colls))},
	}
	op.out = newCollection(scope, op)
	scope.df.register(op, scope)
	for i, c := range colls {
		c.subscribe(op, i)
	}
	return op.out
}

type concatOp struct {
	node
}

func (op *concatOp) run(epoch uint64) error {
	var out Batch
	for i := range op.inbox {
		out = append(out, op.take(i)...)
	}
	op.out.emit(out)
	return nil
}

func (op *concatOp) reset() {}
