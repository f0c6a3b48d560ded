package dataflow

import (
	"fmt"

	"github.com/wbrown/janus-dataflow/datalog"
)

// Scope is a region of the dataflow. Collections belong to exactly one
// scope and move between a scope and its parent with Enter and Leave.
//
// A nested scope that holds variables is recursive. Its inputs are
// buffered while the rest of the graph runs and released when the graph
// is quiescent. Additions flow through incrementally; if an epoch brings
// a retraction into a recursive scope, everything inside it is reset and
// re-derived from the integrated inputs, and the difference to the
// previous output leaves the scope.
type Scope struct {
	df       *Dataflow
	name     string
	parent   *Scope
	children []*Scope

	ops       []operator
	variables []*Variable
	enters    []*enterOp
	leaves    []*leaveOp

	rederived int

	// fixpoint rounds of the current epoch and the variables that
	// changed in the latest one
	rounds int
	ran    map[*variableOp]bool
}

// Nested creates a child scope
func (s *Scope) Nested(name string) *Scope {
	child := &Scope{df: s.df, name: name, parent: s}
	s.children = append(s.children, child)
	s.df.scopes = append(s.df.scopes, child)
	return child
}

// Dataflow returns the dataflow the scope belongs to
func (s *Scope) Dataflow() *Dataflow {
	return s.df
}

// Parent returns the enclosing scope, or nil for the root
func (s *Scope) Parent() *Scope {
	return s.parent
}

// IsRoot reports whether s is the outermost scope
func (s *Scope) IsRoot() bool {
	return s.parent == nil
}

// Path returns the scope names from the root, joined by "/"
func (s *Scope) Path() string {
	if s.parent == nil {
		return s.name
	}
	return s.parent.Path() + "/" + s.name
}

// Contains reports whether s is other or one of its ancestors
func (s *Scope) Contains(other *Scope) bool {
	for sc := other; sc != nil; sc = sc.parent {
		if sc == s {
			return true
		}
	}
	return false
}

// Rederivations returns how many times the scope was reset and rebuilt
func (s *Scope) Rederivations() int {
	return s.rederived
}

func (s *Scope) recursive() bool {
	return len(s.variables) > 0
}

// resetInner clears every operator inside s and its descendants.
// Enter and leave operators of s are owned by the parent and survive.
func (s *Scope) resetInner() {
	for _, op := range s.ops {
		op.base().clearInbox()
		op.reset()
	}
	for _, child := range s.children {
		child.resetInner()
	}
}

// settle is called when no operator has pending work. It releases
// buffered input of a recursive scope or, once that has been processed,
// its buffered output. It reports whether anything was emitted.
// round records a change of v. A round ends when a variable that already
// changed in it changes again, so mutually recursive variables share one.
func (s *Scope) round(v *variableOp) {
	if s.rounds == 0 || s.ran[v] {
		s.rounds++
		s.ran = map[*variableOp]bool{}
	}
	s.ran[v] = true
	if s.rounds > s.df.rounds {
		s.df.rounds = s.rounds
	}
}

func (s *Scope) settle(epoch uint64) bool {
	if !s.recursive() {
		return false
	}

	pending, retracting := false, false
	for _, e := range s.enters {
		if len(e.pending) > 0 {
			pending = true
			for _, u := range e.pending {
				if u.Diff < 0 {
					retracting = true
				}
			}
		}
	}

	if pending {
		if retracting {
			s.rederive(epoch)
		} else {
			for _, e := range s.enters {
				b := Consolidate(e.pending)
				e.pending = nil
				e.state.AddBatch(b)
				e.out.emit(b)
			}
		}
		return true
	}

	emitted := false
	for _, l := range s.leaves {
		if l.flush(epoch) {
			emitted = true
		}
	}
	return emitted
}

func (s *Scope) rederive(epoch uint64) {
	s.rederived++
	s.resetInner()
	for _, l := range s.leaves {
		l.retractAll()
	}
	for _, e := range s.enters {
		e.state.AddBatch(e.pending)
		e.pending = nil
		var b Batch
		for _, w := range e.state.Sorted() {
			b = append(b, Update{Tuple: w.Tuple, Time: epoch, Diff: w.Diff})
		}
		e.out.emit(b)
	}
}

// enterOp brings a collection from a parent scope into a child
type enterOp struct {
	node
	child   *Scope
	state   *ZSet
	pending Batch
}

// Enter makes the collection available inside child, which must be
// nested directly in the collection's scope
func (c *Collection) Enter(child *Scope) *Collection {
	if child.parent != c.scope {
		panic(fmt.Sprintf("dataflow: cannot enter %s from %s", child.Path(), c.scope.Path()))
	}
	op := &enterOp{
		node:  node{name: "enter", scope: c.scope, inbox: make([]Batch, 1)},
		child: child,
		state: NewZSet(),
	}
	op.out = newCollection(child, op)
	c.scope.df.register(op, c.scope)
	c.subscribe(op, 0)
	child.enters = append(child.enters, op)
	return op.out
}

// EnterAt enters a collection into a scope nested any depth below it
func (c *Collection) EnterAt(target *Scope) *Collection {
	if target == c.scope {
		return c
	}
	if !c.scope.Contains(target) {
		panic(fmt.Sprintf("dataflow: %s is not nested in %s", target.Path(), c.scope.Path()))
	}
	return c.EnterAt(target.parent).Enter(target)
}

func (op *enterOp) run(epoch uint64) error {
	b := op.take(0)
	if op.child.recursive() {
		op.pending = append(op.pending, b...)
		return nil
	}
	op.out.emit(b)
	return nil
}

func (op *enterOp) reset() {
	op.state = NewZSet()
	op.pending = nil
}

// leaveOp returns a collection from a child scope to its parent
type leaveOp struct {
	node
	child   *Scope
	state   *ZSet
	pending *ZSet
}

// Leave returns the collection to the enclosing scope
func (c *Collection) Leave() *Collection {
	child := c.scope
	if child.parent == nil {
		panic("dataflow: cannot leave the root scope")
	}
	op := &leaveOp{
		node:    node{name: "leave", scope: child.parent, inbox: make([]Batch, 1)},
		child:   child,
		state:   NewZSet(),
		pending: NewZSet(),
	}
	op.out = newCollection(child.parent, op)
	c.scope.df.register(op, child.parent)
	c.subscribe(op, 0)
	child.leaves = append(child.leaves, op)
	return op.out
}

func (op *leaveOp) run(epoch uint64) error {
	b := op.take(0)
	if op.child.recursive() {
		op.pending.AddBatch(b)
		return nil
	}
	op.out.emit(b)
	return nil
}

// retractAll prepares for a re-derivation: whatever left the scope so far
// is retracted and the rebuilt output is added on top
func (op *leaveOp) retractAll() {
	op.pending = NewZSet()
	op.state.Each(func(t datalog.Tuple, diff int64) {
		op.pending.Add(t, -diff)
	})
}

func (op *leaveOp) flush(epoch uint64) bool {
	if op.pending.Len() == 0 {
		return false
	}
	var b Batch
	for _, w := range op.pending.Sorted() {
		b = append(b, Update{Tuple: w.Tuple, Time: epoch, Diff: w.Diff})
		op.state.Add(w.Tuple, w.Diff)
	}
	op.pending = NewZSet()
	op.out.emit(b)
	return true
}

func (op *leaveOp) reset() {
	op.state = NewZSet()
	op.pending = NewZSet()
}
