package dataflow

import (
	"fmt"
)

// Variable is a collection defined in terms of itself. Its contents start
// empty and are fed back from the collection given to Set until nothing
// changes. Definitions should be distinct so that the fixpoint exists.
type Variable struct {
	name string
	op   *variableOp
	set  bool
}

type variableOp struct {
	node
}

// NewVariable creates a variable in a nested scope. A scope holding a
// variable becomes recursive.
func (s *Scope) NewVariable(name string) *Variable {
	if s.parent == nil {
		panic("dataflow: variables require a nested scope")
	}
	op := &variableOp{
		node: node{name: "variable " + name, scope: s, inbox: make([]Batch, 1)},
	}
	op.out = newCollection(s, op)
	s.df.register(op, s)
	v := &Variable{name: name, op: op}
	s.variables = append(s.variables, v)
	return v
}

// Name returns the variable name
func (v *Variable) Name() string {
	return v.name
}

// Collection returns the current contents of the variable
func (v *Variable) Collection() *Collection {
	return v.op.out
}

// Set defines the variable. It may be called once.
func (v *Variable) Set(def *Collection) error {
	if v.set {
		return fmt.Errorf("variable %s is already defined", v.name)
	}
	if def.scope != v.op.scope {
		return fmt.Errorf("variable %s in %s cannot be defined from %s", v.name, v.op.scope.Path(), def.scope.Path())
	}
	def.subscribe(v.op, 0)
	v.set = true
	return nil
}

// IsSet reports whether the variable has a definition
func (v *Variable) IsSet() bool {
	return v.set
}

func (op *variableOp) run(epoch uint64) error {
	b := Consolidate(op.take(0))
	if len(b) > 0 {
		op.scope.round(op)
	}
	op.out.emit(b)
	return nil
}

func (op *variableOp) reset() {}
