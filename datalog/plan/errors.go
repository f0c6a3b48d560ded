package plan

import (
	"errors"
	"fmt"

	"github.com/wbrown/janus-dataflow/datalog"
)

// ErrSourceArity is returned by a step when a source produces a tuple
// whose length differs from its declared symbols
var ErrSourceArity = errors.New("source tuple arity mismatch")

// ErrorKind classifies plan construction errors
type ErrorKind int

const (
	// UnboundSymbol: a node refers to a symbol its input does not bind
	UnboundSymbol ErrorKind = iota
	// UnknownAttribute: no global arrangement exists for an attribute
	UnknownAttribute
	// UnknownRule: a rule expression names a rule that is not defined
	UnknownRule
	// ArityMismatch: a rule expression binds the wrong number of columns
	ArityMismatch
	// RaggedRelation: symbols are resolved against a pull relation whose
	// paths have different shapes
	RaggedRelation
	// InvalidPlan: any other structural problem
	InvalidPlan
)

func (k ErrorKind) String() string {
	switch k {
	case UnboundSymbol:
		return "unbound symbol"
	case UnknownAttribute:
		return "unknown attribute"
	case UnknownRule:
		return "unknown rule"
	case ArityMismatch:
		return "arity mismatch"
	case RaggedRelation:
		return "ragged relation"
	default:
		return "invalid plan"
	}
}

// PlanError is returned when a plan cannot be compiled. It is produced
// before any dataflow operator is built.
type PlanError struct {
	Kind      ErrorKind
	Node      string            // Plan node kind, e.g. "filter"
	Symbol    datalog.Var       // Offending symbol, if any
	Attribute datalog.Attribute // Offending attribute, if any
	Rule      string            // Offending rule name, if any
	Detail    string
}

func (e *PlanError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Node, e.Kind)
	switch {
	case e.Symbol != "":
		msg += " " + string(e.Symbol)
	case e.Attribute != "":
		msg += " " + string(e.Attribute)
	case e.Rule != "":
		msg += " " + e.Rule
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func unbound(node string, sym datalog.Var, bound []datalog.Var) *PlanError {
	return &PlanError{
		Kind:   UnboundSymbol,
		Node:   node,
		Symbol: sym,
		Detail: "input binds " + vars(bound),
	}
}

func invalid(node, format string, args ...interface{}) *PlanError {
	return &PlanError{Kind: InvalidPlan, Node: node, Detail: fmt.Sprintf(format, args...)}
}
