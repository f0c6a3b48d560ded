// Package plan compiles trees of plan nodes into incrementally
// maintained relations. A plan is validated once, statically, and then
// implemented: every node compiles its children first and transforms
// their relations into its own.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/sources"
)

// Plan is a node of a query plan. The set of node kinds is closed;
// Implement and Validate dispatch on the concrete type.
type Plan interface {
	isPlan()
	String() string
}

// Predicate is a binary comparison used by Filter
type Predicate string

const (
	LT  Predicate = "<"
	GT  Predicate = ">"
	LTE Predicate = "<="
	GTE Predicate = ">="
	EQ  Predicate = "="
	NEQ Predicate = "!="
)

// Holds applies the predicate to two values under the total value order
func (p Predicate) Holds(left, right datalog.Value) bool {
	c := datalog.CompareValues(left, right)
	switch p {
	case LT:
		return c < 0
	case GT:
		return c > 0
	case LTE:
		return c <= 0
	case GTE:
		return c >= 0
	case EQ:
		return c == 0
	case NEQ:
		return c != 0
	}
	return false
}

func (p Predicate) valid() bool {
	switch p {
	case LT, GT, LTE, GTE, EQ, NEQ:
		return true
	}
	return false
}

// Function names a scalar function used by Transform
type Function string

const (
	TRUNCATE Function = "TRUNCATE"
	ADD      Function = "ADD"
	SUBTRACT Function = "SUBTRACT"
)

// AggregationFn names an aggregate used by Aggregate
type AggregationFn string

const (
	MIN   AggregationFn = "MIN"
	MAX   AggregationFn = "MAX"
	COUNT AggregationFn = "COUNT"
	SUM   AggregationFn = "SUM"
)

// MatchA binds [?e ?v] for every fact of an attribute
type MatchA struct {
	E datalog.Var
	A datalog.Attribute
	V datalog.Var
}

// MatchEA binds [?v] for the facts of one entity and attribute
type MatchEA struct {
	E datalog.Eid
	A datalog.Attribute
	V datalog.Var
}

// MatchAV binds [?e] for the entities having a given value of an attribute
type MatchAV struct {
	E datalog.Var
	A datalog.Attribute
	V datalog.Value
}

// RuleExpr refers to another rule by name, binding its columns to
// Variables positionally
type RuleExpr struct {
	Name      string
	Variables []datalog.Var
}

// Sourced reads an external source. Symbols names the columns of the
// tuples the source produces.
type Sourced struct {
	Symbols []datalog.Var
	Source  sources.Sourceable
}

// Join joins two plans on Variables. The output symbols are Variables
// followed by the remaining symbols of Left, then those of Right.
type Join struct {
	Variables []datalog.Var
	Left      Plan
	Right     Plan
}

// Antijoin keeps the rows of Plan whose Variables have no match in Neg
type Antijoin struct {
	Variables []datalog.Var
	Plan      Plan
	Neg       Plan
}

// Union projects every plan onto Variables and returns the distinct rows
type Union struct {
	Variables []datalog.Var
	Plans     []Plan
}

// Project restricts a plan to Variables, in that order
type Project struct {
	Variables []datalog.Var
	Plan      Plan
}

// Filter keeps the rows where Variables[0] <Predicate> Variables[1]
type Filter struct {
	Variables [2]datalog.Var
	Predicate Predicate
	Plan      Plan
}

// Transform appends ResultSym, computed by Function from its arguments.
// Arguments are taken from Variables in order, except that positions
// present in Constants use the constant instead.
type Transform struct {
	Variables []datalog.Var
	ResultSym datalog.Var
	Plan      Plan
	Function  Function
	Constants map[int]datalog.Value
}

// Aggregate groups the rows of Plan by all but the last of Variables and
// aggregates the last one
type Aggregate struct {
	Variables []datalog.Var
	Plan      Plan
	Function  AggregationFn
}

// PullLevel fetches PullAttributes for the entities at the end of each
// path produced by Plan. PathAttributes are constant labels spliced into
// the path (see Interleave). Variables is informational.
type PullLevel struct {
	Variables      []datalog.Var
	Plan           Plan
	PullAttributes []datalog.Attribute
	PathAttributes []datalog.Attribute
}

// Pull concatenates the output of several pull paths
type Pull struct {
	Paths []*PullLevel
}

func (*MatchA) isPlan()    {}
func (*MatchEA) isPlan()   {}
func (*MatchAV) isPlan()   {}
func (*RuleExpr) isPlan()  {}
func (*Sourced) isPlan()   {}
func (*Join) isPlan()      {}
func (*Antijoin) isPlan()  {}
func (*Union) isPlan()     {}
func (*Project) isPlan()   {}
func (*Filter) isPlan()    {}
func (*Transform) isPlan() {}
func (*Aggregate) isPlan() {}
func (*PullLevel) isPlan() {}
func (*Pull) isPlan()      {}

// Rule is a named plan
type Rule struct {
	Name string
	Plan Plan
}

// String returns a string representation of the rule
func (r Rule) String() string {
	return fmt.Sprintf("%s <- %s", r.Name, r.Plan)
}

func vars(vs []datalog.Var) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = string(v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func attrs(as []datalog.Attribute) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = string(a)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (p *MatchA) String() string {
	return fmt.Sprintf("(match-a %s %s %s)", p.E, p.A, p.V)
}

func (p *MatchEA) String() string {
	return fmt.Sprintf("(match-ea %s %s %s)", p.E, p.A, p.V)
}

func (p *MatchAV) String() string {
	return fmt.Sprintf("(match-av %s %s %s)", p.E, p.A, datalog.FormatValue(p.V))
}

func (p *RuleExpr) String() string {
	return fmt.Sprintf("(rule %s %s)", p.Name, vars(p.Variables))
}

func (p *Sourced) String() string {
	return fmt.Sprintf("(sourced %s %v)", vars(p.Symbols), p.Source)
}

func (p *Join) String() string {
	return fmt.Sprintf("(join %s %s %s)", vars(p.Variables), p.Left, p.Right)
}

func (p *Antijoin) String() string {
	return fmt.Sprintf("(antijoin %s %s %s)", vars(p.Variables), p.Plan, p.Neg)
}

func (p *Union) String() string {
	parts := make([]string, len(p.Plans))
	for i, sub := range p.Plans {
		parts[i] = sub.String()
	}
	return fmt.Sprintf("(union %s %s)", vars(p.Variables), strings.Join(parts, " "))
}

func (p *Project) String() string {
	return fmt.Sprintf("(project %s %s)", vars(p.Variables), p.Plan)
}

func (p *Filter) String() string {
	return fmt.Sprintf("(filter (%s %s %s) %s)", p.Predicate, p.Variables[0], p.Variables[1], p.Plan)
}

func (p *Transform) String() string {
	var consts []string
	keys := make([]int, 0, len(p.Constants))
	for k := range p.Constants {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		consts = append(consts, fmt.Sprintf("%d %s", k, datalog.FormatValue(p.Constants[k])))
	}
	return fmt.Sprintf("(transform %s %s -> %s {%s} %s)",
		p.Function, vars(p.Variables), p.ResultSym, strings.Join(consts, ", "), p.Plan)
}

func (p *Aggregate) String() string {
	return fmt.Sprintf("(aggregate %s %s %s)", p.Function, vars(p.Variables), p.Plan)
}

func (p *PullLevel) String() string {
	return fmt.Sprintf("(pull-level %s %s %s %s)",
		vars(p.Variables), attrs(p.PullAttributes), attrs(p.PathAttributes), p.Plan)
}

func (p *Pull) String() string {
	parts := make([]string, len(p.Paths))
	for i, path := range p.Paths {
		parts[i] = path.String()
	}
	return "(pull " + strings.Join(parts, " ") + ")"
}

// Dependencies returns the names of the rules a plan refers to, in
// order of first appearance
func Dependencies(p Plan) []string {
	var out []string
	seen := map[string]bool{}
	walk(p, func(n Plan) {
		if r, ok := n.(*RuleExpr); ok && !seen[r.Name] {
			seen[r.Name] = true
			out = append(out, r.Name)
		}
	})
	return out
}

// Attributes returns the attributes a plan reads from the global
// arrangements, in order of first appearance
func Attributes(p Plan) []datalog.Attribute {
	var out []datalog.Attribute
	seen := map[datalog.Attribute]bool{}
	add := func(a datalog.Attribute) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	walk(p, func(n Plan) {
		switch n := n.(type) {
		case *MatchA:
			add(n.A)
		case *MatchEA:
			add(n.A)
		case *MatchAV:
			add(n.A)
		case *PullLevel:
			for _, a := range n.PullAttributes {
				add(a)
			}
		}
	})
	return out
}

// walk visits p and all of its sub-plans, parents first
func walk(p Plan, fn func(Plan)) {
	if p == nil {
		return
	}
	fn(p)
	switch n := p.(type) {
	case *Join:
		walk(n.Left, fn)
		walk(n.Right, fn)
	case *Antijoin:
		walk(n.Plan, fn)
		walk(n.Neg, fn)
	case *Union:
		for _, sub := range n.Plans {
			walk(sub, fn)
		}
	case *Project:
		walk(n.Plan, fn)
	case *Filter:
		walk(n.Plan, fn)
	case *Transform:
		walk(n.Plan, fn)
	case *Aggregate:
		walk(n.Plan, fn)
	case *PullLevel:
		walk(n.Plan, fn)
	case *Pull:
		for _, path := range n.Paths {
			if path != nil {
				walk(path, fn)
			}
		}
	}
}
