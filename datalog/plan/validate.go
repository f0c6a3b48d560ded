package plan

import (
	"fmt"

	"github.com/wbrown/janus-dataflow/datalog"
)

// Pull output symbols. Label columns are named "?pull/label.<j>" and the
// pulled columns "?pull/attribute" and "?pull/value". A name the input
// already binds is skipped: labels take the next free index, pulled
// columns get a ".<n>" suffix. Ragged pulls name their columns "?pull.<i>".
const (
	PullAttributeSymbol datalog.Var = "?pull/attribute"
	PullValueSymbol     datalog.Var = "?pull/value"
)

// PullLabelSymbol names the j-th interleaved path label column
func PullLabelSymbol(j int) datalog.Var {
	return datalog.Var(fmt.Sprintf("?pull/label.%d", j))
}

// PullColumnSymbol names the i-th column of a ragged pull
func PullColumnSymbol(i int) datalog.Var {
	return datalog.Var(fmt.Sprintf("?pull.%d", i))
}

// Shape is the statically known output of a plan
type Shape struct {
	Symbols []datalog.Var
	Ragged  bool
}

// RuleShape describes a rule visible to rule expressions. An Arity below
// zero means the arity is not known yet and is not checked.
type RuleShape struct {
	Arity  int
	Ragged bool
}

// Schema is what validation needs to know about the environment
type Schema struct {
	HasAttribute func(datalog.Attribute) bool
	Rules        map[string]RuleShape
}

// SchemaOf describes the given arrangement maps
func SchemaOf(local LocalArrangements, global GlobalArrangements) Schema {
	rules := make(map[string]RuleShape, len(local))
	for name, rel := range local {
		shape := RuleShape{Arity: len(rel.Symbols())}
		if r, ok := rel.(interface{ Ragged() bool }); ok {
			shape.Ragged = r.Ragged()
		}
		rules[name] = shape
	}
	return Schema{HasAttribute: global.Has, Rules: rules}
}

// Validate checks a plan against a schema and returns its output shape.
// It rejects unbound symbols, unknown attributes and rules, arity
// mismatches and structural errors with a *PlanError.
func Validate(p Plan, schema Schema) (Shape, error) {
	v := validator{schema: schema}
	return v.check(p)
}

type validator struct {
	schema Schema
}

func (v *validator) attribute(node string, a datalog.Attribute) error {
	if v.schema.HasAttribute == nil || !v.schema.HasAttribute(a) {
		return &PlanError{Kind: UnknownAttribute, Node: node, Attribute: a}
	}
	return nil
}

// child validates a sub-plan whose symbols the parent resolves
func (v *validator) child(node string, p Plan) (Shape, error) {
	if p == nil {
		return Shape{}, invalid(node, "missing sub-plan")
	}
	shape, err := v.check(p)
	if err != nil {
		return Shape{}, err
	}
	if shape.Ragged {
		return Shape{}, &PlanError{Kind: RaggedRelation, Node: node, Detail: "input " + p.String()}
	}
	return shape, nil
}

func bind(node string, bound []datalog.Var, syms ...datalog.Var) error {
	for _, s := range syms {
		if position(bound, s) < 0 {
			return unbound(node, s, bound)
		}
	}
	return nil
}

func distinctSymbols(node string, syms []datalog.Var) error {
	for i, s := range syms {
		if !datalog.IsVar(string(s)) {
			return invalid(node, "%q is not a variable", s)
		}
		if position(syms[:i], s) >= 0 {
			return invalid(node, "symbol %s appears twice", s)
		}
	}
	return nil
}

func (v *validator) check(p Plan) (Shape, error) {
	switch n := p.(type) {
	case *MatchA:
		if err := v.attribute("match-a", n.A); err != nil {
			return Shape{}, err
		}
		syms := []datalog.Var{n.E, n.V}
		return Shape{Symbols: syms}, distinctSymbols("match-a", syms)

	case *MatchEA:
		if err := v.attribute("match-ea", n.A); err != nil {
			return Shape{}, err
		}
		syms := []datalog.Var{n.V}
		return Shape{Symbols: syms}, distinctSymbols("match-ea", syms)

	case *MatchAV:
		if err := v.attribute("match-av", n.A); err != nil {
			return Shape{}, err
		}
		syms := []datalog.Var{n.E}
		return Shape{Symbols: syms}, distinctSymbols("match-av", syms)

	case *RuleExpr:
		rule, ok := v.schema.Rules[n.Name]
		if !ok {
			return Shape{}, &PlanError{Kind: UnknownRule, Node: "rule-expr", Rule: n.Name}
		}
		if rule.Ragged {
			return Shape{}, &PlanError{Kind: RaggedRelation, Node: "rule-expr", Rule: n.Name}
		}
		if rule.Arity >= 0 && rule.Arity != len(n.Variables) {
			return Shape{}, &PlanError{
				Kind:   ArityMismatch,
				Node:   "rule-expr",
				Rule:   n.Name,
				Detail: fmt.Sprintf("rule has %d columns, expression binds %d", rule.Arity, len(n.Variables)),
			}
		}
		return Shape{Symbols: n.Variables}, distinctSymbols("rule-expr", n.Variables)

	case *Sourced:
		if n.Source == nil {
			return Shape{}, invalid("sourced", "missing source")
		}
		return Shape{Symbols: n.Symbols}, distinctSymbols("sourced", n.Symbols)

	case *Join:
		left, err := v.child("join", n.Left)
		if err != nil {
			return Shape{}, err
		}
		right, err := v.child("join", n.Right)
		if err != nil {
			return Shape{}, err
		}
		if err := bind("join", left.Symbols, n.Variables...); err != nil {
			return Shape{}, err
		}
		if err := bind("join", right.Symbols, n.Variables...); err != nil {
			return Shape{}, err
		}
		_, _, leftRest, _ := splitSymbols(left.Symbols, n.Variables)
		_, _, rightRest, _ := splitSymbols(right.Symbols, n.Variables)
		for _, s := range rightRest {
			if position(leftRest, s) >= 0 {
				return Shape{}, invalid("join", "symbol %s is bound on both sides but not joined on", s)
			}
		}
		syms := append(append(append([]datalog.Var{}, n.Variables...), leftRest...), rightRest...)
		return Shape{Symbols: syms}, distinctSymbols("join", n.Variables)

	case *Antijoin:
		pos, err := v.child("antijoin", n.Plan)
		if err != nil {
			return Shape{}, err
		}
		neg, err := v.child("antijoin", n.Neg)
		if err != nil {
			return Shape{}, err
		}
		if err := bind("antijoin", pos.Symbols, n.Variables...); err != nil {
			return Shape{}, err
		}
		if err := bind("antijoin", neg.Symbols, n.Variables...); err != nil {
			return Shape{}, err
		}
		return Shape{Symbols: pos.Symbols}, distinctSymbols("antijoin", n.Variables)

	case *Union:
		if len(n.Plans) == 0 {
			return Shape{}, invalid("union", "no plans")
		}
		for _, sub := range n.Plans {
			shape, err := v.child("union", sub)
			if err != nil {
				return Shape{}, err
			}
			if err := bind("union", shape.Symbols, n.Variables...); err != nil {
				return Shape{}, err
			}
		}
		return Shape{Symbols: n.Variables}, distinctSymbols("union", n.Variables)

	case *Project:
		shape, err := v.child("project", n.Plan)
		if err != nil {
			return Shape{}, err
		}
		if err := bind("project", shape.Symbols, n.Variables...); err != nil {
			return Shape{}, err
		}
		return Shape{Symbols: n.Variables}, distinctSymbols("project", n.Variables)

	case *Filter:
		if !n.Predicate.valid() {
			return Shape{}, invalid("filter", "unknown predicate %q", n.Predicate)
		}
		shape, err := v.child("filter", n.Plan)
		if err != nil {
			return Shape{}, err
		}
		if err := bind("filter", shape.Symbols, n.Variables[0], n.Variables[1]); err != nil {
			return Shape{}, err
		}
		return shape, nil

	case *Transform:
		shape, err := v.child("transform", n.Plan)
		if err != nil {
			return Shape{}, err
		}
		if err := bind("transform", shape.Symbols, n.Variables...); err != nil {
			return Shape{}, err
		}
		if err := checkArguments(n); err != nil {
			return Shape{}, err
		}
		syms := append(append([]datalog.Var{}, shape.Symbols...), n.ResultSym)
		return Shape{Symbols: syms}, distinctSymbols("transform", syms)

	case *Aggregate:
		switch n.Function {
		case MIN, MAX, COUNT, SUM:
		default:
			return Shape{}, invalid("aggregate", "unknown aggregation %q", n.Function)
		}
		if len(n.Variables) == 0 {
			return Shape{}, invalid("aggregate", "no variables")
		}
		shape, err := v.child("aggregate", n.Plan)
		if err != nil {
			return Shape{}, err
		}
		if err := bind("aggregate", shape.Symbols, n.Variables...); err != nil {
			return Shape{}, err
		}
		return Shape{Symbols: n.Variables}, distinctSymbols("aggregate", n.Variables)

	case *PullLevel:
		shape, err := v.child("pull-level", n.Plan)
		if err != nil {
			return Shape{}, err
		}
		for _, a := range n.PullAttributes {
			if err := v.attribute("pull-level", a); err != nil {
				return Shape{}, err
			}
		}
		if len(n.PullAttributes) > 0 && len(shape.Symbols) == 0 {
			return Shape{}, invalid("pull-level", "input binds no entity column")
		}
		syms := pullLevelSymbols(n, shape.Symbols)
		if err := distinctSymbols("pull-level", syms); err != nil {
			return Shape{}, err
		}
		return Shape{Symbols: syms}, nil

	case *Pull:
		if len(n.Paths) == 0 {
			return Shape{}, invalid("pull", "no paths")
		}
		var shapes [][]datalog.Var
		for _, path := range n.Paths {
			if path == nil {
				return Shape{}, invalid("pull", "missing path")
			}
			shape, err := v.check(path)
			if err != nil {
				return Shape{}, err
			}
			shapes = append(shapes, shape.Symbols)
		}
		return pullShape(shapes), nil

	case nil:
		return Shape{}, invalid("plan", "missing plan")

	default:
		return Shape{}, invalid("plan", "unsupported plan node %T", p)
	}
}

// pullLevelSymbols applies the pull naming convention: the input symbols
// interleaved with label columns, followed by attribute and value
// columns when attributes are pulled. Generated names never repeat an
// input symbol, so nested pull levels stay distinct.
func pullLevelSymbols(n *PullLevel, input []datalog.Var) []datalog.Var {
	if len(n.PullAttributes) == 0 && len(n.PathAttributes) == 0 {
		return input
	}
	taken := make(map[datalog.Var]bool, len(input))
	for _, s := range input {
		taken[s] = true
	}
	labels := make([]datalog.Var, len(n.PathAttributes))
	next := 0
	for j := range labels {
		for taken[PullLabelSymbol(next)] {
			next++
		}
		labels[j] = PullLabelSymbol(next)
		taken[labels[j]] = true
	}
	syms := interleaveSymbols(input, labels)
	if len(n.PullAttributes) > 0 {
		syms = append(syms, freshSymbol(taken, PullAttributeSymbol), freshSymbol(taken, PullValueSymbol))
	}
	return syms
}

// freshSymbol returns base, or base with the first free ".<n>" suffix
func freshSymbol(taken map[datalog.Var]bool, base datalog.Var) datalog.Var {
	s := base
	for i := 1; taken[s]; i++ {
		s = datalog.Var(fmt.Sprintf("%s.%d", base, i))
	}
	taken[s] = true
	return s
}

// pullShape unifies the shapes of pull paths. Identical shapes are kept;
// otherwise the pull is ragged with positional names for the widest path.
func pullShape(shapes [][]datalog.Var) Shape {
	same := true
	widest := 0
	for i, s := range shapes {
		if len(s) > widest {
			widest = len(s)
		}
		if i > 0 && !equalSymbols(s, shapes[0]) {
			same = false
		}
	}
	if same {
		return Shape{Symbols: shapes[0]}
	}
	syms := make([]datalog.Var, widest)
	for i := range syms {
		syms[i] = PullColumnSymbol(i)
	}
	return Shape{Symbols: syms, Ragged: true}
}

func equalSymbols(a, b []datalog.Var) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
