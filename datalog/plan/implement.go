package plan

import (
	"fmt"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
)

// Option configures compilation
type Option func(*compiler)

// WithDefaultInterval sets the TRUNCATE interval used when a transform
// does not pass one. The default is "hour".
func WithDefaultInterval(interval string) Option {
	return func(c *compiler) {
		c.interval = interval
	}
}

// Implement validates p and builds its operators in scope. The returned
// relation is maintained for as long as the scope's dataflow runs.
//
// Nothing is built if validation fails. The global arrangements are only
// read; local arrangements are looked up by rule expressions.
func Implement(p Plan, scope *dataflow.Scope, local LocalArrangements, global GlobalArrangements, opts ...Option) (Relation, error) {
	c := &compiler{
		scope:    scope,
		local:    local,
		global:   global,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := CheckInterval(c.interval); err != nil {
		return nil, err
	}
	if _, err := Validate(p, SchemaOf(local, global)); err != nil {
		return nil, err
	}
	return c.implement(p)
}

type compiler struct {
	scope    *dataflow.Scope
	local    LocalArrangements
	global   GlobalArrangements
	interval string
}

func (c *compiler) implement(p Plan) (Relation, error) {
	switch n := p.(type) {
	case *MatchA:
		return NewRelation([]datalog.Var{n.E, n.V}, c.attribute(n.A)), nil

	case *MatchEA:
		e := n.E
		tuples := c.attribute(n.A).
			Filter(func(t datalog.Tuple) bool { return datalog.ValuesEqual(t[0], e) }).
			Map(func(t datalog.Tuple) datalog.Tuple { return datalog.Tuple{t[1]} })
		return NewRelation([]datalog.Var{n.V}, tuples), nil

	case *MatchAV:
		v := n.V
		tuples := c.attribute(n.A).
			Filter(func(t datalog.Tuple) bool { return datalog.ValuesEqual(t[1], v) }).
			Map(func(t datalog.Tuple) datalog.Tuple { return datalog.Tuple{t[0]} })
		return NewRelation([]datalog.Var{n.E}, tuples), nil

	case *RuleExpr:
		return c.ruleExpr(n)

	case *Sourced:
		tuples, err := n.Source.Source(c.scope)
		if err != nil {
			return nil, fmt.Errorf("sourced %s: %w", vars(n.Symbols), err)
		}
		arity := len(n.Symbols)
		checked := tuples.TryMap(func(t datalog.Tuple) (datalog.Tuple, error) {
			if len(t) != arity {
				return nil, fmt.Errorf("sourced %s: %w: tuple %s has %d values", vars(n.Symbols), ErrSourceArity, t, len(t))
			}
			return t, nil
		})
		return NewRelation(n.Symbols, checked), nil

	case *Join:
		return c.join(n)
	case *Antijoin:
		return c.antijoin(n)
	case *Union:
		return c.union(n)
	case *Project:
		return c.project(n)
	case *Filter:
		return c.filter(n)
	case *Transform:
		return c.transform(n)
	case *Aggregate:
		return c.aggregate(n)
	case *PullLevel:
		return c.pullLevel(n)
	case *Pull:
		return c.pull(n)
	}
	return nil, invalid("plan", "unsupported plan node %T", p)
}

// attribute imports the [e v] trace of a into the current scope
func (c *compiler) attribute(a datalog.Attribute) *dataflow.Collection {
	return c.global[a].ImportInto(c.scope)
}

func (c *compiler) ruleExpr(n *RuleExpr) (Relation, error) {
	rel := c.local[n.Name]
	tuples := rel.Tuples()
	if tuples.Scope() != c.scope {
		if !tuples.Scope().Contains(c.scope) {
			return nil, invalid("rule-expr", "rule %s is not visible from %s", n.Name, c.scope.Path())
		}
		tuples = tuples.EnterAt(c.scope)
	}
	return NewRelation(n.Variables, tuples), nil
}
