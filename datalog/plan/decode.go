package plan

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/edn"
	"github.com/wbrown/janus-dataflow/datalog/sources"
)

// ParseEDN reads a plan written as EDN, e.g.
//
//	{:filter {:variables [?t ?u]
//	          :predicate :lt
//	          :plan {:match-a [?e :timestamp ?t]}}}
func ParseEDN(input string) (Plan, error) {
	node, err := edn.Parse(input)
	if err != nil {
		return nil, err
	}
	return Decode(*node)
}

// ParseRules reads a vector of rules, each {:name "…" :plan {…}}
func ParseRules(input string) ([]Rule, error) {
	node, err := edn.Parse(input)
	if err != nil {
		return nil, err
	}
	items, err := node.Items()
	if err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(items))
	for _, item := range items {
		r, err := DecodeRule(item)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// DecodeRule decodes {:name "…" :plan {…}}
func DecodeRule(n edn.Node) (Rule, error) {
	nameNode, err := n.Require(":name")
	if err != nil {
		return Rule{}, err
	}
	name, err := nameNode.AsString()
	if err != nil {
		return Rule{}, err
	}
	if name == "" {
		return Rule{}, nameNode.Errorf("empty rule name")
	}
	planNode, err := n.Require(":plan")
	if err != nil {
		return Rule{}, err
	}
	p, err := Decode(planNode)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", name, err)
	}
	return Rule{Name: name, Plan: p}, nil
}

// Decode converts a plan node. Every plan is a map with a single entry
// whose key names the variant.
func Decode(n edn.Node) (Plan, error) {
	tag, body, err := n.Variant()
	if err != nil {
		return nil, err
	}
	switch tag {
	case ":match-a", ":match-ea", ":match-av":
		return decodeMatch(tag, body)
	case ":rule-expr":
		return decodeRuleExpr(body)
	case ":sourced":
		return decodeSourced(body)
	case ":join":
		return decodeJoin(body)
	case ":antijoin":
		return decodeAntijoin(body)
	case ":union":
		return decodeUnion(body)
	case ":project":
		return decodeProject(body)
	case ":filter":
		return decodeFilter(body)
	case ":transform":
		return decodeTransform(body)
	case ":aggregate":
		return decodeAggregate(body)
	case ":pull-level":
		return decodePullLevel(body)
	case ":pull":
		return decodePull(body)
	}
	return nil, n.Errorf("unknown plan %s", tag)
}

func decodeMatch(tag string, body edn.Node) (Plan, error) {
	items, err := body.Items()
	if err != nil {
		return nil, err
	}
	if len(items) != 3 {
		return nil, body.Errorf("%s takes [e a v], got %s", tag, body)
	}
	a, err := edn.ToAttribute(items[1])
	if err != nil {
		return nil, err
	}
	switch tag {
	case ":match-a":
		e, err := edn.ToVar(items[0])
		if err != nil {
			return nil, err
		}
		v, err := edn.ToVar(items[2])
		if err != nil {
			return nil, err
		}
		return &MatchA{E: e, A: a, V: v}, nil
	case ":match-ea":
		e, err := edn.ToEid(items[0])
		if err != nil {
			return nil, err
		}
		v, err := edn.ToVar(items[2])
		if err != nil {
			return nil, err
		}
		return &MatchEA{E: e, A: a, V: v}, nil
	default:
		e, err := edn.ToVar(items[0])
		if err != nil {
			return nil, err
		}
		v, err := edn.ToValue(items[2])
		if err != nil {
			return nil, err
		}
		return &MatchAV{E: e, A: a, V: v}, nil
	}
}

func requireVars(body edn.Node, key string) ([]datalog.Var, error) {
	n, err := body.Require(key)
	if err != nil {
		return nil, err
	}
	return edn.ToVars(n)
}

func optionalAttributes(body edn.Node, key string) ([]datalog.Attribute, error) {
	n, ok := body.Get(key)
	if !ok || n.IsNil() {
		return nil, nil
	}
	return edn.ToAttributes(n)
}

func requirePlan(body edn.Node, key string) (Plan, error) {
	n, err := body.Require(key)
	if err != nil {
		return nil, err
	}
	return Decode(n)
}

// requireName accepts a keyword or symbol, case-insensitively
func requireName(body edn.Node, key string) (string, error) {
	n, err := body.Require(key)
	if err != nil {
		return "", err
	}
	switch n.Type {
	case edn.NodeKeyword:
		return strings.ToUpper(n.Value[1:]), nil
	case edn.NodeSymbol, edn.NodeString:
		return strings.ToUpper(n.Value), nil
	}
	return "", n.Errorf("expected a keyword, got %s", n)
}

func decodeRuleExpr(body edn.Node) (Plan, error) {
	nameNode, err := body.Require(":name")
	if err != nil {
		return nil, err
	}
	name, err := nameNode.AsString()
	if err != nil {
		return nil, err
	}
	vs, err := requireVars(body, ":variables")
	if err != nil {
		return nil, err
	}
	return &RuleExpr{Name: name, Variables: vs}, nil
}

func decodeSourced(body edn.Node) (Plan, error) {
	syms, err := requireVars(body, ":symbols")
	if err != nil {
		return nil, err
	}
	srcNode, err := body.Require(":source")
	if err != nil {
		return nil, err
	}
	src, err := sources.Decode(srcNode)
	if err != nil {
		return nil, err
	}
	return &Sourced{Symbols: syms, Source: src}, nil
}

func decodeJoin(body edn.Node) (Plan, error) {
	vs, err := requireVars(body, ":variables")
	if err != nil {
		return nil, err
	}
	left, err := requirePlan(body, ":left")
	if err != nil {
		return nil, err
	}
	right, err := requirePlan(body, ":right")
	if err != nil {
		return nil, err
	}
	return &Join{Variables: vs, Left: left, Right: right}, nil
}

func decodeAntijoin(body edn.Node) (Plan, error) {
	vs, err := requireVars(body, ":variables")
	if err != nil {
		return nil, err
	}
	p, err := requirePlan(body, ":plan")
	if err != nil {
		return nil, err
	}
	neg, err := requirePlan(body, ":neg")
	if err != nil {
		return nil, err
	}
	return &Antijoin{Variables: vs, Plan: p, Neg: neg}, nil
}

func decodeUnion(body edn.Node) (Plan, error) {
	vs, err := requireVars(body, ":variables")
	if err != nil {
		return nil, err
	}
	plansNode, err := body.Require(":plans")
	if err != nil {
		return nil, err
	}
	items, err := plansNode.Items()
	if err != nil {
		return nil, err
	}
	plans := make([]Plan, 0, len(items))
	for _, item := range items {
		p, err := Decode(item)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return &Union{Variables: vs, Plans: plans}, nil
}

func decodeProject(body edn.Node) (Plan, error) {
	vs, err := requireVars(body, ":variables")
	if err != nil {
		return nil, err
	}
	p, err := requirePlan(body, ":plan")
	if err != nil {
		return nil, err
	}
	return &Project{Variables: vs, Plan: p}, nil
}

var predicateNames = map[string]Predicate{
	"LT": LT, "<": LT,
	"GT": GT, ">": GT,
	"LTE": LTE, "<=": LTE,
	"GTE": GTE, ">=": GTE,
	"EQ": EQ, "=": EQ,
	"NEQ": NEQ, "!=": NEQ, "NOT=": NEQ,
}

func decodeFilter(body edn.Node) (Plan, error) {
	vs, err := requireVars(body, ":variables")
	if err != nil {
		return nil, err
	}
	if len(vs) != 2 {
		return nil, body.Errorf("filter compares exactly two variables, got %d", len(vs))
	}
	name, err := requireName(body, ":predicate")
	if err != nil {
		return nil, err
	}
	pred, ok := predicateNames[name]
	if !ok {
		return nil, body.Errorf("unknown predicate %s", name)
	}
	p, err := requirePlan(body, ":plan")
	if err != nil {
		return nil, err
	}
	return &Filter{Variables: [2]datalog.Var{vs[0], vs[1]}, Predicate: pred, Plan: p}, nil
}

func decodeTransform(body edn.Node) (Plan, error) {
	vs, err := requireVars(body, ":variables")
	if err != nil {
		return nil, err
	}
	resultNode, err := body.Require(":result")
	if err != nil {
		return nil, err
	}
	result, err := edn.ToVar(resultNode)
	if err != nil {
		return nil, err
	}
	name, err := requireName(body, ":function")
	if err != nil {
		return nil, err
	}
	p, err := requirePlan(body, ":plan")
	if err != nil {
		return nil, err
	}
	t := &Transform{Variables: vs, ResultSym: result, Plan: p, Function: Function(name)}

	if consts, ok := body.Get(":constants"); ok && !consts.IsNil() {
		t.Constants = map[int]datalog.Value{}
		err := consts.Entries(func(k, v edn.Node) error {
			pos, err := k.AsInt()
			if err != nil {
				return err
			}
			val, err := edn.ToValue(v)
			if err != nil {
				return err
			}
			t.Constants[int(pos)] = val
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

func decodeAggregate(body edn.Node) (Plan, error) {
	vs, err := requireVars(body, ":variables")
	if err != nil {
		return nil, err
	}
	name, err := requireName(body, ":function")
	if err != nil {
		return nil, err
	}
	p, err := requirePlan(body, ":plan")
	if err != nil {
		return nil, err
	}
	return &Aggregate{Variables: vs, Plan: p, Function: AggregationFn(name)}, nil
}

func decodePullLevel(body edn.Node) (Plan, error) {
	var vs []datalog.Var
	if n, ok := body.Get(":variables"); ok {
		var err error
		if vs, err = edn.ToVars(n); err != nil {
			return nil, err
		}
	}
	p, err := requirePlan(body, ":plan")
	if err != nil {
		return nil, err
	}
	pullAttrs, err := optionalAttributes(body, ":pull-attributes")
	if err != nil {
		return nil, err
	}
	pathAttrs, err := optionalAttributes(body, ":path-attributes")
	if err != nil {
		return nil, err
	}
	return &PullLevel{Variables: vs, Plan: p, PullAttributes: pullAttrs, PathAttributes: pathAttrs}, nil
}

func decodePull(body edn.Node) (Plan, error) {
	pathsNode, err := body.Require(":paths")
	if err != nil {
		return nil, err
	}
	items, err := pathsNode.Items()
	if err != nil {
		return nil, err
	}
	paths := make([]*PullLevel, 0, len(items))
	for _, item := range items {
		tag, levelBody, err := item.Variant()
		if err != nil {
			return nil, err
		}
		if tag != ":pull-level" {
			return nil, item.Errorf("pull paths must be :pull-level, got %s", tag)
		}
		p, err := decodePullLevel(levelBody)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p.(*PullLevel))
	}
	return &Pull{Paths: paths}, nil
}
