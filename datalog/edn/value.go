package edn

import (
	"time"

	"github.com/google/uuid"

	"github.com/wbrown/janus-dataflow/datalog"
)

// ToValue converts a scalar node to a datalog value:
//
//	42 → int64, 1.5 → float64, "s" → string, true → bool, nil → nil
//	:a/b → Attribute
//	#eid 7 → Eid
//	#inst "2018-10-20T15:15:15.500Z" or #inst 1540048515500 → Instant
//	#uuid "…" → uuid.UUID
//
// Symbols and collections are not values.
func ToValue(n Node) (datalog.Value, error) {
	switch n.Type {
	case NodeNil:
		return nil, nil
	case NodeBool:
		return n.AsBool()
	case NodeInt:
		return n.AsInt()
	case NodeFloat:
		return n.AsFloat()
	case NodeString:
		return n.Value, nil
	case NodeKeyword:
		return datalog.Attribute(n.Value), nil
	case NodeTagged:
		return taggedValue(n)
	}
	return nil, n.Errorf("%s %s is not a value", n.Type, n)
}

func taggedValue(n Node) (datalog.Value, error) {
	inner := *n.Tagged
	switch n.Tag {
	case "eid":
		i, err := inner.AsInt()
		if err != nil {
			return nil, err
		}
		if i < 0 {
			return nil, inner.Errorf("negative entity id %d", i)
		}
		return datalog.Eid(i), nil

	case "inst":
		if inner.Type == NodeInt {
			ms, err := inner.AsInt()
			if err != nil {
				return nil, err
			}
			return datalog.Instant(ms), nil
		}
		s, err := inner.AsString()
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, inner.Errorf("%v", err)
		}
		return datalog.InstantFromTime(t), nil

	case "uuid":
		s, err := inner.AsString()
		if err != nil {
			return nil, err
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, inner.Errorf("%v", err)
		}
		return u, nil
	}
	return nil, n.Errorf("unknown tag #%s", n.Tag)
}

// ToEid converts an entity position: a plain non-negative integer, an
// #eid tagged integer, or a string naming the entity
func ToEid(n Node) (datalog.Eid, error) {
	if n.Type == NodeString {
		return datalog.EidFromString(n.Value), nil
	}
	if n.Type == NodeInt {
		i, err := n.AsInt()
		if err != nil {
			return 0, err
		}
		if i < 0 {
			return 0, n.Errorf("negative entity id %d", i)
		}
		return datalog.Eid(i), nil
	}
	v, err := ToValue(n)
	if err != nil {
		return 0, err
	}
	e, ok := v.(datalog.Eid)
	if !ok {
		return 0, n.Errorf("expected an entity id, got %s", n)
	}
	return e, nil
}

// ToVar converts a logic variable symbol
func ToVar(n Node) (datalog.Var, error) {
	s, err := n.AsSymbol()
	if err != nil {
		return "", err
	}
	if !datalog.IsVar(s) {
		return "", n.Errorf("expected a variable, got %s", s)
	}
	return datalog.Var(s), nil
}

// ToVars converts a sequence of variables
func ToVars(n Node) ([]datalog.Var, error) {
	items, err := n.Items()
	if err != nil {
		return nil, err
	}
	out := make([]datalog.Var, 0, len(items))
	for _, item := range items {
		v, err := ToVar(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ToAttribute converts a keyword naming an attribute
func ToAttribute(n Node) (datalog.Attribute, error) {
	k, err := n.AsKeyword()
	if err != nil {
		return "", err
	}
	return datalog.Attribute(k), nil
}

// ToAttributes converts a sequence of attribute keywords
func ToAttributes(n Node) ([]datalog.Attribute, error) {
	items, err := n.Items()
	if err != nil {
		return nil, err
	}
	out := make([]datalog.Attribute, 0, len(items))
	for _, item := range items {
		a, err := ToAttribute(item)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
