package server

import (
	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/edn"
	"github.com/wbrown/janus-dataflow/datalog/plan"
)

// ParseRules reads a vector of {:name "…" :plan {…}} rules
func ParseRules(input string) ([]plan.Rule, error) {
	return plan.ParseRules(input)
}

// ParseTxData reads a vector of transaction operations:
//
//	[[:db/add 1 :person/name "Alice"]
//	 [:db/retract 1 :person/age 41]
//	 [-2 1 :person/age 42]]
//
// An integer operation is used as the multiplicity of the fact.
func ParseTxData(input string) ([]datalog.TxData, error) {
	node, err := edn.Parse(input)
	if err != nil {
		return nil, err
	}
	items, err := node.Items()
	if err != nil {
		return nil, err
	}
	out := make([]datalog.TxData, 0, len(items))
	for _, item := range items {
		tx, err := decodeTxData(item)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func decodeTxData(n edn.Node) (datalog.TxData, error) {
	fields, err := n.Items()
	if err != nil {
		return datalog.TxData{}, err
	}
	if len(fields) != 4 {
		return datalog.TxData{}, n.Errorf("operation takes [op e a v], got %s", n)
	}

	var op int64
	switch fields[0].Type {
	case edn.NodeKeyword:
		switch fields[0].Value {
		case ":db/add":
			op = 1
		case ":db/retract":
			op = -1
		default:
			return datalog.TxData{}, fields[0].Errorf("unknown operation %s", fields[0].Value)
		}
	case edn.NodeInt:
		if op, err = fields[0].AsInt(); err != nil {
			return datalog.TxData{}, err
		}
	default:
		return datalog.TxData{}, fields[0].Errorf("expected an operation, got %s", fields[0])
	}

	e, err := edn.ToEid(fields[1])
	if err != nil {
		return datalog.TxData{}, err
	}
	a, err := edn.ToAttribute(fields[2])
	if err != nil {
		return datalog.TxData{}, err
	}
	v, err := edn.ToValue(fields[3])
	if err != nil {
		return datalog.TxData{}, err
	}
	return datalog.TxData{Op: op, E: e, A: a, V: v}, nil
}
