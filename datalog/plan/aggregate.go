package plan

import (
	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
)

// aggregate groups by all but the last variable. The rows are a
// multiset: a value bound by several rows is counted once per row.
func (c *compiler) aggregate(n *Aggregate) (Relation, error) {
	rel, err := c.implement(n.Plan)
	if err != nil {
		return nil, err
	}
	keyed, err := rel.TuplesBySymbols(n.Variables)
	if err != nil {
		return nil, err
	}
	fn := aggregator(n.Function)
	tuples := keyed.Keys().Reduce(len(n.Variables)-1, func(_ datalog.Tuple, vals []dataflow.Weighted) []dataflow.Weighted {
		return []dataflow.Weighted{{Tuple: datalog.Tuple{fn(vals)}, Diff: 1}}
	})
	return NewRelation(n.Variables, tuples), nil
}

func aggregator(fn AggregationFn) func([]dataflow.Weighted) datalog.Value {
	switch fn {
	case MIN:
		return func(vals []dataflow.Weighted) datalog.Value {
			min := vals[0].Tuple[0]
			for _, w := range vals[1:] {
				if datalog.CompareValues(w.Tuple[0], min) < 0 {
					min = w.Tuple[0]
				}
			}
			return min
		}
	case MAX:
		return func(vals []dataflow.Weighted) datalog.Value {
			max := vals[0].Tuple[0]
			for _, w := range vals[1:] {
				if datalog.CompareValues(w.Tuple[0], max) > 0 {
					max = w.Tuple[0]
				}
			}
			return max
		}
	case COUNT:
		return func(vals []dataflow.Weighted) datalog.Value {
			var n int64
			for _, w := range vals {
				n += w.Diff
			}
			return n
		}
	default:
		return sum
	}
}

// sum adds the numeric values weighted by multiplicity. Values of other
// kinds do not contribute.
func sum(vals []dataflow.Weighted) datalog.Value {
	var (
		isum     int64
		fsum     float64
		floating bool
	)
	for _, w := range vals {
		switch v := w.Tuple[0].(type) {
		case int64:
			isum += v * w.Diff
			fsum += float64(v * w.Diff)
		case float64:
			floating = true
			fsum += v * float64(w.Diff)
		}
	}
	if floating {
		return fsum
	}
	return isum
}
