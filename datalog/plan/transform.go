package plan

import (
	"fmt"

	"github.com/wbrown/janus-dataflow/datalog"
)

// DefaultInterval is the TRUNCATE interval used when none is given
const DefaultInterval = "hour"

// intervals maps TRUNCATE interval names to milliseconds
var intervals = map[string]int64{
	"minute": 60 * 1000,
	"hour":   60 * 60 * 1000,
	"day":    24 * 60 * 60 * 1000,
	"week":   7 * 24 * 60 * 60 * 1000,
}

// CheckInterval reports whether name is a TRUNCATE interval
func CheckInterval(name string) error {
	if _, ok := intervals[name]; !ok {
		return invalid("transform", "unknown interval %q", name)
	}
	return nil
}

// arity returns the number of function arguments: one per variable plus
// one per constant
func (n *Transform) arity() int {
	return len(n.Variables) + len(n.Constants)
}

// checkArguments validates the argument layout of a transform
func checkArguments(n *Transform) error {
	arity := n.arity()
	for pos, v := range n.Constants {
		if pos < 0 || pos >= arity {
			return invalid("transform", "constant position %d outside of %d arguments", pos, arity)
		}
		if v == nil {
			return invalid("transform", "nil constant at position %d", pos)
		}
	}
	switch n.Function {
	case TRUNCATE:
		if arity < 1 || arity > 2 {
			return invalid("transform", "TRUNCATE takes an instant and an optional interval, got %d arguments", arity)
		}
		if _, ok := n.Constants[0]; ok {
			return invalid("transform", "TRUNCATE needs a variable instant")
		}
		if v, ok := n.Constants[1]; ok {
			if _, err := intervalOf(v); err != nil {
				return invalid("transform", "%v", err)
			}
		}
	case ADD, SUBTRACT:
		if arity < 1 {
			return invalid("transform", "%s takes at least one argument", n.Function)
		}
		for pos, v := range n.Constants {
			if !isNumber(v) {
				return invalid("transform", "constant %s at position %d is not a number", datalog.FormatValue(v), pos)
			}
		}
	default:
		return invalid("transform", "unknown function %q", n.Function)
	}
	return nil
}

func (c *compiler) transform(n *Transform) (Relation, error) {
	rel, err := c.implement(n.Plan)
	if err != nil {
		return nil, err
	}
	varPos, _, _, err := splitSymbols(rel.Symbols(), n.Variables)
	if err != nil {
		return nil, err
	}

	// Argument slots: constants where given, variable offsets in order
	// everywhere else.
	arity := n.arity()
	slots := make([]int, arity)
	next := 0
	for i := range slots {
		if _, ok := n.Constants[i]; ok {
			slots[i] = -1
			continue
		}
		slots[i] = varPos[next]
		next++
	}

	fn, constants, interval := n.Function, n.Constants, c.interval
	tuples := rel.Tuples().TryMap(func(t datalog.Tuple) (datalog.Tuple, error) {
		args := make([]datalog.Value, arity)
		for i, p := range slots {
			if p < 0 {
				args[i] = constants[i]
			} else {
				args[i] = t[p]
			}
		}
		result, err := apply(fn, args, interval)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", t, err)
		}
		return datalog.ConcatTuples(t, datalog.Tuple{result}), nil
	})

	symbols := append(append([]datalog.Var{}, rel.Symbols()...), n.ResultSym)
	return NewRelation(symbols, tuples), nil
}

// apply evaluates a transform function
func apply(fn Function, args []datalog.Value, defaultInterval string) (datalog.Value, error) {
	switch fn {
	case TRUNCATE:
		t, ok := args[0].(datalog.Instant)
		if !ok {
			return nil, fmt.Errorf("TRUNCATE of non-instant %s", datalog.FormatValue(args[0]))
		}
		width := intervals[defaultInterval]
		if len(args) > 1 {
			w, err := intervalOf(args[1])
			if err != nil {
				return nil, err
			}
			width = w
		}
		return datalog.Instant(truncate(int64(t), width)), nil

	case ADD:
		return arithmetic(args, false)
	case SUBTRACT:
		return arithmetic(args, true)
	}
	return nil, fmt.Errorf("unknown function %q", fn)
}

// truncate rounds ms down to a multiple of width, also for instants
// before the epoch
func truncate(ms, width int64) int64 {
	r := ms % width
	if r < 0 {
		r += width
	}
	return ms - r
}

// intervalOf accepts an interval as a string or keyword
func intervalOf(v datalog.Value) (int64, error) {
	var name string
	switch v := v.(type) {
	case string:
		name = v
	case datalog.Attribute:
		name = string(v)
		if len(name) > 0 && name[0] == ':' {
			name = name[1:]
		}
	default:
		return 0, fmt.Errorf("interval %s is not a string", datalog.FormatValue(v))
	}
	width, ok := intervals[name]
	if !ok {
		return 0, fmt.Errorf("unknown interval %q", name)
	}
	return width, nil
}

func isNumber(v datalog.Value) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

// arithmetic adds the arguments, or subtracts the rest from the first.
// The result is an int64 unless an argument is a float64.
func arithmetic(args []datalog.Value, subtract bool) (datalog.Value, error) {
	var (
		isum     int64
		fsum     float64
		floating bool
	)
	for i, a := range args {
		sign := int64(1)
		if subtract && i > 0 {
			sign = -1
		}
		switch a := a.(type) {
		case int64:
			isum += sign * a
			fsum += float64(sign * a)
		case float64:
			floating = true
			fsum += float64(sign) * a
		default:
			return nil, fmt.Errorf("argument %s is not a number", datalog.FormatValue(a))
		}
	}
	if floating {
		return fsum, nil
	}
	return isum, nil
}
