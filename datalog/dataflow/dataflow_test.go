package dataflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-dataflow/datalog"
)

func tup(vals ...interface{}) datalog.Tuple {
	t := make(datalog.Tuple, len(vals))
	for i, v := range vals {
		if n, ok := v.(int); ok {
			t[i] = int64(n)
		} else {
			t[i] = v
		}
	}
	return t
}

func weighted(pairs ...interface{}) []Weighted {
	var out []Weighted
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, Weighted{Tuple: pairs[i].(datalog.Tuple), Diff: int64(pairs[i+1].(int))})
	}
	return out
}

func TestConsolidate(t *testing.T) {
	b := Batch{
		{Tuple: tup(2), Time: 1, Diff: 1},
		{Tuple: tup(1), Time: 1, Diff: 1},
		{Tuple: tup(2), Time: 1, Diff: -1},
		{Tuple: tup(1), Time: 0, Diff: 3},
		{Tuple: tup(1), Time: 1, Diff: 1},
	}
	assert.Equal(t, Batch{
		{Tuple: tup(1), Time: 0, Diff: 3},
		{Tuple: tup(1), Time: 1, Diff: 2},
	}, Consolidate(b))
	assert.Nil(t, Consolidate(nil))
}

func TestZSet(t *testing.T) {
	z := NewZSet()
	before, after := z.Add(tup("a"), 2)
	assert.Equal(t, int64(0), before)
	assert.Equal(t, int64(2), after)
	z.Add(tup("b"), -1)
	assert.Equal(t, 2, z.Len())

	before, after = z.Add(tup("a"), -2)
	assert.Equal(t, int64(2), before)
	assert.Equal(t, int64(0), after)
	assert.Equal(t, 1, z.Len())
	assert.Equal(t, int64(0), z.Get(tup("a")))
	assert.Equal(t, weighted(tup("b"), -1), z.Sorted())

	c := z.Clone()
	c.Add(tup("b"), 1)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1, z.Len(), "clone is independent")
}

func TestMapFilterNegateConcat(t *testing.T) {
	df := New("test")
	in, coll := df.Root().NewInput("numbers")

	doubled := coll.Map(func(t datalog.Tuple) datalog.Tuple {
		return tup(int(t[0].(int64) * 2))
	})
	even := coll.Filter(func(t datalog.Tuple) bool { return t[0].(int64)%2 == 0 })
	both := doubled.Concat(even.Negate())
	capt := both.Capture()

	in.Send(tup(1), 0, 1)
	in.Send(tup(2), 0, 1)
	require.NoError(t, df.Step(0))

	// 1 -> 2, 2 -> 4, and -2 from the negated filter cancels the 2
	assert.Equal(t, weighted(tup(4), 1), capt.State())
}

func TestInputHoldsFutureUpdates(t *testing.T) {
	df := New("test")
	in, coll := df.Root().NewInput("in")
	capt := coll.Capture()

	in.Send(tup("later"), 2, 1)
	in.Send(tup("now"), 0, 1)

	require.NoError(t, df.Step(0))
	assert.Equal(t, Batch{{Tuple: tup("now"), Time: 0, Diff: 1}}, capt.Updates())
	assert.Equal(t, 1, in.Pending())

	require.NoError(t, df.StepUntil(3))
	assert.Equal(t, uint64(3), df.Epoch())
	assert.Equal(t, Batch{
		{Tuple: tup("now"), Time: 0, Diff: 1},
		{Tuple: tup("later"), Time: 2, Diff: 1},
	}, capt.Updates())

	// an update for a completed epoch is released at the next one
	in.Send(tup("late"), 1, 1)
	require.NoError(t, df.Step(3))
	updates := capt.Updates()
	assert.Equal(t, Update{Tuple: tup("late"), Time: 3, Diff: 1}, updates[len(updates)-1])

	assert.Error(t, df.Step(1))
}

func TestJoinIsIncremental(t *testing.T) {
	df := New("join")
	leftIn, left := df.Root().NewInput("left")
	rightIn, right := df.Root().NewInput("right")

	joined := left.Arrange(1).JoinCore(right.Arrange(1), func(key, l, r datalog.Tuple) datalog.Tuple {
		return datalog.ConcatTuples(key, l, r)
	})
	capt := joined.Capture()

	leftIn.Send(tup(1, "a"), 0, 1)
	leftIn.Send(tup(2, "b"), 0, 1)
	rightIn.Send(tup(1, "x"), 0, 1)
	require.NoError(t, df.Step(0))
	assert.Equal(t, weighted(tup(1, "a", "x"), 1), capt.State())

	// both sides change in the same epoch
	leftIn.Send(tup(1, "c"), 1, 2)
	rightIn.Send(tup(1, "y"), 1, 1)
	rightIn.Send(tup(2, "z"), 1, 1)
	require.NoError(t, df.Step(1))
	assert.Equal(t, weighted(
		tup(1, "a", "x"), 1,
		tup(1, "a", "y"), 1,
		tup(1, "c", "x"), 2,
		tup(1, "c", "y"), 2,
		tup(2, "b", "z"), 1,
	), capt.State())

	// retractions
	leftIn.Send(tup(1, "c"), 2, -2)
	rightIn.Send(tup(1, "x"), 2, -1)
	require.NoError(t, df.Step(2))
	assert.Equal(t, weighted(
		tup(1, "a", "y"), 1,
		tup(2, "b", "z"), 1,
	), capt.State())
}

func TestSelfJoin(t *testing.T) {
	df := New("self")
	in, coll := df.Root().NewInput("edges")
	arr := coll.Arrange(1)
	capt := arr.JoinCore(arr, func(key, l, r datalog.Tuple) datalog.Tuple {
		return datalog.ConcatTuples(l, r)
	}).Capture()

	in.Send(tup(1, "a"), 0, 1)
	require.NoError(t, df.Step(0))
	in.Send(tup(1, "b"), 1, 1)
	require.NoError(t, df.Step(1))

	assert.Equal(t, weighted(
		tup("a", "a"), 1,
		tup("a", "b"), 1,
		tup("b", "a"), 1,
		tup("b", "b"), 1,
	), capt.State())
}

func TestDistinct(t *testing.T) {
	df := New("distinct")
	in, coll := df.Root().NewInput("in")
	capt := coll.Distinct().Capture()

	in.Send(tup("a"), 0, 3)
	in.Send(tup("b"), 0, 1)
	require.NoError(t, df.Step(0))
	assert.Equal(t, weighted(tup("a"), 1, tup("b"), 1), capt.State())

	in.Send(tup("a"), 1, -2)
	in.Send(tup("b"), 1, -1)
	require.NoError(t, df.Step(1))
	assert.Equal(t, weighted(tup("a"), 1), capt.State())
	assert.Equal(t, Update{Tuple: tup("b"), Time: 1, Diff: -1}, capt.Updates()[2])
}

func TestReduce(t *testing.T) {
	df := New("reduce")
	in, coll := df.Root().NewInput("in")
	sum := coll.Reduce(1, func(key datalog.Tuple, vals []Weighted) []Weighted {
		var total int64
		for _, w := range vals {
			total += w.Tuple[0].(int64) * w.Diff
		}
		return []Weighted{{Tuple: datalog.Tuple{total}, Diff: 1}}
	})
	capt := sum.Capture()

	in.Send(tup("x", 1), 0, 1)
	in.Send(tup("x", 2), 0, 2)
	in.Send(tup("y", 5), 0, 1)
	require.NoError(t, df.Step(0))
	assert.Equal(t, weighted(tup("x", 5), 1, tup("y", 5), 1), capt.State())

	in.Send(tup("y", 5), 1, -1)
	in.Send(tup("x", 3), 1, 1)
	require.NoError(t, df.Step(1))
	assert.Equal(t, weighted(tup("x", 8), 1), capt.State())
}

// closure builds reach(x, y) :- edge(x, y) | reach(x, z), edge(z, y)
func closure(df *Dataflow, edges *Collection) *Collection {
	scope := df.Root().Nested("closure")
	inner := edges.Enter(scope)
	reach := scope.NewVariable("reach")

	byDst := reach.Collection().Map(func(t datalog.Tuple) datalog.Tuple {
		return datalog.Tuple{t[1], t[0]}
	}).Arrange(1)
	bySrc := inner.Arrange(1)
	step := byDst.JoinCore(bySrc, func(key, l, r datalog.Tuple) datalog.Tuple {
		return datalog.Tuple{l[0], r[0]}
	})

	def := inner.Concat(step).Distinct()
	if err := reach.Set(def); err != nil {
		panic(err)
	}
	return def.Leave()
}

func TestVariableFixpoint(t *testing.T) {
	df := New("reach")
	in, edges := df.Root().NewInput("edges")
	capt := closure(df, edges).Capture()

	in.Send(tup(1, 2), 0, 1)
	in.Send(tup(2, 3), 0, 1)
	in.Send(tup(3, 4), 0, 1)
	require.NoError(t, df.Step(0))
	assert.Equal(t, weighted(
		tup(1, 2), 1, tup(1, 3), 1, tup(1, 4), 1,
		tup(2, 3), 1, tup(2, 4), 1,
		tup(3, 4), 1,
	), capt.State())

	// additions are incremental
	in.Send(tup(4, 5), 1, 1)
	require.NoError(t, df.Step(1))
	assert.Len(t, capt.State(), 10)
	assert.Equal(t, 0, df.Root().children[0].Rederivations())
}

func TestVariableRetractionInCycle(t *testing.T) {
	df := New("reach")
	in, edges := df.Root().NewInput("edges")
	capt := closure(df, edges).Capture()

	// a cycle 1 -> 2 -> 1 plus 2 -> 3
	in.Send(tup(1, 2), 0, 1)
	in.Send(tup(2, 1), 0, 1)
	in.Send(tup(2, 3), 0, 1)
	require.NoError(t, df.Step(0))
	assert.Len(t, capt.State(), 6)

	// breaking the cycle must not leave self-supporting facts behind
	in.Send(tup(2, 1), 1, -1)
	require.NoError(t, df.Step(1))
	assert.Equal(t, weighted(
		tup(1, 2), 1, tup(1, 3), 1, tup(2, 3), 1,
	), capt.State())
	assert.Equal(t, 1, df.Root().children[0].Rederivations())

	// every update of the second epoch is a retraction
	for _, u := range capt.Updates() {
		if u.Time == 1 {
			assert.Equal(t, int64(-1), u.Diff, "%v", u.Tuple)
		}
	}
}

func TestNoFixpoint(t *testing.T) {
	df := New("counter", WithMaxIterations(5))
	in, seed := df.Root().NewInput("seed")
	scope := df.Root().Nested("loop")
	v := scope.NewVariable("n")
	next := v.Collection().Map(func(t datalog.Tuple) datalog.Tuple {
		return datalog.Tuple{t[0].(int64) + 1}
	})
	require.NoError(t, v.Set(seed.Enter(scope).Concat(next)))
	assert.Error(t, v.Set(next))
	v.Collection().Leave().Capture()

	in.Send(tup(0), 0, 1)
	err := df.Step(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoFixpoint))
	assert.Equal(t, err, df.Err())
	assert.Equal(t, err, df.Step(1), "a failed dataflow stays failed")
}

func TestMutualRecursionRounds(t *testing.T) {
	// a -> b -> c -> a, each step adding one up to 11: twelve variable
	// changes but only four rounds
	df := New("cycle", WithMaxIterations(5))
	in, seed := df.Root().NewInput("seed")
	scope := df.Root().Nested("cycle")
	vars := []*Variable{scope.NewVariable("a"), scope.NewVariable("b"), scope.NewVariable("c")}
	step := func(v *Variable) *Collection {
		return v.Collection().
			Map(func(t datalog.Tuple) datalog.Tuple { return datalog.Tuple{t[0].(int64) + 1} }).
			Filter(func(t datalog.Tuple) bool { return t[0].(int64) <= 11 })
	}
	require.NoError(t, vars[0].Set(seed.Enter(scope).Concat(step(vars[2]))))
	require.NoError(t, vars[1].Set(step(vars[0])))
	require.NoError(t, vars[2].Set(step(vars[1])))
	var outs []*Capture
	for _, v := range vars {
		outs = append(outs, v.Collection().Leave().Capture())
	}

	in.Send(tup(0), 0, 1)
	require.NoError(t, df.Step(0))
	assert.Equal(t, []datalog.Tuple{tup(0), tup(3), tup(6), tup(9)}, outs[0].Tuples())
	assert.Equal(t, []datalog.Tuple{tup(1), tup(4), tup(7), tup(10)}, outs[1].Tuples())
	assert.Equal(t, []datalog.Tuple{tup(2), tup(5), tup(8), tup(11)}, outs[2].Tuples())
}

func TestTraceImport(t *testing.T) {
	tr := NewTrace(":age")
	tr.Apply(Batch{
		{Tuple: tup(datalog.Eid(1), 30), Time: 0, Diff: 1},
		{Tuple: tup(datalog.Eid(2), 40), Time: 0, Diff: 1},
	})
	assert.Equal(t, 2, tr.Len())

	df := New("import", WithStartEpoch(1))
	capt := tr.ImportInto(df.Root()).Capture()
	assert.Equal(t, 1, tr.Importers())

	require.NoError(t, df.Step(1))
	assert.Equal(t, Batch{
		{Tuple: tup(datalog.Eid(1), 30), Time: 1, Diff: 1},
		{Tuple: tup(datalog.Eid(2), 40), Time: 1, Diff: 1},
	}, capt.Updates())

	tr.Apply(Batch{{Tuple: tup(datalog.Eid(1), 30), Time: 2, Diff: -1}})
	assert.Equal(t, 1, tr.Len())
	require.NoError(t, df.Step(2))
	assert.Equal(t, weighted(tup(datalog.Eid(2), 40), 1), capt.State())

	df.Close()
	assert.Equal(t, 0, tr.Importers())
	assert.Equal(t, weighted(tup(datalog.Eid(2), 40), 1), tr.Snapshot())
}

func TestNestedScopePassThrough(t *testing.T) {
	df := New("nested")
	in, coll := df.Root().NewInput("in")
	outer := df.Root().Nested("outer")
	inner := outer.Nested("inner")

	entered := coll.EnterAt(inner)
	assert.Equal(t, inner, entered.Scope())
	assert.Equal(t, "nested/outer/inner", inner.Path())
	capt := entered.Map(func(t datalog.Tuple) datalog.Tuple {
		return datalog.Tuple{t[0], "seen"}
	}).Leave().Leave().Capture()

	in.Send(tup(1), 0, 1)
	require.NoError(t, df.Step(0))
	assert.Equal(t, weighted(tup(1, "seen"), 1), capt.State())

	assert.Panics(t, func() { coll.Leave() })
	assert.Panics(t, func() { entered.Capture() })
}

func TestSourcePolling(t *testing.T) {
	df := New("source")
	polls := 0
	coll := df.Root().NewSource("counter", PollerFunc(func(epoch uint64) (Batch, error) {
		polls++
		if epoch == 0 {
			return Batch{{Tuple: tup("first")}, {Tuple: tup("second"), Time: 1, Diff: 1}}, nil
		}
		return nil, nil
	}))
	capt := coll.Capture()

	require.NoError(t, df.StepUntil(2))
	assert.Equal(t, 2, polls)
	// zero diffs never survive consolidation
	assert.Equal(t, Batch{{Tuple: tup("second"), Time: 1, Diff: 1}}, capt.Updates())

	failing := New("failing")
	failing.Root().NewSource("broken", PollerFunc(func(uint64) (Batch, error) {
		return nil, errors.New("disk on fire")
	}))
	assert.ErrorContains(t, failing.Step(0), "disk on fire")
}

func TestCaptureSubscribe(t *testing.T) {
	df := New("subscribe")
	in, coll := df.Root().NewInput("in")
	capt := coll.Capture()

	var epochs []uint64
	capt.Subscribe(func(epoch uint64, b Batch) {
		epochs = append(epochs, epoch)
	})

	in.Send(tup("a"), 0, 2)
	require.NoError(t, df.Step(0))
	require.NoError(t, df.Step(1)) // nothing changes, nothing delivered
	in.Send(tup("a"), 2, -1)
	require.NoError(t, df.Step(2))

	assert.Equal(t, []uint64{0, 2}, epochs)
	assert.Equal(t, []datalog.Tuple{tup("a")}, capt.Tuples())
}
