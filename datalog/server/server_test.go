package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/annotations"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
	"github.com/wbrown/janus-dataflow/datalog/plan"
)

func newServer(t *testing.T, attrs ...datalog.Attribute) *Server {
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	for _, a := range attrs {
		require.NoError(t, s.CreateInput(a))
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func transact(t *testing.T, s *Server, edn string) {
	data, err := ParseTxData(edn)
	require.NoError(t, err)
	require.NoError(t, s.Transact(Transact{TxData: data}))
}

func register(t *testing.T, s *Server, edn string, publish ...string) *Query {
	rules, err := ParseRules(edn)
	require.NoError(t, err)
	q, err := s.Register(Register{Rules: rules, Publish: publish})
	require.NoError(t, err)
	return q
}

func output(t *testing.T, q *Query, name string) *dataflow.Capture {
	out, err := q.Output(name)
	require.NoError(t, err)
	return out.Capture
}

func eid(e uint64) datalog.Eid { return datalog.Eid(e) }

func TestTruncateTimestamps(t *testing.T) {
	s := newServer(t, ":timestamp")
	q := register(t, s, `[{:name "hours"
	                       :plan {:transform {:variables [?t]
	                                          :result ?h
	                                          :function :truncate
	                                          :plan {:match-a [?e :timestamp ?t]}}}}]`)

	transact(t, s, `[[:db/add 1 :timestamp #inst "2018-10-20T15:15:15.500Z"]
	                 [:db/add 2 :timestamp #inst 1540048515616]]`)
	require.NoError(t, s.StepWhileOutdated(context.Background()))

	out, err := q.Output("hours")
	require.NoError(t, err)
	assert.Equal(t, []datalog.Var{"?e", "?t", "?h"}, out.Symbols)
	assert.Equal(t, dataflow.Batch{
		{Tuple: datalog.Tuple{eid(1), datalog.Instant(1540048515500), datalog.Instant(1540047600000)}, Time: 0, Diff: 1},
		{Tuple: datalog.Tuple{eid(2), datalog.Instant(1540048515616), datalog.Instant(1540047600000)}, Time: 0, Diff: 1},
	}, out.Capture.Updates())
}

func TestDefaultIntervalFromConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("default_interval: day\n"))
	require.NoError(t, err)
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateInput(":timestamp"))

	q := register(t, s, `[{:name "days"
	                       :plan {:transform {:variables [?t] :result ?d :function :truncate
	                                          :plan {:match-a [?e :timestamp ?t]}}}}]`)
	transact(t, s, `[[:db/add 1 :timestamp #inst 1540048515500]]`)
	require.NoError(t, s.StepWhileOutdated(context.Background()))

	assert.Equal(t, []datalog.Tuple{
		{eid(1), datalog.Instant(1540048515500), datalog.Instant(1539993600000)},
	}, output(t, q, "days").Tuples())
}

func TestRulesInDependencyOrder(t *testing.T) {
	s := newServer(t, ":name", ":age")
	// "adults" is listed before the rule it depends on
	q := register(t, s, `[{:name "adults"
	                       :plan {:project {:variables [?n]
	                                        :plan {:join {:variables [?e]
	                                                      :left {:rule-expr {:name "grown" :variables [?e]}}
	                                                      :right {:match-a [?e :name ?n]}}}}}}
	                      {:name "grown"
	                       :plan {:project {:variables [?e] :plan {:match-a [?e :age ?a]}}}}]`,
		"adults")

	transact(t, s, `[[:db/add 1 :name "Alice"] [:db/add 1 :age 30]
	                 [:db/add 2 :name "Bob"]]`)
	require.NoError(t, s.StepWhileOutdated(context.Background()))
	assert.Equal(t, []datalog.Tuple{{"Alice"}}, output(t, q, "adults").Tuples())

	_, err := q.Output("grown")
	assert.Error(t, err)
	assert.Len(t, q.Outputs(), 1)
}

const ancestorRules = `[{:name "ancestor"
  :plan {:union {:variables [?a ?d]
                 :plans [{:match-a [?a :parent ?d]}
                         {:project {:variables [?a ?d]
                                    :plan {:join {:variables [?m]
                                                  :left {:rule-expr {:name "ancestor" :variables [?a ?m]}}
                                                  :right {:match-a [?m :parent ?d]}}}}}]}}}]`

func TestRecursiveRule(t *testing.T) {
	s := newServer(t, ":parent")
	transact(t, s, `[[:db/add 1 :parent #eid 2] [:db/add 2 :parent #eid 3]]`)

	// registered after the facts, the query starts from the current state
	q := register(t, s, ancestorRules)
	require.True(t, s.IsAnyOutdated())
	require.NoError(t, s.StepWhileOutdated(context.Background()))
	assert.False(t, s.IsAnyOutdated())

	ancestors := output(t, q, "ancestor")
	assert.ElementsMatch(t, []datalog.Tuple{
		{eid(1), eid(2)}, {eid(2), eid(3)}, {eid(1), eid(3)},
	}, ancestors.Tuples())

	transact(t, s, `[[:db/add 3 :parent #eid 4]]`)
	require.NoError(t, s.StepWhileOutdated(context.Background()))
	assert.Len(t, ancestors.Tuples(), 6)

	transact(t, s, `[[:db/retract 2 :parent #eid 3]]`)
	require.NoError(t, s.StepWhileOutdated(context.Background()))
	assert.ElementsMatch(t, []datalog.Tuple{
		{eid(1), eid(2)}, {eid(3), eid(4)},
	}, ancestors.Tuples())
}

func TestMutuallyRecursiveRules(t *testing.T) {
	s := newServer(t, ":root", ":next")
	// entities at even and odd distance from the root along :next
	q := register(t, s, `[{:name "even"
	                       :plan {:union {:variables [?x]
	                                      :plans [{:match-av [?x :root true]}
	                                              {:project {:variables [?x]
	                                                         :plan {:join {:variables [?p]
	                                                                       :left {:rule-expr {:name "odd" :variables [?p]}}
	                                                                       :right {:match-a [?p :next ?x]}}}}}]}}}
	                      {:name "odd"
	                       :plan {:project {:variables [?x]
	                                        :plan {:join {:variables [?p]
	                                                      :left {:rule-expr {:name "even" :variables [?p]}}
	                                                      :right {:match-a [?p :next ?x]}}}}}}]`)

	transact(t, s, `[[:db/add 0 :root true]
	                 [:db/add 0 :next #eid 1] [:db/add 1 :next #eid 2] [:db/add 2 :next #eid 3]]`)
	require.NoError(t, s.StepWhileOutdated(context.Background()))

	assert.ElementsMatch(t, []datalog.Tuple{{eid(0)}, {eid(2)}}, output(t, q, "even").Tuples())
	assert.ElementsMatch(t, []datalog.Tuple{{eid(1)}, {eid(3)}}, output(t, q, "odd").Tuples())
}

func TestRegisterErrors(t *testing.T) {
	s := newServer(t, ":name")
	tests := []struct {
		name    string
		rules   string
		publish []string
		kind    plan.ErrorKind
	}{
		{"unknown attribute", `[{:name "r" :plan {:match-a [?e :age ?a]}}]`, nil, plan.UnknownAttribute},
		{"unknown rule", `[{:name "r" :plan {:rule-expr {:name "missing" :variables [?x]}}}]`, nil, plan.UnknownRule},
		{"unknown publish", `[{:name "r" :plan {:match-a [?e :name ?n]}}]`, []string{"other"}, plan.UnknownRule},
		{"arity", `[{:name "r" :plan {:match-a [?e :name ?n]}}
		            {:name "s" :plan {:rule-expr {:name "r" :variables [?e]}}}]`, nil, plan.ArityMismatch},
		{"recursive arity", `[{:name "r" :plan {:union {:variables [?e ?n]
		                                               :plans [{:match-a [?e :name ?n]}
		                                                       {:rule-expr {:name "r" :variables [?e ?n ?x]}}]}}}]`, nil, plan.ArityMismatch},
		{"unbound", `[{:name "r" :plan {:project {:variables [?x] :plan {:match-a [?e :name ?n]}}}}]`, nil, plan.UnboundSymbol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := ParseRules(tt.rules)
			require.NoError(t, err)
			_, err = s.Register(Register{Rules: rules, Publish: tt.publish})
			var pe *plan.PlanError
			require.True(t, errors.As(err, &pe), "%v", err)
			assert.Equal(t, tt.kind, pe.Kind, "%v", err)
		})
	}

	_, err := s.Register(Register{})
	assert.Error(t, err)
	rules, err := ParseRules(`[{:name "r" :plan {:match-a [?e :name ?n]}} {:name "r" :plan {:match-a [?e :name ?n]}}]`)
	require.NoError(t, err)
	_, err = s.Register(Register{Rules: rules})
	assert.ErrorContains(t, err, "defined twice")

	assert.Empty(t, s.queries)
	assert.Equal(t, 0, s.global[":name"].Importers())
}

func TestTransactErrors(t *testing.T) {
	s := newServer(t, ":name")
	q := register(t, s, `[{:name "names" :plan {:match-a [?e :name ?n]}}]`)

	err := s.Transact(Transact{TxData: []datalog.TxData{
		datalog.Assert(1, ":name", "Alice"),
		datalog.Assert(1, ":email", "alice@example.com"),
	}})
	assert.ErrorIs(t, err, ErrUnknownAttribute)
	assert.Equal(t, uint64(0), s.Epoch())
	assert.Equal(t, 0, s.global[":name"].Len())

	tx := uint64(5)
	require.NoError(t, s.Transact(Transact{Tx: &tx, TxData: []datalog.TxData{datalog.Assert(1, ":name", "Alice")}}))
	assert.Equal(t, uint64(6), s.Epoch())

	stale := uint64(3)
	err = s.Transact(Transact{Tx: &stale})
	assert.ErrorIs(t, err, ErrStaleTransaction)

	assert.ErrorIs(t, s.CreateInput(":name"), ErrInputExists)

	require.NoError(t, s.StepWhileOutdated(context.Background()))
	assert.Equal(t, uint64(6), q.Epoch())
	assert.Equal(t, dataflow.Batch{
		{Tuple: datalog.Tuple{eid(1), "Alice"}, Time: 5, Diff: 1},
	}, output(t, q, "names").Updates())
}

func TestStepFailureIsIsolated(t *testing.T) {
	s := newServer(t, ":n")
	sums := register(t, s, `[{:name "plus" :plan {:transform {:variables [?n] :result ?m :function :add
	                                                         :constants {1 1}
	                                                         :plan {:match-a [?e :n ?n]}}}}]`)
	values := register(t, s, `[{:name "values" :plan {:match-a [?e :n ?n]}}]`)

	transact(t, s, `[[:db/add 1 :n "one"]]`)
	err := s.Step(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, sums.ID.String())
	assert.Error(t, sums.Err())
	assert.NoError(t, values.Err())

	transact(t, s, `[[:db/add 2 :n 2]]`)
	require.NoError(t, s.StepWhileOutdated(context.Background()))
	assert.Len(t, output(t, values, "values").Tuples(), 2)
	assert.Equal(t, uint64(0), sums.Epoch())
}

func TestShortSourceTupleFailsStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.edn")
	require.NoError(t, os.WriteFile(path, []byte("1 :age 30\n2 :age\n"), 0o644))

	s := newServer(t, ":n")
	sourced := register(t, s, fmt.Sprintf(`[{:name "same"
	  :plan {:filter {:variables [?v ?v] :predicate :eq
	                  :plan {:sourced {:symbols [?e ?a ?v]
	                                   :source {:plain-file {:path %q}}}}}}}]`, path))
	values := register(t, s, `[{:name "values" :plan {:match-a [?e :n ?n]}}]`)

	transact(t, s, `[[:db/add 1 :n 1]]`)
	var err error
	require.NotPanics(t, func() { err = s.Step(context.Background()) })
	require.Error(t, err)
	assert.ErrorIs(t, err, plan.ErrSourceArity)
	assert.ErrorIs(t, sourced.Err(), plan.ErrSourceArity)
	assert.NoError(t, values.Err())
	assert.Len(t, output(t, values, "values").Tuples(), 1)
	assert.False(t, s.IsAnyOutdated())
}

func TestQueryStatusWhileStepping(t *testing.T) {
	s := newServer(t, ":name")
	q := register(t, s, `[{:name "names" :plan {:match-a [?e :name ?n]}}]`)

	// subscribers run on worker goroutines and may read the status
	var seen []uint64
	require.NoError(t, q.Subscribe("names", func(uint64, dataflow.Batch) {
		assert.NoError(t, q.Err())
		seen = append(seen, q.Epoch())
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = q.Epoch()
			_ = q.Err()
		}
	}()
	for i := 0; i < 5; i++ {
		transact(t, s, fmt.Sprintf(`[[:db/add %d :name "n%d"]]`, i+1, i))
		require.NoError(t, s.StepWhileOutdated(context.Background()))
	}
	<-done

	assert.Equal(t, uint64(5), q.Epoch())
	assert.Len(t, seen, 5)
}

func TestSubscribeAndUnregister(t *testing.T) {
	s := newServer(t, ":name")
	q, err := s.TestSingle(plan.Rule{
		Name: "names",
		Plan: &plan.MatchA{E: "?e", A: ":name", V: "?n"},
	})
	require.NoError(t, err)

	var seen []uint64
	require.NoError(t, q.Subscribe("names", func(epoch uint64, b dataflow.Batch) {
		seen = append(seen, epoch)
	}))
	assert.Error(t, q.Subscribe("other", func(uint64, dataflow.Batch) {}))

	transact(t, s, `[[:db/add 1 :name "Alice"]]`)
	transact(t, s, `[]`)
	transact(t, s, `[[:db/retract 1 :name "Alice"]]`)
	require.NoError(t, s.StepWhileOutdated(context.Background()))
	assert.Equal(t, []uint64{0, 2}, seen)

	require.NoError(t, s.Unregister(q.ID))
	assert.ErrorIs(t, s.Unregister(q.ID), ErrUnknownQuery)
	assert.Equal(t, 0, s.global[":name"].Importers())
}

func TestStepCancelled(t *testing.T) {
	s := newServer(t, ":name")
	q := register(t, s, `[{:name "names" :plan {:match-a [?e :name ?n]}}]`)
	transact(t, s, `[[:db/add 1 :name "Alice"]]`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Step(ctx), context.Canceled)
	assert.NoError(t, q.Err())
	assert.True(t, s.IsAnyOutdated())
}

func TestMetricsAndEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	var events []string
	collector := annotations.NewCollector(func(e annotations.Event) {
		events = append(events, e.Name)
	})
	s, err := New(DefaultConfig(), WithMetrics(metrics), WithCollector(collector))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateInput(":name"))
	register(t, s, `[{:name "names" :plan {:match-a [?e :name ?n]}}]`)
	_, err = s.Register(Register{Rules: []plan.Rule{{Name: "bad", Plan: &plan.MatchA{E: "?e", A: ":x", V: "?v"}}}})
	require.Error(t, err)

	transact(t, s, `[[:db/add 1 :name "Alice"] [:db/add 2 :name "Bob"]]`)
	require.NoError(t, s.StepWhileOutdated(context.Background()))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DatomsIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Transactions))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Registrations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Registrations.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Queries))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Steps.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.OutputUpdates))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Epoch))

	assert.Contains(t, events, annotations.InputCreated)
	assert.Contains(t, events, annotations.PlanValidated)
	assert.Contains(t, events, annotations.QueryRegistered)
	assert.Contains(t, events, annotations.ErrorPlan)
	assert.Contains(t, events, annotations.Transacted)
	assert.Contains(t, events, annotations.DataflowStepped)
}

func TestParseTxData(t *testing.T) {
	data, err := ParseTxData(`[[:db/add 1 :person/name "Alice"]
	                           [:db/retract 1 :person/age 41]
	                           [2 #eid 3 :person/friend #eid 1]]`)
	require.NoError(t, err)
	assert.Equal(t, []datalog.TxData{
		datalog.Assert(1, ":person/name", "Alice"),
		datalog.Retract(1, ":person/age", int64(41)),
		{Op: 2, E: 3, A: ":person/friend", V: eid(1)},
	}, data)

	for _, input := range []string{
		`[[:db/add 1 :name]]`,
		`[[:db/cas 1 :name "x"]]`,
		`[["add" 1 :name "x"]]`,
		`[[:db/add -1 :name "x"]]`,
		`[[:db/add 1 name "x"]]`,
		`{:db/add 1}`,
	} {
		_, err := ParseTxData(input)
		assert.Error(t, err, input)
	}
}
