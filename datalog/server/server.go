// Package server maintains a set of registered queries over shared,
// incrementally updated attribute indexes. Transactions are applied to
// the global arrangements; every registered query is a dataflow that is
// stepped epoch by epoch until it has caught up with the inputs.
package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/annotations"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
	"github.com/wbrown/janus-dataflow/datalog/plan"
)

var (
	// ErrUnknownAttribute is returned when a transaction names an
	// attribute without an input
	ErrUnknownAttribute = errors.New("unknown attribute")
	// ErrInputExists is returned when an input is created twice
	ErrInputExists = errors.New("input already exists")
	// ErrUnknownQuery is returned for ids that are not registered
	ErrUnknownQuery = errors.New("unknown query")
	// ErrStaleTransaction is returned for transactions stamped before
	// the current epoch
	ErrStaleTransaction = errors.New("transaction time precedes the current epoch")
)

// Server owns the global arrangements and the registered queries
type Server struct {
	cfg       Config
	logger    log.Logger
	metrics   *Metrics
	collector *annotations.Collector
	pool      *WorkerPool

	mu      sync.Mutex
	epoch   uint64 // next epoch transactions are stamped with
	global  plan.GlobalArrangements
	queries map[uuid.UUID]*Query
	order   []uuid.UUID
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger; it is filtered to the configured level
func WithLogger(logger log.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records server metrics
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithCollector records registration, ingestion and step events
func WithCollector(c *annotations.Collector) Option {
	return func(s *Server) {
		s.collector = c
	}
}

// New creates a server without inputs or queries
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = dataflow.DefaultMaxIterations
	}
	if cfg.DefaultInterval == "" {
		cfg.DefaultInterval = plan.DefaultInterval
	}

	s := &Server{
		cfg:     cfg,
		logger:  log.NewNopLogger(),
		pool:    NewWorkerPool(cfg.Workers),
		global:  plan.GlobalArrangements{},
		queries: map[uuid.UUID]*Query{},
	}
	for _, opt := range opts {
		opt(s)
	}
	logger, err := cfg.NewLogger(s.logger)
	if err != nil {
		return nil, err
	}
	s.logger = log.With(logger, "component", "server")
	return s, nil
}

// Epoch returns the epoch the next transaction is stamped with
func (s *Server) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// CreateInput creates the global arrangement of an attribute
func (s *Server) CreateInput(a datalog.Attribute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.global[a]; ok {
		return fmt.Errorf("create input %s: %w", a, ErrInputExists)
	}
	s.global[a] = dataflow.NewTrace(string(a))

	level.Debug(s.logger).Log("msg", "created input", "attribute", a)
	s.collector.Add(annotations.Event{
		Name:  annotations.InputCreated,
		Start: time.Now(),
		Data:  map[string]interface{}{"attribute": string(a)},
	})
	return nil
}

// Transact is a batch of operations applied at one epoch. A nil Tx
// stamps the batch with the current epoch.
type Transact struct {
	Tx     *uint64
	TxData []datalog.TxData
}

// Transact applies a transaction to the global arrangements and advances
// the inputs past its epoch. Nothing is applied if an operation names an
// unknown attribute.
func (s *Server) Transact(t Transact) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	epoch := s.epoch
	if t.Tx != nil {
		if *t.Tx < s.epoch {
			return fmt.Errorf("transact at %d (epoch is %d): %w", *t.Tx, s.epoch, ErrStaleTransaction)
		}
		epoch = *t.Tx
	}

	batches := map[datalog.Attribute]dataflow.Batch{}
	for _, d := range t.TxData {
		if _, ok := s.global[d.A]; !ok {
			return fmt.Errorf("transact %s: %w", d.A, ErrUnknownAttribute)
		}
		if d.Op == 0 {
			continue
		}
		batches[d.A] = append(batches[d.A], dataflow.Update{
			Tuple: datalog.Tuple{d.E, d.V},
			Time:  epoch,
			Diff:  d.Op,
		})
	}

	attrs := make([]datalog.Attribute, 0, len(batches))
	for a := range batches {
		attrs = append(attrs, a)
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i] < attrs[j] })
	for _, a := range attrs {
		s.global[a].Apply(batches[a])
	}
	s.epoch = epoch + 1

	level.Debug(s.logger).Log("msg", "transacted", "epoch", epoch, "datoms", len(t.TxData))
	if s.metrics != nil {
		s.metrics.Transactions.Inc()
		s.metrics.DatomsIngested.Add(float64(len(t.TxData)))
		s.metrics.Epoch.Set(float64(s.epoch))
	}
	s.collector.AddTiming(annotations.Transacted, start, map[string]interface{}{
		"tx":         epoch,
		"datoms":     len(t.TxData),
		"attributes": len(attrs),
	})
	return nil
}

// Register is a set of rules compiled into one query. Publish names the
// rules whose results are exposed; when empty every rule is published.
type Register struct {
	Rules   []plan.Rule
	Publish []string
}

// Register compiles rules into a new query. Rules may refer to each
// other and to themselves; mutually recursive rules are evaluated to a
// fixpoint with set semantics. The query starts with the current
// contents of the global arrangements.
func (s *Server) Register(req Register) (*Query, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.register(req)
	if err != nil {
		level.Warn(s.logger).Log("msg", "registration rejected", "err", err)
		if s.metrics != nil {
			s.metrics.Registrations.WithLabelValues("rejected").Inc()
		}
		s.collector.AddTiming(annotations.ErrorPlan, start, map[string]interface{}{
			"error": err.Error(),
			"rules": len(req.Rules),
		})
		return nil, err
	}

	s.queries[q.ID] = q
	s.order = append(s.order, q.ID)

	level.Info(s.logger).Log("msg", "registered query", "query", q.ID, "rules", len(req.Rules), "publish", len(q.outputs))
	if s.metrics != nil {
		s.metrics.Registrations.WithLabelValues("ok").Inc()
		s.metrics.Queries.Set(float64(len(s.queries)))
	}
	s.collector.AddTiming(annotations.QueryRegistered, start, map[string]interface{}{
		"query":     q.ID.String(),
		"rules":     len(req.Rules),
		"operators": q.df.Operators(),
	})
	return q, nil
}

// TestSingle registers a single rule and publishes it
func (s *Server) TestSingle(rule plan.Rule) (*Query, error) {
	return s.Register(Register{Rules: []plan.Rule{rule}, Publish: []string{rule.Name}})
}

func (s *Server) register(req Register) (*Query, error) {
	if len(req.Rules) == 0 {
		return nil, fmt.Errorf("register: no rules")
	}
	strata, err := stratify(req.Rules)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	publish := req.Publish
	if len(publish) == 0 {
		for _, r := range req.Rules {
			publish = append(publish, r.Name)
		}
	}
	defined := map[string]bool{}
	for _, r := range req.Rules {
		defined[r.Name] = true
	}
	for _, name := range publish {
		if !defined[name] {
			return nil, &plan.PlanError{Kind: plan.UnknownRule, Node: "publish", Rule: name}
		}
	}

	shapes, err := s.validate(strata)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	start := uint64(0)
	if s.epoch > 0 {
		start = s.epoch - 1
	}
	df := dataflow.New("query-"+id.String(),
		dataflow.WithMaxIterations(s.cfg.MaxIterations),
		dataflow.WithCollector(s.collector),
		dataflow.WithStartEpoch(start),
	)

	local, err := s.implement(df, strata, shapes)
	if err != nil {
		df.Close()
		return nil, err
	}

	q := &Query{ID: id, df: df, outputs: map[string]*Output{}}
	q.epoch.Store(df.Epoch())
	for _, name := range publish {
		if _, ok := q.outputs[name]; ok {
			continue
		}
		rel := local[name]
		out := &Output{
			Name:    name,
			Symbols: rel.Symbols(),
			Capture: rel.Tuples().Leave().Capture(),
		}
		if s.metrics != nil {
			counter := s.metrics.OutputUpdates
			out.Capture.Subscribe(func(_ uint64, b dataflow.Batch) {
				counter.Add(float64(len(b)))
			})
		}
		q.outputs[name] = out
		q.publish = append(q.publish, name)
	}
	return q, nil
}

// validate checks every rule before anything is built. Rules of a
// recursive stratum are first checked without arities, then again with
// the arities that check produced.
func (s *Server) validate(strata []stratum) (map[string]plan.Shape, error) {
	schema := plan.Schema{HasAttribute: s.global.Has, Rules: map[string]plan.RuleShape{}}
	shapes := map[string]plan.Shape{}

	check := func(r plan.Rule) error {
		start := time.Now()
		shape, err := plan.Validate(r.Plan, schema)
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
		shapes[r.Name] = shape
		s.collector.AddTiming(annotations.PlanValidated, start, map[string]interface{}{
			"plan":    r.Plan.String(),
			"symbols": symbolStrings(shape.Symbols),
		})
		return nil
	}
	define := func(r plan.Rule) {
		shape := shapes[r.Name]
		schema.Rules[r.Name] = plan.RuleShape{Arity: len(shape.Symbols), Ragged: shape.Ragged}
	}

	for _, st := range strata {
		if !st.recursive {
			r := st.rules[0]
			if err := check(r); err != nil {
				return nil, err
			}
			define(r)
			continue
		}
		for _, r := range st.rules {
			schema.Rules[r.Name] = plan.RuleShape{Arity: -1}
		}
		for _, r := range st.rules {
			if err := check(r); err != nil {
				return nil, err
			}
		}
		for _, r := range st.rules {
			define(r)
		}
		for _, r := range st.rules {
			if err := check(r); err != nil {
				return nil, err
			}
		}
	}
	return shapes, nil
}

// implement builds every stratum in one nested scope. Recursive rules
// are variables defined by the distinct tuples of their plans.
func (s *Server) implement(df *dataflow.Dataflow, strata []stratum, shapes map[string]plan.Shape) (plan.LocalArrangements, error) {
	scope := df.Root().Nested("rules")
	local := plan.LocalArrangements{}
	opts := []plan.Option{plan.WithDefaultInterval(s.cfg.DefaultInterval)}
	implemented := func(name string, rel plan.Relation, start time.Time) {
		s.collector.AddTiming(annotations.PlanImplemented, start, map[string]interface{}{
			"name":      name,
			"symbols":   symbolStrings(rel.Symbols()),
			"operators": df.Operators(),
		})
	}

	for _, st := range strata {
		if !st.recursive {
			r := st.rules[0]
			start := time.Now()
			rel, err := plan.Implement(r.Plan, scope, local, s.global, opts...)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.Name, err)
			}
			local[r.Name] = rel
			implemented(r.Name, rel, start)
			continue
		}

		vars := make([]*dataflow.Variable, len(st.rules))
		for i, r := range st.rules {
			vars[i] = scope.NewVariable(r.Name)
			local[r.Name] = plan.NewRelation(shapes[r.Name].Symbols, vars[i].Collection())
		}
		for i, r := range st.rules {
			start := time.Now()
			rel, err := plan.Implement(r.Plan, scope, local, s.global, opts...)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.Name, err)
			}
			if err := vars[i].Set(rel.Tuples().Distinct()); err != nil {
				return nil, fmt.Errorf("rule %s: %w", r.Name, err)
			}
			implemented(r.Name, rel, start)
		}
	}
	return local, nil
}

func symbolStrings(syms []datalog.Var) []string {
	out := make([]string, len(syms))
	for i, v := range syms {
		out[i] = string(v)
	}
	return out
}

// Unregister removes a query and releases its dataflow
func (s *Server) Unregister(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unregister(id)
}

func (s *Server) unregister(id uuid.UUID) error {
	q, ok := s.queries[id]
	if !ok {
		return fmt.Errorf("unregister %s: %w", id, ErrUnknownQuery)
	}
	delete(s.queries, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	err := q.df.Close()

	level.Info(s.logger).Log("msg", "unregistered query", "query", id)
	if s.metrics != nil {
		s.metrics.Queries.Set(float64(len(s.queries)))
	}
	s.collector.Add(annotations.Event{
		Name:  annotations.QueryUnregistered,
		Start: time.Now(),
		Data:  map[string]interface{}{"query": id.String()},
	})
	return err
}

// Close unregisters every query
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for len(s.order) > 0 {
		if err := s.unregister(s.order[0]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// outdated returns the healthy queries whose dataflows lag behind the
// inputs, in registration order
func (s *Server) outdated() []*Query {
	var out []*Query
	for _, id := range s.order {
		q := s.queries[id]
		if q.Err() == nil && q.df.Epoch() < s.epoch {
			out = append(out, q)
		}
	}
	return out
}

// IsAnyOutdated reports whether a query has epochs left to step
func (s *Server) IsAnyOutdated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outdated()) > 0
}

// Step advances every outdated query by one epoch, in parallel. A query
// whose step fails is marked failed and is not stepped again; the
// others continue. Subscribers are called from the worker goroutines
// and must not call back into the server.
func (s *Server) Step(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queries := s.outdated()
	errs := s.pool.Execute(ctx, len(queries), func(ctx context.Context, i int) error {
		return queries[i].step()
	})

	var failed []error
	for i, err := range errs {
		q := queries[i]
		if err == nil {
			if s.metrics != nil {
				s.metrics.Steps.WithLabelValues("ok").Inc()
			}
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		q.fail(err)
		level.Error(s.logger).Log("msg", "query failed", "query", q.ID, "epoch", q.df.Epoch(), "err", err)
		if s.metrics != nil {
			s.metrics.Steps.WithLabelValues("failed").Inc()
		}
		s.collector.Add(annotations.Event{
			Name:  annotations.ErrorStep,
			Start: time.Now(),
			Data:  map[string]interface{}{"query": q.ID.String(), "error": err.Error()},
		})
		failed = append(failed, fmt.Errorf("query %s: %w", q.ID, err))
	}
	return errors.Join(failed...)
}

// StepWhileOutdated steps until every healthy query has caught up
func (s *Server) StepWhileOutdated(ctx context.Context) error {
	for s.IsAnyOutdated() {
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Query is a registered set of rules. Epoch and Err may be called from
// any goroutine, subscribers included.
type Query struct {
	ID      uuid.UUID
	df      *dataflow.Dataflow
	outputs map[string]*Output
	publish []string

	epoch  atomic.Uint64
	mu     sync.Mutex
	failed error
}

// Output is a published rule: its symbols and the updates of its result
type Output struct {
	Name    string
	Symbols []datalog.Var
	Capture *dataflow.Capture
}

func (q *Query) step() error {
	err := q.df.Step(q.df.Epoch())
	q.epoch.Store(q.df.Epoch())
	return err
}

func (q *Query) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = err
}

// Epoch returns the next epoch the query will run
func (q *Query) Epoch() uint64 {
	return q.epoch.Load()
}

// Err returns the error that stopped the query, if any
func (q *Query) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed
}

// Outputs returns the published rules in publication order
func (q *Query) Outputs() []*Output {
	out := make([]*Output, len(q.publish))
	for i, name := range q.publish {
		out[i] = q.outputs[name]
	}
	return out
}

// Output returns a published rule
func (q *Query) Output(name string) (*Output, error) {
	out, ok := q.outputs[name]
	if !ok {
		return nil, &plan.PlanError{Kind: plan.UnknownRule, Node: "output", Rule: name}
	}
	return out, nil
}

// Subscribe calls fn with the consolidated updates of a published rule
// after every epoch that changes it
func (q *Query) Subscribe(name string, fn func(epoch uint64, b dataflow.Batch)) error {
	out, err := q.Output(name)
	if err != nil {
		return err
	}
	out.Capture.Subscribe(fn)
	return nil
}
