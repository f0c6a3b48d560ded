package dataflow

import (
	"container/heap"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wbrown/janus-dataflow/datalog/annotations"
)

// DefaultMaxIterations bounds the number of fixpoint rounds a recursive
// scope may take within one epoch
const DefaultMaxIterations = 10000

// ErrNoFixpoint is returned by Step when recursive definitions keep
// changing past the iteration limit
var ErrNoFixpoint = errors.New("recursive definitions did not reach a fixpoint")

// operator is a node of the dataflow graph
type operator interface {
	base() *node
	// run consumes the operator's inbox for the given epoch
	run(epoch uint64) error
	// reset drops all accumulated state; called when the owning scope
	// is re-derived
	reset()
}

// node holds what every operator shares: its identity, scope, input
// ports and output collection
type node struct {
	id    int
	name  string
	scope *Scope
	inbox []Batch
	out   *Collection
}

func (n *node) base() *node { return n }

// take returns and clears the pending input of a port
func (n *node) take(port int) Batch {
	b := n.inbox[port]
	n.inbox[port] = nil
	return b
}

func (n *node) clearInbox() {
	for i := range n.inbox {
		n.inbox[i] = nil
	}
}

// Dataflow is a single-threaded incremental computation. Operators are
// scheduled lowest id first; since operators are created after their
// inputs, that is a topological order except along variable feedback
// edges, which is what drives fixpoint iteration.
type Dataflow struct {
	name string
	root *Scope

	ops    []operator
	queued []bool
	work   idHeap

	inputs  []*inputOp
	sinks   []*captureOp
	scopes  []*Scope
	imports []*Trace

	epoch         uint64
	rounds        int
	maxIterations int
	collector     *annotations.Collector
	failed        error
}

// Option configures a Dataflow
type Option func(*Dataflow)

// WithMaxIterations sets the per-epoch fixpoint round limit
func WithMaxIterations(n int) Option {
	return func(df *Dataflow) {
		if n > 0 {
			df.maxIterations = n
		}
	}
}

// WithCollector records step and operator events
func WithCollector(c *annotations.Collector) Option {
	return func(df *Dataflow) {
		df.collector = c
	}
}

// WithStartEpoch makes the first epoch run by Step be start
func WithStartEpoch(start uint64) Option {
	return func(df *Dataflow) {
		df.epoch = start
	}
}

// New creates an empty dataflow
func New(name string, opts ...Option) *Dataflow {
	df := &Dataflow{
		name:          name,
		maxIterations: DefaultMaxIterations,
	}
	df.root = &Scope{df: df, name: name}
	for _, opt := range opts {
		opt(df)
	}
	return df
}

// Name returns the dataflow name
func (df *Dataflow) Name() string {
	return df.name
}

// Root returns the outermost scope
func (df *Dataflow) Root() *Scope {
	return df.root
}

// Epoch returns the next epoch Step will run. All epochs before it are
// complete and their output has been delivered.
func (df *Dataflow) Epoch() uint64 {
	return df.epoch
}

// Operators returns the number of operators in the graph
func (df *Dataflow) Operators() int {
	return len(df.ops)
}

// Err returns the error that stopped the dataflow, if any
func (df *Dataflow) Err() error {
	return df.failed
}

// register assigns the next id to an operator and adds it to its scope
func (df *Dataflow) register(op operator, owner *Scope) {
	n := op.base()
	n.id = len(df.ops)
	df.ops = append(df.ops, op)
	df.queued = append(df.queued, false)
	if owner != nil {
		owner.ops = append(owner.ops, op)
	}
}

// schedule marks an operator as having pending input
func (df *Dataflow) schedule(op operator) {
	id := op.base().id
	if df.queued[id] {
		return
	}
	df.queued[id] = true
	heap.Push(&df.work, id)
}

// Step runs one epoch to completion: inputs and sources release their
// updates for the epoch, operators run until no work remains, recursive
// scopes settle, and sinks receive the consolidated output.
func (df *Dataflow) Step(epoch uint64) error {
	if df.failed != nil {
		return df.failed
	}
	if epoch < df.epoch {
		return fmt.Errorf("dataflow %s: epoch %d already completed (next is %d)", df.name, epoch, df.epoch)
	}
	start := time.Now()

	for _, in := range df.inputs {
		if err := in.release(epoch); err != nil {
			return df.fail(err)
		}
	}

	df.rounds = 0
	for _, s := range df.scopes {
		s.rounds, s.ran = 0, nil
	}
	ran := 0
	for {
		for df.work.Len() > 0 {
			id := heap.Pop(&df.work).(int)
			df.queued[id] = false
			if err := df.ops[id].run(epoch); err != nil {
				return df.fail(err)
			}
			ran++
			if df.rounds > df.maxIterations {
				return df.fail(fmt.Errorf("dataflow %s epoch %d: %w after %d rounds", df.name, epoch, ErrNoFixpoint, df.rounds))
			}
		}

		progressed := false
		for _, s := range df.scopes {
			if s.settle(epoch) {
				progressed = true
			}
		}
		if !progressed && df.work.Len() == 0 {
			break
		}
	}

	delivered := 0
	for _, sink := range df.sinks {
		delivered += sink.deliver(epoch)
	}
	df.epoch = epoch + 1

	if df.collector != nil {
		df.collector.AddTiming(annotations.DataflowStepped, start, map[string]interface{}{
			"dataflow":  df.name,
			"epoch":     epoch,
			"operators": ran,
			"rounds":    df.rounds,
			"updates":   delivered,
		})
	}
	return nil
}

// StepUntil runs every epoch from Epoch() up to but excluding until
func (df *Dataflow) StepUntil(until uint64) error {
	for df.epoch < until {
		if err := df.Step(df.epoch); err != nil {
			return err
		}
	}
	return nil
}

// Close detaches the dataflow from every trace it imports and closes
// sources whose pollers hold resources
func (df *Dataflow) Close() error {
	for _, tr := range df.imports {
		tr.detach(df)
	}
	df.imports = nil

	var first error
	for _, in := range df.inputs {
		if c, ok := in.poller.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = fmt.Errorf("source %s: %w", in.name, err)
			}
		}
		in.poller = nil
	}
	return first
}

func (df *Dataflow) fail(err error) error {
	df.failed = err
	return err
}

// idHeap is a min-heap of operator ids
type idHeap []int

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *idHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
