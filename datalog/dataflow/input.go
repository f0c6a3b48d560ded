package dataflow

import (
	"fmt"
	"sort"

	"github.com/wbrown/janus-dataflow/datalog"
)

// Poller produces updates for a source collection. Poll is called once at
// the start of every epoch; updates stamped later than the epoch are held
// back until their epoch runs, earlier ones are advanced to it.
type Poller interface {
	Poll(epoch uint64) (Batch, error)
}

// PollerFunc adapts a function to the Poller interface
type PollerFunc func(epoch uint64) (Batch, error)

// Poll calls f
func (f PollerFunc) Poll(epoch uint64) (Batch, error) {
	return f(epoch)
}

// inputOp is a root-scope operator fed from outside the graph
type inputOp struct {
	node
	queue  Batch
	poller Poller
}

func (op *inputOp) run(epoch uint64) error {
	return nil
}

func (op *inputOp) reset() {}

// release emits queued updates with time at or before epoch, stamped
// with the epoch
func (op *inputOp) release(epoch uint64) error {
	if op.poller != nil {
		b, err := op.poller.Poll(epoch)
		if err != nil {
			return fmt.Errorf("source %s: %w", op.name, err)
		}
		op.queue = append(op.queue, b...)
	}
	if len(op.queue) == 0 {
		return nil
	}
	sort.SliceStable(op.queue, func(i, j int) bool { return op.queue[i].Time < op.queue[j].Time })
	n := sort.Search(len(op.queue), func(i int) bool { return op.queue[i].Time > epoch })
	ready := make(Batch, n)
	for i, u := range op.queue[:n] {
		ready[i] = Update{Tuple: u.Tuple, Time: epoch, Diff: u.Diff}
	}
	op.queue = append(Batch(nil), op.queue[n:]...)
	op.out.emit(Consolidate(ready))
	return nil
}

func (s *Scope) newInputOp(name string, poller Poller) *inputOp {
	root := s.df.root
	op := &inputOp{
		node:   node{name: name, scope: root},
		poller: poller,
	}
	op.out = newCollection(root, op)
	s.df.register(op, root)
	s.df.inputs = append(s.df.inputs, op)
	return op
}

// Input pushes updates into a dataflow from outside
type Input struct {
	op *inputOp
}

// NewInput creates an input and its collection. The input always lives
// in the root scope; the returned collection is entered into s.
func (s *Scope) NewInput(name string) (*Input, *Collection) {
	op := s.newInputOp(name, nil)
	return &Input{op: op}, op.out.EnterAt(s)
}

// Send queues one update. It is released when epoch time runs; if that
// epoch is already complete it is released at the next one.
func (in *Input) Send(t datalog.Tuple, time uint64, diff int64) {
	in.op.queue = append(in.op.queue, Update{Tuple: t, Time: time, Diff: diff})
}

// SendBatch queues a batch of updates
func (in *Input) SendBatch(b Batch) {
	in.op.queue = append(in.op.queue, b...)
}

// Pending returns the number of queued updates
func (in *Input) Pending() int {
	return len(in.op.queue)
}

// NewSource creates a collection fed by a poller. Like inputs, sources
// live in the root scope and are entered into s.
func (s *Scope) NewSource(name string, p Poller) *Collection {
	op := s.newInputOp(name, p)
	return op.out.EnterAt(s)
}
