package dataflow

import (
	"sync"

	"github.com/wbrown/janus-dataflow/datalog"
)

// Capture records the output of a root-scope collection. Updates are
// consolidated per epoch and handed to subscribers once the epoch is
// complete.
type Capture struct {
	mu       sync.Mutex
	op       *captureOp
	history  Batch
	state    *ZSet
	handlers []func(epoch uint64, b Batch)
}

type captureOp struct {
	node
	capture *Capture
	buffer  Batch
}

// Capture attaches a sink to a root-scope collection
func (c *Collection) Capture() *Capture {
	if c.scope.parent != nil {
		panic("dataflow: capture requires a root-scope collection; leave nested scopes first")
	}
	capt := &Capture{state: NewZSet()}
	op := &captureOp{
		node:    node{name: "capture", scope: c.scope, inbox: make([]Batch, 1)},
		capture: capt,
	}
	capt.op = op
	c.scope.df.register(op, c.scope)
	c.subscribe(op, 0)
	c.scope.df.sinks = append(c.scope.df.sinks, op)
	return capt
}

func (op *captureOp) run(epoch uint64) error {
	op.buffer = append(op.buffer, op.take(0)...)
	return nil
}

func (op *captureOp) reset() {
	op.buffer = nil
}

// deliver consolidates the epoch's buffer and returns the number of
// updates handed out
func (op *captureOp) deliver(epoch uint64) int {
	b := Consolidate(op.buffer)
	op.buffer = nil
	if len(b) == 0 {
		return 0
	}
	c := op.capture
	c.mu.Lock()
	c.history = append(c.history, b...)
	c.state.AddBatch(b)
	handlers := append([]func(uint64, Batch){}, c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(epoch, b)
	}
	return len(b)
}

// Subscribe registers fn to receive each epoch's consolidated output
func (c *Capture) Subscribe(fn func(epoch uint64, b Batch)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Updates returns every update delivered so far in epoch order
func (c *Capture) Updates() Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(Batch(nil), c.history...)
}

// State returns the integrated contents ordered by tuple
func (c *Capture) State() []Weighted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Sorted()
}

// Tuples returns the integrated contents as tuples, repeating each by its
// multiplicity. Tuples with negative multiplicity are omitted.
func (c *Capture) Tuples() []datalog.Tuple {
	var out []datalog.Tuple
	for _, w := range c.State() {
		for i := int64(0); i < w.Diff; i++ {
			out = append(out, w.Tuple)
		}
	}
	return out
}
