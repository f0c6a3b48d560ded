package dataflow

import (
	"sync"

	"github.com/google/btree"

	"github.com/wbrown/janus-dataflow/datalog"
)

// Trace is a consolidated collection shared between dataflows. It is
// written from outside any dataflow with Apply and read by importing it
// into a scope: the importer first receives the trace's current contents
// and then every batch applied afterwards.
type Trace struct {
	mu        sync.Mutex
	name      string
	state     *btree.BTree
	size      int
	importers []*traceImport
}

type traceEntry struct {
	tuple datalog.Tuple
	diff  int64
}

func (e *traceEntry) Less(than btree.Item) bool {
	return datalog.CompareTuples(e.tuple, than.(*traceEntry).tuple) < 0
}

type traceImport struct {
	df *Dataflow
	in *Input
}

// NewTrace creates an empty trace
func NewTrace(name string) *Trace {
	return &Trace{name: name, state: btree.New(btreeDegree)}
}

// Name returns the trace name
func (tr *Trace) Name() string {
	return tr.name
}

// Apply integrates a batch and forwards it to every importer
func (tr *Trace) Apply(b Batch) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, u := range b {
		tr.add(u.Tuple, u.Diff)
	}
	for _, imp := range tr.importers {
		imp.in.SendBatch(b)
	}
}

func (tr *Trace) add(t datalog.Tuple, diff int64) {
	if diff == 0 {
		return
	}
	item := tr.state.Get(&traceEntry{tuple: t})
	if item == nil {
		tr.state.ReplaceOrInsert(&traceEntry{tuple: t, diff: diff})
		tr.size++
		return
	}
	e := item.(*traceEntry)
	e.diff += diff
	if e.diff == 0 {
		tr.state.Delete(e)
		tr.size--
	}
}

// Len returns the number of distinct tuples in the trace
func (tr *Trace) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.size
}

// Snapshot returns the current contents ordered by tuple
func (tr *Trace) Snapshot() []Weighted {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.snapshot()
}

func (tr *Trace) snapshot() []Weighted {
	out := make([]Weighted, 0, tr.size)
	tr.state.Ascend(func(i btree.Item) bool {
		e := i.(*traceEntry)
		out = append(out, Weighted{Tuple: e.tuple, Diff: e.diff})
		return true
	})
	return out
}

// ImportInto makes the trace available in a scope. The current contents
// are stamped with the dataflow's next epoch.
func (tr *Trace) ImportInto(s *Scope) *Collection {
	in, coll := s.NewInput("import " + tr.name)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	epoch := s.df.epoch
	for _, w := range tr.snapshot() {
		in.Send(w.Tuple, epoch, w.Diff)
	}
	tr.importers = append(tr.importers, &traceImport{df: s.df, in: in})
	s.df.imports = append(s.df.imports, tr)
	return coll
}

// Importers returns the number of live imports
func (tr *Trace) Importers() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.importers)
}

func (tr *Trace) detach(df *Dataflow) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	kept := tr.importers[:0]
	for _, imp := range tr.importers {
		if imp.df != df {
			kept = append(kept, imp)
		}
	}
	for i := len(kept); i < len(tr.importers); i++ {
		tr.importers[i] = nil
	}
	tr.importers = kept
}
