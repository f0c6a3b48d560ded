// Package dataflow is a small incremental dataflow runtime. Collections
// carry batches of (tuple, time, diff) updates; operators keep whatever
// state they need so that every epoch only processes changes.
package dataflow

import (
	"sort"

	"github.com/wbrown/janus-dataflow/datalog"
)

// Update is a signed change to the multiplicity of a tuple at a time
type Update struct {
	Tuple datalog.Tuple
	Time  uint64
	Diff  int64
}

// Batch is an unordered list of updates
type Batch []Update

// Consolidate merges updates with equal tuple and time, drops those whose
// diffs cancel, and sorts the rest by time then tuple.
func Consolidate(b Batch) Batch {
	if len(b) == 0 {
		return nil
	}
	type slot struct {
		time uint64
		set  *ZSet
	}
	var slots []slot
	for _, u := range b {
		i := sort.Search(len(slots), func(i int) bool { return slots[i].time >= u.Time })
		if i == len(slots) || slots[i].time != u.Time {
			slots = append(slots, slot{})
			copy(slots[i+1:], slots[i:])
			slots[i] = slot{time: u.Time, set: NewZSet()}
		}
		slots[i].set.Add(u.Tuple, u.Diff)
	}

	var out Batch
	for _, s := range slots {
		for _, w := range s.set.Sorted() {
			out = append(out, Update{Tuple: w.Tuple, Time: s.time, Diff: w.Diff})
		}
	}
	return out
}

// Weighted is a tuple with a multiplicity
type Weighted struct {
	Tuple datalog.Tuple
	Diff  int64
}

// ZSet is a multiset with signed multiplicities. Tuples whose
// multiplicity reaches zero are removed.
type ZSet struct {
	buckets map[uint64][]Weighted
	size    int
}

// NewZSet creates an empty Z-set
func NewZSet() *ZSet {
	return &ZSet{buckets: make(map[uint64][]Weighted)}
}

// Add changes the multiplicity of t by diff and returns the old and new
// multiplicities
func (z *ZSet) Add(t datalog.Tuple, diff int64) (before, after int64) {
	h := datalog.HashTuple(t)
	chain := z.buckets[h]
	for i := range chain {
		if datalog.TuplesEqual(chain[i].Tuple, t) {
			before = chain[i].Diff
			after = before + diff
			if after == 0 {
				chain[i] = chain[len(chain)-1]
				chain = chain[:len(chain)-1]
				z.size--
				if len(chain) == 0 {
					delete(z.buckets, h)
				} else {
					z.buckets[h] = chain
				}
			} else {
				chain[i].Diff = after
			}
			return before, after
		}
	}
	if diff == 0 {
		return 0, 0
	}
	z.buckets[h] = append(chain, Weighted{Tuple: t, Diff: diff})
	z.size++
	return 0, diff
}

// Get returns the multiplicity of t
func (z *ZSet) Get(t datalog.Tuple) int64 {
	for _, w := range z.buckets[datalog.HashTuple(t)] {
		if datalog.TuplesEqual(w.Tuple, t) {
			return w.Diff
		}
	}
	return 0
}

// Len returns the number of distinct tuples with non-zero multiplicity
func (z *ZSet) Len() int {
	return z.size
}

// Each calls fn for every tuple in unspecified order
func (z *ZSet) Each(fn func(t datalog.Tuple, diff int64)) {
	for _, chain := range z.buckets {
		for _, w := range chain {
			fn(w.Tuple, w.Diff)
		}
	}
}

// Sorted returns the contents ordered by tuple
func (z *ZSet) Sorted() []Weighted {
	out := make([]Weighted, 0, z.size)
	for _, chain := range z.buckets {
		out = append(out, chain...)
	}
	sort.Slice(out, func(i, j int) bool {
		return datalog.CompareTuples(out[i].Tuple, out[j].Tuple) < 0
	})
	return out
}

// Clone returns an independent copy
func (z *ZSet) Clone() *ZSet {
	c := NewZSet()
	for h, chain := range z.buckets {
		c.buckets[h] = append([]Weighted(nil), chain...)
	}
	c.size = z.size
	return c
}

// AddBatch folds every update of b into the set, ignoring times
func (z *ZSet) AddBatch(b Batch) {
	for _, u := range b {
		z.Add(u.Tuple, u.Diff)
	}
}
