package dataflow

import (
	"fmt"

	"github.com/google/btree"

	"github.com/wbrown/janus-dataflow/datalog"
)

const btreeDegree = 32

// indexEntry is one key of an Index with the multiset of values under it
type indexEntry struct {
	key  datalog.Tuple
	vals *ZSet
}

func (e *indexEntry) Less(than btree.Item) bool {
	return datalog.CompareTuples(e.key, than.(*indexEntry).key) < 0
}

// Index maps keys to Z-sets of values, ordered by key
type Index struct {
	tree *btree.BTree
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{tree: btree.New(btreeDegree)}
}

// Add changes the multiplicity of val under key
func (ix *Index) Add(key, val datalog.Tuple, diff int64) {
	probe := &indexEntry{key: key}
	item := ix.tree.Get(probe)
	var entry *indexEntry
	if item == nil {
		if diff == 0 {
			return
		}
		entry = &indexEntry{key: key, vals: NewZSet()}
		ix.tree.ReplaceOrInsert(entry)
	} else {
		entry = item.(*indexEntry)
	}
	entry.vals.Add(val, diff)
	if entry.vals.Len() == 0 {
		ix.tree.Delete(entry)
	}
}

// Lookup returns the values under key ordered by tuple
func (ix *Index) Lookup(key datalog.Tuple) []Weighted {
	item := ix.tree.Get(&indexEntry{key: key})
	if item == nil {
		return nil
	}
	return item.(*indexEntry).vals.Sorted()
}

// Get returns the value set under key, or nil
func (ix *Index) Get(key datalog.Tuple) *ZSet {
	item := ix.tree.Get(&indexEntry{key: key})
	if item == nil {
		return nil
	}
	return item.(*indexEntry).vals
}

// Len returns the number of keys
func (ix *Index) Len() int {
	return ix.tree.Len()
}

// Ascend visits keys in order until fn returns false
func (ix *Index) Ascend(fn func(key datalog.Tuple, vals *ZSet) bool) {
	ix.tree.Ascend(func(i btree.Item) bool {
		e := i.(*indexEntry)
		return fn(e.key, e.vals)
	})
}

// Clear removes every key
func (ix *Index) Clear() {
	ix.tree.Clear(false)
}

// Arranged is a keyed collection together with an index of its contents.
// Tuples of the collection are key ++ value where the key is the first
// KeyLen positions. An arrangement can be shared by any number of joins
// in its scope.
type Arranged struct {
	op *arrangeOp
}

type arrangeOp struct {
	node
	keyLen int
	index  *Index
}

// Arrange indexes the collection by its first keyLen positions
func (c *Collection) Arrange(keyLen int) *Arranged {
	if keyLen < 0 {
		panic(fmt.Sprintf("dataflow: negative key length %d", keyLen))
	}
	op := &arrangeOp{
		node:   node{name: "arrange", scope: c.scope, inbox: make([]Batch, 1)},
		keyLen: keyLen,
		index:  NewIndex(),
	}
	op.out = newCollection(c.scope, op)
	c.scope.df.register(op, c.scope)
	c.subscribe(op, 0)
	return &Arranged{op: op}
}

func (op *arrangeOp) run(epoch uint64) error {
	b := op.take(0)
	for _, u := range b {
		if len(u.Tuple) < op.keyLen {
			return fmt.Errorf("arrange in %s: tuple %v shorter than key length %d", op.scope.Path(), u.Tuple, op.keyLen)
		}
		op.index.Add(u.Tuple[:op.keyLen], u.Tuple[op.keyLen:], u.Diff)
	}
	op.out.emit(b)
	return nil
}

func (op *arrangeOp) reset() {
	op.index.Clear()
}

// KeyLen returns the number of key positions
func (a *Arranged) KeyLen() int {
	return a.op.keyLen
}

// Scope returns the scope of the arranged collection
func (a *Arranged) Scope() *Scope {
	return a.op.scope
}

// Collection returns the arranged stream as a collection
func (a *Arranged) Collection() *Collection {
	return a.op.out
}

// Index returns the current contents. It reflects every update the
// arrangement has processed so far.
func (a *Arranged) Index() *Index {
	return a.op.index
}

// JoinCore joins two arrangements on equal keys. For every pair of
// matching tuples fn builds the output tuple; the output multiplicity is
// the product of the input multiplicities.
func (a *Arranged) JoinCore(b *Arranged, fn func(key, left, right datalog.Tuple) datalog.Tuple) *Collection {
	if a.op.scope != b.op.scope {
		panic(fmt.Sprintf("dataflow: join across scopes %s and %s", a.op.scope.Path(), b.op.scope.Path()))
	}
	if a.op.keyLen != b.op.keyLen {
		panic(fmt.Sprintf("dataflow: join of key lengths %d and %d", a.op.keyLen, b.op.keyLen))
	}
	op := &joinOp{
		node:  node{name: "join", scope: a.op.scope, inbox: make([]Batch, 2)},
		left:  a,
		right: b,
		fn:    fn,
	}
	op.out = newCollection(a.op.scope, op)
	a.op.scope.df.register(op, a.op.scope)
	a.op.out.subscribe(op, 0)
	b.op.out.subscribe(op, 1)
	return op.out
}

// joinOp reads both sides from shared arrangements. When it runs, each
// arrangement already holds the deltas waiting in the join's inbox, so
// with A and B the current contents the output delta is
// dA*B + A*dB - dA*dB.
type joinOp struct {
	node
	left, right *Arranged
	fn          func(key, left, right datalog.Tuple) datalog.Tuple
}

func (op *joinOp) run(epoch uint64) error {
	dA, dB := op.take(0), op.take(1)
	keyLen := op.left.op.keyLen
	var out Batch

	for _, u := range dA {
		key, lv := u.Tuple[:keyLen], u.Tuple[keyLen:]
		if vals := op.right.op.index.Get(key); vals != nil {
			vals.Each(func(rv datalog.Tuple, rd int64) {
				out = append(out, Update{Tuple: op.fn(key, lv, rv), Time: u.Time, Diff: u.Diff * rd})
			})
		}
	}

	var dBIndex *Index
	if len(dA) > 0 && len(dB) > 0 {
		dBIndex = NewIndex()
	}
	for _, u := range dB {
		key, rv := u.Tuple[:keyLen], u.Tuple[keyLen:]
		if vals := op.left.op.index.Get(key); vals != nil {
			vals.Each(func(lv datalog.Tuple, ld int64) {
				out = append(out, Update{Tuple: op.fn(key, lv, rv), Time: u.Time, Diff: ld * u.Diff})
			})
		}
		if dBIndex != nil {
			dBIndex.Add(key, rv, u.Diff)
		}
	}

	if dBIndex != nil {
		for _, u := range dA {
			key, lv := u.Tuple[:keyLen], u.Tuple[keyLen:]
			if vals := dBIndex.Get(key); vals != nil {
				vals.Each(func(rv datalog.Tuple, rd int64) {
					out = append(out, Update{Tuple: op.fn(key, lv, rv), Time: u.Time, Diff: -u.Diff * rd})
				})
			}
		}
	}

	op.out.emit(Consolidate(out))
	return nil
}

func (op *joinOp) reset() {}
