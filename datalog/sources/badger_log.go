package sources

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
)

// Key layout of a log entry:
//
//	"log/" prefix 0x00 | sequence (8 bytes BE)
//
// The value is the time (8 bytes BE), the encoded tuple and the diff
// (8 bytes BE). Keys of one prefix sort by append order, so a reader
// resumes after the last key it has seen whatever times later entries
// carry.
const (
	logKeyPrefix = "log/"
	seqKeyPrefix = "seq/"
	seqBandwidth = 128
)

// BadgerLog reads an update log stored in a badger database. Every
// epoch it emits the entries recorded at or before that epoch that it
// has not emitted yet. Entries appended late with an earlier time are
// emitted at the next epoch.
type BadgerLog struct {
	Path   string
	Prefix string
}

func (l *BadgerLog) String() string {
	return fmt.Sprintf("badger-log %q %q", l.Path, l.Prefix)
}

// Source opens the log and attaches it to scope. The database is
// released when the dataflow is closed.
func (l *BadgerLog) Source(scope *dataflow.Scope) (*dataflow.Collection, error) {
	store, err := OpenLogStore(l.Path)
	if err != nil {
		return nil, err
	}
	return scope.NewSource(l.String(), &logPoller{store: store, prefix: l.Prefix}), nil
}

// logPoller hands every unseen entry to the source, which holds back
// those stamped after the current epoch
type logPoller struct {
	store  *LogStore
	prefix string
	cursor []byte
}

func (p *logPoller) Poll(uint64) (dataflow.Batch, error) {
	b, cursor, err := p.store.Scan(p.prefix, p.cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		p.cursor = cursor
	}
	return b, nil
}

func (p *logPoller) Close() error {
	return p.store.Close()
}

// AppendBadgerLog appends a batch to the log at path
func AppendBadgerLog(path, prefix string, b dataflow.Batch) error {
	store, err := OpenLogStore(path)
	if err != nil {
		return err
	}
	if err := store.Append(prefix, b); err != nil {
		store.Close()
		return err
	}
	return store.Close()
}

// Badger allows one open handle per directory, so stores of the same
// path share it along with its sequences.
var handles = struct {
	sync.Mutex
	open map[string]*sharedDB
}{open: map[string]*sharedDB{}}

type sharedDB struct {
	db   *badger.DB
	refs int

	// mu orders appends: numbers are taken and committed under it
	mu   sync.Mutex
	seqs map[string]*badger.Sequence
}

// sequence returns the append counter of prefix. Callers hold mu.
func (d *sharedDB) sequence(prefix string) (*badger.Sequence, error) {
	seq, ok := d.seqs[prefix]
	if !ok {
		var err error
		seq, err = d.db.GetSequence([]byte(seqKeyPrefix+prefix), seqBandwidth)
		if err != nil {
			return nil, fmt.Errorf("failed to get sequence for %s: %w", prefix, err)
		}
		d.seqs[prefix] = seq
	}
	return seq, nil
}

func (d *sharedDB) close() error {
	var first error
	for _, seq := range d.seqs {
		if err := seq.Release(); err != nil && first == nil {
			first = err
		}
	}
	if err := d.db.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// LogStore is a handle on a badger database holding update logs
type LogStore struct {
	path   string
	shared *sharedDB
	mu     sync.Mutex
	closed bool
}

// OpenLogStore opens the database at path, creating it if needed
func OpenLogStore(path string) (*LogStore, error) {
	handles.Lock()
	defer handles.Unlock()

	shared, ok := handles.open[path]
	if !ok {
		opts := badger.DefaultOptions(path)
		opts.Logger = nil
		opts.ValueThreshold = 1 << 10 // keep log values in the LSM tree
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger log %s: %w", path, err)
		}
		shared = &sharedDB{db: db, seqs: map[string]*badger.Sequence{}}
		handles.open[path] = shared
	}
	shared.refs++
	return &LogStore{path: path, shared: shared}, nil
}

// Close releases the handle; the database closes with its last handle
func (s *LogStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	handles.Lock()
	defer handles.Unlock()
	s.shared.refs--
	if s.shared.refs > 0 {
		return nil
	}
	delete(handles.open, s.path)
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return s.shared.close()
}

func (s *LogStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func logPrefix(prefix string) []byte {
	return append([]byte(logKeyPrefix+prefix), 0)
}

// Append writes the updates of a batch under prefix
func (s *LogStore) Append(prefix string, b dataflow.Batch) error {
	if s.isClosed() {
		return fmt.Errorf("badger log %s is closed", s.path)
	}
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()

	seq, err := s.shared.sequence(prefix)
	if err != nil {
		return err
	}
	base := logPrefix(prefix)
	keys := make([][]byte, len(b))
	for i := range b {
		n, err := seq.Next()
		if err != nil {
			return fmt.Errorf("failed to number entry for %s: %w", prefix, err)
		}
		key := make([]byte, 0, len(base)+8)
		key = append(key, base...)
		keys[i] = binary.BigEndian.AppendUint64(key, n)
	}
	return s.shared.db.Update(func(txn *badger.Txn) error {
		for i, u := range b {
			value := binary.BigEndian.AppendUint64(nil, u.Time)
			value = append(value, datalog.EncodeTuple(u.Tuple)...)
			value = binary.BigEndian.AppendUint64(value, uint64(u.Diff))
			if err := txn.Set(keys[i], value); err != nil {
				return fmt.Errorf("failed to append to %s: %w", prefix, err)
			}
		}
		return nil
	})
}

// Scan returns the entries of prefix appended after the cursor key, in
// append order, and the key of the last entry returned (nil if none)
func (s *LogStore) Scan(prefix string, after []byte) (dataflow.Batch, []byte, error) {
	base := logPrefix(prefix)
	var (
		out  dataflow.Batch
		last []byte
	)
	err := s.shared.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = base
		it := txn.NewIterator(opts)
		defer it.Close()

		start := base
		if after != nil {
			start = after
		}
		for it.Seek(start); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if after != nil && bytes.Equal(key, after) {
				continue
			}
			if len(key) != len(base)+8 {
				return fmt.Errorf("malformed log key %x", key)
			}
			err := item.Value(func(val []byte) error {
				if len(val) < 16 {
					return fmt.Errorf("malformed log entry at %x", key)
				}
				t := binary.BigEndian.Uint64(val)
				tuple, n, err := datalog.DecodeTuple(val[8:])
				if err != nil {
					return err
				}
				if len(val)-8-n != 8 {
					return fmt.Errorf("malformed log entry at %x", key)
				}
				diff := int64(binary.BigEndian.Uint64(val[8+n:]))
				out = append(out, dataflow.Update{Tuple: tuple, Time: t, Diff: diff})
				return nil
			})
			if err != nil {
				return err
			}
			last = item.KeyCopy(nil)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("badger log %s: %w", prefix, err)
	}
	return out, last, nil
}
