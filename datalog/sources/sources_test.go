package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
	"github.com/wbrown/janus-dataflow/datalog/edn"
)

func TestPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.edn")
	content := `; people
1 :person/name "Alice"
2 :person/name "Bob"

2 :person/born #inst 1540048515500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	df := dataflow.New("plain-file")
	coll, err := (&PlainFile{Path: path}).Source(df.Root())
	require.NoError(t, err)
	out := coll.Capture()

	require.NoError(t, df.Step(0))
	assert.ElementsMatch(t, []datalog.Tuple{
		{datalog.Eid(1), datalog.Attribute(":person/name"), "Alice"},
		{datalog.Eid(2), datalog.Attribute(":person/name"), "Bob"},
		{datalog.Eid(2), datalog.Attribute(":person/born"), datalog.Instant(1540048515500)},
	}, out.Tuples())

	// The file is emitted once
	require.NoError(t, df.Step(1))
	assert.Len(t, out.Updates(), 3)
}

func TestPlainFileErrors(t *testing.T) {
	df := dataflow.New("plain-file")
	_, err := (&PlainFile{Path: filepath.Join(t.TempDir(), "missing")}).Source(df.Root())
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.edn")
	require.NoError(t, os.WriteFile(path, []byte("1 :a 2\n:x :a 3\n"), 0o644))
	_, err = (&PlainFile{Path: path}).Read()
	assert.ErrorContains(t, err, "line 2")
}

func TestBadgerLog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AppendBadgerLog(dir, "clicks", dataflow.Batch{
		{Tuple: datalog.Tuple{datalog.Eid(1), "home"}, Time: 0, Diff: 1},
		{Tuple: datalog.Tuple{datalog.Eid(2), "about"}, Time: 2, Diff: 1},
	}))
	require.NoError(t, AppendBadgerLog(dir, "other", dataflow.Batch{
		{Tuple: datalog.Tuple{datalog.Eid(9), "ignored"}, Time: 0, Diff: 1},
	}))

	df := dataflow.New("badger-log")
	coll, err := (&BadgerLog{Path: dir, Prefix: "clicks"}).Source(df.Root())
	require.NoError(t, err)
	out := coll.Capture()

	require.NoError(t, df.Step(0))
	assert.Equal(t, []datalog.Tuple{{datalog.Eid(1), "home"}}, out.Tuples())

	// Appends while the source is attached share its handle
	require.NoError(t, AppendBadgerLog(dir, "clicks", dataflow.Batch{
		{Tuple: datalog.Tuple{datalog.Eid(1), "home"}, Time: 1, Diff: -1},
	}))

	require.NoError(t, df.Step(1))
	assert.Empty(t, out.Tuples())

	require.NoError(t, df.Step(2))
	assert.Equal(t, []datalog.Tuple{{datalog.Eid(2), "about"}}, out.Tuples())
	assert.Len(t, out.Updates(), 3)

	require.NoError(t, df.Close())
	handles.Lock()
	assert.Empty(t, handles.open)
	handles.Unlock()
}

func TestBadgerLogLateAppend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, AppendBadgerLog(dir, "clicks", dataflow.Batch{
		{Tuple: datalog.Tuple{datalog.Eid(1), "home"}, Time: 3, Diff: 1},
	}))

	df := dataflow.New("badger-log")
	coll, err := (&BadgerLog{Path: dir, Prefix: "clicks"}).Source(df.Root())
	require.NoError(t, err)
	out := coll.Capture()
	defer df.Close()

	require.NoError(t, df.StepUntil(4))
	assert.Equal(t, []datalog.Tuple{{datalog.Eid(1), "home"}}, out.Tuples())

	// stamped before the last emitted entry; advanced to the next epoch
	require.NoError(t, AppendBadgerLog(dir, "clicks", dataflow.Batch{
		{Tuple: datalog.Tuple{datalog.Eid(2), "late"}, Time: 2, Diff: 1},
	}))
	require.NoError(t, df.Step(4))
	assert.ElementsMatch(t, []datalog.Tuple{
		{datalog.Eid(1), "home"},
		{datalog.Eid(2), "late"},
	}, out.Tuples())

	updates := out.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, uint64(4), updates[1].Time)
}

func TestLogStoreAppendOrder(t *testing.T) {
	dir := t.TempDir()
	reader, err := OpenLogStore(dir)
	require.NoError(t, err)
	defer reader.Close()

	// appends through separate handles keep one numbering
	for i := 0; i < 3; i++ {
		require.NoError(t, AppendBadgerLog(dir, "p", dataflow.Batch{
			{Tuple: datalog.Tuple{int64(i)}, Time: uint64(10 - i), Diff: 1},
		}))
	}
	b, cursor, err := reader.Scan("p", nil)
	require.NoError(t, err)
	require.Len(t, b, 3)
	for i, u := range b {
		assert.Equal(t, datalog.Tuple{int64(i)}, u.Tuple)
		assert.Equal(t, uint64(10-i), u.Time)
	}

	b, _, err = reader.Scan("p", cursor)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestDecode(t *testing.T) {
	node, err := edn.Parse(`{:plain-file {:path "facts.edn"}}`)
	require.NoError(t, err)
	src, err := Decode(*node)
	require.NoError(t, err)
	assert.Equal(t, &PlainFile{Path: "facts.edn"}, src)

	node, err = edn.Parse(`{:badger-log {:path "/tmp/log" :prefix "clicks"}}`)
	require.NoError(t, err)
	src, err = Decode(*node)
	require.NoError(t, err)
	assert.Equal(t, &BadgerLog{Path: "/tmp/log", Prefix: "clicks"}, src)

	for _, input := range []string{`{:kafka {:path "x"}}`, `{:plain-file {}}`, `{:badger-log {:path "x"}}`, `[:plain-file]`} {
		node, err := edn.Parse(input)
		require.NoError(t, err)
		_, err = Decode(*node)
		assert.Error(t, err, input)
	}
}
