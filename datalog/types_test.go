package datalog

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatomString(t *testing.T) {
	datom := Datom{
		E: Eid(7),
		A: Attribute(":person/name"),
		V: "Alice Smith",
	}

	str := datom.String()
	assert.True(t, strings.HasPrefix(str, "[7 :person/name"))
	assert.Contains(t, str, `"Alice Smith"`)
}

func TestTxDataHelpers(t *testing.T) {
	add := Assert(1, ":timestamp", Instant(1540048515500))
	assert.Equal(t, int64(1), add.Op)
	assert.Equal(t, Datom{E: 1, A: ":timestamp", V: Instant(1540048515500)}, add.Datom())

	del := Retract(1, ":timestamp", Instant(1540048515500))
	assert.Equal(t, int64(-1), del.Op)
	assert.True(t, strings.HasPrefix(del.String(), "[-1 1 :timestamp"))
}

func TestEidFromString(t *testing.T) {
	a := EidFromString("user:alice")
	b := EidFromString("user:alice")
	c := EidFromString("user:bob")

	assert.Equal(t, a, b, "same name should produce same entity id")
	assert.NotEqual(t, a, c)
	// xxhash64 of the empty string
	assert.Equal(t, Eid(0xef46db3751d8e999), EidFromString(""))
}

func TestInstant(t *testing.T) {
	when := time.Date(2018, 10, 20, 15, 15, 15, 500*int(time.Millisecond), time.UTC)
	i := InstantFromTime(when)

	assert.Equal(t, Instant(1540048515500), i)
	assert.True(t, i.Time().Equal(when))
	assert.Equal(t, "2018-10-20T15:15:15.500Z", i.String())
}

func TestIsVar(t *testing.T) {
	assert.True(t, IsVar("?e"))
	assert.False(t, IsVar("?"))
	assert.False(t, IsVar(":name"))
	assert.False(t, IsVar("e"))
}

func TestValueEncodingRoundTrip(t *testing.T) {
	id := uuid.MustParse("f81d4fae-7dec-11d0-a765-00a0c91e6bf6")
	tuple := Tuple{
		Eid(42),
		Attribute(":person/age"),
		"héllo",
		int64(-17),
		3.25,
		true,
		Instant(1540048515616),
		id,
		nil,
	}

	data := EncodeTuple(tuple)
	// trailing bytes are left to the caller
	data = append(data, 0xff)

	decoded, n, err := DecodeTuple(data)
	require.NoError(t, err)
	assert.Equal(t, len(data)-1, n)
	require.Len(t, decoded, len(tuple))
	for i := range tuple {
		assert.Equal(t, tuple[i], decoded[i], "position %d", i)
	}
}

func TestDecodeTupleErrors(t *testing.T) {
	_, _, err := DecodeTuple(nil)
	assert.Error(t, err)

	// arity 1, eid tag, only 3 payload bytes
	_, _, err = DecodeTuple([]byte{1, byte(TypeEid), 0, 0, 0})
	assert.Error(t, err)

	_, _, err = DecodeTuple([]byte{1, 200})
	assert.Error(t, err)
}

func TestHashTuple(t *testing.T) {
	a := Tuple{Eid(1), "x", int64(3)}
	b := Tuple{Eid(1), "x", int64(3)}
	c := Tuple{Eid(1), "x", int64(4)}

	assert.Equal(t, HashTuple(a), HashTuple(b))
	assert.NotEqual(t, HashTuple(a), HashTuple(c))
}
