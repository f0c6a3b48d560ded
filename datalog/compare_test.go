package datalog

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCompareValuesSameKind(t *testing.T) {
	tests := []struct {
		name        string
		left, right Value
		want        int
	}{
		{"eid", Eid(1), Eid(2), -1},
		{"attribute", Attribute(":b"), Attribute(":a"), 1},
		{"string", "abc", "abc", 0},
		{"number", int64(-3), int64(2), -1},
		{"real", 2.5, 1.5, 1},
		{"number vs real", int64(2), 2.5, -1},
		{"real vs number", 3.5, int64(3), 1},
		{"bool", false, true, -1},
		{"instant", Instant(1540048515616), Instant(1540048515500), 1},
		{"uuid", uuid.UUID{1}, uuid.UUID{2}, -1},
		{"nil", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareValues(tt.left, tt.right))
			assert.Equal(t, -tt.want, CompareValues(tt.right, tt.left))
		})
	}
}

func TestCompareValuesIsTotal(t *testing.T) {
	values := []Value{
		"b", int64(2), Eid(9), true, Instant(5), 1.5, Attribute(":x"),
		uuid.UUID{3}, nil, int64(1), "a", Eid(1), false, 1.0,
	}

	sort.Slice(values, func(i, j int) bool {
		return CompareValues(values[i], values[j]) < 0
	})

	want := []Value{
		nil, Eid(1), Eid(9), Attribute(":x"), false, true,
		int64(1), 1.0, 1.5, int64(2), Instant(5), "a", "b", uuid.UUID{3},
	}
	assert.Equal(t, want, values)

	// Antisymmetry across kinds
	for _, a := range values {
		for _, b := range values {
			assert.Equal(t, CompareValues(a, b), -CompareValues(b, a), "%v vs %v", a, b)
		}
	}
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(Eid(3), Eid(3)))
	assert.True(t, ValuesEqual(Instant(10), Instant(10)))
	assert.False(t, ValuesEqual(int64(1), 1.0), "number and real of equal magnitude stay distinct")
	assert.False(t, ValuesEqual(Eid(1), int64(1)))
	assert.False(t, ValuesEqual("x", Attribute("x")))
}

func TestCompareTuples(t *testing.T) {
	assert.Equal(t, 0, CompareTuples(Tuple{Eid(1), "a"}, Tuple{Eid(1), "a"}))
	assert.Equal(t, -1, CompareTuples(Tuple{Eid(1), "a"}, Tuple{Eid(1), "b"}))
	assert.Equal(t, -1, CompareTuples(Tuple{Eid(1)}, Tuple{Eid(1), "a"}))
	assert.Equal(t, 1, CompareTuples(Tuple{Eid(2)}, Tuple{Eid(1), "a"}))
	assert.True(t, TuplesEqual(Tuple{}, Tuple{}))
	assert.False(t, TuplesEqual(Tuple{Eid(1)}, Tuple{Eid(1), Eid(1)}))
}
