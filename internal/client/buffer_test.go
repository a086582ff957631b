package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_AppendBelowCapacity(t *testing.T) {
	r := NewRing[int](5)

	r.Append(1)
	r.Append(2)

	assert.Equal(t, []int{1, 2}, r.Items())
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 5, r.Cap())
}

func TestRing_EvictsOldestFirst(t *testing.T) {
	const capacity = 10

	r := NewRing[int](capacity)
	for i := 1; i <= capacity+5; i++ {
		r.Append(i)
	}

	assert.Equal(t, capacity, r.Len(), "buffer never grows past capacity")

	items := r.Items()
	assert.Equal(t, 6, items[0], "the five oldest entries are gone")
	assert.Equal(t, capacity+5, items[len(items)-1])
	for i := 1; i < len(items); i++ {
		assert.Equal(t, items[i-1]+1, items[i], "arrival order is preserved")
	}
}

func TestRing_ItemsReturnsCopy(t *testing.T) {
	r := NewRing[int](3)
	r.Append(1)

	items := r.Items()
	items[0] = 99

	assert.Equal(t, []int{1}, r.Items())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[int](0)

	r.Append(1)
	r.Append(2)

	assert.Equal(t, []int{2}, r.Items(), "degenerate capacity keeps the latest entry")
}

func TestRing_DuplicatesKept(t *testing.T) {
	r := NewRing[string](4)

	r.Append("ev")
	r.Append("ev")

	assert.Equal(t, []string{"ev", "ev"}, r.Items())
}
