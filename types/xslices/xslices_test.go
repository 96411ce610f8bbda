package xslices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	count := 17
	in := make([]int, count)
	for ii := 0; ii < count; ii++ {
		in[ii] = ii
	}
	out := Map(in, func(v int) int32 { return int32(v + 1) })
	for ii := 0; ii < count; ii++ {
		assert.Equalf(t, int32(ii+1), out[ii], "element %d doesn't match", ii)
	}
}

func TestSliceWithValue(t *testing.T) {
	s := SliceWithValue(5, 3.0)
	assert.Len(t, s, 5)
	for _, v := range s {
		assert.Equal(t, 3.0, v)
	}
}

func TestIota(t *testing.T) {
	assert.Equal(t, []int{3, 4, 5, 6}, Iota(3, 4))
	assert.Equal(t, []float32{0, 1, 2}, Iota(float32(0), 3))
}

func TestLast(t *testing.T) {
	assert.Equal(t, 5, Last([]int{0, 1, 2, 3, 4, 5}))
}

func TestSortedKeys(t *testing.T) {
	m := map[string]int{"c": 2, "a": 0, "b": 1}
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(m))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, Keys(m))
}
