package tensors

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromShape(t *testing.T) {
	tensor := FromShape(shapes.Make(dtypes.Float32, 2, 3))
	require.True(t, tensor.Ok())
	assert.Equal(t, 6, tensor.Size())
	assert.Equal(t, dtypes.Float32, tensor.DType())
	ConstFlatData(tensor, func(flat []float32) {
		require.Len(t, flat, 6)
		for _, v := range flat {
			assert.Zero(t, v)
		}
	})
}

func TestFromValueAndFlatData(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.True(t, tensor.Shape().Equal(shapes.Make(dtypes.Float32, 2, 3)))
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, CopyFlatData[float32](tensor))

	other := FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.True(t, tensor.Equal(other))

	scalar := FromScalar(float64(7))
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 7.0, ToScalar[float64](scalar))

	require.Panics(t, func() { FromFlatDataAndDimensions([]float32{1, 2}, 2, 3) })
	require.Panics(t, func() { ToScalar[float64](tensor) })
	require.Panics(t, func() { CopyFlatData[float64](tensor) })
}

func TestValueAndCastAs(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, tensor.Value())
	assert.Equal(t, float64(7), FromScalar(float64(7)).Value())

	casted := tensor.CastAs(dtypes.Float64)
	require.True(t, casted.Shape().Equal(shapes.Make(dtypes.Float64, 2, 3)))
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, casted.Value())

	// Casting to a reduced-precision dtype rounds.
	f16 := FromValue([]float32{1.0004883, 2}).CastAs(dtypes.Float16)
	assert.InDelta(t, 1.0, f16.Float64s()[0], 1e-3)
}

func TestInDelta(t *testing.T) {
	a := FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
	b := FromFlatDataAndDimensions([]float32{1.05, 2, 2.95}, 3)
	assert.True(t, a.InDelta(b, 0.1))
	assert.False(t, a.InDelta(b, 0.01))
	assert.False(t, a.Equal(b))

	// Dimensions must match, dtypes need not.
	c := FromFlatDataAndDimensions([]float64{1.05, 2, 2.95}, 3)
	assert.True(t, a.InDelta(c, 0.1))
	d := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 4)
	assert.False(t, a.InDelta(d, 10))
}

func TestFillNormal(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float16, dtypes.BFloat16} {
		tensor := FromShape(shapes.Make(dtype, 1000))
		tensor.FillNormal(rng)
		values := tensor.Float64s()
		var sum, sumSquares float64
		for _, v := range values {
			sum += v
			sumSquares += v * v
		}
		mean := sum / float64(len(values))
		variance := sumSquares/float64(len(values)) - mean*mean
		assert.InDeltaf(t, 0.0, mean, 0.15, "mean of normal fill for %s", dtype)
		assert.InDeltaf(t, 1.0, variance, 0.2, "variance of normal fill for %s", dtype)
	}
}

func TestFinalize(t *testing.T) {
	tensor := FromScalar(float32(1))
	tensor.Finalize()
	assert.False(t, tensor.Ok())
	require.Panics(t, func() { tensor.ConstFlatData(func(flat any) {}) })
}
