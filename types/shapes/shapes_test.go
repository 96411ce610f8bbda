package shapes

import (
	"testing"

	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Len(t, shape1.Dimensions, 3)
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.Panics(t, func() { Make(Float32, 4, 0) })

	require.Equal(t, Scalar[float32](), Make(Float32))
}

func TestDim(t *testing.T) {
	shape := Make(Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 3, shape.Dim(1))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 3, shape.Dim(-2))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestEqual(t *testing.T) {
	shape := Make(Float32, 4, 3)
	require.True(t, shape.Equal(Make(Float32, 4, 3)))
	require.False(t, shape.Equal(Make(Float64, 4, 3)))
	require.False(t, shape.Equal(Make(Float32, 4, 2)))
	require.True(t, shape.EqualDimensions(Make(Float64, 4, 3)))

	clone := shape.Clone()
	clone.Dimensions[0] = 7
	require.Equal(t, 4, shape.Dimensions[0])
}

func TestAsserts(t *testing.T) {
	shape := Make(Float32, 4, 3)
	require.NotPanics(t, func() { shape.AssertDims(4, 3) })
	require.NotPanics(t, func() { shape.AssertDims(4, UncheckedAxis) })
	require.Panics(t, func() { shape.AssertDims(4) })
	require.Panics(t, func() { shape.AssertDims(4, 2) })

	require.NotPanics(t, func() { shape.AssertRank(2) })
	require.Panics(t, func() { shape.AssertRank(1) })

	// Package-level versions work on anything with a Shape method.
	require.NotPanics(t, func() { AssertDims(shape, 4, 3) })
	require.NotPanics(t, func() { AssertRank(shape, 2) })
}
