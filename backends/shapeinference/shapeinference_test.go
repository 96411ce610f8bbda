package shapeinference

import (
	"testing"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	matrixF32 = shapes.Make(dtypes.Float32, 4, 8)
	vectorF32 = shapes.Make(dtypes.Float32, 8)
	scalarF32 = shapes.Make(dtypes.Float32)
)

func TestBinaryOp(t *testing.T) {
	output, err := BinaryOp(backends.OpTypeAdd, matrixF32, matrixF32)
	require.NoError(t, err)
	assert.True(t, output.Equal(matrixF32))

	// Scalar operands broadcast implicitly, on either side.
	output, err = BinaryOp(backends.OpTypeMul, matrixF32, scalarF32)
	require.NoError(t, err)
	assert.True(t, output.Equal(matrixF32))
	output, err = BinaryOp(backends.OpTypeMul, scalarF32, matrixF32)
	require.NoError(t, err)
	assert.True(t, output.Equal(matrixF32))

	// Non-scalar dimension mismatches must be explicit BroadcastInDim.
	_, err = BinaryOp(backends.OpTypeAdd, matrixF32, vectorF32)
	require.Error(t, err)

	// DTypes must match.
	_, err = BinaryOp(backends.OpTypeAdd, matrixF32, shapes.Make(dtypes.Float64, 4, 8))
	require.Error(t, err)

	// Pow is float-only.
	_, err = BinaryOp(backends.OpTypePow, shapes.Make(dtypes.Int32, 4), shapes.Make(dtypes.Int32, 4))
	require.Error(t, err)

	_, err = BinaryOp(backends.OpTypeNeg, matrixF32, matrixF32)
	require.Error(t, err)
}

func TestUnaryOp(t *testing.T) {
	output, err := UnaryOp(backends.OpTypeNeg, matrixF32)
	require.NoError(t, err)
	assert.True(t, output.Equal(matrixF32))

	_, err = UnaryOp(backends.OpTypeSqrt, shapes.Make(dtypes.Int32, 4))
	require.Error(t, err)
	_, err = UnaryOp(backends.OpTypeAdd, matrixF32)
	require.Error(t, err)
}

func TestConvertOp(t *testing.T) {
	output, err := ConvertOp(matrixF32, dtypes.Float16)
	require.NoError(t, err)
	assert.True(t, output.Equal(shapes.Make(dtypes.Float16, 4, 8)))
	_, err = ConvertOp(matrixF32, dtypes.InvalidDType)
	require.Error(t, err)
}

func TestBroadcastInDimOp(t *testing.T) {
	// Vector to each axis of a matrix.
	require.NoError(t, BroadcastInDimOp(shapes.Make(dtypes.Float32, 4), matrixF32, []int{0}))
	require.NoError(t, BroadcastInDimOp(vectorF32, matrixF32, []int{1}))

	// Dimension-1 axes expand.
	require.NoError(t, BroadcastInDimOp(shapes.Make(dtypes.Float32, 4, 1), matrixF32, []int{0, 1}))

	// One axis per operand axis.
	require.Error(t, BroadcastInDimOp(vectorF32, matrixF32, []int{0, 1}))
	// Out-of-bounds and non-increasing axes.
	require.Error(t, BroadcastInDimOp(vectorF32, matrixF32, []int{2}))
	require.Error(t, BroadcastInDimOp(shapes.Make(dtypes.Float32, 4, 1), matrixF32, []int{1, 0}))
	// Mismatched dimension that is not 1.
	require.Error(t, BroadcastInDimOp(shapes.Make(dtypes.Float32, 3), matrixF32, []int{0}))
	// DType change is not allowed.
	require.Error(t, BroadcastInDimOp(shapes.Make(dtypes.Float64, 8), matrixF32, []int{1}))
}

func TestReduceOp(t *testing.T) {
	output, err := ReduceOp(matrixF32, []int{0})
	require.NoError(t, err)
	assert.True(t, output.Equal(vectorF32))

	output, err = ReduceOp(matrixF32, []int{1})
	require.NoError(t, err)
	assert.True(t, output.Equal(shapes.Make(dtypes.Float32, 4)))

	output, err = ReduceOp(matrixF32, nil)
	require.NoError(t, err)
	assert.True(t, output.IsScalar())

	_, err = ReduceOp(matrixF32, []int{2})
	require.Error(t, err)
	_, err = ReduceOp(matrixF32, []int{0, 0})
	require.Error(t, err)
}
