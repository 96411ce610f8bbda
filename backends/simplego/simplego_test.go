package simplego

import (
	"testing"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func testBackend(t *testing.T) *Backend {
	return New("").(*Backend)
}

// execProgram builds and runs a single-output computation and returns its flat result.
func execProgram(t *testing.T, backend *Backend, buildFn func(builder backends.Builder) backends.Op, inputs ...*Buffer) *Buffer {
	builder := backend.Builder(t.Name())
	output := buildFn(builder)
	exec, err := builder.(*Builder).Compile(output)
	require.NoError(t, err)
	backendInputs := make([]backends.Buffer, len(inputs))
	for ii, input := range inputs {
		backendInputs[ii] = input
	}
	results, err := exec.Execute(backendInputs, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	return results[0].(*Buffer)
}

func TestBinaryOps(t *testing.T) {
	backend := testBackend(t)
	shape := shapes.Make(dtypes.Float32, 4)
	x, err := backend.BufferFromFlatData(0, []float32{1, 2, 3, 4}, shape)
	require.NoError(t, err)
	y, err := backend.BufferFromFlatData(0, []float32{2, 2, 2, 2}, shape)
	require.NoError(t, err)

	result := execProgram(t, backend, func(builder backends.Builder) backends.Op {
		lhs, err := builder.Parameter("x", shape)
		require.NoError(t, err)
		rhs, err := builder.Parameter("y", shape)
		require.NoError(t, err)
		sum, err := builder.Add(lhs, rhs)
		require.NoError(t, err)
		product, err := builder.Mul(sum, rhs)
		require.NoError(t, err)
		return product
	}, x.(*Buffer), y.(*Buffer))

	assert.Equal(t, []float32{6, 8, 10, 12}, result.flat.([]float32))
}

func TestScalarBroadcast(t *testing.T) {
	backend := testBackend(t)
	shape := shapes.Make(dtypes.Float32, 3)
	x, err := backend.BufferFromFlatData(0, []float32{1, 2, 3}, shape)
	require.NoError(t, err)

	result := execProgram(t, backend, func(builder backends.Builder) backends.Op {
		operand, err := builder.Parameter("x", shape)
		require.NoError(t, err)
		two, err := builder.Constant([]float32{2})
		require.NoError(t, err)
		scaled, err := builder.Mul(operand, two)
		require.NoError(t, err)
		return scaled
	}, x.(*Buffer))

	assert.Equal(t, []float32{2, 4, 6}, result.flat.([]float32))
}

func TestUnaryOps(t *testing.T) {
	backend := testBackend(t)
	shape := shapes.Make(dtypes.Float32, 3)
	x, err := backend.BufferFromFlatData(0, []float32{1, 4, 16}, shape)
	require.NoError(t, err)

	result := execProgram(t, backend, func(builder backends.Builder) backends.Op {
		operand, err := builder.Parameter("x", shape)
		require.NoError(t, err)
		root, err := builder.Sqrt(operand)
		require.NoError(t, err)
		neg, err := builder.Neg(root)
		require.NoError(t, err)
		return neg
	}, x.(*Buffer))

	assert.Equal(t, []float32{-1, -2, -4}, result.flat.([]float32))
}

func TestRsqrt(t *testing.T) {
	backend := testBackend(t)
	shape := shapes.Make(dtypes.Float32, 2)
	x, err := backend.BufferFromFlatData(0, []float32{4, 16}, shape)
	require.NoError(t, err)
	result := execProgram(t, backend, func(builder backends.Builder) backends.Op {
		operand, err := builder.Parameter("x", shape)
		require.NoError(t, err)
		op, err := builder.Rsqrt(operand)
		require.NoError(t, err)
		return op
	}, x.(*Buffer))
	assert.InDeltaSlice(t, []float32{0.5, 0.25}, result.flat.([]float32), 1e-6)
}

func TestReduceSum(t *testing.T) {
	backend := testBackend(t)
	shape := shapes.Make(dtypes.Float32, 2, 3)
	x, err := backend.BufferFromFlatData(0, []float32{1, 2, 3, 4, 5, 6}, shape)
	require.NoError(t, err)

	// Reduce rows (axis 0).
	result := execProgram(t, backend, func(builder backends.Builder) backends.Op {
		operand, err := builder.Parameter("x", shape)
		require.NoError(t, err)
		sum, err := builder.ReduceSum(operand, 0)
		require.NoError(t, err)
		return sum
	}, x.(*Buffer))
	assert.Equal(t, []float32{5, 7, 9}, result.flat.([]float32))

	// Reduce columns (axis 1).
	x2, err := backend.BufferFromFlatData(0, []float32{1, 2, 3, 4, 5, 6}, shape)
	require.NoError(t, err)
	result = execProgram(t, backend, func(builder backends.Builder) backends.Op {
		operand, err := builder.Parameter("x", shape)
		require.NoError(t, err)
		sum, err := builder.ReduceSum(operand, 1)
		require.NoError(t, err)
		return sum
	}, x2.(*Buffer))
	assert.Equal(t, []float32{6, 15}, result.flat.([]float32))

	// Full reduction to a scalar.
	x3, err := backend.BufferFromFlatData(0, []float32{1, 2, 3, 4, 5, 6}, shape)
	require.NoError(t, err)
	result = execProgram(t, backend, func(builder backends.Builder) backends.Op {
		operand, err := builder.Parameter("x", shape)
		require.NoError(t, err)
		sum, err := builder.ReduceSum(operand)
		require.NoError(t, err)
		return sum
	}, x3.(*Buffer))
	assert.Equal(t, []float32{21}, result.flat.([]float32))
}

func TestBroadcastInDim(t *testing.T) {
	backend := testBackend(t)
	vectorShape := shapes.Make(dtypes.Float32, 3)
	matrixShape := shapes.Make(dtypes.Float32, 2, 3)

	// Broadcast a vector over the rows of a matrix.
	x, err := backend.BufferFromFlatData(0, []float32{1, 2, 3}, vectorShape)
	require.NoError(t, err)
	result := execProgram(t, backend, func(builder backends.Builder) backends.Op {
		operand, err := builder.Parameter("x", vectorShape)
		require.NoError(t, err)
		broadcast, err := builder.BroadcastInDim(operand, matrixShape, []int{1})
		require.NoError(t, err)
		return broadcast
	}, x.(*Buffer))
	assert.Equal(t, []float32{1, 2, 3, 1, 2, 3}, result.flat.([]float32))

	// Broadcast a column [2, 1] over the columns.
	columnShape := shapes.Make(dtypes.Float32, 2, 1)
	x2, err := backend.BufferFromFlatData(0, []float32{10, 20}, columnShape)
	require.NoError(t, err)
	result = execProgram(t, backend, func(builder backends.Builder) backends.Op {
		operand, err := builder.Parameter("x", columnShape)
		require.NoError(t, err)
		broadcast, err := builder.BroadcastInDim(operand, matrixShape, []int{0, 1})
		require.NoError(t, err)
		return broadcast
	}, x2.(*Buffer))
	assert.Equal(t, []float32{10, 10, 10, 20, 20, 20}, result.flat.([]float32))
}

func TestConvertDType(t *testing.T) {
	backend := testBackend(t)
	shape := shapes.Make(dtypes.Float16, 3)
	flat := make([]float32, 3)
	copy(flat, []float32{1.5, -2, 0.25})
	f16Shape := shapes.Make(dtypes.Float32, 3)
	x, err := backend.BufferFromFlatData(0, flat, f16Shape)
	require.NoError(t, err)

	result := execProgram(t, backend, func(builder backends.Builder) backends.Op {
		operand, err := builder.Parameter("x", f16Shape)
		require.NoError(t, err)
		converted, err := builder.ConvertDType(operand, dtypes.Float16)
		require.NoError(t, err)
		return converted
	}, x.(*Buffer))

	outputShape, err := backend.BufferShape(result)
	require.NoError(t, err)
	assert.True(t, outputShape.Equal(shape))
	roundTrip := make([]float32, 3)
	f16ToF32(result.flat.([]float16.Float16), roundTrip)
	assert.Equal(t, []float32{1.5, -2, 0.25}, roundTrip)
}

func TestBuilderErrors(t *testing.T) {
	backend := testBackend(t)
	builder := backend.Builder("errors")
	shape := shapes.Make(dtypes.Float32, 2)
	x, err := builder.Parameter("x", shape)
	require.NoError(t, err)

	// Mixing ops from different builders.
	otherBuilder := backend.Builder("other")
	y, err := otherBuilder.Parameter("y", shape)
	require.NoError(t, err)
	_, err = builder.Add(x, y)
	require.Error(t, err)

	// Mismatched dimensions without explicit broadcast.
	z, err := builder.Parameter("z", shapes.Make(dtypes.Float32, 3))
	require.NoError(t, err)
	_, err = builder.Add(x, z)
	require.Error(t, err)

	// Compile with no outputs.
	_, err = builder.Compile()
	require.Error(t, err)

	// Ops after compile.
	exec, err := builder.Compile(x)
	require.NoError(t, err)
	_, err = builder.Neg(x)
	require.Error(t, err)

	// Execute with wrong number of inputs.
	_, err = exec.Execute(nil, nil)
	require.Error(t, err)

	// Execute with the wrong shape.
	wrong, err := backend.BufferFromFlatData(0, []float32{1, 2, 3}, shapes.Make(dtypes.Float32, 3))
	require.NoError(t, err)
	_, err = exec.Execute([]backends.Buffer{wrong}, nil)
	require.Error(t, err)
}

func TestDonate(t *testing.T) {
	backend := testBackend(t)
	shape := shapes.Make(dtypes.Float32, 1024)
	flat := make([]float32, 1024)
	for ii := range flat {
		flat[ii] = float32(ii)
	}
	x, err := backend.BufferFromFlatData(0, flat, shape)
	require.NoError(t, err)

	builder := backend.Builder("donate")
	operand, err := builder.Parameter("x", shape)
	require.NoError(t, err)
	neg, err := builder.(*Builder).Neg(operand)
	require.NoError(t, err)
	exec, err := builder.(*Builder).Compile(neg)
	require.NoError(t, err)

	results, err := exec.Execute([]backends.Buffer{x}, []bool{true})
	require.NoError(t, err)
	// With a donated input the executor reuses its buffer in-place.
	assert.Same(t, x.(*Buffer), results[0].(*Buffer))
	assert.Equal(t, float32(-1), results[0].(*Buffer).flat.([]float32)[1])
}
