package fuser_test

import (
	"testing"

	"github.com/gomlx/fusionbench/fuser"
	"github.com/gomlx/fusionbench/fuser/fusertest"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/fusionbench/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOps(t *testing.T) {
	fusertest.RunTestDefFn(t, "Add and Mul",
		func(def *fuser.Definition) []*tensors.Tensor {
			x := def.DefineTensor(shapes.Make(dtypes.Float32, 2, 2))
			y := def.DefineTensor(shapes.Make(dtypes.Float32, 2, 2))
			def.AddOutput(fuser.Mul(fuser.Add(x, y), y))
			return []*tensors.Tensor{
				tensors.FromValue([][]float32{{1, 2}, {3, 4}}),
				tensors.FromValue([][]float32{{10, 20}, {30, 40}}),
			}
		},
		[]any{[][]float32{{110, 440}, {990, 1760}}}, 0)

	fusertest.RunTestDefFn(t, "Reciprocal",
		func(def *fuser.Definition) []*tensors.Tensor {
			x := def.DefineTensor(shapes.Make(dtypes.Float32, 4))
			def.AddOutput(fuser.Reciprocal(x))
			return []*tensors.Tensor{tensors.FromValue([]float32{1, 2, 4, 8})}
		},
		[]any{[]float32{1, 0.5, 0.25, 0.125}}, 1e-7)

	fusertest.RunTestDefFn(t, "Rsqrt",
		func(def *fuser.Definition) []*tensors.Tensor {
			x := def.DefineTensor(shapes.Make(dtypes.Float32, 3))
			def.AddOutput(fuser.Rsqrt(x))
			return []*tensors.Tensor{tensors.FromValue([]float32{1, 4, 16})}
		},
		[]any{[]float32{1, 0.5, 0.25}}, 1e-6)

	fusertest.RunTestDefFn(t, "Cast",
		func(def *fuser.Definition) []*tensors.Tensor {
			x := def.DefineTensor(shapes.Make(dtypes.Float16, 3))
			f32 := fuser.Cast(x, dtypes.Float32)
			def.AddOutput(fuser.Cast(fuser.Mul(f32, f32), dtypes.Float16))
			return []*tensors.Tensor{tensors.FromValue([]float32{1, 2, 3}).CastAs(dtypes.Float16)}
		},
		[]any{tensorF16([]float32{1, 4, 9})}, 1e-2)

	fusertest.RunTestDefFn(t, "Sum over rows and columns",
		func(def *fuser.Definition) []*tensors.Tensor {
			x := def.DefineTensor(shapes.Make(dtypes.Float64, 2, 3))
			def.AddOutput(fuser.Sum(x, 0))
			def.AddOutput(fuser.Sum(x, -1))
			def.AddOutput(fuser.Sum(x))
			return []*tensors.Tensor{tensors.FromValue([][]float64{{1, 2, 3}, {4, 5, 6}})}
		},
		[]any{[]float64{5, 7, 9}, []float64{6, 15}, float64(21)}, 0)

	fusertest.RunTestDefFn(t, "BroadcastToShape",
		func(def *fuser.Definition) []*tensors.Tensor {
			x := def.DefineTensor(shapes.Make(dtypes.Float32, 3))
			def.AddOutput(fuser.BroadcastToShape(x, shapes.Make(dtypes.Float32, 2, 3)))
			return []*tensors.Tensor{tensors.FromValue([]float32{1, 2, 3})}
		},
		[]any{[][]float32{{1, 2, 3}, {1, 2, 3}}}, 0)

	fusertest.RunTestDefFn(t, "DefineScalar broadcasts implicitly",
		func(def *fuser.Definition) []*tensors.Tensor {
			x := def.DefineTensor(shapes.Make(dtypes.Float32, 2, 2))
			half := def.DefineScalar(0.5, dtypes.Float32)
			def.AddOutput(fuser.Mul(x, half))
			return []*tensors.Tensor{tensors.FromValue([][]float32{{2, 4}, {6, 8}})}
		},
		[]any{[][]float32{{1, 2}, {3, 4}}}, 0)
}

func TestDefineScalarCache(t *testing.T) {
	backend := fusertest.BuildTestBackend()
	def := fuser.New(backend, "scalar_cache")
	a := def.DefineScalar(2, dtypes.Float32)
	b := def.DefineScalar(2, dtypes.Float32)
	c := def.DefineScalar(2, dtypes.Float64)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	def.Finalize()
}

func TestDefinitionErrors(t *testing.T) {
	backend := fusertest.BuildTestBackend()

	// Nodes cannot cross definitions.
	def1 := fuser.New(backend, "def1")
	def2 := fuser.New(backend, "def2")
	x1 := def1.DefineTensor(shapes.Make(dtypes.Float32, 2))
	x2 := def2.DefineTensor(shapes.Make(dtypes.Float32, 2))
	require.Panics(t, func() { fuser.Add(x1, x2) })

	// Compile requires at least one output.
	require.Error(t, def1.Compile())

	// No more building after Compile.
	def1.AddOutput(fuser.Neg(x1))
	require.NoError(t, def1.Compile())
	require.Panics(t, func() { fuser.Neg(x1) })

	// Execute with the wrong number or shape of inputs.
	_, err := def1.Execute()
	require.Error(t, err)
	_, err = def1.Execute(tensors.FromValue([]float32{1, 2, 3}))
	require.Error(t, err)

	def1.Finalize()
	def2.Finalize()
}

func TestExecCache(t *testing.T) {
	backend := fusertest.BuildTestBackend()
	exec := fuser.NewExec(backend, "double", func(def *fuser.Definition, inputs []*fuser.Node) {
		two := def.DefineScalar(2, inputs[0].DType())
		def.AddOutput(fuser.Mul(inputs[0], two))
	})
	defer exec.Finalize()

	outputs, err := exec.Call(tensors.FromValue([]float32{1, 2, 3}))
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.True(t, outputs[0].InDelta(tensors.FromValue([]float32{2, 4, 6}), 0))

	// Same shapes reuse the compiled definition.
	def1, err := exec.DefinitionFor(shapes.Make(dtypes.Float32, 3))
	require.NoError(t, err)
	def2, err := exec.DefinitionFor(shapes.Make(dtypes.Float32, 3))
	require.NoError(t, err)
	assert.Same(t, def1, def2)

	// New shapes compile a new definition.
	def3, err := exec.DefinitionFor(shapes.Make(dtypes.Float32, 5))
	require.NoError(t, err)
	assert.NotSame(t, def1, def3)
}

func TestExecCacheLimit(t *testing.T) {
	backend := fusertest.BuildTestBackend()
	exec := fuser.NewExec(backend, "identity", func(def *fuser.Definition, inputs []*fuser.Node) {
		def.AddOutput(fuser.Neg(fuser.Neg(inputs[0])))
	}).SetMaxCache(1)
	defer exec.Finalize()

	_, err := exec.Call(tensors.FromValue([]float32{1}))
	require.NoError(t, err)
	_, err = exec.Call(tensors.FromValue([]float32{1, 2}))
	require.ErrorContains(t, err, "SetMaxCache")
}

func TestValidate(t *testing.T) {
	backend := fusertest.BuildTestBackend()
	def := fuser.New(backend, "validate")
	x := def.DefineTensor(shapes.Make(dtypes.Float32, 3))
	def.AddOutput(fuser.Mul(x, x))
	inputs := []*tensors.Tensor{tensors.FromValue([]float32{1, 2, 3})}

	tol := fuser.DefaultTolerance(dtypes.Float32)
	require.NoError(t, def.Validate(inputs, [][]float64{{1, 4, 9}}, []fuser.Tolerance{tol}))
	err := def.Validate(inputs, [][]float64{{1, 4, 10}}, []fuser.Tolerance{tol})
	require.ErrorContains(t, err, "out of tolerance")
	def.Finalize()
}

func tensorF16(values []float32) *tensors.Tensor {
	return tensors.FromValue(values).CastAs(dtypes.Float16)
}
