package layernorm_test

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/fusionbench/fuser"
	"github.com/gomlx/fusionbench/fuser/fusertest"
	"github.com/gomlx/fusionbench/kernels/layernorm"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/fusionbench/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDTypes = []dtypes.DType{dtypes.Float64, dtypes.Float32, dtypes.Float16, dtypes.BFloat16}

func TestStatistics(t *testing.T) {
	// Two rows: [1, 2, 3] and [4, 4, 4].
	x := []float64{1, 2, 3, 4, 4, 4}
	mean, invstd := layernorm.Statistics(x, 2, 3, 0)
	require.Len(t, mean, 2)
	require.Len(t, invstd, 2)
	assert.InDelta(t, 2.0, mean[0], 1e-12)
	assert.InDelta(t, 4.0, mean[1], 1e-12)
	// Row 0 variance is 2/3.
	assert.InDelta(t, 1.0/0.816496580927726, invstd[0], 1e-9)
	// Row 1 is constant, with epsilon=0 the variance is 0.
	assert.True(t, invstd[1] > 1e9)
}

func TestBackwardMatchesReference(t *testing.T) {
	backend := fusertest.BuildTestBackend()
	sizes := [][2]int{{4, 8}, {16, 32}, {8, 768}}
	for _, dtype := range testDTypes {
		for _, size := range sizes {
			batch, hidden := size[0], size[1]
			name := fmt.Sprintf("%s_%dx%d", dtype, batch, hidden)
			t.Run(name, func(t *testing.T) {
				rng := rand.New(rand.NewPCG(42, 0))
				inputs := layernorm.NewBackwardInputs(rng, batch, hidden, dtype)

				def := fuser.New(backend, name)
				inputNodes := make([]*fuser.Node, 0, 5)
				for _, shape := range layernorm.BackwardInputShapes(batch, hidden, dtype) {
					inputNodes = append(inputNodes, def.DefineTensor(shape))
				}
				layernorm.BuildBackward(def, inputNodes)
				defer def.Finalize()

				tol := fuser.DefaultTolerance(dtype)
				err := def.Validate(inputs.Tensors(), inputs.References(),
					[]fuser.Tolerance{tol, tol, tol})
				require.NoError(t, err)
			})
		}
	}
}

func TestForwardMatchesReference(t *testing.T) {
	backend := fusertest.BuildTestBackend()
	for _, dtype := range testDTypes {
		t.Run(dtype.String(), func(t *testing.T) {
			const batch, hidden = 8, 64
			rng := rand.New(rand.NewPCG(7, 0))
			x := tensors.FromShape(shapes.Make(dtype, batch, hidden))
			x.FillNormal(rng)
			weights := tensors.FromShape(shapes.Make(dtype, hidden))
			weights.FillNormal(rng)
			bias := tensors.FromShape(shapes.Make(dtype, hidden))
			bias.FillNormal(rng)

			def := fuser.New(backend, "layernorm_forward")
			inputNodes := make([]*fuser.Node, 0, 3)
			for _, shape := range layernorm.ForwardInputShapes(batch, hidden, dtype) {
				inputNodes = append(inputNodes, def.DefineTensor(shape))
			}
			layernorm.BuildForward(def, inputNodes)
			defer def.Finalize()

			y, mean, invstd := layernorm.Forward(
				x.Float64s(), weights.Float64s(), bias.Float64s(), batch, hidden, layernorm.Epsilon)
			tol := fuser.DefaultTolerance(dtype)
			statsTol := fuser.DefaultTolerance(layernorm.StatsDType(dtype))
			err := def.Validate(
				[]*tensors.Tensor{x, weights, bias},
				[][]float64{y, mean, invstd},
				[]fuser.Tolerance{tol, statsTol, statsTol})
			require.NoError(t, err)
		})
	}
}

func TestBackwardExecCache(t *testing.T) {
	// The backward fusion compiled through the Exec path (trace-compiled baseline)
	// must agree with the direct definition.
	backend := fusertest.BuildTestBackend()
	exec := fuser.NewExec(backend, "layernorm_backward", layernorm.BuildBackward)
	defer exec.Finalize()

	rng := rand.New(rand.NewPCG(13, 0))
	inputs := layernorm.NewBackwardInputs(rng, 4, 16, dtypes.Float32)
	outputs, err := exec.Call(inputs.Tensors()...)
	require.NoError(t, err)
	require.Len(t, outputs, 3)

	tol := fuser.DefaultTolerance(dtypes.Float32)
	for ii, want := range inputs.References() {
		require.NoError(t, fuser.Compare(outputs[ii], want, tol))
	}

	// A second call with the same shapes reuses the compiled definition.
	def1, err := exec.DefinitionFor(layernorm.BackwardInputShapes(4, 16, dtypes.Float32)...)
	require.NoError(t, err)
	def2, err := exec.DefinitionFor(layernorm.BackwardInputShapes(4, 16, dtypes.Float32)...)
	require.NoError(t, err)
	assert.Same(t, def1, def2)
}

func TestIOBytes(t *testing.T) {
	// Float16: 2 bytes per element, float32 statistics.
	assert.Equal(t, 2*3*(16*32+32)+4*2*16, layernorm.IOBytes(16, 32, dtypes.Float16))
	// Float32: 4 bytes everywhere.
	assert.Equal(t, 4*3*(8*768+768)+4*2*8, layernorm.IOBytes(8, 768, dtypes.Float32))
}

func BenchmarkBackward(b *testing.B) {
	backend := fusertest.BuildTestBackend()
	sizes := [][2]int{{16, 768}, {512, 1024}}
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float16} {
		for _, size := range sizes {
			batch, hidden := size[0], size[1]
			b.Run(fmt.Sprintf("%s_%dx%d", dtype, batch, hidden), func(b *testing.B) {
				rng := rand.New(rand.NewPCG(42, 0))
				inputs := layernorm.NewBackwardInputs(rng, batch, hidden, dtype)

				def := fuser.New(backend, "layernorm_backward")
				inputNodes := make([]*fuser.Node, 0, 5)
				for _, shape := range layernorm.BackwardInputShapes(batch, hidden, dtype) {
					inputNodes = append(inputNodes, def.DefineTensor(shape))
				}
				layernorm.BuildBackward(def, inputNodes)
				defer def.Finalize()
				require.NoError(b, def.Compile())

				buffers, err := def.DeviceInputs(inputs.Tensors()...)
				require.NoError(b, err)

				b.SetBytes(int64(layernorm.IOBytes(batch, hidden, dtype)))
				b.ResetTimer()
				for range b.N {
					outputs, err := def.ExecuteBuffers(buffers, nil)
					if err != nil {
						b.Fatal(err)
					}
					b.StopTimer()
					for _, output := range outputs {
						_ = backend.BufferFinalize(output)
					}
					b.StartTimer()
				}
			})
		}
	}
}
