package layernorm

import (
	"math/rand/v2"

	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/fusionbench/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// BackwardInputs holds the host tensors fed to the backward fusion, and computes the
// float64 reference outputs from their (already rounded) values.
type BackwardInputs struct {
	Batch, Hidden int
	DType         dtypes.DType

	X, Grad, Mean, Invstd, Weights *tensors.Tensor
}

// NewBackwardInputs generates random inputs for the backward fusion of the given size
// and dtype. The statistics are computed from x (after rounding to the dtype), so they
// are consistent with what a forward pass would have produced.
func NewBackwardInputs(rng *rand.Rand, batch, hidden int, dtype dtypes.DType) *BackwardInputs {
	stats := StatsDType(dtype)
	inputs := &BackwardInputs{
		Batch:  batch,
		Hidden: hidden,
		DType:  dtype,
	}
	inputs.X = tensors.FromShape(shapes.Make(dtype, batch, hidden))
	inputs.X.FillNormal(rng)
	inputs.Grad = tensors.FromShape(shapes.Make(dtype, batch, hidden))
	inputs.Grad.FillNormal(rng)
	inputs.Weights = tensors.FromShape(shapes.Make(dtype, hidden))
	inputs.Weights.FillNormal(rng)

	mean, invstd := Statistics(inputs.X.Float64s(), batch, hidden, Epsilon)
	inputs.Mean = tensors.FromFlatDataAndDimensions(mean, batch).CastAs(stats)
	inputs.Invstd = tensors.FromFlatDataAndDimensions(invstd, batch, 1).CastAs(stats)
	return inputs
}

// Tensors returns the inputs in BackwardInputShapes order: x, grad, mean, invstd,
// weights.
func (in *BackwardInputs) Tensors() []*tensors.Tensor {
	return []*tensors.Tensor{in.X, in.Grad, in.Mean, in.Invstd, in.Weights}
}

// References computes the float64 expected outputs, in the fusion's output order:
// gradInput, gradWeight, gradBias.
//
// The reference consumes the rounded input values (the same bits the fusion sees), so
// the comparison only measures the arithmetic error of the implementation, not the
// quantization of the inputs.
func (in *BackwardInputs) References() [][]float64 {
	gradInput, gradWeight, gradBias := Backward(
		in.X.Float64s(), in.Grad.Float64s(), in.Mean.Float64s(), in.Invstd.Float64s(), in.Weights.Float64s(),
		in.Batch, in.Hidden)
	return [][]float64{gradInput, gradWeight, gradBias}
}
