// Package layernorm defines the layer normalization forward and backward fusions over
// a [batch, hidden] input, normalized over the hidden axis, together with a float64
// host reference used to validate them.
//
// The backward fusion is the interesting one for fusion benchmarks: it mixes
// element-wise operations with reductions over both axes, so a fusion compiler has to
// keep intermediates in registers across the reductions to reach memory bandwidth.
package layernorm

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusionbench/fuser"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Epsilon added to the variance before taking the reciprocal square root.
const Epsilon = 1e-5

// ComputeDType returns the dtype arithmetic is done in: reduced-precision inputs
// (Float16, BFloat16) are promoted to Float32.
func ComputeDType(dtype dtypes.DType) dtypes.DType {
	switch dtype {
	case dtypes.Float16, dtypes.BFloat16:
		return dtypes.Float32
	case dtypes.Float32, dtypes.Float64:
		return dtype
	}
	exceptions.Panicf("layernorm: dtype %s not supported", dtype)
	return dtypes.InvalidDType
}

// StatsDType returns the dtype the per-row statistics (mean and inverse standard
// deviation) are stored in.
func StatsDType(dtype dtypes.DType) dtypes.DType {
	return ComputeDType(dtype)
}

// ForwardInputShapes returns the input shapes of the forward fusion, in order:
// x [batch, hidden], weights [hidden], bias [hidden].
func ForwardInputShapes(batch, hidden int, dtype dtypes.DType) []shapes.Shape {
	return []shapes.Shape{
		shapes.Make(dtype, batch, hidden),
		shapes.Make(dtype, hidden),
		shapes.Make(dtype, hidden),
	}
}

// BackwardInputShapes returns the input shapes of the backward fusion, in order:
// x [batch, hidden], grad [batch, hidden], mean [batch], invstd [batch, 1],
// weights [hidden]. The statistics are carried in the compute dtype.
func BackwardInputShapes(batch, hidden int, dtype dtypes.DType) []shapes.Shape {
	stats := StatsDType(dtype)
	return []shapes.Shape{
		shapes.Make(dtype, batch, hidden),
		shapes.Make(dtype, batch, hidden),
		shapes.Make(stats, batch),
		shapes.Make(stats, batch, 1),
		shapes.Make(dtype, hidden),
	}
}

// BuildForward wires the forward layer normalization onto def.
//
// Inputs (in BuildForward order): x [batch, hidden], weights [hidden], bias [hidden].
// It registers three outputs: y [batch, hidden] in the input dtype, mean [batch] and
// invstd [batch, 1] in the compute dtype.
func BuildForward(def *fuser.Definition, inputs []*fuser.Node) {
	if len(inputs) != 3 {
		exceptions.Panicf("layernorm.BuildForward: expected 3 inputs (x, weights, bias), got %d", len(inputs))
	}
	x, weights, bias := inputs[0], inputs[1], inputs[2]
	dtype := x.DType()
	compute := ComputeDType(dtype)
	shapes.AssertRank(x, 2)
	batch, hidden := x.Shape().Dim(0), x.Shape().Dim(1)
	shapes.AssertDims(weights, hidden)
	shapes.AssertDims(bias, hidden)
	rowsShape := shapes.Make(compute, batch, hidden)

	xF := fuser.Cast(x, compute)
	wF := fuser.Cast(weights, compute)
	bF := fuser.Cast(bias, compute)

	oneOverH := def.DefineScalar(1.0/float64(hidden), compute)
	mean := fuser.Mul(fuser.Sum(xF, 1), oneOverH)
	meanRows := fuser.BroadcastInDim(mean, rowsShape, []int{0})
	centered := fuser.Sub(xF, meanRows)
	variance := fuser.Mul(fuser.Sum(fuser.Mul(centered, centered), 1), oneOverH)
	epsilon := def.DefineScalar(Epsilon, compute)
	invstd := fuser.Rsqrt(fuser.Add(variance, epsilon))
	invstdRows := fuser.BroadcastInDim(invstd, rowsShape, []int{0})

	xhat := fuser.Mul(centered, invstdRows)
	wRows := fuser.BroadcastInDim(wF, rowsShape, []int{1})
	bRows := fuser.BroadcastInDim(bF, rowsShape, []int{1})
	y := fuser.Add(fuser.Mul(xhat, wRows), bRows)

	def.AddOutput(fuser.Cast(y, dtype))
	def.AddOutput(mean)
	def.AddOutput(fuser.BroadcastInDim(invstd, shapes.Make(compute, batch, 1), []int{0}))
}

// BuildBackward wires the fused layer normalization backward pass onto def.
//
// Inputs (in BackwardInputShapes order): x, grad, mean, invstd, weights. It registers
// three outputs: gradInput [batch, hidden] and gradWeight, gradBias [hidden], all in
// the input dtype.
//
// Writing g = grad*weights, the input gradient decomposes into the direct term
// g*invstd, the variance term (2/hidden)*(x-mean)*dvar with
// dvar = -0.5*invstd^3*sum_h(g*(x-mean)), and the mean term
// (1/hidden)*dmean with dmean = -invstd*sum_h(g). All arithmetic happens in the
// compute dtype, and the outputs are cast back at the end.
func BuildBackward(def *fuser.Definition, inputs []*fuser.Node) {
	if len(inputs) != 5 {
		exceptions.Panicf("layernorm.BuildBackward: expected 5 inputs (x, grad, mean, invstd, weights), got %d", len(inputs))
	}
	x, grad, mean, invstd, weights := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]
	dtype := x.DType()
	compute := ComputeDType(dtype)
	shapes.AssertRank(x, 2)
	batch, hidden := x.Shape().Dim(0), x.Shape().Dim(1)
	shapes.AssertDims(grad, batch, hidden)
	shapes.AssertDims(mean, batch)
	shapes.AssertDims(invstd, batch, 1)
	shapes.AssertDims(weights, hidden)
	rowsShape := shapes.Make(compute, batch, hidden)

	xF := fuser.Cast(x, compute)
	gradF := fuser.Cast(grad, compute)
	wF := fuser.Cast(weights, compute)

	meanRows := fuser.BroadcastInDim(mean, rowsShape, []int{0})
	invstdRows := fuser.BroadcastInDim(invstd, rowsShape, []int{0, 1})
	wRows := fuser.BroadcastInDim(wF, rowsShape, []int{1})

	centered := fuser.Sub(xF, meanRows)
	xhat := fuser.Mul(centered, invstdRows)

	// Weights and bias gradients reduce over the batch axis.
	gradBias := fuser.Sum(gradF, 0)
	gradWeight := fuser.Sum(fuser.Mul(gradF, xhat), 0)

	// Input gradient: direct, variance and mean terms, reducing over the hidden axis.
	g := fuser.Mul(gradF, wRows)
	direct := fuser.Mul(g, invstdRows)

	invstdCubed := fuser.Pow(invstd, def.DefineScalar(3, compute))
	negHalf := def.DefineScalar(-0.5, compute)
	sumGCentered := fuser.Sum(fuser.Mul(g, centered), 1)
	dvar := fuser.Mul(negHalf, fuser.Mul(
		fuser.BroadcastInDim(invstdCubed, rowsShape, []int{0, 1}),
		fuser.BroadcastInDim(sumGCentered, rowsShape, []int{0})))
	twoOverH := def.DefineScalar(2.0/float64(hidden), compute)
	varianceTerm := fuser.Mul(twoOverH, fuser.Mul(centered, dvar))

	sumG := fuser.Sum(g, 1)
	dmean := fuser.Neg(fuser.Mul(fuser.BroadcastInDim(sumG, rowsShape, []int{0}), invstdRows))
	oneOverH := def.DefineScalar(1.0/float64(hidden), compute)
	meanTerm := fuser.Mul(oneOverH, dmean)

	gradInput := fuser.Add(direct, fuser.Add(varianceTerm, meanTerm))

	def.AddOutput(fuser.Cast(gradInput, dtype))
	def.AddOutput(fuser.Cast(gradWeight, dtype))
	def.AddOutput(fuser.Cast(gradBias, dtype))
}

// IOBytes returns the number of bytes a perfectly fused backward kernel has to move:
// reads of x, grad and weights, writes of gradInput, gradWeight and gradBias, plus the
// float32 mean and invstd statistics. Used to turn measured times into an effective
// memory bandwidth.
func IOBytes(batch, hidden int, dtype dtypes.DType) int {
	itemSize := int(dtype.Memory())
	statsSize := int(StatsDType(dtype).Memory())
	return itemSize*3*(batch*hidden+hidden) + statsSize*2*batch
}
