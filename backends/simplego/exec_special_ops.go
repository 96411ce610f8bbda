package simplego

import (
	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

func init() {
	nodeExecutors[backends.OpTypeConvertDType] = execConvertDType
	nodeExecutors[backends.OpTypeBroadcastInDim] = execBroadcastInDim
	nodeExecutors[backends.OpTypeReduceSum] = execReduceSum
}

// supportedFlat are all dtypes' underlying Go types handled by this backend.
type supportedFlat interface {
	PODNumeric | float16.Float16 | bfloat16.BFloat16
}

func rowMajorStrides(dims []int) []int {
	strides := make([]int, len(dims))
	stride := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dims[axis]
	}
	return strides
}

// execConvertDType converts the operand to the node's dtype, going through a float64
// intermediate representation.
func execConvertDType(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) (*Buffer, error) {
	operand := inputs[0]
	scratch := backend.getBuffer(dtypes.Float64, operand.shape.Size())
	values := scratch.flat.([]float64)
	if err := flatToF64(operand.shape.DType, operand.flat, values); err != nil {
		backend.putBuffer(scratch)
		return nil, err
	}
	output := backend.NewBuffer(node.shape)
	if err := f64ToFlat(values, node.shape.DType, output.flat); err != nil {
		backend.putBuffer(scratch)
		backend.putBuffer(output)
		return nil, err
	}
	backend.putBuffer(scratch)
	return output, nil
}

func flatToF64(dtype dtypes.DType, flat any, dst []float64) error {
	switch dtype {
	case dtypes.Float64:
		copy(dst, flat.([]float64))
	case dtypes.Float32:
		toF64(flat.([]float32), dst, func(v float32) float64 { return float64(v) })
	case dtypes.Int32:
		toF64(flat.([]int32), dst, func(v int32) float64 { return float64(v) })
	case dtypes.Int64:
		toF64(flat.([]int64), dst, func(v int64) float64 { return float64(v) })
	case dtypes.Float16:
		toF64(flat.([]float16.Float16), dst, func(v float16.Float16) float64 { return float64(v.Float32()) })
	case dtypes.BFloat16:
		toF64(flat.([]bfloat16.BFloat16), dst, func(v bfloat16.BFloat16) float64 { return float64(v.Float32()) })
	default:
		return errors.Errorf("ConvertDType: unsupported source dtype %s", dtype)
	}
	return nil
}

func f64ToFlat(src []float64, dtype dtypes.DType, flat any) error {
	switch dtype {
	case dtypes.Float64:
		copy(flat.([]float64), src)
	case dtypes.Float32:
		fromF64(src, flat.([]float32), func(v float64) float32 { return float32(v) })
	case dtypes.Int32:
		fromF64(src, flat.([]int32), func(v float64) int32 { return int32(v) })
	case dtypes.Int64:
		fromF64(src, flat.([]int64), func(v float64) int64 { return int64(v) })
	case dtypes.Float16:
		fromF64(src, flat.([]float16.Float16), func(v float64) float16.Float16 { return float16.Fromfloat32(float32(v)) })
	case dtypes.BFloat16:
		fromF64(src, flat.([]bfloat16.BFloat16), func(v float64) bfloat16.BFloat16 { return bfloat16.FromFloat32(float32(v)) })
	default:
		return errors.Errorf("ConvertDType: unsupported target dtype %s", dtype)
	}
	return nil
}

func toF64[T any](src []T, dst []float64, convertFn func(T) float64) {
	for ii, v := range src {
		dst[ii] = convertFn(v)
	}
}

func fromF64[T any](src []float64, dst []T, convertFn func(float64) T) {
	for ii, v := range src {
		dst[ii] = convertFn(v)
	}
}

// execBroadcastInDim copies the operand into the output shape, expanding dimension-1
// axes. Pure data movement, so all dtypes share the same generic kernel.
func execBroadcastInDim(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) (*Buffer, error) {
	operand := inputs[0]
	operandDims := operand.shape.Dimensions
	operandFlat := operand.flat
	axes := node.data.([]int)
	output := outputBufferFor(backend, node, inputs, inputsOwned)

	switch node.shape.DType {
	case dtypes.Float32:
		execBroadcastInDimGeneric(operandFlat.([]float32), operandDims, axes, output.flat.([]float32), node.shape.Dimensions)
	case dtypes.Float64:
		execBroadcastInDimGeneric(operandFlat.([]float64), operandDims, axes, output.flat.([]float64), node.shape.Dimensions)
	case dtypes.Int32:
		execBroadcastInDimGeneric(operandFlat.([]int32), operandDims, axes, output.flat.([]int32), node.shape.Dimensions)
	case dtypes.Int64:
		execBroadcastInDimGeneric(operandFlat.([]int64), operandDims, axes, output.flat.([]int64), node.shape.Dimensions)
	case dtypes.Float16:
		execBroadcastInDimGeneric(operandFlat.([]float16.Float16), operandDims, axes, output.flat.([]float16.Float16), node.shape.Dimensions)
	case dtypes.BFloat16:
		execBroadcastInDimGeneric(operandFlat.([]bfloat16.BFloat16), operandDims, axes, output.flat.([]bfloat16.BFloat16), node.shape.Dimensions)
	default:
		backend.putBuffer(output)
		return nil, errors.Errorf("BroadcastInDim: unsupported dtype %s", node.shape.DType)
	}
	return output, nil
}

func execBroadcastInDimGeneric[T supportedFlat](src []T, srcDims, broadcastAxes []int, dst []T, dstDims []int) {
	srcStrides := rowMajorStrides(srcDims)
	// contrib is, per output axis, how much the source index advances when that output
	// axis increments: 0 for broadcast (expanded or absent) axes.
	contrib := make([]int, len(dstDims))
	for operandAxis, outputAxis := range broadcastAxes {
		if srcDims[operandAxis] > 1 {
			contrib[outputAxis] = srcStrides[operandAxis]
		}
	}
	pos := make([]int, len(dstDims))
	srcIdx := 0
	for dstIdx := range dst {
		dst[dstIdx] = src[srcIdx]
		for axis := len(dstDims) - 1; axis >= 0; axis-- {
			pos[axis]++
			srcIdx += contrib[axis]
			if pos[axis] < dstDims[axis] {
				break
			}
			pos[axis] = 0
			srcIdx -= contrib[axis] * dstDims[axis]
		}
	}
}

// execReduceSum sums the operand over the node's (sorted) reduction axes.
// float16 and bfloat16 accumulate in float32.
func execReduceSum(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) (*Buffer, error) {
	operand := inputs[0]
	operandDims := operand.shape.Dimensions
	operandFlat := operand.flat
	axes := node.data.([]int)
	reduced := make([]bool, len(operandDims))
	for _, axis := range axes {
		reduced[axis] = true
	}
	// The output never aliases the (larger) operand buffer.
	output := backend.NewBuffer(node.shape)

	switch node.shape.DType {
	case dtypes.Float32:
		execReduceSumGeneric(operandFlat.([]float32), operandDims, reduced, output.flat.([]float32))
	case dtypes.Float64:
		execReduceSumGeneric(operandFlat.([]float64), operandDims, reduced, output.flat.([]float64))
	case dtypes.Int32:
		execReduceSumGeneric(operandFlat.([]int32), operandDims, reduced, output.flat.([]int32))
	case dtypes.Int64:
		execReduceSumGeneric(operandFlat.([]int64), operandDims, reduced, output.flat.([]int64))
	case dtypes.Float16:
		operandF16 := operandFlat.([]float16.Float16)
		srcScratch := backend.float32Scratch(len(operandF16))
		dstScratch := backend.float32Scratch(node.shape.Size())
		f16ToF32(operandF16, srcScratch.flat.([]float32))
		execReduceSumGeneric(srcScratch.flat.([]float32), operandDims, reduced, dstScratch.flat.([]float32))
		f32ToF16(dstScratch.flat.([]float32), output.flat.([]float16.Float16))
		backend.putBuffer(srcScratch)
		backend.putBuffer(dstScratch)
	case dtypes.BFloat16:
		operandBF16 := operandFlat.([]bfloat16.BFloat16)
		srcScratch := backend.float32Scratch(len(operandBF16))
		dstScratch := backend.float32Scratch(node.shape.Size())
		bf16ToF32(operandBF16, srcScratch.flat.([]float32))
		execReduceSumGeneric(srcScratch.flat.([]float32), operandDims, reduced, dstScratch.flat.([]float32))
		f32ToBF16(dstScratch.flat.([]float32), output.flat.([]bfloat16.BFloat16))
		backend.putBuffer(srcScratch)
		backend.putBuffer(dstScratch)
	default:
		backend.putBuffer(output)
		return nil, errors.Errorf("ReduceSum: unsupported dtype %s", node.shape.DType)
	}
	return output, nil
}

func execReduceSumGeneric[T PODNumeric](src []T, srcDims []int, reduced []bool, dst []T) {
	for ii := range dst {
		dst[ii] = 0
	}
	// dstContrib is, per source axis, how much the destination index advances when that
	// source axis increments: 0 for reduced axes.
	var dstDims []int
	for axis, dim := range srcDims {
		if !reduced[axis] {
			dstDims = append(dstDims, dim)
		}
	}
	dstStrides := rowMajorStrides(dstDims)
	dstContrib := make([]int, len(srcDims))
	keptAxis := 0
	for axis := range srcDims {
		if !reduced[axis] {
			dstContrib[axis] = dstStrides[keptAxis]
			keptAxis++
		}
	}
	pos := make([]int, len(srcDims))
	dstIdx := 0
	for srcIdx := range src {
		dst[dstIdx] += src[srcIdx]
		for axis := len(srcDims) - 1; axis >= 0; axis-- {
			pos[axis]++
			dstIdx += dstContrib[axis]
			if pos[axis] < srcDims[axis] {
				break
			}
			pos[axis] = 0
			dstIdx -= dstContrib[axis] * srcDims[axis]
		}
	}
}
