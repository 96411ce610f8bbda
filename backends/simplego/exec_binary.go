package simplego

import (
	"math"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

func init() {
	for _, opType := range []backends.OpType{
		backends.OpTypeAdd, backends.OpTypeSub, backends.OpTypeMul,
		backends.OpTypeDiv, backends.OpTypePow,
	} {
		nodeExecutors[opType] = execBinary
	}
}

// execBinary executes a binary op. Either both operands have the same size, or one of
// them is a scalar, implicitly broadcast.
func execBinary(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) (*Buffer, error) {
	lhs, rhs := inputs[0], inputs[1]
	lhsFlat, rhsFlat := lhs.flat, rhs.flat
	// Capture the flat references before outputBufferFor, which may hand one of the
	// input buffers over for in-place reuse.
	output := outputBufferFor(backend, node, inputs, inputsOwned)

	switch node.shape.DType {
	case dtypes.Float32:
		execBinaryGeneric(node.opType, lhsFlat.([]float32), rhsFlat.([]float32), output.flat.([]float32))
	case dtypes.Float64:
		execBinaryGeneric(node.opType, lhsFlat.([]float64), rhsFlat.([]float64), output.flat.([]float64))
	case dtypes.Int32:
		execBinaryGeneric(node.opType, lhsFlat.([]int32), rhsFlat.([]int32), output.flat.([]int32))
	case dtypes.Int64:
		execBinaryGeneric(node.opType, lhsFlat.([]int64), rhsFlat.([]int64), output.flat.([]int64))
	case dtypes.Float16:
		lhsF16, rhsF16 := lhsFlat.([]float16.Float16), rhsFlat.([]float16.Float16)
		lhsScratch := backend.float32Scratch(len(lhsF16))
		rhsScratch := backend.float32Scratch(len(rhsF16))
		outScratch := backend.float32Scratch(node.shape.Size())
		f16ToF32(lhsF16, lhsScratch.flat.([]float32))
		f16ToF32(rhsF16, rhsScratch.flat.([]float32))
		execBinaryGeneric(node.opType, lhsScratch.flat.([]float32), rhsScratch.flat.([]float32), outScratch.flat.([]float32))
		f32ToF16(outScratch.flat.([]float32), output.flat.([]float16.Float16))
		backend.putBuffer(lhsScratch)
		backend.putBuffer(rhsScratch)
		backend.putBuffer(outScratch)
	case dtypes.BFloat16:
		lhsBF16, rhsBF16 := lhsFlat.([]bfloat16.BFloat16), rhsFlat.([]bfloat16.BFloat16)
		lhsScratch := backend.float32Scratch(len(lhsBF16))
		rhsScratch := backend.float32Scratch(len(rhsBF16))
		outScratch := backend.float32Scratch(node.shape.Size())
		bf16ToF32(lhsBF16, lhsScratch.flat.([]float32))
		bf16ToF32(rhsBF16, rhsScratch.flat.([]float32))
		execBinaryGeneric(node.opType, lhsScratch.flat.([]float32), rhsScratch.flat.([]float32), outScratch.flat.([]float32))
		f32ToBF16(outScratch.flat.([]float32), output.flat.([]bfloat16.BFloat16))
		backend.putBuffer(lhsScratch)
		backend.putBuffer(rhsScratch)
		backend.putBuffer(outScratch)
	default:
		backend.putBuffer(output)
		return nil, errors.Errorf("%s: unsupported dtype %s", node.opType, node.shape.DType)
	}
	return output, nil
}

// execBinaryGeneric computes the binary op element-wise, with the scalar fast-paths.
// In-place execution (output aliasing lhs or rhs) is safe: each element is read before
// it is written.
func execBinaryGeneric[T PODNumeric](opType backends.OpType, lhs, rhs, output []T) {
	var fn func(a, b T) T
	switch opType {
	case backends.OpTypeAdd:
		fn = func(a, b T) T { return a + b }
	case backends.OpTypeSub:
		fn = func(a, b T) T { return a - b }
	case backends.OpTypeMul:
		fn = func(a, b T) T { return a * b }
	case backends.OpTypeDiv:
		fn = func(a, b T) T { return a / b }
	case backends.OpTypePow:
		fn = func(a, b T) T { return T(math.Pow(float64(a), float64(b))) }
	}
	switch {
	case len(lhs) == 1:
		scalar := lhs[0]
		for ii := range output {
			output[ii] = fn(scalar, rhs[ii])
		}
	case len(rhs) == 1:
		scalar := rhs[0]
		for ii := range output {
			output[ii] = fn(lhs[ii], scalar)
		}
	default:
		for ii := range output {
			output[ii] = fn(lhs[ii], rhs[ii])
		}
	}
}
