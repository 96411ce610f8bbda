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
		backends.OpTypeNeg, backends.OpTypeSqrt, backends.OpTypeRsqrt,
		backends.OpTypeExp, backends.OpTypeLog,
	} {
		nodeExecutors[opType] = execUnary
	}
}

func execUnary(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) (*Buffer, error) {
	operandFlat := inputs[0].flat
	output := outputBufferFor(backend, node, inputs, inputsOwned)

	switch node.shape.DType {
	case dtypes.Float32:
		execUnaryGeneric(node.opType, operandFlat.([]float32), output.flat.([]float32))
	case dtypes.Float64:
		execUnaryGeneric(node.opType, operandFlat.([]float64), output.flat.([]float64))
	case dtypes.Int32:
		execUnaryGeneric(node.opType, operandFlat.([]int32), output.flat.([]int32))
	case dtypes.Int64:
		execUnaryGeneric(node.opType, operandFlat.([]int64), output.flat.([]int64))
	case dtypes.Float16:
		operandF16 := operandFlat.([]float16.Float16)
		scratch := backend.float32Scratch(len(operandF16))
		f16ToF32(operandF16, scratch.flat.([]float32))
		execUnaryGeneric(node.opType, scratch.flat.([]float32), scratch.flat.([]float32))
		f32ToF16(scratch.flat.([]float32), output.flat.([]float16.Float16))
		backend.putBuffer(scratch)
	case dtypes.BFloat16:
		operandBF16 := operandFlat.([]bfloat16.BFloat16)
		scratch := backend.float32Scratch(len(operandBF16))
		bf16ToF32(operandBF16, scratch.flat.([]float32))
		execUnaryGeneric(node.opType, scratch.flat.([]float32), scratch.flat.([]float32))
		f32ToBF16(scratch.flat.([]float32), output.flat.([]bfloat16.BFloat16))
		backend.putBuffer(scratch)
	default:
		backend.putBuffer(output)
		return nil, errors.Errorf("%s: unsupported dtype %s", node.opType, node.shape.DType)
	}
	return output, nil
}

func execUnaryGeneric[T PODNumeric](opType backends.OpType, operand, output []T) {
	switch opType {
	case backends.OpTypeNeg:
		for ii, v := range operand {
			output[ii] = -v
		}
	case backends.OpTypeSqrt:
		for ii, v := range operand {
			output[ii] = T(math.Sqrt(float64(v)))
		}
	case backends.OpTypeRsqrt:
		for ii, v := range operand {
			output[ii] = T(1.0 / math.Sqrt(float64(v)))
		}
	case backends.OpTypeExp:
		for ii, v := range operand {
			output[ii] = T(math.Exp(float64(v)))
		}
	case backends.OpTypeLog:
		for ii, v := range operand {
			output[ii] = T(math.Log(float64(v)))
		}
	}
}
