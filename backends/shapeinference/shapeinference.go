// Package shapeinference calculates the shape resulting from operations, and validates
// its inputs.
//
// Both backends use it, so an invalid program produces the same error whichever
// executor runs it.
package shapeinference

import (
	"slices"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// FloatOperations are operations only defined for float dtypes.
var FloatOperations = map[backends.OpType]bool{
	backends.OpTypeSqrt:  true,
	backends.OpTypeRsqrt: true,
	backends.OpTypeExp:   true,
	backends.OpTypeLog:   true,
	backends.OpTypePow:   true,
}

func checkFloat(opType backends.OpType, dtype dtypes.DType) error {
	if FloatOperations[opType] && !dtype.IsFloat() {
		return errors.Errorf("operation %s is only defined for float dtypes, got %s", opType, dtype)
	}
	return nil
}

// UnaryOp checks the validity of the operand dtype for the given unary operation and
// returns the output shape, which is the same as the operand's.
func UnaryOp(opType backends.OpType, operand shapes.Shape) (shapes.Shape, error) {
	if !opType.IsUnary() {
		return shapes.Invalid(), errors.Errorf("operation %s is not unary", opType)
	}
	if !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("invalid operand shape for %s", opType)
	}
	if err := checkFloat(opType, operand.DType); err != nil {
		return shapes.Invalid(), err
	}
	return operand.Clone(), nil
}

// BinaryOp returns the output shape of the given binary operation.
//
// Both operands must have the same DType, and either the same dimensions or one of the
// two must be a scalar, in which case it is implicitly broadcast to the other's shape.
func BinaryOp(opType backends.OpType, lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if !opType.IsBinary() {
		return shapes.Invalid(), errors.Errorf("operation %s is not binary", opType)
	}
	if !lhs.Ok() || !rhs.Ok() {
		return shapes.Invalid(), errors.Errorf("invalid operand shapes (%s, %s) for %s", lhs, rhs, opType)
	}
	if lhs.DType != rhs.DType {
		return shapes.Invalid(), errors.Errorf(
			"binary operation %s requires both operands to have the same dtype, got %s and %s -- "+
				"use ConvertDType to promote one of them", opType, lhs, rhs)
	}
	if err := checkFloat(opType, lhs.DType); err != nil {
		return shapes.Invalid(), err
	}
	if lhs.IsScalar() {
		return rhs.Clone(), nil
	}
	if rhs.IsScalar() {
		return lhs.Clone(), nil
	}
	if !lhs.EqualDimensions(rhs) {
		return shapes.Invalid(), errors.Errorf(
			"binary operation %s requires operands with equal dimensions or a scalar operand, got %s and %s -- "+
				"broadcasting must be explicit, with BroadcastInDim", opType, lhs, rhs)
	}
	return lhs.Clone(), nil
}

// ConvertOp returns the shape of the operand converted to the given dtype.
func ConvertOp(operand shapes.Shape, dtype dtypes.DType) (shapes.Shape, error) {
	if !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("invalid operand shape for ConvertDType")
	}
	if dtype == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Errorf("ConvertDType to an invalid dtype")
	}
	output := operand.Clone()
	output.DType = dtype
	return output, nil
}

// BroadcastInDimOp validates a BroadcastInDim: broadcastAxes must have one entry per
// operand axis, mapping it (in increasing order) to an axis of outputShape, and each
// operand dimension must be 1 or equal to the output dimension it maps to.
func BroadcastInDimOp(operand, outputShape shapes.Shape, broadcastAxes []int) error {
	if !operand.Ok() || !outputShape.Ok() {
		return errors.Errorf("invalid shapes for BroadcastInDim")
	}
	if operand.DType != outputShape.DType {
		return errors.Errorf("BroadcastInDim cannot change the dtype: operand is %s, output is %s",
			operand, outputShape)
	}
	if len(broadcastAxes) != operand.Rank() {
		return errors.Errorf("BroadcastInDim requires one broadcast axis per operand axis: "+
			"operand rank is %d, got %d axes", operand.Rank(), len(broadcastAxes))
	}
	previousAxis := -1
	for operandAxis, outputAxis := range broadcastAxes {
		if outputAxis < 0 || outputAxis >= outputShape.Rank() {
			return errors.Errorf("BroadcastInDim axis %d is out-of-bounds for output shape %s",
				outputAxis, outputShape)
		}
		if outputAxis <= previousAxis {
			return errors.Errorf("BroadcastInDim axes must be increasing, got %v", broadcastAxes)
		}
		previousAxis = outputAxis
		operandDim := operand.Dimensions[operandAxis]
		if operandDim != 1 && operandDim != outputShape.Dimensions[outputAxis] {
			return errors.Errorf("BroadcastInDim operand axis %d (dimension %d) doesn't match "+
				"output axis %d (dimension %d) and is not 1",
				operandAxis, operandDim, outputAxis, outputShape.Dimensions[outputAxis])
		}
	}
	return nil
}

// ReduceOp returns the shape of the operand reduced over the given axes, which are
// removed from the shape. Axes must be in-range and not repeated. If axes is empty, the
// reduction is over all axes, and the output is a scalar.
func ReduceOp(operand shapes.Shape, axes []int) (shapes.Shape, error) {
	if !operand.Ok() {
		return shapes.Invalid(), errors.Errorf("invalid operand shape for reduction")
	}
	if len(axes) == 0 {
		return shapes.Make(operand.DType), nil
	}
	seen := make([]bool, operand.Rank())
	for _, axis := range axes {
		if axis < 0 || axis >= operand.Rank() {
			return shapes.Invalid(), errors.Errorf("reduction axis %d is out-of-bounds for shape %s",
				axis, operand)
		}
		if seen[axis] {
			return shapes.Invalid(), errors.Errorf("reduction axis %d is repeated in %v", axis, axes)
		}
		seen[axis] = true
	}
	output := shapes.Shape{DType: operand.DType}
	for axis, dim := range operand.Dimensions {
		if !seen[axis] {
			output.Dimensions = append(output.Dimensions, dim)
		}
	}
	return output, nil
}

// SortedAxes returns a sorted copy of the given reduction axes. Backends use it so the
// reduction order is deterministic whatever the caller passed.
func SortedAxes(axes []int) []int {
	sorted := slices.Clone(axes)
	slices.Sort(sorted)
	return sorted
}
