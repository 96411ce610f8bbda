package fuser

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// This file implements the operations that combine Nodes into a fusion dataflow.
// They are package-level functions, so definitions read like math:
//
//	xhat := fuser.Mul(fuser.Sub(x, mean), invstd)
//
// Errors (wrong definition, incompatible shapes) panic with a stack trace.

// binaryOp applies fn to the pair of nodes, after the usual checks.
func binaryOp(opName string, fn func(lhs, rhs any) (any, error), lhs, rhs *Node) *Node {
	if lhs == nil || rhs == nil {
		exceptions.Panicf("%s: operand is nil", opName)
	}
	def := lhs.def
	def.assertBuilding(opName)
	def.checkNodes(opName, lhs, rhs)
	op, err := fn(lhs.op, rhs.op)
	if err != nil {
		panic(errors.WithMessagef(err, "definition %q: %s(%s, %s)", def.name, opName, lhs.shape, rhs.shape))
	}
	return def.newNode(op)
}

// unaryOp applies fn to the node, after the usual checks.
func unaryOp(opName string, fn func(operand any) (any, error), operand *Node) *Node {
	if operand == nil {
		exceptions.Panicf("%s: operand is nil", opName)
	}
	def := operand.def
	def.assertBuilding(opName)
	def.checkNodes(opName, operand)
	op, err := fn(operand.op)
	if err != nil {
		panic(errors.WithMessagef(err, "definition %q: %s(%s)", def.name, opName, operand.shape))
	}
	return def.newNode(op)
}

// Add returns lhs+rhs element-wise. Shapes must match, except that a scalar operand
// broadcasts implicitly.
func Add(lhs, rhs *Node) *Node {
	return binaryOp("Add", func(l, r any) (any, error) { return lhs.def.builder.Add(l, r) }, lhs, rhs)
}

// Sub returns lhs-rhs element-wise.
func Sub(lhs, rhs *Node) *Node {
	return binaryOp("Sub", func(l, r any) (any, error) { return lhs.def.builder.Sub(l, r) }, lhs, rhs)
}

// Mul returns lhs*rhs element-wise.
func Mul(lhs, rhs *Node) *Node {
	return binaryOp("Mul", func(l, r any) (any, error) { return lhs.def.builder.Mul(l, r) }, lhs, rhs)
}

// Div returns lhs/rhs element-wise.
func Div(lhs, rhs *Node) *Node {
	return binaryOp("Div", func(l, r any) (any, error) { return lhs.def.builder.Div(l, r) }, lhs, rhs)
}

// Pow returns lhs^rhs element-wise.
func Pow(lhs, rhs *Node) *Node {
	return binaryOp("Pow", func(l, r any) (any, error) { return lhs.def.builder.Pow(l, r) }, lhs, rhs)
}

// Neg returns -x element-wise.
func Neg(x *Node) *Node {
	return unaryOp("Neg", func(o any) (any, error) { return x.def.builder.Neg(o) }, x)
}

// Sqrt returns the square root of x element-wise.
func Sqrt(x *Node) *Node {
	return unaryOp("Sqrt", func(o any) (any, error) { return x.def.builder.Sqrt(o) }, x)
}

// Rsqrt returns 1/sqrt(x) element-wise.
func Rsqrt(x *Node) *Node {
	return unaryOp("Rsqrt", func(o any) (any, error) { return x.def.builder.Rsqrt(o) }, x)
}

// Exp returns e^x element-wise.
func Exp(x *Node) *Node {
	return unaryOp("Exp", func(o any) (any, error) { return x.def.builder.Exp(o) }, x)
}

// Log returns the natural logarithm of x element-wise.
func Log(x *Node) *Node {
	return unaryOp("Log", func(o any) (any, error) { return x.def.builder.Log(o) }, x)
}

// Reciprocal returns 1/x element-wise.
func Reciprocal(x *Node) *Node {
	if x == nil {
		exceptions.Panicf("Reciprocal: operand is nil")
	}
	one := x.def.DefineScalar(1, x.DType())
	return Div(one, x)
}

// Cast converts x to the given dtype, element-wise. It is a no-op if x already has
// the dtype.
func Cast(x *Node, dtype dtypes.DType) *Node {
	if x == nil {
		exceptions.Panicf("Cast: operand is nil")
	}
	if x.DType() == dtype {
		return x
	}
	def := x.def
	def.assertBuilding("Cast")
	def.checkNodes("Cast", x)
	op, err := def.builder.ConvertDType(x.op, dtype)
	if err != nil {
		panic(errors.WithMessagef(err, "definition %q: Cast(%s, %s)", def.name, x.shape, dtype))
	}
	return def.newNode(op)
}

// BroadcastInDim broadcasts x to outputShape. broadcastAxes has one value per axis of
// x, giving the output axis it maps to. Axes of dimension 1 are expanded.
func BroadcastInDim(x *Node, outputShape shapes.Shape, broadcastAxes []int) *Node {
	if x == nil {
		exceptions.Panicf("BroadcastInDim: operand is nil")
	}
	def := x.def
	def.assertBuilding("BroadcastInDim")
	def.checkNodes("BroadcastInDim", x)
	op, err := def.builder.BroadcastInDim(x.op, outputShape, broadcastAxes)
	if err != nil {
		panic(errors.WithMessagef(err, "definition %q: BroadcastInDim(%s, %s, %v)",
			def.name, x.shape, outputShape, broadcastAxes))
	}
	return def.newNode(op)
}

// BroadcastToShape broadcasts a scalar or lower-rank x to outputShape, aligning the
// axes of x with the trailing axes of outputShape.
func BroadcastToShape(x *Node, outputShape shapes.Shape) *Node {
	if x == nil {
		exceptions.Panicf("BroadcastToShape: operand is nil")
	}
	rankDiff := outputShape.Rank() - x.shape.Rank()
	if rankDiff < 0 {
		exceptions.Panicf("BroadcastToShape: cannot broadcast %s to lower rank shape %s", x.shape, outputShape)
	}
	broadcastAxes := make([]int, x.shape.Rank())
	for ii := range broadcastAxes {
		broadcastAxes[ii] = rankDiff + ii
	}
	return BroadcastInDim(x, outputShape, broadcastAxes)
}

// Sum reduces x by summing over the given axes, which are removed from the output
// shape. Negative axes count from the end. If no axes are given, it sums over all axes
// and returns a scalar.
func Sum(x *Node, axes ...int) *Node {
	if x == nil {
		exceptions.Panicf("Sum: operand is nil")
	}
	def := x.def
	def.assertBuilding("Sum")
	def.checkNodes("Sum", x)
	axes = slices.Clone(axes)
	for ii, axis := range axes {
		if axis < 0 {
			axes[ii] = axis + x.shape.Rank()
		}
	}
	op, err := def.builder.ReduceSum(x.op, axes...)
	if err != nil {
		panic(errors.WithMessagef(err, "definition %q: Sum(%s, axes=%v)", def.name, x.shape, axes))
	}
	return def.newNode(op)
}

// scalarFlat converts the value to a 1-element flat slice of the Go type matching the
// dtype.
func scalarFlat(value float64, dtype dtypes.DType) any {
	switch dtype {
	case dtypes.Float64:
		return []float64{value}
	case dtypes.Float32:
		return []float32{float32(value)}
	case dtypes.Float16:
		return []float16.Float16{float16.Fromfloat32(float32(value))}
	case dtypes.BFloat16:
		return []bfloat16.BFloat16{bfloat16.FromFloat32(float32(value))}
	case dtypes.Int32:
		return []int32{int32(value)}
	case dtypes.Int64:
		return []int64{int64(value)}
	}
	exceptions.Panicf("DefineScalar: dtype %s not supported", dtype)
	return nil
}
