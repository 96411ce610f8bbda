package backends

import (
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Op represents the output of an operation, during the computation graph building time.
//
// It is opaque from the caller's perspective: it passes Op as input to the other builder
// methods.
type Op any

// Builder defines the set of ops needed to build a fusion definition.
// It is the sub-interface of Backend.
//
// A Builder is single-use: after Compile it is invalid. Ops are recorded in the order
// the methods are called; Parameter order defines the input order at execution.
type Builder interface {
	// Name of the computation being built.
	Name() string

	// Compile the computation built. This immediately invalidates the Builder and
	// returns an Executable that can now be used to run the computation.
	//
	// It is given the list of outputs, which must be non-empty.
	Compile(outputs ...Op) (Executable, error)

	// OpShape returns the shape of a computation Op.
	// Notice this is not an operation and doesn't change the computation being built.
	OpShape(op Op) (shapes.Shape, error)

	// Parameter creates an input parameter for the computation.
	// During execution of a compiled computation this value will need to be fed in the
	// same order it is created.
	Parameter(name string, shape shapes.Shape) (Op, error)

	// Constant creates a constant in the computation with the given flat values, and
	// the shape defined by dims.
	//
	// The flat value must be a slice of a supported basic type. The value is copied.
	Constant(flat any, dims ...int) (Op, error)

	// StandardOps are the math operations a fusion definition is composed of.
	StandardOps
}

// StandardOps is the set of math operations a Builder must support.
//
// Binary operations require both operands to have the same DType, and either the same
// dimensions or one of the operands to be a scalar, in which case it is implicitly
// broadcast. All other broadcasting must be explicit, with BroadcastInDim.
type StandardOps interface {
	// Add returns the element-wise sum of the two values.
	Add(lhs, rhs Op) (Op, error)

	// Sub returns the element-wise subtraction of the two values.
	Sub(lhs, rhs Op) (Op, error)

	// Mul returns the element-wise multiplication of the two values.
	Mul(lhs, rhs Op) (Op, error)

	// Div returns the element-wise division of the two values.
	Div(lhs, rhs Op) (Op, error)

	// Pow returns the element-wise lhs raised to the power of rhs.
	Pow(lhs, rhs Op) (Op, error)

	// Neg returns the element-wise negation of the value.
	Neg(operand Op) (Op, error)

	// Sqrt returns the element-wise square root of the value.
	Sqrt(operand Op) (Op, error)

	// Rsqrt returns the element-wise reciprocal of the square root of the value.
	Rsqrt(operand Op) (Op, error)

	// Exp returns the element-wise exponential of the value.
	Exp(operand Op) (Op, error)

	// Log returns the element-wise natural logarithm of the value.
	Log(operand Op) (Op, error)

	// ConvertDType converts the values of the operand to the given dtype.
	ConvertDType(operand Op, dtype dtypes.DType) (Op, error)

	// BroadcastInDim broadcasts the operand to the given outputShape.
	//
	// broadcastAxes must have one value per operand axis, mapping it to an axis of the
	// output shape. The operand dimension must either match the output dimension it
	// maps to, or be 1, in which case it is expanded.
	BroadcastInDim(operand Op, outputShape shapes.Shape, broadcastAxes []int) (Op, error)

	// ReduceSum sums the operand over the given axes, which are removed from the
	// output shape (no keep-dims). If no axes are given, it reduces over all axes,
	// returning a scalar.
	ReduceSum(operand Op, axes ...int) (Op, error)
}
