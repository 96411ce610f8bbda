package xla

import (
	"reflect"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/xlabuilder"
	"github.com/pkg/errors"
)

// Builder implements the backends.Builder interface using
// github.com/gomlx/gopjrt/xlabuilder.
type Builder struct {
	name    string
	backend *Backend
	builder *xlabuilder.XlaBuilder

	parameterNames  []string
	parameterShapes []shapes.Shape
	compiled        bool
}

// Compile-time check.
var _ backends.Builder = (*Builder)(nil)

// Builder creates a new builder used to define a new computation.
func (backend *Backend) Builder(name string) backends.Builder {
	backend.AssertValid()
	return &Builder{
		backend: backend,
		builder: xlabuilder.New(name),
		name:    name,
	}
}

// Name of the computation being built.
func (b *Builder) Name() string {
	return b.name
}

// CheckValid returns an error if the builder is nil or has already been compiled.
func (b *Builder) CheckValid() error {
	if b == nil || b.builder == nil {
		return errors.Errorf("backend %q: Builder is nil or already finalized", BackendName)
	}
	if b.compiled {
		return errors.Errorf("backend %q: Builder %q has already been compiled", BackendName, b.name)
	}
	return nil
}

// castToXlaOp casts the op to xlabuilder.Op.
func castToXlaOp(op backends.Op) (*xlabuilder.Op, error) {
	xOp, ok := op.(*xlabuilder.Op)
	if !ok {
		return nil, errors.Errorf("op given was not created by the %q backend", BackendName)
	}
	return xOp, nil
}

func xshapeToShape(xshape xlabuilder.Shape) shapes.Shape {
	return shapes.Make(xshape.DType, xshape.Dimensions...)
}

func shapeToXShape(shape shapes.Shape) xlabuilder.Shape {
	return xlabuilder.MakeShape(shape.DType, shape.Dimensions...)
}

// OpShape returns the shape of a computation Op.
func (b *Builder) OpShape(op backends.Op) (shapes.Shape, error) {
	if err := b.CheckValid(); err != nil {
		return shapes.Invalid(), err
	}
	xOp, err := castToXlaOp(op)
	if err != nil {
		return shapes.Invalid(), err
	}
	return xshapeToShape(xOp.Shape), nil
}

// Parameter creates an input parameter for the computation.
// During execution of the computation this value will need to be fed, in the same order
// it is created.
func (b *Builder) Parameter(name string, shape shapes.Shape) (backends.Op, error) {
	if err := b.CheckValid(); err != nil {
		return nil, err
	}
	op, err := xlabuilder.Parameter(b.builder, name, len(b.parameterNames), shapeToXShape(shape))
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: Parameter(%q, %s)", BackendName, name, shape)
	}
	b.parameterNames = append(b.parameterNames, name)
	b.parameterShapes = append(b.parameterShapes, shape.Clone())
	return op, nil
}

// Constant creates a constant in the graph with the given flat values, and the shape
// defined by dims.
//
// The flat value must be a slice of a basic type supported -- that can be converted to
// a DType. The value is copied into the graph.
func (b *Builder) Constant(flat any, dims ...int) (backends.Op, error) {
	if err := b.CheckValid(); err != nil {
		return nil, err
	}
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("backend %q: Constant expects a slice, got %T instead", BackendName, flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("backend %q: Constant expects a slice of valid DTypes, got %T instead", BackendName, flat)
	}
	literal := xlabuilder.NewArrayLiteralFromAny(flat, dims...)
	op, err := xlabuilder.Constant(b.builder, literal)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: Constant(%T, dims=%v)", BackendName, flat, dims)
	}
	return op, nil
}

// binaryOp is the helper for the binary operations.
func (b *Builder) binaryOp(opName string, fn func(lhs, rhs *xlabuilder.Op) (*xlabuilder.Op, error), lhsOp, rhsOp backends.Op) (backends.Op, error) {
	if err := b.CheckValid(); err != nil {
		return nil, err
	}
	lhs, err := castToXlaOp(lhsOp)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: %s", BackendName, opName)
	}
	rhs, err := castToXlaOp(rhsOp)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: %s", BackendName, opName)
	}
	op, err := fn(lhs, rhs)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: %s", BackendName, opName)
	}
	return op, nil
}

// unaryOp is the helper for the unary operations.
func (b *Builder) unaryOp(opName string, fn func(x *xlabuilder.Op) (*xlabuilder.Op, error), operandOp backends.Op) (backends.Op, error) {
	if err := b.CheckValid(); err != nil {
		return nil, err
	}
	operand, err := castToXlaOp(operandOp)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: %s", BackendName, opName)
	}
	op, err := fn(operand)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: %s", BackendName, opName)
	}
	return op, nil
}

func (b *Builder) Add(lhs, rhs backends.Op) (backends.Op, error) {
	return b.binaryOp("Add", xlabuilder.Add, lhs, rhs)
}

func (b *Builder) Sub(lhs, rhs backends.Op) (backends.Op, error) {
	return b.binaryOp("Sub", xlabuilder.Sub, lhs, rhs)
}

func (b *Builder) Mul(lhs, rhs backends.Op) (backends.Op, error) {
	return b.binaryOp("Mul", xlabuilder.Mul, lhs, rhs)
}

func (b *Builder) Div(lhs, rhs backends.Op) (backends.Op, error) {
	return b.binaryOp("Div", xlabuilder.Div, lhs, rhs)
}

func (b *Builder) Pow(lhs, rhs backends.Op) (backends.Op, error) {
	return b.binaryOp("Pow", xlabuilder.Pow, lhs, rhs)
}

func (b *Builder) Neg(operand backends.Op) (backends.Op, error) {
	return b.unaryOp("Neg", xlabuilder.Neg, operand)
}

func (b *Builder) Sqrt(operand backends.Op) (backends.Op, error) {
	return b.unaryOp("Sqrt", xlabuilder.Sqrt, operand)
}

func (b *Builder) Rsqrt(operand backends.Op) (backends.Op, error) {
	return b.unaryOp("Rsqrt", xlabuilder.Rsqrt, operand)
}

func (b *Builder) Exp(operand backends.Op) (backends.Op, error) {
	return b.unaryOp("Exp", xlabuilder.Exp, operand)
}

func (b *Builder) Log(operand backends.Op) (backends.Op, error) {
	return b.unaryOp("Log", xlabuilder.Log, operand)
}

// ConvertDType converts the values of the operand to the given dtype.
func (b *Builder) ConvertDType(operandOp backends.Op, dtype dtypes.DType) (backends.Op, error) {
	if err := b.CheckValid(); err != nil {
		return nil, err
	}
	operand, err := castToXlaOp(operandOp)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: ConvertDType", BackendName)
	}
	op, err := xlabuilder.ConvertDType(operand, dtype)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: ConvertDType(%s)", BackendName, dtype)
	}
	return op, nil
}

// BroadcastInDim broadcasts the operand to the given outputShape.
func (b *Builder) BroadcastInDim(operandOp backends.Op, outputShape shapes.Shape, broadcastAxes []int) (backends.Op, error) {
	if err := b.CheckValid(); err != nil {
		return nil, err
	}
	operand, err := castToXlaOp(operandOp)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: BroadcastInDim", BackendName)
	}
	op, err := xlabuilder.BroadcastInDim(operand, shapeToXShape(outputShape), broadcastAxes)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: BroadcastInDim(%s)", BackendName, outputShape)
	}
	return op, nil
}

// ReduceSum sums the operand over the given axes, which are removed from the output shape.
func (b *Builder) ReduceSum(operandOp backends.Op, axes ...int) (backends.Op, error) {
	if err := b.CheckValid(); err != nil {
		return nil, err
	}
	operand, err := castToXlaOp(operandOp)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: ReduceSum", BackendName)
	}
	op, err := xlabuilder.ReduceSum(operand, axes...)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: ReduceSum(axes=%v)", BackendName, axes)
	}
	return op, nil
}
