package simplego

import (
	"reflect"
	"slices"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/backends/shapeinference"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Builder keeps track of the computation graph being defined.
type Builder struct {
	name     string
	backend  *Backend
	compiled bool

	// nodes are only created when their inputs have already been created, so this is a
	// natural DAG ordering of the graph. The executor relies on this invariance.
	nodes []*Node

	// inputs will have nodeParameter as data.
	inputs []*Node

	// outputs can be any type of node.
	outputs []*Node
}

// Compile-time check.
var _ backends.Builder = (*Builder)(nil)

// Name implements backends.Builder.
func (b *Builder) Name() string {
	return b.name
}

// Node in the SimpleGo computation graph.
type Node struct {
	// builderIdx in Builder.nodes.
	builderIdx int
	inputs     []*Node

	opType  backends.OpType
	shape   shapes.Shape
	builder *Builder

	// data for the specific node type: *nodeParameter, *Buffer for constants,
	// []int axes for BroadcastInDim and ReduceSum.
	data any
}

// nodeParameter data for OpTypeParameter nodes.
type nodeParameter struct {
	name     string
	inputIdx int
}

// newNode adds a new node of the given opType and shape to the Builder graph.
// It's used by the other ops when creating new nodes.
func (b *Builder) newNode(opType backends.OpType, shape shapes.Shape, inputs ...*Node) *Node {
	n := &Node{
		builder:    b,
		opType:     opType,
		builderIdx: len(b.nodes),
		shape:      shape,
		inputs:     slices.Clone(inputs),
	}
	b.nodes = append(b.nodes, n)
	return n
}

// checkOps validates that the ops are from SimpleGo and from this builder, and that the
// Builder has not yet been compiled.
func (b *Builder) checkOps(opName string, ops ...backends.Op) ([]*Node, error) {
	if b == nil {
		return nil, errors.Errorf("%s: Builder is nil", opName)
	}
	if b.compiled {
		return nil, errors.Errorf("cannot add new op (%s) to Builder %q, it has already been compiled", opName, b.name)
	}
	nodes := make([]*Node, len(ops))
	var ok bool
	for idx, op := range ops {
		if op == nil {
			return nil, errors.Errorf("%s: input op #%d is nil", opName, idx)
		}
		nodes[idx], ok = op.(*Node)
		if !ok {
			return nil, errors.Errorf("%s: input op #%d was created on a different backend, cannot use it with backend %q",
				opName, idx, BackendName)
		}
		if nodes[idx].builder != b {
			return nil, errors.Errorf("%s: input op #%d was created with a different builder (%q), cannot use it with builder %q",
				opName, idx, nodes[idx].builder.name, b.name)
		}
	}
	return nodes, nil
}

// OpShape returns the shape of a computation Op.
func (b *Builder) OpShape(op backends.Op) (shapes.Shape, error) {
	inputs, err := b.checkOps("OpShape", op)
	if err != nil {
		return shapes.Invalid(), err
	}
	return inputs[0].shape, nil
}

// Parameter creates an input parameter for the computation.
func (b *Builder) Parameter(name string, shape shapes.Shape) (backends.Op, error) {
	if _, err := b.checkOps("Parameter"); err != nil {
		return nil, err
	}
	if !shape.Ok() {
		return nil, errors.Errorf("Parameter %q: invalid shape", name)
	}
	node := b.newNode(backends.OpTypeParameter, shape.Clone())
	node.data = &nodeParameter{name: name, inputIdx: len(b.inputs)}
	b.inputs = append(b.inputs, node)
	return node, nil
}

// Constant creates a constant in the graph with the given flat values, and the shape
// defined by dims.
func (b *Builder) Constant(flat any, dims ...int) (backends.Op, error) {
	if _, err := b.checkOps("Constant"); err != nil {
		return nil, err
	}
	flatType := reflect.TypeOf(flat)
	if flatType.Kind() != reflect.Slice {
		return nil, errors.Errorf("Constant: flat data should be a slice, not %s", flatType.Kind())
	}
	dtype := dtypes.FromGoType(flatType.Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("Constant: flat is a slice of %s, not a supported data type", flatType.Elem())
	}
	shape := shapes.Make(dtype, dims...)
	if reflect.ValueOf(flat).Len() != shape.Size() {
		return nil, errors.Errorf("Constant: got %d values for shape %s (%d values)",
			reflect.ValueOf(flat).Len(), shape, shape.Size())
	}
	buffer := b.backend.NewBuffer(shape)
	copyFlat(buffer.flat, flat)
	node := b.newNode(backends.OpTypeConstant, shape)
	node.data = buffer
	return node, nil
}

// addUnaryOp adds a generic unary op.
func (b *Builder) addUnaryOp(opType backends.OpType, operandOp backends.Op) (backends.Op, error) {
	inputs, err := b.checkOps(opType.String(), operandOp)
	if err != nil {
		return nil, err
	}
	operand := inputs[0]
	shape, err := shapeinference.UnaryOp(opType, operand.shape)
	if err != nil {
		return nil, err
	}
	return b.newNode(opType, shape, operand), nil
}

// addBinaryOp adds a generic binary op.
func (b *Builder) addBinaryOp(opType backends.OpType, lhsOp, rhsOp backends.Op) (backends.Op, error) {
	inputs, err := b.checkOps(opType.String(), lhsOp, rhsOp)
	if err != nil {
		return nil, err
	}
	lhs, rhs := inputs[0], inputs[1]
	shape, err := shapeinference.BinaryOp(opType, lhs.shape, rhs.shape)
	if err != nil {
		return nil, err
	}
	return b.newNode(opType, shape, lhs, rhs), nil
}

func (b *Builder) Add(lhs, rhs backends.Op) (backends.Op, error) {
	return b.addBinaryOp(backends.OpTypeAdd, lhs, rhs)
}

func (b *Builder) Sub(lhs, rhs backends.Op) (backends.Op, error) {
	return b.addBinaryOp(backends.OpTypeSub, lhs, rhs)
}

func (b *Builder) Mul(lhs, rhs backends.Op) (backends.Op, error) {
	return b.addBinaryOp(backends.OpTypeMul, lhs, rhs)
}

func (b *Builder) Div(lhs, rhs backends.Op) (backends.Op, error) {
	return b.addBinaryOp(backends.OpTypeDiv, lhs, rhs)
}

func (b *Builder) Pow(lhs, rhs backends.Op) (backends.Op, error) {
	return b.addBinaryOp(backends.OpTypePow, lhs, rhs)
}

func (b *Builder) Neg(operand backends.Op) (backends.Op, error) {
	return b.addUnaryOp(backends.OpTypeNeg, operand)
}

func (b *Builder) Sqrt(operand backends.Op) (backends.Op, error) {
	return b.addUnaryOp(backends.OpTypeSqrt, operand)
}

func (b *Builder) Rsqrt(operand backends.Op) (backends.Op, error) {
	return b.addUnaryOp(backends.OpTypeRsqrt, operand)
}

func (b *Builder) Exp(operand backends.Op) (backends.Op, error) {
	return b.addUnaryOp(backends.OpTypeExp, operand)
}

func (b *Builder) Log(operand backends.Op) (backends.Op, error) {
	return b.addUnaryOp(backends.OpTypeLog, operand)
}

// ConvertDType converts the values of the operand to the given dtype.
func (b *Builder) ConvertDType(operandOp backends.Op, dtype dtypes.DType) (backends.Op, error) {
	inputs, err := b.checkOps("ConvertDType", operandOp)
	if err != nil {
		return nil, err
	}
	operand := inputs[0]
	shape, err := shapeinference.ConvertOp(operand.shape, dtype)
	if err != nil {
		return nil, err
	}
	if dtype == operand.shape.DType {
		// No-op conversion.
		return operand, nil
	}
	return b.newNode(backends.OpTypeConvertDType, shape, operand), nil
}

// BroadcastInDim broadcasts the operand to the given outputShape.
func (b *Builder) BroadcastInDim(operandOp backends.Op, outputShape shapes.Shape, broadcastAxes []int) (backends.Op, error) {
	inputs, err := b.checkOps("BroadcastInDim", operandOp)
	if err != nil {
		return nil, err
	}
	operand := inputs[0]
	if err := shapeinference.BroadcastInDimOp(operand.shape, outputShape, broadcastAxes); err != nil {
		return nil, err
	}
	node := b.newNode(backends.OpTypeBroadcastInDim, outputShape.Clone(), operand)
	node.data = slices.Clone(broadcastAxes)
	return node, nil
}

// ReduceSum sums the operand over the given axes, which are removed from the output shape.
func (b *Builder) ReduceSum(operandOp backends.Op, axes ...int) (backends.Op, error) {
	inputs, err := b.checkOps("ReduceSum", operandOp)
	if err != nil {
		return nil, err
	}
	operand := inputs[0]
	if len(axes) == 0 {
		axes = make([]int, operand.shape.Rank())
		for axis := range axes {
			axes[axis] = axis
		}
	}
	shape, err := shapeinference.ReduceOp(operand.shape, axes)
	if err != nil {
		return nil, err
	}
	node := b.newNode(backends.OpTypeReduceSum, shape, operand)
	node.data = shapeinference.SortedAxes(axes)
	return node, nil
}

// Compile implements backends.Builder: it freezes the graph and returns an Executable.
func (b *Builder) Compile(outputs ...backends.Op) (backends.Executable, error) {
	if len(outputs) == 0 {
		return nil, errors.Errorf("Compile: computation %q has no outputs", b.name)
	}
	outputNodes, err := b.checkOps("Compile", outputs...)
	if err != nil {
		return nil, err
	}
	b.outputs = outputNodes
	b.compiled = true
	return newExecutable(b), nil
}

// Finalize immediately releases the resources associated with the Builder.
func (b *Builder) Finalize() {
	for _, node := range b.nodes {
		if buffer, ok := node.data.(*Buffer); ok {
			b.backend.putBuffer(buffer)
		}
	}
	b.inputs = nil
	b.outputs = nil
	b.nodes = nil
}
