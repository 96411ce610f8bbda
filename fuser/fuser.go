// Package fuser implements the fusion-definition frontend: a small API to declare a
// dataflow of tensor operations, compile it with a backend, and execute, validate and
// benchmark the result.
//
// A Definition is built by declaring input tensors (DefineTensor), applying operations
// (see ops.go) and registering outputs (AddOutput). Compile freezes the definition and
// hands the whole dataflow to the backend: the xla backend fuses it into a single
// compiled program, while the simplego backend interprets it op-by-op (the eager
// baseline).
//
// To simplify error handling in definition-building code, errors panic with a stack
// trace (see github.com/gomlx/exceptions). Execution entry points return errors.
package fuser

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/fusionbench/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Definition of a fusion: a dataflow graph of tensor operations with declared inputs
// and registered outputs.
//
// It is not thread-safe during building. After Compile it is immutable, and Execute
// can be called concurrently if the underlying backend supports it.
type Definition struct {
	backend backends.Backend
	name    string
	builder backends.Builder

	inputs  []*Node
	outputs []*Node

	executable backends.Executable

	scalarCache map[scalarKey]*Node
}

type scalarKey struct {
	dtype dtypes.DType
	value float64
}

// Node is a value in a fusion definition: an input, a constant, or the output of an
// operation. Nodes are created through Definition methods and the operations in ops.go,
// and can only be combined with nodes of the same Definition.
type Node struct {
	def   *Definition
	op    backends.Op
	shape shapes.Shape
}

// Shape of the node's value. It implements shapes.HasShape.
func (n *Node) Shape() shapes.Shape { return n.shape }

// DType of the node's value.
func (n *Node) DType() dtypes.DType { return n.shape.DType }

// Definition the node belongs to.
func (n *Node) Definition() *Definition { return n.def }

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("Node(%s)", n.shape)
}

// New creates an empty fusion Definition on the given backend.
func New(backend backends.Backend, name string) *Definition {
	if backend == nil {
		exceptions.Panicf("fuser.New(%q): backend is nil", name)
	}
	return &Definition{
		backend:     backend,
		name:        name,
		builder:     backend.Builder(name),
		scalarCache: make(map[scalarKey]*Node),
	}
}

// Name of the definition.
func (d *Definition) Name() string { return d.name }

// Backend the definition was created on.
func (d *Definition) Backend() backends.Backend { return d.backend }

// assertBuilding panics if the definition has already been compiled.
func (d *Definition) assertBuilding(what string) {
	if d == nil {
		exceptions.Panicf("%s: Definition is nil", what)
	}
	if d.executable != nil {
		exceptions.Panicf("%s: definition %q has already been compiled, no more changes are allowed", what, d.name)
	}
}

// checkNodes panics if any node is nil or belongs to a different Definition.
func (d *Definition) checkNodes(what string, nodes ...*Node) {
	for idx, node := range nodes {
		if node == nil {
			exceptions.Panicf("%s: node #%d is nil", what, idx)
		}
		if node.def != d {
			exceptions.Panicf("%s: node #%d belongs to definition %q, cannot use it with definition %q",
				what, idx, node.def.name, d.name)
		}
	}
}

// newNode wraps a backend op into a Node, reading back its shape.
func (d *Definition) newNode(op backends.Op) *Node {
	shape, err := d.builder.OpShape(op)
	if err != nil {
		panic(errors.WithMessagef(err, "definition %q", d.name))
	}
	return &Node{def: d, op: op, shape: shape}
}

// DefineTensor declares an input tensor with the given shape. At execution, inputs must
// be fed in the order they were defined.
func (d *Definition) DefineTensor(shape shapes.Shape) *Node {
	d.assertBuilding("DefineTensor")
	name := fmt.Sprintf("input_%d", len(d.inputs))
	op, err := d.builder.Parameter(name, shape)
	if err != nil {
		panic(errors.WithMessagef(err, "definition %q: DefineTensor(%s)", d.name, shape))
	}
	node := d.newNode(op)
	d.inputs = append(d.inputs, node)
	return node
}

// DefineScalar returns a node holding the given scalar value with the given dtype.
//
// The value is baked into the definition as a constant (so the compiler can fold it
// into the fused kernel). Repeated values are cached and share a node.
func (d *Definition) DefineScalar(value float64, dtype dtypes.DType) *Node {
	d.assertBuilding("DefineScalar")
	key := scalarKey{dtype: dtype, value: value}
	if node, found := d.scalarCache[key]; found {
		return node
	}
	node := d.Constant(scalarFlat(value, dtype))
	d.scalarCache[key] = node
	return node
}

// Constant creates a constant node with the given flat values and dimensions.
// The flat value must be a slice of a supported basic type.
func (d *Definition) Constant(flat any, dims ...int) *Node {
	d.assertBuilding("Constant")
	op, err := d.builder.Constant(flat, dims...)
	if err != nil {
		panic(errors.WithMessagef(err, "definition %q: Constant", d.name))
	}
	return d.newNode(op)
}

// AddOutput registers the node as an output of the fusion. Outputs are returned by
// Execute in the order they are registered.
func (d *Definition) AddOutput(node *Node) {
	d.assertBuilding("AddOutput")
	d.checkNodes("AddOutput", node)
	d.outputs = append(d.outputs, node)
}

// NumInputs returns the number of declared input tensors.
func (d *Definition) NumInputs() int { return len(d.inputs) }

// NumOutputs returns the number of registered outputs.
func (d *Definition) NumOutputs() int { return len(d.outputs) }

// OutputShapes returns the shapes of the registered outputs.
func (d *Definition) OutputShapes() []shapes.Shape {
	outputShapes := make([]shapes.Shape, len(d.outputs))
	for ii, node := range d.outputs {
		outputShapes[ii] = node.shape
	}
	return outputShapes
}

// Compile freezes the definition and compiles it with the backend.
// At least one output must have been registered with AddOutput.
func (d *Definition) Compile() error {
	if d.executable != nil {
		return errors.Errorf("definition %q has already been compiled", d.name)
	}
	if len(d.outputs) == 0 {
		return errors.Errorf("definition %q has no outputs: call AddOutput before Compile", d.name)
	}
	outputOps := make([]backends.Op, len(d.outputs))
	for ii, node := range d.outputs {
		outputOps[ii] = node.op
	}
	executable, err := d.builder.Compile(outputOps...)
	if err != nil {
		return errors.WithMessagef(err, "definition %q: Compile", d.name)
	}
	d.executable = executable
	return nil
}

// IsCompiled returns whether Compile has already succeeded.
func (d *Definition) IsCompiled() bool { return d.executable != nil }

// Finalize immediately frees the compiled executable, if any.
func (d *Definition) Finalize() {
	if d.executable != nil {
		d.executable.Finalize()
		d.executable = nil
	}
}

// DeviceInputs transfers the input tensors to the backend's device, in definition
// order, returning the device buffers. Use it to stage inputs before a benchmark
// loop, so transfers happen outside the timed region.
func (d *Definition) DeviceInputs(inputs ...*tensors.Tensor) ([]backends.Buffer, error) {
	if len(inputs) != len(d.inputs) {
		return nil, errors.Errorf("definition %q expects %d inputs, got %d", d.name, len(d.inputs), len(inputs))
	}
	buffers := make([]backends.Buffer, len(inputs))
	for ii, input := range inputs {
		if !input.Shape().Equal(d.inputs[ii].shape) {
			return nil, errors.Errorf("definition %q: input #%d has shape %s, expected %s",
				d.name, ii, input.Shape(), d.inputs[ii].shape)
		}
		var buffer backends.Buffer
		var err error
		input.ConstFlatData(func(flat any) {
			buffer, err = d.backend.BufferFromFlatData(0, flat, input.Shape())
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "definition %q: transferring input #%d", d.name, ii)
		}
		buffers[ii] = buffer
	}
	return buffers, nil
}

// ExecuteBuffers runs the compiled definition on already-staged device buffers.
// This is the benchmark entry point: nothing but the execution itself happens here.
func (d *Definition) ExecuteBuffers(inputs []backends.Buffer, donate []bool) ([]backends.Buffer, error) {
	if d.executable == nil {
		return nil, errors.Errorf("definition %q has not been compiled", d.name)
	}
	return d.executable.Execute(inputs, donate)
}

// Execute compiles the definition if needed, transfers the inputs, runs the fusion and
// fetches the outputs back to host tensors, in AddOutput order.
func (d *Definition) Execute(inputs ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	if d.executable == nil {
		if err := d.Compile(); err != nil {
			return nil, err
		}
	}
	inputBuffers, err := d.DeviceInputs(inputs...)
	if err != nil {
		return nil, err
	}
	defer d.finalizeBuffers(inputBuffers)
	outputBuffers, err := d.ExecuteBuffers(inputBuffers, nil)
	if err != nil {
		return nil, err
	}
	defer d.finalizeBuffers(outputBuffers)
	return d.FetchOutputs(outputBuffers)
}

// FetchOutputs transfers output device buffers back to host tensors.
func (d *Definition) FetchOutputs(buffers []backends.Buffer) ([]*tensors.Tensor, error) {
	outputs := make([]*tensors.Tensor, len(buffers))
	for ii, buffer := range buffers {
		shape, err := d.backend.BufferShape(buffer)
		if err != nil {
			return nil, errors.WithMessagef(err, "definition %q: fetching output #%d", d.name, ii)
		}
		output := tensors.FromShape(shape)
		output.MutableFlatData(func(flat any) {
			err = d.backend.BufferToFlatData(buffer, flat)
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "definition %q: fetching output #%d", d.name, ii)
		}
		outputs[ii] = output
	}
	return outputs, nil
}

// finalizeBuffers releases the given device buffers, ignoring errors.
func (d *Definition) finalizeBuffers(buffers []backends.Buffer) {
	for _, buffer := range buffers {
		if buffer != nil {
			_ = d.backend.BufferFinalize(buffer)
		}
	}
}
