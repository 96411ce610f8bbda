package simplego

import (
	"sync"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/pkg/errors"
)

// Executable holds a frozen Builder. It assumes the graph in Builder is valid and has
// been properly checked that all the shapes and data types are valid.
//
// If any inconsistencies are found, please fix in the Builder, so Executable can be
// written without the need of any duplicate checks.
type Executable struct {
	backend *Backend

	// builder must have Builder.compiled set to true, so it is no longer active.
	builder *Builder

	// numNodesToProcess is max(outputs)+1: nodes above that cannot be needed.
	numNodesToProcess int

	// numUses is the number of times each Node is used during the calculation.
	// It has length numNodesToProcess.
	numUses []int

	// maxInputs of all nodes used in the graph.
	maxInputs int

	// executionBuffersPool allows for re-use of executionBuffers across calls.
	executionBuffersPool sync.Pool
}

// executionBuffers holds the intermediate results during the execution of the graph.
// One is taken from the pool per execution of Executable.
type executionBuffers struct {
	// results hold the calculated computations at each step.
	results []*Buffer

	// numUsed holds the number of times each node result has been consumed already.
	// Once it matches numUses, the buffer can be released or re-used.
	numUsed []int

	// owned indicates whether the corresponding buffer in results is owned by the
	// executor: a temporary buffer or one donated by the caller. Owned buffers can be
	// reused in-place by ops or returned to the pool after their last use.
	owned []bool

	// Reused for each op.
	opInputBuffers []*Buffer
	opInputsOwned  []bool
}

// Compile-time check.
var _ backends.Executable = (*Executable)(nil)

// nodeExecutor for one operation type.
//
// It is given the buffers for its inputs and whether each can be reused in-place
// (owned). If the executor reuses an input buffer as its output, it must set the
// corresponding inputs entry to nil, to inform the caller the buffer changed hands.
type nodeExecutor func(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) (*Buffer, error)

// nodeExecutors is populated during initialization (`init` functions) for the ops
// implemented. For the nodes not implemented it is left as nil, and executing them
// returns an error.
var nodeExecutors [backends.OpTypeLast]nodeExecutor

// newExecutable creates an Executable ready to run the graph built with builder.
func newExecutable(builder *Builder) *Executable {
	var numNodesToProcess int
	for _, output := range builder.outputs {
		numNodesToProcess = max(numNodesToProcess, output.builderIdx+1)
	}

	e := &Executable{
		backend:           builder.backend,
		builder:           builder,
		numNodesToProcess: numNodesToProcess,
		numUses:           make([]int, numNodesToProcess),
	}
	e.executionBuffersPool = sync.Pool{
		New: func() any {
			return &executionBuffers{
				results: make([]*Buffer, numNodesToProcess),
				numUsed: make([]int, numNodesToProcess),
				owned:   make([]bool, numNodesToProcess),
			}
		},
	}

	for nodeIdx := range numNodesToProcess {
		e.maxInputs = max(e.maxInputs, len(builder.nodes[nodeIdx].inputs))
	}

	// Count uses for each node starting from the outputs.
	for _, output := range builder.outputs {
		e.countNodeUses(output)
	}
	return e
}

// countNodeUses recursively counts how many times a node is used.
func (e *Executable) countNodeUses(node *Node) {
	e.numUses[node.builderIdx]++
	if e.numUses[node.builderIdx] == 1 {
		// On the first visit, recursively traverse the inputs of the node.
		for _, input := range node.inputs {
			e.countNodeUses(input)
		}
	}
}

// Finalize immediately frees resources associated with the executable.
func (e *Executable) Finalize() {
	if e.builder == nil {
		return
	}
	e.builder.Finalize()
	e.builder = nil
}

// Inputs returns the list of parameter names and shapes, in the order created by the
// Builder.Parameter calls.
func (e *Executable) Inputs() (names []string, inputShapes []shapes.Shape) {
	numInputs := len(e.builder.inputs)
	if numInputs == 0 {
		return
	}
	names = make([]string, numInputs)
	inputShapes = make([]shapes.Shape, numInputs)
	for ii, node := range e.builder.inputs {
		parameter := node.data.(*nodeParameter)
		names[ii] = parameter.name
		inputShapes[ii] = node.shape
	}
	return
}

// Outputs returns the output shapes of the computation, in the order given to the
// Builder.Compile call.
func (e *Executable) Outputs() (outputShapes []shapes.Shape) {
	outputShapes = make([]shapes.Shape, len(e.builder.outputs))
	for ii, node := range e.builder.outputs {
		outputShapes[ii] = node.shape
	}
	return outputShapes
}

// Execute the computation with the given inputs.
// The number and shapes of the inputs must match those returned by Inputs.
//
// The inputs marked in donate will become invalid after use: their buffer space can be
// reused in-place for intermediate values. If donate is nil, no buffer is donated.
func (e *Executable) Execute(inputs []backends.Buffer, donate []bool) ([]backends.Buffer, error) {
	if e.builder == nil {
		return nil, errors.Errorf("Execute: executable has been finalized")
	}
	if len(inputs) != len(e.builder.inputs) {
		return nil, errors.Errorf("Execute: expected %d inputs, got %d", len(e.builder.inputs), len(inputs))
	}
	if len(donate) == 0 {
		donate = make([]bool, len(inputs))
	}

	// Check input shapes.
	for ii, input := range inputs {
		inputBuffer, ok := input.(*Buffer)
		if !ok {
			return nil, errors.Errorf("Execute: input buffer #%d is not from the %q backend", ii, BackendName)
		}
		if !inputBuffer.valid || inputBuffer.flat == nil {
			return nil, errors.Errorf("Execute: input buffer #%d is not valid, likely it is being used after being finalized", ii)
		}
		nodeInput := e.builder.inputs[ii]
		if !inputBuffer.shape.Equal(nodeInput.shape) {
			paramName := nodeInput.data.(*nodeParameter).name
			return nil, errors.Errorf("Execute: parameter %q (input #%d) for %q: expected shape %s, got %s",
				paramName, ii, e.builder.name, nodeInput.shape, inputBuffer.shape)
		}
	}

	// Get execution buffers from the pool and reset them.
	execBuf := e.executionBuffersPool.Get().(*executionBuffers)
	for ii := range e.numNodesToProcess {
		execBuf.numUsed[ii] = 0
		execBuf.owned[ii] = false
		execBuf.results[ii] = nil
	}

	// Initialize parameter results with the input buffers.
	for ii, input := range inputs {
		inputBuffer := input.(*Buffer)
		inputNodeIdx := e.builder.inputs[ii].builderIdx
		execBuf.results[inputNodeIdx] = inputBuffer
		execBuf.owned[inputNodeIdx] = donate[ii]
	}

	if err := e.executeSequentially(execBuf); err != nil {
		return nil, err
	}

	// Return outputs, copying them if not owned by the executor.
	outputs := make([]backends.Buffer, len(e.builder.outputs))
	for ii, outputNode := range e.builder.outputs {
		outNodeIdx := outputNode.builderIdx
		outBuf := execBuf.results[outNodeIdx]
		execBuf.results[outNodeIdx] = nil // Make sure we don't return the same buffer twice.
		if outBuf == nil {
			return nil, errors.Errorf("Execute: output #%d (%s, nodeIdx=%d) was not calculated -- "+
				"this is a bug, it should never have happened", ii, outputNode.opType, outNodeIdx)
		}
		if !execBuf.owned[outNodeIdx] {
			// Make a copy of the buffer since we don't own it.
			outBuf = e.backend.cloneBuffer(outBuf)
		}
		outputs[ii] = outBuf
	}

	// Free intermediate buffers that haven't been freed yet.
	for nodeIdx, buf := range execBuf.results {
		if buf == nil || !execBuf.owned[nodeIdx] {
			continue
		}
		e.backend.putBuffer(buf)
		execBuf.results[nodeIdx] = nil
	}

	e.executionBuffersPool.Put(execBuf)
	return outputs, nil
}

// executeSequentially executes operations one after another, in the builder's DAG order,
// so the inputs of a node are always ready when it is reached.
func (e *Executable) executeSequentially(execBuf *executionBuffers) error {
	execBuf.opInputBuffers = make([]*Buffer, e.maxInputs)
	execBuf.opInputsOwned = make([]bool, e.maxInputs)
	defer func() {
		// Makes sure we have no dangling references to buffers at the end.
		execBuf.opInputBuffers = nil
		execBuf.opInputsOwned = nil
	}()

	for nodeIdx := range e.numNodesToProcess {
		node := e.builder.nodes[nodeIdx]
		if execBuf.results[nodeIdx] != nil {
			// Parameters have their results pre-filled.
			continue
		}
		if e.numUses[nodeIdx] == 0 {
			// This node is not used by any of the outputs of this executable.
			continue
		}
		if err := e.executeNode(node, execBuf); err != nil {
			return err
		}
	}
	return nil
}

// executeNode executes the given node, reading its inputs from and storing its result
// into execBuf.
func (e *Executable) executeNode(node *Node, execBuf *executionBuffers) error {
	nodeIdx := node.builderIdx

	// Constants have a special treatment: they have no inputs and their buffer is owned
	// by the builder, not the execBuf.
	if node.opType == backends.OpTypeConstant {
		execBuf.owned[nodeIdx] = false
		execBuf.results[nodeIdx] = node.data.(*Buffer)
		return nil
	}

	// Prepare inputs.
	numInputs := len(node.inputs)
	inputBuffers := execBuf.opInputBuffers[:numInputs]
	inputsOwned := execBuf.opInputsOwned[:numInputs]
	for ii, input := range node.inputs {
		inputNodeIdx := input.builderIdx
		inputBuffers[ii] = execBuf.results[inputNodeIdx]
		if inputBuffers[ii] == nil {
			return errors.Errorf("Execute: input #%d of node #%d (%s) was not calculated yet -- "+
				"this is a bug, it should never have happened", ii, nodeIdx, node.opType)
		}
		// Only "own" the input if this is its last use.
		inputsOwned[ii] = execBuf.owned[inputNodeIdx] && e.numUses[inputNodeIdx]-execBuf.numUsed[inputNodeIdx] == 1
	}

	executor := nodeExecutors[node.opType]
	if executor == nil {
		return errors.Errorf("Execute: node executor for op type %s not implemented", node.opType)
	}
	var err error
	execBuf.results[nodeIdx], err = executor(e.backend, node, inputBuffers, inputsOwned)
	if err != nil {
		return errors.WithMessagef(err, "while executing %q", node.opType)
	}
	execBuf.owned[nodeIdx] = true

	// Mark inputs used; release those at their last use; if an input was reused
	// in-place (the executor set its entry to nil), just erase it from the results.
	for ii, inputNode := range node.inputs {
		inputNodeIdx := inputNode.builderIdx
		execBuf.numUsed[inputNodeIdx]++
		if inputBuffers[ii] == nil {
			execBuf.results[inputNodeIdx] = nil
			continue
		}
		if execBuf.numUsed[inputNodeIdx] == e.numUses[inputNodeIdx] && execBuf.owned[inputNodeIdx] {
			e.backend.putBuffer(inputBuffers[ii])
			execBuf.results[inputNodeIdx] = nil
		}
	}
	return nil
}

// outputBufferFor returns the buffer for a node's output, reusing the operand's buffer
// in-place when it is owned and has the right dtype and size. When reused, the
// corresponding inputs entry is set to nil (the ownership hand-over convention of
// nodeExecutor).
func outputBufferFor(backend *Backend, node *Node, inputs []*Buffer, inputsOwned []bool) *Buffer {
	for ii, input := range inputs {
		if input == nil || !inputsOwned[ii] {
			continue
		}
		if input.shape.DType == node.shape.DType && input.shape.Size() == node.shape.Size() {
			output := input
			inputs[ii] = nil
			output.shape = node.shape.Clone()
			return output
		}
	}
	return backend.NewBuffer(node.shape)
}
