package backends

import (
	"github.com/gomlx/fusionbench/types/shapes"
)

// Executable is the API for compiled programs ready to execute.
type Executable interface {
	// Finalize immediately frees resources associated to the executable.
	Finalize()

	// Inputs returns the list of parameter names and shapes, in the order created by
	// the Builder.Parameter calls.
	Inputs() (names []string, inputShapes []shapes.Shape)

	// Outputs returns the list of the shapes of the outputs of the computation, in the
	// order given to the Builder.Compile call.
	Outputs() (outputShapes []shapes.Shape)

	// Execute the computation on the device holding the input buffers.
	// The number and shapes of the inputs must match those returned by Inputs.
	//
	// donate marks, per input, buffers whose memory the backend may reuse for
	// intermediate or output values. A donated buffer must not be used after the call.
	// donate may be nil, in which case no buffer is donated.
	Execute(inputs []Buffer, donate []bool) ([]Buffer, error)
}
