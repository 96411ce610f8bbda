package xla

import (
	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/fusionbench/types/xslices"
	"github.com/gomlx/gopjrt/pjrt"
	"github.com/gomlx/gopjrt/xlabuilder"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Executable implements the backends.Executable for XLA/PJRT.
type Executable struct {
	backend         *Backend
	exec            *pjrt.LoadedExecutable
	name            string
	parameterNames  []string
	parameterShapes []shapes.Shape
	outputShapes    []shapes.Shape
}

// Compile-time check.
var _ backends.Executable = (*Executable)(nil)

// Compile the computation: XLA compiles the whole graph into one fused program.
// Multiple outputs are wrapped in a tuple, which PJRT un-tuples back into individual
// buffers at execution.
func (b *Builder) Compile(outputs ...backends.Op) (backends.Executable, error) {
	if err := b.CheckValid(); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.Errorf("backend %q: computation %q has no outputs", BackendName, b.name)
	}
	xOutputs := make([]*xlabuilder.Op, len(outputs))
	outputShapes := make([]shapes.Shape, len(outputs))
	var err error
	for ii, output := range outputs {
		xOutputs[ii], err = castToXlaOp(output)
		if err != nil {
			return nil, errors.WithMessagef(err, "backend %q: Compile, output #%d", BackendName, ii)
		}
		outputShapes[ii] = xshapeToShape(xOutputs[ii].Shape)
	}

	root := xOutputs[0]
	if len(xOutputs) > 1 {
		root, err = xlabuilder.Tuple(xOutputs...)
		if err != nil {
			return nil, errors.WithMessagef(err, "backend %q: Compile, tupling outputs", BackendName)
		}
	}
	computation, err := b.builder.Build(root)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: failed to build computation %q", BackendName, b.name)
	}
	exec, err := b.backend.client.Compile().WithComputation(computation).Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: failed to compile computation %q", BackendName, b.name)
	}
	b.compiled = true
	return &Executable{
		backend:         b.backend,
		exec:            exec,
		name:            b.name,
		parameterNames:  b.parameterNames,
		parameterShapes: b.parameterShapes,
		outputShapes:    outputShapes,
	}, nil
}

// CheckValid returns an error if the backend or the executable are not ok -- e.g.: if
// they have been finalized.
func (e *Executable) CheckValid() error {
	if e == nil || e.exec == nil || e.backend == nil {
		return errors.Errorf("backend %q: Executable nil or already finalized", BackendName)
	}
	return nil
}

// Finalize immediately frees resources associated with the executable.
func (e *Executable) Finalize() {
	if e == nil || e.exec == nil {
		return
	}
	err := e.exec.Destroy()
	if err != nil {
		klog.Warningf("Error while destroying executable %q on backend %q: %+v", e.name, BackendName, err)
	}
	e.exec = nil
	e.backend = nil
	e.parameterNames = nil
	e.parameterShapes = nil
	e.outputShapes = nil
}

// Inputs returns the parameters' names and shapes, in the order created by the
// Builder.Parameter calls.
func (e *Executable) Inputs() (names []string, inputShapes []shapes.Shape) {
	return e.parameterNames, e.parameterShapes
}

// Outputs returns the computation's output shapes, in the order given to the
// Builder.Compile call.
func (e *Executable) Outputs() (outputShapes []shapes.Shape) {
	return e.outputShapes
}

// Execute the computation with the given inputs. The number and shapes of the inputs
// must match those returned by Inputs.
func (e *Executable) Execute(inputs []backends.Buffer, donate []bool) ([]backends.Buffer, error) {
	if err := e.CheckValid(); err != nil {
		return nil, err
	}
	if len(inputs) != len(e.parameterShapes) {
		return nil, errors.Errorf("backend %q: wrong number of parameters to Execute %q: %d given, %d expected",
			BackendName, e.name, len(inputs), len(e.parameterShapes))
	}
	if len(donate) > 0 && len(donate) != len(inputs) {
		return nil, errors.Errorf("backend %q: wrong number of donate values to Execute %q: %d given, nil or %d expected",
			BackendName, e.name, len(donate), len(inputs))
	}
	pInputs := make([]*pjrt.Buffer, len(inputs))
	for ii, input := range inputs {
		var err error
		pInputs[ii], err = castToPJRT(input)
		if err != nil {
			return nil, errors.WithMessagef(err, "backend %q: Execute %q, input #%d", BackendName, e.name, ii)
		}
	}
	execBuilder := e.exec.Execute(pInputs...)
	if len(donate) == 0 {
		execBuilder = execBuilder.DonateNone()
	} else {
		execBuilder = execBuilder.SetDonate(donate)
	}
	pOutputs, err := execBuilder.Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: failed to execute computation %q", BackendName, e.name)
	}
	return xslices.Map(pOutputs, func(buffer *pjrt.Buffer) backends.Buffer { return buffer }), nil
}
