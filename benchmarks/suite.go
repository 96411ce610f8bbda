package benchmarks

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/fuser"
	"github.com/gomlx/fusionbench/kernels/layernorm"
	"github.com/gomlx/gopjrt/dtypes"
)

const (
	// DefaultWarmup iterations run untimed before measuring, so one-time costs
	// (compilation on the traced path, allocator warmup) don't pollute the numbers.
	DefaultWarmup = 3

	// DefaultIterations measured per case.
	DefaultIterations = 10
)

// Suite runs the layer normalization backward benchmark over a grid of sizes and
// dtypes on one backend.
type Suite struct {
	Backend backends.Backend

	Sizes  []Size
	DTypes []dtypes.DType
	Paths  []Path

	Warmup, Iterations int

	// DisableValidation skips the comparison against the float64 reference.
	DisableValidation bool

	// DisableBenchmark skips the timed runs: only validation happens.
	DisableBenchmark bool

	// RunID tags the suite run, e.g. in reports.
	RunID string

	Results []*Result
}

// NewSuite returns a Suite with the default grid and settings for the backend.
func NewSuite(backend backends.Backend) *Suite {
	return &Suite{
		Backend:    backend,
		Sizes:      GenerateSizes(),
		DTypes:     FloatDTypes,
		Paths:      []Path{PathCompiled, PathTraced},
		Warmup:     DefaultWarmup,
		Iterations: DefaultIterations,
		RunID:      uuid.NewString(),
	}
}

// Run executes every case of the grid, accumulating into s.Results. It stops and
// returns on the first validation failure or execution error.
func (s *Suite) Run() error {
	numCases := len(s.Sizes) * len(s.DTypes)
	bar := progressbar.NewOptions(numCases,
		progressbar.OptionSetDescription(fmt.Sprintf("Benchmarking on %q", s.Backend.Name())),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("cases"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stderr))
	for _, size := range s.Sizes {
		for _, dtype := range s.DTypes {
			if err := s.runCase(size, dtype); err != nil {
				return errors.WithMessagef(err, "case %s %s", size, dtype)
			}
			_ = bar.Add(1)
		}
	}
	_ = bar.Finish()
	return nil
}

// runCase validates and times one (size, dtype) combination.
func (s *Suite) runCase(size Size, dtype dtypes.DType) error {
	klog.V(1).Infof("running case %s %s on %q", size, dtype, s.Backend.Name())
	rng := rand.New(rand.NewPCG(uint64(size.Batch), uint64(size.Hidden)))
	inputs := layernorm.NewBackwardInputs(rng, size.Batch, size.Hidden, dtype)

	name := fmt.Sprintf("layernorm_backward_%s_%s", size, dtype)
	def := fuser.New(s.Backend, name)
	inputNodes := make([]*fuser.Node, 0, 5)
	for _, shape := range layernorm.BackwardInputShapes(size.Batch, size.Hidden, dtype) {
		inputNodes = append(inputNodes, def.DefineTensor(shape))
	}
	layernorm.BuildBackward(def, inputNodes)
	defer def.Finalize()

	validated := false
	if !s.DisableValidation {
		tol := fuser.DefaultTolerance(dtype)
		err := def.Validate(inputs.Tensors(), inputs.References(), []fuser.Tolerance{tol, tol, tol})
		if err != nil {
			return errors.WithMessage(err, "validation against float64 reference failed")
		}
		validated = true
	}
	if s.DisableBenchmark {
		return nil
	}

	ioBytes := layernorm.IOBytes(size.Batch, size.Hidden, dtype)
	for _, path := range s.Paths {
		var timing Timing
		var err error
		switch path {
		case PathCompiled:
			timing, err = s.measureCompiled(def, inputs)
		case PathTraced:
			timing, err = s.measureTraced(inputs)
		default:
			err = errors.Errorf("unknown benchmark path %q", path)
		}
		if err != nil {
			return errors.WithMessagef(err, "path %q", path)
		}
		s.Results = append(s.Results, &Result{
			Size:      size,
			DType:     dtype,
			Path:      path,
			Timing:    timing,
			Bytes:     ioBytes,
			Validated: validated,
		})
	}
	return nil
}

// measureCompiled stages the inputs on device once and times only the execution of the
// compiled fusion.
func (s *Suite) measureCompiled(def *fuser.Definition, inputs *layernorm.BackwardInputs) (Timing, error) {
	if !def.IsCompiled() {
		if err := def.Compile(); err != nil {
			return Timing{}, err
		}
	}
	buffers, err := def.DeviceInputs(inputs.Tensors()...)
	if err != nil {
		return Timing{}, err
	}
	defer func() {
		for _, buffer := range buffers {
			_ = s.Backend.BufferFinalize(buffer)
		}
	}()
	return Measure(s.Warmup, s.Iterations, func() error {
		outputs, err := def.ExecuteBuffers(buffers, nil)
		if err != nil {
			return err
		}
		for _, output := range outputs {
			_ = s.Backend.BufferFinalize(output)
		}
		return nil
	})
}

// measureTraced times full calls through the shape-signature cache, including the
// cache lookup and host<->device transfers. The first warmup call pays for the
// compilation.
func (s *Suite) measureTraced(inputs *layernorm.BackwardInputs) (Timing, error) {
	exec := fuser.NewExec(s.Backend, "layernorm_backward", layernorm.BuildBackward)
	defer exec.Finalize()
	inputTensors := inputs.Tensors()
	return Measure(s.Warmup, s.Iterations, func() error {
		_, err := exec.Call(inputTensors...)
		return err
	})
}
