// Package fusertest holds test utilities for packages that depend on the fuser package.
package fusertest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/fuser"
	"github.com/gomlx/fusionbench/types/tensors"
	"github.com/gomlx/fusionbench/types/xslices"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/fusionbench/backends/simplego"
)

// TestDefFn builds a fusion definition for a test: it declares the inputs with
// def.DefineTensor, wires the operations, registers the outputs with def.AddOutput, and
// returns the input tensors to feed.
type TestDefFn func(def *fuser.Definition) (inputs []*tensors.Tensor)

var (
	backendOnce   sync.Once
	cachedBackend backends.Backend
)

// BuildTestBackend sets backends.DefaultConfig to "go" -- it can be overwritten by the
// FUSIONBENCH_BACKEND environment variable.
func BuildTestBackend() backends.Backend {
	backends.DefaultConfig = "go"
	backendOnce.Do(func() {
		cachedBackend = backends.New()
		fmt.Printf("Backend: %s\n", cachedBackend.Description())
	})
	return cachedBackend
}

// RunTestDefFn tests a definition building function defFn by executing it and comparing
// its output(s) to the values in want, reporting back any errors in t.
//
// delta is the margin of difference between output and want values that is acceptable.
func RunTestDefFn(t *testing.T, testName string, defFn TestDefFn, want []any, delta float64) {
	t.Run(testName, func(t *testing.T) {
		backend := BuildTestBackend()
		wantTensors := xslices.Map(want, func(value any) *tensors.Tensor {
			return tensors.FromAnyValue(value)
		})

		def := fuser.New(backend, testName)
		var inputs []*tensors.Tensor
		require.NotPanicsf(t, func() { inputs = defFn(def) }, "%s: failed to build definition", testName)
		outputs, err := def.Execute(inputs...)
		require.NoErrorf(t, err, "%s: failed to execute definition", testName)
		def.Finalize()

		require.Lenf(t, outputs, len(wantTensors), "%s: wrong number of outputs", testName)
		for ii, output := range outputs {
			wantT := wantTensors[ii]
			require.Truef(t, output.InDelta(wantT, delta),
				"%s: output #%d doesn't match:\n\tgot:  %s\n\twant: %s", testName, ii, output, wantT)
		}
	})
}
