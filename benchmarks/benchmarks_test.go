package benchmarks

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/fusionbench/fuser/fusertest"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasure(t *testing.T) {
	var calls int
	timing, err := Measure(2, 5, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, calls)
	assert.LessOrEqual(t, timing.Min, timing.Median)

	_, err = Measure(0, 0, func() error { return nil })
	require.Error(t, err)

	boom := errors.New("boom")
	_, err = Measure(1, 1, func() error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestGenerateSizes(t *testing.T) {
	sizes := GenerateSizes()
	require.NotEmpty(t, sizes)
	for _, size := range sizes {
		if size.Batch >= largeBatch {
			assert.LessOrEqual(t, size.Hidden, maxHiddenForLargeBatch,
				"batch %d must not be paired with hidden %d", size.Batch, size.Hidden)
		}
	}
}

// testSuite returns a small suite on the test backend, fast enough for CI.
func testSuite() *Suite {
	suite := NewSuite(fusertest.BuildTestBackend())
	suite.Sizes = []Size{{8, 32}, {16, 64}}
	suite.DTypes = []dtypes.DType{dtypes.Float32}
	suite.Warmup = 1
	suite.Iterations = 3
	return suite
}

func TestSuiteRun(t *testing.T) {
	suite := testSuite()
	require.NoError(t, suite.Run())

	// One result per (size, dtype, path).
	require.Len(t, suite.Results, len(suite.Sizes)*len(suite.DTypes)*len(suite.Paths))
	for _, result := range suite.Results {
		assert.True(t, result.Validated)
		assert.Greater(t, result.Timing.Median, time.Duration(0))
		assert.Greater(t, result.Bandwidth(), 0.0)
	}
}

func TestSuiteValidationOnly(t *testing.T) {
	suite := testSuite()
	suite.DisableBenchmark = true
	require.NoError(t, suite.Run())
	assert.Empty(t, suite.Results)
}

func TestWriteTable(t *testing.T) {
	suite := testSuite()
	suite.DisableValidation = true
	require.NoError(t, suite.Run())

	var buf bytes.Buffer
	suite.WriteTable(&buf)
	rendered := buf.String()
	assert.Contains(t, rendered, "Bandwidth")
	assert.Contains(t, rendered, "8x32")
	assert.Contains(t, rendered, "compiled")
}

func TestWriteHTMLReport(t *testing.T) {
	suite := testSuite()
	suite.DisableValidation = true
	require.NoError(t, suite.Run())

	fileName := filepath.Join(t.TempDir(), "report.html")
	require.NoError(t, suite.WriteHTMLReport(fileName))
	contents, err := os.ReadFile(fileName)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "Plotly.newPlot")
}
