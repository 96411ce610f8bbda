// Package benchmarks runs the layer normalization backward fusion over a grid of
// problem sizes and dtypes, validates each case against the float64 reference, times
// it, and reports effective memory bandwidth.
package benchmarks

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
)

// FloatDTypes is the list of dtypes benchmarked by default.
var FloatDTypes = []dtypes.DType{dtypes.Float32, dtypes.Float16, dtypes.BFloat16}

// PromoteDTypes are the reduced-precision dtypes whose arithmetic is promoted to
// Float32 inside the fusion.
var PromoteDTypes = []dtypes.DType{dtypes.Float16, dtypes.BFloat16}

// Size of one benchmark case: the normalized tensors are [Batch, Hidden].
type Size struct {
	Batch, Hidden int
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Batch, s.Hidden)
}

var (
	// defaultBatches are the batch sizes benchmarked. The largest one is only paired
	// with hidden sizes up to maxHiddenForLargeBatch, to bound memory usage.
	defaultBatches = []int{16, 512, 8192, 16384}

	// defaultHiddens mixes powers of two with the hidden sizes of popular transformer
	// models (GPT-2 and friends).
	defaultHiddens = []int{256, 512, 768, 1024, 1600, 2048, 2304, 3072, 4096, 5120, 6144, 8192}

	maxHiddenForLargeBatch = 4096
	largeBatch             = 16384
)

// GenerateSizes returns the default grid of benchmark sizes.
func GenerateSizes() []Size {
	sizes := make([]Size, 0, len(defaultBatches)*len(defaultHiddens))
	for _, batch := range defaultBatches {
		for _, hidden := range defaultHiddens {
			if batch >= largeBatch && hidden > maxHiddenForLargeBatch {
				continue
			}
			sizes = append(sizes, Size{Batch: batch, Hidden: hidden})
		}
	}
	return sizes
}

// QuickSizes returns a small grid useful for smoke runs on the pure Go backend.
func QuickSizes() []Size {
	return []Size{{16, 256}, {16, 768}, {512, 1024}}
}
