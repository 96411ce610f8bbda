package benchmarks

import (
	"fmt"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Path identifies how the fusion is driven during timing.
type Path string

const (
	// PathCompiled times only the execution of the pre-compiled fusion on staged
	// device buffers. Transfers and dispatch happen outside the timed region.
	PathCompiled Path = "compiled"

	// PathTraced times a full call through the shape-signature cache: lookup, host to
	// device transfers, execution and fetching the outputs. The compilation itself
	// happens during warmup.
	PathTraced Path = "traced"
)

// Timing summarizes the measured iterations of one benchmark case.
type Timing struct {
	Min, Median, Mean time.Duration
}

// Measure calls fn warmup times untimed, then iterations times measuring each call.
func Measure(warmup, iterations int, fn func() error) (Timing, error) {
	var timing Timing
	if iterations <= 0 {
		return timing, errors.Errorf("benchmarks.Measure: iterations must be > 0, got %d", iterations)
	}
	for range warmup {
		if err := fn(); err != nil {
			return timing, errors.WithMessage(err, "warmup")
		}
	}
	elapsed := make([]time.Duration, iterations)
	var total time.Duration
	for ii := range iterations {
		start := time.Now()
		if err := fn(); err != nil {
			return timing, errors.WithMessagef(err, "iteration #%d", ii)
		}
		elapsed[ii] = time.Since(start)
		total += elapsed[ii]
	}
	slices.Sort(elapsed)
	timing.Min = elapsed[0]
	timing.Median = elapsed[iterations/2]
	timing.Mean = total / time.Duration(iterations)
	return timing, nil
}

// Result of one benchmark case.
type Result struct {
	Size   Size
	DType  dtypes.DType
	Path   Path
	Timing Timing

	// Bytes a perfectly fused kernel has to move for this case.
	Bytes int

	// Validated tells whether the case was checked against the float64 reference.
	Validated bool
}

// Bandwidth returns the effective memory bandwidth in bytes per second, computed from
// the median time.
func (r *Result) Bandwidth() float64 {
	if r.Timing.Median <= 0 {
		return 0
	}
	return float64(r.Bytes) / r.Timing.Median.Seconds()
}

// BandwidthString pretty-prints the bandwidth, e.g. "123 MB/s".
func (r *Result) BandwidthString() string {
	return humanize.Bytes(uint64(r.Bandwidth())) + "/s"
}

// String implements fmt.Stringer.
func (r *Result) String() string {
	return fmt.Sprintf("%s %s %s: median=%s, %s", r.Size, r.DType, r.Path, r.Timing.Median, r.BandwidthString())
}
