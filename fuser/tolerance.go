package fuser

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
)

// Tolerance bounds the accepted difference between a computed value and its float64
// reference: a value passes if |got-want| <= Abs + Rel*|want|.
type Tolerance struct {
	Abs, Rel float64
}

// Check returns whether got is within the tolerance of want. NaN never passes.
func (t Tolerance) Check(got, want float64) bool {
	if math.IsNaN(got) || math.IsNaN(want) {
		return false
	}
	return math.Abs(got-want) <= t.Abs+t.Rel*math.Abs(want)
}

// DefaultTolerances maps each supported float dtype to the tolerance used when
// validating against the float64 reference. Reduced-precision dtypes get looser
// bounds, since even their inputs are already rounded.
var DefaultTolerances = map[dtypes.DType]Tolerance{
	dtypes.Float64:  {Abs: 1e-8, Rel: 1e-8},
	dtypes.Float32:  {Abs: 1e-4, Rel: 1e-3},
	dtypes.Float16:  {Abs: 1e-2, Rel: 1e-2},
	dtypes.BFloat16: {Abs: 5e-2, Rel: 5e-2},
}

// DefaultTolerance returns the default tolerance for the dtype, or the Float64 one if
// the dtype is not listed.
func DefaultTolerance(dtype dtypes.DType) Tolerance {
	if tol, found := DefaultTolerances[dtype]; found {
		return tol
	}
	return DefaultTolerances[dtypes.Float64]
}
