package fuser

import (
	"math"

	"github.com/gomlx/fusionbench/types/tensors"
	"github.com/pkg/errors"
)

// Compare checks every element of got against the float64 reference values, within the
// tolerance. It returns an error describing the worst offender if any value is out of
// tolerance.
func Compare(got *tensors.Tensor, want []float64, tol Tolerance) error {
	gotFlat := got.Float64s()
	if len(gotFlat) != len(want) {
		return errors.Errorf("Compare: got %d values (%s), reference has %d", len(gotFlat), got.Shape(), len(want))
	}
	var numFailed, worstIdx int
	var worstDiff float64
	worstIdx = -1
	for ii := range want {
		if tol.Check(gotFlat[ii], want[ii]) {
			continue
		}
		numFailed++
		diff := math.Abs(gotFlat[ii] - want[ii])
		if worstIdx == -1 || diff > worstDiff || math.IsNaN(diff) {
			worstDiff = diff
			worstIdx = ii
		}
	}
	if numFailed > 0 {
		return errors.Errorf("Compare: %d of %d values out of tolerance (abs=%g, rel=%g): "+
			"worst at flat index %d, got %g, want %g",
			numFailed, len(want), tol.Abs, tol.Rel, worstIdx, gotFlat[worstIdx], want[worstIdx])
	}
	return nil
}

// Validate executes the definition on the inputs and compares each output against the
// corresponding float64 reference within the tolerance. References and tolerances are
// given per output, in AddOutput order.
func (d *Definition) Validate(inputs []*tensors.Tensor, want [][]float64, tols []Tolerance) error {
	if len(want) != len(d.outputs) {
		return errors.Errorf("definition %q: Validate given %d references for %d outputs",
			d.name, len(want), len(d.outputs))
	}
	if len(tols) != len(d.outputs) {
		return errors.Errorf("definition %q: Validate given %d tolerances for %d outputs",
			d.name, len(tols), len(d.outputs))
	}
	outputs, err := d.Execute(inputs...)
	if err != nil {
		return err
	}
	for ii, output := range outputs {
		if err := Compare(output, want[ii], tols[ii]); err != nil {
			return errors.WithMessagef(err, "definition %q: output #%d (%s)", d.name, ii, output.Shape())
		}
	}
	return nil
}
