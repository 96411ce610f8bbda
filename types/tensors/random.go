package tensors

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// FillNormal fills the tensor with values sampled from a normal distribution with
// mean 0 and standard deviation 1, drawn from rng. Only float dtypes are supported.
//
// float16 and bfloat16 values are sampled in float32 and then truncated, the same
// values a promoted computation would see.
func (t *Tensor) FillNormal(rng *rand.Rand) {
	switch t.shape.DType {
	case dtypes.Float64:
		MutableFlatData(t, func(flat []float64) {
			for ii := range flat {
				flat[ii] = rng.NormFloat64()
			}
		})
	case dtypes.Float32:
		MutableFlatData(t, func(flat []float32) {
			for ii := range flat {
				flat[ii] = float32(rng.NormFloat64())
			}
		})
	case dtypes.Float16:
		MutableFlatData(t, func(flat []float16.Float16) {
			for ii := range flat {
				flat[ii] = float16.Fromfloat32(float32(rng.NormFloat64()))
			}
		})
	case dtypes.BFloat16:
		MutableFlatData(t, func(flat []bfloat16.BFloat16) {
			for ii := range flat {
				flat[ii] = bfloat16.FromFloat32(float32(rng.NormFloat64()))
			}
		})
	default:
		exceptions.Panicf("Tensor.FillNormal: unsupported dtype %s", t.shape.DType)
	}
}
