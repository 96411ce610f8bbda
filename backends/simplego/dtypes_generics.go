package simplego

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// PODNumeric are the dtypes whose kernels operate on the Go type directly.
// float16 and bfloat16 are computed via float32 conversion, see the f16/bf16 helpers.
type PODNumeric interface {
	float32 | float64 | int32 | int64
}

func f16ToF32(src []float16.Float16, dst []float32) {
	for ii, v := range src {
		dst[ii] = v.Float32()
	}
}

func f32ToF16(src []float32, dst []float16.Float16) {
	for ii, v := range src {
		dst[ii] = float16.Fromfloat32(v)
	}
}

func bf16ToF32(src []bfloat16.BFloat16, dst []float32) {
	for ii, v := range src {
		dst[ii] = v.Float32()
	}
}

func f32ToBF16(src []float32, dst []bfloat16.BFloat16) {
	for ii, v := range src {
		dst[ii] = bfloat16.FromFloat32(v)
	}
}

// float32Scratch takes a float32 buffer of the given length from the backend pool.
// Return it with putBuffer when done.
func (b *Backend) float32Scratch(length int) *Buffer {
	return b.getBuffer(dtypes.Float32, length)
}
