// Package tensors implements a local (host memory) Tensor, used to feed inputs to and
// read outputs from the execution of fusion definitions.
//
// Unlike a full ML framework there is no on-device caching here: the benchmark harness
// manages device buffers explicitly (see the backends package), so that host<->device
// transfers can be kept outside the measured region.
//
// To create a Tensor, use FromShape, FromScalar, FromValue or FromFlatDataAndDimensions.
// To access the data use the generic ConstFlatData and MutableFlatData, or the
// any-typed Tensor methods of the same name.
package tensors

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is a multidimensional array of one of the supported DTypes, stored in host
// memory as a flat slice in row-major order.
//
// It is thread-safe: the flat data is protected by a mutex while accessed through
// ConstFlatData / MutableFlatData.
type Tensor struct {
	shape shapes.Shape

	mu sync.Mutex
	// flat is a slice of the Go type corresponding to shape.DType.
	// It is nil after the tensor is finalized.
	flat any
}

// FromShape returns a Tensor with the given shape, with the data initialized to zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("cannot create tensor from invalid shape %s", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface(),
	}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor's shape is a scalar.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size is the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory is the number of bytes used to store the tensor.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Ok returns whether the tensor is valid (not finalized).
func (t *Tensor) Ok() bool { return t != nil && t.flat != nil && t.shape.Ok() }

// AssertValid panics if the tensor is nil or has been finalized.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("Tensor is nil")
	}
	if t.flat == nil {
		exceptions.Panicf("Tensor (shape=%s) has been finalized", t.shape)
	}
}

// Finalize releases the tensor data immediately. The tensor becomes invalid.
func (t *Tensor) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flat = nil
}

// ConstFlatData calls accessFn with the flattened data of the tensor.
// The data is owned by the tensor and must not be changed -- see MutableFlatData.
// The tensor is locked until accessFn returns.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flattened data of the tensor, which may be
// mutated inside accessFn. The tensor is locked until accessFn returns.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AssertValid()
	accessFn(t.flat)
}

// ConstFlatData is the generics version of Tensor.ConstFlatData.
// It panics if T doesn't match the tensor's DType.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("ConstFlatData[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
	t.ConstFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// MutableFlatData is the generics version of Tensor.MutableFlatData.
// It panics if T doesn't match the tensor's DType.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		exceptions.Panicf("MutableFlatData[%T] is incompatible with Tensor's dtype %s",
			v, t.shape.DType)
	}
	t.MutableFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
}

// CopyFlatData returns a copy of the flat data of the tensor.
// It panics if T doesn't match the tensor's DType.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var flatCopy []T
	ConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return flatCopy
}

// AssignFlatData copies the values in fromFlat to the storage used by toTensor.
// It panics if the dtype is incompatible or the size is wrong.
func AssignFlatData[T dtypes.Supported](toTensor *Tensor, fromFlat []T) {
	MutableFlatData(toTensor, func(toFlat []T) {
		if len(toFlat) != len(fromFlat) {
			var v T
			exceptions.Panicf("AssignFlatData[%T] is trying to store %d values into shape %s, which requires %d values",
				v, len(fromFlat), toTensor.Shape(), toTensor.Shape().Size())
		}
		copy(toFlat, fromFlat)
	})
}

// ToScalar returns the scalar value of the tensor.
// It panics if the tensor is not a scalar or T doesn't match its DType.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	if !t.IsScalar() {
		var v T
		exceptions.Panicf("ToScalar[%T] requires scalar Tensor, got shape %s instead", v, t.shape)
	}
	return CopyFlatData[T](t)[0]
}

// FromScalar creates a scalar tensor with the given value.
// The DType is inferred from the value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled everywhere
// with the given scalar value. The DType is inferred from the value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) (t *Tensor) {
	dtype := dtypes.FromGenericsType[T]()
	t = FromShape(shapes.Make(dtype, dimensions...))
	MutableFlatData(t, func(flat []T) {
		for ii := range flat {
			flat[ii] = value
		}
	})
	return
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the
// flattened values given in data. The data is copied into the tensor.
// The DType is inferred from the data type.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) (t *Tensor) {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t = FromShape(shape)
	MutableFlatData(t, func(flat []T) {
		copy(flat, data)
	})
	return
}

// FromValue returns a tensor constructed from the given multidimensional slice
// (or scalar). If the rank of value is larger than 1, the shape of all sub-slices
// must be the same. It panics if the shape is not regular or the type unsupported.
func FromValue(value any) (t *Tensor) {
	shape, err := shapeForValue(value)
	if err != nil {
		panic(errors.Wrapf(err, "cannot create tensor from %T", value))
	}
	t = FromShape(shape)
	t.MutableFlatData(func(flatAny any) {
		flatV := reflect.ValueOf(flatAny)
		if shape.IsScalar() {
			flatV.Index(0).Set(reflect.ValueOf(value))
			return
		}
		copySlicesRecursively(flatV, reflect.ValueOf(value), t.LayoutStrides())
	})
	return
}

// FromAnyValue is like FromValue, but it also accepts a *Tensor, which is returned
// unchanged.
func FromAnyValue(value any) *Tensor {
	if t, ok := value.(*Tensor); ok {
		return t
	}
	return FromValue(value)
}

// Value returns a multidimensional slice (or scalar, if the tensor's rank is 0) copy
// of the tensor's data.
func (t *Tensor) Value() any {
	var value any
	t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		if t.shape.IsScalar() {
			value = flatV.Index(0).Interface()
			return
		}
		value = nestedSlice(flatV, t.shape.Dimensions).Interface()
	})
	return value
}

// nestedSlice converts a flat row-major slice into nested slices with the given
// dimensions, copying the data.
func nestedSlice(flatV reflect.Value, dims []int) reflect.Value {
	if len(dims) == 1 {
		out := reflect.MakeSlice(flatV.Type(), dims[0], dims[0])
		reflect.Copy(out, flatV)
		return out
	}
	subSize := 1
	for _, dim := range dims[1:] {
		subSize *= dim
	}
	first := nestedSlice(flatV.Slice(0, subSize), dims[1:])
	out := reflect.MakeSlice(reflect.SliceOf(first.Type()), dims[0], dims[0])
	out.Index(0).Set(first)
	for ii := 1; ii < dims[0]; ii++ {
		out.Index(ii).Set(nestedSlice(flatV.Slice(ii*subSize, (ii+1)*subSize), dims[1:]))
	}
	return out
}

// LayoutStrides returns the strides for each axis of the tensor's row-major layout.
func (t *Tensor) LayoutStrides() (strides []int) {
	rank := t.shape.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int, rank)
	currentStride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= t.shape.Dimensions[axis]
	}
	return
}

// copySlicesRecursively copies the multidimensional slice mdSlice into the flat data.
func copySlicesRecursively(data reflect.Value, mdSlice reflect.Value, strides []int) {
	if len(strides) == 1 {
		reflect.Copy(data, mdSlice)
		return
	}
	numElements := mdSlice.Len()
	for ii := 0; ii < numElements; ii++ {
		start := ii * strides[0]
		end := (ii + 1) * strides[0]
		copySlicesRecursively(data.Slice(start, end), mdSlice.Index(ii), strides[1:])
	}
}

// shapeForValue returns the shape of a multidimensional slice (or scalar) value.
func shapeForValue(value any) (shape shapes.Shape, err error) {
	valueT := reflect.TypeOf(value)
	for valueT.Kind() == reflect.Slice {
		valueV := reflect.ValueOf(value)
		if valueV.Len() == 0 {
			err = errors.Errorf("value with empty slice not supported")
			return
		}
		shape.Dimensions = append(shape.Dimensions, valueV.Len())
		value = valueV.Index(0).Interface()
		valueT = reflect.TypeOf(value)
	}
	shape.DType = dtypes.FromGoType(valueT)
	if shape.DType == dtypes.InvalidDType {
		err = errors.Errorf("type %T not supported as a tensor base type", value)
	}
	return
}

// Float64s returns a copy of the tensor's flat data converted to float64, whatever its
// DType. Used for validation and tolerance comparisons.
func (t *Tensor) Float64s() []float64 {
	var result []float64
	t.ConstFlatData(func(flat any) {
		result = flatToFloat64(t.shape.DType, flat)
	})
	return result
}

// CastAs returns a copy of the tensor converted to the given dtype. Values are
// converted through float64, so it is meant for the float dtypes: casting to a
// reduced-precision dtype rounds the values accordingly.
func (t *Tensor) CastAs(dtype dtypes.DType) *Tensor {
	values := t.Float64s()
	result := FromShape(shapes.Make(dtype, t.shape.Dimensions...))
	result.MutableFlatData(func(flat any) {
		switch dtype {
		case dtypes.Float64:
			copy(flat.([]float64), values)
		case dtypes.Float32:
			target := flat.([]float32)
			for ii, v := range values {
				target[ii] = float32(v)
			}
		case dtypes.Float16:
			target := flat.([]float16.Float16)
			for ii, v := range values {
				target[ii] = float16.Fromfloat32(float32(v))
			}
		case dtypes.BFloat16:
			target := flat.([]bfloat16.BFloat16)
			for ii, v := range values {
				target[ii] = bfloat16.FromFloat32(float32(v))
			}
		case dtypes.Int32:
			target := flat.([]int32)
			for ii, v := range values {
				target[ii] = int32(v)
			}
		case dtypes.Int64:
			target := flat.([]int64)
			for ii, v := range values {
				target[ii] = int64(v)
			}
		default:
			exceptions.Panicf("Tensor.CastAs: unsupported dtype %s", dtype)
		}
	})
	return result
}

func flatToFloat64(dtype dtypes.DType, flat any) []float64 {
	switch dtype {
	case dtypes.Float64:
		source := flat.([]float64)
		result := make([]float64, len(source))
		copy(result, source)
		return result
	case dtypes.Float32:
		return convertToFloat64(flat.([]float32), func(v float32) float64 { return float64(v) })
	case dtypes.Float16:
		return convertToFloat64(flat.([]float16.Float16), func(v float16.Float16) float64 { return float64(v.Float32()) })
	case dtypes.BFloat16:
		return convertToFloat64(flat.([]bfloat16.BFloat16), func(v bfloat16.BFloat16) float64 { return float64(v.Float32()) })
	case dtypes.Int32:
		return convertToFloat64(flat.([]int32), func(v int32) float64 { return float64(v) })
	case dtypes.Int64:
		return convertToFloat64(flat.([]int64), func(v int64) float64 { return float64(v) })
	default:
		exceptions.Panicf("Tensor.Float64s: unsupported dtype %s", dtype)
	}
	return nil
}

func convertToFloat64[T any](source []T, convertFn func(T) float64) []float64 {
	result := make([]float64, len(source))
	for ii, v := range source {
		result[ii] = convertFn(v)
	}
	return result
}

// Equal checks that all elements of the two tensors are exactly equal.
// It returns false if the shapes are different.
func (t *Tensor) Equal(other *Tensor) bool {
	if !t.shape.Equal(other.shape) {
		return false
	}
	return t.InDelta(other, 0)
}

// InDelta checks that all elements of the two tensors are within delta of each other:
// `|t[i] - other[i]| <= delta`. The shapes must have the same dimensions, but the
// dtypes may differ -- values are compared as float64.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if !t.shape.EqualDimensions(other.shape) {
		return false
	}
	a, b := t.Float64s(), other.Float64s()
	for ii := range a {
		diff := math.Abs(a[ii] - b[ii])
		if diff > delta || math.IsNaN(diff) {
			return false
		}
	}
	return true
}

// MaxSizeForString is the largest tensor that String() prints in full.
var MaxSizeForString = 128

// String prints the shape and, for small tensors, the values.
func (t *Tensor) String() string {
	if t == nil || !t.Ok() {
		return "Tensor(invalid)"
	}
	if t.Size() > MaxSizeForString {
		return fmt.Sprintf("Tensor(%s: %d values)", t.shape, t.Size())
	}
	var parts []string
	for _, v := range t.Float64s() {
		parts = append(parts, fmt.Sprintf("%.5g", v))
	}
	return fmt.Sprintf("Tensor(%s: [%s])", t.shape, strings.Join(parts, ", "))
}
