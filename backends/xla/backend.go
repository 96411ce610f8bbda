package xla

import (
	"fmt"
	"reflect"
	"runtime"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusionbench/backends"
	"github.com/gomlx/fusionbench/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/pjrt"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Backend implements the XLA/PJRT backends.Backend.
type Backend struct {
	plugin     *pjrt.Plugin
	client     *pjrt.Client
	pluginName string
}

// AssertValid will panic if the backend is not valid: if it's nil or has already been finalized.
func (b *Backend) AssertValid() {
	if b == nil {
		exceptions.Panicf("%q backend is nil", BackendName)
	}
	if b.plugin == nil {
		exceptions.Panicf("%q backend's plugin is nil, has it already been finalized?", BackendName)
	}
}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	b.AssertValid()
	return fmt.Sprintf("%s:%s - %s", BackendName, b.pluginName, b.plugin)
}

// NumDevices returns the number of devices available for this Backend.
func (b *Backend) NumDevices() backends.DeviceNum {
	b.AssertValid()
	return backends.DeviceNum(len(b.client.AddressableDevices()))
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	if b.plugin == nil {
		return
	}
	if b.client != nil {
		err := b.client.Destroy()
		if err != nil {
			klog.Warningf("Failure while destroying PJRT client: %+v", err)
		}
		b.client = nil
	}
	b.plugin = nil
}

// castToPJRT casts the buffer to pjrt.Buffer.
func castToPJRT(buffer backends.Buffer) (*pjrt.Buffer, error) {
	pb, ok := buffer.(*pjrt.Buffer)
	if !ok {
		return nil, errors.Errorf("buffer given is not a %q backend (pjrt) buffer", BackendName)
	}
	return pb, nil
}

// BufferFinalize allows the client to inform the backend that the buffer is no longer
// needed and associated resources can be freed immediately.
func (b *Backend) BufferFinalize(buffer backends.Buffer) error {
	b.AssertValid()
	buf, err := castToPJRT(buffer)
	if err != nil {
		return err
	}
	if err := buf.Destroy(); err != nil {
		return errors.WithMessagef(err, "backend %q: BufferFinalize", BackendName)
	}
	return nil
}

// BufferShape returns the shape for the buffer.
func (b *Backend) BufferShape(buffer backends.Buffer) (shapes.Shape, error) {
	b.AssertValid()
	pBuffer, err := castToPJRT(buffer)
	if err != nil {
		return shapes.Invalid(), err
	}
	dtype, err := pBuffer.DType()
	if err != nil {
		return shapes.Invalid(), errors.WithMessagef(err, "backend %q", BackendName)
	}
	dims, err := pBuffer.Dimensions()
	if err != nil {
		return shapes.Invalid(), errors.WithMessagef(err, "backend %q", BackendName)
	}
	return shapes.Make(dtype, dims...), nil
}

// BufferDeviceNum returns the deviceNum for the buffer.
func (b *Backend) BufferDeviceNum(buffer backends.Buffer) (backends.DeviceNum, error) {
	b.AssertValid()
	pBuffer, err := castToPJRT(buffer)
	if err != nil {
		return 0, err
	}
	device, err := pBuffer.Device()
	if err != nil {
		return 0, errors.WithMessagef(err, "backend %q", BackendName)
	}
	num := pBuffer.Client().NumForDevice(device)
	if num == -1 {
		return 0, errors.Errorf("backend %q: pjrt buffer stored on an unknown device", BackendName)
	}
	return backends.DeviceNum(num), nil
}

// BufferToFlatData transfers the flat values of the buffer to the Go flat array.
// The slice flat must have the exact number of elements required to store the buffer
// shape. See BufferShape, and shapes.Shape.Size.
func (b *Backend) BufferToFlatData(buffer backends.Buffer, flat any) error {
	b.AssertValid()
	shape, err := b.BufferShape(buffer)
	if err != nil {
		return err
	}
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return errors.Errorf("backend %q: BufferToFlatData, but flat is not a slice, instead it is %T", BackendName, flat)
	}
	flatDType := dtypes.FromGoType(flatV.Type().Elem())
	if flatDType != shape.DType {
		return errors.Errorf("backend %q: BufferToFlatData with buffer of shape %s, but flat with incompatible dtype, it is %T",
			BackendName, shape, flat)
	}

	pBuffer, err := castToPJRT(buffer)
	if err != nil {
		return err
	}
	element0 := flatV.Index(0)
	flatValuesPtr := element0.Addr().UnsafePointer()
	sizeBytes := uintptr(flatV.Len()) * element0.Type().Size()

	var pinner runtime.Pinner
	pinner.Pin(pBuffer)
	pinner.Pin(flatValuesPtr)
	defer pinner.Unpin()
	dst := unsafe.Slice((*byte)(flatValuesPtr), sizeBytes)
	if err := pBuffer.ToHost(dst); err != nil {
		return errors.WithMessagef(err, "backend %q: BufferToFlatData", BackendName)
	}
	return nil
}

// BufferFromFlatData transfers data from Go given as a flat slice (of the type
// corresponding to the shape DType) to the deviceNum, and returns the corresponding
// Buffer.
func (b *Backend) BufferFromFlatData(deviceNum backends.DeviceNum, flat any, shape shapes.Shape) (backends.Buffer, error) {
	b.AssertValid()
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("backend %q: BufferFromFlatData, but flat is not a slice, instead it is %T", BackendName, flat)
	}
	flatDType := dtypes.FromGoType(flatV.Type().Elem())
	if flatDType != shape.DType {
		return nil, errors.Errorf("backend %q: BufferFromFlatData with shape %s, but flat with incompatible dtype, it is %T",
			BackendName, shape, flat)
	}

	buffer, err := b.client.BufferFromHost().
		FromFlatDataWithDimensions(flat, shape.Dimensions).
		ToDeviceNum(int(deviceNum)).
		Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q: BufferFromFlatData", BackendName)
	}
	return buffer, nil
}
