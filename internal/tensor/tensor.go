package tensor

import "fmt"

// Layout describes how a tensor's elements are ordered in memory.
type Layout int

// Supported memory layouts. NC4HW4 packs channels in groups of four,
// the native layout for image-backed GPU storage.
const (
	NCHW Layout = iota
	NHWC
	NC4HW4
)

// String returns a human-readable name for the layout.
func (l Layout) String() string {
	switch l {
	case NCHW:
		return "NCHW"
	case NHWC:
		return "NHWC"
	case NC4HW4:
		return "NC4HW4"
	default:
		return "unknown"
	}
}

// Tensor describes a typed, shaped view over backend-owned device
// memory. The backend that acquires storage for a tensor stamps the
// device address and size; the tensor never owns the bytes.
type Tensor struct {
	shape  Shape
	dtype  DataType
	layout Layout

	addr uintptr
	size int
}

// New creates a tensor descriptor with no device storage attached.
func New(shape Shape, dtype DataType, layout Layout) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("tensor: %w", err)
	}
	return &Tensor{shape: shape.Clone(), dtype: dtype, layout: layout}, nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the tensor's data type.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// Layout returns the tensor's memory layout.
func (t *Tensor) Layout() Layout {
	return t.layout
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// ByteSize returns the dense byte size of the tensor's elements. For
// NC4HW4 the channel dimension is rounded up to a multiple of four.
func (t *Tensor) ByteSize() int {
	if t.layout == NC4HW4 {
		n, c := t.shape.Dim(0), t.shape.Dim(1)
		h, w := t.shape.Dim(2), t.shape.Dim(3)
		c4 := (c + 3) / 4 * 4
		return n * c4 * h * w * t.dtype.Size()
	}
	return t.shape.NumElements() * t.dtype.Size()
}

// SetDevice attaches backend storage to the tensor.
func (t *Tensor) SetDevice(addr uintptr, size int) {
	t.addr = addr
	t.size = size
}

// HasDevice reports whether backend storage is attached.
func (t *Tensor) HasDevice() bool {
	return t.size != 0
}

// DeviceAddr returns the device address of the tensor's storage.
func (t *Tensor) DeviceAddr() uintptr {
	return t.addr
}

// DeviceSize returns the byte size of the attached storage.
func (t *Tensor) DeviceSize() int {
	return t.size
}

// SetDeviceAddr rebinds the tensor to a relocated device address. The
// storage size is unchanged.
func (t *Tensor) SetDeviceAddr(addr uintptr) {
	t.addr = addr
}
