// Package backend defines the buffer-lifecycle contract between the
// Kiln graph engine and device backends, plus the runtime registry
// that creates them.
package backend

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// ForwardType identifies a backend implementation.
type ForwardType int

// Registered backend types.
const (
	ForwardCPU ForwardType = iota
	ForwardWebGPU
	ForwardAuto
)

// String returns a human-readable name for the backend type.
func (f ForwardType) String() string {
	switch f {
	case ForwardCPU:
		return "cpu"
	case ForwardWebGPU:
		return "webgpu"
	case ForwardAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// Mode selects how a backend turns recorded work into device work.
type Mode int

const (
	// Direct submits and waits for each operation as it is issued.
	Direct Mode = iota
	// Indirect accumulates recorded work and submits it as one batch
	// when execution ends.
	Indirect
)

// PrecisionMode selects the compute precision a backend should favor.
type PrecisionMode int

const (
	PrecisionNormal PrecisionMode = iota
	PrecisionHigh
	PrecisionLow
)

// MemoryMode trades memory footprint against speed.
type MemoryMode int

const (
	MemoryNormal MemoryMode = iota
	MemoryHigh
	MemoryLow
)

// Config carries the user-tunable knobs for backend creation.
type Config struct {
	Precision PrecisionMode
	Memory    MemoryMode
}

// Info describes the backend a caller wants created.
type Info struct {
	Type       ForwardType
	NumThreads int
	User       *Config
	Mode       Mode
}

// StorageType states who controls the lifetime of an acquired buffer.
type StorageType int

const (
	// Static buffers live until the backend is destroyed or the
	// buffer is explicitly released. Constants and weights use this.
	Static StorageType = iota
	// Dynamic buffers come from the shared reuse pool. A later
	// acquire may hand the same memory to another tensor, so the
	// content is only valid until the next resize round.
	Dynamic
	// DynamicSeparate buffers come from the reuse pool but never
	// alias earlier dynamic acquisitions in the same round.
	DynamicSeparate
)

// String returns a human-readable name for the storage type.
func (s StorageType) String() string {
	switch s {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	case DynamicSeparate:
		return "dynamic_separate"
	default:
		return "unknown"
	}
}

// CopyDirection tells CopyBuffer which way the bytes flow.
type CopyDirection int

const (
	HostToDevice CopyDirection = iota
	DeviceToHost
)

// OpKind identifies an operation for Measure and capability checks.
type OpKind int

const (
	OpConvolution OpKind = iota
	OpMatMul
	OpPooling
	OpBinary
	OpUnary
	OpSoftmax
	OpRaster
)

// Backend executes operations on one device and owns all device
// memory its tensors live in.
//
// The lifecycle is two-phased. Between ResizeBegin and ResizeEnd the
// engine acquires buffers for the coming execution; between
// ExecuteBegin and ExecuteEnd it records and runs operations. An
// Indirect backend may defer all device work to ExecuteEnd.
type Backend interface {
	Type() ForwardType

	// AcquireBuffer attaches device storage of the given storage
	// class to t and stamps the tensor's device address.
	AcquireBuffer(t *tensor.Tensor, storage StorageType) error
	// ReleaseBuffer detaches t's storage. Dynamic storage returns to
	// the reuse pool; Static storage is freed.
	ReleaseBuffer(t *tensor.Tensor, storage StorageType) error
	// ClearBuffer drops every reusable buffer the backend holds.
	ClearBuffer() error

	// CopyBuffer moves t's bytes between host and device memory,
	// converting between host layout and the backend's native device
	// layout as needed.
	CopyBuffer(t *tensor.Tensor, host []byte, dir CopyDirection) error
	// CopyTensor copies src's device bytes into dst, converting
	// between layouts when they differ.
	CopyTensor(src, dst *tensor.Tensor) error

	ResizeBegin() error
	ResizeEnd() error
	ExecuteBegin() error
	ExecuteEnd() error

	// Measure estimates the cost in milliseconds of running kind over
	// the given tensors on this backend, and reports whether the
	// backend supports the operation at all.
	Measure(kind OpKind, inputs, outputs []*tensor.Tensor) (float64, bool)

	UsedSize() int
}

// Compactor is implemented by backends that can repack their dynamic
// arena to a smaller footprint between executions.
type Compactor interface {
	// MoveTensorsToBottom plans a compaction of the given tensors
	// into budget bytes at the bottom of the dynamic arena and
	// returns the tensors that did not fit.
	MoveTensorsToBottom(tensors []*tensor.Tensor, budget int) []*tensor.Tensor
	// AdaptTensorAddresses commits the last plan, rebinding every
	// planned tensor to its new address.
	AdaptTensorAddresses(tensors []*tensor.Tensor) bool
}
