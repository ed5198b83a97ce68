package webgpu

import (
	"github.com/kiln-ml/kiln/internal/backend"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Cost model constants. The per-dispatch overhead dominates small
// tensors on WebGPU, so the estimate is overhead plus time to stream
// every operand once at an assumed device bandwidth.
const (
	dispatchOverheadMs = 0.05
	// Conservative effective bandwidth for integrated GPUs.
	bytesPerMs = 20 * 1024 * 1024
	// Arithmetic-heavy ops re-read inputs; weight their traffic.
	computeTrafficFactor = 4
)

// supportedOps is the set of operations this backend can execute.
var supportedOps = map[backend.OpKind]bool{
	backend.OpConvolution: true,
	backend.OpMatMul:      true,
	backend.OpPooling:     true,
	backend.OpBinary:      true,
	backend.OpUnary:       true,
	backend.OpSoftmax:     true,
	// Raster stays on the CPU; scattered reads defeat workgroup
	// coherence.
	backend.OpRaster: false,
}

// Measure implements backend.Backend. The estimate is a latency
// model, not a measurement; the scheduler only needs estimates that
// rank backends consistently.
func (b *Backend) Measure(kind backend.OpKind, inputs, outputs []*tensor.Tensor) (float64, bool) {
	if !supportedOps[kind] {
		return 0, false
	}

	var bytes int
	for _, t := range inputs {
		bytes += t.ByteSize()
	}
	for _, t := range outputs {
		bytes += t.ByteSize()
	}

	traffic := float64(bytes)
	switch kind {
	case backend.OpConvolution, backend.OpMatMul:
		traffic *= computeTrafficFactor
	}
	if b.config.Precision == backend.PrecisionLow {
		traffic /= 2
	}

	return dispatchOverheadMs + traffic/bytesPerMs, true
}
