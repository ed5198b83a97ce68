package webgpu

import (
	"runtime"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kiln-ml/kiln/internal/backend"
)

// Creator builds WebGPU runtimes for the backend registry.
type Creator struct{}

// CreateRuntime implements backend.RuntimeCreator.
func (Creator) CreateRuntime(info *backend.Info) (backend.Runtime, error) {
	return NewRuntime(info)
}

// Validate implements backend.RuntimeCreator. A zero thread count is
// fixed up to the CPU count for host-side packing loops.
func (Creator) Validate(info *backend.Info) bool {
	if info.Type != backend.ForwardWebGPU {
		return false
	}
	if info.NumThreads < 1 {
		info.NumThreads = runtime.NumCPU()
	}
	return IsAvailable()
}

// Register installs the WebGPU creator into a registry.
func Register(r *backend.Registry) bool {
	return r.Register(backend.ForwardWebGPU, Creator{})
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}
