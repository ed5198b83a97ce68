// Package webgpu implements the Kiln GPU backend on top of WebGPU.
// The Runtime owns the device and every cross-backend resource: the
// memory pools, compiled shaders and pipelines. Backends created from
// one runtime share all of it.
package webgpu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kiln-ml/kiln/internal/backend"
	"github.com/kiln-ml/kiln/internal/memory"
)

// tensorUsage is the usage every pool-backed tensor buffer carries so
// any range can be bound to compute or copied either way.
const tensorUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// minBindAlign is the storage buffer offset alignment WebGPU
// guarantees bindable; pool chunks keep to it so any chunk can be
// bound directly.
const minBindAlign = 256

// Runtime is the device-global state behind every WebGPU backend.
type Runtime struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	deviceID string
	threads  int
	mode     backend.Mode
	log      *backend.Logger

	devAlloc  *deviceAllocator
	floatPool *bufferPool
	bytePool  *bufferPool
	images    *imagePool

	// Shared host memory pool. Backends chain per-instance scratch
	// allocators onto it for layout packing.
	hostSource *memory.OSAllocator
	hostAlloc  *memory.BufferAllocator

	mu        sync.RWMutex
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
}

// NewRuntime initializes the WebGPU device and its shared pools.
func NewRuntime(info *backend.Info) (rt *Runtime, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			rt = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, instErr := wgpu.CreateInstance(nil)
	if instErr != nil {
		return nil, fmt.Errorf("webgpu: failed to create instance: %w", instErr)
	}
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}
	adapterInfo, infoErr := adapter.GetInfo()
	if infoErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get adapter info: %w", infoErr)
	}

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	devAlloc := newDeviceAllocator(device, tensorUsage)
	hostSource := memory.NewOSAllocator()
	rt = &Runtime{
		instance:   instance,
		adapter:    adapter,
		device:     device,
		queue:      queue,
		deviceID:   fmt.Sprintf("%s/%s", adapterInfo.Device, adapterInfo.Vendor),
		threads:    info.NumThreads,
		mode:       info.Mode,
		log:        backend.NewLogger(nil).WithBackend(backend.ForwardWebGPU),
		devAlloc:   devAlloc,
		floatPool:  newBufferPool(devAlloc, minBindAlign),
		bytePool:   newBufferPool(devAlloc, minBindAlign),
		images:     newImagePool(device),
		hostSource: hostSource,
		hostAlloc:  memory.NewBufferAllocator(hostSource, memory.DefaultAlign),
		shaders:    make(map[string]*wgpu.ShaderModule),
		pipelines:  make(map[string]*wgpu.ComputePipeline),
	}
	rt.log.Debug("runtime created", "device", rt.deviceID)
	return rt, nil
}

// CreateBackend builds an execution backend over this runtime's
// device state.
func (rt *Runtime) CreateBackend(config *backend.Config) (backend.Backend, error) {
	if config == nil {
		config = &backend.Config{}
	}
	return newBackend(rt, config), nil
}

// compileShader compiles WGSL shader code into a ShaderModule.
// Results are cached on the runtime.
func (rt *Runtime) compileShader(name, code string) *wgpu.ShaderModule {
	rt.mu.RLock()
	if shader, exists := rt.shaders[name]; exists {
		rt.mu.RUnlock()
		return shader
	}
	rt.mu.RUnlock()

	shader := rt.device.CreateShaderModuleWGSL(code)

	rt.mu.Lock()
	rt.shaders[name] = shader
	rt.mu.Unlock()
	return shader
}

// pipeline returns a cached ComputePipeline or creates a new one with
// auto layout.
func (rt *Runtime) pipeline(name string, shader *wgpu.ShaderModule) *wgpu.ComputePipeline {
	rt.mu.RLock()
	if p, exists := rt.pipelines[name]; exists {
		rt.mu.RUnlock()
		return p
	}
	rt.mu.RUnlock()

	p := rt.device.CreateComputePipelineSimple(nil, shader, "main")

	rt.mu.Lock()
	rt.pipelines[name] = p
	rt.mu.Unlock()
	return p
}

// GarbageCollect releases cached device resources. Light pressure
// returns unused pool regions; moderate pressure also drops free
// image tiles; full pressure additionally clears the compiled
// pipeline cache.
func (rt *Runtime) GarbageCollect(level int) {
	if level <= 0 {
		return
	}
	if level >= backend.GCLight {
		rt.floatPool.trim()
		rt.bytePool.trim()
		rt.hostAlloc.Release(false)
	}
	if level >= backend.GCModerate {
		rt.images.clear()
	}
	if level >= backend.GCFull {
		rt.mu.Lock()
		for _, p := range rt.pipelines {
			p.Release()
		}
		for _, s := range rt.shaders {
			s.Release()
		}
		rt.pipelines = make(map[string]*wgpu.ComputePipeline)
		rt.shaders = make(map[string]*wgpu.ShaderModule)
		rt.mu.Unlock()
	}
	rt.log.Debug("garbage collect", "level", level, "held_mb", rt.MemoryInMB())
}

// MemoryInMB reports device memory currently held by the runtime.
func (rt *Runtime) MemoryInMB() float64 {
	total := rt.devAlloc.heldBytes() + rt.images.heldBytes()
	return float64(total) / (1024 * 1024)
}

// GetCache serializes the names of the compiled conversion pipelines
// together with the device identity, so a later run on the same
// device can warm its pipeline cache up front.
func (rt *Runtime) GetCache() ([]byte, error) {
	rt.mu.RLock()
	names := make([]string, 0, len(rt.pipelines))
	for name := range rt.pipelines {
		names = append(names, name)
	}
	rt.mu.RUnlock()

	payload := appendString(nil, rt.deviceID)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(names)))
	for _, name := range names {
		payload = appendString(payload, name)
	}
	return backend.EncodeCache(payload)
}

// SetCache restores a blob captured by GetCache. Blobs from another
// device are rejected so stale kernels never warm the wrong GPU.
func (rt *Runtime) SetCache(blob []byte) error {
	payload, err := backend.DecodeCache(blob)
	if err != nil {
		return err
	}
	deviceID, rest, err := readString(payload)
	if err != nil {
		return err
	}
	if deviceID != rt.deviceID {
		return fmt.Errorf("webgpu: cache blob is for device %q, runtime has %q", deviceID, rt.deviceID)
	}
	if len(rest) < 4 {
		return backend.ErrCacheTooShort
	}
	count := binary.LittleEndian.Uint32(rest)
	rest = rest[4:]
	for i := uint32(0); i < count; i++ {
		var name string
		name, rest, err = readString(rest)
		if err != nil {
			return err
		}
		code, ok := conversionShaders[name]
		if !ok {
			// Unknown names come from newer builds; skip them.
			continue
		}
		rt.pipeline(name, rt.compileShader(name, code))
	}
	rt.log.Debug("cache restored", "pipelines", count)
	return nil
}

// Close tears down all pools and the device.
func (rt *Runtime) Close() error {
	rt.floatPool.destroy()
	rt.bytePool.destroy()
	rt.images.clear()
	rt.devAlloc.destroy()
	rt.hostAlloc.Release(true)

	rt.mu.Lock()
	for _, p := range rt.pipelines {
		p.Release()
	}
	for _, s := range rt.shaders {
		s.Release()
	}
	rt.pipelines = nil
	rt.shaders = nil
	rt.mu.Unlock()

	rt.queue.Release()
	rt.device.Release()
	rt.adapter.Release()
	rt.instance.Release()
	return nil
}

func appendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, backend.ErrCacheTooShort
	}
	n := int(binary.LittleEndian.Uint16(b))
	if len(b) < 2+n {
		return "", nil, backend.ErrCacheTooShort
	}
	return string(b[2 : 2+n]), b[2+n:], nil
}
