package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kiln-ml/kiln/internal/memory"
)

// deviceRegion is one wgpu buffer addressed through a virtual base.
type deviceRegion struct {
	buffer *wgpu.Buffer
	size   int
}

// deviceAllocator sources device memory for the buffer pools. GPU
// buffer handles are opaque, so each buffer is assigned a base in a
// private virtual address space; the pools suballocate virtual ranges
// and resolve expresses them back as buffer plus offset for binding.
type deviceAllocator struct {
	dev   *wgpu.Device
	usage wgpu.BufferUsage

	mu     sync.Mutex
	nextVA uintptr
	roots  map[uintptr]deviceRegion
	held   int
}

// Virtual bases start high so they can never collide with real host
// pointers handed around the same process.
const deviceVABase = uintptr(1) << 40

func newDeviceAllocator(dev *wgpu.Device, usage wgpu.BufferUsage) *deviceAllocator {
	return &deviceAllocator{
		dev:    dev,
		usage:  usage,
		nextVA: deviceVABase,
		roots:  make(map[uintptr]deviceRegion),
	}
}

// Alloc creates a fresh device buffer and returns its virtual range.
func (d *deviceAllocator) Alloc(size int) memory.Chunk {
	buf := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: d.usage,
		Size:  uint64(size),
	})
	if buf == nil {
		return memory.Chunk{}
	}

	d.mu.Lock()
	va := d.nextVA
	// A guard gap after each region keeps end-of-range addresses from
	// resolving into the next buffer.
	d.nextVA += uintptr(size) + memory.DefaultAlign
	d.roots[va] = deviceRegion{buffer: buf, size: size}
	d.held += size
	d.mu.Unlock()

	return memory.Chunk{Addr: va, Size: size}
}

// Release destroys the buffer behind a chunk returned by Alloc.
func (d *deviceAllocator) Release(c memory.Chunk) {
	d.mu.Lock()
	region, ok := d.roots[c.Addr]
	if ok {
		delete(d.roots, c.Addr)
		d.held -= region.size
	}
	d.mu.Unlock()
	if ok {
		region.buffer.Release()
	}
}

// resolve maps a virtual address range to the backing buffer and the
// offset of addr within it.
func (d *deviceAllocator) resolve(addr uintptr, size int) (*wgpu.Buffer, uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for va, region := range d.roots {
		if addr >= va && addr+uintptr(size) <= va+uintptr(region.size) {
			return region.buffer, uint64(addr - va), true
		}
	}
	return nil, 0, false
}

// heldBytes reports the device memory currently backing live regions.
func (d *deviceAllocator) heldBytes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// destroy releases every region still held.
func (d *deviceAllocator) destroy() {
	d.mu.Lock()
	regions := d.roots
	d.roots = make(map[uintptr]deviceRegion)
	d.held = 0
	d.mu.Unlock()
	for _, region := range regions {
		region.buffer.Release()
	}
}
