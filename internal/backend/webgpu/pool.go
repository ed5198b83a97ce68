package webgpu

import (
	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kiln-ml/kiln/internal/memory"
)

// bufferPool suballocates device memory for one element class. The
// free-list allocator in front of the device keeps small tensor
// buffers from each costing a full wgpu allocation.
type bufferPool struct {
	dev   *deviceAllocator
	alloc *memory.BufferAllocator
}

func newBufferPool(dev *deviceAllocator, align int) *bufferPool {
	return &bufferPool{
		dev:   dev,
		alloc: memory.NewBufferAllocator(dev, align),
	}
}

// acquire reserves size bytes of device memory. separate requests
// skip free-list reuse so the range never aliases a prior dynamic
// acquisition.
func (p *bufferPool) acquire(size int, separate bool) memory.Chunk {
	return p.alloc.Alloc(size, separate)
}

// release returns a chunk to the pool's free list.
func (p *bufferPool) release(c memory.Chunk) bool {
	return p.alloc.Free(c)
}

// resolve maps an acquired chunk onto its backing wgpu buffer.
func (p *bufferPool) resolve(c memory.Chunk) (*wgpu.Buffer, uint64, bool) {
	return p.dev.resolve(c.Addr, c.Size)
}

// trim hands fully unused device regions back to the device.
func (p *bufferPool) trim() {
	p.alloc.Release(false)
}

// destroy tears down the pool and all its device regions.
func (p *bufferPool) destroy() {
	p.alloc.Release(true)
}

func (p *bufferPool) usedSize() int {
	return p.alloc.UsedSize()
}

func (p *bufferPool) totalSize() int {
	return p.alloc.TotalSize()
}
