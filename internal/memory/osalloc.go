package memory

import (
	"sync"
	"unsafe"
)

// OSAllocator sources chunks directly from the operating system. It
// keeps the backing byte views of everything it hands out so host code
// can address sub-ranges of a region that a BufferAllocator has split.
type OSAllocator struct {
	mu      sync.Mutex
	regions map[uintptr][]byte
}

// NewOSAllocator returns the default OS-backed allocation strategy.
func NewOSAllocator() *OSAllocator {
	return &OSAllocator{regions: make(map[uintptr][]byte)}
}

// Alloc reserves size bytes from the OS. The returned address is at
// least page aligned.
func (o *OSAllocator) Alloc(size int) Chunk {
	if size <= 0 {
		return Chunk{}
	}
	b := osReserve(size)
	if len(b) < size {
		return Chunk{}
	}
	addr := uintptr(unsafe.Pointer(&b[0]))
	o.mu.Lock()
	o.regions[addr] = b
	o.mu.Unlock()
	return Chunk{Addr: addr, Size: size}
}

// Release returns a chunk obtained from Alloc to the OS. Foreign
// chunks are ignored.
func (o *OSAllocator) Release(c Chunk) {
	o.mu.Lock()
	b, ok := o.regions[c.Addr]
	delete(o.regions, c.Addr)
	o.mu.Unlock()
	if ok {
		osFree(b)
	}
}

// Bytes resolves a chunk, possibly a sub-range of a larger region
// handed to a BufferAllocator, to its backing bytes. The second result
// is false when the chunk is not inside any region this allocator owns.
func (o *OSAllocator) Bytes(c Chunk) ([]byte, bool) {
	if c.IsZero() {
		return nil, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for base, b := range o.regions {
		if c.Addr >= base && c.Addr+uintptr(c.Size) <= base+uintptr(len(b)) {
			off := int(c.Addr - base)
			return b[off : off+c.Size : off+c.Size], true
		}
	}
	return nil, false
}
