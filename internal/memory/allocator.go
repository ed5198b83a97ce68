package memory

// DefaultAlign is the default chunk alignment. Matches the widest
// alignment a device or SIMD host path may require.
const DefaultAlign = 64

// Chunk is one allocated region: an opaque address and its byte
// length. The zero Chunk signals allocation failure; callers must
// check before use.
type Chunk struct {
	Addr uintptr
	Size int
}

// IsZero reports whether the chunk denotes a failed allocation.
func (c Chunk) IsZero() bool {
	return c.Addr == 0 || c.Size == 0
}

// Allocator is a raw-memory source for a BufferAllocator. Exhaustion
// is reported with a zero Chunk, never an error or a panic.
type Allocator interface {
	// Alloc returns a chunk of at least size bytes, or the zero Chunk.
	Alloc(size int) Chunk
	// Release returns a chunk previously obtained from Alloc.
	Release(c Chunk)
}

// RecurseAllocator sources chunks from a parent BufferAllocator so
// allocators chain: a backend-local pool borrowing from a shared outer
// pool instead of going to the operating system itself.
type RecurseAllocator struct {
	parent *BufferAllocator
}

// NewRecurseAllocator returns a strategy that delegates to parent.
func NewRecurseAllocator(parent *BufferAllocator) *RecurseAllocator {
	return &RecurseAllocator{parent: parent}
}

// Alloc satisfies the request from the parent's free lists.
func (r *RecurseAllocator) Alloc(size int) Chunk {
	return r.parent.Alloc(size, false)
}

// Release hands the chunk back to the parent for reuse.
func (r *RecurseAllocator) Release(c Chunk) {
	r.parent.Free(c)
}
