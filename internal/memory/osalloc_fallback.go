//go:build !unix

package memory

import "unsafe"

// osReserve allocates an aligned slab on the Go heap where mmap is not
// available. Over-allocates by one alignment unit and slices from the
// first aligned offset; the returned slice keeps the slab alive.
func osReserve(size int) []byte {
	raw := make([]byte, size+DefaultAlign)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	off := 0
	if rem := addr % DefaultAlign; rem != 0 {
		off = int(DefaultAlign - rem)
	}
	return raw[off : off+size : off+size]
}

func osFree(_ []byte) {
	// Heap slabs are reclaimed by the garbage collector.
}
