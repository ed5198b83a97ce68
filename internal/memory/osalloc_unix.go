//go:build unix

package memory

import "golang.org/x/sys/unix"

// osReserve maps anonymous, page-aligned memory. Returns nil when the
// OS refuses the mapping.
func osReserve(size int) []byte {
	b, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil
	}
	return b
}

func osFree(b []byte) {
	// Double unmap would be a bookkeeping bug upstream; the region map
	// guarantees each slice is unmapped once.
	_ = unix.Munmap(b)
}
