// Package memory implements the hierarchical free-list allocator that
// backs tensor storage across backends.
//
// A BufferAllocator sits on top of a raw Allocator strategy (OS-backed,
// or chained to a parent BufferAllocator) and provides memory reuse
// with alignment: nearest-fit lookup over size-ordered free tables,
// buddy-style split and merge in an index-addressed chunk arena,
// isolated allocation groups for concurrent execution regions, named
// heuristic profiles for repeatable placement, and a two-step tensor
// relocation protocol for shrinking the footprint under a budget.
//
// BufferAllocator performs no locking. Callers serialize the calls of
// one logical region themselves; distinct groups may interleave but a
// group's table is exclusively owned by whichever region holds it.
package memory
