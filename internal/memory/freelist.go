package memory

import "sort"

// freeEntry is one reusable chunk node in a size-ordered table.
type freeEntry struct {
	size int
	node int32
}

// freeTable is a size-ordered multimap over free chunk nodes. Lookup
// is nearest-fit: the smallest tracked entry whose size covers the
// request wins. Sizes are not unique; entries of equal size keep
// insertion order.
type freeTable struct {
	entries []freeEntry
}

func (t *freeTable) insert(size int, node int32) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].size > size })
	t.entries = append(t.entries, freeEntry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = freeEntry{size: size, node: node}
}

// takeAtLeast removes and returns the smallest entry of at least size
// bytes, or nilNode when nothing tracked is large enough.
func (t *freeTable) takeAtLeast(size int) int32 {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].size >= size })
	if i == len(t.entries) {
		return nilNode
	}
	node := t.entries[i].node
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return node
}

// remove drops the entry for node if it is still indexed. Entries may
// have been discarded wholesale by Release(false), so absence is not
// an error.
func (t *freeTable) remove(size int, node int32) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].size >= size })
	for ; i < len(t.entries) && t.entries[i].size == size; i++ {
		if t.entries[i].node == node {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

func (t *freeTable) clear() {
	t.entries = t.entries[:0]
}

func (t *freeTable) count() int {
	return len(t.entries)
}
