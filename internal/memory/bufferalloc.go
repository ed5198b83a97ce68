package memory

// nilNode marks an absent arena relation.
const nilNode = int32(-1)

// chunkKey identifies a live allocation in the used list. Both fields
// matter: an address alone is ambiguous once chunks have been split.
type chunkKey struct {
	addr uintptr
	size int
}

// node is one tracked memory region in the chunk arena. Relations are
// arena indices rather than pointers; deleted nodes are recycled.
// A node with children never holds live data itself: data lives only
// in leaves, and a split node's size equals the sum of its children.
type node struct {
	addr uintptr
	size int
	// useCount is the number of used leaf descendants, counting the
	// node itself when it is a used leaf. Zero means the whole subtree
	// is free and may merge.
	useCount int32
	parent   int32
	left     int32
	right    int32
	// table is the free table this chunk logically belongs to.
	table int32
	// source is set on roots obtained from a strategy.
	source Allocator
}

type scopeKind int

const (
	scopeGroup scopeKind = iota
	scopeBarrier
)

// scope is one open group or barrier bracket.
type scope struct {
	kind  scopeKind
	table int32
}

// BufferAllocator provides memory reuse with alignment on top of a raw
// Allocator strategy. See the package documentation for the model.
type BufferAllocator struct {
	source Allocator
	align  int

	nodes    []node
	recycled []int32

	// tables[0] is the shared default table; groups append their own.
	tables []*freeTable
	scopes []scope

	used map[chunkKey]int32

	totalSize int
	usedSize  int

	profiles  map[string]*heuristicProfile
	allocated map[string]int
	// heurOwned maps live heuristically placed chunks to their
	// profile, so ownership queries and Free answer for them too.
	heurOwned map[chunkKey]string

	plan   map[Relocatable]uintptr
	shrink uintptr
}

// NewBufferAllocator builds an allocator over the given strategy.
// Requested sizes are rounded up to align; align <= 0 selects
// DefaultAlign.
func NewBufferAllocator(source Allocator, align int) *BufferAllocator {
	if align <= 0 {
		align = DefaultAlign
	}
	return &BufferAllocator{
		source:    source,
		align:     align,
		tables:    []*freeTable{{}},
		used:      make(map[chunkKey]int32),
		profiles:  make(map[string]*heuristicProfile),
		allocated: make(map[string]int),
		heurOwned: make(map[chunkKey]string),
	}
}

// TotalSize reports cumulative bytes currently sourced from the
// strategy.
func (a *BufferAllocator) TotalSize() int {
	return a.totalSize
}

// UsedSize reports bytes held by live allocations. Always at most
// TotalSize.
func (a *BufferAllocator) UsedSize() int {
	return a.usedSize
}

// Align returns the configured chunk alignment.
func (a *BufferAllocator) Align() int {
	return a.align
}

func (a *BufferAllocator) alignUp(size int) int {
	return (size + a.align - 1) / a.align * a.align
}

func (a *BufferAllocator) currentTable() int32 {
	if len(a.scopes) == 0 {
		return 0
	}
	return a.scopes[len(a.scopes)-1].table
}

// Alloc returns a chunk of at least size bytes, rounded up to the
// configured alignment. When separate is set, free chunks are never
// considered and a fresh chunk is always sourced from the strategy, so
// the result cannot alias previously reused memory. Returns the zero
// Chunk on strategy exhaustion.
func (a *BufferAllocator) Alloc(size int, separate bool) Chunk {
	if size <= 0 {
		return Chunk{}
	}
	size = a.alignUp(size)
	tableID := a.currentTable()

	if !separate {
		if idx := a.tables[tableID].takeAtLeast(size); idx != nilNode {
			return a.useFreeNode(idx, size)
		}
	}

	raw := a.source.Alloc(size)
	if raw.IsZero() {
		return Chunk{}
	}
	idx := a.newNode(node{
		addr:   raw.Addr,
		size:   raw.Size,
		parent: nilNode,
		left:   nilNode,
		right:  nilNode,
		table:  tableID,
		source: a.source,
	})
	a.totalSize += raw.Size
	a.activate(idx)
	a.markUsed(idx)
	return Chunk{Addr: raw.Addr, Size: raw.Size}
}

// Free marks a chunk reusable and merges fully-free siblings back into
// their parent. Returns false, with no accounting side effect, when
// the chunk was never handed out by this allocator.
func (a *BufferAllocator) Free(c Chunk) bool {
	key := chunkKey{c.Addr, c.Size}
	if id, ok := a.heurOwned[key]; ok {
		return a.FreeHeuristic(id, c)
	}
	idx, ok := a.used[key]
	if !ok {
		return false
	}
	delete(a.used, key)
	a.usedSize -= a.nodes[idx].size
	a.deactivate(idx)
	a.returnNode(idx)
	return true
}

// Release frees allocator bookkeeping. With allRelease every root goes
// back to its source and all state is cleared, a full teardown.
// Otherwise only the free-table contents are discarded: fully-free
// roots return to the source, while chunks still referenced by a live
// allocation keep their used-list entries and accounting. The tree
// keeps representing interior free chunks so later sibling frees still
// merge.
func (a *BufferAllocator) Release(allRelease bool) {
	if allRelease {
		a.releaseProfiles()
		for i := range a.nodes {
			n := a.nodes[i]
			if n.source != nil && n.parent == nilNode {
				n.source.Release(Chunk{Addr: n.addr, Size: n.size})
			}
		}
		a.nodes = a.nodes[:0]
		a.recycled = a.recycled[:0]
		a.tables = []*freeTable{{}}
		a.scopes = a.scopes[:0]
		a.used = make(map[chunkKey]int32)
		a.totalSize = 0
		a.usedSize = 0
		a.plan = nil
		a.shrink = 0
		return
	}
	for _, t := range a.tables {
		for _, e := range t.entries {
			n := a.nodes[e.node]
			if n.source != nil && n.parent == nilNode {
				n.source.Release(Chunk{Addr: n.addr, Size: n.size})
				a.totalSize -= n.size
				a.dropNode(e.node)
			}
		}
		t.clear()
	}
}

// BeginGroup opens an isolated allocation region: a fresh free table
// that requests made inside the group are served from exclusively.
// Chunks freed inside the group return to the group's table and never
// leak into another group or the shared table.
func (a *BufferAllocator) BeginGroup() {
	a.tables = append(a.tables, &freeTable{})
	a.scopes = append(a.scopes, scope{kind: scopeGroup, table: int32(len(a.tables) - 1)})
}

// EndGroup closes the most recently opened group. Closing a group that
// is not the innermost open scope is a caller bug.
func (a *BufferAllocator) EndGroup() {
	if n := len(a.scopes); n == 0 || a.scopes[n-1].kind != scopeGroup {
		panic("memory: EndGroup without matching BeginGroup")
	}
	a.scopes = a.scopes[:len(a.scopes)-1]
}

// BarrierBegin brackets a region in which the shared default table is
// authoritative again, regardless of open groups.
func (a *BufferAllocator) BarrierBegin() {
	a.scopes = append(a.scopes, scope{kind: scopeBarrier, table: 0})
}

// BarrierEnd closes the most recently opened barrier.
func (a *BufferAllocator) BarrierEnd() {
	if n := len(a.scopes); n == 0 || a.scopes[n-1].kind != scopeBarrier {
		panic("memory: BarrierEnd without matching BarrierBegin")
	}
	a.scopes = a.scopes[:len(a.scopes)-1]
}

// useFreeNode serves size bytes from a node taken off a free table,
// splitting off the remainder when it is still usefully large.
func (a *BufferAllocator) useFreeNode(idx int32, size int) Chunk {
	n := a.nodes[idx]
	remain := n.size - size
	if remain < a.align {
		// The sliver left over would be below the minimum useful split
		// size; hand out the whole node.
		a.activate(idx)
		a.markUsed(idx)
		return Chunk{Addr: n.addr, Size: n.size}
	}
	left := a.newNode(node{
		addr:   n.addr,
		size:   size,
		parent: idx,
		left:   nilNode,
		right:  nilNode,
		table:  n.table,
	})
	right := a.newNode(node{
		addr:   n.addr + uintptr(size),
		size:   remain,
		parent: idx,
		left:   nilNode,
		right:  nilNode,
		table:  n.table,
	})
	a.nodes[idx].left = left
	a.nodes[idx].right = right
	a.tables[n.table].insert(remain, right)
	a.activate(left)
	a.markUsed(left)
	return Chunk{Addr: n.addr, Size: size}
}

// returnNode indexes a now-free node for reuse, merging fully-free
// sibling pairs back into their parent until an ancestor still has a
// used descendant or a root is reached.
func (a *BufferAllocator) returnNode(idx int32) {
	for {
		parent := a.nodes[idx].parent
		if parent == nilNode || a.nodes[parent].useCount != 0 {
			break
		}
		left, right := a.nodes[parent].left, a.nodes[parent].right
		a.tables[a.nodes[left].table].remove(a.nodes[left].size, left)
		a.tables[a.nodes[right].table].remove(a.nodes[right].size, right)
		a.nodes[parent].left = nilNode
		a.nodes[parent].right = nilNode
		a.dropNode(left)
		a.dropNode(right)
		idx = parent
	}
	n := a.nodes[idx]
	a.tables[n.table].insert(n.size, idx)
}

func (a *BufferAllocator) markUsed(idx int32) {
	n := a.nodes[idx]
	a.used[chunkKey{n.addr, n.size}] = idx
	a.usedSize += n.size
}

// activate bumps the used-descendant count from a leaf up to its root.
func (a *BufferAllocator) activate(idx int32) {
	for i := idx; i != nilNode; i = a.nodes[i].parent {
		a.nodes[i].useCount++
	}
}

func (a *BufferAllocator) deactivate(idx int32) {
	for i := idx; i != nilNode; i = a.nodes[i].parent {
		a.nodes[i].useCount--
	}
}

func (a *BufferAllocator) newNode(n node) int32 {
	if k := len(a.recycled); k > 0 {
		idx := a.recycled[k-1]
		a.recycled = a.recycled[:k-1]
		a.nodes[idx] = n
		return idx
	}
	a.nodes = append(a.nodes, n)
	return int32(len(a.nodes) - 1)
}

func (a *BufferAllocator) dropNode(idx int32) {
	a.nodes[idx] = node{parent: nilNode, left: nilNode, right: nilNode}
	a.recycled = append(a.recycled, idx)
}

// freeCount reports entries across all free tables, for tests.
func (a *BufferAllocator) freeCount() int {
	n := 0
	for _, t := range a.tables {
		n += t.count()
	}
	return n
}
