package memory

// Relocatable is the narrow view of a tensor the relocation protocol
// needs: the device address and byte length the allocator assigned to
// it, and the ability to rewrite the address when a plan commits. The
// memory behind the address always stays owned by the allocator.
type Relocatable interface {
	DeviceAddr() uintptr
	DeviceSize() int
	SetDeviceAddr(addr uintptr)
}

// MoveTensorsToBottom computes a compaction plan that packs the given
// tensors into the lowest addresses of the arena. Tensors are walked
// in reverse allocation order and greedily assigned ascending planned
// addresses until budget bytes are consumed; whatever does not fit, or
// is not owned by this allocator, is returned for eviction or
// re-planning. No existing pointer is mutated here: the plan commits
// only through AdaptTensorAddresses. The shrink pointer, the arena's
// new high-water mark, is recorded alongside the plan.
func (a *BufferAllocator) MoveTensorsToBottom(tensors []Relocatable, budget int) []Relocatable {
	base := a.lowAddr()
	plan := make(map[Relocatable]uintptr, len(tensors))
	var overflow []Relocatable
	offset := 0
	for i := len(tensors) - 1; i >= 0; i-- {
		t := tensors[i]
		key := chunkKey{t.DeviceAddr(), t.DeviceSize()}
		if _, ok := a.heurOwned[key]; ok {
			// Heuristically placed tensors keep their stable address
			// and live outside the arena, so they consume no budget.
			plan[t] = t.DeviceAddr()
			continue
		}
		if _, ok := a.used[key]; !ok || base == 0 {
			overflow = append(overflow, t)
			continue
		}
		size := a.alignUp(t.DeviceSize())
		if offset+size > budget {
			overflow = append(overflow, t)
			continue
		}
		plan[t] = base + uintptr(offset)
		offset += size
	}
	a.plan = plan
	a.shrink = base + uintptr(offset)
	return overflow
}

// AdaptTensorAddresses commits a previously computed relocation plan
// for exactly the given tensors, rewriting each tensor's backing
// address to its planned one and re-keying the used list. Returns
// false and mutates nothing when no plan exists, a tensor is not
// covered by the plan, or a tensor is outside the allocator's
// ownership. The plan is consumed on success.
func (a *BufferAllocator) AdaptTensorAddresses(tensors []Relocatable) bool {
	if a.plan == nil {
		return false
	}
	for _, t := range tensors {
		if _, ok := a.plan[t]; !ok {
			return false
		}
		key := chunkKey{t.DeviceAddr(), t.DeviceSize()}
		if _, ok := a.used[key]; !ok {
			if _, heur := a.heurOwned[key]; !heur {
				return false
			}
		}
	}
	// Planned targets routinely land on addresses other planned
	// tensors currently occupy, so re-keying is two-phase: retire all
	// old keys before any new one goes in.
	type move struct {
		t      Relocatable
		idx    int32
		target uintptr
	}
	moves := make([]move, 0, len(tensors))
	for _, t := range tensors {
		key := chunkKey{t.DeviceAddr(), t.DeviceSize()}
		if _, heur := a.heurOwned[key]; heur {
			// Planned to its current address; nothing to re-key.
			continue
		}
		moves = append(moves, move{t: t, idx: a.used[key], target: a.plan[t]})
		delete(a.used, key)
	}
	for _, m := range moves {
		// The node keeps describing the original reservation; the
		// planned address is the alias the engine uses after it moves
		// the bytes. Freeing the planned chunk later still returns the
		// original region to the tree.
		a.used[chunkKey{m.target, m.t.DeviceSize()}] = m.idx
		m.t.SetDeviceAddr(m.target)
	}
	a.plan = nil
	return true
}

// ShrinkPointer reports the high-water mark recorded by the last
// relocation plan, zero when no plan has been computed.
func (a *BufferAllocator) ShrinkPointer() uintptr {
	return a.shrink
}

// lowAddr finds the lowest root address, the bottom of the arena.
func (a *BufferAllocator) lowAddr() uintptr {
	var low uintptr
	for i := range a.nodes {
		n := a.nodes[i]
		if n.source == nil || n.parent != nilNode {
			continue
		}
		if low == 0 || n.addr < low {
			low = n.addr
		}
	}
	return low
}
