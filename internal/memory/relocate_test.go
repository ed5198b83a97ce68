package memory

import "testing"

// fakeTensor is the minimal relocatable the planner needs.
type fakeTensor struct {
	addr uintptr
	size int
}

func (f *fakeTensor) DeviceAddr() uintptr        { return f.addr }
func (f *fakeTensor) DeviceSize() int            { return f.size }
func (f *fakeTensor) SetDeviceAddr(addr uintptr) { f.addr = addr }

func acquire(t *testing.T, a *BufferAllocator, size int) *fakeTensor {
	t.Helper()
	c := a.Alloc(size, false)
	if c.IsZero() {
		t.Fatalf("Alloc(%d) failed", size)
	}
	return &fakeTensor{addr: c.Addr, size: c.Size}
}

func TestRelocationPlanAndCommit(t *testing.T) {
	a := NewBufferAllocator(newFakeSource(), 64)

	// A single arena root, then tensors carved out of it.
	root := a.Alloc(4096, false)
	a.Free(root)
	t1 := acquire(t, a, 512)
	t2 := acquire(t, a, 512)
	t3 := acquire(t, a, 512)
	bystander := acquire(t, a, 512)
	bystanderAddr := bystander.addr

	overflow := a.MoveTensorsToBottom([]Relocatable{t1, t2, t3}, 4096)
	if len(overflow) != 0 {
		t.Fatalf("overflow = %d tensors, want 0", len(overflow))
	}

	// Reverse allocation order: t3 lands at the bottom.
	if !a.AdaptTensorAddresses([]Relocatable{t1, t2, t3}) {
		t.Fatal("commit failed")
	}
	if t3.addr != root.Addr {
		t.Fatalf("t3 at %#x, want arena bottom %#x", t3.addr, root.Addr)
	}
	if t2.addr != root.Addr+512 || t1.addr != root.Addr+1024 {
		t.Fatalf("planned order wrong: t2=%#x t1=%#x", t2.addr, t1.addr)
	}
	if bystander.addr != bystanderAddr {
		t.Fatal("unplanned tensor moved")
	}
	if got, want := a.ShrinkPointer(), root.Addr+1536; got != want {
		t.Fatalf("shrink pointer %#x, want %#x", got, want)
	}

	// Relocated chunks stay owned: freeing by the new address works.
	if !a.Free(Chunk{Addr: t3.addr, Size: t3.size}) {
		t.Fatal("relocated tensor lost allocator ownership")
	}
}

func TestRelocationBudgetOverflow(t *testing.T) {
	a := NewBufferAllocator(newFakeSource(), 64)
	root := a.Alloc(4096, false)
	a.Free(root)
	t1 := acquire(t, a, 1024)
	t2 := acquire(t, a, 1024)
	t3 := acquire(t, a, 1024)

	overflow := a.MoveTensorsToBottom([]Relocatable{t1, t2, t3}, 2048)
	if len(overflow) != 1 {
		t.Fatalf("overflow = %d tensors, want 1", len(overflow))
	}
	// Walked in reverse order, so the earliest-allocated tensor is the
	// one that no longer fits.
	if overflow[0] != Relocatable(t1) {
		t.Fatal("wrong tensor overflowed")
	}
}

func TestAdaptWithoutPlan(t *testing.T) {
	a := NewBufferAllocator(newFakeSource(), 64)
	tt := acquire(t, a, 512)
	addr := tt.addr

	if a.AdaptTensorAddresses([]Relocatable{tt}) {
		t.Fatal("commit without a plan succeeded")
	}
	if tt.addr != addr {
		t.Fatal("commit without a plan mutated a tensor")
	}
}

func TestAdaptRejectsUnplannedTensor(t *testing.T) {
	a := NewBufferAllocator(newFakeSource(), 64)
	planned := acquire(t, a, 512)
	stranger := acquire(t, a, 512)
	strangerAddr := stranger.addr

	a.MoveTensorsToBottom([]Relocatable{planned}, 4096)
	if a.AdaptTensorAddresses([]Relocatable{planned, stranger}) {
		t.Fatal("commit accepted a tensor outside the plan")
	}
	if stranger.addr != strangerAddr {
		t.Fatal("failed commit mutated a tensor")
	}
}

func TestPlanRejectsForeignTensor(t *testing.T) {
	a := NewBufferAllocator(newFakeSource(), 64)
	foreign := &fakeTensor{addr: 0xdead000, size: 512}

	overflow := a.MoveTensorsToBottom([]Relocatable{foreign}, 4096)
	if len(overflow) != 1 {
		t.Fatal("foreign tensor was planned")
	}
}

func TestRelocationKeepsHeuristicPlacement(t *testing.T) {
	a := NewBufferAllocator(newFakeSource(), 64)

	root := a.Alloc(2048, false)
	a.Free(root)
	moving := acquire(t, a, 512)

	id := HeuristicID("net", 1, 1024)
	a.SetHeuristicStrategy("net", 1, 1024, false, true)
	hc := a.AllocHeuristic(id, 256)
	if hc.IsZero() {
		t.Fatal("heuristic alloc failed")
	}
	pinned := &fakeTensor{addr: hc.Addr, size: hc.Size}

	// Heuristic placement is owned but stays put: the plan covers the
	// tensor at its current address and consumes no budget.
	overflow := a.MoveTensorsToBottom([]Relocatable{pinned, moving}, 2048)
	if len(overflow) != 0 {
		t.Fatalf("overflow = %d tensors, want 0", len(overflow))
	}
	if !a.AdaptTensorAddresses([]Relocatable{pinned, moving}) {
		t.Fatal("commit failed")
	}
	if pinned.addr != hc.Addr {
		t.Fatalf("heuristic tensor moved to %#x", pinned.addr)
	}
	if moving.addr != root.Addr {
		t.Fatalf("moving tensor at %#x, want arena bottom %#x", moving.addr, root.Addr)
	}
	if !a.Free(Chunk{Addr: pinned.addr, Size: pinned.size}) {
		t.Fatal("heuristic tensor lost ownership after commit")
	}
}
