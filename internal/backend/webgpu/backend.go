package webgpu

import (
	"fmt"
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/google/uuid"

	"github.com/kiln-ml/kiln/internal/backend"
	"github.com/kiln-ml/kiln/internal/memory"
	"github.com/kiln-ml/kiln/internal/parallel"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// bufferKind states how a tensor's device storage is expressed.
type bufferKind int

const (
	kindLinear bufferKind = iota
	kindImage
)

// record tracks one acquired tensor buffer.
type record struct {
	kind    bufferKind
	storage backend.StorageType
	pool    *bufferPool
	chunk   memory.Chunk
	tile    *imageTile
}

// Image tensors have no pool-assigned virtual address, so they get
// synthetic ones from a separate base.
const imageVABase = uintptr(1) << 41

// Backend executes Kiln operations on a WebGPU device. Device memory
// comes from the runtime's shared pools; the backend owns only its
// staging buffers and the per-execution command batch.
type Backend struct {
	rt     *Runtime
	id     string
	config backend.Config
	mode   backend.Mode
	log    *backend.Logger
	par    parallel.Config
	stage  *staging

	// Host packing scratch, chained onto the runtime's shared host
	// pool through the recurse strategy. hostMem resolves scratch
	// chunks to byte views.
	scratch *memory.BufferAllocator
	hostMem *memory.OSAllocator

	mu        sync.Mutex
	records   map[uintptr]*record
	nextImage uintptr

	pendingMu sync.Mutex
	pending   []*wgpu.CommandBuffer
}

func newBackend(rt *Runtime, config *backend.Config) *Backend {
	id := uuid.NewString()
	b := &Backend{
		rt:        rt,
		id:        id,
		config:    *config,
		mode:      rt.mode,
		log:       &backend.Logger{Logger: rt.log.With("backend_id", id)},
		par:       parallel.ConfigFor(rt.threads),
		stage:     newStaging(rt.device),
		scratch:   memory.NewBufferAllocator(memory.NewRecurseAllocator(rt.hostAlloc), memory.DefaultAlign),
		hostMem:   rt.hostSource,
		records:   make(map[uintptr]*record),
		nextImage: imageVABase,
	}
	b.log.Debug("backend created")
	return b
}

// SetMode selects Direct or Indirect submission. Direct waits for
// each recorded operation; Indirect batches until ExecuteEnd.
func (b *Backend) SetMode(mode backend.Mode) {
	b.mode = mode
}

// Type implements backend.Backend.
func (b *Backend) Type() backend.ForwardType {
	return backend.ForwardWebGPU
}

// usesImage reports whether a tensor's storage lives in an image
// tile rather than a linear buffer.
func (b *Backend) usesImage(t *tensor.Tensor) bool {
	return t.Layout() == tensor.NC4HW4 && (t.DType() == tensor.Float32 || t.DType() == tensor.Float16)
}

// poolFor routes a tensor to the pool holding its element class.
func (b *Backend) poolFor(t *tensor.Tensor) *bufferPool {
	switch t.DType() {
	case tensor.Uint8, tensor.Bool:
		return b.rt.bytePool
	default:
		return b.rt.floatPool
	}
}

// imageFormatFor picks the tile texel format from the element type
// and the configured precision: low precision stores float32 tensors
// in half-float tiles.
func (b *Backend) imageFormatFor(t *tensor.Tensor) imageFormat {
	if t.DType() == tensor.Float16 {
		return imageFloat16
	}
	if b.config.Precision == backend.PrecisionLow && t.DType() == tensor.Float32 {
		return imageFloat16
	}
	return imageFloat32
}

// AcquireBuffer implements backend.Backend.
func (b *Backend) AcquireBuffer(t *tensor.Tensor, storage backend.StorageType) error {
	size := t.ByteSize()
	if size <= 0 {
		return fmt.Errorf("webgpu: acquire for empty tensor %v", t.Shape())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.usesImage(t) {
		s := t.Shape()
		c4 := (s.Dim(1) + 3) / 4
		tile := b.rt.images.acquire(c4*s.Dim(3), s.Dim(0)*s.Dim(2), b.imageFormatFor(t))
		if tile == nil {
			return fmt.Errorf("webgpu: image acquire failed (%v)", s)
		}
		va := b.nextImage
		b.nextImage += uintptr(tile.bytes) + memory.DefaultAlign
		b.records[va] = &record{kind: kindImage, storage: storage, tile: tile}
		t.SetDevice(va, tile.bytes)
		return nil
	}

	pool := b.poolFor(t)
	separate := storage != backend.Dynamic
	c := pool.acquire(size, separate)
	if c.IsZero() {
		return fmt.Errorf("webgpu: device allocation failed (%d bytes)", size)
	}
	b.records[c.Addr] = &record{kind: kindLinear, storage: storage, pool: pool, chunk: c}
	t.SetDevice(c.Addr, c.Size)
	return nil
}

// ReleaseBuffer implements backend.Backend. Static storage is freed
// immediately and Dynamic storage returns to the reuse pool.
// DynamicSeparate storage stays put until the next resize round or
// ClearBuffer, so its range never gets handed to anyone else.
func (b *Backend) ReleaseBuffer(t *tensor.Tensor, storage backend.StorageType) error {
	b.mu.Lock()
	rec, ok := b.records[t.DeviceAddr()]
	if ok && rec.storage == backend.DynamicSeparate {
		b.mu.Unlock()
		return nil
	}
	if ok {
		delete(b.records, t.DeviceAddr())
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("webgpu: release of unacquired tensor %#x", t.DeviceAddr())
	}

	switch rec.kind {
	case kindImage:
		b.rt.images.release(rec.tile)
	default:
		if !rec.pool.release(rec.chunk) {
			return fmt.Errorf("webgpu: release of unknown chunk %#x", rec.chunk.Addr)
		}
	}
	t.SetDevice(0, 0)
	return nil
}

// ClearBuffer implements backend.Backend. Every dynamic record is
// dropped and the pools hand unused regions back to the device.
func (b *Backend) ClearBuffer() error {
	b.mu.Lock()
	for va, rec := range b.records {
		if rec.storage == backend.Static {
			continue
		}
		delete(b.records, va)
		switch rec.kind {
		case kindImage:
			b.rt.images.release(rec.tile)
		default:
			rec.pool.release(rec.chunk)
		}
	}
	b.mu.Unlock()

	b.rt.floatPool.trim()
	b.rt.bytePool.trim()
	b.rt.images.clear()
	b.scratch.Release(false)
	return nil
}

// ResizeBegin implements backend.Backend. Dynamic buffers from the
// previous round are dropped so the coming acquisitions can reuse
// their memory.
func (b *Backend) ResizeBegin() error {
	b.mu.Lock()
	for va, rec := range b.records {
		if rec.storage != backend.Dynamic && rec.storage != backend.DynamicSeparate {
			continue
		}
		delete(b.records, va)
		switch rec.kind {
		case kindImage:
			b.rt.images.release(rec.tile)
		default:
			rec.pool.release(rec.chunk)
		}
	}
	b.mu.Unlock()
	return nil
}

// ResizeEnd implements backend.Backend.
func (b *Backend) ResizeEnd() error {
	return nil
}

// ExecuteBegin implements backend.Backend.
func (b *Backend) ExecuteBegin() error {
	return nil
}

// ExecuteEnd implements backend.Backend. Indirect mode submits the
// accumulated batch here and waits for it.
func (b *Backend) ExecuteEnd() error {
	return b.flush(true)
}

// submit hands a finished command buffer to the queue. Direct mode
// submits and waits immediately; Indirect mode accumulates.
func (b *Backend) submit(cmd *wgpu.CommandBuffer) error {
	if b.mode == backend.Direct {
		b.rt.queue.Submit(cmd)
		return b.wait()
	}
	b.pendingMu.Lock()
	b.pending = append(b.pending, cmd)
	b.pendingMu.Unlock()
	return nil
}

// flush submits all pending command buffers, optionally waiting for
// the device to drain them.
func (b *Backend) flush(wait bool) error {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = nil
	b.pendingMu.Unlock()

	if len(pending) > 0 {
		b.rt.queue.Submit(pending...)
	}
	if wait {
		return b.wait()
	}
	return nil
}

// wait blocks until the queue has drained. Mapping a tiny staging
// buffer forces a round trip through the device; MapAsync returns
// only after previously submitted work completes.
func (b *Backend) wait() error {
	fence, err := b.stage.ensureDownload(4)
	if err != nil {
		return err
	}
	if err := fence.MapAsync(b.rt.device, wgpu.MapModeRead, 0, 4); err != nil {
		return fmt.Errorf("webgpu: wait for queue: %w", err)
	}
	fence.Unmap()
	return nil
}

// UsedSize implements backend.Backend.
func (b *Backend) UsedSize() int {
	return b.rt.floatPool.usedSize() + b.rt.bytePool.usedSize() + b.rt.images.heldBytes()
}

// MoveTensorsToBottom implements backend.Compactor. Only linear
// dynamic tensors take part; image tensors never relocate.
func (b *Backend) MoveTensorsToBottom(tensors []*tensor.Tensor, budget int) []*tensor.Tensor {
	var movable []memory.Relocatable
	var overflow []*tensor.Tensor

	b.mu.Lock()
	for _, t := range tensors {
		rec, ok := b.records[t.DeviceAddr()]
		if !ok || rec.kind != kindLinear || rec.storage != backend.Dynamic || rec.pool != b.rt.floatPool {
			overflow = append(overflow, t)
			continue
		}
		movable = append(movable, t)
	}
	b.mu.Unlock()

	for _, r := range b.rt.floatPool.alloc.MoveTensorsToBottom(movable, budget) {
		overflow = append(overflow, r.(*tensor.Tensor))
	}
	return overflow
}

// AdaptTensorAddresses implements backend.Compactor. The records are
// re-keyed along with the pool's own bookkeeping.
func (b *Backend) AdaptTensorAddresses(tensors []*tensor.Tensor) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := make(map[*tensor.Tensor]uintptr, len(tensors))
	for _, t := range tensors {
		old[t] = t.DeviceAddr()
	}

	movable := make([]memory.Relocatable, len(tensors))
	for i, t := range tensors {
		movable[i] = t
	}
	if !b.rt.floatPool.alloc.AdaptTensorAddresses(movable) {
		return false
	}

	recs := make([]*record, 0, len(tensors))
	for _, t := range tensors {
		rec := b.records[old[t]]
		delete(b.records, old[t])
		recs = append(recs, rec)
	}
	for i, t := range tensors {
		rec := recs[i]
		rec.chunk.Addr = t.DeviceAddr()
		b.records[t.DeviceAddr()] = rec
	}
	return true
}

// Close releases the backend's staging buffers and returns its host
// scratch to the shared pool. Device pool memory belongs to the
// runtime and stays alive.
func (b *Backend) Close() error {
	err := b.flush(true)
	b.stage.destroy()
	b.scratch.Release(true)
	return err
}
