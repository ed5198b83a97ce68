package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

// imageFormat selects the texel element type of an image tile.
type imageFormat int

const (
	imageFloat32 imageFormat = iota
	imageFloat16
)

func (f imageFormat) texelBytes() int {
	// Four channels per texel.
	switch f {
	case imageFloat16:
		return 4 * 2
	default:
		return 4 * 4
	}
}

// imageTile is one 2D image allocation. Compute shaders address it as
// a storage buffer of width*height four-channel texels, which keeps
// every binding on the storage-buffer path.
type imageTile struct {
	buffer *wgpu.Buffer
	width  int
	height int
	format imageFormat
	bytes  int
}

// imagePool recycles image tiles across resize rounds. Release keeps
// the tile for reuse; a later acquire takes the smallest free tile
// that covers the requested extent in the same format.
type imagePool struct {
	dev *wgpu.Device

	mu   sync.Mutex
	free []*imageTile
	held int
}

func newImagePool(dev *wgpu.Device) *imagePool {
	return &imagePool{dev: dev}
}

// acquire returns a tile of at least width x height texels.
func (p *imagePool) acquire(width, height int, format imageFormat) *imageTile {
	p.mu.Lock()
	best := -1
	for i, t := range p.free {
		if t.format != format || t.width < width || t.height < height {
			continue
		}
		if best < 0 || t.bytes < p.free[best].bytes {
			best = i
		}
	}
	if best >= 0 {
		t := p.free[best]
		p.free = append(p.free[:best], p.free[best+1:]...)
		p.mu.Unlock()
		return t
	}
	p.mu.Unlock()

	bytes := width * height * format.texelBytes()
	buf := p.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  uint64(bytes),
	})
	if buf == nil {
		return nil
	}
	t := &imageTile{buffer: buf, width: width, height: height, format: format, bytes: bytes}
	p.mu.Lock()
	p.held += bytes
	p.mu.Unlock()
	return t
}

// release puts a tile back on the free list.
func (p *imagePool) release(t *imageTile) {
	if t == nil {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, t)
	p.mu.Unlock()
}

// clear destroys every free tile. Tiles still acquired stay alive.
func (p *imagePool) clear() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	for _, t := range free {
		p.held -= t.bytes
	}
	p.mu.Unlock()
	for _, t := range free {
		t.buffer.Release()
	}
}

func (p *imagePool) heldBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}
