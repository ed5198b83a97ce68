package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/kiln-ml/kiln/internal/backend"
	"github.com/kiln-ml/kiln/internal/memory"
	"github.com/kiln-ml/kiln/internal/parallel"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// CopyBuffer implements backend.Backend. Host bytes for NC4HW4
// tensors arrive in NCHW order and are packed on the host; linear
// tensors transfer as-is.
func (b *Backend) CopyBuffer(t *tensor.Tensor, host []byte, dir backend.CopyDirection) error {
	b.mu.Lock()
	rec, ok := b.records[t.DeviceAddr()]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("webgpu: copy for unacquired tensor %#x", t.DeviceAddr())
	}

	switch dir {
	case backend.HostToDevice:
		return b.upload(t, rec, host)
	case backend.DeviceToHost:
		return b.download(t, rec, host)
	default:
		return fmt.Errorf("webgpu: unknown copy direction %d", dir)
	}
}

func (b *Backend) upload(t *tensor.Tensor, rec *record, host []byte) error {
	data := host
	if rec.kind == kindImage {
		packed, chunk, err := b.packToImage(t, rec.tile, host)
		if err != nil {
			return err
		}
		defer b.releaseScratch(chunk)
		data = packed
	} else if want := t.ByteSize(); len(host) != want {
		return fmt.Errorf("webgpu: host buffer is %d bytes, tensor needs %d", len(host), want)
	}

	// Recorded commands may still read the staging buffer; they must
	// be submitted before the buffer is mapped again. Mapping then
	// blocks until the device is done with it.
	if err := b.flush(false); err != nil {
		return err
	}
	src, err := b.stage.ensureUpload(data)
	if err != nil {
		return err
	}

	dst, dstOff, err := b.target(rec)
	if err != nil {
		return err
	}

	encoder := b.rt.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, dst, dstOff, uint64(len(data)))
	return b.submit(encoder.Finish(nil))
}

func (b *Backend) download(t *tensor.Tensor, rec *record, host []byte) error {
	size := t.DeviceSize()
	if rec.kind == kindLinear && len(host) != size {
		return fmt.Errorf("webgpu: host buffer is %d bytes, tensor has %d", len(host), size)
	}

	src, srcOff, err := b.target(rec)
	if err != nil {
		return err
	}
	dst, err := b.stage.ensureDownload(uint64(size))
	if err != nil {
		return err
	}

	// Pending recorded work may produce the bytes being read.
	if err := b.flush(false); err != nil {
		return err
	}
	encoder := b.rt.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, srcOff, dst, 0, uint64(size))
	b.rt.queue.Submit(encoder.Finish(nil))

	data, err := b.stage.readDownload(uint64(size))
	if err != nil {
		return err
	}
	if rec.kind == kindImage {
		return b.unpackFromImage(t, rec.tile, data, host)
	}
	copy(host, data)
	return nil
}

// target resolves a record to its bindable buffer and offset.
func (b *Backend) target(rec *record) (*wgpu.Buffer, uint64, error) {
	if rec.kind == kindImage {
		return rec.tile.buffer, 0, nil
	}
	buf, off, ok := rec.pool.resolve(rec.chunk)
	if !ok {
		return nil, 0, fmt.Errorf("webgpu: chunk %#x has no backing buffer", rec.chunk.Addr)
	}
	return buf, off, nil
}

// hostScratch carves a zeroed packing buffer out of the backend's
// scratch allocator. The chunk must go back through releaseScratch.
func (b *Backend) hostScratch(size int) ([]byte, memory.Chunk, error) {
	c := b.scratch.Alloc(size, false)
	if c.IsZero() {
		return nil, c, fmt.Errorf("webgpu: host scratch exhausted for %d bytes", size)
	}
	buf, ok := b.hostMem.Bytes(c)
	if !ok {
		b.scratch.Free(c)
		return nil, memory.Chunk{}, fmt.Errorf("webgpu: scratch chunk %#x has no backing region", c.Addr)
	}
	buf = buf[:size]
	clear(buf)
	return buf, c, nil
}

func (b *Backend) releaseScratch(c memory.Chunk) {
	b.scratch.Free(c)
}

// packToImage lays NCHW host bytes out as the tile's NC4HW4 texels
// in a scratch buffer.
func (b *Backend) packToImage(t *tensor.Tensor, tile *imageTile, host []byte) ([]byte, memory.Chunk, error) {
	s := t.Shape()
	n, c := s.Dim(0), s.Dim(1)
	h, w := s.Dim(2), s.Dim(3)
	if len(host) != n*c*h*w*4 {
		return nil, memory.Chunk{}, fmt.Errorf("webgpu: host buffer is %d bytes, expected %d", len(host), n*c*h*w*4)
	}
	src := unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(host))), n*c*h*w)

	c4 := (c + 3) / 4
	if tile.format == imageFloat16 {
		out, chunk, err := b.hostScratch(n * c4 * h * w * 8)
		if err != nil {
			return nil, memory.Chunk{}, err
		}
		parallel.ForBatch(n, c4, func(ni, ci int) {
			for hi := 0; hi < h; hi++ {
				for wi := 0; wi < w; wi++ {
					texel := ((ni*c4+ci)*h+hi)*w + wi
					for k := 0; k < 4; k++ {
						var v float32
						if ch := ci*4 + k; ch < c {
							v = src[((ni*c+ch)*h+hi)*w+wi]
						}
						binary.LittleEndian.PutUint16(out[texel*8+k*2:], float16FromFloat32(v))
					}
				}
			}
		}, b.par)
		return out, chunk, nil
	}

	out, chunk, err := b.hostScratch(n * c4 * h * w * 16)
	if err != nil {
		return nil, memory.Chunk{}, err
	}
	dst := unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(out))), n*c4*h*w*4)
	parallel.ForBatch(n, c4, func(ni, ci int) {
		for hi := 0; hi < h; hi++ {
			for wi := 0; wi < w; wi++ {
				texel := ((ni*c4+ci)*h+hi)*w + wi
				for k := 0; k < 4; k++ {
					if ch := ci*4 + k; ch < c {
						dst[texel*4+k] = src[((ni*c+ch)*h+hi)*w+wi]
					}
				}
			}
		}
	}, b.par)
	return out, chunk, nil
}

// unpackFromImage reverses packToImage into NCHW host bytes.
func (b *Backend) unpackFromImage(t *tensor.Tensor, tile *imageTile, data, host []byte) error {
	s := t.Shape()
	n, c := s.Dim(0), s.Dim(1)
	h, w := s.Dim(2), s.Dim(3)
	if len(host) != n*c*h*w*4 {
		return fmt.Errorf("webgpu: host buffer is %d bytes, expected %d", len(host), n*c*h*w*4)
	}
	dst := unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(host))), n*c*h*w)

	c4 := (c + 3) / 4
	if tile.format == imageFloat16 {
		parallel.ForBatch(n, c, func(ni, ch int) {
			for hi := 0; hi < h; hi++ {
				for wi := 0; wi < w; wi++ {
					texel := ((ni*c4+ch/4)*h+hi)*w + wi
					bits := binary.LittleEndian.Uint16(data[texel*8+(ch%4)*2:])
					dst[((ni*c+ch)*h+hi)*w+wi] = float16ToFloat32(bits)
				}
			}
		}, b.par)
		return nil
	}

	src := unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(data))), n*c4*h*w*4)
	parallel.ForBatch(n, c, func(ni, ch int) {
		for hi := 0; hi < h; hi++ {
			for wi := 0; wi < w; wi++ {
				texel := ((ni*c4+ch/4)*h+hi)*w + wi
				dst[((ni*c+ch)*h+hi)*w+wi] = src[texel*4+ch%4]
			}
		}
	}, b.par)
	return nil
}

// CopyTensor implements backend.Backend. Same-kind copies move bytes
// directly; crossing between linear and image storage dispatches the
// matching conversion kernel on the device.
func (b *Backend) CopyTensor(src, dst *tensor.Tensor) error {
	b.mu.Lock()
	srcRec, okSrc := b.records[src.DeviceAddr()]
	dstRec, okDst := b.records[dst.DeviceAddr()]
	b.mu.Unlock()
	if !okSrc || !okDst {
		return fmt.Errorf("webgpu: tensor copy with unacquired operand")
	}

	switch {
	case srcRec.kind == kindLinear && dstRec.kind == kindLinear:
		if src.Layout() != dst.Layout() {
			return fmt.Errorf("webgpu: no %s to %s conversion between linear buffers", src.Layout(), dst.Layout())
		}
		if src.DeviceSize() != dst.DeviceSize() {
			return fmt.Errorf("webgpu: size mismatch %d vs %d", src.DeviceSize(), dst.DeviceSize())
		}
		srcBuf, srcOff, err := b.target(srcRec)
		if err != nil {
			return err
		}
		dstBuf, dstOff, err := b.target(dstRec)
		if err != nil {
			return err
		}
		encoder := b.rt.device.CreateCommandEncoder(nil)
		encoder.CopyBufferToBuffer(srcBuf, srcOff, dstBuf, dstOff, uint64(src.DeviceSize()))
		return b.submit(encoder.Finish(nil))

	case srcRec.kind == kindLinear && dstRec.kind == kindImage:
		name, err := packKernel(src.Layout(), dstRec.tile.format)
		if err != nil {
			return err
		}
		return b.dispatchConversion(name, srcRec, dstRec, src.Shape(), imageElems(src.Shape()))

	case srcRec.kind == kindImage && dstRec.kind == kindLinear:
		name, err := unpackKernel(dst.Layout(), srcRec.tile.format)
		if err != nil {
			return err
		}
		return b.dispatchConversion(name, srcRec, dstRec, dst.Shape(), dst.Shape().NumElements())

	default:
		return fmt.Errorf("webgpu: image to image copy is not supported")
	}
}

// kernelSuffix selects the texel-format variant of a conversion
// kernel.
func kernelSuffix(f imageFormat) string {
	if f == imageFloat16 {
		return "_f16"
	}
	return ""
}

func packKernel(l tensor.Layout, f imageFormat) (string, error) {
	switch l {
	case tensor.NCHW:
		return "nchw_to_image" + kernelSuffix(f), nil
	case tensor.NHWC:
		return "nhwc_to_image" + kernelSuffix(f), nil
	default:
		return "", fmt.Errorf("webgpu: no pack kernel for layout %s", l)
	}
}

func unpackKernel(l tensor.Layout, f imageFormat) (string, error) {
	switch l {
	case tensor.NCHW:
		return "image_to_nchw" + kernelSuffix(f), nil
	case tensor.NHWC:
		return "image_to_nhwc" + kernelSuffix(f), nil
	default:
		return "", fmt.Errorf("webgpu: no unpack kernel for layout %s", l)
	}
}

// imageElems is the thread count for pack kernels: one per texel.
func imageElems(s tensor.Shape) int {
	c4 := (s.Dim(1) + 3) / 4
	return s.Dim(0) * c4 * s.Dim(2) * s.Dim(3)
}

// dispatchConversion records one conversion kernel over the shape's
// N, C, H, W extents.
func (b *Backend) dispatchConversion(name string, srcRec, dstRec *record, s tensor.Shape, threads int) error {
	code, ok := conversionShaders[name]
	if !ok {
		return fmt.Errorf("webgpu: unknown conversion kernel %q", name)
	}
	pipeline := b.rt.pipeline(name, b.rt.compileShader(name, code))

	srcBuf, srcOff, err := b.target(srcRec)
	if err != nil {
		return err
	}
	dstBuf, dstOff, err := b.target(dstRec)
	if err != nil {
		return err
	}

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(s.Dim(0)))
	binary.LittleEndian.PutUint32(params[4:8], uint32(s.Dim(1)))
	binary.LittleEndian.PutUint32(params[8:12], uint32(s.Dim(2)))
	binary.LittleEndian.PutUint32(params[12:16], uint32(s.Dim(3)))
	paramsBuf := b.createUniformBuffer(params)
	defer paramsBuf.Release()

	srcSize := recSize(srcRec)
	dstSize := recSize(dstRec)

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.rt.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, srcBuf, srcOff, uint64(srcSize)),
		wgpu.BufferBindingEntry(1, dstBuf, dstOff, uint64(dstSize)),
		wgpu.BufferBindingEntry(2, paramsBuf, 0, 16),
	})
	defer bindGroup.Release()

	encoder := b.rt.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	workgroups := uint32((threads + workgroupSize - 1) / workgroupSize)
	computePass.DispatchWorkgroups(workgroups, 1, 1)
	computePass.End()
	return b.submit(encoder.Finish(nil))
}

func recSize(rec *record) int {
	if rec.kind == kindImage {
		return rec.tile.bytes
	}
	return rec.chunk.Size
}

// createUniformBuffer creates a uniform buffer with its contents
// uploaded through MappedAtCreation.
func (b *Backend) createUniformBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	alignedSize := (size + 15) &^ 15

	buffer := b.rt.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), alignedSize)
	copy(mapped, data)
	buffer.Unmap()
	return buffer
}

// float16FromFloat32 converts to IEEE 754 binary16.
func float16FromFloat32(v float32) uint16 {
	bits := math.Float32bits(v)
	sign := uint16(bits >> 16 & 0x8000)
	exp := int32(bits>>23&0xff) - 127 + 15
	frac := bits & 0x7fffff

	switch {
	case exp >= 31:
		// Overflow and infinities saturate; NaN keeps a payload bit.
		if bits&0x7fffffff > 0x7f800000 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		frac |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(frac >> shift)
		if frac>>(shift-1)&1 != 0 {
			half++
		}
		return sign | half
	default:
		half := sign | uint16(exp)<<10 | uint16(frac>>13)
		if frac&0x1000 != 0 {
			half++
		}
		return half
	}
}

// float16ToFloat32 expands IEEE 754 binary16.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h >> 10 & 0x1f)
	frac := uint32(h & 0x3ff)

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// Subnormal: renormalize.
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		frac &= 0x3ff
		return math.Float32frombits(sign | (exp+1+127-15)<<23 | frac<<13)
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | frac<<13)
	}
}
