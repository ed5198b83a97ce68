package webgpu

import (
	"fmt"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
)

// staging owns the host-visible buffers used to shuttle tensor bytes
// between host and device. Both sides grow to the largest transfer
// seen and are reused until the backend is torn down.
type staging struct {
	dev *wgpu.Device

	upload   *wgpu.Buffer
	uploadSz uint64

	download   *wgpu.Buffer
	downloadSz uint64
}

func newStaging(dev *wgpu.Device) *staging {
	return &staging{dev: dev}
}

// ensureUpload returns a MapWrite staging buffer of at least size
// bytes with data already copied in and unmapped, ready to be the
// source of a buffer-to-buffer copy.
func (s *staging) ensureUpload(data []byte) (*wgpu.Buffer, error) {
	size := uint64(len(data))
	if s.upload == nil || s.uploadSz < size {
		if s.upload != nil {
			s.upload.Release()
		}
		s.upload = s.dev.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageMapWrite | wgpu.BufferUsageCopySrc,
			Size:  size,
		})
		if s.upload == nil {
			return nil, fmt.Errorf("webgpu: failed to create upload staging buffer (%d bytes)", size)
		}
		s.uploadSz = size
	}

	if err := s.upload.MapAsync(s.dev, wgpu.MapModeWrite, 0, size); err != nil {
		return nil, fmt.Errorf("webgpu: map upload staging buffer: %w", err)
	}
	mappedPtr := s.upload.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mapped, data)
	s.upload.Unmap()
	return s.upload, nil
}

// readDownload maps the download staging buffer and copies size bytes
// out. The caller must have copied device bytes into it and submitted
// first.
func (s *staging) readDownload(size uint64) ([]byte, error) {
	if err := s.download.MapAsync(s.dev, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("webgpu: map download staging buffer: %w", err)
	}
	mappedPtr := s.download.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	out := make([]byte, size)
	copy(out, mapped)
	s.download.Unmap()
	return out, nil
}

// ensureDownload returns a MapRead staging buffer of at least size
// bytes to be the destination of a buffer-to-buffer copy.
func (s *staging) ensureDownload(size uint64) (*wgpu.Buffer, error) {
	if s.download == nil || s.downloadSz < size {
		if s.download != nil {
			s.download.Release()
		}
		s.download = s.dev.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
			Size:  size,
		})
		if s.download == nil {
			return nil, fmt.Errorf("webgpu: failed to create download staging buffer (%d bytes)", size)
		}
		s.downloadSz = size
	}
	return s.download, nil
}

// destroy releases both staging buffers.
func (s *staging) destroy() {
	if s.upload != nil {
		s.upload.Release()
		s.upload = nil
		s.uploadSz = 0
	}
	if s.download != nil {
		s.download.Release()
		s.download = nil
		s.downloadSz = 0
	}
}
