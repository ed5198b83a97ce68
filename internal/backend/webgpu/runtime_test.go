package webgpu

import (
	"testing"

	"github.com/kiln-ml/kiln/internal/backend"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// newTestRuntime skips the test when no WebGPU device is reachable.
func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	if !IsAvailable() {
		t.Skip("WebGPU not available on this system")
	}
	rt, err := NewRuntime(&backend.Info{Type: backend.ForwardWebGPU, NumThreads: 2})
	if err != nil {
		t.Skipf("WebGPU runtime unavailable: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func newTestBackend(t *testing.T) (*Runtime, *Backend) {
	t.Helper()
	rt := newTestRuntime(t)
	be, err := rt.CreateBackend(&backend.Config{})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	return rt, be.(*Backend)
}

func TestBackendInheritsRuntimeMode(t *testing.T) {
	if !IsAvailable() {
		t.Skip("WebGPU not available on this system")
	}
	rt, err := NewRuntime(&backend.Info{Type: backend.ForwardWebGPU, NumThreads: 2, Mode: backend.Indirect})
	if err != nil {
		t.Skipf("WebGPU runtime unavailable: %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	be, err := rt.CreateBackend(nil)
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	b := be.(*Backend)
	if b.mode != backend.Indirect {
		t.Fatalf("backend mode %v, want Indirect", b.mode)
	}

	tr, err := tensor.New(tensor.Shape{1, 4, 2, 2}, tensor.Float32, tensor.NCHW)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.AcquireBuffer(tr, backend.Dynamic); err != nil {
		t.Fatalf("AcquireBuffer: %v", err)
	}
	host := make([]byte, tr.ByteSize())
	if err := b.CopyBuffer(tr, host, backend.HostToDevice); err != nil {
		t.Fatalf("CopyBuffer: %v", err)
	}
	if len(b.pending) == 0 {
		t.Fatal("indirect upload should record, not submit")
	}
	if err := b.ExecuteEnd(); err != nil {
		t.Fatalf("ExecuteEnd: %v", err)
	}
	if len(b.pending) != 0 {
		t.Error("ExecuteEnd left recorded commands behind")
	}
}

func TestAcquireReleaseLifecycle(t *testing.T) {
	_, b := newTestBackend(t)

	tr, err := tensor.New(tensor.Shape{1, 8, 4, 4}, tensor.Float32, tensor.NCHW)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.AcquireBuffer(tr, backend.Dynamic); err != nil {
		t.Fatalf("AcquireBuffer: %v", err)
	}
	if !tr.HasDevice() {
		t.Fatal("tensor has no device storage after acquire")
	}
	if b.UsedSize() == 0 {
		t.Error("UsedSize should reflect the acquisition")
	}

	if err := b.ReleaseBuffer(tr, backend.Dynamic); err != nil {
		t.Fatalf("ReleaseBuffer: %v", err)
	}
	if tr.HasDevice() {
		t.Error("tensor still bound after release")
	}
	if err := b.ReleaseBuffer(tr, backend.Dynamic); err == nil {
		t.Error("double release not rejected")
	}
}

func TestUploadDownloadLinear(t *testing.T) {
	_, b := newTestBackend(t)

	tr, _ := tensor.New(tensor.Shape{64}, tensor.Float32, tensor.NCHW)
	if err := b.AcquireBuffer(tr, backend.Dynamic); err != nil {
		t.Fatal(err)
	}
	defer b.ReleaseBuffer(tr, backend.Dynamic)

	host := make([]float32, 64)
	for i := range host {
		host[i] = float32(i)
	}
	if err := b.CopyBuffer(tr, floatsToBytes(host), backend.HostToDevice); err != nil {
		t.Fatalf("upload: %v", err)
	}

	out := make([]float32, 64)
	if err := b.CopyBuffer(tr, floatsToBytes(out), backend.DeviceToHost); err != nil {
		t.Fatalf("download: %v", err)
	}
	for i := range host {
		if out[i] != host[i] {
			t.Fatalf("element %d: got %g, want %g", i, out[i], host[i])
		}
	}
}

func TestUploadDownloadImage(t *testing.T) {
	_, b := newTestBackend(t)

	tr, _ := tensor.New(tensor.Shape{1, 6, 4, 4}, tensor.Float32, tensor.NC4HW4)
	if err := b.AcquireBuffer(tr, backend.Dynamic); err != nil {
		t.Fatal(err)
	}
	defer b.ReleaseBuffer(tr, backend.Dynamic)

	host := make([]float32, tr.NumElements())
	for i := range host {
		host[i] = float32(i) + 0.5
	}
	if err := b.CopyBuffer(tr, floatsToBytes(host), backend.HostToDevice); err != nil {
		t.Fatalf("upload: %v", err)
	}

	out := make([]float32, tr.NumElements())
	if err := b.CopyBuffer(tr, floatsToBytes(out), backend.DeviceToHost); err != nil {
		t.Fatalf("download: %v", err)
	}
	for i := range host {
		if out[i] != host[i] {
			t.Fatalf("element %d: got %g, want %g", i, out[i], host[i])
		}
	}
}

func TestCopyTensorConversionKernel(t *testing.T) {
	_, b := newTestBackend(t)
	b.SetMode(backend.Indirect)

	shape := tensor.Shape{1, 5, 3, 3}
	linear, _ := tensor.New(shape, tensor.Float32, tensor.NCHW)
	image, _ := tensor.New(shape, tensor.Float32, tensor.NC4HW4)
	back, _ := tensor.New(shape, tensor.Float32, tensor.NCHW)

	for _, tr := range []*tensor.Tensor{linear, image, back} {
		if err := b.AcquireBuffer(tr, backend.Dynamic); err != nil {
			t.Fatal(err)
		}
	}

	host := make([]float32, shape.NumElements())
	for i := range host {
		host[i] = float32(i) * 0.125
	}
	if err := b.CopyBuffer(linear, floatsToBytes(host), backend.HostToDevice); err != nil {
		t.Fatal(err)
	}

	if err := b.CopyTensor(linear, image); err != nil {
		t.Fatalf("pack conversion: %v", err)
	}
	if err := b.CopyTensor(image, back); err != nil {
		t.Fatalf("unpack conversion: %v", err)
	}
	if err := b.ExecuteEnd(); err != nil {
		t.Fatalf("ExecuteEnd: %v", err)
	}

	out := make([]float32, shape.NumElements())
	if err := b.CopyBuffer(back, floatsToBytes(out), backend.DeviceToHost); err != nil {
		t.Fatal(err)
	}
	for i := range host {
		if out[i] != host[i] {
			t.Fatalf("element %d: got %g, want %g after conversion round trip", i, out[i], host[i])
		}
	}
}

func TestResizeRoundReclaimsDynamic(t *testing.T) {
	rt, b := newTestBackend(t)

	tr, _ := tensor.New(tensor.Shape{1, 4, 8, 8}, tensor.Float32, tensor.NCHW)
	if err := b.ResizeBegin(); err != nil {
		t.Fatal(err)
	}
	if err := b.AcquireBuffer(tr, backend.Dynamic); err != nil {
		t.Fatal(err)
	}
	if err := b.ResizeEnd(); err != nil {
		t.Fatal(err)
	}
	first := tr.DeviceAddr()

	// Next round drops the dynamic acquisition; the same request gets
	// the same memory back.
	if err := b.ResizeBegin(); err != nil {
		t.Fatal(err)
	}
	tr2, _ := tensor.New(tensor.Shape{1, 4, 8, 8}, tensor.Float32, tensor.NCHW)
	if err := b.AcquireBuffer(tr2, backend.Dynamic); err != nil {
		t.Fatal(err)
	}
	if tr2.DeviceAddr() != first {
		t.Errorf("dynamic memory not reused: %#x then %#x", first, tr2.DeviceAddr())
	}
	_ = rt
}

func TestGarbageCollectTiers(t *testing.T) {
	rt, b := newTestBackend(t)

	tr, _ := tensor.New(tensor.Shape{1, 16, 16, 16}, tensor.Float32, tensor.NCHW)
	if err := b.AcquireBuffer(tr, backend.Dynamic); err != nil {
		t.Fatal(err)
	}
	if err := b.ReleaseBuffer(tr, backend.Dynamic); err != nil {
		t.Fatal(err)
	}

	held := rt.MemoryInMB()
	rt.GarbageCollect(backend.GCLight)
	if rt.MemoryInMB() > held {
		t.Error("light GC should not grow held memory")
	}
	rt.GarbageCollect(backend.GCFull)
	if got := rt.MemoryInMB(); got != 0 {
		t.Errorf("full GC left %.2f MB held", got)
	}
}

func TestCacheRoundTripOnDevice(t *testing.T) {
	rt := newTestRuntime(t)

	// Compile a pipeline so the blob has content.
	rt.pipeline("nchw_to_image", rt.compileShader("nchw_to_image", conversionShaders["nchw_to_image"]))

	blob, err := rt.GetCache()
	if err != nil {
		t.Fatalf("GetCache: %v", err)
	}

	if err := rt.SetCache(blob); err != nil {
		t.Fatalf("SetCache rejected own blob: %v", err)
	}

	// A blob naming another device must be rejected.
	foreign, err := backend.EncodeCache(append([]byte{8, 0}, []byte("other/gp")...))
	if err != nil {
		t.Fatal(err)
	}
	if err := rt.SetCache(foreign); err == nil {
		t.Error("cache blob for another device accepted")
	}
}
