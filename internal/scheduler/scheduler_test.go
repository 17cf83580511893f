package scheduler

import (
	"testing"
	"time"

	"github.com/gogpu/wgpu/hal"

	"lookup3gpu/internal/candidate"
	"lookup3gpu/internal/frame"
	"lookup3gpu/internal/gpubuffer"
	"lookup3gpu/internal/lookup3"
	"lookup3gpu/internal/metrics"
)

type mockHALBuffer struct{ size uint64 }

func (b *mockHALBuffer) NativeHandle() uintptr { return 0 }
func (b *mockHALBuffer) Destroy()              {}

type mockFence struct{}

func (f *mockFence) Destroy() {}

type mockHALDevice struct {
	fences map[*mockFence]uint64
}

func newMockHALDevice() *mockHALDevice {
	return &mockHALDevice{fences: make(map[*mockFence]uint64)}
}

func (d *mockHALDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	return &mockHALBuffer{size: desc.Size}, nil
}
func (d *mockHALDevice) DestroyBuffer(_ hal.Buffer) {}

//nolint:nilnil // Mock: unused interface methods.
func (d *mockHALDevice) CreateTexture(_ *hal.TextureDescriptor) (hal.Texture, error) { return nil, nil }
func (d *mockHALDevice) DestroyTexture(_ hal.Texture)                                {}

//nolint:nilnil // Mock: unused interface methods.
func (d *mockHALDevice) CreateTextureView(_ hal.Texture, _ *hal.TextureViewDescriptor) (hal.TextureView, error) {
	return nil, nil
}
func (d *mockHALDevice) DestroyTextureView(_ hal.TextureView) {}

//nolint:nilnil // Mock: unused interface methods.
func (d *mockHALDevice) CreateSampler(_ *hal.SamplerDescriptor) (hal.Sampler, error) { return nil, nil }
func (d *mockHALDevice) DestroySampler(_ hal.Sampler)                                {}

//nolint:nilnil // Mock: unused interface methods.
func (d *mockHALDevice) CreateBindGroupLayout(_ *hal.BindGroupLayoutDescriptor) (hal.BindGroupLayout, error) {
	return nil, nil
}
func (d *mockHALDevice) DestroyBindGroupLayout(_ hal.BindGroupLayout) {}

//nolint:nilnil // Mock: unused interface methods.
func (d *mockHALDevice) CreateBindGroup(_ *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	return nil, nil
}
func (d *mockHALDevice) DestroyBindGroup(_ hal.BindGroup) {}

//nolint:nilnil // Mock: unused interface methods.
func (d *mockHALDevice) CreatePipelineLayout(_ *hal.PipelineLayoutDescriptor) (hal.PipelineLayout, error) {
	return nil, nil
}
func (d *mockHALDevice) DestroyPipelineLayout(_ hal.PipelineLayout) {}

//nolint:nilnil // Mock: unused interface methods.
func (d *mockHALDevice) CreateShaderModule(_ *hal.ShaderModuleDescriptor) (hal.ShaderModule, error) {
	return nil, nil
}
func (d *mockHALDevice) DestroyShaderModule(_ hal.ShaderModule) {}

//nolint:nilnil // Mock: unused interface methods.
func (d *mockHALDevice) CreateRenderPipeline(_ *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	return nil, nil
}
func (d *mockHALDevice) DestroyRenderPipeline(_ hal.RenderPipeline) {}

//nolint:nilnil // Mock: unused interface methods.
func (d *mockHALDevice) CreateComputePipeline(_ *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	return nil, nil
}
func (d *mockHALDevice) DestroyComputePipeline(_ hal.ComputePipeline) {}

//nolint:nilnil // Mock: unused interface methods.
func (d *mockHALDevice) CreateCommandEncoder(_ *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	return nil, nil
}
func (d *mockHALDevice) FreeCommandBuffer(_ hal.CommandBuffer) {}

func (d *mockHALDevice) CreateFence() (hal.Fence, error) {
	f := &mockFence{}
	d.fences[f] = 0
	return f, nil
}
func (d *mockHALDevice) DestroyFence(f hal.Fence) {
	if mf, ok := f.(*mockFence); ok {
		delete(d.fences, mf)
	}
}
func (d *mockHALDevice) Wait(f hal.Fence, value uint64, _ time.Duration) (bool, error) {
	mf := f.(*mockFence)
	return d.fences[mf] >= value, nil
}
func (d *mockHALDevice) Destroy() {}

// fakeRecorder stands in for *pipeline.Pipeline. RecordFrame hands back
// a hashComputeCmd, a fake hal.CommandBuffer that fakeQueue recognizes
// on Submit and uses to run the hash computation on the CPU -- these
// tests exercise the scheduler's rotation and ordering, not a real GPU
// dispatch.
type fakeRecorder struct{}

func (fakeRecorder) CreateBindGroup(_ *gpubuffer.Buffer) (hal.BindGroup, error) {
	return nil, nil
}

func (fakeRecorder) RecordFrame(_ string, hostInput, _, hostOutput *gpubuffer.Buffer, _ hal.BindGroup) (hal.CommandBuffer, error) {
	return &hashComputeCmd{hostInput: hostInput, hostOutput: hostOutput}, nil
}

// hashComputeCmd is a fake hal.CommandBuffer recognized by fakeQueue.Submit.
type hashComputeCmd struct {
	hostInput, hostOutput *gpubuffer.Buffer
}

func (*hashComputeCmd) NativeHandle() uintptr { return 0 }

// fakeQueue backs every gpubuffer.Buffer.Write/Read with a per-buffer
// byte store, and on Submit runs any hashComputeCmd by reading whatever
// was last written to hostInput, computing each record's lookup3 hash,
// and writing the result to hostOutput -- the same contract the real
// GPU kernel fulfills, without a GPU.
type fakeQueue struct {
	device *mockHALDevice
	staged map[hal.Buffer][]byte
}

func (q *fakeQueue) WriteBuffer(buf hal.Buffer, _ uint64, data []byte) {
	if q.staged == nil {
		q.staged = make(map[hal.Buffer][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	q.staged[buf] = cp
}

func (q *fakeQueue) ReadBuffer(buf hal.Buffer, _ uint64, dst []byte) error {
	if data, ok := q.staged[buf]; ok {
		copy(dst, data)
	}
	return nil
}

func (q *fakeQueue) Submit(cmdBufs []hal.CommandBuffer, fence hal.Fence, value uint64) error {
	for _, cb := range cmdBufs {
		cmd, ok := cb.(*hashComputeCmd)
		if !ok {
			continue
		}
		n := cmd.hostInput.ItemCount()
		raw := q.staged[cmd.hostInput.Raw()]
		if raw == nil {
			raw = make([]byte, n*candidate.Size)
		}
		records := make([]candidate.Record, n)
		candidate.DecodeBatch(raw[:n*candidate.Size], records)
		for i := range records {
			records[i].Hash = lookup3.Hash(records[i].Bytes())
		}
		out := make([]byte, n*candidate.Size)
		candidate.EncodeBatch(records, out)
		q.staged[cmd.hostOutput.Raw()] = out
	}
	if mf, ok := fence.(*mockFence); ok {
		q.device.fences[mf] = value
	}
	return nil
}

func (q *fakeQueue) WriteTexture(_ hal.Texture, _ []byte, _ hal.ImageDataLayout, _ hal.Extent3D) {}

type sliceProvider struct {
	words [][]byte
	next  int
}

func (p *sliceProvider) Fill(batch []candidate.Record) int {
	n := 0
	for n < len(batch) && p.next < len(p.words) {
		batch[n].SetBytes(p.words[p.next])
		p.next++
		n++
	}
	return n
}

type collectSink struct {
	got []candidate.Record
}

func (s *collectSink) Accept(batch []candidate.Record) {
	s.got = append(s.got, batch...)
}

func newTestSlots(t *testing.T, dev *mockHALDevice, q hal.Queue, n, capacity int) []*frame.Slot {
	t.Helper()
	slots := make([]*frame.Slot, n)
	for i := range slots {
		s, err := frame.New(dev, q, fakeRecorder{}, capacity, "slot")
		if err != nil {
			t.Fatalf("frame.New: %v", err)
		}
		slots[i] = s
	}
	return slots
}

func TestRunDeliversAllCandidatesInOrder(t *testing.T) {
	dev := newMockHALDevice()
	q := &fakeQueue{device: dev}
	words := [][]byte{[]byte("FOO"), []byte("BAR"), []byte("BAZ"), []byte("QUX"), []byte("ONE")}
	provider := &sliceProvider{words: words}
	sink := &collectSink{}
	m := metrics.New()

	slots := newTestSlots(t, dev, q, 3, 2)
	defer func() {
		for _, s := range slots {
			s.Release()
		}
	}()

	sched := New(slots, provider, sink, m, true)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.got) != len(words) {
		t.Fatalf("delivered %d candidates, want %d", len(sink.got), len(words))
	}
	for i, w := range words {
		if string(sink.got[i].Bytes()) != string(w) {
			t.Fatalf("candidate %d = %q, want %q (order not preserved)", i, sink.got[i].Bytes(), w)
		}
		want := lookup3.Hash(w)
		if sink.got[i].Hash != want {
			t.Fatalf("candidate %d hash = %#x, want %#x", i, sink.got[i].Hash, want)
		}
	}
	if len(sched.Mismatches()) != 0 {
		t.Fatalf("unexpected mismatches: %v", sched.Mismatches())
	}
	if m.Total() != uint64(len(words)) {
		t.Fatalf("metrics.Total() = %d, want %d", m.Total(), len(words))
	}
}

func TestRunEmptyProviderYieldsNoSinkCalls(t *testing.T) {
	dev := newMockHALDevice()
	q := &fakeQueue{device: dev}
	provider := &sliceProvider{}
	sink := &collectSink{}
	m := metrics.New()

	slots := newTestSlots(t, dev, q, 3, 4)
	defer func() {
		for _, s := range slots {
			s.Release()
		}
	}()

	sched := New(slots, provider, sink, m, false)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.got) != 0 {
		t.Fatalf("delivered %d candidates, want 0", len(sink.got))
	}
}

func TestRunSingleElementWithThreeSlots(t *testing.T) {
	dev := newMockHALDevice()
	q := &fakeQueue{device: dev}
	provider := &sliceProvider{words: [][]byte{[]byte("ONLY")}}
	sink := &collectSink{}
	m := metrics.New()

	slots := newTestSlots(t, dev, q, 3, 4)
	defer func() {
		for _, s := range slots {
			s.Release()
		}
	}()

	sched := New(slots, provider, sink, m, false)
	if err := sched.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.got) != 1 {
		t.Fatalf("delivered %d candidates, want 1", len(sink.got))
	}
	if string(sink.got[0].Bytes()) != "ONLY" {
		t.Fatalf("got %q, want %q", sink.got[0].Bytes(), "ONLY")
	}
}
