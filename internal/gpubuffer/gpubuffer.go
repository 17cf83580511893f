// Package gpubuffer is a typed, element-counted wrapper over a single
// hal.Buffer allocation: usage-flag selection, host <-> device
// transfer, and descriptor-binding bookkeeping. It does not know about
// candidates or frames; it knows about bytes, direction, and where it
// is bound.
package gpubuffer

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// MemoryKind selects the usage-flag combination a Buffer is created
// with, mirroring the three allocation shapes the dispatch engine
// needs: device-resident working memory, and the two staging
// directions for host <-> device transfer.
type MemoryKind int

const (
	// GPUOnly is device-local storage with no host visibility: the
	// compute shader's input/output working buffer.
	GPUOnly MemoryKind = iota
	// CPUToGPU is host-write staging memory: the per-frame host-input
	// buffer, populated via Write and copied device-side by the
	// pipeline's recorded command buffer.
	CPUToGPU
	// GPUToCPU is host-read staging memory: the per-frame host-output
	// buffer, populated device-side by the recorded command buffer and
	// drained via Read.
	GPUToCPU
)

func (k MemoryKind) String() string {
	switch k {
	case GPUOnly:
		return "gpu_only"
	case CPUToGPU:
		return "cpu_to_gpu"
	case GPUToCPU:
		return "gpu_to_cpu"
	default:
		return fmt.Sprintf("MemoryKind(%d)", int(k))
	}
}

func (k MemoryKind) usage() gputypes.BufferUsage {
	switch k {
	case GPUOnly:
		return gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	case CPUToGPU:
		return gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	case GPUToCPU:
		return gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	default:
		return 0
	}
}

// Buffer wraps one hal.Buffer allocation together with the metadata
// the scheduler and pipeline need: its element layout, its current
// item count, and where it is bound in the single descriptor set
// layout the pipeline uses.
type Buffer struct {
	device hal.Device
	raw    hal.Buffer

	kind     MemoryKind
	byteSize uint64
	itemSize uint64

	// itemCount is mutable metadata the caller maintains; it is not
	// interpreted by Buffer itself.
	itemCount int

	binding uint32
	bound   bool
}

// Create allocates a new Buffer of byteSize bytes with the usage
// flags implied by kind. itemSize is the size of one logical element
// (e.g. candidate.Size) and is recorded only for ItemCount bookkeeping
// by the caller; Buffer does not validate alignment against it.
func Create(device hal.Device, kind MemoryKind, byteSize, itemSize uint64, label string) (*Buffer, error) {
	if byteSize == 0 {
		return nil, fmt.Errorf("gpubuffer: byte size must be > 0")
	}
	raw, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  byteSize,
		Usage: kind.usage(),
	})
	if err != nil {
		return nil, fmt.Errorf("gpubuffer: create %s buffer: %w", kind, err)
	}
	return &Buffer{
		device:   device,
		raw:      raw,
		kind:     kind,
		byteSize: byteSize,
		itemSize: itemSize,
	}, nil
}

// Raw returns the underlying hal.Buffer handle for use in bind group
// entries, copy commands, and barriers.
func (b *Buffer) Raw() hal.Buffer { return b.raw }

// Kind returns the memory kind this buffer was created with.
func (b *Buffer) Kind() MemoryKind { return b.kind }

// ByteSize returns the buffer's fixed allocation size.
func (b *Buffer) ByteSize() uint64 { return b.byteSize }

// ItemSize returns the caller-declared element size.
func (b *Buffer) ItemSize() uint64 { return b.itemSize }

// ItemCount returns the number of valid elements currently held. It
// is caller-maintained metadata, not derived from ByteSize.
func (b *Buffer) ItemCount() int { return b.itemCount }

// SetItemCount records how many elements are currently valid in the
// buffer.
func (b *Buffer) SetItemCount(n int) { b.itemCount = n }

// Write uploads src to the buffer at offset via the queue, for
// CPUToGPU staging buffers and one-shot uniform uploads. len(src)+offset
// must not exceed ByteSize().
func (b *Buffer) Write(queue hal.Queue, offset uint64, src []byte) error {
	if offset+uint64(len(src)) > b.byteSize {
		return fmt.Errorf("gpubuffer: write of %d bytes at offset %d exceeds buffer size %d", len(src), offset, b.byteSize)
	}
	queue.WriteBuffer(b.raw, offset, src)
	return nil
}

// Read drains n bytes starting at offset from a GPUToCPU staging
// buffer into a freshly allocated slice. The caller must have already
// submitted and waited on the command buffer that copied device data
// into this buffer.
func (b *Buffer) Read(queue hal.Queue, offset, n uint64) ([]byte, error) {
	if b.kind != GPUToCPU {
		return nil, fmt.Errorf("gpubuffer: Read called on a %s buffer, want %s", b.kind, GPUToCPU)
	}
	if offset+n > b.byteSize {
		return nil, fmt.Errorf("gpubuffer: read of %d bytes at offset %d exceeds buffer size %d", n, offset, b.byteSize)
	}
	dst := make([]byte, n)
	if err := queue.ReadBuffer(b.raw, offset, dst); err != nil {
		return nil, fmt.Errorf("gpubuffer: read: %w", err)
	}
	return dst, nil
}

// UpdateDescriptor records that this buffer is bound at the given
// binding slot in the pipeline's single descriptor set. The pipeline
// package reads this back when constructing bind group entries.
func (b *Buffer) UpdateDescriptor(binding uint32) {
	b.binding = binding
	b.bound = true
}

// Binding returns the binding slot set by UpdateDescriptor and
// whether one has been set at all.
func (b *Buffer) Binding() (uint32, bool) {
	return b.binding, b.bound
}

// Release destroys the underlying allocation. Safe to call multiple
// times.
func (b *Buffer) Release() {
	if b.raw == nil {
		return
	}
	b.device.DestroyBuffer(b.raw)
	b.raw = nil
}
