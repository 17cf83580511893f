// Package frame is the per-in-flight-slot bundle the scheduler rotates
// through: a host-input buffer, a device-local working buffer, a
// host-output buffer, the bind group and command buffer recorded
// against them, and the fence that guards the whole slot. It owns no
// control flow of its own; the scheduler drives it.
package frame

import (
	"fmt"
	"time"

	"github.com/gogpu/wgpu/hal"

	"lookup3gpu/internal/candidate"
	"lookup3gpu/internal/gpubuffer"
)

// recorder is the subset of *pipeline.Pipeline a Slot needs to build
// its bind group and command buffer, kept narrow so frame does not
// import pipeline's shader-template machinery.
type recorder interface {
	CreateBindGroup(deviceLocal *gpubuffer.Buffer) (hal.BindGroup, error)
	RecordFrame(label string, hostInput, deviceLocal, hostOutput *gpubuffer.Buffer, bindGroup hal.BindGroup) (hal.CommandBuffer, error)
}

// Slot is one ring-buffer frame: three candidate.Size-scaled buffers,
// a bind group and command buffer built once against them, and the
// fence that gates every host access to the buffers. ItemCount and
// InFlight are bookkeeping the scheduler maintains directly.
type Slot struct {
	device hal.Device
	queue  hal.Queue

	HostInput   *gpubuffer.Buffer
	DeviceLocal *gpubuffer.Buffer
	HostOutput  *gpubuffer.Buffer

	bindGroup hal.BindGroup
	cmdBuf    hal.CommandBuffer
	Fence     hal.Fence

	// fenceValue is the timeline value Submit signals Fence to next;
	// this hal exposes no fence-reset call, so each submission targets
	// the next value instead of reusing one, which has the same effect.
	fenceValue uint64
	submitted  bool

	// Capacity is B, the number of candidate records the slot's buffers
	// hold. Invariant: ItemCount <= Capacity.
	Capacity  int
	ItemCount int

	// InFlight is true from Submit until the scheduler observes Fence
	// signaled. A slot with InFlight true must not have its host
	// buffers read or written.
	InFlight bool
}

// New allocates a slot's three buffers sized for capacity candidate
// records, builds its bind group against pl, and records its fixed
// command sequence once. The command buffer and bind group are reused
// for every submission of this slot: the recorded sequence never
// changes shape, only the bytes underneath it.
func New(device hal.Device, queue hal.Queue, pl recorder, capacity int, label string) (s *Slot, err error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("frame: capacity must be > 0, got %d", capacity)
	}
	byteSize := uint64(capacity) * uint64(candidate.Size)

	s = &Slot{device: device, queue: queue, Capacity: capacity}
	defer func() {
		if err != nil {
			s.Release()
		}
	}()

	s.HostInput, err = gpubuffer.Create(device, gpubuffer.CPUToGPU, byteSize, uint64(candidate.Size), label+"_host_input")
	if err != nil {
		return nil, fmt.Errorf("frame: create host_input: %w", err)
	}
	s.DeviceLocal, err = gpubuffer.Create(device, gpubuffer.GPUOnly, byteSize, uint64(candidate.Size), label+"_device_local")
	if err != nil {
		return nil, fmt.Errorf("frame: create device_local: %w", err)
	}
	s.HostOutput, err = gpubuffer.Create(device, gpubuffer.GPUToCPU, byteSize, uint64(candidate.Size), label+"_host_output")
	if err != nil {
		return nil, fmt.Errorf("frame: create host_output: %w", err)
	}

	s.DeviceLocal.UpdateDescriptor(0)
	s.bindGroup, err = pl.CreateBindGroup(s.DeviceLocal)
	if err != nil {
		return nil, fmt.Errorf("frame: create bind group: %w", err)
	}

	s.cmdBuf, err = pl.RecordFrame(label, s.HostInput, s.DeviceLocal, s.HostOutput, s.bindGroup)
	if err != nil {
		return nil, fmt.Errorf("frame: record command buffer: %w", err)
	}

	s.Fence, err = device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("frame: create fence: %w", err)
	}

	return s, nil
}

// Fill uploads up to Capacity candidate records from batch into
// host_input and records the resulting count as ItemCount. The caller
// must have already observed Fence signaled before calling this.
func (s *Slot) Fill(batch []candidate.Record) error {
	if len(batch) > s.Capacity {
		return fmt.Errorf("frame: fill of %d records exceeds capacity %d", len(batch), s.Capacity)
	}
	buf := make([]byte, len(batch)*candidate.Size)
	candidate.EncodeBatch(batch, buf)
	if err := s.HostInput.Write(s.queue, 0, buf); err != nil {
		return fmt.Errorf("frame: write host_input: %w", err)
	}
	s.ItemCount = len(batch)
	s.HostInput.SetItemCount(len(batch))
	return nil
}

// ReadOutput drains the first ItemCount records of host_output. The
// caller must have already observed Fence signaled before calling this.
func (s *Slot) ReadOutput() ([]candidate.Record, error) {
	if s.ItemCount == 0 {
		return nil, nil
	}
	n := s.ItemCount
	raw, err := s.HostOutput.Read(s.queue, 0, uint64(n)*uint64(candidate.Size))
	if err != nil {
		return nil, fmt.Errorf("frame: read host_output: %w", err)
	}
	records := make([]candidate.Record, n)
	candidate.DecodeBatch(raw, records)
	return records, nil
}

// Submit submits the slot's recorded command buffer, signaling Fence
// at the next timeline value on completion. Marks the slot in flight.
func (s *Slot) Submit() error {
	s.fenceValue++
	if err := s.queue.Submit([]hal.CommandBuffer{s.cmdBuf}, s.Fence, s.fenceValue); err != nil {
		return fmt.Errorf("frame: submit: %w", err)
	}
	s.InFlight = true
	s.submitted = true
	return nil
}

// Wait blocks until Fence reaches the value set by the most recent
// Submit, or timeout elapses, then clears InFlight. Before the slot's
// first Submit it returns immediately: every slot starts in the
// already-signaled state the priming phase assumes. It is the
// scheduler's sole synchronization point per slot.
func (s *Slot) Wait(timeout time.Duration) error {
	if !s.submitted {
		return nil
	}
	ok, err := s.device.Wait(s.Fence, s.fenceValue, timeout)
	if err != nil {
		return fmt.Errorf("frame: wait: %w", err)
	}
	if !ok {
		return fmt.Errorf("frame: fence wait timed out after %v", timeout)
	}
	s.InFlight = false
	return nil
}

// Release destroys the slot's buffers, fence, and command buffer. Safe
// to call multiple times.
func (s *Slot) Release() {
	if s.cmdBuf != nil {
		s.device.FreeCommandBuffer(s.cmdBuf)
		s.cmdBuf = nil
	}
	if s.Fence != nil {
		s.device.DestroyFence(s.Fence)
		s.Fence = nil
	}
	if s.HostInput != nil {
		s.HostInput.Release()
	}
	if s.DeviceLocal != nil {
		s.DeviceLocal.Release()
	}
	if s.HostOutput != nil {
		s.HostOutput.Release()
	}
}
