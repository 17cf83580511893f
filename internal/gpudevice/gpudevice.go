// Package gpudevice brings up the compute-only GPU device the rest of
// the engine dispatches against: backend, instance, adapter, device,
// and queue. It owns none of the search engine's domain state -- that
// lives in gpubuffer, frame, and pipeline -- it only hands out a
// ready hal.Device and hal.Queue pair and tears them down cleanly.
package gpudevice

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Registers the Vulkan backend via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// ErrNoDevice is returned when no compute-capable adapter can be
// found on the host.
var ErrNoDevice = errors.New("gpudevice: no compute-capable GPU adapter available")

// ErrNotInitialized is returned by Device/Queue when called before a
// successful Init.
var ErrNotInitialized = errors.New("gpudevice: device not initialized")

// Device owns the GPU bring-up sequence for headless compute work.
// It is safe to call Close multiple times; Init, Close and the
// accessors are serialized by an internal mutex.
type Device struct {
	mu sync.RWMutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	adapterName string
	initialized bool
}

// New returns a Device that must be initialized with Init before use.
func New() *Device {
	return &Device{}
}

// Init opens the Vulkan backend, enumerates adapters, prefers a
// discrete or integrated GPU over a software/CPU adapter, and opens a
// device and queue for compute work. Init is idempotent: calling it
// again on an already initialized Device is a no-op.
func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}

	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("%w: vulkan backend not registered", ErrNoDevice)
	}

	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("gpudevice: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return fmt.Errorf("%w: no adapters enumerated", ErrNoDevice)
	}

	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("gpudevice: open device: %w", err)
	}

	d.instance = instance
	d.device = openDev.Device
	d.queue = openDev.Queue
	d.adapterName = selected.Info.Name
	d.initialized = true

	slog.Info("gpudevice: initialized", "adapter", d.adapterName, "type", selected.Info.DeviceType)
	return nil
}

// Close releases the device and instance. Safe to call on an
// uninitialized or already-closed Device.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return
	}
	if d.device != nil {
		d.device.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
	d.initialized = false
	slog.Info("gpudevice: closed")
}

// Device returns the underlying hal.Device. Returns nil if not
// initialized.
func (d *Device) Device() hal.Device {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.device
}

// Queue returns the underlying hal.Queue. Returns nil if not
// initialized.
func (d *Device) Queue() hal.Queue {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.queue
}

// AdapterName returns the selected adapter's human-readable name, or
// the empty string if not initialized.
func (d *Device) AdapterName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.adapterName
}

// waitIdleTimeout bounds how long WaitIdle blocks for the empty
// synchronization submit to retire.
const waitIdleTimeout = 5 * time.Second

// WaitIdle blocks until all work previously submitted to the queue
// has completed, by submitting an empty command list against a fresh
// fence and waiting on it. cmd/lookup3gpu calls this once after the
// scheduler's Run returns.
func (d *Device) WaitIdle() error {
	d.mu.RLock()
	dev, queue := d.device, d.queue
	d.mu.RUnlock()
	if dev == nil || queue == nil {
		return ErrNotInitialized
	}

	fence, err := dev.CreateFence()
	if err != nil {
		return fmt.Errorf("gpudevice: create fence: %w", err)
	}
	defer dev.DestroyFence(fence)

	if err := queue.Submit(nil, fence, 1); err != nil {
		return fmt.Errorf("gpudevice: submit sync fence: %w", err)
	}
	ok, err := dev.Wait(fence, 1, waitIdleTimeout)
	if err != nil {
		return fmt.Errorf("gpudevice: wait: %w", err)
	}
	if !ok {
		return fmt.Errorf("gpudevice: wait idle timed out")
	}
	return nil
}
