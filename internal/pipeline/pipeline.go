// Package pipeline builds the compute pipeline the scheduler dispatches
// against: the lookup3 shader module, its single storage-buffer bind
// group layout, the compute pipeline itself, the shared indirect-dispatch
// buffer, and the fixed per-frame command sequence that uploads a slot's
// input, dispatches indirectly, and reads its output back.
package pipeline

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"fmt"
	"text/template"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"lookup3gpu/internal/gpubuffer"
)

//go:embed shaders/lookup3.wgsl.tmpl
var shaderTemplateSource string

// setupTimeout bounds the one-shot indirect-buffer upload during New.
const setupTimeout = 5 * time.Second

// Config carries the dispatch shape the pipeline is built for.
type Config struct {
	WorkgroupSize  [3]uint32
	WorkgroupCount [3]uint32
}

// BatchSize returns B, the number of candidate records one frame's
// buffers hold: the product of workgroup size and workgroup count
// across all three dimensions.
func (c Config) BatchSize() int {
	return int(c.WorkgroupSize[0]*c.WorkgroupCount[0]) *
		int(c.WorkgroupSize[1]*c.WorkgroupCount[1]) *
		int(c.WorkgroupSize[2]*c.WorkgroupCount[2])
}

// Pipeline owns the setup-time GPU objects shared by every frame slot:
// the compiled shader, the bind group layout, the pipeline layout, the
// compute pipeline, and the indirect-dispatch buffer. These are
// read-only after New returns and may be used concurrently by every
// frame's recorded command buffer.
type Pipeline struct {
	device hal.Device
	queue  hal.Queue

	cfg Config

	shaderModule hal.ShaderModule
	bindLayout   hal.BindGroupLayout
	pipeLayout   hal.PipelineLayout
	compute      hal.ComputePipeline

	indirect *gpubuffer.Buffer
}

// renderShader substitutes the configured workgroup size into the
// lookup3 kernel template. There is no specialization-constant override
// surface at pipeline-creation time in this backend, so workgroup size
// is baked into the WGSL source text instead.
func renderShader(size [3]uint32) (string, error) {
	tmpl, err := template.New("lookup3").Parse(shaderTemplateSource)
	if err != nil {
		return "", fmt.Errorf("pipeline: parse shader template: %w", err)
	}
	var buf bytes.Buffer
	data := struct{ WGX, WGY, WGZ uint32 }{size[0], size[1], size[2]}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("pipeline: render shader template: %w", err)
	}
	return buf.String(), nil
}

// compileToSPIRV runs the rendered WGSL kernel through naga, catching
// shader authoring mistakes (a bad template substitution, a malformed
// loop) as a ShaderLoadError at pipeline setup instead of a cryptic
// backend failure at first dispatch.
func compileToSPIRV(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("pipeline: compile shader: %w", err)
	}
	spirvCode := make([]uint32, len(spirvBytes)/4)
	for i := range spirvCode {
		spirvCode[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirvCode, nil
}

// New compiles the lookup3 shader, builds the compute pipeline, and
// uploads the fixed workgroup counts into the shared indirect-dispatch
// buffer. The pipeline and indirect buffer are shared read-only by every
// frame slot for the lifetime of the run.
func New(device hal.Device, queue hal.Queue, cfg Config) (p *Pipeline, err error) {
	src, err := renderShader(cfg.WorkgroupSize)
	if err != nil {
		return nil, err
	}

	p = &Pipeline{device: device, queue: queue, cfg: cfg}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	spirv, err := compileToSPIRV(src)
	if err != nil {
		return nil, err
	}
	p.shaderModule, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "lookup3",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create shader module: %w", err)
	}

	p.bindLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "lookup3_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create bind group layout: %w", err)
	}

	p.pipeLayout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "lookup3_pl",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create pipeline layout: %w", err)
	}

	p.compute, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "lookup3",
		Layout: p.pipeLayout,
		Compute: hal.ComputeState{
			Module:     p.shaderModule,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create compute pipeline: %w", err)
	}

	if err = p.uploadIndirect(cfg.WorkgroupCount); err != nil {
		return nil, err
	}

	return p, nil
}

// uploadIndirect writes the (group_x, group_y, group_z) triple into the
// device-local indirect-dispatch buffer via a small staging buffer and a
// one-shot command buffer, then waits for it to complete. This runs once
// during setup; the indirect buffer never changes afterward.
func (p *Pipeline) uploadIndirect(count [3]uint32) error {
	const indirectSize = 12

	indirect, err := gpubuffer.Create(p.device, gpubuffer.GPUOnly, indirectSize, indirectSize, "indirect_dispatch")
	if err != nil {
		return fmt.Errorf("pipeline: create indirect buffer: %w", err)
	}
	p.indirect = indirect

	staging, err := gpubuffer.Create(p.device, gpubuffer.CPUToGPU, indirectSize, indirectSize, "indirect_staging")
	if err != nil {
		return fmt.Errorf("pipeline: create indirect staging buffer: %w", err)
	}
	defer staging.Release()

	var raw [indirectSize]byte
	binary.LittleEndian.PutUint32(raw[0:4], count[0])
	binary.LittleEndian.PutUint32(raw[4:8], count[1])
	binary.LittleEndian.PutUint32(raw[8:12], count[2])
	if err := staging.Write(p.queue, 0, raw[:]); err != nil {
		return fmt.Errorf("pipeline: write indirect staging: %w", err)
	}

	encoder, err := p.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "indirect_upload"})
	if err != nil {
		return fmt.Errorf("pipeline: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("indirect_upload"); err != nil {
		return fmt.Errorf("pipeline: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(staging.Raw(), indirect.Raw(), []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: indirectSize},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("pipeline: end encoding: %w", err)
	}
	defer p.device.FreeCommandBuffer(cmdBuf)

	fence, err := p.device.CreateFence()
	if err != nil {
		return fmt.Errorf("pipeline: create fence: %w", err)
	}
	defer p.device.DestroyFence(fence)

	if err := p.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("pipeline: submit indirect upload: %w", err)
	}
	ok, err := p.device.Wait(fence, 1, setupTimeout)
	if err != nil {
		return fmt.Errorf("pipeline: wait for indirect upload: %w", err)
	}
	if !ok {
		return fmt.Errorf("pipeline: indirect upload timed out after %v", setupTimeout)
	}
	return nil
}

// BatchSize returns B for this pipeline's configured dispatch shape.
func (p *Pipeline) BatchSize() int { return p.cfg.BatchSize() }

// CreateBindGroup allocates the single storage-buffer bind group for one
// frame slot's device_local buffer. Each frame owns its bind group for
// the lifetime of the run; there is no dynamic reallocation per submit.
func (p *Pipeline) CreateBindGroup(deviceLocal *gpubuffer.Buffer) (hal.BindGroup, error) {
	bg, err := p.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "lookup3_frame_bg",
		Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{
				Binding: 0,
				Resource: gputypes.BufferBinding{
					Buffer: deviceLocal.Raw().NativeHandle(),
					Offset: 0,
					Size:   0,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create bind group: %w", err)
	}
	return bg, nil
}

// RecordFrame records the fixed per-slot command sequence: copy
// host_input into device_local, dispatch the lookup3 kernel indirectly
// using the shared indirect buffer, then copy device_local back into
// host_output. Ordering between these three steps is guaranteed by
// recording them into a single command buffer on one encoder plus the
// fence wait the caller performs after submission; this backend exposes
// no buffer memory barrier below the texture level, so none is recorded.
func (p *Pipeline) RecordFrame(label string, hostInput, deviceLocal, hostOutput *gpubuffer.Buffer, bindGroup hal.BindGroup) (hal.CommandBuffer, error) {
	encoder, err := p.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("pipeline: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("pipeline: begin encoding: %w", err)
	}

	size := deviceLocal.ByteSize()
	encoder.CopyBufferToBuffer(hostInput.Raw(), deviceLocal.Raw(), []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: size},
	})

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label + "_dispatch"})
	pass.SetPipeline(p.compute)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchIndirect(p.indirect.Raw(), 0)
	pass.End()

	encoder.CopyBufferToBuffer(deviceLocal.Raw(), hostOutput.Raw(), []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: size},
	})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("pipeline: end encoding: %w", err)
	}
	return cmdBuf, nil
}

// Close destroys every setup-time GPU object owned by the pipeline. Safe
// to call multiple times and on a partially-constructed Pipeline.
func (p *Pipeline) Close() {
	if p.indirect != nil {
		p.indirect.Release()
		p.indirect = nil
	}
	if p.compute != nil {
		p.device.DestroyComputePipeline(p.compute)
		p.compute = nil
	}
	if p.pipeLayout != nil {
		p.device.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		p.device.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shaderModule != nil {
		p.device.DestroyShaderModule(p.shaderModule)
		p.shaderModule = nil
	}
}
