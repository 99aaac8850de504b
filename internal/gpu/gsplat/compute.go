// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gsplat

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/project_and_cull.wgsl
var shaderProjectAndCull string

//go:embed shaders/project_visible.wgsl
var shaderProjectVisible string

//go:embed shaders/rasterize_forward.wgsl
var shaderRasterizeForward string

//go:embed shaders/rasterize_backward.wgsl
var shaderRasterizeBackward string

// Stage identifies one of the four per-splat / per-pixel GPU dispatches.
// Depth sort, tile sort, and prefix-sum are delegated to the radixsort
// and scan packages' own dispatchers; stage 10 (project-backward) runs
// host-side since its cost is O(num_visible), not O(pixels), and its
// central-difference projection Jacobian is simplest expressed in Go.
type Stage int

const (
	StageProjectAndCull Stage = iota
	StageProjectVisible
	StageRasterizeForward
	StageRasterizeBackward

	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageProjectAndCull:
		return "project_and_cull"
	case StageProjectVisible:
		return "project_visible"
	case StageRasterizeForward:
		return "rasterize_forward"
	case StageRasterizeBackward:
		return "rasterize_backward"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

const fenceTimeout = 5 * time.Second

// Dispatcher drives the GPU implementation of the per-pixel / per-splat
// stages of the pipeline. Bind group layouts are fixed per stage; buffer
// sizing and binding is the caller's responsibility via the hal.Buffer
// handles passed to Dispatch.
type Dispatcher struct {
	mu sync.RWMutex

	device hal.Device
	queue  hal.Queue

	pipelines       [stageCount]hal.ComputePipeline
	pipelineLayouts [stageCount]hal.PipelineLayout
	bgLayouts       [stageCount]hal.BindGroupLayout
	shaderModules   [stageCount]hal.ShaderModule
	shaderSources   [stageCount]string

	initialized bool
}

// NewDispatcher creates a gsplat compute dispatcher attached to the given
// device and queue. Init must be called before Dispatch.
func NewDispatcher(device hal.Device, queue hal.Queue) *Dispatcher {
	d := &Dispatcher{device: device, queue: queue}
	d.shaderSources = [stageCount]string{
		StageProjectAndCull:    shaderProjectAndCull,
		StageProjectVisible:    shaderProjectVisible,
		StageRasterizeForward:  shaderRasterizeForward,
		StageRasterizeBackward: shaderRasterizeBackward,
	}
	return d
}

// NewGPURenderer builds a Dispatcher from a gpucontext.DeviceProvider
// instead of raw hal.Device/hal.Queue values, so a host application that
// already holds a gogpu/gpucontext GPU context (shared across multiple
// renderers) can hand it to gsplat directly rather than this package
// creating its own device. Mirrors the host-supplies-the-device contract
// documented on gpucontext.DeviceProvider itself: gsplat receives the
// device, it does not create one.
func NewGPURenderer(provider gpucontext.DeviceProvider) (*Dispatcher, error) {
	if provider == nil {
		return nil, ErrDeviceRequired
	}
	device, ok := provider.Device().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: device provider returned no usable hal.Device", ErrDeviceRequired)
	}
	queue, ok := provider.Queue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: device provider returned no usable hal.Queue", ErrDeviceRequired)
	}
	return NewDispatcher(device, queue), nil
}

func bindGroupLayoutEntries(stage Stage) []gputypes.BindGroupLayoutEntry {
	uniform := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		}
	}
	storageRO := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		}
	}
	storageRW := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}

	switch stage {
	case StageProjectAndCull:
		return []gputypes.BindGroupLayoutEntry{
			uniform(0), storageRO(1), storageRO(2), storageRO(3), storageRO(4),
			storageRW(5), storageRW(6), storageRW(7),
		}
	case StageProjectVisible:
		return []gputypes.BindGroupLayoutEntry{
			uniform(0), storageRO(1), storageRO(2), storageRO(3), storageRO(4), storageRO(5), storageRO(6),
			storageRW(7), storageRW(8),
		}
	case StageRasterizeForward:
		return []gputypes.BindGroupLayoutEntry{
			uniform(0), storageRO(1), storageRO(2), storageRO(3),
			storageRW(4), storageRW(5), storageRW(6),
		}
	case StageRasterizeBackward:
		return []gputypes.BindGroupLayoutEntry{
			uniform(0), storageRO(1), storageRO(2), storageRO(3), storageRO(4), storageRO(5), storageRO(6),
			storageRW(7), storageRW(8), storageRW(9), storageRW(10),
		}
	default:
		return nil
	}
}

// Init compiles the gsplat shaders and creates the compute pipelines. It
// is safe to call multiple times; later calls no-op once initialized.
func (d *Dispatcher) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}

	for i := Stage(0); i < stageCount; i++ {
		src := d.shaderSources[i]
		name := "gsplat_" + i.String()

		module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  name,
			Source: hal.ShaderSource{WGSL: src},
		})
		if err != nil {
			d.destroyPartialInit(i)
			return fmt.Errorf("gsplat compute: create shader module for %s: %w", i, err)
		}
		d.shaderModules[i] = module

		bgLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   name + "_bgl",
			Entries: bindGroupLayoutEntries(i),
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("gsplat compute: create bind group layout for %s: %w", i, err)
		}
		d.bgLayouts[i] = bgLayout

		pipelineLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            name + "_pl",
			BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("gsplat compute: create pipeline layout for %s: %w", i, err)
		}
		d.pipelineLayouts[i] = pipelineLayout

		pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:   name,
			Layout:  pipelineLayout,
			Compute: hal.ComputeState{Module: module, EntryPoint: "main"},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("gsplat compute: create compute pipeline for %s: %w", i, err)
		}
		d.pipelines[i] = pipeline

		slogger().Debug("gsplat compute: pipeline created", "stage", i.String())
	}

	d.initialized = true
	return nil
}

func (d *Dispatcher) destroyPartialInit(upTo Stage) {
	for j := Stage(0); j < upTo; j++ {
		if d.pipelines[j] != nil {
			d.device.DestroyComputePipeline(d.pipelines[j])
			d.pipelines[j] = nil
		}
		if d.pipelineLayouts[j] != nil {
			d.device.DestroyPipelineLayout(d.pipelineLayouts[j])
			d.pipelineLayouts[j] = nil
		}
		if d.bgLayouts[j] != nil {
			d.device.DestroyBindGroupLayout(d.bgLayouts[j])
			d.bgLayouts[j] = nil
		}
		if d.shaderModules[j] != nil {
			d.device.DestroyShaderModule(d.shaderModules[j])
			d.shaderModules[j] = nil
		}
	}
}

// Close releases all GPU resources held by the dispatcher.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyPartialInit(stageCount)
	d.initialized = false
}

// CameraUniform mirrors the Camera struct shared by the project_and_cull.wgsl
// and project_visible.wgsl shaders, laid out to match WGSL's uniform address
// space rules (mat4x4<f32> at offset 0, size 96 bytes total).
type CameraUniform struct {
	ViewMat                [16]float32
	FocalX, FocalY         float32
	PrincipalX, PrincipalY float32
	ImgWidth, ImgHeight    uint32
	ExtraBlur              float32
}

func (c CameraUniform) bytes() []byte {
	buf := make([]byte, 96)
	for i, v := range c.ViewMat {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(buf[64:], math.Float32bits(c.FocalX))
	binary.LittleEndian.PutUint32(buf[68:], math.Float32bits(c.FocalY))
	binary.LittleEndian.PutUint32(buf[72:], math.Float32bits(c.PrincipalX))
	binary.LittleEndian.PutUint32(buf[76:], math.Float32bits(c.PrincipalY))
	binary.LittleEndian.PutUint32(buf[80:], c.ImgWidth)
	binary.LittleEndian.PutUint32(buf[84:], c.ImgHeight)
	binary.LittleEndian.PutUint32(buf[88:], math.Float32bits(c.ExtraBlur))
	// buf[92:96] is the Camera struct's trailing _pad field, left zero.
	return buf
}

// RasterUniforms mirrors the Uniforms struct shared by rasterize_forward.wgsl
// and rasterize_backward.wgsl.
type RasterUniforms struct {
	ImgWidth, ImgHeight uint32
	TileBoundsX         uint32
	BackgroundPacked    uint32
}

func (u RasterUniforms) bytes() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:], u.ImgWidth)
	binary.LittleEndian.PutUint32(buf[4:], u.ImgHeight)
	binary.LittleEndian.PutUint32(buf[8:], u.TileBoundsX)
	binary.LittleEndian.PutUint32(buf[12:], u.BackgroundPacked)
	return buf
}

func (d *Dispatcher) entry(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
	return gputypes.BindGroupEntry{Binding: binding, Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle()}}
}

// runStage encodes, submits, and waits on a single compute dispatch for one
// stage, over a wgX x wgY x 1 workgroup grid. Each of the four exported
// Dispatch* methods below is exactly one such call; the ten-stage pipeline
// is orchestrated host-side by the caller (mirroring Render/Backward in
// pipeline.go), interleaving these calls with the radixsort and scan
// packages' own dispatchers between gsplat stages.
func (d *Dispatcher) runStage(stage Stage, wgX, wgY uint32, entries []gputypes.BindGroupEntry) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.initialized {
		return fmt.Errorf("gsplat compute: dispatcher not initialized, call Init() first")
	}

	name := "gsplat_" + stage.String()
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: name})
	if err != nil {
		return fmt.Errorf("gsplat compute: create command encoder for %s: %w", stage, err)
	}
	if err := encoder.BeginEncoding(name); err != nil {
		return fmt.Errorf("gsplat compute: begin encoding for %s: %w", stage, err)
	}

	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: name + "_bg", Layout: d.bgLayouts[stage], Entries: entries,
	})
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("gsplat compute: create bind group for %s: %w", stage, err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: name})
	pass.SetPipeline(d.pipelines[stage])
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(wgX, wgY, 1)
	pass.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		d.device.DestroyBindGroup(bg)
		return fmt.Errorf("gsplat compute: end encoding for %s: %w", stage, err)
	}
	defer func() {
		d.device.FreeCommandBuffer(cmdBuf)
		d.device.DestroyBindGroup(bg)
	}()

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("gsplat compute: create fence for %s: %w", stage, err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gsplat compute: submit for %s: %w", stage, err)
	}
	ok, err := d.device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("gsplat compute: wait for GPU on %s: %w", stage, err)
	}
	if !ok {
		return fmt.Errorf("gsplat compute: GPU timeout after %v on %s", fenceTimeout, stage)
	}

	slogger().Debug("gsplat compute: dispatch complete", "stage", stage.String(), "wg_x", wgX, "wg_y", wgY)
	return nil
}

// ProjectAndCullBuffers holds the GPU buffers bound by DispatchProjectAndCull.
type ProjectAndCullBuffers struct {
	Camera                                hal.Buffer
	Means, LogScales, Quats, RawOpacities hal.Buffer
	OutGlobalID, OutDepth, NumVisible     hal.Buffer
}

// DispatchProjectAndCull runs stage 1 on the GPU: one thread per splat,
// writing survivors into OutGlobalID/OutDepth via the atomic NumVisible
// counter. numSplats determines the workgroup count (256 splats/group, per
// the shader's @workgroup_size(256)).
func (d *Dispatcher) DispatchProjectAndCull(b ProjectAndCullBuffers, numSplats uint32) error {
	workgroups := (numSplats + 255) / 256
	if workgroups == 0 {
		workgroups = 1
	}
	return d.runStage(StageProjectAndCull, workgroups, 1, []gputypes.BindGroupEntry{
		d.entry(0, b.Camera), d.entry(1, b.Means), d.entry(2, b.LogScales), d.entry(3, b.Quats),
		d.entry(4, b.RawOpacities), d.entry(5, b.OutGlobalID), d.entry(6, b.OutDepth), d.entry(7, b.NumVisible),
	})
}

// ProjectVisibleBuffers holds the GPU buffers bound by DispatchProjectVisible.
type ProjectVisibleBuffers struct {
	Camera                                hal.Buffer
	Means, LogScales, Quats, RawOpacities hal.Buffer
	SHCoeffs, GlobalFromCompactGID        hal.Buffer
	OutProjected, OutIntersectCounts      hal.Buffer
}

// DispatchProjectVisible runs stage 3 on the GPU: one thread per compact
// survivor. numVisible determines the workgroup count.
func (d *Dispatcher) DispatchProjectVisible(b ProjectVisibleBuffers, numVisible uint32) error {
	workgroups := (numVisible + 255) / 256
	if workgroups == 0 {
		workgroups = 1
	}
	return d.runStage(StageProjectVisible, workgroups, 1, []gputypes.BindGroupEntry{
		d.entry(0, b.Camera), d.entry(1, b.Means), d.entry(2, b.LogScales), d.entry(3, b.Quats),
		d.entry(4, b.RawOpacities), d.entry(5, b.SHCoeffs), d.entry(6, b.GlobalFromCompactGID),
		d.entry(7, b.OutProjected), d.entry(8, b.OutIntersectCounts),
	})
}

// RasterizeForwardBuffers holds the GPU buffers bound by
// DispatchRasterizeForward.
type RasterizeForwardBuffers struct {
	Uniforms                                    hal.Buffer
	Projected, TileOffsets, CompactGIDFromIsect hal.Buffer
	OutImg, OutFinalT, OutFinalIndex            hal.Buffer
}

// DispatchRasterizeForward runs stage 8 on the GPU: one workgroup per tile,
// 16x16 threads (one per pixel). tileBoundsX/tileBoundsY size the dispatch
// grid.
func (d *Dispatcher) DispatchRasterizeForward(b RasterizeForwardBuffers, tileBoundsX, tileBoundsY uint32) error {
	return d.runStage(StageRasterizeForward, tileBoundsX, tileBoundsY, []gputypes.BindGroupEntry{
		d.entry(0, b.Uniforms), d.entry(1, b.Projected), d.entry(2, b.TileOffsets), d.entry(3, b.CompactGIDFromIsect),
		d.entry(4, b.OutImg), d.entry(5, b.OutFinalT), d.entry(6, b.OutFinalIndex),
	})
}

// RasterizeBackwardBuffers holds the GPU buffers bound by
// DispatchRasterizeBackward.
type RasterizeBackwardBuffers struct {
	Uniforms                                    hal.Buffer
	Projected, TileOffsets, CompactGIDFromIsect hal.Buffer
	DLdImage, FinalT, FinalIndex                hal.Buffer
	DMean, DConic, DRGB, DOpacity                hal.Buffer
}

// DispatchRasterizeBackward runs stage 9 on the GPU, same dispatch grid
// shape as DispatchRasterizeForward. The D* output buffers must be zeroed by
// the caller before dispatch since the shader accumulates into them via
// atomic_add_f32.
func (d *Dispatcher) DispatchRasterizeBackward(b RasterizeBackwardBuffers, tileBoundsX, tileBoundsY uint32) error {
	return d.runStage(StageRasterizeBackward, tileBoundsX, tileBoundsY, []gputypes.BindGroupEntry{
		d.entry(0, b.Uniforms), d.entry(1, b.Projected), d.entry(2, b.TileOffsets), d.entry(3, b.CompactGIDFromIsect),
		d.entry(4, b.DLdImage), d.entry(5, b.FinalT), d.entry(6, b.FinalIndex),
		d.entry(7, b.DMean), d.entry(8, b.DConic), d.entry(9, b.DRGB), d.entry(10, b.DOpacity),
	})
}

// WriteCameraUniform writes a CameraUniform into buf at offset 0, sized for
// the Camera struct shared by the project_and_cull/project_visible shaders.
func (d *Dispatcher) WriteCameraUniform(buf hal.Buffer, c CameraUniform) {
	d.queue.WriteBuffer(buf, 0, c.bytes())
}

// WriteRasterUniforms writes a RasterUniforms into buf at offset 0, sized
// for the Uniforms struct shared by the rasterize_forward/backward shaders.
func (d *Dispatcher) WriteRasterUniforms(buf hal.Buffer, u RasterUniforms) {
	d.queue.WriteBuffer(buf, 0, u.bytes())
}
