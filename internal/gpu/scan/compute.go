// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package scan

import (
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/prefix_sum_scan.wgsl
var shaderScan string

//go:embed shaders/prefix_sum_scan_sums.wgsl
var shaderScanSums string

//go:embed shaders/prefix_sum_add_scanned_sums.wgsl
var shaderAddScannedSums string

// Stage identifies one of the three dispatches in the GPU scan pipeline.
type Stage int

const (
	// StageScan performs the per-block Hillis-Steele scan and emits block
	// totals.
	StageScan Stage = iota

	// StageScanSums scans the per-block totals into per-block bases.
	StageScanSums

	// StageAddScannedSums adds each block's base back into its elements.
	StageAddScannedSums

	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageScan:
		return "prefix_sum_scan"
	case StageScanSums:
		return "prefix_sum_scan_sums"
	case StageAddScannedSums:
		return "prefix_sum_add_scanned_sums"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

const fenceTimeout = 5 * time.Second

// Buffers holds the GPU storage buffers shared across the three scan
// dispatches for a single call.
type Buffers struct {
	Values      hal.Buffer // input, read-only
	Scanned     hal.Buffer // output, also read_write scratch for the add pass
	BlockSums   hal.Buffer // per-block totals, written by StageScan
	BlockBases  hal.Buffer // per-block exclusive bases, written by StageScanSums
	NumBlocks   uint32
	NumElements uint32
}

// Dispatcher drives the GPU implementation of ExclusiveScanU32, mirroring
// the CPU reference pass-for-pass: block scan, block-sums scan, block add.
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

// NewDispatcher creates a scan dispatcher attached to the given device and
// queue. Init must be called before Dispatch.
func NewDispatcher(device hal.Device, queue hal.Queue) *Dispatcher {
	d := &Dispatcher{device: device, queue: queue}
	d.shaderSources = [stageCount]string{
		StageScan:           shaderScan,
		StageScanSums:       shaderScanSums,
		StageAddScannedSums: shaderAddScannedSums,
	}
	return d
}

func bindGroupLayoutEntries(stage Stage) []gputypes.BindGroupLayoutEntry {
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
	case StageScan:
		// @binding(0) values, @binding(1) scanned, @binding(2) block_sums
		return []gputypes.BindGroupLayoutEntry{storageRO(0), storageRW(1), storageRW(2)}
	case StageScanSums:
		// @binding(0) block_sums, @binding(1) block_bases
		return []gputypes.BindGroupLayoutEntry{storageRW(0), storageRW(1)}
	case StageAddScannedSums:
		// @binding(0) scanned, @binding(1) block_bases
		return []gputypes.BindGroupLayoutEntry{storageRW(0), storageRO(1)}
	default:
		return nil
	}
}

func bindGroupEntries(stage Stage, b *Buffers) []gputypes.BindGroupEntry {
	entry := func(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{
			Binding:  binding,
			Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: 0, Size: 0},
		}
	}
	switch stage {
	case StageScan:
		return []gputypes.BindGroupEntry{entry(0, b.Values), entry(1, b.Scanned), entry(2, b.BlockSums)}
	case StageScanSums:
		return []gputypes.BindGroupEntry{entry(0, b.BlockSums), entry(1, b.BlockBases)}
	case StageAddScannedSums:
		return []gputypes.BindGroupEntry{entry(0, b.Scanned), entry(1, b.BlockBases)}
	default:
		return nil
	}
}

// Init compiles the scan shaders and creates the compute pipelines. It is
// safe to call multiple times; later calls no-op once initialized.
func (d *Dispatcher) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}

	for i := Stage(0); i < stageCount; i++ {
		src := d.shaderSources[i]
		name := "scan_" + i.String()

		module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label:  name,
			Source: hal.ShaderSource{WGSL: src},
		})
		if err != nil {
			d.destroyPartialInit(i)
			return fmt.Errorf("scan compute: create shader module for %s: %w", i, err)
		}
		d.shaderModules[i] = module

		bgLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   name + "_bgl",
			Entries: bindGroupLayoutEntries(i),
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("scan compute: create bind group layout for %s: %w", i, err)
		}
		d.bgLayouts[i] = bgLayout

		pipelineLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label:            name + "_pl",
			BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("scan compute: create pipeline layout for %s: %w", i, err)
		}
		d.pipelineLayouts[i] = pipelineLayout

		pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:   name,
			Layout:  pipelineLayout,
			Compute: hal.ComputeState{Module: module, EntryPoint: "main"},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("scan compute: create compute pipeline for %s: %w", i, err)
		}
		d.pipelines[i] = pipeline

		slogger().Debug("scan compute: pipeline created", "stage", i.String())
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

// AllocateBuffers creates the GPU buffers needed to scan numElements
// uint32s. The caller owns the Values buffer; this allocates Scanned,
// BlockSums, and BlockBases.
func (d *Dispatcher) AllocateBuffers(values hal.Buffer, numElements uint32) (*Buffers, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.initialized {
		return nil, fmt.Errorf("scan compute: dispatcher not initialized, call Init() first")
	}

	numBlocks := (numElements + BlockSize - 1) / BlockSize
	if numBlocks == 0 {
		numBlocks = 1
	}

	b := &Buffers{Values: values, NumBlocks: numBlocks, NumElements: numElements}

	rw := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc

	var err error
	if b.Scanned, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "scan_scanned", Size: uint64(numElements) * 4, Usage: rw,
	}); err != nil {
		return nil, fmt.Errorf("scan compute: create scanned buffer: %w", err)
	}
	if b.BlockSums, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "scan_block_sums", Size: uint64(numBlocks) * 4, Usage: rw,
	}); err != nil {
		d.DestroyBuffers(b)
		return nil, fmt.Errorf("scan compute: create block sums buffer: %w", err)
	}
	if b.BlockBases, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "scan_block_bases", Size: uint64(numBlocks) * 4, Usage: rw,
	}); err != nil {
		d.DestroyBuffers(b)
		return nil, fmt.Errorf("scan compute: create block bases buffer: %w", err)
	}
	return b, nil
}

// DestroyBuffers releases the buffers allocated by AllocateBuffers (but not
// the caller-owned Values buffer).
func (d *Dispatcher) DestroyBuffers(b *Buffers) {
	if b == nil {
		return
	}
	if b.Scanned != nil {
		d.device.DestroyBuffer(b.Scanned)
	}
	if b.BlockSums != nil {
		d.device.DestroyBuffer(b.BlockSums)
	}
	if b.BlockBases != nil {
		d.device.DestroyBuffer(b.BlockBases)
	}
	*b = Buffers{}
}

// Dispatch runs the three-pass scan. Only a single level of block-sums
// scanning is dispatched on the GPU: callers processing more elements than
// BlockSize*BlockSize must pre-chunk, mirroring the recursion boundary in
// the CPU reference.
func (d *Dispatcher) Dispatch(b *Buffers) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.initialized {
		return fmt.Errorf("scan compute: dispatcher not initialized, call Init() first")
	}
	if b == nil {
		return fmt.Errorf("scan compute: buffers must not be nil")
	}

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "scan_compute"})
	if err != nil {
		return fmt.Errorf("scan compute: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("scan_compute"); err != nil {
		return fmt.Errorf("scan compute: begin encoding: %w", err)
	}

	var bindGroups []hal.BindGroup
	dispatchStage := func(stage Stage, workgroups uint32) error {
		bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:   "scan_" + stage.String() + "_bg",
			Layout:  d.bgLayouts[stage],
			Entries: bindGroupEntries(stage, b),
		})
		if err != nil {
			return fmt.Errorf("scan compute: create bind group for %s: %w", stage, err)
		}
		bindGroups = append(bindGroups, bg)

		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "scan_" + stage.String()})
		pass.SetPipeline(d.pipelines[stage])
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(workgroups, 1, 1)
		pass.End()
		return nil
	}

	if err := dispatchStage(StageScan, b.NumBlocks); err != nil {
		encoder.DiscardEncoding()
		return err
	}
	if err := dispatchStage(StageScanSums, 1); err != nil {
		encoder.DiscardEncoding()
		return err
	}
	if err := dispatchStage(StageAddScannedSums, b.NumBlocks); err != nil {
		encoder.DiscardEncoding()
		return err
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		for _, bg := range bindGroups {
			d.device.DestroyBindGroup(bg)
		}
		return fmt.Errorf("scan compute: end encoding: %w", err)
	}

	defer func() {
		d.device.FreeCommandBuffer(cmdBuf)
		for _, bg := range bindGroups {
			d.device.DestroyBindGroup(bg)
		}
	}()

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("scan compute: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("scan compute: submit: %w", err)
	}
	ok, err := d.device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("scan compute: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("scan compute: GPU timeout after %v", fenceTimeout)
	}

	slogger().Debug("scan compute: dispatch complete", "num_elements", b.NumElements, "num_blocks", b.NumBlocks)
	return nil
}
