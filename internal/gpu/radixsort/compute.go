// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package radixsort

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

//go:embed shaders/sort_count.wgsl
var shaderCount string

//go:embed shaders/sort_reduce.wgsl
var shaderReduce string

//go:embed shaders/sort_scan.wgsl
var shaderScan string

//go:embed shaders/sort_scan_add.wgsl
var shaderScanAdd string

//go:embed shaders/sort_scatter.wgsl
var shaderScatter string

const (
	wgSizeCount   = 256
	elemsPerThrd  = 4
	blockElements = wgSizeCount * elemsPerThrd
	fenceTimeout  = 5 * time.Second
)

// Stage identifies one of the five dispatches making up a single radix
// pass.
type Stage int

const (
	StageCount Stage = iota
	StageReduce
	StageScan
	StageScanAdd
	StageScatter
	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageCount:
		return "sort_count"
	case StageReduce:
		return "sort_reduce"
	case StageScan:
		return "sort_scan"
	case StageScanAdd:
		return "sort_scan_add"
	case StageScatter:
		return "sort_scatter"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Dispatcher drives the GPU implementation of the radix sort, running one
// full LSD pass (count, reduce, scan, scan_add, scatter) per 4 bits of
// sortingBits, ping-ponging the key/value buffers between passes.
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

// NewDispatcher creates a radix-sort dispatcher attached to the given
// device and queue. Init must be called before Dispatch.
func NewDispatcher(device hal.Device, queue hal.Queue) *Dispatcher {
	d := &Dispatcher{device: device, queue: queue}
	d.shaderSources = [stageCount]string{
		StageCount:   shaderCount,
		StageReduce:  shaderReduce,
		StageScan:    shaderScan,
		StageScanAdd: shaderScanAdd,
		StageScatter: shaderScatter,
	}
	return d
}

func bindGroupLayoutEntries(stage Stage) []gputypes.BindGroupLayoutEntry {
	uniformBuf := gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}
	ro := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		}
	}
	rw := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}

	switch stage {
	case StageCount:
		// uniforms, keys, block_hist
		return []gputypes.BindGroupLayoutEntry{uniformBuf, ro(1), rw(2)}
	case StageReduce:
		// uniforms, block_hist, bin_totals
		return []gputypes.BindGroupLayoutEntry{uniformBuf, ro(1), rw(2)}
	case StageScan:
		// uniforms, bin_totals, bin_base, block_hist
		return []gputypes.BindGroupLayoutEntry{uniformBuf, ro(1), rw(2), rw(3)}
	case StageScanAdd:
		// uniforms, block_hist, bin_base, block_offsets
		return []gputypes.BindGroupLayoutEntry{uniformBuf, ro(1), ro(2), rw(3)}
	case StageScatter:
		// uniforms, keys_in, values_in, block_offsets, keys_out, values_out
		return []gputypes.BindGroupLayoutEntry{uniformBuf, ro(1), ro(2), ro(3), rw(4), rw(5)}
	default:
		return nil
	}
}

// Init compiles the radix sort shaders and creates the compute pipelines.
func (d *Dispatcher) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}

	for i := Stage(0); i < stageCount; i++ {
		src := d.shaderSources[i]
		name := "radixsort_" + i.String()

		module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
			Label: name, Source: hal.ShaderSource{WGSL: src},
		})
		if err != nil {
			d.destroyPartialInit(i)
			return fmt.Errorf("radixsort compute: create shader module for %s: %w", i, err)
		}
		d.shaderModules[i] = module

		bgLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label: name + "_bgl", Entries: bindGroupLayoutEntries(i),
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("radixsort compute: create bind group layout for %s: %w", i, err)
		}
		d.bgLayouts[i] = bgLayout

		pipelineLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
			Label: name + "_pl", BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("radixsort compute: create pipeline layout for %s: %w", i, err)
		}
		d.pipelineLayouts[i] = pipelineLayout

		pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label: name, Layout: pipelineLayout,
			Compute: hal.ComputeState{Module: module, EntryPoint: "main"},
		})
		if err != nil {
			d.destroyPartialInit(i + 1)
			return fmt.Errorf("radixsort compute: create compute pipeline for %s: %w", i, err)
		}
		d.pipelines[i] = pipeline

		slogger().Debug("radixsort compute: pipeline created", "stage", i.String())
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

func uniformsBytes(fields ...uint32) []byte {
	buf := make([]byte, len(fields)*4)
	for i, v := range fields {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// Sort runs ceil(sortingBits/4) full radix passes over the given key/value
// GPU buffers and returns the buffer holding the final sorted keys and the
// buffer holding the correspondingly permuted values. The returned buffers
// are either keysIn/valuesIn themselves or a scratch pair Sort allocated;
// Sort frees the other scratch pair but never destroys keysIn or
// valuesIn, which remain the caller's to release.
func (d *Dispatcher) Sort(keysIn, valuesIn hal.Buffer, numKeys uint32, sortingBits int) (sortedKeys, sortedValues hal.Buffer, err error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.initialized {
		return nil, nil, fmt.Errorf("radixsort compute: dispatcher not initialized, call Init() first")
	}

	numBlocks := (numKeys + blockElements - 1) / blockElements
	if numBlocks == 0 {
		numBlocks = 1
	}
	numPasses := (sortingBits + DigitBits - 1) / DigitBits

	rw := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	uniformUsage := gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst

	keysB, err := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_keys_b", Size: uint64(numKeys) * 4, Usage: rw})
	if err != nil {
		return nil, nil, fmt.Errorf("radixsort compute: create keys_b buffer: %w", err)
	}
	valuesB, err := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_values_b", Size: uint64(numKeys) * 4, Usage: rw})
	if err != nil {
		return nil, nil, fmt.Errorf("radixsort compute: create values_b buffer: %w", err)
	}
	blockHist, err := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_block_hist", Size: uint64(numBlocks) * BinCount * 4, Usage: rw})
	if err != nil {
		return nil, nil, fmt.Errorf("radixsort compute: create block_hist buffer: %w", err)
	}
	binTotals, err := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_bin_totals", Size: BinCount * 4, Usage: rw})
	if err != nil {
		return nil, nil, fmt.Errorf("radixsort compute: create bin_totals buffer: %w", err)
	}
	binBase, err := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_bin_base", Size: BinCount * 4, Usage: rw})
	if err != nil {
		return nil, nil, fmt.Errorf("radixsort compute: create bin_base buffer: %w", err)
	}
	blockOffsets, err := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_block_offsets", Size: uint64(numBlocks) * BinCount * 4, Usage: rw})
	if err != nil {
		return nil, nil, fmt.Errorf("radixsort compute: create block_offsets buffer: %w", err)
	}

	curKeys, curVals := keysIn, valuesIn
	nextKeys, nextVals := keysB, valuesB

	for pass := 0; pass < numPasses; pass++ {
		shift := uint32(pass * DigitBits)

		uCount, uErr := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_u_count", Size: 8, Usage: uniformUsage})
		if uErr != nil {
			return nil, nil, fmt.Errorf("radixsort compute: create count uniforms: %w", uErr)
		}
		d.queue.WriteBuffer(uCount, 0, uniformsBytes(shift, numKeys))

		uReduce, uErr := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_u_reduce", Size: 4, Usage: uniformUsage})
		if uErr != nil {
			return nil, nil, fmt.Errorf("radixsort compute: create reduce uniforms: %w", uErr)
		}
		d.queue.WriteBuffer(uReduce, 0, uniformsBytes(numBlocks))

		uScan, uErr := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_u_scan", Size: 4, Usage: uniformUsage})
		if uErr != nil {
			return nil, nil, fmt.Errorf("radixsort compute: create scan uniforms: %w", uErr)
		}
		d.queue.WriteBuffer(uScan, 0, uniformsBytes(numBlocks))

		uScanAdd, uErr := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_u_scan_add", Size: 4, Usage: uniformUsage})
		if uErr != nil {
			return nil, nil, fmt.Errorf("radixsort compute: create scan_add uniforms: %w", uErr)
		}
		d.queue.WriteBuffer(uScanAdd, 0, uniformsBytes(numBlocks))

		uScatter, uErr := d.device.CreateBuffer(&hal.BufferDescriptor{Label: "radixsort_u_scatter", Size: 12, Usage: uniformUsage})
		if uErr != nil {
			return nil, nil, fmt.Errorf("radixsort compute: create scatter uniforms: %w", uErr)
		}
		d.queue.WriteBuffer(uScatter, 0, uniformsBytes(shift, numKeys, numBlocks))

		if err := d.dispatchPass(curKeys, curVals, nextKeys, nextVals,
			blockHist, binTotals, binBase, blockOffsets,
			uCount, uReduce, uScan, uScanAdd, uScatter, numBlocks); err != nil {
			return nil, nil, err
		}

		d.device.DestroyBuffer(uCount)
		d.device.DestroyBuffer(uReduce)
		d.device.DestroyBuffer(uScan)
		d.device.DestroyBuffer(uScanAdd)
		d.device.DestroyBuffer(uScatter)

		curKeys, nextKeys = nextKeys, curKeys
		curVals, nextVals = nextVals, curVals
	}

	d.device.DestroyBuffer(blockHist)
	d.device.DestroyBuffer(binTotals)
	d.device.DestroyBuffer(binBase)
	d.device.DestroyBuffer(blockOffsets)

	// curKeys/curVals hold the result of the last pass; the "next" pair
	// (the opposite of whichever buffer the caller originally supplied)
	// is now dead scratch and must be freed unless it is the caller's
	// own input buffer, which the caller remains responsible for.
	if nextKeys != keysIn {
		d.device.DestroyBuffer(nextKeys)
	}
	if nextVals != valuesIn {
		d.device.DestroyBuffer(nextVals)
	}

	return curKeys, curVals, nil
}

func (d *Dispatcher) dispatchPass(
	keysIn, valuesIn, keysOut, valuesOut hal.Buffer,
	blockHist, binTotals, binBase, blockOffsets hal.Buffer,
	uCount, uReduce, uScan, uScanAdd, uScatter hal.Buffer,
	numBlocks uint32,
) error {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "radixsort_pass"})
	if err != nil {
		return fmt.Errorf("radixsort compute: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("radixsort_pass"); err != nil {
		return fmt.Errorf("radixsort compute: begin encoding: %w", err)
	}

	entry := func(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{Binding: binding, Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle()}}
	}

	var bindGroups []hal.BindGroup
	runStage := func(stage Stage, workgroups uint32, entries []gputypes.BindGroupEntry) error {
		bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label: "radixsort_" + stage.String() + "_bg", Layout: d.bgLayouts[stage], Entries: entries,
		})
		if err != nil {
			return fmt.Errorf("radixsort compute: create bind group for %s: %w", stage, err)
		}
		bindGroups = append(bindGroups, bg)

		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "radixsort_" + stage.String()})
		pass.SetPipeline(d.pipelines[stage])
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(workgroups, 1, 1)
		pass.End()
		return nil
	}

	if err := runStage(StageCount, numBlocks, []gputypes.BindGroupEntry{
		entry(0, uCount), entry(1, keysIn), entry(2, blockHist),
	}); err != nil {
		encoder.DiscardEncoding()
		return err
	}
	if err := runStage(StageReduce, 1, []gputypes.BindGroupEntry{
		entry(0, uReduce), entry(1, blockHist), entry(2, binTotals),
	}); err != nil {
		encoder.DiscardEncoding()
		return err
	}
	if err := runStage(StageScan, numBlocks, []gputypes.BindGroupEntry{
		entry(0, uScan), entry(1, binTotals), entry(2, binBase), entry(3, blockHist),
	}); err != nil {
		encoder.DiscardEncoding()
		return err
	}
	if err := runStage(StageScanAdd, numBlocks, []gputypes.BindGroupEntry{
		entry(0, uScanAdd), entry(1, blockHist), entry(2, binBase), entry(3, blockOffsets),
	}); err != nil {
		encoder.DiscardEncoding()
		return err
	}
	if err := runStage(StageScatter, numBlocks, []gputypes.BindGroupEntry{
		entry(0, uScatter), entry(1, keysIn), entry(2, valuesIn), entry(3, blockOffsets),
		entry(4, keysOut), entry(5, valuesOut),
	}); err != nil {
		encoder.DiscardEncoding()
		return err
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		for _, bg := range bindGroups {
			d.device.DestroyBindGroup(bg)
		}
		return fmt.Errorf("radixsort compute: end encoding: %w", err)
	}
	defer func() {
		d.device.FreeCommandBuffer(cmdBuf)
		for _, bg := range bindGroups {
			d.device.DestroyBindGroup(bg)
		}
	}()

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("radixsort compute: create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("radixsort compute: submit: %w", err)
	}
	ok, err := d.device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("radixsort compute: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("radixsort compute: GPU timeout after %v", fenceTimeout)
	}
	return nil
}
