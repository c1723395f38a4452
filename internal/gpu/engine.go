// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"math"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/mesh3d/internal/metrics"
	"github.com/gogpu/mesh3d/internal/viewshed"
	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

// waitTimeout bounds the blocking fence waits of ComputeAll and Close.
const waitTimeout = 5 * time.Second

// viewshedParams mirrors the Params uniform of the viewshed shaders.
type viewshedParams struct {
	GridCols, GridRows   int32
	NodeCol, NodeRow     int32
	RowStart, RowEnd     int32
	MaxRangeCells        int32
	Climate              int32
	ObserverH            float32
	TxPowerDbm           float32
	AntennaGainDbi       float32
	FreqMHz              float32
	CableLossDb          float32
	RxSensitivityDbm     float32
	CellM                float32
	EarthCurve           float32
	RxGainDbi            float32
	RxCableLossDb        float32
	TargetH              float32
	AntennaH             float32
	GroundDielectric     float32
	GroundConductivity   float32
	Polarization, Pad0   int32
}

// mergeParams mirrors MergeParams of merge.wgsl.
type mergeParams struct {
	GridCols, GridRows uint32
	Pad0, Pad1         uint32
}

type pipeline struct {
	shader hal.ShaderModule
	pipe   hal.ComputePipeline
}

// submission is one command buffer in flight with its fence.
type submission struct {
	fence hal.Fence
	cmd   hal.CommandBuffer
}

// gridBuffers are the storage buffers sized to the current grid.
type gridBuffers struct {
	elevation  hal.Buffer
	scratchVis hal.Buffer
	scratchSig hal.Buffer
	mergedVis  hal.Buffer
	mergedSig  hal.Buffer
	overlap    hal.Buffer

	stagingVis     hal.Buffer
	stagingSig     hal.Buffer
	stagingOverlap hal.Buffer

	viewshedBind hal.BindGroup
	mergeBind    hal.BindGroup
}

// Engine evaluates coverage with compute shaders. Work is split into
// 128-row bands per node followed by one merge pass per node; at most one
// fence is outstanding and PollState tests it without blocking.
//
// Engine is not safe for concurrent use. It belongs to the goroutine that
// owns the device.
type Engine struct {
	dev  *Device
	fsys fs.FS

	model rf.PropagationModel
	cfg   rf.Config
	itm   rf.ITMParams

	viewshedLayout     hal.BindGroupLayout
	viewshedPipeLayout hal.PipelineLayout
	mergeLayout        hal.BindGroupLayout
	mergePipeLayout    hal.PipelineLayout
	kernels            [3]*pipeline
	merge              *pipeline

	params    hal.Buffer
	mergeUBuf hal.Buffer

	rows, cols int
	bounds     tile.Bounds
	env        viewshed.Env
	cpuElev    []float32
	bufs       *gridBuffers
	zeros      []byte
	noSignal   []byte

	state   viewshed.State
	planner *viewshed.Planner
	setups  []viewshed.NodeSetup
	current *submission
	retired []*submission
	started time.Time
}

// NewEngine builds the pipelines from fsys (nil selects the embedded
// shaders). The FSPL and merge shaders are required; ITM and Fresnel are
// dropped with a warning when missing or rejected by the device.
func NewEngine(dev *Device, fsys fs.FS) (*Engine, error) {
	if !dev.Available() {
		return nil, ErrNoDevice
	}
	if fsys == nil {
		fsys = Shaders()
	}
	e := &Engine{
		dev:  dev,
		fsys: fsys,
		cfg:  rf.DefaultConfig(),
		itm:  rf.DefaultITMParams(),
	}
	if err := e.createPipelines(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Name identifies the engine in logs and metrics.
func (e *Engine) Name() string { return "gpu" }

// Available reports whether the kernel for m was built.
func (e *Engine) Available(m rf.PropagationModel) bool {
	return m >= 0 && int(m) < len(e.kernels) && e.kernels[m] != nil
}

// SetPropagationModel selects the path-loss kernel. An unavailable kernel
// leaves the current model in place.
func (e *Engine) SetPropagationModel(m rf.PropagationModel) {
	if !e.Available(m) {
		slogger().Warn("gpu: propagation model unavailable, keeping current",
			"requested", m, "current", e.model)
		return
	}
	e.model = m
	slogger().Info("gpu: propagation model", "model", m)
}

// PropagationModel returns the active model.
func (e *Engine) PropagationModel() rf.PropagationModel { return e.model }

// SetITMParams replaces the ITM parameters.
func (e *Engine) SetITMParams(p rf.ITMParams) {
	e.itm = p.Validate()
	e.rebuildEnv()
}

// SetRFConfig replaces the receiver configuration.
func (e *Engine) SetRFConfig(cfg rf.Config) {
	e.cfg = cfg
	e.rebuildEnv()
}

func (e *Engine) rebuildEnv() {
	if e.rows == 0 {
		return
	}
	e.env = viewshed.NewEnv(e.bounds, e.rows, e.cols, e.cfg, e.itm)
}

func (e *Engine) createPipelines() error {
	device := e.dev.device
	storage := func(binding uint32, readOnly bool) gputypes.BindGroupLayoutEntry {
		t := gputypes.BufferBindingTypeStorage
		if readOnly {
			t = gputypes.BufferBindingTypeReadOnlyStorage
		}
		return gputypes.BindGroupLayoutEntry{Binding: binding, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: t}}
	}
	uniform := gputypes.BindGroupLayoutEntry{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}}

	var err error
	e.viewshedLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "viewshed_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{uniform, storage(1, true), storage(2, false), storage(3, false)},
	})
	if err != nil {
		return fmt.Errorf("gpu: create viewshed bind group layout: %w", err)
	}
	e.viewshedPipeLayout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "viewshed_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{e.viewshedLayout},
	})
	if err != nil {
		return fmt.Errorf("gpu: create viewshed pipeline layout: %w", err)
	}
	e.mergeLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "merge_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			uniform, storage(1, true), storage(2, true), storage(3, false), storage(4, false), storage(5, false),
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: create merge bind group layout: %w", err)
	}
	e.mergePipeLayout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "merge_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{e.mergeLayout},
	})
	if err != nil {
		return fmt.Errorf("gpu: create merge pipeline layout: %w", err)
	}

	if e.kernels[rf.ModelFSPL], err = e.buildPipeline(ShaderFSPL, e.viewshedPipeLayout); err != nil {
		return err
	}
	if e.merge, err = e.buildPipeline(ShaderMerge, e.mergePipeLayout); err != nil {
		return err
	}
	for _, m := range []rf.PropagationModel{rf.ModelITM, rf.ModelFresnel} {
		p, err := e.buildPipeline(ModelShader(m), e.viewshedPipeLayout)
		if err != nil {
			slogger().Warn("gpu: optional kernel unavailable", "model", m, "err", err)
			continue
		}
		e.kernels[m] = p
	}

	e.params, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: "viewshed_params", Size: uint64(binary.Size(viewshedParams{})),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create params buffer: %w", err)
	}
	e.mergeUBuf, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: "merge_params", Size: uint64(binary.Size(mergeParams{})),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create merge params buffer: %w", err)
	}
	return nil
}

func (e *Engine) buildPipeline(name string, layout hal.PipelineLayout) (*pipeline, error) {
	src, err := LoadShader(e.fsys, name)
	if err != nil {
		return nil, err
	}
	shader, err := e.dev.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  name,
		Source: hal.ShaderSource{WGSL: src},
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: compile %s: %w", name, err)
	}
	pipe, err := e.dev.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: name, Layout: layout,
		Compute: hal.ComputeState{Module: shader, EntryPoint: "main"},
	})
	if err != nil {
		e.dev.device.DestroyShaderModule(shader)
		return nil, fmt.Errorf("gpu: create pipeline %s: %w", name, err)
	}
	return &pipeline{shader: shader, pipe: pipe}, nil
}

// UploadElevation copies the grid to the device and keeps a CPU copy for
// observer heights. Buffers are reallocated when the size changes. Work
// still in flight is waited for first and its result discarded.
func (e *Engine) UploadElevation(elev []float32, rows, cols int) {
	if rows < 2 || cols < 2 || len(elev) < rows*cols {
		slogger().Debug("gpu: ignoring degenerate elevation", "rows", rows, "cols", cols)
		return
	}
	if e.current != nil || len(e.retired) > 0 {
		e.drain()
		e.state = viewshed.Idle
		e.planner = nil
	}
	if e.bufs == nil || rows != e.rows || cols != e.cols {
		e.destroyGrid()
		bufs, err := e.createGrid(rows, cols)
		if err != nil {
			slogger().Error("gpu: allocate grid buffers", "rows", rows, "cols", cols, "err", err)
			e.rows, e.cols = 0, 0
			return
		}
		e.bufs = bufs
		e.rows, e.cols = rows, cols
		n := rows * cols
		e.zeros = make([]byte, n*4)
		e.noSignal = make([]byte, n*4)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(e.noSignal[i*4:], math.Float32bits(viewshed.NoSignal))
		}
		mp, _ := binary.Append(nil, binary.LittleEndian, &mergeParams{GridCols: uint32(cols), GridRows: uint32(rows)}) //nolint:gosec // grid sizes fit uint32
		e.dev.queue.WriteBuffer(e.mergeUBuf, 0, mp)
	}
	e.cpuElev = append(e.cpuElev[:0], elev[:rows*cols]...)
	data := make([]byte, rows*cols*4)
	for i, v := range e.cpuElev {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	e.dev.queue.WriteBuffer(e.bufs.elevation, 0, data)
	e.rebuildEnv()
}

// SetGridParams sets the geographic extent of the uploaded grid.
func (e *Engine) SetGridParams(b tile.Bounds, rows, cols int) {
	if rows != e.rows || cols != e.cols {
		slogger().Debug("gpu: grid params do not match upload", "rows", rows, "cols", cols)
	}
	e.bounds = b
	e.rebuildEnv()
}

func (e *Engine) createGrid(rows, cols int) (*gridBuffers, error) {
	device := e.dev.device
	size := uint64(rows * cols * 4) //nolint:gosec // grid sizes are positive
	b := &gridBuffers{}
	specs := []struct {
		dst   *hal.Buffer
		label string
		usage gputypes.BufferUsage
	}{
		{&b.elevation, "viewshed_elevation", gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst},
		{&b.scratchVis, "viewshed_scratch_vis", gputypes.BufferUsageStorage},
		{&b.scratchSig, "viewshed_scratch_sig", gputypes.BufferUsageStorage},
		{&b.mergedVis, "viewshed_merged_vis", gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst},
		{&b.mergedSig, "viewshed_merged_sig", gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst},
		{&b.overlap, "viewshed_overlap", gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst},
		{&b.stagingVis, "viewshed_staging_vis", gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst},
		{&b.stagingSig, "viewshed_staging_sig", gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst},
		{&b.stagingOverlap, "viewshed_staging_overlap", gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst},
	}
	for _, s := range specs {
		buf, err := device.CreateBuffer(&hal.BufferDescriptor{Label: s.label, Size: size, Usage: s.usage})
		if err != nil {
			e.destroyBuffers(b)
			return nil, fmt.Errorf("create %s: %w", s.label, err)
		}
		*s.dst = buf
	}

	bind := func(binding uint32, buf hal.Buffer, size uint64) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{Binding: binding, Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: 0, Size: size}}
	}
	var err error
	b.viewshedBind, err = device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "viewshed_bind", Layout: e.viewshedLayout,
		Entries: []gputypes.BindGroupEntry{
			bind(0, e.params, uint64(binary.Size(viewshedParams{}))),
			bind(1, b.elevation, size),
			bind(2, b.scratchVis, size),
			bind(3, b.scratchSig, size),
		},
	})
	if err != nil {
		e.destroyBuffers(b)
		return nil, fmt.Errorf("create viewshed bind group: %w", err)
	}
	b.mergeBind, err = device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "merge_bind", Layout: e.mergeLayout,
		Entries: []gputypes.BindGroupEntry{
			bind(0, e.mergeUBuf, uint64(binary.Size(mergeParams{}))),
			bind(1, b.scratchVis, size),
			bind(2, b.scratchSig, size),
			bind(3, b.mergedVis, size),
			bind(4, b.mergedSig, size),
			bind(5, b.overlap, size),
		},
	})
	if err != nil {
		e.destroyBuffers(b)
		return nil, fmt.Errorf("create merge bind group: %w", err)
	}
	return b, nil
}

func (e *Engine) ready() bool {
	return e.bufs != nil && e.cpuElev != nil && e.env.Valid()
}

func (e *Engine) clearAccumulators() {
	q := e.dev.queue
	q.WriteBuffer(e.bufs.mergedVis, 0, e.zeros)
	q.WriteBuffer(e.bufs.overlap, 0, e.zeros)
	q.WriteBuffer(e.bufs.mergedSig, 0, e.noSignal)
}

func (e *Engine) writeParams(s viewshed.NodeSetup, rowStart, rowEnd int) {
	n := s.Node
	p := viewshedParams{
		GridCols: int32(e.cols), GridRows: int32(e.rows), //nolint:gosec // grid sizes fit int32
		NodeCol: int32(s.Col), NodeRow: int32(s.Row), //nolint:gosec // cell indices fit int32
		RowStart: int32(rowStart), RowEnd: int32(rowEnd), //nolint:gosec // row indices fit int32
		MaxRangeCells:      int32(s.MaxRangeCells), //nolint:gosec // bounded by range / cell size
		Climate:            int32(e.env.ITM.Climate), //nolint:gosec // 1..7
		ObserverH:          float32(s.ObserverH),
		TxPowerDbm:         float32(n.TxPowerDbm),
		AntennaGainDbi:     float32(n.AntennaGainDbi),
		FreqMHz:            float32(n.FrequencyMHz),
		CableLossDb:        float32(n.CableLossDb),
		RxSensitivityDbm:   float32(n.RxSensitivityDbm),
		CellM:              float32(e.env.CellM),
		EarthCurve:         float32(viewshed.EarthCurveFactor),
		RxGainDbi:          float32(e.env.RxGainDbi),
		RxCableLossDb:      float32(e.env.RxCableLossDb),
		TargetH:            float32(e.env.TargetHeightM),
		AntennaH:           float32(n.AntennaHeightM),
		GroundDielectric:   float32(e.env.ITM.GroundDielectric),
		GroundConductivity: float32(e.env.ITM.GroundConductivity),
		Polarization:       int32(e.env.ITM.Polarization), //nolint:gosec // 0 or 1
	}
	b, err := binary.Append(nil, binary.LittleEndian, &p)
	if err != nil {
		slogger().Error("gpu: encode params", "err", err)
		return
	}
	e.dev.queue.WriteBuffer(e.params, 0, b)
}

// chunkKind selects what one command buffer records.
type chunkKind int

const (
	chunkBand chunkKind = iota
	chunkMerge
	chunkNode // band over the whole grid followed by the merge
	chunkCopy // staging copy only
)

// encode records one chunk. final appends the copy of the accumulators
// into the staging buffers.
func (e *Engine) encode(kind chunkKind, rows int, final bool) (hal.CommandBuffer, error) {
	encoder, err := e.dev.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "viewshed_encoder"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("viewshed"); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	if kind == chunkBand || kind == chunkNode {
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "viewshed_pass"})
		pass.SetPipeline(e.kernels[e.model].pipe)
		pass.SetBindGroup(0, e.bufs.viewshedBind, nil)
		pass.Dispatch(viewshed.Groups(e.cols), viewshed.Groups(rows), 1)
		pass.End()
	}
	if kind == chunkMerge || kind == chunkNode {
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "merge_pass"})
		pass.SetPipeline(e.merge.pipe)
		pass.SetBindGroup(0, e.bufs.mergeBind, nil)
		pass.Dispatch(viewshed.Groups(e.cols), viewshed.Groups(e.rows), 1)
		pass.End()
	}
	if final {
		size := uint64(e.rows * e.cols * 4) //nolint:gosec // grid sizes are positive
		region := []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: size}}
		encoder.CopyBufferToBuffer(e.bufs.mergedVis, e.bufs.stagingVis, region)
		encoder.CopyBufferToBuffer(e.bufs.mergedSig, e.bufs.stagingSig, region)
		encoder.CopyBufferToBuffer(e.bufs.overlap, e.bufs.stagingOverlap, region)
	}
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	return cmd, nil
}

func (e *Engine) submit(cmd hal.CommandBuffer) (*submission, error) {
	fence, err := e.dev.device.CreateFence()
	if err != nil {
		e.dev.device.FreeCommandBuffer(cmd)
		return nil, fmt.Errorf("create fence: %w", err)
	}
	if err := e.dev.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1); err != nil {
		e.dev.device.DestroyFence(fence)
		e.dev.device.FreeCommandBuffer(cmd)
		return nil, fmt.Errorf("submit: %w", err)
	}
	metrics.ViewshedChunks.WithLabelValues(e.Name()).Inc()
	return &submission{fence: fence, cmd: cmd}, nil
}

func (e *Engine) release(s *submission) {
	e.dev.device.DestroyFence(s.fence)
	e.dev.device.FreeCommandBuffer(s.cmd)
}

// ComputeAll computes every node and blocks until the accumulators are in
// the staging buffers. Any asynchronous computation is abandoned.
func (e *Engine) ComputeAll(nodes []rf.Node) error {
	if !e.ready() {
		slogger().Debug("gpu: compute before elevation upload")
		return nil
	}
	start := time.Now()
	e.drain()
	e.state = viewshed.Idle
	e.planner = nil
	e.clearAccumulators()

	setups := viewshed.SetupAll(nodes, e.env, e.cpuElev)
	if len(setups) == 0 {
		if err := e.runBlocking(chunkCopy, true); err != nil {
			return err
		}
	}
	for i, s := range setups {
		e.writeParams(s, 0, e.rows)
		if err := e.runBlocking(chunkNode, i == len(setups)-1); err != nil {
			return fmt.Errorf("gpu: node %d: %w", i, err)
		}
	}
	metrics.ViewshedDurationMs.WithLabelValues(e.Name()).Observe(float64(time.Since(start).Milliseconds()))
	return nil
}

func (e *Engine) runBlocking(kind chunkKind, final bool) error {
	cmd, err := e.encode(kind, e.rows, final)
	if err != nil {
		return err
	}
	sub, err := e.submit(cmd)
	if err != nil {
		return err
	}
	defer e.release(sub)
	ok, err := e.dev.device.Wait(sub.fence, 1, waitTimeout)
	if err != nil || !ok {
		return fmt.Errorf("wait for GPU: ok=%v err=%w", ok, err)
	}
	return nil
}

// ComputeAllAsync starts a chunked computation and returns immediately.
// cpuElev supplies ground heights under the nodes and defaults to the
// uploaded grid. Dispatch before UploadElevation does nothing.
func (e *Engine) ComputeAllAsync(nodes []rf.Node, cpuElev []float32) {
	if !e.ready() {
		slogger().Debug("gpu: async compute before elevation upload")
		return
	}
	if cpuElev == nil {
		cpuElev = e.cpuElev
	}
	e.drain()
	e.clearAccumulators()
	e.setups = viewshed.SetupAll(nodes, e.env, cpuElev)
	e.planner = viewshed.NewPlanner(len(e.setups), e.rows)
	e.started = time.Now()
	if err := e.submitNext(); err != nil {
		slogger().Error("gpu: dispatch", "err", err)
		e.state = viewshed.Idle
		e.planner = nil
		return
	}
	e.state = viewshed.Dispatched
}

// submitNext submits the planner's current chunk and advances past it.
// With nothing left to plan it submits the staging copy.
func (e *Engine) submitNext() error {
	kind, rows := chunkCopy, e.rows
	if !e.planner.Done() {
		c := e.planner.Current()
		if c.Merge {
			kind = chunkMerge
		} else {
			kind, rows = chunkBand, c.RowEnd-c.RowStart
			e.writeParams(e.setups[c.Node], c.RowStart, c.RowEnd)
		}
		e.planner.Advance()
	}
	cmd, err := e.encode(kind, rows, e.planner.Done())
	if err != nil {
		return err
	}
	sub, err := e.submit(cmd)
	if err != nil {
		return err
	}
	e.current = sub
	return nil
}

// State returns the asynchronous state without touching the fence.
func (e *Engine) State() viewshed.State { return e.state }

// PollState tests the outstanding fence without blocking. Once it has
// signalled the next chunk is submitted, or the state becomes Ready after
// the last one.
func (e *Engine) PollState() viewshed.State {
	e.reapRetired()
	if e.state != viewshed.Dispatched || e.current == nil {
		return e.state
	}
	ok, err := e.dev.device.Wait(e.current.fence, 1, 0)
	if err != nil {
		slogger().Error("gpu: fence wait", "err", err)
		e.retireCurrent()
		e.state = viewshed.Idle
		e.planner = nil
		return e.state
	}
	if !ok {
		return e.state
	}
	e.release(e.current)
	e.current = nil
	if e.planner.Done() {
		e.state = viewshed.Ready
		e.planner = nil
		metrics.ViewshedDurationMs.WithLabelValues(e.Name()).Observe(float64(time.Since(e.started).Milliseconds()))
		return e.state
	}
	if err := e.submitNext(); err != nil {
		slogger().Error("gpu: dispatch", "err", err)
		e.state = viewshed.Idle
		e.planner = nil
	}
	return e.state
}

// retireCurrent parks the outstanding submission until its fence signals.
func (e *Engine) retireCurrent() {
	if e.current != nil {
		e.retired = append(e.retired, e.current)
		e.current = nil
	}
}

// drain blocks until every submission in flight has finished and releases
// it. Buffers may be rewritten or destroyed afterwards.
func (e *Engine) drain() {
	e.retireCurrent()
	for _, s := range e.retired {
		if ok, err := e.dev.device.Wait(s.fence, 1, waitTimeout); err != nil || !ok {
			slogger().Warn("gpu: wait for retired work", "ok", ok, "err", err)
		}
		e.release(s)
	}
	clear(e.retired)
	e.retired = e.retired[:0]
}

func (e *Engine) reapRetired() {
	kept := e.retired[:0]
	for _, s := range e.retired {
		if ok, err := e.dev.device.Wait(s.fence, 1, 0); ok || err != nil {
			e.release(s)
			continue
		}
		kept = append(kept, s)
	}
	clear(e.retired[len(kept):])
	e.retired = kept
}

// ReadBack copies the staged accumulators to the host, converting the
// per-cell u32 counters to bytes. It returns nil before any upload.
func (e *Engine) ReadBack() *viewshed.Result {
	if e.bufs == nil {
		return nil
	}
	n := e.rows * e.cols
	raw := make([]byte, n*4)
	r := &viewshed.Result{Rows: e.rows, Cols: e.cols}

	if err := e.dev.queue.ReadBuffer(e.bufs.stagingVis, 0, raw); err != nil {
		slogger().Error("gpu: read visibility", "err", err)
		return nil
	}
	r.Visibility = make([]uint8, n)
	for i := range r.Visibility {
		if binary.LittleEndian.Uint32(raw[i*4:]) != 0 {
			r.Visibility[i] = 1
		}
	}
	if err := e.dev.queue.ReadBuffer(e.bufs.stagingOverlap, 0, raw); err != nil {
		slogger().Error("gpu: read overlap", "err", err)
		return nil
	}
	r.Overlap = make([]uint8, n)
	for i := range r.Overlap {
		r.Overlap[i] = uint8(min(binary.LittleEndian.Uint32(raw[i*4:]), 255)) //nolint:gosec // clamped
	}
	if err := e.dev.queue.ReadBuffer(e.bufs.stagingSig, 0, raw); err != nil {
		slogger().Error("gpu: read signal", "err", err)
		return nil
	}
	r.Signal = make([]float32, n)
	for i := range r.Signal {
		r.Signal[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return r
}

// ReadBackAsync reads the result and returns the engine to Idle.
func (e *Engine) ReadBackAsync() *viewshed.Result {
	r := e.ReadBack()
	e.state = viewshed.Idle
	return r
}

// Close waits for outstanding work and releases every GPU object. The
// device itself is left to its owner.
func (e *Engine) Close() {
	if e.dev == nil || !e.dev.Available() {
		return
	}
	e.drain()
	e.destroyGrid()

	device := e.dev.device
	for _, b := range []hal.Buffer{e.params, e.mergeUBuf} {
		if b != nil {
			device.DestroyBuffer(b)
		}
	}
	e.params, e.mergeUBuf = nil, nil
	destroy := func(p *pipeline) {
		if p != nil {
			device.DestroyComputePipeline(p.pipe)
			device.DestroyShaderModule(p.shader)
		}
	}
	for i, p := range e.kernels {
		destroy(p)
		e.kernels[i] = nil
	}
	destroy(e.merge)
	e.merge = nil
	if e.viewshedPipeLayout != nil {
		device.DestroyPipelineLayout(e.viewshedPipeLayout)
		e.viewshedPipeLayout = nil
	}
	if e.mergePipeLayout != nil {
		device.DestroyPipelineLayout(e.mergePipeLayout)
		e.mergePipeLayout = nil
	}
	if e.viewshedLayout != nil {
		device.DestroyBindGroupLayout(e.viewshedLayout)
		e.viewshedLayout = nil
	}
	if e.mergeLayout != nil {
		device.DestroyBindGroupLayout(e.mergeLayout)
		e.mergeLayout = nil
	}
	e.state = viewshed.Idle
}

func (e *Engine) destroyGrid() {
	if e.bufs == nil {
		return
	}
	e.destroyBuffers(e.bufs)
	e.bufs = nil
}

func (e *Engine) destroyBuffers(b *gridBuffers) {
	device := e.dev.device
	if b.viewshedBind != nil {
		device.DestroyBindGroup(b.viewshedBind)
	}
	if b.mergeBind != nil {
		device.DestroyBindGroup(b.mergeBind)
	}
	for _, buf := range []hal.Buffer{
		b.elevation, b.scratchVis, b.scratchSig, b.mergedVis, b.mergedSig, b.overlap,
		b.stagingVis, b.stagingSig, b.stagingOverlap,
	} {
		if buf != nil {
			device.DestroyBuffer(buf)
		}
	}
}
