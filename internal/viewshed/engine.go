package viewshed

import (
	"time"

	"github.com/gogpu/mesh3d/internal/logging"
	"github.com/gogpu/mesh3d/internal/metrics"
	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

// CPUEngine runs propagation on the calling goroutine. Its asynchronous
// surface executes one chunk per PollState call, so a caller polling once
// per frame sees the same Idle, Dispatched, Ready sequence a GPU engine
// produces.
type CPUEngine struct {
	model rf.PropagationModel
	cfg   rf.Config
	itm   rf.ITMParams

	elev       []float32
	rows, cols int
	bounds     tile.Bounds
	env        Env

	state   State
	planner *Planner
	setups  []NodeSetup
	scratch struct {
		vis []uint8
		sig []float32
	}
	result  *Result
	started time.Time
}

// NewCPUEngine returns an engine using the FSPL model.
func NewCPUEngine() *CPUEngine {
	return &CPUEngine{cfg: rf.DefaultConfig(), itm: rf.DefaultITMParams()}
}

// Name identifies the engine in logs and metrics.
func (e *CPUEngine) Name() string { return "cpu" }

// SetPropagationModel selects the path-loss model. Every model is
// available on the CPU.
func (e *CPUEngine) SetPropagationModel(m rf.PropagationModel) {
	e.model = m
	logging.L().Info("viewshed: propagation model", "engine", e.Name(), "model", m)
}

// PropagationModel returns the active model.
func (e *CPUEngine) PropagationModel() rf.PropagationModel { return e.model }

// SetITMParams replaces the ITM parameters.
func (e *CPUEngine) SetITMParams(p rf.ITMParams) {
	e.itm = p.Validate()
	e.rebuildEnv()
}

// SetRFConfig replaces the receiver configuration.
func (e *CPUEngine) SetRFConfig(cfg rf.Config) {
	e.cfg = cfg
	e.rebuildEnv()
}

// UploadElevation installs the grid to compute on. The slice is retained.
func (e *CPUEngine) UploadElevation(elev []float32, rows, cols int) {
	if rows < 2 || cols < 2 || len(elev) < rows*cols {
		logging.L().Debug("viewshed: ignoring degenerate elevation", "rows", rows, "cols", cols)
		return
	}
	e.elev = elev
	if rows != e.rows || cols != e.cols {
		e.rows, e.cols = rows, cols
		e.scratch.vis = make([]uint8, rows*cols)
		e.scratch.sig = make([]float32, rows*cols)
		e.result = NewResult(rows, cols)
	}
	e.rebuildEnv()
}

// SetGridParams sets the geographic extent of the uploaded grid. The
// dimensions must match the last upload.
func (e *CPUEngine) SetGridParams(b tile.Bounds, rows, cols int) {
	if rows != e.rows || cols != e.cols {
		logging.L().Debug("viewshed: grid params do not match upload", "rows", rows, "cols", cols)
	}
	e.bounds = b
	e.rebuildEnv()
}

func (e *CPUEngine) rebuildEnv() {
	if e.rows == 0 {
		return
	}
	e.env = NewEnv(e.bounds, e.rows, e.cols, e.cfg, e.itm)
}

func (e *CPUEngine) ready() bool { return e.elev != nil && e.env.Valid() }

// ComputeAll computes every node to completion. Any asynchronous
// computation in progress is abandoned.
func (e *CPUEngine) ComputeAll(nodes []rf.Node) {
	if !e.ready() {
		logging.L().Debug("viewshed: compute before elevation upload")
		return
	}
	start := time.Now()
	e.state = Idle
	e.planner = nil
	e.result.Reset()
	for _, s := range SetupAll(nodes, e.env, e.elev) {
		ComputeRows(e.elev, e.env, s, e.model, e.scratch.vis, e.scratch.sig, 0, e.rows)
		e.result.Merge(e.scratch.vis, e.scratch.sig)
	}
	metrics.ViewshedDurationMs.WithLabelValues(e.Name()).Observe(float64(time.Since(start).Milliseconds()))
}

// ComputeAllAsync starts a chunked computation. cpuElev supplies ground
// heights under the nodes and defaults to the uploaded grid.
func (e *CPUEngine) ComputeAllAsync(nodes []rf.Node, cpuElev []float32) {
	if !e.ready() {
		logging.L().Debug("viewshed: async compute before elevation upload")
		return
	}
	if cpuElev == nil {
		cpuElev = e.elev
	}
	e.result.Reset()
	e.setups = SetupAll(nodes, e.env, cpuElev)
	e.planner = NewPlanner(len(e.setups), e.rows)
	e.started = time.Now()
	if e.planner.Done() {
		e.state = Ready
		return
	}
	e.state = Dispatched
}

// State returns the asynchronous state without advancing it.
func (e *CPUEngine) State() State { return e.state }

// PollState runs the pending chunk and returns the new state.
func (e *CPUEngine) PollState() State {
	if e.state != Dispatched || e.planner == nil {
		return e.state
	}
	c := e.planner.Current()
	s := e.setups[c.Node]
	if c.Merge {
		e.result.Merge(e.scratch.vis, e.scratch.sig)
	} else {
		ComputeRows(e.elev, e.env, s, e.model, e.scratch.vis, e.scratch.sig, c.RowStart, c.RowEnd)
	}
	metrics.ViewshedChunks.WithLabelValues(e.Name()).Inc()
	if !e.planner.Advance() {
		e.state = Ready
		e.planner = nil
		metrics.ViewshedDurationMs.WithLabelValues(e.Name()).Observe(float64(time.Since(e.started).Milliseconds()))
	}
	return e.state
}

// ReadBack returns a copy of the merged result, or nil before any upload.
func (e *CPUEngine) ReadBack() *Result {
	if e.result == nil {
		return nil
	}
	return e.result.Clone()
}

// ReadBackAsync returns the merged result and resets the engine to Idle.
func (e *CPUEngine) ReadBackAsync() *Result {
	r := e.ReadBack()
	e.state = Idle
	return r
}

// Close releases nothing; it exists to match the GPU engine.
func (e *CPUEngine) Close() {}
