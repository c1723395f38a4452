// Package orchestrator drives a propagation engine across the resident
// tiles one composite at a time, so the render loop only ever polls.
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/gogpu/mesh3d/internal/composite"
	"github.com/gogpu/mesh3d/internal/gpu"
	"github.com/gogpu/mesh3d/internal/logging"
	"github.com/gogpu/mesh3d/internal/manager"
	"github.com/gogpu/mesh3d/internal/metrics"
	"github.com/gogpu/mesh3d/internal/tilecache"
	"github.com/gogpu/mesh3d/internal/viewshed"
	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

// Engine is the asynchronous propagation surface shared by the GPU engine
// and viewshed.CPUEngine.
type Engine interface {
	Name() string
	SetPropagationModel(m rf.PropagationModel)
	PropagationModel() rf.PropagationModel
	SetITMParams(p rf.ITMParams)
	SetRFConfig(cfg rf.Config)
	UploadElevation(elev []float32, rows, cols int)
	SetGridParams(b tile.Bounds, rows, cols int)
	ComputeAllAsync(nodes []rf.Node, cpuElev []float32)
	State() viewshed.State
	PollState() viewshed.State
	ReadBackAsync() *viewshed.Result
	Close()
}

var (
	_ Engine = (*viewshed.CPUEngine)(nil)
	_ Engine = (*gpu.Engine)(nil)
)

// Cache is the tile cache the orchestrator reads elevation from and writes
// overlays to.
type Cache = tilecache.Cache[*manager.Renderable]

// State is the orchestrator state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Orchestrator computes coverage tile by tile. Each tile is computed on a
// composite with its resident neighbours and only its own cells are kept.
type Orchestrator struct {
	state   State
	tiles   []tile.Coord
	metas   []composite.Meta
	current int
	started time.Time
}

// New returns an idle orchestrator.
func New() *Orchestrator { return &Orchestrator{} }

// State returns the current state.
func (o *Orchestrator) State() State { return o.state }

// Busy reports whether a recompute is in progress.
func (o *Orchestrator) Busy() bool { return o.state == Running }

// Progress returns the index of the tile in flight and the tile count.
func (o *Orchestrator) Progress() (current, total int) { return o.current, len(o.tiles) }

// Kick starts a recompute for nodes over every resident tile with
// elevation. Existing overlays are destroyed first so tiles render
// without coverage until their new result arrives. A recompute already
// running is abandoned.
func (o *Orchestrator) Kick(nodes []rf.Node, cache *Cache, e Engine) {
	if e == nil || cache == nil {
		return
	}
	o.tiles = o.tiles[:0]
	cache.ForEach(func(c tile.Coord, r *manager.Renderable) {
		r.DestroyOverlay()
		if r.HasElevation() {
			o.tiles = append(o.tiles, c)
		}
	})
	slices.SortFunc(o.tiles, func(a, b tile.Coord) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	o.metas = make([]composite.Meta, len(o.tiles))
	o.started = time.Now()
	logging.L().Info("orchestrator: recompute", "engine", e.Name(), "tiles", len(o.tiles), "nodes", len(nodes))
	o.dispatchFrom(0, nodes, cache, e)
}

// dispatchFrom starts the first tile at or after i that is still resident
// and accepted by the engine. With none left the orchestrator goes idle.
func (o *Orchestrator) dispatchFrom(i int, nodes []rf.Node, cache *Cache, e Engine) {
	lookup := func(c tile.Coord) *tile.Data {
		if r, ok := cache.Peek(c); ok && r.HasElevation() {
			return r.Data()
		}
		return nil
	}
	for ; i < len(o.tiles); i++ {
		r, ok := cache.Peek(o.tiles[i])
		if !ok || !r.HasElevation() {
			logging.L().Debug("orchestrator: tile evicted before dispatch", "tile", o.tiles[i])
			continue
		}
		g, ok := composite.Build(r.Data(), lookup)
		if !ok {
			continue
		}
		o.metas[i] = g.Meta
		e.UploadElevation(g.Data, g.Rows, g.Cols)
		e.SetGridParams(g.Bounds, g.Rows, g.Cols)
		e.ComputeAllAsync(nodes, g.Data)
		if e.State() == viewshed.Idle {
			logging.L().Debug("orchestrator: engine rejected tile", "tile", o.tiles[i])
			continue
		}
		o.current = i
		o.state = Running
		return
	}
	if o.state == Running {
		logging.L().Info("orchestrator: recompute complete",
			"tiles", len(o.tiles), "nodes", len(nodes), "ms", time.Since(o.started).Milliseconds())
	}
	o.current = len(o.tiles)
	o.state = Idle
}

// Poll advances the recompute without blocking. When the engine is ready
// the result is read back, the centre tile's cells are uploaded as its
// overlay and the next tile is dispatched. The readback is drained even
// when the tile was evicted meanwhile, so the engine returns to Idle. An
// engine that falls back to Idle mid-tile has failed it; the tile keeps
// no overlay and the next one is dispatched.
func (o *Orchestrator) Poll(nodes []rf.Node, cache *Cache, e Engine) {
	if o.state != Running || e == nil {
		return
	}
	switch e.PollState() {
	case viewshed.Ready:
	case viewshed.Idle:
		logging.L().Warn("orchestrator: engine dropped tile", "tile", o.tiles[o.current], "engine", e.Name())
		o.dispatchFrom(o.current+1, nodes, cache, e)
		return
	default:
		return
	}
	res := e.ReadBackAsync()
	c := o.tiles[o.current]
	if r, ok := cache.Peek(c); ok && res != nil {
		o.apply(r, o.metas[o.current], res)
	} else {
		logging.L().Debug("orchestrator: tile evicted during compute", "tile", c)
	}
	o.dispatchFrom(o.current+1, nodes, cache, e)
}

func (o *Orchestrator) apply(r *manager.Renderable, m composite.Meta, res *viewshed.Result) {
	vis, sig := composite.ExtractCenter(m, res.Visibility, res.Signal)
	if vis == nil || m.CenterRows != r.Rows || m.CenterCols != r.Cols {
		logging.L().Warn("orchestrator: result does not match tile", "tile", r.Coord,
			"rows", res.Rows, "cols", res.Cols)
		return
	}
	if err := r.UploadOverlay(vis, sig, r.Rows, r.Cols); err != nil {
		logging.L().Error("orchestrator: overlay upload", "tile", r.Coord, "err", err)
		return
	}
	metrics.ViewshedTiles.Inc()
}

// Wait polls until the recompute finishes or ctx is done. It is meant for
// headless hosts without a frame loop.
func (o *Orchestrator) Wait(ctx context.Context, nodes []rf.Node, cache *Cache, e Engine) error {
	for o.state == Running {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.Poll(nodes, cache, e)
		if e.State() == viewshed.Dispatched {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}
