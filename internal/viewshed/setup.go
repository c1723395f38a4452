// Package viewshed evaluates radio coverage of mesh nodes over an
// elevation grid. It holds the CPU propagation models, the per-node setup
// shared with the GPU shaders, the band planner that splits a computation
// into frame-sized chunks, and a CPU engine driven by the same planner.
package viewshed

import (
	"math"

	"github.com/gogpu/mesh3d/geo"
	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

// NoSignal marks cells that no node reaches.
const NoSignal = -999.0

// OwnCellSignal is the level reported at a node's own cell.
const OwnCellSignal = -60.0

// EarthCurveFactor is 1/(2kR) for a 4/3 effective earth radius.
const EarthCurveFactor = 1.0 / (2.0 * (4.0 / 3.0) * 6371000.0)

// Env is the grid-wide part of a computation: geometry plus the receiver
// side of the link budget.
type Env struct {
	Rows, Cols int
	Bounds     tile.Bounds
	CellM      float64

	RxSensitivityDbm float64
	RxGainDbi        float64
	RxCableLossDb    float64
	// TargetHeightM is the receiver height above ground.
	TargetHeightM float64

	ITM rf.ITMParams
}

// NewEnv describes a rows x cols grid over b.
func NewEnv(b tile.Bounds, rows, cols int, cfg rf.Config, itm rf.ITMParams) Env {
	return Env{
		Rows:             rows,
		Cols:             cols,
		Bounds:           b,
		CellM:            geo.CellSizeMeters(b, rows, cols),
		RxSensitivityDbm: cfg.RxSensitivityDbm,
		RxGainDbi:        cfg.RxGainDbi,
		RxCableLossDb:    cfg.RxCableLossDb,
		TargetHeightM:    cfg.RxHeightAGL,
		ITM:              itm.Validate(),
	}
}

// Valid reports whether the grid can be computed on.
func (e Env) Valid() bool {
	return e.Rows >= 2 && e.Cols >= 2 && e.CellM > 0 && e.Bounds.Valid()
}

// Cell maps (lat, lon) to a grid cell. The result may lie outside the
// grid for nodes on a neighbouring tile.
func (e Env) Cell(lat, lon float64) (row, col int) {
	latRes := e.Bounds.LatSpan() / float64(e.Rows-1)
	lonRes := e.Bounds.LonSpan() / float64(e.Cols-1)
	row = int(math.Floor((e.Bounds.MaxLat - lat) / latRes))
	col = int(math.Floor((lon - e.Bounds.MinLon) / lonRes))
	return row, col
}

// NodeSetup is one node resolved against a grid: defaults applied, cell
// located and observer height fixed.
type NodeSetup struct {
	Node          rf.Node
	Row, Col      int
	ObserverH     float64
	MaxRangeCells int
}

// Setup resolves n against env using elev for the ground height under the
// node. Off-grid nodes take the height of the nearest edge cell.
func Setup(n rf.Node, env Env, elev []float32) NodeSetup {
	n = n.WithDefaults(env.RxSensitivityDbm)
	row, col := env.Cell(n.Lat, n.Lon)
	er := min(max(row, 0), env.Rows-1)
	ec := min(max(col, 0), env.Cols-1)
	ground := 0.0
	if i := er*env.Cols + ec; i < len(elev) {
		ground = float64(elev[i])
	}
	rangeCells := 1
	if env.CellM > 0 {
		rangeCells = max(int(n.MaxRangeKm*1000/env.CellM), 1)
	}
	return NodeSetup{
		Node:          n,
		Row:           row,
		Col:           col,
		ObserverH:     ground + n.AntennaHeightM,
		MaxRangeCells: rangeCells,
	}
}

// SetupAll resolves every node.
func SetupAll(nodes []rf.Node, env Env, elev []float32) []NodeSetup {
	out := make([]NodeSetup, len(nodes))
	for i, n := range nodes {
		out[i] = Setup(n, env, elev)
	}
	return out
}
