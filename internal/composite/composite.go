// Package composite stitches a tile and its resident neighbours into one
// elevation grid so ray marching can cross tile edges, and slices the
// centre tile back out of results computed on that grid.
package composite

import (
	"github.com/gogpu/mesh3d/tile"
)

// Meta locates the centre tile inside a composite grid.
type Meta struct {
	Rows, Cols           int
	RowOffset, ColOffset int
	CenterRows           int
	CenterCols           int
}

// Grid is a composite elevation grid. Row 0 is the northern edge.
type Grid struct {
	Data   []float32
	Rows   int
	Cols   int
	Bounds tile.Bounds
	Meta   Meta
}

// Lookup returns a resident tile or nil.
type Lookup func(tile.Coord) *tile.Data

// Build assembles center and its eight neighbours. Neighbours are used
// only when their grid size matches the centre tile. The grid grows by a
// full tile on each side that has at least one neighbour, and stays tight
// elsewhere. It returns false when center has no usable elevation.
func Build(center *tile.Data, lookup Lookup) (Grid, bool) {
	if !center.HasElevation() {
		return Grid{}, false
	}
	cr, cc := center.Rows, center.Cols

	// nb[row][col], row 0 north.
	var nb [3][3]*tile.Data
	nb[1][1] = center
	if lookup != nil {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				n := lookup(tile.Coord{Z: center.Coord.Z, X: center.Coord.X + dx, Y: center.Coord.Y + dy})
				if !n.HasElevation() || n.Rows != cr || n.Cols != cc {
					continue
				}
				gr := 1 + dy
				if center.Coord.NorthUp() {
					gr = 1 - dy
				}
				nb[gr][dx+1] = n
			}
		}
	}

	side := func(cells ...*tile.Data) bool {
		for _, c := range cells {
			if c != nil {
				return true
			}
		}
		return false
	}
	top, bottom, left, right := 0, 0, 0, 0
	if side(nb[0][0], nb[0][1], nb[0][2]) {
		top = cr
	}
	if side(nb[2][0], nb[2][1], nb[2][2]) {
		bottom = cr
	}
	if side(nb[0][0], nb[1][0], nb[2][0]) {
		left = cc
	}
	if side(nb[0][2], nb[1][2], nb[2][2]) {
		right = cc
	}

	g := Grid{
		Rows: top + cr + bottom,
		Cols: left + cc + right,
		Meta: Meta{
			RowOffset:  top,
			ColOffset:  left,
			CenterRows: cr,
			CenterCols: cc,
		},
	}
	g.Meta.Rows, g.Meta.Cols = g.Rows, g.Cols
	g.Data = make([]float32, g.Rows*g.Cols)

	rowStart := [3]int{0, top, top + cr}
	colStart := [3]int{0, left, left + cc}
	for gr := 0; gr < 3; gr++ {
		for gc := 0; gc < 3; gc++ {
			n := nb[gr][gc]
			if n == nil {
				continue
			}
			for r := 0; r < cr; r++ {
				dst := (rowStart[gr]+r)*g.Cols + colStart[gc]
				copy(g.Data[dst:dst+cc], n.Elevation[r*cc:(r+1)*cc])
			}
		}
	}

	b := center.Bounds
	latSpan, lonSpan := b.LatSpan(), b.LonSpan()
	if top > 0 {
		b.MaxLat += latSpan
	}
	if bottom > 0 {
		b.MinLat -= latSpan
	}
	if left > 0 {
		b.MinLon -= lonSpan
	}
	if right > 0 {
		b.MaxLon += lonSpan
	}
	g.Bounds = b
	return g, true
}

// ExtractCenter copies the centre tile's cells out of composite-sized
// visibility and signal grids. Inputs shorter than the composite yield nil.
func ExtractCenter(m Meta, vis []uint8, sig []float32) ([]uint8, []float32) {
	n := m.Rows * m.Cols
	if len(vis) < n || len(sig) < n {
		return nil, nil
	}
	outVis := make([]uint8, m.CenterRows*m.CenterCols)
	outSig := make([]float32, m.CenterRows*m.CenterCols)
	for r := 0; r < m.CenterRows; r++ {
		src := (m.RowOffset+r)*m.Cols + m.ColOffset
		dst := r * m.CenterCols
		copy(outVis[dst:dst+m.CenterCols], vis[src:src+m.CenterCols])
		copy(outSig[dst:dst+m.CenterCols], sig[src:src+m.CenterCols])
	}
	return outVis, outSig
}
