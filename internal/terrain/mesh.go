// Package terrain turns elevation grids into indexed triangle meshes.
package terrain

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// VertexFloats is the vertex stride: position(3) normal(3) uv(2).
const VertexFloats = 8

// FlatVertexFloats is the flat-map stride: position(3) uv(2).
const FlatVertexFloats = 5

// Mesh is CPU-side geometry ready for upload.
type Mesh struct {
	Vertices []float32
	Indices  []uint32
	Stride   int
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	if m.Stride == 0 {
		return 0
	}
	return len(m.Vertices) / m.Stride
}

// Grid describes an elevation grid laid out over a rectangle of the given
// metric size. Row 0 is the northern edge.
type Grid struct {
	Elevation []float32
	Rows      int
	Cols      int
	WidthM    float32
	HeightM   float32
	// Scale multiplies elevations for vertical exaggeration.
	Scale float32
}

// Build creates a relief mesh centred on the origin with X east, Y up and
// Z south. It returns nil for grids smaller than 2x2.
func Build(g Grid) *Mesh {
	if g.Rows < 2 || g.Cols < 2 || len(g.Elevation) < g.Rows*g.Cols {
		return nil
	}
	scale := g.Scale
	if scale == 0 {
		scale = 1
	}
	dx := g.WidthM / float32(g.Cols-1)
	dz := g.HeightM / float32(g.Rows-1)
	h := func(r, c int) float32 {
		r = min(max(r, 0), g.Rows-1)
		c = min(max(c, 0), g.Cols-1)
		return g.Elevation[r*g.Cols+c] * scale
	}

	verts := make([]float32, g.Rows*g.Cols*VertexFloats)
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			vi := (r*g.Cols + c) * VertexFloats
			n := mgl32.Vec3{
				-(h(r, c+1) - h(r, c-1)) / (2 * dx),
				1,
				-(h(r+1, c) - h(r-1, c)) / (2 * dz),
			}.Normalize()
			verts[vi+0] = -g.WidthM/2 + float32(c)*dx
			verts[vi+1] = h(r, c)
			verts[vi+2] = -g.HeightM/2 + float32(r)*dz
			verts[vi+3] = n[0]
			verts[vi+4] = n[1]
			verts[vi+5] = n[2]
			verts[vi+6] = float32(c) / float32(g.Cols-1)
			verts[vi+7] = float32(r) / float32(g.Rows-1)
		}
	}
	return &Mesh{Vertices: verts, Indices: gridIndices(g.Rows, g.Cols), Stride: VertexFloats}
}

// BuildFlat creates a flat textured grid of the given size.
func BuildFlat(rows, cols int, widthM, heightM float32) *Mesh {
	if rows < 2 || cols < 2 {
		return nil
	}
	dx := widthM / float32(cols-1)
	dz := heightM / float32(rows-1)
	verts := make([]float32, rows*cols*FlatVertexFloats)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			vi := (r*cols + c) * FlatVertexFloats
			verts[vi+0] = -widthM/2 + float32(c)*dx
			verts[vi+2] = -heightM/2 + float32(r)*dz
			verts[vi+3] = float32(c) / float32(cols-1)
			verts[vi+4] = float32(r) / float32(rows-1)
		}
	}
	return &Mesh{Vertices: verts, Indices: gridIndices(rows, cols), Stride: FlatVertexFloats}
}

// gridIndices emits two counter-clockwise triangles per quad when viewed
// from above.
func gridIndices(rows, cols int) []uint32 {
	idx := make([]uint32, 0, (rows-1)*(cols-1)*6)
	for r := 0; r < rows-1; r++ {
		for c := 0; c < cols-1; c++ {
			tl := uint32(r*cols + c) //nolint:gosec // grid sizes fit uint32
			tr := tl + 1
			bl := uint32((r+1)*cols + c) //nolint:gosec // grid sizes fit uint32
			br := bl + 1
			idx = append(idx, tl, bl, tr, tr, bl, br)
		}
	}
	return idx
}

// Hillshade returns a 0..1 Lambertian shade for each grid cell lit from the
// north-west at 45 degrees elevation.
func Hillshade(elev []float32, rows, cols int, cellM float32) []float32 {
	out := make([]float32, rows*cols)
	if rows < 2 || cols < 2 || cellM <= 0 {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	light := mgl32.Vec3{-1, math.Sqrt2, -1}.Normalize()
	at := func(r, c int) float32 {
		r = min(max(r, 0), rows-1)
		c = min(max(c, 0), cols-1)
		return elev[r*cols+c]
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			n := mgl32.Vec3{
				-(at(r, c+1) - at(r, c-1)) / (2 * cellM),
				1,
				-(at(r+1, c) - at(r-1, c)) / (2 * cellM),
			}.Normalize()
			out[r*cols+c] = max(0, n.Dot(light))
		}
	}
	return out
}
