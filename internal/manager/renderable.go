package manager

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/mesh3d/geo"
	"github.com/gogpu/mesh3d/internal/gpu"
	"github.com/gogpu/mesh3d/internal/terrain"
	"github.com/gogpu/mesh3d/tile"
)

// Renderable is a resident tile: its mesh, base texture, a CPU copy of
// the elevation grid and, once computed, the coverage overlay.
type Renderable struct {
	Coord  tile.Coord
	Bounds tile.Bounds
	Model  mgl32.Mat4

	Mesh    *gpu.Mesh
	Texture *gpu.Texture

	Elevation  []float32
	Rows, Cols int

	// CPU overlay, Rows*Cols each.
	Visibility []uint8
	Signal     []float32
	// Overlay is nil until a result has been uploaded.
	Overlay *gpu.Overlay

	dev *gpu.Device
}

// Build turns loaded tile data into a renderable. Tiles without elevation
// get no mesh; tiles without imagery get no texture.
func Build(dev *gpu.Device, td *tile.Data, proj geo.Projection, scale float32) (*Renderable, error) {
	r := &Renderable{
		Coord:  td.Coord,
		Bounds: td.Bounds,
		Model:  proj.TileModel(td.Bounds),
		dev:    dev,
	}
	if td.HasElevation() {
		r.Elevation = append([]float32(nil), td.Elevation...)
		r.Rows, r.Cols = td.Rows, td.Cols
		if err := r.Remesh(proj, scale, false); err != nil {
			return nil, err
		}
	}
	if td.HasImagery() {
		tex, err := dev.NewRGBA("tile_base", td.Width, td.Height, td.Imagery)
		if err != nil {
			r.Destroy()
			return nil, fmt.Errorf("manager: tile %v: %w", td.Coord, err)
		}
		r.Texture = tex
	}
	if len(td.Visibility) > 0 && len(td.Signal) > 0 && td.HasElevation() {
		if err := r.UploadOverlay(td.Visibility, td.Signal, td.Rows, td.Cols); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Remesh rebuilds the tile geometry, as relief or as a flat map.
func (r *Renderable) Remesh(proj geo.Projection, scale float32, flat bool) error {
	w, h := float32(proj.WidthM(r.Bounds)), float32(proj.HeightM(r.Bounds))
	var m *terrain.Mesh
	if flat {
		m = terrain.BuildFlat(r.Rows, r.Cols, w, h)
	} else {
		m = terrain.Build(terrain.Grid{
			Elevation: r.Elevation,
			Rows:      r.Rows,
			Cols:      r.Cols,
			WidthM:    w,
			HeightM:   h,
			Scale:     scale,
		})
	}
	mesh, err := r.dev.NewMesh("tile_"+r.Coord.String(), m)
	if err != nil {
		return fmt.Errorf("manager: tile %v: %w", r.Coord, err)
	}
	if r.Mesh != nil {
		r.Mesh.Destroy()
	}
	r.Mesh = mesh
	return nil
}

// HasElevation reports whether the tile carries a usable grid.
func (r *Renderable) HasElevation() bool {
	return r.Rows >= 2 && r.Cols >= 2 && len(r.Elevation) == r.Rows*r.Cols
}

// Data exposes the elevation grid as tile data without copying.
func (r *Renderable) Data() *tile.Data {
	return &tile.Data{
		Coord:     r.Coord,
		Bounds:    r.Bounds,
		Elevation: r.Elevation,
		Rows:      r.Rows,
		Cols:      r.Cols,
	}
}

// UploadOverlay stores the coverage arrays and uploads them as overlay
// textures, replacing any previous overlay.
func (r *Renderable) UploadOverlay(vis []uint8, sig []float32, rows, cols int) error {
	o, err := r.dev.NewOverlay(vis, sig, rows, cols)
	if err != nil {
		return fmt.Errorf("manager: overlay for %v: %w", r.Coord, err)
	}
	r.DestroyOverlay()
	r.Visibility = append(r.Visibility[:0], vis[:rows*cols]...)
	r.Signal = append(r.Signal[:0], sig[:rows*cols]...)
	r.Overlay = o
	return nil
}

// DestroyOverlay drops the overlay textures so the tile renders without
// coverage. The CPU arrays are kept.
func (r *Renderable) DestroyOverlay() {
	if r.Overlay != nil {
		r.Overlay.Destroy()
		r.Overlay = nil
	}
}

// StripTexture drops the base texture and keeps the geometry.
func (r *Renderable) StripTexture() {
	if r.Texture != nil {
		r.Texture.Destroy()
		r.Texture = nil
	}
}

// Destroy releases every GPU handle.
func (r *Renderable) Destroy() {
	r.DestroyOverlay()
	r.StripTexture()
	if r.Mesh != nil {
		r.Mesh.Destroy()
		r.Mesh = nil
	}
}

// ElevationAt bilinearly interpolates the grid at (lat, lon), clamped to
// the tile.
func (r *Renderable) ElevationAt(lat, lon float64) float32 {
	if !r.HasElevation() {
		return 0
	}
	u := (lon - r.Bounds.MinLon) / r.Bounds.LonSpan()
	v := (r.Bounds.MaxLat - lat) / r.Bounds.LatSpan()
	u = min(max(u, 0), 1)
	v = min(max(v, 0), 1)

	gc := float32(u * float64(r.Cols-1))
	gr := float32(v * float64(r.Rows-1))
	c0 := min(max(int(gc), 0), r.Cols-2)
	r0 := min(max(int(gr), 0), r.Rows-2)
	fc := gc - float32(c0)
	fr := gr - float32(r0)

	at := func(row, col int) float32 { return r.Elevation[row*r.Cols+col] }
	h0 := at(r0, c0) + fc*(at(r0, c0+1)-at(r0, c0))
	h1 := at(r0+1, c0) + fc*(at(r0+1, c0+1)-at(r0+1, c0))
	return h0 + fr*(h1-h0)
}
