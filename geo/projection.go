// Package geo maps geographic coordinates onto the planar world space
// used by the renderer and the tile selector.
package geo

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/mesh3d/tile"
)

// MetersPerDegree is the length of one degree of latitude.
const MetersPerDegree = 111320.0

// Projection is a local tangent-plane projection around a centre point.
// World X grows east and world Z grows south, both in metres.
type Projection struct {
	CenterLat, CenterLon float64
	mLat, mLon           float64
}

// NewProjection centres a projection on the midpoint of b.
func NewProjection(b tile.Bounds) Projection {
	lat, lon := b.Center()
	return NewProjectionAt(lat, lon)
}

// NewProjectionAt centres a projection on (lat, lon).
func NewProjectionAt(lat, lon float64) Projection {
	return Projection{
		CenterLat: lat,
		CenterLon: lon,
		mLat:      MetersPerDegree,
		mLon:      MetersPerDegree * math.Cos(lat*math.Pi/180),
	}
}

// Project maps (lat, lon) to world (x, z).
func (p Projection) Project(lat, lon float64) (x, z float64) {
	return (lon - p.CenterLon) * p.mLon, (p.CenterLat - lat) * p.mLat
}

// Unproject maps world (x, z) back to (lat, lon).
func (p Projection) Unproject(x, z float64) (lat, lon float64) {
	lat = p.CenterLat - z/p.mLat
	if p.mLon == 0 {
		return lat, p.CenterLon
	}
	return lat, p.CenterLon + x/p.mLon
}

// WorldPoint returns the world-space position of (lat, lon) at height y.
func (p Projection) WorldPoint(lat, lon, y float64) mgl32.Vec3 {
	x, z := p.Project(lat, lon)
	return mgl32.Vec3{float32(x), float32(y), float32(z)}
}

// WidthM returns the east-west extent of b in metres.
func (p Projection) WidthM(b tile.Bounds) float64 { return b.LonSpan() * p.mLon }

// HeightM returns the north-south extent of b in metres.
func (p Projection) HeightM(b tile.Bounds) float64 { return b.LatSpan() * p.mLat }

// TileModel returns the model matrix placing a tile mesh, built centred on
// its own origin, at the projected centre of b.
func (p Projection) TileModel(b tile.Bounds) mgl32.Mat4 {
	lat, lon := b.Center()
	x, z := p.Project(lat, lon)
	return mgl32.Translate3D(float32(x), 0, float32(z))
}

// CellSizeMeters returns the mean ground spacing of a grid over b.
func CellSizeMeters(b tile.Bounds, rows, cols int) float64 {
	if rows < 2 || cols < 2 {
		return 0
	}
	latRes := b.LatSpan() / float64(rows-1)
	lonRes := b.LonSpan() / float64(cols-1)
	centerLat, _ := b.Center()
	return (latRes*MetersPerDegree + lonRes*MetersPerDegree*math.Cos(centerLat*math.Pi/180)) / 2
}
