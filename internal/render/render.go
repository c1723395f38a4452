// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render defines how resident terrain tiles are handed to a
// drawing backend and how coverage is blended over the terrain material.
//
// # Backends
//
// The host owns the render pipeline. It receives one DrawFunc call per
// visible tile with the tile's model matrix, base texture and overlay
// textures, and binds them to a pipeline built from TerrainShader.
//
// For headless use MapRenderer draws the same tiles top-down into an
// *image.RGBA, shading each cell with Shade, which mirrors the fragment
// shader on the CPU.
//
// # Overlay modes
//
//   - rf.OverlayNone: terrain material only
//   - rf.OverlayViewshed: visible cells tinted green
//   - rf.OverlaySignal: received power on a red-yellow-green ramp
//   - rf.OverlayLinkMargin: margin above receiver sensitivity on the ramp
//
// Cells outside every node's coverage are darkened in all overlay modes.
package render

import (
	_ "embed"
	"image/color"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/mesh3d/internal/gpu"
	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

//go:embed terrain.wgsl
var terrainWGSL string

// TerrainShader returns the WGSL source of the terrain material.
// Entry points are vs_main and fs_main.
func TerrainShader() string { return terrainWGSL }

// DrawFunc draws one tile. A nil overlay selects the no-overlay branch;
// a nil base selects the flat terrain colour.
type DrawFunc func(model mgl32.Mat4, base *gpu.Texture, overlay *gpu.Overlay)

// Tile is the CPU view of a resident tile used by software renderers.
type Tile struct {
	Bounds     tile.Bounds
	Base       *gpu.Texture
	Overlay    *gpu.Overlay
	Elevation  []float32
	Rows, Cols int
}

// TileSource visits every tile to draw.
type TileSource func(fn func(Tile))

// Frame is the Go mirror of the Frame uniform in terrain.wgsl.
type Frame struct {
	ViewProj    mgl32.Mat4
	Model       mgl32.Mat4
	OverlayMode int32
	UseOverlay  int32
	HasBase     int32
	_           int32
	MinDbm      float32
	MaxDbm      float32
	RxSens      float32
	_           float32
}

// NewFrame fills the per-tile uniform for the given overlay state.
func NewFrame(viewProj, model mgl32.Mat4, mode rf.OverlayMode, cfg rf.Config, base *gpu.Texture, overlay *gpu.Overlay) Frame {
	f := Frame{
		ViewProj:    viewProj,
		Model:       model,
		OverlayMode: int32(mode),
		MinDbm:      float32(cfg.DisplayMinDbm),
		MaxDbm:      float32(cfg.DisplayMaxDbm),
		RxSens:      float32(cfg.RxSensitivityDbm),
	}
	if base != nil {
		f.HasBase = 1
	}
	if overlay != nil {
		f.UseOverlay = 1
	}
	return f
}

// Terrain is the material colour used when a tile has no imagery.
var Terrain = color.RGBA{R: 140, G: 140, B: 133, A: 255}

var (
	viewshedTint = [3]float64{0.2, 0.9, 0.3}
	shadowFactor = 0.55
)

// MarginRangeDb is the link margin mapped onto the full colour ramp.
const MarginRangeDb = 30

// Ramp maps t in [0, 1] from red through yellow to green.
func Ramp(t float64) color.RGBA {
	t = min(max(t, 0), 1)
	var r, g float64
	if t > 0.5 {
		r, g = 2*(1-t), 1
	} else {
		r, g = 1, 2*t
	}
	return color.RGBA{R: unit(r), G: unit(g), A: 255}
}

// SignalColor maps received power onto the display window of cfg.
func SignalColor(dbm float64, cfg rf.Config) color.RGBA {
	span := cfg.DisplayMaxDbm - cfg.DisplayMinDbm
	if span < 1 {
		span = 1
	}
	return Ramp((dbm - cfg.DisplayMinDbm) / span)
}

// RoleColor is the marker colour of a node role.
func RoleColor(r rf.Role) color.RGBA {
	switch r {
	case rf.RoleBackbone:
		return color.RGBA{R: 51, G: 102, B: 255, A: 255}
	case rf.RoleRelay:
		return color.RGBA{R: 51, G: 230, B: 77, A: 255}
	case rf.RoleLeaf:
		return color.RGBA{R: 255, G: 153, B: 26, A: 255}
	}
	return color.RGBA{R: 204, G: 204, B: 204, A: 255}
}

// Shade blends the coverage of one cell over the base colour exactly as
// fs_main does after lighting.
func Shade(mode rf.OverlayMode, base color.RGBA, visible bool, dbm float32, cfg rf.Config) color.RGBA {
	if mode == rf.OverlayNone {
		return base
	}
	if !visible {
		return scale(base, shadowFactor)
	}
	switch mode {
	case rf.OverlayViewshed:
		return mix(base, viewshedTint, 0.4)
	case rf.OverlaySignal:
		return mix(base, rgb(SignalColor(float64(dbm), cfg)), 0.6)
	case rf.OverlayLinkMargin:
		margin := float64(dbm) - cfg.RxSensitivityDbm
		return mix(base, rgb(Ramp(margin/MarginRangeDb)), 0.6)
	}
	return base
}

func rgb(c color.RGBA) [3]float64 {
	return [3]float64{float64(c.R) / 255, float64(c.G) / 255, float64(c.B) / 255}
}

func mix(base color.RGBA, tint [3]float64, a float64) color.RGBA {
	b := rgb(base)
	return color.RGBA{
		R: unit(b[0] + (tint[0]-b[0])*a),
		G: unit(b[1] + (tint[1]-b[1])*a),
		B: unit(b[2] + (tint[2]-b[2])*a),
		A: base.A,
	}
}

func scale(c color.RGBA, f float64) color.RGBA {
	b := rgb(c)
	return color.RGBA{R: unit(b[0] * f), G: unit(b[1] * f), B: unit(b[2] * f), A: c.A}
}

func unit(v float64) uint8 {
	v = min(max(v, 0), 1)
	return uint8(v*255 + 0.5)
}
