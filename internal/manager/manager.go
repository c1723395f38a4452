// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package manager keeps the tiles around the camera resident on the GPU.
//
// The manager runs in one of two modes:
//
//   - static: an elevation provider and fixed bounds; every tile in the
//     bounds is loaded once.
//   - streaming: a Viewer provider (SRTM or DSM) selects the tiles around
//     the camera each frame; tiles leave through LRU eviction.
//
// Fetches and imagery composites run on the loader goroutine. Results are
// drained on the calling goroutine within a per-frame budget, built into
// Renderables and inserted into the tile cache. All methods must be called
// from the goroutine that owns the GPU device.
package manager

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/mesh3d/geo"
	"github.com/gogpu/mesh3d/internal/gpu"
	"github.com/gogpu/mesh3d/internal/loader"
	"github.com/gogpu/mesh3d/internal/logging"
	"github.com/gogpu/mesh3d/internal/provider"
	"github.com/gogpu/mesh3d/internal/render"
	"github.com/gogpu/mesh3d/internal/tilecache"
	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

// DefaultDrainBudget bounds the time spent turning loaded tiles into
// renderables per frame.
const DefaultDrainBudget = 4 * time.Millisecond

// ImageryFactory returns the provider for an imagery source, or nil.
type ImageryFactory func(ImagerySource) provider.Provider

// Options configures a Manager.
type Options struct {
	// Device receives meshes and textures. nil keeps everything on the CPU.
	Device *gpu.Device
	// CacheCapacity is the number of resident tiles.
	CacheCapacity int
	// ElevationScale exaggerates relief.
	ElevationScale float32
	// PreferredZoom is the first imagery zoom tried.
	PreferredZoom int
	// Imagery builds imagery providers. nil disables imagery.
	Imagery ImageryFactory
	// Source is the initial imagery source.
	Source ImagerySource
	// DrainBudget is the per-frame build budget.
	DrainBudget time.Duration
}

// Manager owns the loader, the tile cache and the tile selection.
type Manager struct {
	opts   Options
	loader *loader.Loader
	cache  *tilecache.Cache[*Renderable]

	static     provider.Provider
	stream     provider.Viewer
	bounds     tile.Bounds
	proj       geo.Projection
	staticDone bool

	source  ImagerySource
	imagery provider.Provider
	retired []provider.Provider
	// wanted maps tiles with an imagery composite in flight to the source
	// it was requested for.
	wanted map[tile.Coord]ImagerySource

	visible []tile.Coord
	flat    bool
	started bool
}

// New creates a stopped manager.
func New(opts Options) *Manager {
	if opts.ElevationScale == 0 {
		opts.ElevationScale = 1
	}
	if opts.PreferredZoom <= 0 {
		opts.PreferredZoom = PreferredZoom
	}
	if opts.DrainBudget <= 0 {
		opts.DrainBudget = DefaultDrainBudget
	}
	m := &Manager{
		opts:   opts,
		loader: loader.New(),
		cache:  tilecache.New[*Renderable](opts.CacheCapacity),
		wanted: make(map[tile.Coord]ImagerySource),
		source: opts.Source,
	}
	if opts.Source != ImageryNone && opts.Imagery != nil {
		m.imagery = opts.Imagery(opts.Source)
	}
	return m
}

// Start launches the loader worker.
func (m *Manager) Start() {
	m.loader.Start()
	m.started = true
}

// Stop halts the loader and releases retired imagery providers. Resident
// tiles stay cached.
func (m *Manager) Stop() {
	m.loader.Stop()
	m.started = false
	for _, p := range m.retired {
		closeProvider(p)
	}
	m.retired = nil
}

// Close stops the manager and destroys every resident tile.
func (m *Manager) Close() {
	m.Stop()
	m.Clear()
	closeProvider(m.imagery)
	m.imagery = nil
}

// Clear drops every resident tile and queued request.
func (m *Manager) Clear() {
	m.loader.ClearPending()
	m.cache.Clear()
	clear(m.wanted)
	m.visible = nil
	m.staticDone = false
}

// Cache exposes the resident tiles.
func (m *Manager) Cache() *tilecache.Cache[*Renderable] { return m.cache }

// Visible returns the tiles selected by the last update.
func (m *Manager) Visible() []tile.Coord { return m.visible }

// Bounds returns the static bounds, or in streaming mode the union of the
// tiles around the camera.
func (m *Manager) Bounds() tile.Bounds { return m.bounds }

// Projection returns the projection tiles are placed with.
func (m *Manager) Projection() geo.Projection { return m.proj }

// Streaming reports whether a Viewer provider drives tile selection.
func (m *Manager) Streaming() bool { return m.stream != nil }

// SetBounds fixes the static-mode area and centres the projection on it.
func (m *Manager) SetBounds(b tile.Bounds) {
	m.bounds = b
	m.proj = geo.NewProjection(b)
	m.staticDone = false
}

// SetElevationProvider switches to static mode with p.
func (m *Manager) SetElevationProvider(p provider.Provider) {
	m.Clear()
	m.static = p
	m.stream = nil
}

// SetHGTProvider switches to streaming mode with SRTM tiles.
func (m *Manager) SetHGTProvider(p *provider.HGT) { m.setViewer(p) }

// SetDSMProvider switches to streaming mode with local surface models.
func (m *Manager) SetDSMProvider(p *provider.DSM) { m.setViewer(p) }

// SetViewer switches to streaming mode with any camera-driven provider.
func (m *Manager) SetViewer(p provider.Viewer) { m.setViewer(p) }

func (m *Manager) setViewer(p provider.Viewer) {
	m.Clear()
	m.static = nil
	m.stream = p
}

// ImagerySource returns the active imagery source.
func (m *Manager) ImagerySource() ImagerySource { return m.source }

// SetImagerySource replaces the imagery provider and strips the base
// texture from every resident tile. Geometry and overlays are kept; new
// imagery is composited on later updates.
func (m *Manager) SetImagerySource(src ImagerySource) {
	if src == m.source {
		return
	}
	if m.imagery != nil {
		m.retired = append(m.retired, m.imagery)
		m.imagery = nil
	}
	m.source = src
	if src != ImageryNone && m.opts.Imagery != nil {
		m.imagery = m.opts.Imagery(src)
	}
	clear(m.wanted)
	m.cache.ForEach(func(_ tile.Coord, r *Renderable) { r.StripTexture() })
	logging.L().Info("manager: imagery source", "source", src)
}

// CycleImagerySource advances satellite -> street -> none -> satellite.
func (m *Manager) CycleImagerySource() {
	m.SetImagerySource(ImagerySource((int(m.source) + 1) % 3))
}

// SetRenderMode switches resident and future tiles between relief and a
// flat map.
func (m *Manager) SetRenderMode(mode rf.RenderMode) {
	flat := mode == rf.RenderFlat
	if flat == m.flat {
		return
	}
	m.flat = flat
	m.cache.ForEach(func(c tile.Coord, r *Renderable) {
		if !r.HasElevation() {
			return
		}
		if err := r.Remesh(m.proj, m.opts.ElevationScale, flat); err != nil {
			logging.L().Warn("manager: remesh", "tile", c, "err", err)
		}
	})
}

// RenderMode returns the geometry mode.
func (m *Manager) RenderMode() rf.RenderMode {
	if m.flat {
		return rf.RenderFlat
	}
	return rf.RenderTerrain
}

// Update runs one static-mode frame: request missing tiles, drain loaded
// ones and request imagery for tiles without a texture. In streaming mode
// it only drains; selection happens in UpdateCamera.
func (m *Manager) Update() {
	if m.stream == nil {
		m.updateStatic()
	}
	m.drain()
	m.requestImagery()
}

func (m *Manager) updateStatic() {
	if m.static == nil || !m.bounds.Valid() || m.staticDone {
		return
	}
	m.visible = m.static.TilesInBounds(m.bounds, 0)
	missing := false
	for _, c := range m.visible {
		if m.cache.Has(c) {
			continue
		}
		missing = true
		if !m.loader.IsPending(c) {
			m.loader.Request(c, m.static)
		}
	}
	m.staticDone = !missing
}

// UpdateCamera selects the tiles around the camera position in streaming
// mode and requests the missing ones. proj maps world space to lat/lon and
// becomes the placement projection for new tiles. Without a Viewer it
// falls back to Update.
func (m *Manager) UpdateCamera(cam mgl32.Vec3, proj geo.Projection) {
	if m.stream == nil {
		m.Update()
		return
	}
	m.proj = proj
	lat, lon := proj.Unproject(float64(cam.X()), float64(cam.Z()))
	needed := m.stream.TilesInView(lat, lon)
	for _, c := range needed {
		if m.cache.Has(c) {
			m.cache.Touch(c)
			continue
		}
		if !m.loader.IsPending(c) {
			m.loader.Request(c, m.stream)
		}
	}
	m.drain()

	m.visible = needed
	var total tile.Bounds
	for _, c := range needed {
		total = total.Union(tile.TileBounds(c))
	}
	m.bounds = total
	m.requestImagery()
}

// drain builds loaded tiles until the budget is spent. At least one tile
// is handled per call.
func (m *Manager) drain() {
	deadline := time.Now().Add(m.opts.DrainBudget)
	for {
		td, ok := m.loader.PollResult()
		if !ok {
			return
		}
		if td.HasElevation() {
			m.insert(td)
		} else if td.HasImagery() {
			m.attachImagery(td)
		}
		if time.Now().After(deadline) {
			return
		}
	}
}

func (m *Manager) insert(td *tile.Data) {
	r, err := Build(m.opts.Device, td, m.proj, m.opts.ElevationScale)
	if err == nil && m.flat && r.HasElevation() {
		if err = r.Remesh(m.proj, m.opts.ElevationScale, true); err != nil {
			r.Destroy()
		}
	}
	if err != nil {
		logging.L().Warn("manager: build tile", "tile", td.Coord, "err", err)
		return
	}
	delete(m.wanted, td.Coord)
	m.cache.Upload(td.Coord, r)
	logging.L().Debug("manager: tile resident", "tile", td.Coord, "rows", td.Rows, "cols", td.Cols)
}

func (m *Manager) attachImagery(td *tile.Data) {
	src, ok := m.wanted[td.Coord]
	delete(m.wanted, td.Coord)
	if !ok || src != m.source {
		return
	}
	r, ok := m.cache.Peek(td.Coord)
	if !ok || r.Texture != nil {
		return
	}
	tex, err := m.opts.Device.NewRGBA("tile_base", td.Width, td.Height, td.Imagery)
	if err != nil {
		logging.L().Warn("manager: imagery texture", "tile", td.Coord, "err", err)
		return
	}
	r.Texture = tex
}

// requestImagery queues a composite for every selected tile lacking a
// base texture.
func (m *Manager) requestImagery() {
	if m.imagery == nil || m.source == ImageryNone {
		return
	}
	for _, c := range m.visible {
		r, ok := m.cache.Peek(c)
		if !ok || r.Texture != nil || m.loader.IsPending(c) {
			continue
		}
		// A failed composite leaves no result to drain; it is re-requested
		// here once the loader has let go of the coordinate.
		m.wanted[c] = m.source
		m.loader.Request(c, &compositeJob{src: m.imagery, bounds: r.Bounds, zoom: m.opts.PreferredZoom})
	}
}

// Render calls draw for every tile with a mesh: all resident tiles in
// streaming mode, the selected tiles in static mode.
func (m *Manager) Render(draw render.DrawFunc) {
	m.each(func(r *Renderable) { draw(r.Model, r.Texture, r.Overlay) })
}

// Tiles is a render.TileSource over the same tiles as Render.
func (m *Manager) Tiles(fn func(render.Tile)) {
	m.each(func(r *Renderable) {
		fn(render.Tile{
			Bounds:    r.Bounds,
			Base:      r.Texture,
			Overlay:   r.Overlay,
			Elevation: r.Elevation,
			Rows:      r.Rows,
			Cols:      r.Cols,
		})
	})
}

func (m *Manager) each(fn func(*Renderable)) {
	if m.stream != nil {
		m.cache.ForEach(func(_ tile.Coord, r *Renderable) {
			if r.Mesh != nil {
				fn(r)
			}
		})
		return
	}
	for _, c := range m.visible {
		if r, ok := m.cache.Peek(c); ok && r.Mesh != nil {
			fn(r)
		}
	}
}

// HasTerrain reports whether any resident tile carries elevation.
func (m *Manager) HasTerrain() bool {
	found := false
	m.cache.ForEach(func(_ tile.Coord, r *Renderable) {
		found = found || r.HasElevation()
	})
	return found
}

// ElevationAt returns the terrain height under world (x, z), or false
// when no resident tile covers it.
func (m *Manager) ElevationAt(worldX, worldZ float64, proj geo.Projection) (float32, bool) {
	lat, lon := proj.Unproject(worldX, worldZ)
	return m.ElevationAtLatLon(lat, lon)
}

// ElevationAtLatLon returns the terrain height at (lat, lon).
func (m *Manager) ElevationAtLatLon(lat, lon float64) (float32, bool) {
	if m.stream != nil {
		if r, ok := m.cache.Peek(m.stream.CoordAt(lat, lon)); ok && r.HasElevation() {
			return r.ElevationAt(lat, lon), true
		}
		return 0, false
	}
	var (
		h     float32
		found bool
	)
	m.cache.ForEach(func(_ tile.Coord, r *Renderable) {
		if !found && r.HasElevation() && r.Bounds.Contains(lat, lon) {
			h, found = r.ElevationAt(lat, lon), true
		}
	})
	return h, found
}

// Running reports whether the loader worker is started.
func (m *Manager) Running() bool { return m.started }

// Pending returns the number of queued loader requests.
func (m *Manager) Pending() int { return m.loader.QueueLen() }

// Settled reports whether nothing is queued, in flight or waiting to be
// drained, and static mode has every tile it asked for.
func (m *Manager) Settled() bool {
	if m.loader.Outstanding() > 0 {
		return false
	}
	return m.stream != nil || m.static == nil || m.staticDone
}

// compositeJob runs an imagery composite on the loader goroutine. The
// result carries imagery only.
type compositeJob struct {
	src    provider.Provider
	bounds tile.Bounds
	zoom   int
}

func (j *compositeJob) Name() string          { return "composite:" + j.src.Name() }
func (j *compositeJob) Coverage() tile.Bounds { return j.bounds }
func (j *compositeJob) MinZoom() int          { return j.src.MinZoom() }
func (j *compositeJob) MaxZoom() int          { return j.src.MaxZoom() }

func (j *compositeJob) TilesInBounds(b tile.Bounds, zoom int) []tile.Coord {
	return j.src.TilesInBounds(b, zoom)
}

func (j *compositeJob) FetchTile(ctx context.Context, c tile.Coord) (*tile.Data, error) {
	img := Composite(ctx, j.src, j.bounds, j.zoom)
	if img == nil {
		return nil, provider.ErrNoData
	}
	return &tile.Data{
		Coord:   c,
		Bounds:  j.bounds,
		Imagery: img.Pix,
		Width:   img.Rect.Dx(),
		Height:  img.Rect.Dy(),
	}, nil
}

func closeProvider(p provider.Provider) {
	if c, ok := p.(interface{ Close() }); ok {
		c.Close()
	}
}
