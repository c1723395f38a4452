// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package mesh3d

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/mesh3d/geo"
	"github.com/gogpu/mesh3d/internal/diskcache"
	"github.com/gogpu/mesh3d/internal/gpu"
	"github.com/gogpu/mesh3d/internal/manager"
	"github.com/gogpu/mesh3d/internal/orchestrator"
	"github.com/gogpu/mesh3d/internal/provider"
	"github.com/gogpu/mesh3d/internal/render"
	"github.com/gogpu/mesh3d/internal/store"
	"github.com/gogpu/mesh3d/internal/viewshed"
	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

// ErrNotInitialized is returned by operations that need Init first.
var ErrNotInitialized = errors.New("mesh3d: not initialized")

// FrameInterval is the tick of Run.
const FrameInterval = 16 * time.Millisecond

// ProjectStore loads a planning project. *store.Store implements it.
type ProjectStore interface {
	LoadProject(ctx context.Context, id int) (store.Project, error)
	LoadNodes(ctx context.Context, id int) ([]rf.Node, error)
	LoadElevationGrid(ctx context.Context, id int) (*store.ElevationGrid, error)
}

var _ ProjectStore = (*store.Store)(nil)

// App owns the GPU device, the tile manager, the propagation engine and
// the viewshed orchestrator. Its methods must be called from one
// goroutine, the one that drives Frame.
type App struct {
	opts Options

	dev    *gpu.Device
	engine orchestrator.Engine
	mgr    *manager.Manager
	orch   *orchestrator.Orchestrator

	hgt    *provider.HGT
	dsm    *provider.DSM
	single *provider.Single

	nodes   []rf.Node
	cfg     rf.Config
	itm     rf.ITMParams
	overlay rf.OverlayMode

	proj           geo.Projection
	camera         mgl32.Vec3
	camLat, camLon float64

	stale       bool
	sinceChange time.Duration
	resident    int

	ready bool
}

// New returns an App configured by opts. Call Init before use.
func New(opts Options) *App {
	opts = opts.withDefaults()
	return &App{
		opts:    opts,
		cfg:     opts.RF,
		itm:     opts.ITM.Validate(),
		overlay: opts.Overlay,
		orch:    orchestrator.New(),
		single:  provider.NewSingle(),
	}
}

// Init acquires the device, builds the propagation engine and starts the
// loader. When no GPU is available the CPU engine is used.
func (a *App) Init() error {
	if a.ready {
		return nil
	}
	if a.opts.Logger != nil {
		SetLogger(a.opts.Logger)
	}
	a.dev = a.openDevice()
	a.engine = a.newEngine()
	a.engine.SetRFConfig(a.cfg)
	a.engine.SetITMParams(a.itm)
	a.SetPropagationModel(a.opts.Model)

	a.hgt = provider.NewHGT(a.tileStore("hgt"), a.opts.HGTBaseURL)
	a.dsm = provider.NewDSM(a.opts.DSMDir)
	a.mgr = manager.New(manager.Options{
		Device:         a.dev,
		CacheCapacity:  a.opts.CacheCapacity,
		ElevationScale: a.opts.ElevationScale,
		Imagery:        a.imageryProvider,
		Source:         a.opts.Imagery,
	})
	a.mgr.SetRenderMode(a.opts.RenderMode)
	a.mgr.Start()
	a.ready = true
	Logger().Info("mesh3d: ready", "engine", a.engine.Name(), "device", a.dev.Name())
	return nil
}

func (a *App) openDevice() *gpu.Device {
	var (
		dev *gpu.Device
		err error
	)
	switch {
	case a.opts.DeviceProvider != nil:
		dev, err = gpu.FromProvider(a.opts.DeviceProvider)
	case a.opts.GPU:
		dev, err = gpu.NewDevice()
	default:
		return nil
	}
	if err != nil {
		Logger().Warn("mesh3d: no GPU device, using CPU", "err", err)
		return nil
	}
	return dev
}

func (a *App) newEngine() orchestrator.Engine {
	if a.dev.Available() {
		e, err := gpu.NewEngine(a.dev, a.opts.ShaderFS)
		if err == nil {
			return e
		}
		Logger().Warn("mesh3d: GPU engine unavailable, using CPU", "err", err)
	}
	return viewshed.NewCPUEngine()
}

func (a *App) tileStore(namespace string) diskcache.Store {
	disk := diskcache.New(a.opts.CacheDir, namespace)
	if a.opts.Redis == nil {
		return disk
	}
	return diskcache.NewTiered(disk, diskcache.NewRedis(a.opts.Redis, namespace, a.opts.RedisTTL))
}

func (a *App) imageryProvider(src ImagerySource) provider.Provider {
	var cfg provider.ImageryConfig
	switch src {
	case ImagerySatellite:
		cfg = provider.SatelliteConfig()
	case ImageryStreet:
		cfg = provider.StreetConfig()
	default:
		return nil
	}
	p, err := provider.NewImagery(cfg, a.tileStore(cfg.Name))
	if err != nil {
		Logger().Error("mesh3d: imagery provider", "source", src, "err", err)
		return nil
	}
	return p
}

// Shutdown stops the loader and releases every GPU resource. The App can
// be initialized again afterwards.
func (a *App) Shutdown() {
	if !a.ready {
		return
	}
	a.mgr.Close()
	a.engine.Close()
	a.dev.Close()
	a.dev, a.engine, a.mgr = nil, nil, nil
	a.orch = orchestrator.New()
	a.ready = false
	Logger().Info("mesh3d: shut down")
}

// EngineName reports which propagation engine is in use.
func (a *App) EngineName() string {
	if a.engine == nil {
		return ""
	}
	return a.engine.Name()
}

// SetTerrain installs a caller-supplied elevation grid (row 0 north) as
// the only tile and switches to static mode.
func (a *App) SetTerrain(grid []float32, rows, cols int, b tile.Bounds) error {
	if !a.ready {
		return ErrNotInitialized
	}
	if rows < 2 || cols < 2 || len(grid) < rows*cols || !b.Valid() {
		return fmt.Errorf("mesh3d: terrain %dx%d with %d values over %v: %w",
			rows, cols, len(grid), b, provider.ErrNoData)
	}
	a.single.SetData(b, grid, rows, cols, nil, nil)
	a.mgr.SetElevationProvider(a.single)
	a.mgr.SetBounds(b)
	a.proj = a.mgr.Projection()
	a.SetCameraTarget(b.Center())
	return nil
}

// SetHGTMode streams SRTM tiles around the camera, starting at (lat, lon).
func (a *App) SetHGTMode(lat, lon float64) error {
	if !a.ready {
		return ErrNotInitialized
	}
	a.mgr.SetHGTProvider(a.hgt)
	a.proj = geo.NewProjectionAt(lat, lon)
	a.SetCameraTarget(lat, lon)
	return nil
}

// SetDSMDir streams local surface models from dir. The camera moves to
// the centre of the models found.
func (a *App) SetDSMDir(dir string) error {
	if !a.ready {
		return ErrNotInitialized
	}
	a.dsm.SetDir(dir)
	a.mgr.SetDSMProvider(a.dsm)
	lat, lon := a.camLat, a.camLon
	if b := a.dsm.Coverage(); b.Valid() {
		lat, lon = b.Center()
	}
	a.proj = geo.NewProjectionAt(lat, lon)
	a.SetCameraTarget(lat, lon)
	return nil
}

// SetCameraTarget moves the point the streaming selection is centred on.
func (a *App) SetCameraTarget(lat, lon float64) {
	a.camLat, a.camLon = lat, lon
	a.camera = a.proj.WorldPoint(lat, lon, 0)
}

// CameraTarget returns the camera target.
func (a *App) CameraTarget() (lat, lon float64) { return a.camLat, a.camLon }

// AddNode appends n and returns its index. A zero ID is replaced by the
// next free one.
func (a *App) AddNode(n rf.Node) int {
	if n.ID == 0 {
		for _, o := range a.nodes {
			n.ID = max(n.ID, o.ID)
		}
		n.ID++
	}
	a.nodes = append(a.nodes, n)
	a.markStale()
	return len(a.nodes) - 1
}

// SetNodes replaces every node.
func (a *App) SetNodes(nodes []rf.Node) {
	a.nodes = append(a.nodes[:0], nodes...)
	a.markStale()
}

// Nodes returns a copy of the nodes.
func (a *App) Nodes() []rf.Node {
	return append([]rf.Node(nil), a.nodes...)
}

// SetRenderMode switches between relief and a flat map.
func (a *App) SetRenderMode(m rf.RenderMode) {
	a.opts.RenderMode = m
	if a.ready {
		a.mgr.SetRenderMode(m)
	}
}

// SetOverlayMode selects how coverage is blended over the terrain.
func (a *App) SetOverlayMode(m rf.OverlayMode) { a.overlay = m }

// OverlayMode returns the overlay mode.
func (a *App) OverlayMode() rf.OverlayMode { return a.overlay }

// SetPropagationModel selects the path-loss model. When the engine lacks
// the model it keeps its current one and a warning is logged.
func (a *App) SetPropagationModel(m rf.PropagationModel) {
	a.opts.Model = m
	if a.engine == nil {
		return
	}
	a.engine.SetPropagationModel(m)
	if got := a.engine.PropagationModel(); got != m {
		Logger().Warn("mesh3d: propagation model unavailable", "want", m, "using", got)
	}
	a.markStale()
}

// PropagationModel returns the model the engine computes with.
func (a *App) PropagationModel() rf.PropagationModel {
	if a.engine == nil {
		return a.opts.Model
	}
	return a.engine.PropagationModel()
}

// SetITMParams replaces the ITM parameters, clamped to valid ranges.
func (a *App) SetITMParams(p rf.ITMParams) {
	a.itm = p.Validate()
	if a.engine != nil {
		a.engine.SetITMParams(a.itm)
	}
	a.markStale()
}

// SetRFConfig replaces the receiver parameters and display range.
func (a *App) SetRFConfig(cfg rf.Config) {
	a.cfg = cfg
	if a.engine != nil {
		a.engine.SetRFConfig(cfg)
	}
	a.markStale()
}

// RFConfig returns the receiver parameters.
func (a *App) RFConfig() rf.Config { return a.cfg }

// CycleImagery advances satellite, street, none and returns the new
// source.
func (a *App) CycleImagery() ImagerySource {
	if !a.ready {
		return a.opts.Imagery
	}
	a.mgr.CycleImagerySource()
	a.opts.Imagery = a.mgr.ImagerySource()
	return a.opts.Imagery
}

// RecomputeViewshed starts a coverage recompute over the resident tiles.
// Results arrive over the following frames.
func (a *App) RecomputeViewshed() {
	if !a.ready {
		return
	}
	a.stale = false
	a.orch.Kick(a.nodes, a.mgr.Cache(), a.engine)
}

// Busy reports whether a recompute is in progress.
func (a *App) Busy() bool { return a.orch.Busy() }

// Progress returns the tile being computed and the tile count of the
// running recompute.
func (a *App) Progress() (current, total int) { return a.orch.Progress() }

func (a *App) markStale() {
	a.stale = true
	a.sinceChange = 0
}

// Frame advances one frame without blocking: tiles are selected, loaded
// tiles are built and the recompute is polled. dt is the time since the
// previous frame.
func (a *App) Frame(dt time.Duration) {
	if !a.ready {
		return
	}
	if a.mgr.Streaming() {
		a.mgr.UpdateCamera(a.camera, a.proj)
	} else {
		a.mgr.Update()
	}
	a.orch.Poll(a.nodes, a.mgr.Cache(), a.engine)

	if n := a.mgr.Cache().Len(); n != a.resident {
		a.resident = n
		a.markStale()
	}
	a.sinceChange += dt
	if a.opts.AutoRecompute && a.stale && len(a.nodes) > 0 &&
		!a.orch.Busy() && a.sinceChange >= a.opts.RecomputeDelay {
		a.RecomputeViewshed()
	}
}

// Run calls Frame every FrameInterval until ctx is done, and returns
// ctx.Err().
func (a *App) Run(ctx context.Context) error {
	if !a.ready {
		return ErrNotInitialized
	}
	t := time.NewTicker(FrameInterval)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			a.Frame(now.Sub(last))
			last = now
		}
	}
}

// Settle runs frames until every requested tile has loaded or failed.
func (a *App) Settle(ctx context.Context) error {
	if !a.ready {
		return ErrNotInitialized
	}
	for {
		a.Frame(time.Millisecond)
		if a.mgr.Settled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// WaitViewshed polls the running recompute until it finishes.
func (a *App) WaitViewshed(ctx context.Context) error {
	if !a.ready {
		return ErrNotInitialized
	}
	return a.orch.Wait(ctx, a.nodes, a.mgr.Cache(), a.engine)
}

// Render calls draw for every tile to be drawn this frame.
func (a *App) Render(draw render.DrawFunc) {
	if a.ready {
		a.mgr.Render(draw)
	}
}

// FrameUniforms returns the terrain shader uniforms for one tile draw.
func (a *App) FrameUniforms(viewProj, model mgl32.Mat4, base *gpu.Texture, overlay *gpu.Overlay) render.Frame {
	return render.NewFrame(viewProj, model, a.overlay, a.cfg, base, overlay)
}

// RenderMap draws the resident tiles and nodes top-down into a w x h
// image, framed on the current terrain bounds.
func (a *App) RenderMap(w, h int) *image.RGBA {
	mr := render.NewMapRenderer(w, h)
	mr.Mode = a.overlay
	mr.Config = a.cfg
	if !a.ready {
		return mr.Render(tile.Bounds{}, nil, a.nodes)
	}
	return mr.Render(a.mgr.Bounds(), a.mgr.Tiles, a.nodes)
}

// Bounds returns the area covered by the selected tiles.
func (a *App) Bounds() tile.Bounds {
	if !a.ready {
		return tile.Bounds{}
	}
	return a.mgr.Bounds()
}

// HasTerrain reports whether any elevation is resident.
func (a *App) HasTerrain() bool { return a.ready && a.mgr.HasTerrain() }

// ElevationAt returns the terrain height at (lat, lon), or false when no
// resident tile covers it.
func (a *App) ElevationAt(lat, lon float64) (float32, bool) {
	if !a.ready {
		return 0, false
	}
	return a.mgr.ElevationAtLatLon(lat, lon)
}

// Coverage returns the computed visibility and signal at (lat, lon).
func (a *App) Coverage(lat, lon float64) (visible bool, dbm float32, ok bool) {
	if !a.ready {
		return false, 0, false
	}
	a.mgr.Cache().ForEach(func(_ tile.Coord, r *manager.Renderable) {
		if ok || r.Overlay == nil || !r.Bounds.Contains(lat, lon) {
			return
		}
		row := int((r.Bounds.MaxLat-lat)/r.Bounds.LatSpan()*float64(r.Rows-1) + 0.5)
		col := int((lon-r.Bounds.MinLon)/r.Bounds.LonSpan()*float64(r.Cols-1) + 0.5)
		i := row*r.Cols + col
		if i < 0 || i >= len(r.Visibility) || i >= len(r.Signal) {
			return
		}
		visible, dbm, ok = r.Visibility[i] != 0, r.Signal[i], true
	})
	return visible, dbm, ok
}

// LoadProject installs a stored project: its terrain grid when one is
// stored, SRTM streaming around its bounds otherwise, and its nodes.
func (a *App) LoadProject(ctx context.Context, s ProjectStore, id int) (store.Project, error) {
	if !a.ready {
		return store.Project{}, ErrNotInitialized
	}
	p, err := s.LoadProject(ctx, id)
	if err != nil {
		return store.Project{}, err
	}
	nodes, err := s.LoadNodes(ctx, id)
	if err != nil {
		return store.Project{}, err
	}
	grid, err := s.LoadElevationGrid(ctx, id)
	switch {
	case err == nil:
		b := grid.Bounds
		if !b.Valid() {
			b = p.Bounds
		}
		if err := a.SetTerrain(grid.Data, grid.Rows, grid.Cols, b); err != nil {
			return store.Project{}, err
		}
	case errors.Is(err, store.ErrNotFound) && p.Bounds.Valid():
		lat, lon := p.Bounds.Center()
		if err := a.SetHGTMode(lat, lon); err != nil {
			return store.Project{}, err
		}
	default:
		return store.Project{}, fmt.Errorf("mesh3d: project %d has no terrain: %w", id, err)
	}
	a.SetNodes(nodes)
	Logger().Info("mesh3d: project loaded", "id", p.ID, "name", p.Name, "nodes", len(nodes))
	return p, nil
}
