package manager

import (
	"context"
	"image"
	"image/color"
	"math"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/mesh3d/geo"
	"github.com/gogpu/mesh3d/internal/gpu"
	"github.com/gogpu/mesh3d/internal/provider"
	"github.com/gogpu/mesh3d/internal/terrain"
	"github.com/gogpu/mesh3d/rf"
	"github.com/gogpu/mesh3d/tile"
)

// solidImagery serves 256x256 tiles of one colour.
type solidImagery struct {
	name    string
	col     color.RGBA
	fetches atomic.Int32
}

func (p *solidImagery) Name() string          { return p.name }
func (p *solidImagery) MinZoom() int          { return 0 }
func (p *solidImagery) MaxZoom() int          { return 19 }
func (p *solidImagery) Coverage() tile.Bounds { return tile.Bounds{MinLat: -85, MaxLat: 85, MinLon: -180, MaxLon: 180} }

func (p *solidImagery) TilesInBounds(b tile.Bounds, z int) []tile.Coord {
	return tile.TilesInBounds(b, z)
}

func (p *solidImagery) FetchTile(_ context.Context, c tile.Coord) (*tile.Data, error) {
	p.fetches.Add(1)
	pix := make([]byte, TilePixels*TilePixels*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = p.col.R, p.col.G, p.col.B, 255
	}
	// Mark the top-left pixel with the tile column.
	pix[0] = uint8(c.X)
	return &tile.Data{Coord: c, Imagery: pix, Width: TilePixels, Height: TilePixels}, nil
}

func TestCompositeZoom(t *testing.T) {
	b := tile.Bounds{MinLat: 38, MaxLat: 39, MinLon: -107, MaxLon: -106}
	zoom, minX, minY, maxX, maxY, ok := CompositeZoom(b, PreferredZoom)
	if !ok {
		t.Fatal("no zoom found")
	}
	if maxX-minX+1 > MaxCompositeTiles || maxY-minY+1 > MaxCompositeTiles {
		t.Errorf("zoom %d spans %dx%d tiles", zoom, maxX-minX+1, maxY-minY+1)
	}
	// One zoom up must exceed the limit.
	x0, y0, x1, y1 := tile.BoundsToTileRange(b, zoom+1)
	if x1-x0+1 <= MaxCompositeTiles && y1-y0+1 <= MaxCompositeTiles {
		t.Errorf("zoom %d is not the largest qualifying zoom", zoom)
	}
}

func TestCompositeCrop(t *testing.T) {
	const z = 3
	// Tiles x in [4,5], y in [3,4] at zoom 3.
	b := tile.Bounds{MinLat: -10, MaxLat: 20, MinLon: 30, MaxLon: 60}
	minX, minY, maxX, maxY := tile.BoundsToTileRange(b, z)
	if minX != 4 || maxX != 5 || minY != 3 || maxY != 4 {
		t.Fatalf("tile range x[%d,%d] y[%d,%d]", minX, maxX, minY, maxY)
	}

	crop := CropRect(b, z, 4, 3)
	wantX := int(math.Round((tile.LonToTileXFrac(b.MinLon, z) - 4) * 256))
	wantY := int(math.Round((tile.LatToTileYFrac(b.MaxLat, z) - 3) * 256))
	if crop.Min != image.Pt(wantX, wantY) {
		t.Errorf("crop origin = %v, want (%d,%d)", crop.Min, wantX, wantY)
	}
	wantW := int(math.Round((tile.LonToTileXFrac(b.MaxLon, z)-4)*256)) - wantX
	wantH := int(math.Round((tile.LatToTileYFrac(b.MinLat, z)-3)*256)) - wantY
	if crop.Dx() != wantW || crop.Dy() != wantH {
		t.Errorf("crop size = %v, want %dx%d", crop.Size(), wantW, wantH)
	}

	src := &solidImagery{name: "solid", col: color.RGBA{B: 200, A: 255}}
	img := Composite(context.Background(), src, b, z)
	if img == nil {
		t.Fatal("Composite returned nil")
	}
	if img.Bounds().Size() != crop.Size() {
		t.Errorf("composite size = %v, want %v", img.Bounds().Size(), crop.Size())
	}
	if got := src.fetches.Load(); got != 4 {
		t.Errorf("fetched %d tiles, want 4", got)
	}
	if got := img.RGBAAt(img.Bounds().Dx()-1, img.Bounds().Dy()-1); got.B != 200 {
		t.Errorf("bottom-right pixel = %v", got)
	}
}

func TestCompositeNothingFetched(t *testing.T) {
	b := tile.Bounds{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1}
	if img := Composite(context.Background(), nil, b, PreferredZoom); img != nil {
		t.Error("nil provider produced imagery")
	}
	if img := Composite(context.Background(), provider.NewSingle(), b, PreferredZoom); img != nil {
		t.Error("provider without imagery produced a composite")
	}
}

func TestRenderableElevationAt(t *testing.T) {
	td := &tile.Data{
		Bounds:    tile.Bounds{MinLat: 0, MaxLat: 1, MinLon: 0, MaxLon: 1},
		Elevation: []float32{0, 10, 20, 30},
		Rows:      2,
		Cols:      2,
	}
	r, err := Build(nil, td, geo.NewProjection(td.Bounds), 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer r.Destroy()
	tests := []struct {
		lat, lon float64
		want     float32
	}{
		{1, 0, 0},
		{1, 1, 10},
		{0, 0, 20},
		{0, 1, 30},
		{0.5, 0.5, 15},
		{5, -5, 0}, // clamped to the north-west corner
	}
	for _, tt := range tests {
		if got := r.ElevationAt(tt.lat, tt.lon); math.Abs(float64(got-tt.want)) > 1e-4 {
			t.Errorf("ElevationAt(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
		}
	}
	if r.Mesh == nil || r.Texture != nil {
		t.Errorf("mesh %v texture %v", r.Mesh != nil, r.Texture != nil)
	}
}

func TestImagerySourceCycle(t *testing.T) {
	tests := []struct {
		from, want ImagerySource
	}{
		{ImagerySatellite, ImageryStreet},
		{ImageryStreet, ImageryNone},
		{ImageryNone, ImagerySatellite},
	}
	for _, tt := range tests {
		m := New(Options{Source: tt.from})
		m.CycleImagerySource()
		if m.ImagerySource() != tt.want {
			t.Errorf("cycle from %v = %v, want %v", tt.from, m.ImagerySource(), tt.want)
		}
	}
	if _, err := ParseImagerySource("aerial"); err == nil {
		t.Error("unknown source accepted")
	}
}

// waitFor updates m until cond holds or the deadline passes.
func waitFor(t *testing.T, update func(), cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		update()
		time.Sleep(time.Millisecond)
	}
}

func TestImagerySwapKeepsGeometry(t *testing.T) {
	sat := &solidImagery{name: "sat", col: color.RGBA{B: 255, A: 255}}
	street := &solidImagery{name: "street", col: color.RGBA{R: 255, A: 255}}
	factory := func(s ImagerySource) provider.Provider {
		switch s {
		case ImagerySatellite:
			return sat
		case ImageryStreet:
			return street
		}
		return nil
	}

	b := tile.Bounds{MinLat: 38, MaxLat: 38.01, MinLon: -106.5, MaxLon: -106.49}
	single := provider.NewSingle()
	single.SetData(b, make([]float32, 16), 4, 4, nil, nil)

	m := New(Options{Imagery: factory, Source: ImagerySatellite})
	m.SetBounds(b)
	m.SetElevationProvider(single)
	m.Start()
	defer m.Close()

	key := tile.Coord{}
	textured := func() bool {
		r, ok := m.Cache().Peek(key)
		return ok && r.Texture != nil
	}
	waitFor(t, m.Update, textured)
	r, _ := m.Cache().Peek(key)
	mesh := r.Mesh
	if r.Texture.Pixels[2] != 255 {
		t.Errorf("satellite texel = %v", r.Texture.Pixels[:4])
	}

	m.SetImagerySource(ImageryStreet)
	r, ok := m.Cache().Peek(key)
	if !ok || r.Texture != nil {
		t.Fatal("texture kept across imagery swap")
	}
	if r.Mesh != mesh || m.Cache().Len() != 1 {
		t.Fatal("geometry rebuilt by imagery swap")
	}
	waitFor(t, m.Update, textured)
	r, _ = m.Cache().Peek(key)
	if r.Texture.Pixels[2] != 0 {
		t.Error("street swap still shows satellite imagery")
	}

	m.SetImagerySource(ImageryNone)
	for range 5 {
		m.Update()
	}
	if r, _ := m.Cache().Peek(key); r.Texture != nil || r.Mesh != mesh {
		t.Error("none source must leave geometry without texture")
	}

	drawn := 0
	m.Render(func(mgl32.Mat4, *gpu.Texture, *gpu.Overlay) { drawn++ })
	if drawn != 1 {
		t.Errorf("rendered %d tiles, want 1", drawn)
	}
}

// downImagery fails every fetch while down is set.
type downImagery struct {
	solidImagery
	down   atomic.Bool
	failed atomic.Int32
}

func (p *downImagery) FetchTile(ctx context.Context, c tile.Coord) (*tile.Data, error) {
	if p.down.Load() {
		p.failed.Add(1)
		return nil, provider.ErrNoData
	}
	return p.solidImagery.FetchTile(ctx, c)
}

func TestImageryRetriedAfterFailedComposite(t *testing.T) {
	sat := &downImagery{solidImagery: solidImagery{name: "sat", col: color.RGBA{G: 255, A: 255}}}
	sat.down.Store(true)
	factory := func(s ImagerySource) provider.Provider {
		if s == ImagerySatellite {
			return sat
		}
		return nil
	}

	b := tile.Bounds{MinLat: 38, MaxLat: 38.01, MinLon: -106.5, MaxLon: -106.49}
	single := provider.NewSingle()
	single.SetData(b, make([]float32, 16), 4, 4, nil, nil)

	m := New(Options{Imagery: factory, Source: ImagerySatellite})
	m.SetBounds(b)
	m.SetElevationProvider(single)
	m.Start()
	defer m.Close()

	key := tile.Coord{}
	// Two failed composites show the tile was asked for again.
	waitFor(t, m.Update, func() bool { return sat.failed.Load() > 0 && !m.loader.IsPending(key) })
	waitFor(t, m.Update, func() bool { return sat.failed.Load() > 1 })
	if r, ok := m.Cache().Peek(key); !ok || r.Texture != nil {
		t.Fatal("tile textured while imagery is down")
	}

	sat.down.Store(false)
	waitFor(t, m.Update, func() bool {
		r, ok := m.Cache().Peek(key)
		return ok && r.Texture != nil
	})
	r, _ := m.Cache().Peek(key)
	if r.Texture.Pixels[1] != 255 {
		t.Errorf("texel after recovery = %v", r.Texture.Pixels[:4])
	}
}

// fakeHGT serves flat degree tiles without network access.
type fakeHGT struct {
	*provider.HGT
	fetches atomic.Int32
}

func (p *fakeHGT) FetchTile(_ context.Context, c tile.Coord) (*tile.Data, error) {
	p.fetches.Add(1)
	elev := make([]float32, 9)
	for i := range elev {
		elev[i] = 1500
	}
	return &tile.Data{Coord: c, Bounds: tile.HGTBounds(c), Elevation: elev, Rows: 3, Cols: 3}, nil
}

func TestCameraCrossingTileEdge(t *testing.T) {
	p := &fakeHGT{HGT: provider.NewHGT(nil, "")}
	m := New(Options{Source: ImageryNone})
	m.SetViewer(p)
	m.Start()
	defer m.Close()

	proj := geo.NewProjectionAt(38.5, -106.5)
	south := tile.Coord{Z: tile.ZHGT, X: -107, Y: 38}
	north := tile.Coord{Z: tile.ZHGT, X: -107, Y: 39}

	var sets [][]tile.Coord
	for _, lat := range []float64{38.5, 38.6, 38.7, 38.8, 38.86, 38.9} {
		m.UpdateCamera(proj.WorldPoint(lat, -106.5, 3000), proj)
		sets = append(sets, slices.Clone(m.Visible()))
	}
	for i, s := range sets[:4] {
		if !slices.Equal(s, []tile.Coord{south}) {
			t.Errorf("frame %d: visible = %v, want only %v", i, s, south)
		}
	}
	for i, s := range sets[4:] {
		if !slices.Equal(s, []tile.Coord{south, north}) {
			t.Errorf("frame %d: visible = %v, want %v and %v", i+4, s, south, north)
		}
	}

	cam := proj.WorldPoint(38.9, -106.5, 3000)
	waitFor(t, func() { m.UpdateCamera(cam, proj) }, func() bool {
		return m.Cache().Has(south) && m.Cache().Has(north)
	})
	m.UpdateCamera(cam, proj)
	for _, c := range m.Visible() {
		if m.loader.IsPending(c) {
			t.Errorf("%v is resident and still pending", c)
		}
	}
	if got := p.fetches.Load(); got != 2 {
		t.Errorf("fetched %d tiles, want 2", got)
	}
	want := tile.HGTBounds(south).Union(tile.HGTBounds(north))
	if m.Bounds() != want {
		t.Errorf("bounds = %+v, want %+v", m.Bounds(), want)
	}
	h, ok := m.ElevationAtLatLon(38.9, -106.5)
	if !ok || h != 1500 {
		t.Errorf("ElevationAtLatLon = %v, %v", h, ok)
	}
	x, z := proj.Project(38.2, -106.2)
	if h, ok := m.ElevationAt(x, z, proj); !ok || h != 1500 {
		t.Errorf("ElevationAt(world) = %v, %v", h, ok)
	}
	if !m.HasTerrain() {
		t.Error("HasTerrain = false with resident tiles")
	}
}

func TestRenderModeRemeshes(t *testing.T) {
	b := tile.Bounds{MinLat: 38, MaxLat: 38.01, MinLon: -106.5, MaxLon: -106.49}
	single := provider.NewSingle()
	single.SetData(b, make([]float32, 9), 3, 3, nil, nil)

	m := New(Options{})
	m.SetBounds(b)
	m.SetElevationProvider(single)
	m.Start()
	defer m.Close()

	key := tile.Coord{}
	waitFor(t, m.Update, func() bool { return m.Cache().Has(key) })

	stride := func() int {
		r, _ := m.Cache().Peek(key)
		return r.Mesh.CPU.Stride
	}
	if got := stride(); got != terrain.VertexFloats {
		t.Fatalf("relief stride = %d", got)
	}
	m.SetRenderMode(rf.RenderFlat)
	if got := stride(); got != terrain.FlatVertexFloats {
		t.Errorf("flat stride = %d", got)
	}
	if m.RenderMode() != rf.RenderFlat {
		t.Errorf("RenderMode() = %v", m.RenderMode())
	}
	m.SetRenderMode(rf.RenderTerrain)
	if got := stride(); got != terrain.VertexFloats {
		t.Errorf("stride after switching back = %d", got)
	}
}
