package provider

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gogpu/mesh3d/internal/geotiff"
	"github.com/gogpu/mesh3d/internal/logging"
	"github.com/gogpu/mesh3d/tile"
)

// dsmHeaderBytes is how much of each file is read while indexing.
const dsmHeaderBytes = 64 << 10

// dsmViewRange is the half-width of the camera window in degrees.
const dsmViewRange = 0.01

type dsmEntry struct {
	path   string
	bounds tile.Bounds
	coord  tile.Coord
}

// DSM serves GeoTIFF surface models from a local directory tree. The tree
// is indexed lazily on first use.
type DSM struct {
	mu      sync.Mutex
	dir     string
	scanned bool
	index   []dsmEntry
}

var _ Viewer = (*DSM)(nil)

// NewDSM returns a provider rooted at dir.
func NewDSM(dir string) *DSM { return &DSM{dir: dir} }

// SetDir changes the root and forces a rescan.
func (p *DSM) SetDir(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dir = dir
	p.scanned = false
	p.index = nil
}

func (p *DSM) Name() string { return "dsm" }
func (p *DSM) MinZoom() int { return 0 }
func (p *DSM) MaxZoom() int { return 0 }

// Coverage is the union of every indexed file.
func (p *DSM) Coverage() tile.Bounds {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanLocked()
	var b tile.Bounds
	for _, e := range p.index {
		b = b.Union(e.bounds)
	}
	return b
}

func (p *DSM) CoordAt(lat, lon float64) tile.Coord { return tile.LatLonToDSM(lat, lon) }

func (p *DSM) scanLocked() {
	if p.scanned || p.dir == "" {
		return
	}
	p.scanned = true
	p.index = nil
	if _, err := os.Stat(p.dir); err != nil {
		logging.L().Warn("dsm: directory unavailable", "dir", p.dir, "err", err)
		return
	}
	_ = filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".tif" && ext != ".tiff" {
			return nil
		}
		head, err := readHead(path, dsmHeaderBytes)
		if err != nil {
			return nil
		}
		info, err := geotiff.Parse(head)
		if err != nil || !info.HasGeo {
			return nil
		}
		b := info.Bounds()
		lat, lon := b.Center()
		p.index = append(p.index, dsmEntry{path: path, bounds: b, coord: tile.LatLonToDSM(lat, lon)})
		return nil
	})
	logging.L().Info("dsm: indexed GeoTIFF tiles", "count", len(p.index), "dir", p.dir)
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	m, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:m], nil
}

// TilesInBounds returns every indexed tile overlapping b, edges inclusive.
func (p *DSM) TilesInBounds(b tile.Bounds, _ int) []tile.Coord {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanLocked()
	var out []tile.Coord
	for _, e := range p.index {
		if e.bounds.MaxLat < b.MinLat || e.bounds.MinLat > b.MaxLat {
			continue
		}
		if e.bounds.MaxLon < b.MinLon || e.bounds.MinLon > b.MaxLon {
			continue
		}
		out = append(out, e.coord)
	}
	return out
}

// TilesInView returns the indexed tiles within about a kilometre.
func (p *DSM) TilesInView(lat, lon float64) []tile.Coord {
	return p.TilesInBounds(tile.Bounds{
		MinLat: lat - dsmViewRange, MaxLat: lat + dsmViewRange,
		MinLon: lon - dsmViewRange, MaxLon: lon + dsmViewRange,
	}, 0)
}

func (p *DSM) lookup(c tile.Coord) (dsmEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanLocked()
	for _, e := range p.index {
		if e.coord == c {
			return e, true
		}
	}
	return dsmEntry{}, false
}

func (p *DSM) FetchTile(_ context.Context, c tile.Coord) (*tile.Data, error) {
	e, ok := p.lookup(c)
	if !ok {
		return nil, ErrNoData
	}
	raw, err := os.ReadFile(e.path)
	if err != nil {
		return nil, err
	}
	info, err := geotiff.Parse(raw)
	if err != nil {
		logging.L().Warn("dsm: parse failed", "path", e.path, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	elev := geotiff.ReadElevation(raw, info)
	td := &tile.Data{
		Coord:     c,
		Bounds:    info.Bounds(),
		Elevation: elev,
		Rows:      info.Height,
		Cols:      info.Width,
	}
	logging.L().Info("dsm: loaded", "path", e.path, "rows", td.Rows, "cols", td.Cols)
	return td, nil
}
