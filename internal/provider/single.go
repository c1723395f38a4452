package provider

import (
	"context"
	"sync"

	"github.com/gogpu/mesh3d/tile"
)

// Single serves one caller-supplied grid as tile (0,0,0).
type Single struct {
	mu   sync.RWMutex
	data *tile.Data
}

var _ Provider = (*Single)(nil)

// NewSingle returns an empty provider.
func NewSingle() *Single { return &Single{} }

// SetData installs the grid. Elevation smaller than 2x2 empties the
// provider. vis and sig are optional and copied when sized rows*cols.
func (p *Single) SetData(b tile.Bounds, elev []float32, rows, cols int, vis []uint8, sig []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := rows * cols
	if rows < 2 || cols < 2 || len(elev) < n {
		p.data = nil
		return
	}
	td := &tile.Data{
		Coord:     tile.Coord{},
		Bounds:    b,
		Elevation: append([]float32(nil), elev[:n]...),
		Rows:      rows,
		Cols:      cols,
	}
	if len(vis) >= n {
		td.Visibility = append([]uint8(nil), vis[:n]...)
	}
	if len(sig) >= n {
		td.Signal = append([]float32(nil), sig[:n]...)
	}
	p.data = td
}

// Data returns the installed grid or nil.
func (p *Single) Data() *tile.Data {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data
}

func (p *Single) Name() string { return "single" }
func (p *Single) MinZoom() int { return 0 }
func (p *Single) MaxZoom() int { return 0 }

func (p *Single) Coverage() tile.Bounds {
	if d := p.Data(); d != nil {
		return d.Bounds
	}
	return tile.Bounds{}
}

func (p *Single) TilesInBounds(tile.Bounds, int) []tile.Coord {
	if p.Data() == nil {
		return nil
	}
	return []tile.Coord{{}}
}

// FetchTile returns a copy of the grid for (0,0,0) only.
func (p *Single) FetchTile(_ context.Context, c tile.Coord) (*tile.Data, error) {
	d := p.Data()
	if d == nil || c != (tile.Coord{}) {
		return nil, ErrNoData
	}
	cp := *d
	cp.Elevation = append([]float32(nil), d.Elevation...)
	return &cp, nil
}
