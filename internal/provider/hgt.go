package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/gogpu/mesh3d/internal/diskcache"
	"github.com/gogpu/mesh3d/internal/logging"
	"github.com/gogpu/mesh3d/internal/metrics"
	"github.com/gogpu/mesh3d/tile"
)

// DefaultHGTBaseURL is the public Skadi mirror of SRTM tiles.
const DefaultHGTBaseURL = "https://s3.amazonaws.com/elevation-tiles-prod/skadi"

// edgeThreshold is the fraction of a degree tile within which the
// neighbouring tile is requested as well.
const edgeThreshold = 0.15

const (
	srtm1 = 3601
	srtm3 = 1201
)

// HGT streams one-degree SRTM tiles, caching the decompressed bytes.
type HGT struct {
	store   diskcache.Store
	client  *http.Client
	baseURL string
}

var _ Viewer = (*HGT)(nil)

// NewHGT returns an HGT provider using store for persistence. An empty
// baseURL selects DefaultHGTBaseURL.
func NewHGT(store diskcache.Store, baseURL string) *HGT {
	if baseURL == "" {
		baseURL = DefaultHGTBaseURL
	}
	return &HGT{
		store:   store,
		client:  newHTTPClient(15*time.Second, 60*time.Second),
		baseURL: baseURL,
	}
}

func (p *HGT) Name() string          { return "hgt" }
func (p *HGT) MinZoom() int          { return 0 }
func (p *HGT) MaxZoom() int          { return 0 }
func (p *HGT) Coverage() tile.Bounds { return tile.Bounds{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180} }

func (p *HGT) CoordAt(lat, lon float64) tile.Coord { return tile.LatLonToHGT(lat, lon) }

func wrapLon(x int) int {
	if x < -180 {
		return x + 360
	}
	if x >= 180 {
		return x - 360
	}
	return x
}

// TilesInView returns the tile under (lat, lon) plus the neighbours whose
// edge lies within 15% of a degree, up to four tiles.
func (p *HGT) TilesInView(lat, lon float64) []tile.Coord {
	center := tile.LatLonToHGT(lat, lon)
	out := make([]tile.Coord, 0, 4)
	out = append(out, center)

	fLat := lat - math.Floor(lat)
	fLon := lon - math.Floor(lon)
	nearS, nearN := fLat < edgeThreshold, fLat > 1-edgeThreshold
	nearW, nearE := fLon < edgeThreshold, fLon > 1-edgeThreshold

	adjLat := center.Y
	if nearS {
		adjLat--
	} else if nearN {
		adjLat++
	}
	adjLon := center.X
	if nearW {
		adjLon--
	} else if nearE {
		adjLon++
	}
	adjLon = wrapLon(adjLon)
	latOK := adjLat >= -90 && adjLat <= 89

	if (nearS || nearN) && latOK {
		out = append(out, tile.Coord{Z: tile.ZHGT, X: center.X, Y: adjLat})
	}
	if nearW || nearE {
		out = append(out, tile.Coord{Z: tile.ZHGT, X: adjLon, Y: center.Y})
	}
	if (nearS || nearN) && (nearW || nearE) && latOK {
		out = append(out, tile.Coord{Z: tile.ZHGT, X: adjLon, Y: adjLat})
	}
	return out
}

// TilesInBounds lists every degree tile touched by b.
func (p *HGT) TilesInBounds(b tile.Bounds, _ int) []tile.Coord {
	minY, maxY := int(math.Floor(b.MinLat)), int(math.Floor(b.MaxLat))
	minX, maxX := int(math.Floor(b.MinLon)), int(math.Floor(b.MaxLon))
	var out []tile.Coord
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			out = append(out, tile.Coord{Z: tile.ZHGT, X: x, Y: y})
		}
	}
	return out
}

func (p *HGT) FetchTile(ctx context.Context, c tile.Coord) (*tile.Data, error) {
	name := tile.HGTFilename(c)
	raw, err := p.acquire(ctx, c, name)
	if err != nil {
		logging.L().Warn("hgt: no data", "file", name, "err", err)
		return nil, err
	}
	elev, rows, cols, err := DecodeHGT(raw)
	if err != nil {
		logging.L().Warn("hgt: parse failed", "file", name, "err", err)
		return nil, err
	}
	logging.L().Info("hgt: loaded", "file", name, "rows", rows, "cols", cols)
	return &tile.Data{
		Coord:     c,
		Bounds:    tile.HGTBounds(c),
		Elevation: elev,
		Rows:      rows,
		Cols:      cols,
	}, nil
}

func (p *HGT) acquire(ctx context.Context, c tile.Coord, name string) ([]byte, error) {
	if p.store != nil && p.store.Has(name) {
		if raw := p.store.Read(name); raw != nil {
			metrics.CacheHits.WithLabelValues("hgt").Inc()
			logging.L().Debug("hgt: cache hit", "file", name)
			return raw, nil
		}
	}
	url := fmt.Sprintf("%s/%s/%s.gz", p.baseURL, tile.HGTLatDir(c), name)
	compressed, err := download(ctx, p.client, url, "")
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.store != nil {
		p.store.Write(name, raw)
	}
	logging.L().Info("hgt: cached", "file", name, "bytes", len(raw))
	return raw, nil
}

// DecodeHGT converts big-endian int16 samples into a square grid. Voids
// (values below -1000) become 0.
func DecodeHGT(raw []byte) (elev []float32, rows, cols int, err error) {
	samples := len(raw) / 2
	switch samples {
	case srtm1 * srtm1:
		rows, cols = srtm1, srtm1
	case srtm3 * srtm3:
		rows, cols = srtm3, srtm3
	default:
		return nil, 0, 0, fmt.Errorf("%w: unexpected size %d bytes", ErrMalformed, len(raw))
	}
	elev = make([]float32, samples)
	for i := range elev {
		v := int16(uint16(raw[2*i])<<8 | uint16(raw[2*i+1])) //nolint:gosec // reinterpret as signed
		if v < -1000 {
			v = 0
		}
		elev[i] = float32(v)
	}
	return elev, rows, cols, nil
}
